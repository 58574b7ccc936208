package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/errors"
	"gopkg.in/yaml.v3"

	"github.com/alecthomas/bindgraph/internal/diagnostics"
	"github.com/alecthomas/bindgraph/internal/ledger"
	"github.com/alecthomas/bindgraph/internal/modifiable"
	"github.com/alecthomas/bindgraph/internal/plan"
)

type stageOutput struct {
	Component string         `json:"component" yaml:"component"`
	Stage     string         `json:"stage" yaml:"stage"`
	Depth     int            `json:"depth" yaml:"depth"`
	Complete  bool           `json:"complete" yaml:"complete"`
	Methods   []methodOutput `json:"methods" yaml:"methods"`
}

type methodOutput struct {
	Key   string          `json:"key" yaml:"key"`
	Type  modifiable.Type `json:"type" yaml:"type"`
	Shape plan.Shape      `json:"shape" yaml:"shape"`
}

func stagesOf(plans []*plan.Plan) []stageOutput {
	out := []stageOutput{}
	for _, p := range plans {
		for _, s := range p.Stages {
			stage := stageOutput{
				Component: p.Component.PathString(),
				Stage:     s.Stage.Name(),
				Depth:     s.Stage.Depth,
				Complete:  s.Stage.Complete(),
				Methods:   make([]methodOutput, 0, len(s.Methods)),
			}
			for _, m := range s.Methods {
				stage.Methods = append(stage.Methods, methodOutput{Key: m.Binding.Key.String(), Type: m.Type, Shape: m.Shape})
			}
			out = append(out, stage)
		}
	}
	return out
}

func printPlans(w io.Writer, format string, plans []*plan.Plan) error {
	stages := stagesOf(plans)
	if format != "text" {
		return encode(w, format, stages)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range stages {
		fmt.Fprintf(tw, "%s (depth %d)\n", s.Stage, s.Depth)
		for _, m := range s.Methods {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", m.Key, m.Type, m.Shape)
		}
	}
	return errors.WithStack(tw.Flush())
}

func printRuns(w io.Writer, format string, runs []ledger.Run) error {
	if format != "text" {
		return encode(w, format, runs)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", run.ID, run.Created.Local().Format(time.DateTime), run.Components)
	}
	return errors.WithStack(tw.Flush())
}

func printDiagnostics(w io.Writer, id string) error {
	if id != "" {
		msg, err := diagnostics.Lookup(diagnostics.ID(id))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, msg)
		return errors.WithStack(err)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, id := range diagnostics.IDs() {
		msg, _ := diagnostics.Lookup(id)
		fmt.Fprintf(tw, "%s\t%s\n", id, msg)
	}
	return errors.WithStack(tw.Flush())
}

func encode(w io.Writer, format string, value any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return errors.WithStack(enc.Encode(value))
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(value); err != nil {
			return errors.WithStack(err)
		}
		return errors.WithStack(enc.Close())
	default:
		return errors.Errorf("unsupported output format %q", format)
	}
}
