// Package plan decides, for every stage of a component's implementation chain, which binding methods the stage
// emits.
package plan

import (
	"context"
	"fmt"
	"slices"

	"github.com/alecthomas/errors"
	"golang.org/x/sync/errgroup"

	"github.com/alecthomas/bindgraph/internal/binding"
	"github.com/alecthomas/bindgraph/internal/component"
	"github.com/alecthomas/bindgraph/internal/diagnostics"
	"github.com/alecthomas/bindgraph/internal/modifiable"
	"github.com/alecthomas/bindgraph/internal/resolve"
	"github.com/alecthomas/bindgraph/internal/stage"
)

// Shape of a binding method at a stage.
type Shape int

const (
	// Abstract methods are declared but left unimplemented for a later stage.
	Abstract Shape = iota
	// Concrete methods are implemented for the first time at this stage.
	Concrete
	// Override methods re-implement a method implemented by an earlier stage.
	Override
	// Inherited methods are implemented by an earlier stage and unchanged.
	Inherited
)

var shapeNames = [...]string{Abstract: "abstract", Concrete: "concrete", Override: "override", Inherited: "inherited"}

func (s Shape) String() string {
	if s < 0 || int(s) >= len(shapeNames) {
		return fmt.Sprintf("Shape(%d)", int(s))
	}
	return shapeNames[s]
}

func (s Shape) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Shape) UnmarshalText(text []byte) error {
	i := slices.Index(shapeNames[:], string(text))
	if i < 0 {
		return errors.Errorf("unknown shape %q", text)
	}
	*s = Shape(i)
	return nil
}

// Emitted returns true if the stage emits an implementation for the method.
func (s Shape) Emitted() bool { return s == Concrete || s == Override }

// Method is a planned binding method.
type Method struct {
	Binding *binding.Binding
	Type    modifiable.Type
	Shape   Shape
}

// Stage is the plan of one stage.
type Stage struct {
	Stage   *stage.Stage
	Graph   *resolve.Graph
	Methods []Method
}

// Lookup the planned method for key.
func (s *Stage) Lookup(key binding.Key) (Method, bool) {
	i := slices.IndexFunc(s.Methods, func(m Method) bool { return m.Binding.Key == key })
	if i < 0 {
		return Method{}, false
	}
	return s.Methods[i], true
}

// Plan of every stage of a component.
type Plan struct {
	Component *component.Component
	Stages    []*Stage
}

// Complete returns the plan of the complete stage.
func (p *Plan) Complete() *Stage { return p.Stages[len(p.Stages)-1] }

// History of the methods emitted by the earlier stages of a chain.
type History struct {
	methods map[binding.Key]record
}

type record struct {
	method      modifiable.Method
	implemented bool
}

// NewHistory returns an empty History, for planning the base stage.
func NewHistory() *History { return &History{methods: map[binding.Key]record{}} }

// Last returns the most recent snapshot of the method for key.
func (h *History) Last(key binding.Key) (modifiable.Method, bool) {
	r, ok := h.methods[key]
	return r.method, ok
}

// Build the plan for stage s given its resolved graph and the methods emitted by earlier stages.
//
// history is updated with the methods of this stage. It panics if a binding fixed by an earlier stage is no
// longer fixed.
func Build(s *stage.Stage, graph *resolve.Graph, history *History) *Stage {
	out := &Stage{Stage: s, Graph: graph}
	for _, b := range graph.Bindings() {
		typ := modifiable.Classify(b, s)
		prior, seen := history.methods[b.Key]
		if seen && prior.method.Type == modifiable.None && typ != modifiable.None {
			panic(fmt.Sprintf("%s: %s was fixed at depth %d but is %s", s, b.Key, prior.method.Depth, typ))
		}
		var shape Shape
		switch {
		case !seen || !prior.implemented:
			if typ.HasBaseClassImplementation() || s.Complete() {
				shape = Concrete
			} else {
				shape = Abstract
			}
		case modifiable.ShouldReimplement(prior.method, b, s):
			shape = Override
		default:
			shape = Inherited
		}
		if shape != Inherited {
			history.methods[b.Key] = record{method: modifiable.Snapshot(b, s), implemented: shape.Emitted()}
		}
		out.Methods = append(out.Methods, Method{Binding: b, Type: typ, Shape: shape})
	}
	return out
}

// BuildChain resolves and plans every stage of c.
//
// Planning stops at the first stage with violations, in which case the returned report is non-empty and the
// plan is nil.
func BuildChain(c *component.Component, decls *resolve.Declarations) (*Plan, *diagnostics.Report) {
	history := NewHistory()
	out := &Plan{Component: c}
	for _, s := range stage.Chain(c) {
		graph, report := resolve.Resolve(s, decls)
		if report.Len() > 0 {
			return nil, report
		}
		out.Stages = append(out.Stages, Build(s, graph, history))
	}
	return out, &diagnostics.Report{}
}

// BuildAll plans every component of every hierarchy rooted at roots.
//
// Hierarchies are planned concurrently, at most concurrency at a time. Plans are returned in hierarchy order,
// parents before children. If any component has violations the returned error is a *diagnostics.Report
// covering every hierarchy.
func BuildAll(ctx context.Context, roots []*component.Component, decls *resolve.Declarations, concurrency int) ([]*Plan, error) {
	results := make([][]*Plan, len(roots))
	reports := make([]*diagnostics.Report, len(roots))
	wg, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		wg.SetLimit(concurrency)
	}
	for i, root := range roots {
		wg.Go(func() error {
			report := &diagnostics.Report{}
			var plans []*Plan
			var err error
			root.Walk(func(c *component.Component) {
				if err != nil {
					return
				}
				if err = ctx.Err(); err != nil {
					return
				}
				plan, violations := BuildChain(c, decls)
				report.Merge(violations)
				if plan != nil {
					plans = append(plans, plan)
				}
			})
			if err != nil {
				return errors.WithStack(err)
			}
			results[i] = plans
			reports[i] = report
			return nil
		})
	}
	if err := wg.Wait(); err != nil {
		return nil, err
	}
	merged := &diagnostics.Report{}
	var out []*Plan
	for i := range roots {
		merged.Merge(reports[i])
		out = append(out, results[i]...)
	}
	if err := merged.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
