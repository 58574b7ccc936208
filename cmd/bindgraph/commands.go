package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alecthomas/errors"
	"github.com/alecthomas/kong"

	"github.com/alecthomas/bindgraph/internal/flock"
	"github.com/alecthomas/bindgraph/internal/generator"
	"github.com/alecthomas/bindgraph/internal/ledger"
	"github.com/alecthomas/bindgraph/internal/plan"
	"github.com/alecthomas/bindgraph/internal/scan"
	"github.com/alecthomas/bindgraph/internal/sqldb"
	"github.com/alecthomas/bindgraph/internal/watch"
)

// Target is the package to generate into, and where to look for declarations.
type Target struct {
	Dest     string   `help:"Destination package directory for generated files." arg:"" type:"existingdir"`
	Patterns []string `help:"Additional packages pattern to scan." arg:"" optional:""`
}

// ClassifyCmd prints the plan of every stage.
type ClassifyCmd struct {
	Target `embed:""`
	Format string `help:"Output format." enum:"text,json,yaml" default:"text"`
}

func (c *ClassifyCmd) Run(ctx context.Context, kctx *kong.Context, logger *slog.Logger, cli *CLI) error {
	_, plans, err := cli.plan(ctx, logger, c.Target)
	if err != nil {
		return err
	}
	return printPlans(kctx.Stdout, c.Format, plans)
}

// GenerateCmd writes the generated implementations.
type GenerateCmd struct {
	Target   `embed:""`
	NoLedger bool `help:"Do not check or record the run in the ledger."`
}

func (g *GenerateCmd) Run(ctx context.Context, logger *slog.Logger, cli *CLI) error {
	return cli.generate(ctx, logger, g.Target, !g.NoLedger)
}

// WatchCmd regenerates on change.
type WatchCmd struct {
	Target   `embed:""`
	NoLedger bool          `help:"Do not check or record runs in the ledger."`
	Dirs     []string      `help:"Directories to watch." default:"." placeholder:"DIR"`
	Debounce time.Duration `help:"How long changes must settle before regenerating." default:"250ms"`
}

func (w *WatchCmd) Run(ctx context.Context, logger *slog.Logger, cli *CLI) error {
	if err := cli.generate(ctx, logger, w.Target, !w.NoLedger); err != nil {
		logger.Error("Generation failed", "error", err)
	}
	options := watch.Options{Debounce: w.Debounce, Ignore: []string{generator.Filename}}
	return watch.Watch(ctx, logger, w.Dirs, options, func(ctx context.Context, changed []string) error {
		logger.Info("Regenerating", "changed", changed)
		if err := cli.generate(ctx, logger, w.Target, !w.NoLedger); err != nil {
			logger.Error("Generation failed", "error", err)
		}
		return nil
	})
}

// plan analyses the target and plans every component hierarchy.
func (c *CLI) plan(ctx context.Context, logger *slog.Logger, target Target) (*scan.Result, []*plan.Plan, error) {
	result, report, err := scan.Analyse(ctx, target.Dest,
		scan.WithPatterns(target.Patterns...),
		scan.WithTags(c.tags()...),
		scan.WithLogger(logger),
		scan.WithDebug(c.Debug),
	)
	if err != nil {
		return nil, nil, err
	}
	if err := report.Err(); err != nil {
		return nil, nil, err
	}
	plans, err := plan.BuildAll(ctx, result.Roots, result.Declarations, c.Concurrency)
	if err != nil {
		return nil, nil, err
	}
	return result, plans, nil
}

func (c *CLI) generate(ctx context.Context, logger *slog.Logger, target Target, useLedger bool) error {
	result, plans, err := c.plan(ctx, logger, target)
	if err != nil {
		return err
	}
	buf := &bytes.Buffer{}
	if err := generator.Generate(buf, result, plans); err != nil {
		return err
	}
	if useLedger {
		l, closeLedger, err := c.openLedger(ctx, logger)
		if err != nil {
			return err
		}
		defer closeLedger()
		report, err := l.Check(ctx, plans)
		if err != nil {
			return err
		}
		if err := report.Err(); err != nil {
			return err
		}
		runID := ledger.NewRunID()
		if err := l.Record(ctx, runID, plans); err != nil {
			return err
		}
		logger.Debug("Recorded run", "run", runID)
	}
	path := filepath.Join(target.Dest, generator.Filename)
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return errors.Errorf("failed to write generated code: %w", err)
	}
	logger.Info("Generated", "path", path, "components", len(plans))
	return nil
}

// openLedger opens the configured ledger, holding a lock on local sqlite databases until the returned
// function is called.
func (c *CLI) openLedger(ctx context.Context, logger *slog.Logger) (*ledger.Ledger, func(), error) {
	driver, err := sqldb.DriverForConfig(c.Ledger)
	if err != nil {
		return nil, nil, err
	}
	release := func() error { return nil }
	if path := sqldb.SQLitePath(c.Ledger.DSN); driver.Name() == "sqlite" && path != "" {
		release, err = flock.Acquire(ctx, path+".lock", c.LockTimeout)
		if err != nil {
			return nil, nil, errors.Errorf("failed to lock ledger: %w", err)
		}
	}
	db, err := sqldb.New(ctx, c.Ledger, logger, ledger.Migrations())
	if err != nil {
		_ = release()
		return nil, nil, err
	}
	closeLedger := func() {
		if err := db.Close(); err != nil {
			logger.Warn("Failed to close ledger", "error", err)
		}
		if err := release(); err != nil {
			logger.Warn("Failed to release ledger lock", "error", err)
		}
	}
	return ledger.New(db, driver, logger), closeLedger, nil
}
