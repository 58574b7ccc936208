package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/errors"
	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	"github.com/kballard/go-shellquote"

	"github.com/alecthomas/bindgraph/internal/logging"
	"github.com/alecthomas/bindgraph/internal/sqldb"
)

// CLI flags shared by every command.
type CLI struct {
	Version     kong.VersionFlag   `help:"Print the version and exit."`
	Config      kong.ConfigFlag    `help:"Load configuration from this TOML file." placeholder:"FILE"`
	Chdir       kong.ChangeDirFlag `help:"Change to this directory before running." placeholder:"DIR" short:"C"`
	Debug       bool               `help:"Enable debug logging."`
	Tags        []string           `help:"Tags to enable during type analysis (will also be read from $GOFLAGS)." placeholder:"TAG"`
	Concurrency int                `help:"Maximum number of component hierarchies to plan concurrently (0 is unlimited)." default:"0"`
	LockTimeout time.Duration      `help:"How long to wait for the ledger lock." default:"30s"`

	Log    logging.Config `embed:"" prefix:"log-" group:"Logging:"`
	Ledger sqldb.Config   `embed:"" prefix:"ledger-" group:"Ledger:"`

	Classify    ClassifyCmd    `cmd:"" help:"Print the modifiability classification and plan of every stage."`
	Generate    GenerateCmd    `cmd:"" help:"Generate component implementations."`
	Diagnostics DiagnosticsCmd `cmd:"" help:"List diagnostics or look one up."`
	History     HistoryCmd     `cmd:"" help:"List recorded generator runs."`
	Watch       WatchCmd       `cmd:"" help:"Regenerate component implementations when Go source changes."`
}

func main() {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		version = info.Main.Version
	}
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Description("Ahead-of-time dependency injection code generator."),
		kong.Configuration(kongtoml.Loader, "bindgraph.toml", "~/.config/bindgraph.toml"),
		kong.Vars{
			"version": version,
			"sqldsn":  "sqlite://bindgraph.db",
		},
		kong.UsageOnError(),
	)
	if cli.Debug {
		cli.Log.Level = slog.LevelDebug
	}
	logger := logging.New(cli.Log, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	kctx.BindTo(ctx, (*context.Context)(nil))
	err := kctx.Run(logger, &cli)
	kctx.FatalIfErrorf(err)
}

// tags combines explicit tags and tags from GOFLAGS.
func (c *CLI) tags() []string {
	return slices.Concat(c.Tags, parseGoTags(os.Getenv("GOFLAGS")))
}

func parseGoTags(goFlags string) []string {
	words, err := shellquote.Split(goFlags)
	if err != nil {
		return nil
	}
	tags := []string{}
	for _, word := range words {
		if strings.HasPrefix(word, "-tags=") {
			tags = append(tags, strings.Split(word[6:], ",")...)
		} else if strings.HasPrefix(word, "--tags=") {
			tags = append(tags, strings.Split(word[7:], ",")...)
		}
	}
	return tags
}

// DiagnosticsCmd prints the diagnostic catalog.
type DiagnosticsCmd struct {
	ID string `arg:"" optional:"" help:"Diagnostic to look up."`
}

func (d *DiagnosticsCmd) Run(kctx *kong.Context) error {
	return printDiagnostics(kctx.Stdout, d.ID)
}

// HistoryCmd prints recorded runs.
type HistoryCmd struct {
	Limit  int    `help:"Maximum number of runs to list." default:"20"`
	Format string `help:"Output format." enum:"text,json,yaml" default:"text"`
}

func (h *HistoryCmd) Run(ctx context.Context, kctx *kong.Context, logger *slog.Logger, cli *CLI) error {
	l, closeLedger, err := cli.openLedger(ctx, logger)
	if err != nil {
		return err
	}
	defer closeLedger()
	runs, err := l.Runs(ctx, h.Limit)
	if err != nil {
		return errors.Errorf("failed to list runs: %w", err)
	}
	return printRuns(kctx.Stdout, h.Format, runs)
}
