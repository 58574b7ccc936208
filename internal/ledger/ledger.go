// Package ledger records the plans of every generator run, so that later runs can detect base implementations
// that were generated with assumptions that no longer hold.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"log/slog"
	"time"

	"github.com/alecthomas/errors"
	"go.jetify.com/typeid/v2"

	"github.com/alecthomas/bindgraph/internal/binding"
	"github.com/alecthomas/bindgraph/internal/diagnostics"
	"github.com/alecthomas/bindgraph/internal/modifiable"
	"github.com/alecthomas/bindgraph/internal/plan"
	"github.com/alecthomas/bindgraph/internal/sqldb"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations creating the ledger tables.
func Migrations() sqldb.Migrations {
	sub, _ := fs.Sub(migrations, "migrations")
	return sqldb.Migrations{sub}
}

const runPrefix = "run"

// NewRunID returns a new, time ordered, run identifier.
func NewRunID() string {
	return typeid.MustGenerate(runPrefix).String()
}

// ValidateRunID returns an error if id is not a run identifier.
func ValidateRunID(id string) error {
	tid, err := typeid.Parse(id)
	if err != nil {
		return errors.Errorf("invalid run ID %q: %w", id, err)
	}
	if tid.Prefix() != runPrefix {
		return errors.Errorf("invalid run ID %q: expected prefix %q", id, runPrefix)
	}
	return nil
}

// Run is a recorded generator run.
type Run struct {
	ID         string    `json:"id" yaml:"id"`
	Created    time.Time `json:"created" yaml:"created"`
	Components int       `json:"components" yaml:"components"`
}

// Entry is the recorded plan of one binding method at one stage.
type Entry struct {
	RunID     string          `json:"run" yaml:"run"`
	Component string          `json:"component" yaml:"component"`
	Depth     int             `json:"depth" yaml:"depth"`
	Key       string          `json:"key" yaml:"key"`
	Type      modifiable.Type `json:"type" yaml:"type"`
	Shape     plan.Shape      `json:"shape" yaml:"shape"`
}

// Ledger of generator runs stored in a SQL database.
type Ledger struct {
	db     *sql.DB
	driver sqldb.Driver
	q      func(string) string
	logger *slog.Logger
}

// New creates a Ledger in a database migrated with [Migrations].
func New(db *sql.DB, driver sqldb.Driver, logger *slog.Logger) *Ledger {
	return &Ledger{db: db, driver: driver, q: driver.Denormalise, logger: logger}
}

// Record the plans of a run.
func (l *Ledger) Record(ctx context.Context, runID string, plans []*plan.Plan) error {
	if err := ValidateRunID(runID); err != nil {
		return err
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	_, err = tx.ExecContext(ctx, l.q(`INSERT INTO runs (id, created_at, components) VALUES (?, ?, ?)`),
		runID, time.Now().UTC(), len(plans))
	if err != nil {
		return errors.Errorf("%s: failed to record run: %w", runID, l.driver.TranslateError(err))
	}
	insert, err := tx.PrepareContext(ctx, l.q(`
		INSERT INTO methods (run_id, component, depth, binding_key, modifiable, shape)
		VALUES (?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return errors.WithStack(err)
	}
	defer insert.Close()
	count := 0
	for _, p := range plans {
		component := p.Component.PathString()
		for _, s := range p.Stages {
			for _, m := range s.Methods {
				_, err := insert.ExecContext(ctx, runID, component, s.Stage.Depth, m.Binding.Key.String(), m.Type.String(), m.Shape.String())
				if err != nil {
					return errors.Errorf("%s: failed to record %s: %w", runID, m.Binding.Key, l.driver.TranslateError(err))
				}
				count++
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Errorf("%s: failed to commit run: %w", runID, err)
	}
	l.logger.Debug("Recorded run", "run", runID, "components", len(plans), "methods", count)
	return nil
}

// Runs returns the most recent runs, newest first.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx, l.q(`
		SELECT id, created_at, components
		FROM runs
		ORDER BY id DESC
		LIMIT ?`), limit)
	if err != nil {
		return nil, errors.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Created, &run.Components); err != nil {
			return nil, errors.Errorf("failed to scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, errors.WithStack(rows.Err())
}

// Latest returns the entries recorded for a component stage by the most recent run that recorded the
// component, ordered by key. A negative depth returns every depth.
func (l *Ledger) Latest(ctx context.Context, component string, depth int) ([]Entry, error) {
	var runID string
	err := l.db.QueryRowContext(ctx, l.q(`
		SELECT run_id
		FROM methods
		WHERE component = ?
		ORDER BY run_id DESC
		LIMIT 1`), component).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Errorf("%s: failed to query latest run: %w", component, err)
	}
	query := `SELECT depth, binding_key, modifiable, shape FROM methods WHERE run_id = ? AND component = ?`
	args := []any{runID, component}
	if depth >= 0 {
		query += ` AND depth = ?`
		args = append(args, depth)
	}
	rows, err := l.db.QueryContext(ctx, l.q(query+` ORDER BY depth, binding_key`), args...)
	if err != nil {
		return nil, errors.Errorf("%s: failed to query entries: %w", component, err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		entry := Entry{RunID: runID, Component: component}
		var typ, shape string
		if err := rows.Scan(&entry.Depth, &entry.Key, &typ, &shape); err != nil {
			return nil, errors.Errorf("%s: failed to scan entry: %w", component, err)
		}
		if err := entry.Type.UnmarshalText([]byte(typ)); err != nil {
			return nil, errors.WithStack(err)
		}
		if err := entry.Shape.UnmarshalText([]byte(shape)); err != nil {
			return nil, errors.WithStack(err)
		}
		out = append(out, entry)
	}
	return out, errors.WithStack(rows.Err())
}

// Check plans against the most recent run of each component.
//
// A binding that a previous run fixed at one depth, but which is now modifiable at a deeper stage, means the
// base implementation generated by that run is stale, unless the plans regenerate that base stage without
// fixing the binding.
func (l *Ledger) Check(ctx context.Context, plans []*plan.Plan) (*diagnostics.Report, error) {
	report := &diagnostics.Report{}
	for _, p := range plans {
		component := p.Component.PathString()
		entries, err := l.Latest(ctx, component, -1)
		if err != nil {
			return nil, err
		}
		fixed := map[string]Entry{}
		for _, entry := range entries {
			if _, ok := fixed[entry.Key]; !ok && entry.Type == modifiable.None {
				fixed[entry.Key] = entry
			}
		}
		reported := map[string]bool{}
		for _, s := range p.Stages {
			for _, m := range s.Methods {
				key := m.Binding.Key.String()
				entry, ok := fixed[key]
				if !ok || reported[key] || m.Type == modifiable.None || s.Stage.Depth <= entry.Depth {
					continue
				}
				if regenerated(p, entry.Depth, m.Binding.Key) {
					continue
				}
				reported[key] = true
				report.Add(m.Binding.Position, diagnostics.StaleBaseImplementation,
					key, component, entry.Depth, entry.RunID, m.Type, s.Stage.Depth)
			}
		}
	}
	return report, nil
}

// regenerated returns true if p plans the stage at depth and no longer fixes key there.
func regenerated(p *plan.Plan, depth int, key binding.Key) bool {
	for _, s := range p.Stages {
		if s.Stage.Depth != depth {
			continue
		}
		m, ok := s.Lookup(key)
		return !ok || m.Type != modifiable.None
	}
	return false
}
