package ledger

import (
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"

	"github.com/alecthomas/bindgraph/internal/binding"
	"github.com/alecthomas/bindgraph/internal/component"
	"github.com/alecthomas/bindgraph/internal/diagnostics"
	"github.com/alecthomas/bindgraph/internal/logging/loggingtest"
	"github.com/alecthomas/bindgraph/internal/modifiable"
	"github.com/alecthomas/bindgraph/internal/plan"
	"github.com/alecthomas/bindgraph/internal/sqldb"
	"github.com/alecthomas/bindgraph/internal/stage"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	logger := loggingtest.NewForTesting()
	config := sqldb.Config{DSN: "sqlite://file:" + t.Name() + "?mode=memory&cache=shared", Migrate: true}
	db, err := sqldb.New(t.Context(), config, logger, Migrations())
	assert.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	driver, err := sqldb.DriverForConfig(config)
	assert.NoError(t, err)
	return New(db, driver, logger)
}

var handlers = binding.Key{Type: "[]example.com/app.Handler"}

func leafComponent() *component.Component {
	root := &component.Component{Name: "example.com/app.Root"}
	leaf := &component.Component{Name: "example.com/app.Leaf", Subcomponent: true, Parent: root}
	root.Children = []*component.Component{leaf}
	return leaf
}

// planOf builds a plan of leaf where the handlers binding has the given type at each depth.
func planOf(leaf *component.Component, types ...modifiable.Type) *plan.Plan {
	b := &binding.Binding{Key: handlers, Kind: binding.Multibinding}
	p := &plan.Plan{Component: leaf}
	for i, s := range stage.Chain(leaf) {
		if i >= len(types) {
			break
		}
		shape := plan.Concrete
		if i > 0 {
			shape = plan.Override
		}
		p.Stages = append(p.Stages, &plan.Stage{Stage: s, Methods: []plan.Method{{Binding: b, Type: types[i], Shape: shape}}})
	}
	return p
}

func TestRunID(t *testing.T) {
	id := NewRunID()
	assert.True(t, strings.HasPrefix(id, "run_"), id)
	assert.NoError(t, ValidateRunID(id))
	assert.Error(t, ValidateRunID("run"))
	assert.Error(t, ValidateRunID(strings.Replace(id, "run_", "job_", 1)))
	time.Sleep(time.Millisecond * 2)
	assert.True(t, NewRunID() > id)
}

func TestRecord(t *testing.T) {
	l := newLedger(t)
	leaf := leafComponent()
	first := NewRunID()
	err := l.Record(t.Context(), first, []*plan.Plan{planOf(leaf, modifiable.None, modifiable.None)})
	assert.NoError(t, err)

	err = l.Record(t.Context(), first, []*plan.Plan{planOf(leaf, modifiable.None)})
	assert.IsError(t, err, sqldb.ErrConstraint)

	time.Sleep(time.Millisecond * 2)
	second := NewRunID()
	err = l.Record(t.Context(), second, []*plan.Plan{planOf(leaf, modifiable.Multibinding, modifiable.Multibinding)})
	assert.NoError(t, err)

	runs, err := l.Runs(t.Context(), 10)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(runs))
	assert.Equal(t, second, runs[0].ID)
	assert.Equal(t, first, runs[1].ID)
	assert.Equal(t, 1, runs[0].Components)

	entries, err := l.Latest(t.Context(), "app.Root/app.Leaf", 1)
	assert.NoError(t, err)
	assert.Equal(t, []Entry{{
		RunID:     second,
		Component: "app.Root/app.Leaf",
		Depth:     1,
		Key:       handlers.String(),
		Type:      modifiable.Multibinding,
		Shape:     plan.Override,
	}}, entries)

	entries, err = l.Latest(t.Context(), "app.Root/app.Leaf", -1)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(entries))

	entries, err = l.Latest(t.Context(), "app.Unknown", -1)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(entries))
}

func TestCheck(t *testing.T) {
	l := newLedger(t)
	leaf := leafComponent()
	previous := NewRunID()
	err := l.Record(t.Context(), previous, []*plan.Plan{planOf(leaf, modifiable.None, modifiable.None)})
	assert.NoError(t, err)

	t.Run("Unchanged", func(t *testing.T) {
		report, err := l.Check(t.Context(), []*plan.Plan{planOf(leaf, modifiable.None, modifiable.None)})
		assert.NoError(t, err)
		assert.Equal(t, 0, report.Len())
	})

	t.Run("Stale", func(t *testing.T) {
		report, err := l.Check(t.Context(), []*plan.Plan{planOf(leaf, modifiable.None, modifiable.Multibinding)})
		assert.NoError(t, err)
		assert.Equal(t, 1, report.Len())
		assert.True(t, report.Has(diagnostics.StaleBaseImplementation))
		message := report.Violations()[0].Message()
		assert.Contains(t, message, previous)
		assert.Contains(t, message, "MULTIBINDING at depth 1")
	})

	t.Run("RegeneratedBase", func(t *testing.T) {
		l := newLedger(t)
		err := l.Record(t.Context(), NewRunID(), []*plan.Plan{planOf(leaf, modifiable.None, modifiable.None)})
		assert.NoError(t, err)
		edited := []*plan.Plan{planOf(leaf, modifiable.ModuleInstance, modifiable.ModuleInstance)}
		for range 2 {
			report, err := l.Check(t.Context(), edited)
			assert.NoError(t, err)
			assert.NoError(t, report.Err())
			assert.NoError(t, l.Record(t.Context(), NewRunID(), edited))
		}
	})

	t.Run("BaseNotRegenerated", func(t *testing.T) {
		deeper := planOf(leaf, modifiable.None, modifiable.Multibinding)
		deeper.Stages = deeper.Stages[1:]
		report, err := l.Check(t.Context(), []*plan.Plan{deeper})
		assert.NoError(t, err)
		assert.True(t, report.Has(diagnostics.StaleBaseImplementation))
	})

	t.Run("UnknownComponent", func(t *testing.T) {
		other := &component.Component{Name: "example.com/app.Other"}
		report, err := l.Check(t.Context(), []*plan.Plan{planOf(other, modifiable.Multibinding)})
		assert.NoError(t, err)
		assert.Equal(t, 0, report.Len())
	})
}
