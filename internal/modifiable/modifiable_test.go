package modifiable

import (
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/alecthomas/bindgraph/internal/binding"
	"github.com/alecthomas/bindgraph/internal/component"
	"github.com/alecthomas/bindgraph/internal/resolve"
	"github.com/alecthomas/bindgraph/internal/stage"
)

var (
	configKey  = binding.Key{Type: "example.com/app.Config"}
	dbKey      = binding.Key{Type: "*example.com/app.DB"}
	handlerKey = binding.Key{Type: "example.com/app.Handler"}
)

// chain returns the base and complete stages of a child component of a root.
func chain() (base, complete *stage.Stage) {
	root := &component.Component{Name: "example.com/app.Root"}
	child := &component.Component{Name: "example.com/app.Child", Subcomponent: true, Parent: root}
	root.Children = []*component.Component{child}
	stages := stage.Chain(child)
	return stages[0], stages[1]
}

func TestClassify(t *testing.T) {
	base, complete := chain()
	optional := binding.OptionalOf(dbKey)
	tests := []struct {
		name     string
		binding  *binding.Binding
		expected Type
	}{
		{"StatelessProvision", &binding.Binding{Key: configKey, Kind: binding.Provision, Module: "app.M"}, None},
		{"ScopedStatelessProvision", &binding.Binding{Key: configKey, Kind: binding.Provision, Module: "app.M", Scope: binding.ScopeSingleton}, None},
		{"Delegate", &binding.Binding{Key: configKey, Kind: binding.Delegate, Module: "app.M", Dependencies: []binding.Request{{Key: dbKey}}}, None},
		{"Missing", &binding.Binding{Key: configKey, Kind: binding.Missing}, Missing},
		{"SubcomponentCreator", &binding.Binding{Key: configKey, Kind: binding.SubcomponentCreator}, GeneratedInstance},
		{"Component", &binding.Binding{Key: configKey, Kind: binding.Component}, GeneratedInstance},
		{"Multibinding", &binding.Binding{Key: binding.SetOf(handlerKey), Kind: binding.Multibinding}, Multibinding},
		{"ProductionMultibinding", &binding.Binding{Key: binding.SetOf(handlerKey), Kind: binding.Multibinding, Contributions: []binding.Contribution{{ID: "app.M.Produce", Production: true}}}, Multibinding},
		{"AbsentOptional", &binding.Binding{Key: optional, Kind: binding.Optional, Underlying: &dbKey}, Optional},
		{"PresentOptional", &binding.Binding{Key: optional, Kind: binding.Optional, Underlying: &dbKey, Present: true, Dependencies: []binding.Request{{Key: dbKey}}}, Optional},
		{"Injection", &binding.Binding{Key: dbKey, Kind: binding.Injection}, Injection},
		{"StatefulProvision", &binding.Binding{Key: configKey, Kind: binding.Provision, Module: "app.M", RequiresModuleInstance: true}, ModuleInstance},
		{"Production", &binding.Binding{Key: configKey, Kind: binding.Production, Module: "app.M"}, Production},
		{"StatefulProduction", &binding.Binding{Key: configKey, Kind: binding.Production, Module: "app.M", RequiresModuleInstance: true}, Production},
		{"ProductionScopedProvision", &binding.Binding{Key: configKey, Kind: binding.Provision, Module: "app.M", Scope: binding.ScopeProduction}, Production},
		{"ProductionScopedDelegate", &binding.Binding{Key: configKey, Kind: binding.Delegate, Module: "app.M", Scope: binding.ScopeProduction, Dependencies: []binding.Request{{Key: dbKey}}}, Production},
		{"ProductionScopedInjection", &binding.Binding{Key: dbKey, Kind: binding.Injection, Scope: binding.ScopeProduction}, Production},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, Classify(test.binding, base))
			if test.binding.Kind != binding.Missing {
				assert.Equal(t, test.expected, Classify(test.binding, complete))
			}
		})
	}
}

func TestClassifyPanics(t *testing.T) {
	_, complete := chain()
	assert.Panics(t, func() {
		Classify(&binding.Binding{Key: configKey, Kind: binding.Missing}, complete)
	})
	assert.Panics(t, func() {
		Classify(&binding.Binding{Key: configKey, Kind: binding.Provision}, complete)
	})
	assert.Panics(t, func() {
		Classify(&binding.Binding{Key: configKey, Kind: binding.Production, Module: "app.M", Scope: binding.ScopeSingleton}, complete)
	})
}

func TestIsModifiable(t *testing.T) {
	for _, typ := range Types() {
		assert.Equal(t, typ != None, IsModifiable(typ), "%s", typ)
	}
}

func TestHasBaseClassImplementation(t *testing.T) {
	actual := []Type{}
	for _, typ := range Types() {
		if HasBaseClassImplementation(typ) {
			actual = append(actual, typ)
		}
	}
	assert.Equal(t, []Type{None, Multibinding, Optional, Injection, ModuleInstance, Production}, actual)
	assert.False(t, HasBaseClassImplementation(Missing))
	assert.False(t, HasBaseClassImplementation(GeneratedInstance))
}

func TestTypeText(t *testing.T) {
	for _, typ := range Types() {
		text, err := typ.MarshalText()
		assert.NoError(t, err)
		var decoded Type
		assert.NoError(t, decoded.UnmarshalText(text))
		assert.Equal(t, typ, decoded)
	}
	var decoded Type
	assert.NoError(t, decoded.UnmarshalText([]byte("module_instance")))
	assert.Equal(t, ModuleInstance, decoded)
	assert.Error(t, decoded.UnmarshalText([]byte("BOGUS")))
	assert.Equal(t, "Type(42)", Type(42).String())
}

// hierarchy returns root -> middle -> leaf, with modules installed in each.
func hierarchy(rootModule, middleModule, leafModule *component.Module, entries ...component.EntryPoint) *component.Component {
	root := &component.Component{Name: "example.com/app.Root", Modules: []*component.Module{rootModule}}
	middle := &component.Component{Name: "example.com/app.Middle", Subcomponent: true, Parent: root, Modules: []*component.Module{middleModule}}
	leaf := &component.Component{Name: "example.com/app.Leaf", Subcomponent: true, Parent: middle, Modules: []*component.Module{leafModule}, EntryPoints: entries}
	root.Children = []*component.Component{middle}
	middle.Children = []*component.Component{leaf}
	return leaf
}

func entry(name string, key binding.Key) component.EntryPoint {
	return component.EntryPoint{Name: name, Request: binding.Request{Key: key}}
}

func classifyChain(t *testing.T, leaf *component.Component, decls *resolve.Declarations, key binding.Key) []Type {
	t.Helper()
	out := []Type{}
	for _, s := range stage.Chain(leaf) {
		graph, report := resolve.Resolve(s, decls)
		assert.NoError(t, report.Err())
		out = append(out, Classify(graph.Lookup(key), s))
	}
	return out
}

func TestFixationIsMonotonic(t *testing.T) {
	handlers := binding.SetOf(handlerKey)
	optionalDB := binding.OptionalOf(dbKey)
	leaf := hierarchy(
		&component.Module{
			Name:          "example.com/app.RootModule",
			Bindings:      []*binding.Binding{{Key: dbKey, Kind: binding.Provision, Module: "example.com/app.RootModule"}},
			Contributions: []component.Contribution{{Key: handlers, Contribution: binding.Contribution{ID: "example.com/app.RootModule.Health"}}},
		},
		&component.Module{
			Name:     "example.com/app.MiddleModule",
			Bindings: []*binding.Binding{{Key: configKey, Kind: binding.Provision, Module: "example.com/app.MiddleModule"}},
		},
		&component.Module{
			Name:      "example.com/app.LeafModule",
			Optionals: []binding.Key{dbKey},
		},
		entry("Config", configKey),
		entry("DB", optionalDB),
		entry("Handlers", handlers),
	)
	for _, key := range []binding.Key{configKey, dbKey, handlers, optionalDB} {
		types := []Type{}
		for _, s := range stage.Chain(leaf) {
			graph, report := resolve.Resolve(s, nil)
			assert.NoError(t, report.Err())
			if b := graph.Lookup(key); b != nil {
				types = append(types, Classify(b, s))
			}
		}
		fixed := false
		for _, typ := range types {
			if fixed {
				assert.Equal(t, None, typ, "%s was fixed in an earlier stage: %v", key, types)
			}
			fixed = fixed || typ == None
		}
	}
	assert.Equal(t, []Type{Missing, None, None}, classifyChain(t, leaf, nil, configKey))
	assert.Equal(t, []Type{Optional, Optional, Optional}, classifyChain(t, leaf, nil, optionalDB))
}

func TestProductionIsAlwaysModifiable(t *testing.T) {
	leaf := hierarchy(
		&component.Module{Name: "example.com/app.RootModule"},
		&component.Module{Name: "example.com/app.MiddleModule"},
		&component.Module{
			Name: "example.com/app.LeafModule",
			Bindings: []*binding.Binding{
				{Key: configKey, Kind: binding.Production, Module: "example.com/app.LeafModule"},
				{Key: dbKey, Kind: binding.Provision, Module: "example.com/app.LeafModule", Scope: binding.ScopeProduction},
			},
		},
		entry("Config", configKey),
		entry("DB", dbKey),
	)
	assert.Equal(t, []Type{Production, Production, Production}, classifyChain(t, leaf, nil, configKey))
	assert.Equal(t, []Type{Production, Production, Production}, classifyChain(t, leaf, nil, dbKey))
	assert.True(t, IsModifiable(Production))
	assert.True(t, HasBaseClassImplementation(Production))
}

func TestMultibindingInBaseAndComplete(t *testing.T) {
	handlers := binding.SetOf(handlerKey)
	leaf := hierarchy(
		&component.Module{Name: "example.com/app.RootModule", Contributions: []component.Contribution{
			{Key: handlers, Contribution: binding.Contribution{ID: "example.com/app.RootModule.Health"}},
		}},
		&component.Module{Name: "example.com/app.MiddleModule"},
		&component.Module{Name: "example.com/app.LeafModule", Contributions: []component.Contribution{
			{Key: handlers, Contribution: binding.Contribution{ID: "example.com/app.LeafModule.Users"}},
		}},
		entry("Handlers", handlers),
	)
	stages := stage.Chain(leaf)
	base, complete := stages[0], stages[len(stages)-1]
	assert.Equal(t, []Type{Multibinding, Multibinding, Multibinding}, classifyChain(t, leaf, nil, handlers))
	assert.True(t, IsModifiable(Multibinding))
	assert.True(t, HasBaseClassImplementation(Multibinding))

	baseGraph, _ := resolve.Resolve(base, nil)
	previous := Snapshot(baseGraph.Lookup(handlers), base)
	middleGraph, _ := resolve.Resolve(stages[1], nil)
	assert.False(t, ShouldReimplement(previous, middleGraph.Lookup(handlers), stages[1]))
	completeGraph, _ := resolve.Resolve(complete, nil)
	assert.True(t, ShouldReimplement(previous, completeGraph.Lookup(handlers), complete))
}

func TestMissingInBaseThenSatisfied(t *testing.T) {
	leaf := hierarchy(
		&component.Module{Name: "example.com/app.RootModule", Bindings: []*binding.Binding{
			{Key: configKey, Kind: binding.Provision, Module: "example.com/app.RootModule"},
		}},
		&component.Module{Name: "example.com/app.MiddleModule"},
		&component.Module{Name: "example.com/app.LeafModule"},
		entry("Config", configKey),
	)
	stages := stage.Chain(leaf)
	assert.Equal(t, []Type{Missing, Missing, None}, classifyChain(t, leaf, nil, configKey))
	assert.True(t, IsModifiable(Missing))
	assert.False(t, HasBaseClassImplementation(Missing))

	baseGraph, _ := resolve.Resolve(stages[0], nil)
	previous := Snapshot(baseGraph.Lookup(configKey), stages[0])
	middleGraph, _ := resolve.Resolve(stages[1], nil)
	assert.False(t, ShouldReimplement(previous, middleGraph.Lookup(configKey), stages[1]))
	completeGraph, _ := resolve.Resolve(stages[2], nil)
	assert.True(t, ShouldReimplement(previous, completeGraph.Lookup(configKey), stages[2]))
}

func TestShouldReimplement(t *testing.T) {
	base, complete := chain()
	present := &binding.Binding{Key: binding.OptionalOf(dbKey), Kind: binding.Optional, Underlying: &dbKey, Present: true, Dependencies: []binding.Request{{Key: dbKey}}}
	tests := []struct {
		name     string
		previous Method
		current  *binding.Binding
		expected bool
	}{
		{"NoneNever", Method{Type: None}, &binding.Binding{Kind: binding.Provision}, false},
		{"InjectionStillInjection", Method{Type: Injection}, &binding.Binding{Kind: binding.Injection}, false},
		{"InjectionReplaced", Method{Type: Injection}, &binding.Binding{Kind: binding.Provision}, true},
		{"OptionalPresenceChanged", Method{Type: Optional}, present, true},
		{"OptionalPresenceUnchanged", Method{Type: Optional, Present: true}, present, false},
		{"GeneratedInstanceAtComplete", Method{Type: GeneratedInstance}, &binding.Binding{Kind: binding.SubcomponentCreator}, true},
		{"ModuleInstanceAtComplete", Method{Type: ModuleInstance}, &binding.Binding{Kind: binding.Provision}, true},
		{"ProductionAtComplete", Method{Type: Production}, &binding.Binding{Kind: binding.Production}, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, ShouldReimplement(test.previous, test.current, complete))
		})
	}
	t.Run("SameStage", func(t *testing.T) {
		assert.False(t, ShouldReimplement(Method{Type: Missing, Depth: 1}, &binding.Binding{Kind: binding.Provision}, complete))
	})
	t.Run("IncompleteStage", func(t *testing.T) {
		previous := Method{Type: Production, Depth: -1}
		assert.False(t, ShouldReimplement(previous, &binding.Binding{Kind: binding.Production}, base))
	})
}
