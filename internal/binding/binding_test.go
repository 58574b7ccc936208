package binding

import (
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestKeys(t *testing.T) {
	db := Key{Type: "*database/sql.DB"}
	assert.Equal(t, "*database/sql.DB", db.String())
	assert.Equal(t, "@primary *database/sql.DB", Key{Type: db.Type, Qualifier: "primary"}.String())

	assert.Equal(t, Key{Type: "[]*database/sql.DB"}, SetOf(db))
	assert.Equal(t, Key{Type: "map[string]*database/sql.DB"}, MapOf(db))
	assert.True(t, SetOf(db).IsMultibindingShape())
	assert.True(t, MapOf(db).IsMultibindingShape())
	assert.False(t, db.IsMultibindingShape())

	wrapped := OptionalOf(db)
	assert.Equal(t, "github.com/alecthomas/bindgraph.Optional[*database/sql.DB]", wrapped.Type)
	inner, ok := wrapped.Unwrap()
	assert.True(t, ok)
	assert.Equal(t, db, inner)
	_, ok = db.Unwrap()
	assert.False(t, ok)
}

func TestValidate(t *testing.T) {
	db := Key{Type: "*app.DB"}
	cfg := Key{Type: "app.Config"}
	tests := []struct {
		name    string
		binding *Binding
		wantErr bool
	}{
		{"Injection", &Binding{Key: db, Kind: Injection, Dependencies: []Request{{Key: cfg}}}, false},
		{"InjectionWithModule", &Binding{Key: db, Kind: Injection, Module: "app.Module"}, true},
		{"Provision", &Binding{Key: db, Kind: Provision, Module: "app.Module"}, false},
		{"ProvisionWithoutModule", &Binding{Key: db, Kind: Provision}, true},
		{"Production", &Binding{Key: db, Kind: Production, Module: "app.Module", Scope: ScopeProduction}, false},
		{"ProductionSingleton", &Binding{Key: db, Kind: Production, Module: "app.Module", Scope: ScopeSingleton}, true},
		{"Delegate", &Binding{Key: db, Kind: Delegate, Module: "app.Module", Dependencies: []Request{{Key: cfg}}}, false},
		{"DelegateWithoutTarget", &Binding{Key: db, Kind: Delegate, Module: "app.Module"}, true},
		{"Missing", &Binding{Key: db, Kind: Missing}, false},
		{"ScopedMissing", &Binding{Key: db, Kind: Missing, Scope: ScopeSingleton}, true},
		{"MissingWithDependencies", &Binding{Key: db, Kind: Missing, Dependencies: []Request{{Key: cfg}}}, true},
		{"Multibinding", &Binding{Key: SetOf(db), Kind: Multibinding, Contributions: []Contribution{{ID: "app.Module.DB"}}}, false},
		{"MultibindingNotASet", &Binding{Key: db, Kind: Multibinding}, true},
		{"ContributionsOnProvision", &Binding{Key: db, Kind: Provision, Module: "app.Module", Contributions: []Contribution{{ID: "x"}}}, true},
		{"OptionalAbsent", &Binding{Key: OptionalOf(db), Kind: Optional, Underlying: &db}, false},
		{"OptionalPresent", &Binding{Key: OptionalOf(db), Kind: Optional, Underlying: &db, Present: true, Dependencies: []Request{{Key: db}}}, false},
		{"OptionalPresentWithoutDependency", &Binding{Key: OptionalOf(db), Kind: Optional, Underlying: &db, Present: true}, true},
		{"OptionalWithoutUnderlying", &Binding{Key: OptionalOf(db), Kind: Optional}, true},
		{"ScopedComponent", &Binding{Key: Key{Type: "app.App"}, Kind: Component, Scope: ScopeSingleton}, true},
		{"MembersOnProvision", &Binding{Key: db, Kind: Provision, Module: "app.Module", Members: []MemberInjection{{Name: "Log"}}}, true},
		{"UnknownKind", &Binding{Key: db, Kind: Kind(99)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.binding.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsProduction(t *testing.T) {
	assert.True(t, (&Binding{Kind: Production}).IsProduction())
	assert.True(t, (&Binding{Kind: Injection, Scope: ScopeProduction}).IsProduction())
	assert.False(t, (&Binding{Kind: Injection, Scope: ScopeReusable}).IsProduction())
}

func TestAllRequests(t *testing.T) {
	b := &Binding{
		Kind:         Injection,
		Dependencies: []Request{{Key: Key{Type: "a"}}},
		Members:      []MemberInjection{{Name: "B", Field: true, Requests: []Request{{Key: Key{Type: "b"}, Deferred: true}}}},
	}
	assert.Equal(t, []Request{{Key: Key{Type: "a"}}, {Key: Key{Type: "b"}, Deferred: true}}, b.AllRequests())
	assert.Equal(t, "func() b", b.AllRequests()[1].String())
}
