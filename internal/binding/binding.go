// Package binding models the nodes and edges of a binding graph.
//
// A [Binding] describes how one requested [Key] is satisfied, and its [Request]s are the edges to the
// keys it depends on.
package binding

import (
	"fmt"
	"go/token"
	"go/types"
	"strings"

	"github.com/alecthomas/errors"
)

// OptionalType is the fully-qualified name of the runtime optional wrapper type.
const OptionalType = "github.com/alecthomas/bindgraph.Optional"

// Key identifies a requested type and qualifier.
type Key struct {
	// Type is the fully-qualified type string, eg. *database/sql.DB
	Type      string
	Qualifier string
}

// KeyFor returns the Key for a Go type.
func KeyFor(t types.Type, qualifier string) Key {
	return Key{Type: types.TypeString(t, nil), Qualifier: qualifier}
}

func (k Key) String() string {
	if k.Qualifier != "" {
		return fmt.Sprintf("@%s %s", k.Qualifier, k.Type)
	}
	return k.Type
}

// SetOf returns the key of the set multibinding with elements of key k.
func SetOf(k Key) Key { return Key{Type: "[]" + k.Type, Qualifier: k.Qualifier} }

// MapOf returns the key of the map multibinding with values of key k.
func MapOf(k Key) Key { return Key{Type: "map[string]" + k.Type, Qualifier: k.Qualifier} }

// OptionalOf returns the key of the optional wrapper around key k.
func OptionalOf(k Key) Key {
	return Key{Type: OptionalType + "[" + k.Type + "]", Qualifier: k.Qualifier}
}

// IsMultibindingShape returns true if the key is a set or map type.
func (k Key) IsMultibindingShape() bool {
	return strings.HasPrefix(k.Type, "[]") || strings.HasPrefix(k.Type, "map[string]")
}

// Unwrap returns the key wrapped by an optional wrapper key.
func (k Key) Unwrap() (Key, bool) {
	inner, ok := strings.CutPrefix(k.Type, OptionalType+"[")
	if !ok || !strings.HasSuffix(inner, "]") {
		return Key{}, false
	}
	return Key{Type: strings.TrimSuffix(inner, "]"), Qualifier: k.Qualifier}, true
}

// Request is a dependency edge.
type Request struct {
	Key Key
	// Deferred requests (func() T) do not need the dependency at construction time, and so break cycles.
	Deferred bool
}

func (r Request) String() string {
	if r.Deferred {
		return "func() " + r.Key.String()
	}
	return r.Key.String()
}

// Scope is a lifetime policy for the instance produced by a binding.
type Scope string

const (
	Unscoped        Scope = ""
	ScopeSingleton  Scope = "singleton"
	ScopeReusable   Scope = "reusable"
	ScopeProduction Scope = "production"
)

// IsScoped returns true if instances are shared.
func (s Scope) IsScoped() bool { return s != Unscoped }

// Unowned returns true for scopes that are legal on any component and so are never matched against component
// scope declarations.
func (s Scope) Unowned() bool { return s == ScopeReusable || s == ScopeProduction }

// Kind of a binding.
type Kind int

const (
	// Injection is a constructor annotated with //bind:inject.
	Injection Kind = iota
	// Provision is a //bind:provides module method.
	Provision
	// Production is a //bind:produces module method.
	Production
	// Delegate is a //bind:binds module method aliasing one key to another.
	Delegate
	// Multibinding is a set or map aggregated from contributions.
	Multibinding
	// Optional wraps a key declared with //bind:optional.
	Optional
	// SubcomponentCreator creates an instance of a generated subcomponent.
	SubcomponentCreator
	// Component is a component's reference to its own generated implementation.
	Component
	// Missing is an unsatisfied key.
	Missing
)

var kindNames = [...]string{
	Injection:           "injection",
	Provision:           "provision",
	Production:          "production",
	Delegate:            "delegate",
	Multibinding:        "multibinding",
	Optional:            "optional",
	SubcomponentCreator: "subcomponent-creator",
	Component:           "component",
	Missing:             "missing",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// MemberInjection is a field or method of an injected type that is set after construction.
type MemberInjection struct {
	Position token.Position
	Name     string
	// Field is true for field injection, false for method injection.
	Field    bool
	Requests []Request
}

// Contribution is one element of a multibinding.
type Contribution struct {
	// ID is the fully-qualified contributing method, eg. example.com/app.Module.ProvideHandler
	ID       string
	Position token.Position
	Module   string
	// MapKey is the key of the element for map multibindings.
	MapKey                 string
	Dependencies           []Request
	RequiresModuleInstance bool
	Production             bool
	Source                 *types.Func
	ReturnsError           bool
}

// Binding is a resolved node of the graph.
type Binding struct {
	Key      Key
	Kind     Kind
	Scope    Scope
	Position token.Position
	// Module is the fully-qualified module type declaring the binding, if any.
	Module                 string
	RequiresModuleInstance bool
	Dependencies           []Request
	Members                []MemberInjection
	// Contributions of a Multibinding.
	Contributions []Contribution
	// Declared is true if a Multibinding was declared with //bind:multibinds.
	Declared bool
	// Underlying key of an Optional binding.
	Underlying *Key
	// Present is true if the Underlying key of an Optional binding is bound.
	Present bool
	// Owner is the component owning the binding, or empty if it cannot be determined yet.
	Owner string

	// Source is the function, method or constructor the binding invokes.
	Source       *types.Func
	GoType       types.Type
	ReturnsError bool
}

// IsProduction returns true for bindings that are implicitly or explicitly production scoped.
func (b *Binding) IsProduction() bool {
	return b.Kind == Production || b.Scope == ScopeProduction
}

// AllRequests returns the dependencies of the binding, its members and its contributions.
func (b *Binding) AllRequests() []Request {
	out := make([]Request, 0, len(b.Dependencies))
	out = append(out, b.Dependencies...)
	for _, member := range b.Members {
		out = append(out, member.Requests...)
	}
	for _, contribution := range b.Contributions {
		out = append(out, contribution.Dependencies...)
	}
	return out
}

// ContributionIDs returns the IDs of a multibinding's contributions in declaration order.
func (b *Binding) ContributionIDs() []string {
	out := make([]string, 0, len(b.Contributions))
	for _, contribution := range b.Contributions {
		out = append(out, contribution.ID)
	}
	return out
}

// Validate the binding's kind, scope and shape against each other.
//
// An invalid binding is unreachable after upstream validation, so callers treat a failure here as a
// programming error.
func (b *Binding) Validate() error {
	switch b.Kind {
	case Missing:
		if b.Scope.IsScoped() || b.Module != "" || len(b.AllRequests()) > 0 {
			return errors.Errorf("%s: missing binding cannot have a scope, module or dependencies", b.Key)
		}
	case Injection:
		if b.Module != "" || b.RequiresModuleInstance {
			return errors.Errorf("%s: injection binding cannot be declared by module %s", b.Key, b.Module)
		}
	case Provision, Delegate:
		if b.Module == "" {
			return errors.Errorf("%s: %s binding must be declared by a module", b.Key, b.Kind)
		}
		if b.Kind == Delegate && len(b.Dependencies) != 1 {
			return errors.Errorf("%s: delegate binding must have exactly one dependency", b.Key)
		}
	case Production:
		if b.Module == "" {
			return errors.Errorf("%s: production binding must be declared by a module", b.Key)
		}
		if b.Scope != Unscoped && b.Scope != ScopeProduction {
			return errors.Errorf("%s: production binding cannot be scoped %q", b.Key, b.Scope)
		}
	case Multibinding:
		if !b.Key.IsMultibindingShape() {
			return errors.Errorf("%s: multibinding key must be a []T or map[string]T", b.Key)
		}
		if b.Module != "" || b.RequiresModuleInstance {
			return errors.Errorf("%s: multibinding cannot be declared by module %s", b.Key, b.Module)
		}
	case Optional:
		if b.Underlying == nil {
			return errors.Errorf("%s: optional binding has no underlying key", b.Key)
		}
		if b.Present != (len(b.Dependencies) == 1) {
			return errors.Errorf("%s: optional binding presence does not match its dependencies", b.Key)
		}
	case SubcomponentCreator, Component:
		if b.Scope.IsScoped() {
			return errors.Errorf("%s: %s binding cannot be scoped", b.Key, b.Kind)
		}
	default:
		return errors.Errorf("%s: unknown binding kind %s", b.Key, b.Kind)
	}
	if len(b.Contributions) > 0 && b.Kind != Multibinding {
		return errors.Errorf("%s: only multibindings have contributions", b.Key)
	}
	if len(b.Members) > 0 && b.Kind != Injection {
		return errors.Errorf("%s: only injection bindings have member injections", b.Key)
	}
	return nil
}

func (b *Binding) String() string {
	return fmt.Sprintf("%s(%s)", b.Kind, b.Key)
}
