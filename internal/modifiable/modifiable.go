// Package modifiable classifies how a binding may change between the stages of a component's implementation
// chain.
//
// A binding classified [None] at a stage is fixed: its method can be emitted once and is never re-implemented.
// Every other classification marks a method that a later stage may need to re-implement, once more of the
// component's ancestors are visible.
package modifiable

import (
	"fmt"
	"slices"
	"strings"

	"github.com/alecthomas/errors"

	"github.com/alecthomas/bindgraph/internal/binding"
	"github.com/alecthomas/bindgraph/internal/stage"
)

// Type is the modifiability classification of a binding at a stage.
type Type int

const (
	// None is a binding that cannot be modified by a later stage.
	None Type = iota
	// Missing is a binding that is not satisfiable at this stage but may be by an ancestor.
	Missing
	// GeneratedInstance is a component or subcomponent creator, whose generated type is only final in the
	// complete stage.
	GeneratedInstance
	// Multibinding is a set or map that ancestors may contribute to.
	Multibinding
	// Optional is an optional wrapper whose underlying key an ancestor may bind.
	Optional
	// Injection is a //bind:inject constructor that an ancestor may replace with an explicit binding.
	Injection
	// ModuleInstance is a binding that requires an instance of a stateful module, which the complete stage
	// owns.
	ModuleInstance
	// Production is a production binding, which is always treated as modifiable.
	Production
)

var typeNames = [...]string{
	None:              "NONE",
	Missing:           "MISSING",
	GeneratedInstance: "GENERATED_INSTANCE",
	Multibinding:      "MULTIBINDING",
	Optional:          "OPTIONAL",
	Injection:         "INJECTION",
	ModuleInstance:    "MODULE_INSTANCE",
	Production:        "PRODUCTION",
}

// Types returns every classification in declaration order.
func Types() []Type {
	out := make([]Type, len(typeNames))
	for i := range typeNames {
		out[i] = Type(i)
	}
	return out
}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Type) UnmarshalText(text []byte) error {
	i := slices.Index(typeNames[:], strings.ToUpper(string(text)))
	if i < 0 {
		return errors.Errorf("unknown modifiable binding type %q", text)
	}
	*t = Type(i)
	return nil
}

// IsModifiable returns true if a method of this type may be re-implemented by a later stage.
func (t Type) IsModifiable() bool { return t != None }

// HasBaseClassImplementation returns true if a method of this type is implemented in the stage where it first
// appears, rather than left unimplemented for a later stage.
func (t Type) HasBaseClassImplementation() bool {
	switch t {
	case None, Injection, ModuleInstance, Multibinding, Optional, Production:
		return true
	default:
		return false
	}
}

// IsModifiable returns true if t is not [None].
func IsModifiable(t Type) bool { return t.IsModifiable() }

// HasBaseClassImplementation returns true if t is implemented where it first appears.
func HasBaseClassImplementation(t Type) bool { return t.HasBaseClassImplementation() }

// Classify b at stage s.
//
// Classification only depends on b and s. A binding that is malformed, or missing at a complete stage, is a
// programming error and panics: validation rejects both before classification.
func Classify(b *binding.Binding, s *stage.Stage) Type {
	if err := b.Validate(); err != nil {
		panic(err)
	}
	production := b.IsProduction()
	switch {
	case !production && (b.Kind == binding.Delegate || (b.Kind == binding.Provision && !b.RequiresModuleInstance)):
		return None

	case b.Kind == binding.Missing:
		if s.Complete() {
			panic(fmt.Sprintf("%s: %s is missing in the complete stage", s, b.Key))
		}
		return Missing

	case b.Kind == binding.SubcomponentCreator || b.Kind == binding.Component:
		return GeneratedInstance

	case b.Kind == binding.Multibinding:
		return Multibinding

	case b.Kind == binding.Optional:
		return Optional

	case !production && b.Kind == binding.Injection:
		return Injection

	case !production && b.RequiresModuleInstance:
		return ModuleInstance

	case production:
		return Production

	default:
		return None
	}
}

// Method is the record of a binding's method as classified at a stage.
type Method struct {
	Key  binding.Key
	Type Type
	Kind binding.Kind
	// Contributions are the contribution IDs of a multibinding.
	Contributions []string
	// Present is the presence of an optional wrapper.
	Present bool
	Depth   int
}

// Snapshot the method of b classified at s.
func Snapshot(b *binding.Binding, s *stage.Stage) Method {
	return Method{
		Key:           b.Key,
		Type:          Classify(b, s),
		Kind:          b.Kind,
		Contributions: b.ContributionIDs(),
		Present:       b.Present,
		Depth:         s.Depth,
	}
}

// ShouldReimplement returns true if the method previously emitted for the binding must be re-implemented at s,
// given the binding as resolved at s.
func ShouldReimplement(previous Method, current *binding.Binding, s *stage.Stage) bool {
	if s.Depth <= previous.Depth {
		return false
	}
	switch previous.Type {
	case Missing:
		return current.Kind != binding.Missing
	case GeneratedInstance, ModuleInstance, Production:
		return s.Complete()
	case Multibinding:
		return !slices.Equal(previous.Contributions, current.ContributionIDs())
	case Optional:
		return previous.Present != current.Present
	case Injection:
		return current.Kind != binding.Injection
	default:
		return false
	}
}
