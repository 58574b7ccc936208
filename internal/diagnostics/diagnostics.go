// Package diagnostics is the catalog of user-facing rule violations and a collector for them.
package diagnostics

import (
	"cmp"
	"fmt"
	"go/token"
	"slices"
	"strings"

	"github.com/alecthomas/errors"
)

// ErrNotFound is returned by [Lookup] for an ID that is not in the catalog.
var ErrNotFound = errors.New("diagnostic not found")

// ID identifies a rule violation.
type ID string

// JSR-330 violations.
const (
	MultipleInjectConstructors ID = "MULTIPLE_INJECT_CONSTRUCTORS"
	FinalInjectField           ID = "FINAL_INJECT_FIELD"
	AbstractInjectMethod       ID = "ABSTRACT_INJECT_METHOD"
	GenericInjectMethod        ID = "GENERIC_INJECT_METHOD"
	MultipleQualifiers         ID = "MULTIPLE_QUALIFIERS"
	MultipleScopes             ID = "MULTIPLE_SCOPES"
)

// Violations of restrictions imposed by the generator.
const (
	InjectOnPrivateConstructor       ID = "INJECT_ON_PRIVATE_CONSTRUCTOR"
	InjectConstructorOnInnerClass    ID = "INJECT_CONSTRUCTOR_ON_INNER_CLASS"
	InjectConstructorOnGenericClass  ID = "INJECT_CONSTRUCTOR_ON_GENERIC_CLASS"
	InjectConstructorOnAbstractClass ID = "INJECT_CONSTRUCTOR_ON_ABSTRACT_CLASS"
	PrivateInjectField               ID = "PRIVATE_INJECT_FIELD"
	PrivateInjectMethod              ID = "PRIVATE_INJECT_METHOD"
	InjectIntoPrivateClass           ID = "INJECT_INTO_PRIVATE_CLASS"
)

// Graph and declaration violations. Their messages are format templates.
const (
	DuplicateBindings        ID = "DUPLICATE_BINDINGS"
	DependencyCycle          ID = "DEPENDENCY_CYCLE"
	MissingBinding           ID = "MISSING_BINDING"
	IncompatibleScope        ID = "INCOMPATIBLE_SCOPE"
	UnknownModule            ID = "UNKNOWN_MODULE"
	UnknownSubcomponent      ID = "UNKNOWN_SUBCOMPONENT"
	ProvisionOutsideModule   ID = "PROVISION_OUTSIDE_MODULE"
	InvalidProviderSignature ID = "INVALID_PROVIDER_SIGNATURE"
	InvalidEntryPoint        ID = "INVALID_ENTRY_POINT"
	InvalidDirective         ID = "INVALID_DIRECTIVE"
	StaleBaseImplementation  ID = "STALE_BASE_IMPLEMENTATION"
)

var catalog = map[ID]string{
	MultipleInjectConstructors: "Types may only contain one @Inject constructor.",
	FinalInjectField:           "@Inject fields may not be final",
	AbstractInjectMethod:       "Methods with @Inject may not be abstract.",
	GenericInjectMethod:        "Methods with @Inject may not declare type parameters.",
	MultipleQualifiers:         "A single injection site may not use more than one @Qualifier.",
	MultipleScopes:             "A single binding may not declare more than one @Scope.",

	InjectOnPrivateConstructor:    "Dagger does not support injection into private constructors",
	InjectConstructorOnInnerClass: "@Inject constructors are invalid on inner classes",
	InjectConstructorOnGenericClass: "Generic types may not use @Inject constructors. " +
		"Use a @Provides method to bind the type parameters.",
	InjectConstructorOnAbstractClass: "@Inject is nonsense on the constructor of an abstract class",
	PrivateInjectField:               "Dagger does not support injection into private fields",
	PrivateInjectMethod:              "Dagger does not support injection into private methods",
	InjectIntoPrivateClass:           "Dagger does not support injection into private classes",

	DuplicateBindings:        "%s is bound multiple times: %s",
	DependencyCycle:          "found a dependency cycle: %s",
	MissingBinding:           "%s cannot be provided without a provider, it is required by %s",
	IncompatibleScope:        "%s is scoped %q but no component in %s declares that scope",
	UnknownModule:            "component %s installs unknown module %s",
	UnknownSubcomponent:      "component %s declares unknown subcomponent %s",
	ProvisionOutsideModule:   "%s is not declared on a //bind:module type",
	InvalidProviderSignature: "%s must return (T) or (T, error)",
	InvalidEntryPoint:        "entry point %s must take no parameters and return (T) or (T, error)",
	InvalidDirective:         "invalid directive: %s",
	StaleBaseImplementation:  "%s was fixed in the implementation of %s at depth %d recorded by run %s, but is now %s at depth %d; regenerate the base implementation",
}

// Lookup returns the message template for id.
func Lookup(id ID) (string, error) {
	msg, ok := catalog[id]
	if !ok {
		return "", errors.Errorf("%s: %w", id, ErrNotFound)
	}
	return msg, nil
}

// IDs returns every ID in the catalog in sorted order.
func IDs() []ID {
	out := make([]ID, 0, len(catalog))
	for id := range catalog {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Violation is a single reported rule violation.
type Violation struct {
	ID       ID
	Position token.Position
	Args     []any
}

// Message renders the violation's message from the catalog.
func (v Violation) Message() string {
	msg, err := Lookup(v.ID)
	if err != nil {
		panic(err)
	}
	if len(v.Args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, v.Args...)
}

func (v Violation) String() string {
	if v.Position.IsValid() {
		return fmt.Sprintf("%s: %s", v.Position, v.Message())
	}
	return v.Message()
}

// Report collects violations across a whole declaration set.
//
// A non-empty Report is an error.
type Report struct {
	violations []Violation
}

var _ error = (*Report)(nil)

// Add a violation to the report.
func (r *Report) Add(pos token.Position, id ID, args ...any) {
	if _, ok := catalog[id]; !ok {
		panic(fmt.Sprintf("unknown diagnostic %q", id))
	}
	r.violations = append(r.violations, Violation{ID: id, Position: pos, Args: args})
}

// Merge the violations of other into r.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.violations = append(r.violations, other.violations...)
}

// Len returns the number of violations.
func (r *Report) Len() int { return len(r.violations) }

// Has returns true if a violation with the given ID was reported.
func (r *Report) Has(id ID) bool {
	return slices.ContainsFunc(r.violations, func(v Violation) bool { return v.ID == id })
}

// Violations returns the violations ordered by position, then ID.
func (r *Report) Violations() []Violation {
	out := slices.Clone(r.violations)
	slices.SortStableFunc(out, func(a, b Violation) int {
		return cmp.Or(
			cmp.Compare(a.Position.Filename, b.Position.Filename),
			cmp.Compare(a.Position.Line, b.Position.Line),
			cmp.Compare(a.Position.Column, b.Position.Column),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return out
}

// Err returns the report as an error, or nil if it is empty.
func (r *Report) Err() error {
	if r == nil || len(r.violations) == 0 {
		return nil
	}
	return r
}

func (r *Report) Error() string {
	lines := make([]string, 0, len(r.violations))
	for _, v := range r.Violations() {
		lines = append(lines, v.String())
	}
	return strings.Join(lines, "\n")
}
