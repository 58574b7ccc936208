// Package directiveparser implements a parser for bindgraph's //bind: compiler directives.
package directiveparser

import (
	"strconv"
	"strings"

	"github.com/alecthomas/errors"
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var (
	annotationParser = participle.MustBuild[annotation](
		participle.Lexer(directiveLexer),
		participle.Union[Directive](
			&DirectiveInject{}, &DirectiveModule{}, &DirectiveProvides{}, &DirectiveProduces{},
			&DirectiveBinds{}, &DirectiveOptional{}, &DirectiveMultibinds{}, &DirectiveComponent{},
		),
		participle.Elide("Whitespace"),
		participle.Unquote("String"),
	)
	directiveLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Ref", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)+`},
		{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
		{Name: "String", Pattern: `"(\\.|[^"])*"`},
		{Name: "Punct", Pattern: `[=,:]`},
		{Name: "Whitespace", Pattern: `\s+`},
	})
)

type annotation struct {
	Directive Directive `parser:"'bind' ':' @@"`
}

type Directive interface {
	directive()
	// Validate the directive.
	Validate() error
	String() string
}

// Multibinding targets of a contribution.
const (
	IntoSet = "set"
	IntoMap = "map"
)

// DirectiveInject marks a constructor function, or a field or method of an injected struct.
//
// Repeated scopes and qualifiers are accepted by the grammar and rejected during validation of the declaration.
type DirectiveInject struct {
	Scopes     []string `parser:"'inject' ( 'scope' '=' @Ident"`
	Qualifiers []string `parser:"         | 'qualifier' '=' @String )*"`
}

func (d *DirectiveInject) directive()      {}
func (d *DirectiveInject) Validate() error { return nil }
func (d *DirectiveInject) Scope() string   { return first(d.Scopes) }
func (d *DirectiveInject) Qualifier() string {
	return first(d.Qualifiers)
}
func (d *DirectiveInject) String() string {
	return "bind:inject" + options(d.Scopes, d.Qualifiers, "", "")
}

type DirectiveModule struct {
	Module bool `parser:"@'module'"`
}

func (d *DirectiveModule) directive()      {}
func (d *DirectiveModule) Validate() error { return nil }
func (d *DirectiveModule) String() string  { return "bind:module" }

// DirectiveProvides marks a module method providing a binding, or contributing to a multibinding.
type DirectiveProvides struct {
	Scopes     []string `parser:"'provides' ( 'scope' '=' @Ident"`
	Qualifiers []string `parser:"           | 'qualifier' '=' @String"`
	Into       string   `parser:"           | 'into' '=' @('set' | 'map')"`
	Key        string   `parser:"           | 'key' '=' @String )*"`
}

func (d *DirectiveProvides) directive()        {}
func (d *DirectiveProvides) Validate() error   { return validateInto(d.Into, d.Key) }
func (d *DirectiveProvides) Scope() string     { return first(d.Scopes) }
func (d *DirectiveProvides) Qualifier() string { return first(d.Qualifiers) }
func (d *DirectiveProvides) String() string {
	return "bind:provides" + options(d.Scopes, d.Qualifiers, d.Into, d.Key)
}

// DirectiveProduces marks a module method producing a binding in a production component.
type DirectiveProduces struct {
	Qualifiers []string `parser:"'produces' ( 'qualifier' '=' @String"`
	Into       string   `parser:"           | 'into' '=' @('set' | 'map')"`
	Key        string   `parser:"           | 'key' '=' @String )*"`
}

func (d *DirectiveProduces) directive()        {}
func (d *DirectiveProduces) Validate() error   { return validateInto(d.Into, d.Key) }
func (d *DirectiveProduces) Qualifier() string { return first(d.Qualifiers) }
func (d *DirectiveProduces) String() string {
	return "bind:produces" + options(nil, d.Qualifiers, d.Into, d.Key)
}

// DirectiveBinds marks a module method delegating its result type to its single parameter.
type DirectiveBinds struct {
	Qualifiers []string `parser:"'binds' ( 'qualifier' '=' @String )*"`
}

func (d *DirectiveBinds) directive()        {}
func (d *DirectiveBinds) Validate() error   { return nil }
func (d *DirectiveBinds) Qualifier() string { return first(d.Qualifiers) }
func (d *DirectiveBinds) String() string {
	return "bind:binds" + options(nil, d.Qualifiers, "", "")
}

// DirectiveOptional marks a module method declaring that its result type may be requested as an Optional.
type DirectiveOptional struct {
	Qualifiers []string `parser:"'optional' ( 'qualifier' '=' @String )*"`
}

func (d *DirectiveOptional) directive()        {}
func (d *DirectiveOptional) Validate() error   { return nil }
func (d *DirectiveOptional) Qualifier() string { return first(d.Qualifiers) }
func (d *DirectiveOptional) String() string {
	return "bind:optional" + options(nil, d.Qualifiers, "", "")
}

// DirectiveMultibinds marks a module method declaring a possibly empty multibinding.
type DirectiveMultibinds struct {
	Qualifiers []string `parser:"'multibinds' ( 'qualifier' '=' @String )*"`
}

func (d *DirectiveMultibinds) directive()        {}
func (d *DirectiveMultibinds) Validate() error   { return nil }
func (d *DirectiveMultibinds) Qualifier() string { return first(d.Qualifiers) }
func (d *DirectiveMultibinds) String() string {
	return "bind:multibinds" + options(nil, d.Qualifiers, "", "")
}

// DirectiveComponent marks an interface type as a root component or a subcomponent.
//
// Modules and subcomponents are referenced by type name, optionally qualified by an imported package name.
type DirectiveComponent struct {
	Subcomponent  bool     `parser:"( @'subcomponent' | 'component' )"`
	Modules       []string `parser:"( 'modules' '=' @(Ref | Ident) (',' @(Ref | Ident))*"`
	Subcomponents []string `parser:"| 'subcomponents' '=' @(Ref | Ident) (',' @(Ref | Ident))*"`
	Scopes        []string `parser:"| 'scopes' '=' @Ident (',' @Ident)*"`
	Production    bool     `parser:"| @'production' )*"`
}

func (d *DirectiveComponent) directive() {}
func (d *DirectiveComponent) Validate() error {
	for _, scope := range d.Scopes {
		if scope == "reusable" || scope == "production" {
			return errors.Errorf("scope %q cannot be declared by a component", scope)
		}
	}
	return nil
}
func (d *DirectiveComponent) String() string {
	out := "bind:component"
	if d.Subcomponent {
		out = "bind:subcomponent"
	}
	if len(d.Modules) > 0 {
		out += " modules=" + strings.Join(d.Modules, ",")
	}
	if len(d.Subcomponents) > 0 {
		out += " subcomponents=" + strings.Join(d.Subcomponents, ",")
	}
	if len(d.Scopes) > 0 {
		out += " scopes=" + strings.Join(d.Scopes, ",")
	}
	if d.Production {
		out += " production"
	}
	return out
}

// Parse a bindgraph compiler directive, eg. "bind:provides scope=singleton".
func Parse(directive string) (Directive, error) {
	if directive == "" {
		return nil, errors.Errorf("empty directive")
	}
	result, err := annotationParser.ParseString("", directive)
	if err != nil {
		return nil, errors.Errorf("failed to parse directive: %w", err)
	}
	if err := result.Directive.Validate(); err != nil {
		return nil, errors.WithStack(err)
	}
	return result.Directive, nil
}

func validateInto(into, key string) error {
	switch {
	case into == IntoMap && key == "":
		return errors.Errorf("into=map requires a key")
	case into != IntoMap && key != "":
		return errors.Errorf("key is only valid with into=map")
	}
	return nil
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func options(scopes, qualifiers []string, into, key string) string {
	out := ""
	for _, scope := range scopes {
		out += " scope=" + scope
	}
	for _, qualifier := range qualifiers {
		out += " qualifier=" + strconv.Quote(qualifier)
	}
	if into != "" {
		out += " into=" + into
	}
	if key != "" {
		out += " key=" + strconv.Quote(key)
	}
	return out
}
