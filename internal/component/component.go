// Package component models the hierarchy of components and the modules installed in them.
package component

import (
	"go/token"
	"go/types"
	"path"
	"slices"
	"strings"

	"github.com/alecthomas/errors"

	"github.com/alecthomas/bindgraph/internal/binding"
)

// Module is a //bind:module struct type.
type Module struct {
	Name     string
	Position token.Position
	Type     types.Type
	// Stateful modules have fields, so their methods require an instance of the module.
	Stateful bool
	// Bindings are the Provision, Production and Delegate bindings declared by the module.
	Bindings []*binding.Binding
	// Contributions to multibindings, keyed by the aggregate key.
	Contributions []Contribution
	// Multibinds are declared, possibly empty, multibinding keys.
	Multibinds []binding.Key
	// Optionals are keys declared with //bind:optional.
	Optionals []binding.Key
}

// Contribution of a module to the multibinding Key.
type Contribution struct {
	Key binding.Key
	binding.Contribution
}

// EntryPoint is a method of a component interface.
type EntryPoint struct {
	Name         string
	Position     token.Position
	Request      binding.Request
	ReturnsError bool
}

// Component is a //bind:component or //bind:subcomponent interface type.
//
// Subcomponents installed by several parents are instantiated once per parent, so every node in a
// hierarchy has at most one Parent.
type Component struct {
	Name         string
	Position     token.Position
	Type         types.Type
	Subcomponent bool
	Production   bool
	Scopes       []binding.Scope
	Modules      []*Module
	EntryPoints  []EntryPoint
	// Subcomponents are the names of the declared child components.
	Subcomponents []string

	Parent   *Component
	Children []*Component
}

// Key of the component interface.
func (c *Component) Key() binding.Key { return binding.Key{Type: c.Name} }

// ShortName returns the package-qualified name, eg. app.Server
func (c *Component) ShortName() string { return path.Base(c.Name) }

// Path from the root component to c.
func (c *Component) Path() []*Component {
	var out []*Component
	for n := c; n != nil; n = n.Parent {
		out = append(out, n)
	}
	slices.Reverse(out)
	return out
}

// PathString returns the path as a string, eg. app.Root/app.Child
func (c *Component) PathString() string {
	names := []string{}
	for _, n := range c.Path() {
		names = append(names, n.ShortName())
	}
	return strings.Join(names, "/")
}

// DeclaresScope returns true if the component declares scope.
func (c *Component) DeclaresScope(scope binding.Scope) bool {
	return slices.Contains(c.Scopes, scope)
}

// Walk the hierarchy depth-first, parents before children.
func (c *Component) Walk(fn func(*Component)) {
	fn(c)
	for _, child := range c.Children {
		child.Walk(fn)
	}
}

// Instantiate the hierarchy rooted at root, cloning every subcomponent once per parent.
//
// lookup returns the declared component for a name, or nil.
func Instantiate(root *Component, lookup func(name string) *Component) (*Component, error) {
	return instantiate(root, nil, lookup)
}

func instantiate(decl *Component, parent *Component, lookup func(string) *Component) (*Component, error) {
	for n := parent; n != nil; n = n.Parent {
		if n.Name == decl.Name {
			return nil, errors.Errorf("%s: %s is its own ancestor", decl.Position, decl.Name)
		}
	}
	node := *decl
	node.Parent = parent
	node.Children = nil
	for _, name := range decl.Subcomponents {
		child := lookup(name)
		if child == nil {
			return nil, errors.Errorf("%s: unknown subcomponent %s", decl.Position, name)
		}
		instance, err := instantiate(child, &node, lookup)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, instance)
	}
	return &node, nil
}
