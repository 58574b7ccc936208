// Package stage models the chain of implementations of a component, from the abstract base implementation that
// only knows the component's own declarations, to the final implementation that knows every ancestor.
package stage

import (
	"fmt"

	"github.com/alecthomas/bindgraph/internal/component"
)

// Stage is one implementation of a component in its refinement chain.
type Stage struct {
	Component *component.Component
	// Depth is the number of ancestors visible to this stage.
	Depth int
	// visible components, leaf first.
	visible []*component.Component
}

// Chain returns the stages of c, ordered from the base implementation to the complete implementation.
//
// A root component has a single, complete, stage.
func Chain(c *component.Component) []*Stage {
	path := c.Path()
	out := make([]*Stage, 0, len(path))
	for depth := range path {
		visible := make([]*component.Component, 0, depth+1)
		for i := len(path) - 1; i >= len(path)-1-depth; i-- {
			visible = append(visible, path[i])
		}
		out = append(out, &Stage{Component: c, Depth: depth, visible: visible})
	}
	return out
}

// Complete returns true if every ancestor of the component is visible.
func (s *Stage) Complete() bool {
	return s.Component.Parent == nil || s.Depth == len(s.Component.Path())-1
}

// Base returns true for the abstract base implementation.
func (s *Stage) Base() bool { return s.Depth == 0 }

// Visible returns the components whose declarations are visible to the stage, leaf first.
func (s *Stage) Visible() []*component.Component { return s.visible }

// Top returns the outermost visible component.
func (s *Stage) Top() *component.Component { return s.visible[len(s.visible)-1] }

// Ancestor returns the nth visible ancestor, where 0 is the component itself, or nil.
func (s *Stage) Ancestor(n int) *component.Component {
	if n < 0 || n >= len(s.visible) {
		return nil
	}
	return s.visible[n]
}

// Name of the stage, eg. app.Child@app.Root
func (s *Stage) Name() string {
	if s.Depth == 0 {
		return s.Component.ShortName()
	}
	return fmt.Sprintf("%s@%s", s.Component.ShortName(), s.Top().ShortName())
}

func (s *Stage) String() string {
	return fmt.Sprintf("%s[%d]", s.Component.PathString(), s.Depth)
}
