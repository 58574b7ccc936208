package stage

import (
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/alecthomas/bindgraph/internal/component"
)

func TestChain(t *testing.T) {
	root := &component.Component{Name: "example.com/app.Root"}
	middle := &component.Component{Name: "example.com/app.Middle", Subcomponent: true, Parent: root}
	leaf := &component.Component{Name: "example.com/app.Leaf", Subcomponent: true, Parent: middle}
	root.Children = []*component.Component{middle}
	middle.Children = []*component.Component{leaf}

	chain := Chain(leaf)
	assert.Equal(t, 3, len(chain))

	base := chain[0]
	assert.True(t, base.Base())
	assert.False(t, base.Complete())
	assert.Equal(t, []*component.Component{leaf}, base.Visible())
	assert.Equal(t, "app.Leaf", base.Name())

	assert.Equal(t, []*component.Component{leaf, middle}, chain[1].Visible())
	assert.False(t, chain[1].Complete())
	assert.Equal(t, "app.Leaf@app.Middle", chain[1].Name())

	final := chain[2]
	assert.True(t, final.Complete())
	assert.Equal(t, []*component.Component{leaf, middle, root}, final.Visible())
	assert.Equal(t, root, final.Top())
	assert.Equal(t, middle, final.Ancestor(1))
	assert.Zero(t, final.Ancestor(3))
	assert.Equal(t, "app.Root/app.Middle/app.Leaf[2]", final.String())
}

func TestRootChain(t *testing.T) {
	root := &component.Component{Name: "example.com/app.Root"}
	chain := Chain(root)
	assert.Equal(t, 1, len(chain))
	assert.True(t, chain[0].Base())
	assert.True(t, chain[0].Complete())
}
