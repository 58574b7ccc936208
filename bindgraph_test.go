package bindgraph

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/alecthomas/errors"
)

func TestOptional(t *testing.T) {
	some := Some(42)
	value, ok := some.Get()
	assert.True(t, ok)
	assert.Equal(t, 42, value)
	assert.True(t, some.Present())
	assert.Equal(t, "Some(42)", some.String())

	none := None[string]()
	value2, ok := none.Get()
	assert.False(t, ok)
	assert.Equal(t, "", value2)
	assert.Equal(t, "fallback", none.OrElse("fallback"))
	assert.Equal(t, "None", none.String())

	var zero Optional[int]
	assert.False(t, zero.Present())
}

func TestMemoize(t *testing.T) {
	var calls atomic.Int32
	fn := Memoize(func() (*int, error) {
		calls.Add(1)
		v := 7
		return &v, nil
	})
	wg := sync.WaitGroup{}
	results := make([]*int, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := fn()
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.True(t, v == results[0])
	}
}

func TestMemoizeRetriesErrors(t *testing.T) {
	attempts := 0
	fn := Memoize(func() (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("unavailable")
		}
		return "connected", nil
	})
	_, err := fn()
	assert.EqualError(t, err, "unavailable")
	value, err := fn()
	assert.NoError(t, err)
	assert.Equal(t, "connected", value)
	_, _ = fn()
	assert.Equal(t, 2, attempts)
}

func TestMemoizeDeferredCycle(t *testing.T) {
	type node struct {
		name string
		peer func() *node
	}
	var getA, getB func() (*node, error)
	deferred := func(get func() (*node, error)) func() *node {
		return func() *node {
			v, err := get()
			if err != nil {
				panic(err)
			}
			return v
		}
	}
	getA = Memoize(func() (*node, error) { return &node{name: "a", peer: deferred(getB)}, nil })
	getB = Memoize(func() (*node, error) { return &node{name: "b", peer: deferred(getA)}, nil })

	a, err := getA()
	assert.NoError(t, err)
	b := a.peer()
	assert.Equal(t, "b", b.name)
	assert.True(t, b.peer() == a)
}

func TestScoped(t *testing.T) {
	scope := NewScope()
	calls := 0
	construct := func() (*int, error) {
		calls++
		v := calls
		return &v, nil
	}
	first, err := Scoped(scope, "*app.DB", construct)
	assert.NoError(t, err)
	second, err := Scoped(scope, "*app.DB", construct)
	assert.NoError(t, err)
	assert.True(t, first == second)

	other, err := Scoped(NewScope(), "*app.DB", construct)
	assert.NoError(t, err)
	assert.False(t, first == other)
	assert.Equal(t, 2, calls)

	// Scoped bindings can depend on other bindings in the same scope.
	outer, err := Scoped(scope, "app.Outer", func() (string, error) {
		inner, err := Scoped(scope, "app.Inner", func() (string, error) { return "inner", nil })
		return "outer(" + inner + ")", err
	})
	assert.NoError(t, err)
	assert.Equal(t, "outer(inner)", outer)

	_, err = Scoped(scope, "app.Failing", func() (int, error) { return 0, errors.New("failed") })
	assert.Error(t, err)
	value, err := Scoped(scope, "app.Failing", func() (int, error) { return 3, nil })
	assert.NoError(t, err)
	assert.Equal(t, 3, value)
}
