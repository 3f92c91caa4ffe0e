package walkforward

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridYieldsFullCartesianProduct(t *testing.T) {
	g := NewGrid(map[string][]float64{
		"a": {1, 2},
		"b": {10, 20, 30},
		"c": {0.1, 0.2, 0.3, 0.4},
	})
	require.Equal(t, 24, g.Size())

	seen := make(map[string]int)
	count := 0
	for {
		params, ok := g.Next()
		if !ok {
			break
		}
		count++
		require.Len(t, params, 3)
		seen[fmt.Sprintf("%v-%v-%v", params["a"], params["b"], params["c"])]++
	}

	assert.Equal(t, 24, count)
	assert.Len(t, seen, 24, "every combination distinct")
	for key, n := range seen {
		assert.Equal(t, 1, n, "combination %s yielded more than once", key)
	}
}

func TestGridEmptyRangesYieldOneEmptySet(t *testing.T) {
	g := NewGrid(nil)
	require.Equal(t, 1, g.Size())

	params, ok := g.Next()
	require.True(t, ok)
	assert.Empty(t, params)

	_, ok = g.Next()
	assert.False(t, ok)
}

func TestGridDropsEmptyRange(t *testing.T) {
	g := NewGrid(map[string][]float64{
		"a": {1, 2},
		"b": nil,
	})
	require.Equal(t, 2, g.Size())

	params, ok := g.Next()
	require.True(t, ok)
	_, hasB := params["b"]
	assert.False(t, hasB)
}

func TestGridExhaustionIsSticky(t *testing.T) {
	g := NewGrid(map[string][]float64{"a": {1}})
	_, ok := g.Next()
	require.True(t, ok)
	for i := 0; i < 3; i++ {
		_, ok = g.Next()
		assert.False(t, ok)
	}
}
