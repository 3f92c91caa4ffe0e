package walkforward

import "sort"

// Grid enumerates the cartesian product of parameter ranges lazily, one
// combination per Next call, so large spaces never materialize in memory.
// Iteration order is deterministic: parameter names sorted, last name
// varying fastest.
type Grid struct {
	names   []string
	values  [][]float64
	indexes []int
	done    bool
}

// NewGrid builds a grid over the given ranges. Empty ranges are dropped; a
// grid with no ranges yields exactly one empty parameter set.
func NewGrid(ranges map[string][]float64) *Grid {
	g := &Grid{}
	for name, vals := range ranges {
		if len(vals) == 0 {
			continue
		}
		g.names = append(g.names, name)
	}
	sort.Strings(g.names)
	for _, name := range g.names {
		g.values = append(g.values, ranges[name])
	}
	g.indexes = make([]int, len(g.names))
	return g
}

// Size returns the total number of combinations.
func (g *Grid) Size() int {
	n := 1
	for _, vals := range g.values {
		n *= len(vals)
	}
	return n
}

// Next returns the next combination, or false when the grid is exhausted.
// The returned map is freshly allocated and owned by the caller.
func (g *Grid) Next() (map[string]float64, bool) {
	if g.done {
		return nil, false
	}

	params := make(map[string]float64, len(g.names))
	for i, name := range g.names {
		params[name] = g.values[i][g.indexes[i]]
	}

	// Odometer increment, rightmost digit fastest.
	for i := len(g.indexes) - 1; ; i-- {
		if i < 0 {
			g.done = true
			break
		}
		g.indexes[i]++
		if g.indexes[i] < len(g.values[i]) {
			break
		}
		g.indexes[i] = 0
	}
	return params, true
}
