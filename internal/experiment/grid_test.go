package experiment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridSpec_ValuesFromList(t *testing.T) {
	vs, err := GridSpec{List: []interface{}{5, 10, 15}}.Values()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{5, 10, 15}, vs)
}

func TestGridSpec_ValuesFromRange(t *testing.T) {
	vs, err := GridSpec{Start: 5, Stop: 10, Step: 5, HasRange: true}.Values()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{5.0, 10.0}, vs)
}

func TestGridSpec_ValuesFromLogScale(t *testing.T) {
	vs, err := GridSpec{LogStart: 1, LogStop: 100, LogNum: 3, HasLogScale: true}.Values()
	require.NoError(t, err)
	require.Len(t, vs, 3)
	assert.InDelta(t, 1.0, vs[0], 1e-9)
	assert.InDelta(t, 100.0, vs[2], 1e-9)
}

func TestExpandGrid_CartesianProduct(t *testing.T) {
	grid := map[string]GridSpec{
		"fast": {List: []interface{}{5, 10}},
		"slow": {List: []interface{}{20, 30}},
	}
	combos, err := ExpandGrid(grid, 0)
	require.NoError(t, err)
	assert.Len(t, combos, 4)
}

func TestExpandGrid_RespectsMaxCombinations(t *testing.T) {
	grid := map[string]GridSpec{
		"fast": {List: []interface{}{5, 10, 15}},
		"slow": {List: []interface{}{20, 30, 40}},
	}
	combos, err := ExpandGrid(grid, 3)
	require.NoError(t, err)
	assert.Len(t, combos, 3)
}

func TestExpandGrid_EmptyGridReturnsOneEmptyCombo(t *testing.T) {
	combos, err := ExpandGrid(nil, 0)
	require.NoError(t, err)
	require.Len(t, combos, 1)
	assert.Empty(t, combos[0])
}

func TestRandomSample_DeterministicGivenSameRNGSequence(t *testing.T) {
	grid := map[string]GridSpec{"fast": {List: []interface{}{1, 2, 3, 4, 5}}}

	rng1 := deterministicRNG(42)
	rng2 := deterministicRNG(42)

	a, err := RandomSample(grid, 5, rng1)
	require.NoError(t, err)
	b, err := RandomSample(grid, 5, rng2)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}
