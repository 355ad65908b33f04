package opt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCostMatrix_NormalizesMetersSeconds(t *testing.T) {
	ids := []int64{3, 7}
	dist := [][]float64{{0, 5000}, {4200, 0}}
	dur := [][]float64{{0, 600}, {540, 0}}

	m, err := NewCostMatrix(ids, dist, dur, MetersSeconds)
	require.NoError(t, err)

	km, min, ok := m.Leg(3, 7)
	require.True(t, ok)
	assert.InDelta(t, 5.0, km, 1e-9)
	assert.InDelta(t, 10.0, min, 1e-9)
	assert.InDelta(t, 4.2, m.Distance(7, 3), 1e-9)
	assert.InDelta(t, 9.0, m.Duration(7, 3), 1e-9)
}

func TestNewCostMatrix_KeepsKilometersMinutes(t *testing.T) {
	m, err := NewCostMatrix([]int64{1, 2}, [][]float64{{0, 5}, {5, 0}}, [][]float64{{0, 12}, {12, 0}}, KilometersMinutes)
	require.NoError(t, err)
	assert.Equal(t, 5.0, m.Distance(1, 2))
	assert.Equal(t, 12.0, m.Duration(2, 1))
	assert.Equal(t, []int64{1, 2}, m.IDs())
	assert.Equal(t, 2, m.Size())
}

func TestNewCostMatrix_Rejects(t *testing.T) {
	ok := [][]float64{{0, 1}, {1, 0}}
	tests := []struct {
		name string
		ids  []int64
		dist [][]float64
		dur  [][]float64
	}{
		{"empty", nil, nil, nil},
		{"unsorted ids", []int64{2, 1}, ok, ok},
		{"duplicate ids", []int64{1, 1}, ok, ok},
		{"short row", []int64{1, 2}, [][]float64{{0, 1}, {1}}, ok},
		{"missing rows", []int64{1, 2}, ok[:1], ok},
		{"nan cell", []int64{1, 2}, [][]float64{{0, math.NaN()}, {1, 0}}, ok},
		{"negative cell", []int64{1, 2}, ok, [][]float64{{0, -1}, {1, 0}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCostMatrix(tc.ids, tc.dist, tc.dur, KilometersMinutes)
			assert.ErrorIs(t, err, ErrIncompleteMatrix)
		})
	}
}

func TestCostMatrix_UnknownStation(t *testing.T) {
	_, m := line(t, 0, 1)
	_, _, ok := m.Leg(1, 99)
	assert.False(t, ok)
	assert.False(t, m.Has(99))
	assert.Zero(t, m.Distance(99, 1))
}
