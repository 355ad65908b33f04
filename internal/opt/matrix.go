package opt

import (
	"fmt"
	"math"
)

// Units is the native unit system of a raw matrix.
type Units int

const (
	MetersSeconds Units = iota
	KilometersMinutes
)

func (u Units) String() string {
	if u == MetersSeconds {
		return "m/s"
	}
	return "km/min"
}

// CostMatrix holds distances in kilometers and durations in minutes between
// stations. It is read-only after construction and safe for concurrent use.
type CostMatrix struct {
	ids   []int64
	index map[int64]int
	dist  [][]float64
	dur   [][]float64
}

// NewCostMatrix converts raw matrices into kilometers and minutes. ids gives
// the station of each row/column and must be strictly ascending.
func NewCostMatrix(ids []int64, dist, dur [][]float64, units Units) (*CostMatrix, error) {
	n := len(ids)
	if n == 0 {
		return nil, fmt.Errorf("%w: no stations", ErrIncompleteMatrix)
	}
	if len(dist) != n || len(dur) != n {
		return nil, fmt.Errorf("%w: want %d rows, got distance=%d duration=%d", ErrIncompleteMatrix, n, len(dist), len(dur))
	}
	dScale, tScale := 1.0, 1.0
	if units == MetersSeconds {
		dScale, tScale = 1.0/1000, 1.0/60
	}
	m := &CostMatrix{
		ids:   append([]int64(nil), ids...),
		index: make(map[int64]int, n),
		dist:  make([][]float64, n),
		dur:   make([][]float64, n),
	}
	for i, id := range ids {
		if i > 0 && ids[i-1] >= id {
			return nil, fmt.Errorf("%w: station ids not strictly ascending at %d", ErrIncompleteMatrix, id)
		}
		m.index[id] = i
		if len(dist[i]) != n || len(dur[i]) != n {
			return nil, fmt.Errorf("%w: row %d has %d/%d cells, want %d", ErrIncompleteMatrix, i, len(dist[i]), len(dur[i]), n)
		}
		m.dist[i] = make([]float64, n)
		m.dur[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			d, t := dist[i][j], dur[i][j]
			if !usable(d) || !usable(t) {
				return nil, fmt.Errorf("%w: cell %d->%d is %v/%v", ErrIncompleteMatrix, ids[i], ids[j], d, t)
			}
			m.dist[i][j] = d * dScale
			m.dur[i][j] = t * tScale
		}
	}
	return m, nil
}

func usable(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0 }

func (m *CostMatrix) Size() int { return len(m.ids) }

func (m *CostMatrix) IDs() []int64 { return append([]int64(nil), m.ids...) }

func (m *CostMatrix) Has(id int64) bool {
	_, ok := m.index[id]
	return ok
}

// Leg returns kilometers and minutes from station a to station b.
func (m *CostMatrix) Leg(a, b int64) (km, min float64, ok bool) {
	i, okA := m.index[a]
	j, okB := m.index[b]
	if !okA || !okB {
		return 0, 0, false
	}
	return m.dist[i][j], m.dur[i][j], true
}

// Distance returns kilometers from a to b, or 0 for unknown stations.
func (m *CostMatrix) Distance(a, b int64) float64 {
	km, _, _ := m.Leg(a, b)
	return km
}

// Duration returns minutes from a to b, or 0 for unknown stations.
func (m *CostMatrix) Duration(a, b int64) float64 {
	_, min, _ := m.Leg(a, b)
	return min
}
