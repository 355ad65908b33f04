// Package matrix provides cost matrices between stations: an OSRM road
// network client, a great-circle estimator, a fallback chain and a SQLite
// backed cache.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"minibus/internal/opt"
)

// ErrProviderUnavailable marks failures of an external routing backend.
var ErrProviderUnavailable = errors.New("matrix provider unavailable")

// Provider returns the cost matrix between stations, indexed by station id
// in ascending order.
type Provider interface {
	Name() string
	Matrix(ctx context.Context, stations []opt.Station) (*opt.CostMatrix, error)
}

// sortStations returns a copy of stations ordered by id, rejecting duplicates.
func sortStations(stations []opt.Station) ([]opt.Station, error) {
	if len(stations) == 0 {
		return nil, fmt.Errorf("%w: no stations", opt.ErrIncompleteMatrix)
	}
	out := append([]opt.Station(nil), stations...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	for i := 1; i < len(out); i++ {
		if out[i].ID == out[i-1].ID {
			return nil, fmt.Errorf("duplicate station %d", out[i].ID)
		}
	}
	return out, nil
}

func stationIDs(stations []opt.Station) []int64 {
	ids := make([]int64, len(stations))
	for i, s := range stations {
		ids[i] = s.ID
	}
	return ids
}

func square(n int) [][]float64 {
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	return m
}
