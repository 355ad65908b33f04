package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"minibus/internal/opt"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu           sync.Mutex
	stations     map[int64]opt.Station
	vehicles     map[int64]opt.Vehicle
	reservations map[int64]opt.Reservation
	snapshots    map[string]Snapshot
	nextStation  int64
	nextVehicle  int64
	nextRes      int64
}

func NewMemory() *Memory {
	return &Memory{
		stations:     map[int64]opt.Station{},
		vehicles:     map[int64]opt.Vehicle{},
		reservations: map[int64]opt.Reservation{},
		snapshots:    map[string]Snapshot{},
	}
}

func (m *Memory) UpsertStations(ctx context.Context, stations []opt.Station) ([]opt.Station, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]opt.Station, 0, len(stations))
	for _, s := range stations {
		if s.ID == 0 {
			s.ID = nextID(&m.nextStation, m.stations)
		}
		m.nextStation = max(m.nextStation, s.ID)
		m.stations[s.ID] = s
		out = append(out, s)
	}
	return out, nil
}

func (m *Memory) ListStations(ctx context.Context) ([]opt.Station, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedValues(m.stations, func(s opt.Station) int64 { return s.ID }), nil
}

func (m *Memory) UpsertVehicles(ctx context.Context, vehicles []opt.Vehicle) ([]opt.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]opt.Vehicle, 0, len(vehicles))
	for _, v := range vehicles {
		if v.ID == 0 {
			v.ID = nextID(&m.nextVehicle, m.vehicles)
		}
		m.nextVehicle = max(m.nextVehicle, v.ID)
		m.vehicles[v.ID] = v
		out = append(out, v)
	}
	return out, nil
}

func (m *Memory) ListVehicles(ctx context.Context) ([]opt.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedValues(m.vehicles, func(v opt.Vehicle) int64 { return v.ID }), nil
}

// CreateReservations is all or nothing: an explicit id that already exists
// fails the whole batch with ErrConflict.
func (m *Memory) CreateReservations(ctx context.Context, res []opt.Reservation) ([]opt.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[int64]bool{}
	for _, r := range res {
		if r.ID == 0 {
			continue
		}
		if _, ok := m.reservations[r.ID]; ok || seen[r.ID] {
			return nil, fmt.Errorf("reservation %d: %w", r.ID, ErrConflict)
		}
		seen[r.ID] = true
	}
	out := make([]opt.Reservation, 0, len(res))
	for _, r := range res {
		if r.ID == 0 {
			r.ID = nextID(&m.nextRes, m.reservations)
			for seen[r.ID] {
				r.ID = nextID(&m.nextRes, m.reservations)
			}
		}
		m.nextRes = max(m.nextRes, r.ID)
		if r.Status == "" {
			r.Status = opt.StatusPending
		}
		m.reservations[r.ID] = r
		out = append(out, r)
	}
	return out, nil
}

func (m *Memory) ListReservations(ctx context.Context, status opt.ReservationStatus) ([]opt.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := sortedValues(m.reservations, func(r opt.Reservation) int64 { return r.ID })
	if status == "" {
		return all, nil
	}
	out := all[:0]
	for _, r := range all {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) SetReservationStatus(ctx context.Context, ids []int64, status opt.ReservationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		r, ok := m.reservations[id]
		if !ok {
			continue
		}
		r.Status = status
		m.reservations[id] = r
	}
	return nil
}

func (m *Memory) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	snap.Body = append([]byte(nil), snap.Body...)
	m.snapshots[snap.ID] = snap
	return nil
}

func (m *Memory) GetSnapshot(ctx context.Context, id string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func nextID[T any](counter *int64, taken map[int64]T) int64 {
	for {
		*counter++
		if _, ok := taken[*counter]; !ok {
			return *counter
		}
	}
}

func sortedValues[T any](m map[int64]T, id func(T) int64) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return id(out[i]) < id(out[j]) })
	return out
}
