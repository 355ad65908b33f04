package store

import (
	"context"
	"errors"
	"time"

	"minibus/internal/opt"
)

// Store is the persistence interface used by the planner and the API server.
type Store interface {
	// Stations and vehicles are upserted by id; a zero id gets a fresh one.
	UpsertStations(ctx context.Context, stations []opt.Station) ([]opt.Station, error)
	ListStations(ctx context.Context) ([]opt.Station, error)
	UpsertVehicles(ctx context.Context, vehicles []opt.Vehicle) ([]opt.Vehicle, error)
	ListVehicles(ctx context.Context) ([]opt.Vehicle, error)

	// Reservations
	CreateReservations(ctx context.Context, res []opt.Reservation) ([]opt.Reservation, error)
	ListReservations(ctx context.Context, status opt.ReservationStatus) ([]opt.Reservation, error)
	SetReservationStatus(ctx context.Context, ids []int64, status opt.ReservationStatus) error

	// Solution snapshots
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	GetSnapshot(ctx context.Context, id string) (Snapshot, error)

	Ping(ctx context.Context) error
}

// Snapshot is a persisted itinerary. Body is the JSON rendering served by
// the API, so snapshots outlive the in-process session that produced them.
type Snapshot struct {
	ID        string
	RunID     string
	Fitness   float64
	Served    int
	Unserved  int
	Body      []byte
	CreatedAt time.Time
}

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)
