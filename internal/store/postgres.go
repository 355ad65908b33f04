package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"minibus/internal/opt"
)

// schema is applied by Migrate; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS stations (
		id   BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		lat  DOUBLE PRECISION NOT NULL,
		lng  DOUBLE PRECISION NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS vehicles (
		id       BIGSERIAL PRIMARY KEY,
		capacity INTEGER NOT NULL CHECK (capacity > 0),
		label    TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id          BIGSERIAL PRIMARY KEY,
		pickup      BIGINT NOT NULL REFERENCES stations(id),
		dropoff     BIGINT NOT NULL REFERENCES stations(id),
		passengers  INTEGER NOT NULL CHECK (passengers > 0),
		desired_min DOUBLE PRECISION NOT NULL,
		status      TEXT NOT NULL DEFAULT 'pending',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS reservations_status_idx ON reservations (status)`,
	`CREATE TABLE IF NOT EXISTS solution_snapshots (
		id         UUID PRIMARY KEY,
		run_id     TEXT NOT NULL,
		fitness    DOUBLE PRECISION NOT NULL,
		served     INTEGER NOT NULL,
		unserved   INTEGER NOT NULL,
		body       JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate creates missing tables and indexes.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (p *Postgres) UpsertStations(ctx context.Context, stations []opt.Station) ([]opt.Station, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	out := make([]opt.Station, 0, len(stations))
	for _, s := range stations {
		if s.ID == 0 {
			err = tx.QueryRowContext(ctx, `INSERT INTO stations (name, lat, lng) VALUES ($1,$2,$3) RETURNING id`,
				s.Name, s.Lat, s.Lng).Scan(&s.ID)
		} else {
			_, err = tx.ExecContext(ctx, `INSERT INTO stations (id, name, lat, lng) VALUES ($1,$2,$3,$4)
				ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, lat=EXCLUDED.lat, lng=EXCLUDED.lng`,
				s.ID, s.Name, s.Lat, s.Lng)
		}
		if err != nil {
			return nil, fmt.Errorf("upsert station %d: %w", s.ID, err)
		}
		out = append(out, s)
	}
	if err := bumpSequence(ctx, tx, "stations"); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Postgres) ListStations(ctx context.Context) ([]opt.Station, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, name, lat, lng FROM stations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []opt.Station{}
	for rows.Next() {
		var s opt.Station
		if err := rows.Scan(&s.ID, &s.Name, &s.Lat, &s.Lng); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertVehicles(ctx context.Context, vehicles []opt.Vehicle) ([]opt.Vehicle, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	out := make([]opt.Vehicle, 0, len(vehicles))
	for _, v := range vehicles {
		if v.ID == 0 {
			err = tx.QueryRowContext(ctx, `INSERT INTO vehicles (capacity, label) VALUES ($1,$2) RETURNING id`,
				v.Capacity, v.Label).Scan(&v.ID)
		} else {
			_, err = tx.ExecContext(ctx, `INSERT INTO vehicles (id, capacity, label) VALUES ($1,$2,$3)
				ON CONFLICT (id) DO UPDATE SET capacity=EXCLUDED.capacity, label=EXCLUDED.label`,
				v.ID, v.Capacity, v.Label)
		}
		if err != nil {
			return nil, fmt.Errorf("upsert vehicle %d: %w", v.ID, err)
		}
		out = append(out, v)
	}
	if err := bumpSequence(ctx, tx, "vehicles"); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Postgres) ListVehicles(ctx context.Context) ([]opt.Vehicle, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, capacity, label FROM vehicles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []opt.Vehicle{}
	for rows.Next() {
		var v opt.Vehicle
		if err := rows.Scan(&v.ID, &v.Capacity, &v.Label); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateReservations(ctx context.Context, res []opt.Reservation) ([]opt.Reservation, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	out := make([]opt.Reservation, 0, len(res))
	for _, r := range res {
		if r.Status == "" {
			r.Status = opt.StatusPending
		}
		if r.ID == 0 {
			err = tx.QueryRowContext(ctx, `INSERT INTO reservations (pickup, dropoff, passengers, desired_min, status)
				VALUES ($1,$2,$3,$4,$5) RETURNING id`,
				r.Pickup, r.Dropoff, r.Passengers, r.DesiredMin, string(r.Status)).Scan(&r.ID)
		} else {
			_, err = tx.ExecContext(ctx, `INSERT INTO reservations (id, pickup, dropoff, passengers, desired_min, status)
				VALUES ($1,$2,$3,$4,$5,$6)`,
				r.ID, r.Pickup, r.Dropoff, r.Passengers, r.DesiredMin, string(r.Status))
		}
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("reservation %d: %w", r.ID, ErrConflict)
			}
			return nil, fmt.Errorf("insert reservation: %w", err)
		}
		out = append(out, r)
	}
	if err := bumpSequence(ctx, tx, "reservations"); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Postgres) ListReservations(ctx context.Context, status opt.ReservationStatus) ([]opt.Reservation, error) {
	q := `SELECT id, pickup, dropoff, passengers, desired_min, status FROM reservations`
	var args []any
	if status != "" {
		q += ` WHERE status=$1`
		args = append(args, string(status))
	}
	rows, err := p.db.QueryContext(ctx, q+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []opt.Reservation{}
	for rows.Next() {
		var r opt.Reservation
		var st string
		if err := rows.Scan(&r.ID, &r.Pickup, &r.Dropoff, &r.Passengers, &r.DesiredMin, &st); err != nil {
			return nil, err
		}
		r.Status = opt.ReservationStatus(st)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) SetReservationStatus(ctx context.Context, ids []int64, status opt.ReservationStatus) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.db.ExecContext(ctx, `UPDATE reservations SET status=$1 WHERE id = ANY($2)`, string(status), ids)
	return err
}

func (p *Postgres) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO solution_snapshots (id, run_id, fitness, served, unserved, body, created_at)
		VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7)
		ON CONFLICT (id) DO UPDATE SET fitness=EXCLUDED.fitness, served=EXCLUDED.served,
			unserved=EXCLUDED.unserved, body=EXCLUDED.body`,
		snap.ID, snap.RunID, snap.Fitness, snap.Served, snap.Unserved, string(snap.Body), snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.ID, err)
	}
	return nil
}

func (p *Postgres) GetSnapshot(ctx context.Context, id string) (Snapshot, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Snapshot{}, ErrNotFound
	}
	var s Snapshot
	var body string
	err := p.db.QueryRowContext(ctx, `SELECT id::text, run_id, fitness, served, unserved, body::text, created_at
		FROM solution_snapshots WHERE id=$1`, id).
		Scan(&s.ID, &s.RunID, &s.Fitness, &s.Served, &s.Unserved, &body, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, err
	}
	s.Body = []byte(body)
	return s, nil
}

// bumpSequence moves a BIGSERIAL past explicitly inserted ids.
func bumpSequence(ctx context.Context, tx *sql.Tx, table string) error {
	q := fmt.Sprintf(`SELECT setval(pg_get_serial_sequence('%s', 'id'), GREATEST((SELECT COALESCE(MAX(id), 0) FROM %s), 1))`,
		table, table)
	if _, err := tx.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("bump %s sequence: %w", table, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "SQLSTATE 23505")
}
