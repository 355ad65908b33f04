package matrix

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"minibus/internal/metrics"
	"minibus/internal/opt"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS matrix_cache (
	origin       TEXT NOT NULL,
	destination  TEXT NOT NULL,
	distance_km  REAL NOT NULL,
	duration_min REAL NOT NULL,
	created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (origin, destination)
);`

// OpenCache opens (creating if needed) the SQLite matrix cache at path.
func OpenCache(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open matrix cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("open matrix cache: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("open matrix cache: schema: %w", err)
	}
	return db, nil
}

// Cached serves matrices from SQLite when every station pair is known and
// otherwise asks Inner and stores its answer. Pairs are keyed by rounded
// coordinates so renumbered stations still hit.
type Cached struct {
	DB    *sql.DB
	Inner Provider
	Log   logrus.FieldLogger
}

func (c *Cached) Name() string { return c.Inner.Name() }

func (c *Cached) Matrix(ctx context.Context, stations []opt.Station) (*opt.CostMatrix, error) {
	st, err := sortStations(stations)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(st))
	for i, s := range st {
		keys[i] = coordKey(s)
	}

	dist, dur, complete, err := c.lookup(ctx, keys)
	if err != nil {
		c.logger().WithError(err).Warn("matrix cache read failed")
	} else if complete {
		metrics.MatrixFetches.WithLabelValues("cache", "hit").Inc()
		return opt.NewCostMatrix(stationIDs(st), dist, dur, opt.KilometersMinutes)
	}
	metrics.MatrixFetches.WithLabelValues("cache", "miss").Inc()

	m, err := c.Inner.Matrix(ctx, st)
	if err != nil {
		return nil, err
	}
	if err := c.store(ctx, keys, st, m); err != nil {
		c.logger().WithError(err).Warn("matrix cache write failed")
	}
	return m, nil
}

func (c *Cached) logger() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

func coordKey(s opt.Station) string { return fmt.Sprintf("%.5f,%.5f", s.Lat, s.Lng) }

func (c *Cached) lookup(ctx context.Context, keys []string) ([][]float64, [][]float64, bool, error) {
	n := len(keys)
	pos := make(map[string][]int, n)
	uniq := make([]any, 0, n)
	for i, k := range keys {
		if _, ok := pos[k]; !ok {
			uniq = append(uniq, k)
		}
		pos[k] = append(pos[k], i)
	}
	ph := strings.TrimSuffix(strings.Repeat("?,", len(uniq)), ",")

	// Only the placeholder structure is interpolated; values stay parameterized.
	q := fmt.Sprintf(`SELECT origin, destination, distance_km, duration_min FROM matrix_cache
		WHERE origin IN (%s) AND destination IN (%s)`, ph, ph)
	args := append(append([]any{}, uniq...), uniq...)
	rows, err := c.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, nil, false, fmt.Errorf("query matrix_cache: %w", err)
	}
	defer rows.Close()

	dist, dur := square(n), square(n)
	found := 0
	seen := make(map[[2]int]bool, n*n)
	for rows.Next() {
		var o, d string
		var km, min float64
		if err := rows.Scan(&o, &d, &km, &min); err != nil {
			return nil, nil, false, fmt.Errorf("scan matrix_cache: %w", err)
		}
		for _, i := range pos[o] {
			for _, j := range pos[d] {
				if !seen[[2]int{i, j}] {
					seen[[2]int{i, j}] = true
					found++
				}
				dist[i][j], dur[i][j] = km, min
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, false, fmt.Errorf("iterate matrix_cache: %w", err)
	}
	// Cells between identical coordinates are zero and never stored.
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if keys[i] == keys[j] && !seen[[2]int{i, j}] {
				seen[[2]int{i, j}] = true
				found++
			}
		}
	}
	return dist, dur, found == n*n, nil
}

func (c *Cached) store(ctx context.Context, keys []string, st []opt.Station, m *opt.CostMatrix) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store matrix cache: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO matrix_cache (origin, destination, distance_km, duration_min) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store matrix cache: prepare: %w", err)
	}
	defer stmt.Close()

	for i, a := range st {
		for j, b := range st {
			if keys[i] == keys[j] {
				continue
			}
			km, min, _ := m.Leg(a.ID, b.ID)
			if _, err := stmt.ExecContext(ctx, keys[i], keys[j], km, min); err != nil {
				return fmt.Errorf("store matrix cache %s->%s: %w", keys[i], keys[j], err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store matrix cache: commit: %w", err)
	}
	return nil
}
