package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"minibus/internal/opt"
)

// OSRMConfig configures the OSRM table client.
type OSRMConfig struct {
	BaseURL           string
	Profile           string
	Timeout           time.Duration
	MaxCoordinates    int     // per request; larger tables are fetched in blocks
	RequestsPerSecond float64 // 0 disables pacing
	Burst             int
	Attempts          int
	Backoff           time.Duration
}

func (c OSRMConfig) withDefaults() OSRMConfig {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:5000"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Profile == "" {
		c.Profile = "driving"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxCoordinates < 2 {
		c.MaxCoordinates = 80
	}
	if c.Burst < 1 {
		c.Burst = 1
	}
	if c.Attempts < 1 {
		c.Attempts = 4
	}
	if c.Backoff <= 0 {
		c.Backoff = 200 * time.Millisecond
	}
	return c
}

// OSRM fetches road network distances and durations from an OSRM server's
// table service. Raw values are meters and seconds.
type OSRM struct {
	cfg     OSRMConfig
	client  *http.Client
	limiter *rate.Limiter
	log     logrus.FieldLogger
}

func NewOSRM(cfg OSRMConfig, log logrus.FieldLogger) *OSRM {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logrus.StandardLogger()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &OSRM{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		log:     log.WithField("provider", "osrm"),
	}
}

func (o *OSRM) Name() string { return "osrm" }

type osrmTableResponse struct {
	Code      string       `json:"code"`
	Message   string       `json:"message"`
	Distances [][]*float64 `json:"distances"`
	Durations [][]*float64 `json:"durations"`
}

func (o *OSRM) Matrix(ctx context.Context, stations []opt.Station) (*opt.CostMatrix, error) {
	st, err := sortStations(stations)
	if err != nil {
		return nil, err
	}
	n := len(st)
	dist, dur := square(n), square(n)

	block := n
	if n > o.cfg.MaxCoordinates {
		block = o.cfg.MaxCoordinates / 2
		o.log.WithFields(logrus.Fields{"points": n, "block": block}).Info("using batched table requests")
	}
	for si := 0; si < n; si += block {
		se := min(si+block, n)
		for di := 0; di < n; di += block {
			de := min(di+block, n)
			if err := o.fetchBlock(ctx, st, si, se, di, de, block < n, dist, dur); err != nil {
				return nil, err
			}
		}
	}
	m, err := opt.NewCostMatrix(stationIDs(st), dist, dur, opt.MetersSeconds)
	if err != nil {
		return nil, fmt.Errorf("osrm table: %w: %w", ErrProviderUnavailable, err)
	}
	return m, nil
}

// fetchBlock fills dist/dur rows [si,se) and columns [di,de).
func (o *OSRM) fetchBlock(ctx context.Context, st []opt.Station, si, se, di, de int, partial bool, dist, dur [][]float64) error {
	var pts []opt.Station
	query := "annotations=distance,duration"
	if partial {
		pts = append(append(pts, st[si:se]...), st[di:de]...)
		query += "&sources=" + indexList(0, se-si) + "&destinations=" + indexList(se-si, len(pts))
	} else {
		pts = st
	}
	coords := make([]string, len(pts))
	for i, p := range pts {
		coords[i] = fmt.Sprintf("%.6f,%.6f", p.Lng, p.Lat)
	}
	endpoint := fmt.Sprintf("%s/table/v1/%s/%s?%s", o.cfg.BaseURL, o.cfg.Profile, strings.Join(coords, ";"), query)

	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := doWithRetry(ctx, o.client, o.cfg.Attempts, o.cfg.Backoff, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		o.log.WithError(err).WithField("points", len(pts)).Error("table request failed")
		return fmt.Errorf("osrm table: %w: %w", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	var body osrmTableResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("osrm table: %w: decode: %w", ErrProviderUnavailable, err)
	}
	if body.Code != "Ok" {
		return fmt.Errorf("osrm table: %w: code %q: %s", ErrProviderUnavailable, body.Code, body.Message)
	}
	rows, cols := se-si, de-di
	if len(body.Distances) != rows || len(body.Durations) != rows {
		return fmt.Errorf("osrm table: %w: %w: got %d rows, want %d", ErrProviderUnavailable, opt.ErrIncompleteMatrix, len(body.Distances), rows)
	}
	for r := 0; r < rows; r++ {
		if len(body.Distances[r]) != cols || len(body.Durations[r]) != cols {
			return fmt.Errorf("osrm table: %w: %w: row %d has wrong width", ErrProviderUnavailable, opt.ErrIncompleteMatrix, r)
		}
		for c := 0; c < cols; c++ {
			d, t := body.Distances[r][c], body.Durations[r][c]
			if d == nil || t == nil {
				return fmt.Errorf("osrm table: %w: %w: no route %d->%d", ErrProviderUnavailable, opt.ErrIncompleteMatrix, st[si+r].ID, st[di+c].ID)
			}
			dist[si+r][di+c] = *d
			dur[si+r][di+c] = *t
		}
	}
	o.log.WithFields(logrus.Fields{"rows": rows, "cols": cols}).Debug("table block fetched")
	return nil
}

func indexList(from, to int) string {
	parts := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		parts = append(parts, strconv.Itoa(i))
	}
	return strings.Join(parts, ";")
}
