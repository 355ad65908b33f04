package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"minibus/internal/config"
	"minibus/internal/matrix"
	"minibus/internal/planner"
	"minibus/internal/store"
)

type Server struct {
	Store   store.Store
	Planner *planner.Service
	Broker  EventBroker
	Config  *config.Config
	Log     logrus.FieldLogger

	closers []io.Closer
}

// NewServer wires the store, event broker and matrix provider chain from
// cfg. Without a database URL data is kept in memory; without a Redis URL
// events stay in process.
func NewServer(cfg *config.Config, log logrus.FieldLogger) (*Server, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{Config: cfg, Log: log}

	if cfg.Database.URL == "" {
		s.Store = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pg)
		if cfg.Database.Migrate {
			if err := pg.Migrate(context.Background()); err != nil {
				s.Close()
				return nil, err
			}
		}
		s.Store = pg
	}

	if cfg.Redis.URL != "" {
		rb, err := NewRedisBroker(cfg.Redis.URL, log)
		if err != nil {
			log.WithError(err).Warn("redis unavailable, using in-process events")
			s.Broker = NewBroker()
		} else {
			s.closers = append(s.closers, rb)
			s.Broker = rb
		}
	} else {
		s.Broker = NewBroker()
	}

	provider, err := s.matrixProvider()
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Planner = &planner.Service{
		Store:  s.Store,
		Matrix: provider,
		Events: s.Broker,
		Params: cfg.SearchParams(),
		Engine: cfg.EngineConfig(),
		Depot:  cfg.Depot.StationID,
		Log:    log,
	}
	return s, nil
}

// matrixProvider builds OSRM (optionally behind the SQLite cache) with the
// great-circle estimate as fallback.
func (s *Server) matrixProvider() (matrix.Provider, error) {
	cfg := s.Config
	var p matrix.Provider
	if cfg.OSRM.Enabled {
		osrm := matrix.NewOSRM(cfg.OSRMClient(), s.Log)
		p = osrm
		if cfg.Cache.Path != "" {
			db, err := matrix.OpenCache(cfg.Cache.Path)
			if err != nil {
				return nil, err
			}
			s.closers = append(s.closers, db)
			p = &matrix.Cached{DB: db, Inner: osrm, Log: s.Log}
		}
	}
	if cfg.Fallback.Enabled {
		gc := matrix.GreatCircle{SpeedKph: cfg.Fallback.SpeedKph, Detour: cfg.Fallback.Detour}
		if p == nil {
			return gc, nil
		}
		return &matrix.Fallback{Primary: p, Secondary: gc, Log: s.Log}, nil
	}
	if p == nil {
		return nil, fmt.Errorf("no matrix provider enabled")
	}
	return p, nil
}

// Close releases the database, cache and Redis connections.
func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.Log.WithError(err).Warn("close failed")
		}
	}
	s.closers = nil
}

// Routes registers every endpoint on a new mux wrapped in the logging and
// metrics middleware. The metrics handler is mounted by the caller.
func (s *Server) Routes(metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()

	// Reference data
	mux.HandleFunc("/v1/stations", s.StationsHandler)
	mux.HandleFunc("/v1/vehicles", s.VehiclesHandler)
	mux.HandleFunc("/v1/reservations", s.ReservationsHandler)

	// Optimization
	mux.HandleFunc("/v1/optimize", s.OptimizeHandler)
	mux.HandleFunc("/v1/optimizer/config", s.OptimizerConfigHandler)
	mux.HandleFunc("/v1/solutions/", s.SolutionByIDHandler) // includes /reservations
	mux.HandleFunc("/v1/runs/", s.RunStreamHandler)

	// Admin
	mux.HandleFunc("/v1/admin/run-metrics", s.RunMetricsHandler)

	// Health
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.HandleFunc("/debug/info", s.DebugJSON)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	return s.logMiddleware(mux)
}
