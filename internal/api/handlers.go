package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"minibus/internal/model"
	"minibus/internal/opt"
)

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return false
	}
	return true
}

// StationsHandler handles GET/POST /v1/stations
func (s *Server) StationsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Stations []model.StationIn `json:"stations" validate:"required,min=1,dive"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := validateBody(req); err != nil {
			s.writeError(w, r, err)
			return
		}
		in := make([]opt.Station, len(req.Stations))
		for i, st := range req.Stations {
			in[i] = st.Station()
		}
		saved, err := s.Store.UpsertStations(r.Context(), in)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"items": stationViews(saved)})
	case http.MethodGet:
		items, err := s.Store.ListStations(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": stationViews(items)})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func stationViews(in []opt.Station) []model.StationIn {
	out := make([]model.StationIn, len(in))
	for i, st := range in {
		out[i] = model.NewStationIn(st)
	}
	return out
}

// VehiclesHandler handles GET/POST /v1/vehicles
func (s *Server) VehiclesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Vehicles []model.VehicleIn `json:"vehicles" validate:"required,min=1,dive"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := validateBody(req); err != nil {
			s.writeError(w, r, err)
			return
		}
		in := make([]opt.Vehicle, len(req.Vehicles))
		for i, v := range req.Vehicles {
			in[i] = v.Vehicle()
		}
		saved, err := s.Store.UpsertVehicles(r.Context(), in)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"items": vehicleViews(saved)})
	case http.MethodGet:
		items, err := s.Store.ListVehicles(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": vehicleViews(items)})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func vehicleViews(in []opt.Vehicle) []model.VehicleIn {
	out := make([]model.VehicleIn, len(in))
	for i, v := range in {
		out[i] = model.NewVehicleIn(v)
	}
	return out
}

// ReservationsHandler handles GET/POST /v1/reservations. Stored reservations
// are planned by the next optimize call that carries no inline ones.
func (s *Server) ReservationsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Reservations []model.ReservationIn `json:"reservations" validate:"required,min=1,dive"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := validateBody(req); err != nil {
			s.writeError(w, r, err)
			return
		}
		stations, err := s.Store.ListStations(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		known := make(map[int64]bool, len(stations))
		for _, st := range stations {
			known[st.ID] = true
		}
		in := make([]opt.Reservation, len(req.Reservations))
		for i, ri := range req.Reservations {
			res, err := ri.Reservation()
			if err != nil {
				s.writeError(w, r, fmt.Errorf("reservations[%d]: %w", i, err))
				return
			}
			for _, id := range []int64{res.Pickup, res.Dropoff} {
				if !known[id] {
					s.writeError(w, r, fmt.Errorf("reservations[%d]: station %d: %w", i, id, opt.ErrUnknownStation))
					return
				}
			}
			in[i] = res
		}
		saved, err := s.Store.CreateReservations(r.Context(), in)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"items": reservationViews(saved)})
	case http.MethodGet:
		status := opt.ReservationStatus(r.URL.Query().Get("status"))
		switch status {
		case "", opt.StatusPending, opt.StatusAssigned, opt.StatusUnserved:
		default:
			writeProblem(w, http.StatusBadRequest, "Invalid status", string(status), r.URL.Path)
			return
		}
		items, err := s.Store.ListReservations(r.Context(), status)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": reservationViews(items)})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func reservationViews(in []opt.Reservation) []model.ReservationView {
	out := make([]model.ReservationView, len(in))
	for i, res := range in {
		out[i] = model.NewReservationView(res)
	}
	return out
}

// OptimizeHandler handles POST /v1/optimize
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.OptimizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validateBody(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.Planner.Plan(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// OptimizerConfigHandler returns the configured search defaults and weights
func (s *Server) OptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	o, wt := s.Config.Optimizer, s.Config.Weights
	writeJSON(w, http.StatusOK, map[string]any{
		"defaults": map[string]any{
			"populationSize":  o.PopulationSize,
			"maxGenerations":  o.MaxGenerations,
			"crossoverRate":   o.CrossoverRate,
			"mutationRate":    o.MutationRate,
			"elitismRate":     o.ElitismRate,
			"tournamentSize":  o.TournamentSize,
			"stagnationLimit": o.StagnationLimit,
			"seed":            o.Seed,
			"timeBudgetMs":    o.TimeBudget.Milliseconds(),
			"workers":         o.Workers,
		},
		"weights": map[string]any{
			"capacity":             wt.Capacity,
			"ordering":             wt.Ordering,
			"unserved":             wt.Unserved,
			"latenessPerMin":       wt.LatenessPerMin,
			"consolidation":        wt.Consolidation,
			"latenessToleranceMin": wt.LatenessToleranceMin,
			"dwellMin":             wt.DwellMin,
			"departureLeadMin":     wt.DepartureLeadMin,
			"dropoffBias":          wt.DropoffBias,
		},
		"depotStationId": s.Config.Depot.StationID,
	})
}

// SolutionByIDHandler handles GET /v1/solutions/{id} and
// POST /v1/solutions/{id}/reservations
func (s *Server) SolutionByIDHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.TrimPrefix(path, "/v1/solutions/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if parts[0] == "" || len(parts) > 2 {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
		return
	}
	id := parts[0]

	if len(parts) == 2 {
		if parts[1] != "reservations" {
			writeProblem(w, http.StatusNotFound, "Not Found", "", path)
			return
		}
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var in model.ReservationIn
		if !decodeJSON(w, r, &in) {
			return
		}
		if err := validateBody(in); err != nil {
			s.writeError(w, r, err)
			return
		}
		resp, err := s.Planner.Insert(r.Context(), id, in)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := s.Planner.Solution(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// RunMetricsHandler handles GET /v1/admin/run-metrics?runId= and, without a
// run id, lists the most recent runs.
func (s *Server) RunMetricsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	if id := q.Get("runId"); id != "" {
		m, ok := opt.GetRunMetrics(id)
		if !ok {
			writeProblem(w, http.StatusNotFound, "Not Found", "unknown run "+id, r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, m)
		return
	}
	limit := 20
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", v, r.URL.Path)
			return
		}
		limit = min(n, 500)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": opt.RecentRunMetrics(limit)})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler reports whether the store (and Redis, when used) answer.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Store unavailable", err.Error(), r.URL.Path)
		return
	}
	if p, ok := s.Broker.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Broker unavailable", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
