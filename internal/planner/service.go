// Package planner runs optimizations against stored data and keeps the
// resulting solutions live so reservations can be inserted afterwards.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"minibus/internal/matrix"
	"minibus/internal/metrics"
	"minibus/internal/model"
	"minibus/internal/opt"
	"minibus/internal/store"
)

const defaultMaxSessions = 64

// Service plans runs and integrates late reservations.
type Service struct {
	Store       store.Store
	Matrix      matrix.Provider
	Events      Publisher
	Params      opt.Params
	Engine      opt.Config
	Depot       int64 // default depot station; requests may override it
	MaxSessions int
	Log         logrus.FieldLogger

	mu       sync.Mutex
	sessions map[string]*session
	order    []string // session ids, oldest first
}

type session struct {
	mu       sync.Mutex
	runID    string
	solution *opt.Solution
	stored   bool // reservations came from the store
}

func (s *Service) logger() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}

func (s *Service) events() Publisher {
	if s.Events == nil {
		return nopPublisher{}
	}
	return s.Events
}

// Plan runs one optimization and returns its itinerary.
func (s *Service) Plan(ctx context.Context, req model.OptimizeRequest) (*model.OptimizeResponse, error) {
	depot := req.DepotStationID
	if depot == 0 {
		depot = s.Depot
	}
	if depot == 0 {
		return nil, &model.ValidationError{Field: "depotStationId", Reason: "required when no default depot is configured"}
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	log := s.logger().WithField("run_id", runID)

	in, fromStore, err := s.loadInput(ctx, req, depot)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	m, err := s.Matrix.Matrix(ctx, in.Stations)
	if err != nil {
		outcome := "failed"
		if errors.Is(err, matrix.ErrProviderUnavailable) {
			outcome = "matrix_unavailable"
		}
		metrics.OptimizationRuns.WithLabelValues(outcome).Inc()
		s.events().Publish(runID, Event{Type: EventRunFailed, Data: map[string]any{"runId": runID, "error": err.Error()}})
		return nil, fmt.Errorf("plan: cost matrix: %w", err)
	}
	in.Matrix = m

	params := req.Params.Apply(s.Params)
	s.events().Publish(runID, Event{Type: EventRunStarted, Data: map[string]any{
		"runId":        runID,
		"reservations": len(in.Reservations),
		"vehicles":     len(in.Vehicles),
	}})
	res, err := opt.Optimize(ctx, in, params, s.Engine, opt.Hooks{
		Logger: log,
		OnProgress: func(p opt.Progress) {
			s.events().Publish(runID, Event{Type: EventRunProgress, Data: map[string]any{
				"runId":          runID,
				"generation":     p.Generation,
				"bestFitness":    p.BestFitness,
				"generationBest": p.GenerationBest,
				"improved":       p.Improved,
			}})
		},
	})
	if err != nil {
		metrics.OptimizationRuns.WithLabelValues("failed").Inc()
		s.events().Publish(runID, Event{Type: EventRunFailed, Data: map[string]any{"runId": runID, "error": err.Error()}})
		return nil, fmt.Errorf("plan: %w", err)
	}

	for _, r := range res.Rejected {
		metrics.RejectedInputs.WithLabelValues(r.Kind).Inc()
	}
	best := res.Best
	solutionID := uuid.New().String()
	view := model.NewSolutionView(solutionID, runID, best)
	if err := s.saveSnapshot(ctx, view, best); err != nil {
		return nil, err
	}
	s.putSession(solutionID, &session{runID: runID, solution: best, stored: fromStore})

	if fromStore {
		if err := s.Store.SetReservationStatus(ctx, best.Served(), opt.StatusAssigned); err != nil {
			log.WithError(err).Warn("marking served reservations failed")
		}
		if err := s.Store.SetReservationStatus(ctx, best.Unserved(), opt.StatusUnserved); err != nil {
			log.WithError(err).Warn("marking unserved reservations failed")
		}
	}

	elapsed := time.Since(start)
	metrics.OptimizationRuns.WithLabelValues("ok").Inc()
	metrics.OptimizationDuration.Observe(elapsed.Seconds())
	metrics.OptimizationGenerations.Observe(float64(res.Generations))
	metrics.BestFitness.Set(best.Fitness)
	metrics.UnservedReservations.Set(float64(best.Breakdown.Unserved))
	opt.RecordRunMetrics(opt.RunMetrics{
		RunID:        runID,
		SolutionID:   solutionID,
		Generations:  res.Generations,
		BestFitness:  best.Fitness,
		StopReason:   res.StopReason,
		Served:       len(best.Assignment),
		Total:        len(best.Problem().Reservations),
		Rejected:     len(res.Rejected),
		Seed:         res.Seed,
		Elapsed:      elapsed,
		MatrixSource: s.Matrix.Name(),
	})
	s.events().Publish(runID, Event{Type: EventRunFinished, Data: map[string]any{
		"runId":       runID,
		"solutionId":  solutionID,
		"fitness":     best.Fitness,
		"generations": res.Generations,
		"stopReason":  string(res.StopReason),
	}})

	return &model.OptimizeResponse{
		RunID:      runID,
		SolutionID: solutionID,
		Itinerary:  view,
		Details:    model.NewRunDetails(res, s.Matrix.Name()),
	}, nil
}

// loadInput gathers stations, vehicles and reservations. The matrix covers
// every stored station so later insertions may use any of them; references
// to unknown stations are left for the engine to reject.
func (s *Service) loadInput(ctx context.Context, req model.OptimizeRequest, depot int64) (opt.Input, bool, error) {
	stations, err := s.Store.ListStations(ctx)
	if err != nil {
		return opt.Input{}, false, fmt.Errorf("plan: list stations: %w", err)
	}
	fleet, err := s.Store.ListVehicles(ctx)
	if err != nil {
		return opt.Input{}, false, fmt.Errorf("plan: list vehicles: %w", err)
	}
	vehicles, err := selectVehicles(fleet, req.VehicleIDs)
	if err != nil {
		return opt.Input{}, false, err
	}

	var res []opt.Reservation
	fromStore := len(req.Reservations) == 0
	if fromStore {
		if res, err = s.Store.ListReservations(ctx, opt.StatusPending); err != nil {
			return opt.Input{}, false, fmt.Errorf("plan: list reservations: %w", err)
		}
	} else {
		var top int64
		for _, in := range req.Reservations {
			top = max(top, in.ID)
		}
		for i, in := range req.Reservations {
			r, err := in.Reservation()
			if err != nil {
				return opt.Input{}, false, fmt.Errorf("reservations[%d]: %w", i, err)
			}
			if r.ID == 0 {
				top++
				r.ID = top
			}
			res = append(res, r)
		}
	}

	sort.Slice(stations, func(i, j int) bool { return stations[i].ID < stations[j].ID })

	return opt.Input{Stations: stations, Vehicles: vehicles, Reservations: res, Depot: depot}, fromStore, nil
}

func selectVehicles(fleet []opt.Vehicle, ids []int64) ([]opt.Vehicle, error) {
	if len(ids) == 0 {
		return fleet, nil
	}
	byID := make(map[int64]opt.Vehicle, len(fleet))
	for _, v := range fleet {
		byID[v.ID] = v
	}
	out := make([]opt.Vehicle, 0, len(ids))
	for _, id := range ids {
		v, ok := byID[id]
		if !ok {
			return nil, &model.ValidationError{Field: "vehicleIds", Reason: fmt.Sprintf("unknown vehicle %d", id)}
		}
		out = append(out, v)
	}
	return out, nil
}

// Insert adds a reservation to a live solution. The stored solution is
// only replaced when the insertion succeeds.
func (s *Service) Insert(ctx context.Context, solutionID string, in model.ReservationIn) (*model.InsertResponse, error) {
	sess, ok := s.getSession(solutionID)
	if !ok {
		return nil, fmt.Errorf("solution %s is not live: %w", solutionID, store.ErrNotFound)
	}
	r, err := in.Reservation()
	if err != nil {
		metrics.Insertions.WithLabelValues("invalid").Inc()
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	log := s.logger().WithFields(logrus.Fields{"run_id": sess.runID, "solution_id": solutionID})

	before := sess.solution
	if err := before.Problem().CheckReservation(r); err != nil {
		metrics.Insertions.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("reservation %d: %w", r.ID, err)
	}
	if sess.stored {
		created, err := s.Store.CreateReservations(ctx, []opt.Reservation{r})
		if err != nil {
			metrics.Insertions.WithLabelValues("invalid").Inc()
			return nil, fmt.Errorf("persist reservation: %w", err)
		}
		r = created[0]
	} else if r.ID == 0 {
		r.ID = nextReservationID(before.Problem())
	}

	after := before.Clone()
	ins, err := opt.NewIntegrator(s.Engine).Insert(after, r)
	if err != nil {
		metrics.Insertions.WithLabelValues("invalid").Inc()
		return nil, err
	}
	resp := &model.InsertResponse{OK: ins.OK, VehicleID: ins.VehicleID, Message: ins.Message, SolutionID: solutionID}
	status := opt.StatusAssigned
	if !ins.OK {
		status = opt.StatusUnserved
	}
	if sess.stored {
		if err := s.Store.SetReservationStatus(ctx, []int64{r.ID}, status); err != nil {
			log.WithError(err).WithField("reservation_id", r.ID).Warn("updating reservation status failed")
		}
	}
	if !ins.OK {
		metrics.Insertions.WithLabelValues("rejected").Inc()
		log.WithField("reservation_id", r.ID).Info(ins.Message)
		resp.Itinerary = model.NewSolutionView(solutionID, sess.runID, before)
		return resp, nil
	}

	sess.solution = after
	resp.Impact = model.NewImpactView(opt.Diff(before, after))
	resp.Itinerary = model.NewSolutionView(solutionID, sess.runID, after)
	if err := s.saveSnapshot(ctx, resp.Itinerary, after); err != nil {
		log.WithError(err).Warn("updating snapshot failed")
	}
	metrics.Insertions.WithLabelValues("ok").Inc()
	log.WithFields(logrus.Fields{"reservation_id": r.ID, "vehicle_id": ins.VehicleID}).Info("reservation inserted")
	s.events().Publish(sess.runID, Event{Type: EventSolutionUpdated, Data: map[string]any{
		"solutionId":    solutionID,
		"reservationId": r.ID,
		"vehicleId":     ins.VehicleID,
		"fitness":       after.Fitness,
	}})
	return resp, nil
}

// Solution renders a live solution, or the stored snapshot when the
// session is gone.
func (s *Service) Solution(ctx context.Context, id string) (json.RawMessage, error) {
	if sess, ok := s.getSession(id); ok {
		sess.mu.Lock()
		view := model.NewSolutionView(id, sess.runID, sess.solution)
		sess.mu.Unlock()
		return json.Marshal(view)
	}
	snap, err := s.Store.GetSnapshot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("solution %s: %w", id, err)
	}
	return snap.Body, nil
}

func (s *Service) saveSnapshot(ctx context.Context, view model.SolutionView, sol *opt.Solution) error {
	body, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("encode solution: %w", err)
	}
	err = s.Store.SaveSnapshot(ctx, store.Snapshot{
		ID:       view.ID,
		RunID:    view.RunID,
		Fitness:  sol.Fitness,
		Served:   len(sol.Assignment),
		Unserved: sol.Breakdown.Unserved,
		Body:     body,
	})
	if err != nil {
		return fmt.Errorf("save solution: %w", err)
	}
	return nil
}

func (s *Service) putSession(id string, sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = map[string]*session{}
	}
	limit := s.MaxSessions
	if limit <= 0 {
		limit = defaultMaxSessions
	}
	for len(s.order) >= limit {
		delete(s.sessions, s.order[0])
		s.order = s.order[1:]
	}
	s.sessions[id] = sess
	s.order = append(s.order, id)
}

func (s *Service) getSession(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func nextReservationID(p *opt.Problem) int64 {
	var top int64
	for _, r := range p.Reservations {
		top = max(top, r.ID)
	}
	return top + 1
}
