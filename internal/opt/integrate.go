package opt

import "fmt"

// Insertion is the outcome of adding one reservation to a finished solution.
type Insertion struct {
	OK        bool
	VehicleID int64
	Message   string
}

// Integrator places new reservations into an existing solution without
// rebuilding unrelated routes.
type Integrator struct {
	builder *Builder
	eval    *Evaluator
}

func NewIntegrator(cfg Config) *Integrator {
	return &Integrator{builder: NewBuilder(cfg, nil), eval: NewEvaluator(cfg)}
}

// Insert adds r to s. Malformed reservations (unknown stations, duplicate id,
// bad passenger count) are returned as errors. A reservation no vehicle can
// carry yields an unsuccessful Insertion and leaves s untouched. On success
// the whole solution is re-evaluated.
func (in *Integrator) Insert(s *Solution, r Reservation) (Insertion, error) {
	np, err := s.problem.withReservation(r)
	if err != nil {
		return Insertion{}, fmt.Errorf("insert: %w", err)
	}

	rt := in.compatibleRoute(s, r)
	if rt == nil {
		rt = in.leastLoadedRoute(s)
		if rt == nil {
			return Insertion{Message: "no vehicle available"}, nil
		}
		if spare := rt.Capacity - rt.loadPeak(); spare < r.Passengers {
			return Insertion{
				VehicleID: rt.VehicleID,
				Message:   fmt.Sprintf("insufficient capacity: vehicle %d has %d free seats, reservation %d needs %d", rt.VehicleID, spare, r.ID, r.Passengers),
			}, nil
		}
	}

	pickup := Action{ReservationID: r.ID, Passengers: r.Passengers}
	pi := rt.stopAt(r.Pickup, 1)
	if pi < 0 {
		pi = insertPosition(rt, r.DesiredMin)
		rt.insertStop(pi, NewStop(r.Pickup))
	}
	rt.Stops[pi].AddPickup(pickup)

	di := rt.stopAt(r.Dropoff, pi+1)
	if di < 0 {
		di = len(rt.Stops) - 1
		rt.insertStop(di, NewStop(r.Dropoff))
	}
	rt.Stops[di].AddDropoff(pickup)

	rt.Reservations = append(rt.Reservations, r.ID)
	s.Assignment[r.ID] = rt.VehicleID
	s.problem = np
	in.builder.Schedule(np, rt)
	in.eval.Evaluate(s)
	return Insertion{OK: true, VehicleID: rt.VehicleID, Message: fmt.Sprintf("reservation %d assigned to vehicle %d", r.ID, rt.VehicleID)}, nil
}

// compatibleRoute returns the first route already stopping at the pickup
// station with enough spare seats over its whole length.
func (in *Integrator) compatibleRoute(s *Solution, r Reservation) *Route {
	for _, rt := range s.OrderedRoutes() {
		if rt.visits(r.Pickup) && rt.Capacity-rt.loadPeak() >= r.Passengers {
			return rt
		}
	}
	return nil
}

func (in *Integrator) leastLoadedRoute(s *Solution) *Route {
	var best *Route
	bestPeak := 0
	for _, rt := range s.OrderedRoutes() {
		if peak := rt.loadPeak(); best == nil || peak < bestPeak {
			best, bestPeak = rt, peak
		}
	}
	return best
}

// insertPosition is the index after the last intermediate stop scheduled
// no later than desired.
func insertPosition(rt *Route, desired float64) int {
	pos := 1
	for i := 1; i < len(rt.Stops)-1; i++ {
		if rt.Stops[i].ArrivalMin <= desired {
			pos = i + 1
		}
	}
	return pos
}

// Impact is the change between two evaluated solutions, after minus before.
type Impact struct {
	DistanceKm    float64
	DurationMin   float64
	Violations    int
	Fitness       float64
	LatenessMin   float64
	FitnessBefore float64
	FitnessAfter  float64
}

func Diff(before, after *Solution) Impact {
	return Impact{
		DistanceKm:    after.DistanceKm - before.DistanceKm,
		DurationMin:   after.DurationMin - before.DurationMin,
		Violations:    after.Violations - before.Violations,
		Fitness:       after.Fitness - before.Fitness,
		LatenessMin:   after.LatenessMin - before.LatenessMin,
		FitnessBefore: before.Fitness,
		FitnessAfter:  after.Fitness,
	}
}
