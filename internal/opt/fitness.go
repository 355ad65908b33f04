package opt

// Weights are the penalty multipliers of the objective. Their relative order
// (ordering > unserved > capacity > lateness > distance) is what matters.
type Weights struct {
	Capacity       float64
	Ordering       float64
	Unserved       float64
	LatenessPerMin float64
	Consolidation  float64 // subtracted once per extra pickup sharing a stop
}

// Config carries the scoring and scheduling constants of the engine.
type Config struct {
	Weights              Weights
	DwellMin             float64 // boarding/alighting time at each passenger stop
	LatenessToleranceMin float64
	DepartureLeadMin     float64 // vehicle leaves this long before its earliest pickup
	DropoffBias          float64 // distance multiplier favouring dropoffs during construction
}

func DefaultWeights() Weights {
	return Weights{
		Capacity:       10_000,
		Ordering:       100_000,
		Unserved:       50_000,
		LatenessPerMin: 500,
		Consolidation:  100,
	}
}

func DefaultConfig() Config {
	return Config{
		Weights:              DefaultWeights(),
		DwellMin:             2,
		LatenessToleranceMin: 5,
		DepartureLeadMin:     30,
		DropoffBias:          0.95,
	}
}

func (c Config) withDefaults() Config {
	if c.Weights == (Weights{}) {
		c.Weights = DefaultWeights()
	}
	if c.DropoffBias <= 0 || c.DropoffBias > 1 {
		c.DropoffBias = 0.95
	}
	if c.DwellMin < 0 {
		c.DwellMin = 0
	}
	return c
}

// Breakdown itemizes a fitness score.
type Breakdown struct {
	DistanceKm          float64
	DurationMin         float64
	CapacityViolations  int
	OrderViolations     int
	TimeViolations      int
	Unserved            int
	LatenessMin         float64
	ConsolidatedPickups int

	CapacityPenalty    float64
	OrderPenalty       float64
	UnservedPenalty    float64
	LatenessPenalty    float64
	ConsolidationBonus float64 // negative or zero
	Score              float64
}

type Evaluator struct {
	cfg Config
}

func NewEvaluator(cfg Config) *Evaluator { return &Evaluator{cfg: cfg.withDefaults()} }

// Evaluate scores s and caches per-stop, per-route and solution metrics on it.
// It only reads the shared problem, so distinct solutions may be evaluated
// concurrently.
func (e *Evaluator) Evaluate(s *Solution) (float64, Breakdown) {
	p := s.problem
	var b Breakdown
	used := 0
	for _, r := range s.OrderedRoutes() {
		e.evaluateRoute(p, r)
		if r.Used() {
			used++
		}
		b.DistanceKm += r.DistanceKm
		b.DurationMin += r.DurationMin
		b.CapacityViolations += r.CapacityViolations
		b.OrderViolations += r.OrderViolations
		b.TimeViolations += r.TimeViolations
		b.LatenessMin += r.LatenessMin
		b.ConsolidatedPickups += r.ConsolidatedPickups
	}
	for _, res := range p.Reservations {
		if _, ok := s.Assignment[res.ID]; !ok {
			b.Unserved++
		}
	}

	w := e.cfg.Weights
	b.CapacityPenalty = float64(b.CapacityViolations) * w.Capacity
	b.OrderPenalty = float64(b.OrderViolations) * w.Ordering
	b.UnservedPenalty = float64(b.Unserved) * w.Unserved
	b.LatenessPenalty = b.LatenessMin * w.LatenessPerMin
	b.ConsolidationBonus = -float64(b.ConsolidatedPickups) * w.Consolidation
	b.Score = b.DistanceKm + b.CapacityPenalty + b.OrderPenalty + b.UnservedPenalty + b.LatenessPenalty + b.ConsolidationBonus

	s.DistanceKm = b.DistanceKm
	s.DurationMin = b.DurationMin
	s.VehiclesUsed = used
	s.Violations = b.CapacityViolations + b.OrderViolations + b.TimeViolations
	s.LatenessMin = b.LatenessMin
	s.Fitness = b.Score
	s.Breakdown = b
	return b.Score, b
}

func (e *Evaluator) evaluateRoute(p *Problem, r *Route) {
	r.resetMetrics()
	if !r.Used() {
		for i := range r.Stops {
			st := &r.Stops[i]
			st.DistanceFromPrevKm, st.DurationFromPrevMin = 0, 0
			st.ArrivalMin = r.DepartureMin
			st.Onboard, st.CapacityLeft = 0, r.Capacity
		}
		return
	}

	clock := r.DepartureMin
	onboard := 0
	picked := make(map[int64]bool, len(r.Reservations))
	last := len(r.Stops) - 1
	for i := range r.Stops {
		st := &r.Stops[i]
		st.DistanceFromPrevKm, st.DurationFromPrevMin = 0, 0
		if i > 0 {
			km, min, _ := p.Matrix.Leg(r.Stops[i-1].StationID, st.StationID)
			st.DistanceFromPrevKm, st.DurationFromPrevMin = km, min
			r.DistanceKm += km
			r.DurationMin += min
			clock += min
		}
		st.ArrivalMin = clock

		for _, a := range st.dropoffs {
			if !picked[a.ReservationID] {
				r.OrderViolations++
				continue
			}
			delete(picked, a.ReservationID)
			onboard -= a.Passengers
		}
		for _, a := range st.pickups {
			onboard += a.Passengers
			picked[a.ReservationID] = true
			if onboard > r.Capacity {
				r.CapacityViolations++
			}
			if res, ok := p.Reservation(a.ReservationID); ok {
				if late := clock - res.DesiredMin; late > e.cfg.LatenessToleranceMin {
					r.LatenessMin += late
					r.TimeViolations++
				}
			}
		}
		if n := len(st.pickups); n > 1 {
			r.ConsolidatedPickups += n - 1
		}

		st.Onboard = onboard
		st.CapacityLeft = r.Capacity - onboard
		if onboard > r.PeakLoad {
			r.PeakLoad = onboard
		}
		if st.Kind == KindStop && i < last {
			clock += e.cfg.DwellMin
			r.DurationMin += e.cfg.DwellMin
		}
	}
}
