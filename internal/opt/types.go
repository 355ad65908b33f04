package opt

import "sort"

type Station struct {
	ID   int64
	Name string
	Lat  float64
	Lng  float64
}

type Vehicle struct {
	ID       int64
	Capacity int
	Label    string
}

type ReservationStatus string

const (
	StatusPending  ReservationStatus = "pending"
	StatusAssigned ReservationStatus = "assigned"
	StatusUnserved ReservationStatus = "unserved"
)

// Reservation is one ride request. DesiredMin is the desired pickup time
// expressed in minutes after midnight.
type Reservation struct {
	ID         int64
	Pickup     int64
	Dropoff    int64
	Passengers int
	DesiredMin float64
	Status     ReservationStatus
}

type StopKind int

const (
	KindDepot StopKind = iota
	KindStop
)

func (k StopKind) String() string {
	if k == KindDepot {
		return "depot"
	}
	return "stop"
}

// Action is the boarding or alighting of one reservation's passengers.
type Action struct {
	ReservationID int64
	Passengers    int
}

// Stop is a visit to one station. Actions can only be attached through
// AddPickup/AddDropoff, which refuse depot stops.
type Stop struct {
	Kind      StopKind
	StationID int64

	pickups  []Action
	dropoffs []Action

	// Filled by evaluation and scheduling.
	DistanceFromPrevKm  float64
	DurationFromPrevMin float64
	ArrivalMin          float64
	Onboard             int
	CapacityLeft        int
}

func DepotStop(station int64) Stop { return Stop{Kind: KindDepot, StationID: station} }

func NewStop(station int64) Stop { return Stop{Kind: KindStop, StationID: station} }

func (s *Stop) AddPickup(a Action) bool {
	if s.Kind == KindDepot {
		return false
	}
	s.pickups = append(s.pickups, a)
	return true
}

func (s *Stop) AddDropoff(a Action) bool {
	if s.Kind == KindDepot {
		return false
	}
	s.dropoffs = append(s.dropoffs, a)
	return true
}

// Pickups returns the stop's pickups. The slice must not be modified.
func (s Stop) Pickups() []Action { return s.pickups }

// Dropoffs returns the stop's dropoffs. The slice must not be modified.
func (s Stop) Dropoffs() []Action { return s.dropoffs }

// Boarding is the number of passengers getting on at this stop.
func (s Stop) Boarding() int { return sumPassengers(s.pickups) }

// Alighting is the number of passengers getting off at this stop.
func (s Stop) Alighting() int { return sumPassengers(s.dropoffs) }

func (s Stop) hasPickup(id int64) bool  { return containsAction(s.pickups, id) }
func (s Stop) hasDropoff(id int64) bool { return containsAction(s.dropoffs, id) }
func (s Stop) empty() bool              { return len(s.pickups) == 0 && len(s.dropoffs) == 0 }

// strip removes every action whose reservation is in drop.
func (s *Stop) strip(drop map[int64]bool) {
	s.pickups = filterActions(s.pickups, drop)
	s.dropoffs = filterActions(s.dropoffs, drop)
}

func (s Stop) clone() Stop {
	out := s
	out.pickups = append([]Action(nil), s.pickups...)
	out.dropoffs = append([]Action(nil), s.dropoffs...)
	return out
}

func sumPassengers(as []Action) int {
	n := 0
	for _, a := range as {
		n += a.Passengers
	}
	return n
}

func containsAction(as []Action, id int64) bool {
	for _, a := range as {
		if a.ReservationID == id {
			return true
		}
	}
	return false
}

func filterActions(as []Action, drop map[int64]bool) []Action {
	out := as[:0]
	for _, a := range as {
		if !drop[a.ReservationID] {
			out = append(out, a)
		}
	}
	return out
}

// Route is the itinerary of one vehicle. Stops always start and end with
// a depot stop at the problem depot.
type Route struct {
	VehicleID    int64
	Capacity     int
	Stops        []Stop
	Reservations []int64
	DepartureMin float64

	DistanceKm          float64
	DurationMin         float64
	PeakLoad            int
	CapacityViolations  int
	OrderViolations     int
	TimeViolations      int
	LatenessMin         float64
	ConsolidatedPickups int
}

func newRoute(v Vehicle, depot int64) *Route {
	return &Route{
		VehicleID: v.ID,
		Capacity:  v.Capacity,
		Stops:     []Stop{DepotStop(depot), DepotStop(depot)},
	}
}

// Used reports whether the route carries anything beyond its two depot stops.
func (r *Route) Used() bool { return len(r.Stops) > 2 }

func (r *Route) Clone() *Route {
	out := *r
	out.Stops = make([]Stop, len(r.Stops))
	for i, s := range r.Stops {
		out.Stops[i] = s.clone()
	}
	out.Reservations = append([]int64(nil), r.Reservations...)
	return &out
}

func (r *Route) resetMetrics() {
	r.DistanceKm = 0
	r.DurationMin = 0
	r.PeakLoad = 0
	r.CapacityViolations = 0
	r.OrderViolations = 0
	r.TimeViolations = 0
	r.LatenessMin = 0
	r.ConsolidatedPickups = 0
}

// Violations is the sum of the route's capacity, ordering and time-window violations.
func (r *Route) Violations() int {
	return r.CapacityViolations + r.OrderViolations + r.TimeViolations
}

// visits reports whether a passenger stop at station exists on the route.
func (r *Route) visits(station int64) bool {
	return r.stopAt(station, 0) >= 0
}

// stopAt returns the index of the first passenger stop at station at or
// after index from, or -1.
func (r *Route) stopAt(station int64, from int) int {
	for i := from; i < len(r.Stops); i++ {
		if r.Stops[i].Kind == KindStop && r.Stops[i].StationID == station {
			return i
		}
	}
	return -1
}

func (r *Route) insertStop(at int, s Stop) {
	r.Stops = append(r.Stops, Stop{})
	copy(r.Stops[at+1:], r.Stops[at:])
	r.Stops[at] = s
}

// appendAction adds an action at the tail of a route under construction,
// merging into the last stop when it is at the same station.
func (r *Route) appendAction(station int64, a Action, pickup bool) {
	last := len(r.Stops) - 1
	if last < 0 || r.Stops[last].Kind != KindStop || r.Stops[last].StationID != station {
		r.Stops = append(r.Stops, NewStop(station))
		last++
	}
	if pickup {
		r.Stops[last].AddPickup(a)
	} else {
		r.Stops[last].AddDropoff(a)
	}
}

// strip removes the given reservations from the route, drops passenger
// stops left without actions and merges neighbouring stops at the same station.
func (r *Route) strip(drop map[int64]bool) {
	if len(drop) == 0 {
		return
	}
	ids := r.Reservations[:0]
	for _, id := range r.Reservations {
		if !drop[id] {
			ids = append(ids, id)
		}
	}
	r.Reservations = ids
	for i := range r.Stops {
		r.Stops[i].strip(drop)
	}
	r.compact()
}

func (r *Route) compact() {
	out := r.Stops[:0]
	for _, s := range r.Stops {
		if s.Kind == KindStop && s.empty() {
			continue
		}
		if n := len(out); n > 0 && s.Kind == KindStop && out[n-1].Kind == KindStop && out[n-1].StationID == s.StationID {
			out[n-1].dropoffs = append(out[n-1].dropoffs, s.dropoffs...)
			out[n-1].pickups = append(out[n-1].pickups, s.pickups...)
			continue
		}
		out = append(out, s)
	}
	r.Stops = out
}

// loadPeak walks the stops, dropoffs before pickups, and returns the
// highest onboard count. It does not touch cached metrics.
func (r *Route) loadPeak() int {
	onboard, peak := 0, 0
	picked := make(map[int64]bool, len(r.Reservations))
	for _, s := range r.Stops {
		for _, a := range s.dropoffs {
			if picked[a.ReservationID] {
				onboard -= a.Passengers
				delete(picked, a.ReservationID)
			}
		}
		for _, a := range s.pickups {
			onboard += a.Passengers
			picked[a.ReservationID] = true
		}
		if onboard > peak {
			peak = onboard
		}
	}
	return peak
}

// Solution is a complete assignment of reservations to vehicles plus one
// route per vehicle. Reservations missing from Assignment are unserved.
type Solution struct {
	problem *Problem

	Assignment map[int64]int64
	Routes     map[int64]*Route

	DistanceKm   float64
	DurationMin  float64
	VehiclesUsed int
	Fitness      float64
	Violations   int
	LatenessMin  float64
	Breakdown    Breakdown
}

// NewSolution returns an empty solution with a depot-only route per vehicle.
func NewSolution(p *Problem) *Solution {
	s := &Solution{
		problem:    p,
		Assignment: make(map[int64]int64, len(p.Reservations)),
		Routes:     make(map[int64]*Route, len(p.Vehicles)),
	}
	for _, v := range p.Vehicles {
		s.Routes[v.ID] = newRoute(v, p.Depot)
	}
	return s
}

func (s *Solution) Problem() *Problem { return s.problem }

// Clone deep-copies routes and the assignment map.
func (s *Solution) Clone() *Solution {
	out := *s
	out.Assignment = make(map[int64]int64, len(s.Assignment))
	for k, v := range s.Assignment {
		out.Assignment[k] = v
	}
	out.Routes = make(map[int64]*Route, len(s.Routes))
	for k, r := range s.Routes {
		out.Routes[k] = r.Clone()
	}
	return &out
}

// OrderedRoutes returns the routes in the problem's vehicle order.
func (s *Solution) OrderedRoutes() []*Route {
	out := make([]*Route, 0, len(s.problem.Vehicles))
	for _, v := range s.problem.Vehicles {
		if r, ok := s.Routes[v.ID]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Served returns the ids of assigned reservations in ascending order.
func (s *Solution) Served() []int64 {
	out := make([]int64, 0, len(s.Assignment))
	for id := range s.Assignment {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Unserved returns the ids of reservations without a vehicle, in problem order.
func (s *Solution) Unserved() []int64 {
	var out []int64
	for _, r := range s.problem.Reservations {
		if _, ok := s.Assignment[r.ID]; !ok {
			out = append(out, r.ID)
		}
	}
	return out
}

// assignedTo lists the reservations assigned to a vehicle in problem order.
func (s *Solution) assignedTo(vehicleID int64) []Reservation {
	var out []Reservation
	for _, r := range s.problem.Reservations {
		if v, ok := s.Assignment[r.ID]; ok && v == vehicleID {
			out = append(out, r)
		}
	}
	return out
}
