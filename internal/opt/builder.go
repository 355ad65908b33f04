package opt

import (
	"math"
	"math/rand"
	"sort"
)

// Builder constructs and repairs routes. It draws randomness only for
// population generation; the rng may be nil when that is not used.
type Builder struct {
	cfg Config
	rng *rand.Rand
}

func NewBuilder(cfg Config, rng *rand.Rand) *Builder {
	return &Builder{cfg: cfg.withDefaults(), rng: rng}
}

// BuildRoutes rebuilds every vehicle's route from the assignment.
func (b *Builder) BuildRoutes(s *Solution) {
	for _, v := range s.problem.Vehicles {
		b.BuildRoute(s, v.ID)
	}
}

// BuildRoute rebuilds one vehicle's route. Starting at the depot it keeps
// moving to the nearest candidate among pickups that still fit and dropoffs
// of passengers aboard. Reservations larger than the vehicle are left out of
// the route; Repair takes them off the assignment.
func (b *Builder) BuildRoute(s *Solution, vehicleID int64) {
	p := s.problem
	v, ok := p.Vehicle(vehicleID)
	if !ok {
		return
	}
	r := newRoute(v, p.Depot)
	r.Stops = r.Stops[:1]
	waiting := s.assignedTo(vehicleID)
	var onboard []Reservation
	load := 0
	pos := p.Depot

	for {
		best, bestDrop, bestCost := -1, false, math.Inf(1)
		for i, res := range onboard {
			if c := p.Matrix.Distance(pos, res.Dropoff) * b.cfg.DropoffBias; c < bestCost {
				best, bestDrop, bestCost = i, true, c
			}
		}
		for i, res := range waiting {
			if load+res.Passengers > v.Capacity {
				continue
			}
			if c := p.Matrix.Distance(pos, res.Pickup); c < bestCost {
				best, bestDrop, bestCost = i, false, c
			}
		}
		if best < 0 {
			break
		}
		if bestDrop {
			res := onboard[best]
			onboard = append(onboard[:best], onboard[best+1:]...)
			load -= res.Passengers
			r.appendAction(res.Dropoff, Action{ReservationID: res.ID, Passengers: res.Passengers}, false)
			pos = res.Dropoff
			continue
		}
		res := waiting[best]
		waiting = append(waiting[:best], waiting[best+1:]...)
		onboard = append(onboard, res)
		load += res.Passengers
		r.appendAction(res.Pickup, Action{ReservationID: res.ID, Passengers: res.Passengers}, true)
		r.Reservations = append(r.Reservations, res.ID)
		pos = res.Pickup
	}

	r.Stops = append(r.Stops, DepotStop(p.Depot))
	b.Schedule(p, r)
	s.Routes[vehicleID] = r
}

// Schedule derives the departure time from the earliest desired pickup and
// stamps an arrival time on every stop.
func (b *Builder) Schedule(p *Problem, r *Route) {
	earliest := math.Inf(1)
	for _, id := range r.Reservations {
		if res, ok := p.Reservation(id); ok && res.DesiredMin < earliest {
			earliest = res.DesiredMin
		}
	}
	r.DepartureMin = 0
	if !math.IsInf(earliest, 1) {
		r.DepartureMin = earliest - b.cfg.DepartureLeadMin
	}
	clock := r.DepartureMin
	last := len(r.Stops) - 1
	for i := range r.Stops {
		if i > 0 {
			clock += p.Matrix.Duration(r.Stops[i-1].StationID, r.Stops[i].StationID)
		}
		r.Stops[i].ArrivalMin = clock
		if r.Stops[i].Kind == KindStop && i < last {
			clock += b.cfg.DwellMin
		}
	}
}

// Repair restores pickup-before-dropoff order and vehicle capacity on every
// route. Offending reservations are taken off their vehicle and handed to the
// vehicle with the most spare capacity. It returns the reservations that
// could not be placed anywhere.
func (b *Builder) Repair(s *Solution) []int64 {
	p := s.problem
	var removed []int64
	for id, vid := range s.Assignment {
		if _, ok := p.Reservation(id); !ok {
			delete(s.Assignment, id)
		} else if _, ok := s.Routes[vid]; !ok {
			delete(s.Assignment, id)
			removed = append(removed, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })

	for _, v := range p.Vehicles {
		r, ok := s.Routes[v.ID]
		if !ok {
			r = newRoute(v, p.Depot)
			s.Routes[v.ID] = r
		}
		marked := reconcile(s, r)
		fixOrder(r, marked)
		markOverflow(r, marked)
		if len(marked) > 0 {
			r.strip(marked)
			ids := make([]int64, 0, len(marked))
			for id := range marked {
				if vid, ok := s.Assignment[id]; ok && vid == v.ID {
					delete(s.Assignment, id)
					ids = append(ids, id)
				}
			}
			sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
			removed = append(removed, ids...)
		} else {
			r.compact()
		}
		b.Schedule(p, r)
	}

	var unserved []int64
	for _, id := range removed {
		if !b.reassign(s, id) {
			unserved = append(unserved, id)
		}
	}
	return unserved
}

// reconcile aligns a route with the assignment. Reservations on the route
// that belong elsewhere are stripped; reservations assigned here but not
// fully present are returned marked for removal.
func reconcile(s *Solution, r *Route) map[int64]bool {
	pickups := make(map[int64]int)
	dropoffs := make(map[int64]int)
	for _, st := range r.Stops {
		for _, a := range st.pickups {
			pickups[a.ReservationID]++
		}
		for _, a := range st.dropoffs {
			dropoffs[a.ReservationID]++
		}
	}

	stale := make(map[int64]bool)
	for id := range pickups {
		if vid, ok := s.Assignment[id]; !ok || vid != r.VehicleID {
			stale[id] = true
		}
	}
	for id := range dropoffs {
		if vid, ok := s.Assignment[id]; !ok || vid != r.VehicleID {
			stale[id] = true
		}
	}
	r.strip(stale)

	marked := make(map[int64]bool)
	for _, res := range s.assignedTo(r.VehicleID) {
		if pickups[res.ID] != 1 || dropoffs[res.ID] != 1 {
			marked[res.ID] = true
		}
	}
	ids := r.Reservations[:0]
	for _, id := range r.Reservations {
		if !stale[id] {
			ids = append(ids, id)
		}
	}
	r.Reservations = ids
	return marked
}

// fixOrder swaps a misplaced dropoff stop with the stop holding its pickup
// when that strictly reduces ordering violations, and otherwise marks the
// reservation for removal.
func fixOrder(r *Route, marked map[int64]bool) {
	cur := orderViolations(r.Stops, marked)
	for cur > 0 {
		i, j, id := firstOrderViolation(r.Stops, marked)
		if j > i {
			r.Stops[i], r.Stops[j] = r.Stops[j], r.Stops[i]
			if n := orderViolations(r.Stops, marked); n < cur {
				cur = n
				continue
			}
			r.Stops[i], r.Stops[j] = r.Stops[j], r.Stops[i]
		}
		marked[id] = true
		cur = orderViolations(r.Stops, marked)
	}
}

func orderViolations(stops []Stop, skip map[int64]bool) int {
	seen := make(map[int64]bool)
	n := 0
	for _, st := range stops {
		for _, a := range st.dropoffs {
			if !skip[a.ReservationID] && !seen[a.ReservationID] {
				n++
			}
		}
		for _, a := range st.pickups {
			seen[a.ReservationID] = true
		}
	}
	return n
}

// firstOrderViolation returns the stop index of the first dropoff whose
// pickup has not been seen, the index of the stop holding that pickup (-1
// if none) and the reservation id.
func firstOrderViolation(stops []Stop, skip map[int64]bool) (int, int, int64) {
	seen := make(map[int64]bool)
	for i, st := range stops {
		for _, a := range st.dropoffs {
			if skip[a.ReservationID] || seen[a.ReservationID] {
				continue
			}
			for j := i; j < len(stops); j++ {
				if stops[j].hasPickup(a.ReservationID) {
					return i, j, a.ReservationID
				}
			}
			return i, -1, a.ReservationID
		}
		for _, a := range st.pickups {
			seen[a.ReservationID] = true
		}
	}
	return -1, -1, 0
}

// markOverflow marks every reservation whose pickup would push the onboard
// count above capacity.
func markOverflow(r *Route, marked map[int64]bool) {
	onboard := 0
	aboard := make(map[int64]bool)
	for _, st := range r.Stops {
		for _, a := range st.dropoffs {
			if aboard[a.ReservationID] {
				onboard -= a.Passengers
				delete(aboard, a.ReservationID)
			}
		}
		for _, a := range st.pickups {
			if marked[a.ReservationID] {
				continue
			}
			if onboard+a.Passengers > r.Capacity {
				marked[a.ReservationID] = true
				continue
			}
			onboard += a.Passengers
			aboard[a.ReservationID] = true
		}
	}
}

// reassign gives a reservation to the vehicle with the most spare capacity
// and rebuilds that vehicle's route.
func (b *Builder) reassign(s *Solution, id int64) bool {
	p := s.problem
	res, ok := p.Reservation(id)
	if !ok {
		return false
	}
	bestID, bestSpare := int64(0), -1
	for _, v := range p.Vehicles {
		spare := v.Capacity
		if r, ok := s.Routes[v.ID]; ok {
			spare -= r.loadPeak()
		}
		if spare > bestSpare {
			bestID, bestSpare = v.ID, spare
		}
	}
	if bestSpare < res.Passengers {
		return false
	}
	s.Assignment[id] = bestID
	b.BuildRoute(s, bestID)
	return true
}
