package opt

import (
	"math"
	"math/rand"
	"sort"
)

// Mutation identifies the variant applied by Mutate.
type Mutation int

const (
	MutationNone Mutation = iota
	MutationSwap
	MutationReassign
	MutationCompatible
	MutationReverse
	MutationResort
)

func (m Mutation) String() string {
	switch m {
	case MutationSwap:
		return "swap"
	case MutationReassign:
		return "reassign"
	case MutationCompatible:
		return "reassign_compatible"
	case MutationReverse:
		return "reverse"
	case MutationResort:
		return "resort"
	}
	return "none"
}

// Operators are the genetic operators of the search. They share the
// builder's random source.
type Operators struct {
	b   *Builder
	rng *rand.Rand
}

func NewOperators(b *Builder, rng *rand.Rand) *Operators {
	return &Operators{b: b, rng: rng}
}

// Tournament samples k individuals without replacement and returns a clone
// of the one with the lowest score.
func (o *Operators) Tournament(pop []*Solution, scores []float64, k int) *Solution {
	if k > len(pop) {
		k = len(pop)
	}
	if k < 1 {
		k = 1
	}
	picks := o.rng.Perm(len(pop))[:k]
	best := picks[0]
	for _, i := range picks[1:] {
		if scores[i] < scores[best] {
			best = i
		}
	}
	return pop[best].Clone()
}

// Crossover exchanges vehicle assignments over a window of the reservation
// order. With probability 1-rate the children are plain clones.
func (o *Operators) Crossover(p1, p2 *Solution, rate float64) (*Solution, *Solution) {
	a, b := p1.Clone(), p2.Clone()
	res := p1.problem.Reservations
	if len(res) < 2 || o.rng.Float64() >= rate {
		return a, b
	}
	i, j := o.rng.Intn(len(res)), o.rng.Intn(len(res))
	if i > j {
		i, j = j, i
	}
	j++
	for k, r := range res {
		fromA, fromB := p2, p1
		if k >= i && k < j {
			fromA, fromB = p1, p2
		}
		inherit(a, fromA, r.ID)
		inherit(b, fromB, r.ID)
	}
	o.b.BuildRoutes(a)
	o.b.Repair(a)
	o.b.BuildRoutes(b)
	o.b.Repair(b)
	return a, b
}

func inherit(child, parent *Solution, id int64) {
	if v, ok := parent.Assignment[id]; ok {
		child.Assignment[id] = v
		return
	}
	delete(child.Assignment, id)
}

// Mutate applies one randomly chosen variant with probability rate and
// reports which one took effect.
func (o *Operators) Mutate(s *Solution, rate float64) Mutation {
	if o.rng.Float64() >= rate {
		return MutationNone
	}
	m := Mutation(1 + o.rng.Intn(5))
	var ok bool
	switch m {
	case MutationSwap:
		ok = o.swap(s)
	case MutationReassign:
		ok = o.reassign(s)
	case MutationCompatible:
		ok = o.reassignCompatible(s)
	case MutationReverse:
		ok = o.reverse(s)
	case MutationResort:
		ok = o.resort(s)
	}
	if !ok {
		return MutationNone
	}
	return m
}

func (o *Operators) swap(s *Solution) bool {
	var assigned []int64
	for _, r := range s.problem.Reservations {
		if _, ok := s.Assignment[r.ID]; ok {
			assigned = append(assigned, r.ID)
		}
	}
	if len(assigned) < 2 {
		return false
	}
	a := assigned[o.rng.Intn(len(assigned))]
	var others []int64
	for _, id := range assigned {
		if s.Assignment[id] != s.Assignment[a] {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return false
	}
	b := others[o.rng.Intn(len(others))]
	va, vb := s.Assignment[a], s.Assignment[b]
	s.Assignment[a], s.Assignment[b] = vb, va
	o.rebuild(s, va, vb)
	return true
}

func (o *Operators) reassign(s *Solution) bool {
	p := s.problem
	r := p.Reservations[o.rng.Intn(len(p.Reservations))]
	cur, assigned := s.Assignment[r.ID]
	var targets []int64
	for _, v := range p.Vehicles {
		if !assigned || v.ID != cur {
			targets = append(targets, v.ID)
		}
	}
	if len(targets) == 0 {
		return false
	}
	to := targets[o.rng.Intn(len(targets))]
	s.Assignment[r.ID] = to
	if assigned {
		o.rebuild(s, cur, to)
	} else {
		o.rebuild(s, to)
	}
	return true
}

func (o *Operators) reassignCompatible(s *Solution) bool {
	p := s.problem
	r := p.Reservations[o.rng.Intn(len(p.Reservations))]
	cur, assigned := s.Assignment[r.ID]
	var targets []int64
	for _, rt := range s.OrderedRoutes() {
		if assigned && rt.VehicleID == cur {
			continue
		}
		if rt.visits(r.Pickup) {
			targets = append(targets, rt.VehicleID)
		}
	}
	if len(targets) == 0 {
		return false
	}
	to := targets[o.rng.Intn(len(targets))]
	s.Assignment[r.ID] = to
	if assigned {
		o.rebuild(s, cur, to)
	} else {
		o.rebuild(s, to)
	}
	return true
}

// rebuild reconstructs the given vehicles' routes and repairs the solution.
func (o *Operators) rebuild(s *Solution, vehicles ...int64) {
	for _, v := range vehicles {
		o.b.BuildRoute(s, v)
	}
	o.b.Repair(s)
}

// sequenceCandidates lists routes with at least two passenger stops.
func sequenceCandidates(s *Solution) []*Route {
	var out []*Route
	for _, r := range s.OrderedRoutes() {
		if len(r.Stops) >= 4 {
			out = append(out, r)
		}
	}
	return out
}

func (o *Operators) reverse(s *Solution) bool {
	cands := sequenceCandidates(s)
	if len(cands) == 0 {
		return false
	}
	r := cands[o.rng.Intn(len(cands))]
	inner := len(r.Stops) - 2
	i := 1 + o.rng.Intn(inner)
	k := 1 + o.rng.Intn(inner)
	if i == k {
		return false
	}
	if i > k {
		i, k = k, i
	}
	reverseStops(r.Stops, i, k)
	o.b.Repair(s)
	return true
}

// reverseStops reverses stops[i..k] in place.
func reverseStops(stops []Stop, i, k int) {
	for i < k {
		stops[i], stops[k] = stops[k], stops[i]
		i++
		k--
	}
}

func (o *Operators) resort(s *Solution) bool {
	cands := sequenceCandidates(s)
	if len(cands) == 0 {
		return false
	}
	r := cands[o.rng.Intn(len(cands))]
	p := s.problem
	key := func(st Stop) float64 {
		earliest := math.Inf(1)
		for _, as := range [][]Action{st.pickups, st.dropoffs} {
			for _, a := range as {
				if res, ok := p.Reservation(a.ReservationID); ok && res.DesiredMin < earliest {
					earliest = res.DesiredMin
				}
			}
		}
		return earliest
	}
	inner := r.Stops[1 : len(r.Stops)-1]
	sort.SliceStable(inner, func(i, j int) bool { return key(inner[i]) < key(inner[j]) })
	o.b.Repair(s)
	return true
}
