package opt

import (
	"math"
	"sort"
)

// Strategy names a construction heuristic for initial solutions.
type Strategy int

const (
	StrategyRandom Strategy = iota
	StrategyTimeGreedy
	StrategyNearest
	StrategyCluster
	strategyCount
)

func (s Strategy) String() string {
	switch s {
	case StrategyRandom:
		return "random"
	case StrategyTimeGreedy:
		return "time_greedy"
	case StrategyNearest:
		return "nearest_neighbor"
	case StrategyCluster:
		return "cluster"
	}
	return "unknown"
}

// Population builds size solutions split evenly across the construction
// strategies, each with routes built and repaired. It returns nil when the
// problem has no vehicles or no reservations.
func (b *Builder) Population(p *Problem, size int) []*Solution {
	if len(p.Vehicles) == 0 || len(p.Reservations) == 0 || size < 1 {
		return nil
	}
	out := make([]*Solution, 0, size)
	for i := 0; i < size; i++ {
		strat := Strategy(i * int(strategyCount) / size)
		out = append(out, b.Construct(p, strat))
	}
	return out
}

// Construct builds one solution with the given strategy.
func (b *Builder) Construct(p *Problem, strat Strategy) *Solution {
	s := NewSolution(p)
	switch strat {
	case StrategyRandom:
		b.assignRandom(s)
	case StrategyTimeGreedy:
		b.assignTimeGreedy(s)
	case StrategyNearest:
		b.assignNearest(s)
	case StrategyCluster:
		b.assignClusters(s)
	}
	b.BuildRoutes(s)
	b.Repair(s)
	return s
}

func (b *Builder) assignRandom(s *Solution) {
	vs := s.problem.Vehicles
	for _, r := range s.problem.Reservations {
		s.Assignment[r.ID] = vs[b.rng.Intn(len(vs))].ID
	}
}

// assignTimeGreedy walks reservations by desired time and prefers a vehicle
// already serving the pickup station with room left, then the least loaded.
func (b *Builder) assignTimeGreedy(s *Solution) {
	p := s.problem
	order := append([]Reservation(nil), p.Reservations...)
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].DesiredMin != order[j].DesiredMin {
			return order[i].DesiredMin < order[j].DesiredMin
		}
		return order[i].ID < order[j].ID
	})

	load := make([]int, len(p.Vehicles))
	visits := make([]map[int64]bool, len(p.Vehicles))
	for i := range visits {
		visits[i] = make(map[int64]bool)
	}
	for _, r := range order {
		chosen := -1
		for i, v := range p.Vehicles {
			if visits[i][r.Pickup] && load[i]+r.Passengers <= v.Capacity {
				chosen = i
				break
			}
		}
		if chosen < 0 {
			chosen = 0
			for i := range p.Vehicles {
				if load[i] < load[chosen] {
					chosen = i
				}
			}
		}
		s.Assignment[r.ID] = p.Vehicles[chosen].ID
		load[chosen] += r.Passengers
		visits[chosen][r.Pickup] = true
		visits[chosen][r.Dropoff] = true
	}
}

// assignNearest sends vehicles out from the depot in a shuffled order, each
// taking the closest pickup that still fits its remaining seats until full.
// Rounds repeat until every reservation that fits some vehicle is taken.
func (b *Builder) assignNearest(s *Solution) {
	p := s.problem
	remaining := append([]Reservation(nil), p.Reservations...)
	pos := make(map[int64]int64, len(p.Vehicles))
	for _, v := range p.Vehicles {
		pos[v.ID] = p.Depot
	}
	perm := b.rng.Perm(len(p.Vehicles))

	for len(remaining) > 0 {
		progress := false
		for _, vi := range perm {
			v := p.Vehicles[vi]
			free := v.Capacity
			for {
				best, bestD := -1, math.Inf(1)
				for i, r := range remaining {
					if r.Passengers > free {
						continue
					}
					if d := p.Matrix.Distance(pos[v.ID], r.Pickup); d < bestD {
						best, bestD = i, d
					}
				}
				if best < 0 {
					break
				}
				r := remaining[best]
				remaining = append(remaining[:best], remaining[best+1:]...)
				s.Assignment[r.ID] = v.ID
				free -= r.Passengers
				pos[v.ID] = r.Pickup
				progress = true
			}
		}
		if !progress {
			return
		}
	}
}

// assignClusters groups reservations by the midpoint of their pickup and
// dropoff stations, one cluster per vehicle. The heaviest cluster goes to the
// largest vehicle.
func (b *Builder) assignClusters(s *Solution) {
	p := s.problem
	k := len(p.Vehicles)
	if len(p.Reservations) < k {
		k = len(p.Reservations)
	}
	points := make([]point, len(p.Reservations))
	for i, r := range p.Reservations {
		a, c := p.Stations[r.Pickup], p.Stations[r.Dropoff]
		points[i] = point{(a.Lat + c.Lat) / 2, (a.Lng + c.Lng) / 2}
	}
	labels := kmeans(points, k, b.rng, 50)

	demand := make([]int, k)
	for i, l := range labels {
		demand[l] += p.Reservations[i].Passengers
	}
	clusters := make([]int, k)
	for i := range clusters {
		clusters[i] = i
	}
	sort.SliceStable(clusters, func(i, j int) bool { return demand[clusters[i]] > demand[clusters[j]] })
	vehicles := append([]Vehicle(nil), p.Vehicles...)
	sort.SliceStable(vehicles, func(i, j int) bool { return vehicles[i].Capacity > vehicles[j].Capacity })

	owner := make([]int64, k)
	for rank, c := range clusters {
		owner[c] = vehicles[rank].ID
	}
	for i, r := range p.Reservations {
		s.Assignment[r.ID] = owner[labels[i]]
	}
}
