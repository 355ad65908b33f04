package opt

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepair_OversizeReservationsStayUnserved(t *testing.T) {
	stations, m := line(t, 0, 2, 6)
	p := problem(t, stations, m,
		[]Vehicle{{ID: 1, Capacity: 2}},
		[]Reservation{
			{ID: 1, Pickup: 2, Dropoff: 3, Passengers: 3, DesiredMin: 480},
			{ID: 2, Pickup: 2, Dropoff: 3, Passengers: 3, DesiredMin: 485},
		})
	s := NewBuilder(DefaultConfig(), nil).Construct(p, StrategyTimeGreedy)
	_, b := NewEvaluator(DefaultConfig()).Evaluate(s)

	assert.Empty(t, s.Assignment)
	assert.Equal(t, 2, b.Unserved)
	assert.Zero(t, b.CapacityViolations)
	assert.False(t, s.Routes[1].Used())
}

func TestRepair_ServesWhatFits(t *testing.T) {
	stations, m := line(t, 0, 2, 6)
	p := problem(t, stations, m,
		[]Vehicle{{ID: 1, Capacity: 3}},
		[]Reservation{
			{ID: 1, Pickup: 2, Dropoff: 3, Passengers: 3, DesiredMin: 480},
			{ID: 2, Pickup: 2, Dropoff: 3, Passengers: 4, DesiredMin: 480},
		})
	s := NewBuilder(DefaultConfig(), nil).Construct(p, StrategyTimeGreedy)
	_, b := NewEvaluator(DefaultConfig()).Evaluate(s)

	assert.Equal(t, []int64{1}, s.Served())
	assert.Equal(t, []int64{2}, s.Unserved())
	assert.Equal(t, 1, b.Unserved)
	assert.Equal(t, 50_000.0, b.UnservedPenalty)
	assert.Zero(t, b.CapacityViolations)
	checkInvariants(t, s)
}

func TestBuildRoute_SequentialTripsWithinCapacity(t *testing.T) {
	stations, m := line(t, 0, 2, 6)
	p := problem(t, stations, m,
		[]Vehicle{{ID: 1, Capacity: 4}},
		[]Reservation{
			{ID: 1, Pickup: 2, Dropoff: 3, Passengers: 3, DesiredMin: 480},
			{ID: 2, Pickup: 2, Dropoff: 3, Passengers: 3, DesiredMin: 480},
		})
	s := NewBuilder(DefaultConfig(), nil).Construct(p, StrategyTimeGreedy)
	_, b := NewEvaluator(DefaultConfig()).Evaluate(s)

	assert.Equal(t, []int64{1, 2}, s.Served())
	assert.Zero(t, b.CapacityViolations)
	assert.Equal(t, 3, s.Routes[1].PeakLoad)
	checkInvariants(t, s)
}

func TestRepair_SwapsMisorderedStops(t *testing.T) {
	stations, m := line(t, 0, 2, 6)
	p := problem(t, stations, m,
		[]Vehicle{{ID: 1, Capacity: 4}},
		[]Reservation{{ID: 1, Pickup: 2, Dropoff: 3, Passengers: 1, DesiredMin: 480}})
	s := NewSolution(p)
	s.Assignment[1] = 1
	drop, pick := NewStop(3), NewStop(2)
	drop.AddDropoff(Action{ReservationID: 1, Passengers: 1})
	pick.AddPickup(Action{ReservationID: 1, Passengers: 1})
	r := s.Routes[1]
	r.Stops = []Stop{DepotStop(1), drop, pick, DepotStop(1)}
	r.Reservations = []int64{1}

	unserved := NewBuilder(DefaultConfig(), nil).Repair(s)
	require.Empty(t, unserved)
	_, b := NewEvaluator(DefaultConfig()).Evaluate(s)

	assert.Zero(t, b.OrderViolations)
	assert.Equal(t, int64(2), s.Routes[1].Stops[1].StationID)
	assert.Equal(t, int64(3), s.Routes[1].Stops[2].StationID)
	checkInvariants(t, s)
}

func TestRepair_UnswappableOrderIsReassigned(t *testing.T) {
	stations, m := line(t, 0, 2, 6)
	p := problem(t, stations, m,
		[]Vehicle{{ID: 1, Capacity: 4}},
		[]Reservation{
			{ID: 1, Pickup: 2, Dropoff: 3, Passengers: 1, DesiredMin: 480},
			{ID: 2, Pickup: 3, Dropoff: 2, Passengers: 1, DesiredMin: 480},
		})
	s := NewSolution(p)
	s.Assignment[1], s.Assignment[2] = 1, 1
	a, c := NewStop(2), NewStop(3)
	a.AddPickup(Action{ReservationID: 1, Passengers: 1})
	a.AddDropoff(Action{ReservationID: 2, Passengers: 1})
	c.AddPickup(Action{ReservationID: 2, Passengers: 1})
	c.AddDropoff(Action{ReservationID: 1, Passengers: 1})
	r := s.Routes[1]
	r.Stops = []Stop{DepotStop(1), a, c, DepotStop(1)}
	r.Reservations = []int64{1, 2}

	unserved := NewBuilder(DefaultConfig(), nil).Repair(s)
	require.Empty(t, unserved)
	_, b := NewEvaluator(DefaultConfig()).Evaluate(s)

	assert.Zero(t, b.OrderViolations)
	assert.Equal(t, []int64{1, 2}, s.Served())
	checkInvariants(t, s)
}

func TestRepair_DropsStaleEntries(t *testing.T) {
	stations, m := line(t, 0, 2, 6)
	p := problem(t, stations, m,
		[]Vehicle{{ID: 1, Capacity: 4}, {ID: 2, Capacity: 4}},
		[]Reservation{{ID: 1, Pickup: 2, Dropoff: 3, Passengers: 1, DesiredMin: 480}})
	b := NewBuilder(DefaultConfig(), nil)
	s := NewSolution(p)
	s.Assignment[1] = 1
	b.BuildRoutes(s)
	s.Assignment[1] = 2 // moved without rebuilding vehicle 1

	b.Repair(s)
	NewEvaluator(DefaultConfig()).Evaluate(s)

	assert.Equal(t, []int64{1}, s.Served())
	assert.Equal(t, 1, s.VehiclesUsed)
	owner := s.Routes[s.Assignment[1]]
	assert.Equal(t, []int64{1}, owner.Reservations)
	checkInvariants(t, s)
}

func TestBuildRepair_RoundTripIsFeasible(t *testing.T) {
	stations, m := line(t, 0, 1.5, 3, 4.5, 7, 9, 12, 15)
	var res []Reservation
	for i := 0; i < 24; i++ {
		pick := int64(2 + i%7)
		drop := int64(2 + (i*3+1)%7)
		if drop == pick {
			drop = 1
		}
		res = append(res, Reservation{ID: int64(100 + i), Pickup: pick, Dropoff: drop, Passengers: 1 + i%3, DesiredMin: float64(420 + 5*i)})
	}
	vehicles := []Vehicle{{ID: 1, Capacity: 8}, {ID: 2, Capacity: 8}, {ID: 3, Capacity: 6}, {ID: 4, Capacity: 4}}
	p := problem(t, stations, m, vehicles, res)
	e := NewEvaluator(DefaultConfig())

	for seed := int64(1); seed <= 20; seed++ {
		b := NewBuilder(DefaultConfig(), rand.New(rand.NewSource(seed)))
		for strat := StrategyRandom; strat < strategyCount; strat++ {
			s := b.Construct(p, strat)
			_, br := e.Evaluate(s)
			require.Zerof(t, br.CapacityViolations, "seed %d %s", seed, strat)
			require.Zerof(t, br.OrderViolations, "seed %d %s", seed, strat)
			require.Zerof(t, br.Unserved, "seed %d %s", seed, strat)
			checkInvariants(t, s)
		}
	}
}

func TestPopulation(t *testing.T) {
	stations, m := line(t, 0, 2, 4, 6)
	p := problem(t, stations, m,
		[]Vehicle{{ID: 1, Capacity: 4}, {ID: 2, Capacity: 4}},
		[]Reservation{
			{ID: 1, Pickup: 2, Dropoff: 4, Passengers: 2, DesiredMin: 480},
			{ID: 2, Pickup: 3, Dropoff: 4, Passengers: 1, DesiredMin: 470},
			{ID: 3, Pickup: 4, Dropoff: 2, Passengers: 3, DesiredMin: 500},
		})
	b := NewBuilder(DefaultConfig(), rand.New(rand.NewSource(7)))

	pop := b.Population(p, 10)
	require.Len(t, pop, 10)
	for _, s := range pop {
		NewEvaluator(DefaultConfig()).Evaluate(s)
		checkInvariants(t, s)
	}

	empty := problem(t, stations, m, []Vehicle{{ID: 1, Capacity: 4}}, nil)
	assert.Nil(t, b.Population(empty, 10))
	noFleet := problem(t, stations, m, nil, []Reservation{{ID: 1, Pickup: 2, Dropoff: 3, Passengers: 1}})
	assert.Nil(t, b.Population(noFleet, 10))
}

func TestSolution_CloneIsDeep(t *testing.T) {
	stations, m := line(t, 0, 2, 6)
	p := problem(t, stations, m,
		[]Vehicle{{ID: 1, Capacity: 4}},
		[]Reservation{{ID: 1, Pickup: 2, Dropoff: 3, Passengers: 1, DesiredMin: 480}})
	s := NewBuilder(DefaultConfig(), nil).Construct(p, StrategyTimeGreedy)
	c := s.Clone()

	c.Assignment[99] = 1
	c.Routes[1].Stops[1].AddPickup(Action{ReservationID: 99, Passengers: 1})
	c.Routes[1].Stops[1].ArrivalMin = -1
	c.Routes[1].Reservations[0] = 99

	assert.NotContains(t, s.Assignment, int64(99))
	assert.Len(t, s.Routes[1].Stops[1].Pickups(), 1)
	assert.NotEqual(t, -1.0, s.Routes[1].Stops[1].ArrivalMin)
	assert.Equal(t, []int64{1}, s.Routes[1].Reservations)
}

func TestStop_DepotRefusesActions(t *testing.T) {
	d := DepotStop(1)
	assert.False(t, d.AddPickup(Action{ReservationID: 1, Passengers: 1}))
	assert.False(t, d.AddDropoff(Action{ReservationID: 1, Passengers: 1}))
	assert.Empty(t, d.Pickups())
	assert.Equal(t, "depot", d.Kind.String())
}

func TestKmeans_SeparatesGroups(t *testing.T) {
	pts := []point{{0, 0}, {0.01, 0}, {0, 0.01}, {5, 5}, {5.01, 5}, {5, 5.01}}
	labels := kmeans(pts, 2, rand.New(rand.NewSource(3)), 50)
	assert.Equal(t, labels[0], labels[1])
	assert.Equal(t, labels[0], labels[2])
	assert.Equal(t, labels[3], labels[4])
	assert.Equal(t, labels[3], labels[5])
	assert.NotEqual(t, labels[0], labels[3])
}
