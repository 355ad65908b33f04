package opt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func integrateFixture(t *testing.T, capacity int) *Solution {
	t.Helper()
	stations, m := line(t, 0, 2, 5, 9, 12)
	p := problem(t, stations, m,
		[]Vehicle{{ID: 1, Capacity: capacity}},
		[]Reservation{{ID: 1, Pickup: 2, Dropoff: 3, Passengers: 2, DesiredMin: 480}})
	s := NewBuilder(DefaultConfig(), nil).Construct(p, StrategyTimeGreedy)
	NewEvaluator(DefaultConfig()).Evaluate(s)
	return s
}

func TestInsert_InsufficientCapacityLeavesSolutionUnchanged(t *testing.T) {
	s := integrateFixture(t, 2)
	before := s.Clone()

	got, err := NewIntegrator(DefaultConfig()).Insert(s, Reservation{ID: 2, Pickup: 2, Dropoff: 4, Passengers: 1, DesiredMin: 485})
	require.NoError(t, err)

	assert.False(t, got.OK)
	assert.Contains(t, got.Message, "insufficient capacity")
	assert.Equal(t, before.Fitness, s.Fitness)
	assert.Equal(t, before.Assignment, s.Assignment)
	assert.Len(t, s.Routes[1].Stops, len(before.Routes[1].Stops))
	_, known := s.Problem().Reservation(2)
	assert.False(t, known)
}

func TestInsert_MergesIntoCompatibleVehicle(t *testing.T) {
	s := integrateFixture(t, 4)
	stops := len(s.Routes[1].Stops)

	got, err := NewIntegrator(DefaultConfig()).Insert(s, Reservation{ID: 2, Pickup: 2, Dropoff: 3, Passengers: 2, DesiredMin: 482})
	require.NoError(t, err)
	require.True(t, got.OK, got.Message)

	r := s.Routes[1]
	assert.Equal(t, int64(1), got.VehicleID)
	assert.Len(t, r.Stops, stops)
	assert.Len(t, r.Stops[1].Pickups(), 2)
	assert.Equal(t, 4, r.Stops[1].Boarding())
	assert.Equal(t, 4, r.PeakLoad)
	assert.Equal(t, int64(1), s.Assignment[2])
	assert.Equal(t, 1, s.Breakdown.ConsolidatedPickups)
	checkInvariants(t, s)
}

func TestInsert_NewStopsAndDiff(t *testing.T) {
	s := integrateFixture(t, 4)
	before := s.Clone()

	got, err := NewIntegrator(DefaultConfig()).Insert(s, Reservation{ID: 2, Pickup: 4, Dropoff: 5, Passengers: 1, DesiredMin: 520})
	require.NoError(t, err)
	require.True(t, got.OK)

	r := s.Routes[1]
	require.Len(t, r.Stops, 6)
	assert.Equal(t, int64(4), r.Stops[3].StationID)
	assert.Equal(t, int64(5), r.Stops[4].StationID)
	assert.Equal(t, KindDepot, r.Stops[5].Kind)
	checkInvariants(t, s)

	d := Diff(before, s)
	assert.InDelta(t, 14.0, d.DistanceKm, 1e-9)
	assert.Greater(t, d.DurationMin, 0.0)
	assert.Equal(t, s.Fitness-before.Fitness, d.Fitness)
	assert.Equal(t, before.Fitness, d.FitnessBefore)
	assert.Equal(t, s.Fitness, d.FitnessAfter)
	// the previous problem is shared by the snapshot and must not learn the new reservation
	_, known := before.Problem().Reservation(2)
	assert.False(t, known)
}

func TestInsert_FallsBackToLeastLoadedVehicle(t *testing.T) {
	stations, m := line(t, 0, 2, 5, 9, 12)
	p := problem(t, stations, m,
		[]Vehicle{{ID: 1, Capacity: 4}, {ID: 2, Capacity: 4}},
		[]Reservation{{ID: 1, Pickup: 2, Dropoff: 3, Passengers: 3, DesiredMin: 480}})
	s := NewSolution(p)
	s.Assignment[1] = 1
	b := NewBuilder(DefaultConfig(), nil)
	b.BuildRoutes(s)
	NewEvaluator(DefaultConfig()).Evaluate(s)

	got, err := NewIntegrator(DefaultConfig()).Insert(s, Reservation{ID: 2, Pickup: 4, Dropoff: 2, Passengers: 2, DesiredMin: 500})
	require.NoError(t, err)
	require.True(t, got.OK)
	assert.Equal(t, int64(2), got.VehicleID)
	assert.True(t, s.Routes[2].Used())
	assert.Equal(t, 2, s.VehiclesUsed)
	checkInvariants(t, s)
}

func TestInsert_RejectsMalformed(t *testing.T) {
	s := integrateFixture(t, 4)
	in := NewIntegrator(DefaultConfig())

	_, err := in.Insert(s, Reservation{ID: 1, Pickup: 2, Dropoff: 3, Passengers: 1})
	assert.ErrorIs(t, err, ErrDuplicateReservation)
	_, err = in.Insert(s, Reservation{ID: 9, Pickup: 2, Dropoff: 99, Passengers: 1})
	assert.ErrorIs(t, err, ErrUnknownStation)
	_, err = in.Insert(s, Reservation{ID: 9, Pickup: 2, Dropoff: 3, Passengers: 0})
	assert.ErrorIs(t, err, ErrInvalidReservation)
}
