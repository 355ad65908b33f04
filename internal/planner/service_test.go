package planner

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minibus/internal/matrix"
	"minibus/internal/model"
	"minibus/internal/opt"
	"minibus/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events map[string][]Event
}

func (r *recorder) Publish(topic string, evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = map[string][]Event{}
	}
	r.events[topic] = append(r.events[topic], evt)
}

func (r *recorder) types(topic string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events[topic] {
		out = append(out, e.Type)
	}
	return out
}

type downProvider struct{}

func (downProvider) Name() string { return "osrm" }

func (downProvider) Matrix(context.Context, []opt.Station) (*opt.CostMatrix, error) {
	return nil, matrix.ErrProviderUnavailable
}

func newService(t *testing.T) (*Service, *store.Memory, *recorder) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	_, err := st.UpsertStations(ctx, []opt.Station{
		{ID: 1, Name: "Depot", Lat: 48.850, Lng: 2.350},
		{ID: 2, Name: "Gare", Lat: 48.860, Lng: 2.350},
		{ID: 3, Name: "Mairie", Lat: 48.870, Lng: 2.360},
		{ID: 4, Name: "Lycee", Lat: 48.855, Lng: 2.370},
	})
	require.NoError(t, err)
	_, err = st.UpsertVehicles(ctx, []opt.Vehicle{{ID: 1, Capacity: 8, Label: "bus-1"}, {ID: 2, Capacity: 4, Label: "van-2"}})
	require.NoError(t, err)

	log, _ := test.NewNullLogger()
	rec := &recorder{}
	params := opt.DefaultParams()
	params.PopulationSize, params.MaxGenerations, params.Seed, params.Workers = 8, 4, 7, 1
	return &Service{
		Store:  st,
		Matrix: matrix.GreatCircle{},
		Events: rec,
		Params: params,
		Engine: opt.DefaultConfig(),
		Depot:  1,
		Log:    log,
	}, st, rec
}

func seedReservations(t *testing.T, st *store.Memory) {
	t.Helper()
	_, err := st.CreateReservations(context.Background(), []opt.Reservation{
		{Pickup: 2, Dropoff: 3, Passengers: 2, DesiredMin: 480},
		{Pickup: 2, Dropoff: 4, Passengers: 1, DesiredMin: 485},
		{Pickup: 4, Dropoff: 3, Passengers: 3, DesiredMin: 490},
	})
	require.NoError(t, err)
}

func TestPlanFromStore(t *testing.T) {
	svc, st, rec := newService(t)
	seedReservations(t, st)
	ctx := context.Background()

	resp, err := svc.Plan(ctx, model.OptimizeRequest{})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, resp.SolutionID, resp.Itinerary.ID)
	assert.Equal(t, 3, resp.Itinerary.Metrics.TotalReservations)
	assert.Equal(t, 3, resp.Itinerary.Metrics.Served)
	assert.Equal(t, "great_circle", resp.Details.MatrixSource)
	assert.Equal(t, int64(7), resp.Details.Seed)
	assert.NotEmpty(t, resp.Details.History)

	assigned, err := st.ListReservations(ctx, opt.StatusAssigned)
	require.NoError(t, err)
	assert.Len(t, assigned, 3)

	types := rec.types(resp.RunID)
	require.NotEmpty(t, types)
	assert.Equal(t, EventRunStarted, types[0])
	assert.Contains(t, types, EventRunProgress)
	assert.Equal(t, EventRunFinished, types[len(types)-1])

	snap, err := st.GetSnapshot(ctx, resp.SolutionID)
	require.NoError(t, err)
	assert.Equal(t, resp.RunID, snap.RunID)

	m, ok := opt.GetRunMetrics(resp.RunID)
	require.True(t, ok)
	assert.Equal(t, 3, m.Served)
	assert.Equal(t, resp.SolutionID, m.SolutionID)
}

func TestPlanInlineReservations(t *testing.T) {
	svc, st, _ := newService(t)
	ctx := context.Background()

	resp, err := svc.Plan(ctx, model.OptimizeRequest{
		RunID:      "6f1c1f0e-4a63-4b43-9b1c-1d3c2a9a0b11",
		VehicleIDs: []int64{2},
		Reservations: []model.ReservationIn{
			{Pickup: 2, Dropoff: 3, Passengers: 2, DesiredTime: "08:00"},
			{ID: 1, Pickup: 3, Dropoff: 4, Passengers: 1, DesiredTime: "08:10"},
			{Pickup: 2, Dropoff: 2, Passengers: 1, DesiredTime: "08:10"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "6f1c1f0e-4a63-4b43-9b1c-1d3c2a9a0b11", resp.RunID)
	assert.Equal(t, 2, resp.Itinerary.Metrics.TotalReservations)
	require.Len(t, resp.Details.Rejected, 1)
	assert.Equal(t, "reservation", resp.Details.Rejected[0].Kind)
	for _, rt := range resp.Itinerary.Routes {
		assert.Equal(t, int64(2), rt.VehicleID)
	}

	all, err := st.ListReservations(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all, "inline reservations are not persisted")
}

func TestPlanErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("no depot", func(t *testing.T) {
		svc, st, _ := newService(t)
		seedReservations(t, st)
		svc.Depot = 0
		_, err := svc.Plan(ctx, model.OptimizeRequest{})
		var verr *model.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "depotStationId", verr.Field)
	})

	t.Run("unknown vehicle", func(t *testing.T) {
		svc, st, _ := newService(t)
		seedReservations(t, st)
		_, err := svc.Plan(ctx, model.OptimizeRequest{VehicleIDs: []int64{99}})
		var verr *model.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("bad desired time", func(t *testing.T) {
		svc, _, _ := newService(t)
		_, err := svc.Plan(ctx, model.OptimizeRequest{Reservations: []model.ReservationIn{
			{Pickup: 2, Dropoff: 3, Passengers: 1, DesiredTime: "8h"},
		}})
		var verr *model.ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("matrix unavailable", func(t *testing.T) {
		svc, st, rec := newService(t)
		seedReservations(t, st)
		svc.Matrix = downProvider{}
		_, err := svc.Plan(ctx, model.OptimizeRequest{RunID: "a3b8f1de-0c4e-4d4b-8f5e-2a7c9e1d3b40"})
		assert.ErrorIs(t, err, matrix.ErrProviderUnavailable)
		assert.Equal(t, []string{EventRunFailed}, rec.types("a3b8f1de-0c4e-4d4b-8f5e-2a7c9e1d3b40"))
	})

	t.Run("nothing to plan", func(t *testing.T) {
		svc, _, _ := newService(t)
		_, err := svc.Plan(ctx, model.OptimizeRequest{})
		assert.ErrorIs(t, err, opt.ErrNoReservations)
	})

	t.Run("unknown depot", func(t *testing.T) {
		svc, st, _ := newService(t)
		seedReservations(t, st)
		_, err := svc.Plan(ctx, model.OptimizeRequest{DepotStationID: 42})
		assert.ErrorIs(t, err, opt.ErrUnknownStation)
	})
}

func TestInsert(t *testing.T) {
	svc, st, rec := newService(t)
	seedReservations(t, st)
	ctx := context.Background()

	plan, err := svc.Plan(ctx, model.OptimizeRequest{})
	require.NoError(t, err)

	resp, err := svc.Insert(ctx, plan.SolutionID, model.ReservationIn{Pickup: 2, Dropoff: 3, Passengers: 1, DesiredTime: "08:05"})
	require.NoError(t, err)
	assert.True(t, resp.OK, resp.Message)
	require.NotNil(t, resp.Impact)
	assert.Equal(t, 4, resp.Itinerary.Metrics.Served)
	assert.Contains(t, rec.types(plan.RunID), EventSolutionUpdated)

	assigned, err := st.ListReservations(ctx, opt.StatusAssigned)
	require.NoError(t, err)
	assert.Len(t, assigned, 4)

	// The live solution now carries the insertion.
	raw, err := svc.Solution(ctx, plan.SolutionID)
	require.NoError(t, err)
	var view model.SolutionView
	require.NoError(t, json.Unmarshal(raw, &view))
	assert.Equal(t, 4, view.Metrics.Served)

	t.Run("too many passengers", func(t *testing.T) {
		resp, err := svc.Insert(ctx, plan.SolutionID, model.ReservationIn{Pickup: 3, Dropoff: 4, Passengers: 40, DesiredTime: "09:00"})
		require.NoError(t, err)
		assert.False(t, resp.OK)
		assert.Contains(t, resp.Message, "insufficient capacity")
		assert.Nil(t, resp.Impact)
		assert.Equal(t, 4, resp.Itinerary.Metrics.Served)

		unserved, err := st.ListReservations(ctx, opt.StatusUnserved)
		require.NoError(t, err)
		assert.Len(t, unserved, 1)
	})

	t.Run("unknown station", func(t *testing.T) {
		_, err := svc.Insert(ctx, plan.SolutionID, model.ReservationIn{Pickup: 2, Dropoff: 77, Passengers: 1, DesiredTime: "09:00"})
		assert.ErrorIs(t, err, opt.ErrUnknownStation)
	})

	t.Run("unknown solution", func(t *testing.T) {
		_, err := svc.Insert(ctx, "nope", model.ReservationIn{Pickup: 2, Dropoff: 3, Passengers: 1, DesiredTime: "09:00"})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestSolutionFallsBackToSnapshot(t *testing.T) {
	svc, st, _ := newService(t)
	seedReservations(t, st)
	svc.MaxSessions = 1
	ctx := context.Background()

	first, err := svc.Plan(ctx, model.OptimizeRequest{})
	require.NoError(t, err)
	_, err = svc.Plan(ctx, model.OptimizeRequest{Reservations: []model.ReservationIn{
		{Pickup: 2, Dropoff: 3, Passengers: 1, DesiredTime: "10:00"},
	}})
	require.NoError(t, err)

	_, err = svc.Insert(ctx, first.SolutionID, model.ReservationIn{Pickup: 2, Dropoff: 3, Passengers: 1, DesiredTime: "08:05"})
	assert.ErrorIs(t, err, store.ErrNotFound, "evicted sessions cannot take insertions")

	raw, err := svc.Solution(ctx, first.SolutionID)
	require.NoError(t, err)
	var view model.SolutionView
	require.NoError(t, json.Unmarshal(raw, &view))
	assert.Equal(t, first.SolutionID, view.ID)

	_, err = svc.Solution(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPlanOversizedRequestStopsAtDeadline(t *testing.T) {
	svc, st, _ := newService(t)
	seedReservations(t, st)
	svc.Params.TimeBudget = 50 * time.Millisecond

	noStagnation := 0
	start := time.Now()
	resp, err := svc.Plan(context.Background(), model.OptimizeRequest{Params: &model.ParamsIn{
		PopulationSize:  2000,
		MaxGenerations:  100000,
		StagnationLimit: &noStagnation,
		TimeBudgetMs:    600_000,
	}})
	require.NoError(t, err)

	assert.Equal(t, string(opt.StopDeadline), resp.Details.StopReason)
	assert.Less(t, resp.Details.Generations, 100000)
	assert.Less(t, time.Since(start), 30*time.Second)
	assert.Equal(t, 3, resp.Itinerary.Metrics.Served)
}
