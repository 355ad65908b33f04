package opt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// line lays stations 1..n out on a straight road at the given kilometer
// marks. Vehicles drive at 1 km per minute.
func line(t *testing.T, marks ...float64) ([]Station, *CostMatrix) {
	t.Helper()
	n := len(marks)
	ids := make([]int64, n)
	stations := make([]Station, n)
	dist := make([][]float64, n)
	dur := make([][]float64, n)
	for i := range marks {
		ids[i] = int64(i + 1)
		stations[i] = Station{ID: ids[i], Name: string(rune('A' + i)), Lat: 48.85, Lng: 2.35 + marks[i]/73}
		dist[i] = make([]float64, n)
		dur[i] = make([]float64, n)
		for j := range marks {
			d := math.Abs(marks[i] - marks[j])
			dist[i][j], dur[i][j] = d, d
		}
	}
	m, err := NewCostMatrix(ids, dist, dur, KilometersMinutes)
	require.NoError(t, err)
	return stations, m
}

func problem(t *testing.T, stations []Station, m *CostMatrix, vehicles []Vehicle, res []Reservation) *Problem {
	t.Helper()
	p, rejected, err := NewProblem(Input{Stations: stations, Vehicles: vehicles, Reservations: res, Depot: 1, Matrix: m})
	require.NoError(t, err)
	require.Empty(t, rejected)
	return p
}

// checkInvariants asserts pickup-before-dropoff and consistent onboard
// accounting on every route of an evaluated solution.
func checkInvariants(t *testing.T, s *Solution) {
	t.Helper()
	for _, r := range s.OrderedRoutes() {
		require.Equal(t, KindDepot, r.Stops[0].Kind)
		require.Equal(t, KindDepot, r.Stops[len(r.Stops)-1].Kind)
		pickedAt := map[int64]int{}
		onboard := 0
		for i, st := range r.Stops {
			for _, a := range st.Dropoffs() {
				at, ok := pickedAt[a.ReservationID]
				require.Truef(t, ok && at < i, "vehicle %d: reservation %d dropped at %d before pickup", r.VehicleID, a.ReservationID, i)
				onboard -= a.Passengers
			}
			for _, a := range st.Pickups() {
				pickedAt[a.ReservationID] = i
				onboard += a.Passengers
			}
			require.GreaterOrEqual(t, onboard, 0)
			require.Equal(t, onboard, st.Onboard)
			require.LessOrEqual(t, onboard, r.Capacity)
		}
		for _, id := range r.Reservations {
			require.Equal(t, r.VehicleID, s.Assignment[id])
		}
	}
}
