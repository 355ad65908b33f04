package matrix

import (
	"context"
	"math"

	"minibus/internal/opt"
)

// GreatCircle estimates costs from straight-line distance. It never fails
// and backs the road network provider when that is unreachable.
type GreatCircle struct {
	SpeedKph float64 // average speed, defaults to 30
	Detour   float64 // multiplier on straight-line distance, defaults to 1
}

func (g GreatCircle) Name() string { return "great_circle" }

func (g GreatCircle) Matrix(_ context.Context, stations []opt.Station) (*opt.CostMatrix, error) {
	st, err := sortStations(stations)
	if err != nil {
		return nil, err
	}
	speed := g.SpeedKph
	if speed <= 0 {
		speed = 30
	}
	detour := g.Detour
	if detour <= 0 {
		detour = 1
	}
	n := len(st)
	dist, dur := square(n), square(n)
	for i, a := range st {
		for j, b := range st {
			if i == j {
				continue
			}
			km := haversineKm(a.Lat, a.Lng, b.Lat, b.Lng) * detour
			dist[i][j] = km
			dur[i][j] = km / speed * 60
		}
	}
	return opt.NewCostMatrix(stationIDs(st), dist, dur, opt.KilometersMinutes)
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
