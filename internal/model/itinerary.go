package model

import (
	"math"

	"minibus/internal/opt"
)

type ActionView struct {
	ReservationID int64 `json:"reservationId"`
	Passengers    int   `json:"passengers"`
}

type StopView struct {
	StationID           int64        `json:"stationId"`
	StationName         string       `json:"stationName"`
	Kind                string       `json:"kind"`
	ArrivalTime         string       `json:"arrivalTime"`
	Pickups             []ActionView `json:"pickups"`
	Dropoffs            []ActionView `json:"dropoffs"`
	Boarding            int          `json:"boarding"`
	Alighting           int          `json:"alighting"`
	Onboard             int          `json:"onboard"`
	CapacityLeft        int          `json:"capacityLeft"`
	DistanceFromPrevKm  float64      `json:"distanceFromPrevKm"`
	DurationFromPrevMin float64      `json:"durationFromPrevMin"`
}

type ViolationsView struct {
	Capacity int `json:"capacity"`
	Order    int `json:"order"`
	Time     int `json:"time"`
}

type RouteView struct {
	VehicleID     int64          `json:"vehicleId"`
	VehicleLabel  string         `json:"vehicleLabel,omitempty"`
	Capacity      int            `json:"capacity"`
	DepartureTime string         `json:"departureTime"`
	ReturnTime    string         `json:"returnTime"`
	Reservations  []int64        `json:"reservations"`
	Stops         []StopView     `json:"stops"`
	DistanceKm    float64        `json:"distanceKm"`
	DurationMin   float64        `json:"durationMin"`
	PeakLoad      int            `json:"peakLoad"`
	LatenessMin   float64        `json:"latenessMin"`
	Violations    ViolationsView `json:"violations"`
}

type BreakdownView struct {
	CapacityPenalty    float64 `json:"capacityPenalty"`
	OrderPenalty       float64 `json:"orderPenalty"`
	UnservedPenalty    float64 `json:"unservedPenalty"`
	LatenessPenalty    float64 `json:"latenessPenalty"`
	ConsolidationBonus float64 `json:"consolidationBonus"`
	DistanceKm         float64 `json:"distanceKm"`
}

type MetricsView struct {
	TotalReservations int           `json:"totalReservations"`
	Served            int           `json:"served"`
	Unserved          int           `json:"unserved"`
	UnservedIDs       []int64       `json:"unservedIds"`
	VehiclesUsed      int           `json:"vehiclesUsed"`
	DistanceKm        float64       `json:"distanceKm"`
	DurationMin       float64       `json:"durationMin"`
	Violations        int           `json:"violations"`
	LatenessMin       float64       `json:"latenessMin"`
	Fitness           float64       `json:"fitness"`
	Breakdown         BreakdownView `json:"breakdown"`
}

// SolutionView is the exported itinerary of a solution: only routes that
// carry passengers, each with its stops and totals, plus global metrics.
type SolutionView struct {
	ID      string      `json:"id"`
	RunID   string      `json:"runId"`
	Routes  []RouteView `json:"routes"`
	Metrics MetricsView `json:"metrics"`
}

func NewSolutionView(id, runID string, s *opt.Solution) SolutionView {
	p := s.Problem()
	view := SolutionView{ID: id, RunID: runID, Routes: []RouteView{}}
	for _, r := range s.OrderedRoutes() {
		if !r.Used() {
			continue
		}
		view.Routes = append(view.Routes, newRouteView(p, r))
	}
	unserved := s.Unserved()
	if unserved == nil {
		unserved = []int64{}
	}
	b := s.Breakdown
	view.Metrics = MetricsView{
		TotalReservations: len(p.Reservations),
		Served:            len(s.Assignment),
		Unserved:          len(unserved),
		UnservedIDs:       unserved,
		VehiclesUsed:      s.VehiclesUsed,
		DistanceKm:        round(s.DistanceKm),
		DurationMin:       round(s.DurationMin),
		Violations:        s.Violations,
		LatenessMin:       round(s.LatenessMin),
		Fitness:           round(s.Fitness),
		Breakdown: BreakdownView{
			CapacityPenalty:    round(b.CapacityPenalty),
			OrderPenalty:       round(b.OrderPenalty),
			UnservedPenalty:    round(b.UnservedPenalty),
			LatenessPenalty:    round(b.LatenessPenalty),
			ConsolidationBonus: round(b.ConsolidationBonus),
			DistanceKm:         round(b.DistanceKm),
		},
	}
	return view
}

func newRouteView(p *opt.Problem, r *opt.Route) RouteView {
	v, _ := p.Vehicle(r.VehicleID)
	rv := RouteView{
		VehicleID:     r.VehicleID,
		VehicleLabel:  v.Label,
		Capacity:      r.Capacity,
		DepartureTime: opt.FormatClock(r.DepartureMin),
		ReturnTime:    opt.FormatClock(r.Stops[len(r.Stops)-1].ArrivalMin),
		Reservations:  append([]int64{}, r.Reservations...),
		DistanceKm:    round(r.DistanceKm),
		DurationMin:   round(r.DurationMin),
		PeakLoad:      r.PeakLoad,
		LatenessMin:   round(r.LatenessMin),
		Violations: ViolationsView{
			Capacity: r.CapacityViolations,
			Order:    r.OrderViolations,
			Time:     r.TimeViolations,
		},
	}
	for _, st := range r.Stops {
		rv.Stops = append(rv.Stops, StopView{
			StationID:           st.StationID,
			StationName:         p.Stations[st.StationID].Name,
			Kind:                st.Kind.String(),
			ArrivalTime:         opt.FormatClock(st.ArrivalMin),
			Pickups:             actionViews(st.Pickups()),
			Dropoffs:            actionViews(st.Dropoffs()),
			Boarding:            st.Boarding(),
			Alighting:           st.Alighting(),
			Onboard:             st.Onboard,
			CapacityLeft:        st.CapacityLeft,
			DistanceFromPrevKm:  round(st.DistanceFromPrevKm),
			DurationFromPrevMin: round(st.DurationFromPrevMin),
		})
	}
	return rv
}

func actionViews(as []opt.Action) []ActionView {
	out := make([]ActionView, 0, len(as))
	for _, a := range as {
		out = append(out, ActionView{ReservationID: a.ReservationID, Passengers: a.Passengers})
	}
	return out
}

func round(v float64) float64 { return math.Round(v*1000) / 1000 }
