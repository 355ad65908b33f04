// Package model holds the JSON request bodies and itinerary views of the
// HTTP API and their conversion to and from engine types.
package model

import (
	"fmt"
	"time"

	"minibus/internal/opt"
)

type StationIn struct {
	ID   int64   `json:"id,omitempty" validate:"gte=0"`
	Name string  `json:"name" validate:"max=200"`
	Lat  float64 `json:"lat" validate:"latitude"`
	Lng  float64 `json:"lng" validate:"longitude"`
}

func (s StationIn) Station() opt.Station {
	return opt.Station{ID: s.ID, Name: s.Name, Lat: s.Lat, Lng: s.Lng}
}

type VehicleIn struct {
	ID       int64  `json:"id,omitempty" validate:"gte=0"`
	Capacity int    `json:"capacity" validate:"min=1"`
	Label    string `json:"label,omitempty" validate:"max=200"`
}

func (v VehicleIn) Vehicle() opt.Vehicle {
	return opt.Vehicle{ID: v.ID, Capacity: v.Capacity, Label: v.Label}
}

// ReservationIn is a ride request. DesiredTime is the wished pickup time as
// "HH:MM" or "HH:MM:SS".
type ReservationIn struct {
	ID          int64  `json:"id,omitempty" validate:"gte=0"`
	Pickup      int64  `json:"pickupStationId" validate:"required"`
	Dropoff     int64  `json:"dropoffStationId" validate:"required,nefield=Pickup"`
	Passengers  int    `json:"passengers" validate:"min=1"`
	DesiredTime string `json:"desiredTime" validate:"required"`
}

// Reservation converts the request. Only the time format is checked here;
// semantic checks are left to the caller.
func (r ReservationIn) Reservation() (opt.Reservation, error) {
	if r.DesiredTime == "" {
		return opt.Reservation{}, &ValidationError{Field: "desiredTime", Reason: "required"}
	}
	min, err := opt.ParseClock(r.DesiredTime)
	if err != nil {
		return opt.Reservation{}, &ValidationError{Field: "desiredTime", Reason: err.Error()}
	}
	return opt.Reservation{
		ID:         r.ID,
		Pickup:     r.Pickup,
		Dropoff:    r.Dropoff,
		Passengers: r.Passengers,
		DesiredMin: min,
		Status:     opt.StatusPending,
	}, nil
}

// ValidationError reports one rejected request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Reason) }

// ParamsIn overrides search parameters for one run. Zero or absent values
// keep the configured defaults; TimeBudgetMs can only shorten the
// configured time budget.
type ParamsIn struct {
	PopulationSize  int      `json:"populationSize,omitempty" validate:"gte=0,lte=10000"`
	MaxGenerations  int      `json:"maxGenerations,omitempty" validate:"gte=0,lte=100000"`
	CrossoverRate   *float64 `json:"crossoverRate,omitempty" validate:"omitempty,gte=0,lte=1"`
	MutationRate    *float64 `json:"mutationRate,omitempty" validate:"omitempty,gte=0,lte=1"`
	ElitismRate     *float64 `json:"elitismRate,omitempty" validate:"omitempty,gte=0,lte=1"`
	TournamentSize  int      `json:"tournamentSize,omitempty" validate:"gte=0"`
	StagnationLimit *int     `json:"stagnationLimit,omitempty" validate:"omitempty,gte=0"`
	Seed            int64    `json:"seed,omitempty"`
	TimeBudgetMs    int      `json:"timeBudgetMs,omitempty" validate:"gte=0"`
}

func (p *ParamsIn) Apply(base opt.Params) opt.Params {
	if p == nil {
		return base
	}
	if p.PopulationSize > 0 {
		base.PopulationSize = p.PopulationSize
	}
	if p.MaxGenerations > 0 {
		base.MaxGenerations = p.MaxGenerations
	}
	if p.CrossoverRate != nil {
		base.CrossoverRate = *p.CrossoverRate
	}
	if p.MutationRate != nil {
		base.MutationRate = *p.MutationRate
	}
	if p.ElitismRate != nil {
		base.ElitismRate = *p.ElitismRate
	}
	if p.TournamentSize > 0 {
		base.TournamentSize = p.TournamentSize
	}
	if p.StagnationLimit != nil {
		base.StagnationLimit = *p.StagnationLimit
	}
	if p.Seed != 0 {
		base.Seed = p.Seed
	}
	// a request may shorten the configured budget, never lift it
	if d := time.Duration(p.TimeBudgetMs) * time.Millisecond; d > 0 && (base.TimeBudget <= 0 || d < base.TimeBudget) {
		base.TimeBudget = d
	}
	return base
}

// OptimizeRequest starts a run. Without inline reservations the pending
// reservations of the store are planned; without vehicle ids the whole
// fleet is used. A client-chosen RunID lets progress be followed from the
// start of the run.
type OptimizeRequest struct {
	RunID          string          `json:"runId,omitempty" validate:"omitempty,uuid"`
	DepotStationID int64           `json:"depotStationId,omitempty" validate:"gte=0"`
	VehicleIDs     []int64         `json:"vehicleIds,omitempty"`
	Reservations   []ReservationIn `json:"reservations,omitempty"`
	Params         *ParamsIn       `json:"params,omitempty"`
}

type OptimizeResponse struct {
	RunID      string       `json:"runId"`
	SolutionID string       `json:"solutionId"`
	Itinerary  SolutionView `json:"itinerary"`
	Details    RunDetails   `json:"details"`
}

type RunDetails struct {
	Generations  int             `json:"generations"`
	StopReason   string          `json:"stopReason"`
	Seed         int64           `json:"seed"`
	ElapsedMs    int64           `json:"elapsedMs"`
	History      []float64       `json:"history"`
	Rejected     []RejectionView `json:"rejected"`
	MatrixSource string          `json:"matrixSource"`
}

type RejectionView struct {
	Kind   string `json:"kind"`
	ID     int64  `json:"id"`
	Reason string `json:"reason"`
}

func NewRunDetails(res *opt.Result, matrixSource string) RunDetails {
	d := RunDetails{
		Generations:  res.Generations,
		StopReason:   string(res.StopReason),
		Seed:         res.Seed,
		ElapsedMs:    res.Elapsed.Milliseconds(),
		History:      res.History,
		Rejected:     []RejectionView{},
		MatrixSource: matrixSource,
	}
	for _, r := range res.Rejected {
		d.Rejected = append(d.Rejected, RejectionView{Kind: r.Kind, ID: r.ID, Reason: r.Reason})
	}
	return d
}

type InsertResponse struct {
	OK         bool         `json:"ok"`
	VehicleID  int64        `json:"vehicleId,omitempty"`
	Message    string       `json:"message"`
	Impact     *ImpactView  `json:"impact,omitempty"`
	SolutionID string       `json:"solutionId"`
	Itinerary  SolutionView `json:"itinerary"`
}

type ImpactView struct {
	DistanceKm    float64 `json:"distanceKm"`
	DurationMin   float64 `json:"durationMin"`
	Violations    int     `json:"violations"`
	LatenessMin   float64 `json:"latenessMin"`
	Fitness       float64 `json:"fitness"`
	FitnessBefore float64 `json:"fitnessBefore"`
	FitnessAfter  float64 `json:"fitnessAfter"`
}

func NewImpactView(in opt.Impact) *ImpactView {
	return &ImpactView{
		DistanceKm:    round(in.DistanceKm),
		DurationMin:   round(in.DurationMin),
		Violations:    in.Violations,
		LatenessMin:   round(in.LatenessMin),
		Fitness:       round(in.Fitness),
		FitnessBefore: round(in.FitnessBefore),
		FitnessAfter:  round(in.FitnessAfter),
	}
}

func NewStationIn(s opt.Station) StationIn {
	return StationIn{ID: s.ID, Name: s.Name, Lat: s.Lat, Lng: s.Lng}
}

func NewVehicleIn(v opt.Vehicle) VehicleIn {
	return VehicleIn{ID: v.ID, Capacity: v.Capacity, Label: v.Label}
}

// ReservationView is a stored reservation with its planning status.
type ReservationView struct {
	ReservationIn
	Status string `json:"status"`
}

func NewReservationView(r opt.Reservation) ReservationView {
	return ReservationView{
		ReservationIn: ReservationIn{
			ID:          r.ID,
			Pickup:      r.Pickup,
			Dropoff:     r.Dropoff,
			Passengers:  r.Passengers,
			DesiredTime: opt.FormatClock(r.DesiredMin),
		},
		Status: string(r.Status),
	}
}
