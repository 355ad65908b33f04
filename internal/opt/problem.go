package opt

import (
	"errors"
	"fmt"
)

var (
	ErrNoVehicles           = errors.New("no usable vehicles")
	ErrNoReservations       = errors.New("no valid reservations")
	ErrEmptyPopulation      = errors.New("no feasible population could be constructed")
	ErrUnknownStation       = errors.New("unknown station")
	ErrIncompleteMatrix     = errors.New("incomplete cost matrix")
	ErrDuplicateReservation = errors.New("duplicate reservation")
	ErrInvalidReservation   = errors.New("invalid reservation")
	ErrInvalidVehicle       = errors.New("invalid vehicle")
)

// Rejection records an input dropped before optimization.
type Rejection struct {
	Kind   string // "reservation" or "vehicle"
	ID     int64
	Reason string
	Err    error
}

func (r Rejection) Error() string {
	return fmt.Sprintf("%s %d rejected: %s", r.Kind, r.ID, r.Reason)
}

func (r Rejection) Unwrap() error { return r.Err }

// Input is the raw material of one optimization run.
type Input struct {
	Stations     []Station
	Vehicles     []Vehicle
	Reservations []Reservation
	Depot        int64
	Matrix       *CostMatrix
}

// Problem is the validated, read-only view shared by every solution of a run.
type Problem struct {
	Stations     map[int64]Station
	Vehicles     []Vehicle
	Reservations []Reservation
	Depot        int64
	Matrix       *CostMatrix

	resIndex map[int64]int
	vehIndex map[int64]int
}

// NewProblem validates the input. Invalid reservations and vehicles are
// returned as rejections rather than failing the whole problem; a missing
// matrix or depot is an error.
func NewProblem(in Input) (*Problem, []Rejection, error) {
	if in.Matrix == nil {
		return nil, nil, fmt.Errorf("new problem: %w: no matrix", ErrIncompleteMatrix)
	}
	p := &Problem{
		Stations: make(map[int64]Station, len(in.Stations)),
		Depot:    in.Depot,
		Matrix:   in.Matrix,
		resIndex: make(map[int64]int, len(in.Reservations)),
		vehIndex: make(map[int64]int, len(in.Vehicles)),
	}
	for _, s := range in.Stations {
		p.Stations[s.ID] = s
	}
	if !p.knownStation(in.Depot) {
		return nil, nil, fmt.Errorf("new problem: depot %d: %w", in.Depot, ErrUnknownStation)
	}

	var rejected []Rejection
	for _, v := range in.Vehicles {
		if _, dup := p.vehIndex[v.ID]; dup {
			rejected = append(rejected, Rejection{Kind: "vehicle", ID: v.ID, Reason: "duplicate id", Err: ErrInvalidVehicle})
			continue
		}
		if v.Capacity < 1 {
			rejected = append(rejected, Rejection{Kind: "vehicle", ID: v.ID, Reason: fmt.Sprintf("capacity %d", v.Capacity), Err: ErrInvalidVehicle})
			continue
		}
		p.vehIndex[v.ID] = len(p.Vehicles)
		p.Vehicles = append(p.Vehicles, v)
	}
	for _, r := range in.Reservations {
		if _, dup := p.resIndex[r.ID]; dup {
			rejected = append(rejected, Rejection{Kind: "reservation", ID: r.ID, Reason: "duplicate id", Err: ErrDuplicateReservation})
			continue
		}
		if err := p.CheckReservation(r); err != nil {
			rejected = append(rejected, Rejection{Kind: "reservation", ID: r.ID, Reason: err.Error(), Err: err})
			continue
		}
		p.resIndex[r.ID] = len(p.Reservations)
		p.Reservations = append(p.Reservations, r)
	}
	return p, rejected, nil
}

func (p *Problem) knownStation(id int64) bool {
	_, ok := p.Stations[id]
	return ok && p.Matrix.Has(id)
}

// CheckReservation reports why r cannot be planned against p, if at all.
func (p *Problem) CheckReservation(r Reservation) error {
	switch {
	case r.Passengers < 1:
		return fmt.Errorf("%w: passenger count %d", ErrInvalidReservation, r.Passengers)
	case r.Pickup == r.Dropoff:
		return fmt.Errorf("%w: pickup and dropoff are both station %d", ErrInvalidReservation, r.Pickup)
	case !p.knownStation(r.Pickup):
		return fmt.Errorf("pickup station %d: %w", r.Pickup, ErrUnknownStation)
	case !p.knownStation(r.Dropoff):
		return fmt.Errorf("dropoff station %d: %w", r.Dropoff, ErrUnknownStation)
	}
	return nil
}

func (p *Problem) Reservation(id int64) (Reservation, bool) {
	i, ok := p.resIndex[id]
	if !ok {
		return Reservation{}, false
	}
	return p.Reservations[i], true
}

func (p *Problem) Vehicle(id int64) (Vehicle, bool) {
	i, ok := p.vehIndex[id]
	if !ok {
		return Vehicle{}, false
	}
	return p.Vehicles[i], true
}

// withReservation returns a copy of the problem that also knows r. The
// receiver is left untouched so solutions still pointing at it are unaffected.
func (p *Problem) withReservation(r Reservation) (*Problem, error) {
	if _, dup := p.resIndex[r.ID]; dup {
		return nil, fmt.Errorf("reservation %d: %w", r.ID, ErrDuplicateReservation)
	}
	if err := p.CheckReservation(r); err != nil {
		return nil, fmt.Errorf("reservation %d: %w", r.ID, err)
	}
	out := *p
	out.Reservations = make([]Reservation, len(p.Reservations), len(p.Reservations)+1)
	copy(out.Reservations, p.Reservations)
	out.Reservations = append(out.Reservations, r)
	out.resIndex = make(map[int64]int, len(out.Reservations))
	for i, res := range out.Reservations {
		out.resIndex[res.ID] = i
	}
	return &out, nil
}
