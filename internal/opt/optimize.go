package opt

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Hooks are optional observers of an optimization run.
type Hooks struct {
	Logger     logrus.FieldLogger
	OnProgress func(Progress)
}

// Optimize validates the input and runs the search. Rejected inputs are
// logged and returned on the Result; a run left with no vehicles or no
// reservations fails instead of producing an empty plan.
func Optimize(ctx context.Context, in Input, params Params, cfg Config, hooks Hooks) (*Result, error) {
	log := hooks.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	p, rejected, err := NewProblem(in)
	if err != nil {
		return nil, fmt.Errorf("optimize: %w", err)
	}
	for _, r := range rejected {
		log.WithFields(logrus.Fields{"kind": r.Kind, "id": r.ID}).Warnf("input rejected: %s", r.Reason)
	}
	if len(p.Vehicles) == 0 {
		return nil, fmt.Errorf("optimize: %w", ErrNoVehicles)
	}
	if len(p.Reservations) == 0 {
		return nil, fmt.Errorf("optimize: %w", ErrNoReservations)
	}

	s := &Search{Problem: p, Params: params, Config: cfg, Logger: log, OnProgress: hooks.OnProgress}
	res, err := s.Run(ctx)
	if err != nil {
		if errors.Is(err, ErrEmptyPopulation) {
			return nil, fmt.Errorf("optimize: %w", err)
		}
		return nil, fmt.Errorf("optimize: search: %w", err)
	}
	res.Rejected = rejected
	return res, nil
}
