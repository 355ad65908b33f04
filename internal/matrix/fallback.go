package matrix

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"minibus/internal/metrics"
	"minibus/internal/opt"
)

// Fallback asks Primary first and, when it fails, Secondary once.
type Fallback struct {
	Primary   Provider
	Secondary Provider
	Log       logrus.FieldLogger
}

func (f *Fallback) Name() string { return f.Primary.Name() + "+" + f.Secondary.Name() }

func (f *Fallback) Matrix(ctx context.Context, stations []opt.Station) (*opt.CostMatrix, error) {
	m, err := f.Primary.Matrix(ctx, stations)
	if err == nil {
		metrics.MatrixFetches.WithLabelValues(f.Primary.Name(), "ok").Inc()
		return m, nil
	}
	metrics.MatrixFetches.WithLabelValues(f.Primary.Name(), "error").Inc()
	if ctx.Err() != nil {
		return nil, err
	}
	log := f.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithError(err).WithField("fallback", f.Secondary.Name()).Warn("primary matrix provider failed")

	m, ferr := f.Secondary.Matrix(ctx, stations)
	if ferr != nil {
		metrics.MatrixFetches.WithLabelValues(f.Secondary.Name(), "error").Inc()
		return nil, fmt.Errorf("matrix: %s: %w; fallback %s: %w", f.Primary.Name(), err, f.Secondary.Name(), ferr)
	}
	metrics.MatrixFetches.WithLabelValues(f.Secondary.Name(), "fallback").Inc()
	return m, nil
}
