package matrix

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minibus/internal/opt"
)

type stubProvider struct {
	name  string
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Matrix(ctx context.Context, st []opt.Station) (*opt.CostMatrix, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return GreatCircle{}.Matrix(ctx, st)
}

func TestFallback_UsesSecondaryOnce(t *testing.T) {
	primary := &stubProvider{name: "osrm", err: ErrProviderUnavailable}
	secondary := &stubProvider{name: "great_circle"}
	log, hook := test.NewNullLogger()
	f := &Fallback{Primary: primary, Secondary: secondary, Log: log}

	m, err := f.Matrix(context.Background(), stationsOnMeridian(3))
	require.NoError(t, err)
	assert.Equal(t, 3, m.Size())
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "osrm+great_circle", f.Name())
}

func TestFallback_PrimaryOK(t *testing.T) {
	primary := &stubProvider{name: "osrm"}
	secondary := &stubProvider{name: "great_circle"}
	f := &Fallback{Primary: primary, Secondary: secondary}

	_, err := f.Matrix(context.Background(), stationsOnMeridian(2))
	require.NoError(t, err)
	assert.Zero(t, secondary.calls)
}

func TestFallback_BothFail(t *testing.T) {
	boom := errors.New("boom")
	log, _ := test.NewNullLogger()
	f := &Fallback{
		Primary:   &stubProvider{name: "osrm", err: ErrProviderUnavailable},
		Secondary: &stubProvider{name: "backup", err: boom},
		Log:       log,
	}
	_, err := f.Matrix(context.Background(), stationsOnMeridian(2))
	assert.ErrorIs(t, err, boom)
	// callers map the primary's unavailability to 503
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestFallback_CancelledContextSkipsSecondary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	secondary := &stubProvider{name: "great_circle"}
	f := &Fallback{Primary: &stubProvider{name: "osrm", err: context.Canceled}, Secondary: secondary}

	_, err := f.Matrix(ctx, stationsOnMeridian(2))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, secondary.calls)
}
