package matrix

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minibus/internal/opt"
)

func TestGreatCircle(t *testing.T) {
	paris := opt.Station{ID: 2, Lat: 48.8566, Lng: 2.3522}
	lyon := opt.Station{ID: 1, Lat: 45.7640, Lng: 4.8357}

	m, err := GreatCircle{SpeedKph: 60}.Matrix(context.Background(), []opt.Station{paris, lyon})
	require.NoError(t, err)

	km := m.Distance(1, 2)
	assert.Greater(t, km, 385.0)
	assert.Less(t, km, 400.0)
	assert.InDelta(t, km, m.Duration(1, 2), 1e-9, "60 km/h is one km per minute")
	assert.Equal(t, km, m.Distance(2, 1))
	assert.Zero(t, m.Distance(1, 1))
}

func TestGreatCircle_Defaults(t *testing.T) {
	a := opt.Station{ID: 1, Lat: 0, Lng: 0}
	b := opt.Station{ID: 2, Lat: 0, Lng: 0.1}
	m, err := GreatCircle{}.Matrix(context.Background(), []opt.Station{a, b})
	require.NoError(t, err)
	// 30 km/h: two minutes per kilometer
	assert.InDelta(t, m.Distance(1, 2)*2, m.Duration(1, 2), 1e-9)

	_, err = GreatCircle{}.Matrix(context.Background(), []opt.Station{a, a})
	assert.Error(t, err)
	_, err = GreatCircle{}.Matrix(context.Background(), nil)
	assert.ErrorIs(t, err, opt.ErrIncompleteMatrix)
}
