package matrix

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minibus/internal/opt"
)

func TestCached_HitAfterMiss(t *testing.T) {
	db, err := OpenCache(filepath.Join(t.TempDir(), "matrix.db"))
	require.NoError(t, err)
	defer db.Close()
	log, _ := test.NewNullLogger()

	inner := &stubProvider{name: "osrm"}
	c := &Cached{DB: db, Inner: inner, Log: log}
	st := stationsOnMeridian(4)

	first, err := c.Matrix(context.Background(), st)
	require.NoError(t, err)
	second, err := c.Matrix(context.Background(), st)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	for _, a := range first.IDs() {
		for _, b := range first.IDs() {
			assert.InDelta(t, first.Distance(a, b), second.Distance(a, b), 1e-9)
			assert.InDelta(t, first.Duration(a, b), second.Duration(a, b), 1e-9)
		}
	}

	// A station the cache has never seen forces a fresh fetch.
	st = append(st, opt.Station{ID: 99, Lat: 45.5, Lng: 0.7})
	_, err = c.Matrix(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCached_InnerErrorPropagates(t *testing.T) {
	db, err := OpenCache(filepath.Join(t.TempDir(), "matrix.db"))
	require.NoError(t, err)
	defer db.Close()

	c := &Cached{DB: db, Inner: &stubProvider{name: "osrm", err: ErrProviderUnavailable}}
	_, err = c.Matrix(context.Background(), stationsOnMeridian(2))
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}
