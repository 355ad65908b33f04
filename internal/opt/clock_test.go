package opt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	min, err := ParseClock("08:30")
	require.NoError(t, err)
	assert.Equal(t, 510.0, min)

	min, err = ParseClock(" 23:59:30 ")
	require.NoError(t, err)
	assert.InDelta(t, 1439.5, min, 1e-9)

	min, err = ParseClock("8:05")
	require.NoError(t, err)
	assert.Equal(t, 485.0, min)

	for _, bad := range []string{"", "8", "24:00", "12:60", "aa:bb", "1:2:3:4", "08:30pm", "08:30:61"} {
		_, err := ParseClock(bad)
		assert.Errorf(t, err, "input %q", bad)
	}
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "08:30", FormatClock(510))
	assert.Equal(t, "00:00", FormatClock(1440))
	assert.Equal(t, "23:30", FormatClock(-30))
	assert.Equal(t, "07:01", FormatClock(420.6))
}
