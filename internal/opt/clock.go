package opt

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// ParseClock parses "HH:MM" or "HH:MM:SS" into minutes after midnight.
func ParseClock(s string) (float64, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range []string{"15:04", "15:04:05"} {
		t, err := time.Parse(layout, s)
		if err == nil {
			return float64(t.Hour()*60+t.Minute()) + float64(t.Second())/60, nil
		}
		lastErr = err
	}
	return 0, fmt.Errorf("parse clock %q: want HH:MM[:SS]: %w", s, lastErr)
}

// FormatClock renders minutes after midnight as "HH:MM", wrapping around the day.
func FormatClock(min float64) string {
	m := int(math.Round(min)) % minutesPerDay
	if m < 0 {
		m += minutesPerDay
	}
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
