// Package humantime parses the "2h", "1d" style durations used in the
// auto-shutdown configuration. The standard library's time.ParseDuration
// has no notion of days or weeks, which the config format requires, so
// this package wraps it with a day/week-aware preprocessing step instead
// of hand-rolling a full duration grammar.
package humantime

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses a duration string accepting every unit
// time.ParseDuration does ("h", "m", "s", "ms", "us", "ns") plus "d"
// (24h) and "w" (7d). "d" and "w" are accepted only as a single trailing
// unit on an integer or decimal magnitude (e.g. "1.5d", "2w"), so "1d2h"
// is rejected; strings time.ParseDuration accepts, including composites
// like "1h30m", are passed through unchanged.
func ParseDuration(s string) (time.Duration, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("humantime: empty duration")
	}

	if d, err := time.ParseDuration(trimmed); err == nil {
		return d, nil
	}

	unitLen := 1
	suffix := trimmed[len(trimmed)-unitLen:]
	var scale time.Duration
	switch suffix {
	case "d":
		scale = 24 * time.Hour
	case "w":
		scale = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("humantime: unrecognized duration %q", s)
	}

	magnitude, err := strconv.ParseFloat(trimmed[:len(trimmed)-unitLen], 64)
	if err != nil {
		return 0, fmt.Errorf("humantime: invalid magnitude in %q: %w", s, err)
	}

	return time.Duration(magnitude * float64(scale)), nil
}
