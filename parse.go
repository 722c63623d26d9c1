package authscheme

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseOrDefault returns fallback when raw is empty; otherwise it applies
// parse and propagates its error unchanged. Pure and stateless.
func ParseOrDefault[T any](raw string, parse func(string) (T, error), fallback T) (T, error) {
	if raw == "" {
		return fallback, nil
	}
	return parse(raw)
}

// ParseInvariantDuration parses a duration in Go syntax ("90s", "1h30m") or
// the invariant timespan form [-][d.]hh:mm[:ss[.fffffff]]. Configuration
// migrated from hosts that serialize timespans carries the latter; both are
// accepted so the same file works before and after migration.
//
// Note: only BackchannelTimeout and RefreshInterval are parsed this way. The
// two token expiration fields accept Go syntax alone.
func ParseInvariantDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	return parseTimespan(s)
}

func parseTimespan(s string) (time.Duration, error) {
	orig := s
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	var days int64
	if i := strings.IndexByte(s, '.'); i > 0 && !strings.Contains(s[:i], ":") {
		d, err := strconv.ParseInt(s[:i], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid timespan %q", orig)
		}
		days = d
		s = s[i+1:]
	}

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid timespan %q", orig)
	}

	hours, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("invalid timespan %q", orig)
	}
	minutes, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid timespan %q", orig)
	}
	var seconds float64
	if len(parts) == 3 {
		seconds, err = strconv.ParseFloat(parts[2], 64)
		if err != nil || seconds < 0 || seconds >= 60 {
			return 0, fmt.Errorf("invalid timespan %q", orig)
		}
	}

	d := time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(math.Round(seconds*float64(time.Second)))
	if neg {
		d = -d
	}
	return d, nil
}
