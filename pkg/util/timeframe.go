package util

import (
	"strconv"
	"strings"
	"time"
)

// TimeframeDuration converts a bar timeframe such as "15m", "4h", "1d" or "1w" to a duration.
// Returns (0, false) when the string is not a timeframe.
func TimeframeDuration(tf string) (time.Duration, bool) {
	tf = strings.TrimSpace(tf)
	if len(tf) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	var unit time.Duration
	switch tf[len(tf)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, false
	}
	return time.Duration(n) * unit, true
}

// AlignToTimeframe truncates t to the start of its bar. Unknown timeframes leave t untouched.
func AlignToTimeframe(t time.Time, tf string) time.Time {
	d, ok := TimeframeDuration(tf)
	if !ok {
		return t
	}
	return t.UTC().Truncate(d)
}

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}
