package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseRateLimit parses strings like "100/minute" into a request count
// and the window it applies to. Accepted units: second, minute, hour.
func ParseRateLimit(s string) (n int, per time.Duration, err error) {
	count, unit, ok := strings.Cut(s, "/")
	if !ok {
		return 0, 0, fmt.Errorf("rate limit %q: want <n>/<unit>", s)
	}

	n, err = strconv.Atoi(strings.TrimSpace(count))
	if err != nil || n < 1 {
		return 0, 0, fmt.Errorf("rate limit %q: count must be a positive integer", s)
	}

	switch strings.TrimSpace(unit) {
	case "second":
		per = time.Second
	case "minute":
		per = time.Minute
	case "hour":
		per = time.Hour
	default:
		return 0, 0, fmt.Errorf("rate limit %q: unit must be second, minute or hour", s)
	}
	return n, per, nil
}
