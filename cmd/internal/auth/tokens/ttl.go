package tokens

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var compactTTL = regexp.MustCompile(`^(\d+)([smhd])$`)

var ttlUnits = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
}

// ParseTTL parses a token lifetime. It accepts a raw count of seconds ("3600")
// or a compact duration ("15m", "24h", "7d"). Anything else, including zero,
// yields def.
func ParseTTL(s string, def time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return scaleTTL(n, time.Second, def)
	}

	m := compactTTL.FindStringSubmatch(s)
	if m == nil {
		return def
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return def
	}
	return scaleTTL(n, ttlUnits[m[2]], def)
}

func scaleTTL(n int64, unit, def time.Duration) time.Duration {
	if n <= 0 || n > math.MaxInt64/int64(unit) {
		return def
	}
	return time.Duration(n) * unit
}
