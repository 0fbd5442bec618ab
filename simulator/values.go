package simulator

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// evalValue resolves an attribute value specification at fire time.
// Supported forms: "random(min,max)" for a uniform float, "date-now" for the
// simulated timestamp, anything else as a literal.
func evalValue(spec string, now time.Time, rng *rand.Rand) string {
	trimmed := strings.TrimSpace(spec)
	if trimmed == "date-now" {
		return now.UTC().Format(time.RFC3339)
	}
	if min, max, ok := parseRandomSpec(trimmed); ok {
		value := min + rng.Float64()*(max-min)
		return strconv.FormatFloat(value, 'f', 2, 64)
	}
	return spec
}

// parseRandomSpec parses "random(min,max)". Malformed specs report !ok and
// fall back to literal treatment by the caller.
func parseRandomSpec(spec string) (min, max float64, ok bool) {
	if !strings.HasPrefix(spec, "random(") || !strings.HasSuffix(spec, ")") {
		return 0, 0, false
	}
	inner := spec[len("random(") : len(spec)-1]
	parts := strings.Split(inner, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, false
	}
	hi, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, false
	}
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo, hi, true
}

// ValidateValueSpec reports whether a spec that looks like a generator call
// actually parses, so configuration errors surface before the run starts.
func ValidateValueSpec(spec string) error {
	trimmed := strings.TrimSpace(spec)
	if strings.HasPrefix(trimmed, "random(") {
		if _, _, ok := parseRandomSpec(trimmed); !ok {
			return fmt.Errorf("malformed random() value spec: %q", spec)
		}
	}
	return nil
}
