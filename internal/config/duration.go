package config

import (
	"fmt"
	"regexp"
	"time"
)

// durationPattern matches spec.md §6's duration grammar: a number
// followed by one of s/m/h, e.g. "30s", "5m", "1.5h".
var durationPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?(s|m|h)$`)

// parseDuration validates text against spec.md's <number><unit> grammar
// before handing it to time.ParseDuration, which is a superset (it also
// accepts "ms"/"us"/"ns" and multi-unit combinations like "1h30m") that
// the spec does not sanction — rejecting those up front keeps error
// messages specific to what the config format actually allows.
func parseDuration(text string) (time.Duration, error) {
	if !durationPattern.MatchString(text) {
		return 0, fmt.Errorf("invalid duration %q: expected a number followed by s, m, or h", text)
	}
	d, err := time.ParseDuration(text)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", text, err)
	}
	return d, nil
}
