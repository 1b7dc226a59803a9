package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDuration reads a Go-duration-string config field. An empty or
// zero-valued field falls back to def (pass 0 for no fallback); negative
// durations are rejected. path names the field in error messages, e.g.
// "scheduler.poll_interval".
func ParseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	case d == 0:
		return def, nil
	}
	return d, nil
}
