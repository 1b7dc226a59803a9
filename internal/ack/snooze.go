package ack

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Free-text snooze grammar: a number with an optional unit suffix.
//   "15"  -> 15 minutes
//   "15m" -> 15 minutes
//   "2h"  -> 120 minutes
//   "1d"  -> 1440 minutes
//   "1.5h" -> 90 minutes
// Case-insensitive, decimals allowed, rounded to whole minutes.
var reSnooze = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*([mhd]?)\s*$`)

var ErrBadDuration = errors.New("ack: unreadable snooze duration")

// ParseSnoozeMinutes parses the free-text snooze grammar. Zero or negative
// results are rejected; callers treat any error as "ask again".
func ParseSnoozeMinutes(text string) (int, error) {
	m := reSnooze.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return 0, ErrBadDuration
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, ErrBadDuration
	}
	switch m[2] {
	case "h":
		n *= 60
	case "d":
		n *= 24 * 60
	}
	minutes := int(math.Round(n))
	if minutes <= 0 {
		return 0, ErrBadDuration
	}
	return minutes, nil
}
