// Package recur computes the next occurrence of a job schedule.
//
// Next is pure: (schedule, location, reference instant) in, next instant out.
// Results are always strictly after the reference, which is what guarantees
// forward progress for the dispatcher. Malformed descriptors degrade to
// "no next occurrence"; the engine never panics and never returns an error.
package recur

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"remindbot/internal/job"
)

// searchHorizonDays bounds day-by-day searches (weekly, times, windowed
// cadences). Two weeks covers every weekday restriction.
const searchHorizonDays = 14

// cronParser accepts standard 5-field crontab plus descriptors ("@daily",
// "@every 90m").
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Next returns the next occurrence of s strictly after ref, or ok=false when
// the schedule has no further occurrence (terminal, or unusable descriptor).
func Next(s job.Schedule, loc *time.Location, ref time.Time) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	switch s.Kind {
	case job.KindOnce:
		return time.Time{}, false
	case job.KindInterval:
		return nextInterval(s, ref)
	case job.KindDaily:
		return nextDaily(s, loc, ref)
	case job.KindWeekly:
		return nextWeekly(s, loc, ref)
	case job.KindMonthly:
		return nextMonthly(s, loc, ref)
	case job.KindYearly:
		return nextYearly(s, loc, ref)
	case job.KindTimes:
		return nextTimes(s, loc, ref)
	case job.KindHourly:
		return nextWindowed(s, loc, ref, 60)
	case job.KindEveryXMinutes:
		return nextWindowed(s, loc, ref, s.IntervalMinutes)
	case job.KindWeeklyAnchor:
		return nextWeeklyAnchor(s, loc, ref)
	case job.KindCron:
		return nextCron(s, loc, ref)
	default:
		return time.Time{}, false
	}
}

func nextInterval(s job.Schedule, ref time.Time) (time.Time, bool) {
	if s.IntervalMinutes <= 0 {
		return time.Time{}, false
	}
	return ref.Add(time.Duration(s.IntervalMinutes) * time.Minute), true
}

// nextDaily steps forward by DayInterval days from the reference date,
// re-deriving the wall clock from the zone each step so a DST transition
// keeps the local time of day.
func nextDaily(s job.Schedule, loc *time.Location, ref time.Time) (time.Time, bool) {
	hh, mm, err := parseHHMM(s.TimeOfDay)
	if err != nil {
		return time.Time{}, false
	}
	step := s.DayInterval
	if step <= 0 {
		step = 1
	}
	rl := ref.In(loc)
	y, m, d := rl.Date()
	for n := 0; n < 1000; n++ {
		cand := time.Date(y, m, d+n*step, hh, mm, 0, 0, loc)
		if cand.After(ref) {
			return cand, true
		}
	}
	return time.Time{}, false
}

func nextWeekly(s job.Schedule, loc *time.Location, ref time.Time) (time.Time, bool) {
	hh, mm, err := parseHHMM(s.TimeOfDay)
	if err != nil {
		return time.Time{}, false
	}
	rl := ref.In(loc)
	allowed := weekdaySet(s.DaysOfWeek)
	if len(allowed) == 0 {
		allowed = map[time.Weekday]bool{rl.Weekday(): true}
	}
	y, m, d := rl.Date()
	for n := 0; n <= searchHorizonDays; n++ {
		cand := time.Date(y, m, d+n, hh, mm, 0, 0, loc)
		if allowed[cand.Weekday()] && cand.After(ref) {
			return cand, true
		}
	}
	// Exhausted horizon (should not happen with a sane weekday set).
	return rl.AddDate(0, 0, 7), true
}

// nextMonthly anchors on DayOfMonth clamped to each month's length, stepping
// by MonthInterval months until strictly after the reference.
func nextMonthly(s job.Schedule, loc *time.Location, ref time.Time) (time.Time, bool) {
	hh, mm, err := parseHHMM(s.TimeOfDay)
	if err != nil {
		return time.Time{}, false
	}
	if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
		return time.Time{}, false
	}
	step := s.MonthInterval
	if step <= 0 {
		step = 1
	}
	rl := ref.In(loc)
	y, m := rl.Year(), rl.Month()
	for n := 0; n < 1200; n++ {
		d := clampDay(s.DayOfMonth, y, m)
		cand := time.Date(y, m, d, hh, mm, 0, 0, loc)
		if cand.After(ref) {
			return cand, true
		}
		y, m = addMonths(y, m, step)
	}
	return time.Time{}, false
}

func nextYearly(s job.Schedule, loc *time.Location, ref time.Time) (time.Time, bool) {
	hh, mm, err := parseHHMM(s.TimeOfDay)
	if err != nil {
		return time.Time{}, false
	}
	if s.Month < time.January || s.Month > time.December {
		return time.Time{}, false
	}
	if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
		return time.Time{}, false
	}
	step := s.YearInterval
	if step <= 0 {
		step = 1
	}
	y := ref.In(loc).Year()
	for n := 0; n < 400; n++ {
		d := clampDay(s.DayOfMonth, y, s.Month)
		cand := time.Date(y, s.Month, d, hh, mm, 0, 0, loc)
		if cand.After(ref) {
			return cand, true
		}
		y += step
	}
	return time.Time{}, false
}

// nextTimes picks the earliest entry of a time-of-day set strictly after the
// reference, today if possible, otherwise on the next allowed day.
func nextTimes(s job.Schedule, loc *time.Location, ref time.Time) (time.Time, bool) {
	type tod struct{ hh, mm int }
	todo := make([]tod, 0, len(s.Times))
	for _, raw := range s.Times {
		hh, mm, err := parseHHMM(raw)
		if err != nil {
			continue // skip unusable entries, keep the rest
		}
		todo = append(todo, tod{hh, mm})
	}
	if len(todo) == 0 {
		return time.Time{}, false
	}
	sort.Slice(todo, func(i, j int) bool {
		if todo[i].hh != todo[j].hh {
			return todo[i].hh < todo[j].hh
		}
		return todo[i].mm < todo[j].mm
	})

	allowed := weekdaySet(s.DaysOfWeek)
	rl := ref.In(loc)
	y, m, d := rl.Date()
	for n := 0; n <= searchHorizonDays; n++ {
		day := time.Date(y, m, d+n, 0, 0, 0, 0, loc)
		if len(allowed) > 0 && !allowed[day.Weekday()] {
			continue
		}
		for _, t := range todo {
			cand := time.Date(y, m, d+n, t.hh, t.mm, 0, 0, loc)
			if cand.After(ref) {
				return cand, true
			}
		}
	}
	return time.Time{}, false
}

// nextWindowed implements the fixed-cadence habit shapes: a cadence in
// minutes confined to an optional daily window [start,end), optionally
// weekday-restricted. Before the window it snaps to the window start; at or
// past the end it rolls to the next allowed day's start; inside the window
// it adds one cadence and clamps to the window.
func nextWindowed(s job.Schedule, loc *time.Location, ref time.Time, cadenceMinutes int) (time.Time, bool) {
	if cadenceMinutes <= 0 {
		return time.Time{}, false
	}
	cadence := time.Duration(cadenceMinutes) * time.Minute

	startMin, endMin, ok := parseWindow(s.WindowStart, s.WindowEnd)
	if !ok {
		return time.Time{}, false
	}

	allowed := weekdaySet(s.DaysOfWeek)
	rl := ref.In(loc)
	y, m, d := rl.Date()
	for n := 0; n <= searchHorizonDays; n++ {
		day := time.Date(y, m, d+n, 0, 0, 0, 0, loc)
		if len(allowed) > 0 && !allowed[day.Weekday()] {
			continue
		}
		// Bounds are re-derived from the zone per day, like nextDaily, so a
		// DST transition keeps the window at its configured local time.
		start := time.Date(y, m, d+n, startMin/60, startMin%60, 0, 0, loc)
		end := time.Date(y, m, d+n, endMin/60, endMin%60, 0, 0, loc)

		if n == 0 && !ref.Before(start) && ref.Before(end) {
			cand := ref.Add(cadence)
			if cand.Before(end) {
				return cand, true
			}
			continue // window exhausted today, roll forward
		}
		if start.After(ref) {
			return start, true
		}
	}
	return time.Time{}, false
}

// nextWeeklyAnchor returns anchor + 7k days for the smallest k that lands
// strictly after the reference. A future anchor is returned verbatim.
func nextWeeklyAnchor(s job.Schedule, loc *time.Location, ref time.Time) (time.Time, bool) {
	if s.Anchor.IsZero() {
		return time.Time{}, false
	}
	a := s.Anchor.In(loc)
	if a.After(ref) {
		return a, true
	}
	// Jump close, then finish stepping week by week (AddDate keeps the
	// anchor's local time of day across DST).
	weeks := int(ref.Sub(a) / (7 * 24 * time.Hour))
	cand := a.AddDate(0, 0, 7*weeks)
	for n := 0; n < 4; n++ {
		if cand.After(ref) {
			return cand, true
		}
		cand = cand.AddDate(0, 0, 7)
	}
	return cand, true
}

func nextCron(s job.Schedule, loc *time.Location, ref time.Time) (time.Time, bool) {
	expr := strings.TrimSpace(s.CronExpr)
	if expr == "" {
		return time.Time{}, false
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, false
	}
	next := sched.Next(ref.In(loc))
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

// ---- helpers ----

func parseHHMM(s string) (hh, mm int, err error) {
	s = strings.TrimSpace(s)
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return 0, 0, errBadTime
	}
	hh, err = strconv.Atoi(s[:i])
	if err != nil {
		return 0, 0, errBadTime
	}
	mm, err = strconv.Atoi(s[i+1:])
	if err != nil {
		return 0, 0, errBadTime
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, 0, errBadTime
	}
	return hh, mm, nil
}

var errBadTime = errors.New("recur: bad HH:MM time of day")

// parseWindow returns the daily window in minutes from local midnight.
// Missing bounds default to the whole day; an inverted window is unusable.
func parseWindow(start, end string) (startMin, endMin int, ok bool) {
	startMin, endMin = 0, 24*60
	if strings.TrimSpace(start) != "" {
		hh, mm, err := parseHHMM(start)
		if err != nil {
			return 0, 0, false
		}
		startMin = hh*60 + mm
	}
	if strings.TrimSpace(end) != "" {
		hh, mm, err := parseHHMM(end)
		if err != nil {
			return 0, 0, false
		}
		endMin = hh*60 + mm
	}
	if endMin <= startMin {
		return 0, 0, false
	}
	return startMin, endMin, true
}

func weekdaySet(days []time.Weekday) map[time.Weekday]bool {
	if len(days) == 0 {
		return nil
	}
	set := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		if d >= time.Sunday && d <= time.Saturday {
			set[d] = true
		}
	}
	return set
}

func clampDay(day, year int, month time.Month) int {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	return day
}

func addMonths(year int, month time.Month, step int) (int, time.Month) {
	t := time.Date(year, month+time.Month(step), 1, 0, 0, 0, 0, time.UTC)
	return t.Year(), t.Month()
}
