package job

import (
	"time"
)

// Kind tags the schedule variant. Exactly one set of parameter fields is
// meaningful per kind; the recurrence engine switches exhaustively on it.
type Kind string

const (
	KindOnce     Kind = "once"
	KindInterval Kind = "interval"
	KindDaily    Kind = "daily"
	KindWeekly   Kind = "weekly"
	KindMonthly  Kind = "monthly"
	KindYearly   Kind = "yearly"

	// Habit cadences.
	KindTimes         Kind = "times"
	KindHourly        Kind = "hourly"
	KindEveryXMinutes Kind = "every_x_minutes"
	KindWeeklyAnchor  Kind = "weekly_anchor"

	// KindCron evaluates a crontab expression in the job's timezone.
	KindCron Kind = "cron"
)

// Schedule is the tagged recurrence descriptor.
//
// Times of day are "HH:MM" strings interpreted in the job's timezone.
// Weekdays use time.Weekday numbering (Sunday = 0).
type Schedule struct {
	Kind Kind `json:"kind"`

	// interval, every_x_minutes: cadence in minutes.
	IntervalMinutes int `json:"interval_minutes,omitempty"`

	// daily, weekly, monthly, yearly: delivery time of day.
	TimeOfDay string `json:"time_of_day,omitempty"`

	// daily: step in days (default 1).
	DayInterval int `json:"day_interval,omitempty"`

	// weekly: allowed weekdays (empty = the reference instant's weekday).
	// times, hourly, every_x_minutes: optional weekday restriction.
	DaysOfWeek []time.Weekday `json:"days_of_week,omitempty"`

	// monthly, yearly: anchor day of month, clamped to short months.
	DayOfMonth int `json:"day_of_month,omitempty"`
	// monthly: step in months (default 1).
	MonthInterval int `json:"month_interval,omitempty"`

	// yearly: anchor month plus step in years (default 1).
	Month        time.Month `json:"month,omitempty"`
	YearInterval int        `json:"year_interval,omitempty"`

	// times: "HH:MM" set, earliest eligible entry wins.
	Times []string `json:"times,omitempty"`

	// hourly, every_x_minutes: optional daily window [start,end).
	WindowStart string `json:"window_start,omitempty"`
	WindowEnd   string `json:"window_end,omitempty"`

	// weekly_anchor: fixed anchor instant; occurrences at anchor + 7k days.
	Anchor time.Time `json:"anchor,omitempty"`

	// cron: crontab expression ("*/5 * * * *", "@daily", ...).
	CronExpr string `json:"cron_expr,omitempty"`
}

// Recurring reports whether the schedule can produce more than one
// occurrence.
func (s Schedule) Recurring() bool { return s.Kind != KindOnce }
