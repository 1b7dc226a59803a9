package job

import (
	"strings"
	"time"
)

// Family distinguishes the two schedulable record kinds. They share one
// record shape and one dispatch path; only status vocabulary, payload and
// message rendering differ.
type Family string

const (
	FamilyReminder Family = "reminder"
	FamilyHabit    Family = "habit"
)

type Status string

const (
	// Reminder statuses.
	StatusScheduled Status = "scheduled"
	StatusSent      Status = "sent"

	// Habit statuses.
	StatusActive Status = "active"

	// Shared.
	StatusPaused  Status = "paused"
	StatusDeleted Status = "deleted"
	// StatusError marks a job that cannot be delivered until an operator or
	// edit flow fixes it (e.g. missing destination chat). Excluded from the
	// due set.
	StatusError Status = "error"
)

// ActiveStatuses returns the statuses eligible for due-set queries.
func ActiveStatuses(f Family) []Status {
	if f == FamilyHabit {
		return []Status{StatusActive}
	}
	return []Status{StatusScheduled}
}

// RunningStatus is the status a live recurring job carries for its family.
func RunningStatus(f Family) Status {
	if f == FamilyHabit {
		return StatusActive
	}
	return StatusScheduled
}

// TerminalStatus is the status a retired job moves to after its final run.
func TerminalStatus(f Family) Status {
	if f == FamilyHabit {
		return StatusPaused
	}
	return StatusSent
}

// Span is a rich-formatting range over the payload text
// (offsets/lengths in UTF-16 code units, Telegram convention).
type Span struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

// Habit describes a tracked habit: what to check in on and how much.
type Habit struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount,omitempty"`
	Unit   string  `json:"unit,omitempty"`
}

// Payload is the deliverable content of a job.
type Payload struct {
	Text  string `json:"text,omitempty"`
	Spans []Span `json:"spans,omitempty"`
	Habit *Habit `json:"habit,omitempty"`
}

// Lock is time-bounded exclusive ownership of a job record. Present only
// while an instance is delivering the job.
type Lock struct {
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
	LockedBy  string    `json:"locked_by"`
}

// Job is the unit of scheduling.
//
// NextRunAt is the sole field the dispatcher filters and sorts on. All
// wall-clock computation is anchored to Timezone (IANA name).
type Job struct {
	ID     string
	Family Family

	OwnerID int64 // user who owns the job
	ChatID  int64 // destination conversation (may differ, e.g. group delivery)

	Payload  Payload
	Status   Status
	Schedule Schedule
	Timezone string

	NextRunAt time.Time
	LastRunAt time.Time // zero if never delivered; audit only

	Lock *Lock

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Location resolves the job's timezone, falling back to UTC when the name is
// missing or unknown. A bad zone must degrade, never error: retiring a user's
// reminder over a zone rename would be worse than delivering in UTC.
func (j *Job) Location() *time.Location {
	return LoadLocation(j.Timezone)
}

func LoadLocation(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
