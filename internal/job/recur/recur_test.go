package recur

import (
	"testing"
	"time"

	"remindbot/internal/job"
)

func mustZone(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("LoadLocation(%q): %v", name, err)
	}
	return loc
}

func TestOnceHasNoNext(t *testing.T) {
	t.Parallel()
	if _, ok := Next(job.Schedule{Kind: job.KindOnce}, time.UTC, time.Now()); ok {
		t.Fatal("once schedule must have no next occurrence")
	}
}

func TestInterval(t *testing.T) {
	t.Parallel()
	ref := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	got, ok := Next(job.Schedule{Kind: job.KindInterval, IntervalMinutes: 90}, time.UTC, ref)
	if !ok {
		t.Fatal("expected a next occurrence")
	}
	if want := ref.Add(90 * time.Minute); !got.Equal(want) {
		t.Fatalf("next = %v, want %v", got, want)
	}

	if _, ok := Next(job.Schedule{Kind: job.KindInterval}, time.UTC, ref); ok {
		t.Fatal("interval without minutes must degrade to no occurrence")
	}
	if _, ok := Next(job.Schedule{Kind: job.KindInterval, IntervalMinutes: -5}, time.UTC, ref); ok {
		t.Fatal("negative interval must degrade to no occurrence")
	}
}

func TestDailySameLocalTimeAcrossDST(t *testing.T) {
	t.Parallel()
	chi := mustZone(t, "America/Chicago")
	s := job.Schedule{Kind: job.KindDaily, TimeOfDay: "08:30"}

	// Spring forward: 2025-03-09 in Chicago (CST -> CDT).
	ref := time.Date(2025, 3, 8, 9, 0, 0, 0, chi)
	got, ok := Next(s, chi, ref)
	if !ok {
		t.Fatal("expected a next occurrence")
	}
	if got.Hour() != 8 || got.Minute() != 30 || got.Day() != 9 {
		t.Fatalf("spring-forward next = %v, want Mar 9 08:30 local", got)
	}
	if _, off := got.Zone(); off != -5*3600 {
		t.Fatalf("expected CDT offset after transition, got %d", off)
	}

	// Fall back: 2025-11-02.
	ref = time.Date(2025, 11, 1, 9, 0, 0, 0, chi)
	got, ok = Next(s, chi, ref)
	if !ok {
		t.Fatal("expected a next occurrence")
	}
	if got.Hour() != 8 || got.Minute() != 30 || got.Day() != 2 {
		t.Fatalf("fall-back next = %v, want Nov 2 08:30 local", got)
	}
	if _, off := got.Zone(); off != -6*3600 {
		t.Fatalf("expected CST offset after transition, got %d", off)
	}
}

func TestDailyInterval(t *testing.T) {
	t.Parallel()
	s := job.Schedule{Kind: job.KindDaily, TimeOfDay: "07:00", DayInterval: 3}
	ref := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC) // past 07:00 today
	got, ok := Next(s, time.UTC, ref)
	if !ok {
		t.Fatal("expected a next occurrence")
	}
	if want := time.Date(2025, 6, 13, 7, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next = %v, want %v", got, want)
	}
}

func TestWeeklyScenario(t *testing.T) {
	t.Parallel()
	chi := mustZone(t, "America/Chicago")
	s := job.Schedule{
		Kind:       job.KindWeekly,
		TimeOfDay:  "09:00",
		DaysOfWeek: []time.Weekday{time.Monday, time.Wednesday, time.Friday},
	}
	// 2025-06-10 is a Tuesday.
	ref := time.Date(2025, 6, 10, 10, 0, 0, 0, chi)
	got, ok := Next(s, chi, ref)
	if !ok {
		t.Fatal("expected a next occurrence")
	}
	if want := time.Date(2025, 6, 11, 9, 0, 0, 0, chi); !got.Equal(want) {
		t.Fatalf("next = %v, want Wednesday 09:00 (%v)", got, want)
	}
}

func TestWeeklyDefaultsToReferenceWeekday(t *testing.T) {
	t.Parallel()
	s := job.Schedule{Kind: job.KindWeekly, TimeOfDay: "09:00"}
	ref := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC) // Tuesday, past 09:00
	got, ok := Next(s, time.UTC, ref)
	if !ok {
		t.Fatal("expected a next occurrence")
	}
	if want := time.Date(2025, 6, 17, 9, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next = %v, want next Tuesday (%v)", got, want)
	}
}

func TestMonthlyClampsShortMonths(t *testing.T) {
	t.Parallel()
	s := job.Schedule{Kind: job.KindMonthly, TimeOfDay: "09:00", DayOfMonth: 31}

	ref := time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC)
	got, ok := Next(s, time.UTC, ref)
	if !ok {
		t.Fatal("expected a next occurrence")
	}
	if want := time.Date(2025, 2, 28, 9, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next = %v, want Feb 28 (%v)", got, want)
	}

	// Leap year keeps Feb 29.
	ref = time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC)
	got, ok = Next(s, time.UTC, ref)
	if !ok {
		t.Fatal("expected a next occurrence")
	}
	if want := time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next = %v, want Feb 29 (%v)", got, want)
	}
}

func TestYearlyFeb29Clamp(t *testing.T) {
	t.Parallel()
	s := job.Schedule{Kind: job.KindYearly, TimeOfDay: "12:00", Month: time.February, DayOfMonth: 29}
	ref := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	got, ok := Next(s, time.UTC, ref)
	if !ok {
		t.Fatal("expected a next occurrence")
	}
	if want := time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next = %v, want clamped Feb 28 2025 (%v)", got, want)
	}
}

func TestTimesSet(t *testing.T) {
	t.Parallel()
	s := job.Schedule{Kind: job.KindTimes, Times: []string{"21:00", "08:00", "13:30"}}
	ref := time.Date(2025, 6, 10, 9, 15, 0, 0, time.UTC)
	got, ok := Next(s, time.UTC, ref)
	if !ok {
		t.Fatal("expected a next occurrence")
	}
	if want := time.Date(2025, 6, 10, 13, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next = %v, want 13:30 today (%v)", got, want)
	}

	// Past the last entry: earliest tomorrow.
	ref = time.Date(2025, 6, 10, 22, 0, 0, 0, time.UTC)
	got, ok = Next(s, time.UTC, ref)
	if !ok {
		t.Fatal("expected a next occurrence")
	}
	if want := time.Date(2025, 6, 11, 8, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next = %v, want 08:00 tomorrow (%v)", got, want)
	}
}

func TestTimesWeekdayRestriction(t *testing.T) {
	t.Parallel()
	s := job.Schedule{
		Kind:       job.KindTimes,
		Times:      []string{"10:00"},
		DaysOfWeek: []time.Weekday{time.Saturday},
	}
	ref := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC) // Tuesday
	got, ok := Next(s, time.UTC, ref)
	if !ok {
		t.Fatal("expected a next occurrence")
	}
	if want := time.Date(2025, 6, 14, 10, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next = %v, want Saturday 10:00 (%v)", got, want)
	}
}

func TestWindowedCadence(t *testing.T) {
	t.Parallel()
	s := job.Schedule{
		Kind:            job.KindEveryXMinutes,
		IntervalMinutes: 45,
		WindowStart:     "09:00",
		WindowEnd:       "17:00",
	}

	tests := []struct {
		name string
		ref  time.Time
		want time.Time
	}{
		{
			name: "before window snaps to start",
			ref:  time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC),
			want: time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "inside window adds cadence",
			ref:  time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC),
			want: time.Date(2025, 6, 10, 10, 45, 0, 0, time.UTC),
		},
		{
			name: "past end rolls to next day start",
			ref:  time.Date(2025, 6, 10, 17, 30, 0, 0, time.UTC),
			want: time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "cadence overflowing window rolls to next day start",
			ref:  time.Date(2025, 6, 10, 16, 30, 0, 0, time.UTC),
			want: time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Next(s, time.UTC, tt.ref)
			if !ok {
				t.Fatal("expected a next occurrence")
			}
			if !got.Equal(tt.want) {
				t.Fatalf("next = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWindowedCadenceKeepsLocalWindowAcrossDST(t *testing.T) {
	t.Parallel()
	chicago, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Fatal(err)
	}
	s := job.Schedule{
		Kind:            job.KindEveryXMinutes,
		IntervalMinutes: 30,
		WindowStart:     "09:00",
		WindowEnd:       "17:00",
	}

	tests := []struct {
		name   string
		ref    time.Time
		wantHH int
		wantTZ string
	}{
		{
			name:   "spring forward day still opens at 09:00 local",
			ref:    time.Date(2025, 3, 9, 5, 0, 0, 0, chicago),
			wantHH: 9,
			wantTZ: "CDT",
		},
		{
			name:   "fall back day still opens at 09:00 local",
			ref:    time.Date(2025, 11, 2, 5, 0, 0, 0, chicago),
			wantHH: 9,
			wantTZ: "CST",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Next(s, chicago, tt.ref)
			if !ok {
				t.Fatal("expected a next occurrence")
			}
			local := got.In(chicago)
			if local.Hour() != tt.wantHH || local.Minute() != 0 {
				t.Fatalf("window start = %02d:%02d local, want %02d:00", local.Hour(), local.Minute(), tt.wantHH)
			}
			if name, _ := local.Zone(); name != tt.wantTZ {
				t.Fatalf("zone = %s, want %s", name, tt.wantTZ)
			}
		})
	}
}

func TestHourlySkipsDisallowedWeekday(t *testing.T) {
	t.Parallel()
	s := job.Schedule{
		Kind:        job.KindHourly,
		WindowStart: "08:00",
		WindowEnd:   "20:00",
		DaysOfWeek:  []time.Weekday{time.Monday, time.Tuesday},
	}
	// Tuesday evening past the window: next is Monday start, not Wednesday.
	ref := time.Date(2025, 6, 10, 21, 0, 0, 0, time.UTC)
	got, ok := Next(s, time.UTC, ref)
	if !ok {
		t.Fatal("expected a next occurrence")
	}
	if want := time.Date(2025, 6, 16, 8, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next = %v, want Monday 08:00 (%v)", got, want)
	}
}

func TestWeeklyAnchor(t *testing.T) {
	t.Parallel()
	anchor := time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC) // a Monday

	// Future anchor is returned verbatim.
	ref := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	got, ok := Next(job.Schedule{Kind: job.KindWeeklyAnchor, Anchor: anchor}, time.UTC, ref)
	if !ok || !got.Equal(anchor) {
		t.Fatalf("future anchor: next = %v ok=%v, want anchor verbatim", got, ok)
	}

	// Past anchor advances in whole weeks.
	ref = time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)
	got, ok = Next(job.Schedule{Kind: job.KindWeeklyAnchor, Anchor: anchor}, time.UTC, ref)
	if !ok {
		t.Fatal("expected a next occurrence")
	}
	if want := time.Date(2025, 6, 23, 18, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next = %v, want %v", got, want)
	}

	if _, ok := Next(job.Schedule{Kind: job.KindWeeklyAnchor}, time.UTC, ref); ok {
		t.Fatal("zero anchor must degrade to no occurrence")
	}
}

func TestCron(t *testing.T) {
	t.Parallel()
	ref := time.Date(2025, 6, 10, 12, 7, 0, 0, time.UTC)
	got, ok := Next(job.Schedule{Kind: job.KindCron, CronExpr: "*/15 * * * *"}, time.UTC, ref)
	if !ok {
		t.Fatal("expected a next occurrence")
	}
	if want := time.Date(2025, 6, 10, 12, 15, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("next = %v, want %v", got, want)
	}

	if _, ok := Next(job.Schedule{Kind: job.KindCron, CronExpr: "not a cron"}, time.UTC, ref); ok {
		t.Fatal("bad cron expression must degrade to no occurrence")
	}
}

// Forward progress: whatever the kind and reference, the result is either
// "no occurrence" or strictly after the reference.
func TestForwardProgress(t *testing.T) {
	t.Parallel()
	chi := mustZone(t, "America/Chicago")
	schedules := []job.Schedule{
		{Kind: job.KindOnce},
		{Kind: job.KindInterval, IntervalMinutes: 1},
		{Kind: job.KindDaily, TimeOfDay: "00:00"},
		{Kind: job.KindDaily, TimeOfDay: "23:59", DayInterval: 5},
		{Kind: job.KindWeekly, TimeOfDay: "09:00", DaysOfWeek: []time.Weekday{time.Sunday}},
		{Kind: job.KindMonthly, TimeOfDay: "09:00", DayOfMonth: 31},
		{Kind: job.KindYearly, TimeOfDay: "09:00", Month: time.February, DayOfMonth: 29},
		{Kind: job.KindTimes, Times: []string{"00:00", "12:00"}},
		{Kind: job.KindHourly, WindowStart: "01:00", WindowEnd: "02:00"},
		{Kind: job.KindEveryXMinutes, IntervalMinutes: 17},
		{Kind: job.KindWeeklyAnchor, Anchor: time.Date(2020, 1, 1, 8, 0, 0, 0, chi)},
		{Kind: job.KindCron, CronExpr: "0 9 * * 1-5"},
	}
	refs := []time.Time{
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 9, 1, 59, 0, 0, chi),  // just before spring forward
		time.Date(2025, 11, 2, 1, 0, 0, 0, chi),  // inside fall-back hour
		time.Date(2024, 2, 29, 23, 59, 0, 0, chi),
		time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC),
	}
	for _, s := range schedules {
		for _, ref := range refs {
			got, ok := Next(s, chi, ref)
			if ok && !got.After(ref) {
				t.Fatalf("kind %s: next %v is not strictly after ref %v", s.Kind, got, ref)
			}
		}
	}
}

func TestMalformedDescriptorsDegrade(t *testing.T) {
	t.Parallel()
	ref := time.Now()
	bad := []job.Schedule{
		{Kind: job.KindDaily},                                     // no time of day
		{Kind: job.KindDaily, TimeOfDay: "25:00"},                 // invalid hour
		{Kind: job.KindWeekly, TimeOfDay: "9am"},                  // not HH:MM
		{Kind: job.KindMonthly, TimeOfDay: "09:00"},               // no day of month
		{Kind: job.KindMonthly, TimeOfDay: "09:00", DayOfMonth: 32},
		{Kind: job.KindYearly, TimeOfDay: "09:00", DayOfMonth: 1}, // no month
		{Kind: job.KindTimes},                                     // empty set
		{Kind: job.KindEveryXMinutes},                             // no cadence
		{Kind: job.KindHourly, WindowStart: "18:00", WindowEnd: "09:00"}, // inverted window
		{Kind: "unknown"},
	}
	for _, s := range bad {
		if _, ok := Next(s, time.UTC, ref); ok {
			t.Fatalf("kind %s: malformed descriptor must degrade to no occurrence", s.Kind)
		}
	}
}
