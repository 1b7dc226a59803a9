package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"remindbot/internal/job"
)

func newReminder(t *testing.T, m *Memory, due time.Time) *job.Job {
	t.Helper()
	j := &job.Job{
		Family:    job.FamilyReminder,
		OwnerID:   7,
		ChatID:    7,
		Payload:   job.Payload{Text: "water the plants"},
		Status:    job.StatusScheduled,
		Schedule:  job.Schedule{Kind: job.KindOnce},
		Timezone:  "UTC",
		NextRunAt: due,
	}
	if err := m.Create(context.Background(), j); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return j
}

func TestClaimExactlyOneWinner(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	now := time.Now()
	j := newReminder(t, m, now)

	const racers = 16
	active := job.ActiveStatuses(job.FamilyReminder)

	var wg sync.WaitGroup
	wins := make(chan string, racers)
	for i := 0; i < racers; i++ {
		id := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.Claim(context.Background(), j.ID, id, active, now, time.Minute)
			if err != nil {
				t.Errorf("Claim: %v", err)
				return
			}
			if ok {
				wins <- id
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("winners = %v, want exactly one", winners)
	}
}

func TestClaimSelfHealsAfterTTL(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	now := time.Now()
	j := newReminder(t, m, now)
	active := job.ActiveStatuses(job.FamilyReminder)

	ok, err := m.Claim(context.Background(), j.ID, "instance-a", active, now, time.Second)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}

	// Before expiry another instance must lose.
	ok, err = m.Claim(context.Background(), j.ID, "instance-b", active, now.Add(500*time.Millisecond), time.Second)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if ok {
		t.Fatal("claim on a live lock must fail")
	}

	// A never released, but its TTL passed: B reclaims.
	ok, err = m.Claim(context.Background(), j.ID, "instance-b", active, now.Add(2*time.Second), time.Second)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !ok {
		t.Fatal("claim after TTL expiry must succeed")
	}
}

func TestReleaseOnlyByHolder(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	now := time.Now()
	j := newReminder(t, m, now)
	active := job.ActiveStatuses(job.FamilyReminder)

	if ok, _ := m.Claim(context.Background(), j.ID, "instance-a", active, now, time.Second); !ok {
		t.Fatal("claim failed")
	}
	// TTL passes; B reclaims, then A's stale release must not clear B's lock.
	later := now.Add(2 * time.Second)
	if ok, _ := m.Claim(context.Background(), j.ID, "instance-b", active, later, time.Minute); !ok {
		t.Fatal("reclaim failed")
	}
	if err := m.Release(context.Background(), j.ID, "instance-a"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	got, err := m.Get(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Lock == nil || got.Lock.LockedBy != "instance-b" {
		t.Fatalf("lock = %+v, want still held by instance-b", got.Lock)
	}
}

func TestClaimRespectsStatus(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	now := time.Now()
	j := newReminder(t, m, now)

	paused := job.StatusPaused
	if err := m.Patch(context.Background(), j.ID, Patch{Status: &paused}); err != nil {
		t.Fatalf("Patch: %v", err)
	}
	ok, err := m.Claim(context.Background(), j.ID, "a", job.ActiveStatuses(job.FamilyReminder), now, time.Minute)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if ok {
		t.Fatal("paused job must not be claimable")
	}
}

func TestFindDueOrderingAndBounds(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	now := time.Now()

	late := newReminder(t, m, now.Add(-1*time.Minute))
	early := newReminder(t, m, now.Add(-10*time.Minute))
	newReminder(t, m, now.Add(time.Hour)) // not due

	due, err := m.FindDue(context.Background(), job.FamilyReminder, job.ActiveStatuses(job.FamilyReminder), now, 25)
	if err != nil {
		t.Fatalf("FindDue: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("len(due) = %d, want 2", len(due))
	}
	if due[0].ID != early.ID || due[1].ID != late.ID {
		t.Fatalf("due order = [%s %s], want earliest first", due[0].ID, due[1].ID)
	}

	due, err = m.FindDue(context.Background(), job.FamilyReminder, job.ActiveStatuses(job.FamilyReminder), now, 1)
	if err != nil {
		t.Fatalf("FindDue: %v", err)
	}
	if len(due) != 1 || due[0].ID != early.ID {
		t.Fatalf("bounded batch = %v, want only the earliest job", due)
	}
}

func TestPatchMissingJob(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	st := job.StatusSent
	if err := m.Patch(context.Background(), "nope", Patch{Status: &st}); err != ErrNotFound {
		t.Fatalf("Patch on missing job = %v, want ErrNotFound", err)
	}
}

func TestDeleteIsSoftAndClearsLock(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	now := time.Now()
	j := newReminder(t, m, now)

	active := job.ActiveStatuses(job.FamilyReminder)
	if ok, _ := m.Claim(context.Background(), j.ID, "holder", active, now, time.Minute); !ok {
		t.Fatal("claim should succeed")
	}
	if err := m.Delete(context.Background(), j.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, err := m.Get(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if got.Status != job.StatusDeleted {
		t.Fatalf("status = %q, want deleted", got.Status)
	}
	if got.Lock != nil {
		t.Fatal("lock should be cleared on delete")
	}

	due, err := m.FindDue(context.Background(), job.FamilyReminder, active, now.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("FindDue: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("deleted job still due: %d", len(due))
	}

	if err := m.Delete(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("Delete missing = %v, want ErrNotFound", err)
	}
}
