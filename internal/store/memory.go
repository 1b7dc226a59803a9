package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/job"
)

// Memory is an in-process Store. It mirrors the sqlite backend's conditional
// update semantics under one mutex, which is what makes it usable for
// exercising claim races in tests.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]*job.Job
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*job.Job)}
}

func (m *Memory) Create(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	m.jobs[j.ID] = cloneJob(j)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

func (m *Memory) FindDue(_ context.Context, family job.Family, statuses []job.Status, now time.Time, limit int) ([]*job.Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 25
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*job.Job
	for _, j := range m.jobs {
		if j.Family != family || !statusIn(j.Status, statuses) || j.NextRunAt.After(now) {
			continue
		}
		due = append(due, cloneJob(j))
	}
	sort.Slice(due, func(i, k int) bool { return due[i].NextRunAt.Before(due[k].NextRunAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *Memory) Claim(_ context.Context, id, instanceID string, statuses []job.Status, now time.Time, ttl time.Duration) (bool, error) {
	if len(statuses) == 0 || ttl <= 0 {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok || !statusIn(j.Status, statuses) {
		return false, nil
	}
	if j.Lock != nil && j.Lock.ExpiresAt.After(now) {
		return false, nil
	}
	j.Lock = &job.Lock{LockedAt: now, ExpiresAt: now.Add(ttl), LockedBy: instanceID}
	j.UpdatedAt = now
	return true, nil
}

func (m *Memory) Release(_ context.Context, id, instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Lock == nil || j.Lock.LockedBy != instanceID {
		return nil
	}
	j.Lock = nil
	j.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) Patch(_ context.Context, id string, p Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if p.NextRunAt != nil {
		j.NextRunAt = *p.NextRunAt
	}
	if p.LastRunAt != nil {
		j.LastRunAt = *p.LastRunAt
	}
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.Schedule != nil {
		j.Schedule = *p.Schedule
	}
	j.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = job.StatusDeleted
	j.Lock = nil
	j.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) Close() error { return nil }

func statusIn(s job.Status, set []job.Status) bool {
	for _, x := range set {
		if s == x {
			return true
		}
	}
	return false
}

func cloneJob(j *job.Job) *job.Job {
	cp := *j
	if j.Lock != nil {
		l := *j.Lock
		cp.Lock = &l
	}
	if j.Payload.Habit != nil {
		h := *j.Payload.Habit
		cp.Payload.Habit = &h
	}
	if len(j.Payload.Spans) > 0 {
		cp.Payload.Spans = append([]job.Span(nil), j.Payload.Spans...)
	}
	if len(j.Schedule.DaysOfWeek) > 0 {
		cp.Schedule.DaysOfWeek = append([]time.Weekday(nil), j.Schedule.DaysOfWeek...)
	}
	if len(j.Schedule.Times) > 0 {
		cp.Schedule.Times = append([]string(nil), j.Schedule.Times...)
	}
	return &cp
}
