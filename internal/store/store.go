package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"remindbot/internal/job"
	logx "remindbot/pkg/logx"
)

var ErrNotFound = errors.New("store: job not found")

// Config configures the job store.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process map, no persistence (tests, dry runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Patch is a partial job update. Nil fields are left untouched. Every write
// the engine performs is a single-record update: all scheduling invariants
// are single-job-scoped, so no transactions span records.
type Patch struct {
	NextRunAt *time.Time
	LastRunAt *time.Time
	Status    *job.Status
	Schedule  *job.Schedule
}

// Store is the persistence boundary for scheduled jobs.
//
// Claim and Release are the only cross-instance synchronization mechanism:
// both are compare-and-set updates on the job's own record.
type Store interface {
	Create(ctx context.Context, j *job.Job) error
	Get(ctx context.Context, id string) (*job.Job, error)

	// FindDue returns jobs of the family whose status is in statuses and
	// whose NextRunAt is at or before now, ascending by NextRunAt, at most
	// limit records.
	FindDue(ctx context.Context, family job.Family, statuses []job.Status, now time.Time, limit int) ([]*job.Job, error)

	// Claim atomically locks the job for instanceID until now+ttl. It
	// succeeds only if the job's status is in statuses and the job is
	// unlocked or its lock has expired. Any other outcome returns false
	// with no side effect.
	Claim(ctx context.Context, id string, instanceID string, statuses []job.Status, now time.Time, ttl time.Duration) (bool, error)

	// Release clears the lock only if it is still held by instanceID, so a
	// lock reclaimed after TTL expiry is never released by the old holder.
	Release(ctx context.Context, id string, instanceID string) error

	Patch(ctx context.Context, id string, p Patch) error

	// Delete soft-deletes the job: the record stays for audit, the status
	// moves to deleted and the lock is cleared.
	Delete(ctx context.Context, id string) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown store driver: " + cfg.Driver)
	}
}
