package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/job"
	"remindbot/internal/store"
	logx "remindbot/pkg/logx"
)

// DefaultLockTTL must comfortably exceed a delivery plus the outcome write.
// Deliveries are sub-second; a minute leaves room for a wedged instance to
// self-heal without double-sending in normal operation.
const DefaultLockTTL = 60 * time.Second

// Locker claims and releases per-job locks through the store's conditional
// updates. It is the only cross-instance coordination point: no leader
// election, no shared memory, no messaging between instances.
type Locker struct {
	st         store.Store
	instanceID string
	ttl        time.Duration
	log        logx.Logger
}

func NewLocker(st store.Store, instanceID string, ttl time.Duration, log logx.Logger) *Locker {
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Locker{st: st, instanceID: instanceID, ttl: ttl, log: log}
}

func (l *Locker) InstanceID() string { return l.instanceID }

// Claim attempts to take exclusive ownership of the job until now+TTL.
// false means another instance holds a live lock or the job left the active
// set since it was fetched; both are normal outcomes, not errors.
func (l *Locker) Claim(ctx context.Context, j *job.Job, now time.Time) (bool, error) {
	return l.st.Claim(ctx, j.ID, l.instanceID, job.ActiveStatuses(j.Family), now, l.ttl)
}

// Release clears the lock if this instance still holds it. Errors are logged
// and swallowed: an unreleased lock self-heals at TTL expiry.
func (l *Locker) Release(ctx context.Context, j *job.Job) {
	if err := l.st.Release(ctx, j.ID, l.instanceID); err != nil {
		l.log.Warn("lock release failed", logx.String("job", j.ID), logx.Err(err))
	}
}
