package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"remindbot/internal/job"
	"remindbot/internal/job/recur"
	"remindbot/internal/store"
	logx "remindbot/pkg/logx"
)

const (
	DefaultPollInterval   = 10 * time.Second
	DefaultBatchSize      = 25
	DefaultFailureBackoff = 5 * time.Minute
)

// Gateway delivers a due job to its destination conversation.
type Gateway interface {
	Deliver(ctx context.Context, j *job.Job) error
}

// Config holds the per-family dispatcher knobs.
type Config struct {
	Family         job.Family
	PollInterval   time.Duration
	BatchSize      int
	FailureBackoff time.Duration
}

// Dispatcher polls one job family for due jobs and drives each one through
// claim, deliver, reschedule, release. Multiple instances run the same loop
// against the same store; the per-job lock keeps deliveries exclusive.
type Dispatcher struct {
	cfg    Config
	st     store.Store
	gw     Gateway
	locker *Locker
	log    logx.Logger

	// now is a seam for tests; time.Now in production.
	now func() time.Time

	// pollNanos overrides cfg.PollInterval after a config reload.
	pollNanos int64

	// running guards against overlapping ticks: a slow tick causes the next
	// one to be skipped, never queued.
	running atomic.Bool
}

func New(cfg Config, st store.Store, gw Gateway, locker *Locker, log logx.Logger) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FailureBackoff <= 0 {
		cfg.FailureBackoff = DefaultFailureBackoff
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		cfg:    cfg,
		st:     st,
		gw:     gw,
		locker: locker,
		log:    log.With(logx.String("family", string(cfg.Family))),
		now:    time.Now,
	}
}

// SetPollInterval is consulted on the next loop iteration; used by config
// hot-reload.
func (d *Dispatcher) SetPollInterval(iv time.Duration) {
	if iv > 0 {
		atomic.StoreInt64(&d.pollNanos, int64(iv))
	}
}

func (d *Dispatcher) interval() time.Duration {
	if n := atomic.LoadInt64(&d.pollNanos); n > 0 {
		return time.Duration(n)
	}
	return d.cfg.PollInterval
}

// Run ticks until ctx is cancelled. In-flight work is not force-aborted on
// shutdown; a job stuck past its lock TTL self-heals.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info("dispatcher started",
		logx.Duration("poll", d.cfg.PollInterval),
		logx.Int("batch", d.cfg.BatchSize),
		logx.String("instance", d.locker.InstanceID()),
	)
	d.tick(ctx)
	t := time.NewTimer(d.interval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopped")
			return
		case <-t.C:
			d.tick(ctx)
			t.Reset(d.interval())
		}
	}
}

// tick fetches the due set and processes it sequentially, earliest first.
// Any panic is contained so a bad tick never stops the loop.
func (d *Dispatcher) tick(ctx context.Context) {
	if !d.running.CompareAndSwap(false, true) {
		d.log.Debug("tick overlapped, skipping")
		return
	}
	defer d.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in tick", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()

	now := d.now()
	due, err := d.st.FindDue(ctx, d.cfg.Family, job.ActiveStatuses(d.cfg.Family), now, d.cfg.BatchSize)
	if err != nil {
		d.log.Warn("find due failed", logx.Err(err))
		return
	}
	for _, j := range due {
		if ctx.Err() != nil {
			return
		}
		d.process(ctx, j)
	}
}

// process runs one job through the full pipeline. The lock is released on
// every exit path; even on a contained panic the deferred release runs, and
// the TTL bounds the worst case beyond that.
func (d *Dispatcher) process(ctx context.Context, j *job.Job) {
	now := d.now()
	ok, err := d.locker.Claim(ctx, j, now)
	if err != nil {
		d.log.Warn("claim failed", logx.String("job", j.ID), logx.Err(err))
		return
	}
	if !ok {
		// Lost the race to another instance. Not an error.
		return
	}
	defer d.locker.Release(ctx, j)

	if j.ChatID == 0 {
		// Undeliverable until an edit flow fixes the destination; park it so
		// the due set stops returning it.
		st := job.StatusError
		d.patch(ctx, j, store.Patch{Status: &st})
		d.log.Error("job has no destination chat, parked", logx.String("job", j.ID))
		return
	}

	if err := d.deliver(ctx, j); err != nil {
		// Transient: push the job out by a fixed backoff, status unchanged.
		// No retirement, no hammering.
		next := now.Add(d.cfg.FailureBackoff)
		d.patch(ctx, j, store.Patch{NextRunAt: &next})
		d.log.Warn("delivery failed, backing off",
			logx.String("job", j.ID),
			logx.Time("retry_at", next),
			logx.Err(err),
		)
		return
	}

	next, more := recur.Next(j.Schedule, j.Location(), now)
	if !more {
		// Terminal schedule, or a descriptor we can no longer compute from.
		// Fail closed so the job is never reprocessed forever.
		st := job.TerminalStatus(j.Family)
		d.patch(ctx, j, store.Patch{Status: &st, LastRunAt: &now})
		d.log.Info("job retired", logx.String("job", j.ID))
		return
	}
	st := job.RunningStatus(j.Family)
	d.patch(ctx, j, store.Patch{NextRunAt: &next, LastRunAt: &now, Status: &st})
	d.log.Info("job delivered",
		logx.String("job", j.ID),
		logx.Time("next_run_at", next),
	)
}

// deliver converts a gateway panic into an ordinary delivery failure so the
// backoff path and the deferred lock release both apply.
func (d *Dispatcher) deliver(ctx context.Context, j *job.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery panic: %v", r)
		}
	}()
	return d.gw.Deliver(ctx, j)
}

func (d *Dispatcher) patch(ctx context.Context, j *job.Job, p store.Patch) {
	if err := d.st.Patch(ctx, j.ID, p); err != nil {
		d.log.Error("persist outcome failed", logx.String("job", j.ID), logx.Err(err))
	}
}
