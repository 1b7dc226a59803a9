// Package app wires the bot together: config, logging, storage, the
// Telegram adapter, the acknowledgment handler, and one dispatcher per job
// family, all supervised under a shared context.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"

	"remindbot/internal/ack"
	"remindbot/internal/config"
	"remindbot/internal/deliver"
	"remindbot/internal/dispatch"
	"remindbot/internal/job"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/store"
	"remindbot/internal/transport"
	"remindbot/internal/transport/telegram"
	logx "remindbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	logs *logx.Service
	log  logx.Logger

	adapter transport.Adapter
	st      store.Store
	acks    *ack.Handler

	reminders *dispatch.Dispatcher
	habits    *dispatch.Dispatcher

	updates chan transport.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		PollTimeout:    pollTimeout,
		SendRatePerSec: cfg.Telegram.SendRatePerSec,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	busyTimeout, err := config.ParseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	lockTTL, err := config.ParseDuration("scheduler.lock_ttl", cfg.Scheduler.LockTTL, dispatch.DefaultLockTTL)
	if err != nil {
		return nil, err
	}
	pollInterval, err := config.ParseDuration("scheduler.poll_interval", cfg.Scheduler.PollInterval, dispatch.DefaultPollInterval)
	if err != nil {
		return nil, err
	}

	instanceID := cfg.Scheduler.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	locker := dispatch.NewLocker(st, instanceID, lockTTL, log.With(logx.String("comp", "lock")))
	gw := deliver.New(ad, log.With(logx.String("comp", "deliver")))

	newDispatcher := func(f job.Family) *dispatch.Dispatcher {
		return dispatch.New(dispatch.Config{
			Family:       f,
			PollInterval: pollInterval,
			BatchSize:    cfg.Scheduler.BatchSize,
		}, st, gw, locker, log.With(logx.String("comp", "dispatch")))
	}

	return &App{
		cfgm:      cfgm,
		logs:      logSvc,
		log:       log,
		adapter:   ad,
		st:        st,
		acks:      ack.NewHandler(st, log.With(logx.String("comp", "ack"))),
		reminders: newDispatcher(job.FamilyReminder),
		habits:    newDispatcher(job.FamilyHabit),
		updates:   make(chan transport.Update, 256),
	}, nil
}

// Store exposes the job store for callers that create jobs out of band
// (command front ends, import tooling).
func (a *App) Store() store.Store { return a.st }

// Done is closed when the supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if cfg.Scheduler.BatchSize < 0 {
			return fmt.Errorf("scheduler.batch_size must be >= 0")
		}
		for _, f := range []struct{ path, raw string }{
			{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
			{"storage.busy_timeout", cfg.Storage.BusyTimeout},
			{"scheduler.poll_interval", cfg.Scheduler.PollInterval},
			{"scheduler.lock_ttl", cfg.Scheduler.LockTTL},
		} {
			if _, err := config.ParseDuration(f.path, f.raw, 0); err != nil {
				return err
			}
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.GoRestart("dispatch.reminder", func(c context.Context) error {
		a.reminders.Run(c)
		return nil
	})
	a.sup.GoRestart("dispatch.habit", func(c context.Context) error {
		a.habits.Run(c)
		return nil
	})
	a.sup.GoRestart("updates.pump", func(c context.Context) error {
		a.pump(c)
		return nil
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(newCfg)
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("started")
	return nil
}

// pump routes incoming transport updates to the acknowledgment handler.
func (a *App) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-a.updates:
			a.route(ctx, up)
		}
	}
}

func (a *App) route(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateCallback:
		cb := up.Callback
		if cb == nil {
			return
		}
		reply := a.acks.HandleCallback(ctx, cb.FromID, cb.Data)
		if err := a.adapter.AnswerCallback(ctx, cb.ID, reply); err != nil {
			a.log.Warn("answer callback failed",
				logx.Int64("chat_id", cb.ChatID), logx.Err(err))
		}

	case transport.UpdateMessage:
		msg := up.Message
		if msg == nil {
			return
		}
		reply, handled := a.acks.HandleText(ctx, msg.FromID, msg.Text)
		if !handled || reply == "" {
			return
		}
		if _, err := a.adapter.SendText(ctx, transport.ChatTarget{ChatID: msg.ChatID}, reply, nil); err != nil {
			a.log.Warn("reply failed",
				logx.Int64("chat_id", msg.ChatID), logx.Err(err))
		}
	}
}

// applyConfig applies hot-reloadable settings from a validated config.
// Storage driver, token, and instance identity require a restart.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	iv, err := config.ParseDuration("scheduler.poll_interval", cfg.Scheduler.PollInterval, dispatch.DefaultPollInterval)
	if err == nil {
		a.reminders.SetPollInterval(iv)
		a.habits.SetPollInterval(iv)
	}
	a.log.Info("config applied")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")

	a.sup.Cancel()

	// Bounded shutdown steps so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("store", 2*time.Second, func(context.Context) error { return a.st.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
