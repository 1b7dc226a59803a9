// Package ack consumes user interactions on delivered jobs: the Done and
// Snooze controls attached to a message, and the free-text follow-up for a
// custom snooze duration. Handlers mutate the job record directly, bypassing
// the dispatcher tick.
package ack

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"remindbot/internal/job"
	"remindbot/internal/job/recur"
	"remindbot/internal/store"
	logx "remindbot/pkg/logx"
)

const (
	replyGone   = "That one's already gone."
	replyPaused = "This one is paused right now."
	replyOops   = "Something went wrong, try again."
	promptText  = "For how long? Reply with something like 20, 45m, 2h or 1d."
	hintText    = "I couldn't read that. Try 20, 45m, 2h or 1d."
)

type Handler struct {
	st  store.Store
	log logx.Logger

	// now is a seam for tests; time.Now in production.
	now func() time.Time

	pending *prompts
}

func NewHandler(st store.Store, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{st: st, log: log, now: time.Now, pending: newPrompts()}
}

// HandleCallback processes one interactive-control press and returns a short
// human-readable reply. It never returns an error: a vanished job is a
// polite no-op, and store trouble becomes a generic retry message.
func (h *Handler) HandleCallback(ctx context.Context, userID int64, data string) string {
	verb, jobID, param, ok := ParseToken(data)
	if !ok {
		return replyOops
	}
	switch verb {
	case VerbDone:
		return h.done(ctx, jobID)
	case VerbSnooze:
		minutes, err := strconv.Atoi(param)
		if err != nil || minutes <= 0 {
			return replyOops
		}
		return h.snooze(ctx, jobID, minutes)
	case VerbSnoozeAsk:
		return h.snoozeAsk(ctx, userID, jobID)
	default:
		return replyOops
	}
}

// HandleText consumes a free-text message only when it answers a still-valid
// custom-snooze prompt from this process. handled=false means the message
// belongs to someone else's flow.
func (h *Handler) HandleText(ctx context.Context, userID int64, text string) (reply string, handled bool) {
	now := h.now()
	jobID, ok := h.pending.get(userID, now)
	if !ok {
		return "", false
	}
	minutes, err := ParseSnoozeMinutes(text)
	if err != nil {
		// Keep the prompt pending so the user can just try again.
		return hintText, true
	}
	h.pending.clear(userID)
	return h.snooze(ctx, jobID, minutes), true
}

// done recomputes the next occurrence from now rather than from the stale
// NextRunAt, so "Done" on an overdue daily reminder lands on the next
// calendar slot, not a minute from now.
func (h *Handler) done(ctx context.Context, jobID string) string {
	now := h.now()
	j, err := h.st.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return replyGone
		}
		h.log.Warn("done: load failed", logx.String("job", jobID), logx.Err(err))
		return replyOops
	}
	if j.Status == job.StatusPaused || j.Status == job.StatusDeleted {
		return replyPaused
	}

	next, more := recur.Next(j.Schedule, j.Location(), now)
	if !more {
		st := job.TerminalStatus(j.Family)
		if err := h.st.Patch(ctx, jobID, store.Patch{Status: &st}); err != nil {
			h.log.Warn("done: patch failed", logx.String("job", jobID), logx.Err(err))
			return replyOops
		}
		return "Done ✓"
	}
	st := job.RunningStatus(j.Family)
	if err := h.st.Patch(ctx, jobID, store.Patch{NextRunAt: &next, Status: &st}); err != nil {
		h.log.Warn("done: patch failed", logx.String("job", jobID), logx.Err(err))
		return replyOops
	}
	return "Done ✓ Next: " + next.In(j.Location()).Format("Mon 2 Jan 15:04")
}

func (h *Handler) snooze(ctx context.Context, jobID string, minutes int) string {
	now := h.now()
	j, err := h.st.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return replyGone
		}
		h.log.Warn("snooze: load failed", logx.String("job", jobID), logx.Err(err))
		return replyOops
	}
	if j.Status == job.StatusDeleted {
		return replyGone
	}
	if j.Status == job.StatusPaused {
		return replyPaused
	}

	next := now.Add(time.Duration(minutes) * time.Minute)
	st := job.RunningStatus(j.Family)
	if err := h.st.Patch(ctx, jobID, store.Patch{NextRunAt: &next, Status: &st}); err != nil {
		h.log.Warn("snooze: patch failed", logx.String("job", jobID), logx.Err(err))
		return replyOops
	}
	return "Snoozed for " + formatMinutes(minutes) + "."
}

func (h *Handler) snoozeAsk(ctx context.Context, userID int64, jobID string) string {
	j, err := h.st.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return replyGone
		}
		h.log.Warn("snooze prompt: load failed", logx.String("job", jobID), logx.Err(err))
		return replyOops
	}
	if j.Status == job.StatusDeleted {
		return replyGone
	}
	if j.Status == job.StatusPaused {
		return replyPaused
	}
	h.pending.set(userID, jobID, h.now())
	return promptText
}

func formatMinutes(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	if minutes%(24*60) == 0 {
		return fmt.Sprintf("%dd", minutes/(24*60))
	}
	if minutes%60 == 0 {
		return fmt.Sprintf("%dh", minutes/60)
	}
	return fmt.Sprintf("%dh%02dm", minutes/60, minutes%60)
}
