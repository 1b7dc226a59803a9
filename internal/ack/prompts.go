package ack

import (
	"sync"
	"time"
)

// promptTTL bounds how long a custom-snooze prompt stays answerable.
const promptTTL = 2 * time.Minute

// prompts tracks which job a user's next free-text message should snooze.
//
// This is deliberately per-process state: it backs one short interactive
// exchange, not durable schedule data. The trade-off is that the reply must
// reach the same instance that asked; acceptable for a two-minute window.
type prompts struct {
	mu sync.Mutex
	m  map[int64]promptEntry
}

type promptEntry struct {
	jobID   string
	expires time.Time
}

func newPrompts() *prompts {
	return &prompts{m: make(map[int64]promptEntry)}
}

func (p *prompts) set(userID int64, jobID string, now time.Time) {
	p.mu.Lock()
	p.m[userID] = promptEntry{jobID: jobID, expires: now.Add(promptTTL)}
	p.mu.Unlock()
}

// get returns the pending job for the user, dropping expired entries.
// The entry stays pending until clear(), so a malformed reply can be retried.
func (p *prompts) get(userID int64, now time.Time) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[userID]
	if !ok {
		return "", false
	}
	if now.After(e.expires) {
		delete(p.m, userID)
		return "", false
	}
	return e.jobID, true
}

func (p *prompts) clear(userID int64) {
	p.mu.Lock()
	delete(p.m, userID)
	p.mu.Unlock()
}
