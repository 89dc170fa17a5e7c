package client

import (
	"sync"
	"time"

	"opbridge/envelope"
)

// outcome is what a waiting caller receives: a matched reply or a failure
// (connection lost, channel closed).
type outcome struct {
	reply *envelope.Reply
	err   error
}

// pendingCall is one in-flight request awaiting its correlated reply.
// Exactly one pendingCall exists per in-flight ID.
type pendingCall struct {
	id        string
	createdAt time.Time
	deadline  time.Time
	done      chan outcome // buffered 1 — the resolver never blocks
}

// table maps correlation IDs to pending calls.
//
// It is the one mutable structure shared between callers inserting new calls,
// the single receive path resolving replies, and the disconnect handler
// draining everything at once. One mutex gives the single-writer-at-a-time
// discipline that makes resolution and removal race-free: a call is either
// resolved (its done channel holds the outcome) or removed, never both.
type table struct {
	mu    sync.Mutex
	calls map[string]*pendingCall
}

func newTable() *table {
	return &table{calls: make(map[string]*pendingCall)}
}

// add registers a new pending call for id.
func (t *table) add(id string, deadline time.Time) *pendingCall {
	pc := &pendingCall{
		id:        id,
		createdAt: time.Now(),
		deadline:  deadline,
		done:      make(chan outcome, 1),
	}
	t.mu.Lock()
	t.calls[id] = pc
	t.mu.Unlock()
	return pc
}

// resolve delivers a reply to the caller waiting on its ID and retires the
// entry. Returns false when no such call is pending — a late reply for a
// timed-out or unknown ID, which the caller discards.
func (t *table) resolve(reply *envelope.Reply) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	pc, ok := t.calls[reply.ID]
	if !ok {
		return false
	}
	delete(t.calls, reply.ID)
	pc.done <- outcome{reply: reply}
	return true
}

// remove retires a pending call without resolving it (timeout, send failure,
// context cancellation). Returns false when the call was already resolved —
// in that race the caller finds the outcome waiting on its done channel.
func (t *table) remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.calls[id]; !ok {
		return false
	}
	delete(t.calls, id)
	return true
}

// failAll rejects every pending call with err and clears the table.
// Called from the disconnect handler: all in-flight calls fail simultaneously.
func (t *table) failAll(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, pc := range t.calls {
		delete(t.calls, id)
		pc.done <- outcome{err: err}
	}
}

// size returns the number of in-flight calls, for diagnostics and tests.
func (t *table) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
