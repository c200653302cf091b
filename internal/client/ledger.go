package client

import (
	"sync"
	"time"

	"github.com/cpayne/go-roomchat/internal/types"
)

type State int

const (
	StatePending State = iota
	StateConfirmed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is one rendered message: either a confirmed record from the server
// or an optimistic local echo still waiting on its acknowledgment. A
// pending entry moves to Confirmed or Failed exactly once; Confirmed
// entries only change through later edit/delete broadcasts.
type Entry struct {
	DurableId     string
	CorrelationId string
	Sender        string
	Content       string
	State         State
	FailReason    string
	Edited        bool
	Deleted       bool
	Timestamp     time.Time
	sentAt        time.Time
}

// Ledger is the client-side message view for the current room. It owns the
// optimistic-echo reconciliation: matching acknowledgments and broadcasts
// to pending entries by correlation token, and deduplicating everything
// else by durable id.
type Ledger struct {
	mu        sync.Mutex
	entries   []*Entry
	byDurable map[string]*Entry
	pending   map[string]*Entry
}

func NewLedger() *Ledger {
	return &Ledger{
		byDurable: make(map[string]*Entry),
		pending:   make(map[string]*Entry),
	}
}

// AddPending records the optimistic local echo for a message just sent.
func (l *Ledger) AddPending(correlationId, sender, content string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := &Entry{
		CorrelationId: correlationId,
		Sender:        sender,
		Content:       content,
		State:         StatePending,
		sentAt:        time.Now(),
	}
	l.entries = append(l.entries, e)
	l.pending[correlationId] = e
}

// ResolveAck upgrades the pending entry for the token in place, attaching
// the durable id and server timestamp. Returns false when no entry is
// still pending for the token, e.g. because the broadcast got there first.
func (l *Ledger) ResolveAck(correlationId, durableId string, ts time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.confirm(correlationId, durableId, "", ts)
}

// FailPending resolves a pending entry as failed with the given reason.
// Returns false when the token is no longer pending.
func (l *Ledger) FailPending(correlationId, reason string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.pending[correlationId]
	if !ok {
		return false
	}

	delete(l.pending, correlationId)
	e.State = StateFailed
	e.FailReason = reason
	return true
}

// ApplyCreated handles a message-created broadcast. A carried correlation
// token matching a still-pending echo upgrades that echo in place, which
// covers the broadcast arriving ahead of the direct acknowledgment. Known
// durable ids are dropped as duplicates; everything else is appended.
func (l *Ledger) ApplyCreated(msg types.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if msg.CorrelationId != "" {
		if l.confirm(msg.CorrelationId, msg.Id, msg.Content, msg.Timestamp) {
			return
		}
	}

	if _, ok := l.byDurable[msg.Id]; ok {
		return
	}

	l.append(msg)
}

// ApplyBacklog merges a history window by durable id. Already-known
// records are left untouched; new ones are appended in backlog order.
func (l *Ledger) ApplyBacklog(msgs []types.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, msg := range msgs {
		if _, ok := l.byDurable[msg.Id]; ok {
			continue
		}
		l.append(msg)
	}
}

func (l *Ledger) ApplyEdited(durableId, content string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.byDurable[durableId]; ok {
		e.Content = content
		e.Edited = true
	}
}

func (l *Ledger) ApplyDeleted(durableId string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.byDurable[durableId]; ok {
		e.Deleted = true
	}
}

// FailStale resolves every pending echo older than maxAge as failed, so no
// optimistic entry is ever left ambiguous. Returns how many were failed.
func (l *Ledger) FailStale(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	failed := 0
	for token, e := range l.pending {
		if e.sentAt.After(cutoff) {
			continue
		}

		delete(l.pending, token)
		e.State = StateFailed
		e.FailReason = "unresolved after reconnect"
		failed++
	}

	return failed
}

// Reset clears the ledger, e.g. when switching rooms.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = nil
	l.byDurable = make(map[string]*Entry)
	l.pending = make(map[string]*Entry)
}

// Entries returns a snapshot of the ledger in render order.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, *e)
	}
	return out
}

func (l *Ledger) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.pending)
}

// confirm upgrades a pending entry in place. Callers hold l.mu.
func (l *Ledger) confirm(correlationId, durableId, content string, ts time.Time) bool {
	e, ok := l.pending[correlationId]
	if !ok {
		return false
	}

	delete(l.pending, correlationId)
	e.State = StateConfirmed
	e.DurableId = durableId
	e.Timestamp = ts
	if content != "" {
		e.Content = content
	}
	if durableId != "" {
		l.byDurable[durableId] = e
	}
	return true
}

// append adds a confirmed record. Callers hold l.mu.
func (l *Ledger) append(msg types.Message) {
	e := &Entry{
		DurableId:     msg.Id,
		CorrelationId: msg.CorrelationId,
		Sender:        msg.Sender,
		Content:       msg.Content,
		State:         StateConfirmed,
		Timestamp:     msg.Timestamp,
	}
	l.entries = append(l.entries, e)
	if msg.Id != "" {
		l.byDurable[msg.Id] = e
	}
}
