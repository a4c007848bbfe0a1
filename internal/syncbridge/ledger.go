package syncbridge

import (
	"context"
	"sync"
	"time"
)

// Status is the persistence state of a mutation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCommitted Status = "committed"
	StatusFailed    Status = "failed"
)

// Op names the persistence write a mutation needs.
type Op string

const (
	OpTokenUpsert   Op = "token.upsert"
	OpTokenDelete   Op = "token.delete"
	OpFogSave       Op = "fog.save"
	OpSessionUpdate Op = "session.update"
)

// Mutation records one accepted change and whether it reached storage.
type Mutation struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	ActorID   string    `json:"actorId"`
	Op        Op        `json:"op"`
	Target    string    `json:"target,omitempty"`
	Status    Status    `json:"status"`
	Attempts  int       `json:"attempts"`
	Err       string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

const defaultLedgerCapacity = 256

type entry struct {
	Mutation
	run func(ctx context.Context) error
}

// Ledger keeps the most recent mutations of every session.
type Ledger struct {
	mu        sync.Mutex
	bySession map[string][]*entry
	byID      map[string]*entry
	capacity  int
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		bySession: make(map[string][]*entry),
		byID:      make(map[string]*entry),
		capacity:  defaultLedgerCapacity,
	}
}

func (l *Ledger) add(m Mutation, run func(ctx context.Context) error) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := &entry{Mutation: m, run: run}
	list := append(l.bySession[m.SessionID], e)
	if len(list) > l.capacity {
		evicted := list[0]
		delete(l.byID, evicted.ID)
		list = list[1:]
	}
	l.bySession[m.SessionID] = list
	l.byID[m.ID] = e
	return e
}

// reopen moves a failed entry back to pending. It reports false for entries
// that are committed or already being retried.
func (l *Ledger) reopen(e *entry) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e.Status != StatusFailed {
		return false
	}
	e.Status = StatusPending
	e.Err = ""
	return true
}

func (l *Ledger) finish(e *entry, err error) Mutation {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.Attempts++
	if err != nil {
		e.Status = StatusFailed
		e.Err = err.Error()
	} else {
		e.Status = StatusCommitted
		e.Err = ""
	}
	return e.Mutation
}

// drop forgets every mutation of a session.
func (l *Ledger) drop(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.bySession[sessionID] {
		delete(l.byID, e.ID)
	}
	delete(l.bySession, sessionID)
}

func (l *Ledger) get(id string) (*entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.byID[id]
	return e, ok
}

// List returns a session's mutations, oldest first.
func (l *Ledger) List(sessionID string) []Mutation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Mutation, 0, len(l.bySession[sessionID]))
	for _, e := range l.bySession[sessionID] {
		out = append(out, e.Mutation)
	}
	return out
}

// Failed returns a session's mutations that did not reach storage.
func (l *Ledger) Failed(sessionID string) []Mutation {
	out := []Mutation{}
	for _, m := range l.List(sessionID) {
		if m.Status == StatusFailed {
			out = append(out, m)
		}
	}
	return out
}
