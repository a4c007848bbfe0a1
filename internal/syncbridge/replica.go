package syncbridge

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"tabletop/internal/realtime"
	"tabletop/internal/tactical"
)

// Replica is an observer's copy of a session, kept current by merging change
// events. The last event applied wins.
type Replica struct {
	mu     sync.RWMutex
	state  tactical.State
	logger *slog.Logger

	// OnDelete is called after a token is removed so views can drop
	// selections that refer to it.
	OnDelete func(tokenID string)
}

// NewReplica starts a replica from an initial snapshot.
func NewReplica(initial tactical.State, logger *slog.Logger) *Replica {
	if logger == nil {
		logger = slog.Default()
	}
	initial.Tokens = slices.Clone(initial.Tokens)
	initial.Fog = slices.Clone(initial.Fog)
	return &Replica{state: initial, logger: logger}
}

// Snapshot returns a copy of the replicated state.
func (r *Replica) Snapshot() tactical.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := r.state
	out.Tokens = slices.Clone(r.state.Tokens)
	out.Fog = slices.Clone(r.state.Fog)
	return out
}

func tokenKey(t tactical.Token) string { return t.ID }

// Apply merges one change event. Events for other sessions and tables the
// map does not show are ignored.
func (r *Replica) Apply(ev realtime.Event) error {
	r.mu.RLock()
	sessionID := r.state.ID
	r.mu.RUnlock()
	if ev.SessionID != sessionID {
		return nil
	}

	switch ev.Table {
	case realtime.TableTokens:
		var tok tactical.Token
		if err := ev.Decode(&tok); err != nil {
			return fmt.Errorf("decode token event: %w", err)
		}
		r.mu.Lock()
		r.state.Tokens = realtime.Reduce(r.state.Tokens, tokenKey, ev.Kind, tok)
		r.mu.Unlock()
		if ev.Kind == realtime.Delete && r.OnDelete != nil {
			r.OnDelete(tok.ID)
		}
	case realtime.TableFog:
		var rec FogRecord
		if err := ev.Decode(&rec); err != nil {
			return fmt.Errorf("decode fog event: %w", err)
		}
		cells := tactical.NewFogSet(rec.GridPositions...).Cells()
		if ev.Kind == realtime.Delete {
			cells = cells[:0]
		}
		r.mu.Lock()
		r.state.Fog = cells
		r.mu.Unlock()
	case realtime.TableSessions:
		var info tactical.Info
		if err := ev.Decode(&info); err != nil {
			return fmt.Errorf("decode session event: %w", err)
		}
		r.mu.Lock()
		r.state.Info = info
		r.mu.Unlock()
	}
	return nil
}

// Follow applies events from sub until ctx is done or the subscription ends.
// Undecodable events are logged and skipped.
func (r *Replica) Follow(ctx context.Context, sub *realtime.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events:
			if !ok {
				return nil
			}
			if err := r.Apply(ev); err != nil {
				r.logger.Warn("skip change event",
					slog.String("session", ev.SessionID),
					slog.String("table", ev.Table),
					slog.String("error", err.Error()))
			}
		}
	}
}
