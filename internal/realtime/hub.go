package realtime

import (
	"log/slog"
	"sync"
)

const defaultBuffer = 64

// Subscription receives the events of one session for one actor.
type Subscription struct {
	SessionID string
	ActorID   string
	Events    <-chan Event

	ch chan Event
}

// Hub broadcasts change events to subscribers per session.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]map[*Subscription]struct{}
	buffer   int
	logger   *slog.Logger
}

// NewHub constructs an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		sessions: make(map[string]map[*Subscription]struct{}),
		buffer:   defaultBuffer,
		logger:   logger,
	}
}

// Subscribe registers a listener. The returned func unsubscribes and closes
// the channel; it is safe to call more than once.
func (h *Hub) Subscribe(sessionID, actorID string) (*Subscription, func()) {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{SessionID: sessionID, ActorID: actorID, Events: ch, ch: ch}

	h.mu.Lock()
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[*Subscription]struct{})
	}
	h.sessions[sessionID][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			peers := h.sessions[sessionID]
			delete(peers, sub)
			if len(peers) == 0 {
				delete(h.sessions, sessionID)
			}
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber of its session that is in the
// event's audience. Slow subscribers whose buffer is full miss the event.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for sub := range h.sessions[ev.SessionID] {
		if !ev.deliverableTo(sub.ActorID) {
			continue
		}
		select {
		case sub.ch <- ev:
			delivered++
		default:
			h.logger.Warn("dropping event for slow subscriber",
				slog.String("session", ev.SessionID),
				slog.String("actor", sub.ActorID),
				slog.String("table", ev.Table))
		}
	}
	h.logger.Debug("publish", slog.String("session", ev.SessionID), slog.String("table", ev.Table),
		slog.String("kind", string(ev.Kind)), slog.Int("peers", delivered))
}

// Peers returns the actor ids currently subscribed to a session.
func (h *Hub) Peers(sessionID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers := make([]string, 0, len(h.sessions[sessionID]))
	for sub := range h.sessions[sessionID] {
		peers = append(peers, sub.ActorID)
	}
	return peers
}
