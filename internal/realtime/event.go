// Package realtime fans change notifications out to the actors following a
// session and provides the shared insert/update/delete merge used by every
// entity that is synchronized over the feed.
package realtime

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Kind is the change a notification describes.
type Kind string

const (
	Insert Kind = "INSERT"
	Update Kind = "UPDATE"
	Delete Kind = "DELETE"
)

// Table names carried on the feed.
const (
	TableTokens   = "map_tokens"
	TableFog      = "fog_of_war"
	TableSessions = "map_sessions"
	TableRolls    = "dice_rolls"
	TableChat     = "chat_messages"
	TableNotices  = "notices"
	TablePresence = "presence"
)

// Event is one change notification for a session.
type Event struct {
	Table     string          `json:"table"`
	Kind      Kind            `json:"eventType"`
	SessionID string          `json:"sessionId"`
	Record    json.RawMessage `json:"new,omitempty"`
	Old       json.RawMessage `json:"old,omitempty"`
	At        time.Time       `json:"commitTimestamp"`
	// Audience restricts delivery to these actor ids. Empty means everyone.
	Audience []string `json:"-"`
	// Except withholds the event from these actor ids.
	Except []string `json:"-"`
}

// NewEvent marshals record into an event. Delete events carry the record as Old.
func NewEvent(table string, kind Kind, sessionID string, record any) (Event, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s record: %w", table, err)
	}
	ev := Event{Table: table, Kind: kind, SessionID: sessionID, At: time.Now().UTC()}
	if kind == Delete {
		ev.Old = raw
	} else {
		ev.Record = raw
	}
	return ev, nil
}

// Decode unmarshals the event payload (Old for deletes) into v.
func (e Event) Decode(v any) error {
	raw := e.Record
	if e.Kind == Delete {
		raw = e.Old
	}
	if len(raw) == 0 {
		return fmt.Errorf("%s %s event has no record", e.Table, e.Kind)
	}
	return json.Unmarshal(raw, v)
}

func (e Event) deliverableTo(actorID string) bool {
	if slices.Contains(e.Except, actorID) {
		return false
	}
	return len(e.Audience) == 0 || slices.Contains(e.Audience, actorID)
}

// Reduce merges one change into a keyed list: inserts and updates replace the
// item with the same key or append it, deletes remove it.
func Reduce[K comparable, T any](items []T, key func(T) K, kind Kind, rec T) []T {
	k := key(rec)
	idx := slices.IndexFunc(items, func(it T) bool { return key(it) == k })
	switch kind {
	case Insert, Update:
		if idx >= 0 {
			items[idx] = rec
			return items
		}
		return append(items, rec)
	case Delete:
		if idx >= 0 {
			return slices.Delete(items, idx, idx+1)
		}
	}
	return items
}
