package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"tabletop/internal/dice"
)

const defaultListLimit = 50

// Map is an uploaded battle map image.
type Map struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ImageURL    string    `json:"image_url"`
	Description string    `json:"description"`
	OwnerID     string    `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreateMap stores a map, assigning an id and timestamp.
func (s *Store) CreateMap(ctx context.Context, m Map) (Map, error) {
	m.ID = uuid.NewString()
	m.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO maps (id, name, image_url, description, user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.ImageURL, m.Description, m.OwnerID, m.CreatedAt,
	)
	if err != nil {
		return Map{}, fmt.Errorf("insert map: %w", err)
	}
	return m, nil
}

// GetMap loads one map.
func (s *Store) GetMap(ctx context.Context, id string) (Map, error) {
	var m Map
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, image_url, description, user_id, created_at FROM maps WHERE id = ?`, id,
	).Scan(&m.ID, &m.Name, &m.ImageURL, &m.Description, &m.OwnerID, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Map{}, notFound("map", id)
	}
	if err != nil {
		return Map{}, fmt.Errorf("select map: %w", err)
	}
	return m, nil
}

// ListMaps returns maps newest first, restricted to ownerID when set.
func (s *Store) ListMaps(ctx context.Context, ownerID string) ([]Map, error) {
	query := `SELECT id, name, image_url, description, user_id, created_at FROM maps`
	var args []any
	if ownerID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select maps: %w", err)
	}
	defer rows.Close()

	out := []Map{}
	for rows.Next() {
		var m Map
		if err := rows.Scan(&m.ID, &m.Name, &m.ImageURL, &m.Description, &m.OwnerID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan map: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DiceRoll is a persisted roll.
type DiceRoll struct {
	ID           string       `json:"id"`
	SessionID    string       `json:"session_id"`
	UserID       string       `json:"user_id"`
	Formula      string       `json:"roll_formula"`
	Result       int          `json:"roll_result"`
	Details      dice.Details `json:"roll_details"`
	VisibleToAll bool         `json:"visible_to_all"`
	CreatedAt    time.Time    `json:"created_at"`
}

// InsertDiceRoll stores a roll, assigning an id and timestamp.
func (s *Store) InsertDiceRoll(ctx context.Context, r DiceRoll) (DiceRoll, error) {
	details, err := json.Marshal(r.Details)
	if err != nil {
		return DiceRoll{}, fmt.Errorf("marshal roll details: %w", err)
	}
	r.ID = uuid.NewString()
	r.CreatedAt = s.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dice_rolls (id, session_id, user_id, roll_formula, roll_result, roll_details, visible_to_all, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.UserID, r.Formula, r.Result, string(details), boolInt(r.VisibleToAll), r.CreatedAt,
	)
	if err != nil {
		return DiceRoll{}, fmt.Errorf("insert dice roll: %w", err)
	}
	return r, nil
}

// ListDiceRolls returns the latest rolls of a session, newest first.
func (s *Store) ListDiceRolls(ctx context.Context, sessionID string, limit int) ([]DiceRoll, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, user_id, roll_formula, roll_result, roll_details, visible_to_all, created_at
		FROM dice_rolls WHERE session_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("select dice rolls: %w", err)
	}
	defer rows.Close()

	out := []DiceRoll{}
	for rows.Next() {
		var (
			r       DiceRoll
			details string
			visible int
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.UserID, &r.Formula, &r.Result, &details, &visible, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dice roll: %w", err)
		}
		if err := json.Unmarshal([]byte(details), &r.Details); err != nil {
			return nil, fmt.Errorf("decode roll details: %w", err)
		}
		r.VisibleToAll = visible != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// MessageType classifies chat messages.
type MessageType string

const (
	MessageText    MessageType = "text"
	MessagePrivate MessageType = "private"
	MessageDice    MessageType = "dice"
)

// ChatMessage is a persisted chat line.
type ChatMessage struct {
	ID        string         `json:"id"`
	TableID   string         `json:"table_id"`
	UserID    string         `json:"user_id"`
	Content   string         `json:"content"`
	Type      MessageType    `json:"type"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}

// InsertChatMessage stores a chat line, assigning an id and timestamp.
func (s *Store) InsertChatMessage(ctx context.Context, m ChatMessage) (ChatMessage, error) {
	if m.Metadata == nil {
		m.Metadata = map[string]any{}
	}
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("marshal chat metadata: %w", err)
	}
	m.ID = uuid.NewString()
	m.CreatedAt = s.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_messages (id, table_id, user_id, content, type, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.TableID, m.UserID, m.Content, string(m.Type), string(meta), m.CreatedAt,
	)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("insert chat message: %w", err)
	}
	return m, nil
}

// ListChatMessages returns the latest messages of a table, oldest first.
func (s *Store) ListChatMessages(ctx context.Context, tableID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, table_id, user_id, content, type, metadata, created_at
		FROM chat_messages WHERE table_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, tableID, limit)
	if err != nil {
		return nil, fmt.Errorf("select chat messages: %w", err)
	}
	defer rows.Close()

	out := []ChatMessage{}
	for rows.Next() {
		var (
			m    ChatMessage
			kind string
			meta string
		)
		if err := rows.Scan(&m.ID, &m.TableID, &m.UserID, &m.Content, &kind, &meta, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		m.Type = MessageType(kind)
		if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
			return nil, fmt.Errorf("decode chat metadata: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}
