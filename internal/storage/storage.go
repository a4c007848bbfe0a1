// Package storage persists map sessions, tokens, fog, maps, dice rolls and
// chat messages in SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"tabletop/internal/apperr"
	"tabletop/internal/grid"
	"tabletop/internal/tactical"
)

// Store is the SQLite-backed repository.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open prepares a SQLite database at path and applies pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}

	if err := applyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func notFound(what, id string) error {
	return apperr.New(apperr.CodeNotFound, fmt.Sprintf("%s %s not found", what, id))
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// CreateSession inserts a new map session row.
func (s *Store) CreateSession(ctx context.Context, info tactical.Info) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO map_sessions (id, name, created_by, map_id, background_url, cell_size, grid_shape, paused, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		info.ID, info.Name, info.CreatedBy, emptyNull(info.MapID), info.BackgroundURL,
		info.CellSize, string(info.Shape), boolInt(info.Paused), s.now(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession loads the scalar fields of a session.
func (s *Store) GetSession(ctx context.Context, id string) (tactical.Info, error) {
	var (
		info   tactical.Info
		mapID  sql.NullString
		shape  string
		paused int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_by, map_id, background_url, cell_size, grid_shape, paused
		FROM map_sessions WHERE id = ?`, id,
	).Scan(&info.ID, &info.Name, &info.CreatedBy, &mapID, &info.BackgroundURL, &info.CellSize, &shape, &paused)
	if errors.Is(err, sql.ErrNoRows) {
		return tactical.Info{}, notFound("session", id)
	}
	if err != nil {
		return tactical.Info{}, fmt.Errorf("select session: %w", err)
	}
	info.MapID = mapID.String
	info.Shape = grid.Shape(shape)
	info.Paused = paused != 0
	return info, nil
}

// UpdateSession overwrites the mutable scalar fields of a session.
func (s *Store) UpdateSession(ctx context.Context, info tactical.Info) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE map_sessions SET map_id = ?, background_url = ?, cell_size = ?, grid_shape = ?, paused = ?
		WHERE id = ?`,
		emptyNull(info.MapID), info.BackgroundURL, info.CellSize, string(info.Shape), boolInt(info.Paused), info.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return expectRow(res, "session", info.ID)
}

// DeleteSession removes a session together with its tokens, fog, rolls and chat.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM map_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return expectRow(res, "session", id)
}

// AddParticipant seats a user in a session, updating their details if already seated.
func (s *Store) AddParticipant(ctx context.Context, sessionID string, p tactical.Participant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (session_id, user_id, name, role, character_id, character_name, color, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, user_id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			character_id = excluded.character_id,
			character_name = excluded.character_name,
			color = excluded.color`,
		sessionID, p.UserID, p.Name, string(p.Role), nullString(p.CharacterID), p.CharacterName, p.Color, s.now(),
	)
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

// GetParticipant returns one seated user.
func (s *Store) GetParticipant(ctx context.Context, sessionID, userID string) (tactical.Participant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, name, role, character_id, character_name, color
		FROM participants WHERE session_id = ? AND user_id = ?`, sessionID, userID)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return tactical.Participant{}, notFound("participant", userID)
	}
	return p, err
}

// RemoveParticipant unseats a user.
func (s *Store) RemoveParticipant(ctx context.Context, sessionID, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM participants WHERE session_id = ? AND user_id = ?`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("delete participant: %w", err)
	}
	return expectRow(res, "participant", userID)
}

// ListParticipants returns the users seated in a session, oldest first.
func (s *Store) ListParticipants(ctx context.Context, sessionID string) ([]tactical.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, name, role, character_id, character_name, color
		FROM participants WHERE session_id = ? ORDER BY created_at, user_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select participants: %w", err)
	}
	defer rows.Close()

	var out []tactical.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row scanner) (tactical.Participant, error) {
	var (
		p         tactical.Participant
		role      string
		character sql.NullString
	)
	if err := row.Scan(&p.UserID, &p.Name, &role, &character, &p.CharacterName, &p.Color); err != nil {
		return tactical.Participant{}, err
	}
	p.Role = tactical.Role(role)
	p.CharacterID = stringPtr(character)
	return p, nil
}

func emptyNull(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func expectRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound(what, id)
	}
	return nil
}
