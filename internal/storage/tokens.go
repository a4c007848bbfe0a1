package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"tabletop/internal/grid"
	"tabletop/internal/tactical"
)

// UpsertToken inserts a token or overwrites the row with the same id.
func (s *Store) UpsertToken(ctx context.Context, tok tactical.Token) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO map_tokens (id, session_id, name, token_type, color, size, x, y, is_visible_to_players, user_id, character_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			token_type = excluded.token_type,
			color = excluded.color,
			size = excluded.size,
			x = excluded.x,
			y = excluded.y,
			is_visible_to_players = excluded.is_visible_to_players,
			user_id = excluded.user_id,
			character_id = excluded.character_id,
			updated_at = excluded.updated_at`,
		tok.ID, tok.SessionID, tok.Label, string(tok.Kind), tok.Color, float64(tok.Size),
		tok.Position.Col, tok.Position.Row, boolInt(tok.Visible),
		nullString(tok.OwnerID), nullString(tok.CharacterID), now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}

// DeleteToken removes a token row.
func (s *Store) DeleteToken(ctx context.Context, sessionID, tokenID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM map_tokens WHERE session_id = ? AND id = ?`, sessionID, tokenID)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return expectRow(res, "token", tokenID)
}

// ListTokens returns a session's tokens in placement order.
func (s *Store) ListTokens(ctx context.Context, sessionID string) ([]tactical.Token, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, name, token_type, color, size, x, y, is_visible_to_players, user_id, character_id
		FROM map_tokens WHERE session_id = ? ORDER BY created_at, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select tokens: %w", err)
	}
	defer rows.Close()

	var out []tactical.Token
	for rows.Next() {
		var (
			tok       tactical.Token
			kind      string
			size      float64
			visible   int
			owner     sql.NullString
			character sql.NullString
		)
		if err := rows.Scan(&tok.ID, &tok.SessionID, &tok.Label, &kind, &tok.Color, &size,
			&tok.Position.Col, &tok.Position.Row, &visible, &owner, &character); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tok.Kind = tactical.TokenKind(kind)
		tok.Size = tactical.TokenSize(size)
		tok.Visible = visible != 0
		tok.OwnerID = stringPtr(owner)
		tok.CharacterID = stringPtr(character)
		out = append(out, tok)
	}
	return out, rows.Err()
}

// SaveFog stores the full concealed set of a session in its single fog row.
func (s *Store) SaveFog(ctx context.Context, sessionID string, cells []grid.Cell) error {
	if cells == nil {
		cells = []grid.Cell{}
	}
	positions, err := json.Marshal(cells)
	if err != nil {
		return fmt.Errorf("marshal fog: %w", err)
	}
	now := s.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fog_of_war (id, session_id, grid_positions, is_revealed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			grid_positions = excluded.grid_positions,
			is_revealed = excluded.is_revealed,
			updated_at = excluded.updated_at`,
		uuid.NewString(), sessionID, string(positions), boolInt(len(cells) == 0), now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert fog: %w", err)
	}
	return nil
}

// LoadFog returns the concealed cells of a session; none when never saved.
func (s *Store) LoadFog(ctx context.Context, sessionID string) ([]grid.Cell, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT grid_positions FROM fog_of_war WHERE session_id = ?`, sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []grid.Cell{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select fog: %w", err)
	}
	var cells []grid.Cell
	if err := json.Unmarshal([]byte(raw), &cells); err != nil {
		return nil, fmt.Errorf("decode fog: %w", err)
	}
	return cells, nil
}
