// Package tactical holds the tactical map model: tokens, fog of war, the
// permission rules that gate them and the interaction layer that drives them.
package tactical

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"tabletop/internal/apperr"
	"tabletop/internal/grid"
)

const (
	MinCellSize = 10.0
	MaxCellSize = 200.0
)

// Info is the scalar part of a map session.
type Info struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	CreatedBy     string     `json:"created_by"`
	MapID         string     `json:"map_id,omitempty"`
	BackgroundURL string     `json:"background_url,omitempty"`
	CellSize      float64    `json:"cell_size"`
	Shape         grid.Shape `json:"grid_shape"`
	Paused        bool       `json:"paused"`
}

// State is an immutable copy of a session.
type State struct {
	Info
	Tokens []Token     `json:"tokens"`
	Fog    []grid.Cell `json:"fog"`
}

// Token returns the token with id, if present.
func (s State) Token(id string) (Token, bool) {
	for _, t := range s.Tokens {
		if t.ID == id {
			return t, true
		}
	}
	return Token{}, false
}

// VisibleTo returns the state as actor may see it: players lose hidden tokens.
func (s State) VisibleTo(actor Actor) State {
	if actor.IsGM() {
		return s
	}
	tokens := make([]Token, 0, len(s.Tokens))
	for _, t := range s.Tokens {
		if t.Visible {
			tokens = append(tokens, t)
		}
	}
	s.Tokens = tokens
	return s
}

// Session is the authoritative map aggregate. It owns its tokens and fog.
type Session struct {
	mu     sync.RWMutex
	info   Info
	tokens []Token
	fog    FogSet
	newID  func() string
}

// NewSession creates an empty session. Zero cell size and shape get defaults.
func NewSession(info Info) *Session {
	if info.CellSize <= 0 {
		info.CellSize = grid.DefaultCellSize
	}
	if info.Shape == "" {
		info.Shape = grid.ShapeSquare
	}
	return &Session{
		info:  info,
		fog:   NewFogSet(),
		newID: uuid.NewString,
	}
}

// Restore rebuilds a session from persisted rows.
func Restore(info Info, tokens []Token, fog []grid.Cell) *Session {
	s := NewSession(info)
	s.tokens = make([]Token, 0, len(tokens))
	for _, t := range tokens {
		s.tokens = append(s.tokens, t.clone())
	}
	s.fog = NewFogSet(fog...)
	return s
}

func (s *Session) ID() string {
	return s.info.ID
}

// Snapshot returns a deep copy of the session.
func (s *Session) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tokens := make([]Token, len(s.tokens))
	for i, t := range s.tokens {
		tokens[i] = t.clone()
	}
	return State{Info: s.info, Tokens: tokens, Fog: s.fog.Cells()}
}

// Info returns the scalar session fields.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Token returns a copy of one token.
func (s *Session) Token(id string) (Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx := s.indexOf(id); idx >= 0 {
		return s.tokens[idx].clone(), true
	}
	return Token{}, false
}

func (s *Session) indexOf(id string) int {
	for i := range s.tokens {
		if s.tokens[i].ID == id {
			return i
		}
	}
	return -1
}

func tokenNotFound(id string) error {
	return apperr.New(apperr.CodeNotFound, fmt.Sprintf("token %s not found", id))
}

// AddToken places a new token. Visibility defaults to true.
func (s *Session) AddToken(actor Actor, draft TokenDraft) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := Authorize(actor, ActionAddToken, s.info.Paused, nil); err != nil {
		return Token{}, err
	}
	return s.insertLocked(draft)
}

// AddParticipantToken places the character token a participant plays with.
func (s *Session) AddParticipantToken(actor Actor, p Participant, at grid.Cell) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := Authorize(actor, ActionAddToken, s.info.Paused, nil); err != nil {
		return Token{}, err
	}
	if strings.TrimSpace(p.UserID) == "" {
		return Token{}, apperr.New(apperr.CodeInvalidInput, "participant user id is required")
	}
	return s.insertLocked(p.draft(at))
}

func (s *Session) insertLocked(draft TokenDraft) (Token, error) {
	draft, err := draft.validate()
	if err != nil {
		return Token{}, err
	}
	visible := true
	if draft.Visible != nil {
		visible = *draft.Visible
	}
	tok := Token{
		ID:          s.newID(),
		SessionID:   s.info.ID,
		Label:       draft.Label,
		Kind:        draft.Kind,
		Color:       draft.Color,
		Size:        draft.Size,
		Position:    draft.Position,
		Visible:     visible,
		OwnerID:     draft.OwnerID,
		CharacterID: draft.CharacterID,
	}
	tok = tok.clone()
	s.tokens = append(s.tokens, tok)
	return tok.clone(), nil
}

// MoveToken relocates a token. The GM may move any token and a player may
// move their own character token; nobody may move tokens while paused.
func (s *Session) MoveToken(actor Actor, id string, to grid.Cell) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return Token{}, tokenNotFound(id)
	}
	if err := Authorize(actor, ActionMoveToken, s.info.Paused, &s.tokens[idx]); err != nil {
		return Token{}, err
	}
	s.tokens[idx].Position = to
	return s.tokens[idx].clone(), nil
}

// SetVisibility shows or hides a token from players.
func (s *Session) SetVisibility(actor Actor, id string, visible bool) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := Authorize(actor, ActionSetVisibility, s.info.Paused, nil); err != nil {
		return Token{}, err
	}
	idx := s.indexOf(id)
	if idx < 0 {
		return Token{}, tokenNotFound(id)
	}
	s.tokens[idx].Visible = visible
	return s.tokens[idx].clone(), nil
}

// UpdateToken changes a token's label, color or size.
func (s *Session) UpdateToken(actor Actor, id string, patch TokenPatch) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := Authorize(actor, ActionEditToken, s.info.Paused, nil); err != nil {
		return Token{}, err
	}
	if err := patch.Validate(); err != nil {
		return Token{}, err
	}
	idx := s.indexOf(id)
	if idx < 0 {
		return Token{}, tokenNotFound(id)
	}
	tok := s.tokens[idx]
	if patch.Label != nil {
		tok.Label = strings.TrimSpace(*patch.Label)
	}
	if patch.Color != nil && strings.TrimSpace(*patch.Color) != "" {
		tok.Color = strings.TrimSpace(*patch.Color)
	}
	if patch.Size != nil {
		tok.Size, _ = ParseTokenSize(float64(*patch.Size))
	}
	s.tokens[idx] = tok
	return tok.clone(), nil
}

// DeleteToken removes a token and returns it.
func (s *Session) DeleteToken(actor Actor, id string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := Authorize(actor, ActionDeleteToken, s.info.Paused, nil); err != nil {
		return Token{}, err
	}
	idx := s.indexOf(id)
	if idx < 0 {
		return Token{}, tokenNotFound(id)
	}
	tok := s.tokens[idx]
	s.tokens = append(s.tokens[:idx], s.tokens[idx+1:]...)
	return tok, nil
}

// ToggleFog flips one cell and reports whether it is now concealed.
func (s *Session) ToggleFog(actor Actor, c grid.Cell) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := Authorize(actor, ActionFog, s.info.Paused, nil); err != nil {
		return false, err
	}
	return s.fog.Toggle(c), nil
}

// ClearFog reveals the whole map.
func (s *Session) ClearFog(actor Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := Authorize(actor, ActionFog, s.info.Paused, nil); err != nil {
		return err
	}
	s.fog.Clear()
	return nil
}

// ReplaceFog sets the concealed cells wholesale.
func (s *Session) ReplaceFog(actor Actor, cells []grid.Cell) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := Authorize(actor, ActionFog, s.info.Paused, nil); err != nil {
		return err
	}
	s.fog.Replace(cells)
	return nil
}

// FillFog conceals every cell of a cols x rows rectangle from the origin.
func (s *Session) FillFog(actor Actor, cols, rows int) error {
	if cols <= 0 || rows <= 0 || cols > 1_000_000/rows {
		return apperr.New(apperr.CodeInvalidInput, "fog area must be positive and bounded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := Authorize(actor, ActionFog, s.info.Paused, nil); err != nil {
		return err
	}
	cells := make([]grid.Cell, 0, cols*rows)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			cells = append(cells, grid.Cell{Col: col, Row: row})
		}
	}
	s.fog.Replace(cells)
	return nil
}

// Fog returns the concealed cells.
func (s *Session) Fog() []grid.Cell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fog.Cells()
}

// SetPaused freezes or unfreezes token movement for everyone.
func (s *Session) SetPaused(actor Actor, paused bool) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := Authorize(actor, ActionPause, s.info.Paused, nil); err != nil {
		return Info{}, err
	}
	s.info.Paused = paused
	return s.info, nil
}

// SetBackground switches the active map image.
func (s *Session) SetBackground(actor Actor, mapID, imageURL string) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := Authorize(actor, ActionBackground, s.info.Paused, nil); err != nil {
		return Info{}, err
	}
	s.info.MapID = mapID
	s.info.BackgroundURL = imageURL
	return s.info, nil
}

// SetGrid changes the cell size and grid shape.
func (s *Session) SetGrid(actor Actor, cellSize float64, shape grid.Shape) (Info, error) {
	if cellSize < MinCellSize || cellSize > MaxCellSize {
		return Info{}, apperr.New(apperr.CodeInvalidInput,
			fmt.Sprintf("cell size must be between %g and %g", MinCellSize, MaxCellSize))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := Authorize(actor, ActionGrid, s.info.Paused, nil); err != nil {
		return Info{}, err
	}
	s.info.CellSize = cellSize
	s.info.Shape = shape
	return s.info, nil
}
