package tactical

import (
	"fmt"
	"strings"

	"tabletop/internal/apperr"
	"tabletop/internal/grid"
)

// TokenKind classifies what a token represents.
type TokenKind string

const (
	KindCharacter TokenKind = "character"
	KindMonster   TokenKind = "monster"
	KindNPC       TokenKind = "npc"
	KindObject    TokenKind = "object"
)

// ParseTokenKind validates a kind name; empty defaults to monster.
func ParseTokenKind(raw string) (TokenKind, error) {
	switch k := TokenKind(strings.ToLower(strings.TrimSpace(raw))); k {
	case "":
		return KindMonster, nil
	case KindCharacter, KindMonster, KindNPC, KindObject:
		return k, nil
	default:
		return "", apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("unknown token type %q", raw))
	}
}

func (k TokenKind) defaultColor() string {
	switch k {
	case KindCharacter:
		return "#1e88e5"
	case KindNPC:
		return "#43a047"
	case KindObject:
		return "#8d6e63"
	default:
		return "#e53935"
	}
}

// TokenSize multiplies the cell size to get a token's footprint.
type TokenSize float64

const (
	SizeTiny       TokenSize = 0.5
	SizeSmall      TokenSize = 0.75
	SizeMedium     TokenSize = 1
	SizeLarge      TokenSize = 1.5
	SizeHuge       TokenSize = 2
	SizeGargantuan TokenSize = 3
)

var sizeNames = map[TokenSize]string{
	SizeTiny:       "tiny",
	SizeSmall:      "small",
	SizeMedium:     "medium",
	SizeLarge:      "large",
	SizeHuge:       "huge",
	SizeGargantuan: "gargantuan",
}

func (s TokenSize) String() string {
	if name, ok := sizeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("size(%g)", float64(s))
}

// ParseTokenSize accepts only the enumerated multipliers; zero means medium.
func ParseTokenSize(v float64) (TokenSize, error) {
	if v == 0 {
		return SizeMedium, nil
	}
	if _, ok := sizeNames[TokenSize(v)]; !ok {
		return 0, apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("unsupported token size %g", v))
	}
	return TokenSize(v), nil
}

// Token is a marker placed on the map.
type Token struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Label       string    `json:"name"`
	Kind        TokenKind `json:"token_type"`
	Color       string    `json:"color"`
	Size        TokenSize `json:"size"`
	Position    grid.Cell `json:"position"`
	Visible     bool      `json:"is_visible_to_players"`
	OwnerID     *string   `json:"user_id,omitempty"`
	CharacterID *string   `json:"character_id,omitempty"`
}

// OwnedBy reports whether actorID is the token's owning actor.
func (t Token) OwnedBy(actorID string) bool {
	return t.OwnerID != nil && actorID != "" && *t.OwnerID == actorID
}

func (t Token) clone() Token {
	if t.OwnerID != nil {
		owner := *t.OwnerID
		t.OwnerID = &owner
	}
	if t.CharacterID != nil {
		character := *t.CharacterID
		t.CharacterID = &character
	}
	return t
}

// TokenDraft holds the caller-supplied fields of a new token.
type TokenDraft struct {
	Label       string
	Kind        TokenKind
	Color       string
	Size        TokenSize
	Position    grid.Cell
	Visible     *bool
	OwnerID     *string
	CharacterID *string
}

func (d TokenDraft) validate() (TokenDraft, error) {
	d.Label = strings.TrimSpace(d.Label)
	if d.Label == "" {
		return d, apperr.New(apperr.CodeInvalidInput, "token name is required")
	}
	kind, err := ParseTokenKind(string(d.Kind))
	if err != nil {
		return d, err
	}
	d.Kind = kind
	size, err := ParseTokenSize(float64(d.Size))
	if err != nil {
		return d, err
	}
	d.Size = size
	d.Color = strings.TrimSpace(d.Color)
	if d.Color == "" {
		d.Color = d.Kind.defaultColor()
	}
	return d, nil
}

// TokenPatch edits a token's presentation. Nil fields are left unchanged.
type TokenPatch struct {
	Label *string
	Color *string
	Size  *TokenSize
}

// Validate checks the patch without applying it.
func (p TokenPatch) Validate() error {
	if p.Label != nil && strings.TrimSpace(*p.Label) == "" {
		return apperr.New(apperr.CodeInvalidInput, "token name is required")
	}
	if p.Size != nil {
		if _, err := ParseTokenSize(float64(*p.Size)); err != nil {
			return err
		}
	}
	return nil
}

// Participant is a user seated in the session, optionally playing a character.
type Participant struct {
	UserID        string  `json:"user_id"`
	Name          string  `json:"name"`
	Role          Role    `json:"role"`
	CharacterID   *string `json:"character_id,omitempty"`
	CharacterName string  `json:"character_name,omitempty"`
	Color         string  `json:"color,omitempty"`
}

// draft derives the character token a participant plays with.
func (p Participant) draft(at grid.Cell) TokenDraft {
	label := p.CharacterName
	if strings.TrimSpace(label) == "" {
		label = p.Name
	}
	owner := p.UserID
	return TokenDraft{
		Label:       label,
		Kind:        KindCharacter,
		Color:       p.Color,
		Size:        SizeMedium,
		Position:    at,
		OwnerID:     &owner,
		CharacterID: p.CharacterID,
	}
}
