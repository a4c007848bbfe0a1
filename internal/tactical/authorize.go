package tactical

import (
	"fmt"

	"tabletop/internal/apperr"
)

// Role represents an actor's role in a session.
type Role string

const (
	RoleGM     Role = "gm"
	RolePlayer Role = "player"
)

// ParseRole validates a role name; empty means player.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case "", RolePlayer:
		return RolePlayer, nil
	case RoleGM:
		return RoleGM, nil
	default:
		return "", apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("unknown role %q", raw))
	}
}

// Actor is the identity performing an operation.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

func (a Actor) IsGM() bool {
	return a.Role == RoleGM
}

// Action names a mutation subject to authorization.
type Action string

const (
	ActionAddToken      Action = "token.add"
	ActionMoveToken     Action = "token.move"
	ActionSetVisibility Action = "token.visibility"
	ActionEditToken     Action = "token.edit"
	ActionDeleteToken   Action = "token.delete"
	ActionFog           Action = "fog"
	ActionPause         Action = "session.pause"
	ActionBackground    Action = "session.background"
	ActionGrid          Action = "session.grid"
	ActionDeleteSession Action = "session.delete"
)

// Authorize decides whether actor may perform action. tok is the target token
// for token actions and may be nil otherwise. It is the single source of truth
// for both accepting mutations and deciding which affordances to show.
func Authorize(actor Actor, action Action, paused bool, tok *Token) error {
	switch action {
	case ActionMoveToken:
		if paused {
			return apperr.ErrSessionPaused
		}
		if actor.IsGM() {
			return nil
		}
		if tok != nil && tok.Kind == KindCharacter && tok.OwnedBy(actor.ID) {
			return nil
		}
		return apperr.New(apperr.CodePermissionDenied, "only the GM or the owning player may move this token")
	case ActionAddToken, ActionSetVisibility, ActionEditToken, ActionDeleteToken,
		ActionFog, ActionPause, ActionBackground, ActionGrid, ActionDeleteSession:
		if actor.IsGM() {
			return nil
		}
		return apperr.New(apperr.CodePermissionDenied, fmt.Sprintf("%s requires the GM", action))
	default:
		return apperr.New(apperr.CodePermissionDenied, fmt.Sprintf("unknown action %q", action))
	}
}

// Affordances lists what an actor's map view may offer.
type Affordances struct {
	FogTool          bool     `json:"fogTool"`
	CreateToken      bool     `json:"createToken"`
	DeleteToken      bool     `json:"deleteToken"`
	ToggleVisibility bool     `json:"toggleVisibility"`
	Pause            bool     `json:"pause"`
	MovableTokenIDs  []string `json:"movableTokenIds"`
}

// AffordancesFor derives the view affordances from Authorize.
func AffordancesFor(actor Actor, state State) Affordances {
	allowed := func(a Action) bool { return Authorize(actor, a, state.Paused, nil) == nil }
	aff := Affordances{
		FogTool:          allowed(ActionFog),
		CreateToken:      allowed(ActionAddToken),
		DeleteToken:      allowed(ActionDeleteToken),
		ToggleVisibility: allowed(ActionSetVisibility),
		Pause:            allowed(ActionPause),
		MovableTokenIDs:  []string{},
	}
	for i := range state.Tokens {
		tok := state.Tokens[i]
		if !tok.Visible && !actor.IsGM() {
			continue
		}
		if Authorize(actor, ActionMoveToken, state.Paused, &tok) == nil {
			aff.MovableTokenIDs = append(aff.MovableTokenIDs, tok.ID)
		}
	}
	return aff
}
