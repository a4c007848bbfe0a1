package server

import (
	"tabletop/internal/grid"
	"tabletop/internal/storage"
	"tabletop/internal/syncbridge"
	"tabletop/internal/tactical"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type createSessionRequest struct {
	Name      string  `json:"name"`
	GMName    string  `json:"gmName"`
	CellSize  float64 `json:"cellSize"`
	GridShape string  `json:"gridShape"`
}

type joinRequest struct {
	Name          string  `json:"name"`
	Role          string  `json:"role"`
	CharacterID   *string `json:"characterId"`
	CharacterName string  `json:"characterName"`
	Color         string  `json:"color"`
}

// credentials is returned whenever an actor obtains a token.
type credentials struct {
	Session        tactical.Info   `json:"session"`
	Actor          tactical.Actor  `json:"actor"`
	Token          string          `json:"token"`
	CharacterToken *tactical.Token `json:"characterToken,omitempty"`
}

type sessionResponse struct {
	State        tactical.State         `json:"state"`
	Participants []tactical.Participant `json:"participants"`
	Online       []string               `json:"online"`
	Affordances  tactical.Affordances   `json:"affordances"`
}

type infoResponse struct {
	Session  tactical.Info       `json:"session"`
	Mutation syncbridge.Mutation `json:"mutation"`
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

type backgroundRequest struct {
	MapID string `json:"mapId"`
}

type gridRequest struct {
	CellSize float64 `json:"cellSize"`
	Shape    string  `json:"shape"`
}

type addTokenRequest struct {
	Name        string   `json:"name"`
	TokenType   string   `json:"tokenType"`
	Color       string   `json:"color"`
	Size        float64  `json:"size"`
	X           *int     `json:"x"`
	Y           *int     `json:"y"`
	PX          *float64 `json:"px"`
	PY          *float64 `json:"py"`
	Visible     *bool    `json:"visible"`
	UserID      *string  `json:"userId"`
	CharacterID *string  `json:"characterId"`
}

// patchTokenRequest moves a token by cell or by dropped pixel, and/or edits
// its presentation.
type patchTokenRequest struct {
	X     *int     `json:"x"`
	Y     *int     `json:"y"`
	PX    *float64 `json:"px"`
	PY    *float64 `json:"py"`
	Name  *string  `json:"name"`
	Color *string  `json:"color"`
	Size  *float64 `json:"size"`
}

type visibilityRequest struct {
	Visible bool `json:"visible"`
}

type tokenResponse struct {
	Token     tactical.Token        `json:"token"`
	Mutations []syncbridge.Mutation `json:"mutations"`
}

type fogToggleResponse struct {
	Concealed bool                `json:"concealed"`
	Mutation  syncbridge.Mutation `json:"mutation"`
}

type fogFill struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

type replaceFogRequest struct {
	Cells []grid.Cell `json:"cells"`
	Fill  *fogFill    `json:"fill"`
}

type rollRequest struct {
	Formula      string `json:"formula"`
	Mode         string `json:"mode"`
	Modifier     int    `json:"modifier"`
	VisibleToAll *bool  `json:"visibleToAll"`
}

type messageRequest struct {
	Content   string `json:"content"`
	Recipient string `json:"recipient"`
}

type messageResponse struct {
	Message storage.ChatMessage `json:"message"`
	Roll    *storage.DiceRoll   `json:"roll,omitempty"`
}

type createMapRequest struct {
	Name        string `json:"name"`
	ImageURL    string `json:"imageUrl"`
	Description string `json:"description"`
}
