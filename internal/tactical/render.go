package tactical

import (
	"strings"
	"unicode/utf8"

	"tabletop/internal/grid"
)

const (
	gmFogOpacity     = 0.5
	playerFogOpacity = 1.0
	fogColor         = "#000000"
)

// Scene is a renderer-agnostic display list of one actor's map view.
type Scene struct {
	Background  string       `json:"background,omitempty"`
	Width       float64      `json:"width"`
	Height      float64      `json:"height"`
	CellSize    float64      `json:"cellSize"`
	Shape       grid.Shape   `json:"shape"`
	GridLines   []grid.Line  `json:"gridLines,omitempty"`
	GridDots    []grid.Point `json:"gridDots,omitempty"`
	Fog         []FogRect    `json:"fog"`
	Tokens      []Sprite     `json:"tokens"`
	Paused      bool         `json:"paused"`
	Affordances Affordances  `json:"affordances"`
	Selected    string       `json:"selected,omitempty"`
	Measure     *Measurement `json:"measure,omitempty"`
}

// FogRect is one concealed cell drawn as a filled square.
type FogRect struct {
	Cell    grid.Cell  `json:"cell"`
	Origin  grid.Point `json:"origin"`
	Size    float64    `json:"size"`
	Color   string     `json:"color"`
	Opacity float64    `json:"opacity"`
}

// Sprite is a token drawn as a labelled circle.
type Sprite struct {
	TokenID string     `json:"tokenId"`
	Center  grid.Point `json:"center"`
	Radius  float64    `json:"radius"`
	Color   string     `json:"color"`
	Label   string     `json:"label"`
	Hidden  bool       `json:"hidden,omitempty"`
}

// Render builds the scene actor sees on a width x height stage. Players never
// receive tokens hidden from them.
func Render(state State, actor Actor, width, height float64) Scene {
	cellSize := state.CellSize
	if cellSize <= 0 {
		cellSize = grid.DefaultCellSize
	}
	scene := Scene{
		Background:  state.BackgroundURL,
		Width:       width,
		Height:      height,
		CellSize:    cellSize,
		Shape:       state.Shape,
		Paused:      state.Paused,
		Affordances: AffordancesFor(actor, state),
		Fog:         make([]FogRect, 0, len(state.Fog)),
		Tokens:      make([]Sprite, 0, len(state.Tokens)),
	}
	if state.Shape == grid.ShapeHex {
		scene.GridDots = grid.HexDots(width, height, cellSize)
	} else {
		scene.GridLines = grid.SquareLines(width, height, cellSize)
	}

	opacity := playerFogOpacity
	if actor.IsGM() {
		opacity = gmFogOpacity
	}
	for _, c := range state.Fog {
		scene.Fog = append(scene.Fog, FogRect{
			Cell:    c,
			Origin:  grid.CellOrigin(c, cellSize),
			Size:    cellSize,
			Color:   fogColor,
			Opacity: opacity,
		})
	}

	for _, tok := range state.Tokens {
		if !tok.Visible && !actor.IsGM() {
			continue
		}
		scene.Tokens = append(scene.Tokens, Sprite{
			TokenID: tok.ID,
			Center:  grid.CellToPixelCenter(tok.Position, cellSize),
			Radius:  cellSize * float64(tok.Size) / 2,
			Color:   tok.Color,
			Label:   shortLabel(tok.Label),
			Hidden:  !tok.Visible,
		})
	}
	return scene
}

// shortLabel returns the first two characters of a name, upper-cased.
func shortLabel(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) <= 2 {
		return strings.ToUpper(name)
	}
	runes := []rune(name)
	return strings.ToUpper(string(runes[:2]))
}
