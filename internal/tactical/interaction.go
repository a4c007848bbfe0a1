package tactical

import (
	"context"
	"fmt"
	"math"

	"tabletop/internal/apperr"
	"tabletop/internal/grid"
)

// Tool is the active pointer tool of a map view.
type Tool string

const (
	ToolSelect  Tool = "select"
	ToolFog     Tool = "fog"
	ToolMeasure Tool = "measure"
)

// Mode is the interaction state of a map view.
type Mode int

const (
	ModeIdle Mode = iota
	ModeDragging
	ModeMeasuring
)

func (m Mode) String() string {
	switch m {
	case ModeDragging:
		return "dragging"
	case ModeMeasuring:
		return "measuring"
	}
	return "idle"
}

// Measurement is the ruler drawn by the measure tool. It snaps to the finer
// measurement grid rather than the map grid.
type Measurement struct {
	From  grid.Cell  `json:"from"`
	To    grid.Cell  `json:"to"`
	Start grid.Point `json:"start"`
	End   grid.Point `json:"end"`
	Cells int        `json:"cells"`
	Feet  int        `json:"feet"`
}

func measure(from, to grid.Cell) *Measurement {
	return &Measurement{
		From:  from,
		To:    to,
		Start: grid.CellToPixelCenter(from, grid.MeasureCellSize),
		End:   grid.CellToPixelCenter(to, grid.MeasureCellSize),
		Cells: grid.Distance(from, to),
		Feet:  grid.Feet(from, to),
	}
}

// Dispatcher commits the mutations an interaction produces.
type Dispatcher interface {
	MoveToken(ctx context.Context, actor Actor, tokenID string, to grid.Cell) error
	ToggleFog(ctx context.Context, actor Actor, c grid.Cell) error
}

// Snapshotter is anything that can produce the current map state.
type Snapshotter interface {
	Snapshot() State
}

type drag struct {
	tokenID string
	offset  grid.Point
	start   grid.Cell
	current grid.Cell
}

// Interaction turns one actor's pointer events into map mutations.
// It is not safe for concurrent use; each view owns its own.
type Interaction struct {
	actor    Actor
	source   Snapshotter
	dispatch Dispatcher
	viewport grid.Viewport
	tool     Tool
	mode     Mode
	selected string
	drag     drag
	ruler    *Measurement
}

// NewInteraction creates an idle view for actor.
func NewInteraction(actor Actor, source Snapshotter, dispatch Dispatcher) *Interaction {
	return &Interaction{
		actor:    actor,
		source:   source,
		dispatch: dispatch,
		viewport: grid.NewViewport(),
		tool:     ToolSelect,
	}
}

func (in *Interaction) Mode() Mode              { return in.mode }
func (in *Interaction) Tool() Tool              { return in.tool }
func (in *Interaction) Selected() string        { return in.selected }
func (in *Interaction) Viewport() grid.Viewport { return in.viewport }

// Ruler returns the current or last measurement, if any.
func (in *Interaction) Ruler() (Measurement, bool) {
	if in.ruler == nil {
		return Measurement{}, false
	}
	return *in.ruler, true
}

// SetTool switches tools. Only actors allowed to edit fog get the fog tool;
// everyone may measure.
func (in *Interaction) SetTool(tool Tool) error {
	switch tool {
	case ToolSelect, ToolMeasure:
	case ToolFog:
		if err := Authorize(in.actor, ActionFog, false, nil); err != nil {
			return err
		}
	default:
		return apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("unknown tool %q", tool))
	}
	if in.mode == ModeMeasuring {
		in.mode = ModeIdle
	}
	in.ruler = nil
	in.tool = tool
	return nil
}

// PointerDown starts a drag on a movable token, selects a token the actor
// may only look at, or toggles fog on an empty cell when the fog tool is on.
func (in *Interaction) PointerDown(ctx context.Context, screen grid.Point) error {
	if in.tool == ToolMeasure {
		from := in.viewport.CellAt(screen, grid.MeasureCellSize)
		in.mode = ModeMeasuring
		in.ruler = measure(from, from)
		return nil
	}

	state := in.source.Snapshot()
	point := in.viewport.ToScene(screen)

	if tok, ok := in.tokenAt(state, point); ok {
		in.selected = tok.ID
		if in.tool == ToolSelect && Authorize(in.actor, ActionMoveToken, state.Paused, &tok) == nil {
			center := grid.CellToPixelCenter(tok.Position, state.CellSize)
			in.mode = ModeDragging
			in.drag = drag{
				tokenID: tok.ID,
				offset:  grid.Point{X: point.X - center.X, Y: point.Y - center.Y},
				start:   tok.Position,
				current: tok.Position,
			}
		}
		return nil
	}

	in.selected = ""
	if in.tool != ToolFog {
		return nil
	}
	return in.dispatch.ToggleFog(ctx, in.actor, grid.Snap(point, state.CellSize))
}

// PointerMove updates the uncommitted position of the dragged token, snapped
// to the grid.
func (in *Interaction) PointerMove(screen grid.Point) {
	switch in.mode {
	case ModeDragging:
		in.drag.current = in.dragCell(screen)
	case ModeMeasuring:
		in.ruler = measure(in.ruler.From, in.viewport.CellAt(screen, grid.MeasureCellSize))
	}
}

// PointerUp commits a drag. If the move is rejected the token snaps back to
// where it started and the error is returned. A finished measurement stays
// on screen until the next pointer down.
func (in *Interaction) PointerUp(ctx context.Context, screen grid.Point) error {
	if in.mode == ModeMeasuring {
		in.PointerMove(screen)
		in.mode = ModeIdle
		return nil
	}
	if in.mode != ModeDragging {
		return nil
	}
	to := in.dragCell(screen)
	d := in.drag
	in.mode = ModeIdle
	in.drag = drag{}
	if to == d.start {
		return nil
	}
	return in.dispatch.MoveToken(ctx, in.actor, d.tokenID, to)
}

// Wheel zooms the stage about the pointer. It never affects a drag in progress.
func (in *Interaction) Wheel(deltaY float64, screen grid.Point) {
	in.viewport.Zoom(deltaY, screen)
}

// Pan moves the stage.
func (in *Interaction) Pan(dx, dy float64) {
	in.viewport.Pan(dx, dy)
}

// Forget drops any selection or drag that refers to a deleted token.
func (in *Interaction) Forget(tokenID string) {
	if in.selected == tokenID {
		in.selected = ""
	}
	if in.mode == ModeDragging && in.drag.tokenID == tokenID {
		in.mode = ModeIdle
		in.drag = drag{}
	}
}

// Preview reports the token being dragged and its uncommitted cell.
func (in *Interaction) Preview() (string, grid.Cell, bool) {
	if in.mode != ModeDragging {
		return "", grid.Cell{}, false
	}
	return in.drag.tokenID, in.drag.current, true
}

// Scene renders the actor's view including any drag preview.
func (in *Interaction) Scene(width, height float64) Scene {
	state := in.source.Snapshot()
	if in.selected != "" {
		if _, ok := state.Token(in.selected); !ok {
			in.Forget(in.selected)
		}
	}
	if id, cell, ok := in.Preview(); ok {
		for i := range state.Tokens {
			if state.Tokens[i].ID == id {
				state.Tokens[i].Position = cell
			}
		}
	}
	scene := Render(state, in.actor, width, height)
	scene.Selected = in.selected
	scene.Measure = in.ruler
	return scene
}

func (in *Interaction) dragCell(screen grid.Point) grid.Cell {
	state := in.source.Snapshot()
	point := in.viewport.ToScene(screen)
	return grid.Snap(grid.Point{X: point.X - in.drag.offset.X, Y: point.Y - in.drag.offset.Y}, state.CellSize)
}

// tokenAt returns the topmost token visible to the actor under a scene point.
func (in *Interaction) tokenAt(state State, point grid.Point) (Token, bool) {
	for i := len(state.Tokens) - 1; i >= 0; i-- {
		tok := state.Tokens[i]
		if !tok.Visible && !in.actor.IsGM() {
			continue
		}
		center := grid.CellToPixelCenter(tok.Position, state.CellSize)
		radius := state.CellSize * float64(tok.Size) / 2
		if math.Hypot(point.X-center.X, point.Y-center.Y) <= radius {
			return tok, true
		}
	}
	return Token{}, false
}
