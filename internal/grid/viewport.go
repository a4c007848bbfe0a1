package grid

const (
	MinScale   = 0.5
	MaxScale   = 3.0
	ZoomFactor = 1.05
)

// Viewport is the stage transform applied to the scene: screen = scene*Scale + Offset.
type Viewport struct {
	Offset Point   `json:"offset"`
	Scale  float64 `json:"scale"`
}

// NewViewport returns an untransformed viewport.
func NewViewport() Viewport {
	return Viewport{Scale: 1}
}

// Zoom applies one wheel step about the pointer. A positive deltaY zooms out.
// The resulting scale is clamped to [MinScale, MaxScale].
func (v *Viewport) Zoom(deltaY float64, pointer Point) {
	old := v.Scale
	if old <= 0 {
		old = 1
	}
	next := old
	switch {
	case deltaY > 0:
		next = old / ZoomFactor
	case deltaY < 0:
		next = old * ZoomFactor
	}
	next = clamp(next, MinScale, MaxScale)

	anchor := Point{
		X: (pointer.X - v.Offset.X) / old,
		Y: (pointer.Y - v.Offset.Y) / old,
	}
	v.Scale = next
	v.Offset = Point{
		X: pointer.X - anchor.X*next,
		Y: pointer.Y - anchor.Y*next,
	}
}

// Pan translates the stage by a screen delta.
func (v *Viewport) Pan(dx, dy float64) {
	v.Offset.X += dx
	v.Offset.Y += dy
}

// ToScene converts a screen pixel into scene space.
func (v Viewport) ToScene(screen Point) Point {
	scale := v.Scale
	if scale <= 0 {
		scale = 1
	}
	return Point{
		X: (screen.X - v.Offset.X) / scale,
		Y: (screen.Y - v.Offset.Y) / scale,
	}
}

// CellAt returns the grid cell under a screen pixel.
func (v Viewport) CellAt(screen Point, cellSize float64) Cell {
	return PixelToCell(screen, cellSize, v.Offset, v.Scale)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
