// Package grid maps between scene pixels and map grid cells.
package grid

import (
	"fmt"
	"math"
)

const (
	// DefaultCellSize is the pixel edge of one map cell.
	DefaultCellSize = 50.0
	// MeasureCellSize is the finer cell used by the measurement overlay.
	MeasureCellSize = 20.0
	// FeetPerCell is the distance one cell represents.
	FeetPerCell = 5
)

// Cell addresses one grid square. The origin is the scene's top-left corner.
type Cell struct {
	Col int `json:"x"`
	Row int `json:"y"`
}

func (c Cell) String() string {
	return fmt.Sprintf("(%d,%d)", c.Col, c.Row)
}

// Point is a pixel coordinate in scene or screen space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PixelToCell converts a screen pixel into the cell under it for a stage
// translated by offset and scaled by scale.
func PixelToCell(p Point, cellSize float64, offset Point, scale float64) Cell {
	if scale == 0 {
		scale = 1
	}
	edge := cellSize * scale
	return Cell{
		Col: int(math.Floor((p.X - offset.X) / edge)),
		Row: int(math.Floor((p.Y - offset.Y) / edge)),
	}
}

// Snap returns the cell containing a scene pixel on an untransformed stage.
func Snap(p Point, cellSize float64) Cell {
	return PixelToCell(p, cellSize, Point{}, 1)
}

// CellToPixelCenter returns the scene pixel at the centre of c.
func CellToPixelCenter(c Cell, cellSize float64) Point {
	return Point{
		X: float64(c.Col)*cellSize + cellSize/2,
		Y: float64(c.Row)*cellSize + cellSize/2,
	}
}

// CellOrigin returns the scene pixel of c's top-left corner.
func CellOrigin(c Cell, cellSize float64) Point {
	return Point{X: float64(c.Col) * cellSize, Y: float64(c.Row) * cellSize}
}

// Distance is the number of cells between a and b when diagonal steps cost
// the same as straight ones.
func Distance(a, b Cell) int {
	dx := abs(a.Col - b.Col)
	dy := abs(a.Row - b.Row)
	if dx > dy {
		return dx
	}
	return dy
}

// Feet converts Distance into feet.
func Feet(a, b Cell) int {
	return Distance(a, b) * FeetPerCell
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
