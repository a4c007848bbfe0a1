package grid

import (
	"fmt"
	"math"
	"strings"
)

// Shape selects how grid lines are drawn.
type Shape string

const (
	ShapeSquare Shape = "square"
	ShapeHex    Shape = "hex"
)

// ParseShape validates a grid shape name; empty means square.
func ParseShape(raw string) (Shape, error) {
	switch Shape(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ShapeSquare:
		return ShapeSquare, nil
	case ShapeHex:
		return ShapeHex, nil
	default:
		return "", fmt.Errorf("unknown grid shape %q", raw)
	}
}

// Line is a straight segment in scene pixels.
type Line struct {
	From Point `json:"from"`
	To   Point `json:"to"`
}

// SquareLines returns the vertical then horizontal lines of a square grid
// covering width x height pixels.
func SquareLines(width, height, cellSize float64) []Line {
	if cellSize <= 0 || width <= 0 || height <= 0 {
		return nil
	}
	cols := int(math.Ceil(width / cellSize))
	rows := int(math.Ceil(height / cellSize))
	lines := make([]Line, 0, cols+rows+2)
	for i := 0; i <= cols; i++ {
		x := float64(i) * cellSize
		lines = append(lines, Line{From: Point{X: x}, To: Point{X: x, Y: height}})
	}
	for j := 0; j <= rows; j++ {
		y := float64(j) * cellSize
		lines = append(lines, Line{From: Point{Y: y}, To: Point{X: width, Y: y}})
	}
	return lines
}

// HexDots approximates a hex grid with a dot at each cell centre, shifting
// odd rows by half a cell. It is a visual pattern only; distances still use
// square cells.
func HexDots(width, height, cellSize float64) []Point {
	if cellSize <= 0 || width <= 0 || height <= 0 {
		return nil
	}
	rowStep := cellSize * math.Sqrt(3) / 2
	var dots []Point
	for row := 0; float64(row)*rowStep <= height; row++ {
		shift := 0.0
		if row%2 == 1 {
			shift = cellSize / 2
		}
		for x := shift + cellSize/2; x <= width; x += cellSize {
			dots = append(dots, Point{X: x, Y: float64(row)*rowStep + rowStep/2})
		}
	}
	return dots
}
