package tactical

import (
	"sort"

	"tabletop/internal/grid"
)

// FogSet is the set of concealed cells. Membership uses cell value equality,
// so a coordinate can never appear twice.
type FogSet struct {
	cells map[grid.Cell]struct{}
}

// NewFogSet builds a set from cells, collapsing duplicates.
func NewFogSet(cells ...grid.Cell) FogSet {
	f := FogSet{cells: make(map[grid.Cell]struct{}, len(cells))}
	for _, c := range cells {
		f.cells[c] = struct{}{}
	}
	return f
}

// Toggle conceals c if it is revealed and reveals it otherwise. It reports
// whether c is concealed afterwards.
func (f *FogSet) Toggle(c grid.Cell) bool {
	if f.cells == nil {
		f.cells = make(map[grid.Cell]struct{})
	}
	if _, ok := f.cells[c]; ok {
		delete(f.cells, c)
		return false
	}
	f.cells[c] = struct{}{}
	return true
}

// Clear reveals every cell.
func (f *FogSet) Clear() {
	f.cells = make(map[grid.Cell]struct{})
}

// Replace discards the current contents in favour of cells.
func (f *FogSet) Replace(cells []grid.Cell) {
	*f = NewFogSet(cells...)
}

func (f FogSet) Contains(c grid.Cell) bool {
	_, ok := f.cells[c]
	return ok
}

func (f FogSet) Len() int {
	return len(f.cells)
}

// Cells returns the concealed cells in row-major order.
func (f FogSet) Cells() []grid.Cell {
	out := make([]grid.Cell, 0, len(f.cells))
	for c := range f.cells {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Row != out[j].Row {
			return out[i].Row < out[j].Row
		}
		return out[i].Col < out[j].Col
	})
	return out
}
