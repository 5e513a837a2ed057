// Package resolver maps pointer positions during a drag to an insertion
// point in the block tree and keeps a placeholder in step with it.
//
// Everything environment specific sits behind Host: hit testing, reading a
// block's layout direction, measuring rendered children and moving the
// placeholder node. The browser package implements Host over a real page;
// VirtualHost implements it over in-memory boxes.
package resolver

import (
	"strings"

	"github.com/livetemplate/blockstudio/internal/style"
)

// Direction is the main axis children of a block flow along.
type Direction int

const (
	Column Direction = iota
	Row
)

func (d Direction) String() string {
	if d == Row {
		return "row"
	}
	return "column"
}

// Placeholder classes. The indicator edge is flipped with the layout so the
// placeholder displaces its siblings as little as possible.
const (
	HorizontalPlaceholder = "horizontal-placeholder"
	VerticalPlaceholder   = "vertical-placeholder"
)

// PlaceholderClass returns the placeholder class for a layout direction.
func PlaceholderClass(d Direction) string {
	if d == Row {
		return VerticalPlaceholder
	}
	return HorizontalPlaceholder
}

// LayoutOracle reports how a rendered block lays out its children.
type LayoutOracle interface {
	LayoutDirectionOf(blockID string) Direction
}

// Rect is a rendered box in client coordinates.
type Rect struct {
	X, Y, Width, Height float64
}

// Contains reports whether the point lies inside r.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x <= r.X+r.Width && y >= r.Y && y <= r.Y+r.Height
}

// Mid returns r's midpoint along d's axis.
func (r Rect) Mid(d Direction) float64 {
	if d == Row {
		return r.X + r.Width/2
	}
	return r.Y + r.Height/2
}

// Hit is the block element found under the pointer.
type Hit struct {
	BlockID    string
	Slot       string
	Breakpoint style.Breakpoint
}

// Host is the rendering environment the resolver drives.
type Host interface {
	LayoutOracle
	// HitTest returns the nearest block element under the point.
	HitTest(x, y float64) (Hit, bool)
	// ChildBounds returns the boxes of a block's rendered children in
	// order, never including the placeholder.
	ChildBounds(parentID string) []Rect
	// MovePlaceholder inserts the placeholder as the index-th child of the
	// parent's element, styled for the direction.
	MovePlaceholder(parentID string, index int, d Direction) error
	// ClearPlaceholder removes the placeholder.
	ClearPlaceholder() error
}

// DirectionFromComputed applies the flow rule to computed style values:
// flex containers follow flex-direction, grids follow grid-auto-flow and
// everything else stacks as a column.
func DirectionFromComputed(display, flexDirection, gridAutoFlow string) Direction {
	switch display {
	case "flex", "inline-flex":
		if strings.Contains(flexDirection, "row") {
			return Row
		}
	case "grid", "inline-grid":
		if strings.Contains(gridAutoFlow, "row") {
			return Row
		}
	}
	return Column
}

// DropIndex picks the insertion index among children with the given
// bounds: the child whose midpoint is closest to the pointer along the
// layout axis, before it when the pointer is at or before the midpoint and
// after it otherwise. No children yields 0.
func DropIndex(bounds []Rect, d Direction, x, y float64) int {
	if len(bounds) == 0 {
		return 0
	}
	pos := y
	if d == Row {
		pos = x
	}
	closest, best := 0, -1.0
	for i, r := range bounds {
		dist := r.Mid(d) - pos
		if dist < 0 {
			dist = -dist
		}
		if best < 0 || dist < best {
			closest, best = i, dist
		}
	}
	if pos <= bounds[closest].Mid(d) {
		return closest
	}
	return closest + 1
}
