package resolver

import (
	"fmt"

	"github.com/livetemplate/blockstudio/internal/block"
)

// VirtualHost is a Host over boxes assigned in memory. Layout direction is
// derived from each block's own styles at the tree's active breakpoint, the
// way a browser would compute it.
type VirtualHost struct {
	tree  *block.Tree
	boxes map[string]Rect
	slots map[string]string

	// Placeholder state after the last MovePlaceholder.
	PlaceholderParent string
	PlaceholderIndex  int
	PlaceholderClass  string
	PlaceholderShown  bool
	Moves             int
}

var _ Host = (*VirtualHost)(nil)

// NewVirtualHost returns a host for tree with no boxes laid out.
func NewVirtualHost(tree *block.Tree) *VirtualHost {
	return &VirtualHost{
		tree:  tree,
		boxes: make(map[string]Rect),
		slots: make(map[string]string),
	}
}

// Tree returns the tree the host lays out.
func (h *VirtualHost) Tree() *block.Tree { return h.tree }

// Clear forgets every box and slot marker.
func (h *VirtualHost) Clear() {
	clear(h.boxes)
	clear(h.slots)
}

// SetBox places a block's rendered box.
func (h *VirtualHost) SetBox(blockID string, r Rect) { h.boxes[blockID] = r }

// MarkSlot tags a block's element with a slot marker.
func (h *VirtualHost) MarkSlot(blockID, slot string) { h.slots[blockID] = slot }

// HitTest returns the smallest box under the point, which is the innermost
// element in a nested layout.
func (h *VirtualHost) HitTest(x, y float64) (Hit, bool) {
	var (
		found string
		area  float64
	)
	for id, r := range h.boxes {
		if h.tree.Find(id) == nil || !r.Contains(x, y) {
			continue
		}
		a := r.Width * r.Height
		if found == "" || a < area || (a == area && id < found) {
			found, area = id, a
		}
	}
	if found == "" {
		return Hit{}, false
	}
	return Hit{BlockID: found, Slot: h.slots[found], Breakpoint: h.tree.ActiveBreakpoint()}, true
}

// LayoutDirectionOf computes the direction from the block's styles,
// applying the browser defaults of row for flex-direction and
// grid-auto-flow.
func (h *VirtualHost) LayoutDirectionOf(blockID string) Direction {
	b := h.tree.Find(blockID)
	if b == nil {
		return Column
	}
	bp := h.tree.ActiveBreakpoint()
	display := styleString(b.StyleAt(bp, "display"), "block")
	flexDirection := styleString(b.StyleAt(bp, "flexDirection"), "row")
	gridAutoFlow := styleString(b.StyleAt(bp, "gridAutoFlow"), "row")
	return DirectionFromComputed(display, flexDirection, gridAutoFlow)
}

func styleString(v any, def string) string {
	if v == nil {
		return def
	}
	if s := fmt.Sprint(v); s != "" {
		return s
	}
	return def
}

// ChildBounds returns the boxes of the parent's laid out children.
func (h *VirtualHost) ChildBounds(parentID string) []Rect {
	parent := h.tree.Find(parentID)
	if parent == nil {
		return nil
	}
	var out []Rect
	for _, c := range parent.Children() {
		if r, ok := h.boxes[c.ID()]; ok {
			out = append(out, r)
		}
	}
	return out
}

// MovePlaceholder records the placeholder position.
func (h *VirtualHost) MovePlaceholder(parentID string, index int, d Direction) error {
	if h.tree.Find(parentID) == nil {
		return fmt.Errorf("resolver: no element for block %s", parentID)
	}
	h.PlaceholderParent = parentID
	h.PlaceholderIndex = index
	h.PlaceholderClass = PlaceholderClass(d)
	h.PlaceholderShown = true
	h.Moves++
	return nil
}

// ClearPlaceholder hides the placeholder.
func (h *VirtualHost) ClearPlaceholder() error {
	h.PlaceholderShown = false
	h.PlaceholderParent = ""
	return nil
}
