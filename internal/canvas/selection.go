package canvas

import (
	"slices"

	"github.com/livetemplate/blockstudio/internal/block"
	"github.com/livetemplate/blockstudio/internal/resolver"
)

// Selection is the set of selected block ids. Blocks are resolved against
// the tree on every read, so a deleted block drops out without cleanup.
type Selection struct {
	tree *block.Tree
	ids  []string
	slot *resolver.SlotRef
}

// NewSelection returns an empty selection over tree.
func NewSelection(tree *block.Tree) *Selection {
	return &Selection{tree: tree}
}

// Select replaces the selection with b, or adds b to it when multi is set.
func (s *Selection) Select(b *block.Block, multi bool) {
	if b == nil {
		return
	}
	s.SelectID(b.ID(), multi)
}

// SelectID is Select by id.
func (s *Selection) SelectID(id string, multi bool) {
	if !multi {
		s.ids = []string{id}
		s.slot = nil
		return
	}
	if !slices.Contains(s.ids, id) {
		s.ids = append(s.ids, id)
	}
}

// Deselect removes a block from the selection.
func (s *Selection) Deselect(id string) {
	s.ids = slices.DeleteFunc(s.ids, func(v string) bool { return v == id })
}

// SelectSlot marks a slot of a selected block as the drop target for new
// components.
func (s *Selection) SelectSlot(blockID, slot string) {
	s.slot = &resolver.SlotRef{BlockID: blockID, Slot: slot}
}

// SelectedSlot returns the selected slot while its block still exists.
func (s *Selection) SelectedSlot() (resolver.SlotRef, bool) {
	if s.slot == nil || s.tree.Find(s.slot.BlockID) == nil {
		return resolver.SlotRef{}, false
	}
	return *s.slot, true
}

// Blocks returns the selected blocks that still exist, in selection order.
func (s *Selection) Blocks() []*block.Block {
	out := make([]*block.Block, 0, len(s.ids))
	for _, id := range s.ids {
		if b := s.tree.Find(id); b != nil {
			out = append(out, b)
		}
	}
	return out
}

// IDs returns the selected ids, including any that no longer resolve.
func (s *Selection) IDs() []string { return slices.Clone(s.ids) }

// Clear empties the selection.
func (s *Selection) Clear() {
	s.ids = nil
	s.slot = nil
}

func (s *Selection) IsAny() bool    { return len(s.Blocks()) > 0 }
func (s *Selection) Multiple() bool { return len(s.Blocks()) > 1 }

// IsSelected reports whether id is selected.
func (s *Selection) IsSelected(id string) bool {
	return slices.Contains(s.ids, id) && s.tree.Find(id) != nil
}

// First returns the first selected block, or nil.
func (s *Selection) First() *block.Block {
	if bs := s.Blocks(); len(bs) > 0 {
		return bs[0]
	}
	return nil
}
