package block

import (
	"slices"
	"strconv"
	"strings"

	"github.com/livetemplate/blockstudio/internal/style"
)

// duplicateOffset is how far an absolutely positioned duplicate is moved so
// it does not sit exactly on top of the original.
const duplicateOffset = 20

// Clone deep-copies b's subtree into a detached block. When retainID is
// false every block in the copy gets a fresh id. Function props are shared;
// they are immutable once compiled.
func (b *Block) Clone(retainID bool) *Block {
	opts := Options{
		ComponentName:   b.componentName,
		BlockName:       b.blockName,
		OriginalElement: b.originalElement,
		InnerHTML:       b.innerHTML,
		Props:           cloneMap(b.props),
		Events:          cloneMap(b.events),
		BaseStyles:      b.base.Clone(),
		TabletStyles:    b.tablet.Clone(),
		MobileStyles:    b.mobile.Clone(),
		Classes:         slices.Clone(b.classes),
	}
	if retainID {
		opts.ComponentID = b.id
	}
	for _, c := range b.children {
		opts.Children = append(opts.Children, c.Clone(retainID))
	}
	if len(b.slots) > 0 {
		opts.Slots = make(map[string]SlotContent, len(b.slots))
		if retainID {
			opts.SlotIDs = make(map[string]string, len(b.slots))
		}
		for name, s := range b.slots {
			if retainID {
				opts.SlotIDs[name] = s.SlotID
			}
			if s.content.kind != BlockContent {
				opts.Slots[name] = Text(s.content.text)
				continue
			}
			blocks := make([]*Block, 0, len(s.content.blocks))
			for _, c := range s.content.blocks {
				blocks = append(blocks, c.Clone(retainID))
			}
			opts.Slots[name] = Blocks(blocks...)
		}
	}
	return New(opts)
}

// Duplicate copies b with fresh ids and inserts the copy right after b, in
// the same slot when b lives in one. A block without a parent has its copy
// appended to the document root. The root cannot be duplicated.
func (b *Block) Duplicate() (*Block, error) {
	if b.IsRoot() {
		return nil, ErrRoot
	}
	cp := b.Clone(false)
	if cp.StyleAt(style.Desktop, "position") == "absolute" {
		for _, bp := range style.Breakpoints {
			m := *cp.mapFor(bp)
			for _, k := range []string{"left", "top"} {
				if v, ok := m[k]; ok || bp == style.Desktop {
					if shifted, ok := shiftPx(v); ok {
						m[k] = shifted
					}
				}
			}
		}
	}

	parent := b.ParentBlock()
	switch {
	case parent != nil:
		if s := parent.slotHolding(b); s != nil {
			parent.insertIntoSlot(s, cp, s.indexOf(b.id)+1)
			return cp, nil
		}
		return cp, parent.AddChildAfter(cp, b)
	case b.tree != nil:
		return cp, b.tree.root.AddChild(cp)
	}
	return cp, nil
}

func (b *Block) insertIntoSlot(s *Slot, child *Block, index int) {
	b.batch(func() {
		child.unlink()
		index = max(0, min(index, len(s.content.blocks)))
		s.content.blocks = slices.Insert(s.content.blocks, index, child)
		b.adopt(child)
		b.emit(Event{Kind: SlotUpdated, BlockID: b.id, Key: s.SlotName})
	})
}

// shiftPx adds the duplicate offset to a pixel value. Values in other units
// are left alone.
func shiftPx(v any) (string, bool) {
	s := strings.TrimSpace(style.Format(v))
	if s == "" {
		return strconv.Itoa(duplicateOffset) + "px", true
	}
	n, err := strconv.ParseFloat(strings.TrimSuffix(s, "px"), 64)
	if err != nil {
		return "", false
	}
	return style.Format(n+duplicateOffset) + "px", true
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case style.Map:
		return t.Clone()
	}
	return v
}
