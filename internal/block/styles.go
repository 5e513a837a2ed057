package block

import (
	"strings"

	"github.com/livetemplate/blockstudio/internal/style"
)

func (b *Block) activeBreakpoint() style.Breakpoint {
	if b.tree != nil {
		return b.tree.breakpoint
	}
	return style.Desktop
}

func (b *Block) mapFor(bp style.Breakpoint) *style.Map {
	var m *style.Map
	switch bp {
	case style.Tablet:
		m = &b.tablet
	case style.Mobile:
		m = &b.mobile
	default:
		m = &b.base
	}
	if *m == nil {
		*m = make(style.Map)
	}
	return m
}

// SetStyle writes a style for the tree's active breakpoint. A nil or empty
// value deletes the key so the value is inherited again.
func (b *Block) SetStyle(name string, value any) {
	b.SetStyleAt(b.activeBreakpoint(), name, value)
}

// SetStyleAt writes a style for a specific breakpoint. Desktop writes to the
// base styles; tablet and mobile write overrides.
func (b *Block) SetStyleAt(bp style.Breakpoint, name string, value any) {
	name = style.Normalize(name)
	m := *b.mapFor(bp)
	if style.IsEmpty(value) {
		if _, ok := m[name]; !ok {
			return
		}
		delete(m, name)
	} else {
		m[name] = value
	}
	b.emit(Event{Kind: StyleChanged, BlockID: b.id, Key: name})
}

// Style reads the effective value for the tree's active breakpoint.
func (b *Block) Style(name string) any {
	return b.StyleAt(b.activeBreakpoint(), name)
}

// StyleAt reads the effective value at bp: the override when the
// breakpoint sets the key, otherwise the base value.
func (b *Block) StyleAt(bp style.Breakpoint, name string) any {
	v, _ := b.lookup(bp, style.Normalize(name))
	return v
}

func (b *Block) lookup(bp style.Breakpoint, name string) (any, bool) {
	if bp.IsOverride() {
		if v, ok := (*b.mapFor(bp))[name]; ok {
			return v, true
		}
	}
	v, ok := b.base[name]
	return v, ok
}

// Styles returns the merged styles in effect at bp.
func (b *Block) Styles(bp style.Breakpoint) style.Map {
	if !bp.IsOverride() {
		return b.base.Clone()
	}
	return style.Merge(b.base, *b.mapFor(bp))
}

// RawStyles returns a copy of the map stored for bp: the base styles for
// desktop, only the overrides for tablet and mobile.
func (b *Block) RawStyles(bp style.Breakpoint) style.Map {
	switch bp {
	case style.Tablet:
		return b.tablet.Clone()
	case style.Mobile:
		return b.mobile.Clone()
	}
	return b.base.Clone()
}

// SetPadding applies CSS padding shorthand at the active breakpoint.
func (b *Block) SetPadding(value string) { b.setBox("padding", value) }

// Padding returns the compacted padding at the active breakpoint.
func (b *Block) Padding() string { return b.box("padding") }

// SetMargin applies CSS margin shorthand at the active breakpoint.
func (b *Block) SetMargin(value string) { b.setBox("margin", value) }

// Margin returns the compacted margin at the active breakpoint.
func (b *Block) Margin() string { return b.box("margin") }

func (b *Block) setBox(property, value string) {
	bp := b.activeBreakpoint()
	longhands := style.Longhands(property)
	b.batch(func() {
		b.SetStyleAt(bp, property, nil)
		for _, k := range longhands {
			b.SetStyleAt(bp, k, nil)
		}
		if strings.TrimSpace(value) == "" {
			return
		}
		sides := style.ParseBox(value).Values()
		for i, k := range longhands {
			b.SetStyleAt(bp, k, sides[i])
		}
	})
}

func (b *Block) box(property string) string {
	bp := b.activeBreakpoint()
	var sides [4]string
	set := false
	for i, k := range style.Longhands(property) {
		if v, ok := b.lookup(bp, k); ok {
			sides[i] = style.Format(v)
			set = true
		}
	}
	if !set {
		v, _ := b.lookup(bp, property)
		return style.Format(v)
	}
	for i := range sides {
		if sides[i] == "" {
			sides[i] = "0px"
		}
	}
	return style.Box{Top: sides[0], Right: sides[1], Bottom: sides[2], Left: sides[3]}.String()
}

// ToggleVisibility hides a visible block, remembering its display value,
// and restores that value (flex by default) when shown again.
func (b *Block) ToggleVisibility() {
	bp := b.activeBreakpoint()
	b.batch(func() {
		if b.IsVisible() {
			b.SetStyleAt(bp, style.LastDisplayKey, b.StyleAt(bp, "display"))
			b.SetStyleAt(bp, "display", "none")
			return
		}
		last := b.StyleAt(bp, style.LastDisplayKey)
		if style.IsEmpty(last) {
			last = "flex"
		}
		b.SetStyleAt(bp, "display", last)
		b.SetStyleAt(bp, style.LastDisplayKey, nil)
	})
}

// IsVisible reports whether display is anything but none.
func (b *Block) IsVisible() bool {
	return b.Style("display") != "none"
}

// IsFlex reports whether the block lays out its children with flexbox.
func (b *Block) IsFlex() bool {
	switch b.Style("display") {
	case "flex", "inline-flex":
		return true
	}
	return false
}
