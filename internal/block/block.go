// Package block implements the page document model: a tree of UI blocks with
// per-breakpoint styles, props, event bindings and named slots.
//
// Blocks refer to their parent by id only. A Tree indexes every block it
// holds (children and block-list slot contents) so parent lookups and
// find-by-id are map lookups, and it emits an Event after each mutation.
// Blocks that are not attached to a tree can still be built and edited; they
// simply emit nothing and cannot resolve their parent.
//
// Trees are not safe for concurrent use. An editor session owns its tree.
package block

import (
	"errors"
	"slices"
	"sort"

	"github.com/livetemplate/blockstudio/internal/style"
)

// RootID is the component id of a document's root block.
const RootID = "root"

// GenericIcon is used for the root and for components without metadata.
const GenericIcon = "Square"

var (
	// ErrRoot is returned for operations the root block does not allow.
	ErrRoot = errors.New("block: operation not allowed on the root block")
	// ErrCycle is returned when a block would become its own descendant.
	ErrCycle = errors.New("block: block cannot be inserted into itself")
	// ErrNilBlock is returned when a nil block is inserted.
	ErrNilBlock = errors.New("block: nil block")
)

// leafComponents cannot hold children; drops are redirected to an ancestor.
var leafComponents = map[string]bool{
	"FileUploader": true,
	"Dropdown":     true,
}

// Catalog is the part of the component metadata provider a block needs.
type Catalog interface {
	Icon(componentName string) string
	Title(componentName string) string
}

// Options describe a block to construct. Children and slot blocks are
// adopted as they are.
type Options struct {
	ComponentID     string
	ComponentName   string
	BlockName       string
	OriginalElement string
	InnerHTML       string
	Props           map[string]any
	Events          map[string]any
	Slots           map[string]SlotContent
	// SlotIDs keeps persisted slot ids by slot name. Slots without one get
	// {componentId}:{slotName}.
	SlotIDs         map[string]string
	Children        []*Block
	BaseStyles      style.Map
	TabletStyles    style.Map
	MobileStyles    style.Map
	Classes         []string
}

// Block is a node in the page tree.
type Block struct {
	id              string
	componentName   string
	blockName       string
	originalElement string
	innerHTML       string
	props           map[string]any
	events          map[string]any
	slots           map[string]*Slot
	children        []*Block
	base            style.Map
	tablet          style.Map
	mobile          style.Map
	classes         []string

	parentID string
	tree     *Tree
}

// New builds a block. A missing component id is generated from the
// component name.
func New(opts Options) *Block {
	b := &Block{
		id:              opts.ComponentID,
		componentName:   opts.ComponentName,
		blockName:       opts.BlockName,
		originalElement: opts.OriginalElement,
		innerHTML:       opts.InnerHTML,
		props:           cloneMap(opts.Props),
		events:          cloneMap(opts.Events),
		base:            opts.BaseStyles.Clone(),
		tablet:          opts.TabletStyles.Clone(),
		mobile:          opts.MobileStyles.Clone(),
		classes:         slices.Clone(opts.Classes),
	}
	if b.id == "" {
		b.id = NewID(b.componentName)
	}
	if b.blockName == "" {
		b.blockName = b.componentName
	}
	for _, c := range opts.Children {
		if c == nil {
			continue
		}
		b.children = append(b.children, c)
		b.adopt(c)
	}
	for _, name := range sortedKeys(opts.Slots) {
		content := opts.Slots[name]
		s := b.ensureSlot(name)
		if id := opts.SlotIDs[name]; id != "" {
			s.SlotID = id
		}
		s.content = SlotContent{kind: content.kind, text: content.text}
		if content.kind == BlockContent {
			s.content.blocks = []*Block{}
			for _, c := range content.blocks {
				s.content.blocks = append(s.content.blocks, c)
				b.adopt(c)
			}
		}
	}
	return b
}

// Named builds a fresh block for a component.
func Named(componentName string) *Block {
	return New(Options{ComponentName: componentName})
}

func (b *Block) ID() string              { return b.id }
func (b *Block) ComponentName() string   { return b.componentName }
func (b *Block) BlockName() string       { return b.blockName }
func (b *Block) OriginalElement() string { return b.originalElement }
func (b *Block) InnerHTML() string       { return b.innerHTML }
func (b *Block) Classes() []string       { return slices.Clone(b.classes) }
func (b *Block) Tree() *Tree             { return b.tree }

// ParentID returns the id of the parent block, empty for a root or a
// detached block.
func (b *Block) ParentID() string { return b.parentID }

// SetBlockName changes the human label. An empty name restores the default.
func (b *Block) SetBlockName(name string) {
	if name == "" {
		name = b.componentName
	}
	b.blockName = name
	b.emit(Event{Kind: Renamed, BlockID: b.id})
}

// SetClasses replaces the CSS classes.
func (b *Block) SetClasses(classes []string) {
	b.classes = slices.Clone(classes)
	b.emit(Event{Kind: StyleChanged, BlockID: b.id, Key: "class"})
}

// IsRoot reports whether b is the document root.
func (b *Block) IsRoot() bool {
	return b.id == RootID || b.originalElement == "body"
}

// CanHaveChildren reports whether blocks may be dropped into b.
func (b *Block) CanHaveChildren() bool {
	return !leafComponents[b.componentName]
}

// HasChildren reports whether b has at least one child.
func (b *Block) HasChildren() bool {
	return len(b.children) > 0
}

// Children returns a copy of the child list.
func (b *Block) Children() []*Block {
	return slices.Clone(b.children)
}

// ParentBlock resolves the parent through the owning tree.
func (b *Block) ParentBlock() *Block {
	if b.tree == nil || b.parentID == "" {
		return nil
	}
	return b.tree.Find(b.parentID)
}

// Icon returns the icon name from the catalog, falling back to GenericIcon.
func (b *Block) Icon(c Catalog) string {
	if b.IsRoot() || c == nil {
		return GenericIcon
	}
	if icon := c.Icon(b.componentName); icon != "" {
		return icon
	}
	return GenericIcon
}

// Description returns the label shown in layer lists.
func (b *Block) Description() string {
	if b.IsRoot() {
		return "Body"
	}
	if b.originalElement == "__raw_html__" {
		return "HTML"
	}
	return b.blockName
}

// ChildIndex returns the position of child among b's children, or -1.
func (b *Block) ChildIndex(child *Block) int {
	if child == nil {
		return -1
	}
	for i, c := range b.children {
		if c.id == child.id {
			return i
		}
	}
	return -1
}

// AddChild appends child.
func (b *Block) AddChild(child *Block) error {
	return b.InsertChild(child, len(b.children))
}

// InsertChild inserts child at index, clamped to [0, len(children)].
// A child that already has a parent is moved.
func (b *Block) InsertChild(child *Block, index int) error {
	if err := b.checkInsert(child); err != nil {
		return err
	}
	b.batch(func() {
		child.unlink()
		index = max(0, min(index, len(b.children)))
		b.children = slices.Insert(b.children, index, child)
		b.adopt(child)
		b.emit(Event{Kind: ChildAdded, BlockID: child.id, ParentID: b.id, Index: index})
	})
	return nil
}

// AddChildAfter inserts child right after sibling, or appends when sibling is
// not a child of b.
func (b *Block) AddChildAfter(child, sibling *Block) error {
	i := b.ChildIndex(sibling)
	if i < 0 {
		return b.AddChild(child)
	}
	return b.InsertChild(child, i+1)
}

// RemoveChild removes child from b's children or slot contents. It reports
// whether anything was removed.
func (b *Block) RemoveChild(child *Block) bool {
	if child == nil {
		return false
	}
	if i := b.ChildIndex(child); i >= 0 {
		removed := b.children[i]
		b.children = slices.Delete(b.children, i, i+1)
		b.release(removed)
		b.emit(Event{Kind: ChildRemoved, BlockID: removed.id, ParentID: b.id, Index: i})
		return true
	}
	if s := b.slotHolding(child); s != nil {
		i := s.indexOf(child.id)
		removed := s.content.blocks[i]
		s.content.blocks = slices.Delete(s.content.blocks, i, i+1)
		b.release(removed)
		b.emit(Event{Kind: ChildRemoved, BlockID: removed.id, ParentID: b.id, Index: i, Key: s.SlotName})
		return true
	}
	return false
}

// ReplaceChild swaps old for nb at the same position.
func (b *Block) ReplaceChild(old, nb *Block) error {
	i := b.ChildIndex(old)
	if i < 0 {
		return b.AddChild(nb)
	}
	if err := b.checkInsert(nb); err != nil {
		return err
	}
	b.batch(func() {
		b.RemoveChild(old)
		_ = b.InsertChild(nb, i)
	})
	return nil
}

// FindBlock searches b's subtree, including block-list slot contents.
func (b *Block) FindBlock(id string) *Block {
	var found *Block
	b.Walk(func(n *Block) bool {
		if n.id == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// Walk visits b and its descendants depth first, children before slot
// contents. Returning false from fn stops the walk.
func (b *Block) Walk(fn func(*Block) bool) bool {
	if !fn(b) {
		return false
	}
	for _, c := range b.children {
		if !c.Walk(fn) {
			return false
		}
	}
	for _, name := range b.SlotNames() {
		for _, c := range b.slots[name].content.blocks {
			if !c.Walk(fn) {
				return false
			}
		}
	}
	return true
}

// Prop returns a prop value.
func (b *Block) Prop(name string) (any, bool) {
	v, ok := b.props[name]
	return v, ok
}

// Props returns a copy of the props.
func (b *Block) Props() map[string]any {
	return cloneMap(b.props)
}

// SetProp sets a prop; a nil value deletes it.
func (b *Block) SetProp(name string, value any) {
	if value == nil {
		delete(b.props, name)
	} else {
		if b.props == nil {
			b.props = make(map[string]any)
		}
		b.props[name] = value
	}
	b.emit(Event{Kind: PropChanged, BlockID: b.id, Key: name})
}

// Event returns the action bound to a DOM event.
func (b *Block) Event(name string) (any, bool) {
	v, ok := b.events[name]
	return v, ok
}

// Events returns a copy of the event bindings.
func (b *Block) Events() map[string]any {
	return cloneMap(b.events)
}

// SetEvent binds an action to a DOM event; nil unbinds it.
func (b *Block) SetEvent(name string, action any) {
	if action == nil {
		delete(b.events, name)
	} else {
		if b.events == nil {
			b.events = make(map[string]any)
		}
		b.events[name] = action
	}
	b.emit(Event{Kind: EventChanged, BlockID: b.id, Key: name})
}

func (b *Block) checkInsert(child *Block) error {
	if child == nil {
		return ErrNilBlock
	}
	if child.IsRoot() {
		return ErrRoot
	}
	if child == b || child.FindBlock(b.id) == b {
		return ErrCycle
	}
	return nil
}

// adopt links child under b and indexes it when b is attached.
func (b *Block) adopt(child *Block) {
	child.parentID = b.id
	if b.tree != nil {
		b.tree.attach(child, b.id)
	}
}

// release drops the parent link and removes child from the index.
func (b *Block) release(child *Block) {
	child.parentID = ""
	if child.tree != nil {
		child.tree.detach(child)
	}
}

// unlink removes b from whatever currently holds it.
func (b *Block) unlink() {
	if p := b.ParentBlock(); p != nil {
		p.RemoveChild(b)
	}
	b.parentID = ""
}

func (b *Block) emit(ev Event) {
	if b.tree != nil {
		b.tree.emit(ev)
	}
}

func (b *Block) batch(fn func()) {
	if b.tree == nil {
		fn()
		return
	}
	b.tree.Batch(fn)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
