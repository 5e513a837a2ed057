package block

import (
	"maps"
	"slices"

	"github.com/livetemplate/blockstudio/internal/style"
)

// Tree owns a document's root block and indexes every block in it.
type Tree struct {
	root       *Block
	index      map[string]*Block
	observers  map[int]Observer
	nextObs    int
	breakpoint style.Breakpoint

	batchDepth int
	pending    []Event
}

// NewTree attaches root and its subtree to a new tree. A nil root is
// replaced by the body template.
func NewTree(root *Block) *Tree {
	t := &Tree{
		index:      make(map[string]*Block),
		observers:  make(map[int]Observer),
		breakpoint: style.Desktop,
	}
	if root == nil {
		root = NewRoot()
	}
	t.setRoot(root)
	return t
}

// Root returns the root block.
func (t *Tree) Root() *Block { return t.root }

// Find returns the block with the given id, or nil.
func (t *Tree) Find(id string) *Block {
	return t.index[id]
}

// Len returns the number of indexed blocks.
func (t *Tree) Len() int { return len(t.index) }

// ActiveBreakpoint returns the breakpoint SetStyle writes to.
func (t *Tree) ActiveBreakpoint() style.Breakpoint { return t.breakpoint }

// SetActiveBreakpoint selects the breakpoint SetStyle writes to.
func (t *Tree) SetActiveBreakpoint(bp style.Breakpoint) {
	t.breakpoint = bp
}

// Replace swaps in a new root, re-indexing from scratch.
func (t *Tree) Replace(root *Block) {
	if root == nil {
		root = NewRoot()
	}
	if t.root != nil {
		t.detach(t.root)
	}
	t.index = make(map[string]*Block)
	t.setRoot(root)
	t.emit(Event{Kind: Replaced, BlockID: root.id})
}

func (t *Tree) setRoot(root *Block) {
	if root.tree != nil && root.tree != t {
		root.tree.detach(root)
	}
	t.root = root
	t.attach(root, "")
}

// Subscribe registers an observer and returns a func that removes it.
func (t *Tree) Subscribe(fn Observer) func() {
	id := t.nextObs
	t.nextObs++
	t.observers[id] = fn
	return func() { delete(t.observers, id) }
}

// Batch runs fn and delivers the events it produced as a single Batch
// event. Nested batches fold into the outermost one.
func (t *Tree) Batch(fn func()) {
	t.batchDepth++
	defer func() {
		t.batchDepth--
		if t.batchDepth > 0 {
			return
		}
		events := t.pending
		t.pending = nil
		switch len(events) {
		case 0:
		case 1:
			t.deliver(events[0])
		default:
			t.deliver(Event{Kind: Batch, Events: events})
		}
	}()
	fn()
}

func (t *Tree) emit(ev Event) {
	if t.batchDepth > 0 {
		t.pending = append(t.pending, ev)
		return
	}
	t.deliver(ev)
}

func (t *Tree) deliver(ev Event) {
	for _, id := range sortedObservers(t.observers) {
		if fn, ok := t.observers[id]; ok {
			fn(ev)
		}
	}
}

// attach indexes b's subtree. A block whose id is already taken by another
// block gets a fresh id so ids stay unique within the document.
func (t *Tree) attach(b *Block, parentID string) {
	renamed := false
	if existing, ok := t.index[b.id]; ok && existing != b {
		b.id = NewID(b.componentName)
		renamed = true
	}
	b.tree = t
	b.parentID = parentID
	t.index[b.id] = b
	for _, c := range b.children {
		t.attach(c, b.id)
	}
	for _, name := range b.SlotNames() {
		s := b.slots[name]
		s.ParentBlockID = b.id
		if renamed || s.SlotID == "" {
			s.SlotID = slotID(b.id, name)
		}
		for _, c := range s.content.blocks {
			t.attach(c, b.id)
		}
	}
}

func (t *Tree) detach(b *Block) {
	b.Walk(func(n *Block) bool {
		if t.index[n.id] == n {
			delete(t.index, n.id)
		}
		n.tree = nil
		return true
	})
}

func sortedObservers(m map[int]Observer) []int {
	return slices.Sorted(maps.Keys(m))
}
