// Package canvas is the editing surface around a block tree: selection,
// undo history, keyboard shortcuts, the viewport and drag-and-drop.
package canvas

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/livetemplate/blockstudio/internal/block"
	"github.com/livetemplate/blockstudio/internal/codec"
	"github.com/livetemplate/blockstudio/internal/metadata"
	"github.com/livetemplate/blockstudio/internal/resolver"
	"github.com/livetemplate/blockstudio/internal/script"
	"github.com/livetemplate/blockstudio/internal/style"
)

// Options configure a Canvas.
type Options struct {
	// Tree is the document to edit. When nil a tree is built over Root.
	Tree            *block.Tree
	Root            *block.Block
	Host            resolver.Host
	Catalog         *metadata.Catalog
	Sandbox         *script.Sandbox
	Fragments       resolver.FragmentEditor
	HistoryCapacity int
	DropThrottle    time.Duration
	Logger          *log.Logger
}

// Canvas ties a tree to its editing state.
type Canvas struct {
	Tree      *block.Tree
	Selection *Selection
	History   *History
	Viewport  Viewport
	Guides    Guides

	catalog  *metadata.Catalog
	sb       *script.Sandbox
	resolver *resolver.Resolver
	log      *log.Logger
	unsub    func()
}

// New builds a canvas. Without a Host the canvas has no drop support.
func New(opts Options) *Canvas {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	tree := opts.Tree
	if tree == nil {
		tree = block.NewTree(opts.Root)
	}
	c := &Canvas{
		Tree:      tree,
		Selection: NewSelection(tree),
		Viewport:  NewViewport(),
		catalog:   opts.Catalog,
		sb:        opts.Sandbox,
		log:       logger,
	}
	c.History = NewHistory(tree, opts.Sandbox, opts.HistoryCapacity, logger)
	c.unsub = tree.Subscribe(c.observe)

	if opts.Host != nil {
		ropts := resolver.Options{
			Host:         opts.Host,
			Tree:         tree,
			Build:        c.NewBlock,
			Fragments:    opts.Fragments,
			SelectedSlot: c.Selection.SelectedSlot,
			Throttle:     opts.DropThrottle,
			Logger:       logger,
		}
		if opts.Catalog != nil {
			ropts.Components = opts.Catalog
		}
		c.resolver = resolver.New(ropts)
	}
	return c
}

// observe selects a block added on its own. Batched adds, such as children
// hoisted by RemoveBlock, leave the selection alone.
func (c *Canvas) observe(ev block.Event) {
	if ev.Kind == block.ChildAdded {
		c.Selection.SelectID(ev.BlockID, false)
	}
}

// Root returns the document root.
func (c *Canvas) Root() *block.Block { return c.Tree.Root() }

// FindBlock returns a block by id.
func (c *Canvas) FindBlock(id string) *block.Block { return c.Tree.Find(id) }

// SetRoot replaces the document. History restarts from the new document
// and the selection is cleared.
func (c *Canvas) SetRoot(root *block.Block) {
	c.Selection.Clear()
	c.Tree.Replace(root)
}

// SetBreakpoint selects the breakpoint style edits apply to.
func (c *Canvas) SetBreakpoint(bp style.Breakpoint) { c.Tree.SetActiveBreakpoint(bp) }

// Keymap returns the canvas keyboard bindings.
func (c *Canvas) Keymap() Keymap { return Keymap{c: c} }

// Resolver returns the drop resolver, or nil without a host.
func (c *Canvas) Resolver() *resolver.Resolver { return c.resolver }

// NewBlock builds a block for a component from the catalog, restoring
// function-valued initial props through the sandbox.
func (c *Canvas) NewBlock(componentName string) (*block.Block, error) {
	if c.catalog == nil {
		return block.Named(componentName), nil
	}
	b := c.catalog.NewBlock(componentName)
	if c.sb == nil {
		return b, nil
	}
	return codec.Copy(b, c.sb, true)
}

// Drop inserts a component at the resolver's placed target and selects it.
func (c *Canvas) Drop(componentName string) (*block.Block, error) {
	if c.resolver == nil {
		return nil, resolver.ErrNoTarget
	}
	b, err := c.resolver.Drop(componentName)
	if err != nil {
		return nil, err
	}
	if b.Tree() == c.Tree {
		c.Selection.Select(b, false)
	}
	return b, nil
}

// Duplicate copies b next to itself and selects the copy.
func (c *Canvas) Duplicate(b *block.Block) (*block.Block, error) {
	cp, err := b.Duplicate()
	if err != nil {
		return nil, err
	}
	c.Selection.Select(cp, false)
	return cp, nil
}

// RemoveBlock deletes b from the document. Unless force is set, b's
// children are kept: they move into b's place in its parent. With force
// the whole subtree goes.
func (c *Canvas) RemoveBlock(b *block.Block, force bool) error {
	if b.IsRoot() {
		return block.ErrRoot
	}
	parent := b.ParentBlock()
	if parent == nil {
		return nil
	}
	var err error
	c.Tree.Batch(func() {
		if !force {
			err = hoistChildren(parent, b)
			if err != nil {
				return
			}
		}
		parent.RemoveChild(b)
	})
	if err == nil {
		c.Selection.Deselect(b.ID())
	}
	return err
}

func hoistChildren(parent, b *block.Block) error {
	children := b.Children()
	if slot, ok := parent.SlotOf(b); ok {
		at := parent.SlotIndex(slot, b) + 1
		for i, child := range children {
			if err := parent.InsertIntoSlot(slot, child, at+i); err != nil {
				return err
			}
		}
		return nil
	}
	at := parent.ChildIndex(b) + 1
	for i, child := range children {
		if err := parent.InsertChild(child, at+i); err != nil {
			return err
		}
	}
	return nil
}

// SelectionStyle reads a style across the selection: the shared value, or
// style.Mixed when the selected blocks disagree.
func (c *Canvas) SelectionStyle(name string) any {
	blocks := c.Selection.Blocks()
	values := make([]any, len(blocks))
	for i, b := range blocks {
		values[i] = b.Style(name)
	}
	return style.Aggregate(values)
}

// SetSelectionStyle sets a style on every selected block as one change.
func (c *Canvas) SetSelectionStyle(name string, value any) {
	c.Tree.Batch(func() {
		for _, b := range c.Selection.Blocks() {
			b.SetStyle(name, value)
		}
	})
}

// SelectionPadding is SelectionStyle for the padding shorthand.
func (c *Canvas) SelectionPadding() any {
	return c.aggregateString(func(b *block.Block) string { return b.Padding() })
}

// SelectionMargin is SelectionStyle for the margin shorthand.
func (c *Canvas) SelectionMargin() any {
	return c.aggregateString(func(b *block.Block) string { return b.Margin() })
}

// SetSelectionPadding applies padding shorthand to every selected block.
func (c *Canvas) SetSelectionPadding(value string) {
	c.Tree.Batch(func() {
		for _, b := range c.Selection.Blocks() {
			b.SetPadding(value)
		}
	})
}

// SetSelectionMargin applies margin shorthand to every selected block.
func (c *Canvas) SetSelectionMargin(value string) {
	c.Tree.Batch(func() {
		for _, b := range c.Selection.Blocks() {
			b.SetMargin(value)
		}
	})
}

func (c *Canvas) aggregateString(read func(*block.Block) string) any {
	blocks := c.Selection.Blocks()
	values := make([]any, len(blocks))
	for i, b := range blocks {
		values[i] = read(b)
	}
	return style.Aggregate(values)
}

// Close detaches the history and selection from the tree.
func (c *Canvas) Close() {
	c.unsub()
	c.History.Close()
}
