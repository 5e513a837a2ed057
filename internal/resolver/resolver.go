package resolver

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/livetemplate/blockstudio/internal/block"
	"github.com/livetemplate/blockstudio/internal/style"
)

// DefaultThrottle is the minimum interval between placeholder updates.
const DefaultThrottle = 130 * time.Millisecond

// ErrNoTarget is returned by Drop when no drop target has been placed.
var ErrNoTarget = errors.New("resolver: no drop target")

// Target is a resolved insertion point.
type Target struct {
	ParentID   string
	Index      int
	Slot       string
	Direction  Direction
	Breakpoint style.Breakpoint
}

// Components is what the resolver needs from the component catalog.
type Components interface {
	ProxyComponent(name string) (string, bool)
	EditInFragmentMode(name string) bool
}

// FragmentEditor opens a block in its own editing surface instead of
// inserting it into the page.
type FragmentEditor interface {
	EditOnCanvas(b *block.Block) error
}

// SlotRef names a slot on a block.
type SlotRef struct {
	BlockID string
	Slot    string
}

// Options configure a Resolver.
type Options struct {
	Host       Host
	Tree       *block.Tree
	Components Components
	// Build creates the block for a dropped component name.
	Build     func(componentName string) (*block.Block, error)
	Fragments FragmentEditor
	// SelectedSlot reports the slot selected in the editor, if any.
	SelectedSlot func() (SlotRef, bool)
	Throttle     time.Duration
	Logger       *log.Logger
}

// Resolver turns pointer positions into drop targets.
type Resolver struct {
	opts    Options
	limiter *rate.Limiter
	now     func() time.Time
	log     *log.Logger

	placed    Target
	hasPlaced bool
	// latest is the last resolved target, placed or not. Drops go there.
	latest    Target
	hasLatest bool
	lastX     float64
	lastY     float64
	hovered   string
	hoveredBP style.Breakpoint
}

// New returns a resolver. A zero Throttle uses DefaultThrottle; a negative
// one disables throttling.
func New(opts Options) *Resolver {
	if opts.Throttle == 0 {
		opts.Throttle = DefaultThrottle
	}
	limit := rate.Inf
	if opts.Throttle > 0 {
		limit = rate.Every(opts.Throttle)
	}
	if opts.Build == nil {
		opts.Build = func(name string) (*block.Block, error) { return block.Named(name), nil }
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
		log:     logger,
	}
}

// Hovered returns the block the last resolved target points into and the
// breakpoint canvas it was found on.
func (r *Resolver) Hovered() (string, style.Breakpoint) { return r.hovered, r.hoveredBP }

// Placed returns the target the placeholder currently marks.
func (r *Resolver) Placed() (Target, bool) { return r.placed, r.hasPlaced }

// Latest returns the target under the last pointer position. It can run
// ahead of Placed while placeholder moves are throttled.
func (r *Resolver) Latest() (Target, bool) { return r.latest, r.hasLatest }

// Resolve computes the drop target under the pointer. It reports false
// when the pointer has not moved since the placeholder was last placed or
// when no block on the path can hold children.
func (r *Resolver) Resolve(x, y float64) (Target, bool) {
	if r.hasPlaced && x == r.lastX && y == r.lastY {
		return Target{}, false
	}
	tree := r.opts.Tree
	root := tree.Root()
	t := Target{
		ParentID:   root.ID(),
		Index:      len(root.Children()),
		Direction:  Column,
		Breakpoint: tree.ActiveBreakpoint(),
	}

	hit, ok := r.opts.Host.HitTest(x, y)
	if !ok || hit.BlockID == "" {
		return t, true
	}
	if hit.Breakpoint != "" {
		t.Breakpoint = hit.Breakpoint
	}

	parent := tree.Find(hit.BlockID)
	if parent == nil {
		parent = root
	}
	for parent != nil && !parent.CanHaveChildren() {
		parent = parent.ParentBlock()
	}
	if parent == nil {
		return Target{}, false
	}

	t.ParentID = parent.ID()
	t.Direction = r.opts.Host.LayoutDirectionOf(parent.ID())
	t.Index = DropIndex(r.opts.Host.ChildBounds(parent.ID()), t.Direction, x, y)
	if hit.Slot != "" && hit.BlockID == parent.ID() {
		t.Slot = hit.Slot
	} else if r.opts.SelectedSlot != nil {
		if ref, ok := r.opts.SelectedSlot(); ok && ref.BlockID == parent.ID() {
			t.Slot = ref.Slot
		}
	}
	return t, true
}

// Over handles a drag-over event: it resolves the target and, at most once
// per throttle interval, moves the placeholder there. It returns the
// target and whether the placeholder moved. The target is remembered for
// Drop even when the move is throttled.
func (r *Resolver) Over(x, y float64) (Target, bool) {
	t, ok := r.Resolve(x, y)
	if !ok {
		return t, false
	}
	r.hovered, r.hoveredBP = t.ParentID, t.Breakpoint
	r.latest, r.hasLatest = t, true

	if r.hasPlaced && r.placed.ParentID == t.ParentID && r.placed.Index == t.Index {
		// Same spot; the slot or direction may still have changed.
		r.placed = t
		r.lastX, r.lastY = x, y
		return t, false
	}
	if !r.limiter.AllowN(r.now(), 1) {
		return t, false
	}
	if err := r.opts.Host.MovePlaceholder(t.ParentID, t.Index, t.Direction); err != nil {
		r.log.Warn("move placeholder", "parent", t.ParentID, "index", t.Index, "err", err)
		return t, false
	}
	r.placed, r.hasPlaced = t, true
	r.lastX, r.lastY = x, y
	r.log.Debug("drop target", "parent", t.ParentID, "index", t.Index, "slot", t.Slot, "direction", t.Direction)
	return t, true
}

// Drop inserts a new block for componentName at the target under the last
// pointer position and ends the gesture. Components with a proxy are placed as the proxy;
// components edited in fragment mode go to the fragment editor instead.
func (r *Resolver) Drop(componentName string) (*block.Block, error) {
	defer r.Cancel()
	if !r.hasLatest {
		return nil, ErrNoTarget
	}
	t := r.latest
	parent := r.opts.Tree.Find(t.ParentID)
	if parent == nil {
		return nil, fmt.Errorf("%w: parent %s is gone", ErrNoTarget, t.ParentID)
	}

	name := componentName
	fragment := false
	if c := r.opts.Components; c != nil {
		if proxy, ok := c.ProxyComponent(componentName); ok {
			name = proxy
		}
		fragment = c.EditInFragmentMode(componentName)
	}
	b, err := r.opts.Build(name)
	if err != nil {
		return nil, fmt.Errorf("resolver: build %s: %w", name, err)
	}

	if fragment && r.opts.Fragments != nil {
		if err := r.opts.Fragments.EditOnCanvas(b); err != nil {
			return nil, err
		}
		return b, nil
	}
	if t.Slot != "" {
		err = parent.AddToSlot(t.Slot, b)
	} else {
		err = parent.InsertChild(b, t.Index)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Cancel ends a drag gesture and removes the placeholder.
func (r *Resolver) Cancel() {
	if r.hasPlaced {
		if err := r.opts.Host.ClearPlaceholder(); err != nil {
			r.log.Warn("clear placeholder", "err", err)
		}
	}
	r.placed, r.hasPlaced = Target{}, false
	r.latest, r.hasLatest = Target{}, false
	r.lastX, r.lastY = 0, 0
	r.hovered = ""
}
