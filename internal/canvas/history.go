package canvas

import (
	"bytes"

	"github.com/charmbracelet/log"

	"github.com/livetemplate/blockstudio/internal/block"
	"github.com/livetemplate/blockstudio/internal/codec"
	"github.com/livetemplate/blockstudio/internal/script"
)

// DefaultHistoryCapacity is the number of snapshots kept.
const DefaultHistoryCapacity = 100

// History keeps encoded snapshots of the document, one per tree event
// (a batch counts once). Undo and redo swap the restored document into the
// tree; they are never recorded themselves.
type History struct {
	tree      *block.Tree
	sb        *script.Sandbox
	log       *log.Logger
	capacity  int
	snapshots [][]byte
	cursor    int
	replaying bool
	unsub     func()
}

// NewHistory starts recording tree. The current document is the baseline.
func NewHistory(tree *block.Tree, sb *script.Sandbox, capacity int, logger *log.Logger) *History {
	if capacity < 2 {
		capacity = DefaultHistoryCapacity
	}
	if logger == nil {
		logger = log.Default()
	}
	h := &History{tree: tree, sb: sb, capacity: capacity, log: logger}
	h.Reset()
	h.unsub = tree.Subscribe(h.observe)
	return h
}

func (h *History) observe(ev block.Event) {
	if h.replaying {
		return
	}
	if ev.Kind == block.Replaced {
		h.Reset()
		return
	}
	h.record()
}

// Reset drops every snapshot and takes the current document as baseline.
func (h *History) Reset() {
	h.snapshots = h.snapshots[:0]
	h.cursor = -1
	h.record()
}

func (h *History) record() {
	data, err := codec.EncodeDocument(h.tree.Root())
	if err != nil {
		h.log.Error("history snapshot", "err", err)
		return
	}
	if h.cursor >= 0 && bytes.Equal(h.snapshots[h.cursor], data) {
		return
	}
	h.snapshots = append(h.snapshots[:h.cursor+1], data)
	if over := len(h.snapshots) - h.capacity; over > 0 {
		h.snapshots = h.snapshots[over:]
	}
	h.cursor = len(h.snapshots) - 1
}

func (h *History) CanUndo() bool { return h.cursor > 0 }
func (h *History) CanRedo() bool { return h.cursor < len(h.snapshots)-1 }

// Len returns the number of snapshots held.
func (h *History) Len() int { return len(h.snapshots) }

// Undo restores the previous snapshot. It reports false when there is
// nothing to undo.
func (h *History) Undo() bool {
	if !h.CanUndo() {
		return false
	}
	return h.restore(h.cursor - 1)
}

// Redo restores the next snapshot.
func (h *History) Redo() bool {
	if !h.CanRedo() {
		return false
	}
	return h.restore(h.cursor + 1)
}

func (h *History) restore(i int) bool {
	root, err := codec.DecodeDocument(h.snapshots[i], h.sb)
	if err != nil {
		h.log.Error("history restore", "err", err)
		return false
	}
	h.replaying = true
	defer func() { h.replaying = false }()
	bp := h.tree.ActiveBreakpoint()
	h.tree.Replace(root)
	h.tree.SetActiveBreakpoint(bp)
	h.cursor = i
	return true
}

// Close stops recording.
func (h *History) Close() {
	if h.unsub != nil {
		h.unsub()
		h.unsub = nil
	}
}
