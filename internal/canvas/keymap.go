package canvas

import "strings"

// KeyEvent is a keydown as the host reports it.
type KeyEvent struct {
	Key   string
	Ctrl  bool
	Meta  bool
	Shift bool
	// Editable is set when focus is in a text field; such events are
	// left to the field.
	Editable bool
}

func (e KeyEvent) ctrlOrCmd() bool { return e.Ctrl || e.Meta }

// Keymap binds the editor shortcuts to a canvas.
type Keymap struct {
	c *Canvas
}

// Handle runs the shortcut bound to ev and reports whether one ran, in
// which case the host should stop the event's default action.
func (k Keymap) Handle(ev KeyEvent) bool {
	if ev.Editable {
		return false
	}
	c := k.c
	key := strings.ToLower(ev.Key)

	switch {
	case key == "backspace" || key == "delete":
		blocks := c.Selection.Blocks()
		if len(blocks) == 0 {
			return false
		}
		c.Tree.Batch(func() {
			for _, b := range blocks {
				if err := c.RemoveBlock(b, ev.Shift); err != nil {
					c.log.Warn("remove block", "block", b.ID(), "err", err)
				}
			}
		})
		c.Selection.Clear()
		return true

	case key == "d" && ev.ctrlOrCmd():
		if !c.Selection.IsAny() || c.Selection.Multiple() {
			return false
		}
		if _, err := c.Duplicate(c.Selection.First()); err != nil {
			c.log.Warn("duplicate block", "err", err)
		}
		return true

	case key == "z" && ev.ctrlOrCmd() && !ev.Shift:
		return c.History.Undo()

	case key == "z" && ev.ctrlOrCmd() && ev.Shift:
		return c.History.Redo()
	}
	return false
}
