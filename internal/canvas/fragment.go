package canvas

import "github.com/livetemplate/blockstudio/internal/block"

// Fragment kinds.
const (
	FragmentBlock     = "block"
	FragmentComponent = "component"
)

// Fragment is a block opened on its own canvas, detached from the page,
// with a callback that receives the edited block on save.
type Fragment struct {
	Root   *block.Block
	Label  string // text of the save action, e.g. "Save Component"
	Name   string
	ID     string
	Kind   string
	OnSave func(*block.Block) error
	OnExit func()
}
