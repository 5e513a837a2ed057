package block

// EventKind identifies a tree mutation.
type EventKind int

const (
	ChildAdded EventKind = iota + 1
	ChildRemoved
	StyleChanged
	PropChanged
	EventChanged
	SlotUpdated
	Renamed
	Replaced
	Batch
)

func (k EventKind) String() string {
	switch k {
	case ChildAdded:
		return "child_added"
	case ChildRemoved:
		return "child_removed"
	case StyleChanged:
		return "style_changed"
	case PropChanged:
		return "prop_changed"
	case EventChanged:
		return "event_changed"
	case SlotUpdated:
		return "slot_updated"
	case Renamed:
		return "renamed"
	case Replaced:
		return "replaced"
	case Batch:
		return "batch"
	}
	return "unknown"
}

// Event is emitted by a Tree after a mutation has been applied.
type Event struct {
	Kind     EventKind
	BlockID  string // block that changed, or the child for add/remove
	ParentID string // parent for add/remove
	Index    int    // child index for add/remove
	Key      string // style, prop, event or slot name

	// Events holds the coalesced events of a Batch.
	Events []Event
}

// Added returns the ids of every child added by the event, looking inside
// batches.
func (e Event) Added() []string {
	switch e.Kind {
	case ChildAdded:
		return []string{e.BlockID}
	case Batch:
		var ids []string
		for _, inner := range e.Events {
			ids = append(ids, inner.Added()...)
		}
		return ids
	}
	return nil
}

// Observer receives tree events.
type Observer func(Event)
