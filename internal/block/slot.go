package block

// ContentKind tells which variant a SlotContent holds.
type ContentKind int

const (
	TextContent ContentKind = iota
	BlockContent
)

// SlotContent is either literal text or an ordered list of blocks.
// The zero value is empty text.
type SlotContent struct {
	kind   ContentKind
	text   string
	blocks []*Block
}

// Text returns text slot content.
func Text(s string) SlotContent {
	return SlotContent{kind: TextContent, text: s}
}

// Blocks returns block-list slot content.
func Blocks(blocks ...*Block) SlotContent {
	return SlotContent{kind: BlockContent, blocks: blocks}
}

func (c SlotContent) Kind() ContentKind { return c.kind }

// Text returns the literal text; it is empty for block content.
func (c SlotContent) Text() string { return c.text }

// Blocks returns a copy of the block list; it is nil for text content.
func (c SlotContent) Blocks() []*Block {
	if c.kind != BlockContent {
		return nil
	}
	out := make([]*Block, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// IsEmpty reports whether the content holds no text and no blocks.
func (c SlotContent) IsEmpty() bool {
	if c.kind == BlockContent {
		return len(c.blocks) == 0
	}
	return c.text == ""
}

// Slot is a named content region of a block.
type Slot struct {
	SlotID        string
	SlotName      string
	ParentBlockID string
	content       SlotContent
}

// Content returns the slot's current content.
func (s *Slot) Content() SlotContent {
	return s.content
}

func (s *Slot) indexOf(id string) int {
	if s.content.kind != BlockContent {
		return -1
	}
	for i, b := range s.content.blocks {
		if b.id == id {
			return i
		}
	}
	return -1
}

// Slot returns the named slot, or nil.
func (b *Block) Slot(name string) *Slot {
	return b.slots[name]
}

// SlotNames returns slot names in a stable order.
func (b *Block) SlotNames() []string {
	return sortedKeys(b.slots)
}

// ensureSlot returns the named slot, creating an empty text slot.
func (b *Block) ensureSlot(name string) *Slot {
	if b.slots == nil {
		b.slots = make(map[string]*Slot)
	}
	s, ok := b.slots[name]
	if !ok {
		s = &Slot{SlotID: slotID(b.id, name), SlotName: name, ParentBlockID: b.id}
		b.slots[name] = s
	}
	return s
}

// UpdateSlot replaces the named slot's content, creating the slot if needed.
// Content may change kind: a text slot can become a block list and back.
func (b *Block) UpdateSlot(name string, content SlotContent) error {
	for _, nb := range content.blocks {
		if err := b.checkInsert(nb); err != nil {
			return err
		}
	}
	b.batch(func() {
		s := b.ensureSlot(name)
		for _, old := range s.content.blocks {
			b.release(old)
		}
		s.content = SlotContent{kind: content.kind, text: content.text}
		if content.kind == BlockContent {
			s.content.blocks = []*Block{}
			for _, nb := range content.blocks {
				nb.unlink()
				s.content.blocks = append(s.content.blocks, nb)
				b.adopt(nb)
			}
		}
		b.emit(Event{Kind: SlotUpdated, BlockID: b.id, Key: name})
	})
	return nil
}

// AddToSlot appends a block to the named slot. A text slot is converted to a
// block list holding only the new block.
func (b *Block) AddToSlot(name string, child *Block) error {
	if err := b.checkInsert(child); err != nil {
		return err
	}
	b.batch(func() {
		child.unlink()
		s := b.ensureSlot(name)
		if s.content.kind != BlockContent {
			s.content = SlotContent{kind: BlockContent}
		}
		s.content.blocks = append(s.content.blocks, child)
		b.adopt(child)
		b.emit(Event{Kind: SlotUpdated, BlockID: b.id, Key: name})
	})
	return nil
}

// InsertIntoSlot inserts child at index in the named slot, clamped to the
// slot's length. A text slot becomes a block list.
func (b *Block) InsertIntoSlot(name string, child *Block, index int) error {
	if err := b.checkInsert(child); err != nil {
		return err
	}
	s := b.ensureSlot(name)
	if s.content.kind != BlockContent {
		s.content = SlotContent{kind: BlockContent}
	}
	b.insertIntoSlot(s, child, index)
	return nil
}

// SlotIndex returns child's position in the named slot, or -1.
func (b *Block) SlotIndex(name string, child *Block) int {
	s := b.slots[name]
	if s == nil || child == nil {
		return -1
	}
	return s.indexOf(child.id)
}

// SlotOf returns the name of the slot of b that holds child, if any.
func (b *Block) SlotOf(child *Block) (string, bool) {
	if child == nil {
		return "", false
	}
	if s := b.slotHolding(child); s != nil {
		return s.SlotName, true
	}
	return "", false
}

// SetSlotText replaces the named slot's content with literal text.
func (b *Block) SetSlotText(name, text string) {
	_ = b.UpdateSlot(name, Text(text))
}

// slotHolding returns the slot that lists child, or nil.
func (b *Block) slotHolding(child *Block) *Slot {
	for _, name := range b.SlotNames() {
		if s := b.slots[name]; s.indexOf(child.id) >= 0 {
			return s
		}
	}
	return nil
}
