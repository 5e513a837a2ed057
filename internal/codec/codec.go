// Package codec converts block trees to and from their persisted JSON form.
//
// A page document is stored as a JSON array holding the root block. Parent
// references are never written; they are rebuilt from nesting on decode.
// Function values in props and events are written as their source text and
// compiled back through a script.Sandbox when decoded.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/livetemplate/blockstudio/internal/block"
	"github.com/livetemplate/blockstudio/internal/script"
	"github.com/livetemplate/blockstudio/internal/style"
)

// ErrEmptyDocument is returned when a persisted document holds no root.
var ErrEmptyDocument = errors.New("codec: empty document")

// SyntaxError reports malformed document JSON.
type SyntaxError struct {
	Offset int64
	Err    error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("codec: malformed document at offset %d: %v", e.Offset, e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// wireBlock is the persisted shape of a block.
type wireBlock struct {
	ComponentID     string               `json:"componentId"`
	ComponentName   string               `json:"componentName"`
	BlockName       string               `json:"blockName,omitempty"`
	OriginalElement string               `json:"originalElement,omitempty"`
	InnerHTML       string               `json:"innerHTML,omitempty"`
	ComponentProps  map[string]any       `json:"componentProps"`
	ComponentEvents map[string]any       `json:"componentEvents"`
	ComponentSlots  map[string]*wireSlot `json:"componentSlots"`
	Children        []*wireBlock         `json:"children"`
	BaseStyles      style.Map            `json:"baseStyles"`
	MobileStyles    style.Map            `json:"mobileStyles"`
	TabletStyles    style.Map            `json:"tabletStyles"`
	Classes         []string             `json:"classes,omitempty"`
}

type wireSlot struct {
	SlotID        string          `json:"slotId"`
	SlotName      string          `json:"slotName"`
	SlotContent   json.RawMessage `json:"slotContent"`
	ParentBlockID string          `json:"parentBlockId"`
}

// Encode writes a single block and its subtree.
func Encode(b *block.Block) ([]byte, error) {
	if b == nil {
		return nil, block.ErrNilBlock
	}
	w, err := toWire(b)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// EncodeDocument writes root in the persisted page form, a one-element array.
func EncodeDocument(root *block.Block) ([]byte, error) {
	if root == nil {
		return nil, block.ErrNilBlock
	}
	w, err := toWire(root)
	if err != nil {
		return nil, err
	}
	return json.Marshal([]*wireBlock{w})
}

func toWire(b *block.Block) (*wireBlock, error) {
	w := &wireBlock{
		ComponentID:     b.ID(),
		ComponentName:   b.ComponentName(),
		BlockName:       b.BlockName(),
		OriginalElement: b.OriginalElement(),
		InnerHTML:       b.InnerHTML(),
		ComponentProps:  b.Props(),
		ComponentEvents: b.Events(),
		ComponentSlots:  map[string]*wireSlot{},
		Children:        []*wireBlock{},
		BaseStyles:      nonNil(b.RawStyles(style.Desktop)),
		MobileStyles:    nonNil(b.RawStyles(style.Mobile)),
		TabletStyles:    nonNil(b.RawStyles(style.Tablet)),
		Classes:         b.Classes(),
	}
	if w.ComponentProps == nil {
		w.ComponentProps = map[string]any{}
	}
	if w.ComponentEvents == nil {
		w.ComponentEvents = map[string]any{}
	}
	for _, c := range b.Children() {
		cw, err := toWire(c)
		if err != nil {
			return nil, err
		}
		w.Children = append(w.Children, cw)
	}
	for _, name := range b.SlotNames() {
		s := b.Slot(name)
		ws := &wireSlot{SlotID: s.SlotID, SlotName: s.SlotName, ParentBlockID: s.ParentBlockID}
		content := s.Content()
		var raw []byte
		var err error
		if content.Kind() == block.BlockContent {
			blocks := []*wireBlock{}
			for _, c := range content.Blocks() {
				cw, cerr := toWire(c)
				if cerr != nil {
					return nil, cerr
				}
				blocks = append(blocks, cw)
			}
			raw, err = json.Marshal(blocks)
		} else {
			raw, err = json.Marshal(content.Text())
		}
		if err != nil {
			return nil, fmt.Errorf("codec: encode slot %q of %s: %w", name, b.ID(), err)
		}
		ws.SlotContent = raw
		w.ComponentSlots[name] = ws
	}
	return w, nil
}

func nonNil(m style.Map) style.Map {
	if m == nil {
		return style.Map{}
	}
	return m
}

// Decode reads a single encoded block. String props that hold function
// source are compiled through sb; a nil sandbox leaves them as text.
func Decode(data []byte, sb *script.Sandbox) (*block.Block, error) {
	var w wireBlock
	if err := unmarshal(data, &w); err != nil {
		return nil, err
	}
	return fromWire(&w, sb)
}

// DecodeDocument reads a persisted page. Empty input, null and an empty
// array all yield ErrEmptyDocument.
func DecodeDocument(data []byte, sb *script.Sandbox) (*block.Block, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrEmptyDocument
	}
	var doc []*wireBlock
	if err := unmarshal(trimmed, &doc); err != nil {
		return nil, err
	}
	if len(doc) == 0 || doc[0] == nil {
		return nil, ErrEmptyDocument
	}
	return fromWire(doc[0], sb)
}

// LoadDocument is DecodeDocument for callers that always need a tree: any
// failure yields a fresh body root, with the error returned for logging.
// An empty document is not reported as an error.
func LoadDocument(data []byte, sb *script.Sandbox) (*block.Block, error) {
	root, err := DecodeDocument(data, sb)
	if errors.Is(err, ErrEmptyDocument) {
		return block.NewRoot(), nil
	}
	if err != nil {
		return block.NewRoot(), err
	}
	return root, nil
}

// Copy round-trips b through the codec. With retainID false every block in
// the copy gets a fresh id.
func Copy(b *block.Block, sb *script.Sandbox, retainID bool) (*block.Block, error) {
	data, err := Encode(b)
	if err != nil {
		return nil, err
	}
	var w wireBlock
	if err := unmarshal(data, &w); err != nil {
		return nil, err
	}
	if !retainID {
		clearIDs(&w)
	}
	return fromWire(&w, sb)
}

func clearIDs(w *wireBlock) {
	w.ComponentID = ""
	for _, c := range w.Children {
		clearIDs(c)
	}
	for _, s := range w.ComponentSlots {
		if s == nil {
			continue
		}
		s.SlotID = ""
		var blocks []*wireBlock
		if json.Unmarshal(s.SlotContent, &blocks) != nil {
			continue
		}
		for _, c := range blocks {
			clearIDs(c)
		}
		s.SlotContent, _ = json.Marshal(blocks)
	}
}

func unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		var se *json.SyntaxError
		if errors.As(err, &se) {
			return &SyntaxError{Offset: se.Offset, Err: err}
		}
		return fmt.Errorf("codec: decode: %w", err)
	}
	return nil
}

func fromWire(w *wireBlock, sb *script.Sandbox) (*block.Block, error) {
	props, err := restore(w.ComponentProps, sb)
	if err != nil {
		return nil, fmt.Errorf("codec: block %s: %w", w.ComponentID, err)
	}
	events, err := restore(w.ComponentEvents, sb)
	if err != nil {
		return nil, fmt.Errorf("codec: block %s events: %w", w.ComponentID, err)
	}
	opts := block.Options{
		ComponentID:     w.ComponentID,
		ComponentName:   w.ComponentName,
		BlockName:       w.BlockName,
		OriginalElement: w.OriginalElement,
		InnerHTML:       w.InnerHTML,
		Props:           props.(map[string]any),
		Events:          events.(map[string]any),
		BaseStyles:      w.BaseStyles,
		TabletStyles:    w.TabletStyles,
		MobileStyles:    w.MobileStyles,
		Classes:         w.Classes,
	}
	for _, cw := range w.Children {
		if cw == nil {
			continue
		}
		c, err := fromWire(cw, sb)
		if err != nil {
			return nil, err
		}
		opts.Children = append(opts.Children, c)
	}
	if len(w.ComponentSlots) > 0 {
		opts.Slots = make(map[string]block.SlotContent, len(w.ComponentSlots))
		opts.SlotIDs = make(map[string]string, len(w.ComponentSlots))
		for name, ws := range w.ComponentSlots {
			if ws == nil {
				continue
			}
			opts.SlotIDs[name] = ws.SlotID
			content, err := slotContent(ws.SlotContent, sb)
			if err != nil {
				return nil, fmt.Errorf("codec: slot %q of %s: %w", name, w.ComponentID, err)
			}
			opts.Slots[name] = content
		}
	}
	return block.New(opts), nil
}

func slotContent(raw json.RawMessage, sb *script.Sandbox) (block.SlotContent, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return block.Text(""), nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return block.SlotContent{}, err
		}
		return block.Text(s), nil
	}
	var ws []*wireBlock
	if err := json.Unmarshal(raw, &ws); err != nil {
		return block.SlotContent{}, err
	}
	blocks := make([]*block.Block, 0, len(ws))
	for _, cw := range ws {
		if cw == nil {
			continue
		}
		c, err := fromWire(cw, sb)
		if err != nil {
			return block.SlotContent{}, err
		}
		blocks = append(blocks, c)
	}
	return block.Blocks(blocks...), nil
}

// restore compiles function source found anywhere in v.
func restore(v any, sb *script.Sandbox) (any, error) {
	switch t := v.(type) {
	case string:
		if sb == nil || !script.IsFunctionSource(t) {
			return t, nil
		}
		return sb.Compile(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			r, err := restore(item, sb)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			r, err := restore(item, sb)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	return v, nil
}
