package codec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetemplate/blockstudio/internal/block"
	"github.com/livetemplate/blockstudio/internal/script"
	"github.com/livetemplate/blockstudio/internal/style"
)

const iconSource = `function() { return h(frappeUI.FeatherIcon, { name: "edit-2" }) }`

func sampleDocument(t *testing.T) *block.Block {
	t.Helper()
	root := block.NewRoot()

	button := block.New(block.Options{
		ComponentName: "Button",
		Props:         map[string]any{"label": "Save", "size": "sm"},
		Events:        map[string]any{"click": map[string]any{"action": "Switch App Page", "page": "home"}},
		BaseStyles:    style.Map{"width": "120px"},
		MobileStyles:  style.Map{"width": "100%"},
	})
	card := block.New(block.Options{
		ComponentName: "Card",
		Slots: map[string]block.SlotContent{
			"title":  block.Text("Welcome"),
			"footer": block.Blocks(button),
		},
	})
	container := block.FromTemplate(block.ContainerTemplate)
	require.NoError(t, container.AddChild(card))
	require.NoError(t, root.AddChild(container))
	require.NoError(t, root.AddChild(block.Named("TextInput")))
	return root
}

func TestDocumentRoundTrip(t *testing.T) {
	root := sampleDocument(t)
	sb := script.NewSandbox(script.DefaultScope("FeatherIcon"))

	first, err := EncodeDocument(root)
	require.NoError(t, err)

	decoded, err := DecodeDocument(first, sb)
	require.NoError(t, err)

	second, err := EncodeDocument(decoded)
	require.NoError(t, err)
	assert.JSONEq(t, string(first), string(second))
}

func TestEncodeShape(t *testing.T) {
	root := sampleDocument(t)
	data, err := EncodeDocument(root)
	require.NoError(t, err)

	var doc []map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc, 1)

	r := doc[0]
	assert.Equal(t, block.RootID, r["componentId"])
	assert.Equal(t, "body", r["originalElement"])
	assert.NotContains(t, r, "parentBlock")
	assert.Contains(t, r, "mobileStyles")
	assert.Contains(t, r, "tabletStyles")

	container := r["children"].([]any)[0].(map[string]any)
	card := container["children"].([]any)[0].(map[string]any)
	slots := card["componentSlots"].(map[string]any)

	title := slots["title"].(map[string]any)
	assert.Equal(t, "Welcome", title["slotContent"])
	assert.Equal(t, "title", title["slotName"])
	assert.Equal(t, card["componentId"], title["parentBlockId"])

	footer := slots["footer"].(map[string]any)
	buttons := footer["slotContent"].([]any)
	require.Len(t, buttons, 1)
	assert.Equal(t, "Button", buttons[0].(map[string]any)["componentName"])
}

func TestDecodeRebuildsParents(t *testing.T) {
	data, err := EncodeDocument(sampleDocument(t))
	require.NoError(t, err)

	root, err := DecodeDocument(data, nil)
	require.NoError(t, err)
	tree := block.NewTree(root)

	container := root.Children()[0]
	card := container.Children()[0]
	button := card.Slot("footer").Content().Blocks()[0]

	assert.Same(t, root, container.ParentBlock())
	assert.Same(t, container, card.ParentBlock())
	assert.Same(t, card, button.ParentBlock())
	assert.Same(t, button, tree.Find(button.ID()))
	assert.Equal(t, "100%", button.StyleAt(style.Mobile, "width"))
}

func TestFunctionPropsRoundTrip(t *testing.T) {
	sb := script.NewSandbox(script.DefaultScope("FeatherIcon"))
	src := block.New(block.Options{
		ComponentName: "Button",
		Props: map[string]any{
			"iconLeft": iconSource,
			"options":  []any{map[string]any{"render": iconSource}},
			"label":    "function key",
		},
	})

	data, err := Encode(src)
	require.NoError(t, err)

	b, err := Decode(data, sb)
	require.NoError(t, err)

	icon, _ := b.Prop("iconLeft")
	fn, ok := icon.(*script.Func)
	require.True(t, ok, "got %T", icon)
	out, err := fn.Call()
	require.NoError(t, err)
	assert.Equal(t, "FeatherIcon", out.(script.VNode).Tag)

	opts, _ := b.Prop("options")
	nested := opts.([]any)[0].(map[string]any)["render"]
	assert.IsType(t, &script.Func{}, nested)

	label, _ := b.Prop("label")
	assert.Equal(t, "function key", label, "text that only starts with a word is kept")

	again, err := Encode(b)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}

func TestFunctionEventsRoundTrip(t *testing.T) {
	sb := script.NewSandbox(script.DefaultScope())
	handler := `function() { return "clicked" }`
	src := block.New(block.Options{
		ComponentName: "Button",
		Events: map[string]any{
			"click": map[string]any{"action": script.ActionRunScript, "script": handler},
			"hover": handler,
		},
	})

	data, err := Encode(src)
	require.NoError(t, err)
	b, err := Decode(data, sb)
	require.NoError(t, err)

	hover, _ := b.Event("hover")
	fn, ok := hover.(*script.Func)
	require.True(t, ok, "got %T", hover)
	out, err := fn.Call()
	require.NoError(t, err)
	assert.Equal(t, "clicked", out)

	click, _ := b.Event("click")
	ev, ok := script.EventFromMap("click", click)
	require.True(t, ok)
	assert.Equal(t, handler, ev.Script)

	again, err := Encode(b)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}

func TestDecodeKeepsSlotIDs(t *testing.T) {
	data := []byte(`{"componentId":"card-1","componentName":"Card","componentSlots":{
		"title":{"slotId":"slot-a1","slotName":"title","slotContent":"Hi","parentBlockId":"card-1"},
		"body":{"slotName":"body","slotContent":[]}}}`)
	b, err := Decode(data, nil)
	require.NoError(t, err)
	assert.Equal(t, "slot-a1", b.Slot("title").SlotID)
	assert.Equal(t, "card-1:body", b.Slot("body").SlotID)

	tree := block.NewTree(block.NewRoot())
	require.NoError(t, tree.Root().AddChild(b))
	assert.Equal(t, "slot-a1", b.Slot("title").SlotID, "attaching keeps persisted ids")

	again, err := Encode(b)
	require.NoError(t, err)
	var w map[string]any
	require.NoError(t, json.Unmarshal(again, &w))
	title := w["componentSlots"].(map[string]any)["title"].(map[string]any)
	assert.Equal(t, "slot-a1", title["slotId"])

	cp, err := Copy(b, nil, false)
	require.NoError(t, err)
	assert.Equal(t, cp.ID()+":title", cp.Slot("title").SlotID)
}

func TestFunctionPropsWithoutSandbox(t *testing.T) {
	src := block.New(block.Options{ComponentName: "Button", Props: map[string]any{"iconLeft": iconSource}})
	data, err := Encode(src)
	require.NoError(t, err)

	b, err := Decode(data, nil)
	require.NoError(t, err)
	v, _ := b.Prop("iconLeft")
	assert.Equal(t, iconSource, v)
}

func TestDecodeBadFunctionFails(t *testing.T) {
	data := []byte(`{"componentId":"b-1","componentName":"Button","componentProps":{"render":"function( {"}}`)
	_, err := Decode(data, script.NewSandbox(script.DefaultScope()))
	var ce *script.CompileError
	assert.ErrorAs(t, err, &ce)
}

func TestDecodeDocumentEmpty(t *testing.T) {
	for _, in := range []string{"", "  ", "null", "[]"} {
		_, err := DecodeDocument([]byte(in), nil)
		assert.ErrorIs(t, err, ErrEmptyDocument, "input %q", in)
	}
}

func TestDecodeDocumentMalformed(t *testing.T) {
	_, err := DecodeDocument([]byte(`[{"componentId": `), nil)
	require.Error(t, err)

	_, err = DecodeDocument([]byte(`[{"componentId" "x"}]`), nil)
	var se *SyntaxError
	assert.ErrorAs(t, err, &se)
}

func TestLoadDocumentFallsBackToBody(t *testing.T) {
	root, err := LoadDocument([]byte("[]"), nil)
	require.NoError(t, err)
	assert.True(t, root.IsRoot())
	assert.Equal(t, "body", root.OriginalElement())

	root, err = LoadDocument([]byte("{oops"), nil)
	assert.Error(t, err)
	require.NotNil(t, root)
	assert.True(t, root.IsRoot())
}

func TestCopyRegeneratesIDs(t *testing.T) {
	root := sampleDocument(t)
	container := root.Children()[0]

	cp, err := Copy(container, nil, false)
	require.NoError(t, err)

	seen := map[string]bool{}
	container.Walk(func(b *block.Block) bool {
		seen[b.ID()] = true
		return true
	})
	count := 0
	cp.Walk(func(b *block.Block) bool {
		count++
		assert.False(t, seen[b.ID()], "id %s reused", b.ID())
		return true
	})
	assert.Equal(t, len(seen), count)
	assert.Empty(t, cp.ParentID())

	kept, err := Copy(container, nil, true)
	require.NoError(t, err)
	assert.Equal(t, container.ID(), kept.ID())
}
