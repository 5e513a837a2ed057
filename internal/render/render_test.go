package render

import (
	"os"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetemplate/blockstudio/internal/block"
	"github.com/livetemplate/blockstudio/internal/metadata"
	"github.com/livetemplate/blockstudio/internal/script"
	"github.com/livetemplate/blockstudio/internal/style"
)

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	l := log.New(os.Stderr)
	l.SetLevel(log.FatalLevel)
	return New(Options{Catalog: metadata.MustDefault(), Logger: l})
}

func renderPage(t *testing.T, r *Renderer, root *block.Block, ctx script.Context) string {
	t.Helper()
	var sb strings.Builder
	require.NoError(t, r.Page(&sb, Page{Title: "Pricing <beta>", Root: root, Context: ctx}))
	return sb.String()
}

func TestPageShell(t *testing.T) {
	out := renderPage(t, newRenderer(t), block.NewRoot(), nil)
	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	assert.Contains(t, out, "<title>Pricing &lt;beta&gt;</title>")
	assert.Contains(t, out, `<body data-component-id="root"`)
	assert.Contains(t, out, "</body>")
}

func TestBreakpointMediaQueries(t *testing.T) {
	root := block.NewRoot()
	b := block.Named("div")
	require.NoError(t, root.AddChild(b))
	b.SetStyle("backgroundColor", "red")
	b.SetStyleAt(style.Tablet, "backgroundColor", "blue")
	b.SetStyleAt(style.Mobile, "fontSize", "12px")

	out := renderPage(t, newRenderer(t), root, nil)
	sel := `[data-component-id="` + b.ID() + `"]`
	base := strings.Index(out, sel+" { background-color: red; }")
	tablet := strings.Index(out, "@media (max-width: 800px)")
	mobile := strings.Index(out, "@media (max-width: 420px)")
	require.NotEqual(t, -1, base)
	require.NotEqual(t, -1, tablet)
	require.NotEqual(t, -1, mobile)
	assert.Less(t, base, tablet)
	assert.Less(t, tablet, mobile, "narrower breakpoints come last so they win")
	assert.Contains(t, out, sel+" { background-color: blue; }")
	assert.Contains(t, out, sel+" { font-size: 12px; }")
}

func TestHiddenBlockDropsLastDisplay(t *testing.T) {
	root := block.NewRoot()
	b := block.Named("div")
	require.NoError(t, root.AddChild(b))
	b.SetStyle("display", "grid")
	b.ToggleVisibility()

	out := renderPage(t, newRenderer(t), root, nil)
	assert.Contains(t, out, "display: none;")
	assert.NotContains(t, out, "last-display")
	assert.NotContains(t, out, style.LastDisplayKey)
}

func TestPropsAreEvaluated(t *testing.T) {
	root := block.NewRoot()
	btn := block.New(block.Options{
		ComponentName: "Button",
		Props:         map[string]any{"label": "Hi {{ user.name }}"},
	})
	require.NoError(t, root.AddChild(btn))

	out := renderPage(t, newRenderer(t), root, script.Context{"user": map[string]any{"name": "Ada"}})
	assert.Contains(t, out, `data-component-name="Button"`)
	assert.Contains(t, out, ">Hi Ada</div>")
}

func TestMarkdownText(t *testing.T) {
	root := block.NewRoot()
	md := block.New(block.Options{
		ComponentName: "MarkdownEditor",
		Props:         map[string]any{"modelValue": "# Title\n\nSome *text*"},
	})
	require.NoError(t, root.AddChild(md))

	out := renderPage(t, newRenderer(t), root, nil)
	assert.Contains(t, out, `<h1 id="title">Title</h1>`)
	assert.Contains(t, out, "<em>text</em>")
}

func TestMissingComponentPlaceholder(t *testing.T) {
	root := block.NewRoot()
	ghost := block.Named("NoSuchWidget")
	require.NoError(t, root.AddChild(ghost))

	out := renderPage(t, newRenderer(t), root, nil)
	assert.Contains(t, out, `data-component-id="`+ghost.ID()+`"`)
	assert.Contains(t, out, "Component Missing")

	plain := New(Options{})
	var sb strings.Builder
	require.NoError(t, plain.Fragment(&sb, ghost, nil))
	assert.NotContains(t, sb.String(), "Component Missing")
}

func TestRawHTMLAndSlots(t *testing.T) {
	root := block.NewRoot()
	raw := block.New(block.Options{
		ComponentName:   "p",
		OriginalElement: block.RawHTMLElement,
		InnerHTML:       "<span>kept as is</span>",
	})
	card := block.New(block.Options{
		ComponentName: "Card",
		Slots: map[string]block.SlotContent{
			"title":   block.Text("<b>Plans</b>"),
			"content": block.Blocks(),
		},
	})
	require.NoError(t, root.AddChild(raw))
	require.NoError(t, root.AddChild(card))
	require.NoError(t, card.AddToSlot("content", block.Named("span")))

	var sb strings.Builder
	require.NoError(t, New(Options{}).Fragment(&sb, root, nil))
	out := sb.String()
	assert.Contains(t, out, "<span>kept as is</span>")
	assert.Contains(t, out, `<div data-slot="title">&lt;b&gt;Plans&lt;/b&gt;</div>`)
	assert.Contains(t, out, `<div data-slot="content"><span data-component-id=`)
}

func TestNilRoot(t *testing.T) {
	var sb strings.Builder
	assert.ErrorIs(t, newRenderer(t).Page(&sb, Page{}), block.ErrNilBlock)
}
