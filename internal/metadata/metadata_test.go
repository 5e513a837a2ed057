package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetemplate/blockstudio/internal/block"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	btn, ok := c.Get("Button")
	require.True(t, ok)
	assert.Equal(t, "RectangleHorizontal", btn.Icon)
	assert.Equal(t, "Submit", btn.InitialState["label"])
	assert.True(t, c.IsKnownExternalComponent("Button"))
	assert.False(t, c.IsKnownExternalComponent("SplitView"))
	assert.False(t, c.IsKnownExternalComponent("NoSuchThing"))

	assert.Contains(t, c.Names(), "MarkdownEditor")
	assert.Equal(t, []string{"click"}, c.Emits("Button"))
}

func TestIconAndTitleFallback(t *testing.T) {
	c := MustDefault()
	assert.Equal(t, "Type", c.Icon("TextBlock"))
	assert.Equal(t, block.GenericIcon, c.Icon("Unknown"))
	assert.Equal(t, "Text Block", c.Title("TextBlock"))
	assert.Equal(t, "Unknown", c.Title("Unknown"))

	b := block.Named("TextBlock")
	assert.Equal(t, "Type", b.Icon(c))
	assert.Equal(t, block.GenericIcon, block.NewRoot().Icon(c))
}

func TestDialogUsesProxy(t *testing.T) {
	c := MustDefault()
	proxy, ok := c.ProxyComponent("Dialog")
	assert.True(t, ok)
	assert.Equal(t, "ProxyDialog", proxy)
	assert.True(t, c.EditInFragmentMode("Dialog"))

	_, ok = c.ProxyComponent("Button")
	assert.False(t, ok)
}

func TestPropsSchema(t *testing.T) {
	c := MustDefault()
	props := c.Props("Button")

	assert.Equal(t, Prop{Type: "String", InputType: "text"}, props["label"])
	assert.Equal(t, Prop{Type: "Boolean", Default: false, InputType: "checkbox"}, props["disabled"])
	assert.Equal(t, "Object", props["iconLeft"].Type, "unions with Function collapse to Object")
	assert.Equal(t, "code", props["iconLeft"].InputType)

	badge := c.Props("Badge")
	assert.Equal(t, "String", badge["label"].Type, "primitive unions collapse to String")

	assert.Equal(t, "number", c.Props("Progress")["value"].InputType)
	assert.Empty(t, c.Props("Container"))
	assert.Empty(t, c.Props("Unknown"))
}

func TestInputType(t *testing.T) {
	assert.Equal(t, "text", InputType("String"))
	assert.Equal(t, "number", InputType("Number"))
	assert.Equal(t, "checkbox", InputType("Boolean"))
	assert.Equal(t, "code", InputType("Array"))
	assert.Equal(t, "code", InputType("Function"))
	assert.Equal(t, "text", InputType("Date"))
}

func TestNewBlock(t *testing.T) {
	c := MustDefault()

	split := c.NewBlock("SplitView")
	require.NotNil(t, split.Slot("left"))
	require.NotNil(t, split.Slot("right"))
	assert.Equal(t, block.BlockContent, split.Slot("left").Content().Kind())

	btn := c.NewBlock("Button")
	label, _ := btn.Prop("label")
	assert.Equal(t, "Submit", label)

	btn.SetProp("label", "Changed")
	again := c.NewBlock("Button")
	label, _ = again.Prop("label")
	assert.Equal(t, "Submit", label, "initial state is copied per block")
}

func TestLoadFileOverrides(t *testing.T) {
	c := MustDefault()
	path := filepath.Join(t.TempDir(), "extra.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- name: Button
  title: Action
  icon: Zap
- name: Rating
  icon: Star
  props:
    value: {type: Number, default: 3}
`), 0o644))

	require.NoError(t, c.LoadFile(path))
	assert.Equal(t, "Zap", c.Icon("Button"))
	assert.Equal(t, "Action", c.Title("Button"))
	assert.Equal(t, "Rating", c.Title("Rating"))
	assert.Equal(t, Prop{Type: "Number", Default: 3, InputType: "number"}, c.Props("Rating")["value"])

	assert.NoError(t, c.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestParseRejectsBadEntries(t *testing.T) {
	_, err := Parse([]byte(`- title: Nameless`))
	assert.Error(t, err)

	_, err = Parse([]byte(`- name: X
  props:
    a: {type: {nested: true}}
`))
	assert.Error(t, err)
}
