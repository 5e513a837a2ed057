package browser

import (
	"context"
	"net/url"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetemplate/blockstudio/internal/resolver"
	"github.com/livetemplate/blockstudio/internal/style"
)

func TestSelectorQuotesValues(t *testing.T) {
	assert.Equal(t,
		`.__studio_component__[data-component-id="root"][data-breakpoint="desktop"]`,
		selector("root", style.Desktop))
	assert.Equal(t,
		`.__studio_component__[data-component-id="a\"b"][data-breakpoint="mobile"]`,
		selector(`a"b`, style.Mobile))
}

func TestFlip(t *testing.T) {
	assert.Equal(t, resolver.Column, flip(resolver.Row))
	assert.Equal(t, resolver.Row, flip(resolver.Column))
}

const canvasPage = `<!doctype html>
<html><body style="margin:0">
<div class="__studio_component__" data-component-id="root" data-breakpoint="desktop"
     style="display:flex;flex-direction:column;width:400px;height:300px">
  <div class="__studio_component__" data-component-id="a" data-breakpoint="desktop" style="height:20px"></div>
  <div class="__studio_component__" data-component-id="b" data-breakpoint="desktop" data-slot-name="footer" style="height:20px"></div>
  <div class="__studio_component__" data-component-id="row" data-breakpoint="desktop"
       style="display:flex;height:40px"></div>
</div>
</body></html>`

// TestHostAgainstChrome needs a running Chrome; point BLOCKSTUDIO_CHROME_URL
// at its DevTools websocket URL to enable it.
func TestHostAgainstChrome(t *testing.T) {
	devtools := os.Getenv("BLOCKSTUDIO_CHROME_URL")
	if devtools == "" {
		t.Skip("BLOCKSTUDIO_CHROME_URL not set")
	}
	ctx, cancel := Connect(context.Background(), devtools)
	defer cancel()

	h := NewHost(ctx, nil)
	require.NoError(t, h.Navigate("data:text/html;charset=utf-8,"+url.PathEscape(canvasPage)))

	hit, ok := h.HitTest(10, 30)
	require.True(t, ok)
	assert.Equal(t, "b", hit.BlockID)
	assert.Equal(t, "footer", hit.Slot)
	assert.Equal(t, style.Desktop, hit.Breakpoint)

	assert.Equal(t, resolver.Column, h.LayoutDirectionOf("root"))
	assert.Equal(t, resolver.Row, h.LayoutDirectionOf("row"))

	bounds := h.ChildBounds("root")
	require.Len(t, bounds, 3)
	assert.Equal(t, float64(20), bounds[1].Y)

	require.NoError(t, h.MovePlaceholder("root", 1, resolver.Column))
	assert.Len(t, h.ChildBounds("root"), 3, "placeholder is not a block child")
	require.NoError(t, h.ClearPlaceholder())

	assert.Error(t, h.MovePlaceholder("missing", 0, resolver.Column))
}
