// Package browser implements the resolver Host against a live canvas page
// driven over the Chrome DevTools protocol.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/livetemplate/blockstudio/internal/resolver"
	"github.com/livetemplate/blockstudio/internal/style"
)

// ComponentClass marks every rendered block element on the canvas.
const ComponentClass = "__studio_component__"

// PlaceholderID is the element id of the drop placeholder.
const PlaceholderID = "placeholder"

// Host evaluates layout queries in a chromedp browser context.
type Host struct {
	ctx        context.Context
	timeout    time.Duration
	breakpoint style.Breakpoint
	log        *log.Logger
}

var _ resolver.Host = (*Host)(nil)

// NewHost wraps a chromedp context whose page shows the canvas. Page
// exceptions are reported through logger.
func NewHost(ctx context.Context, logger *log.Logger) *Host {
	if logger == nil {
		logger = log.Default()
	}
	h := &Host{ctx: ctx, timeout: 5 * time.Second, breakpoint: style.Desktop, log: logger}
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		if ev, ok := ev.(*runtime.EventExceptionThrown); ok {
			h.log.Warn("canvas exception", "text", ev.ExceptionDetails.Text, "line", ev.ExceptionDetails.LineNumber)
		}
	})
	return h
}

// Connect attaches to a running Chrome at a DevTools websocket URL.
func Connect(parent context.Context, devtoolsURL string) (context.Context, context.CancelFunc) {
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(parent, devtoolsURL)
	ctx, cancelCtx := chromedp.NewContext(allocCtx)
	return ctx, func() {
		cancelCtx()
		cancelAlloc()
	}
}

// Launch starts a local headless Chrome.
func Launch(parent context.Context) (context.Context, context.CancelFunc) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, chromedp.DefaultExecAllocatorOptions[:]...)
	ctx, cancelCtx := chromedp.NewContext(allocCtx)
	return ctx, func() {
		cancelCtx()
		cancelAlloc()
	}
}

// Start runs the browser behind ctx so that NewTab opens tabs in it
// instead of starting browsers of their own.
func Start(ctx context.Context) error {
	return chromedp.Run(ctx)
}

// NewTab opens a tab in the browser behind ctx. Cancelling it closes the
// tab.
func NewTab(ctx context.Context) (context.Context, context.CancelFunc) {
	return chromedp.NewContext(ctx)
}

// SetBreakpoint selects which breakpoint canvas element queries read.
func (h *Host) SetBreakpoint(bp style.Breakpoint) { h.breakpoint = bp }

// Navigate loads the canvas page.
func (h *Host) Navigate(url string) error {
	ctx, cancel := context.WithTimeout(h.ctx, h.timeout)
	defer cancel()
	return chromedp.Run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body"))
}

func (h *Host) eval(expr string, res any) error {
	ctx, cancel := context.WithTimeout(h.ctx, h.timeout)
	defer cancel()
	return chromedp.Run(ctx, chromedp.Evaluate(expr, res))
}

// elementExpr is a JS expression for a block's element on the current
// breakpoint canvas.
func (h *Host) elementExpr(blockID string) string {
	return fmt.Sprintf("document.querySelector(%s)", jsString(selector(blockID, h.breakpoint)))
}

func selector(blockID string, bp style.Breakpoint) string {
	idJSON, _ := json.Marshal(blockID)
	bpJSON, _ := json.Marshal(string(bp))
	return fmt.Sprintf(".%s[data-component-id=%s][data-breakpoint=%s]", ComponentClass, idJSON, bpJSON)
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

type hitResult struct {
	BlockID    string `json:"blockId"`
	Slot       string `json:"slot"`
	Breakpoint string `json:"breakpoint"`
}

// HitTest finds the nearest block element under the point. The breakpoint
// of the canvas it belongs to becomes the one later queries read.
func (h *Host) HitTest(x, y float64) (resolver.Hit, bool) {
	expr := fmt.Sprintf(`(() => {
		const el = document.elementFromPoint(%g, %g);
		const target = el && el.closest(%s);
		if (!target) return {};
		return {
			blockId: target.dataset.componentId || "",
			slot: target.dataset.slotName || "",
			breakpoint: target.dataset.breakpoint || "",
		};
	})()`, x, y, jsString("."+ComponentClass))

	var res hitResult
	if err := h.eval(expr, &res); err != nil {
		h.log.Warn("hit test", "x", x, "y", y, "err", err)
		return resolver.Hit{}, false
	}
	if res.BlockID == "" {
		return resolver.Hit{}, false
	}
	hit := resolver.Hit{BlockID: res.BlockID, Slot: res.Slot}
	if res.Breakpoint != "" {
		if bp, err := style.ParseBreakpoint(res.Breakpoint); err == nil {
			hit.Breakpoint = bp
			h.breakpoint = bp
		}
	}
	return hit, true
}

type computedLayout struct {
	Display       string `json:"display"`
	FlexDirection string `json:"flexDirection"`
	GridAutoFlow  string `json:"gridAutoFlow"`
}

// LayoutDirectionOf reads the element's computed display and flow.
func (h *Host) LayoutDirectionOf(blockID string) resolver.Direction {
	expr := fmt.Sprintf(`(() => {
		const el = %s;
		if (!el) return {};
		const s = window.getComputedStyle(el);
		return { display: s.display, flexDirection: s.flexDirection, gridAutoFlow: s.gridAutoFlow };
	})()`, h.elementExpr(blockID))

	var res computedLayout
	if err := h.eval(expr, &res); err != nil {
		h.log.Warn("layout direction", "block", blockID, "err", err)
		return resolver.Column
	}
	return resolver.DirectionFromComputed(res.Display, res.FlexDirection, res.GridAutoFlow)
}

// ChildBounds measures the element's direct block children.
func (h *Host) ChildBounds(parentID string) []resolver.Rect {
	expr := fmt.Sprintf(`(() => {
		const el = %s;
		if (!el) return [];
		return Array.from(el.querySelectorAll(%s)).map((c) => {
			const r = c.getBoundingClientRect();
			return { x: r.left, y: r.top, width: r.width, height: r.height };
		});
	})()`, h.elementExpr(parentID), jsString(":scope > ."+ComponentClass))

	var res []struct {
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	if err := h.eval(expr, &res); err != nil {
		h.log.Warn("child bounds", "block", parentID, "err", err)
		return nil
	}
	out := make([]resolver.Rect, len(res))
	for i, r := range res {
		out[i] = resolver.Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
	}
	return out
}

// MovePlaceholder moves the placeholder node into the parent's element
// without re-rendering the canvas. The node is created on first use.
func (h *Host) MovePlaceholder(parentID string, index int, d resolver.Direction) error {
	add, remove := resolver.PlaceholderClass(d), resolver.PlaceholderClass(flip(d))
	expr := fmt.Sprintf(`(() => {
		const parent = %s;
		if (!parent) return false;
		let ph = document.getElementById(%s);
		if (!ph) {
			ph = document.createElement("div");
			ph.id = %s;
		}
		ph.classList.remove(%s);
		ph.classList.add(%s);
		const children = Array.from(parent.children).filter((c) => c.id !== %s);
		if (%d >= children.length) parent.appendChild(ph);
		else parent.insertBefore(ph, children[%d]);
		return true;
	})()`, h.elementExpr(parentID), jsString(PlaceholderID), jsString(PlaceholderID),
		jsString(remove), jsString(add), jsString(PlaceholderID), index, index)

	var ok bool
	if err := h.eval(expr, &ok); err != nil {
		return fmt.Errorf("browser: move placeholder: %w", err)
	}
	if !ok {
		return fmt.Errorf("browser: no element for block %s on %s canvas", parentID, h.breakpoint)
	}
	return nil
}

// ClearPlaceholder removes the placeholder node if present.
func (h *Host) ClearPlaceholder() error {
	expr := fmt.Sprintf(`(() => { const ph = document.getElementById(%s); if (ph) ph.remove(); return true; })()`,
		jsString(PlaceholderID))
	var ok bool
	return h.eval(expr, &ok)
}

func flip(d resolver.Direction) resolver.Direction {
	if d == resolver.Row {
		return resolver.Column
	}
	return resolver.Row
}
