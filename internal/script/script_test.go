package script

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileRendersThroughScope(t *testing.T) {
	sb := NewSandbox(DefaultScope("FeatherIcon", "Button"))

	fn, err := sb.Compile(`function() { return h(frappeUI.FeatherIcon, { name: "edit-2" }) }`)
	require.NoError(t, err)

	out, err := fn.Call()
	require.NoError(t, err)
	node, ok := out.(VNode)
	require.True(t, ok, "got %T", out)
	assert.Equal(t, "FeatherIcon", node.Tag)
	assert.Equal(t, "edit-2", node.Props["name"])
}

func TestCompileKeepsSource(t *testing.T) {
	src := `function(a, b) { return a + b }`
	fn, err := NewSandbox(DefaultScope()).Compile(src)
	require.NoError(t, err)
	assert.Equal(t, src, fn.Source())

	out, err := fn.Call(2, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 5, out)

	data, err := json.Marshal(map[string]any{"render": fn})
	require.NoError(t, err)
	assert.JSONEq(t, `{"render":"function(a, b) { return a + b }"}`, string(data))
}

func TestCompileErrors(t *testing.T) {
	sb := NewSandbox(DefaultScope())

	_, err := sb.Compile(`function( {`)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)

	_, err = sb.Compile(`42`)
	require.ErrorAs(t, err, &ce)
	assert.True(t, errors.Is(err, ErrNotFunction))
}

func TestSandboxHidesUnlistedGlobals(t *testing.T) {
	sb := NewSandbox(DefaultScope("Button"))
	fn, err := sb.Compile(`function() { return typeof studio }`)
	require.NoError(t, err)

	out, err := fn.Call()
	require.NoError(t, err)
	assert.Equal(t, "undefined", out)
}

func TestSandboxCallsCannotRebindScope(t *testing.T) {
	sb := NewSandbox(DefaultScope("Button"))

	tamper, err := sb.Compile(`function() {
		h = null
		frappeUI.Button = "Evil"
		frappeUI.Extra = "x"
		leaked = 1
		return 0
	}`)
	require.NoError(t, err)
	_, err = tamper.Call()
	require.NoError(t, err)

	check, err := sb.Compile(`function() { return [typeof h, frappeUI.Button, typeof frappeUI.Extra, typeof leaked] }`)
	require.NoError(t, err)
	out, err := check.Call()
	require.NoError(t, err)
	assert.Equal(t, []any{"function", "Button", "undefined", "undefined"}, out)
}

func TestEvaluateLeavesNoGlobals(t *testing.T) {
	e := NewEvaluator()
	assert.EqualValues(t, 5, e.Evaluate("leaked = 5", nil))
	assert.Equal(t, "undefined", e.Evaluate("typeof leaked", nil))
}

func TestCallTimesOut(t *testing.T) {
	sb := NewSandbox(DefaultScope())
	sb.SetTimeout(20 * time.Millisecond)

	fn, err := sb.Compile(`function() { while (true) {} }`)
	require.NoError(t, err)

	_, err = fn.Call()
	assert.Error(t, err)

	// the runtime is usable after an interrupt
	ok, err := sb.Compile(`function() { return 1 }`)
	require.NoError(t, err)
	out, err := ok.Call()
	require.NoError(t, err)
	assert.EqualValues(t, 1, out)
}

func TestIsFunctionSource(t *testing.T) {
	assert.True(t, IsFunctionSource("function() {}"))
	assert.True(t, IsFunctionSource("  function named() {}"))
	assert.False(t, IsFunctionSource("() => 1"))
	assert.False(t, IsFunctionSource("fun"))
}

func TestEvaluate(t *testing.T) {
	e := NewEvaluator()
	ctx := Context{
		"a":    1,
		"b":    2,
		"user": map[string]any{"name": "Ada"},
	}

	assert.EqualValues(t, 3, e.Evaluate("a + b", ctx))
	assert.Equal(t, "Ada", e.Evaluate("user.name", ctx))
	assert.Nil(t, e.Evaluate("missing.path", ctx))
	assert.Nil(t, e.Evaluate("user.address.street", ctx))
	assert.Nil(t, e.Evaluate("(", ctx))
	assert.Nil(t, e.Evaluate("undefined", ctx))
}

func TestResolve(t *testing.T) {
	e := NewEvaluator()
	ctx := Context{"count": 5, "name": "Ada"}

	assert.True(t, IsDynamic("{{ count }}"))
	assert.False(t, IsDynamic("count"))
	assert.False(t, IsDynamic(5))

	assert.EqualValues(t, 5, e.Resolve("{{ count }}", ctx))
	assert.Equal(t, "Hello Ada!", e.Resolve("Hello {{ name }}!", ctx))
	assert.Equal(t, "Hi !", e.Resolve("Hi {{ nobody }}!", ctx))
	assert.Equal(t, "plain", e.Resolve("plain", ctx))
	assert.Equal(t, true, e.Resolve(true, ctx))
}

func TestResolvePropsDescends(t *testing.T) {
	e := NewEvaluator()
	props := map[string]any{
		"label":   "{{ name }}",
		"nested":  map[string]any{"title": "Dr. {{ name }}"},
		"items":   []any{"{{ count }}", "x"},
		"visible": true,
	}
	out := e.ResolveProps(props, Context{"name": "Ada", "count": 2})

	assert.Equal(t, "Ada", out["label"])
	assert.Equal(t, "Dr. Ada", out["nested"].(map[string]any)["title"])
	items := out["items"].([]any)
	assert.EqualValues(t, 2, items[0])
	assert.Equal(t, "x", items[1])
	assert.Equal(t, true, out["visible"])
	assert.Equal(t, "{{ name }}", props["label"], "input is not modified")
}

func TestRunScriptUsesServices(t *testing.T) {
	var toasts []Toast
	var navigated string
	svc := Services{
		Navigate:  func(to string) error { navigated = to; return nil },
		ShowToast: func(tt Toast) { toasts = append(toasts, tt) },
	}

	out, err := svc.RunScript(`
		studio.showToast({ title: "Saved", type: "success" })
		studio.navigate("/" + page)
		return 42
	`, Context{"page": "home"})
	require.NoError(t, err)
	assert.EqualValues(t, 42, out)
	assert.Equal(t, "/home", navigated)
	require.Len(t, toasts, 1)
	assert.Equal(t, Toast{Title: "Saved", Type: ToastSuccess}, toasts[0])
}

func TestRunScriptCallsFunctionBody(t *testing.T) {
	var navigated string
	svc := Services{Navigate: func(to string) error { navigated = to; return nil }}

	out, err := svc.RunScript(`function() { studio.navigate(page); return "done" }`, Context{"page": "pricing"})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, "pricing", navigated)
}

func TestRunScriptWithoutServices(t *testing.T) {
	_, err := Services{}.RunScript(`studio.navigate("/x"); studio.showToast({title: "t"})`, nil)
	assert.NoError(t, err)

	_, err = Services{}.RunScript(`throw new Error("boom")`, nil)
	assert.Error(t, err)
}

func TestDispatch(t *testing.T) {
	var navigated, opened, called string
	svc := Services{
		Navigate: func(to string) error { navigated = to; return nil },
		OpenURL:  func(u string) error { opened = u; return nil },
		CallAPI: func(_ context.Context, endpoint string) (any, error) {
			called = endpoint
			return nil, nil
		},
	}
	ctx := context.Background()

	require.NoError(t, svc.Dispatch(ctx, ComponentEvent{Action: ActionSwitchPage, Page: "about"}, nil))
	require.NoError(t, svc.Dispatch(ctx, ComponentEvent{Action: ActionOpenURL, URL: "https://example.com"}, nil))
	require.NoError(t, svc.Dispatch(ctx, ComponentEvent{Action: ActionCallAPI, APIEndpoint: "get_users"}, nil))
	assert.Equal(t, "about", navigated)
	assert.Equal(t, "https://example.com", opened)
	assert.Equal(t, "get_users", called)

	err := svc.Dispatch(ctx, ComponentEvent{Action: "Launch Rocket"}, nil)
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestDispatchAPIErrorShowsToast(t *testing.T) {
	var toasts []Toast
	svc := Services{
		CallAPI:   func(context.Context, string) (any, error) { return nil, errors.New("forbidden") },
		ShowToast: func(tt Toast) { toasts = append(toasts, tt) },
	}
	err := svc.Dispatch(context.Background(), ComponentEvent{Action: ActionCallAPI}, nil)
	assert.Error(t, err)
	require.Len(t, toasts, 1)
	assert.Equal(t, ToastError, toasts[0].Type)
}

func TestEventFromMapReadsCompiledScript(t *testing.T) {
	fn, err := NewSandbox(DefaultScope()).Compile(`function() { return 1 }`)
	require.NoError(t, err)
	ev, ok := EventFromMap("click", map[string]any{"action": ActionRunScript, "script": fn})
	require.True(t, ok)
	assert.Equal(t, `function() { return 1 }`, ev.Script)
}

func TestEventFromMap(t *testing.T) {
	ev, ok := EventFromMap("click", map[string]any{"action": ActionSwitchPage, "page": "home"})
	require.True(t, ok)
	assert.Equal(t, ComponentEvent{Event: "click", Action: ActionSwitchPage, Page: "home"}, ev)

	_, ok = EventFromMap("click", "not a map")
	assert.False(t, ok)
	_, ok = EventFromMap("click", map[string]any{})
	assert.False(t, ok)
}
