package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetemplate/blockstudio/internal/block"
	"github.com/livetemplate/blockstudio/internal/codec"
	"github.com/livetemplate/blockstudio/internal/config"
	"github.com/livetemplate/blockstudio/internal/security"
	"github.com/livetemplate/blockstudio/internal/store"
)

type wsClient struct {
	t      *testing.T
	conn   *websocket.Conn
	nextID int
	pushes []Response
}

func dial(t *testing.T, ts *httptest.Server) (*wsClient, Response) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	c := &wsClient{t: t, conn: conn}
	hello := c.read()
	require.Equal(t, "hello", hello.Action)
	return c, hello
}

func (c *wsClient) read() Response {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var resp Response
	require.NoError(c.t, c.conn.ReadJSON(&resp))
	return resp
}

// call sends one request and returns its reply. Pushes that arrive first
// are kept in c.pushes.
func (c *wsClient) call(action string, data any) Response {
	c.t.Helper()
	c.nextID++
	req := map[string]any{"id": c.nextID, "action": action}
	if data != nil {
		req["data"] = data
	}
	require.NoError(c.t, c.conn.WriteJSON(req))
	for {
		resp := c.read()
		if resp.ID == c.nextID {
			return resp
		}
		c.pushes = append(c.pushes, resp)
	}
}

func (c *wsClient) mustCall(action string, data any) Response {
	c.t.Helper()
	resp := c.call(action, data)
	require.True(c.t, resp.OK, "%s failed: %s", action, resp.Error)
	return resp
}

// waitPush reads until a push with action arrives.
func (c *wsClient) waitPush(action string) Response {
	c.t.Helper()
	for i, p := range c.pushes {
		if p.Action == action {
			c.pushes = append(c.pushes[:i], c.pushes[i+1:]...)
			return p
		}
	}
	for {
		resp := c.read()
		if resp.Action == action {
			return resp
		}
	}
}

func childrenOf(t *testing.T, doc json.RawMessage) []string {
	t.Helper()
	root, err := codec.LoadDocument(doc, nil)
	require.NoError(t, err)
	var names []string
	for _, b := range root.Children() {
		names = append(names, b.ComponentName())
	}
	return names
}

func childIDs(t *testing.T, doc json.RawMessage) []string {
	t.Helper()
	root, err := codec.LoadDocument(doc, nil)
	require.NoError(t, err)
	var ids []string
	for _, b := range root.Children() {
		ids = append(ids, b.ID())
	}
	return ids
}

func TestEditorHello(t *testing.T) {
	srv, _, ts := newTestServer(t, nil)
	_, hello := dial(t, ts)

	require.NotNil(t, hello.State)
	assert.Equal(t, "desktop", string(hello.State.ActiveBreakpoint))
	assert.Empty(t, childrenOf(t, hello.Document))
	assert.Eventually(t, func() bool { return srv.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestEditorDropAndSave(t *testing.T) {
	_, st, ts := newTestServer(t, nil)
	ctx := context.Background()
	p, err := st.InsertPage(ctx, store.Page{Blocks: documentOf(t, "Button")})
	require.NoError(t, err)

	c, _ := dial(t, ts)
	resp := c.mustCall("setPage", map[string]string{"name": p.Name})
	assert.Equal(t, []string{"Button"}, childrenOf(t, resp.Document))
	require.NotNil(t, resp.State.ActivePage)
	assert.Equal(t, p.Name, resp.State.ActivePage.Name)

	button := childIDs(t, resp.Document)[0]
	c.mustCall("layout", map[string]any{
		"boxes": map[string]any{
			block.RootID: map[string]float64{"x": 0, "y": 0, "width": 800, "height": 600},
			button:       map[string]float64{"x": 0, "y": 0, "width": 800, "height": 100},
		},
	})
	over := c.mustCall("dragOver", map[string]float64{"x": 400, "y": 500})
	assert.Nil(t, over.Document)
	resp = c.mustCall("drop", map[string]string{"name": "Avatar"})
	assert.Equal(t, []string{"Button", "Avatar"}, childrenOf(t, resp.Document))
	assert.Len(t, resp.State.Selected, 1)

	c.mustCall("savePage", nil)
	stored, err := st.GetPage(ctx, p.Name)
	require.NoError(t, err)
	assert.Equal(t, []string{"Button", "Avatar"}, childrenOf(t, json.RawMessage(stored.DraftBlocks)))

	resp = c.mustCall("publishPage", nil)
	assert.True(t, resp.State.ActivePage.Published)
	assert.Empty(t, resp.State.ActivePage.DraftBlocks)
}

func TestEditorDropWithoutTarget(t *testing.T) {
	_, _, ts := newTestServer(t, nil)
	c, _ := dial(t, ts)

	resp := c.call("drop", map[string]string{"name": "Button"})
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "no drop target")
}

func TestEditorEditAndUndo(t *testing.T) {
	_, st, ts := newTestServer(t, nil)
	p, err := st.InsertPage(context.Background(), store.Page{Blocks: documentOf(t, "div", "span")})
	require.NoError(t, err)

	c, _ := dial(t, ts)
	resp := c.mustCall("setPage", map[string]string{"name": p.Name})
	ids := childIDs(t, resp.Document)
	require.Len(t, ids, 2)

	resp = c.mustCall("duplicate", map[string]string{"id": ids[0]})
	assert.Equal(t, []string{"div", "div", "span"}, childrenOf(t, resp.Document))

	resp = c.mustCall("undo", nil)
	assert.Equal(t, map[string]any{"changed": true}, resp.Result)
	assert.Equal(t, []string{"div", "span"}, childrenOf(t, resp.Document))

	resp = c.mustCall("redo", nil)
	assert.Equal(t, []string{"div", "div", "span"}, childrenOf(t, resp.Document))

	c.mustCall("select", map[string]any{"id": ids[1]})
	c.mustCall("setStyle", map[string]any{"name": "color", "value": "red"})
	resp = c.mustCall("getStyle", map[string]any{"name": "color"})
	assert.Equal(t, map[string]any{"value": "red"}, resp.Result)

	resp = c.mustCall("key", map[string]any{"key": "Delete"})
	assert.Equal(t, map[string]any{"handled": true}, resp.Result)
	assert.Equal(t, []string{"div", "div"}, childrenOf(t, resp.Document))

	resp = c.call("remove", map[string]string{"id": "missing"})
	assert.False(t, resp.OK)
}

func TestEditorBreakpoint(t *testing.T) {
	_, _, ts := newTestServer(t, nil)
	c, _ := dial(t, ts)

	resp := c.mustCall("setBreakpoint", map[string]string{"name": "mobile"})
	assert.Equal(t, "mobile", string(resp.State.ActiveBreakpoint))

	resp = c.call("setBreakpoint", map[string]string{"name": "watch"})
	assert.False(t, resp.OK)
}

func TestEditorUnknownAction(t *testing.T) {
	_, _, ts := newTestServer(t, nil)
	c, _ := dial(t, ts)

	resp := c.call("teleport", nil)
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, `unknown action "teleport"`)

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	bad := c.read()
	assert.Equal(t, "error", bad.Action)
}

func pageWithEvent(t *testing.T, st store.Store, event map[string]any) (string, string) {
	t.Helper()
	root := block.NewRoot()
	btn := block.Named("button")
	btn.SetEvent("click", event)
	require.NoError(t, root.AddChild(btn))
	data, err := codec.EncodeDocument(root)
	require.NoError(t, err)
	p, err := st.InsertPage(context.Background(), store.Page{Blocks: string(data)})
	require.NoError(t, err)
	return p.Name, btn.ID()
}

func TestEditorTriggerRunScript(t *testing.T) {
	_, st, ts := newTestServer(t, nil)
	page, id := pageWithEvent(t, st, map[string]any{
		"action": "Run Script",
		"script": `studio.showToast({title: "hi " + route})`,
	})

	c, _ := dial(t, ts)
	c.mustCall("setPage", map[string]string{"name": page})

	config.SetAllowScripts(false)
	resp := c.call("trigger", map[string]string{"blockId": id, "event": "click"})
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "disabled")

	config.SetAllowScripts(true)
	t.Cleanup(func() { config.SetAllowScripts(false) })
	// Scripts are allowed per session, so open a new one.
	c2, _ := dial(t, ts)
	c2.mustCall("setPage", map[string]string{"name": page})
	c2.mustCall("trigger", map[string]string{"blockId": id, "event": "click"})
	toast := c2.waitPush("toast")
	assert.Equal(t, map[string]any{"title": "hi " + page}, toast.Result)
}

func TestEditorTriggerCallAPI(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"count": 3}`))
	}))
	defer api.Close()
	security.TestBypassSSRF = true
	t.Cleanup(func() { security.TestBypassSSRF = false })

	_, st, ts := newTestServer(t, nil)
	page, id := pageWithEvent(t, st, map[string]any{"action": "Call API", "api_endpoint": api.URL})

	c, _ := dial(t, ts)
	c.mustCall("setPage", map[string]string{"name": page})
	c.mustCall("trigger", map[string]string{"blockId": id, "event": "click"})
	push := c.waitPush("apiResult")
	result := push.Result.(map[string]any)
	assert.Equal(t, api.URL, result["endpoint"])
	assert.Equal(t, map[string]any{"count": float64(3)}, result["data"])
}

func TestEditorOpenURLRejectsInternalHosts(t *testing.T) {
	_, st, ts := newTestServer(t, nil)
	page, id := pageWithEvent(t, st, map[string]any{"action": "Open Webpage", "url": "http://169.254.169.254/latest"})

	c, _ := dial(t, ts)
	c.mustCall("setPage", map[string]string{"name": page})
	resp := c.call("trigger", map[string]string{"blockId": id, "event": "click"})
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "link-local")
}

func TestEditorComponentFragment(t *testing.T) {
	_, st, ts := newTestServer(t, nil)
	p, err := st.InsertPage(context.Background(), store.Page{Blocks: documentOf(t, "section")})
	require.NoError(t, err)

	c, _ := dial(t, ts)
	resp := c.mustCall("setPage", map[string]string{"name": p.Name})
	seed := childIDs(t, resp.Document)[0]

	resp = c.mustCall("createComponent", map[string]string{"name": "Hero Banner", "blockId": seed})
	created := resp.Result.(map[string]any)
	assert.Equal(t, "hero_banner", created["component_id"])
	assert.Equal(t, "Component created successfully", c.waitPush("toast").Result.(map[string]any)["title"])

	resp = c.call("addInput", map[string]any{"input": map[string]string{"input_name": "x"}})
	assert.False(t, resp.OK, "inputs need an open component")

	resp = c.mustCall("editComponent", map[string]string{"id": "hero_banner"})
	require.NotNil(t, resp.State.Fragment)
	assert.Equal(t, "component", resp.State.Fragment.Kind)
	assert.Equal(t, "Save Component", resp.State.Fragment.Label)

	resp = c.mustCall("addInput", map[string]any{"input": map[string]string{"input_name": "heading", "type": "String"}})
	assert.Len(t, resp.Result, 1)

	resp = c.mustCall("saveFragment", nil)
	assert.Nil(t, resp.State.Fragment)
	assert.Equal(t, []string{"section"}, childrenOf(t, resp.Document))

	stored, err := st.GetComponent(context.Background(), "hero_banner")
	require.NoError(t, err)
	require.Len(t, stored.Inputs, 1)
	assert.Equal(t, "heading", stored.Inputs[0].InputName)

	c.mustCall("deleteComponent", map[string]string{"id": "hero_banner"})
	_, err = st.GetComponent(context.Background(), "hero_banner")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPageChangedReloadsOpenEditors(t *testing.T) {
	srv, st, ts := newTestServer(t, nil)
	ctx := context.Background()
	p, err := st.InsertPage(ctx, store.Page{Blocks: documentOf(t, "div")})
	require.NoError(t, err)
	other, err := st.InsertPage(ctx, store.Page{Blocks: documentOf(t, "div")})
	require.NoError(t, err)

	c, _ := dial(t, ts)
	c.mustCall("setPage", map[string]string{"name": p.Name})
	bystander, _ := dial(t, ts)
	bystander.mustCall("setPage", map[string]string{"name": other.Name})

	// The editor's own save does not bounce back as a reload.
	c.mustCall("savePage", nil)
	require.NoError(t, srv.PageChanged(ctx, p.Name))

	require.NoError(t, st.SaveDraft(ctx, p.Name, documentOf(t, "nav", "main")))
	require.NoError(t, srv.PageChanged(ctx, p.Name))

	reload := c.waitPush("reload")
	assert.Equal(t, []string{"nav", "main"}, childrenOf(t, reload.Document))
	resp := c.mustCall("state", nil)
	assert.Nil(t, resp.Document)
	for _, push := range c.pushes {
		assert.NotEqual(t, "reload", push.Action)
	}

	resp = bystander.mustCall("document", nil)
	assert.Equal(t, []string{"div"}, childrenOf(t, resp.Document))
	assert.Empty(t, bystander.pushes)
}

func TestWatchReloadsOnDiskEdits(t *testing.T) {
	srv, st, ts := newTestServer(t, nil)
	require.NoError(t, srv.EnableWatch())
	ctx := context.Background()
	p, err := st.InsertPage(ctx, store.Page{Blocks: documentOf(t, "div")})
	require.NoError(t, err)

	c, _ := dial(t, ts)
	c.mustCall("setPage", map[string]string{"name": p.Name})

	require.NoError(t, st.SaveDraft(ctx, p.Name, documentOf(t, "footer")))
	reload := c.waitPush("reload")
	assert.Equal(t, []string{"footer"}, childrenOf(t, reload.Document))
}
