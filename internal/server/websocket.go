package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/livetemplate/blockstudio/internal/block"
	"github.com/livetemplate/blockstudio/internal/browser"
	"github.com/livetemplate/blockstudio/internal/canvas"
	"github.com/livetemplate/blockstudio/internal/codec"
	"github.com/livetemplate/blockstudio/internal/components"
	"github.com/livetemplate/blockstudio/internal/config"
	"github.com/livetemplate/blockstudio/internal/resolver"
	"github.com/livetemplate/blockstudio/internal/script"
	"github.com/livetemplate/blockstudio/internal/security"
	"github.com/livetemplate/blockstudio/internal/session"
	"github.com/livetemplate/blockstudio/internal/store"
	"github.com/livetemplate/blockstudio/internal/style"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// maxAPIResponse bounds what a "Call API" event reads from its endpoint.
const maxAPIResponse = 1 << 20

// Request is one editor command.
type Request struct {
	ID     int             `json:"id,omitempty"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Response answers a Request. Server pushes (toasts, reloads) carry no ID.
type Response struct {
	ID       int             `json:"id,omitempty"`
	Action   string          `json:"action"`
	OK       bool            `json:"ok"`
	Error    string          `json:"error,omitempty"`
	Result   any             `json:"result,omitempty"`
	State    *session.State  `json:"state,omitempty"`
	Document json.RawMessage `json:"document,omitempty"`
}

// quietActions leave the document unchanged, so their replies omit it.
var quietActions = map[string]bool{
	"state":         true,
	"dragOver":      true,
	"layout":        true,
	"cancelDrop":    true,
	"select":        true,
	"selectSlot":    true,
	"clearSelect":   true,
	"appPageRoute":  true,
	"zoom":          true,
	"pan":           true,
	"fit":           true,
	"inputs":        true,
	"addInput":      true,
	"updateInput":   true,
	"removeInput":   true,
	"setResources":  true,
	"setBreakpoint": true,
}

// editorConn is one websocket client editing through its own session.
type editorConn struct {
	srv     *Server
	conn    *websocket.Conn
	writeMu sync.Mutex
	sess    *session.Session
	editor  *components.Editor
	http    *http.Client
	log     *log.Logger

	// Virtual layout hosts, one per canvas. The page canvas keeps its tree
	// for the life of the session; fragments get a new one each time.
	pageHost     *resolver.VirtualHost
	fragmentHost *resolver.VirtualHost

	chrome       *browser.Host
	cancelChrome context.CancelFunc
}

// serveEditor upgrades the request and runs the editor protocol until the
// client goes away.
func (s *Server) serveEditor(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	c, err := s.newEditorConn(conn)
	if err != nil {
		s.log.Error("editor session failed", "err", err)
		conn.Close()
		return
	}
	s.registerConnection(c)
	defer func() {
		s.unregisterConnection(c)
		c.close()
	}()

	c.log.Debug("client connected", "remote", conn.RemoteAddr())
	c.send(Response{Action: "hello", OK: true, State: c.state(), Document: c.document()})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("unexpected close", "err", err)
			}
			return
		}
		var req Request
		if err := json.Unmarshal(message, &req); err != nil {
			c.send(Response{Action: "error", Error: "invalid message"})
			continue
		}
		c.send(c.handle(r.Context(), req))
	}
}

// newAPIClient returns the client script API calls go through. Its dialer
// refuses internal addresses, including host names resolving to them.
func newAPIClient() *http.Client {
	dialer := &net.Dialer{Timeout: 5 * time.Second, Control: security.DialControl}
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			ForceAttemptHTTP2:   true,
			TLSHandshakeTimeout: 5 * time.Second,
		},
	}
}

func (s *Server) newEditorConn(conn *websocket.Conn) (*editorConn, error) {
	c := &editorConn{
		srv:  s,
		conn: conn,
		http: newAPIClient(),
		log:  s.log.WithPrefix("ws"),
	}

	var newHost func(*block.Tree) resolver.Host
	switch s.cfg.Editor.GetLayout() {
	case "chrome":
		if s.chrome == nil {
			return nil, errors.New("chrome layout configured without a browser")
		}
		tab, cancel := browser.NewTab(s.chrome)
		c.chrome, c.cancelChrome = browser.NewHost(tab, c.log), cancel
		if url := s.cfg.Editor.PreviewURL; url != "" {
			if err := c.chrome.Navigate(url); err != nil {
				cancel()
				return nil, fmt.Errorf("load canvas page: %w", err)
			}
		}
		newHost = func(*block.Tree) resolver.Host { return c.chrome }
	default:
		newHost = c.newVirtualHost
	}

	services := c.services()
	c.sess = session.New(session.Options{
		Store:           s.store,
		Catalog:         s.catalog,
		Sandbox:         s.sandbox,
		NewHost:         newHost,
		Services:        services,
		AllowScripts:    config.IsScriptAllowed(),
		HistoryCapacity: s.cfg.Editor.GetHistoryCapacity(),
		DropThrottle:    s.cfg.Editor.GetDropThrottle(),
		Logger:          c.log,
	})
	c.editor = components.NewEditor(s.registry, s.store, c.sess, services, c.log)
	return c, nil
}

// newVirtualHost is called by the session, with its lock held when it opens
// a fragment, so the host fields are only touched under that lock.
func (c *editorConn) newVirtualHost(tree *block.Tree) resolver.Host {
	h := resolver.NewVirtualHost(tree)
	if c.pageHost == nil {
		c.pageHost = h
	} else {
		c.fragmentHost = h
	}
	return h
}

// hostFor returns the virtual host laid out for tree. Callers hold the
// session lock.
func (c *editorConn) hostFor(tree *block.Tree) (*resolver.VirtualHost, error) {
	for _, h := range []*resolver.VirtualHost{c.fragmentHost, c.pageHost} {
		if h != nil && h.Tree() == tree {
			return h, nil
		}
	}
	return nil, errors.New("layout is measured by the browser host")
}

// services routes event actions back to this client.
func (c *editorConn) services() script.Services {
	return script.Services{
		ShowToast: func(t script.Toast) {
			c.send(Response{Action: "toast", OK: true, Result: t})
		},
		Navigate: func(to string) error {
			route, _ := c.sess.AppPageRoute(to)
			c.send(Response{Action: "navigate", OK: true, Result: map[string]string{"page": to, "route": route}})
			return nil
		},
		OpenURL: func(url string) error {
			if err := security.ValidateHTTPURL(url); err != nil {
				return err
			}
			c.send(Response{Action: "openURL", OK: true, Result: map[string]string{"url": url}})
			return nil
		},
		CallAPI: c.callAPI,
	}
}

// callAPI fetches endpoint and pushes its JSON body to the client. Hosts
// that keep failing are cut off for a while by their circuit breaker.
func (c *editorConn) callAPI(ctx context.Context, endpoint string) (any, error) {
	if err := security.ValidateHTTPURL(endpoint); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	host := req.URL.Host
	if err := c.srv.breakers.allow(host); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.srv.breakers.record(host, true)
		return nil, err
	}
	defer resp.Body.Close()
	c.srv.breakers.record(host, resp.StatusCode >= 500)
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s: %s", endpoint, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponse))
	if err != nil {
		return nil, err
	}
	var result any
	if err := json.Unmarshal(data, &result); err != nil {
		result = string(data)
	}
	c.send(Response{Action: "apiResult", OK: true, Result: map[string]any{"endpoint": endpoint, "data": result}})
	return result, nil
}

func (c *editorConn) send(resp Response) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(resp); err != nil {
		c.log.Debug("send failed", "action", resp.Action, "err", err)
	}
}

// push sends the current state and document unprompted.
func (c *editorConn) push(action string) {
	c.send(Response{Action: action, OK: true, State: c.state(), Document: c.document()})
}

func (c *editorConn) state() *session.State {
	st := c.sess.State()
	return &st
}

func (c *editorConn) document() json.RawMessage {
	var data []byte
	err := c.sess.Do(func(cv *canvas.Canvas) error {
		var err error
		data, err = codec.EncodeDocument(cv.Root())
		return err
	})
	if err != nil {
		c.log.Warn("encode document", "err", err)
		return nil
	}
	return data
}

func (c *editorConn) close() {
	c.sess.Close()
	if c.cancelChrome != nil {
		c.cancelChrome()
	}
	c.conn.Close()
}

// handle runs one request and builds its reply.
func (c *editorConn) handle(ctx context.Context, req Request) Response {
	resp := Response{ID: req.ID, Action: req.Action}
	result, err := c.dispatch(ctx, req)
	if err != nil {
		resp.Error = errorMessage(err)
		c.log.Debug("action failed", "action", req.Action, "err", err)
	} else {
		resp.OK = true
		resp.Result = result
	}
	resp.State = c.state()
	if !quietActions[req.Action] {
		resp.Document = c.document()
	}
	return resp
}

func errorMessage(err error) string {
	var se *store.StoreError
	var ve *store.ValidationError
	if errors.Is(err, store.ErrNotFound) || errors.As(err, &se) || errors.As(err, &ve) {
		return store.UserFriendlyMessage(err)
	}
	return err.Error()
}

// decode reads a request payload. An absent payload decodes to the zero
// value.
func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("invalid data: %w", err)
	}
	return v, nil
}

type (
	nameData struct {
		Name string `json:"name"`
	}
	idData struct {
		ID    string `json:"id"`
		Force bool   `json:"force,omitempty"`
	}
	appPageData struct {
		App  string `json:"app"`
		Page string `json:"page"`
	}
	fieldData struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	}
	selectData struct {
		ID      string `json:"id"`
		BlockID string `json:"blockId"`
		Slot    string `json:"slot"`
		Multi   bool   `json:"multi"`
	}
	styleData struct {
		Name  string `json:"name"`
		Value any    `json:"value"`
	}
	propData struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Value any    `json:"value"`
	}
	pointData struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	layoutData struct {
		// Reset drops the previous layout first.
		Reset bool                     `json:"reset"`
		Boxes map[string]resolver.Rect `json:"boxes"`
		Slots map[string]string        `json:"slots"`
	}
	zoomData struct {
		Factor float64 `json:"factor"`
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
	}
	panData struct {
		DX float64 `json:"dx"`
		DY float64 `json:"dy"`
	}
	fitData struct {
		Container resolver.Rect `json:"container"`
		// Canvas is the canvas box at scale 1 with no translation.
		Canvas resolver.Rect `json:"canvas"`
	}
	triggerData struct {
		BlockID string `json:"blockId"`
		Event   string `json:"event"`
	}
	componentData struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		BlockID string `json:"blockId"`
	}
	inputData struct {
		Index int                  `json:"index"`
		Input store.ComponentInput `json:"input"`
	}
)

func (c *editorConn) dispatch(ctx context.Context, req Request) (any, error) {
	switch req.Action {
	case "state", "document":
		return nil, nil

	case "setPage":
		d, err := decode[nameData](req.Data)
		if err != nil {
			return nil, err
		}
		return nil, c.sess.SetPage(ctx, d.Name)
	case "savePage":
		return nil, c.sess.SavePage(ctx)
	case "publishPage":
		return c.sess.PublishPage(ctx)
	case "updatePage":
		d, err := decode[fieldData](req.Data)
		if err != nil {
			return nil, err
		}
		return nil, c.sess.UpdateActivePage(ctx, d.Key, d.Value)
	case "setApp":
		d, err := decode[nameData](req.Data)
		if err != nil {
			return nil, err
		}
		return nil, c.sess.SetApp(ctx, d.Name)
	case "setAppHome":
		d, err := decode[appPageData](req.Data)
		if err != nil {
			return nil, err
		}
		return nil, c.sess.SetAppHome(ctx, d.App, d.Page)
	case "deleteAppPage":
		d, err := decode[appPageData](req.Data)
		if err != nil {
			return nil, err
		}
		return nil, c.sess.DeleteAppPage(ctx, d.App, d.Page)
	case "appPageRoute":
		d, err := decode[appPageData](req.Data)
		if err != nil {
			return nil, err
		}
		route, ok := c.sess.AppPageRoute(d.Page)
		if !ok {
			return nil, &store.NotFoundError{Kind: "app page", Name: d.Page}
		}
		return map[string]string{"route": route}, nil
	case "setBreakpoint":
		d, err := decode[nameData](req.Data)
		if err != nil {
			return nil, err
		}
		bp, err := style.ParseBreakpoint(d.Name)
		if err != nil {
			return nil, err
		}
		c.sess.SetBreakpoint(bp)
		if c.chrome != nil {
			c.chrome.SetBreakpoint(bp)
		}
		return nil, nil
	case "setResources":
		d, err := decode[map[string]any](req.Data)
		if err != nil {
			return nil, err
		}
		c.sess.SetResources(d)
		return nil, nil
	case "trigger":
		d, err := decode[triggerData](req.Data)
		if err != nil {
			return nil, err
		}
		return nil, c.sess.TriggerEvent(ctx, d.BlockID, d.Event)

	case "saveFragment":
		return nil, c.sess.SaveFragment()
	case "exitFragment":
		return nil, c.sess.ExitFragment()

	case "createComponent", "editComponent", "deleteComponent",
		"inputs", "addInput", "updateInput", "removeInput":
		return c.componentAction(ctx, req)
	}
	return c.canvasAction(req)
}

func (c *editorConn) componentAction(ctx context.Context, req Request) (any, error) {
	switch req.Action {
	case "createComponent":
		d, err := decode[componentData](req.Data)
		if err != nil {
			return nil, err
		}
		var seed *block.Block
		if d.BlockID != "" {
			err := c.sess.Do(func(cv *canvas.Canvas) error {
				b := cv.FindBlock(d.BlockID)
				if b == nil {
					return &store.NotFoundError{Kind: "block", Name: d.BlockID}
				}
				var err error
				seed, err = codec.Copy(b, c.srv.sandbox, true)
				return err
			})
			if err != nil {
				return nil, err
			}
		}
		return c.editor.Create(ctx, d.Name, seed)
	case "editComponent":
		d, err := decode[componentData](req.Data)
		if err != nil {
			return nil, err
		}
		return nil, c.editor.Edit(ctx, d.ID)
	case "deleteComponent":
		d, err := decode[componentData](req.Data)
		if err != nil {
			return nil, err
		}
		return nil, c.editor.Delete(ctx, d.ID)
	}

	if c.editor.Editing() == "" {
		return nil, errors.New("no component open")
	}
	switch req.Action {
	case "addInput":
		d, err := decode[inputData](req.Data)
		if err != nil {
			return nil, err
		}
		c.editor.AddInput(d.Input)
	case "updateInput":
		d, err := decode[inputData](req.Data)
		if err != nil {
			return nil, err
		}
		if !c.editor.UpdateInput(d.Index, d.Input) {
			return nil, fmt.Errorf("no input at index %d", d.Index)
		}
	case "removeInput":
		d, err := decode[inputData](req.Data)
		if err != nil {
			return nil, err
		}
		if !c.editor.RemoveInput(d.Index) {
			return nil, fmt.Errorf("no input at index %d", d.Index)
		}
	}
	return c.editor.Inputs(), nil
}

// canvasAction runs an edit on the active canvas under the session lock.
func (c *editorConn) canvasAction(req Request) (any, error) {
	var result any
	err := c.sess.Do(func(cv *canvas.Canvas) error {
		var err error
		result, err = c.edit(cv, req)
		return err
	})
	return result, err
}

func findBlock(cv *canvas.Canvas, id string) (*block.Block, error) {
	if b := cv.FindBlock(id); b != nil {
		return b, nil
	}
	return nil, &store.NotFoundError{Kind: "block", Name: id}
}

func (c *editorConn) edit(cv *canvas.Canvas, req Request) (any, error) {
	switch req.Action {
	case "select":
		d, err := decode[selectData](req.Data)
		if err != nil {
			return nil, err
		}
		cv.Selection.SelectID(d.ID, d.Multi)
	case "selectSlot":
		d, err := decode[selectData](req.Data)
		if err != nil {
			return nil, err
		}
		cv.Selection.SelectSlot(d.BlockID, d.Slot)
	case "clearSelect":
		cv.Selection.Clear()

	case "key":
		ev, err := decode[canvas.KeyEvent](req.Data)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"handled": cv.Keymap().Handle(ev)}, nil
	case "undo":
		return map[string]bool{"changed": cv.History.Undo()}, nil
	case "redo":
		return map[string]bool{"changed": cv.History.Redo()}, nil

	case "getStyle":
		d, err := decode[styleData](req.Data)
		if err != nil {
			return nil, err
		}
		return map[string]any{"value": cv.SelectionStyle(d.Name)}, nil
	case "setStyle":
		d, err := decode[styleData](req.Data)
		if err != nil {
			return nil, err
		}
		cv.SetSelectionStyle(d.Name, d.Value)
	case "setPadding", "setMargin":
		d, err := decode[styleData](req.Data)
		if err != nil {
			return nil, err
		}
		v, _ := d.Value.(string)
		if req.Action == "setPadding" {
			cv.SetSelectionPadding(v)
		} else {
			cv.SetSelectionMargin(v)
		}
	case "setProp":
		d, err := decode[propData](req.Data)
		if err != nil {
			return nil, err
		}
		b, err := findBlock(cv, d.ID)
		if err != nil {
			return nil, err
		}
		value := d.Value
		if src, ok := value.(string); ok && script.IsFunctionSource(src) {
			fn, err := c.srv.sandbox.Compile(src)
			if err != nil {
				return nil, err
			}
			value = fn
		}
		b.SetProp(d.Name, value)
	case "setEvent":
		d, err := decode[propData](req.Data)
		if err != nil {
			return nil, err
		}
		b, err := findBlock(cv, d.ID)
		if err != nil {
			return nil, err
		}
		b.SetEvent(d.Name, d.Value)
	case "setSlotText":
		d, err := decode[propData](req.Data)
		if err != nil {
			return nil, err
		}
		b, err := findBlock(cv, d.ID)
		if err != nil {
			return nil, err
		}
		text, _ := d.Value.(string)
		b.SetSlotText(d.Name, text)
	case "toggleVisibility":
		d, err := decode[idData](req.Data)
		if err != nil {
			return nil, err
		}
		b, err := findBlock(cv, d.ID)
		if err != nil {
			return nil, err
		}
		b.ToggleVisibility()

	case "layout":
		d, err := decode[layoutData](req.Data)
		if err != nil {
			return nil, err
		}
		h, err := c.hostFor(cv.Tree)
		if err != nil {
			return nil, err
		}
		if d.Reset {
			h.Clear()
		}
		for id, r := range d.Boxes {
			h.SetBox(id, r)
		}
		for id, slot := range d.Slots {
			h.MarkSlot(id, slot)
		}
	case "dragOver":
		d, err := decode[pointData](req.Data)
		if err != nil {
			return nil, err
		}
		r := cv.Resolver()
		if r == nil {
			return nil, resolver.ErrNoTarget
		}
		t, moved := r.Over(d.X, d.Y)
		return map[string]any{"target": t, "moved": moved}, nil
	case "cancelDrop":
		if r := cv.Resolver(); r != nil {
			r.Cancel()
		}
	case "drop":
		d, err := decode[componentData](req.Data)
		if err != nil {
			return nil, err
		}
		b, err := cv.Drop(d.Name)
		if err != nil {
			return nil, err
		}
		return map[string]string{"id": b.ID()}, nil
	case "remove":
		d, err := decode[idData](req.Data)
		if err != nil {
			return nil, err
		}
		b, err := findBlock(cv, d.ID)
		if err != nil {
			return nil, err
		}
		return nil, cv.RemoveBlock(b, d.Force)
	case "duplicate":
		d, err := decode[idData](req.Data)
		if err != nil {
			return nil, err
		}
		b, err := findBlock(cv, d.ID)
		if err != nil {
			return nil, err
		}
		dup, err := cv.Duplicate(b)
		if err != nil {
			return nil, err
		}
		return map[string]string{"id": dup.ID()}, nil

	case "zoom":
		d, err := decode[zoomData](req.Data)
		if err != nil {
			return nil, err
		}
		cv.Viewport.Zoom(d.Factor, d.X, d.Y)
		return cv.Viewport, nil
	case "pan":
		d, err := decode[panData](req.Data)
		if err != nil {
			return nil, err
		}
		cv.Viewport.Pan(d.DX, d.DY)
		return cv.Viewport, nil
	case "fit":
		d, err := decode[fitData](req.Data)
		if err != nil {
			return nil, err
		}
		cv.Viewport.Fit(d.Container, func(v canvas.Viewport) resolver.Rect {
			x, y := v.ToScreen(d.Canvas.X, d.Canvas.Y)
			return resolver.Rect{X: x, Y: y, Width: d.Canvas.Width * v.Scale, Height: d.Canvas.Height * v.Scale}
		})
		return cv.Viewport, nil

	default:
		return nil, fmt.Errorf("unknown action %q", req.Action)
	}
	return nil, nil
}
