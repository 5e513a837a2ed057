package server

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livetemplate/blockstudio/internal/block"
	"github.com/livetemplate/blockstudio/internal/codec"
	"github.com/livetemplate/blockstudio/internal/config"
	"github.com/livetemplate/blockstudio/internal/store"
)

// newTestServer serves a fresh file store. cfg may be nil.
func newTestServer(t *testing.T, cfg *config.Config) (*Server, *store.FileStore, *httptest.Server) {
	t.Helper()
	st, err := store.OpenFile(t.TempDir(), quietLogger())
	require.NoError(t, err)
	srv := New(Options{Config: cfg, Store: st, Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	ts := httptest.NewServer(srv.Handler(ctx))
	t.Cleanup(func() {
		ts.Close()
		cancel()
		srv.Close()
	})
	return srv, st, ts
}

func documentOf(t *testing.T, names ...string) string {
	t.Helper()
	root := block.NewRoot()
	for _, n := range names {
		require.NoError(t, root.AddChild(block.Named(n)))
	}
	data, err := codec.EncodeDocument(root)
	require.NoError(t, err)
	return string(data)
}

func TestServeIndex(t *testing.T) {
	_, _, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Block Studio", body["title"])
	assert.Equal(t, "virtual", body["layout"])
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestPreviewRendersDraft(t *testing.T) {
	_, st, ts := newTestServer(t, nil)
	ctx := context.Background()
	p, err := st.InsertPage(ctx, store.Page{PageTitle: "Landing", Blocks: documentOf(t, "section")})
	require.NoError(t, err)
	require.NoError(t, st.SaveDraft(ctx, p.Name, documentOf(t, "article")))

	get := func(query string) string {
		t.Helper()
		resp, err := http.Get(ts.URL + "/preview/" + p.Name + query)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(data)
	}

	draft := get("")
	assert.Contains(t, draft, "<title>Landing</title>")
	assert.Contains(t, draft, "<article ")
	assert.NotContains(t, draft, "<section ")

	published := get("?published=1")
	assert.Contains(t, published, "<section ")
	assert.NotContains(t, published, "<article ")
}

func TestPreviewMissingPage(t *testing.T) {
	_, _, ts := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/preview/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPreviewUnreadableDocument(t *testing.T) {
	_, st, ts := newTestServer(t, nil)
	p, err := st.InsertPage(context.Background(), store.Page{PageTitle: "Broken", Blocks: `[{"componentId":`})
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/preview/" + p.Name)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(data), `data-component-id="root"`)
}

func TestCompressionMiddleware(t *testing.T) {
	h := CompressionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, strings.Repeat("<p>hello</p>", 50))
	}))

	req := httptest.NewRequest("GET", "/preview/x", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("<p>hello</p>", 50), string(plain))

	// Without Accept-Encoding the body passes through.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/preview/x", nil))
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Contains(t, rec.Body.String(), "<p>hello</p>")
}

func TestCompressionSkipsBinary(t *testing.T) {
	h := CompressionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	req := httptest.NewRequest("GET", "/x.png", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, rec.Body.Bytes())
}

type memoryStore struct{ store.Store }

func TestEnableWatchNeedsFileStore(t *testing.T) {
	st, err := store.OpenFile(t.TempDir(), quietLogger())
	require.NoError(t, err)
	srv := New(Options{Store: memoryStore{st}, Logger: quietLogger()})
	assert.ErrorIs(t, srv.EnableWatch(), ErrWatchUnsupported)
	assert.NoError(t, srv.StopWatch())
}
