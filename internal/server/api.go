package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/livetemplate/blockstudio/internal/components"
	"github.com/livetemplate/blockstudio/internal/metadata"
	"github.com/livetemplate/blockstudio/internal/store"
)

// maxRequestBodySize limits the size of incoming request bodies (1MB)
const maxRequestBodySize = 1 << 20

// APIHandler serves the REST API over pages, apps, components and the
// component catalog.
type APIHandler struct {
	store    store.Store
	catalog  *metadata.Catalog
	registry *components.Registry
	log      *log.Logger
	mux      *http.ServeMux
}

// NewAPIHandler creates a new API handler. registry may be nil; when set,
// component writes refresh it.
func NewAPIHandler(st store.Store, catalog *metadata.Catalog, registry *components.Registry, logger *log.Logger) *APIHandler {
	if logger == nil {
		logger = log.Default()
	}
	h := &APIHandler{
		store:    st,
		catalog:  catalog,
		registry: registry,
		log:      logger.WithPrefix("api"),
		mux:      http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /api/pages", h.listPages)
	h.mux.HandleFunc("POST /api/pages", h.insertPage)
	h.mux.HandleFunc("GET /api/pages/{name}", h.getPage)
	h.mux.HandleFunc("PATCH /api/pages/{name}", h.updatePage)
	h.mux.HandleFunc("PUT /api/pages/{name}/draft", h.saveDraft)
	h.mux.HandleFunc("POST /api/pages/{name}/publish", h.publish)
	h.mux.HandleFunc("DELETE /api/pages/{name}", h.deletePage)

	h.mux.HandleFunc("GET /api/apps", h.listApps)
	h.mux.HandleFunc("POST /api/apps", h.insertApp)
	h.mux.HandleFunc("GET /api/apps/{name}", h.getApp)
	h.mux.HandleFunc("GET /api/apps/{name}/pages", h.appPages)
	h.mux.HandleFunc("PUT /api/apps/{name}/home", h.setAppHome)
	h.mux.HandleFunc("DELETE /api/apps/{name}/pages/{page}", h.unlinkPage)

	h.mux.HandleFunc("GET /api/components", h.listComponents)
	h.mux.HandleFunc("POST /api/components", h.insertComponent)
	h.mux.HandleFunc("GET /api/components/{id}", h.getComponent)
	h.mux.HandleFunc("PUT /api/components/{id}", h.saveComponent)
	h.mux.HandleFunc("DELETE /api/components/{id}", h.deleteComponent)

	h.mux.HandleFunc("GET /api/catalog", h.listCatalog)
	h.mux.HandleFunc("GET /api/catalog/{name}", h.getCatalogEntry)
	return h
}

// ServeHTTP handles API requests.
func (h *APIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *APIHandler) listPages(w http.ResponseWriter, r *http.Request) {
	pages, err := h.store.ListPages(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": pages, "count": len(pages)})
}

func (h *APIHandler) insertPage(w http.ResponseWriter, r *http.Request) {
	var p store.Page
	if !decodeBody(w, r, &p) {
		return
	}
	created, err := h.store.InsertPage(r.Context(), p)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *APIHandler) getPage(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetPage(r.Context(), r.PathValue("name"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *APIHandler) updatePage(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if !decodeBody(w, r, &fields) {
		return
	}
	name := r.PathValue("name")
	if err := h.store.UpdatePage(r.Context(), name, fields); err != nil {
		h.fail(w, err)
		return
	}
	h.getPage(w, r)
}

func (h *APIHandler) saveDraft(w http.ResponseWriter, r *http.Request) {
	// The body is the document itself.
	var doc json.RawMessage
	if !decodeBody(w, r, &doc) {
		return
	}
	if err := h.store.SaveDraft(r.Context(), r.PathValue("name"), string(doc)); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *APIHandler) publish(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Publish(r.Context(), r.PathValue("name")); err != nil {
		h.fail(w, err)
		return
	}
	h.getPage(w, r)
}

func (h *APIHandler) deletePage(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeletePage(r.Context(), r.PathValue("name")); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *APIHandler) listApps(w http.ResponseWriter, r *http.Request) {
	apps, err := h.store.ListApps(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": apps, "count": len(apps)})
}

func (h *APIHandler) insertApp(w http.ResponseWriter, r *http.Request) {
	var a store.App
	if !decodeBody(w, r, &a) {
		return
	}
	created, err := h.store.InsertApp(r.Context(), a)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *APIHandler) getApp(w http.ResponseWriter, r *http.Request) {
	a, err := h.store.GetApp(r.Context(), r.PathValue("name"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *APIHandler) appPages(w http.ResponseWriter, r *http.Request) {
	pages, err := h.store.AppPages(r.Context(), r.PathValue("name"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": pages, "count": len(pages)})
}

func (h *APIHandler) setAppHome(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Page string `json:"page"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.store.SetAppHome(r.Context(), r.PathValue("name"), body.Page); err != nil {
		h.fail(w, err)
		return
	}
	h.getApp(w, r)
}

func (h *APIHandler) unlinkPage(w http.ResponseWriter, r *http.Request) {
	if err := h.store.UnlinkPage(r.Context(), r.PathValue("name"), r.PathValue("page")); err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *APIHandler) listComponents(w http.ResponseWriter, r *http.Request) {
	comps, err := h.store.ListComponents(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": comps, "count": len(comps)})
}

func (h *APIHandler) insertComponent(w http.ResponseWriter, r *http.Request) {
	var c store.Component
	if !decodeBody(w, r, &c) {
		return
	}
	created, err := h.store.InsertComponent(r.Context(), c)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *APIHandler) getComponent(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetComponent(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *APIHandler) saveComponent(w http.ResponseWriter, r *http.Request) {
	var c store.Component
	if !decodeBody(w, r, &c) {
		return
	}
	c.ComponentID = r.PathValue("id")
	if err := h.store.SaveComponent(r.Context(), c); err != nil {
		h.fail(w, err)
		return
	}
	if h.registry != nil {
		h.registry.Remove(c.ComponentID)
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *APIHandler) deleteComponent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.DeleteComponent(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	if h.registry != nil {
		h.registry.Remove(id)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type catalogEntry struct {
	Name               string                   `json:"name"`
	Title              string                   `json:"title"`
	Icon               string                   `json:"icon"`
	Emits              []string                 `json:"emits,omitempty"`
	Props              map[string]metadata.Prop `json:"props"`
	External           bool                     `json:"external"`
	EditInFragmentMode bool                     `json:"editInFragmentMode,omitempty"`
}

func (h *APIHandler) entry(name string) catalogEntry {
	return catalogEntry{
		Name:               name,
		Title:              h.catalog.Title(name),
		Icon:               h.catalog.Icon(name),
		Emits:              h.catalog.Emits(name),
		Props:              h.catalog.Props(name),
		External:           h.catalog.IsKnownExternalComponent(name),
		EditInFragmentMode: h.catalog.EditInFragmentMode(name),
	}
}

func (h *APIHandler) listCatalog(w http.ResponseWriter, r *http.Request) {
	names := h.catalog.Names()
	out := make([]catalogEntry, 0, len(names))
	for _, n := range names {
		out = append(out, h.entry(n))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out, "count": len(out)})
}

func (h *APIHandler) getCatalogEntry(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := h.catalog.Get(name); !ok {
		writeError(w, http.StatusNotFound, "unknown component: "+name)
		return
	}
	writeJSON(w, http.StatusOK, h.entry(name))
}

// fail writes err with the status its kind maps to.
func (h *APIHandler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "err", err)
	}
	writeError(w, status, store.UserFriendlyMessage(err))
}

func statusFor(err error) int {
	var verr *store.ValidationError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &verr):
		return http.StatusBadRequest
	}
	var serr *store.StoreError
	if errors.As(err, &serr) && serr.Retryable {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// decodeBody reads a size-limited JSON body into v, answering 400 on
// failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error("encoding JSON response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
