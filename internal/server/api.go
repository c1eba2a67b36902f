package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/livetemplate/markpad/internal/articles"
	"github.com/livetemplate/markpad/internal/markdown"
)

// maxRequestBodySize limits the size of incoming request bodies (1MB)
const maxRequestBodySize = 1 << 20

// defaultPageLimit is the default pagination limit when none is specified
const defaultPageLimit = 100

// defaultRelatedLimit is the number of related articles returned when none is specified
const defaultRelatedLimit = 10

// APIHandler handles REST API requests for rendering and articles.
type APIHandler struct {
	store    articles.Store
	renderer *markdown.Renderer
	debug    bool
}

// articleRequest is the JSON body accepted by POST and PUT.
type articleRequest struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags"`
}

// NewAPIHandler creates a new API handler. store may be nil.
func NewAPIHandler(store articles.Store, renderer *markdown.Renderer, debug bool) *APIHandler {
	return &APIHandler{
		store:    store,
		renderer: renderer,
		debug:    debug,
	}
}

// ServeHTTP handles API requests.
// Paths: /api/render, /api/articles, /api/articles/{id}, /api/articles/{id}/related
func (h *APIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/"), "/")

	if h.debug {
		log.Printf("[API] %s %s", r.Method, r.URL.Path)
	}

	if path == "render" {
		h.handleRender(w, r)
		return
	}

	if path != "articles" && !strings.HasPrefix(path, "articles/") {
		writeJSONError(w, http.StatusNotFound, "unknown endpoint: "+r.URL.Path)
		return
	}

	if h.store == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "article store is not configured")
		return
	}

	parts := strings.Split(path, "/")[1:]
	switch len(parts) {
	case 0:
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleCreate(w, r)
		default:
			// Note: OPTIONS (preflight) is handled by CORS middleware before reaching here
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return

	case 1, 2:
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil || id <= 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid article id: "+parts[0])
			return
		}

		if len(parts) == 2 {
			if parts[1] != "related" {
				writeJSONError(w, http.StatusNotFound, "unknown endpoint: "+r.URL.Path)
				return
			}
			if r.Method != http.MethodGet {
				writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			h.handleRelated(w, r, id)
			return
		}

		switch r.Method {
		case http.MethodGet:
			h.handleGet(w, r, id)
		case http.MethodPut:
			h.handleUpdate(w, r, id)
		case http.MethodDelete:
			h.handleDelete(w, r, id)
		default:
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	writeJSONError(w, http.StatusNotFound, "unknown endpoint: "+r.URL.Path)
}

// handleRender converts the Markdown request body to an HTML fragment.
func (h *APIHandler) handleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Limit request body size to prevent DoS
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	src, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	out, err := h.renderer.Render(string(src))
	if err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, out)
}

// handleList returns articles matching the title, body and tag query parameters.
func (h *APIHandler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := articles.Filter{
		Title: q.Get("title"),
		Body:  q.Get("body"),
		Tags:  q["tag"],
	}

	list, err := h.store.List(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	// Apply pagination with default limit to prevent unbounded results
	limit := parseIntParam(r, "limit", defaultPageLimit, 1)
	offset := parseIntParam(r, "offset", 0, 0)

	totalCount := len(list)
	list = paginate(list, offset, limit)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":   list,
		"count":  len(list),
		"total":  totalCount,
		"offset": offset,
		"limit":  limit,
	})
}

// handleCreate stores a new article.
func (h *APIHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeArticle(w, r)
	if !ok {
		return
	}

	id, err := h.store.Insert(r.Context(), req.Title, req.Body, req.Tags)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	a, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	w.Header().Set("Location", "/api/articles/"+strconv.FormatInt(id, 10))
	writeJSON(w, http.StatusCreated, a)
}

func (h *APIHandler) handleGet(w http.ResponseWriter, r *http.Request, id int64) {
	a, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *APIHandler) handleUpdate(w http.ResponseWriter, r *http.Request, id int64) {
	req, ok := decodeArticle(w, r)
	if !ok {
		return
	}

	a := &articles.Article{ID: id, Title: req.Title, Body: req.Body, Tags: req.Tags}
	if err := h.store.Update(r.Context(), a); err != nil {
		writeStoreError(w, err)
		return
	}

	h.handleGet(w, r, id)
}

func (h *APIHandler) handleDelete(w http.ResponseWriter, r *http.Request, id int64) {
	if err := h.store.Delete(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
	})
}

func (h *APIHandler) handleRelated(w http.ResponseWriter, r *http.Request, id int64) {
	if _, err := h.store.Get(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}

	limit := parseIntParam(r, "limit", defaultRelatedLimit, 1)
	list, err := h.store.Related(r.Context(), id, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if list == nil {
		list = []*articles.Article{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  list,
		"count": len(list),
	})
}

func decodeArticle(w http.ResponseWriter, r *http.Request) (articleRequest, bool) {
	// Limit request body size to prevent DoS
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req articleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return req, false
	}
	return req, true
}

// Helper functions

// writeStoreError maps article store errors to HTTP status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, articles.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, articles.ErrDuplicateTitle):
		writeJSONError(w, http.StatusConflict, err.Error())
	case articles.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("[API] Store error: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[API] Error encoding JSON response: %v", err)
	}
}

// parseIntParam reads an integer query parameter. Missing, malformed and
// below-min values give defaultVal.
func parseIntParam(r *http.Request, name string, defaultVal, min int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < min {
		return defaultVal
	}
	return i
}

// paginate applies offset and limit to a result list.
func paginate[T any](data []T, offset, limit int) []T {
	if offset >= len(data) {
		return []T{}
	}

	data = data[offset:]

	if limit > 0 && limit < len(data) {
		data = data[:limit]
	}

	return data
}
