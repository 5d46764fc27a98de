// Package handler provides the HTTP handlers for the document store.
package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/stevemurr/json-db-serve/store"
)

// DefaultBodyLimit is the largest request body accepted when Options
// leaves BodyLimit unset.
const DefaultBodyLimit = 100 << 10

// Options configures a Handler.
type Options struct {
	Logger    *zap.Logger
	BodyLimit int64

	// Now is used to assign ids; it defaults to time.Now.
	Now func() time.Time
}

// Handler holds the server dependencies and registers routes.
type Handler struct {
	store     store.Store
	mux       *http.ServeMux
	logger    *zap.Logger
	bodyLimit int64
	now       func() time.Time
}

// New creates a Handler and wires up all routes.
func New(s store.Store, opts Options) *Handler {
	h := &Handler{
		store:     s,
		mux:       http.NewServeMux(),
		logger:    opts.Logger,
		bodyLimit: opts.BodyLimit,
		now:       opts.Now,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.bodyLimit <= 0 {
		h.bodyLimit = DefaultBodyLimit
	}
	if h.now == nil {
		h.now = time.Now
	}
	h.routes()
	return h
}

// ServeHTTP makes Handler an http.Handler. A single trailing slash is
// ignored, so /todos/ and /todos address the same collection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p := r.URL.Path; len(p) > 1 && strings.HasSuffix(p, "/") {
		r.URL.Path = strings.TrimSuffix(p, "/")
		if r.URL.RawPath != "" {
			r.URL.RawPath = strings.TrimSuffix(r.URL.RawPath, "/")
		}
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	h.mux.HandleFunc("GET /{collection}", h.handle(h.listItems))
	h.mux.HandleFunc("GET /{collection}/{id}", h.handle(h.getItem))
	h.mux.HandleFunc("POST /{collection}", h.handle(h.createItem))
	h.mux.HandleFunc("PATCH /{collection}/{id}", h.handle(h.updateItem))
	h.mux.HandleFunc("DELETE /{collection}/{id}", h.handle(h.deleteItem))

	// Everything else, including unsupported methods on known paths.
	h.mux.HandleFunc("/", h.handle(func(http.ResponseWriter, *http.Request) error {
		return ErrNotFound
	}))
}

// ---------- helpers ----------

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// handle adapts a handlerFunc, sending returned errors and panics to
// WriteError.
func (h *Handler) handle(fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				WriteError(w, r, h.logger, fmt.Errorf("panic: %v", v))
			}
		}()
		if err := fn(w, r); err != nil {
			WriteError(w, r, h.logger, err)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// readItem parses the request body as an item. A missing body, or one that
// is not declared as JSON, is an empty item.
func (h *Handler) readItem(w http.ResponseWriter, r *http.Request) (*store.Item, error) {
	if r.Body == nil || r.Body == http.NoBody || !isJSON(r.Header.Get("Content-Type")) {
		return store.NewItem(), nil
	}
	defer r.Body.Close()

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.bodyLimit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &HTTPError{
				Status:  http.StatusRequestEntityTooLarge,
				Message: "request entity too large",
				Err:     err,
			}
		}
		return nil, badRequest("failed to read request body", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return store.NewItem(), nil
	}
	if !json.Valid(data) {
		return nil, badRequest("invalid JSON body", nil)
	}
	it, err := store.DecodeItem(data)
	if err != nil {
		return nil, badRequest("request body must be a JSON object", err)
	}
	return it, nil
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// ---------- core logic ----------

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) error {
	doc, err := h.store.Load()
	if err != nil {
		return err
	}
	collection := r.PathValue("collection")
	if raw, ok := doc.Raw(collection); ok {
		writeJSON(w, http.StatusOK, raw)
		return nil
	}
	writeJSON(w, http.StatusOK, doc.Collection(collection))
	return nil
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) error {
	doc, err := h.store.Load()
	if err != nil {
		return err
	}
	collection := r.PathValue("collection")
	if _, err := doc.Items(collection); err != nil {
		return err
	}
	_, it := doc.Find(collection, r.PathValue("id"))
	if it == nil {
		return ErrNotFound
	}
	writeJSON(w, http.StatusOK, it)
	return nil
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) error {
	body, err := h.readItem(w, r)
	if err != nil {
		return err
	}
	doc, err := h.store.Load()
	if err != nil {
		return err
	}
	collection := r.PathValue("collection")
	if _, err := doc.Items(collection); err != nil {
		return err
	}

	// Explicit ids are kept as-is, even when another item already has them.
	if id, ok := body.ID(); !ok || id == nil {
		body.Set(store.IDField, h.now().UnixMilli())
	}
	doc.Ensure(collection)
	doc.Append(collection, body)
	if err := h.store.Persist(doc); err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, body)
	return nil
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) error {
	patch, err := h.readItem(w, r)
	if err != nil {
		return err
	}
	doc, err := h.store.Load()
	if err != nil {
		return err
	}
	collection := r.PathValue("collection")
	if _, err := doc.Items(collection); err != nil {
		return err
	}
	_, it := doc.Find(collection, r.PathValue("id"))
	if it == nil {
		return ErrNotFound
	}
	it.Merge(patch)
	if err := h.store.Persist(doc); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, it)
	return nil
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) error {
	doc, err := h.store.Load()
	if err != nil {
		return err
	}
	collection := r.PathValue("collection")
	if _, err := doc.Items(collection); err != nil {
		return err
	}
	i, _ := doc.Find(collection, r.PathValue("id"))
	if i == -1 {
		return ErrNotFound
	}
	removed := doc.RemoveAt(collection, i)
	if err := h.store.Persist(doc); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, removed)
	return nil
}
