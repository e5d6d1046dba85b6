// Package api exposes a Directory over HTTP. Each collection operation is
// a POST whose JSON body mirrors the persistence request type; the response
// is the operation's envelope.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/asaidimu/go-loom/core/persistence"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler serves the collections of one Directory.
type Handler struct {
	dir     *persistence.Directory
	logger  *zap.Logger
	metrics bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics serves the directory registry on /metrics.
func WithMetrics(enabled bool) Option {
	return func(h *Handler) {
		h.metrics = enabled
	}
}

// NewHandler creates a Handler over dir.
func NewHandler(dir *persistence.Directory, opts ...Option) *Handler {
	h := &Handler{dir: dir, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router returns the gateway routes.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/schemas", h.ListSchemas)
	r.Get("/schemas/{name}", h.GetSchema)

	r.Route("/collections/{name}", func(r chi.Router) {
		r.Post("/add", h.Add)
		r.Post("/get", h.Get)
		r.Post("/edit", h.Edit)
		r.Post("/del", h.Del)
		r.Post("/erase", h.Erase)
	})

	if h.metrics {
		r.Handle("/metrics", promhttp.HandlerFor(h.dir.Registry(), promhttp.HandlerOpts{}))
	}
	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug("Request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// ListSchemas returns the registered collection names.
func (h *Handler) ListSchemas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"schemas": h.dir.Schemas()})
}

// GetSchema returns one parsed schema definition.
func (h *Handler) GetSchema(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, c.Definition())
}

func (h *Handler) Add(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}
	var req persistence.AddRequest
	if !decode(w, r, &req) {
		return
	}
	writeEnvelope(w, c.Add(r.Context(), req))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}
	var req persistence.GetRequest
	if !decode(w, r, &req) {
		return
	}
	writeEnvelope(w, c.Get(r.Context(), req))
}

func (h *Handler) Edit(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}
	var req persistence.EditRequest
	if !decode(w, r, &req) {
		return
	}
	writeEnvelope(w, c.Edit(r.Context(), req))
}

func (h *Handler) Del(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}
	var req persistence.DelRequest
	if !decode(w, r, &req) {
		return
	}
	writeEnvelope(w, c.Del(r.Context(), req))
}

func (h *Handler) Erase(w http.ResponseWriter, r *http.Request) {
	c, ok := h.collection(w, r)
	if !ok {
		return
	}
	writeEnvelope(w, c.Erase(r.Context()))
}

func (h *Handler) collection(w http.ResponseWriter, r *http.Request) (*persistence.Collection, bool) {
	name := chi.URLParam(r, "name")
	c, ok := h.dir.LookupSchema(name)
	if !ok {
		writeError(w, http.StatusNotFound, "invalid collection", fmt.Sprintf("collection %q not found", name))
		return nil, false
	}
	return c, true
}

// decode reads a JSON body into v. An empty body leaves v zero.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid body", err.Error())
	return false
}

func writeEnvelope(w http.ResponseWriter, env *persistence.Envelope) {
	status := http.StatusOK
	if !env.OK {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, env)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a failed envelope that never reached a collection.
func writeError(w http.ResponseWriter, status int, description, full string) {
	writeJSON(w, status, map[string]any{
		"ok":     false,
		"input":  nil,
		"output": []any{},
		"error":  full,
		"validationMessages": []persistence.Message{
			{Description: description, FullDescription: full},
		},
	})
}
