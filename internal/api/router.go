package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/memtree/internal/memstore"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(store *memstore.Store, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(store)

	r := chi.NewRouter()
	r.Use(PreserveEscapedPath)
	r.Use(AuthMiddleware(authEnabled, token))

	// The bare prefix and the empty wildcard both address the root.
	r.Get("/memories", h.ReadMemory)
	r.Get("/memories/*", h.ReadMemory)
	r.Post("/memories", h.AddMemory)
	r.Post("/memories/*", h.AddMemory)
	r.Patch("/memories", h.EditMemory)
	r.Patch("/memories/*", h.EditMemory)
	r.Delete("/memories", h.RemoveMemory)
	r.Delete("/memories/*", h.RemoveMemory)

	r.Get("/children", h.ListChildren)
	r.Get("/children/*", h.ListChildren)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
