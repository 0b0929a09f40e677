package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/memtree/internal/apperr"
	"github.com/starford/memtree/internal/memstore"
	"github.com/starford/memtree/internal/models"
)

const maxBodyBytes = 1 << 20

// Handler holds API route handlers.
type Handler struct {
	store *memstore.Store
}

// NewHandler creates a new Handler.
func NewHandler(store *memstore.Store) *Handler {
	return &Handler{store: store}
}

// position extracts the position from the URL wildcard. Segments are split on
// "/" and unescaped one by one, so a key containing a slash is sent as %2F.
func position(r *http.Request) (models.Position, error) {
	raw := strings.Trim(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return models.Position{}, nil
	}
	parts := strings.Split(raw, "/")
	pos := make(models.Position, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			return nil, errors.New("empty position segment")
		}
		key, err := url.PathUnescape(p)
		if err != nil {
			return nil, fmt.Errorf("invalid position segment %q", p)
		}
		pos = append(pos, key)
	}
	return pos, nil
}

// writeStoreError maps store errors onto HTTP statuses. Expected errors
// carry their message; anything else is logged and hidden.
func writeStoreError(w http.ResponseWriter, op string, pos models.Position, err error) {
	switch {
	case errors.Is(err, apperr.ErrPositionNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrDuplicateKey):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrRootProtected):
		writeJSON(w, http.StatusForbidden, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.Any("position", pos), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// ReadMemory handles GET /api/memories/*.
//
//	@Summary		Read a memory and record the access
//	@Tags			memories
//	@Produce		json
//	@Param			position	path		string	false	"Slash-separated position; empty for the root"
//	@Success		200			{object}	ReadMemoryResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/memories/{position} [get]
func (h *Handler) ReadMemory(w http.ResponseWriter, r *http.Request) {
	pos, err := position(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	res, err := h.store.Read(r.Context(), pos)
	if err != nil {
		writeStoreError(w, "read memory", pos, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListChildren handles GET /api/children/*.
//
//	@Summary		List the direct children of a memory
//	@Tags			memories
//	@Produce		json
//	@Param			position	path		string	false	"Slash-separated position; empty for the root"
//	@Success		200			{object}	ListChildrenResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/children/{position} [get]
func (h *Handler) ListChildren(w http.ResponseWriter, r *http.Request) {
	pos, err := position(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	res, err := h.store.ListChildren(r.Context(), pos)
	if err != nil {
		writeStoreError(w, "list children", pos, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// AddMemory handles POST /api/memories/*. The wildcard is the parent.
//
//	@Summary		Add a memory under the given parent
//	@Tags			memories
//	@Accept			json
//	@Produce		json
//	@Param			position	path		string				false	"Parent position; empty for the root"
//	@Param			body		body		AddMemoryRequest	true	"Memory to add"
//	@Success		201			{object}	AddMemoryResponse
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/memories/{position} [post]
func (h *Handler) AddMemory(w http.ResponseWriter, r *http.Request) {
	pos, err := position(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req AddMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Description == nil {
		writeJSON(w, http.StatusBadRequest, errorBody("description is required"))
		return
	}
	author := models.DefaultAuthor
	if req.Author != nil {
		author = *req.Author
	}

	res, err := h.store.Add(r.Context(), pos, *req.Description, req.Content, req.Tags, author)
	if err != nil {
		writeStoreError(w, "add memory", pos, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// EditMemory handles PATCH /api/memories/*.
//
//	@Summary		Edit a memory; absent fields are left unchanged
//	@Tags			memories
//	@Accept			json
//	@Produce		json
//	@Param			position	path		string				true	"Position of the memory"
//	@Param			body		body		EditMemoryRequest	true	"Fields to change"
//	@Success		200			{object}	EditMemoryResponse
//	@Failure		400			{object}	errResponse
//	@Failure		403			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/memories/{position} [patch]
func (h *Handler) EditMemory(w http.ResponseWriter, r *http.Request) {
	pos, err := position(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req EditMemoryRequest
	// An empty body is a valid no-op edit that only stamps updated_at.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	res, err := h.store.Edit(r.Context(), pos, memstore.EditRequest{
		Description: req.Description,
		Content:     req.Content,
		Tags:        req.Tags,
	})
	if err != nil {
		writeStoreError(w, "edit memory", pos, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RemoveMemory handles DELETE /api/memories/*.
//
//	@Summary		Remove a memory and its subtree
//	@Tags			memories
//	@Produce		json
//	@Param			position	path		string	true	"Position of the memory"
//	@Success		200			{object}	RemoveMemoryResponse
//	@Failure		403			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/memories/{position} [delete]
func (h *Handler) RemoveMemory(w http.ResponseWriter, r *http.Request) {
	pos, err := position(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	res, err := h.store.Remove(r.Context(), pos)
	if err != nil {
		writeStoreError(w, "remove memory", pos, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
