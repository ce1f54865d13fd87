package items

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stockroom-app/stockroom/internal/platform/httpx"
	"github.com/stockroom-app/stockroom/internal/shared"
)

const (
	msgItemNotFound = "Item not found"

	// IdempotencyHeader lets API clients retry item creation safely.
	IdempotencyHeader = "Idempotency-Key"
	idempotencyModule = "items.create"
)

// listResponse keeps "data" present for an empty catalogue.
type listResponse struct {
	Message    string             `json:"message"`
	Data       []Item             `json:"data"`
	Pagination *shared.Pagination `json:"pagination,omitempty"`
}

// APIHandler serves /api/items.
type APIHandler struct {
	logger      *slog.Logger
	service     *Service
	guard       Guard
	idempotency shared.IdempotencyStore
}

// APIOption customises an APIHandler.
type APIOption func(*APIHandler)

// WithIdempotency makes POST /api/items honour the Idempotency-Key header.
func WithIdempotency(store shared.IdempotencyStore) APIOption {
	return func(h *APIHandler) {
		h.idempotency = store
	}
}

// NewAPIHandler constructs the JSON handler. Every route runs behind guard.
func NewAPIHandler(logger *slog.Logger, service *Service, guard Guard, opts ...APIOption) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &APIHandler{logger: logger, service: service, guard: guard}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MountRoutes registers the item API.
func (h *APIHandler) MountRoutes(r chi.Router) {
	r.Route("/api/items", func(r chi.Router) {
		if h.guard != nil {
			r.Use(h.guard.Require)
		}
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
	})
}

func (h *APIHandler) list(w http.ResponseWriter, r *http.Request) {
	var (
		list []Item
		resp listResponse
		err  error
	)
	if page, perPage, ok := shared.PageParams(r); ok {
		var p shared.Pagination
		list, p, err = h.service.Page(r.Context(), page, perPage)
		resp.Pagination = &p
	} else {
		list, err = h.service.List(r.Context())
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	if list == nil {
		list = []Item{}
	}
	resp.Message = "Items retrieved successfully"
	resp.Data = list
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *APIHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(r)
	if !ok {
		httpx.Message(w, http.StatusNotFound, msgItemNotFound)
		return
	}
	item, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, "Item retrieved successfully", item)
}

func (h *APIHandler) create(w http.ResponseWriter, r *http.Request) {
	in, upload, err := h.decode(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	defer upload.Close()

	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Message(w, http.StatusConflict, "Request already processed")
				return
			}
			h.fail(w, err)
			return
		}
	}

	item, err := h.service.Create(r.Context(), in, upload)
	if err != nil {
		if key != "" && h.idempotency != nil {
			if delErr := h.idempotency.Delete(r.Context(), key, idempotencyModule); delErr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		h.fail(w, err)
		return
	}
	httpx.Data(w, http.StatusCreated, "Item created successfully", item)
}

func (h *APIHandler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(r)
	if !ok {
		httpx.Message(w, http.StatusNotFound, msgItemNotFound)
		return
	}
	in, upload, err := h.decode(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	defer upload.Close()
	item, err := h.service.Update(r.Context(), id, in, upload)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, "Item updated successfully", item)
}

func (h *APIHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(r)
	if !ok {
		httpx.Message(w, http.StatusNotFound, msgItemNotFound)
		return
	}
	item, err := h.service.Delete(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, "Item deleted successfully", item)
}

// decode accepts a JSON body or a multipart form carrying an image.
func (h *APIHandler) decode(r *http.Request) (Input, *Upload, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		return parseItemForm(r)
	}
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		return in, nil, fmt.Errorf("%w: invalid JSON body", shared.ErrValidation)
	}
	return in, nil, nil
}

func (h *APIHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Message(w, http.StatusNotFound, msgItemNotFound)
	case errors.Is(err, shared.ErrValidation):
		httpx.Message(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("items api", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
