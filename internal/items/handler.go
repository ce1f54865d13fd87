package items

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stockroom-app/stockroom/internal/shared"
	"github.com/stockroom-app/stockroom/internal/view"
)

// Guard wraps handlers that require an authenticated caller.
type Guard interface {
	Require(next http.Handler) http.Handler
}

// Handler serves the item pages.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	templates   *view.Engine
	csrfManager *shared.CSRFManager
	guard       Guard
}

// NewHandler constructs the page handler. Every route runs behind guard.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, guard Guard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrfManager: csrf, guard: guard}
}

// MountRoutes registers item pages.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.guard != nil {
			r.Use(h.guard.Require)
		}
		r.Get("/", h.list)
		r.Get("/add", h.showAdd)
		r.Post("/add", h.handleAdd)
		r.Get("/edit/{id}", h.showEdit)
		r.Post("/update/{id}", h.handleUpdate)
		r.Get("/delete/{id}", h.handleDelete)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, perPage, _ := shared.PageParams(r)
	list, pagination, err := h.service.Page(r.Context(), page, perPage)
	if err != nil {
		h.logger.Error("list items", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.render(w, r, http.StatusOK, "pages/items.html", "Items", map[string]any{
		"Items":      list,
		"Pagination": pagination,
	})
}

func (h *Handler) showAdd(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "pages/item_form.html", "Add item", map[string]any{"Action": "/add"})
}

func (h *Handler) handleAdd(w http.ResponseWriter, r *http.Request) {
	in, upload, err := parseItemForm(r)
	if err != nil {
		h.formError(w, r, "Add item", "/add", nil, err)
		return
	}
	defer upload.Close()
	if _, err := h.service.Create(r.Context(), in, upload); err != nil {
		h.formError(w, r, "Add item", "/add", &Item{Name: in.Name, Price: in.Price, Quantity: in.Quantity}, err)
		return
	}
	h.flashRedirect(w, r, "success", "Item added successfully!")
}

func (h *Handler) showEdit(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(r)
	if !ok {
		h.flashRedirect(w, r, "danger", "Item not found.")
		return
	}
	item, err := h.service.Get(r.Context(), id)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			h.logger.Error("load item", slog.Int64("id", id), slog.Any("error", err))
		}
		h.flashRedirect(w, r, "danger", "Item not found.")
		return
	}
	h.render(w, r, http.StatusOK, "pages/item_form.html", "Edit item", map[string]any{
		"Action": fmt.Sprintf("/update/%d", item.ID),
		"Item":   item,
	})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(r)
	if !ok {
		h.flashRedirect(w, r, "danger", "Item not found.")
		return
	}
	action := fmt.Sprintf("/update/%d", id)
	in, upload, err := parseItemForm(r)
	if err != nil {
		h.formError(w, r, "Edit item", action, nil, err)
		return
	}
	defer upload.Close()
	if _, err := h.service.Update(r.Context(), id, in, upload); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			h.flashRedirect(w, r, "danger", "Item not found.")
			return
		}
		draft := &Item{ID: id, Name: in.Name, Price: in.Price, Quantity: in.Quantity, Image: r.PostFormValue("old_image")}
		h.formError(w, r, "Edit item", action, draft, err)
		return
	}
	h.flashRedirect(w, r, "success", "Item updated successfully!")
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(r)
	if !ok {
		h.flashRedirect(w, r, "danger", "Item not found.")
		return
	}
	if _, err := h.service.Delete(r.Context(), id); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			h.flashRedirect(w, r, "danger", "Item not found.")
			return
		}
		h.logger.Error("delete item", slog.Int64("id", id), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.flashRedirect(w, r, "info", "Item deleted successfully!")
}

func (h *Handler) formError(w http.ResponseWriter, r *http.Request, title, action string, draft *Item, err error) {
	status := http.StatusBadRequest
	msg := strings.TrimPrefix(err.Error(), shared.ErrValidation.Error()+": ")
	if !errors.Is(err, shared.ErrValidation) {
		h.logger.Error("save item", slog.Any("error", err))
		status = http.StatusInternalServerError
		msg = "Could not save the item. Please try again."
	}
	data := map[string]any{
		"Action": action,
		"Errors": map[string]string{"general": msg},
	}
	if draft != nil {
		data["Item"] = draft
	}
	h.render(w, r, status, "pages/item_form.html", title, data)
}

func (h *Handler) flashRedirect(w http.ResponseWriter, r *http.Request, kind, msg string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: msg})
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, page, title string, data map[string]any) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, err := h.csrfManager.EnsureToken(r.Context(), sess)
	if err != nil {
		h.logger.Warn("csrf token", slog.Any("error", err))
	}
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		User:        sess.User(),
		Data:        data,
	}
	if err := h.templates.RenderStatus(w, status, page, viewData); err != nil {
		h.logger.Error("render page", slog.String("page", page), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func itemID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// parseItemForm reads name, price, quantity and the optional image file from
// a multipart or urlencoded body.
func parseItemForm(r *http.Request) (Input, *Upload, error) {
	var in Input
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
			return in, nil, fmt.Errorf("%w: malformed form", shared.ErrValidation)
		}
	} else if err := r.ParseForm(); err != nil {
		return in, nil, fmt.Errorf("%w: malformed form", shared.ErrValidation)
	}
	in.Name = r.PostFormValue("name")
	in.Price = r.PostFormValue("price")
	if raw := strings.TrimSpace(r.PostFormValue("quantity")); raw != "" {
		qty, err := strconv.Atoi(raw)
		if err != nil {
			return in, nil, fmt.Errorf("%w: quantity must be a whole number", shared.ErrValidation)
		}
		in.Quantity = qty
	}
	upload, err := formUpload(r)
	if err != nil {
		return in, nil, err
	}
	return in, upload, nil
}

func formUpload(r *http.Request) (*Upload, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: unreadable image", shared.ErrValidation)
	}
	if header.Size == 0 {
		_ = file.Close()
		return nil, nil
	}
	return &Upload{Filename: header.Filename, Size: header.Size, Body: file}, nil
}
