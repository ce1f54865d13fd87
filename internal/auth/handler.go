package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/stockroom-app/stockroom/internal/observability"
	"github.com/stockroom-app/stockroom/internal/shared"
	"github.com/stockroom-app/stockroom/internal/view"
)

// Page messages shown by the session flow.
const (
	msgCredentialsRequired = "Email and password are required."
	msgEmailNotFound       = "Email not found."
	msgIncorrectPassword   = "Incorrect password."
	msgUserExists          = "User already exists."
	msgSignupInvalid       = "Name, a valid email and a password are required."
	msgLogoutFailed        = "Logout failed."
	msgSomethingWrong      = "Something went wrong. Please try again."
)

// Handler wires the session (page) authentication flow.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	templates      *view.Engine
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	metrics        *observability.Metrics
	guard          *Guard
}

// NewHandler constructs a Handler instance. guard protects /home and /logout.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager, metrics *observability.Metrics, guard *Guard) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if guard == nil {
		guard = NewSessionGuard("/login", logger)
	}
	return &Handler{
		logger:         logger,
		service:        service,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		metrics:        metrics,
		guard:          guard,
	}
}

// MountRoutes registers page auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/login", h.handleLogin)
	r.Get("/signup", h.showSignup)
	r.Post("/signup", h.handleSignup)
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Require)
		r.Get("/logout", h.handleLogout)
		r.Post("/logout", h.handleLogout)
		r.Get("/home", h.showHome)
	})
}

type loginForm struct {
	Email string
}

type signupForm struct {
	Name  string
	Email string
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "pages/login.html", "Log in", map[string]any{"Form": loginForm{}})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := loginForm{Email: strings.TrimSpace(r.PostFormValue("email"))}
	password := r.PostFormValue("password")

	user, err := h.service.Authenticate(r.Context(), form.Email, password)
	if err != nil {
		status, msg, outcome := loginFailure(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("login lookup", slog.Any("error", err))
		}
		h.metrics.ObserveAuth("session", "login", outcome)
		h.render(w, r, status, "pages/login.html", "Log in", map[string]any{
			"Form":   form,
			"Errors": map[string]string{"general": msg},
		})
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if err := h.sessionManager.Renew(r.Context(), sess); err != nil {
		h.logger.Warn("renew session", slog.Any("error", err))
	}
	sess.SetUser(shared.SessionUser{ID: user.ID, Name: user.Name, Email: user.Email})
	sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Welcome back, " + user.Name + "."})
	h.metrics.ObserveAuth("session", "login", "success")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) showSignup(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "pages/signup.html", "Sign up", map[string]any{"Form": signupForm{}})
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	in := RegisterInput{
		Name:     r.PostFormValue("name"),
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}
	if _, err := h.service.Register(r.Context(), in); err != nil {
		status, msg, outcome := registerFailure(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("signup", slog.Any("error", err))
		}
		h.metrics.ObserveAuth("session", "register", outcome)
		h.render(w, r, status, "pages/signup.html", "Sign up", map[string]any{
			"Form":   signupForm{Name: in.Name, Email: in.Email},
			"Errors": map[string]string{"general": msg},
		})
		return
	}
	h.metrics.ObserveAuth("session", "register", "success")
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Registration successful. Please log in."})
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if err := h.sessionManager.Destroy(r.Context(), sess); err != nil {
		h.logger.Error("logout", slog.Any("error", err))
		h.metrics.ObserveAuth("session", "logout", "error")
		http.Error(w, msgLogoutFailed, http.StatusInternalServerError)
		return
	}
	h.metrics.ObserveAuth("session", "logout", "success")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handler) showHome(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "pages/home.html", "Home", map[string]any{})
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

// loginFailure maps an Authenticate error to status, message and metric outcome.
func loginFailure(err error) (int, string, string) {
	switch {
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest, msgCredentialsRequired, "invalid"
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, msgEmailNotFound, "not_found"
	case errors.Is(err, shared.ErrCredentialMismatch):
		return http.StatusUnauthorized, msgIncorrectPassword, "mismatch"
	default:
		return http.StatusInternalServerError, msgSomethingWrong, "error"
	}
}

func registerFailure(err error) (int, string, string) {
	switch {
	case errors.Is(err, shared.ErrDuplicateIdentity):
		return http.StatusBadRequest, msgUserExists, "duplicate"
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest, msgSignupInvalid, "invalid"
	default:
		return http.StatusInternalServerError, msgSomethingWrong, "error"
	}
}
