package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stockroom-app/stockroom/internal/observability"
	"github.com/stockroom-app/stockroom/internal/platform/httpx"
	"github.com/stockroom-app/stockroom/internal/shared"
)

// APIHandler wires the token (JSON) authentication flow.
type APIHandler struct {
	logger  *slog.Logger
	service *Service
	guard   *Guard
	metrics *observability.Metrics
	secure  bool
}

// NewAPIHandler constructs an APIHandler. guard protects /auth/dashboard;
// secure marks the token cookie Secure.
func NewAPIHandler(logger *slog.Logger, service *Service, guard *Guard, metrics *observability.Metrics, secure bool) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandler{logger: logger, service: service, guard: guard, metrics: metrics, secure: secure}
}

// MountRoutes registers /auth/* and the /api/register, /api/login aliases.
func (h *APIHandler) MountRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Get("/logout", h.logout)
		r.Post("/logout", h.logout)
		r.With(h.guard.Require).Get("/dashboard", h.dashboard)
	})
	r.Post("/api/register", h.register)
	r.Post("/api/login", h.login)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserView is the public projection of a User.
type UserView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type loginResponse struct {
	Message   string    `json:"message"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type dashboardResponse struct {
	Message string   `json:"message"`
	User    UserView `json:"user"`
}

func viewOf(u *User) UserView {
	return UserView{ID: u.ID, Name: u.Name, Email: u.Email, CreatedAt: u.CreatedAt}
}

func (h *APIHandler) register(w http.ResponseWriter, r *http.Request) {
	var in RegisterInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.metrics.ObserveAuth("token", "register", "invalid")
		httpx.Message(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	user, err := h.service.Register(r.Context(), in)
	if err != nil {
		status, msg, outcome := registerFailure(err)
		h.metrics.ObserveAuth("token", "register", outcome)
		if status == http.StatusInternalServerError {
			h.logger.Error("api register", slog.Any("error", err))
			httpx.Message(w, status, "Error registering user.")
			return
		}
		httpx.Message(w, status, msg)
		return
	}
	h.metrics.ObserveAuth("token", "register", "success")
	httpx.Data(w, http.StatusCreated, "User registered successfully.", viewOf(user))
}

func (h *APIHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.metrics.ObserveAuth("token", "login", "invalid")
		httpx.Message(w, http.StatusBadRequest, msgCredentialsRequired)
		return
	}
	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		status, msg, outcome := loginFailure(err)
		h.metrics.ObserveAuth("token", "login", outcome)
		if status == http.StatusInternalServerError {
			h.logger.Error("api login", slog.Any("error", err))
		}
		httpx.Message(w, status, msg)
		return
	}
	token, expiresAt, err := h.service.IssueToken(user)
	if err != nil {
		h.logger.Error("issue token", slog.Any("error", err))
		h.metrics.ObserveAuth("token", "login", "error")
		httpx.Message(w, http.StatusInternalServerError, msgSomethingWrong)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookie,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	h.metrics.ObserveAuth("token", "login", "success")
	httpx.JSON(w, http.StatusOK, loginResponse{Message: "Login successful.", Token: token, ExpiresAt: expiresAt})
}

func (h *APIHandler) dashboard(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromContext(r.Context())
	if principal == nil {
		httpx.Message(w, http.StatusUnauthorized, "Authentication required.")
		return
	}
	user, err := h.service.UserByID(r.Context(), principal.UserID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Message(w, http.StatusNotFound, "User not found.")
			return
		}
		h.logger.Error("dashboard lookup", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, dashboardResponse{Message: "Welcome, " + user.Name + ".", User: viewOf(user)})
}

func (h *APIHandler) logout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	httpx.Message(w, http.StatusOK, "Logged out successfully.")
}
