package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/stockroom-app/stockroom/internal/platform/httpx"
	"github.com/stockroom-app/stockroom/internal/shared"
)

// RejectFunc writes the response for a request that failed authentication.
type RejectFunc func(w http.ResponseWriter, r *http.Request, err error)

// Guard gates handlers behind an Authenticator. The rejection policy is
// chosen per route group: pages redirect, the API answers with status codes.
type Guard struct {
	authenticator Authenticator
	reject        RejectFunc
	logger        *slog.Logger
}

// NewGuard constructs a Guard.
func NewGuard(authenticator Authenticator, reject RejectFunc, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{authenticator: authenticator, reject: reject, logger: logger}
}

// NewSessionGuard guards page routes, redirecting anonymous visitors to loginPath.
func NewSessionGuard(loginPath string, logger *slog.Logger) *Guard {
	return NewGuard(NewSessionAuthenticator(), RedirectTo(loginPath), logger)
}

// NewTokenGuard guards API routes with bearer tokens and JSON rejections.
func NewTokenGuard(tokens *TokenIssuer, logger *slog.Logger) *Guard {
	return NewGuard(NewTokenAuthenticator(tokens), JSONReject, logger)
}

// Require is chi-compatible middleware. The wrapped handler runs only when
// the authenticator yields a principal.
func (g *Guard) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := g.authenticator.Authenticate(r)
		if err != nil {
			if errors.Is(err, shared.ErrTokenExpired) {
				g.logger.Debug("expired token rejected", slog.String("path", r.URL.Path))
			}
			g.reject(w, r, err)
			return
		}
		ctx := ContextWithPrincipal(r.Context(), principal)
		ctx = shared.ContextWithActor(ctx, principal.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RedirectTo rejects with a 303 redirect to path.
func RedirectTo(path string) RejectFunc {
	return func(w http.ResponseWriter, r *http.Request, _ error) {
		http.Redirect(w, r, path, http.StatusSeeOther)
	}
}

// JSONReject answers 403 when no token was presented and 401 otherwise.
func JSONReject(w http.ResponseWriter, _ *http.Request, err error) {
	switch {
	case errors.Is(err, shared.ErrTokenMissing):
		httpx.Message(w, http.StatusForbidden, "Access denied. No token provided.")
	case errors.Is(err, shared.ErrTokenInvalid):
		httpx.Message(w, http.StatusUnauthorized, "Invalid token.")
	default:
		httpx.Message(w, http.StatusUnauthorized, "Authentication required.")
	}
}
