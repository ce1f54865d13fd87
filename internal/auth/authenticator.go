package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/stockroom-app/stockroom/internal/shared"
)

// TokenCookie is the cookie carrying an access token for browser clients.
const TokenCookie = "token"

// Authenticator resolves the Principal behind a request.
type Authenticator interface {
	Authenticate(r *http.Request) (*Principal, error)
}

// SessionAuthenticator authenticates requests from the server-side session
// attached to the request context by the session middleware.
type SessionAuthenticator struct{}

// NewSessionAuthenticator constructs a SessionAuthenticator.
func NewSessionAuthenticator() *SessionAuthenticator {
	return &SessionAuthenticator{}
}

// Authenticate returns shared.ErrUnauthenticated for anonymous sessions.
func (SessionAuthenticator) Authenticate(r *http.Request) (*Principal, error) {
	sess := shared.SessionFromContext(r.Context())
	if !sess.Authenticated() {
		return nil, shared.ErrUnauthenticated
	}
	user := sess.User()
	return &Principal{UserID: user.ID, Name: user.Name, Email: user.Email, Method: MethodSession}, nil
}

// TokenAuthenticator authenticates requests carrying a signed access token
// in the Authorization header or the token cookie.
type TokenAuthenticator struct {
	tokens *TokenIssuer
}

// NewTokenAuthenticator constructs a TokenAuthenticator.
func NewTokenAuthenticator(tokens *TokenIssuer) *TokenAuthenticator {
	return &TokenAuthenticator{tokens: tokens}
}

// Authenticate returns shared.ErrTokenMissing when no token is presented and
// shared.ErrTokenInvalid (or ErrTokenExpired) when verification fails.
func (a *TokenAuthenticator) Authenticate(r *http.Request) (*Principal, error) {
	raw := ExtractToken(r)
	if raw == "" {
		return nil, shared.ErrTokenMissing
	}
	claims, err := a.tokens.Verify(raw)
	if err != nil {
		return nil, err
	}
	return &Principal{UserID: claims.Subject, Email: claims.Email, Method: MethodToken, Claims: claims}, nil
}

// ExtractToken reads "Authorization: Bearer <token>", a bare Authorization
// value, or the token cookie, in that order. Other Authorization schemes fall
// through to the cookie.
func ExtractToken(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		scheme, rest, found := strings.Cut(header, " ")
		if !found {
			return header
		}
		if strings.EqualFold(scheme, "Bearer") {
			if token := strings.TrimSpace(rest); token != "" {
				return token
			}
		}
	}
	if cookie, err := r.Cookie(TokenCookie); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal placed by a Guard.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}

var (
	_ Authenticator = SessionAuthenticator{}
	_ Authenticator = (*TokenAuthenticator)(nil)
)
