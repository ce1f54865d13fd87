package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/stockroom-app/stockroom/internal/shared"
)

// maxPasswordBytes is the bcrypt input limit. The validator's max tag counts
// runes, so multibyte passwords are checked separately.
const maxPasswordBytes = 72

// Service wraps authentication business rules.
type Service struct {
	repo      Repository
	hasher    *Hasher
	tokens    *TokenIssuer
	validator *validator.Validate
	audit     shared.AuditRecorder
	logger    *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, hasher *Hasher, tokens *TokenIssuer) *Service {
	if hasher == nil {
		hasher = NewHasher(DefaultCost)
	}
	return &Service{repo: repo, hasher: hasher, tokens: tokens, validator: validator.New(), logger: slog.Default()}
}

// WithAudit records registrations and successful logins to rec. Audit
// failures are logged and never fail the request.
func (s *Service) WithAudit(rec shared.AuditRecorder, logger *slog.Logger) *Service {
	s.audit = rec
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *Service) record(ctx context.Context, action string, user *User) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{
		ActorID:  user.ID,
		Action:   action,
		Entity:   "user",
		EntityID: user.ID,
		Meta:     map[string]any{"email": user.Email},
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit", slog.String("action", action), slog.Any("error", err))
	}
}

// Register validates input, rejects an email already on file and stores the
// user with a freshly hashed password. It does not authenticate the caller.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	if err := s.validator.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %s", shared.ErrValidation, describeValidation(err))
	}
	if len(in.Password) > maxPasswordBytes {
		return nil, fmt.Errorf("%w: password must be at most %d bytes", shared.ErrValidation, maxPasswordBytes)
	}

	if _, err := s.repo.FindByEmail(ctx, in.Email); err == nil {
		return nil, shared.ErrDuplicateIdentity
	} else if !errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("auth: lookup email: %w", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	user, err := s.repo.Create(ctx, in.Name, in.Email, hash)
	if err != nil {
		if errors.Is(err, shared.ErrDuplicateIdentity) || errors.Is(err, shared.ErrValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("auth: create user: %w", err)
	}
	s.record(ctx, "user.register", user)
	return user, nil
}

// Authenticate validates email/password credentials. Missing fields fail with
// shared.ErrValidation before any lookup; an unknown email fails with
// shared.ErrNotFound and a wrong password with shared.ErrCredentialMismatch.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", shared.ErrValidation)
	}
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("auth: lookup email: %w", err)
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, shared.ErrCredentialMismatch
	}
	s.record(ctx, "user.login", user)
	return user, nil
}

// IssueToken signs an access token for an already authenticated user.
func (s *Service) IssueToken(user *User) (string, time.Time, error) {
	if s.tokens == nil {
		return "", time.Time{}, errors.New("auth: token issuer not configured")
	}
	return s.tokens.Issue(user)
}

// UserByID loads a user by id.
func (s *Service) UserByID(ctx context.Context, id string) (*User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("auth: lookup id: %w", err)
	}
	return user, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+" "+fe.Tag())
	}
	return strings.Join(parts, ", ")
}
