package auth_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/stockroom-app/stockroom/internal/auth"
	"github.com/stockroom-app/stockroom/internal/shared"
)

func newService(t *testing.T) (*auth.Service, *auth.MemoryRepository) {
	t.Helper()
	repo := auth.NewMemoryRepository()
	svc := auth.NewService(repo, auth.NewHasher(bcrypt.MinCost), auth.NewTokenIssuer("jwt-secret", time.Hour))
	return svc, repo
}

func TestRegisterStoresHashedPassword(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, auth.RegisterInput{Name: "Alice", Email: " Alice@Example.com ", Password: "secret"})
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice@example.com", user.Email)

	stored, err := repo.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Alice", stored.Name)
	assert.NotEqual(t, "secret", stored.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("secret")))
}

func TestRegisterValidation(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()

	for name, in := range map[string]auth.RegisterInput{
		"missing name":           {Email: "a@example.com", Password: "secret"},
		"missing email":          {Name: "A", Password: "secret"},
		"invalid email":          {Name: "A", Email: "not-an-email", Password: "secret"},
		"missing password":       {Name: "A", Email: "a@example.com"},
		"password over 72 bytes": {Name: "A", Email: "a@example.com", Password: strings.Repeat("é", 40)},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Register(ctx, in)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
	assert.Zero(t, repo.Count())
}

func TestRegisterDuplicate(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, auth.RegisterInput{Name: "Alice", Email: "alice@example.com", Password: "secret"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, auth.RegisterInput{Name: "Other", Email: "ALICE@example.com", Password: "other"})
	require.ErrorIs(t, err, shared.ErrDuplicateIdentity)
	assert.Equal(t, 1, repo.Count())
}

func TestRegisterConcurrentDuplicates(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()

	var ok, dup atomic.Int32
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			_, err := svc.Register(ctx, auth.RegisterInput{Name: "Alice", Email: "alice@example.com", Password: "secret"})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, shared.ErrDuplicateIdentity):
				dup.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(15), dup.Load())
	assert.Equal(t, 1, repo.Count())
}

func TestAuthenticateOutcomes(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, auth.RegisterInput{Name: "Alice", Email: "alice@example.com", Password: "secret"})
	require.NoError(t, err)

	user, err := svc.Authenticate(ctx, "alice@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Name)

	_, err = svc.Authenticate(ctx, "alice@example.com", "wrong")
	assert.ErrorIs(t, err, shared.ErrCredentialMismatch)

	_, err = svc.Authenticate(ctx, "nobody@example.com", "secret")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Authenticate(ctx, "", "secret")
	assert.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Authenticate(ctx, "alice@example.com", "")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestIssueTokenForAuthenticatedUser(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, auth.RegisterInput{Name: "Alice", Email: "alice@example.com", Password: "secret"})
	require.NoError(t, err)

	token, _, err := svc.IssueToken(registered)
	require.NoError(t, err)

	claims, err := auth.NewTokenIssuer("jwt-secret", time.Hour).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, claims.Subject)

	found, err := svc.UserByID(ctx, claims.Subject)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", found.Email)

	_, err = svc.UserByID(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

type failingRepo struct {
	auth.Repository
}

func (failingRepo) FindByEmail(context.Context, string) (*auth.User, error) {
	return nil, errors.New("connection refused")
}

func TestStoreFailureIsWrapped(t *testing.T) {
	svc := auth.NewService(failingRepo{Repository: auth.NewMemoryRepository()}, auth.NewHasher(bcrypt.MinCost), nil)
	ctx := context.Background()

	_, err := svc.Authenticate(ctx, "alice@example.com", "secret")
	require.Error(t, err)
	assert.NotErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Register(ctx, auth.RegisterInput{Name: "Alice", Email: "alice@example.com", Password: "secret"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, shared.ErrDuplicateIdentity)

	_, _, err = svc.IssueToken(&auth.User{ID: "x"})
	assert.Error(t, err)
}

func TestRegisterAndLoginAreAudited(t *testing.T) {
	audit := shared.NewMemoryAuditLog()
	svc := auth.NewService(auth.NewMemoryRepository(), auth.NewHasher(bcrypt.MinCost), nil).WithAudit(audit, nil)
	ctx := context.Background()

	user, err := svc.Register(ctx, auth.RegisterInput{Name: "Alice", Email: "alice@example.com", Password: "secret"})
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, "alice@example.com", "wrong")
	require.ErrorIs(t, err, shared.ErrCredentialMismatch)
	_, err = svc.Authenticate(ctx, "alice@example.com", "secret")
	require.NoError(t, err)

	entries := audit.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "user.register", entries[0].Action)
	assert.Equal(t, "user.login", entries[1].Action)
	for _, e := range entries {
		assert.Equal(t, user.ID, e.ActorID)
		assert.Equal(t, user.ID, e.EntityID)
		assert.NotContains(t, e.Meta, "password")
	}
}
