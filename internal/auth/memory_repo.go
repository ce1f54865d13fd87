package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stockroom-app/stockroom/internal/shared"
)

// MemoryRepository is a Repository held in process memory. The uniqueness
// check and insert happen under one lock, so concurrent registrations for the
// same email yield exactly one success.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*User), byEmail: make(map[string]string)}
}

// FindByEmail fetches a user by email.
func (r *MemoryRepository) FindByEmail(_ context.Context, email string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, shared.ErrNotFound
	}
	u := *r.byID[id]
	return &u, nil
}

// FindByID fetches a user by id.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.byID[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	u := *user
	return &u, nil
}

// Create inserts a new user.
func (r *MemoryRepository) Create(_ context.Context, name, email, passwordHash string) (*User, error) {
	if passwordHash == "" {
		return nil, fmt.Errorf("%w: password hash required", shared.ErrValidation)
	}
	email = normalizeEmail(email)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEmail[email]; exists {
		return nil, shared.ErrDuplicateIdentity
	}
	user := &User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	r.byID[user.ID] = user
	r.byEmail[email] = user.ID
	u := *user
	return &u, nil
}

// Count returns the number of stored users.
func (r *MemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

var _ Repository = (*MemoryRepository)(nil)
