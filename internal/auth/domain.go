package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User represents a registered account. Users are never updated or deleted.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// RegisterInput carries the fields submitted on registration.
type RegisterInput struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

// Claims is the decoded payload of an access token.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// Method names the mechanism that authenticated a request.
type Method string

const (
	// MethodSession marks a principal resolved from a server-side session.
	MethodSession Method = "session"
	// MethodToken marks a principal resolved from a signed token.
	MethodToken Method = "token"
)

// Principal is the authenticated identity attached to a request context.
type Principal struct {
	UserID string
	Name   string
	Email  string
	Method Method
	Claims *Claims
}
