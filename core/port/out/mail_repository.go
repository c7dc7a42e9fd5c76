package out

import (
	"context"
	"errors"
	"time"

	"mailflow_server/core/domain"
)

// ErrTokenNotFound is returned when no credential has been stored yet.
var ErrTokenNotFound = errors.New("token not found")

// TokenRepository persists the single user's Gmail credential.
type TokenRepository interface {
	// Save updates the existing row or inserts one. An empty refresh
	// token keeps the stored value.
	Save(ctx context.Context, token *domain.Token) (*domain.Token, error)
	Get(ctx context.Context) (*domain.Token, error)
	GetByEmail(ctx context.Context, email string) (*domain.Token, error)
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
}

// StateStore holds OAuth state values between login and callback.
type StateStore interface {
	Save(ctx context.Context, state string, ttl time.Duration) error
	// Consume reports whether state was present and removes it.
	Consume(ctx context.Context, state string) (bool, error)
}

// Cache is a byte cache with per-entry TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
}
