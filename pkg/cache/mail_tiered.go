package cache

import (
	"context"
	"time"
)

// Store is the byte-cache contract shared by LRU, RedisCache and Tiered.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Tiered reads through a local LRU before falling back to a shared store.
// Redis failures degrade to L1-only behaviour instead of failing the request.
type Tiered struct {
	l1      *LRU
	l2      Store
	onError func(op string, err error)
}

// NewTiered combines l1 and l2. onError, if set, receives L2 failures.
func NewTiered(l1 *LRU, l2 Store, onError func(op string, err error)) *Tiered {
	if onError == nil {
		onError = func(string, error) {}
	}
	return &Tiered{l1: l1, l2: l2, onError: onError}
}

func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok, _ := t.l1.Get(ctx, key); ok {
		return v, true, nil
	}
	v, ttl, ok, err := t.getL2(ctx, key)
	if err != nil {
		t.onError("get", err)
		return nil, false, nil
	}
	if ok {
		// L1 copies never outlive the L2 entry. A zero ttl means the
		// lifetime is unknown and L1's default applies.
		_ = t.l1.Set(ctx, key, v, ttl)
	}
	return v, ok, nil
}

// ttlStore is implemented by stores that can report remaining lifetimes.
type ttlStore interface {
	GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool, error)
}

func (t *Tiered) getL2(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	if ts, ok := t.l2.(ttlStore); ok {
		return ts.GetWithTTL(ctx, key)
	}
	v, ok, err := t.l2.Get(ctx, key)
	return v, 0, ok, err
}

func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_ = t.l1.Set(ctx, key, value, ttl)
	if err := t.l2.Set(ctx, key, value, ttl); err != nil {
		t.onError("set", err)
	}
	return nil
}

func (t *Tiered) Delete(ctx context.Context, key string) error {
	_ = t.l1.Delete(ctx, key)
	if err := t.l2.Delete(ctx, key); err != nil {
		t.onError("delete", err)
	}
	return nil
}

func (t *Tiered) DeletePrefix(ctx context.Context, prefix string) error {
	_ = t.l1.DeletePrefix(ctx, prefix)
	if err := t.l2.DeletePrefix(ctx, prefix); err != nil {
		t.onError("delete_prefix", err)
	}
	return nil
}
