package persistence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"mailflow_server/core/port/out"
)

func exerciseStateStore(t *testing.T, store out.StateStore) {
	t.Helper()
	ctx := context.Background()

	if err := store.Save(ctx, "", time.Minute); err == nil {
		t.Error("Save(\"\") should fail")
	}
	if err := store.Save(ctx, "abc", time.Minute); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	ok, err := store.Consume(ctx, "abc")
	if err != nil || !ok {
		t.Fatalf("Consume() = %v, %v, want true", ok, err)
	}
	ok, err = store.Consume(ctx, "abc")
	if err != nil || ok {
		t.Errorf("second Consume() = %v, %v, want false", ok, err)
	}
	ok, err = store.Consume(ctx, "never-saved")
	if err != nil || ok {
		t.Errorf("Consume(unknown) = %v, %v, want false", ok, err)
	}
}

func TestMemoryStateStore(t *testing.T) {
	exerciseStateStore(t, NewMemoryStateStore())
}

func TestMemoryStateStore_Expiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStateStore()
	store.now = func() time.Time { return now }

	ctx := context.Background()
	if err := store.Save(ctx, "old", time.Minute); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	now = now.Add(2 * time.Minute)

	if ok, _ := store.Consume(ctx, "old"); ok {
		t.Error("expired state should not be accepted")
	}

	_ = store.Save(ctx, "a", time.Minute)
	_ = store.Save(ctx, "b", time.Minute)
	now = now.Add(time.Hour)
	_ = store.Save(ctx, "c", time.Minute)
	if n := len(store.states); n != 1 {
		t.Errorf("len(states) = %d, want 1 after sweeping expired entries", n)
	}
}

// Set REDIS_TEST_URL to run against a live server.
func TestRedisStateStore(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("ParseURL() error = %v", err)
	}
	client := redis.NewClient(opt)
	defer client.Close()

	exerciseStateStore(t, NewRedisStateStore(client))
}
