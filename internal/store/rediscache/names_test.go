package rediscache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeLookup struct {
	existsFn      func(ctx context.Context, personID string) (bool, error)
	displayNameFn func(ctx context.Context, personID string) (string, error)
}

func (f *fakeLookup) Exists(ctx context.Context, personID string) (bool, error) {
	if f.existsFn == nil {
		panic("Exists not configured")
	}
	return f.existsFn(ctx, personID)
}

func (f *fakeLookup) DisplayName(ctx context.Context, personID string) (string, error) {
	if f.displayNameFn == nil {
		panic("DisplayName not configured")
	}
	return f.displayNameFn(ctx, personID)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNameCache_FallsBackWhenRedisIsDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	var logs bytes.Buffer
	calls := 0
	cache := NewNameCache(rdb, &fakeLookup{
		displayNameFn: func(ctx context.Context, personID string) (string, error) {
			calls++
			return "Ada", nil
		},
		existsFn: func(ctx context.Context, personID string) (bool, error) { return true, nil },
	}, time.Minute, slog.New(slog.NewJSONHandler(&logs, nil)))

	name, err := cache.DisplayName(context.Background(), "s1")
	if err != nil {
		t.Fatalf("DisplayName error: %v", err)
	}
	if name != "Ada" || calls != 1 {
		t.Fatalf("name = %q calls = %d", name, calls)
	}

	ok, err := cache.Exists(context.Background(), "s1")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}

	var rec map[string]any
	line, _, _ := strings.Cut(logs.String(), "\n")
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("decode log %q: %v", logs.String(), err)
	}
	if rec["msg"] != "redis get failed" || rec["component"] != "rediscache.names" || rec["person_id"] != "s1" {
		t.Fatalf("log record = %v", rec)
	}
	if e, _ := rec["err"].(string); e == "" {
		t.Fatalf("log record has no err attribute: %v", rec)
	}
}

func TestNameCacheIntegration(t *testing.T) {
	url := strings.TrimSpace(os.Getenv("TRAINING_TEST_REDIS_URL"))
	if url == "" {
		t.Skip("TRAINING_TEST_REDIS_URL not set")
	}
	rdb, err := NewClient(url)
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	calls := 0
	missing := errors.New("not found")
	cache := NewNameCache(rdb, &fakeLookup{
		displayNameFn: func(ctx context.Context, personID string) (string, error) {
			calls++
			if personID == "ghost" {
				return "", missing
			}
			return "Coach " + personID, nil
		},
	}, time.Minute, quietLogger())
	cache.prefix = "trainingcenter:test:" + time.Now().Format("150405.000000") + ":"

	for i := 0; i < 3; i++ {
		name, err := cache.DisplayName(ctx, "i1")
		if err != nil {
			t.Fatalf("DisplayName error: %v", err)
		}
		if name != "Coach i1" {
			t.Fatalf("name = %q", name)
		}
	}
	if calls != 1 {
		t.Fatalf("directory calls = %d, want 1", calls)
	}

	for i := 0; i < 2; i++ {
		if _, err := cache.DisplayName(ctx, "ghost"); !errors.Is(err, missing) {
			t.Fatalf("err = %v, want lookup error", err)
		}
	}
	if calls != 3 {
		t.Fatalf("directory calls = %d, want 3 (errors are not cached)", calls)
	}

	if err := rdb.Del(ctx, cache.key("i1")).Err(); err != nil {
		t.Fatalf("Del error: %v", err)
	}
	if _, err := cache.DisplayName(ctx, "i1"); err != nil {
		t.Fatalf("DisplayName error: %v", err)
	}
	if calls != 4 {
		t.Fatalf("directory calls = %d, want 4 after the entry expired", calls)
	}
	_ = rdb.Del(ctx, cache.key("i1")).Err()
}
