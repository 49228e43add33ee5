package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

type post struct {
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

func newTestCache(t *testing.T) (*ReadThrough[post], *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewReadThrough[post](rdb, "blog:test", time.Minute), mr
}

func TestGetLoadsOnceAndServesFromCache(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	calls := 0
	load := func(context.Context) (post, error) {
		calls++
		return post{Slug: "gold-18k", Title: "طلای ۱۸ عیار"}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := c.Get(ctx, "gold-18k", load)
		if err != nil {
			t.Fatalf("Get returned error: %v", err)
		}
		if got.Title != "طلای ۱۸ عیار" {
			t.Fatalf("unexpected value: %+v", got)
		}
	}
	if calls != 1 {
		t.Fatalf("expected loader to run once, ran %d times", calls)
	}
}

func TestNotFoundIsPropagatedAndNotCached(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	calls := 0
	load := func(context.Context) (post, error) {
		calls++
		return post{}, ErrNotFound
	}

	for i := 0; i < 2; i++ {
		if _, err := c.Get(ctx, "missing", load); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected not-found results to bypass the cache, loader ran %d times", calls)
	}
	if mr.Exists("blog:test:missing") {
		t.Fatal("expected no cache entry for a missing key")
	}
}

func TestEntriesExpireAfterTTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	calls := 0
	load := func(context.Context) (post, error) {
		calls++
		return post{Slug: "a"}, nil
	}

	if _, err := c.Get(ctx, "a", load); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := c.Get(ctx, "a", load); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected reload after TTL, loader ran %d times", calls)
	}
}

func TestInvalidateAllForcesReloadAndNotifies(t *testing.T) {
	c, _ := newTestCache(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, unsubscribe, err := c.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	defer unsubscribe()

	calls := 0
	load := func(context.Context) (post, error) {
		calls++
		return post{Slug: "a"}, nil
	}
	if _, err := c.Get(ctx, "a", load); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate returned error: %v", err)
	}

	select {
	case got := <-events:
		if got != PurgeAll {
			t.Fatalf("expected %q notification, got %q", PurgeAll, got)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for invalidation notification")
	}

	if _, err := c.Get(ctx, "a", load); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected reload after invalidation, loader ran %d times", calls)
	}
}

// 频道名只是 Pub/Sub 名称，不占用键空间，键名恰好叫 events 的条目也要被清掉。
func TestInvalidateAllPurgesKeyNamedEvents(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	calls := 0
	load := func(context.Context) (post, error) {
		calls++
		return post{Slug: "events"}, nil
	}

	if _, err := c.Get(ctx, "events", load); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !mr.Exists("blog:test:events") {
		t.Fatal("expected cache entry for key events")
	}
	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate returned error: %v", err)
	}
	if mr.Exists("blog:test:events") {
		t.Fatal("expected key events to be purged")
	}
	if _, err := c.Get(ctx, "events", load); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected reload after purge, loader ran %d times", calls)
	}
}

func TestRefreshOverwritesAndNotifiesKey(t *testing.T) {
	c, _ := newTestCache(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, unsubscribe, err := c.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	defer unsubscribe()

	title := "v1"
	load := func(context.Context) (post, error) { return post{Slug: "a", Title: title}, nil }
	if _, err := c.Get(ctx, "a", load); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}

	title = "v2"
	if _, err := c.Refresh(ctx, "a", load); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	select {
	case got := <-events:
		if got != "a" {
			t.Fatalf("expected notification for key a, got %q", got)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for refresh notification")
	}

	got, err := c.Get(ctx, "a", func(context.Context) (post, error) {
		t.Fatal("loader must not run after refresh")
		return post{}, nil
	})
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Title != "v2" {
		t.Fatalf("expected refreshed value, got %+v", got)
	}
}
