package credcache

import (
	"testing"
	"time"

	"clipstream/presence/internal/identity"
)

func TestLookupWithinTTL(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	cache := New(5*time.Minute, WithClock(func() time.Time { return now }))

	cache.Store("tok-1", identity.Identity{UsersID: 9, UserName: "carol"})

	now = now.Add(4 * time.Minute)
	ident, ok := cache.Lookup("tok-1")
	if !ok {
		t.Fatal("expected cache hit within TTL")
	}
	if ident.UsersID != 9 || ident.UserName != "carol" {
		t.Fatalf("unexpected identity: %+v", ident)
	}
}

func TestLookupAfterTTLExpires(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	cache := New(5*time.Minute, WithClock(func() time.Time { return now }))

	cache.Store("tok-1", identity.Identity{UsersID: 9})

	now = now.Add(5*time.Minute + time.Second)
	if _, ok := cache.Lookup("tok-1"); ok {
		t.Fatal("expected cache miss after TTL")
	}
	if cache.Len() != 0 {
		t.Fatalf("expected expired entry to be purged, have %d", cache.Len())
	}
}

func TestStorePurgesStaleEntries(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	cache := New(time.Minute, WithClock(func() time.Time { return now }))

	cache.Store("stale", identity.Identity{UsersID: 1})
	now = now.Add(2 * time.Minute)
	cache.Store("fresh", identity.Identity{UsersID: 2})

	if cache.Len() != 1 {
		t.Fatalf("expected only the fresh entry, have %d", cache.Len())
	}
	if _, ok := cache.Lookup("stale"); ok {
		t.Fatal("stale entry survived a Store call")
	}
}

func TestStoreOverwritesRefreshesTimestamp(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	cache := New(time.Minute, WithClock(func() time.Time { return now }))

	cache.Store("tok", identity.Identity{UsersID: 1})
	now = now.Add(45 * time.Second)
	cache.Store("tok", identity.Identity{UsersID: 1})
	now = now.Add(45 * time.Second)

	if _, ok := cache.Lookup("tok"); !ok {
		t.Fatal("overwrite should have reset the entry age")
	}
}

func TestEmptyTokenNeverCached(t *testing.T) {
	cache := New(time.Minute)
	cache.Store("", identity.Identity{UsersID: 1})
	if cache.Len() != 0 {
		t.Fatal("empty token must not be cached")
	}
	if _, ok := cache.Lookup(""); ok {
		t.Fatal("empty token must not hit")
	}
}
