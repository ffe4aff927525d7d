package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemory_StoreThenLookup_Hits(t *testing.T) {
	m := NewMemory(4, time.Minute)
	ctx := context.Background()
	m.Store(ctx, "k", "v")
	got, hit := m.Lookup(ctx, "k")
	if !hit || got != "v" {
		t.Fatalf("got (%q, %v), want (%q, true)", got, hit, "v")
	}
	st := m.Inspect()
	if st.Hits != 1 || st.Misses != 0 || st.Size != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestMemory_CapacityPressure_EvictsFirstInserted(t *testing.T) {
	m := NewMemory(3, time.Minute)
	ctx := context.Background()
	m.Store(ctx, "a", "1")
	m.Store(ctx, "b", "2")
	m.Store(ctx, "c", "3")
	m.Store(ctx, "d", "4") // evicts "a", the LRU

	if _, hit := m.Lookup(ctx, "a"); hit {
		t.Fatal("expected first-inserted key to be evicted")
	}
	for _, k := range []string{"b", "c", "d"} {
		if _, hit := m.Lookup(ctx, k); !hit {
			t.Fatalf("key %q unexpectedly evicted", k)
		}
	}
	st := m.Inspect()
	if st.Evictions != 1 {
		t.Fatalf("evictions = %d, want 1", st.Evictions)
	}
	if st.Misses != 1 {
		t.Fatalf("misses = %d, want 1", st.Misses)
	}
}

func TestMemory_LookupRefreshesRecency(t *testing.T) {
	m := NewMemory(2, time.Minute)
	ctx := context.Background()
	m.Store(ctx, "a", "1")
	m.Store(ctx, "b", "2")
	m.Lookup(ctx, "a")      // "b" is now LRU
	m.Store(ctx, "c", "3")  // evicts "b"
	if _, hit := m.Lookup(ctx, "b"); hit {
		t.Fatal("expected b to be evicted after a was touched")
	}
	if _, hit := m.Lookup(ctx, "a"); !hit {
		t.Fatal("expected a to survive")
	}
}

func TestMemory_TTLExpiry_CountsAsMiss(t *testing.T) {
	m := NewMemory(4, time.Minute)
	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	m.Store(ctx, "k", "v")
	now = now.Add(61 * time.Second)
	if _, hit := m.Lookup(ctx, "k"); hit {
		t.Fatal("expected expired entry to miss")
	}
	st := m.Inspect()
	if st.Size != 0 {
		t.Fatalf("expired entry not removed lazily, size = %d", st.Size)
	}
	if st.Misses != 1 || st.Evictions != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestMemory_ExpiredTailReclaimedWithoutEvictingLive(t *testing.T) {
	m := NewMemory(2, time.Hour)
	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	m.Store(ctx, "old", "1")
	now = now.Add(30 * time.Minute)
	m.Store(ctx, "live", "2")

	// "old" is past its TTL, "live" is not. The insert must reclaim only the
	// expired tail; the live entry keeps its slot.
	now = now.Add(31 * time.Minute)
	m.Store(ctx, "new", "3")

	if _, hit := m.Lookup(ctx, "live"); !hit {
		t.Fatal("live entry was evicted while an expired one made room")
	}
	if _, hit := m.Lookup(ctx, "new"); !hit {
		t.Fatal("inserted entry missing")
	}
	st := m.Inspect()
	if st.Evictions != 0 {
		t.Fatalf("evictions = %d, want 0 (expired reclaim is free)", st.Evictions)
	}
	if st.Size != 2 {
		t.Fatalf("size = %d, want 2", st.Size)
	}
}

func TestMemory_WarmDoesNotTouchHitCounters(t *testing.T) {
	m := NewMemory(4, time.Minute)
	m.Warm(map[string]string{"a": "1", "b": "2"})
	st := m.Inspect()
	if st.Hits != 0 || st.Misses != 0 {
		t.Fatalf("warm changed counters: %+v", st)
	}
	if st.Size != 2 {
		t.Fatalf("size = %d, want 2", st.Size)
	}
}

func TestMemory_Clear(t *testing.T) {
	m := NewMemory(4, time.Minute)
	ctx := context.Background()
	m.Store(ctx, "a", "1")
	m.Clear()
	if st := m.Inspect(); st.Size != 0 {
		t.Fatalf("size = %d after clear", st.Size)
	}
	if _, hit := m.Lookup(ctx, "a"); hit {
		t.Fatal("lookup hit after clear")
	}
}

func TestKey_DeterministicAndFieldSensitive(t *testing.T) {
	k1 := Key("m1", "low", "prompt", "plan", "scope")
	k2 := Key("m1", "low", "prompt", "plan", "scope")
	if k1 != k2 {
		t.Fatal("identical inputs produced different keys")
	}
	if Key("m1", "low", "prompt ", "plan", "scope") == k1 {
		t.Fatal("whitespace-only prompt difference must change the key")
	}
	// Field boundaries must not be collapsible by concatenation.
	if Key("ab", "c", "p", "x", "s") == Key("a", "bc", "p", "x", "s") {
		t.Fatal("adjacent fields collided")
	}
}

func TestNull_AlwaysMisses(t *testing.T) {
	n := NewNull()
	ctx := context.Background()
	n.Store(ctx, "k", "v")
	if _, hit := n.Lookup(ctx, "k"); hit {
		t.Fatal("null backend must never hit")
	}
	if st := n.Inspect(); st.Misses != 1 {
		t.Fatalf("misses = %d, want 1", st.Misses)
	}
}
