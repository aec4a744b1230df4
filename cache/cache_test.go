package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wxliang123/cache/policy"
)

// small reservoirs keep test caches cheap to map
const testReservoirCap = 1 << 16

func newTestCache[V any](t *testing.T, opt Options[V]) *Cache[V] {
	t.Helper()
	if opt.ReservoirCap == 0 {
		opt.ReservoirCap = testReservoirCap
	}
	// keep the monitor snappy so Stop joins quickly
	if opt.Monitor.CheckInterval == 0 {
		opt.Monitor.CheckInterval = 5 * time.Millisecond
	}
	if opt.Monitor.WaitStableInterval == 0 {
		opt.Monitor.WaitStableInterval = 5 * time.Millisecond
	}
	c, err := New[V](opt)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

// Basic Insert/Lookup/Erase semantics, run against every policy.
// Insert returns true for a new key, false for an in-place update;
// Erase deletes exactly once.
func TestCache_BasicInsertLookupErase(t *testing.T) {
	t.Parallel()

	for _, kind := range []policy.Kind{policy.FIFO, policy.LRU, policy.Segment, policy.FrozenHot} {
		t.Run(kind.String(), func(t *testing.T) {
			t.Parallel()

			c := newTestCache(t, Options[int]{Capacity: 64, Shards: 4, Policy: kind})

			v1, v2 := 1, 2
			if !c.Insert(7, &v1) {
				t.Fatal("Insert of a new key must be true")
			}
			if c.Insert(7, &v2) {
				t.Fatal("Insert of an existing key must be false (update in place)")
			}
			got, ok := c.Lookup(7)
			if !ok || *got != 2 {
				t.Fatalf("Lookup want 2, got %v ok=%v", got, ok)
			}

			if !c.Erase(7) {
				t.Fatal("Erase of a present key must be true")
			}
			if c.Erase(7) {
				t.Fatal("Erase of an absent key must be false")
			}
			if _, ok := c.Lookup(7); ok {
				t.Fatal("key must be absent after Erase")
			}
		})
	}
}

// Deterministic LRU eviction: single shard, small capacity.
// Accessing key 1 promotes it; inserting key 3 evicts the LRU (key 2).
func TestCache_EvictionLRU(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options[int]{
		Capacity: 2,
		Shards:   1, // single shard so recency order is global
		Policy:   policy.LRU,
	})

	v := 0
	c.Insert(1, &v) // LRU = 1
	c.Insert(2, &v) // MRU = 2

	if _, ok := c.Lookup(1); !ok { // promote 1 -> MRU
		t.Fatal("expect hit for key 1")
	}
	c.Insert(3, &v) // overflow -> evict LRU (2)

	if _, ok := c.Lookup(2); ok {
		t.Fatal("key 2 must be evicted")
	}
	if _, ok := c.Lookup(1); !ok {
		t.Fatal("key 1 must survive (promoted)")
	}
	if _, ok := c.Lookup(3); !ok {
		t.Fatal("key 3 must be present")
	}
}

// FIFO never promotes: a hit does not save the entry from eviction.
func TestCache_EvictionFIFO(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options[int]{
		Capacity: 2,
		Shards:   1,
		Policy:   policy.FIFO,
	})

	v := 0
	c.Insert(1, &v)
	c.Insert(2, &v)
	if _, ok := c.Lookup(1); !ok {
		t.Fatal("expect hit for key 1")
	}
	c.Insert(3, &v) // evicts the oldest (1) regardless of the hit

	if _, ok := c.Lookup(1); ok {
		t.Fatal("key 1 must be evicted under FIFO")
	}
	if _, ok := c.Lookup(2); !ok {
		t.Fatal("key 2 must survive")
	}
}

// Size sums resident entries across shards and never exceeds Capacity
// once the cache has absorbed more inserts than it can hold.
func TestCache_SizeBoundedByCapacity(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options[int]{Capacity: 128, Shards: 4, Policy: policy.LRU})

	v := 0
	for k := uint64(0); k < 1024; k++ {
		c.Insert(k, &v)
	}
	if got, budget := c.Size(), c.Capacity(); got > budget {
		t.Fatalf("Size %d exceeds Capacity %d", got, budget)
	}
	if c.Size() == 0 {
		t.Fatal("cache must retain entries")
	}
}

// Keys dispatch by residue: with N shards, keys congruent mod N land on
// the same shard and compete for its budget only.
func TestCache_ResidueDispatch(t *testing.T) {
	t.Parallel()

	const shards = 4
	c := newTestCache(t, Options[int]{Capacity: 4 * shards, Shards: shards, Policy: policy.FIFO})

	// Fill shard 0's budget (capacity 4) with keys 0, 4, 8, ... and one
	// extra; other shards stay empty.
	v := 0
	for i := uint64(0); i < 5; i++ {
		c.Insert(i*shards, &v)
	}
	if got := c.Size(); got != 4 {
		t.Fatalf("shard 0 must hold exactly its budget, size=%d", got)
	}
	// A key from another residue class is unaffected.
	if !c.Insert(1, &v) {
		t.Fatal("insert on an empty shard must succeed")
	}
}

// Singleflight: concurrent GetOrLoad calls for the same key trigger the
// Loader at most once; subsequent calls are cache hits.
func TestCache_GetOrLoad_Singleflight(t *testing.T) {
	var calls int64

	c := newTestCache(t, Options[string]{
		Capacity: 64,
		Policy:   policy.LRU,
		Loader: func(_ context.Context, key uint64) (*string, error) {
			atomic.AddInt64(&calls, 1)
			time.Sleep(5 * time.Millisecond) // simulate I/O
			s := fmt.Sprintf("v:%d", key)
			return &s, nil
		},
	})

	const N = 64
	var g errgroup.Group
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < N; i++ {
		g.Go(func() error {
			v, err := c.GetOrLoad(ctx, 9)
			if err != nil {
				return err
			}
			if *v != "v:9" {
				return fmt.Errorf("got %q", *v)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("loader must run exactly once, got %d", got)
	}

	if v, err := c.GetOrLoad(context.Background(), 9); err != nil || *v != "v:9" {
		t.Fatalf("second GetOrLoad failed: v=%v err=%v", v, err)
	}
}

// GetOrLoad without a Loader reports ErrNoLoader on miss.
func TestCache_GetOrLoad_NoLoader(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options[int]{Capacity: 8, Policy: policy.FIFO})
	if _, err := c.GetOrLoad(context.Background(), 1); err != ErrNoLoader {
		t.Fatalf("want ErrNoLoader, got %v", err)
	}
}

// Stop is idempotent and gates every operation afterwards.
func TestCache_StopIdempotent(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options[int]{Capacity: 8, Policy: policy.LRU})
	v := 0
	c.Insert(1, &v)

	c.Stop()
	c.Stop() // second call must be a no-op

	if c.Insert(2, &v) {
		t.Fatal("Insert after Stop must be refused")
	}
	if _, ok := c.Lookup(1); ok {
		t.Fatal("Lookup after Stop must miss")
	}
	if c.Erase(1) {
		t.Fatal("Erase after Stop must be refused")
	}
}

// New validates its Options.
func TestCache_NewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New[int](Options[int]{Capacity: 0}); err == nil {
		t.Fatal("zero capacity must be rejected")
	}
	if _, err := New[int](Options[int]{Capacity: 8, Policy: policy.Kind(42), ReservoirCap: testReservoirCap}); err == nil {
		t.Fatal("unknown policy kind must be rejected")
	}
}
