package cache

import (
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/wxliang123/cache/policy"
)

// benchmarkMix exercises a read/write mix against a warm cache.
// It uses parallel workers (RunParallel spawns GOMAXPROCS goroutines).
func benchmarkMix(b *testing.B, kind policy.Kind, readsPct int) {
	c, err := New[int](Options[int]{
		Capacity:     100_000,
		Policy:       kind,
		ReservoirCap: 1 << 24,
	})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(c.Stop)

	// Preload half the capacity to get a realistic hit-rate.
	v := 1
	for i := uint64(0); i < 50_000; i++ {
		c.Insert(i, &v)
	}

	b.ReportAllocs()
	b.ResetTimer()

	var seed int64 = 1
	keyMask := uint64(1<<16) - 1 // hot keyspace (power of two for fast &-mask)

	b.RunParallel(func(pb *testing.PB) {
		// Independent RNG stream for each worker.
		r := rand.New(rand.NewSource(atomic.AddInt64(&seed, 1)))
		i := uint64(0)
		for pb.Next() {
			k := i & keyMask
			if r.Intn(100) < readsPct {
				c.Lookup(k)
			} else {
				c.Insert(k, &v)
			}
			i++
		}
	})
}

func BenchmarkCache_FIFO_90r10w(b *testing.B)      { benchmarkMix(b, policy.FIFO, 90) }
func BenchmarkCache_LRU_90r10w(b *testing.B)       { benchmarkMix(b, policy.LRU, 90) }
func BenchmarkCache_Segment_90r10w(b *testing.B)   { benchmarkMix(b, policy.Segment, 90) }
func BenchmarkCache_FrozenHot_90r10w(b *testing.B) { benchmarkMix(b, policy.FrozenHot, 90) }
func BenchmarkCache_LRU_50r50w(b *testing.B)       { benchmarkMix(b, policy.LRU, 50) }

// BenchmarkFrozenLookup measures the lock-free fast-table read path in
// isolation: the whole shard is frozen before the timer starts.
func BenchmarkFrozenLookup(b *testing.B) {
	c, err := New[int](Options[int]{
		Capacity:     100_000,
		Shards:       8,
		Policy:       policy.FrozenHot,
		ReservoirCap: 1 << 24,
	})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(c.Stop)

	v := 1
	for i := uint64(0); i < 100_000; i++ {
		c.Insert(i, &v)
	}
	for _, s := range c.shards {
		if err := s.ConstructTier(); err != nil {
			b.Fatal(err)
		}
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := uint64(0)
		for pb.Next() {
			c.Lookup(i % 100_000)
			i++
		}
	})
}
