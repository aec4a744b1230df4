package cache

import (
	"context"
	"time"

	"github.com/wxliang123/cache/internal/stats"
	"github.com/wxliang123/cache/policy"
)

// Lookup returns the stored value pointer for key and a presence flag.
// The call is timed: hits (fast or dynamic) feed the hit-latency log,
// misses feed the other-latency log with MissPenalty added on top.
func (c *Cache[V]) Lookup(key uint64) (*V, bool) {
	if c.closed.Load() {
		return nil, false
	}
	start := time.Now()
	v, res := c.shard(key).Lookup(key)
	elapsed := float64(time.Since(start).Nanoseconds())
	switch res {
	case policy.FastHit:
		c.hitLat.Append(elapsed)
		c.metrics.FastHit()
	case policy.Hit:
		c.hitLat.Append(elapsed)
		c.metrics.Hit()
	default:
		c.otherLat.Append(elapsed + c.missPenalty)
		c.metrics.Miss()
	}
	return v, res != policy.Miss
}

// Insert stores value under key. It returns true when a new entry was
// admitted and false when an existing entry was updated in place or the
// shard refused the write (reserved key, frozen-all tier, closed cache).
func (c *Cache[V]) Insert(key uint64, value *V) bool {
	if c.closed.Load() {
		return false
	}
	ok := c.shard(key).Insert(key, value)
	c.metrics.Insert()
	return ok
}

// Erase removes key if present. It returns false when the key is absent
// or the owning shard's tier state forbids removal.
func (c *Cache[V]) Erase(key uint64) bool {
	if c.closed.Load() {
		return false
	}
	ok := c.shard(key).Erase(key)
	if ok {
		c.metrics.Erase()
	}
	return ok
}

// GetOrLoad returns the value for key; on miss it loads via
// Options.Loader, coalescing concurrent loads for the same key.
// If no Loader is configured, returns ErrNoLoader.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key uint64) (*V, error) {
	if v, ok := c.Lookup(key); ok {
		return v, nil
	}
	if c.loader == nil {
		return nil, ErrNoLoader
	}
	return c.sf.Do(ctx, key, func(ctx context.Context) (*V, error) {
		// double-check after flight join
		if v, ok := c.Lookup(key); ok {
			return v, nil
		}
		v, err := c.loader(ctx, key)
		if err == nil {
			c.Insert(key, v)
		}
		return v, err
	})
}

// Size returns the total number of resident entries across all shards.
func (c *Cache[V]) Size() uint64 {
	var total uint64
	for _, s := range c.shards {
		total += s.Usage()
	}
	c.metrics.Size(total)
	return total
}

// Capacity returns the summed entry budget of all shards. It can exceed
// Options.Capacity by at most Shards-1 due to ceil division.
func (c *Cache[V]) Capacity() uint64 {
	var total uint64
	for _, s := range c.shards {
		total += s.Capacity()
	}
	return total
}

// Stop shuts the cache down: it flips the monitor's stop flag, joins
// the monitor goroutine, and releases the latency logs. Operations
// after Stop are no-ops; operations concurrent with Stop are not.
// Stop is idempotent.
func (c *Cache[V]) Stop() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.stopFlag.Store(true)
	c.monWG.Wait()
	c.hitLat.Close()
	c.otherLat.Close()
}

// PrintStatus logs every shard's tier state, occupancy and merged
// ticker counts.
func (c *Cache[V]) PrintStatus() {
	snaps := make([]*stats.Statistics, 0, len(c.shards))
	for i, s := range c.shards {
		c.log.Info().
			Int("shard", i).
			Str("status", s.Status()).
			Uint64("usage", s.Usage()).
			Uint64("capacity", s.Capacity()).
			Msg("cache: shard status")
		snaps = append(snaps, s.Stats())
	}
	fastHit, hit, miss, insert := stats.Merge(snaps...)
	total := fastHit + hit + miss
	var missRatio float64
	if total > 0 {
		missRatio = float64(miss) / float64(total)
	}
	c.log.Info().
		Uint64("fast_hit", fastHit).
		Uint64("hit", hit).
		Uint64("miss", miss).
		Uint64("insert", insert).
		Float64("miss_ratio", missRatio).
		Msg("cache: global counters")
}

// PrintGlobalLat logs the average and tail latencies recorded so far,
// split into the hit log and the miss/penalized log.
func (c *Cache[V]) PrintGlobalLat() {
	hp := c.hitLat.Percentiles(0.5, 0.99, 0.999)
	op := c.otherLat.Percentiles(0.5, 0.99, 0.999)
	c.log.Info().
		Float64("avg_ns", c.hitLat.Avg()).
		Float64("p50_ns", hp[0]).
		Float64("p99_ns", hp[1]).
		Float64("p999_ns", hp[2]).
		Uint64("samples", c.hitLat.Len()).
		Msg("cache: hit latency")
	c.log.Info().
		Float64("avg_ns", c.otherLat.Avg()).
		Float64("p50_ns", op[0]).
		Float64("p99_ns", op[1]).
		Float64("p999_ns", op[2]).
		Uint64("samples", c.otherLat.Len()).
		Msg("cache: other latency")
}
