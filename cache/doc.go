// Package cache provides a fast, generic, sharded in-memory cache over
// uint64 keys with pluggable eviction policies (FIFO, LRU, segment
// approximate-LRU, and the self-tuning FrozenHot two-tier policy),
// optional singleflight loading, and lightweight metrics hooks.
//
// Design
//
//   - Concurrency: the cache is split into shards; a key belongs to
//     shard key mod N. Each shard owns a striped concurrent index plus
//     the policy's ordering structure, so most operations touch one
//     bucket lock and a short critical section on the shard list.
//
//   - Policies: eviction is pluggable via the policy package. FIFO and
//     LRU keep an intrusive doubly linked list; the segment policy
//     trades exact recency for an append-only slot log with whole-tail
//     eviction; FrozenHot layers a frozen lock-free hash table over a
//     dynamic LRU tier.
//
//   - Monitoring: every cache runs one monitor goroutine. For FrozenHot
//     it profiles the workload's miss-ratio curve, sizes the frozen
//     tier, constructs it, and tears it down again when it stops paying
//     for itself. For the other policies it periodically logs stats.
//
//   - Latency accounting: the facade times every Lookup into mmap-backed
//     sample logs, with a configurable MissPenalty standing in for the
//     backing-store fetch on a miss. The monitor reads these logs to
//     decide whether a frozen tier is worth its staleness.
//
//   - GetOrLoad: coalesces concurrent loads for the same key using
//     singleflight. If Loader is nil, GetOrLoad returns ErrNoLoader.
//
//   - Metrics: Options.Metrics receives FastHit/Hit/Miss/Insert/Erase/
//     Size signals. By default NoopMetrics is used; plug the Prometheus
//     adapter in metrics/prom to export them.
//
// Basic usage
//
//	c, err := cache.New[string](cache.Options[string]{
//	    Capacity: 1 << 20,
//	    Policy:   policy.LRU,
//	})
//	if err != nil { ... }
//	defer c.Stop()
//
//	v := "payload"
//	c.Insert(42, &v)
//	if got, ok := c.Lookup(42); ok {
//	    _ = *got
//	}
//	c.Erase(42)
//
// With GetOrLoad (singleflight)
//
//	c, _ := cache.New[string](cache.Options[string]{
//	    Capacity: 1 << 20,
//	    Loader: func(ctx context.Context, key uint64) (*string, error) {
//	        s := fetchFromDB(ctx, key)
//	        return &s, nil
//	    },
//	})
//	v, err := c.GetOrLoad(context.Background(), 7)
//
// With the FrozenHot policy
//
//	c, _ := cache.New[[]byte](cache.Options[[]byte]{
//	    Capacity:    1 << 22,
//	    Policy:      policy.FrozenHot,
//	    MissPenalty: 50 * time.Microsecond,
//	})
//
// The monitor observes the workload until it stabilizes, profiles a
// miss-ratio curve, and freezes the hottest fraction of each shard into
// a lock-free fast table when the projected latency beats the dynamic
// baseline by the configured margin.
//
// Thread-safety & complexity
//
// All methods on Cache are safe for concurrent use. Typical operation
// cost is O(1) expected time: one index access and a constant amount of
// pointer fixes, with frozen-tier hits reduced to a lock-free probe.
package cache
