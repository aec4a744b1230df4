package cache

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/wxliang123/cache/monitor"
	"github.com/wxliang123/cache/policy"
)

// Metrics exposes cache-level observability hooks, one per lookup
// outcome plus the write paths. A NoopMetrics implementation is
// provided and used by default.
type Metrics interface {
	FastHit()
	Hit()
	Miss()
	Insert()
	Erase()
	Size(entries uint64)
}

// Options configures the cache. Zero values are safe; defaults are
// applied in New():
//   - Shards <= 0   => ReasonableShardCount()
//   - nil Metrics   => NoopMetrics
//   - nil Logger    => zerolog.Nop()
//   - Policy        => FIFO (the zero Kind)
type Options[V any] struct {
	// Capacity is the global entry budget, split evenly across shards
	// (ceil division). Must be > 0.
	Capacity uint64

	// Shards is the number of partitions. Keys dispatch by key mod
	// Shards, so co-resident keys stay on one shard only when they share
	// a residue class. <= 0 picks a heuristic based on GOMAXPROCS.
	Shards int

	// Policy selects the per-shard eviction policy.
	Policy policy.Kind

	// MissPenalty is charged on top of the measured lookup time for
	// every miss, standing in for the backing-store fetch the caller
	// performs. The monitor weighs it when sizing the frozen tier.
	MissPenalty time.Duration

	// Sampling switches the shard tickers to 1% sampling, trading
	// accuracy for less write traffic on the hot counters.
	Sampling bool

	// ReservoirCap bounds each latency log in samples (0 picks the
	// package default). The backing mapping is lazily populated, so a
	// large cap costs address space, not memory.
	ReservoirCap uint64

	// Segment-policy knobs; ignored by the other policies.
	SlotsPerSegment uint64
	MinSegments     uint64

	// Loader fetches a value on cache miss. Used by GetOrLoad.
	Loader func(ctx context.Context, key uint64) (*V, error)

	// Observability
	Logger  *zerolog.Logger
	Metrics Metrics

	// Clock overrides the monitor's time source (tests). Nil picks the
	// real clock. Lookup timing always uses the wall clock.
	Clock clock.Clock

	// Monitor tunes the FrozenHot controller. The other policies use only
	// its wait-stable settings, for the warm-up before their monitor
	// starts printing periodic stats.
	Monitor monitor.Config
}
