package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/wxliang123/cache/internal/singleflight"
	"github.com/wxliang123/cache/internal/stats"
	"github.com/wxliang123/cache/internal/util"
	"github.com/wxliang123/cache/monitor"
	"github.com/wxliang123/cache/policy"
)

// ErrNoLoader is returned by GetOrLoad when no Loader was configured in
// Options.
var ErrNoLoader = errors.New("cache: no Loader provided")

// Cache is a sharded in-memory KV store over uint64 keys with a
// pluggable eviction policy. All methods are safe for concurrent use by
// multiple goroutines.
//
// Each cache owns one monitor goroutine. Under the FrozenHot policy the
// monitor profiles the workload and freezes/thaws the fast tier; under
// the other policies it only prints periodic stats. Stop terminates it.
type Cache[V any] struct {
	shards []policy.Shard[V]
	kind   policy.Kind

	// facade-side latency logs, consumed by the monitor
	hitLat      *stats.Reservoir
	otherLat    *stats.Reservoir
	missPenalty float64 // nanoseconds

	metrics Metrics
	log     zerolog.Logger

	loader func(ctx context.Context, key uint64) (*V, error)
	sf     singleflight.Group[*V]

	stopFlag atomic.Bool
	closed   atomic.Bool
	monWG    sync.WaitGroup
}

// New builds a cache with the provided Options and starts its monitor
// goroutine. The capacity splits evenly across shards; keys dispatch by
// key mod Shards.
func New[V any](opt Options[V]) (*Cache[V], error) {
	if opt.Capacity == 0 {
		return nil, errors.New("cache: Capacity must be > 0")
	}
	numShards := opt.Shards
	if numShards <= 0 {
		numShards = util.ReasonableShardCount()
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	log := zerolog.Nop()
	if opt.Logger != nil {
		log = *opt.Logger
	}

	perShard := (opt.Capacity + uint64(numShards) - 1) / uint64(numShards)
	shards := make([]policy.Shard[V], numShards)
	for i := range shards {
		s, err := newShard[V](opt.Policy, perShard, opt, log)
		if err != nil {
			return nil, err
		}
		shards[i] = s
	}

	hitLat, err := stats.NewReservoir(opt.ReservoirCap)
	if err != nil {
		return nil, err
	}
	otherLat, err := stats.NewReservoir(opt.ReservoirCap)
	if err != nil {
		hitLat.Close()
		return nil, err
	}

	c := &Cache[V]{
		shards:      shards,
		kind:        opt.Policy,
		hitLat:      hitLat,
		otherLat:    otherLat,
		missPenalty: float64(opt.MissPenalty.Nanoseconds()),
		metrics:     opt.Metrics,
		log:         log,
		loader:      opt.Loader,
	}

	mon := monitor.New(opt.Policy, shards, hitLat, otherLat, &c.stopFlag, opt.Clock, log, opt.Monitor)
	c.monWG.Add(1)
	go func() {
		defer c.monWG.Done()
		mon.Run()
	}()
	return c, nil
}

// shard picks the partition for key. Dispatch is by residue, not by
// hash, so a shard's keys form one residue class mod the shard count.
func (c *Cache[V]) shard(key uint64) policy.Shard[V] {
	return c.shards[key%uint64(len(c.shards))]
}
