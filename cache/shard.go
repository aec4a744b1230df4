package cache

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/wxliang123/cache/policy"
	"github.com/wxliang123/cache/policy/fifo"
	"github.com/wxliang123/cache/policy/frozenhot"
	"github.com/wxliang123/cache/policy/lru"
	"github.com/wxliang123/cache/policy/segment"
)

// newShard builds one partition under the requested policy. Every shard
// gets the same per-shard capacity and shares the cache's logger.
func newShard[V any](kind policy.Kind, capacity uint64, opt Options[V], log zerolog.Logger) (policy.Shard[V], error) {
	switch kind {
	case policy.FIFO:
		return fifo.New[V](capacity, fifo.Config{
			Logger:   log,
			Sampling: opt.Sampling,
		}), nil
	case policy.LRU:
		return lru.New[V](capacity, lru.Config{
			Logger:   log,
			Sampling: opt.Sampling,
		}), nil
	case policy.Segment:
		return segment.New[V](capacity, segment.Config{
			SlotsPerSegment: opt.SlotsPerSegment,
			MinSegments:     opt.MinSegments,
			Logger:          log,
			Sampling:        opt.Sampling,
		}), nil
	case policy.FrozenHot:
		return frozenhot.New[V](capacity, frozenhot.Config{
			Logger:   log,
			Sampling: opt.Sampling,
		}), nil
	default:
		return nil, fmt.Errorf("cache: unknown policy kind %v", kind)
	}
}
