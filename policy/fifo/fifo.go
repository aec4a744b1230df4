// Package fifo implements a first-in-first-out shard: a concurrent index
// over an intrusive insertion-order list. When the shard is full, Insert
// evicts the entry that entered the cache first.
//
// Write throughput degrades under a heavy concurrent insert/evict load
// because every eviction serializes on the list mutex. Workloads like
// that are better served by the segment policy.
package fifo

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/wxliang123/cache/internal/index"
	"github.com/wxliang123/cache/internal/stats"
	"github.com/wxliang123/cache/policy"
)

// Config carries the optional knobs for a FIFO shard.
type Config struct {
	Logger   zerolog.Logger
	Sampling bool // tick statistics at ~1% instead of every call
}

type node[V any] struct {
	key  uint64
	val  atomic.Pointer[V]
	prev *node[V]
	next *node[V]
}

// Shard is a FIFO-evicting cache shard. Safe for concurrent use.
type Shard[V any] struct {
	capacity uint64
	usage    atomic.Uint64

	idx *index.Map[*node[V]]

	mu   sync.Mutex // guards the intrusive list
	head node[V]
	tail node[V]

	// marker is the out-of-list sentinel: a node whose prev points here is
	// detached. Detached nodes must never be unlinked a second time.
	marker *node[V]

	st  *stats.Statistics
	log zerolog.Logger
}

// New builds a FIFO shard holding at most capacity entries.
func New[V any](capacity uint64, cfg Config) *Shard[V] {
	s := &Shard[V]{
		capacity: capacity,
		idx:      index.New[*node[V]](capacity),
		marker:   new(node[V]),
		st:       stats.NewStatistics(),
		log:      cfg.Logger,
	}
	if cfg.Sampling {
		s.st.EnableSampling()
	}
	s.head.next = &s.tail
	s.tail.prev = &s.head
	return s
}

// Lookup returns the value for key. FIFO order is insertion order, so a
// hit does not touch the list.
func (s *Shard[V]) Lookup(key uint64) (*V, policy.Result) {
	n, ok := s.idx.Load(key)
	if !ok {
		s.st.Miss()
		return nil, policy.Miss
	}
	s.st.Hit()
	return n.val.Load(), policy.Hit
}

// Insert stores value under key. An existing entry is updated in place
// (no list work) and Insert returns false.
func (s *Shard[V]) Insert(key uint64, value *V) bool {
	s.st.Insert()

	n := &node[V]{key: key}
	n.val.Store(value)
	n.prev = s.marker

	if existing, loaded := s.idx.LoadOrStore(key, n); loaded {
		existing.val.Store(value)
		return false
	}

	// Evict before linking when already full, so that a full cache stays
	// at capacity across the insert instead of overshooting.
	u := s.usage.Load()
	evicted := false
	if u >= s.capacity {
		s.evictOne()
		evicted = true
	}

	s.mu.Lock()
	s.pushFront(n)
	s.mu.Unlock()

	if !evicted {
		s.usage.Add(1)
		u = s.usage.Load()
	}
	if u > s.capacity {
		// Concurrent inserts can overshoot while the cache fills. Take the
		// exclusive right to shrink by one via CAS; losers leave the repair
		// to a later insert rather than spinning here.
		if s.usage.CompareAndSwap(u, u-1) {
			s.evictOne()
		}
	}
	return true
}

// Erase removes key from the shard.
func (s *Shard[V]) Erase(key uint64) bool {
	n, ok := s.idx.Delete(key)
	if !ok {
		return false
	}

	s.mu.Lock()
	if n.prev != s.marker {
		s.listRemove(n)
	}
	s.mu.Unlock()

	s.usage.Add(^uint64(0))
	return true
}

// Usage returns the number of resident entries.
func (s *Shard[V]) Usage() uint64 { return s.usage.Load() }

// Capacity returns the shard's entry budget.
func (s *Shard[V]) Capacity() uint64 { return s.capacity }

// IsFull reports whether the shard is at or above capacity.
func (s *Shard[V]) IsFull() bool { return s.usage.Load() >= s.capacity }

// Stats exposes the shard's tickers.
func (s *Shard[V]) Stats() *stats.Statistics { return s.st }

// ConstructTier is not supported by FIFO shards.
func (s *Shard[V]) ConstructTier() error { return policy.ErrNotSupported }

// ConstructFastCache is not supported by FIFO shards.
func (s *Shard[V]) ConstructFastCache(float64) error { return policy.ErrNotSupported }

// DeleteFastCache is not supported by FIFO shards.
func (s *Shard[V]) DeleteFastCache() error { return policy.ErrNotSupported }

// GetCurve is not supported by FIFO shards.
func (s *Shard[V]) GetCurve(*atomic.Bool) ([]policy.CurvePoint, error) {
	return nil, policy.ErrNotSupported
}

// Status always reports "dynamic": FIFO shards have no frozen tier.
func (s *Shard[V]) Status() string { return "dynamic" }

// -------------------- internals --------------------

func (s *Shard[V]) evictOne() {
	s.mu.Lock()
	n := s.tail.prev
	if n == &s.head {
		s.mu.Unlock()
		s.log.Warn().Msg("fifo: evict on empty list")
		return
	}
	s.listRemove(n)
	s.mu.Unlock()

	// Delete only the exact node we unlinked. If the key was erased and
	// re-inserted meanwhile, the index holds a younger node that is still
	// linked; removing it by key would corrupt the list.
	if !s.idx.DeleteIf(n.key, func(m *node[V]) bool { return m == n }) {
		s.log.Warn().Uint64("key", n.key).Msg("fifo: presumably unreachable")
	}
}

// pushFront links n right after the head sentinel (mu held).
func (s *Shard[V]) pushFront(n *node[V]) {
	first := s.head.next
	n.prev = &s.head
	n.next = first
	first.prev = n
	s.head.next = n
}

// listRemove unlinks n and parks it on the out-of-list marker (mu held).
func (s *Shard[V]) listRemove(n *node[V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = s.marker
}
