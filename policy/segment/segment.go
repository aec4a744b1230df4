// Package segment implements an approximate-LRU shard built on a log of
// fixed-size segments. Inserts and promotions append (entry, version)
// slots to the head segment; eviction reclaims the whole tail segment at
// once. An entry is live only through its newest slot, so stale slots in
// evicted segments are just dropped. This trades recency precision for an
// append-only write path that never serializes on a per-entry list lock.
package segment

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/wxliang123/cache/internal/index"
	"github.com/wxliang123/cache/internal/stats"
	"github.com/wxliang123/cache/policy"
)

const (
	// DefaultSlotsPerSegment is the slot count of one segment.
	DefaultSlotsPerSegment = 65536
	// DefaultMinSegments is the floor below which eviction refuses to
	// reclaim the tail.
	DefaultMinSegments = 4
)

// Config carries the tunables for a segment shard.
type Config struct {
	SlotsPerSegment uint64 // 0 picks DefaultSlotsPerSegment
	MinSegments     uint64 // 0 picks DefaultMinSegments
	Logger          zerolog.Logger
	Sampling        bool
}

// entry is shared between the index and every slot that references it.
// refs counts those owners; the last owner to drop its reference releases
// the entry's charge.
type entry[V any] struct {
	key     uint64
	val     atomic.Pointer[V]
	version atomic.Uint32
	refs    atomic.Int32

	// belong is the head segment at insert time and is never updated;
	// a lookup that sees a different head appends a fresh slot instead.
	belong *segment[V]
	charge uint64
}

type slot[V any] struct {
	entry   *entry[V]
	version atomic.Uint32
}

type segment[V any] struct {
	slots []slot[V]
	used  atomic.Uint64

	next *segment[V]
	prev *segment[V]
}

func newSegment[V any](slotCount uint64) *segment[V] {
	return &segment[V]{slots: make([]slot[V], slotCount)}
}

// append claims the next slot for (e, version). It fails once the segment
// is full; the claimed-but-unwritable overshoot slots stay nil.
func (s *segment[V]) append(e *entry[V], version uint32) bool {
	id := s.used.Add(1) - 1
	if id < uint64(len(s.slots)) {
		s.slots[id].entry = e
		s.slots[id].version.Store(version)
		return true
	}
	return false
}

func (s *segment[V]) isFull() bool {
	return s.used.Load() >= uint64(len(s.slots))
}

// segmentList is the append head / evict tail pair. Appends race on the
// head segment's slot counter; only segment rotation takes headMu.
type segmentList[V any] struct {
	headMu sync.Mutex
	head   atomic.Pointer[segment[V]]

	tailMu sync.Mutex
	tail   atomic.Pointer[segment[V]]

	count atomic.Uint64

	slotsPerSeg uint64
	minSegments uint64
}

func newSegmentList[V any](slotsPerSeg, minSegments uint64) *segmentList[V] {
	l := &segmentList[V]{slotsPerSeg: slotsPerSeg, minSegments: minSegments}
	seg := newSegment[V](slotsPerSeg)
	l.head.Store(seg)
	l.tail.Store(seg)
	l.count.Store(1)
	return l
}

// add appends a slot for e, rotating in a fresh head segment when the
// current one fills. The re-check under headMu keeps concurrent losers
// from stacking empty segments.
func (l *segmentList[V]) add(e *entry[V], version uint32) {
	for {
		if l.head.Load().append(e, version) {
			return
		}
		l.headMu.Lock()
		if l.head.Load().isFull() {
			seg := newSegment[V](l.slotsPerSeg)
			old := l.head.Load()
			seg.next = old
			old.prev = seg
			l.head.Store(seg)
			l.count.Add(1)
		}
		l.headMu.Unlock()
	}
}

// evict detaches and returns the tail segment, or nil when the list is at
// the minimum-segments floor.
func (l *segmentList[V]) evict() *segment[V] {
	l.tailMu.Lock()
	if l.count.Load() > l.minSegments {
		victim := l.tail.Load()
		l.tail.Store(victim.prev)
		l.tailMu.Unlock()
		l.count.Add(^uint64(0))
		return victim
	}
	l.tailMu.Unlock()
	return nil
}

// Shard is a segment-evicting cache shard. Safe for concurrent use.
type Shard[V any] struct {
	capacity uint64
	usage    atomic.Uint64

	idx  *index.Map[*entry[V]]
	list *segmentList[V]

	st  *stats.Statistics
	log zerolog.Logger
}

// New builds a segment shard with a budget of capacity charge. Eviction
// reclaims whole tail segments and stops at the minimum-segments floor,
// so usage can stay above the budget while the list is at that floor.
func New[V any](capacity uint64, cfg Config) *Shard[V] {
	slotsPerSeg := cfg.SlotsPerSegment
	if slotsPerSeg == 0 {
		slotsPerSeg = DefaultSlotsPerSegment
	}
	minSegments := cfg.MinSegments
	if minSegments == 0 {
		minSegments = DefaultMinSegments
	}
	s := &Shard[V]{
		capacity: capacity,
		idx:      index.New[*entry[V]](capacity),
		list:     newSegmentList[V](slotsPerSeg, minSegments),
		st:       stats.NewStatistics(),
		log:      cfg.Logger,
	}
	if cfg.Sampling {
		s.st.EnableSampling()
	}
	return s
}

// Lookup returns the value for key. A hit on an entry whose insert-time
// head segment (belong) is no longer the head appends a fresh slot to
// record the recency.
func (s *Shard[V]) Lookup(key uint64) (*V, policy.Result) {
	e, ok := s.idx.Load(key)
	if !ok {
		s.st.Miss()
		return nil, policy.Miss
	}
	v := e.val.Load()
	if e.belong != s.list.head.Load() {
		e.refs.Add(1) // the new slot's reference
		old := e.version.Add(1) - 1
		s.list.add(e, old+1)
	}
	s.st.Hit()
	return v, policy.Hit
}

// Insert stores value under key. An existing entry is updated in place
// (no slot work) and Insert returns false.
func (s *Shard[V]) Insert(key uint64, value *V) bool {
	s.st.Insert()

	e := &entry[V]{
		key:    key,
		belong: s.list.head.Load(),
		charge: 1,
	}
	e.val.Store(value)
	e.version.Store(1)
	e.refs.Store(1) // referenced by the index

	if existing, loaded := s.idx.LoadOrStore(key, e); loaded {
		existing.val.Store(value)
		return false
	}

	e.refs.Add(1) // referenced by its slot
	s.list.add(e, 1)
	s.usage.Add(e.charge)

	for s.usage.Load() > s.capacity {
		if !s.evictOneSegment() {
			break
		}
	}
	return true
}

// Erase removes key from the shard. Slots pointing at the entry keep it
// alive until the owning segments are evicted.
func (s *Shard[V]) Erase(key uint64) bool {
	var e *entry[V]
	if !s.idx.DeleteIf(key, func(cur *entry[V]) bool { e = cur; return true }) {
		return false
	}
	s.tryFreeEntry(e)
	return true
}

// Usage returns the resident charge.
func (s *Shard[V]) Usage() uint64 { return s.usage.Load() }

// Capacity returns the shard's charge budget.
func (s *Shard[V]) Capacity() uint64 { return s.capacity }

// IsFull reports whether the shard is at or above capacity.
func (s *Shard[V]) IsFull() bool { return s.usage.Load() >= s.capacity }

// Stats exposes the shard's tickers.
func (s *Shard[V]) Stats() *stats.Statistics { return s.st }

// NumSegments returns the current segment count.
func (s *Shard[V]) NumSegments() uint64 { return s.list.count.Load() }

// ConstructTier is not supported by segment shards.
func (s *Shard[V]) ConstructTier() error { return policy.ErrNotSupported }

// ConstructFastCache is not supported by segment shards.
func (s *Shard[V]) ConstructFastCache(float64) error { return policy.ErrNotSupported }

// DeleteFastCache is not supported by segment shards.
func (s *Shard[V]) DeleteFastCache() error { return policy.ErrNotSupported }

// GetCurve is not supported by segment shards.
func (s *Shard[V]) GetCurve(*atomic.Bool) ([]policy.CurvePoint, error) {
	return nil, policy.ErrNotSupported
}

// Status always reports "dynamic": segment shards have no frozen tier.
func (s *Shard[V]) Status() string { return "dynamic" }

// -------------------- internals --------------------

// evictOneSegment reclaims the tail segment. For each slot holding the
// entry's newest version, the entry is unmapped from the index (the
// version re-check under the bucket lock fends off a concurrent
// promotion); every slot then drops its own reference. It returns false
// when the list is at the minimum-segments floor.
func (s *Shard[V]) evictOneSegment() bool {
	victim := s.list.evict()
	if victim == nil {
		return false
	}

	used := victim.used.Load()
	if used > uint64(len(victim.slots)) {
		used = uint64(len(victim.slots))
	}
	for i := uint64(0); i < used; i++ {
		e := victim.slots[i].entry
		if e == nil {
			// Claimed but never written; the appender retried elsewhere.
			continue
		}
		sv := victim.slots[i].version.Load()
		if e.version.Load() == sv {
			removed := s.idx.DeleteIf(e.key, func(cur *entry[V]) bool {
				return cur == e && e.version.Load() == sv
			})
			if removed {
				s.tryFreeEntry(e) // the index's reference
			}
		}
		s.tryFreeEntry(e) // this slot's reference
	}
	return true
}

// tryFreeEntry drops one reference; the last owner releases the charge.
func (s *Shard[V]) tryFreeEntry(e *entry[V]) {
	if e.refs.Add(-1) == 0 {
		s.usage.Add(^(e.charge - 1))
	}
}
