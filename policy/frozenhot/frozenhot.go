// Package frozenhot implements a two-tier shard for workloads with a
// stable hot set. The dynamic tier is an LRU list; when the controller
// decides the hot set is worth freezing, the top of the list is moved
// into a lock-free open-addressed fast table and served without any list
// work. When the working set drifts, the tier is deconstructed and the
// frozen entries rejoin the dynamic list.
package frozenhot

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/wxliang123/cache/internal/index"
	"github.com/wxliang123/cache/internal/stats"
	"github.com/wxliang123/cache/policy"
)

// Reserved keys. Client inserts of these are rejected so the sentinels
// can never collide with a stored entry.
const (
	// TombKey marks a deferred-erased node.
	TombKey = ^uint64(0)
	// MarkerKey is the profiling marker's key.
	MarkerKey = ^uint64(0) - 1
)

// curveSamplePoints is the number of marker positions sampled while
// profiling the miss-ratio curve.
const curveSamplePoints = 45

var (
	// ErrConstructing reports a tier operation while another construction
	// is still running.
	ErrConstructing = errors.New("frozenhot: construction in progress")
	// ErrNotDynamic reports a tier operation in a state that forbids it.
	ErrNotDynamic = errors.New("frozenhot: shard is not in the dynamic state")
)

// Config carries the optional knobs for a FrozenHot shard.
type Config struct {
	Logger   zerolog.Logger
	Sampling bool
}

type node[V any] struct {
	key  uint64
	val  atomic.Pointer[V]
	prev *node[V]
	next *node[V]

	// lastAccess orders a node against the profiling marker: a node whose
	// last access predates the marker's insertion is "older".
	lastAccess atomic.Int64

	frozen bool        // in the fast list; guarded by mu
	tomb   atomic.Bool // erased while frozen; freed by the next walk
}

// Shard is a FrozenHot cache shard. Safe for concurrent use; the tier
// transitions (Construct*/DeleteFastCache/GetCurve) are meant to be
// driven by a single controller goroutine.
type Shard[V any] struct {
	capacity uint64
	usage    atomic.Uint64

	idx  *index.Map[*node[V]]
	fast *fastTable[V]

	mu   sync.Mutex // guards both intrusive lists and the frozen flags
	head node[V]    // dynamic list, MRU side
	tail node[V]
	// Frozen nodes are parked on this list in recency order so that
	// DeleteFastCache can splice them back verbatim.
	fastHead node[V]
	fastTail node[V]

	// detached is the out-of-list sentinel; prev == detached means the
	// node is on neither list.
	detached *node[V]

	curveMarker *node[V] // guarded by mu
	markerTime  atomic.Int64
	movement    atomic.Uint64

	fastReady    atomic.Bool
	constructing atomic.Bool
	frozenAll    atomic.Bool
	enableInsert atomic.Bool
	curveFlag    atomic.Bool

	// evictionCounter counts inserts admitted while a partial construction
	// walks the list; each one churns an entry out of the shrinking
	// dynamic tier.
	evictionCounter atomic.Uint64

	st  *stats.Statistics
	log zerolog.Logger
}

// New builds a FrozenHot shard holding at most capacity entries.
func New[V any](capacity uint64, cfg Config) *Shard[V] {
	s := &Shard[V]{
		capacity: capacity,
		idx:      index.New[*node[V]](capacity),
		fast:     newFastTable[V](capacity),
		detached: new(node[V]),
		st:       stats.NewStatistics(),
		log:      cfg.Logger,
	}
	if cfg.Sampling {
		s.st.EnableSampling()
	}
	s.head.next = &s.tail
	s.tail.prev = &s.head
	s.fastHead.next = &s.fastTail
	s.fastTail.prev = &s.fastHead
	s.enableInsert.Store(true)
	return s
}

// Lookup probes the fast table first while a tier is frozen; a fast miss
// under frozen-all is final. Dynamic-tier hits promote under a try-lock.
func (s *Shard[V]) Lookup(key uint64) (*V, policy.Result) {
	if s.fastReady.Load() || s.frozenAll.Load() {
		if v, ok := s.fast.lookup(key); ok {
			s.st.FastHit()
			return v, policy.FastHit
		}
		if s.frozenAll.Load() {
			s.st.Miss()
			return nil, policy.Miss
		}
	}

	n, ok := s.idx.Load(key)
	if !ok {
		s.st.Miss()
		return nil, policy.Miss
	}
	v := n.val.Load()
	if !s.constructing.Load() {
		if s.curveFlag.Load() {
			s.curveTouch(n)
			return v, policy.Hit
		}
		if s.mu.TryLock() {
			if n.prev != s.detached && !n.frozen {
				s.listRemove(n)
				s.pushFront(&s.head, n)
			}
			s.mu.Unlock()
		}
	}
	s.st.Hit()
	return v, policy.Hit
}

// curveTouch is the profiling-mode hit path: accesses to nodes older than
// the marker advance the movement counter and refresh the node's access
// time; younger nodes tick the fast-hit counter, simulating the tier that
// would hold them.
func (s *Shard[V]) curveTouch(n *node[V]) {
	older := n.lastAccess.Load() < s.markerTime.Load()
	if s.mu.TryLock() {
		if n.prev != s.detached && !n.frozen {
			if older {
				s.movement.Add(1)
				n.lastAccess.Store(time.Now().UnixNano())
			}
			s.listRemove(n)
			s.pushFront(&s.head, n)
		}
		s.mu.Unlock()
	}
	if older {
		s.st.Hit()
	} else {
		s.st.FastHit()
	}
}

// Insert stores value under key. It is rejected while inserts are
// disabled (frozen-all or a full-tier construction) and for the
// reserved keys; partial constructions leave inserts on and count the
// churn they cause. While profiling, new nodes splice in just below the
// marker with a fresh access time, so they are neither counted as older
// nor inflate the marker's coverage.
func (s *Shard[V]) Insert(key uint64, value *V) bool {
	if key >= MarkerKey {
		return false
	}
	s.st.Insert()
	if !s.enableInsert.Load() {
		return false
	}

	n := &node[V]{key: key}
	n.val.Store(value)
	n.prev = s.detached
	n.lastAccess.Store(time.Now().UnixNano())

	if existing, loaded := s.idx.LoadOrStore(key, n); loaded {
		existing.val.Store(value)
		return false
	}
	if s.constructing.Load() {
		s.evictionCounter.Add(1)
	}

	u := s.usage.Load()
	evicted := false
	if u >= s.capacity {
		s.evictOne()
		evicted = true
	}

	s.mu.Lock()
	if !s.enableInsert.Load() {
		// A construction went frozen-all between the index store and here;
		// back the entry out.
		s.mu.Unlock()
		s.idx.DeleteIf(key, func(m *node[V]) bool { return m == n })
		if evicted {
			s.usage.Add(^uint64(0))
		}
		return false
	}
	if s.curveFlag.Load() && s.curveMarker != nil && s.curveMarker.prev != s.detached {
		s.insertAfter(n, s.curveMarker)
	} else {
		s.pushFront(&s.head, n)
	}
	s.mu.Unlock()

	if !evicted {
		s.usage.Add(1)
		u = s.usage.Load()
	}
	if u > s.capacity {
		if s.usage.CompareAndSwap(u, u-1) {
			s.evictOne()
		}
	}
	return true
}

// Erase removes key. It is permitted only while the shard is dynamic or
// profiling; in any frozen or constructing state it returns false. A
// node that a concurrent construction already froze is tomb-marked and
// reclaimed by the next walk over the fast list.
func (s *Shard[V]) Erase(key uint64) bool {
	if s.fastReady.Load() || s.frozenAll.Load() || s.constructing.Load() {
		return false
	}
	n, ok := s.idx.Delete(key)
	if !ok {
		return false
	}

	s.mu.Lock()
	if n.prev != s.detached {
		if n.frozen {
			n.tomb.Store(true)
			s.mu.Unlock()
			return true
		}
		s.listRemove(n)
	}
	s.mu.Unlock()

	s.usage.Add(^uint64(0))
	return true
}

// Usage returns the number of resident entries across both tiers.
func (s *Shard[V]) Usage() uint64 { return s.usage.Load() }

// Capacity returns the shard's entry budget.
func (s *Shard[V]) Capacity() uint64 { return s.capacity }

// IsFull reports whether the shard is at or above capacity.
func (s *Shard[V]) IsFull() bool { return s.usage.Load() >= s.capacity }

// Stats exposes the shard's tickers.
func (s *Shard[V]) Stats() *stats.Statistics { return s.st }

// ConstructTier freezes every resident entry into the fast table and
// disables inserts until DeleteFastCache.
func (s *Shard[V]) ConstructTier() error {
	if !s.constructing.CompareAndSwap(false, true) {
		return ErrConstructing
	}
	if s.fastReady.Load() || s.frozenAll.Load() {
		s.constructing.Store(false)
		return ErrNotDynamic
	}
	s.enableInsert.Store(false)

	s.freezeWalk(^uint64(0), ^uint64(0))

	s.frozenAll.Store(true)
	s.fastReady.Store(true)
	s.constructing.Store(false)
	return nil
}

// ConstructFastCache freezes the most-recent ratio*capacity entries into
// the fast table; the remainder stays in the dynamic list. Inserts stay
// enabled during the walk, each one evicting from the dynamic remainder.
// When that churn runs through the whole remainder budget before the
// walk finishes, the shard goes frozen-all instead of frozen-partial.
func (s *Shard[V]) ConstructFastCache(ratio float64) error {
	if ratio <= 0 || ratio > 1 {
		return fmt.Errorf("frozenhot: fast tier ratio %v out of (0, 1]", ratio)
	}
	if !s.constructing.CompareAndSwap(false, true) {
		return ErrConstructing
	}
	if s.fastReady.Load() || s.frozenAll.Load() {
		s.constructing.Store(false)
		return ErrNotDynamic
	}
	s.evictionCounter.Store(0)

	fcSize := uint64(ratio * float64(s.capacity))
	frozenAll := s.freezeWalk(fcSize, s.capacity-fcSize)

	if frozenAll {
		s.enableInsert.Store(false)
		s.frozenAll.Store(true)
	}
	s.fastReady.Store(true)
	s.constructing.Store(false)
	s.evictionCounter.Store(0)
	return nil
}

// walkChunk is how many nodes a freeze walk processes per lock hold.
const walkChunk = 64

// freezeWalk moves up to target entries from the top of the dynamic list
// into the fast table, parking the nodes on the fast list in recency
// order. Tombed nodes and a leftover profiling marker are dropped. The
// lock drops every walkChunk nodes so concurrent inserts can land; once
// dcBudget of them have churned the dynamic remainder the walk freezes
// everything left and reports frozenAll.
func (s *Shard[V]) freezeWalk(target, dcBudget uint64) (frozenAll bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frozen := uint64(0)
	step := 0
	n := s.head.next
	for n != &s.tail && frozen < target {
		if !frozenAll && s.evictionCounter.Load() >= dcBudget {
			frozenAll = true
			target = ^uint64(0)
		}
		next := n.next
		switch {
		case n == s.curveMarker:
			s.listRemove(n)
			s.curveMarker = nil
		case n.tomb.Load():
			s.listRemove(n)
			s.usage.Add(^uint64(0))
		default:
			if s.fast.insert(n.key, n.val.Load()) {
				s.listRemove(n)
				n.frozen = true
				s.pushBack(&s.fastTail, n)
				frozen++
			}
		}
		n = next
		step++
		if step%walkChunk == 0 && n != &s.tail {
			s.mu.Unlock()
			s.mu.Lock()
			if n.prev == s.detached {
				// The cursor node was evicted while the lock was down.
				// Eviction only takes the list tail, so it was last in
				// line and its next pointer still reaches the sentinel.
				n = n.next
			}
		}
	}
	return frozenAll
}

// DeleteFastCache deconstructs the frozen tier: the fast list splices
// back at the head of the dynamic list in its original recency order,
// the fast table is cleared, and inserts are re-enabled.
func (s *Shard[V]) DeleteFastCache() error {
	s.mu.Lock()
	for n := s.fastTail.prev; n != &s.fastHead; {
		prev := n.prev
		s.listRemove(n)
		n.frozen = false
		if n.tomb.Load() {
			s.usage.Add(^uint64(0))
		} else {
			s.pushFront(&s.head, n)
		}
		n = prev
	}
	s.mu.Unlock()

	s.fast.clear()
	s.fastReady.Store(false)
	s.frozenAll.Store(false)
	s.enableInsert.Store(true)
	return nil
}

// GetCurve profiles the miss-ratio curve: a marker sentinel goes in at
// the head, and the movement counter tracks how much of the capacity has
// been touched from below it. Points are sampled at ~curveSamplePoints
// marker positions; profiling exits once the observed hit mass is nearly
// exhausted (fcHit+miss > 0.992 or fcHit > 0.9) or stop is set.
func (s *Shard[V]) GetCurve(stop *atomic.Bool) ([]policy.CurvePoint, error) {
	if s.fastReady.Load() || s.frozenAll.Load() || s.constructing.Load() {
		return nil, ErrNotDynamic
	}

	m := &node[V]{key: MarkerKey}
	m.prev = s.detached
	s.movement.Store(0)
	s.markerTime.Store(time.Now().UnixNano())

	s.mu.Lock()
	s.curveMarker = m
	s.pushFront(&s.head, m)
	s.mu.Unlock()
	s.curveFlag.Store(true)

	baseFH, baseHit, baseMiss, _ := s.st.Counts()
	points := make([]policy.CurvePoint, 0, curveSamplePoints+1)
	nextSample := 1

	for {
		if stop != nil && stop.Load() {
			break
		}
		fh, h, mi, _ := s.st.Counts()
		dFH := fh - baseFH
		dHit := h - baseHit
		dMiss := mi - baseMiss
		total := dFH + dHit + dMiss

		var fcHit, miss float64
		if total > 0 {
			fcHit = float64(dFH) / float64(total)
			miss = float64(dMiss) / float64(total)
		}
		size := float64(s.movement.Load()) / float64(s.capacity)

		for nextSample <= curveSamplePoints && size >= float64(nextSample)/curveSamplePoints {
			points = append(points, policy.CurvePoint{Size: size, FCHit: fcHit, Miss: miss})
			nextSample++
		}

		if total > 0 && (fcHit+miss > 0.992 || fcHit > 0.9) {
			points = append(points, policy.CurvePoint{Size: size, FCHit: fcHit, Miss: miss})
			break
		}
		time.Sleep(time.Millisecond)
	}

	s.curveFlag.Store(false)
	s.mu.Lock()
	if s.curveMarker != nil {
		if s.curveMarker.prev != s.detached {
			s.listRemove(s.curveMarker)
		}
		s.curveMarker = nil
	}
	s.mu.Unlock()
	return points, nil
}

// Status names the current tier state.
func (s *Shard[V]) Status() string {
	switch {
	case s.constructing.Load():
		return "constructing"
	case s.frozenAll.Load():
		return "frozen-all"
	case s.fastReady.Load():
		return "frozen-partial"
	case s.curveFlag.Load():
		return "profiling"
	default:
		return "dynamic"
	}
}

// -------------------- internals --------------------

func (s *Shard[V]) evictOne() {
	s.mu.Lock()
	n := s.tail.prev
	if n == s.curveMarker {
		// never evict the profiling marker
		n = n.prev
	}
	if n == &s.head {
		s.mu.Unlock()
		s.log.Warn().Msg("frozenhot: evict on empty list")
		return
	}
	s.listRemove(n)
	s.mu.Unlock()

	if !s.idx.DeleteIf(n.key, func(m *node[V]) bool { return m == n }) {
		s.log.Warn().Uint64("key", n.key).Msg("frozenhot: presumably unreachable")
	}
}

// pushFront links n right after the given head sentinel (mu held).
func (s *Shard[V]) pushFront(head *node[V], n *node[V]) {
	first := head.next
	n.prev = head
	n.next = first
	first.prev = n
	head.next = n
}

// pushBack links n right before the given tail sentinel (mu held).
func (s *Shard[V]) pushBack(tail *node[V], n *node[V]) {
	last := tail.prev
	n.next = tail
	n.prev = last
	last.next = n
	tail.prev = n
}

// insertAfter links n right after pos (mu held).
func (s *Shard[V]) insertAfter(n, pos *node[V]) {
	next := pos.next
	n.prev = pos
	n.next = next
	next.prev = n
	pos.next = n
}

// listRemove unlinks n and parks it on the out-of-list sentinel (mu held).
func (s *Shard[V]) listRemove(n *node[V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = s.detached
}
