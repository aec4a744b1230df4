package frozenhot

import (
	"sync/atomic"

	"github.com/wxliang123/cache/internal/util"
)

// Bucket states of the fast table. A bucket moves empty -> inserting ->
// occupied during construction and back to empty on Clear; occupied
// buckets are immutable while the tier is frozen, so reads never lock.
const (
	slotEmpty uint32 = iota
	slotInserting
	slotOccupied
)

type fastSlot[V any] struct {
	state atomic.Uint32
	key   atomic.Uint64
	val   atomic.Pointer[V]
}

// fastTable is a fixed-capacity open-addressed hash table with linear
// probing. Writes happen only on the constructing controller goroutine;
// reads are lock-free and permitted at any time.
type fastTable[V any] struct {
	mask  uint64
	slots []fastSlot[V]
}

// newFastTable sizes the table at 1 << (ceilLog2(capacity)+1), at least
// twice the entry budget, so probe chains stay short.
func newFastTable[V any](capacity uint64) *fastTable[V] {
	n := util.NextPow2(capacity) << 1
	if n < 2 {
		n = 2
	}
	return &fastTable[V]{
		mask:  n - 1,
		slots: make([]fastSlot[V], n),
	}
}

// insert claims a bucket for (key, val). It returns false when the key is
// already present or the table is full.
func (t *fastTable[V]) insert(key uint64, val *V) bool {
	i := util.HashUint64(key) & t.mask
	for probes := uint64(0); probes <= t.mask; probes++ {
		s := &t.slots[i]
		if s.state.CompareAndSwap(slotEmpty, slotInserting) {
			s.key.Store(key)
			s.val.Store(val)
			s.state.Store(slotOccupied)
			return true
		}
		if s.state.Load() == slotOccupied && s.key.Load() == key {
			return false
		}
		i = (i + 1) & t.mask
	}
	return false
}

// lookup probes for key. The probe stops at the first empty bucket; the
// table is never mutated while frozen, so an empty bucket proves absence.
func (t *fastTable[V]) lookup(key uint64) (*V, bool) {
	i := util.HashUint64(key) & t.mask
	for probes := uint64(0); probes <= t.mask; probes++ {
		s := &t.slots[i]
		st := s.state.Load()
		if st == slotEmpty {
			return nil, false
		}
		if st == slotOccupied && s.key.Load() == key {
			return s.val.Load(), true
		}
		i = (i + 1) & t.mask
	}
	return nil, false
}

// clear resets every bucket to empty. Keys and values are left behind;
// the state word alone decides visibility.
func (t *fastTable[V]) clear() {
	for i := range t.slots {
		t.slots[i].state.Store(slotEmpty)
	}
}
