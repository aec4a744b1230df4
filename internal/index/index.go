// Package index provides a striped concurrent hash index from uint64 keys
// to entry pointers. Striping keeps bucket critical sections short so many
// goroutines can hit the same shard's index without serializing on one lock.
package index

import (
	"runtime"
	"sync"

	"github.com/wxliang123/cache/internal/util"
)

// Map is a striped uint64-keyed concurrent map. The zero value is not
// usable; construct with New.
//
// Keys within one cache shard share a residue class (dispatch is by key
// mod shard count), so bucket selection mixes the key through xxh3 rather
// than using low bits directly.
type Map[V any] struct {
	mask    uint64
	buckets []bucket[V]
}

type bucket[V any] struct {
	mu sync.RWMutex
	m  map[uint64]V
	_  util.CacheLinePad
}

// New builds a Map striped across nextPow2(4*GOMAXPROCS) buckets,
// pre-sizing each bucket map for sizeHint total entries.
func New[V any](sizeHint uint64) *Map[V] {
	n := util.NextPow2(uint64(4 * runtime.GOMAXPROCS(0)))
	m := &Map[V]{
		mask:    n - 1,
		buckets: make([]bucket[V], n),
	}
	per := int(sizeHint / n)
	for i := range m.buckets {
		m.buckets[i].m = make(map[uint64]V, per)
	}
	return m
}

func (m *Map[V]) bucket(key uint64) *bucket[V] {
	return &m.buckets[util.HashUint64(key)&m.mask]
}

// Load returns the value stored for key.
func (m *Map[V]) Load(key uint64) (V, bool) {
	b := m.bucket(key)
	b.mu.RLock()
	v, ok := b.m[key]
	b.mu.RUnlock()
	return v, ok
}

// LoadOrStore returns the existing value for key if present; otherwise it
// stores val. loaded is true if the value was already present.
func (m *Map[V]) LoadOrStore(key uint64, val V) (actual V, loaded bool) {
	b := m.bucket(key)
	b.mu.Lock()
	if v, ok := b.m[key]; ok {
		b.mu.Unlock()
		return v, true
	}
	b.m[key] = val
	b.mu.Unlock()
	return val, false
}

// Store unconditionally maps key to val.
func (m *Map[V]) Store(key uint64, val V) {
	b := m.bucket(key)
	b.mu.Lock()
	b.m[key] = val
	b.mu.Unlock()
}

// Delete removes key and returns the value it mapped to.
func (m *Map[V]) Delete(key uint64) (V, bool) {
	b := m.bucket(key)
	b.mu.Lock()
	v, ok := b.m[key]
	if ok {
		delete(b.m, key)
	}
	b.mu.Unlock()
	return v, ok
}

// DeleteIf removes key only if cond approves the current value. cond runs
// with the bucket lock held, so the checked value cannot be swapped out
// from under the decision.
func (m *Map[V]) DeleteIf(key uint64, cond func(V) bool) bool {
	b := m.bucket(key)
	b.mu.Lock()
	v, ok := b.m[key]
	if ok && cond(v) {
		delete(b.m, key)
		b.mu.Unlock()
		return true
	}
	b.mu.Unlock()
	return false
}

// Len reports the total number of entries. It takes bucket read locks one
// at a time, so the result is approximate under concurrent writers.
func (m *Map[V]) Len() int {
	n := 0
	for i := range m.buckets {
		b := &m.buckets[i]
		b.mu.RLock()
		n += len(b.m)
		b.mu.RUnlock()
	}
	return n
}
