package segment

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wxliang123/cache/policy"
)

func vp(v int) *int { return &v }

func newTestShard(capacity, slots, minSegs uint64) *Shard[int] {
	return New[int](capacity, Config{SlotsPerSegment: slots, MinSegments: minSegs})
}

// Basic insert/lookup/update semantics.
func TestInsertAndLookup(t *testing.T) {
	t.Parallel()

	s := newTestShard(8, 4, 2)
	require.True(t, s.Insert(1, vp(10)))
	require.False(t, s.Insert(1, vp(11)))
	require.Equal(t, uint64(1), s.Usage())

	v, res := s.Lookup(1)
	require.Equal(t, policy.Hit, res)
	require.Equal(t, 11, *v)

	_, res = s.Lookup(2)
	require.Equal(t, policy.Miss, res)
}

// Filling past capacity reclaims the whole tail segment at once, so the
// oldest slot-full of keys disappears together.
func TestWholeTailEviction(t *testing.T) {
	t.Parallel()

	s := newTestShard(6, 4, 2)
	for k := uint64(1); k <= 9; k++ {
		s.Insert(k, vp(int(k)))
	}

	// Keys 1-4 shared the tail segment and were evicted together.
	for k := uint64(1); k <= 4; k++ {
		_, res := s.Lookup(k)
		require.Equal(t, policy.Miss, res, "key %d", k)
	}
	for k := uint64(5); k <= 9; k++ {
		_, res := s.Lookup(k)
		require.Equal(t, policy.Hit, res, "key %d", k)
	}
	require.Equal(t, uint64(5), s.Usage())
}

// A lookup records recency by appending a fresh slot, so a promoted key
// survives the eviction of the segment holding its stale slot.
func TestPromotionOutlivesStaleSlot(t *testing.T) {
	t.Parallel()

	s := newTestShard(4, 2, 2)
	s.Insert(1, vp(1))
	s.Insert(2, vp(2)) // segment A = {1, 2}
	s.Insert(3, vp(3)) // rotates; segment B
	s.Insert(4, vp(4)) // fills B

	// Promote key 1: its newest slot moves to a fresh head segment.
	_, res := s.Lookup(1)
	require.Equal(t, policy.Hit, res)

	s.Insert(5, vp(5)) // overflow evicts segment A

	_, res = s.Lookup(1)
	require.Equal(t, policy.Hit, res, "promoted key must survive")
	_, res = s.Lookup(2)
	require.Equal(t, policy.Miss, res, "unpromoted neighbor must go")
	for k := uint64(3); k <= 5; k++ {
		_, res = s.Lookup(k)
		require.Equal(t, policy.Hit, res, "key %d", k)
	}
}

// Eviction refuses to shrink the list below the minimum segment floor,
// even when over budget.
func TestMinSegmentsFloor(t *testing.T) {
	t.Parallel()

	s := newTestShard(2, 2, 2)
	for k := uint64(1); k <= 4; k++ {
		s.Insert(k, vp(int(k)))
	}
	// Over budget but only two segments exist: nothing can be reclaimed.
	require.Equal(t, uint64(4), s.Usage())
	require.Equal(t, uint64(2), s.NumSegments())
}

// Erase unmaps the key immediately; the charge is released only when the
// last slot referencing the entry is reclaimed with its segment.
func TestEraseDefersCharge(t *testing.T) {
	t.Parallel()

	s := newTestShard(8, 4, 2)
	s.Insert(1, vp(1))
	s.Insert(2, vp(2))

	require.True(t, s.Erase(1))
	require.False(t, s.Erase(1))
	_, res := s.Lookup(1)
	require.Equal(t, policy.Miss, res)

	// The slot still holds a reference, so the charge is not yet freed.
	require.Equal(t, uint64(2), s.Usage())
}

// Segment shards have no frozen tier.
func TestTierHooksUnsupported(t *testing.T) {
	t.Parallel()

	s := newTestShard(8, 4, 2)
	require.ErrorIs(t, s.ConstructTier(), policy.ErrNotSupported)
	require.ErrorIs(t, s.ConstructFastCache(0.5), policy.ErrNotSupported)
	require.ErrorIs(t, s.DeleteFastCache(), policy.ErrNotSupported)
	curve, err := s.GetCurve(nil)
	require.Nil(t, curve)
	require.ErrorIs(t, err, policy.ErrNotSupported)
	require.Equal(t, "dynamic", s.Status())
}

// Concurrent inserts, promotions and erases must not corrupt the log or
// leak usage without bound.
func TestConcurrentChurn(t *testing.T) {
	t.Parallel()

	s := New[int](1_024, Config{SlotsPerSegment: 128, MinSegments: 2})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			for i := uint64(0); i < 10_000; i++ {
				k := (seed*31 + i) % 2_048
				switch i % 16 {
				case 15:
					s.Erase(k)
				case 14:
					s.Insert(k, vp(int(k)))
				default:
					s.Lookup(k)
				}
			}
		}(uint64(w))
	}
	wg.Wait()

	// Stale slots may pin erased entries, but every live charge is held
	// by a slot in a live segment or by the index.
	require.LessOrEqual(t, s.Usage(), s.NumSegments()*128+2_048)
}
