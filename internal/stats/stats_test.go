package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// With sampling off, every tick counts exactly once.
func TestCountsExact(t *testing.T) {
	t.Parallel()

	s := NewStatistics()
	s.FastHit()
	s.Hit()
	s.Hit()
	s.Miss()
	s.Miss()
	s.Miss()
	s.Insert()

	fh, h, m, i := s.Counts()
	require.Equal(t, uint64(1), fh)
	require.Equal(t, uint64(2), h)
	require.Equal(t, uint64(3), m)
	require.Equal(t, uint64(1), i)
}

// Step reports deltas relative to the last cursor reset; the tickers
// themselves never move backwards.
func TestStepCursor(t *testing.T) {
	t.Parallel()

	s := NewStatistics()
	s.Hit()
	s.Miss()

	s.ResetCursor()
	fh, h, m, i := s.Step()
	require.Zero(t, fh+h+m+i, "fresh cursor must read zero deltas")

	s.Hit()
	s.Hit()
	s.Insert()
	_, h, _, i = s.Step()
	require.Equal(t, uint64(2), h)
	require.Equal(t, uint64(1), i)

	// Step does not advance the cursor by itself.
	_, h, _, _ = s.Step()
	require.Equal(t, uint64(2), h)

	s.ResetCursor()
	_, h, _, _ = s.Step()
	require.Zero(t, h)
}

// Merge sums tickers across shards.
func TestMerge(t *testing.T) {
	t.Parallel()

	a, b := NewStatistics(), NewStatistics()
	a.Hit()
	a.Miss()
	b.Hit()
	b.Insert()

	fh, h, m, i := Merge(a, b)
	require.Equal(t, uint64(0), fh)
	require.Equal(t, uint64(2), h)
	require.Equal(t, uint64(1), m)
	require.Equal(t, uint64(1), i)
}

// Sampling keeps the total approximately right: each recorded tick is
// worth the sampling stride.
func TestSamplingApproximation(t *testing.T) {
	t.Parallel()

	s := NewStatistics()
	s.EnableSampling()

	const n = 200_000
	for i := 0; i < n; i++ {
		s.Hit()
	}
	_, h, _, _ := s.Counts()
	require.InEpsilon(t, float64(n), float64(h), 0.25)
}

// Concurrent ticking must not lose counts (sampling off).
func TestConcurrentTicks(t *testing.T) {
	t.Parallel()

	s := NewStatistics()
	var wg sync.WaitGroup
	const perWorker = 10_000
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				s.Hit()
			}
		}()
	}
	wg.Wait()
	_, h, _, _ := s.Counts()
	require.Equal(t, uint64(8*perWorker), h)
}
