// Package stats holds the per-shard hit/miss tickers and the latency
// reservoir the controller reads when deciding whether a frozen tier
// still pays for itself.
package stats

import (
	"math/rand/v2"

	"github.com/wxliang123/cache/internal/util"
)

// Statistics is a set of monotonic tickers, one per access outcome, each
// padded to its own cache line. Readers that want per-step deltas keep a
// cursor (ResetCursor / Step); the tickers themselves never reset.
type Statistics struct {
	fastHit util.PaddedAtomicUint64
	hit     util.PaddedAtomicUint64
	miss    util.PaddedAtomicUint64
	insert  util.PaddedAtomicUint64

	// sampling ticks ~1% of calls and adds 100 per recorded tick, keeping
	// totals approximately right at a fraction of the atomic traffic.
	sampling bool

	// Step cursors. Single reader (the controller); no synchronization.
	curFastHit uint64
	curHit     uint64
	curMiss    uint64
	curInsert  uint64
}

// NewStatistics returns tickers with sampling disabled (every call counts).
func NewStatistics() *Statistics {
	return &Statistics{}
}

// EnableSampling switches the tickers to 1% sampling. Call before the
// shard goes live; the flag is not synchronized.
func (s *Statistics) EnableSampling() { s.sampling = true }

func (s *Statistics) tick(c *util.PaddedAtomicUint64) {
	if s.sampling {
		if rand.Uint64N(100) != 0 {
			return
		}
		c.Add(100)
		return
	}
	c.Add(1)
}

// FastHit records a hit served by the frozen fast table.
func (s *Statistics) FastHit() { s.tick(&s.fastHit) }

// Hit records a hit served by the dynamic tier.
func (s *Statistics) Hit() { s.tick(&s.hit) }

// Miss records a lookup that found nothing.
func (s *Statistics) Miss() { s.tick(&s.miss) }

// Insert records an insert call, whether it adds a new key or updates an
// existing one.
func (s *Statistics) Insert() { s.tick(&s.insert) }

// Counts returns the current ticker values.
func (s *Statistics) Counts() (fastHit, hit, miss, insert uint64) {
	return s.fastHit.Load(), s.hit.Load(), s.miss.Load(), s.insert.Load()
}

// ResetCursor snaps the step cursors to the current ticker values.
func (s *Statistics) ResetCursor() {
	s.curFastHit, s.curHit, s.curMiss, s.curInsert = s.Counts()
}

// Step returns the ticker deltas since the last ResetCursor without
// advancing the cursors.
func (s *Statistics) Step() (fastHit, hit, miss, insert uint64) {
	fh, h, m, i := s.Counts()
	return fh - s.curFastHit, h - s.curHit, m - s.curMiss, i - s.curInsert
}

// Merge sums the tickers of every given Statistics into one aggregate
// snapshot. Used when printing whole-cache totals across shards.
func Merge(snaps ...*Statistics) (fastHit, hit, miss, insert uint64) {
	for _, s := range snaps {
		fh, h, m, i := s.Counts()
		fastHit += fh
		hit += h
		miss += m
		insert += i
	}
	return
}
