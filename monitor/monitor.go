// Package monitor drives the FrozenHot tier lifecycle for a cache
// instance: it waits for the workload to stabilize, profiles the
// miss-ratio curve, picks the fast-tier size that minimizes expected
// latency, constructs the tier, and watches the frozen run until the
// benefit depletes and the tier must come down. For caches running a
// policy without a frozen tier the controller degenerates to a periodic
// statistics logger.
package monitor

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/wxliang123/cache/internal/stats"
	"github.com/wxliang123/cache/policy"
)

// Config carries the controller tunables. The zero value picks the
// defaults below; all of them are heuristics, not invariants.
type Config struct {
	// CheckInterval paces the frozen-monitoring and construct polls.
	CheckInterval time.Duration // default 100ms
	// WaitStableInterval paces the warm-up observation loop.
	WaitStableInterval time.Duration // default 500ms
	// WaitStableThreshold is how many consecutive samples with
	// non-decreasing miss ratio and non-increasing size declare stability.
	WaitStableThreshold int // default 2
	// FastPerformanceMargin is the fraction by which a frozen tier must
	// beat the baseline to be worth keeping.
	FastPerformanceMargin float64 // default 0.2
	// PassThreshold is how many post-construct check passes must succeed.
	PassThreshold int // default 3
	// DropThreshold seeds the performance-depletion score.
	DropThreshold float64 // default 2
	// FrozenThreshold forces a tier refresh after
	// construct_step*FrozenThreshold frozen steps.
	FrozenThreshold uint64 // default 100
	// LowSuitabilityGate rejects fast-tier sizes below this fraction.
	LowSuitabilityGate float64 // default 0.05
	// SleepThreshold is the inter-cycle sleep; it grows 8x on an unsuited
	// workload or a depleted tier and halves after a well-performing run.
	SleepThreshold time.Duration // default 2s
}

func (c Config) withDefaults() Config {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 100 * time.Millisecond
	}
	if c.WaitStableInterval <= 0 {
		c.WaitStableInterval = 500 * time.Millisecond
	}
	if c.WaitStableThreshold <= 0 {
		c.WaitStableThreshold = 2
	}
	if c.FastPerformanceMargin <= 0 {
		c.FastPerformanceMargin = 0.2
	}
	if c.PassThreshold <= 0 {
		c.PassThreshold = 3
	}
	if c.DropThreshold <= 0 {
		c.DropThreshold = 2
	}
	if c.FrozenThreshold == 0 {
		c.FrozenThreshold = 100
	}
	if c.LowSuitabilityGate <= 0 {
		c.LowSuitabilityGate = 0.05
	}
	if c.SleepThreshold <= 0 {
		c.SleepThreshold = 2 * time.Second
	}
	return c
}

type state int

const (
	stateWaitStable state = iota
	stateProfile
	stateConstruct
	stateFrozen
	stateDeconstruct
	stateSleep
	stateDone
)

func (s state) String() string {
	switch s {
	case stateWaitStable:
		return "wait-stable"
	case stateProfile:
		return "profile"
	case stateConstruct:
		return "construct"
	case stateFrozen:
		return "frozen"
	case stateDeconstruct:
		return "deconstruct"
	case stateSleep:
		return "sleep"
	default:
		return "done"
	}
}

// Controller is the per-cache monitor. Run executes on its own goroutine
// until the stop flag flips.
type Controller[V any] struct {
	cfg    Config
	kind   policy.Kind
	shards []policy.Shard[V]

	hitLat   *stats.Reservoir
	otherLat *stats.Reservoir

	clk  clock.Clock
	stop *atomic.Bool
	log  zerolog.Logger

	// step cursors over the merged shard tickers
	prevFastHit, prevHit, prevMiss uint64

	sleepThreshold time.Duration

	// carried between phases
	bestSize           float64
	baselineWithMargin float64
	constructStep      uint64
}

// New builds a controller over the cache's shards and latency
// reservoirs. clk may be a mock for tests; nil picks the real clock.
func New[V any](kind policy.Kind, shards []policy.Shard[V], hitLat, otherLat *stats.Reservoir,
	stop *atomic.Bool, clk clock.Clock, log zerolog.Logger, cfg Config) *Controller[V] {
	if clk == nil {
		clk = clock.New()
	}
	cfg = cfg.withDefaults()
	return &Controller[V]{
		cfg:            cfg,
		kind:           kind,
		shards:         shards,
		hitLat:         hitLat,
		otherLat:       otherLat,
		clk:            clk,
		stop:           stop,
		log:            log,
		sleepThreshold: cfg.SleepThreshold,
	}
}

// Run drives the state machine until the stop flag flips. Every
// transition re-checks the flag, so Stop is honored within one poll.
func (c *Controller[V]) Run() {
	if c.kind != policy.FrozenHot {
		c.printLoop()
		return
	}

	st := stateWaitStable
	for st != stateDone && !c.stop.Load() {
		c.log.Debug().Stringer("state", st).Msg("monitor: enter state")
		switch st {
		case stateWaitStable:
			st = c.waitStable()
		case stateProfile:
			st = c.profile()
		case stateConstruct:
			st = c.construct()
		case stateFrozen:
			st = c.frozen()
		case stateDeconstruct:
			st = c.deconstruct()
		case stateSleep:
			st = c.sleepPhase()
		}
	}
	c.log.Debug().Msg("monitor: stopped")
}

// printLoop is the degenerate controller for policies without a frozen
// tier: warm up until stable, then log step statistics every second.
func (c *Controller[V]) printLoop() {
	c.waitStable()
	for !c.stop.Load() {
		if !c.sleep(time.Second) {
			return
		}
		miss, _ := c.stepMissRatio()
		avg, n := c.stepLatency()
		c.log.Info().
			Float64("miss_ratio", miss).
			Float64("avg_lat_ns", avg).
			Uint64("step", n).
			Msg("monitor: step")
	}
}

// waitStable samples miss ratio and occupancy until the miss ratio is
// non-decreasing while the size is non-increasing for
// WaitStableThreshold consecutive samples.
func (c *Controller[V]) waitStable() state {
	lastMiss := 1.0
	var lastSize, size uint64
	waits := 0

	for !c.stop.Load() {
		miss, total := c.stepMissRatio()
		c.stepLatency() // advance the latency cursors alongside

		if lastSize >= size && lastMiss <= miss && total > 0 {
			waits++
		} else {
			waits = 0
		}
		if waits >= c.cfg.WaitStableThreshold {
			c.log.Info().
				Float64("miss_ratio", miss).
				Uint64("size", size).
				Msg("monitor: stable")
			return stateProfile
		}
		lastSize = size
		size = c.size()
		lastMiss = miss
		if !c.sleep(c.cfg.WaitStableInterval) {
			break
		}
	}
	return stateDone
}

// profile draws the miss-ratio curve on shard 0, measures the four
// latency components, and picks the fast-tier size minimizing the
// expected request latency. Unsuited workloads back off to sleep.
func (c *Controller[V]) profile() state {
	pts, err := c.shards[0].GetCurve(c.stop)
	if err != nil {
		c.log.Warn().Err(err).Msg("monitor: curve profiling failed")
		return stateSleep
	}
	if c.stop.Load() {
		return stateDone
	}

	// Baseline: dynamic-tier hit latency and miss latency.
	for c.otherLat.SizeFromCursor() < 5 && !c.stop.Load() {
		if !c.sleep(c.cfg.WaitStableInterval) {
			return stateDone
		}
	}
	dcHitLat, _ := c.hitLat.Step()
	missLat, _ := c.otherLat.Step()

	// 100%-frozen probe: fast-tier hit latency and disk latency.
	for _, sh := range c.shards {
		if err := sh.ConstructTier(); err != nil {
			c.log.Warn().Err(err).Msg("monitor: tier probe construct failed")
		}
	}
	c.stepMissRatio()
	c.stepLatency()
	if !c.sleep(c.cfg.WaitStableInterval) {
		return stateDone
	}
	frozenMiss, _ := c.stepMissRatio()
	fcHitLat, fcN := c.hitLat.Step()
	diskLat, otherN := c.otherLat.Step()
	var frozenAvg float64
	if fcN+otherN > 0 {
		frozenAvg = (fcHitLat*float64(fcN) + diskLat*float64(otherN)) / float64(fcN+otherN)
	}
	for _, sh := range c.shards {
		if err := sh.DeleteFastCache(); err != nil {
			c.log.Warn().Err(err).Msg("monitor: tier probe teardown failed")
		}
	}
	c.log.Info().
		Float64("dc_hit_lat", dcHitLat).
		Float64("miss_lat", missLat).
		Float64("fc_hit_lat", fcHitLat).
		Float64("disk_lat", diskLat).
		Float64("frozen_miss", frozenMiss).
		Msg("monitor: latency components")

	// Expected latency per curve point; size 0 is the no-tier baseline
	// discounted by the performance margin it would have to beat.
	bestAvg := math.Inf(1)
	bestSize := 0.0
	for i, pt := range pts {
		size := pt.Size
		var avg float64
		if size < 0.01 {
			avg = pt.Miss*missLat + (1-pt.Miss)*dcHitLat
			avg /= 1 + c.cfg.FastPerformanceMargin
			size = 0
		} else {
			if i == len(pts)-1 && size > 0.65 {
				size = 1
			}
			avg = pt.FCHit*fcHitLat + pt.Miss*(missLat+fcHitLat) +
				(1-pt.FCHit-pt.Miss)*(fcHitLat+dcHitLat)
		}
		if avg < bestAvg {
			bestAvg = avg
			bestSize = size
		}
	}
	if frozenAvg > 0 && frozenAvg < bestAvg {
		bestAvg = frozenAvg
		bestSize = 1
	}
	c.bestSize = bestSize
	c.log.Info().
		Float64("best_size", bestSize).
		Float64("best_avg", bestAvg).
		Int("curve_points", len(pts)).
		Msg("monitor: profiling done")

	if bestSize < c.cfg.LowSuitabilityGate {
		c.sleepThreshold *= 8
		c.log.Info().
			Dur("sleep_threshold", c.sleepThreshold).
			Msg("monitor: workload unsuited for a fast tier")
		return stateSleep
	}
	return stateConstruct
}

// construct measures the pre-construct baseline, builds the tier at the
// chosen size, and verifies over PassThreshold passes that the frozen
// cache beats the baseline by the required margin.
func (c *Controller[V]) construct() state {
	for c.stepSize() < 100 && !c.stop.Load() {
		if !c.sleep(c.cfg.CheckInterval) {
			return stateDone
		}
	}
	if c.stop.Load() {
		return stateDone
	}
	baseline, n := c.stepLatency()
	c.constructStep = n
	c.baselineWithMargin = baseline / (1 + c.cfg.FastPerformanceMargin)
	c.log.Info().
		Float64("baseline", baseline).
		Float64("baseline_with_margin", c.baselineWithMargin).
		Msg("monitor: construct baseline")

	var err error
	for _, sh := range c.shards {
		if c.bestSize > 0.99 {
			err = sh.ConstructTier()
		} else {
			err = sh.ConstructFastCache(c.bestSize)
		}
		if err != nil {
			c.log.Warn().Err(err).Msg("monitor: construct failed")
			return stateDeconstruct
		}
	}
	c.stepMissRatio()
	c.stepLatency()

	for pass := 0; pass < c.cfg.PassThreshold; pass++ {
		if c.stop.Load() {
			return stateDone
		}
		if !c.sleep(c.cfg.CheckInterval) {
			return stateDone
		}
		perf, stepN := c.stepLatency()
		c.constructStep += stepN
		if stepN > 0 && perf > c.baselineWithMargin {
			c.log.Info().
				Float64("perf", perf).
				Float64("baseline_with_margin", c.baselineWithMargin).
				Int("pass", pass).
				Msg("monitor: construct check failed")
			for _, sh := range c.shards {
				_ = sh.DeleteFastCache()
			}
			return stateWaitStable
		}
	}
	if c.constructStep == 0 {
		c.constructStep = 1
	}
	return stateFrozen
}

// frozen watches the running tier. The depletion score starts at the
// drop threshold and absorbs the per-step performance delta against the
// baseline; when it runs out the tier comes down. Long well-performing
// runs trigger a periodic refresh instead.
func (c *Controller[V]) frozen() state {
	depletion := c.cfg.DropThreshold
	var baselineStep, sumStep, nowStep uint64
	first := true

	for !c.stop.Load() {
		for c.stepSize() < 50 && !c.stop.Load() {
			if !c.sleep(c.cfg.CheckInterval) {
				return stateDone
			}
		}
		if c.stop.Load() {
			return stateDone
		}
		perf, stepN := c.stepLatency()
		if stepN == 0 {
			continue
		}
		if first {
			baselineStep = stepN
			first = false
		}
		delta := (c.baselineWithMargin - perf) / c.baselineWithMargin *
			float64(stepN) / float64(baselineStep)
		depletion += delta

		if depletion <= 0 {
			c.sleepThreshold *= 8
			c.log.Info().
				Float64("depletion", depletion).
				Dur("sleep_threshold", c.sleepThreshold).
				Msg("monitor: tier benefit depleted")
			return stateDeconstruct
		}

		sumStep += stepN
		nowStep += stepN
		if sumStep > c.constructStep*c.cfg.FrozenThreshold {
			// Periodic refresh of a well-performing tier.
			c.log.Info().Uint64("frozen_steps", sumStep).Msg("monitor: periodic tier refresh")
			for _, sh := range c.shards {
				_ = sh.DeleteFastCache()
			}
			if !c.sleep(time.Second) {
				return stateDone
			}
			if c.sleepThreshold >= 2*time.Second {
				c.sleepThreshold /= 2
			}
			return stateConstruct
		}
		if nowStep > c.constructStep {
			if depletion > c.cfg.DropThreshold {
				// Cap the accumulated benefit so a later degradation is
				// noticed within one construct-worth of steps.
				depletion = c.cfg.DropThreshold
				nowStep = 0
			} else {
				c.log.Info().Uint64("frozen_steps", sumStep).Msg("monitor: tier refresh")
				for _, sh := range c.shards {
					_ = sh.DeleteFastCache()
				}
				if !c.sleep(time.Second) {
					return stateDone
				}
				return stateConstruct
			}
		}
	}
	return stateDone
}

func (c *Controller[V]) deconstruct() state {
	for _, sh := range c.shards {
		if err := sh.DeleteFastCache(); err != nil {
			c.log.Warn().Err(err).Msg("monitor: deconstruct failed")
		}
	}
	return stateSleep
}

// sleepPhase idles for the current sleep threshold in one-second,
// stop-aware slices before the next cycle.
func (c *Controller[V]) sleepPhase() state {
	remaining := c.sleepThreshold
	for remaining > 0 {
		if c.stop.Load() {
			return stateDone
		}
		d := time.Second
		if remaining < d {
			d = remaining
		}
		if !c.sleep(d) {
			return stateDone
		}
		remaining -= d
		c.stepMissRatio()
		c.stepLatency()
	}
	return stateWaitStable
}

// -------------------- measurements --------------------

// stepMissRatio returns the miss ratio over the tickers accumulated
// since the previous call, advancing the controller's cursors.
func (c *Controller[V]) stepMissRatio() (miss float64, total uint64) {
	fh, h, m, _ := stats.Merge(c.statsOf()...)
	dFH := fh - c.prevFastHit
	dHit := h - c.prevHit
	dMiss := m - c.prevMiss
	c.prevFastHit, c.prevHit, c.prevMiss = fh, h, m

	total = dFH + dHit + dMiss
	if total == 0 {
		return 1, 0
	}
	return float64(dMiss) / float64(total), total
}

// stepLatency merges the hit and other reservoir steps into one weighted
// average, advancing both cursors.
func (c *Controller[V]) stepLatency() (avg float64, n uint64) {
	hitAvg, hitN := c.hitLat.Step()
	otherAvg, otherN := c.otherLat.Step()
	n = hitN + otherN
	if n == 0 {
		return 0, 0
	}
	return (hitAvg*float64(hitN) + otherAvg*float64(otherN)) / float64(n), n
}

// stepSize reports the latency samples accumulated since the last step.
func (c *Controller[V]) stepSize() uint64 {
	return c.hitLat.SizeFromCursor() + c.otherLat.SizeFromCursor()
}

func (c *Controller[V]) size() uint64 {
	var total uint64
	for _, sh := range c.shards {
		total += sh.Usage()
	}
	return total
}

func (c *Controller[V]) statsOf() []*stats.Statistics {
	out := make([]*stats.Statistics, len(c.shards))
	for i, sh := range c.shards {
		out[i] = sh.Stats()
	}
	return out
}

// sleep blocks for d on the controller clock; it returns false when the
// stop flag flipped while sleeping.
func (c *Controller[V]) sleep(d time.Duration) bool {
	c.clk.Sleep(d)
	return !c.stop.Load()
}
