package stats

import (
	"fmt"
	"sort"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DefaultReservoirCap holds 2^30 samples (8 GiB of address space). The
// mapping is anonymous and NORESERVE, so pages materialize only as the
// cursor advances.
const DefaultReservoirCap = 1 << 30

// Reservoir is an append-only latency log backed by an anonymous mmap.
// Append is a single atomic fetch-add plus a relaxed store, cheap enough
// to sit on the lookup path. Once the reservoir fills, further samples
// are dropped.
type Reservoir struct {
	raw []byte
	buf []float64
	cur atomic.Uint64

	// step read cursor, controller-owned
	readCur uint64
}

// NewReservoir maps capacity float64 slots. capacity == 0 picks
// DefaultReservoirCap.
func NewReservoir(capacity uint64) (*Reservoir, error) {
	if capacity == 0 {
		capacity = DefaultReservoirCap
	}
	raw, err := unix.Mmap(-1, 0, int(capacity*8),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("stats: mmap %d samples: %w", capacity, err)
	}
	return &Reservoir{
		raw: raw,
		buf: unsafe.Slice((*float64)(unsafe.Pointer(&raw[0])), capacity),
	}, nil
}

// Append records one sample. Samples beyond capacity are dropped.
func (r *Reservoir) Append(v float64) {
	i := r.cur.Add(1) - 1
	if i < uint64(len(r.buf)) {
		r.buf[i] = v
	}
}

// Len returns the number of recorded samples.
func (r *Reservoir) Len() uint64 {
	n := r.cur.Load()
	if n > uint64(len(r.buf)) {
		return uint64(len(r.buf))
	}
	return n
}

// ResetCursor moves the step cursor to the current end of the log.
func (r *Reservoir) ResetCursor() { r.readCur = r.Len() }

// SizeFromCursor reports how many samples arrived since the last step.
func (r *Reservoir) SizeFromCursor() uint64 {
	return r.Len() - r.readCur
}

// Step averages the samples appended since the previous Step (or
// ResetCursor) and advances the cursor past them.
func (r *Reservoir) Step() (avg float64, n uint64) {
	end := r.Len()
	if end <= r.readCur {
		return 0, 0
	}
	var sum float64
	for _, v := range r.buf[r.readCur:end] {
		sum += v
	}
	n = end - r.readCur
	r.readCur = end
	return sum / float64(n), n
}

// Avg averages every recorded sample.
func (r *Reservoir) Avg() float64 {
	end := r.Len()
	if end == 0 {
		return 0
	}
	var sum float64
	for _, v := range r.buf[:end] {
		sum += v
	}
	return sum / float64(end)
}

// Percentiles sorts a snapshot of the log and reads the requested tail
// points (ps in [0,1]). The snapshot copy keeps concurrent appends from
// racing the sort.
func (r *Reservoir) Percentiles(ps ...float64) []float64 {
	end := r.Len()
	out := make([]float64, len(ps))
	if end == 0 {
		return out
	}
	snap := make([]float64, end)
	copy(snap, r.buf[:end])
	sort.Float64s(snap)
	for i, p := range ps {
		idx := int(p * float64(end-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= int(end) {
			idx = int(end) - 1
		}
		out[i] = snap[idx]
	}
	return out
}

// Close releases the mapping. The reservoir must not be used afterwards.
func (r *Reservoir) Close() error {
	if r.raw == nil {
		return nil
	}
	err := unix.Munmap(r.raw)
	r.raw, r.buf = nil, nil
	return err
}
