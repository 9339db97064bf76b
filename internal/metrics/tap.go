package metrics

import (
	"math"
	"sync"
	"time"
)

// Tap accumulates bytes and frames for one measurement point.
type Tap struct {
	name   string
	kind   TapKind
	window time.Duration
	probe  *Probe

	mu      sync.Mutex
	bytes   int64
	frames  int64
	records int64
	start   time.Time

	bwHist   *ring
	rateHist *ring
}

// Name returns the tap name.
func (t *Tap) Name() string {
	return t.name
}

// Record counts one frame of n bytes. Safe from any goroutine.
func (t *Tap) Record(n int) {
	t.Add(n, 1)
}

// Add counts n bytes and frames frames as one record. Packet-level callers
// use it to add bytes without closing a frame.
func (t *Tap) Add(n, frames int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.bytes += int64(n)
	t.frames += int64(frames)
	t.records++
	t.mu.Unlock()
}

func (t *Tap) reset(now time.Time) {
	t.mu.Lock()
	t.bytes, t.frames, t.records, t.start = 0, 0, 0, now
	t.mu.Unlock()
}

// flush reads and resets the window under the tap mutex, then derives the
// observation from the measured elapsed time.
func (t *Tap) flush() Observation {
	now := t.probe.now()

	t.mu.Lock()
	bytes, frames, records, start := t.bytes, t.frames, t.records, t.start
	t.bytes, t.frames, t.records, t.start = 0, 0, 0, now
	t.mu.Unlock()

	elapsed := now.Sub(start)
	o := Observation{
		Probe:     t.name,
		StreamID:  t.probe.streamID,
		Kind:      t.kind,
		Timestamp: now,
		Elapsed:   elapsed,
		Bytes:     bytes,
		Frames:    frames,
	}

	if records == 0 || elapsed <= 0 {
		o.NoData = true
		return o
	}

	secs := elapsed.Seconds()
	o.BandwidthMbps = float64(bytes) * 8 / (secs * 1e6)
	o.Rate = float64(frames) / secs
	if frames > 0 {
		o.AvgFrameBytes = float64(bytes) / float64(frames)
	}
	o.AvgBandwidthMbps = t.bwHist.push(o.BandwidthMbps)
	o.AvgRate = t.rateHist.push(o.Rate)
	return o
}

// ring keeps the last n values and their mean. Only touched from flush.
type ring struct {
	mu   sync.Mutex
	vals []float64
	next int
	full bool
}

func newRing(n int) *ring {
	return &ring{vals: make([]float64, n)}
}

func (r *ring) push(v float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.vals[r.next] = v
	r.next = (r.next + 1) % len(r.vals)
	if r.next == 0 {
		r.full = true
	}

	n := r.next
	if r.full {
		n = len(r.vals)
	}
	var sum float64
	for _, x := range r.vals[:n] {
		sum += x
	}
	return sum / float64(n)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
