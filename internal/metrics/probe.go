// Package metrics instruments the relay with windowed throughput and frame
// rate probes and forwards the results to pluggable sinks.
//
// A Probe owns any number of taps. Each tap accumulates bytes and frames
// from any goroutine and, once per window, turns them into an Observation
// using the measured time since the previous reset.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/smazurov/camrelay/internal/events"
	"github.com/smazurov/camrelay/internal/logging"
	"github.com/smazurov/camrelay/internal/relayerr"
)

// Defaults.
const (
	DefaultWindow      = time.Second
	DefaultHistorySize = 5
)

// TapKind selects which quantities a tap reports.
type TapKind int

// Tap kinds. A tap may combine both.
const (
	TapBytes TapKind = 1 << iota
	TapFrames
)

// Has reports whether k includes other.
func (k TapKind) Has(other TapKind) bool {
	return k&other != 0
}

// Observation is the result of one window of one tap.
type Observation struct {
	Probe     string
	StreamID  string
	Kind      TapKind
	Timestamp time.Time
	Elapsed   time.Duration
	Bytes     int64
	Frames    int64

	BandwidthMbps float64
	Rate          float64
	AvgFrameBytes float64

	// Rolling averages over the last HistorySize windows with data.
	AvgBandwidthMbps float64
	AvgRate          float64

	NoData bool
}

// Probe drives the taps of one stream.
type Probe struct {
	streamID string
	logger   logging.Logger
	bus      *events.Bus
	sink     Sink
	now      func() time.Time
	history  int

	mu      sync.Mutex
	taps    []*Tap
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// Option configures a Probe.
type Option func(*Probe)

// WithLogger sets the probe logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Probe) { p.logger = l }
}

// WithBus publishes every observation as an events.ObservationEvent.
func WithBus(bus *events.Bus) Option {
	return func(p *Probe) { p.bus = bus }
}

// WithSink forwards numeric observations to s.
func WithSink(s Sink) Option {
	return func(p *Probe) { p.sink = s }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Probe) { p.now = now }
}

// WithHistory sets how many windows feed the rolling averages.
func WithHistory(n int) Option {
	return func(p *Probe) {
		if n > 0 {
			p.history = n
		}
	}
}

// NewProbe creates a probe for streamID.
func NewProbe(streamID string, opts ...Option) *Probe {
	p := &Probe{
		streamID: streamID,
		logger:   logging.GetLogger("metrics"),
		now:      time.Now,
		history:  DefaultHistorySize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Attach registers a tap. A non-positive window uses DefaultWindow. Taps
// attached after Start get their timer immediately.
func (p *Probe) Attach(name string, kind TapKind, window time.Duration) *Tap {
	if window <= 0 {
		window = DefaultWindow
	}
	t := &Tap{
		name:     name,
		kind:     kind,
		window:   window,
		probe:    p,
		start:    p.now(),
		bwHist:   newRing(p.history),
		rateHist: newRing(p.history),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.taps = append(p.taps, t)
	if p.running {
		p.startTapLocked(t)
	}
	return t
}

// Start runs one window timer per tap until ctx ends or Stop is called.
func (p *Probe) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	now := p.now()
	for _, t := range p.taps {
		t.reset(now)
		p.startTapLocked(t)
	}
	p.logger.Debug("Probe started", "stream", p.streamID, "taps", len(p.taps))
}

func (p *Probe) startTapLocked(t *Tap) {
	ctx := p.ctx
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(t.window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.report(t.flush())
			}
		}
	}()
}

// Stop cancels the timers and waits for them to return. Safe to call more
// than once and before Start.
func (p *Probe) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Debug("Probe stopped", "stream", p.streamID)
}

// Flush closes the current window of every tap immediately and reports it.
func (p *Probe) Flush() []Observation {
	p.mu.Lock()
	taps := append([]*Tap(nil), p.taps...)
	p.mu.Unlock()

	out := make([]Observation, 0, len(taps))
	for _, t := range taps {
		obs := t.flush()
		p.report(obs)
		out = append(out, obs)
	}
	return out
}

func (p *Probe) report(o Observation) {
	p.publish(o)

	if o.NoData {
		p.logger.Info("No frames received in the last interval", "stream", o.StreamID, "probe", o.Probe, "elapsed", o.Elapsed)
	} else {
		p.logRates(o)
	}

	if p.sink == nil {
		return
	}
	for _, v := range o.values() {
		if err := p.sink.Export(v.name, v.value, o.Timestamp); err != nil {
			wrapped := relayerr.Wrap(relayerr.SinkExportFailed, "export", "metrics sink rejected value", err).With("metric", v.name)
			p.logger.Warn("Failed to export metric", "error", wrapped)
		}
	}
}

func (p *Probe) logRates(o Observation) {
	if o.Kind.Has(TapBytes) {
		p.logger.Info("Bandwidth",
			"stream", o.StreamID,
			"probe", o.Probe,
			"mbps", round(o.BandwidthMbps, 3),
			"avg_mbps", round(o.AvgBandwidthMbps, 3),
			"avg_frame_bytes", round(o.AvgFrameBytes, 0))
	}
	if o.Kind.Has(TapFrames) {
		p.logger.Info("Frame rate",
			"stream", o.StreamID,
			"probe", o.Probe,
			"fps", round(o.Rate, 2),
			"avg_fps", round(o.AvgRate, 2))
	}
}

func (p *Probe) publish(o Observation) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.ObservationEvent{
		Stream:           o.StreamID,
		Probe:            o.Probe,
		NoData:           o.NoData,
		Bytes:            o.Bytes,
		Frames:           o.Frames,
		ElapsedSeconds:   o.Elapsed.Seconds(),
		BandwidthMbps:    o.BandwidthMbps,
		Rate:             o.Rate,
		AvgFrameBytes:    o.AvgFrameBytes,
		AvgBandwidthMbps: o.AvgBandwidthMbps,
		AvgRate:          o.AvgRate,
		Timestamp:        o.Timestamp.Format(time.RFC3339Nano),
	})
}

type namedValue struct {
	name  string
	value float64
}

// Metric name suffixes. Every window exports <probe>_no_data; the rate
// metrics are exported only for windows that saw data.
const (
	SuffixNoData           = "_no_data"
	SuffixBandwidthMbps    = "_bandwidth_mbps"
	SuffixAvgBandwidthMbps = "_avg_bandwidth_mbps"
	SuffixAvgFrameBytes    = "_avg_frame_bytes"
	SuffixFPS              = "_fps"
	SuffixAvgFPS           = "_avg_fps"
)

// rateSuffixes are the metrics a stalled window invalidates.
var rateSuffixes = []string{
	SuffixBandwidthMbps,
	SuffixAvgBandwidthMbps,
	SuffixAvgFrameBytes,
	SuffixFPS,
	SuffixAvgFPS,
}

// values lists the exported metrics of o, named <probe>_<metric>.
func (o Observation) values() []namedValue {
	if o.NoData {
		return []namedValue{{o.Probe + SuffixNoData, 1}}
	}
	var vs []namedValue
	if o.Kind.Has(TapBytes) {
		vs = append(vs,
			namedValue{o.Probe + SuffixBandwidthMbps, o.BandwidthMbps},
			namedValue{o.Probe + SuffixAvgBandwidthMbps, o.AvgBandwidthMbps},
			namedValue{o.Probe + SuffixAvgFrameBytes, o.AvgFrameBytes},
		)
	}
	if o.Kind.Has(TapFrames) {
		vs = append(vs,
			namedValue{o.Probe + SuffixFPS, o.Rate},
			namedValue{o.Probe + SuffixAvgFPS, o.AvgRate},
		)
	}
	return append(vs, namedValue{o.Probe + SuffixNoData, 0})
}
