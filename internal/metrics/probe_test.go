package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/camrelay/internal/events"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu     sync.Mutex
	values map[string]float64
	err    error
}

func (s *recordingSink) Export(name string, value float64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]float64)
	}
	s.values[name] = value
	return s.err
}

func (s *recordingSink) get(name string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[name]
	return v, ok
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestWindowBandwidthAndRate(t *testing.T) {
	clock := newFakeClock()
	sink := &recordingSink{}
	p := NewProbe("cam", WithClock(clock.Now), WithSink(sink), WithLogger(discardLogger()))
	tap := p.Attach("bridge", TapBytes|TapFrames, time.Second)

	for i := 0; i < 30; i++ {
		tap.Record(20000)
	}
	clock.Advance(time.Second)

	obs := p.Flush()
	if len(obs) != 1 {
		t.Fatalf("got %d observations, want 1", len(obs))
	}
	o := obs[0]

	if o.NoData {
		t.Fatal("unexpected NoData")
	}
	if !approx(o.BandwidthMbps, 4.8) {
		t.Errorf("bandwidth = %v, want 4.8", o.BandwidthMbps)
	}
	if !approx(o.Rate, 30) {
		t.Errorf("rate = %v, want 30", o.Rate)
	}
	if !approx(o.AvgFrameBytes, 20000) {
		t.Errorf("avg frame bytes = %v, want 20000", o.AvgFrameBytes)
	}

	if v, ok := sink.get("bridge_bandwidth_mbps"); !ok || !approx(v, 4.8) {
		t.Errorf("sink bandwidth = %v (%v)", v, ok)
	}
	if v, ok := sink.get("bridge_fps"); !ok || !approx(v, 30) {
		t.Errorf("sink fps = %v (%v)", v, ok)
	}
}

func TestBandwidthUsesMeasuredElapsed(t *testing.T) {
	clock := newFakeClock()
	p := NewProbe("cam", WithClock(clock.Now), WithLogger(discardLogger()))
	tap := p.Attach("ingress", TapBytes, time.Second)

	tap.Record(250000)
	// A late timer: the window actually lasted 1.25s.
	clock.Advance(1250 * time.Millisecond)

	o := p.Flush()[0]
	if !approx(o.BandwidthMbps, 1.6) {
		t.Errorf("bandwidth = %v, want 1.6", o.BandwidthMbps)
	}
	if o.Elapsed != 1250*time.Millisecond {
		t.Errorf("elapsed = %v", o.Elapsed)
	}
}

func TestConstantRateConverges(t *testing.T) {
	clock := newFakeClock()
	p := NewProbe("cam", WithClock(clock.Now), WithLogger(discardLogger()))
	tap := p.Attach("ingress", TapBytes, time.Second)

	// R = 125,000 bytes/s spread over 25 frames per window.
	const rate = 125000
	for w := 0; w < 8; w++ {
		for i := 0; i < 25; i++ {
			tap.Record(rate / 25)
		}
		clock.Advance(time.Second)
		o := p.Flush()[0]

		want := 8.0 * rate / 1e6
		if !approx(o.BandwidthMbps, want) || !approx(o.AvgBandwidthMbps, want) {
			t.Fatalf("window %d: bandwidth=%v avg=%v, want %v", w, o.BandwidthMbps, o.AvgBandwidthMbps, want)
		}
	}
}

func TestZeroRecordsIsNoData(t *testing.T) {
	clock := newFakeClock()
	sink := &recordingSink{}
	p := NewProbe("cam", WithClock(clock.Now), WithSink(sink), WithLogger(discardLogger()))
	p.Attach("decoder", TapFrames, time.Second)

	clock.Advance(time.Second)
	o := p.Flush()[0]

	if !o.NoData {
		t.Fatal("expected NoData")
	}
	if o.Rate != 0 || o.BandwidthMbps != 0 {
		t.Errorf("NoData observation carries values: %+v", o)
	}
	if v, ok := sink.get("decoder_no_data"); !ok || v != 1 {
		t.Errorf("decoder_no_data = %v, %v, want 1", v, ok)
	}
	if _, ok := sink.get("decoder_fps"); ok {
		t.Errorf("NoData must not export rates, got %v", sink.values)
	}
}

func TestStalledWindowAfterTrafficIsVisible(t *testing.T) {
	clock := newFakeClock()
	sink := &recordingSink{}
	p := NewProbe("cam", WithClock(clock.Now), WithSink(sink), WithLogger(discardLogger()))
	tap := p.Attach("bridge", TapBytes|TapFrames, time.Second)

	for i := 0; i < 30; i++ {
		tap.Record(20000)
	}
	clock.Advance(time.Second)
	p.Flush()

	if v, _ := sink.get("bridge_no_data"); v != 0 {
		t.Errorf("bridge_no_data = %v after a window with data, want 0", v)
	}
	if v, _ := sink.get("bridge_bandwidth_mbps"); !approx(v, 4.8) {
		t.Errorf("bridge_bandwidth_mbps = %v, want 4.8", v)
	}

	clock.Advance(time.Second)
	if o := p.Flush()[0]; !o.NoData {
		t.Fatalf("empty window should be NoData, got %+v", o)
	}
	if v, _ := sink.get("bridge_no_data"); v != 1 {
		t.Errorf("bridge_no_data = %v after an empty window, want 1", v)
	}

	tap.Record(20000)
	clock.Advance(time.Second)
	p.Flush()
	if v, _ := sink.get("bridge_no_data"); v != 0 {
		t.Errorf("bridge_no_data = %v after recovery, want 0", v)
	}
}

func TestBytesWithoutFrameEndStillReportBandwidth(t *testing.T) {
	clock := newFakeClock()
	p := NewProbe("cam", WithClock(clock.Now), WithLogger(discardLogger()))
	tap := p.Attach("ingress", TapBytes, time.Second)

	tap.Add(125000, 0)
	clock.Advance(time.Second)

	o := p.Flush()[0]
	if o.NoData || !approx(o.BandwidthMbps, 1) {
		t.Errorf("observation = %+v", o)
	}
	if o.Rate != 0 || o.AvgFrameBytes != 0 {
		t.Errorf("no frames closed, got rate=%v avg=%v", o.Rate, o.AvgFrameBytes)
	}
}

func TestRollingHistory(t *testing.T) {
	clock := newFakeClock()
	p := NewProbe("cam", WithClock(clock.Now), WithHistory(2), WithLogger(discardLogger()))
	tap := p.Attach("decoder", TapFrames, time.Second)

	for _, frames := range []int{10, 20, 40} {
		for i := 0; i < frames; i++ {
			tap.Record(0)
		}
		clock.Advance(time.Second)
		p.Flush()
	}

	tap.Record(0)
	clock.Advance(time.Second)
	o := p.Flush()[0]
	// History of two: (40 + 1) / 2.
	if !approx(o.AvgRate, 20.5) {
		t.Errorf("avg rate = %v, want 20.5", o.AvgRate)
	}
}

func TestSinkErrorIsSwallowed(t *testing.T) {
	clock := newFakeClock()
	sink := &recordingSink{err: errors.New("unreachable")}
	p := NewProbe("cam", WithClock(clock.Now), WithSink(sink), WithLogger(discardLogger()))
	tap := p.Attach("bridge", TapBytes, time.Second)

	tap.Record(100)
	clock.Advance(time.Second)

	if o := p.Flush()[0]; o.NoData {
		t.Error("sink failure must not change the observation")
	}
	if _, ok := sink.get("bridge_bandwidth_mbps"); !ok {
		t.Error("sink should still have been called")
	}
}

func TestObservationsPublishedOnBus(t *testing.T) {
	bus := events.New()
	defer bus.Close()

	got := make(chan events.ObservationEvent, 4)
	unsub := bus.Subscribe(func(e events.ObservationEvent) { got <- e })
	defer unsub()

	clock := newFakeClock()
	p := NewProbe("cam", WithClock(clock.Now), WithBus(bus), WithLogger(discardLogger()))
	p.Attach("decoder", TapFrames, time.Second)
	clock.Advance(time.Second)
	p.Flush()

	select {
	case e := <-got:
		if !e.NoData || e.Stream != "cam" || e.Probe != "decoder" {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no observation event")
	}
}

func TestStartStopTimers(t *testing.T) {
	sink := &recordingSink{}
	p := NewProbe("cam", WithSink(sink), WithLogger(discardLogger()))
	tap := p.Attach("bridge", TapBytes|TapFrames, 20*time.Millisecond)

	p.Start(context.Background())

	deadline := time.After(2 * time.Second)
	for {
		tap.Record(1000)
		if _, ok := sink.get("bridge_fps"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timer never reported")
		case <-time.After(5 * time.Millisecond):
		}
	}

	done := make(chan struct{})
	go func() {
		p.Stop()
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop hung")
	}
}

func TestStopBeforeStart(_ *testing.T) {
	p := NewProbe("cam", WithLogger(discardLogger()))
	p.Stop()
}

func TestConcurrentRecord(t *testing.T) {
	clock := newFakeClock()
	p := NewProbe("cam", WithClock(clock.Now), WithLogger(discardLogger()))
	tap := p.Attach("bridge", TapBytes, time.Second)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				tap.Record(10)
			}
		}()
	}
	wg.Wait()
	clock.Advance(time.Second)

	o := p.Flush()[0]
	if o.Frames != 8000 || o.Bytes != 80000 {
		t.Errorf("frames=%d bytes=%d", o.Frames, o.Bytes)
	}
}
