package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"

	"github.com/smazurov/camrelay/internal/events"
	"github.com/smazurov/camrelay/internal/ingress"
	"github.com/smazurov/camrelay/internal/pipeline"
	"github.com/smazurov/camrelay/internal/relayerr"
	"github.com/smazurov/camrelay/internal/shutdown"
)

type fakeHandle struct {
	msgs chan pipeline.Message

	mu      sync.Mutex
	taps    map[string]func(int)
	playing bool
	nulls   int
	once    sync.Once
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{msgs: make(chan pipeline.Message, 8), taps: make(map[string]func(int))}
}

func (h *fakeHandle) SetState(s pipeline.State) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch s {
	case pipeline.StatePlaying:
		h.playing = true
	case pipeline.StateNull:
		h.nulls++
		h.once.Do(func() { close(h.msgs) })
	}
	return nil
}

func (h *fakeHandle) Messages() <-chan pipeline.Message { return h.msgs }

func (h *fakeHandle) Tap(element string, fn func(int)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.taps[element] = fn
	return nil
}

func (h *fakeHandle) tap(element string) func(int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.taps[element]
}

type fakeEngine struct {
	taps      bool
	launchErr error
	handle    *fakeHandle

	mu          sync.Mutex
	description string
}

func (e *fakeEngine) Name() string       { return "fake" }
func (e *fakeEngine) SupportsTaps() bool { return e.taps }

func (e *fakeEngine) Launch(_ context.Context, desc string) (pipeline.Handle, error) {
	e.mu.Lock()
	e.description = desc
	e.mu.Unlock()
	if e.launchErr != nil {
		return nil, e.launchErr
	}
	return e.handle, nil
}

func testReceiverParams() pipeline.ReceiverParams {
	return pipeline.ReceiverParams{
		Port: 5554, Width: 640, Height: 480, Bitrate: 2000, SpeedPreset: "medium",
		SrtHost: "127.0.0.1", SrtPort: 8890, StreamName: "cam",
	}
}

func TestReceiverEOSIsCleanStop(t *testing.T) {
	h := newFakeHandle()
	r := NewReceiver(ReceiverConfig{
		Common:   Common{Stream: "cam"},
		Pipeline: testReceiverParams(),
		Engine:   &fakeEngine{handle: h},
	})

	h.msgs <- pipeline.Message{Kind: pipeline.MessageWarning, Text: "late buffers"}
	h.msgs <- pipeline.Message{Kind: pipeline.MessageEOS, Source: "pipeline0"}

	res := runWithTimeout(t, func() shutdown.Result { return r.Run(context.Background()) })

	if res.Reason != shutdown.ReasonEndOfStream || res.ExitCode != shutdown.ExitOK {
		t.Errorf("result = %+v", res)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.playing || h.nulls != 1 {
		t.Errorf("playing=%v nulls=%d", h.playing, h.nulls)
	}
}

func TestReceiverErrorExitsWithPipelineCode(t *testing.T) {
	bus := events.New()
	defer bus.Close()

	got := make(chan events.PipelineMessageEvent, 4)
	unsub := bus.Subscribe(func(e events.PipelineMessageEvent) { got <- e })
	defer unsub()

	h := newFakeHandle()
	r := NewReceiver(ReceiverConfig{
		Common:   Common{Stream: "cam", Bus: bus},
		Pipeline: testReceiverParams(),
		Engine:   &fakeEngine{handle: h},
	})
	h.msgs <- pipeline.Message{Kind: pipeline.MessageError, Source: "srtsink0", Text: "Failed to open SRT", Debug: "gstsrtsink.c"}

	res := runWithTimeout(t, func() shutdown.Result { return r.Run(context.Background()) })

	if res.Reason != shutdown.ReasonPipelineError || res.ExitCode != shutdown.ExitPipelineError {
		t.Errorf("result = %+v", res)
	}
	if !relayerr.IsCode(res.Cause, relayerr.PipelineError) {
		t.Errorf("cause = %v", res.Cause)
	}

	select {
	case e := <-got:
		if e.Kind != "error" || e.Source != "srtsink0" {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline message not published")
	}
}

func TestReceiverLaunchFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"bridge start", relayerr.New(relayerr.BridgeStartFailed, "start", "spawn failed"), shutdown.ExitBridgeStartFailed},
		{"plain error", errors.New("no element srtsink"), shutdown.ExitPipelineError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReceiver(ReceiverConfig{
				Common:   Common{Stream: "cam"},
				Pipeline: testReceiverParams(),
				Engine:   &fakeEngine{launchErr: tt.err},
			})
			res := runWithTimeout(t, func() shutdown.Result { return r.Run(context.Background()) })
			if res.ExitCode != tt.code {
				t.Errorf("exit code = %d, want %d", res.ExitCode, tt.code)
			}
		})
	}
}

func TestReceiverStreamClosedWithoutEOS(t *testing.T) {
	h := newFakeHandle()
	r := NewReceiver(ReceiverConfig{
		Common:   Common{Stream: "cam"},
		Pipeline: testReceiverParams(),
		Engine:   &fakeEngine{handle: h},
	})
	h.once.Do(func() { close(h.msgs) })

	res := runWithTimeout(t, func() shutdown.Result { return r.Run(context.Background()) })
	if res.ExitCode != shutdown.ExitPipelineError {
		t.Errorf("result = %+v", res)
	}
}

func TestReceiverEngineTaps(t *testing.T) {
	bus := events.New()
	defer bus.Close()

	obs := make(chan events.ObservationEvent, 64)
	unsub := bus.Subscribe(func(e events.ObservationEvent) {
		select {
		case obs <- e:
		default:
		}
	})
	defer unsub()

	h := newFakeHandle()
	r := NewReceiver(ReceiverConfig{
		Common: Common{
			Stream:     "cam",
			Bus:        bus,
			Monitoring: true,
			Window:     20 * time.Millisecond,
		},
		Pipeline: testReceiverParams(),
		Engine:   &fakeEngine{handle: h, taps: true},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan shutdown.Result, 1)
	go func() { done <- r.Run(ctx) }()

	waitFor(t, "taps", func() bool { return h.tap(pipeline.ElementSource) != nil && h.tap(pipeline.ElementDecoder) != nil })

	deadline := time.After(3 * time.Second)
	seen := map[string]bool{}
	for !seen[TapIngress] || !seen[TapDecoder] {
		h.tap(pipeline.ElementSource)(1400)
		h.tap(pipeline.ElementDecoder)(0)
		select {
		case e := <-obs:
			if !e.NoData {
				seen[e.Probe] = true
			}
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			t.Fatalf("observations seen: %v", seen)
		}
	}

	cancel()
	res := <-done
	if res.Reason != shutdown.ReasonSignal {
		t.Errorf("result = %+v", res)
	}
}

func TestReceiverInsertsIngressRelay(t *testing.T) {
	bus := events.New()
	defer bus.Close()

	obs := make(chan events.ObservationEvent, 64)
	unsub := bus.Subscribe(func(e events.ObservationEvent) {
		select {
		case obs <- e:
		default:
		}
	})
	defer unsub()

	public, err := ingress.FreeLoopbackPort()
	if err != nil {
		t.Fatal(err)
	}
	params := testReceiverParams()
	params.Port = public

	h := newFakeHandle()
	engine := &fakeEngine{handle: h}
	r := NewReceiver(ReceiverConfig{
		Common: Common{
			Stream:     "cam",
			Bus:        bus,
			Monitoring: true,
			Window:     20 * time.Millisecond,
		},
		Pipeline:   params,
		Engine:     engine,
		ListenHost: "127.0.0.1",
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan shutdown.Result, 1)
	go func() { done <- r.Run(ctx) }()

	waitFor(t, "launch", func() bool {
		engine.mu.Lock()
		defer engine.mu.Unlock()
		return engine.description != ""
	})
	engine.mu.Lock()
	desc := engine.description
	engine.mu.Unlock()

	if !strings.Contains(desc, "address=127.0.0.1") || strings.Contains(desc, fmt.Sprintf("port=%d ", public)) {
		t.Errorf("engine should listen on a private loopback port, got %q", desc)
	}

	conn, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", public))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	pkt, err := (&rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 26, Marker: true},
		Payload: make([]byte, 1000),
	}).Marshal()
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	seen := map[string]bool{}
	for !seen[TapIngress] || !seen[TapDecoder] {
		_, _ = conn.Write(pkt)
		select {
		case e := <-obs:
			if !e.NoData {
				seen[e.Probe] = true
			}
		case <-time.After(5 * time.Millisecond):
		case <-deadline:
			t.Fatalf("observations seen: %v", seen)
		}
	}

	cancel()
	if res := <-done; res.ExitCode != shutdown.ExitOK {
		t.Errorf("result = %+v", res)
	}
}
