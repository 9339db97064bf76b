//go:build gst

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/smazurov/camrelay/internal/logging"
	"github.com/smazurov/camrelay/internal/relayerr"
)

// busPollInterval bounds how long a bus poll blocks so stop stays responsive.
const busPollInterval = 50 * time.Millisecond

// GstEngine runs pipelines in-process through go-gst.
type GstEngine struct {
	logger logging.Logger
}

var gstInitOnce sync.Once

func newGstEngine(opts Options) (Engine, error) {
	gstInitOnce.Do(func() { gst.Init(nil) })
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("pipeline")
	}
	return &GstEngine{logger: logger}, nil
}

// Name implements Engine.
func (e *GstEngine) Name() string { return EngineGst }

// SupportsTaps implements Engine.
func (e *GstEngine) SupportsTaps() bool { return true }

// Launch implements Engine. The pipeline is parsed but left in NULL until
// SetState(StatePlaying), so taps can be attached first.
func (e *GstEngine) Launch(ctx context.Context, description string) (Handle, error) {
	p, err := gst.NewPipelineFromString(description)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.PipelineError, "launch", "cannot parse pipeline description", err)
	}

	pctx, cancel := context.WithCancel(ctx)
	h := &gstHandle{
		pipeline: p,
		logger:   e.logger,
		msgs:     make(chan Message, 16),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go h.pollBus(pctx)

	e.logger.Info("Pipeline created", "engine", EngineGst, "description", description)
	return h, nil
}

type gstHandle struct {
	pipeline *gst.Pipeline
	logger   logging.Logger

	msgs     chan Message
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func (h *gstHandle) pollBus(ctx context.Context) {
	defer close(h.done)
	defer close(h.msgs)

	bus := h.pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(busPollInterval)
		if msg == nil {
			continue
		}

		var out *Message
		switch msg.Type() {
		case gst.MessageEOS:
			out = &Message{Kind: MessageEOS, Source: msg.Source()}
		case gst.MessageError:
			gerr := msg.ParseError()
			out = &Message{Kind: MessageError, Source: msg.Source(), Text: gerr.Error(), Debug: gerr.DebugString()}
		case gst.MessageWarning:
			gerr := msg.ParseWarning()
			out = &Message{Kind: MessageWarning, Source: msg.Source(), Text: gerr.Error(), Debug: gerr.DebugString()}
		case gst.MessageStateChanged:
			if msg.Source() == h.pipeline.GetName() {
				oldState, newState := msg.ParseStateChanged()
				h.logger.Debug("Pipeline state changed", "from", oldState.String(), "to", newState.String())
			}
		}
		msg.Unref()

		if out != nil {
			select {
			case h.msgs <- *out:
			case <-ctx.Done():
				return
			}
		}
	}
}

// SetState implements Handle.
func (h *gstHandle) SetState(s State) error {
	switch s {
	case StatePlaying:
		if err := h.pipeline.SetState(gst.StatePlaying); err != nil {
			return relayerr.Wrap(relayerr.PipelineError, "set_state", "cannot start pipeline", err)
		}
		return nil
	case StateNull:
		var err error
		h.stopOnce.Do(func() {
			err = h.pipeline.SetState(gst.StateNull)
			h.cancel()
			<-h.done
		})
		return err
	}
	return fmt.Errorf("unsupported state %s", s)
}

// Messages implements Handle.
func (h *gstHandle) Messages() <-chan Message {
	return h.msgs
}

// Tap implements Handle with a buffer probe on the element's src pad.
func (h *gstHandle) Tap(element string, fn func(int)) error {
	el, err := h.pipeline.GetElementByName(element)
	if err != nil || el == nil {
		return fmt.Errorf("element %q not found in pipeline", element)
	}
	pad := el.GetStaticPad("src")
	if pad == nil {
		return fmt.Errorf("element %q has no src pad", element)
	}

	pad.AddProbe(gst.PadProbeTypeBuffer, func(_ *gst.Pad, info *gst.PadProbeInfo) gst.PadProbeReturn {
		if buf := info.GetBuffer(); buf != nil {
			fn(int(buf.GetSize()))
		}
		return gst.PadProbeOK
	})
	h.logger.Debug("Buffer tap installed", "element", element)
	return nil
}
