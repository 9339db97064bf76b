package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/smazurov/camrelay/internal/bridge"
	"github.com/smazurov/camrelay/internal/logging"
	"github.com/smazurov/camrelay/internal/relayerr"
)

// DefaultGstLaunch is the gst-launch binary looked up on PATH.
const DefaultGstLaunch = "gst-launch-1.0"

// LaunchEngine runs descriptions with gst-launch-1.0 -m -e.
type LaunchEngine struct {
	opts   Options
	logger logging.Logger
}

// NewLaunchEngine creates a subprocess engine.
func NewLaunchEngine(opts Options) *LaunchEngine {
	if opts.GstLaunch == "" {
		opts.GstLaunch = DefaultGstLaunch
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("pipeline")
	}
	return &LaunchEngine{opts: opts, logger: logger}
}

// Name implements Engine.
func (e *LaunchEngine) Name() string { return EngineLaunch }

// SupportsTaps implements Engine.
func (e *LaunchEngine) SupportsTaps() bool { return false }

// Launch implements Engine. The pipeline is PLAYING as soon as the process
// has started; there is no separate preroll step.
func (e *LaunchEngine) Launch(ctx context.Context, description string) (Handle, error) {
	h := &launchHandle{
		msgs:    make(chan Message, 16),
		stopped: make(chan struct{}),
		logger:  e.logger,
	}
	h.parser = newOutputParser(h.deliver)

	args := append([]string{"-m", "-e"}, LaunchArgs(description)...)
	e.logger.Info("Launching pipeline", "command", e.opts.GstLaunch, "description", description)

	b, err := bridge.Start(ctx, bridge.Config{
		Command:         e.opts.GstLaunch,
		Args:            args,
		Logger:          logging.GetLogger("bridge"),
		ProcessLogger:   logging.GetLogger("gstreamer"),
		LogParser:       ParseLogLevel,
		OutputHandler:   h.parser,
		EOSGrace:        e.opts.EOSGrace,
		GracefulTimeout: e.opts.GracefulTimeout,
	})
	if err != nil {
		return nil, err
	}
	h.bridge = b

	go h.watch()
	return h, nil
}

type launchHandle struct {
	bridge *bridge.Handle
	parser *outputParser
	logger logging.Logger

	msgs     chan Message
	stopped  chan struct{}
	stopOnce sync.Once
}

func (h *launchHandle) deliver(msg Message) {
	select {
	case h.msgs <- msg:
	case <-h.stopped:
	}
}

// watch turns process exit into the end of the message stream. An exit
// without EOS or ERROR is reported as an ERROR.
func (h *launchHandle) watch() {
	<-h.bridge.Done()
	h.bridge.WaitOutput()
	h.parser.Flush()

	eos, failed := h.parser.outcome()
	select {
	case <-h.stopped:
	default:
		if !eos && !failed {
			h.deliver(Message{
				Kind: MessageError,
				Text: fmt.Sprintf("pipeline process exited with code %d", h.bridge.ExitCode()),
			})
		}
	}
	close(h.msgs)
}

// SetState implements Handle.
func (h *launchHandle) SetState(s State) error {
	switch s {
	case StatePlaying:
		if !h.bridge.Alive() {
			return relayerr.New(relayerr.PipelineError, "set_state", "pipeline process is not running")
		}
		return nil
	case StateNull:
		var err error
		h.stopOnce.Do(func() {
			close(h.stopped)
			err = h.bridge.Stop()
		})
		return err
	}
	return fmt.Errorf("unsupported state %s", s)
}

// Messages implements Handle.
func (h *launchHandle) Messages() <-chan Message {
	return h.msgs
}

// Tap implements Handle; gst-launch exposes no buffers.
func (h *launchHandle) Tap(string, func(int)) error {
	return ErrTapUnsupported
}
