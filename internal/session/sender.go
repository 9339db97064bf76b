package session

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/smazurov/camrelay/internal/bridge"
	"github.com/smazurov/camrelay/internal/capture"
	"github.com/smazurov/camrelay/internal/codec"
	"github.com/smazurov/camrelay/internal/devices"
	"github.com/smazurov/camrelay/internal/events"
	"github.com/smazurov/camrelay/internal/logging"
	"github.com/smazurov/camrelay/internal/metrics"
	"github.com/smazurov/camrelay/internal/pipeline"
	"github.com/smazurov/camrelay/internal/relayerr"
	"github.com/smazurov/camrelay/internal/shutdown"
)

// Sender defaults.
const (
	DefaultNoFrameBackoff  = 10 * time.Millisecond
	DefaultLoopExitTimeout = 2 * time.Second
)

// SenderConfig configures a sender run.
type SenderConfig struct {
	Common

	Capture  capture.Config
	Quality  int
	Pipeline pipeline.SenderParams

	GstLaunch       string
	EOSGrace        time.Duration
	GracefulTimeout time.Duration

	// Command replaces the gst-launch invocation entirely when set.
	Command string
	Args    []string

	// Detector watches the opened V4L2 node for removal; nil disables.
	Detector devices.DeviceDetector

	NoFrameBackoff  time.Duration
	LoopExitTimeout time.Duration
}

// Sender captures, encodes and writes frames into the encoder subprocess.
type Sender struct {
	cfg    SenderConfig
	logger logging.Logger
	open   func(context.Context, capture.Config) (capture.Source, error)
}

// NewSender creates a sender.
func NewSender(cfg SenderConfig) *Sender {
	if cfg.GstLaunch == "" {
		cfg.GstLaunch = pipeline.DefaultGstLaunch
	}
	if cfg.NoFrameBackoff <= 0 {
		cfg.NoFrameBackoff = DefaultNoFrameBackoff
	}
	if cfg.LoopExitTimeout <= 0 {
		cfg.LoopExitTimeout = DefaultLoopExitTimeout
	}
	return &Sender{cfg: cfg, logger: logging.GetLogger("session"), open: capture.Open}
}

// Run relays until a stop trigger fires and returns the terminal result.
// The source is opened before the bridge so a missing camera never spawns
// an encoder.
func (s *Sender) Run(ctx context.Context) shutdown.Result {
	sess := newSession(s.cfg.Common, s.logger)
	s.logger.Info("Starting sender", "session_id", sess.id, "stream", sess.stream)

	src, err := s.open(ctx, s.cfg.Capture)
	if err != nil {
		return sess.failed("capture", err)
	}

	command, args := s.command()
	b, err := bridge.Start(context.WithoutCancel(ctx), bridge.Config{
		Command:         command,
		Args:            args,
		ProcessLogger:   logging.GetLogger("gstreamer"),
		LogParser:       pipeline.ParseLogLevel,
		EOSGrace:        s.cfg.EOSGrace,
		GracefulTimeout: s.cfg.GracefulTimeout,
	})
	if err != nil {
		_ = src.Close()
		return sess.failed("bridge", err)
	}

	var (
		probe *metrics.Probe
		tap   *metrics.Tap
	)
	if s.cfg.Monitoring {
		probe = newProbe(s.cfg.Common, logging.GetLogger("metrics"))
		tap = probe.Attach("bridge", metrics.TapBytes|metrics.TapFrames, s.cfg.Window)
		probe.Start(ctx)
	}

	coord := sess.coord
	loopDone := make(chan struct{})

	coord.OnStop("capture_loop", s.cfg.LoopExitTimeout, func() error {
		<-loopDone
		return nil
	})
	coord.OnStop("bridge", 0, b.Stop)
	coord.OnStop("source", 0, src.Close)
	if probe != nil {
		coord.OnStop("probe", 0, stopProbe(probe))
	}

	sess.start(ctx, s.cfg.Common)
	s.logger.Info("Sender running", "session_id", sess.id, "device", src.Info().String(), "pid", b.PID())

	go s.watchBridge(coord, b)
	s.watchRemoval(ctx, sess, src.Info())

	go func() {
		defer close(loopDone)
		s.loop(coord, src, b, tap)
	}()

	return coord.Wait()
}

func (s *Sender) command() (string, []string) {
	if s.cfg.Command != "" {
		return s.cfg.Command, s.cfg.Args
	}
	desc := pipeline.SenderDescription(s.cfg.Pipeline)
	s.logger.Info("Sender pipeline", "description", desc)
	return s.cfg.GstLaunch, append([]string{"-e"}, pipeline.LaunchArgs(desc)...)
}

// loop runs next_frame -> encode -> write until the token stops it or a
// fatal error triggers the coordinator.
func (s *Sender) loop(coord *shutdown.Coordinator, src capture.Source, b *bridge.Handle, tap *metrics.Tap) {
	token := coord.Token()
	quality := codec.ClampQuality(s.cfg.Quality)
	var dropped uint64

	for !token.Stopping() {
		frame, err := src.NextFrame()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			s.logger.Info("Capture source ended")
			coord.Trigger(shutdown.ReasonEndOfStream, nil)
			return
		case relayerr.IsCode(err, relayerr.NoFrame):
			select {
			case <-token.Done():
				return
			case <-time.After(s.cfg.NoFrameBackoff):
			}
			continue
		default:
			coord.Trigger(shutdown.ReasonCaptureFailed, err)
			return
		}

		enc, err := codec.Encode(frame, quality)
		if err != nil {
			dropped++
			s.logger.Warn("Dropping frame", "seq", frame.Seq, "dropped", dropped, "error", err)
			continue
		}

		if err := b.Write(enc.Data); err != nil {
			coord.Trigger(shutdown.ReasonBridgeBroken, err)
			return
		}
		tap.Record(len(enc.Data))
	}
}

// watchBridge turns an unexpected encoder exit into a BridgeBroken stop.
func (s *Sender) watchBridge(coord *shutdown.Coordinator, b *bridge.Handle) {
	select {
	case <-b.Done():
		err := relayerr.New(relayerr.BridgeBroken, "watch", "encoder process exited").
			With("pid", b.PID()).With("exit_code", b.ExitCode())
		coord.Trigger(shutdown.ReasonBridgeBroken, err)
	case <-coord.Token().Done():
	}
}

// watchRemoval stops the session when the opened V4L2 node disappears.
func (s *Sender) watchRemoval(ctx context.Context, sess *session, info capture.DeviceInfo) {
	if s.cfg.Detector == nil || info.Driver != capture.DriverV4L2 || info.Path == "" {
		return
	}

	watchCtx, cancel := context.WithCancel(ctx)
	removed, err := s.cfg.Detector.WatchRemoval(watchCtx, info.Path)
	if err != nil {
		cancel()
		s.logger.Warn("Device removal watch unavailable", "device", info.Path, "error", err)
		return
	}

	go func() {
		defer cancel()
		select {
		case <-removed:
			sess.bus.Publish(events.DeviceEvent{
				Action:     "remove",
				DevicePath: info.Path,
				Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
			})
			err := relayerr.New(relayerr.CaptureFailed, "watch", "capture device removed").With("device", info.Path)
			sess.coord.Trigger(shutdown.ReasonCaptureFailed, err)
		case <-sess.coord.Token().Done():
		case <-watchCtx.Done():
		}
	}()
}
