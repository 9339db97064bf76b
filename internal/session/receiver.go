package session

import (
	"context"
	"fmt"
	"time"

	"github.com/smazurov/camrelay/internal/events"
	"github.com/smazurov/camrelay/internal/ingress"
	"github.com/smazurov/camrelay/internal/logging"
	"github.com/smazurov/camrelay/internal/metrics"
	"github.com/smazurov/camrelay/internal/pipeline"
	"github.com/smazurov/camrelay/internal/relayerr"
	"github.com/smazurov/camrelay/internal/shutdown"
)

// Probe tap names on the receiver.
const (
	TapIngress = "ingress"
	TapDecoder = "decoder"
)

// DefaultPipelineStopTimeout bounds the pipeline teardown stage.
const DefaultPipelineStopTimeout = 10 * time.Second

// ReceiverConfig configures a receiver run.
type ReceiverConfig struct {
	Common

	Pipeline pipeline.ReceiverParams
	Engine   pipeline.Engine

	// ListenHost is the address the ingress relay binds when the engine
	// cannot tap buffers itself. Empty binds all interfaces.
	ListenHost string

	PipelineStopTimeout time.Duration
}

// Receiver runs the receive/transcode/publish pipeline.
type Receiver struct {
	cfg    ReceiverConfig
	logger logging.Logger
}

// NewReceiver creates a receiver.
func NewReceiver(cfg ReceiverConfig) *Receiver {
	if cfg.PipelineStopTimeout <= 0 {
		cfg.PipelineStopTimeout = DefaultPipelineStopTimeout
	}
	return &Receiver{cfg: cfg, logger: logging.GetLogger("session")}
}

// Run launches the pipeline and consumes its bus until a stop trigger fires.
func (r *Receiver) Run(ctx context.Context) shutdown.Result {
	sess := newSession(r.cfg.Common, r.logger)
	r.logger.Info("Starting receiver", "session_id", sess.id, "stream", sess.stream, "engine", r.cfg.Engine.Name())

	params := r.cfg.Pipeline

	var (
		probe               *metrics.Probe
		ingressTap, decoder *metrics.Tap
		relay               *ingress.Relay
	)
	if r.cfg.Monitoring {
		probe = newProbe(r.cfg.Common, logging.GetLogger("metrics"))
		ingressTap = probe.Attach(TapIngress, metrics.TapBytes, r.cfg.Window)
		decoder = probe.Attach(TapDecoder, metrics.TapFrames, r.cfg.Window)

		if !r.cfg.Engine.SupportsTaps() {
			var err error
			relay, params, err = r.insertRelay(params, ingressTap, decoder)
			if err != nil {
				return sess.failed("ingress", err)
			}
		}
	}

	h, err := r.cfg.Engine.Launch(context.WithoutCancel(ctx), pipeline.ReceiverDescription(params))
	if err != nil {
		if relay != nil {
			_ = relay.Close()
		}
		if relayerr.CodeOf(err) == "" {
			err = relayerr.Wrap(relayerr.PipelineError, "launch", "cannot launch pipeline", err)
		}
		return sess.failed("pipeline", err)
	}

	if probe != nil && relay == nil {
		if err := h.Tap(pipeline.ElementSource, ingressTap.Record); err != nil {
			r.logger.Warn("Ingress tap unavailable", "error", err)
		}
		if err := h.Tap(pipeline.ElementDecoder, decoder.Record); err != nil {
			r.logger.Warn("Decoder tap unavailable", "error", err)
		}
	}

	coord := sess.coord
	coord.OnStop("pipeline", r.cfg.PipelineStopTimeout, func() error {
		return h.SetState(pipeline.StateNull)
	})
	if relay != nil {
		coord.OnStop("ingress", 0, relay.Close)
	}
	if probe != nil {
		coord.OnStop("probe", 0, stopProbe(probe))
	}

	sess.start(ctx, r.cfg.Common)

	if probe != nil {
		probe.Start(ctx)
	}
	if relay != nil {
		go func() {
			if err := relay.Run(ctx); err != nil {
				r.logger.Warn("Ingress relay stopped", "error", err)
			}
		}()
	}

	go r.consume(sess, h.Messages())

	if err := h.SetState(pipeline.StatePlaying); err != nil {
		coord.Trigger(shutdown.ReasonPipelineError, err)
	} else {
		r.logger.Info("Receiver running", "session_id", sess.id, "port", r.cfg.Pipeline.Port,
			"srt", fmt.Sprintf("%s:%d", params.SrtHost, params.SrtPort), "monitoring", r.cfg.Monitoring)
	}

	return coord.Wait()
}

// insertRelay moves the engine to a loopback port behind an ingress relay
// on the public port and feeds both taps from the relayed packets.
func (r *Receiver) insertRelay(params pipeline.ReceiverParams, ingressTap, decoder *metrics.Tap) (*ingress.Relay, pipeline.ReceiverParams, error) {
	port, err := ingress.FreeLoopbackPort()
	if err != nil {
		return nil, params, fmt.Errorf("reserve loopback port: %w", err)
	}

	listen := fmt.Sprintf("%s:%d", r.cfg.ListenHost, params.Port)
	forward := fmt.Sprintf("127.0.0.1:%d", port)

	relay, err := ingress.New(listen, forward, func(n int, frameEnd bool) {
		frames := 0
		if frameEnd {
			frames = 1
			decoder.Record(0)
		}
		ingressTap.Add(n, frames)
	})
	if err != nil {
		return nil, params, err
	}

	r.logger.Info("Ingress relay inserted", "listen", listen, "engine_port", port)
	params.Address = "127.0.0.1"
	params.Port = port
	return relay, params, nil
}

// consume maps bus messages onto stop triggers: EOS ends cleanly, ERROR
// fails the session, WARNING is only logged.
func (r *Receiver) consume(sess *session, msgs <-chan pipeline.Message) {
	for m := range msgs {
		sess.bus.Publish(events.PipelineMessageEvent{
			Stream:    sess.stream,
			Kind:      m.Kind.String(),
			Source:    m.Source,
			Text:      m.Text,
			Debug:     m.Debug,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		})

		switch m.Kind {
		case pipeline.MessageEOS:
			r.logger.Info("End of stream received", "source", m.Source)
			sess.coord.Trigger(shutdown.ReasonEndOfStream, nil)
		case pipeline.MessageError:
			r.logger.Error(m.Text, "source", m.Source)
			if m.Debug != "" {
				r.logger.Info(m.Debug)
			}
			err := relayerr.New(relayerr.PipelineError, "bus", m.Text).With("source", m.Source)
			sess.coord.Trigger(shutdown.ReasonPipelineError, err)
		case pipeline.MessageWarning:
			r.logger.Warn(m.Text, "source", m.Source)
			if m.Debug != "" {
				r.logger.Info(m.Debug)
			}
		}
	}

	if !sess.coord.Token().Stopping() {
		err := relayerr.New(relayerr.PipelineError, "bus", "pipeline ended without end of stream")
		sess.coord.Trigger(shutdown.ReasonPipelineError, err)
	}
}
