// Package session owns one relay run: its identity, its shutdown
// coordinator and the goroutines that move data until the coordinator
// stops them.
package session

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/camrelay/internal/events"
	"github.com/smazurov/camrelay/internal/logging"
	"github.com/smazurov/camrelay/internal/metrics"
	"github.com/smazurov/camrelay/internal/shutdown"
)

// Common holds the settings shared by senders and receivers.
type Common struct {
	Stream string

	// Monitoring enables the probe. Window and History tune it.
	Monitoring bool
	Window     time.Duration
	History    int
	Sink       metrics.Sink

	Bus      *events.Bus
	Notifier shutdown.Notifier

	// HandleSignals stops the session on SIGINT and SIGTERM.
	HandleSignals bool
}

// session is the explicit state of one run.
type session struct {
	id     string
	stream string
	bus    *events.Bus
	coord  *shutdown.Coordinator
	logger logging.Logger
}

func newSession(c Common, logger logging.Logger) *session {
	s := &session{
		id:     uuid.NewString(),
		stream: c.Stream,
		bus:    c.Bus,
		logger: logger,
	}

	opts := []shutdown.Option{shutdown.WithLogger(logger)}
	if c.Notifier != nil {
		opts = append(opts, shutdown.WithNotifier(c.Notifier))
	}
	s.coord = shutdown.New(opts...)
	s.coord.OnTransition(func(state shutdown.State, reason shutdown.Reason, cause error) {
		s.publishState(state, reason, cause)
	})
	return s
}

func (s *session) publishState(state shutdown.State, reason shutdown.Reason, cause error) {
	ev := events.SessionStateEvent{
		SessionID: s.id,
		Stream:    s.stream,
		State:     strings.ToLower(state.String()),
		Reason:    string(reason),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	if state == shutdown.Stopped {
		ev.ExitCode = shutdown.ExitCodeFor(reason, cause)
	}
	s.bus.Publish(ev)
}

// start marks the session RUNNING and arms the external stop triggers.
func (s *session) start(ctx context.Context, c Common) {
	if c.HandleSignals {
		shutdown.WatchSignals(ctx, s.coord, shutdownSignals...)
	}
	go func() {
		select {
		case <-ctx.Done():
			s.coord.Trigger(shutdown.ReasonSignal, nil)
		case <-s.coord.Stopped():
		}
	}()

	s.coord.Ready()
	s.publishState(shutdown.Running, "", nil)
}

// failed reports a session that never reached RUNNING.
func (s *session) failed(component string, err error) shutdown.Result {
	res := shutdown.FailureResult(err)
	s.logger.Error("Session failed to start", "session_id", s.id, "component", component, "cause", err, "exit_code", res.ExitCode)

	s.bus.Publish(events.SessionStateEvent{
		SessionID: s.id,
		Stream:    s.stream,
		State:     "stopped",
		Reason:    string(res.Reason),
		Error:     err.Error(),
		ExitCode:  res.ExitCode,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	return res
}

// stopProbe returns a teardown stage that stops the window timers and
// reports the last, partial window.
func stopProbe(p *metrics.Probe) func() error {
	return func() error {
		p.Stop()
		p.Flush()
		return nil
	}
}

func newProbe(c Common, logger logging.Logger) *metrics.Probe {
	opts := []metrics.Option{
		metrics.WithLogger(logger),
		metrics.WithBus(c.Bus),
		metrics.WithHistory(c.History),
	}
	if c.Sink != nil {
		opts = append(opts, metrics.WithSink(c.Sink))
	}
	return metrics.NewProbe(c.Stream, opts...)
}
