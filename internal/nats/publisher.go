package nats

import (
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/smazurov/camrelay/internal/events"
	"github.com/smazurov/camrelay/internal/logging"
)

var errNotConnected = errors.New("not connected to NATS")

// PublisherOptions configures a MetricsPublisher.
type PublisherOptions struct {
	URL      string
	Stream   string
	User     string
	Password string
	Token    string
	Logger   logging.Logger
}

// MetricsPublisher is a metrics sink that publishes over NATS.
// Gracefully degrades when NATS is unavailable.
type MetricsPublisher struct {
	opts      PublisherOptions
	logger    logging.Logger
	mu        sync.RWMutex
	conn      *nats.Conn
	connected bool
}

// NewMetricsPublisher creates a publisher. Call Connect before use.
func NewMetricsPublisher(opts PublisherOptions) *MetricsPublisher {
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("nats")
	}
	return &MetricsPublisher{opts: opts, logger: logger}
}

// Connect establishes the connection. On failure the publisher stays usable
// in offline mode and the error is returned for the caller to log.
func (p *MetricsPublisher) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	opts := []nats.Option{
		nats.Name("camrelay-" + p.opts.Stream),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			p.setConnected(false)
			if err != nil {
				p.logger.Warn("NATS disconnected", "error", err)
			} else {
				p.logger.Debug("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			p.setConnected(true)
			p.logger.Info("NATS reconnected")
		}),
	}
	switch {
	case p.opts.Token != "":
		opts = append(opts, nats.Token(p.opts.Token))
	case p.opts.User != "":
		opts = append(opts, nats.UserInfo(p.opts.User, p.opts.Password))
	}

	conn, err := nats.Connect(p.opts.URL, opts...)
	if err != nil {
		p.logger.Warn("Failed to connect to NATS, running in offline mode", "url", p.opts.URL, "error", err)
		return err
	}

	p.conn = conn
	p.connected = true
	p.logger.Info("Connected to NATS", "url", p.opts.URL, "stream", p.opts.Stream)
	return nil
}

func (p *MetricsPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *MetricsPublisher) current() *nats.Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.connected {
		return nil
	}
	return p.conn
}

// Export implements metrics.Sink.
func (p *MetricsPublisher) Export(name string, value float64, ts time.Time) error {
	conn := p.current()
	if conn == nil {
		return errNotConnected
	}

	data, err := MetricsMessage{
		Stream:    p.opts.Stream,
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		Name:      name,
		Value:     value,
	}.Marshal()
	if err != nil {
		return err
	}
	return conn.Publish(SubjectStreamMetrics(p.opts.Stream), data)
}

// PublishState publishes a session transition. No-op if not connected.
func (p *MetricsPublisher) PublishState(e events.SessionStateEvent) {
	conn := p.current()
	if conn == nil {
		return
	}

	data, err := StateMessage{
		Stream:    p.opts.Stream,
		SessionID: e.SessionID,
		Timestamp: e.Timestamp,
		State:     e.State,
		Reason:    e.Reason,
		Error:     e.Error,
		ExitCode:  e.ExitCode,
	}.Marshal()
	if err != nil {
		p.logger.Warn("Failed to marshal state", "error", err)
		return
	}
	if err := conn.Publish(SubjectStreamState(p.opts.Stream), data); err != nil {
		p.logger.Warn("Failed to publish state", "error", err)
	}
}

// IsConnected returns true if connected to NATS.
func (p *MetricsPublisher) IsConnected() bool {
	return p.current() != nil
}

// Close flushes pending messages and closes the connection.
func (p *MetricsPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		if err := p.conn.FlushTimeout(time.Second); err != nil && p.connected {
			p.logger.Debug("NATS flush on close failed", "error", err)
		}
		p.conn.Close()
		p.conn = nil
	}
	p.connected = false
	p.logger.Debug("NATS publisher closed")
}
