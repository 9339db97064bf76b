package metrics

import (
	"errors"
	"time"

	"github.com/smazurov/camrelay/internal/logging"
)

// Sink receives numeric observations. Export must be safe for concurrent use.
type Sink interface {
	Export(name string, value float64, ts time.Time) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(name string, value float64, ts time.Time) error

// Export calls f.
func (f SinkFunc) Export(name string, value float64, ts time.Time) error {
	return f(name, value, ts)
}

// LogSink writes one structured log line per value.
type LogSink struct {
	logger logging.Logger
	stream string
}

// NewLogSink creates a log sink. A nil logger uses the "metrics" module logger.
func NewLogSink(stream string, logger logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.GetLogger("metrics")
	}
	return &LogSink{logger: logger, stream: stream}
}

// Export implements Sink.
func (s *LogSink) Export(name string, value float64, ts time.Time) error {
	s.logger.Debug("Metric", "stream", s.stream, "name", name, "value", value, "timestamp", ts.Format(time.RFC3339Nano))
	return nil
}

// MultiSink fans out to every sink and joins their errors.
type MultiSink []Sink

// Export implements Sink.
func (m MultiSink) Export(name string, value float64, ts time.Time) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Export(name, value, ts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
