package bridge

import (
	"bufio"
	"io"

	"github.com/smazurov/camrelay/internal/logging"
)

// OutputHandler receives output lines from the subprocess.
// Implementations turn engine output into bus messages, metrics, etc.
type OutputHandler interface {
	HandleLine(source, line string)
}

// OutputHandlerFunc adapts a function to OutputHandler.
type OutputHandlerFunc func(source, line string)

// HandleLine calls f.
func (f OutputHandlerFunc) HandleLine(source, line string) { f(source, line) }

// LogParser parses a log line and returns the log level and message.
// Used to extract structured log info from subprocess output.
type LogParser func(line string) (level, msg string)

// maxLineBytes bounds a single output line; gst debug dumps can be long.
const maxLineBytes = 1 << 20

// streamOutput forwards every line to the handler and the process logger.
func (h *Handle) streamOutput(reader io.Reader, source string) {
	defer h.outputWG.Done()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	logger := h.cfg.ProcessLogger
	if logger == nil {
		logger = h.logger
	}

	for scanner.Scan() {
		line := scanner.Text()

		if h.cfg.OutputHandler != nil {
			h.cfg.OutputHandler.HandleLine(source, line)
		}

		level, msg := "info", line
		if h.cfg.LogParser != nil {
			level, msg = h.cfg.LogParser(line)
		}
		logLine(logger, level, msg, source)
	}

	if err := scanner.Err(); err != nil {
		h.logger.Warn("Error reading output", "source", source, "error", err)
	}
}

func logLine(logger logging.Logger, level, msg, source string) {
	switch level {
	case "fatal", "error":
		logger.Error(msg, "source", source)
	case "warning", "warn":
		logger.Warn(msg, "source", source)
	case "debug", "trace":
		logger.Debug(msg, "source", source)
	case "skip":
	default:
		logger.Info(msg, "source", source)
	}
}
