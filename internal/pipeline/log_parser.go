package pipeline

import "strings"

// ParseLogLevel extracts a log level from gst-launch console output and
// GST_DEBUG lines. Console lines start with "ERROR:" or "WARNING:"; debug
// lines look like "0:00:01.2 1234 0x5581 WARN  element file.c:12:fn:<x> msg".
// Returns the level and the message.
func ParseLogLevel(line string) (level, msg string) {
	switch {
	case strings.HasPrefix(line, "ERROR:"):
		return "error", line
	case strings.HasPrefix(line, "WARNING:"):
		return "warning", line
	case strings.HasPrefix(line, "Got message #"), strings.HasPrefix(line, "Redistribute latency"), strings.HasPrefix(line, "New clock"):
		return "debug", line
	}

	if level, ok := debugLineLevel(line); ok {
		return level, line
	}
	return "info", line
}

// debugLineLevel reads the level column of a GST_DEBUG line.
func debugLineLevel(line string) (string, bool) {
	if len(line) < 2 || line[0] < '0' || line[0] > '9' || !strings.Contains(line[:min(len(line), 12)], ":") {
		return "", false
	}

	fields := strings.Fields(line)
	if len(fields) < 4 {
		return "", false
	}

	switch fields[3] {
	case "ERROR":
		return "error", true
	case "WARN", "FIXME":
		return "warning", true
	case "INFO":
		return "info", true
	case "DEBUG", "LOG", "TRACE", "MEMDUMP":
		return "debug", true
	}
	return "", false
}
