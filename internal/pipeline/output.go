package pipeline

import (
	"strings"
	"sync"
)

// Console markers printed by gst-launch-1.0.
const (
	errorFromElement   = "ERROR: from element "
	warningFromElement = "WARNING: from element "
	erroneousPipeline  = "WARNING: erroneous pipeline: "
	additionalDebug    = "Additional debug info:"
	gotEOS             = "Got EOS from element"
	errorPrefix        = "ERROR: "
)

// outputParser turns gst-launch console lines into bus messages. stdout and
// stderr are read by different goroutines, so the state is mutex-guarded.
type outputParser struct {
	emit func(Message)

	mu          sync.Mutex
	pending     *Message
	expectDebug bool
	sawEOS      bool
	sawError    bool
}

func newOutputParser(emit func(Message)) *outputParser {
	return &outputParser{emit: emit}
}

// HandleLine implements bridge.OutputHandler.
func (p *outputParser) HandleLine(_ string, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.expectDebug {
		p.pending.Debug = line
		p.flushLocked()
		return
	}
	if line == additionalDebug && p.pending != nil {
		p.expectDebug = true
		return
	}
	p.flushLocked()

	switch {
	case strings.HasPrefix(line, errorFromElement):
		source, text := splitElementMessage(strings.TrimPrefix(line, errorFromElement))
		p.pending = &Message{Kind: MessageError, Source: source, Text: text}
	case strings.HasPrefix(line, warningFromElement):
		source, text := splitElementMessage(strings.TrimPrefix(line, warningFromElement))
		p.pending = &Message{Kind: MessageWarning, Source: source, Text: text}
	case strings.HasPrefix(line, erroneousPipeline):
		p.emitLocked(Message{Kind: MessageError, Text: strings.TrimPrefix(line, erroneousPipeline)})
	case strings.HasPrefix(line, gotEOS):
		p.emitLocked(Message{Kind: MessageEOS, Source: eosSource(line)})
	case strings.HasPrefix(line, errorPrefix):
		p.pending = &Message{Kind: MessageError, Text: strings.TrimPrefix(line, errorPrefix)}
	}
}

// Flush emits a message still waiting for its debug line.
func (p *outputParser) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushLocked()
}

func (p *outputParser) flushLocked() {
	if p.pending != nil {
		msg := *p.pending
		p.pending = nil
		p.emitLocked(msg)
	}
	p.expectDebug = false
}

func (p *outputParser) emitLocked(msg Message) {
	switch msg.Kind {
	case MessageEOS:
		p.sawEOS = true
	case MessageError:
		p.sawError = true
	}
	p.emit(msg)
}

// outcome reports whether EOS or an ERROR has been seen.
func (p *outputParser) outcome() (eos, failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sawEOS, p.sawError
}

// splitElementMessage splits "/GstPipeline:pipeline0/GstSRTSink:srtsink0: text"
// into the element name and the text.
func splitElementMessage(s string) (source, text string) {
	path, text, ok := strings.Cut(s, ": ")
	if !ok {
		return "", s
	}
	last := path[strings.LastIndex(path, "/")+1:]
	if _, name, ok := strings.Cut(last, ":"); ok {
		return name, text
	}
	return last, text
}

// eosSource reads the element from `Got EOS from element "pipeline0".`
func eosSource(line string) string {
	rest := strings.TrimSpace(strings.TrimPrefix(line, gotEOS))
	rest = strings.TrimSuffix(rest, ".")
	return strings.Trim(rest, `"`)
}
