// Package pipeline builds GStreamer pipeline descriptions and runs them
// behind a small engine contract: launch, set state, consume bus messages.
//
// Two engines exist. LaunchEngine runs gst-launch-1.0 as a subprocess and
// turns its console output into bus messages. GstEngine (build tag gst)
// runs the pipeline in-process through go-gst and supports buffer taps.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smazurov/camrelay/internal/logging"
)

// State is a pipeline state the caller can request.
type State int

// Requestable states.
const (
	StateNull State = iota
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "NULL"
	case StatePlaying:
		return "PLAYING"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MessageKind classifies bus messages.
type MessageKind int

// Bus message kinds.
const (
	MessageEOS MessageKind = iota + 1
	MessageError
	MessageWarning
)

func (k MessageKind) String() string {
	switch k {
	case MessageEOS:
		return "eos"
	case MessageError:
		return "error"
	case MessageWarning:
		return "warning"
	}
	return "unknown"
}

// Message is one bus message.
type Message struct {
	Kind   MessageKind
	Source string // element name, when known
	Text   string
	Debug  string
}

// ErrTapUnsupported is returned by engines that cannot observe buffers.
var ErrTapUnsupported = errors.New("engine does not support buffer taps")

// Engine launches pipelines from textual descriptions.
type Engine interface {
	Name() string
	// SupportsTaps reports whether launched handles can observe buffers.
	SupportsTaps() bool
	Launch(ctx context.Context, description string) (Handle, error)
}

// Handle is a launched pipeline.
type Handle interface {
	// SetState moves the pipeline. StateNull releases every resource and
	// is safe to call more than once.
	SetState(State) error
	// Messages delivers bus messages and is closed once the pipeline is gone.
	Messages() <-chan Message
	// Tap calls fn with the size of every buffer leaving element's src pad.
	Tap(element string, fn func(int)) error
}

// Engine names.
const (
	EngineLaunch = "launch"
	EngineGst    = "gst"
)

// Options are shared by the engine constructors.
type Options struct {
	// GstLaunch is the gst-launch binary used by LaunchEngine.
	GstLaunch       string
	EOSGrace        time.Duration
	GracefulTimeout time.Duration
	Logger          logging.Logger
}

// New returns the engine called name.
func New(name string, opts Options) (Engine, error) {
	switch name {
	case "", EngineLaunch:
		return NewLaunchEngine(opts), nil
	case EngineGst:
		return newGstEngine(opts)
	}
	return nil, fmt.Errorf("unknown pipeline engine %q", name)
}
