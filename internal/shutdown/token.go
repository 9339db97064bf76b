// Package shutdown coordinates the one-way stop of a relay session.
//
// A Token moves RUNNING -> STOPPING -> STOPPED and never back. The first
// Trigger wins; the teardown stages it starts run exactly once, in
// registration order, on a coordinator goroutine.
package shutdown

import "sync/atomic"

// State of a Token.
type State int32

// Token states.
const (
	Running State = iota
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Stopping:
		return "STOPPING"
	case Stopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

// Token is the shared stop flag. Readers poll Stopping or select on Done.
type Token struct {
	state atomic.Int32
	done  chan struct{}
}

// NewToken returns a token in the RUNNING state.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// State returns the current state.
func (t *Token) State() State {
	return State(t.state.Load())
}

// Stopping reports whether a stop has been requested.
func (t *Token) Stopping() bool {
	return t.State() != Running
}

// Done is closed on entering STOPPING.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// begin moves RUNNING -> STOPPING. Only one caller ever gets true.
func (t *Token) begin() bool {
	if !t.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		return false
	}
	close(t.done)
	return true
}

// finish moves STOPPING -> STOPPED.
func (t *Token) finish() bool {
	return t.state.CompareAndSwap(int32(Stopping), int32(Stopped))
}
