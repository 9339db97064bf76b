package shutdown

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/smazurov/camrelay/internal/logging"
	"github.com/smazurov/camrelay/internal/relayerr"
)

// Reason says why a session stopped.
type Reason string

// Stop reasons.
const (
	ReasonSignal        Reason = "signal"
	ReasonEndOfStream   Reason = "end_of_stream"
	ReasonBridgeBroken  Reason = "bridge_broken"
	ReasonCaptureFailed Reason = "capture_failed"
	ReasonPipelineError Reason = "pipeline_error"
	// ReasonStartFailed is used for results built before the session ran.
	ReasonStartFailed Reason = "start_failed"
)

// Process exit codes.
const (
	ExitOK                = 0
	ExitFailure           = 1
	ExitDeviceUnavailable = 2
	ExitBridgeStartFailed = 3
	ExitPipelineError     = 4
	ExitCaptureFailed     = 5
	ExitBridgeBroken      = 6
)

// Result is the terminal outcome of a session.
type Result struct {
	Reason   Reason
	Cause    error
	ExitCode int
}

// ExitCodeFor maps a stop reason and its cause to a process exit code.
// A coded cause decides; otherwise the reason does.
func ExitCodeFor(reason Reason, cause error) int {
	switch relayerr.CodeOf(cause) {
	case relayerr.DeviceUnavailable:
		return ExitDeviceUnavailable
	case relayerr.BridgeStartFailed:
		return ExitBridgeStartFailed
	case relayerr.PipelineError:
		return ExitPipelineError
	case relayerr.CaptureFailed:
		return ExitCaptureFailed
	case relayerr.BridgeBroken:
		return ExitBridgeBroken
	}

	switch reason {
	case ReasonSignal, ReasonEndOfStream:
		if cause == nil {
			return ExitOK
		}
	case ReasonPipelineError:
		return ExitPipelineError
	case ReasonCaptureFailed:
		return ExitCaptureFailed
	case ReasonBridgeBroken:
		return ExitBridgeBroken
	}
	return ExitFailure
}

// FailureResult builds the result of a session that never started.
func FailureResult(cause error) Result {
	return Result{Reason: ReasonStartFailed, Cause: cause, ExitCode: ExitCodeFor(ReasonStartFailed, cause)}
}

// Notifier is told about lifecycle transitions (sd_notify).
type Notifier interface {
	Ready()
	Stopping()
}

type stage struct {
	name    string
	timeout time.Duration
	run     func() error
}

// Coordinator runs the ordered teardown of one session.
type Coordinator struct {
	token    *Token
	logger   logging.Logger
	notifier Notifier

	mu          sync.Mutex
	stages      []stage
	reason      Reason
	cause       error
	result      Result
	transitions []func(State, Reason, error)

	stopped chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithNotifier reports READY and STOPPING to n.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// New creates a coordinator in the RUNNING state.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		token:   NewToken(),
		logger:  logging.GetLogger("shutdown"),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the shared stop token.
func (c *Coordinator) Token() *Token {
	return c.token
}

// OnStop appends a teardown stage. Stages run in registration order. A
// positive timeout bounds how long the coordinator waits for the stage; a
// stage that overruns is abandoned and teardown moves on.
func (c *Coordinator) OnStop(name string, timeout time.Duration, fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stages = append(c.stages, stage{name: name, timeout: timeout, run: fn})
}

// OnTransition registers a callback for STOPPING and STOPPED transitions.
func (c *Coordinator) OnTransition(fn func(state State, reason Reason, cause error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transitions = append(c.transitions, fn)
}

// Ready marks the session as running for the service manager.
func (c *Coordinator) Ready() {
	if c.notifier != nil {
		c.notifier.Ready()
	}
}

// Trigger requests a stop. The first call starts teardown and returns true;
// every later call returns false and changes nothing.
func (c *Coordinator) Trigger(reason Reason, cause error) bool {
	if !c.token.begin() {
		c.logger.Debug("Stop already in progress, ignoring trigger", "reason", string(reason), "error", cause)
		return false
	}

	c.mu.Lock()
	c.reason = reason
	c.cause = cause
	c.mu.Unlock()

	if cause != nil && relayerr.CodeOf(cause).Fatal() {
		c.logger.Error("Stopping after fatal error", "component", componentOf(reason), "reason", string(reason), "cause", cause)
	} else {
		c.logger.Info("Stopping", "reason", string(reason), "error", cause)
	}

	if c.notifier != nil {
		c.notifier.Stopping()
	}
	c.emit(Stopping)

	go c.teardown()
	return true
}

func componentOf(reason Reason) string {
	switch reason {
	case ReasonBridgeBroken:
		return "bridge"
	case ReasonCaptureFailed:
		return "capture"
	case ReasonPipelineError:
		return "pipeline"
	}
	return "session"
}

func (c *Coordinator) teardown() {
	c.mu.Lock()
	stages := append([]stage(nil), c.stages...)
	c.mu.Unlock()

	var stageErrs []error
	for _, s := range stages {
		if err := c.runStage(s); err != nil {
			stageErrs = append(stageErrs, fmt.Errorf("%s: %w", s.name, err))
		}
	}

	c.token.finish()

	c.mu.Lock()
	c.result = Result{
		Reason:   c.reason,
		Cause:    c.cause,
		ExitCode: ExitCodeFor(c.reason, c.cause),
	}
	result := c.result
	c.mu.Unlock()

	if len(stageErrs) > 0 {
		c.logger.Warn("Teardown finished with errors", "error", errors.Join(stageErrs...))
	}
	c.logger.Info("Stopped", "reason", string(result.Reason), "exit_code", result.ExitCode)
	c.emit(Stopped)
	close(c.stopped)
}

func (c *Coordinator) runStage(s stage) error {
	start := time.Now()
	if s.timeout <= 0 {
		err := s.run()
		c.logger.Debug("Teardown stage done", "stage", s.name, "duration", time.Since(start), "error", err)
		return err
	}

	done := make(chan error, 1)
	go func() { done <- s.run() }()

	select {
	case err := <-done:
		c.logger.Debug("Teardown stage done", "stage", s.name, "duration", time.Since(start), "error", err)
		return err
	case <-time.After(s.timeout):
		c.logger.Warn("Teardown stage timed out, continuing", "stage", s.name, "timeout", s.timeout)
		return fmt.Errorf("timed out after %s", s.timeout)
	}
}

func (c *Coordinator) emit(state State) {
	c.mu.Lock()
	fns := slices.Clone(c.transitions)
	reason, cause := c.reason, c.cause
	c.mu.Unlock()

	for _, fn := range fns {
		fn(state, reason, cause)
	}
}

// Stopped is closed once teardown has finished.
func (c *Coordinator) Stopped() <-chan struct{} {
	return c.stopped
}

// Wait blocks until teardown has finished and returns the result.
func (c *Coordinator) Wait() Result {
	<-c.stopped
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}
