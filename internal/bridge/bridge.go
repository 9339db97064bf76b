package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/smazurov/camrelay/internal/logging"
	"github.com/smazurov/camrelay/internal/relayerr"
)

// Default timeouts for Stop.
const (
	DefaultEOSGrace        = 2 * time.Second
	DefaultGracefulTimeout = 5 * time.Second
	DefaultKillTimeout     = 2 * time.Second
)

// ExitCodeKilled is reported when the process had to be force-killed.
const ExitCodeKilled = 137

// Config describes the subprocess to start.
type Config struct {
	// Command is either the program (when Args is set) or a full command
	// line that is split with shell-like quoting.
	Command string
	Args    []string
	Env     []string

	Logger        logging.Logger // bridge lifecycle logs
	ProcessLogger logging.Logger // subprocess output (nil = Logger)
	LogParser     LogParser
	OutputHandler OutputHandler

	// EOSGrace is how long Stop waits for the process to exit on its own
	// after stdin is closed, before it sends SIGINT.
	EOSGrace        time.Duration
	GracefulTimeout time.Duration
	KillTimeout     time.Duration
}

// Handle is a running subprocess with a writable stdin.
type Handle struct {
	cfg    Config
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger logging.Logger
	pid    int

	done     chan struct{}
	exitCode atomic.Int64
	killed   atomic.Bool
	outputWG sync.WaitGroup

	stopOnce sync.Once
	stopErr  error
}

// Start spawns the subprocess in its own process group. Every failure is a
// BridgeStartFailed error. When ctx ends the process is stopped.
func Start(ctx context.Context, cfg Config) (*Handle, error) {
	const op = "start"

	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger("bridge")
	}
	if cfg.EOSGrace <= 0 {
		cfg.EOSGrace = DefaultEOSGrace
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = DefaultGracefulTimeout
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = DefaultKillTimeout
	}

	if err := ctx.Err(); err != nil {
		return nil, relayerr.Wrap(relayerr.BridgeStartFailed, op, "context already done", err)
	}

	args := append([]string{cfg.Command}, cfg.Args...)
	if len(cfg.Args) == 0 {
		parsed, err := parseCommand(cfg.Command)
		if err != nil {
			return nil, relayerr.Wrap(relayerr.BridgeStartFailed, op, "cannot parse command", err)
		}
		args = parsed
	}
	if len(args) == 0 || args[0] == "" {
		return nil, relayerr.New(relayerr.BridgeStartFailed, op, "empty command")
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, relayerr.Wrap(relayerr.BridgeStartFailed, op, "cannot create stdin pipe", err)
	}

	// Own the output pipes so Wait never races the readers.
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, relayerr.Wrap(relayerr.BridgeStartFailed, op, "cannot create stdout pipe", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(outR, outW)
		return nil, relayerr.Wrap(relayerr.BridgeStartFailed, op, "cannot create stderr pipe", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		closeAll(outR, outW, errR, errW)
		return nil, relayerr.Wrap(relayerr.BridgeStartFailed, op, "cannot spawn process", err).With("command", args[0])
	}
	closeAll(outW, errW)

	h := &Handle{
		cfg:    cfg,
		cmd:    cmd,
		stdin:  stdin,
		logger: cfg.Logger,
		pid:    cmd.Process.Pid,
		done:   make(chan struct{}),
	}
	h.exitCode.Store(-1)

	h.logger.Info("Process started", "pid", h.pid, "command", args[0], "args", len(args)-1)

	h.outputWG.Add(2)
	go func() {
		h.streamOutput(outR, "stdout")
		_ = outR.Close()
	}()
	go func() {
		h.streamOutput(errR, "stderr")
		_ = errR.Close()
	}()

	go h.wait()

	go func() {
		select {
		case <-ctx.Done():
			h.logger.Info("Context done, stopping process", "pid", h.pid)
			_ = h.Stop()
		case <-h.done:
		}
	}()

	return h, nil
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	code := exitCodeFromError(err)
	if h.killed.Load() {
		code = ExitCodeKilled
	}
	h.exitCode.Store(int64(code))
	close(h.done)

	if err != nil && code == 1 {
		h.logger.Warn("Process exited with error", "pid", h.pid, "error", err)
	}
	h.logger.Info("Process exited", "pid", h.pid, "exit_code", code)
}

// exitCodeFromError extracts exit code from process error.
// Returns 0 for nil error, the exit code for ExitError, or 1 for other errors.
// A process ended by a signal reports 128 plus the signal number.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return exitErr.ExitCode()
	}
	return 1
}

// Write sends one encoded frame to the subprocess. Only the capture loop
// writes. Any failure is BridgeBroken: stdin is the only channel to the
// consumer, so a failed write means the consumer is gone.
func (h *Handle) Write(data []byte) error {
	const op = "write"

	if !h.Alive() {
		return relayerr.New(relayerr.BridgeBroken, op, "process has exited").
			With("pid", h.pid).With("exit_code", h.ExitCode())
	}

	if _, err := h.stdin.Write(data); err != nil {
		msg := "write to process failed"
		if isBrokenPipe(err) {
			msg = "consumer closed its input"
		}
		return relayerr.Wrap(relayerr.BridgeBroken, op, msg, err).With("pid", h.pid)
	}
	return nil
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed)
}

// Stop ends the subprocess. stdin is closed first (end of stream for fdsrc)
// and the process gets EOSGrace to exit by itself. After that it is sent
// SIGINT, and SIGKILL once the graceful timeout runs out. Only the first call
// does anything; later calls return the first result.
func (h *Handle) Stop() error {
	h.stopOnce.Do(func() {
		h.stopErr = h.stop()
	})
	return h.stopErr
}

func (h *Handle) stop() error {
	if err := h.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		h.logger.Debug("Closing stdin failed", "pid", h.pid, "error", err)
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(h.cfg.EOSGrace):
	}

	h.logger.Info("Sending SIGINT to process", "pid", h.pid)
	if err := h.signal(syscall.SIGINT); err != nil {
		h.logger.Warn("Failed to send SIGINT", "pid", h.pid, "error", err)
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(h.cfg.GracefulTimeout):
	}

	h.logger.Warn("Graceful shutdown timeout, forcing kill", "pid", h.pid, "timeout", h.cfg.GracefulTimeout)
	h.killed.Store(true)
	if err := h.signal(syscall.SIGKILL); err != nil {
		h.logger.Error("Failed to kill process", "pid", h.pid, "error", err)
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(h.cfg.KillTimeout):
		h.logger.Error("Process did not exit after kill signal", "pid", h.pid)
		return fmt.Errorf("process %d did not exit %s after SIGKILL", h.pid, h.cfg.KillTimeout)
	}
}

// signal delivers sig to the whole process group.
func (h *Handle) signal(sig syscall.Signal) error {
	err := syscall.Kill(-h.pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		// "process already finished" is fine, it exited between checks
		return nil
	}
	return err
}

// Done is closed when the process has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Alive reports whether the process is still running.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ExitCode returns the exit status, or -1 while the process runs.
func (h *Handle) ExitCode() int {
	return int(h.exitCode.Load())
}

// PID returns the process id.
func (h *Handle) PID() int {
	return h.pid
}

// WaitOutput blocks until stdout and stderr have been fully consumed.
func (h *Handle) WaitOutput() {
	h.outputWG.Wait()
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
