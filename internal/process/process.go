package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/camfeed/internal/logging"
)

// LogParser parses a stderr line and returns the log level and message.
type LogParser func(line string) (level, msg string)

// ExitCodeKilled is reported when the process had to be force killed.
const ExitCodeKilled = 137

// Process runs one helper binary whose stdout carries data and whose
// stderr carries log output. It is started once and stopped once.
type Process struct {
	name   string
	args   []string
	logger logging.Logger

	outputLogger logging.Logger
	logParser    LogParser

	gracefulTimeout time.Duration
	killTimeout     time.Duration

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdout    *os.File
	state     State
	startedAt time.Time
	exitCode  int
	lastErr   error
	done      chan struct{}
}

// New creates a process for the given binary and arguments. Nothing runs
// until Start.
func New(name string, args []string, logger logging.Logger) *Process {
	return &Process{
		name:            name,
		args:            args,
		logger:          logger,
		gracefulTimeout: 2 * time.Second,
		killTimeout:     2 * time.Second,
		state:           StateIdle,
		done:            make(chan struct{}),
	}
}

// SetLogParser sets the logger and parser used for stderr lines.
func (p *Process) SetLogParser(logger logging.Logger, parser LogParser) {
	p.outputLogger = logger
	p.logParser = parser
}

// SetTimeouts overrides the SIGINT grace period and the post-SIGKILL wait.
func (p *Process) SetTimeouts(graceful, kill time.Duration) {
	p.gracefulTimeout = graceful
	p.killTimeout = kill
}

// CommandLine returns the command as a single string for logging.
func (p *Process) CommandLine() string {
	return strings.Join(append([]string{p.name}, p.args...), " ")
}

// Start launches the process. Stdout is an os.Pipe so readers can use
// SetReadDeadline on it.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle {
		return fmt.Errorf("start %s: already %s", p.name, p.state)
	}
	p.state = StateStarting

	r, w, err := os.Pipe()
	if err != nil {
		return p.failStart(fmt.Errorf("stdout pipe: %w", err))
	}

	cmd := exec.Command(p.name, p.args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = w

	stderr, err := cmd.StderrPipe()
	if err != nil {
		r.Close()
		w.Close()
		return p.failStart(fmt.Errorf("stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return p.failStart(fmt.Errorf("start %s: %w", p.name, err))
	}
	// The child holds its own copy of the write end.
	w.Close()

	p.cmd = cmd
	p.stdout = r
	p.state = StateRunning
	p.startedAt = time.Now()

	p.logger.Info("Process started", "pid", cmd.Process.Pid, "command", p.CommandLine())

	stderrDone := make(chan struct{})
	go func() {
		p.streamOutput(stderr)
		close(stderrDone)
	}()

	go func() {
		<-stderrDone
		err := cmd.Wait()
		code := exitCodeFromError(err)

		p.mu.Lock()
		p.exitCode = code
		if p.state == StateRunning {
			p.state = StateError
			p.lastErr = fmt.Errorf("%s exited with code %d", p.name, code)
		}
		p.mu.Unlock()

		p.logger.Info("Process exited", "exit_code", code)
		close(p.done)
	}()

	return nil
}

// failStart must be called with mu held.
func (p *Process) failStart(err error) error {
	p.state = StateError
	p.lastErr = err
	close(p.done)
	p.logger.Error("Failed to start process", "error", err, "command", p.CommandLine())
	return err
}

// Stdout returns the read end of the process stdout pipe, or nil before Start.
func (p *Process) Stdout() *os.File {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdout
}

// Done is closed once the process has exited (or failed to start).
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Stop sends SIGINT, waits for the grace period, then SIGKILL. It closes the
// stdout pipe and returns the exit code. Safe to call more than once.
func (p *Process) Stop() int {
	p.mu.Lock()
	cmd := p.cmd
	if p.state == StateRunning {
		p.state = StateStopping
	}
	p.mu.Unlock()

	if cmd == nil {
		return 0
	}

	code := p.waitForExit(cmd)

	p.mu.Lock()
	if p.stdout != nil {
		p.stdout.Close()
		p.stdout = nil
	}
	if p.state == StateStopping {
		p.state = StateIdle
	}
	p.mu.Unlock()

	return code
}

func (p *Process) waitForExit(cmd *exec.Cmd) int {
	select {
	case <-p.done:
		return p.ExitCode()
	default:
	}

	pid := cmd.Process.Pid
	p.logger.Debug("Sending SIGINT to process group", "pid", pid)
	if err := syscall.Kill(-pid, syscall.SIGINT); err != nil && !errors.Is(err, syscall.ESRCH) {
		p.logger.Warn("Failed to send SIGINT", "error", err)
	}

	select {
	case <-p.done:
		return p.ExitCode()
	case <-time.After(p.gracefulTimeout):
	}

	p.logger.Warn("Graceful shutdown timeout, forcing kill", "timeout", p.gracefulTimeout)
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		p.logger.Error("Failed to kill process", "error", err)
	}

	select {
	case <-p.done:
	case <-time.After(p.killTimeout):
		p.logger.Error("Process did not exit after kill signal")
	}
	return ExitCodeKilled
}

// ExitCode returns the exit code once Done is closed.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Info returns a snapshot of the process state.
func (p *Process) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := Info{
		Name:      p.name,
		State:     p.state,
		StartedAt: p.startedAt,
		LastError: p.lastErr,
	}
	if p.cmd != nil && p.cmd.Process != nil {
		info.PID = p.cmd.Process.Pid
	}
	return info
}

// exitCodeFromError returns 0 for nil, the exit code for ExitError, 1 otherwise.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

func (p *Process) streamOutput(reader io.Reader) {
	logger := p.outputLogger
	if logger == nil {
		logger = p.logger
	}

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		level, msg := "info", line
		if p.logParser != nil {
			level, msg = p.logParser(line)
		}

		switch level {
		case "fatal", "error":
			logger.Error(msg)
		case "warning", "warn":
			logger.Warn(msg)
		case "debug", "trace":
			logger.Debug(msg)
		default:
			logger.Info(msg)
		}
	}

	if err := scanner.Err(); err != nil {
		p.logger.Warn("Error reading output", "error", err)
	}
}
