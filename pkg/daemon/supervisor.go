package daemon

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/modoterra/hearth/pkg/core"
)

// stableRun is how long a command must run before its failure count resets.
const stableRun = time.Minute

// CommandCollector supervises a log-following command (for example
// "docker logs -f immich") and turns each stdout/stderr line into a log line.
// The command is restarted with backoff whenever it exits.
type CommandCollector struct {
	Origin  core.LogOrigin
	Command string
	Dir     string
	Env     map[string]string

	logger   *slog.Logger
	now      func() time.Time
	backoff  func(failures int) time.Duration
	restarts atomic.Int64
}

// NewCommandCollector creates a collector for command.
func NewCommandCollector(origin core.LogOrigin, command string, logger *slog.Logger) *CommandCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandCollector{
		Origin:  origin,
		Command: command,
		logger:  logger.With("source", origin.Source),
		now:     time.Now,
		backoff: backoff,
	}
}

// Restarts returns how many times the command has been restarted.
func (c *CommandCollector) Restarts() int {
	return int(c.restarts.Load())
}

// Collect starts the command and returns its lines. The channel is closed
// once ctx is done and the last process has exited.
func (c *CommandCollector) Collect(ctx context.Context) (<-chan core.LogLine, error) {
	if len(strings.Fields(c.Command)) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	out := make(chan core.LogLine, 100)

	go func() {
		defer close(out)
		failures := 0
		for {
			started := c.now()
			err := c.runOnce(ctx, out)
			if ctx.Err() != nil {
				return
			}
			if c.now().Sub(started) >= stableRun {
				failures = 0
			}
			failures++
			delay := c.backoff(failures)
			c.logger.Info("collector exited, restarting", "err", err, "delay", delay, "attempt", failures)

			select {
			case <-time.After(delay):
				c.restarts.Add(1)
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *CommandCollector) runOnce(ctx context.Context, out chan<- core.LogLine) error {
	parts := strings.Fields(c.Command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = c.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Terminate the whole process group, escalating after WaitDelay.
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 10 * time.Second

	cmd.Env = os.Environ()
	for k, v := range c.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %q: %w", c.Command, err)
	}
	c.logger.Info("collector started", "pid", cmd.Process.Pid, "command", c.Command)

	emit := func(line string) {
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return
		}
		select {
		case out <- c.Origin.Line(line, c.now().UTC()):
		case <-ctx.Done():
		}
	}

	var wg sync.WaitGroup
	for name, r := range map[string]io.Reader{"stdout": stdoutPipe, "stderr": stderrPipe} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := collectLines(r, emit); err != nil {
				c.logger.Warn("collector output lost", "stream", name, "err", err)
				io.Copy(io.Discard, r)
			}
		}()
	}
	wg.Wait()

	err = cmd.Wait()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	c.logger.Debug("collector process exited", "exit_code", exitCode, "err", err)
	return err
}

// collectLines hands every line of r to emit. Lines longer than 1 MiB stop
// the scan with bufio.ErrTooLong.
func collectLines(r io.Reader, emit func(string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		emit(sc.Text())
	}
	return sc.Err()
}

// backoff returns exponential backoff delay: 1s, 2s, 4s, 8s, 16s, 30s max.
func backoff(failures int) time.Duration {
	d := time.Duration(1<<uint(failures-1)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
