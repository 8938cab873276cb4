package worker

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashwamedh-street/EncodeForge-sub003/internal/config"
	"github.com/ashwamedh-street/EncodeForge-sub003/internal/errors"
	"github.com/ashwamedh-street/EncodeForge-sub003/internal/protocol"
)

const (
	// maxReplyLineSize is the maximum size of one reply line.
	maxReplyLineSize = 1024 * 1024 // 1MB

	// maxStderrTailLines is how many trailing stderr lines are retained
	// for error reporting when the worker dies.
	maxStderrTailLines = 20

	// incomingBuffer absorbs progress replies produced while the consumer
	// is between reads.
	incomingBuffer = 64
)

// State is the channel lifecycle state.
type State int32

const (
	// Starting means the process has not been confirmed launched yet.
	Starting State = iota
	// Ready means the process is running and the channel accepts traffic.
	Ready
	// Dead is terminal: the process exited or the channel was torn down.
	Dead
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Dead:
		return "dead"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config describes how to launch the worker process.
type Config struct {
	Command string
	Args    []string
	Env     map[string]string
	Dir     string

	// Stderr receives each diagnostic line in addition to debug logging.
	Stderr func(line string)
}

// Channel owns one worker process and its pipes.
type Channel struct {
	log *slog.Logger
	cfg Config

	mu    sync.Mutex // guards state, stdin writes, kill
	state State
	cmd   *exec.Cmd
	stdin io.WriteCloser

	degraded atomic.Bool

	incoming chan *protocol.Reply
	quit     chan struct{} // closed by Close to unblock the read loop
	done     chan struct{} // closed once the process has been reaped

	quitOnce sync.Once

	fatalMu  sync.Mutex
	fatalErr error

	tailMu sync.Mutex
	tail   []string
}

// Compile-time verification that Channel implements the Conn interface.
var _ config.Conn = (*Channel)(nil)

// New creates an unstarted channel.
func New(log *slog.Logger, cfg Config) *Channel {
	return &Channel{
		log:      log.With("component", "channel"),
		cfg:      cfg,
		state:    Starting,
		incoming: make(chan *protocol.Reply, incomingBuffer),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the worker process and begins the stdout and stderr drain
// loops. On success the channel transitions to Ready.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Starting {
		return fmt.Errorf("channel already started (state %s)", c.state)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	//nolint:gosec // G204: launching the configured worker executable is the point
	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	cmd.Dir = c.cfg.Dir
	cmd.Env = buildEnv(c.cfg.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &errors.SpawnError{Command: c.cfg.Command, Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &errors.SpawnError{Command: c.cfg.Command, Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &errors.SpawnError{Command: c.cfg.Command, Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return &errors.SpawnError{Command: c.cfg.Command, Err: err}
	}

	c.cmd = cmd
	c.stdin = stdin
	c.state = Ready
	c.log = c.log.With("pid", cmd.Process.Pid)
	c.log.Info("Worker process started", "command", c.cfg.Command)

	var stderrWg sync.WaitGroup

	stderrWg.Add(1)

	go func() {
		defer stderrWg.Done()

		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()
			c.log.Debug("Worker stderr", "line", line)
			c.appendTail(line)

			if c.cfg.Stderr != nil {
				c.cfg.Stderr(line)
			}
		}
	}()

	go c.readLoop(stdout, &stderrWg)

	return nil
}

// Send writes one request as a single framed line. Concurrent sends are
// serialized; one in-flight conversation per channel is the caller's
// contract, enforced by the dispatch layer.
func (c *Channel) Send(ctx context.Context, req protocol.Request) error {
	data, err := req.MarshalLine()
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Ready {
		return &errors.TransportError{Reason: "send on " + c.state.String() + " channel", Err: errors.ErrChannelDead}
	}

	framed := make([]byte, len(data)+1)
	copy(framed, data)
	framed[len(data)] = '\n'

	// Write in a goroutine so a worker that stops draining stdin cannot
	// block the caller past its deadline.
	writeDone := make(chan error, 1)

	go func() {
		_, err := c.stdin.Write(framed)
		writeDone <- err
	}()

	select {
	case err := <-writeDone:
		if err != nil {
			c.log.Error("Failed to write request", "error", err)
			c.markDeadLocked()

			return &errors.TransportError{Reason: "write to worker stdin", Err: err}
		}

	case <-ctx.Done():
		c.log.Debug("Context cancelled during write, tearing channel down")
		// A partially written frame cannot be recovered; closing stdin
		// unblocks the write goroutine (safe since Go 1.9+) and takes the
		// channel down with it.
		_ = c.stdin.Close()
		c.markDeadLocked()

		select {
		case <-writeDone:
		case <-time.After(time.Second):
			c.log.Warn("Write goroutine did not exit after stdin close, potential leak")
		}

		return ctx.Err()
	}

	c.log.Debug("Request sent", "action", req.Action, "bytes", len(framed))

	return nil
}

// Receive blocks until the next reply, the stream's terminal failure, or
// context expiry. An abandoned wait does not consume the eventual reply:
// it stays queued for a later Receive (the late-reply drain relies on this).
func (c *Channel) Receive(ctx context.Context) (*protocol.Reply, error) {
	select {
	case reply, ok := <-c.incoming:
		if !ok {
			return nil, c.fatal()
		}

		return reply, nil

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Degraded reports whether a late reply from a timed-out command may still
// arrive on this channel.
func (c *Channel) Degraded() bool {
	return c.degraded.Load()
}

// SetDegraded marks or clears the degraded state.
func (c *Channel) SetDegraded(degraded bool) {
	c.degraded.Store(degraded)
}

// Dead reports whether the channel has failed terminally.
func (c *Channel) Dead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state == Dead
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Pid returns the worker's process ID, or 0 before Start.
func (c *Channel) Pid() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}

	return c.cmd.Process.Pid
}

// Done is closed once the worker process has exited and been reaped.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close forcibly terminates the worker process and marks the channel Dead.
// Safe to call multiple times or on an already-exited process.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.quitOnce.Do(func() { close(c.quit) })

	alreadyDead := c.state == Dead
	c.state = Dead

	if c.cmd == nil || c.cmd.Process == nil {
		// Never started: nothing to reap, release waiters directly.
		select {
		case <-c.done:
		default:
			close(c.done)
		}

		return nil
	}

	if alreadyDead {
		return nil
	}

	c.log.Debug("Killing worker process")

	if err := c.cmd.Process.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill worker (pid %d): %w", c.cmd.Process.Pid, err)
	}

	return nil
}

// readLoop parses stdout lines into replies until the stream ends or a
// malformed line is seen, then reaps the process and records the terminal
// failure.
func (c *Channel) readLoop(stdout io.Reader, stderrWg *sync.WaitGroup) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, maxReplyLineSize), maxReplyLineSize)

	var fatal error

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		reply, err := protocol.ParseReply(line)
		if err != nil {
			c.log.Error("Protocol desynchronization", "error", err, "line", string(line))

			fatal = &errors.ProtocolError{RawLine: string(line), Err: err}

			break
		}

		c.log.Debug("Reply received", "status", reply.Status(), "terminal", reply.Terminal())

		select {
		case c.incoming <- reply:
		case <-c.quit:
			// Channel torn down with the consumer gone; stop delivering.
		}
	}

	if fatal != nil {
		// Desync is unrecoverable: take the process down with the channel.
		_ = c.Close()
	}

	stderrWg.Wait()

	waitErr := c.cmd.Wait()

	c.markDead()

	if fatal == nil {
		if scanErr := scanner.Err(); scanErr != nil {
			fatal = &errors.TransportError{Reason: "read worker stdout", Err: scanErr}
		} else {
			te := &errors.TransportError{
				Reason: "worker process exited",
				Stderr: c.tailString(),
				Err:    errors.ErrChannelDead,
			}

			var exitErr *exec.ExitError
			if stderrors.As(waitErr, &exitErr) {
				te.ExitCode = exitErr.ExitCode()
			}

			fatal = te
		}
	}

	c.setFatal(fatal)
	close(c.incoming)
	close(c.done)
	c.log.Info("Worker process reaped", "error", fatal)
}

func (c *Channel) markDead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markDeadLocked()
}

func (c *Channel) markDeadLocked() {
	c.state = Dead
	c.quitOnce.Do(func() { close(c.quit) })
}

func (c *Channel) setFatal(err error) {
	c.fatalMu.Lock()
	defer c.fatalMu.Unlock()

	if c.fatalErr == nil {
		c.fatalErr = err
	}
}

// fatal returns the terminal failure, defaulting to a generic connection
// loss if the read loop has not recorded one yet.
func (c *Channel) fatal() error {
	c.fatalMu.Lock()
	defer c.fatalMu.Unlock()

	if c.fatalErr == nil {
		return &errors.TransportError{Reason: "stream closed", Err: errors.ErrChannelDead}
	}

	return c.fatalErr
}

func (c *Channel) appendTail(line string) {
	c.tailMu.Lock()
	defer c.tailMu.Unlock()

	c.tail = append(c.tail, line)
	if len(c.tail) > maxStderrTailLines {
		c.tail = c.tail[len(c.tail)-maxStderrTailLines:]
	}
}

func (c *Channel) tailString() string {
	c.tailMu.Lock()
	defer c.tailMu.Unlock()

	return strings.TrimSpace(strings.Join(c.tail, "\n"))
}

// buildEnv merges extra variables over the inherited environment.
func buildEnv(extra map[string]string) []string {
	if len(extra) == 0 {
		return os.Environ()
	}

	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}

	return env
}
