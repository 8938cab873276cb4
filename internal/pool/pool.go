package pool

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ashwamedh-street/EncodeForge-sub003/internal/config"
	"github.com/ashwamedh-street/EncodeForge-sub003/internal/dispatch"
	"github.com/ashwamedh-street/EncodeForge-sub003/internal/errors"
	"github.com/ashwamedh-street/EncodeForge-sub003/internal/protocol"
)

const (
	// initTimeout bounds the settings sync and readiness probe exchanged
	// with a freshly spawned worker.
	initTimeout = 10 * time.Second

	// shutdownSendTimeout bounds the polite shutdown request write.
	shutdownSendTimeout = time.Second
)

// WorkerState is the lifecycle state of one pooled worker.
type WorkerState int32

const (
	// WorkerStarting means the worker process is being spawned.
	WorkerStarting WorkerState = iota
	// WorkerIdle means the worker is ready for a task.
	WorkerIdle
	// WorkerBusy means a task is in flight on the worker.
	WorkerBusy
	// WorkerDead means the worker failed or was shut down.
	WorkerDead
)

func (s WorkerState) String() string {
	switch s {
	case WorkerStarting:
		return "starting"
	case WorkerIdle:
		return "idle"
	case WorkerBusy:
		return "busy"
	case WorkerDead:
		return "dead"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config tunes the pool.
type Config struct {
	// Size is the worker capacity.
	Size int

	// Spawn creates a new worker channel. Required.
	Spawn config.SpawnFunc

	// Dispatch carries the per-channel grace windows.
	Dispatch dispatch.Config

	// ShutdownGrace is the per-worker window between the polite shutdown
	// request and the kill.
	ShutdownGrace time.Duration

	// Settings is synchronized to each freshly spawned worker.
	Settings map[string]any

	// ProbeOnSpawn exchanges a ping with each fresh worker before it
	// accepts tasks.
	ProbeOnSpawn bool
}

// worker is one supervised channel plus its assignment bookkeeping.
type worker struct {
	id    string
	conn  config.Conn
	disp  *dispatch.Dispatcher
	state WorkerState

	// Current assignment, valid while state == WorkerBusy.
	taskID  string
	action  protocol.Action
	session *dispatch.Session
}

// task is one queued submission.
type task struct {
	id        string
	ctx       context.Context
	req       protocol.Request
	timeout   time.Duration
	onMessage dispatch.OnMessage
	done      chan taskResult
}

type taskResult struct {
	reply *protocol.Reply
	err   error
}

// Pool assigns tasks to idle workers and keeps the worker set healthy.
type Pool struct {
	log *slog.Logger
	cfg Config

	mu       sync.Mutex
	workers  map[string]*worker
	queue    []*task
	spawning int
	closed   bool
}

// New creates a pool. Workers are spawned lazily as tasks arrive.
func New(log *slog.Logger, cfg Config) (*Pool, error) {
	if cfg.Spawn == nil {
		return nil, fmt.Errorf("pool: spawn function is required")
	}

	if cfg.Size <= 0 {
		cfg.Size = config.DefaultPoolSize
	}

	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = config.DefaultShutdownGrace
	}

	return &Pool{
		log:     log.With("component", "pool"),
		cfg:     cfg,
		workers: make(map[string]*worker, cfg.Size),
	}, nil
}

// Submit runs one request on an idle worker, queueing FIFO when all workers
// are busy, and blocks until the task resolves. A non-nil onMessage makes
// the task a streaming session; otherwise it is a blocking execute bounded
// by timeout.
//
// Every submission resolves to exactly one outcome: a terminal reply, or
// one of ActionError, TimeoutError, TransportError, ProtocolError.
func (p *Pool) Submit(
	ctx context.Context,
	req protocol.Request,
	timeout time.Duration,
	onMessage dispatch.OnMessage,
) (*protocol.Reply, error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return nil, errors.ErrPoolClosed
	}

	t := &task{
		id:        ulid.Make().String(),
		ctx:       ctx,
		req:       req,
		timeout:   timeout,
		onMessage: onMessage,
		done:      make(chan taskResult, 1),
	}

	p.queue = append(p.queue, t)
	p.log.Debug("Task queued", "task_id", t.id, "action", req.Action, "queue_len", len(p.queue))
	p.scheduleLocked()
	p.mu.Unlock()

	select {
	case res := <-t.done:
		return res.reply, res.err

	case <-ctx.Done():
		// If the task is still queued, withdraw it; once running, the
		// dispatcher observes the context itself and resolves the task.
		if p.withdraw(t) {
			return nil, ctx.Err()
		}

		res := <-t.done

		return res.reply, res.err
	}
}

// CancelTask requests cancellation of the in-flight task running the given
// action. Best-effort: it succeeds even when no matching task is running or
// the worker never acknowledges.
func (p *Pool) CancelTask(ctx context.Context, action protocol.Action) error {
	p.mu.Lock()

	var ses *dispatch.Session

	var conn config.Conn

	for _, w := range p.workers {
		if w.state == WorkerBusy && w.action == action {
			ses = w.session
			conn = w.conn

			break
		}
	}

	p.mu.Unlock()

	switch {
	case ses != nil:
		err := ses.Cancel(ctx)
		if stderrors.Is(err, errors.ErrSessionFinished) {
			return nil
		}

		return err

	case conn != nil:
		// Blocking task: an out-of-band stop request; its terminal
		// cancelled reply resolves the in-flight execute.
		return conn.Send(ctx, protocol.NewRequest(protocol.ActionStop, nil))

	default:
		p.log.Debug("No matching task to cancel", "action", action)

		return nil
	}
}

// SignalBusy writes a control request out of band to every busy worker.
// Used for pause-style controls that the worker applies to its current
// operation without replying.
func (p *Pool) SignalBusy(ctx context.Context, action protocol.Action) error {
	p.mu.Lock()

	conns := make([]config.Conn, 0, len(p.workers))

	for _, w := range p.workers {
		if w.state == WorkerBusy {
			conns = append(conns, w.conn)
		}
	}

	p.mu.Unlock()

	var errs []error

	for _, conn := range conns {
		if err := conn.Send(ctx, protocol.NewRequest(action, nil)); err != nil {
			errs = append(errs, err)
		}
	}

	return stderrors.Join(errs...)
}

// Broadcast executes one request on every live worker, queueing behind each
// worker's in-flight conversation. The timeout bounds each worker's whole
// exchange, including the wait for its channel to free up, so a long
// streaming session cannot stall the broadcast indefinitely. Used for
// settings synchronization.
func (p *Pool) Broadcast(ctx context.Context, req protocol.Request, timeout time.Duration) error {
	p.mu.Lock()

	workers := make([]*worker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}

	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	for _, w := range workers {
		g.Go(func() error {
			wctx := gctx

			if timeout > 0 {
				var cancel context.CancelFunc

				wctx, cancel = context.WithTimeout(gctx, timeout)
				defer cancel()
			}

			_, err := w.disp.Execute(wctx, req, timeout)
			if err != nil {
				return fmt.Errorf("worker %s: %w", w.id, err)
			}

			return nil
		})
	}

	return g.Wait()
}

// UpdateSettings replaces the settings payload pushed to freshly spawned
// workers. Workers already running are not touched; use Broadcast to re-sync
// them.
func (p *Pool) UpdateSettings(settings map[string]any) {
	p.mu.Lock()
	p.cfg.Settings = settings
	p.mu.Unlock()
}

// Workers returns the number of live (non-dead) workers.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.workers)
}

// QueueLen returns the number of tasks awaiting a worker.
func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.queue)
}

// Shutdown stops intake, fails queued tasks, asks each worker to exit, and
// kills any worker still alive after the grace window. Workers are shut
// down in parallel, so the total wait is bounded by roughly one grace
// window rather than grace times worker count. Idempotent.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return nil
	}

	p.closed = true
	queued := p.queue
	p.queue = nil

	workers := make([]*worker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}

	p.mu.Unlock()

	p.log.Info("Pool shutting down", "workers", len(workers), "queued_tasks", len(queued))

	for _, t := range queued {
		t.done <- taskResult{err: errors.ErrPoolClosed}
	}

	var g errgroup.Group

	for _, w := range workers {
		g.Go(func() error {
			return p.stopWorker(ctx, w)
		})
	}

	err := g.Wait()

	p.mu.Lock()
	p.workers = make(map[string]*worker)
	p.mu.Unlock()

	return err
}

// stopWorker asks one worker to exit and kills it when the grace elapses.
func (p *Pool) stopWorker(ctx context.Context, w *worker) error {
	sendCtx, cancel := context.WithTimeout(ctx, shutdownSendTimeout)
	// Out-of-band write: any in-flight task fails with a transport error
	// when the process exits, which is the documented shutdown behavior.
	_ = w.conn.Send(sendCtx, protocol.NewRequest(protocol.ActionShutdown, nil))

	cancel()

	grace := time.NewTimer(p.cfg.ShutdownGrace)
	defer grace.Stop()

	select {
	case <-w.conn.Done():
		p.log.Debug("Worker exited gracefully", "worker", w.id)

		return nil

	case <-grace.C:
		p.log.Warn("Worker did not exit within grace, killing", "worker", w.id)

		_ = w.conn.Close()

	case <-ctx.Done():
		_ = w.conn.Close()

		return ctx.Err()
	}

	select {
	case <-w.conn.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// withdraw removes a still-queued task. Returns false when the task already
// started running.
func (p *Pool) withdraw(t *task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, queued := range p.queue {
		if queued == t {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)

			return true
		}
	}

	return false
}

// scheduleLocked assigns queued tasks to idle workers, spawning replacements
// up to capacity when none are idle. Caller holds p.mu.
func (p *Pool) scheduleLocked() {
	if p.closed {
		return
	}

	for len(p.queue) > 0 {
		w := p.idleLocked()
		if w == nil {
			if len(p.workers)+p.spawning < p.cfg.Size {
				p.spawning++

				go p.spawnWorker()
			}

			return
		}

		t := p.queue[0]
		p.queue = p.queue[1:]

		w.state = WorkerBusy
		w.taskID = t.id
		w.action = t.req.Action

		if t.onMessage != nil {
			w.session = w.disp.NewSession(t.req, t.onMessage)
		}

		go p.runTask(w, t)
	}
}

func (p *Pool) idleLocked() *worker {
	for id, w := range p.workers {
		if w.state != WorkerIdle {
			continue
		}

		// A worker can die while idle (process crash between tasks).
		if w.conn.Dead() {
			w.state = WorkerDead

			delete(p.workers, id)
			p.log.Warn("Idle worker died, removed from pool", "worker", id)

			continue
		}

		return w
	}

	return nil
}

// spawnWorker creates, initializes, and registers one worker.
func (p *Pool) spawnWorker() {
	id := ulid.Make().String()
	log := p.log.With("worker", id)

	log.Info("Spawning worker")

	conn, err := p.cfg.Spawn(context.Background())
	if err == nil {
		disp := dispatch.NewDispatcher(log, conn, p.cfg.Dispatch)

		if initErr := p.initWorker(disp); initErr != nil {
			_ = conn.Close()

			err = initErr
		} else {
			p.mu.Lock()
			p.spawning--

			if p.closed {
				// Shutdown ran while this spawn was in flight; the worker
				// was never in the map it swept, so it dies here.
				p.mu.Unlock()

				log.Info("Pool closed during spawn, discarding worker")

				_ = conn.Close()

				return
			}

			p.workers[id] = &worker{id: id, conn: conn, disp: disp, state: WorkerIdle}
			p.scheduleLocked()
			p.mu.Unlock()

			log.Info("Worker ready")

			return
		}
	}

	log.Error("Worker spawn failed", "error", err)

	// Fail the oldest queued task rather than letting callers hang on a
	// worker that can never start.
	p.mu.Lock()
	p.spawning--

	var t *task

	if len(p.queue) > 0 {
		t = p.queue[0]
		p.queue = p.queue[1:]
	}

	// Tasks queued behind the failed one still need a worker (or their own
	// failure); re-running the scheduler keeps them from stranding.
	p.scheduleLocked()
	p.mu.Unlock()

	if t != nil {
		t.done <- taskResult{err: err}
	}
}

// initWorker pushes settings and optionally confirms readiness before the
// worker accepts tasks.
func (p *Pool) initWorker(disp *dispatch.Dispatcher) error {
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	p.mu.Lock()
	settings := p.cfg.Settings
	p.mu.Unlock()

	if len(settings) > 0 {
		req := protocol.NewRequest(protocol.ActionSyncSettings, map[string]any{
			"settings": settings,
		})

		_, err := disp.Execute(ctx, req, initTimeout)

		// A worker that rejects the settings payload is still usable;
		// a worker we cannot talk to is not.
		var actionErr *errors.ActionError

		if err != nil && !stderrors.As(err, &actionErr) {
			return fmt.Errorf("sync settings: %w", err)
		}
	}

	if p.cfg.ProbeOnSpawn {
		if _, err := disp.Execute(ctx, protocol.NewRequest(protocol.ActionPing, nil), initTimeout); err != nil {
			return fmt.Errorf("readiness probe: %w", err)
		}
	}

	return nil
}

// runTask drives one assigned task to completion and returns the worker to
// the pool, or removes it when its channel died.
func (p *Pool) runTask(w *worker, t *task) {
	p.log.Debug("Task started", "task_id", t.id, "action", t.req.Action, "worker", w.id)

	var reply *protocol.Reply

	var err error

	if t.onMessage != nil {
		reply, err = w.session.Run(t.ctx)
	} else {
		reply, err = w.disp.Execute(t.ctx, t.req, t.timeout)
	}

	p.mu.Lock()

	w.session = nil
	w.action = ""
	w.taskID = ""

	if w.conn.Dead() {
		w.state = WorkerDead

		delete(p.workers, w.id)
		p.log.Warn("Worker died, removed from pool", "worker", w.id, "task_id", t.id)
	} else {
		w.state = WorkerIdle
	}

	p.scheduleLocked()
	p.mu.Unlock()

	t.done <- taskResult{reply: reply, err: err}
}
