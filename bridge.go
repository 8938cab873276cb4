package bridge

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/ashwamedh-street/EncodeForge-sub003/internal/config"
	"github.com/ashwamedh-street/EncodeForge-sub003/internal/dispatch"
	"github.com/ashwamedh-street/EncodeForge-sub003/internal/pool"
	"github.com/ashwamedh-street/EncodeForge-sub003/internal/worker"
)

// Bridge is the application-facing entry point: a pool of worker processes
// behind typed command wrappers. All methods are safe for concurrent use.
type Bridge struct {
	log  *slog.Logger
	opts Options
	pool *pool.Pool
}

// Capability is the result of probing one external tool through the worker.
type Capability struct {
	// Available reports whether the tool can be used right now.
	Available bool

	// Version is the tool version string when available.
	Version string

	// Detail explains why the tool is unavailable, or carries extra
	// information about the detected installation.
	Detail string
}

// RenameEntry is one planned file rename.
type RenameEntry struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// New creates a bridge. Worker processes are spawned lazily as commands
// arrive; New itself launches nothing. Close releases the pool.
func New(opts Options) (*Bridge, error) {
	opts.ApplyDefaults()

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = NopLogger()
	}

	spawn := opts.Spawn
	if spawn == nil {
		spawn = defaultSpawn(log, opts)
	}

	p, err := pool.New(log, pool.Config{
		Size:  opts.PoolSize,
		Spawn: spawn,
		Dispatch: dispatch.Config{
			DrainGrace:  opts.DrainGrace,
			CancelGrace: opts.CancelGrace,
		},
		ShutdownGrace: opts.ShutdownGrace,
		Settings:      opts.Settings,
		ProbeOnSpawn:  opts.ProbeOnSpawn,
	})
	if err != nil {
		return nil, err
	}

	return &Bridge{
		log:  log.With("component", "bridge"),
		opts: opts,
		pool: p,
	}, nil
}

// defaultSpawn launches the configured worker executable.
func defaultSpawn(log *slog.Logger, opts Options) SpawnFunc {
	return func(ctx context.Context) (config.Conn, error) {
		ch := worker.New(log, worker.Config{
			Command: opts.WorkerCommand,
			Args:    opts.WorkerArgs,
			Env:     opts.Env,
			Dir:     opts.Dir,
			Stderr:  opts.Stderr,
		})

		if err := ch.Start(ctx); err != nil {
			return nil, err
		}

		return ch, nil
	}
}

// Execute runs one blocking command and returns its terminal reply. The
// command is bounded by the configured default timeout in addition to ctx.
func (b *Bridge) Execute(ctx context.Context, action Action, params map[string]any) (*Reply, error) {
	return b.pool.Submit(ctx, NewRequest(action, params), b.opts.DefaultTimeout, nil)
}

// Stream runs one streaming command, delivering every reply to onMessage in
// arrival order, and returns the terminal reply. Streaming commands have no
// overall timeout; cancel via ctx or CancelCurrent.
func (b *Bridge) Stream(ctx context.Context, action Action, params map[string]any, onMessage OnMessage) (*Reply, error) {
	if onMessage == nil {
		onMessage = func(*Reply) {}
	}

	return b.pool.Submit(ctx, NewRequest(action, params), 0, onMessage)
}

// ProbeTranscoder checks whether the transcoding tool is usable.
func (b *Bridge) ProbeTranscoder(ctx context.Context) (Capability, error) {
	return b.probe(ctx, ActionProbeTranscoder)
}

// ProbeTranscriber checks whether the speech-to-text tool is usable.
func (b *Bridge) ProbeTranscriber(ctx context.Context) (Capability, error) {
	return b.probe(ctx, ActionProbeTranscriber)
}

// ProbeSubtitleProvider checks whether the subtitle download provider is
// reachable.
func (b *Bridge) ProbeSubtitleProvider(ctx context.Context) (Capability, error) {
	return b.probe(ctx, ActionProbeSubtitleProvider)
}

// probe runs a capability probe. Worker-side and transport failures degrade
// to an unavailable capability rather than an error, so a broken tool never
// takes the UI down with it.
func (b *Bridge) probe(ctx context.Context, action Action) (Capability, error) {
	reply, err := b.Execute(ctx, action, nil)
	if err != nil {
		var bridgeErr BridgeError

		if stderrors.As(err, &bridgeErr) {
			b.log.Warn("Capability probe failed", "action", action, "error", err)

			return Capability{Detail: err.Error()}, nil
		}

		return Capability{}, err
	}

	return Capability{
		Available: reply.Bool("available"),
		Version:   reply.String("version"),
		Detail:    reply.String("detail"),
	}, nil
}

// ScanDirectory lists media files under path. Extensions filter the result
// when non-empty.
func (b *Bridge) ScanDirectory(ctx context.Context, path string, recursive bool, extensions ...string) (*Reply, error) {
	params := map[string]any{
		"path":      path,
		"recursive": recursive,
	}

	if len(extensions) > 0 {
		params["extensions"] = extensions
	}

	return b.Execute(ctx, ActionScanDirectory, params)
}

// ConvertMedia transcodes input into output, reporting progress through
// onProgress, and blocks until the conversion resolves. Extra holds optional
// parameters such as "preset" and "hardware_accel".
func (b *Bridge) ConvertMedia(ctx context.Context, input, output string, extra map[string]any, onProgress OnMessage) (*Reply, error) {
	params := map[string]any{
		"input":  input,
		"output": output,
	}

	for k, v := range extra {
		params[k] = v
	}

	return b.Stream(ctx, ActionConvertMedia, params, onProgress)
}

// TranscribeMedia produces a transcript of input, reporting progress through
// onProgress. Extra holds optional parameters such as "language" and "model".
func (b *Bridge) TranscribeMedia(ctx context.Context, input string, extra map[string]any, onProgress OnMessage) (*Reply, error) {
	params := map[string]any{"input": input}

	for k, v := range extra {
		params[k] = v
	}

	return b.Stream(ctx, ActionTranscribeMedia, params, onProgress)
}

// SearchSubtitles queries the subtitle provider for the media file at path.
// Language is optional.
func (b *Bridge) SearchSubtitles(ctx context.Context, path, language string) (*Reply, error) {
	params := map[string]any{"path": path}

	if language != "" {
		params["language"] = language
	}

	return b.Execute(ctx, ActionSearchSubtitles, params)
}

// DownloadSubtitle fetches the subtitle with the given provider id to dest.
func (b *Bridge) DownloadSubtitle(ctx context.Context, id, dest string) (*Reply, error) {
	return b.Execute(ctx, ActionDownloadSubtitle, map[string]any{
		"id":   id,
		"dest": dest,
	})
}

// ApplySubtitle attaches the subtitle file to the media file at path.
func (b *Bridge) ApplySubtitle(ctx context.Context, path, subtitle string) (*Reply, error) {
	return b.Execute(ctx, ActionApplySubtitle, map[string]any{
		"path":     path,
		"subtitle": subtitle,
	})
}

// PreviewRename asks the worker for the rename plan the template would
// produce for the given files, without touching the filesystem.
func (b *Bridge) PreviewRename(ctx context.Context, paths []string, template string) (*Reply, error) {
	params := map[string]any{"paths": paths}

	if template != "" {
		params["template"] = template
	}

	return b.Execute(ctx, ActionPreviewRename, params)
}

// ApplyRename executes a previously previewed rename plan.
func (b *Bridge) ApplyRename(ctx context.Context, plan []RenameEntry) (*Reply, error) {
	entries := make([]map[string]any, len(plan))
	for i, e := range plan {
		entries[i] = map[string]any{"from": e.From, "to": e.To}
	}

	return b.Execute(ctx, ActionApplyRename, map[string]any{"plan": entries})
}

// SyncSettings pushes settings to every live worker and to workers spawned
// from now on.
func (b *Bridge) SyncSettings(ctx context.Context, settings map[string]any) error {
	b.pool.UpdateSettings(settings)

	return b.pool.Broadcast(ctx, NewRequest(ActionSyncSettings, map[string]any{
		"settings": settings,
	}), b.opts.DefaultTimeout)
}

// CancelCurrent requests cancellation of the in-flight task running the
// given action. Best-effort: it succeeds even when no matching task is
// running.
func (b *Bridge) CancelCurrent(ctx context.Context, action Action) error {
	return b.pool.CancelTask(ctx, action)
}

// Pause asks every busy worker to pause its current operation. The worker
// applies it in place without replying; resume by sending the action again.
func (b *Bridge) Pause(ctx context.Context) error {
	return b.pool.SignalBusy(ctx, ActionPause)
}

// Workers returns the number of live worker processes.
func (b *Bridge) Workers() int {
	return b.pool.Workers()
}

// QueueLen returns the number of commands waiting for a worker.
func (b *Bridge) QueueLen() int {
	return b.pool.QueueLen()
}

// Close shuts the pool down: queued commands fail with ErrPoolClosed, each
// worker gets a polite shutdown request, and stragglers are killed after the
// grace window. Idempotent.
func (b *Bridge) Close(ctx context.Context) error {
	b.log.Info("Bridge closing")

	return b.pool.Shutdown(ctx)
}
