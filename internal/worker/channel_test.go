package worker

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwamedh-street/EncodeForge-sub003/internal/errors"
	"github.com/ashwamedh-street/EncodeForge-sub003/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func requireUnix(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("tests use Unix shell workers")
	}
}

// startShellWorker starts a channel running the given shell script as the
// worker process.
func startShellWorker(t *testing.T, script string, stderrCb func(string)) *Channel {
	t.Helper()

	ch := New(testLogger(), Config{
		Command: "/bin/sh",
		Args:    []string{"-c", script},
		Stderr:  stderrCb,
	})
	require.NoError(t, ch.Start(context.Background()))
	t.Cleanup(func() { _ = ch.Close() })

	return ch
}

// startEchoWorker starts cat as the worker: every request line is echoed
// back verbatim, so a request whose parameters form a valid reply envelope
// round-trips as that reply.
func startEchoWorker(t *testing.T) *Channel {
	t.Helper()

	ch := New(testLogger(), Config{Command: "cat"})
	require.NoError(t, ch.Start(context.Background()))
	t.Cleanup(func() { _ = ch.Close() })

	return ch
}

func TestChannel_SendReceive_RoundTrip(t *testing.T) {
	requireUnix(t)

	ch := startEchoWorker(t)
	require.Equal(t, Ready, ch.State())
	assert.NotZero(t, ch.Pid())

	req := protocol.NewRequest(protocol.ActionProbeTranscoder, map[string]any{
		"status":    "success",
		"available": true,
		"version":   "6.0",
	})
	require.NoError(t, ch.Send(context.Background(), req))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := ch.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusSuccess, reply.Status())
	assert.True(t, reply.Bool("available"))
	assert.Equal(t, "6.0", reply.String("version"))
}

func TestChannel_OrderedDelivery(t *testing.T) {
	requireUnix(t)

	ch := startShellWorker(t, `
for i in 1 2 3; do printf '{"status":"progress","step":%d}\n' "$i"; done
printf '{"status":"success","step":4}\n'
`, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 1; i <= 4; i++ {
		reply, err := ch.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, reply.Int("step"))
		assert.Equal(t, i == 4, reply.Terminal())
	}
}

func TestChannel_ProcessExit_YieldsTransportError(t *testing.T) {
	requireUnix(t)

	ch := startShellWorker(t, `echo "fatal: cannot load model" >&2; exit 3`, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := ch.Receive(ctx)
	require.Error(t, err)

	var te *errors.TransportError

	require.ErrorAs(t, err, &te)
	assert.Equal(t, 3, te.ExitCode)
	assert.Contains(t, te.Stderr, "cannot load model")
	assert.True(t, ch.Dead())

	// Further sends and receives are rejected.
	err = ch.Send(context.Background(), protocol.NewRequest(protocol.ActionProbeTranscoder, nil))
	require.ErrorIs(t, err, errors.ErrChannelDead)

	_, err = ch.Receive(ctx)
	require.ErrorAs(t, err, &te)
}

func TestChannel_MalformedReply_YieldsProtocolError(t *testing.T) {
	requireUnix(t)

	ch := startShellWorker(t, `echo "Transcoding 42% done"; sleep 30`, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := ch.Receive(ctx)
	require.Error(t, err)

	var pe *errors.ProtocolError

	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "Transcoding 42% done", pe.RawLine)
	assert.True(t, ch.Dead())

	// Desync tears the process down; it must not linger for the full sleep.
	select {
	case <-ch.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker process not reaped after protocol error")
	}
}

func TestChannel_StderrForwarding(t *testing.T) {
	requireUnix(t)

	var mu sync.Mutex

	var lines []string

	ch := startShellWorker(t, `
echo "loading codecs" >&2
printf '{"status":"success"}\n'
sleep 30
`, func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := ch.Receive(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(lines) == 1 && lines[0] == "loading codecs"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestChannel_AbandonedReceive_KeepsReplyForDrain(t *testing.T) {
	requireUnix(t)

	ch := startShellWorker(t, `sleep 0.3; printf '{"status":"success","late":true}\n'; sleep 30`, nil)

	// First wait gives up before the reply arrives.
	shortCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := ch.Receive(shortCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ch.Dead())

	// The late reply is still delivered to the next receive.
	ctx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()

	reply, err := ch.Receive(ctx)
	require.NoError(t, err)
	assert.True(t, reply.Bool("late"))
}

func TestChannel_DegradedFlag(t *testing.T) {
	requireUnix(t)

	ch := startEchoWorker(t)
	assert.False(t, ch.Degraded())

	ch.SetDegraded(true)
	assert.True(t, ch.Degraded())

	ch.SetDegraded(false)
	assert.False(t, ch.Degraded())
}

func TestChannel_SpawnFailure(t *testing.T) {
	ch := New(testLogger(), Config{Command: "/nonexistent/encodeforge-worker"})

	err := ch.Start(context.Background())
	require.Error(t, err)

	var se *errors.SpawnError

	require.ErrorAs(t, err, &se)
	assert.Equal(t, "/nonexistent/encodeforge-worker", se.Command)
}

func TestChannel_CloseIsIdempotent(t *testing.T) {
	requireUnix(t)

	ch := startShellWorker(t, `sleep 30`, nil)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.True(t, ch.Dead())

	select {
	case <-ch.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker process not reaped after close")
	}
}

func TestChannel_CloseBeforeStart(t *testing.T) {
	ch := New(testLogger(), Config{Command: "cat"})

	require.NoError(t, ch.Close())
	assert.True(t, ch.Dead())

	select {
	case <-ch.Done():
	default:
		t.Fatal("done not closed for never-started channel")
	}

	err := ch.Send(context.Background(), protocol.NewRequest(protocol.ActionProbeTranscoder, nil))
	require.ErrorIs(t, err, errors.ErrChannelDead)
}

func TestChannel_DoubleStartRejected(t *testing.T) {
	requireUnix(t)

	ch := startEchoWorker(t)

	err := ch.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
}

func TestChannel_SendRejectsCancelledContext(t *testing.T) {
	requireUnix(t)

	ch := startEchoWorker(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ch.Send(ctx, protocol.NewRequest(protocol.ActionProbeTranscoder, nil))
	require.True(t, stderrors.Is(err, context.Canceled))
}

func TestChannel_SendUnblocksWhenWorkerStopsReading(t *testing.T) {
	requireUnix(t)

	// A worker that never drains stdin.
	ch := startShellWorker(t, "exec sleep 30", nil)

	// Large enough to overrun the stdin pipe buffer, so the write blocks.
	blob := strings.Repeat("x", 4<<20)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := ch.Send(ctx, protocol.NewRequest(protocol.Action("bulk_payload"), map[string]any{"blob": blob}))
	require.True(t, stderrors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 5*time.Second)

	// The abandoned write may have left a partial frame; the channel is
	// unusable afterward.
	assert.True(t, ch.Dead())
}
