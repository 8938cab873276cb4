package protocol

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_MarshalLine(t *testing.T) {
	req := NewRequest(ActionScanDirectory, map[string]any{
		"path":      "/media/incoming",
		"recursive": true,
	})

	data, err := req.MarshalLine()
	require.NoError(t, err)

	// Self-delimited framing: no raw line breaks inside the message.
	assert.NotContains(t, string(data), "\n")

	var decoded map[string]any

	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "scan_directory", decoded["action"])
	assert.Equal(t, "/media/incoming", decoded["path"])
	assert.Equal(t, true, decoded["recursive"])
}

func TestRequest_MarshalLine_EscapesEmbeddedNewlines(t *testing.T) {
	req := NewRequest(ActionSearchSubtitles, map[string]any{
		"path": "weird\nname.mkv",
	})

	data, err := req.MarshalLine()
	require.NoError(t, err)
	assert.False(t, bytes.ContainsRune(data, '\n'))
}

func TestRequest_MarshalLine_RejectsActionCollision(t *testing.T) {
	req := NewRequest(ActionScanDirectory, map[string]any{
		"action": "shutdown",
	})

	_, err := req.MarshalLine()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collides")
}

func TestRequest_MarshalLine_RequiresAction(t *testing.T) {
	_, err := Request{}.MarshalLine()
	require.Error(t, err)
}

func TestParseReply_Statuses(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		status   Status
		terminal bool
	}{
		{
			name:     "success is terminal",
			line:     `{"status":"success","available":true,"version":"6.0"}`,
			status:   StatusSuccess,
			terminal: true,
		},
		{
			name:     "error is terminal",
			line:     `{"status":"error","message":"no such file"}`,
			status:   StatusError,
			terminal: true,
		},
		{
			name:     "cancelled is terminal",
			line:     `{"status":"cancelled"}`,
			status:   StatusCancelled,
			terminal: true,
		},
		{
			name:     "progress is not terminal",
			line:     `{"status":"progress","percent":40.5}`,
			status:   StatusProgress,
			terminal: false,
		},
		{
			name:     "progress with complete marker is terminal",
			line:     `{"status":"progress","complete":true}`,
			status:   StatusProgress,
			terminal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := ParseReply([]byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, tt.status, reply.Status())
			assert.Equal(t, tt.terminal, reply.Terminal())
		})
	}
}

func TestParseReply_Malformed(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{name: "not json", line: "transcoding 40%"},
		{name: "json array", line: `["status","success"]`},
		{name: "missing status", line: `{"available":true}`},
		{name: "unknown status", line: `{"status":"finished"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseReply([]byte(tt.line))
			require.Error(t, err)
		})
	}
}

func TestReply_PayloadStripsEnvelope(t *testing.T) {
	reply, err := ParseReply([]byte(`{"status":"success","message":"done","complete":true,"output":"/tmp/out.mkv","frames":1200}`))
	require.NoError(t, err)

	payload := reply.Payload()
	assert.Equal(t, map[string]any{"output": "/tmp/out.mkv", "frames": float64(1200)}, payload)
	assert.Equal(t, "done", reply.Message())
}

func TestReply_TypedAccessors(t *testing.T) {
	reply, err := ParseReply([]byte(`{"status":"progress","stage":"encode","percent":62.5,"frames":300,"hw":true}`))
	require.NoError(t, err)

	assert.Equal(t, "encode", reply.String("stage"))
	assert.InDelta(t, 62.5, reply.Float("percent"), 0.001)
	assert.Equal(t, 300, reply.Int("frames"))
	assert.True(t, reply.Bool("hw"))

	// Absent or mistyped fields yield zero values.
	assert.Equal(t, "", reply.String("percent"))
	assert.Equal(t, 0, reply.Int("stage"))
	assert.False(t, reply.Bool("missing"))
}
