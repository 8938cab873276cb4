package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreaming_Flags(t *testing.T) {
	assert.True(t, Streaming(ActionConvertMedia))
	assert.True(t, Streaming(ActionTranscribeMedia))
	assert.False(t, Streaming(ActionProbeTranscoder))
	assert.False(t, Streaming(ActionScanDirectory))
	assert.False(t, Streaming(Action("custom_worker_action")))
}

func TestValidate_AcceptsWellFormedParams(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{
			name: "probe without params",
			req:  NewRequest(ActionProbeTranscoder, nil),
		},
		{
			name: "scan with required path",
			req: NewRequest(ActionScanDirectory, map[string]any{
				"path":      "/media",
				"recursive": true,
			}),
		},
		{
			name: "convert with input and output",
			req: NewRequest(ActionConvertMedia, map[string]any{
				"input":  "/media/a.avi",
				"output": "/media/a.mkv",
				"preset": "h265-slow",
			}),
		},
		{
			name: "rename plan",
			req: NewRequest(ActionApplyRename, map[string]any{
				"plan": []any{
					map[string]any{"from": "a.avi", "to": "Show.S01E01.avi"},
				},
			}),
		},
		{
			name: "uncatalogued action passes through",
			req: NewRequest(Action("defragment_flux_capacitor"), map[string]any{
				"anything": 42,
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, Validate(tt.req))
		})
	}
}

func TestValidate_RejectsMalformedParams(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{
			name: "scan missing path",
			req:  NewRequest(ActionScanDirectory, map[string]any{"recursive": true}),
		},
		{
			name: "convert missing output",
			req:  NewRequest(ActionConvertMedia, map[string]any{"input": "/media/a.avi"}),
		},
		{
			name: "wrong type for path",
			req:  NewRequest(ActionSearchSubtitles, map[string]any{"path": 7}),
		},
		{
			name: "settings must be an object",
			req:  NewRequest(ActionSyncSettings, map[string]any{"settings": "verbose"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid parameters")
		})
	}
}

func TestLookup(t *testing.T) {
	spec, ok := Lookup(ActionConvertMedia)
	require.True(t, ok)
	assert.True(t, spec.Streaming)
	require.NotNil(t, spec.Params)

	_, ok = Lookup(Action("nope"))
	assert.False(t, ok)
}
