package errors

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *TransportError
		want string
	}{
		{
			name: "with stderr tail",
			err:  &TransportError{Reason: "worker process exited", ExitCode: 1, Stderr: "panic: oom"},
			want: "transport failure: worker process exited (exit 1): panic: oom",
		},
		{
			name: "with wrapped error",
			err:  &TransportError{Reason: "write to stdin", Err: stderrors.New("broken pipe")},
			want: "transport failure: write to stdin: broken pipe",
		},
		{
			name: "bare reason",
			err:  &TransportError{Reason: "stream closed"},
			want: "transport failure: stream closed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestTransportError_Unwrap(t *testing.T) {
	inner := stderrors.New("broken pipe")
	err := &TransportError{Reason: "write", Err: inner}

	require.ErrorIs(t, err, inner)
}

func TestTimeoutError_Message(t *testing.T) {
	err := &TimeoutError{Action: "convert_media", Timeout: 2 * time.Second}

	assert.Equal(t, `action "convert_media" timed out after 2s`, err.Error())
}

func TestActionError_Message(t *testing.T) {
	withMsg := &ActionError{Action: "search_subtitles", Message: "provider unreachable"}
	assert.Equal(t, `action "search_subtitles" failed: provider unreachable`, withMsg.Error())

	withoutMsg := &ActionError{Action: "search_subtitles"}
	assert.Equal(t, `action "search_subtitles" failed`, withoutMsg.Error())
}

func TestErrorsAs_TypedErrors(t *testing.T) {
	var wrapped error = &ProtocolError{RawLine: "not json", Err: stderrors.New("invalid character")}

	var protoErr *ProtocolError

	require.ErrorAs(t, wrapped, &protoErr)
	assert.Equal(t, "not json", protoErr.RawLine)
}

func TestBridgeError_Marker(t *testing.T) {
	errs := []BridgeError{
		&SpawnError{Command: "worker"},
		&TransportError{Reason: "r"},
		&TimeoutError{Action: "probe_transcoder"},
		&ProtocolError{RawLine: "x"},
		&ActionError{Action: "scan_directory"},
	}

	for _, err := range errs {
		assert.True(t, err.IsBridgeError())
	}
}
