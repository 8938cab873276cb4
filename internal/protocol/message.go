package protocol

import (
	"encoding/json"
	"fmt"
)

// Action identifies one worker operation. The set below covers the actions
// the bridge wraps by name; the vocabulary is owned by the worker, so
// unknown actions are still sendable through the generic primitives.
type Action string

const (
	ActionPing                  Action = "ping"
	ActionProbeTranscoder       Action = "probe_transcoder"
	ActionProbeTranscriber      Action = "probe_transcriber"
	ActionProbeSubtitleProvider Action = "probe_subtitle_provider"
	ActionScanDirectory         Action = "scan_directory"
	ActionConvertMedia          Action = "convert_media"
	ActionTranscribeMedia       Action = "transcribe_media"
	ActionSearchSubtitles       Action = "search_subtitles"
	ActionDownloadSubtitle      Action = "download_subtitle"
	ActionApplySubtitle         Action = "apply_subtitle"
	ActionPreviewRename         Action = "preview_rename"
	ActionApplyRename           Action = "apply_rename"
	ActionSyncSettings          Action = "sync_settings"
	ActionPause                 Action = "pause"
	ActionStop                  Action = "stop"
	ActionShutdown              Action = "shutdown"
)

// Status classifies a reply.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusProgress  Status = "progress"
	StatusCancelled Status = "cancelled"
)

// Reserved field names on the wire. Request parameters must not collide
// with actionField; reply payload accessors strip the other three.
const (
	actionField   = "action"
	statusField   = "status"
	messageField  = "message"
	completeField = "complete"
)

// Request is one outbound command. Requests are immutable once sent.
type Request struct {
	Action Action
	Params map[string]any
}

// NewRequest builds a request for the given action.
func NewRequest(action Action, params map[string]any) Request {
	return Request{Action: action, Params: params}
}

// MarshalLine serializes the request as a single JSON line without the
// trailing newline. Parameters are flattened alongside the action key, so a
// parameter named "action" is rejected rather than silently overwritten.
// JSON string escaping guarantees the output contains no raw line breaks.
func (r Request) MarshalLine() ([]byte, error) {
	if r.Action == "" {
		return nil, fmt.Errorf("request has no action")
	}

	obj := make(map[string]any, len(r.Params)+1)

	for k, v := range r.Params {
		if k == actionField {
			return nil, fmt.Errorf("parameter %q collides with the action field", k)
		}

		obj[k] = v
	}

	obj[actionField] = string(r.Action)

	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	return data, nil
}

// Reply is one inbound message from the worker: either an intermediate
// progress update or the terminal outcome of a command.
type Reply struct {
	fields map[string]any
}

// ParseReply decodes one reply line. It fails when the line is not a JSON
// object or when the status field is missing or unrecognized; the caller
// treats such failures as fatal protocol desynchronization.
func ParseReply(line []byte) (*Reply, error) {
	var fields map[string]any

	if err := json.Unmarshal(line, &fields); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}

	status, _ := fields[statusField].(string)

	switch Status(status) {
	case StatusSuccess, StatusError, StatusProgress, StatusCancelled:
	default:
		return nil, fmt.Errorf("reply has invalid status %q", status)
	}

	return &Reply{fields: fields}, nil
}

// Status returns the reply's status classification.
func (r *Reply) Status() Status {
	s, _ := r.fields[statusField].(string)

	return Status(s)
}

// Terminal reports whether this reply ends its session. Every status other
// than progress is terminal; streaming workers additionally set
// "complete": true on the final reply, which is honored as a belt-and-braces
// signal even on a progress status.
func (r *Reply) Terminal() bool {
	if r.Status() != StatusProgress {
		return true
	}

	complete, _ := r.fields[completeField].(bool)

	return complete
}

// Message returns the human-readable detail, if any.
func (r *Reply) Message() string {
	m, _ := r.fields[messageField].(string)

	return m
}

// Payload returns the action-specific result fields, stripped of the
// protocol envelope (status, message, complete).
func (r *Reply) Payload() map[string]any {
	payload := make(map[string]any, len(r.fields))

	for k, v := range r.fields {
		switch k {
		case statusField, messageField, completeField:
		default:
			payload[k] = v
		}
	}

	return payload
}

// String returns the named payload field as a string, or "" when absent or
// of another type.
func (r *Reply) String(key string) string {
	v, _ := r.fields[key].(string)

	return v
}

// Bool returns the named payload field as a bool.
func (r *Reply) Bool(key string) bool {
	v, _ := r.fields[key].(bool)

	return v
}

// Float returns the named payload field as a float64. JSON numbers decode
// to float64, so this covers progress percentages and counts alike.
func (r *Reply) Float(key string) float64 {
	v, _ := r.fields[key].(float64)

	return v
}

// Int returns the named payload field truncated to an int.
func (r *Reply) Int(key string) int {
	return int(r.Float(key))
}
