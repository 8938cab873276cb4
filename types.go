package bridge

import (
	"github.com/ashwamedh-street/EncodeForge-sub003/internal/config"
	"github.com/ashwamedh-street/EncodeForge-sub003/internal/dispatch"
	"github.com/ashwamedh-street/EncodeForge-sub003/internal/protocol"
)

// Re-export wire types from internal packages

// Action identifies one worker operation.
type Action = protocol.Action

// Well-known actions. The worker owns the vocabulary; actions outside this
// set can still be sent through Execute and Stream.
const (
	ActionPing                  = protocol.ActionPing
	ActionProbeTranscoder       = protocol.ActionProbeTranscoder
	ActionProbeTranscriber      = protocol.ActionProbeTranscriber
	ActionProbeSubtitleProvider = protocol.ActionProbeSubtitleProvider
	ActionScanDirectory         = protocol.ActionScanDirectory
	ActionConvertMedia          = protocol.ActionConvertMedia
	ActionTranscribeMedia       = protocol.ActionTranscribeMedia
	ActionSearchSubtitles       = protocol.ActionSearchSubtitles
	ActionDownloadSubtitle      = protocol.ActionDownloadSubtitle
	ActionApplySubtitle         = protocol.ActionApplySubtitle
	ActionPreviewRename         = protocol.ActionPreviewRename
	ActionApplyRename           = protocol.ActionApplyRename
	ActionSyncSettings          = protocol.ActionSyncSettings
	ActionPause                 = protocol.ActionPause
	ActionStop                  = protocol.ActionStop
	ActionShutdown              = protocol.ActionShutdown
)

// Status classifies a reply.
type Status = protocol.Status

const (
	StatusSuccess   = protocol.StatusSuccess
	StatusError     = protocol.StatusError
	StatusProgress  = protocol.StatusProgress
	StatusCancelled = protocol.StatusCancelled
)

// Request is one outbound command.
type Request = protocol.Request

// Reply is one parsed worker reply.
type Reply = protocol.Reply

// NewRequest builds a request for the given action.
func NewRequest(action Action, params map[string]any) Request {
	return protocol.NewRequest(action, params)
}

// OnMessage receives every reply of a streaming session, progress and
// terminal alike, in arrival order.
type OnMessage = dispatch.OnMessage

// Conn is the framed, ordered communication path to one worker process.
// Inject a custom implementation through Options.Spawn.
type Conn = config.Conn

// SpawnFunc creates a ready Conn.
type SpawnFunc = config.SpawnFunc
