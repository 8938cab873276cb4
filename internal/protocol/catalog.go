package protocol

import (
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// Spec describes one catalogued action: whether it streams progress replies
// and what shape its parameters take.
type Spec struct {
	// Streaming marks actions whose execution emits progress replies
	// before the terminal reply.
	Streaming bool

	// Params is the JSON schema for the request parameters. Nil means the
	// action takes no parameters worth validating.
	Params *jsonschema.Schema

	resolveOnce sync.Once
	resolved    *jsonschema.Resolved
	resolveErr  error
}

// catalog maps every known action to its shape. Actions absent from this
// table (the worker's vocabulary is open-ended) pass through unvalidated.
var catalog = map[Action]*Spec{
	ActionPing:                  {},
	ActionProbeTranscoder:       {},
	ActionProbeTranscriber:      {},
	ActionProbeSubtitleProvider: {},
	ActionScanDirectory: {
		Params: objectSchema(map[string]*jsonschema.Schema{
			"path":       {Type: "string"},
			"recursive":  {Type: "boolean"},
			"extensions": {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
		}, "path"),
	},
	ActionConvertMedia: {
		Streaming: true,
		Params: objectSchema(map[string]*jsonschema.Schema{
			"input":          {Type: "string"},
			"output":         {Type: "string"},
			"preset":         {Type: "string"},
			"hardware_accel": {Type: "boolean"},
		}, "input", "output"),
	},
	ActionTranscribeMedia: {
		Streaming: true,
		Params: objectSchema(map[string]*jsonschema.Schema{
			"input":    {Type: "string"},
			"language": {Type: "string"},
			"model":    {Type: "string"},
		}, "input"),
	},
	ActionSearchSubtitles: {
		Params: objectSchema(map[string]*jsonschema.Schema{
			"path":     {Type: "string"},
			"language": {Type: "string"},
		}, "path"),
	},
	ActionDownloadSubtitle: {
		Params: objectSchema(map[string]*jsonschema.Schema{
			"id":   {Type: "string"},
			"dest": {Type: "string"},
		}, "id", "dest"),
	},
	ActionApplySubtitle: {
		Params: objectSchema(map[string]*jsonschema.Schema{
			"path":     {Type: "string"},
			"subtitle": {Type: "string"},
		}, "path", "subtitle"),
	},
	ActionPreviewRename: {
		Params: objectSchema(map[string]*jsonschema.Schema{
			"paths":    {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"template": {Type: "string"},
		}, "paths"),
	},
	ActionApplyRename: {
		Params: objectSchema(map[string]*jsonschema.Schema{
			"plan": {
				Type: "array",
				Items: objectSchema(map[string]*jsonschema.Schema{
					"from": {Type: "string"},
					"to":   {Type: "string"},
				}, "from", "to"),
			},
		}, "plan"),
	},
	ActionSyncSettings: {
		Params: objectSchema(map[string]*jsonschema.Schema{
			"settings": {Type: "object"},
		}, "settings"),
	},
	ActionPause:    {},
	ActionStop:     {},
	ActionShutdown: {},
}

// objectSchema builds an object schema from a property map and the names of
// the required properties.
func objectSchema(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

// Lookup returns the catalog entry for an action.
func Lookup(action Action) (*Spec, bool) {
	spec, ok := catalog[action]

	return spec, ok
}

// Streaming reports whether the action is catalogued as a streaming one.
// Uncatalogued actions default to non-streaming.
func Streaming(action Action) bool {
	spec, ok := catalog[action]

	return ok && spec.Streaming
}

// Validate checks the request's parameters against the catalogued schema.
// Requests for uncatalogued actions and actions without a schema pass.
func Validate(req Request) error {
	spec, ok := catalog[req.Action]
	if !ok || spec.Params == nil {
		return nil
	}

	spec.resolveOnce.Do(func() {
		spec.resolved, spec.resolveErr = spec.Params.Resolve(nil)
	})

	if spec.resolveErr != nil {
		return fmt.Errorf("resolve schema for %q: %w", req.Action, spec.resolveErr)
	}

	params := req.Params
	if params == nil {
		params = map[string]any{}
	}

	if err := spec.resolved.Validate(params); err != nil {
		return fmt.Errorf("invalid parameters for %q: %w", req.Action, err)
	}

	return nil
}
