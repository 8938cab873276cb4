// Package protocol defines the wire model spoken with the worker process.
//
// Each direction carries one JSON object per line. Outbound requests are a
// flat field/value mapping with a required "action" key; inbound replies
// carry a "status" field plus action-specific payload fields. The protocol
// has no per-request correlation identifier: correlation is purely by strict
// one-in-flight ordering on a channel, which the dispatch layer enforces.
//
// The package also holds the action catalog: the closed set of actions the
// bridge knows by name, each with a parameter schema used to validate
// requests before they are written to the wire.
package protocol
