// Package dispatch turns a channel's raw send/receive primitive into
// reliable blocking and streaming calls.
//
// The wire protocol carries no per-request correlation identifier, so reply
// ordering is the only correlation mechanism. The dispatcher therefore
// serializes callers per channel in strict FIFO order: one conversation in
// flight at a time, with timed-out conversations drained before the channel
// is reused.
package dispatch
