// Package worker owns the worker child process and its byte streams.
//
// A Channel spawns one worker, frames outgoing requests and incoming replies
// over its stdin/stdout as one JSON object per line, and drains stderr to the
// log. No other component reads or writes the process pipes. Process death
// or a malformed reply kills the channel permanently; the pool replaces it.
package worker
