// Package errors defines error types for the worker bridge.
//
// This package provides structured error types that wrap the failure
// scenarios of the bridge: transport loss, request timeouts, protocol
// desynchronization, and worker-reported action failures. All error types
// support error unwrapping and can be checked using errors.Is and errors.As.
package errors
