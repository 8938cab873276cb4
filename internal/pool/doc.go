// Package pool supervises a set of worker channels so independent tasks can
// run concurrently.
//
// The pool exclusively owns its workers: it is the only component that
// starts or terminates them. Tasks queue FIFO for an idle worker; a worker
// found dead is removed and lazily replaced, up to the configured capacity,
// the next time a task needs one.
package pool
