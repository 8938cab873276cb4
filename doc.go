// Package bridge runs media-processing commands on a pool of local worker
// processes over a line-delimited JSON protocol.
//
// The bridge launches the worker executable as a child process, writes one
// JSON request per line to its stdin, and reads one JSON reply per line from
// its stdout. Long-running commands stream progress replies before their
// terminal reply; everything else is a single request/reply exchange.
//
// # Basic Usage
//
// Construct a Bridge from Options and issue commands:
//
//	b, err := bridge.New(bridge.Options{
//	    WorkerCommand: "encodeforge-worker",
//	    PoolSize:      2,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Close(context.Background())
//
//	reply, err := b.ScanDirectory(ctx, "/media/incoming", true, ".mkv", ".avi")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(reply.Payload())
//
// # Streaming Commands
//
// Conversions and transcriptions report progress through a callback and
// block until the terminal reply arrives:
//
//	reply, err := b.ConvertMedia(ctx, "/in.avi", "/out.mkv", nil,
//	    func(r *bridge.Reply) {
//	        if r.Status() == bridge.StatusProgress {
//	            fmt.Printf("%.0f%%\n", r.Float("percent"))
//	        }
//	    })
//
// Cancel an in-flight command cooperatively from another goroutine:
//
//	_ = b.CancelCurrent(ctx, bridge.ActionConvertMedia)
//
// # Error Handling
//
// Every command resolves to exactly one outcome: a terminal reply or one of
// ActionError (the worker reported failure, channel stays usable),
// TimeoutError (no terminal reply in time), TransportError (worker process
// died), or ProtocolError (unparseable output, channel is torn down).
//
//	var actionErr *bridge.ActionError
//	if errors.As(err, &actionErr) {
//	    fmt.Println("worker rejected command:", actionErr.Message)
//	}
//
// # Testing
//
// Options.Spawn injects a custom Conn implementation, replacing the child
// process entirely; see the package tests for an in-memory worker.
package bridge
