// Package reactor owns the socket I/O underneath the client: it registers
// authenticated connections, runs a reader and a write flusher per
// connection, de-frames inbound messages before handing them to the
// registered handler, and keeps per-connection and global byte/message
// counters.
//
// The client consumes only the interfaces in interface.go; the TCP
// implementation in this package is one provider of them and tests provide
// their own.
//
// Backpressure protocol: every enqueue reports +len(frame) to the handler's
// QueueBytes monitor and every completed write reports the negative delta.
// The monitor's return value drives the write stream's HadBackpressure
// flag; the transition back below the threshold is surfaced exactly once
// per episode through BackpressureEnded.
package reactor
