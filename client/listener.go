package client

import (
	"github.com/jsteenb2/voltdb/wire"
)

// --------------------------------------------------------------------------
// Procedure Callback
// --------------------------------------------------------------------------

// ProcedureCallback receives the response to a queued invocation. Server
// responses run it on a reactor delivery goroutine, timeout responses on the
// reaper goroutine, connection-lost responses on the teardown goroutine or,
// for a connection already disconnected, on the goroutine that called
// Queue. A panic inside the callback is recovered and routed to
// IStatusListener.UncaughtException.
type ProcedureCallback func(resp *wire.Response)

// --------------------------------------------------------------------------
// Disconnect Cause
// --------------------------------------------------------------------------

// DisconnectCause says why a connection was torn down.
type DisconnectCause uint8

const (
	// CauseConnectionClosed is the default: the socket closed, locally or
	// remotely.
	CauseConnectionClosed DisconnectCause = iota

	// CauseTimeout means the liveness ping went unanswered past the
	// connection-response timeout.
	CauseTimeout
)

// String returns the string representation of a DisconnectCause.
func (c DisconnectCause) String() string {
	switch c {
	case CauseConnectionClosed:
		return "connection closed"
	case CauseTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Status Listener
// --------------------------------------------------------------------------

// IStatusListener observes the health of the Distributor. Listeners are
// registered with AddStatusListener and may be invoked while the
// Distributor holds internal locks, so they must not call back into the
// Distributor; hand off to another goroutine instead.
type IStatusListener interface {
	// ConnectionLost fires when a pooled connection is torn down.
	// connectionsLeft is the pool size after removal.
	ConnectionLost(hostname string, port int, connectionsLeft int, cause DisconnectCause)

	// Backpressure fires with on=true when Queue finds every connection
	// above its write-queue threshold, and with on=false when a drained
	// connection drops back below it.
	Backpressure(on bool)

	// LateProcedureResponse fires when a response arrives for a handle that
	// no longer has a bookkeeping entry (already timed out or torn down).
	// The original callback is not invoked.
	LateProcedureResponse(resp *wire.Response, hostname string, port int)

	// UncaughtException fires when a ProcedureCallback panics. The panic
	// never propagates into the reactor goroutine.
	UncaughtException(callback ProcedureCallback, resp *wire.Response, err error)
}
