package reactor

import (
	"net"
)

// GlobalStatsID keys the aggregate entry in the map returned by IOStats.
const GlobalStatsID int64 = -1

// IConnectionHandler is implemented by the owner of a registered
// connection. All methods are invoked from reactor goroutines, except
// QueueBytes which is also invoked synchronously from Enqueue callers.
type IConnectionHandler interface {
	// HandleFrame delivers one de-framed inbound message. Frames of a single
	// connection are delivered in wire order.
	HandleFrame(conn IConnection, frame []byte)

	// Stopping is invoked exactly once when the connection is being torn
	// down, before its goroutines exit.
	Stopping(conn IConnection)

	// QueueBytes accumulates outbound queue size deltas and returns true
	// while the queue should be considered under backpressure.
	QueueBytes(delta int) bool

	// BackpressureEnded is invoked after the outbound queue drained back
	// below the handler's threshold.
	BackpressureEnded()
}

// IWriteStream is the outbound side of a registered connection.
type IWriteStream interface {
	// Enqueue hands a fully framed message to the flusher. It never blocks
	// on socket I/O.
	Enqueue(frame []byte) error

	// HadBackpressure reports whether the stream is currently above the
	// handler's backpressure threshold.
	HadBackpressure() bool
}

// IConnection is a registered connection as seen by its handler.
type IConnection interface {
	WriteStream() IWriteStream

	// Unregister starts an ordered teardown. The handler's Stopping hook
	// fires asynchronously; Unregister itself never blocks on it.
	Unregister()

	// HostnameOrIP returns the peer address of the underlying socket.
	HostnameOrIP() string

	// ID returns the reactor-assigned connection id, the key of this
	// connection's row in IOStats.
	ID() int64
}

// IOStatsEntry is one row of the I/O counter snapshot.
type IOStatsEntry struct {
	Hostname        string
	BytesRead       int64
	MessagesRead    int64
	BytesWritten    int64
	MessagesWritten int64
}

// IReactor is the I/O surface the client consumes.
type IReactor interface {
	// Register takes ownership of an authenticated socket and starts its
	// reader and flusher.
	Register(sock net.Conn, handler IConnectionHandler) (IConnection, error)

	// IOStats snapshots the byte/message counters of every live connection
	// plus a global aggregate under GlobalStatsID. With interval set, the
	// entries are deltas since the previous interval snapshot.
	IOStats(interval bool) map[int64]IOStatsEntry

	// Shutdown closes every socket and joins the reactor goroutines.
	Shutdown() error
}
