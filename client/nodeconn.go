package client

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jsteenb2/voltdb/reactor"
	"github.com/jsteenb2/voltdb/wire"
)

// callbackBookkeeping is one in-flight invocation: inserted on dispatch,
// removed exactly once by response arrival, the reaper, or teardown.
type callbackBookkeeping struct {
	timestamp time.Time
	callback  ProcedureCallback
	name      string
}

// nodeConnection is one pooled connection to a cluster node. It implements
// reactor.IConnectionHandler for its registered socket.
type nodeConnection struct {
	dist *Distributor

	hostID            int32
	connectionID      int64 // server-assigned
	conn              reactor.IConnection
	hostname          string
	port              int
	maxQueuedBytes    int64
	callbacksToInvoke atomic.Int32
	queuedBytes       atomic.Int64

	mu               sync.Mutex
	connected        bool
	lastResponseTime time.Time
	outstandingPing  bool
	closeCause       DisconnectCause
	callbacks        map[int64]*callbackBookkeeping
	stats            map[string]*procedureStats

	invocationsCompleted     int64
	lastInvocationsCompleted int64
	invocationAborts         int64
	lastInvocationAborts     int64
	invocationErrors         int64
	lastInvocationErrors     int64
}

func newNodeConnection(dist *Distributor, hostID int32, connectionID int64) *nodeConnection {
	return &nodeConnection{
		dist:           dist,
		hostID:         hostID,
		connectionID:   connectionID,
		maxQueuedBytes: int64(dist.config.MaxQueuedBytes),
		callbacks:      make(map[int64]*callbackBookkeeping),
		stats:          make(map[string]*procedureStats),
		closeCause:     CauseConnectionClosed,
	}
}

// createWork registers the bookkeeping entry for a serialized invocation
// and enqueues the frame. The handle must not be PingHandle and must not
// already have an entry. Enqueueing happens after the connection lock is
// released.
func (c *nodeConnection) createWork(handle int64, name string, frame []byte, callback ProcedureCallback) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		c.dist.invokeCallback(callback, c.connectionLostResponse(handle))
		return
	}
	c.callbacks[handle] = &callbackBookkeeping{
		timestamp: c.dist.now(),
		callback:  callback,
		name:      name,
	}
	c.callbacksToInvoke.Add(1)
	c.mu.Unlock()

	if err := c.conn.WriteStream().Enqueue(frame); err != nil {
		// the stream closed underneath us; teardown drains the entry
		log.Debugf("enqueue to %s failed: %v", c.hostname, err)
	}
}

// sendPing enqueues the internal liveness invocation. No bookkeeping entry
// is created for the reserved handle. Caller holds the connection lock.
func (c *nodeConnection) sendPing() {
	frame, err := wire.MarshalInvocation(wire.NewInvocation(PingHandle, pingProcedure))
	if err != nil {
		log.Errorf("marshal ping: %v", err)
		return
	}
	if err := c.conn.WriteStream().Enqueue(frame); err != nil {
		log.Debugf("ping enqueue to %s failed: %v", c.hostname, err)
		return
	}
	c.outstandingPing = true
}

func (c *nodeConnection) connectionLostResponse(handle int64) *wire.Response {
	return &wire.Response{
		Handle: handle,
		Status: wire.StatusConnectionLost,
		StatusString: fmt.Sprintf(
			"Connection to database host (%s) was lost before a response was received", c.hostname),
	}
}

// updateStatsLocked updates the per-procedure statistics. Caller holds the
// connection lock.
func (c *nodeConnection) updateStatsLocked(name string, roundTrip, clusterRoundTrip int32, abort, failure bool) {
	stats, ok := c.stats[name]
	if !ok {
		stats = newProcedureStats(name)
		c.stats[name] = stats
	}
	stats.update(roundTrip, clusterRoundTrip, abort, failure)
}

// --------------------------------------------------------------------------
// reactor.IConnectionHandler
// --------------------------------------------------------------------------

// HandleFrame correlates one inbound response to its bookkeeping entry and
// delivers it. Runs on a reactor delivery goroutine.
func (c *nodeConnection) HandleFrame(_ reactor.IConnection, frame []byte) {
	now := c.dist.now()
	resp, err := wire.UnmarshalResponse(frame)
	if err != nil {
		log.Errorf("bad response frame from %s: %v", c.hostname, err)
		return
	}

	c.mu.Lock()
	// track the timestamp of the most recent read on this connection
	c.lastResponseTime = now

	// ping responses clear the outstanding flag and go no further
	if resp.Handle == PingHandle {
		c.outstandingPing = false
		c.mu.Unlock()
		return
	}

	bk, ok := c.callbacks[resp.Handle]
	if !ok {
		// presumably a response for a call the reaper already timed out
		c.mu.Unlock()
		c.dist.notifyLateResponse(resp, c.hostname, c.port)
		return
	}
	delete(c.callbacks, resp.Handle)

	delta := int32(now.Sub(bk.timestamp) / time.Millisecond)
	c.invocationsCompleted++
	abort := resp.Status == wire.StatusUserAbort || resp.Status == wire.StatusGracefulFailure
	failure := !abort && resp.Status != wire.StatusSuccess
	if abort {
		c.invocationAborts++
	}
	if failure {
		c.invocationErrors++
	}
	c.updateStatsLocked(bk.name, delta, resp.ClusterRoundTrip, abort, failure)
	c.mu.Unlock()

	resp.ClientRoundTrip = delta
	c.dist.invokeCallback(bk.callback, resp)
	c.callbacksToInvoke.Add(-1)
}

// Stopping removes the connection from the pool and completes every
// remaining bookkeeping entry with a connection-lost response. The pool
// lock is taken inside the connection lock here; this is the only
// permitted direction for that pairing.
func (c *nodeConnection) Stopping(_ reactor.IConnection) {
	c.mu.Lock()
	c.dist.removeConnection(c, c.closeCause)
	c.connected = false
	drained := c.callbacks
	c.callbacks = make(map[int64]*callbackBookkeeping)
	c.mu.Unlock()

	for handle, bk := range drained {
		c.dist.invokeCallback(bk.callback, c.connectionLostResponse(handle))
		c.callbacksToInvoke.Add(-1)
	}
}

// QueueBytes accumulates outbound queue deltas; above the high-water mark
// the connection reports backpressure. The accumulator is atomic because
// the reactor calls in from Enqueue paths that may already hold the
// connection lock.
func (c *nodeConnection) QueueBytes(delta int) bool {
	return c.queuedBytes.Add(int64(delta)) > c.maxQueuedBytes
}

// BackpressureEnded relays the drain notification; the Distributor lock is
// held across it so a racing Queue cannot observe fullness after the end
// notification.
func (c *nodeConnection) BackpressureEnded() {
	c.dist.notifyBackpressureEnded()
}

func (c *nodeConnection) hadBackpressure() bool {
	return c.conn.WriteStream().HadBackpressure()
}

// --------------------------------------------------------------------------
// Counters
// --------------------------------------------------------------------------

// getCounters returns invocations completed, aborted, errored.
func (c *nodeConnection) getCounters() (completed, aborts, errors int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invocationsCompleted, c.invocationAborts, c.invocationErrors
}

// getCountersInterval returns the same counters as deltas since the last
// interval call and resets the shadows.
func (c *nodeConnection) getCountersInterval() (completed, aborts, errors int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	completed = c.invocationsCompleted - c.lastInvocationsCompleted
	c.lastInvocationsCompleted = c.invocationsCompleted

	aborts = c.invocationAborts - c.lastInvocationAborts
	c.lastInvocationAborts = c.invocationAborts

	errors = c.invocationErrors - c.lastInvocationErrors
	c.lastInvocationErrors = c.invocationErrors
	return completed, aborts, errors
}
