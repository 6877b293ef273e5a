package reactor

import (
	"fmt"
	"net"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/jsteenb2/voltdb/wire"
)

var log = logger.GetLogger("reactor")

// --------------------------------------------------------------------------
// Reactor
// --------------------------------------------------------------------------

type reactor struct {
	conns      *xsync.MapOf[int64, *connection]
	nextConnID atomic.Int64

	// bounds concurrent HandleFrame execution across connections; order
	// within a connection is preserved by its single reader goroutine
	deliveryTokens chan struct{}

	wg       sync.WaitGroup
	stopped  atomic.Bool
	statsMu  sync.Mutex // serializes IOStats snapshots and shadow resets
	retired  ioCounters // counters of connections already torn down
	retShadw ioCounters
}

// New creates a TCP reactor. With multipleThreads set, inbound frame
// delivery runs on up to cores/2 goroutines at a time, otherwise delivery
// is fully serialized.
func New(multipleThreads bool) IReactor {
	workers := 1
	if multipleThreads {
		workers = runtime.NumCPU() / 2
		if workers < 1 {
			workers = 1
		}
	}
	tokens := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		tokens <- struct{}{}
	}
	return &reactor{
		conns:          xsync.NewMapOf[int64, *connection](),
		deliveryTokens: tokens,
	}
}

func (r *reactor) Register(sock net.Conn, handler IConnectionHandler) (IConnection, error) {
	if r.stopped.Load() {
		return nil, fmt.Errorf("reactor is shut down")
	}
	host, _, err := net.SplitHostPort(sock.RemoteAddr().String())
	if err != nil {
		host = sock.RemoteAddr().String()
	}
	c := &connection{
		id:       r.nextConnID.Add(1),
		r:        r,
		sock:     sock,
		handler:  handler,
		hostname: host,
	}
	c.ws = newWriteStream(c)
	r.conns.Store(c.id, c)

	r.wg.Add(2)
	go c.readLoop()
	go c.ws.flushLoop()
	return c, nil
}

func (r *reactor) IOStats(interval bool) map[int64]IOStatsEntry {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	out := make(map[int64]IOStatsEntry)
	var global ioCounters
	r.conns.Range(func(id int64, c *connection) bool {
		cur := c.counters.snapshot()
		global.add(cur)
		if interval {
			delta := cur
			delta.sub(c.shadow)
			c.shadow = cur
			cur = delta
		}
		out[id] = IOStatsEntry{
			Hostname:        c.hostname,
			BytesRead:       cur.bytesRead,
			MessagesRead:    cur.messagesRead,
			BytesWritten:    cur.bytesWritten,
			MessagesWritten: cur.messagesWritten,
		}
		return true
	})
	global.add(r.retired)
	if interval {
		delta := global
		delta.sub(r.retShadw)
		r.retShadw = global
		global = delta
	}
	out[GlobalStatsID] = IOStatsEntry{
		Hostname:        "GLOBAL",
		BytesRead:       global.bytesRead,
		MessagesRead:    global.messagesRead,
		BytesWritten:    global.bytesWritten,
		MessagesWritten: global.messagesWritten,
	}
	return out
}

func (r *reactor) Shutdown() error {
	if !r.stopped.CompareAndSwap(false, true) {
		return nil
	}
	r.conns.Range(func(_ int64, c *connection) bool {
		c.teardown()
		return true
	})
	r.wg.Wait()
	return nil
}

// --------------------------------------------------------------------------
// I/O Counters
// --------------------------------------------------------------------------

type ioCounters struct {
	bytesRead       int64
	messagesRead    int64
	bytesWritten    int64
	messagesWritten int64
}

func (c *ioCounters) add(o ioCounters) {
	c.bytesRead += o.bytesRead
	c.messagesRead += o.messagesRead
	c.bytesWritten += o.bytesWritten
	c.messagesWritten += o.messagesWritten
}

func (c *ioCounters) sub(o ioCounters) {
	c.bytesRead -= o.bytesRead
	c.messagesRead -= o.messagesRead
	c.bytesWritten -= o.bytesWritten
	c.messagesWritten -= o.messagesWritten
}

// atomicCounters is the live, goroutine-written form of ioCounters.
type atomicCounters struct {
	bytesRead       atomic.Int64
	messagesRead    atomic.Int64
	bytesWritten    atomic.Int64
	messagesWritten atomic.Int64
}

func (c *atomicCounters) snapshot() ioCounters {
	return ioCounters{
		bytesRead:       c.bytesRead.Load(),
		messagesRead:    c.messagesRead.Load(),
		bytesWritten:    c.bytesWritten.Load(),
		messagesWritten: c.messagesWritten.Load(),
	}
}

// --------------------------------------------------------------------------
// Connection
// --------------------------------------------------------------------------

type connection struct {
	id       int64
	r        *reactor
	sock     net.Conn
	handler  IConnectionHandler
	ws       *writeStream
	hostname string

	counters atomicCounters
	shadow   ioCounters // interval snapshot state, guarded by reactor.statsMu

	stopOnce sync.Once
}

func (c *connection) WriteStream() IWriteStream { return c.ws }

func (c *connection) HostnameOrIP() string { return c.hostname }

func (c *connection) ID() int64 { return c.id }

// Unregister closes the socket, which unblocks the reader; the reader then
// runs the teardown and fires the handler's Stopping hook. Callers may hold
// their own locks across Unregister, it never calls back into the handler
// synchronously.
func (c *connection) Unregister() {
	_ = c.sock.Close()
}

func (c *connection) readLoop() {
	defer c.r.wg.Done()
	for {
		body, err := wire.ReadFrame(c.sock)
		if err != nil {
			c.teardown()
			return
		}
		c.counters.bytesRead.Add(int64(len(body)) + 4)
		c.counters.messagesRead.Add(1)

		<-c.r.deliveryTokens
		c.handler.HandleFrame(c, body)
		c.r.deliveryTokens <- struct{}{}
	}
}

func (c *connection) teardown() {
	c.stopOnce.Do(func() {
		_ = c.sock.Close()
		c.ws.close()
		if old, ok := c.r.conns.LoadAndDelete(c.id); ok && old == c {
			c.r.statsMu.Lock()
			c.r.retired.add(c.counters.snapshot())
			c.r.statsMu.Unlock()
		}
		log.Debugf("connection %d to %s torn down", c.id, c.hostname)
		c.handler.Stopping(c)
	})
}

// --------------------------------------------------------------------------
// Write Stream
// --------------------------------------------------------------------------

type writeStream struct {
	c      *connection
	mu     sync.Mutex
	cond   *sync.Cond
	queue  [][]byte
	bp     bool // above the handler's threshold
	closed bool
}

func newWriteStream(c *connection) *writeStream {
	ws := &writeStream{c: c}
	ws.cond = sync.NewCond(&ws.mu)
	return ws
}

func (ws *writeStream) Enqueue(frame []byte) error {
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return fmt.Errorf("write stream is closed")
	}
	ws.queue = append(ws.queue, frame)
	if ws.c.handler.QueueBytes(len(frame)) {
		ws.bp = true
	}
	ws.cond.Signal()
	ws.mu.Unlock()
	return nil
}

func (ws *writeStream) HadBackpressure() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.bp
}

func (ws *writeStream) close() {
	ws.mu.Lock()
	ws.closed = true
	ws.cond.Broadcast()
	ws.mu.Unlock()
}

func (ws *writeStream) flushLoop() {
	defer ws.c.r.wg.Done()
	for {
		ws.mu.Lock()
		for len(ws.queue) == 0 && !ws.closed {
			ws.cond.Wait()
		}
		if ws.closed {
			ws.mu.Unlock()
			return
		}
		batch := ws.queue
		ws.queue = nil
		ws.mu.Unlock()

		written := 0
		for _, frame := range batch {
			if _, err := ws.c.sock.Write(frame); err != nil {
				log.Warningf("write to %s failed: %v", ws.c.hostname, err)
				ws.c.teardown()
				return
			}
			ws.c.counters.bytesWritten.Add(int64(len(frame)))
			ws.c.counters.messagesWritten.Add(1)
			written += len(frame)
		}

		ws.mu.Lock()
		still := ws.c.handler.QueueBytes(-written)
		ended := ws.bp && !still
		if ended {
			ws.bp = false
		}
		ws.mu.Unlock()
		if ended {
			ws.c.handler.BackpressureEnded()
		}
	}
}
