package client

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jsteenb2/voltdb/reactor"
	"github.com/jsteenb2/voltdb/wire"
)

// --------------------------------------------------------------------------
// Fake Clock
// --------------------------------------------------------------------------

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// --------------------------------------------------------------------------
// Mock Reactor
// --------------------------------------------------------------------------

// mockWriteStream mirrors the live write stream's monitor protocol without
// any socket underneath. Draining is driven explicitly by tests.
type mockWriteStream struct {
	conn *mockConnection

	mu       sync.Mutex
	frames   [][]byte
	bp       bool
	forcedBP bool

	// autoRespond, when set, answers every parsed invocation asynchronously
	autoRespond func(inv *wire.Invocation) *wire.Response
}

func (ws *mockWriteStream) Enqueue(frame []byte) error {
	ws.mu.Lock()
	ws.frames = append(ws.frames, frame)
	auto := ws.autoRespond
	ws.mu.Unlock()

	if ws.conn.handler.QueueBytes(len(frame)) {
		ws.mu.Lock()
		ws.bp = true
		ws.mu.Unlock()
	}

	if auto != nil {
		if inv, err := wire.UnmarshalInvocation(frame[4:]); err == nil {
			if resp := auto(inv); resp != nil {
				go ws.conn.deliver(resp)
			}
		}
	}
	return nil
}

func (ws *mockWriteStream) HadBackpressure() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.bp || ws.forcedBP
}

func (ws *mockWriteStream) setForcedBackpressure(v bool) {
	ws.mu.Lock()
	ws.forcedBP = v
	ws.mu.Unlock()
}

// drain reports n written bytes back to the queue monitor, firing the
// backpressure-ended hook on the threshold crossing like the live flusher.
func (ws *mockWriteStream) drain(n int) {
	still := ws.conn.handler.QueueBytes(-n)
	ws.mu.Lock()
	ended := ws.bp && !still
	if ended {
		ws.bp = false
	}
	ws.mu.Unlock()
	if ended {
		ws.conn.handler.BackpressureEnded()
	}
}

func (ws *mockWriteStream) frameCount() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.frames)
}

func (ws *mockWriteStream) frame(i int) []byte {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.frames[i]
}

func (ws *mockWriteStream) setAutoRespond(f func(inv *wire.Invocation) *wire.Response) {
	ws.mu.Lock()
	ws.autoRespond = f
	ws.mu.Unlock()
}

type mockConnection struct {
	id           int64
	hostname     string
	handler      reactor.IConnectionHandler
	ws           *mockWriteStream
	unregistered atomic.Bool
}

func (m *mockConnection) WriteStream() reactor.IWriteStream { return m.ws }

func (m *mockConnection) HostnameOrIP() string { return m.hostname }

func (m *mockConnection) ID() int64 { return m.id }

// Unregister mimics the live reactor: teardown runs off the caller's
// goroutine, so callers may hold locks across it.
func (m *mockConnection) Unregister() {
	if m.unregistered.CompareAndSwap(false, true) {
		go m.handler.Stopping(m)
	}
}

// deliver hands a response to the handler the way the reactor would, as a
// de-framed body.
func (m *mockConnection) deliver(resp *wire.Response) {
	framed, err := wire.MarshalResponse(resp)
	if err != nil {
		panic(err)
	}
	m.handler.HandleFrame(m, framed[4:])
}

type mockReactor struct {
	mu       sync.Mutex
	conns    []*mockConnection
	nextID   int64
	shutdown bool
}

func (r *mockReactor) Register(_ net.Conn, handler reactor.IConnectionHandler) (reactor.IConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	mc := &mockConnection{
		id:       r.nextID,
		hostname: fmt.Sprintf("node%d", r.nextID),
		handler:  handler,
	}
	mc.ws = &mockWriteStream{conn: mc}
	r.conns = append(r.conns, mc)
	return mc, nil
}

func (r *mockReactor) IOStats(bool) map[int64]reactor.IOStatsEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]reactor.IOStatsEntry, len(r.conns)+1)
	for _, c := range r.conns {
		out[c.id] = reactor.IOStatsEntry{Hostname: c.hostname}
	}
	out[reactor.GlobalStatsID] = reactor.IOStatsEntry{Hostname: "GLOBAL"}
	return out
}

func (r *mockReactor) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutdown = true
	return nil
}

func (r *mockReactor) conn(i int) *mockConnection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[i]
}

// --------------------------------------------------------------------------
// Mock Connector
// --------------------------------------------------------------------------

type mockConnector struct {
	mu     sync.Mutex
	logins []*wire.LoginResponse
	err    error
}

var defaultLogin = wire.LoginResponse{
	Code:             wire.AuthOK,
	HostID:           1,
	ClusterTimestamp: 1_000,
	ClusterAddress:   0xAABB,
	BuildString:      "v9.0 test build",
}

func (c *mockConnector) Connect(string, int, string, []byte, time.Duration) (net.Conn, *wire.LoginResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, nil, c.err
	}
	login := defaultLogin
	if len(c.logins) > 0 {
		login = *c.logins[0]
		c.logins = c.logins[1:]
	}
	sock, _ := net.Pipe()
	return sock, &login, nil
}

// --------------------------------------------------------------------------
// Test Environment
// --------------------------------------------------------------------------

type testEnv struct {
	d     *Distributor
	r     *mockReactor
	conn  *mockConnector
	clock *fakeClock
}

func newTestEnv(config Config) *testEnv {
	r := &mockReactor{}
	conn := &mockConnector{}
	d := newDistributor(config, r, conn)
	clock := newFakeClock()
	d.now = clock.now
	return &testEnv{d: d, r: r, conn: conn, clock: clock}
}

func (e *testEnv) connect(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, e.d.CreateConnection("node", 21212, "tester", nil))
	}
}

func (e *testEnv) poolSize() int {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	return len(e.d.connections)
}

// --------------------------------------------------------------------------
// Recording Listener
// --------------------------------------------------------------------------

type lostEvent struct {
	hostname  string
	port      int
	remaining int
	cause     DisconnectCause
}

type recordingListener struct {
	mu           sync.Mutex
	lost         []lostEvent
	backpressure []bool
	late         []*wire.Response
	uncaught     []error
}

func (l *recordingListener) ConnectionLost(hostname string, port int, connectionsLeft int, cause DisconnectCause) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lost = append(l.lost, lostEvent{hostname, port, connectionsLeft, cause})
}

func (l *recordingListener) Backpressure(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backpressure = append(l.backpressure, on)
}

func (l *recordingListener) LateProcedureResponse(resp *wire.Response, _ string, _ int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.late = append(l.late, resp)
}

func (l *recordingListener) UncaughtException(_ ProcedureCallback, _ *wire.Response, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.uncaught = append(l.uncaught, err)
}

func (l *recordingListener) lostEvents() []lostEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]lostEvent(nil), l.lost...)
}

func (l *recordingListener) backpressureEvents() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.backpressure...)
}

func (l *recordingListener) lateResponses() []*wire.Response {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*wire.Response(nil), l.late...)
}

func (l *recordingListener) uncaughtErrors() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.uncaught...)
}
