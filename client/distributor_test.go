package client

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsteenb2/voltdb/wire"
)

func (e *testEnv) nodeConn(i int) *nodeConnection {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	return e.d.connections[i]
}

func nop(*wire.Response) {}

func TestQueueNoConnections(t *testing.T) {
	e := newTestEnv(Config{})
	queued, err := e.d.Queue(wire.NewInvocation(1, "Vote"), nop, false)
	require.ErrorIs(t, err, ErrNoConnections)
	assert.False(t, queued)
}

func TestRoundRobinSpreadsEvenly(t *testing.T) {
	e := newTestEnv(Config{})
	e.connect(t, 3)

	for h := int64(1); h <= 6; h++ {
		queued, err := e.d.Queue(wire.NewInvocation(h, "Vote"), nop, false)
		require.NoError(t, err)
		require.True(t, queued)
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, 2, e.r.conn(i).ws.frameCount(), "connection %d", i)
	}
}

func TestRoundRobinAdvancesCursorPerAttempt(t *testing.T) {
	e := newTestEnv(Config{})
	e.connect(t, 3)

	for h := int64(1); h <= 6; h++ {
		_, err := e.d.Queue(wire.NewInvocation(h, "Vote"), nop, false)
		require.NoError(t, err)
	}

	// saturate the connection the cursor would hit next; the skipped
	// attempt must still advance the cursor
	e.r.conn(1).ws.setForcedBackpressure(true)
	before := []int{e.r.conn(0).ws.frameCount(), e.r.conn(1).ws.frameCount(), e.r.conn(2).ws.frameCount()}

	for h := int64(7); h <= 9; h++ {
		queued, err := e.d.Queue(wire.NewInvocation(h, "Vote"), nop, false)
		require.NoError(t, err)
		require.True(t, queued)
	}

	assert.Equal(t, before[0]+1, e.r.conn(0).ws.frameCount())
	assert.Equal(t, before[1], e.r.conn(1).ws.frameCount())
	assert.Equal(t, before[2]+2, e.r.conn(2).ws.frameCount())
}

func TestQueueAllBackpressured(t *testing.T) {
	e := newTestEnv(Config{})
	e.connect(t, 1)
	listener := &recordingListener{}
	e.d.AddStatusListener(listener)

	e.r.conn(0).ws.setForcedBackpressure(true)

	queued, err := e.d.Queue(wire.NewInvocation(1, "Vote"), nop, false)
	require.NoError(t, err)
	assert.False(t, queued)
	assert.Equal(t, 0, e.r.conn(0).ws.frameCount(), "saturated pool must not enqueue")
	assert.Equal(t, []bool{true}, listener.backpressureEvents())

	// ignoreBackpressure forces the dispatch through
	queued, err = e.d.Queue(wire.NewInvocation(2, "Vote"), nop, true)
	require.NoError(t, err)
	assert.True(t, queued)
	assert.Equal(t, 1, e.r.conn(0).ws.frameCount())
}

func TestBackpressureEndsExactlyOnce(t *testing.T) {
	e := newTestEnv(Config{MaxQueuedBytes: 100})
	e.connect(t, 1)
	listener := &recordingListener{}
	e.d.AddStatusListener(listener)

	big := make([]byte, 200)
	queued, err := e.d.Queue(wire.NewInvocation(1, "Load", big), nop, false)
	require.NoError(t, err)
	require.True(t, queued)
	ws := e.r.conn(0).ws
	require.True(t, ws.HadBackpressure(), "200 queued bytes must exceed the 100 byte threshold")

	queued, err = e.d.Queue(wire.NewInvocation(2, "Load", big), nop, false)
	require.NoError(t, err)
	assert.False(t, queued)
	assert.Equal(t, []bool{true}, listener.backpressureEvents())

	// draining below the threshold fires the off notification exactly once
	ws.drain(len(ws.frame(0)))
	assert.Equal(t, []bool{true, false}, listener.backpressureEvents())
	assert.False(t, ws.HadBackpressure())

	queued, err = e.d.Queue(wire.NewInvocation(3, "Load"), nop, false)
	require.NoError(t, err)
	assert.True(t, queued)
}

func TestClusterIdentityMismatch(t *testing.T) {
	e := newTestEnv(Config{})
	first := defaultLogin
	second := defaultLogin
	second.ClusterAddress = 0xCCDD
	e.conn.logins = []*wire.LoginResponse{&first, &second}

	require.NoError(t, e.d.CreateConnection("node1", 21212, "tester", nil))
	err := e.d.CreateConnection("node2", 21212, "tester", nil)
	require.ErrorIs(t, err, ErrClusterInstanceMismatch)

	assert.Equal(t, 1, e.poolSize())
	id := e.d.GetInstanceID()
	require.NotNil(t, id)
	assert.Equal(t, int64(1_000), id.Timestamp)
	assert.Equal(t, int32(0xAABB), id.Address)
	assert.Equal(t, "v9.0 test build", e.d.GetBuildString())
}

func TestAuthenticationRejected(t *testing.T) {
	e := newTestEnv(Config{})
	rejected := defaultLogin
	rejected.Code = wire.AuthFailed
	e.conn.logins = []*wire.LoginResponse{&rejected}

	err := e.d.CreateConnection("node1", 21212, "tester", nil)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, 0, e.poolSize())
}

func TestProcedureTimeoutAndLateResponse(t *testing.T) {
	e := newTestEnv(Config{
		ProcedureCallTimeout:      50 * time.Millisecond,
		ConnectionResponseTimeout: 10 * time.Second,
	})
	e.connect(t, 1)
	listener := &recordingListener{}
	e.d.AddStatusListener(listener)

	var mu sync.Mutex
	var responses []*wire.Response
	queued, err := e.d.Queue(wire.NewInvocation(42, "Vote"), func(resp *wire.Response) {
		mu.Lock()
		responses = append(responses, resp)
		mu.Unlock()
	}, false)
	require.NoError(t, err)
	require.True(t, queued)

	e.clock.advance(1050 * time.Millisecond)
	callExpiration{d: e.d}.run(e.clock.now())

	mu.Lock()
	require.Len(t, responses, 1)
	timedOut := responses[0]
	mu.Unlock()
	assert.Equal(t, int64(42), timedOut.Handle)
	assert.Equal(t, wire.StatusConnectionTimeout, timedOut.Status)
	assert.Contains(t, timedOut.StatusString, "50 ms")
	assert.Equal(t, int32(1050), timedOut.ClientRoundTrip)
	assert.Equal(t, int32(1050), timedOut.ClusterRoundTrip)
	assert.Equal(t, int32(0), e.nodeConn(0).callbacksToInvoke.Load())

	// the server answering afterwards is a late response, not a second
	// callback invocation
	e.r.conn(0).deliver(&wire.Response{Handle: 42, Status: wire.StatusSuccess})

	mu.Lock()
	assert.Len(t, responses, 1)
	mu.Unlock()
	require.Len(t, listener.lateResponses(), 1)
	assert.Equal(t, int64(42), listener.lateResponses()[0].Handle)
}

func TestHeartbeatSentWhenIdle(t *testing.T) {
	e := newTestEnv(Config{ConnectionResponseTimeout: 3000 * time.Millisecond})
	e.connect(t, 1)

	e.clock.advance(1001 * time.Millisecond)
	callExpiration{d: e.d}.run(e.clock.now())

	ws := e.r.conn(0).ws
	require.Equal(t, 1, ws.frameCount())
	ping, err := wire.UnmarshalInvocation(ws.frame(0)[4:])
	require.NoError(t, err)
	assert.Equal(t, PingHandle, ping.Handle)
	assert.Equal(t, "@Ping", ping.Procedure)

	nc := e.nodeConn(0)
	nc.mu.Lock()
	assert.True(t, nc.outstandingPing)
	assert.Empty(t, nc.callbacks, "the reserved handle never enters the bookkeeping table")
	nc.mu.Unlock()
}

func TestHeartbeatAnsweredKeepsConnection(t *testing.T) {
	e := newTestEnv(Config{ConnectionResponseTimeout: 3000 * time.Millisecond})
	e.connect(t, 1)

	e.clock.advance(1001 * time.Millisecond)
	callExpiration{d: e.d}.run(e.clock.now())

	e.r.conn(0).deliver(&wire.Response{Handle: PingHandle, Status: wire.StatusSuccess})
	nc := e.nodeConn(0)
	nc.mu.Lock()
	assert.False(t, nc.outstandingPing)
	nc.mu.Unlock()

	e.clock.advance(2000 * time.Millisecond)
	callExpiration{d: e.d}.run(e.clock.now())
	assert.False(t, e.r.conn(0).unregistered.Load())
	assert.Equal(t, 1, e.poolSize())
}

func TestHeartbeatUnansweredClosesConnection(t *testing.T) {
	e := newTestEnv(Config{ConnectionResponseTimeout: 3000 * time.Millisecond})
	e.connect(t, 1)
	listener := &recordingListener{}
	e.d.AddStatusListener(listener)

	e.clock.advance(1001 * time.Millisecond)
	callExpiration{d: e.d}.run(e.clock.now())
	require.True(t, e.nodeConn(0).outstandingPingForTest())

	e.clock.advance(2000 * time.Millisecond)
	callExpiration{d: e.d}.run(e.clock.now())

	require.True(t, e.r.conn(0).unregistered.Load())
	require.Eventually(t, func() bool { return e.poolSize() == 0 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(listener.lostEvents()) == 1 }, time.Second, time.Millisecond)
	lost := listener.lostEvents()[0]
	assert.Equal(t, CauseTimeout, lost.cause)
	assert.Equal(t, 0, lost.remaining)
}

func (c *nodeConnection) outstandingPingForTest() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outstandingPing
}

func TestStoppingDrainsBookkeeping(t *testing.T) {
	e := newTestEnv(Config{})
	e.connect(t, 1)
	listener := &recordingListener{}
	e.d.AddStatusListener(listener)

	var mu sync.Mutex
	got := map[int64]int{}
	for h := int64(1); h <= 3; h++ {
		handle := h
		queued, err := e.d.Queue(wire.NewInvocation(handle, "Vote"), func(resp *wire.Response) {
			mu.Lock()
			defer mu.Unlock()
			require.Equal(t, wire.StatusConnectionLost, resp.Status)
			require.Equal(t, handle, resp.Handle)
			got[resp.Handle]++
		}, false)
		require.NoError(t, err)
		require.True(t, queued)
	}

	nc := e.nodeConn(0)
	nc.Stopping(e.r.conn(0))

	mu.Lock()
	assert.Equal(t, map[int64]int{1: 1, 2: 1, 3: 1}, got)
	mu.Unlock()
	assert.Equal(t, int32(0), nc.callbacksToInvoke.Load())
	nc.mu.Lock()
	assert.Empty(t, nc.callbacks)
	nc.mu.Unlock()
	assert.Equal(t, 0, e.poolSize())

	require.Len(t, listener.lostEvents(), 1)
	assert.Equal(t, CauseConnectionClosed, listener.lostEvents()[0].cause)

	_, err := e.d.Queue(wire.NewInvocation(9, "Vote"), nop, false)
	require.ErrorIs(t, err, ErrNoConnections)
}

func TestCreateWorkAfterDisconnect(t *testing.T) {
	e := newTestEnv(Config{})
	e.connect(t, 1)
	nc := e.nodeConn(0)
	nc.Stopping(e.r.conn(0))

	var resp *wire.Response
	nc.createWork(7, "Vote", []byte{0, 0, 0, 0}, func(r *wire.Response) { resp = r })
	require.NotNil(t, resp)
	assert.Equal(t, wire.StatusConnectionLost, resp.Status)
	assert.Equal(t, int64(7), resp.Handle)
	assert.Equal(t, int32(0), nc.callbacksToInvoke.Load())
}

func TestDrainWaitsForAllCallbacks(t *testing.T) {
	e := newTestEnv(Config{})
	e.connect(t, 2)

	respond := func(inv *wire.Invocation) *wire.Response {
		return &wire.Response{Handle: inv.Handle, Status: wire.StatusSuccess, ClusterRoundTrip: 5}
	}
	e.r.conn(0).ws.setAutoRespond(respond)
	e.r.conn(1).ws.setAutoRespond(respond)

	var invoked atomic.Int32
	for h := int64(1); h <= 100; h++ {
		queued, err := e.d.Queue(wire.NewInvocation(h, "Vote"), func(*wire.Response) { invoked.Add(1) }, true)
		require.NoError(t, err)
		require.True(t, queued)
	}

	e.d.Drain()

	assert.Equal(t, int32(100), invoked.Load())
	assert.Equal(t, int32(0), e.nodeConn(0).callbacksToInvoke.Load())
	assert.Equal(t, int32(0), e.nodeConn(1).callbacksToInvoke.Load())
}

func TestUncaughtExceptionRoutedToListener(t *testing.T) {
	e := newTestEnv(Config{})
	e.connect(t, 1)
	listener := &recordingListener{}
	e.d.AddStatusListener(listener)

	queued, err := e.d.Queue(wire.NewInvocation(5, "Vote"), func(*wire.Response) {
		panic("boom")
	}, false)
	require.NoError(t, err)
	require.True(t, queued)

	e.r.conn(0).deliver(&wire.Response{Handle: 5, Status: wire.StatusSuccess})

	require.Len(t, listener.uncaughtErrors(), 1)
	assert.Contains(t, listener.uncaughtErrors()[0].Error(), "boom")
	assert.Equal(t, int32(0), e.nodeConn(0).callbacksToInvoke.Load())
}

func TestCallbackRunsWithoutInternalLocks(t *testing.T) {
	e := newTestEnv(Config{})
	e.connect(t, 1)

	reentered := make(chan struct{})
	queued, err := e.d.Queue(wire.NewInvocation(1, "Vote"), func(*wire.Response) {
		// both of these would deadlock if a Distributor lock were held
		// across callback invocation
		e.d.GetConnectionStats(false)
		_, err := e.d.Queue(wire.NewInvocation(2, "Vote"), nop, true)
		require.NoError(t, err)
		close(reentered)
	}, false)
	require.NoError(t, err)
	require.True(t, queued)

	done := make(chan struct{})
	go func() {
		e.r.conn(0).deliver(&wire.Response{Handle: 1, Status: wire.StatusSuccess})
		close(done)
	}()

	select {
	case <-done:
		<-reentered
	case <-time.After(2 * time.Second):
		t.Fatal("callback deadlocked against Distributor internals")
	}
}

func TestExactlyOnceUnderTimeoutRace(t *testing.T) {
	e := newTestEnv(Config{
		ProcedureCallTimeout:      50 * time.Millisecond,
		ConnectionResponseTimeout: time.Hour,
	})
	e.connect(t, 1)
	listener := &recordingListener{}
	e.d.AddStatusListener(listener)

	const calls = 50
	var mu sync.Mutex
	counts := map[int64]int{}
	for h := int64(1); h <= calls; h++ {
		queued, err := e.d.Queue(wire.NewInvocation(h, "Vote"), func(resp *wire.Response) {
			mu.Lock()
			counts[resp.Handle]++
			mu.Unlock()
		}, false)
		require.NoError(t, err)
		require.True(t, queued)
	}

	e.clock.advance(time.Second)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		callExpiration{d: e.d}.run(e.clock.now())
	}()
	go func() {
		defer wg.Done()
		for h := int64(1); h <= calls; h++ {
			e.r.conn(0).deliver(&wire.Response{Handle: h, Status: wire.StatusSuccess})
		}
	}()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, counts, calls)
	for h, n := range counts {
		assert.Equal(t, 1, n, "handle %d", h)
	}
	assert.Equal(t, int32(0), e.nodeConn(0).callbacksToInvoke.Load())
	// responses that lost the race were surfaced as late, never as a second
	// callback
	assert.LessOrEqual(t, len(listener.lateResponses()), calls)
}

func TestListenerAddRemoveIdempotent(t *testing.T) {
	e := newTestEnv(Config{})
	listener := &recordingListener{}

	e.d.AddStatusListener(listener)
	e.d.AddStatusListener(listener)
	e.d.mu.Lock()
	assert.Len(t, e.d.listeners, 1)
	e.d.mu.Unlock()

	assert.True(t, e.d.RemoveStatusListener(listener))
	assert.False(t, e.d.RemoveStatusListener(listener))
}

func TestShutdownIsIdempotent(t *testing.T) {
	e := newTestEnv(Config{})
	require.NoError(t, e.d.Shutdown())
	require.NoError(t, e.d.Shutdown())
	e.r.mu.Lock()
	assert.True(t, e.r.shutdown)
	e.r.mu.Unlock()
}

func TestQueueSerializationErrorIsFatalToCaller(t *testing.T) {
	e := newTestEnv(Config{})
	e.connect(t, 1)

	_, err := e.d.Queue(wire.NewInvocation(1, "Vote", struct{}{}), nop, false)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNoConnections))
	// the connection survives a serialization failure
	assert.Equal(t, 1, e.poolSize())
	assert.Equal(t, int32(0), e.nodeConn(0).callbacksToInvoke.Load())
}

func TestConcurrentStatsAndTeardown(t *testing.T) {
	e := newTestEnv(Config{})
	e.connect(t, 4)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(worker int64) {
			defer wg.Done()
			// handles stay unique across workers
			for h := worker * 1_000_000; ; h++ {
				select {
				case <-stop:
					return
				default:
				}
				e.d.GetProcedureStats(false)
				e.d.GetConnectionStats(false)
				_, _ = e.d.Queue(wire.NewInvocation(h, fmt.Sprintf("P%d", h%3)), nop, true)
			}
		}(int64(i))
	}
	// tear connections down while stats and dispatch hammer the locks in
	// the opposite direction
	for i := 0; i < 4; i++ {
		e.r.conn(i).Unregister()
	}
	require.Eventually(t, func() bool { return e.poolSize() == 0 }, 2*time.Second, time.Millisecond)
	close(stop)
	wg.Wait()
}
