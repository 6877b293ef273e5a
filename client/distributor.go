package client

import (
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"sync"
	"time"

	gometrics "github.com/rcrowley/go-metrics"

	"github.com/jsteenb2/voltdb/reactor"
	"github.com/jsteenb2/voltdb/wire"
)

// PingHandle is the client handle reserved for internal liveness pings.
// Callers must never use it.
const PingHandle int64 = math.MaxInt64

const pingProcedure = "@Ping"

// how long Drain sleeps between polls of the outstanding-callback counters
const drainPollInterval = 5 * time.Millisecond

// ClusterInstanceID pins the pool to a single cluster. It is captured from
// the first successful handshake and immutable afterwards.
type ClusterInstanceID struct {
	Timestamp int64
	Address   int32
}

// IConnector performs the blocking dial + authentication handshake.
// Injected so tests can swap the TCP implementation out.
type IConnector interface {
	Connect(host string, port int, user string, hashedPassword []byte, timeout time.Duration) (net.Conn, *wire.LoginResponse, error)
}

// tcpConnector delegates to the reactor's handshake
type tcpConnector struct{}

func (tcpConnector) Connect(host string, port int, user string, hashedPassword []byte, timeout time.Duration) (net.Conn, *wire.LoginResponse, error) {
	return reactor.Authenticate(host, port, user, hashedPassword, timeout)
}

// --------------------------------------------------------------------------
// Distributor
// --------------------------------------------------------------------------

// Distributor de/multiplexes stored-procedure invocations across a pool of
// cluster connections.
//
// It is safe to take the pool lock while holding an individual connection
// lock, but it is always unsafe to take a connection lock while holding
// the pool lock on a path where another goroutine may be doing the
// former with the same connection lock held.
type Distributor struct {
	config    Config
	network   reactor.IReactor
	connector IConnector
	hostname  string
	now       func() time.Time

	mu             sync.Mutex // pool lock
	connections    []*nodeConnection
	listeners      []IStatusListener
	nextConnection int64
	clusterID      *ClusterInstanceID
	buildString    string

	statsLoader  *statsLoader
	reaperStop   chan struct{}
	reaperDone   chan struct{}
	shutdownOnce sync.Once
}

// NewDistributor creates a Distributor with a live TCP reactor and starts
// the expiration reaper.
func NewDistributor(config Config) *Distributor {
	d := newDistributor(config, reactor.New(config.MultipleThreads), tcpConnector{})
	go d.reaperLoop()
	return d
}

// newDistributor wires explicit dependencies; the reaper is not started,
// tests drive expiration directly.
func newDistributor(config Config, network reactor.IReactor, connector IConnector) *Distributor {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	d := &Distributor{
		config:     config.withDefaults(),
		network:    network,
		connector:  connector,
		hostname:   hostname,
		now:        time.Now,
		reaperStop: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}
	if d.config.StatsPollInterval > 0 {
		d.statsLoader = newStatsLoader(d, d.config.StatsPollInterval)
	}
	return d
}

// --------------------------------------------------------------------------
// Connection Management
// --------------------------------------------------------------------------

// CreateConnection authenticates against host:port and adds the resulting
// connection to the pool. The first connection pins the cluster identity;
// later connections must present the same identity or fail with
// ErrClusterInstanceMismatch.
func (d *Distributor) CreateConnection(host string, port int, user string, hashedPassword []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sock, login, err := d.connector.Connect(host, port, user, hashedPassword, d.config.ConnectTimeout)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return fmt.Errorf("%w: %v", ErrUnknownHost, err)
		}
		return err
	}
	if login.Code != wire.AuthOK {
		sock.Close()
		return fmt.Errorf("%w: server rejected credentials for user %q", ErrAuthenticationFailed, user)
	}

	if d.clusterID == nil {
		d.clusterID = &ClusterInstanceID{
			Timestamp: login.ClusterTimestamp,
			Address:   login.ClusterAddress,
		}
		if d.statsLoader != nil {
			d.statsLoader.start(*d.clusterID)
		}
	} else if d.clusterID.Timestamp != login.ClusterTimestamp || d.clusterID.Address != login.ClusterAddress {
		sock.Close()
		return fmt.Errorf("%w: current is %d,%d and server's was %d,%d",
			ErrClusterInstanceMismatch,
			d.clusterID.Timestamp, d.clusterID.Address,
			login.ClusterTimestamp, login.ClusterAddress)
	}
	d.buildString = login.BuildString

	cxn := newNodeConnection(d, login.HostID, login.ConnectionID)
	cxn.port = port
	cxn.lastResponseTime = d.now()
	cxn.connected = true
	conn, err := d.network.Register(sock, cxn)
	if err != nil {
		sock.Close()
		return err
	}
	cxn.conn = conn
	cxn.hostname = conn.HostnameOrIP()
	d.connections = append(d.connections, cxn)
	log.Infof("connected to %s:%d (host id %d, connection id %d), pool size %d",
		cxn.hostname, port, login.HostID, login.ConnectionID, len(d.connections))
	return nil
}

// removeConnection drops a connection from the pool and notifies the
// listeners. Called with the connection's own lock held; the pool lock is
// taken inside it.
func (d *Distributor) removeConnection(c *nodeConnection, cause DisconnectCause) {
	d.mu.Lock()
	for i, x := range d.connections {
		if x == c {
			d.connections = append(d.connections[:i], d.connections[i+1:]...)
			break
		}
	}
	remaining := len(d.connections)
	listeners := d.snapshotListenersLocked()
	d.mu.Unlock()

	log.Warningf("connection to %s:%d lost (%s), %d remaining", c.hostname, c.port, cause, remaining)
	for _, l := range listeners {
		l.ConnectionLost(c.hostname, c.port, remaining, cause)
	}
}

// --------------------------------------------------------------------------
// Dispatch
// --------------------------------------------------------------------------

// Queue submits an invocation on the next connection without backpressure,
// round-robin. With ignoreBackpressure set, backpressure is not skipped.
// Returns false without queueing when every connection is saturated; the
// listeners then receive Backpressure(true). The expensive serialization
// runs outside the pool lock.
func (d *Distributor) Queue(inv *wire.Invocation, callback ProcedureCallback, ignoreBackpressure bool) (bool, error) {
	var cxn *nodeConnection
	backpressure := true

	// the pool lock covers connection selection and the backpressure
	// report, nothing else
	d.mu.Lock()
	total := len(d.connections)
	if total == 0 {
		d.mu.Unlock()
		return false, ErrNoConnections
	}
	for i := 0; i < total; i++ {
		// the cursor advances once per attempt, not once per dispatch
		d.nextConnection++
		idx := d.nextConnection % int64(total)
		if idx < 0 {
			idx = -idx
		}
		c := d.connections[idx]
		if !c.hadBackpressure() || ignoreBackpressure {
			cxn = c
			backpressure = false
			break
		}
	}
	if backpressure {
		for _, l := range d.listeners {
			l.Backpressure(true)
		}
	}
	d.mu.Unlock()

	if cxn != nil {
		frame, err := wire.MarshalInvocation(inv)
		if err != nil {
			return false, err
		}
		cxn.createWork(inv.Handle, inv.Procedure, frame, callback)
	}
	return !backpressure, nil
}

// Drain blocks until every connection has zero outstanding callbacks.
// Connections stay open.
func (d *Distributor) Drain() {
	for {
		more := false
		d.mu.Lock()
		for _, c := range d.connections {
			if c.callbacksToInvoke.Load() > 0 {
				more = true
				break
			}
		}
		d.mu.Unlock()
		if !more {
			return
		}
		time.Sleep(drainPollInterval)
	}
}

// Shutdown cancels the reaper, stops the statistics loader and shuts the
// reactor down, closing every socket. Safe to call more than once.
func (d *Distributor) Shutdown() error {
	var err error
	d.shutdownOnce.Do(func() {
		close(d.reaperStop)
		if d.statsLoader != nil {
			d.statsLoader.Stop()
		}
		err = d.network.Shutdown()
	})
	return err
}

// --------------------------------------------------------------------------
// Listeners
// --------------------------------------------------------------------------

// AddStatusListener registers a listener. Adding the same listener twice
// is a no-op.
func (d *Distributor) AddStatusListener(l IStatusListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, x := range d.listeners {
		if x == l {
			return
		}
	}
	d.listeners = append(d.listeners, l)
}

// RemoveStatusListener removes a listener, reporting whether it was
// registered.
func (d *Distributor) RemoveStatusListener(l IStatusListener) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, x := range d.listeners {
		if x == l {
			d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (d *Distributor) snapshotListenersLocked() []IStatusListener {
	out := make([]IStatusListener, len(d.listeners))
	copy(out, d.listeners)
	return out
}

func (d *Distributor) snapshotListeners() []IStatusListener {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotListenersLocked()
}

// notifyBackpressureEnded holds the pool lock across the notification so
// that Queue cannot report fullness after the write stream reported that
// backpressure has ended, which would be a lost wakeup.
func (d *Distributor) notifyBackpressureEnded() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, l := range d.listeners {
		l.Backpressure(false)
	}
}

func (d *Distributor) notifyLateResponse(resp *wire.Response, hostname string, port int) {
	for _, l := range d.snapshotListeners() {
		l.LateProcedureResponse(resp, hostname, port)
	}
}

// invokeCallback runs a completion handler with no internal lock held,
// converting a panic into an UncaughtException notification.
func (d *Distributor) invokeCallback(callback ProcedureCallback, resp *wire.Response) {
	defer func() {
		if v := recover(); v != nil {
			err, ok := v.(error)
			if !ok {
				err = fmt.Errorf("%v", v)
			}
			d.uncaughtException(callback, resp, err)
		}
	}()
	callback(resp)
}

func (d *Distributor) uncaughtException(callback ProcedureCallback, resp *wire.Response, err error) {
	listeners := d.snapshotListeners()
	handled := false
	for _, l := range listeners {
		func() {
			defer func() {
				if v := recover(); v != nil {
					log.Errorf("status listener panicked in UncaughtException: %v", v)
				}
			}()
			l.UncaughtException(callback, resp, err)
			handled = true
		}()
	}
	if !handled {
		log.Errorf("uncaught panic in procedure callback: %v", err)
	}
}

// --------------------------------------------------------------------------
// Identity
// --------------------------------------------------------------------------

// GetInstanceID returns the cluster identity captured at first connect, or
// nil before any connection succeeded.
func (d *Distributor) GetInstanceID() *ClusterInstanceID {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.clusterID == nil {
		return nil
	}
	id := *d.clusterID
	return &id
}

// GetBuildString returns the server build string captured at connect time.
func (d *Distributor) GetBuildString() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buildString
}

// StatsRegistry returns the go-metrics registry fed by the statistics
// loader, or nil when the loader is disabled.
func (d *Distributor) StatsRegistry() gometrics.Registry {
	if d.statsLoader == nil {
		return nil
	}
	return d.statsLoader.Registry()
}
