// Package client implements the client-side multiplexing transport for a
// cluster of database nodes. It fans stored-procedure invocations out over
// a pool of persistent connections, correlates asynchronous responses back
// to caller-supplied callbacks, keeps per-connection and per-procedure
// latency and error statistics, enforces liveness with pings and per-call
// timeouts, and reports backpressure to its callers.
//
// The central type is the Distributor. Callers create one, open
// connections with CreateConnection, and submit work with Queue. Responses
// are delivered via the ProcedureCallback supplied with each invocation,
// normally on reactor goroutines (see ProcedureCallback for the exceptions).
//
// Locking: there are exactly two lock levels, the Distributor pool lock
// and the per-connection lock. Taking the pool lock while holding a
// connection lock is permitted (the teardown path relies on it); no path
// takes a connection lock while holding the pool lock: dispatch,
// statistics and the reaper copy the pool under the pool lock and release
// it before visiting any connection. Completion callbacks are never invoked while
// either lock is held.
package client
