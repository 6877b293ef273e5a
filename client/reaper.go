package client

import (
	"fmt"
	"sort"
	"time"

	"github.com/jsteenb2/voltdb/wire"
)

// reaperLoop runs the expiration task once a second until Shutdown.
func (d *Distributor) reaperLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	defer close(d.reaperDone)

	reaper := callExpiration{d: d}
	for {
		select {
		case <-d.reaperStop:
			return
		case <-ticker.C:
			reaper.run(d.now())
		}
	}
}

// callExpiration walks the pool once per tick: it closes connections whose
// ping went unanswered past the connection-response timeout, pings idle
// connections, and completes calls past the procedure-call timeout with a
// synthetic timeout response.
type callExpiration struct {
	d *Distributor
}

func (r callExpiration) run(now time.Time) {
	d := r.d

	// threadsafe copy of the pool
	d.mu.Lock()
	connections := make([]*nodeConnection, len(d.connections))
	copy(connections, d.connections)
	d.mu.Unlock()

	for _, c := range connections {
		type expiredCall struct {
			handle   int64
			callback ProcedureCallback
			elapsed  time.Duration
		}
		var expired []expiredCall

		c.mu.Lock()
		sinceLastResponse := now.Sub(c.lastResponseTime)

		// if outstanding ping and timeout, close the connection
		if c.outstandingPing && sinceLastResponse > d.config.ConnectionResponseTimeout {
			// memoize why it's closing; unregister triggers Stopping which
			// drains the bookkeeping
			c.closeCause = CauseTimeout
			c.conn.Unregister()
		}

		// if 1/3 of the timeout since last response, send a ping
		if !c.outstandingPing && sinceLastResponse > d.config.ConnectionResponseTimeout/3 {
			c.sendPing()
		}

		// walk the bookkeeping in handle order so a single tick is
		// deterministic
		handles := make([]int64, 0, len(c.callbacks))
		for h := range c.callbacks {
			handles = append(handles, h)
		}
		sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
		for _, h := range handles {
			bk := c.callbacks[h]
			if elapsed := now.Sub(bk.timestamp); elapsed > d.config.ProcedureCallTimeout {
				delete(c.callbacks, h)
				expired = append(expired, expiredCall{handle: h, callback: bk.callback, elapsed: elapsed})
			}
		}
		c.mu.Unlock()

		for _, e := range expired {
			resp := &wire.Response{
				Handle:           e.handle,
				Status:           wire.StatusConnectionTimeout,
				ClientRoundTrip:  int32(e.elapsed / time.Millisecond),
				ClusterRoundTrip: int32(e.elapsed / time.Millisecond),
				StatusString: fmt.Sprintf("No response received in the allotted time (set to %d ms).",
					d.config.ProcedureCallTimeout/time.Millisecond),
			}
			d.invokeCallback(e.callback, resp)
			c.callbacksToInvoke.Add(-1)
		}
	}
}
