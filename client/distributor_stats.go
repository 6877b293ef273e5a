package client

import (
	"fmt"
	"math"
	"sort"

	"github.com/jsteenb2/voltdb/reactor"
	"github.com/jsteenb2/voltdb/table"
)

// Statistics assembly. All three views snapshot the pool under the pool
// lock, release it, then visit each connection under its own lock, so no
// goroutine ever waits on a connection lock while holding the pool lock.

var connectionStatsColumns = []table.ColumnInfo{
	table.Column("TIMESTAMP", table.TypeBigint),
	table.Column("HOSTNAME", table.TypeString),
	table.Column("CONNECTION_ID", table.TypeBigint),
	table.Column("SERVER_HOST_ID", table.TypeBigint),
	table.Column("SERVER_HOSTNAME", table.TypeString),
	table.Column("SERVER_CONNECTION_ID", table.TypeBigint),
	table.Column("INVOCATIONS_COMPLETED", table.TypeBigint),
	table.Column("INVOCATIONS_ABORTED", table.TypeBigint),
	table.Column("INVOCATIONS_FAILED", table.TypeBigint),
	table.Column("BYTES_READ", table.TypeBigint),
	table.Column("MESSAGES_READ", table.TypeBigint),
	table.Column("BYTES_WRITTEN", table.TypeBigint),
	table.Column("MESSAGES_WRITTEN", table.TypeBigint),
}

var procedureStatsColumns = []table.ColumnInfo{
	table.Column("TIMESTAMP", table.TypeBigint),
	table.Column("HOSTNAME", table.TypeString),
	table.Column("CONNECTION_ID", table.TypeBigint),
	table.Column("SERVER_HOST_ID", table.TypeBigint),
	table.Column("SERVER_HOSTNAME", table.TypeString),
	table.Column("SERVER_CONNECTION_ID", table.TypeBigint),
	table.Column("PROCEDURE_NAME", table.TypeString),
	table.Column("ROUNDTRIPTIME_AVG", table.TypeInteger),
	table.Column("ROUNDTRIPTIME_MIN", table.TypeInteger),
	table.Column("ROUNDTRIPTIME_MAX", table.TypeInteger),
	table.Column("CLUSTER_ROUNDTRIPTIME_AVG", table.TypeInteger),
	table.Column("CLUSTER_ROUNDTRIPTIME_MIN", table.TypeInteger),
	table.Column("CLUSTER_ROUNDTRIPTIME_MAX", table.TypeInteger),
	table.Column("INVOCATIONS_COMPLETED", table.TypeBigint),
	table.Column("INVOCATIONS_ABORTED", table.TypeBigint),
	table.Column("INVOCATIONS_FAILED", table.TypeBigint),
}

func latencyStatsColumns() []table.ColumnInfo {
	cols := make([]table.ColumnInfo, 0, numLatencyBuckets+7)
	cols = append(cols,
		table.Column("TIMESTAMP", table.TypeBigint),
		table.Column("HOSTNAME", table.TypeString),
		table.Column("CONNECTION_ID", table.TypeBigint),
		table.Column("SERVER_HOST_ID", table.TypeBigint),
		table.Column("SERVER_HOSTNAME", table.TypeString),
		table.Column("SERVER_CONNECTION_ID", table.TypeBigint),
		table.Column("PROCEDURE_NAME", table.TypeString),
	)
	for i := 0; i < numLatencyBuckets; i++ {
		cols = append(cols, table.Column(fmt.Sprintf("%dMS", (i+1)*latencyBucketWidthMS), table.TypeBigint))
	}
	return cols
}

// snapshotPool copies the connection list under the pool lock.
func (d *Distributor) snapshotPool() []*nodeConnection {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*nodeConnection, len(d.connections))
	copy(out, d.connections)
	return out
}

// sortedStatsNamesLocked returns the procedure names of a connection in a
// stable order. Caller holds the connection lock.
func (c *nodeConnection) sortedStatsNamesLocked() []string {
	names := make([]string, 0, len(c.stats))
	for name := range c.stats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// --------------------------------------------------------------------------
// Connection Stats
// --------------------------------------------------------------------------

// GetConnectionStats returns one row per pooled connection plus a GLOBAL
// row under connection id -1 carrying pool totals and the reactor's
// aggregate I/O counters. With interval set, counters are deltas since the
// previous interval snapshot.
func (d *Distributor) GetConnectionStats(interval bool) *table.Table {
	now := d.now().UnixMilli()
	t := table.New(connectionStatsColumns...)
	networkStats := d.network.IOStats(interval)

	var totalInvocations, totalAborted, totalFailed int64
	for _, c := range d.snapshotPool() {
		var completed, aborts, errors int64
		if interval {
			completed, aborts, errors = c.getCountersInterval()
		} else {
			completed, aborts, errors = c.getCounters()
		}
		totalInvocations += completed
		totalAborted += aborts
		totalFailed += errors

		io := networkStats[c.conn.ID()]
		hostname := io.Hostname
		if hostname == "" {
			hostname = c.hostname
		}
		t.MustAddRow(
			now,
			d.hostname,
			c.conn.ID(),
			int64(c.hostID),
			hostname,
			c.connectionID,
			completed,
			aborts,
			errors,
			io.BytesRead,
			io.MessagesRead,
			io.BytesWritten,
			io.MessagesWritten,
		)
	}

	global := networkStats[reactor.GlobalStatsID]
	t.MustAddRow(
		now,
		d.hostname,
		int64(-1),
		int64(-1),
		"GLOBAL",
		int64(-1),
		totalInvocations,
		totalAborted,
		totalFailed,
		global.BytesRead,
		global.MessagesRead,
		global.BytesWritten,
		global.MessagesWritten,
	)
	return t
}

// --------------------------------------------------------------------------
// Procedure Stats
// --------------------------------------------------------------------------

// GetProcedureStats returns one row per (connection, procedure). Interval
// snapshots report deltas, reset the shadow counters and skip procedures
// with no invocations in the window.
func (d *Distributor) GetProcedureStats(interval bool) *table.Table {
	now := d.now().UnixMilli()
	t := table.New(procedureStatsColumns...)

	for _, c := range d.snapshotPool() {
		c.mu.Lock()
		for _, name := range c.sortedStatsNamesLocked() {
			s := c.stats[name]

			completed := s.invocationsCompleted
			aborts := s.invocationAborts
			errors := s.invocationErrors
			roundTripTime := s.roundTripTime
			maxRTT := s.maxRoundTripTime
			minRTT := s.minRoundTripTime
			clusterRoundTripTime := s.clusterRoundTripTime
			maxClusterRTT := s.maxClusterRoundTripTime
			minClusterRTT := s.minClusterRoundTripTime

			if interval {
				completed = s.invocationsCompleted - s.lastInvocationsCompleted
				if completed == 0 {
					// no invocations since last interval
					continue
				}
				s.lastInvocationsCompleted = s.invocationsCompleted

				aborts = s.invocationAborts - s.lastInvocationAborts
				s.lastInvocationAborts = s.invocationAborts

				errors = s.invocationErrors - s.lastInvocationErrors
				s.lastInvocationErrors = s.invocationErrors

				roundTripTime = s.roundTripTime - s.lastRoundTripTime
				s.lastRoundTripTime = s.roundTripTime

				maxRTT = s.lastMaxRoundTripTime
				minRTT = s.lastMinRoundTripTime
				s.lastMaxRoundTripTime = math.MinInt32
				s.lastMinRoundTripTime = math.MaxInt32

				clusterRoundTripTime = s.clusterRoundTripTime - s.lastClusterRoundTripTime
				s.lastClusterRoundTripTime = s.clusterRoundTripTime

				maxClusterRTT = s.lastMaxClusterRoundTripTime
				minClusterRTT = s.lastMinClusterRoundTripTime
				s.lastMaxClusterRoundTripTime = math.MinInt32
				s.lastMinClusterRoundTripTime = math.MaxInt32
			}

			t.MustAddRow(
				now,
				d.hostname,
				c.conn.ID(),
				int64(c.hostID),
				c.hostname,
				c.connectionID,
				name,
				int32(roundTripTime/completed),
				minRTT,
				maxRTT,
				int32(clusterRoundTripTime/completed),
				minClusterRTT,
				maxClusterRTT,
				completed,
				aborts,
				errors,
			)
		}
		c.mu.Unlock()
	}
	return t
}

// --------------------------------------------------------------------------
// Latency Histograms
// --------------------------------------------------------------------------

// GetLatencyHistogram returns the fixed-width latency bucket counts per
// (connection, procedure). With clientRTT set the client-observed round
// trips are reported, otherwise the cluster-reported ones. Interval
// snapshots report bucket deltas, reset the shadow buckets and skip
// procedures with no samples in the window.
func (d *Distributor) GetLatencyHistogram(clientRTT, interval bool) *table.Table {
	now := d.now().UnixMilli()
	t := table.New(latencyStatsColumns()...)

	for _, c := range d.snapshotPool() {
		c.mu.Lock()
		for _, name := range c.sortedStatsNamesLocked() {
			s := c.stats[name]

			var buckets, shadow *[numLatencyBuckets]int64
			if clientRTT {
				buckets, shadow = &s.roundTripTimeBuckets, &s.lastRoundTripTimeBuckets
			} else {
				buckets, shadow = &s.clusterRoundTripTimeBuckets, &s.lastClusterRoundTripTimeBuckets
			}

			row := make([]any, 0, numLatencyBuckets+7)
			row = append(row, now, d.hostname, c.conn.ID(), int64(c.hostID), c.hostname, c.connectionID, name)
			if interval {
				var samples int64
				for _, n := range shadow {
					samples += n
				}
				if samples == 0 {
					continue
				}
				for i := range shadow {
					row = append(row, shadow[i])
				}
				*shadow = [numLatencyBuckets]int64{}
			} else {
				for i := range buckets {
					row = append(row, buckets[i])
				}
			}
			t.MustAddRow(row...)
		}
		c.mu.Unlock()
	}
	return t
}

// GetClientRTTLatencies queries the latency buckets for client-observed
// round trip time.
func (d *Distributor) GetClientRTTLatencies(interval bool) *table.Table {
	return d.GetLatencyHistogram(true, interval)
}

// GetClusterRTTLatencies queries the latency buckets for the round trip
// time measured inside the cluster.
func (d *Distributor) GetClusterRTTLatencies(interval bool) *table.Table {
	return d.GetLatencyHistogram(false, interval)
}
