package client

import (
	"math"
)

// latency histogram shape: fixed-width buckets, last bucket is a catch-all
const (
	numLatencyBuckets    = 20
	latencyBucketWidthMS = 10
)

// procedureStats is the per-connection, per-procedure accounting record.
// Every field carries a shadow "last" copy used to produce delta snapshots;
// the shadow is reset when an interval snapshot is taken. Guarded by the
// owning connection's lock.
type procedureStats struct {
	name string

	invocationsCompleted     int64
	lastInvocationsCompleted int64
	invocationAborts         int64
	lastInvocationAborts     int64
	invocationErrors         int64
	lastInvocationErrors     int64

	// cumulative latency measured by the client, used to calculate avg. lat.
	roundTripTime     int64
	lastRoundTripTime int64

	maxRoundTripTime     int32
	lastMaxRoundTripTime int32
	minRoundTripTime     int32
	lastMinRoundTripTime int32

	// cumulative latency measured by the cluster, used to calculate avg. lat.
	clusterRoundTripTime     int64
	lastClusterRoundTripTime int64

	maxClusterRoundTripTime     int32
	lastMaxClusterRoundTripTime int32
	minClusterRoundTripTime     int32
	lastMinClusterRoundTripTime int32

	roundTripTimeBuckets            [numLatencyBuckets]int64
	lastRoundTripTimeBuckets        [numLatencyBuckets]int64
	clusterRoundTripTimeBuckets     [numLatencyBuckets]int64
	lastClusterRoundTripTimeBuckets [numLatencyBuckets]int64
}

func newProcedureStats(name string) *procedureStats {
	return &procedureStats{
		name:                        name,
		maxRoundTripTime:            math.MinInt32,
		lastMaxRoundTripTime:        math.MinInt32,
		minRoundTripTime:            math.MaxInt32,
		lastMinRoundTripTime:        math.MaxInt32,
		maxClusterRoundTripTime:     math.MinInt32,
		lastMaxClusterRoundTripTime: math.MinInt32,
		minClusterRoundTripTime:     math.MaxInt32,
		lastMinClusterRoundTripTime: math.MaxInt32,
	}
}

func (s *procedureStats) update(roundTripTime, clusterRoundTripTime int32, abort, failure bool) {
	s.maxRoundTripTime = max(roundTripTime, s.maxRoundTripTime)
	s.lastMaxRoundTripTime = max(roundTripTime, s.lastMaxRoundTripTime)
	s.minRoundTripTime = min(roundTripTime, s.minRoundTripTime)
	s.lastMinRoundTripTime = min(roundTripTime, s.lastMinRoundTripTime)

	s.maxClusterRoundTripTime = max(clusterRoundTripTime, s.maxClusterRoundTripTime)
	s.lastMaxClusterRoundTripTime = max(clusterRoundTripTime, s.lastMaxClusterRoundTripTime)
	s.minClusterRoundTripTime = min(clusterRoundTripTime, s.minClusterRoundTripTime)
	s.lastMinClusterRoundTripTime = min(clusterRoundTripTime, s.lastMinClusterRoundTripTime)

	s.invocationsCompleted++
	if abort {
		s.invocationAborts++
	}
	if failure {
		s.invocationErrors++
	}
	s.roundTripTime += int64(roundTripTime)
	s.clusterRoundTripTime += int64(clusterRoundTripTime)

	rttBucket := bucketFor(roundTripTime)
	s.roundTripTimeBuckets[rttBucket]++
	s.lastRoundTripTimeBuckets[rttBucket]++

	clusterBucket := bucketFor(clusterRoundTripTime)
	s.clusterRoundTripTimeBuckets[clusterBucket]++
	s.lastClusterRoundTripTimeBuckets[clusterBucket]++
}

func bucketFor(rttMS int32) int {
	b := int(rttMS) / latencyBucketWidthMS
	if b < 0 {
		b = 0
	}
	if b >= numLatencyBuckets {
		b = numLatencyBuckets - 1
	}
	return b
}
