package client

import (
	"sync"
	"sync/atomic"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// statsLoader is the optional collaborator that periodically drains
// interval snapshots of the Distributor's statistics into a go-metrics
// registry. It is started when the first connection pins the cluster
// identity and stopped by Shutdown. Where the snapshots land beyond the
// registry is up to the embedding application.
type statsLoader struct {
	d        *Distributor
	interval time.Duration
	registry gometrics.Registry

	completed gometrics.Meter
	aborted   gometrics.Meter
	failed    gometrics.Meter
	bytesIn   gometrics.Meter
	bytesOut  gometrics.Meter
	poolSize  gometrics.Gauge

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stop      chan struct{}
	done      chan struct{}
}

func newStatsLoader(d *Distributor, interval time.Duration) *statsLoader {
	registry := gometrics.NewRegistry()
	return &statsLoader{
		d:         d,
		interval:  interval,
		registry:  registry,
		completed: gometrics.NewRegisteredMeter("invocations.completed", registry),
		aborted:   gometrics.NewRegisteredMeter("invocations.aborted", registry),
		failed:    gometrics.NewRegisteredMeter("invocations.failed", registry),
		bytesIn:   gometrics.NewRegisteredMeter("io.bytes_read", registry),
		bytesOut:  gometrics.NewRegisteredMeter("io.bytes_written", registry),
		poolSize:  gometrics.NewRegisteredGauge("pool.connections", registry),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Registry exposes the metrics fed by the loader.
func (l *statsLoader) Registry() gometrics.Registry {
	return l.registry
}

func (l *statsLoader) start(id ClusterInstanceID) {
	l.startOnce.Do(func() {
		log.Infof("stats loader started for cluster %d,%d (poll every %s)",
			id.Timestamp, id.Address, l.interval)
		l.started.Store(true)
		go l.loop()
	})
}

func (l *statsLoader) loop() {
	defer close(l.done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.poll()
		}
	}
}

// poll consumes one interval snapshot. The GLOBAL row carries the pool
// totals and the aggregate I/O counters.
func (l *statsLoader) poll() {
	t := l.d.GetConnectionStats(true)
	rows := t.RowCount()
	if rows == 0 {
		return
	}
	global := rows - 1
	if n, err := t.GetLong(global, "INVOCATIONS_COMPLETED"); err == nil {
		l.completed.Mark(n)
	}
	if n, err := t.GetLong(global, "INVOCATIONS_ABORTED"); err == nil {
		l.aborted.Mark(n)
	}
	if n, err := t.GetLong(global, "INVOCATIONS_FAILED"); err == nil {
		l.failed.Mark(n)
	}
	if n, err := t.GetLong(global, "BYTES_READ"); err == nil {
		l.bytesIn.Mark(n)
	}
	if n, err := t.GetLong(global, "BYTES_WRITTEN"); err == nil {
		l.bytesOut.Mark(n)
	}
	l.poolSize.Update(int64(rows - 1))
}

func (l *statsLoader) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
		if l.started.Load() {
			<-l.done
		}
	})
}
