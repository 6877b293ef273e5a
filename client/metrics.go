package client

import (
	"fmt"
	"io"

	vm "github.com/VictoriaMetrics/metrics"

	"github.com/jsteenb2/voltdb/table"
)

// MetricsExporter renders the Distributor's cumulative statistics in
// Prometheus text format. Each WritePrometheus call refreshes the metric
// set from a fresh snapshot, so scraping is always current.
type MetricsExporter struct {
	d   *Distributor
	set *vm.Set
}

// NewMetricsExporter creates an exporter over d. Wire its WritePrometheus
// into an HTTP handler to expose the client to a scraper.
func NewMetricsExporter(d *Distributor) *MetricsExporter {
	return &MetricsExporter{d: d, set: vm.NewSet()}
}

// WritePrometheus refreshes the metric set from a cumulative snapshot and
// writes it to w.
func (e *MetricsExporter) WritePrometheus(w io.Writer) {
	t := e.d.GetConnectionStats(false)
	for i := 0; i < t.RowCount(); i++ {
		id, err := t.GetLong(i, "CONNECTION_ID")
		if err != nil {
			continue
		}
		host, _ := t.GetString(i, "SERVER_HOSTNAME")
		labels := fmt.Sprintf(`{connection_id=%q,server=%q}`, fmt.Sprint(id), host)

		e.setCounter("client_invocations_completed", labels, t, i, "INVOCATIONS_COMPLETED")
		e.setCounter("client_invocations_aborted", labels, t, i, "INVOCATIONS_ABORTED")
		e.setCounter("client_invocations_failed", labels, t, i, "INVOCATIONS_FAILED")
		e.setCounter("client_bytes_read", labels, t, i, "BYTES_READ")
		e.setCounter("client_bytes_written", labels, t, i, "BYTES_WRITTEN")
		e.setCounter("client_messages_read", labels, t, i, "MESSAGES_READ")
		e.setCounter("client_messages_written", labels, t, i, "MESSAGES_WRITTEN")
	}
	e.set.WritePrometheus(w)
}

func (e *MetricsExporter) setCounter(name, labels string, t *table.Table, row int, column string) {
	n, err := t.GetLong(row, column)
	if err != nil || n < 0 {
		return
	}
	e.set.GetOrCreateCounter(name + labels).Set(uint64(n))
}
