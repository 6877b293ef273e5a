package client

import (
	"fmt"
	"strings"
	"time"
)

// Defaults for the tunable parameters of the Distributor.
const (
	DefaultProcedureCallTimeout      = 2 * time.Minute
	DefaultConnectionResponseTimeout = 2 * time.Minute
	DefaultConnectTimeout            = 10 * time.Second
	DefaultMaxQueuedBytes            = 262144
)

// Config holds all construction-time parameters of a Distributor.
// The zero value is usable: zero fields fall back to the defaults above.
type Config struct {
	// ProcedureCallTimeout bounds how long a queued invocation may stay
	// unanswered before the reaper completes it with a connection-timeout
	// response.
	ProcedureCallTimeout time.Duration

	// ConnectionResponseTimeout bounds how long a connection may stay
	// silent. At a third of it an idle connection is pinged; past it with
	// the ping unanswered the connection is closed.
	ConnectionResponseTimeout time.Duration

	// ConnectTimeout bounds the blocking authentication handshake in
	// CreateConnection.
	ConnectTimeout time.Duration

	// MaxQueuedBytes is the per-connection write-queue high-water mark
	// above which the connection reports backpressure.
	MaxQueuedBytes int

	// MultipleThreads lets the reactor deliver inbound frames on up to
	// cores/2 goroutines instead of one.
	MultipleThreads bool

	// StatsPollInterval enables the statistics loader when non-zero: every
	// interval it drains delta snapshots into a go-metrics registry.
	StatsPollInterval time.Duration
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.ProcedureCallTimeout <= 0 {
		c.ProcedureCallTimeout = DefaultProcedureCallTimeout
	}
	if c.ConnectionResponseTimeout <= 0 {
		c.ConnectionResponseTimeout = DefaultConnectionResponseTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.MaxQueuedBytes <= 0 {
		c.MaxQueuedBytes = DefaultMaxQueuedBytes
	}
	return c
}

// String returns a formatted string representation of the configuration
func (c Config) String() string {
	c = c.withDefaults()
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-28s: %s\n", name, value))
	}

	addSection("Timeouts")
	addField("Procedure Call Timeout", c.ProcedureCallTimeout.String())
	addField("Connection Response Timeout", c.ConnectionResponseTimeout.String())
	addField("Connect Timeout", c.ConnectTimeout.String())

	addSection("Flow Control")
	addField("Max Queued Bytes", fmt.Sprintf("%d", c.MaxQueuedBytes))

	addSection("Reactor")
	addField("Multiple Threads", fmt.Sprintf("%t", c.MultipleThreads))

	if c.StatsPollInterval > 0 {
		addSection("Statistics Loader")
		addField("Poll Interval", c.StatsPollInterval.String())
	}

	return sb.String()
}
