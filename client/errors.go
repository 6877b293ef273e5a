package client

import "errors"

// Error kinds surfaced by the Distributor. Callers match with errors.Is.
var (
	// ErrNoConnections is returned by Queue when the pool is empty.
	ErrNoConnections = errors.New("no connections")

	// ErrClusterInstanceMismatch is returned by CreateConnection when a
	// server reports a cluster identity different from the one the pool is
	// pinned to. The offending socket is closed.
	ErrClusterInstanceMismatch = errors.New("cluster instance id mismatch")

	// ErrAuthenticationFailed is returned by CreateConnection when the
	// server rejects the presented credentials.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrUnknownHost is returned by CreateConnection when the host does not
	// resolve.
	ErrUnknownHost = errors.New("unknown host")
)
