package reactor

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/jsteenb2/voltdb/wire"
)

// Authenticate dials the endpoint and performs the blocking login
// handshake. The returned socket has no deadlines set and is ready to be
// handed to Register. The caller decides what to do with a rejecting
// LoginResponse; the socket is returned open either way.
func Authenticate(host string, port int, user string, hashedPassword []byte, timeout time.Duration) (net.Conn, *wire.LoginResponse, error) {
	sock, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), timeout)
	if err != nil {
		return nil, nil, err
	}

	if timeout > 0 {
		_ = sock.SetDeadline(time.Now().Add(timeout))
	}
	req := &wire.LoginRequest{User: user, HashedPassword: hashedPassword}
	if _, err := sock.Write(wire.MarshalLoginRequest(req)); err != nil {
		sock.Close()
		return nil, nil, fmt.Errorf("login write to %s: %w", host, err)
	}
	body, err := wire.ReadFrame(sock)
	if err != nil {
		sock.Close()
		return nil, nil, fmt.Errorf("login read from %s: %w", host, err)
	}
	resp, err := wire.UnmarshalLoginResponse(body)
	if err != nil {
		sock.Close()
		return nil, nil, fmt.Errorf("login response from %s: %w", host, err)
	}
	_ = sock.SetDeadline(time.Time{})

	log.Infof("authenticated to %s:%d as host id %d, connection id %d",
		host, port, resp.HostID, resp.ConnectionID)
	return sock, resp, nil
}
