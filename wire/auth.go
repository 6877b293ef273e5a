package wire

// Login message codec. The handshake itself (dial, write, read) lives in the
// reactor package; this file only defines the two message bodies.

// auth result codes returned in LoginResponse.Code
const (
	AuthOK     int8 = 0
	AuthFailed int8 = -1
)

// HashedPasswordLength is the length of the password digest carried in a
// login request.
const HashedPasswordLength = 20

// LoginRequest opens the authentication handshake on a fresh socket.
type LoginRequest struct {
	User           string
	HashedPassword []byte
}

// LoginResponse completes the handshake. ClusterTimestamp and ClusterAddress
// together form the cluster identity; HostID and ConnectionID are assigned
// by the server for this connection.
type LoginResponse struct {
	Code             int8
	HostID           int32
	ConnectionID     int64
	ClusterTimestamp int64
	ClusterAddress   int32
	BuildString      string
}

// MarshalLoginRequest serializes a login request into a framed byte block.
func MarshalLoginRequest(req *LoginRequest) []byte {
	w := newWriter()
	w.putString(req.User)
	w.putBytes(req.HashedPassword)
	return Frame(w.bytes())
}

// UnmarshalLoginRequest parses a login request body.
func UnmarshalLoginRequest(body []byte) (*LoginRequest, error) {
	r := newReader(body)
	req := &LoginRequest{}
	var err error
	if req.User, err = r.str(); err != nil {
		return nil, err
	}
	if req.HashedPassword, err = r.byt(); err != nil {
		return nil, err
	}
	return req, r.done()
}

// MarshalLoginResponse serializes a login response into a framed byte block.
func MarshalLoginResponse(resp *LoginResponse) []byte {
	w := newWriter()
	w.putInt8(resp.Code)
	w.putInt32(resp.HostID)
	w.putInt64(resp.ConnectionID)
	w.putInt64(resp.ClusterTimestamp)
	w.putInt32(resp.ClusterAddress)
	w.putString(resp.BuildString)
	return Frame(w.bytes())
}

// UnmarshalLoginResponse parses a login response body.
func UnmarshalLoginResponse(body []byte) (*LoginResponse, error) {
	r := newReader(body)
	resp := &LoginResponse{}
	var err error
	if resp.Code, err = r.int8(); err != nil {
		return nil, err
	}
	if resp.HostID, err = r.int32(); err != nil {
		return nil, err
	}
	if resp.ConnectionID, err = r.int64(); err != nil {
		return nil, err
	}
	if resp.ClusterTimestamp, err = r.int64(); err != nil {
		return nil, err
	}
	if resp.ClusterAddress, err = r.int32(); err != nil {
		return nil, err
	}
	if resp.BuildString, err = r.str(); err != nil {
		return nil, err
	}
	return resp, r.done()
}
