// Package wire implements the byte-level codec of the client protocol:
// length-prefixed frames, procedure invocations, procedure responses and
// the login message pair used by the authentication handshake.
//
// All integers are big endian. An outbound frame is a 4-byte length prefix
// followed by the message body; inbound frames are de-framed by the reactor
// before they reach the codec.
//
// The codec is stateless, every function is a pure transformation between
// records and bytes.
package wire
