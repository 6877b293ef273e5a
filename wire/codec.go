package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/jsteenb2/voltdb/table"
)

// --------------------------------------------------------------------------
// Status Codes
// --------------------------------------------------------------------------

// Status is the server- or client-assigned outcome of an invocation.
type Status int8

const (
	StatusSuccess           Status = 1
	StatusUserAbort         Status = -1
	StatusGracefulFailure   Status = -2
	StatusUnexpectedFailure Status = -3
	StatusConnectionLost    Status = -4
	StatusServerUnavailable Status = -5
	StatusConnectionTimeout Status = -6
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusUserAbort:
		return "user abort"
	case StatusGracefulFailure:
		return "graceful failure"
	case StatusUnexpectedFailure:
		return "unexpected failure"
	case StatusConnectionLost:
		return "connection lost"
	case StatusServerUnavailable:
		return "server unavailable"
	case StatusConnectionTimeout:
		return "connection timeout"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Invocation
// --------------------------------------------------------------------------

// Invocation is a single stored-procedure call. Handle is chosen by the
// caller and must be unique among its in-flight calls.
type Invocation struct {
	Handle    int64
	Procedure string
	Params    []any
}

// NewInvocation creates an invocation for the given handle and procedure.
func NewInvocation(handle int64, procedure string, params ...any) *Invocation {
	return &Invocation{Handle: handle, Procedure: procedure, Params: params}
}

// MarshalInvocation serializes an invocation into a framed byte block
// (4-byte length prefix included).
func MarshalInvocation(inv *Invocation) ([]byte, error) {
	w := newWriter()
	w.putInt64(inv.Handle)
	w.putString(inv.Procedure)
	if len(inv.Params) > math.MaxUint16 {
		return nil, fmt.Errorf("too many parameters: %d", len(inv.Params))
	}
	w.putUint16(uint16(len(inv.Params)))
	for i, p := range inv.Params {
		if err := w.putValue(p); err != nil {
			return nil, fmt.Errorf("parameter %d: %v", i, err)
		}
	}
	return Frame(w.bytes()), nil
}

// UnmarshalInvocation parses an invocation body (no length prefix).
func UnmarshalInvocation(body []byte) (*Invocation, error) {
	r := newReader(body)
	inv := &Invocation{}
	var err error
	if inv.Handle, err = r.int64(); err != nil {
		return nil, err
	}
	if inv.Procedure, err = r.str(); err != nil {
		return nil, err
	}
	n, err := r.uint16()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(n); i++ {
		v, err := r.value()
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %v", i, err)
		}
		inv.Params = append(inv.Params, v)
	}
	return inv, r.done()
}

// --------------------------------------------------------------------------
// Response
// --------------------------------------------------------------------------

// Response answers a single invocation. ClientRoundTrip is not part of the
// wire format, it is stamped by the client before callback delivery.
type Response struct {
	Handle           int64
	Status           Status
	AppStatus        int8
	ClusterRoundTrip int32
	ClientRoundTrip  int32
	StatusString     string
	Results          []*table.Table
}

// MarshalResponse serializes a response into a framed byte block.
func MarshalResponse(resp *Response) ([]byte, error) {
	w := newWriter()
	w.putInt64(resp.Handle)
	w.putInt8(int8(resp.Status))
	w.putInt8(resp.AppStatus)
	w.putInt32(resp.ClusterRoundTrip)
	w.putString(resp.StatusString)
	if len(resp.Results) > math.MaxUint16 {
		return nil, fmt.Errorf("too many result tables: %d", len(resp.Results))
	}
	w.putUint16(uint16(len(resp.Results)))
	for _, t := range resp.Results {
		if err := w.putTable(t); err != nil {
			return nil, err
		}
	}
	return Frame(w.bytes()), nil
}

// UnmarshalResponse parses a response body (no length prefix).
func UnmarshalResponse(body []byte) (*Response, error) {
	r := newReader(body)
	resp := &Response{}
	var err error
	if resp.Handle, err = r.int64(); err != nil {
		return nil, err
	}
	status, err := r.int8()
	if err != nil {
		return nil, err
	}
	resp.Status = Status(status)
	if resp.AppStatus, err = r.int8(); err != nil {
		return nil, err
	}
	if resp.ClusterRoundTrip, err = r.int32(); err != nil {
		return nil, err
	}
	if resp.StatusString, err = r.str(); err != nil {
		return nil, err
	}
	n, err := r.uint16()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(n); i++ {
		t, err := r.table()
		if err != nil {
			return nil, fmt.Errorf("result table %d: %v", i, err)
		}
		resp.Results = append(resp.Results, t)
	}
	return resp, r.done()
}

// --------------------------------------------------------------------------
// Value Encoding
// --------------------------------------------------------------------------

// value type tags used for invocation parameters
const (
	tagInt64   = 1
	tagFloat64 = 2
	tagString  = 3
	tagBytes   = 4
)

func (w *writer) putValue(v any) error {
	switch x := v.(type) {
	case int64:
		w.putUint8(tagInt64)
		w.putInt64(x)
	case int:
		w.putUint8(tagInt64)
		w.putInt64(int64(x))
	case int32:
		w.putUint8(tagInt64)
		w.putInt64(int64(x))
	case float64:
		w.putUint8(tagFloat64)
		w.putUint64(math.Float64bits(x))
	case string:
		w.putUint8(tagString)
		w.putString(x)
	case []byte:
		w.putUint8(tagBytes)
		w.putBytes(x)
	default:
		return fmt.Errorf("unsupported parameter type %T", v)
	}
	return nil
}

func (r *reader) value() (any, error) {
	tag, err := r.uint8()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagInt64:
		return r.int64()
	case tagFloat64:
		bits, err := r.uint64()
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(bits), nil
	case tagString:
		return r.str()
	case tagBytes:
		return r.byt()
	default:
		return nil, fmt.Errorf("unknown value tag %d", tag)
	}
}

// --------------------------------------------------------------------------
// Table Encoding
// --------------------------------------------------------------------------

func (w *writer) putTable(t *table.Table) error {
	cols := t.Columns()
	if len(cols) > math.MaxUint16 {
		return fmt.Errorf("too many columns: %d", len(cols))
	}
	w.putUint16(uint16(len(cols)))
	for _, c := range cols {
		w.putUint8(uint8(c.Type))
		w.putString(c.Name)
	}
	w.putInt32(int32(t.RowCount()))
	for i := 0; i < t.RowCount(); i++ {
		row, err := t.Row(i)
		if err != nil {
			return err
		}
		for j, v := range row {
			switch cols[j].Type {
			case table.TypeBigint:
				w.putInt64(v.(int64))
			case table.TypeInteger:
				w.putInt32(v.(int32))
			case table.TypeFloat:
				w.putUint64(math.Float64bits(v.(float64)))
			case table.TypeString:
				w.putString(v.(string))
			default:
				return fmt.Errorf("unsupported column type %v", cols[j].Type)
			}
		}
	}
	return nil
}

func (r *reader) table() (*table.Table, error) {
	n, err := r.uint16()
	if err != nil {
		return nil, err
	}
	cols := make([]table.ColumnInfo, n)
	for i := range cols {
		ct, err := r.uint8()
		if err != nil {
			return nil, err
		}
		name, err := r.str()
		if err != nil {
			return nil, err
		}
		cols[i] = table.Column(name, table.ColumnType(ct))
	}
	t := table.New(cols...)
	rows, err := r.int32()
	if err != nil {
		return nil, err
	}
	for i := int32(0); i < rows; i++ {
		values := make([]any, len(cols))
		for j, c := range cols {
			switch c.Type {
			case table.TypeBigint:
				if values[j], err = r.int64(); err != nil {
					return nil, err
				}
			case table.TypeInteger:
				if values[j], err = r.int32(); err != nil {
					return nil, err
				}
			case table.TypeFloat:
				bits, err := r.uint64()
				if err != nil {
					return nil, err
				}
				values[j] = math.Float64frombits(bits)
			case table.TypeString:
				if values[j], err = r.str(); err != nil {
					return nil, err
				}
			default:
				return nil, fmt.Errorf("unsupported column type %v", c.Type)
			}
		}
		if err := t.AddRow(values...); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// --------------------------------------------------------------------------
// Primitive Writer / Reader
// --------------------------------------------------------------------------

type writer struct {
	buf []byte
}

func newWriter() *writer { return &writer{buf: make([]byte, 0, 128)} }

func (w *writer) bytes() []byte { return w.buf }

func (w *writer) putUint8(v uint8) { w.buf = append(w.buf, v) }

func (w *writer) putInt8(v int8) { w.buf = append(w.buf, byte(v)) }

func (w *writer) putUint16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *writer) putInt32(v int32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
}

func (w *writer) putUint64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *writer) putInt64(v int64) { w.putUint64(uint64(v)) }

func (w *writer) putBytes(b []byte) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) putString(s string) { w.putBytes([]byte(s)) }

type reader struct {
	buf []byte
	off int
}

func newReader(b []byte) *reader { return &reader{buf: b} }

func (r *reader) need(n int) error {
	if r.off+n > len(r.buf) {
		return fmt.Errorf("truncated message: need %d bytes at offset %d of %d", n, r.off, len(r.buf))
	}
	return nil
}

func (r *reader) uint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) int8() (int8, error) {
	v, err := r.uint8()
	return int8(v), err
}

func (r *reader) uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) int32() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return int32(v), nil
}

func (r *reader) uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *reader) int64() (int64, error) {
	v, err := r.uint64()
	return int64(v), err
}

func (r *reader) byt() ([]byte, error) {
	n, err := r.int32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("negative length %d", n)
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, r.buf[r.off:])
	r.off += int(n)
	return b, nil
}

func (r *reader) str() (string, error) {
	b, err := r.byt()
	return string(b), err
}

func (r *reader) done() error {
	if r.off != len(r.buf) {
		return fmt.Errorf("%d trailing bytes after message", len(r.buf)-r.off)
	}
	return nil
}
