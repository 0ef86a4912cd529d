package yozora

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/bnema/yozora/wl"
)

// headerSize is the size of a wire message header: object id, then
// size (upper 16 bits) and opcode (lower 16 bits).
const headerSize = 8

// maxMessageSize bounds a single message, header included.
const maxMessageSize = 4096

// Fixed represents a 24.8 fixed-point number
type Fixed int32

// Float64 converts Fixed to float64
func (f Fixed) Float64() float64 {
	return float64(f) / 256.0
}

// NewFixed creates a Fixed from float64
func NewFixed(v float64) Fixed {
	return Fixed(v * 256.0)
}

// Object is anything with a protocol object id.
type Object interface {
	ID() uint32
}

// Resource is the server side of a protocol object owned by one client.
type Resource interface {
	Object
	Interface() string
	Version() uint32
	Client() *Client
	// Dispatch handles one request addressed to the resource. A returned
	// error disconnects the owning client.
	Dispatch(m *Message) error
	// destroy releases whatever the resource holds. Called exactly once,
	// either on a destructor request or when the client goes away.
	destroy()
}

// baseResource provides the common part of every resource.
type baseResource struct {
	id      uint32
	version uint32
	iface   string
	client  *Client
}

func newBaseResource(c *Client, iface string, id, version uint32) baseResource {
	return baseResource{id: id, version: version, iface: iface, client: c}
}

// ID returns the object id
func (r *baseResource) ID() uint32 { return r.id }

// Interface returns the protocol interface name
func (r *baseResource) Interface() string { return r.iface }

// Version returns the bound version
func (r *baseResource) Version() uint32 { return r.version }

// Client returns the owning client
func (r *baseResource) Client() *Client { return r.client }

func (r *baseResource) destroy() {}

// postError builds a protocol error against this resource.
func (r *baseResource) postError(code uint32, format string, args ...interface{}) error {
	return protocolErrorf(r.id, code, format, args...)
}

// send queues an event on this resource.
func (r *baseResource) send(opcode uint16, args ...interface{}) error {
	return r.client.SendEvent(r.id, opcode, args...)
}

// Message is a decoded request. Arguments are read in signature order; a
// read past the end of the body marks the message as malformed.
type Message struct {
	ObjectID uint32
	Opcode   uint16
	data     []byte
	offset   int
	fds      *fdQueue
	err      error
}

// Data returns the raw request body
func (m *Message) Data() []byte {
	return m.data
}

// Err reports the first decoding failure, if any.
func (m *Message) Err() error {
	return m.err
}

func (m *Message) fail(what string) {
	if m.err == nil {
		m.err = protocolErrorf(m.ObjectID, wl.DisplayErrorInvalidMethod, "malformed request opcode %d: %s", m.Opcode, what)
	}
}

// Uint32 reads a uint32 from the message
func (m *Message) Uint32() uint32 {
	if m.offset+4 > len(m.data) {
		m.fail("short uint")
		return 0
	}
	val := binary.LittleEndian.Uint32(m.data[m.offset:])
	m.offset += 4
	return val
}

// Int32 reads an int32 from the message
func (m *Message) Int32() int32 {
	return int32(m.Uint32())
}

// Fixed reads a fixed-point value from the message
func (m *Message) Fixed() Fixed {
	return Fixed(m.Int32())
}

// NewID reads a new object id
func (m *Message) NewID() uint32 {
	id := m.Uint32()
	if id == 0 && m.err == nil {
		m.fail("null new_id")
	}
	return id
}

// ObjectRef reads a possibly null object reference
func (m *Message) ObjectRef() uint32 {
	return m.Uint32()
}

// String reads a string from the message
func (m *Message) String() string {
	strlen := m.Uint32()
	if m.err != nil {
		return ""
	}
	if strlen == 0 {
		return ""
	}
	n, padded, ok := m.span(strlen)
	if !ok {
		m.fail("short string")
		return ""
	}
	// String includes null terminator in length
	if m.data[m.offset+n-1] != 0 {
		m.fail("unterminated string")
		return ""
	}
	str := string(m.data[m.offset : m.offset+n-1])
	m.offset += padded
	return str
}

// span checks that a length-prefixed argument of length bytes fits in
// what is left of the body and returns its length and padded length.
func (m *Message) span(length uint32) (n, padded int, ok bool) {
	padded64 := (uint64(length) + 3) &^ 3
	if padded64 > uint64(len(m.data)-m.offset) {
		return 0, 0, false
	}
	return int(length), int(padded64), true
}

// Array reads a byte array from the message
func (m *Message) Array() []byte {
	arrlen := m.Uint32()
	if m.err != nil {
		return nil
	}
	n, padded, ok := m.span(arrlen)
	if !ok {
		m.fail("short array")
		return nil
	}
	arr := make([]byte, n)
	copy(arr, m.data[m.offset:m.offset+n])
	m.offset += padded
	return arr
}

// Fd takes the next file descriptor received on the connection. File
// descriptors travel out of band and own no bytes in the body. The caller
// owns the returned fd.
func (m *Message) Fd() int {
	if m.fds != nil {
		if fd, ok := m.fds.dequeue(); ok {
			return fd
		}
	}
	m.fail("missing file descriptor")
	return -1
}

// decodeHeader splits a message header.
func decodeHeader(b []byte) (objectID uint32, opcode uint16, size int) {
	objectID = binary.LittleEndian.Uint32(b[0:4])
	sizeOpcode := binary.LittleEndian.Uint32(b[4:8])
	// Upper 16 bits = size (includes header), lower 16 bits = opcode
	return objectID, uint16(sizeOpcode & 0xffff), int(sizeOpcode >> 16)
}

// encodeMessage appends one complete message to buf.
func encodeMessage(buf *bytes.Buffer, objectID uint32, opcode uint16, args ...interface{}) error {
	start := buf.Len()

	// Write header placeholder
	var header [headerSize]byte
	_, _ = buf.Write(header[:])

	for _, arg := range args {
		if err := marshalArg(buf, arg); err != nil {
			buf.Truncate(start)
			return errors.Wrap(err, "failed to marshal argument")
		}
	}

	size := buf.Len() - start
	if size > maxMessageSize {
		buf.Truncate(start)
		return errors.Errorf("message too large: %d bytes", size)
	}
	data := buf.Bytes()[start:]
	binary.LittleEndian.PutUint32(data[0:4], objectID)
	binary.LittleEndian.PutUint32(data[4:8], uint32(size)<<16|uint32(opcode))
	return nil
}

// marshalArg marshals a single argument
func marshalArg(buf *bytes.Buffer, arg interface{}) error {
	switch v := arg.(type) {
	case uint32:
		return binary.Write(buf, binary.LittleEndian, v)
	case int32:
		return binary.Write(buf, binary.LittleEndian, v)
	case Fixed:
		return binary.Write(buf, binary.LittleEndian, int32(v))
	case string:
		// String format: length (including null) + string + null + padding
		strlen := len(v) + 1
		if strlen > math.MaxUint16 {
			return errors.Errorf("string too long: %d bytes", strlen)
		}
		if err := binary.Write(buf, binary.LittleEndian, uint32(strlen)); err != nil {
			return err
		}
		_, _ = buf.WriteString(v)
		_ = buf.WriteByte(0)
		writePadding(buf, strlen)
	case []byte:
		// Array format: length + data + padding
		arrlen := len(v)
		if arrlen > math.MaxUint16 {
			return errors.Errorf("array too long: %d bytes", arrlen)
		}
		if err := binary.Write(buf, binary.LittleEndian, uint32(arrlen)); err != nil {
			return err
		}
		_, _ = buf.Write(v)
		writePadding(buf, arrlen)
	case Object:
		if v != nil {
			return binary.Write(buf, binary.LittleEndian, v.ID())
		}
		return binary.Write(buf, binary.LittleEndian, uint32(0))
	case nil:
		// Null object
		return binary.Write(buf, binary.LittleEndian, uint32(0))
	default:
		return errors.Errorf("unsupported argument type: %T", arg)
	}
	return nil
}

// writePadding pads to a 32-bit boundary
func writePadding(buf *bytes.Buffer, n int) {
	for i := 0; i < (4-(n%4))%4; i++ {
		_ = buf.WriteByte(0)
	}
}

// uint32Array encodes values as a wire array of native 32-bit words.
func uint32Array(values ...uint32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[4*i:], v)
	}
	return out
}
