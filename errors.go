package yozora

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrChannelClosed is returned by BufferChannel once it has been closed.
	ErrChannelClosed = errors.New("buffer channel is closed")

	// ErrAlreadyResolved is returned when an ImportNotifier is resolved twice.
	ErrAlreadyResolved = errors.New("import notifier already resolved")

	// ErrAddressInUse is returned when another server holds the socket lock.
	ErrAddressInUse = errors.New("address already in use")

	// ErrNoFormats is returned when dmabuf feedback is built without formats.
	ErrNoFormats = errors.New("no dmabuf formats supplied")

	// ErrNotCharDevice is returned by DeviceFromPath for non device nodes.
	ErrNotCharDevice = errors.New("not a character device")

	// ErrUnsupportedFormat is returned by texture builders for formats they
	// cannot realize.
	ErrUnsupportedFormat = errors.New("unsupported buffer format")

	errClientGone = errors.New("client disconnected")
)

// ProtocolError is a fatal error raised on a single client connection. It
// is reported to the client through wl_display.error before the
// connection is closed.
type ProtocolError struct {
	ObjectID uint32
	Code     uint32
	Message  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: object %d, code %d: %s", e.ObjectID, e.Code, e.Message)
}

// protocolErrorf builds a ProtocolError for the given object.
func protocolErrorf(objectID, code uint32, format string, args ...interface{}) error {
	return &ProtocolError{
		ObjectID: objectID,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
	}
}
