package yozora

import (
	"bytes"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/bnema/yozora/wl"
)

var testFormats = []Format{
	{Code: wl.FourccARGB8888, Modifier: wl.ModifierLinear},
	{Code: wl.FourccXRGB8888, Modifier: wl.ModifierLinear},
	{Code: wl.FourccNV12, Modifier: wl.ModifierLinear},
}

const testDevice = 0xe280

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.DebugLevel)
	return l
}

func newTestSession(t *testing.T, sink BufferSink, opts ...Option) *Session {
	t.Helper()
	base := []Option{
		WithRuntimeDir(t.TempDir()),
		WithSocketName("wayland-test"),
		WithFrameInterval(0),
		WithLogger(testLogger()),
	}
	s, err := NewSession(sink, testDevice, testFormats, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type testEvent struct {
	object uint32
	opcode uint16
	data   []byte
}

func (e testEvent) msg() *Message {
	return &Message{ObjectID: e.object, Opcode: e.opcode, data: e.data}
}

type testGlobal struct {
	name    uint32
	version uint32
}

// testClient speaks just enough of the wire protocol to drive a Session
// from the test goroutine.
type testClient struct {
	t      *testing.T
	s      *Session
	srv    *Client
	fd     int
	nextID uint32

	in     []byte
	fds    []int
	events []testEvent
	closed bool

	registry uint32
	globals  map[string]testGlobal
}

// dial connects to s, lets the session accept and fetches the globals.
func dial(t *testing.T, s *Session) *testClient {
	t.Helper()
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	require.NoError(t, unix.Connect(fd, &unix.SockaddrUnix{Name: s.SocketPath()}))

	before := s.Clients()
	require.NoError(t, s.AcceptStep())
	require.Equal(t, before+1, s.Clients())

	c := &testClient{
		t:       t,
		s:       s,
		srv:     s.clients[len(s.clients)-1],
		fd:      fd,
		nextID:  2,
		globals: make(map[string]testGlobal),
	}
	t.Cleanup(c.close)

	c.registry = c.newID()
	c.send(1, wl.DisplayGetRegistry, c.registry)
	c.roundtrip()
	for _, e := range c.find(c.registry, wl.RegistryEventGlobal) {
		m := e.msg()
		name, iface, version := m.Uint32(), m.String(), m.Uint32()
		c.globals[iface] = testGlobal{name: name, version: version}
	}
	return c
}

func (c *testClient) close() {
	for _, fd := range c.fds {
		unix.Close(fd)
	}
	c.fds = nil
	unix.Close(c.fd)
}

func (c *testClient) newID() uint32 {
	id := c.nextID
	c.nextID++
	return id
}

func (c *testClient) send(object uint32, opcode uint16, args ...interface{}) {
	c.sendFDs(object, opcode, nil, args...)
}

// sendFDs sends a request with fds attached. The caller keeps its copies.
func (c *testClient) sendFDs(object uint32, opcode uint16, fds []int, args ...interface{}) {
	c.t.Helper()
	var buf bytes.Buffer
	require.NoError(c.t, encodeMessage(&buf, object, opcode, args...))
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	_, err := unix.SendmsgN(c.fd, buf.Bytes(), oob, nil, unix.MSG_NOSIGNAL)
	if err != nil && !c.closed {
		require.NoError(c.t, err)
	}
}

// read drains the socket and splits it into events.
func (c *testClient) read() {
	c.t.Helper()
	buf := make([]byte, 65536)
	oob := make([]byte, unix.CmsgSpace(maxFDsPerMessage*4))
	for {
		n, oobn, _, _, err := unix.Recvmsg(c.fd, buf, oob, unix.MSG_DONTWAIT|unix.MSG_CMSG_CLOEXEC)
		if err == unix.EAGAIN {
			break
		}
		if err == unix.ECONNRESET {
			c.closed = true
			break
		}
		require.NoError(c.t, err)
		if oobn > 0 {
			scms, err := unix.ParseSocketControlMessage(oob[:oobn])
			require.NoError(c.t, err)
			for i := range scms {
				fds, err := unix.ParseUnixRights(&scms[i])
				require.NoError(c.t, err)
				c.fds = append(c.fds, fds...)
			}
		}
		if n == 0 {
			c.closed = true
			break
		}
		c.in = append(c.in, buf[:n]...)
	}

	for len(c.in) >= headerSize {
		object, opcode, size := decodeHeader(c.in)
		if len(c.in) < size {
			break
		}
		data := append([]byte(nil), c.in[headerSize:size]...)
		c.events = append(c.events, testEvent{object: object, opcode: opcode, data: data})
		c.in = c.in[size:]
	}
}

// roundtrip sends wl_display.sync and dispatches until it comes back or
// the server hangs up.
func (c *testClient) roundtrip() {
	c.t.Helper()
	id := c.newID()
	c.send(1, wl.DisplaySync, id)
	for i := 0; i < 100; i++ {
		require.NoError(c.t, c.s.DispatchStep())
		c.read()
		if len(c.find(id, wl.CallbackEventDone)) > 0 || c.closed {
			return
		}
	}
	c.t.Fatal("roundtrip did not complete")
}

func (c *testClient) find(object uint32, opcode uint16) []testEvent {
	var out []testEvent
	for _, e := range c.events {
		if e.object == object && e.opcode == opcode {
			out = append(out, e)
		}
	}
	return out
}

func (c *testClient) eventsOn(object uint32) []testEvent {
	var out []testEvent
	for _, e := range c.events {
		if e.object == object {
			out = append(out, e)
		}
	}
	return out
}

// protocolError returns the wl_display.error the client received, if any.
func (c *testClient) protocolError() *ProtocolError {
	errs := c.find(1, wl.DisplayEventError)
	if len(errs) == 0 {
		return nil
	}
	m := errs[0].msg()
	return &ProtocolError{ObjectID: m.Uint32(), Code: m.Uint32(), Message: m.String()}
}

// popFD takes the oldest fd the server sent.
func (c *testClient) popFD() int {
	c.t.Helper()
	require.NotEmpty(c.t, c.fds, "no file descriptor received")
	fd := c.fds[0]
	c.fds = c.fds[1:]
	return fd
}

func (c *testClient) bind(iface string, version uint32) uint32 {
	c.t.Helper()
	g, ok := c.globals[iface]
	require.True(c.t, ok, "global %s not advertised", iface)
	id := c.newID()
	c.send(c.registry, wl.RegistryBind, g.name, iface, version, id)
	return id
}

// toplevel creates a surface with an xdg_toplevel role.
func (c *testClient) toplevel() (compositor, surface, wmBase, xdgSurface, toplevel uint32) {
	compositor = c.bind(wl.CompositorInterface, wl.CompositorVersion)
	wmBase = c.bind(wl.XdgWmBaseInterface, wl.XdgWmBaseVersion)
	surface = c.newID()
	c.send(compositor, wl.CompositorCreateSurface, surface)
	xdgSurface = c.newID()
	c.send(wmBase, wl.XdgWmBaseGetXdgSurface, xdgSurface, surface)
	toplevel = c.newID()
	c.send(xdgSurface, wl.XdgSurfaceGetToplevel, toplevel)
	c.roundtrip()
	return
}
