package yozora

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/bnema/yozora/wl"
)

// shmBuffer creates a pool and a width x height ARGB buffer carved from it.
func (c *testClient) shmBuffer(shm uint32, width, height int32) uint32 {
	c.t.Helper()
	stride := width * 4
	fd, err := CreateAnonymousFile(int64(stride) * int64(height))
	require.NoError(c.t, err)
	defer unix.Close(fd)

	pool := c.newID()
	c.sendFDs(shm, wl.ShmCreatePool, []int{fd}, pool, stride*height)
	buf := c.newID()
	c.send(pool, wl.ShmPoolCreateBuffer, buf, int32(0), width, height, stride, wl.ShmFormatARGB8888)
	return buf
}

// dmabufParams creates params and adds one linear plane backed by a memfd
// of size bytes.
func (c *testClient) dmabufParams(dmabuf uint32, size int64, stride uint32) uint32 {
	c.t.Helper()
	fd, err := CreateAnonymousFile(size)
	require.NoError(c.t, err)
	defer unix.Close(fd)

	params := c.newID()
	c.send(dmabuf, wl.LinuxDmabufCreateParams, params)
	c.sendFDs(params, wl.BufferParamsAdd, []int{fd}, uint32(0), uint32(0), stride, uint32(0), uint32(0))
	return params
}

func TestSessionOptions(t *testing.T) {
	t.Run("nil sink", func(t *testing.T) {
		_, err := NewSession(nil, testDevice, testFormats, WithRuntimeDir(t.TempDir()))
		assert.Error(t, err)
	})

	t.Run("no runtime dir", func(t *testing.T) {
		t.Setenv("XDG_RUNTIME_DIR", "")
		_, err := NewSession(NewBufferChannel(), testDevice, testFormats, WithSocketName("wayland-test"))
		assert.Error(t, err)
	})

	t.Run("absolute socket name", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "display")
		s, err := NewSession(NewBufferChannel(), testDevice, testFormats,
			WithSocketName(path), WithLogger(testLogger()))
		require.NoError(t, err)
		defer s.Close()
		assert.Equal(t, path, s.SocketPath())
	})

	t.Run("environment", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("XDG_RUNTIME_DIR", dir)
		t.Setenv("YOZORA_DISPLAY", "wayland-env")
		s, err := NewSession(NewBufferChannel(), testDevice, testFormats, WithLogger(testLogger()))
		require.NoError(t, err)
		defer s.Close()
		assert.Equal(t, filepath.Join(dir, "wayland-env"), s.SocketPath())
	})
}

func TestSessionAddressInUse(t *testing.T) {
	dir := t.TempDir()
	opts := []Option{WithRuntimeDir(dir), WithSocketName("wayland-test"), WithLogger(testLogger())}

	first, err := NewSession(NewBufferChannel(), testDevice, testFormats, opts...)
	require.NoError(t, err)

	_, err = NewSession(NewBufferChannel(), testDevice, testFormats, opts...)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAddressInUse))

	require.NoError(t, first.Close())
	_, err = os.Stat(filepath.Join(dir, "wayland-test"))
	assert.True(t, os.IsNotExist(err), "socket should be removed on close")

	second, err := NewSession(NewBufferChannel(), testDevice, testFormats, opts...)
	require.NoError(t, err)
	assert.NoError(t, second.Close())
}

func TestSessionAcceptBounded(t *testing.T) {
	s := newTestSession(t, NewBufferChannel(), WithMaxAcceptsPerStep(2))

	for i := 0; i < 3; i++ {
		fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
		require.NoError(t, err)
		defer unix.Close(fd)
		require.NoError(t, unix.Connect(fd, &unix.SockaddrUnix{Name: s.SocketPath()}))
	}

	require.NoError(t, s.AcceptStep())
	assert.Equal(t, 2, s.Clients())
	require.NoError(t, s.AcceptStep())
	assert.Equal(t, 3, s.Clients())
	require.NoError(t, s.AcceptStep())
	assert.Equal(t, 3, s.Clients())
	assert.Equal(t, uint64(3), s.Stats().ClientsAccepted.Load())
}

func TestSessionGlobals(t *testing.T) {
	s := newTestSession(t, NewBufferChannel())
	c := dial(t, s)

	globals := s.Globals()
	require.Len(t, globals, 7)
	require.Len(t, c.globals, len(globals))
	for _, g := range globals {
		got, ok := c.globals[g.Interface]
		require.True(t, ok, g.Interface)
		assert.Equal(t, g.Name, got.name)
		assert.Equal(t, g.Version, got.version)
	}
	assert.Contains(t, c.globals, wl.LinuxDmabufInterface)
	assert.Contains(t, c.globals, wl.XdgWmBaseInterface)
	assert.Greater(t, s.Stats().RequestsDispatched.Load(), uint64(0))

	var producers int
	for _, g := range s.globals {
		if fp, ok := g.(FeedbackProducer); ok {
			producers++
			assert.Same(t, s.DefaultFeedback(), fp.DefaultFeedback())
		}
	}
	assert.Equal(t, 1, producers)
}

func TestSessionSync(t *testing.T) {
	s := newTestSession(t, NewBufferChannel())
	c := dial(t, s)

	cb := c.newID()
	c.send(1, wl.DisplaySync, cb)
	c.roundtrip()

	require.Len(t, c.find(cb, wl.CallbackEventDone), 1)
	var deleted []uint32
	for _, e := range c.find(1, wl.DisplayEventDeleteID) {
		deleted = append(deleted, e.msg().Uint32())
	}
	assert.Contains(t, deleted, cb)
	_, ok := c.srv.Lookup(cb)
	assert.False(t, ok)
}

func TestSessionBindErrors(t *testing.T) {
	tests := []struct {
		name    string
		global  func(c *testClient) uint32
		iface   string
		version uint32
	}{
		{"unknown name", func(*testClient) uint32 { return 42 }, wl.CompositorInterface, 1},
		{"wrong interface", func(c *testClient) uint32 { return c.globals[wl.CompositorInterface].name }, wl.ShmInterface, 1},
		{"version too high", func(c *testClient) uint32 { return c.globals[wl.CompositorInterface].name }, wl.CompositorInterface, wl.CompositorVersion + 1},
		{"version zero", func(c *testClient) uint32 { return c.globals[wl.CompositorInterface].name }, wl.CompositorInterface, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t, NewBufferChannel())
			c := dial(t, s)
			c.send(c.registry, wl.RegistryBind, tt.global(c), tt.iface, tt.version, c.newID())
			c.roundtrip()

			pe := c.protocolError()
			require.NotNil(t, pe)
			assert.Equal(t, c.registry, pe.ObjectID)
			assert.Equal(t, uint32(wl.DisplayErrorInvalidObject), pe.Code)
			assert.True(t, c.closed)
			assert.Equal(t, 0, s.Clients())
		})
	}
}

func TestSessionUnknownObject(t *testing.T) {
	s := newTestSession(t, NewBufferChannel())
	c := dial(t, s)

	c.send(99, 0)
	c.roundtrip()

	pe := c.protocolError()
	require.NotNil(t, pe)
	assert.Equal(t, uint32(wl.DisplayErrorInvalidObject), pe.Code)
	assert.Equal(t, 0, s.Clients())
}

func TestSessionClientHangup(t *testing.T) {
	s := newTestSession(t, NewBufferChannel())
	c := dial(t, s)
	c.toplevel()

	require.NoError(t, unix.Close(c.fd))
	c.fd = -1
	require.NoError(t, s.DispatchStep())
	assert.Equal(t, 0, s.Clients())
}

func TestSessionDmabufFeedback(t *testing.T) {
	s := newTestSession(t, NewBufferChannel())
	c := dial(t, s)

	dmabuf := c.bind(wl.LinuxDmabufInterface, 4)
	fb := c.newID()
	c.send(dmabuf, wl.LinuxDmabufGetDefaultFeedback, fb)
	c.roundtrip()

	events := c.eventsOn(fb)
	require.NotEmpty(t, events)
	assert.Equal(t, uint16(wl.DmabufFeedbackEventFormatTable), events[0].opcode)
	assert.Equal(t, uint16(wl.DmabufFeedbackEventDone), events[len(events)-1].opcode)

	table := events[0].msg().Uint32()
	assert.Equal(t, uint32(len(testFormats)*16), table)
	tableFD := c.popFD()
	defer unix.Close(tableFD)
	assert.Equal(t, int64(table), fdSize(tableFD))

	mainDev := c.find(fb, wl.DmabufFeedbackEventMainDevice)
	require.Len(t, mainDev, 1)
	dev := mainDev[0].msg().Array()
	require.Len(t, dev, 8)
	assert.Equal(t, uint64(testDevice), binary.LittleEndian.Uint64(dev))

	formats := c.find(fb, wl.DmabufFeedbackEventTrancheFormats)
	require.Len(t, formats, 1)
	assert.Len(t, formats[0].msg().Array(), 2*len(testFormats))
	assert.Len(t, c.find(fb, wl.DmabufFeedbackEventTrancheDone), 1)

	// Version 3 binders learn formats from modifier events instead.
	legacy := c.bind(wl.LinuxDmabufInterface, 3)
	c.roundtrip()
	assert.Len(t, c.find(legacy, wl.LinuxDmabufEventModifier), len(testFormats))
}

func TestSessionDmabufImport(t *testing.T) {
	ch := NewBufferChannel()
	defer ch.Close()
	s := newTestSession(t, ch)
	c := dial(t, s)
	dmabuf := c.bind(wl.LinuxDmabufInterface, 4)

	params := c.dmabufParams(dmabuf, 64*256, 256)
	buffer := c.newID()
	c.send(params, wl.BufferParamsCreateImmed, buffer, int32(64), int32(64), wl.FourccARGB8888, uint32(0))
	c.roundtrip()

	assert.Nil(t, c.protocolError())
	assert.Empty(t, c.find(params, wl.BufferParamsEventFailed))
	require.Equal(t, 1, ch.Len())

	r, ok := c.srv.Lookup(buffer)
	require.True(t, ok)
	b, ok := r.(*dmabufBuffer)
	require.True(t, ok)
	assert.False(t, b.invalid)
	assert.Equal(t, wl.FourccARGB8888, b.Format())

	// The renderer side picks the buffer up and realizes it.
	a := NewAssembler(ch, DescriptorBuilder{}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	require.Eventually(t, func() bool { return a.Frames() == 1 }, time.Second, time.Millisecond)
	cancel()
	<-done

	tex := a.Current()
	require.NotNil(t, tex)
	assert.Equal(t, gputypes.Extent3D{Width: 64, Height: 64, DepthOrArrayLayers: 1}, tex.Size())
	assert.Equal(t, gputypes.TextureFormatBGRA8Unorm, tex.Format())
	assert.Equal(t, uint64(1), s.Stats().ImportsSucceeded.Load())
}

func TestSessionDmabufCreate(t *testing.T) {
	ch := NewBufferChannel()
	defer ch.Close()
	s := newTestSession(t, ch)
	c := dial(t, s)
	dmabuf := c.bind(wl.LinuxDmabufInterface, 4)

	params := c.dmabufParams(dmabuf, 32*128, 128)
	c.send(params, wl.BufferParamsCreate, int32(32), int32(32), wl.FourccXRGB8888, uint32(0))
	c.roundtrip()

	created := c.find(params, wl.BufferParamsEventCreated)
	require.Len(t, created, 1)
	id := created[0].msg().Uint32()
	assert.GreaterOrEqual(t, id, uint32(wl.ServerIDStart))
	_, ok := c.srv.Lookup(id)
	assert.True(t, ok)
	assert.Equal(t, 1, ch.Len())

	// Params are single use.
	c.send(params, wl.BufferParamsCreate, int32(32), int32(32), wl.FourccXRGB8888, uint32(0))
	c.roundtrip()
	pe := c.protocolError()
	require.NotNil(t, pe)
	assert.Equal(t, uint32(wl.BufferParamsErrorAlreadyUsed), pe.Code)
}

func TestSessionDmabufImportFailed(t *testing.T) {
	ch := NewBufferChannel()
	defer ch.Close()
	s := newTestSession(t, ch)
	c := dial(t, s)
	dmabuf := c.bind(wl.LinuxDmabufInterface, 4)

	// NV12 needs two planes, only one is supplied.
	params := c.dmabufParams(dmabuf, 64*64*2, 64)
	c.send(params, wl.BufferParamsCreate, int32(64), int32(64), wl.FourccNV12, uint32(0))

	// A buffer larger than its backing memory fails the same way.
	small := c.dmabufParams(dmabuf, 1024, 256)
	smallBuffer := c.newID()
	c.send(small, wl.BufferParamsCreateImmed, smallBuffer, int32(64), int32(64), wl.FourccARGB8888, uint32(0))
	c.roundtrip()

	assert.Nil(t, c.protocolError())
	assert.Len(t, c.find(params, wl.BufferParamsEventFailed), 1)
	assert.Empty(t, c.find(params, wl.BufferParamsEventCreated))
	assert.Len(t, c.find(small, wl.BufferParamsEventFailed), 1)
	assert.Equal(t, 0, ch.Len())
	assert.Equal(t, uint64(2), s.Stats().ImportsFailed.Load())

	r, ok := c.srv.Lookup(smallBuffer)
	require.True(t, ok)
	assert.True(t, r.(*dmabufBuffer).invalid)
	assert.Equal(t, 1, s.Clients())
}

func TestSessionProtocolErrorIsolated(t *testing.T) {
	ch := NewBufferChannel()
	defer ch.Close()
	s := newTestSession(t, ch)
	bad := dial(t, s)
	good := dial(t, s)
	require.Equal(t, 2, s.Clients())

	dmabuf := bad.bind(wl.LinuxDmabufInterface, 4)
	params := bad.dmabufParams(dmabuf, 4096, 64)
	fd, err := CreateAnonymousFile(4096)
	require.NoError(t, err)
	bad.sendFDs(params, wl.BufferParamsAdd, []int{fd}, uint32(0), uint32(0), uint32(64), uint32(0), uint32(0))
	require.NoError(t, unix.Close(fd))
	bad.roundtrip()

	pe := bad.protocolError()
	require.NotNil(t, pe)
	assert.Equal(t, params, pe.ObjectID)
	assert.Equal(t, uint32(wl.BufferParamsErrorPlaneSet), pe.Code)
	assert.True(t, bad.closed)

	good.roundtrip()
	assert.False(t, good.closed)
	assert.Nil(t, good.protocolError())
	assert.Equal(t, 1, s.Clients())
}

func TestSessionMalformedStringIsolated(t *testing.T) {
	tests := []struct {
		name   string
		target func(c *testClient) (object uint32, opcode uint16, prefix []uint32)
	}{
		{"registry bind", func(c *testClient) (uint32, uint16, []uint32) {
			return c.registry, wl.RegistryBind, []uint32{c.globals[wl.CompositorInterface].name}
		}},
		{"toplevel title", func(c *testClient) (uint32, uint16, []uint32) {
			_, _, _, _, toplevel := c.toplevel()
			return toplevel, wl.XdgToplevelSetTitle, nil
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t, NewBufferChannel())
			bad := dial(t, s)
			good := dial(t, s)
			_, surface, _, _, _ := good.toplevel()

			object, opcode, prefix := tt.target(bad)
			words := append(prefix, 0xffffffff, 0x00006261, 1, 50)
			body := uint32Array(words...)
			header := make([]byte, headerSize)
			binary.LittleEndian.PutUint32(header[0:4], object)
			binary.LittleEndian.PutUint32(header[4:8], uint32(headerSize+len(body))<<16|uint32(opcode))
			_, err := unix.Write(bad.fd, append(header, body...))
			require.NoError(t, err)

			require.NotPanics(t, bad.roundtrip)
			pe := bad.protocolError()
			require.NotNil(t, pe)
			assert.Equal(t, object, pe.ObjectID)
			assert.Equal(t, uint32(wl.DisplayErrorInvalidMethod), pe.Code)
			assert.True(t, bad.closed)

			good.send(surface, wl.SurfaceCommit)
			good.roundtrip()
			assert.False(t, good.closed)
			assert.Nil(t, good.protocolError())
			assert.Equal(t, 1, s.Clients())
		})
	}
}

func TestSessionToplevelConfigure(t *testing.T) {
	s := newTestSession(t, NewBufferChannel())
	c := dial(t, s)
	_, surface, _, xdgSurface, toplevel := c.toplevel()

	configures := c.find(toplevel, wl.XdgToplevelEventConfigure)
	require.Len(t, configures, 1)
	m := configures[0].msg()
	assert.Equal(t, int32(0), m.Int32())
	assert.Equal(t, int32(0), m.Int32())
	states := m.Array()
	require.Len(t, states, 4)
	assert.Equal(t, uint32(wl.XdgToplevelStateActivated), binary.LittleEndian.Uint32(states))

	serials := c.find(xdgSurface, wl.XdgSurfaceEventConfigure)
	require.Len(t, serials, 1)
	serial := serials[0].msg().Uint32()

	srv := c.srv.Surfaces()[0]
	top := srv.Toplevel()
	require.NotNil(t, top)
	assert.Equal(t, wl.XdgToplevelInterface, srv.Role())
	assert.True(t, top.Pending().Activated)
	assert.False(t, top.Configured())

	c.send(xdgSurface, wl.XdgSurfaceAckConfigure, serial)
	c.send(surface, wl.SurfaceCommit)
	c.roundtrip()

	assert.Nil(t, c.protocolError())
	assert.True(t, top.Configured())
	assert.True(t, top.Current().Activated)
	assert.Equal(t, uint64(1), srv.Commits())
}

func TestSessionToplevelRequests(t *testing.T) {
	s := newTestSession(t, NewBufferChannel())
	c := dial(t, s)
	_, _, _, xdgSurface, toplevel := c.toplevel()

	c.send(toplevel, wl.XdgToplevelSetTitle, "terminal")
	c.send(toplevel, wl.XdgToplevelSetAppID, "org.example.Term")
	c.send(toplevel, wl.XdgToplevelSetMaximized)
	c.send(toplevel, wl.XdgToplevelMove, uint32(0), uint32(1))
	c.roundtrip()

	assert.Nil(t, c.protocolError())
	top := c.srv.Surfaces()[0].Toplevel()
	assert.Equal(t, "terminal", top.Title())
	assert.Equal(t, "org.example.Term", top.AppID())
	assert.True(t, top.Pending().Maximized)
	assert.Len(t, c.find(toplevel, wl.XdgToplevelEventConfigure), 2)
	assert.Len(t, c.find(xdgSurface, wl.XdgSurfaceEventConfigure), 2)

	c.send(xdgSurface, wl.XdgSurfaceAckConfigure, uint32(9999))
	c.roundtrip()
	pe := c.protocolError()
	require.NotNil(t, pe)
	assert.Equal(t, uint32(wl.XdgSurfaceErrorInvalidSerial), pe.Code)
}

func TestSessionUnconfiguredBuffer(t *testing.T) {
	s := newTestSession(t, NewBufferChannel())
	c := dial(t, s)
	_, surface, _, xdgSurface, _ := c.toplevel()
	shm := c.bind(wl.ShmInterface, 1)
	buf := c.shmBuffer(shm, 16, 16)

	c.send(surface, wl.SurfaceAttach, buf, int32(0), int32(0))
	c.send(surface, wl.SurfaceCommit)
	c.roundtrip()

	pe := c.protocolError()
	require.NotNil(t, pe)
	assert.Equal(t, xdgSurface, pe.ObjectID)
	assert.Equal(t, uint32(wl.XdgSurfaceErrorUnconfiguredBuffer), pe.Code)
}

func TestSessionPopup(t *testing.T) {
	s := newTestSession(t, NewBufferChannel())
	c := dial(t, s)
	compositor, _, wmBase, parent, _ := c.toplevel()
	seat := c.bind(wl.SeatInterface, wl.SeatVersion)

	positioner := c.newID()
	c.send(wmBase, wl.XdgWmBaseCreatePositioner, positioner)
	c.send(positioner, wl.XdgPositionerSetSize, int32(100), int32(50))
	c.send(positioner, wl.XdgPositionerSetAnchorRect, int32(0), int32(0), int32(1), int32(1))

	surface := c.newID()
	c.send(compositor, wl.CompositorCreateSurface, surface)
	xdgSurface := c.newID()
	c.send(wmBase, wl.XdgWmBaseGetXdgSurface, xdgSurface, surface)
	popup := c.newID()
	c.send(xdgSurface, wl.XdgSurfaceGetPopup, popup, parent, positioner)
	c.send(popup, wl.XdgPopupGrab, seat, uint32(1))
	c.roundtrip()

	assert.Nil(t, c.protocolError())
	assert.Empty(t, c.eventsOn(popup))
	assert.Empty(t, c.eventsOn(xdgSurface))

	c.send(positioner, wl.XdgPositionerSetSize, int32(20), int32(20))
	c.send(popup, wl.XdgPopupReposition, positioner, uint32(7))
	c.roundtrip()

	repositioned := c.find(popup, wl.XdgPopupEventRepositioned)
	require.Len(t, repositioned, 1)
	assert.Equal(t, uint32(7), repositioned[0].msg().Uint32())

	r, ok := c.srv.Lookup(popup)
	require.True(t, ok)
	assert.Equal(t, int32(20), r.(*Popup).Positioner().Width)
	assert.False(t, c.closed)
}

func TestSessionPopupIncompletePositioner(t *testing.T) {
	s := newTestSession(t, NewBufferChannel())
	c := dial(t, s)
	compositor, _, wmBase, parent, _ := c.toplevel()

	positioner := c.newID()
	c.send(wmBase, wl.XdgWmBaseCreatePositioner, positioner)
	surface := c.newID()
	c.send(compositor, wl.CompositorCreateSurface, surface)
	xdgSurface := c.newID()
	c.send(wmBase, wl.XdgWmBaseGetXdgSurface, xdgSurface, surface)
	c.send(xdgSurface, wl.XdgSurfaceGetPopup, c.newID(), parent, positioner)
	c.roundtrip()

	pe := c.protocolError()
	require.NotNil(t, pe)
	assert.Equal(t, wmBase, pe.ObjectID)
	assert.Equal(t, uint32(wl.XdgWmBaseErrorInvalidPositioner), pe.Code)
}

func TestSessionPing(t *testing.T) {
	s := newTestSession(t, NewBufferChannel())
	c := dial(t, s)
	_, _, wmBase, _, _ := c.toplevel()

	require.NoError(t, c.srv.Ping())
	assert.False(t, c.srv.Responsive())
	c.roundtrip()

	pings := c.find(wmBase, wl.XdgWmBaseEventPing)
	require.Len(t, pings, 1)
	c.send(wmBase, wl.XdgWmBasePong, pings[0].msg().Uint32())
	c.roundtrip()
	assert.True(t, c.srv.Responsive())
}

func TestSessionShmCommitAndFrame(t *testing.T) {
	s := newTestSession(t, NewBufferChannel())
	c := dial(t, s)

	compositor := c.bind(wl.CompositorInterface, wl.CompositorVersion)
	shm := c.bind(wl.ShmInterface, 1)
	c.roundtrip()
	assert.Len(t, c.find(shm, wl.ShmEventFormat), len(ShmFormats))

	surface := c.newID()
	c.send(compositor, wl.CompositorCreateSurface, surface)
	first := c.shmBuffer(shm, 32, 32)
	second := c.shmBuffer(shm, 32, 32)

	frame := c.newID()
	c.send(surface, wl.SurfaceAttach, first, int32(0), int32(0))
	c.send(surface, wl.SurfaceDamageBuffer, int32(0), int32(0), int32(32), int32(32))
	c.send(surface, wl.SurfaceFrame, frame)
	c.send(surface, wl.SurfaceCommit)
	c.roundtrip()

	require.Nil(t, c.protocolError())
	assert.Len(t, c.find(frame, wl.CallbackEventDone), 1)
	assert.Empty(t, c.find(first, wl.BufferEventRelease))

	srv := c.srv.Surfaces()[0]
	state := srv.Current()
	require.NotNil(t, state.Buffer)
	w, h := state.Buffer.Size()
	assert.Equal(t, int32(32), w)
	assert.Equal(t, int32(32), h)
	assert.Len(t, state.BufferDamage, 1)
	shmBuf, ok := state.Buffer.(*ShmBuffer)
	require.True(t, ok)
	assert.Len(t, shmBuf.Data(), 32*32*4)

	c.send(surface, wl.SurfaceAttach, second, int32(0), int32(0))
	c.send(surface, wl.SurfaceCommit)
	c.roundtrip()

	assert.Len(t, c.find(first, wl.BufferEventRelease), 1)
	assert.Empty(t, c.find(second, wl.BufferEventRelease))
	assert.Equal(t, uint64(2), srv.Commits())
}

func TestSessionShmErrors(t *testing.T) {
	tests := []struct {
		name   string
		format uint32
		width  int32
		stride int32
		code   uint32
	}{
		{"unknown format", 0xdeadbeef, 16, 64, wl.ShmErrorInvalidFormat},
		{"stride too small", wl.ShmFormatARGB8888, 16, 8, wl.ShmErrorInvalidStride},
		{"beyond pool", wl.ShmFormatARGB8888, 16, 4096, wl.ShmErrorInvalidStride},
		{"width overflows stride", wl.ShmFormatARGB8888, 0x40000001, 4, wl.ShmErrorInvalidStride},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t, NewBufferChannel())
			c := dial(t, s)
			shm := c.bind(wl.ShmInterface, 1)

			fd, err := CreateAnonymousFile(1024)
			require.NoError(t, err)
			pool := c.newID()
			c.sendFDs(shm, wl.ShmCreatePool, []int{fd}, pool, int32(1024))
			require.NoError(t, unix.Close(fd))
			c.send(pool, wl.ShmPoolCreateBuffer, c.newID(), int32(0), tt.width, int32(16), tt.stride, tt.format)
			c.roundtrip()

			pe := c.protocolError()
			require.NotNil(t, pe)
			assert.Equal(t, pool, pe.ObjectID)
			assert.Equal(t, tt.code, pe.Code)
		})
	}
}

func TestSessionSeatAndOutput(t *testing.T) {
	s := newTestSession(t, NewBufferChannel(), WithOutput(OutputInfo{
		Name:   "winit",
		Make:   "Toy",
		Model:  "Winit",
		Width:  1280,
		Height: 720,
	}))
	c := dial(t, s)

	seat := c.bind(wl.SeatInterface, wl.SeatVersion)
	output := c.bind(wl.OutputInterface, wl.OutputVersion)
	c.roundtrip()

	caps := c.find(seat, wl.SeatEventCapabilities)
	require.Len(t, caps, 1)
	assert.Equal(t, uint32(0), caps[0].msg().Uint32())
	names := c.find(seat, wl.SeatEventName)
	require.Len(t, names, 1)
	assert.Equal(t, "seat0", names[0].msg().String())

	geometry := c.find(output, wl.OutputEventGeometry)
	require.Len(t, geometry, 1)
	m := geometry[0].msg()
	for i := 0; i < 5; i++ {
		m.Int32()
	}
	assert.Equal(t, "Toy", m.String())
	assert.Equal(t, "Winit", m.String())

	modes := c.find(output, wl.OutputEventMode)
	require.Len(t, modes, 1)
	m = modes[0].msg()
	m.Uint32()
	assert.Equal(t, int32(1280), m.Int32())
	assert.Equal(t, int32(720), m.Int32())

	events := c.eventsOn(output)
	assert.Equal(t, uint16(wl.OutputEventDone), events[len(events)-1].opcode)

	pointer := c.newID()
	c.send(seat, wl.SeatGetPointer, pointer)
	c.roundtrip()
	_, ok := c.srv.Lookup(pointer)
	assert.True(t, ok)
}

func TestSessionViewport(t *testing.T) {
	s := newTestSession(t, NewBufferChannel())
	c := dial(t, s)
	compositor := c.bind(wl.CompositorInterface, wl.CompositorVersion)
	viewporter := c.bind(wl.ViewporterInterface, 1)
	shm := c.bind(wl.ShmInterface, 1)

	surface := c.newID()
	c.send(compositor, wl.CompositorCreateSurface, surface)
	viewport := c.newID()
	c.send(viewporter, wl.ViewporterGetViewport, viewport, surface)
	buf := c.shmBuffer(shm, 64, 64)

	c.send(surface, wl.SurfaceAttach, buf, int32(0), int32(0))
	c.send(viewport, wl.ViewportSetSource, NewFixed(8), NewFixed(8), NewFixed(16.5), NewFixed(16.5))
	c.send(viewport, wl.ViewportSetDestination, int32(100), int32(50))
	c.send(surface, wl.SurfaceCommit)
	c.roundtrip()

	require.Nil(t, c.protocolError())
	state := c.srv.Surfaces()[0].Current()
	require.NotNil(t, state.Source)
	assert.InDelta(t, 16.5, state.Source.Width.Float64(), 0.01)
	assert.Equal(t, int32(100), state.DestWidth)
	assert.Equal(t, int32(50), state.DestHeight)

	c.send(viewport, wl.ViewportSetSource, NewFixed(60), NewFixed(0), NewFixed(16), NewFixed(16))
	c.send(surface, wl.SurfaceCommit)
	c.roundtrip()

	pe := c.protocolError()
	require.NotNil(t, pe)
	assert.Equal(t, viewport, pe.ObjectID)
	assert.Equal(t, uint32(wl.ViewportErrorOutOfBuffer), pe.Code)
}

func TestSessionRun(t *testing.T) {
	s := newTestSession(t, NewBufferChannel())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(fd)
	require.NoError(t, unix.Connect(fd, &unix.SockaddrUnix{Name: s.SocketPath()}))

	require.Eventually(t, func() bool {
		return s.Stats().ClientsAccepted.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSessionDisconnectKeepsOtherClients(t *testing.T) {
	s := newTestSession(t, NewBufferChannel())
	first := dial(t, s)
	second := dial(t, s)

	firstCompositor := first.bind(wl.CompositorInterface, wl.CompositorVersion)
	first.send(firstCompositor, wl.CompositorCreateSurface, first.newID())
	first.roundtrip()

	compositor := second.bind(wl.CompositorInterface, wl.CompositorVersion)
	surface := second.newID()
	second.send(compositor, wl.CompositorCreateSurface, surface)
	second.send(surface, wl.SurfaceCommit)
	second.roundtrip()
	srv := second.srv.Surfaces()[0]
	require.Equal(t, uint64(1), srv.Commits())

	require.NoError(t, unix.Close(first.fd))
	first.fd = -1
	require.NoError(t, s.DispatchStep())
	require.Equal(t, 1, s.Clients())

	frame := second.newID()
	second.send(surface, wl.SurfaceFrame, frame)
	second.send(surface, wl.SurfaceCommit)
	second.roundtrip()

	assert.Nil(t, second.protocolError())
	assert.Same(t, srv, second.srv.Surfaces()[0])
	assert.Equal(t, uint64(2), srv.Commits())
	assert.Len(t, second.find(frame, wl.CallbackEventDone), 1)
}
