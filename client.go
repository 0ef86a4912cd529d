package yozora

import (
	"bytes"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/bnema/yozora/wl"
)

const (
	// readsPerStep bounds how many recvmsg calls one client gets per
	// dispatch step so a chatty client cannot starve the others.
	readsPerStep = 16

	// maxPendingOutput is how much unsent data a client may accumulate
	// before it is considered stuck and dropped.
	maxPendingOutput = 4 << 20
)

// Client is the server-side state of one connection. It is owned by the
// session goroutine; nothing here is safe for concurrent use.
type Client struct {
	id      uint64
	session *Session
	fd      int
	log     logrus.FieldLogger

	objects map[uint32]Resource
	nextID  uint32 // next server-allocated object id

	in      []byte
	readBuf [maxMessageSize]byte
	fds     fdQueue

	out    bytes.Buffer
	outFDs []int

	// compositor client state
	surfaces []*Surface
	frames   []*callbackResource

	dead bool
}

func newClient(s *Session, id uint64, fd int) *Client {
	c := &Client{
		id:      id,
		session: s,
		fd:      fd,
		log:     s.log.WithField("client", id),
		objects: make(map[uint32]Resource),
		nextID:  wl.ServerIDStart,
	}
	c.objects[1] = &displayResource{baseResource: newBaseResource(c, wl.DisplayInterface, 1, 1)}
	return c
}

// ID returns the session-unique client id
func (c *Client) ID() uint64 {
	return c.id
}

// Session returns the owning session
func (c *Client) Session() *Session {
	return c.session
}

// Surfaces returns the client's live surfaces
func (c *Client) Surfaces() []*Surface {
	return append([]*Surface(nil), c.surfaces...)
}

// Lookup returns the resource with the given id
func (c *Client) Lookup(id uint32) (Resource, bool) {
	r, ok := c.objects[id]
	return r, ok
}

// SendEvent queues an event for the client.
func (c *Client) SendEvent(objectID uint32, opcode uint16, args ...interface{}) error {
	return c.SendEventWithFDs(objectID, opcode, nil, args...)
}

// SendEventWithFDs queues an event carrying file descriptors. The client
// takes ownership of fds and closes them once sent or on failure.
func (c *Client) SendEventWithFDs(objectID uint32, opcode uint16, fds []int, args ...interface{}) error {
	if c.dead {
		closeFDs(fds)
		return errClientGone
	}
	if c.out.Len() > maxPendingOutput {
		closeFDs(fds)
		return errors.Errorf("client %d not reading, %d bytes pending", c.id, c.out.Len())
	}
	if err := encodeMessage(&c.out, objectID, opcode, args...); err != nil {
		closeFDs(fds)
		return errors.Wrapf(err, "encode event %d on object %d", opcode, objectID)
	}
	c.outFDs = append(c.outFDs, fds...)
	return nil
}

// register adds a client-created resource.
func (c *Client) register(r Resource) error {
	id := r.ID()
	if id == 0 || id >= wl.ServerIDStart {
		return protocolErrorf(1, wl.DisplayErrorInvalidObject, "invalid new id %d", id)
	}
	if _, ok := c.objects[id]; ok {
		return protocolErrorf(1, wl.DisplayErrorInvalidObject, "object id %d already in use", id)
	}
	c.objects[id] = r
	c.log.WithFields(logrus.Fields{"object": id, "interface": r.Interface()}).Debug("yozora: new resource")
	return nil
}

// registerServer adds a resource created by the server, allocating its
// id from the server range.
func (c *Client) registerServer(build func(id uint32) Resource) Resource {
	r := build(c.allocateID())
	c.objects[r.ID()] = r
	return r
}

// owns reports whether r is still registered on this client.
func (c *Client) owns(r Resource) bool {
	cur, ok := c.objects[r.ID()]
	return ok && cur == r
}

// allocateID hands out an id from the server range
func (c *Client) allocateID() uint32 {
	for {
		id := c.nextID
		c.nextID++
		if c.nextID == 0 {
			c.nextID = wl.ServerIDStart
		}
		if _, used := c.objects[id]; !used {
			return id
		}
	}
}

// destroyResource removes a resource and tells the client its id is free.
func (c *Client) destroyResource(id uint32) error {
	r, ok := c.objects[id]
	if !ok {
		return nil
	}
	delete(c.objects, id)
	r.destroy()
	if id < wl.ServerIDStart {
		return c.SendEvent(1, wl.DisplayEventDeleteID, id)
	}
	return nil
}

// readRequests pulls what the socket has and dispatches every complete
// request.
func (c *Client) readRequests() error {
	for i := 0; i < readsPerStep; i++ {
		n, fds, err := recvmsgWithFDs(c.fd, c.readBuf[:])
		if err != nil {
			closeFDs(fds)
			return err
		}
		if n == 0 && len(fds) == 0 {
			break
		}
		c.fds.enqueue(fds...)
		c.in = append(c.in, c.readBuf[:n]...)
		if err := c.processInput(); err != nil {
			return err
		}
	}
	return nil
}

// processInput decodes and dispatches buffered requests.
func (c *Client) processInput() error {
	pos := 0
	defer func() {
		c.in = append(c.in[:0], c.in[pos:]...)
	}()

	for len(c.in)-pos >= headerSize {
		objectID, opcode, size := decodeHeader(c.in[pos:])
		if size < headerSize || size%4 != 0 || size > maxMessageSize {
			return protocolErrorf(1, wl.DisplayErrorInvalidMethod, "bad message size %d on object %d", size, objectID)
		}
		if len(c.in)-pos < size {
			return nil
		}

		r, ok := c.objects[objectID]
		if !ok {
			return protocolErrorf(1, wl.DisplayErrorInvalidObject, "invalid object %d", objectID)
		}

		m := getMessage(objectID, opcode, c.in[pos+headerSize:pos+size], &c.fds)
		c.log.WithFields(logrus.Fields{
			"object":    objectID,
			"interface": r.Interface(),
			"opcode":    opcode,
		}).Debug("yozora: request")
		err := r.Dispatch(m)
		c.session.stats.RequestsDispatched.Add(1)
		if err == nil {
			err = m.Err()
		}
		putMessage(m)
		pos += size
		if err != nil {
			return err
		}
	}
	return nil
}

// flush writes as much queued output as the socket takes.
func (c *Client) flush() error {
	for c.out.Len() > 0 {
		fds := c.outFDs
		if len(fds) > maxFDsPerMessage {
			fds = fds[:maxFDsPerMessage]
		}
		n, err := sendmsgWithFDs(c.fd, c.out.Bytes(), fds)
		if err != nil {
			return err
		}
		if n == 0 {
			// Socket full, try again next step.
			return nil
		}
		closeFDs(fds)
		c.outFDs = c.outFDs[len(fds):]
		c.out.Next(n)
	}
	if c.out.Len() == 0 {
		c.out.Reset()
	}
	return nil
}

// postError reports a fatal protocol error to the client.
func (c *Client) postError(pe *ProtocolError) {
	c.log.WithFields(logrus.Fields{
		"object": pe.ObjectID,
		"code":   pe.Code,
	}).Warn("yozora: protocol error: " + pe.Message)
	_ = c.SendEvent(1, wl.DisplayEventError, pe.ObjectID, pe.Code, pe.Message)
	_ = c.flush()
}

// queueFrame schedules a frame callback.
func (c *Client) queueFrame(cb *callbackResource) {
	c.frames = append(c.frames, cb)
}

// fireFrames sends done on every due frame callback.
func (c *Client) fireFrames(timeMs uint32) error {
	frames := c.frames
	c.frames = nil
	for _, cb := range frames {
		if !c.owns(cb) {
			continue
		}
		if err := cb.done(timeMs); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) removeSurface(s *Surface) {
	for i, other := range c.surfaces {
		if other == s {
			c.surfaces = append(c.surfaces[:i], c.surfaces[i+1:]...)
			return
		}
	}
}

// close releases every resource and the connection.
func (c *Client) close() {
	if c.dead {
		return
	}
	c.dead = true

	// Children are created after their parents, so tear down newest first.
	ids := make([]uint32, 0, len(c.objects))
	for id := range c.objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	for _, id := range ids {
		if r, ok := c.objects[id]; ok {
			delete(c.objects, id)
			r.destroy()
		}
	}

	c.surfaces = nil
	c.frames = nil
	c.fds.closeAll()
	closeFDs(c.outFDs)
	c.outFDs = nil
	c.out.Reset()
	_ = unix.Close(c.fd)
}

func closeFDs(fds []int) {
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}
