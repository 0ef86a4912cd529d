// Package yozora is a minimal Wayland display server endpoint. It accepts
// clients, negotiates surfaces and shared-memory or dmabuf buffers, and
// hands imported GPU buffers to a rendering goroutine through a
// BufferChannel.
//
// A Session is driven from a single goroutine by calling AcceptStep and
// DispatchStep, or Run. An Assembler, running on another goroutine, drains
// the channel and keeps the most recent texture.
package yozora

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// idlePollTimeout caps how long Run sleeps in poll so cancellation and
// pending output are noticed.
const idlePollTimeout = 100 * time.Millisecond

// Session is the protocol state of the display server: the listening
// socket, the advertised globals and every connected client. It is not
// safe for concurrent use.
type Session struct {
	log  logrus.FieldLogger
	opts options

	listener *listener
	globals  []Global
	clients  []*Client

	nextClientID uint64
	serial       uint32
	start        time.Time
	lastFrame    time.Time

	feedback *Feedback
	importer *ImportHandler
	stats    Stats

	closed bool
}

// NewSession builds the globals, computes the default dmabuf feedback for
// dev and formats, and binds the listening socket. Imported buffers are
// sent to sink. A socket held by another server yields ErrAddressInUse.
func NewSession(sink BufferSink, dev uint64, formats []Format, opts ...Option) (*Session, error) {
	if sink == nil {
		return nil, errors.New("nil buffer sink")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log
	if log == nil {
		log = Logger()
	}

	path, err := o.socketPath()
	if err != nil {
		return nil, err
	}

	feedback, err := NewFeedbackBuilder(dev, formats).Build()
	if err != nil {
		return nil, errors.Wrap(err, "build default dmabuf feedback")
	}

	l, err := listenUnix(path)
	if err != nil {
		_ = feedback.Close()
		return nil, errors.Wrap(err, "bind display socket")
	}

	s := &Session{
		log:      log.WithField("socket", path),
		opts:     o,
		listener: l,
		feedback: feedback,
		start:    time.Now(),
		importer: NewImportHandler(sink, feedback, log),
	}
	s.globals = []Global{
		&compositorGlobal{},
		&shmGlobal{},
		&dmabufGlobal{session: s},
		&xdgWmBaseGlobal{},
		&seatGlobal{name: "seat0"},
		&outputGlobal{info: o.output},
		&viewporterGlobal{},
	}

	s.log.WithFields(logrus.Fields{
		"device":  dev,
		"formats": len(feedback.Formats()),
	}).Info("yozora: listening")
	return s, nil
}

// SocketPath returns the path of the listening socket
func (s *Session) SocketPath() string {
	return s.listener.path
}

// Clients returns the number of connected clients
func (s *Session) Clients() int {
	return len(s.clients)
}

// Stats returns the session counters
func (s *Session) Stats() *Stats {
	return &s.stats
}

// DefaultFeedback returns the session-wide dmabuf feedback
func (s *Session) DefaultFeedback() *Feedback {
	return s.feedback
}

// Globals lists the advertised globals. Names start at 1.
func (s *Session) Globals() []GlobalInfo {
	out := make([]GlobalInfo, len(s.globals))
	for i, g := range s.globals {
		out[i] = GlobalInfo{Name: uint32(i + 1), Interface: g.Interface(), Version: g.Version()}
	}
	return out
}

// AcceptStep accepts pending connections without blocking, at most
// MaxAcceptsPerStep of them. Having none pending is not an error.
func (s *Session) AcceptStep() error {
	if s.closed {
		return errors.New("session closed")
	}
	for i := 0; i < s.opts.maxAccepts; i++ {
		fd, err := s.listener.accept()
		if err != nil {
			return err
		}
		if fd < 0 {
			return nil
		}
		s.nextClientID++
		c := newClient(s, s.nextClientID, fd)
		s.clients = append(s.clients, c)
		s.stats.ClientsAccepted.Add(1)
		c.log.Info("yozora: client connected")
	}
	return nil
}

// DispatchStep reads and handles every complete request of every client,
// fires due frame callbacks and flushes queued events. A failure on one
// connection disconnects that client only.
func (s *Session) DispatchStep() error {
	if s.closed {
		return errors.New("session closed")
	}

	now := time.Now()
	fire := now.Sub(s.lastFrame) >= s.opts.frameInterval
	if fire {
		s.lastFrame = now
	}
	timeMs := uint32(now.Sub(s.start) / time.Millisecond)

	live := s.clients[:0]
	for _, c := range s.clients {
		if err := s.serviceClient(c, fire, timeMs); err != nil {
			s.dropClient(c, err)
			continue
		}
		live = append(live, c)
	}
	for i := len(live); i < len(s.clients); i++ {
		s.clients[i] = nil
	}
	s.clients = live
	return nil
}

func (s *Session) serviceClient(c *Client, fireFrames bool, timeMs uint32) error {
	if err := c.readRequests(); err != nil {
		return err
	}
	if fireFrames {
		if err := c.fireFrames(timeMs); err != nil {
			return err
		}
	}
	return c.flush()
}

func (s *Session) dropClient(c *Client, err error) {
	var pe *ProtocolError
	switch {
	case errors.As(err, &pe):
		c.postError(pe)
	case errors.Is(err, errClientGone):
		c.log.Info("yozora: client disconnected")
	default:
		c.log.WithError(err).Warn("yozora: dropping client")
	}
	c.close()
}

// Run drives the session until ctx is done, sleeping in poll(2) between
// steps.
func (s *Session) Run(ctx context.Context) error {
	fds := make([]int, 0, 1+len(s.clients))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.AcceptStep(); err != nil {
			return err
		}
		if err := s.DispatchStep(); err != nil {
			return err
		}

		timeout := idlePollTimeout
		fds = append(fds[:0], s.listener.fd)
		for _, c := range s.clients {
			fds = append(fds, c.fd)
			if len(c.frames) > 0 && s.opts.frameInterval < timeout {
				timeout = s.opts.frameInterval
			}
			if c.out.Len() > 0 && timeout > time.Millisecond {
				timeout = time.Millisecond
			}
		}
		if err := pollReadable(fds, int(timeout/time.Millisecond)); err != nil {
			return err
		}
	}
}

// Close disconnects every client and removes the socket. The buffer sink
// is left to its owner.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	for _, c := range s.clients {
		c.close()
	}
	s.clients = nil
	err := s.listener.Close()
	if ferr := s.feedback.Close(); err == nil {
		err = ferr
	}
	s.log.Info("yozora: session closed")
	return err
}

// nextSerial returns a fresh event serial.
func (s *Session) nextSerial() uint32 {
	s.serial++
	return s.serial
}

// feedbackFor picks the dmabuf feedback for a surface.
func (s *Session) feedbackFor(surface *Surface) *Feedback {
	if s.opts.surfaceFeedback != nil && surface != nil {
		if fb := s.opts.surfaceFeedback(surface); fb != nil {
			return fb
		}
	}
	return s.feedback
}
