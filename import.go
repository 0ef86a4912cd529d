package yozora

import (
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/bnema/yozora/wl"
)

// ImportPlane is one (fd, offset, stride) triple of an import request.
// Index is the plane slot the client filled.
type ImportPlane struct {
	Index  int
	FD     int
	Offset uint32
	Stride uint32
}

// ImportRequest is a dmabuf import as decoded from the client. NPlanes is
// the plane count the format calls for; Planes are the triples actually
// supplied. The request owns the plane fds until Import consumes it.
type ImportRequest struct {
	Width    int32
	Height   int32
	Format   uint32
	Modifier uint64
	Flags    uint32
	NPlanes  int
	Planes   []ImportPlane
}

const knownImportFlags = wl.BufferParamsFlagsYInvert | wl.BufferParamsFlagsInterlaced | wl.BufferParamsFlagsBottomFirst

// Validate checks that the request describes a buffer that can be
// imported. supports may be nil to accept any (format, modifier) pair.
func (r *ImportRequest) Validate(supports func(code uint32, modifier uint64) bool) error {
	if r.Width <= 0 || r.Height <= 0 {
		return errors.Errorf("invalid dimensions %dx%d", r.Width, r.Height)
	}
	if r.Flags&^knownImportFlags != 0 {
		return errors.Errorf("unknown flags %#x", r.Flags)
	}
	if r.NPlanes <= 0 || r.NPlanes > wl.MaxPlanes {
		return errors.Errorf("invalid plane count %d", r.NPlanes)
	}
	if len(r.Planes) != r.NPlanes {
		return errors.Errorf("format %s needs %d planes, got %d", FourccString(r.Format), r.NPlanes, len(r.Planes))
	}
	for i, p := range r.Planes {
		if p.Index != i {
			return errors.Errorf("plane %d carries index %d", i, p.Index)
		}
		if p.FD < 0 {
			return errors.Errorf("plane %d has no file descriptor", i)
		}
	}
	if supports != nil && !supports(r.Format, r.Modifier) {
		return errors.Errorf("unsupported format %s with modifier %#x", FourccString(r.Format), r.Modifier)
	}
	return r.checkBounds()
}

// checkBounds verifies planes fit inside their backing objects when the
// size can be queried.
func (r *ImportRequest) checkBounds() error {
	for i, p := range r.Planes {
		size := fdSize(p.FD)
		if size < 0 {
			continue
		}
		offset, stride := uint64(p.Offset), uint64(p.Stride)
		if offset >= uint64(size) {
			return errors.Errorf("plane %d offset %d beyond size %d", i, offset, size)
		}
		if offset+stride > uint64(size) {
			return errors.Errorf("plane %d stride %d overruns size %d", i, stride, size)
		}
		if i == 0 && offset+stride*uint64(r.Height) > uint64(size) {
			return errors.Errorf("plane 0 of %d rows overruns size %d", r.Height, size)
		}
	}
	return nil
}

func (r *ImportRequest) closeFDs() {
	for i := range r.Planes {
		if r.Planes[i].FD >= 0 {
			_ = unix.Close(r.Planes[i].FD)
			r.Planes[i].FD = -1
		}
	}
}

// detach moves the fds into a Dmabuf. The request no longer owns them.
func (r *ImportRequest) detach() *Dmabuf {
	buf := &Dmabuf{
		Width:    r.Width,
		Height:   r.Height,
		Format:   r.Format,
		Modifier: r.Modifier,
		Flags:    r.Flags,
		planes:   make([]Plane, len(r.Planes)),
	}
	for i, p := range r.Planes {
		buf.planes[i] = Plane{FD: p.FD, Offset: p.Offset, Stride: p.Stride}
		r.Planes[i].FD = -1
	}
	return buf
}

// ImportNotifier is the one-shot acknowledgement of an import request.
// It must be resolved exactly once; the client's request does not
// complete until it is.
type ImportNotifier struct {
	resolved  atomic.Bool
	onSuccess func() error
	onFailure func(reason string) error
}

// NewImportNotifier wires the two possible outcomes of an import.
func NewImportNotifier(onSuccess func() error, onFailure func(reason string) error) *ImportNotifier {
	return &ImportNotifier{onSuccess: onSuccess, onFailure: onFailure}
}

// Successful acknowledges the import.
func (n *ImportNotifier) Successful() error {
	if !n.resolved.CompareAndSwap(false, true) {
		return n.doubleResolve("successful")
	}
	if n.onSuccess == nil {
		return nil
	}
	return n.onSuccess()
}

// Failed rejects the import with a reason.
func (n *ImportNotifier) Failed(reason string) error {
	if !n.resolved.CompareAndSwap(false, true) {
		return n.doubleResolve("failed")
	}
	if n.onFailure == nil {
		return nil
	}
	return n.onFailure(reason)
}

// Resolved reports whether the notifier has been used
func (n *ImportNotifier) Resolved() bool {
	return n.resolved.Load()
}

func (n *ImportNotifier) doubleResolve(outcome string) error {
	Logger().WithField("outcome", outcome).Error("yozora: import notifier resolved twice")
	return ErrAlreadyResolved
}

// ImportHandler validates dmabuf imports, forwards good ones to a sink and
// resolves their notifiers.
type ImportHandler struct {
	sink     BufferSink
	feedback *Feedback
	log      logrus.FieldLogger
}

// NewImportHandler creates a handler. feedback supplies the supported
// (format, modifier) set; nil accepts everything.
func NewImportHandler(sink BufferSink, feedback *Feedback, log logrus.FieldLogger) *ImportHandler {
	if log == nil {
		log = Logger()
	}
	return &ImportHandler{sink: sink, feedback: feedback, log: log}
}

// Import consumes req. On success the buffer is queued on the sink before
// the notifier reports success; on any failure the fds are closed and the
// notifier reports failure. The returned error comes from resolving the
// notifier, not from the import itself.
func (h *ImportHandler) Import(req *ImportRequest, notifier *ImportNotifier) error {
	var supports func(uint32, uint64) bool
	if h.feedback != nil {
		supports = h.feedback.Supports
	}

	if err := req.Validate(supports); err != nil {
		req.closeFDs()
		h.log.WithError(err).Warn("yozora: rejecting dmabuf import")
		return notifier.Failed(err.Error())
	}

	buf := req.detach()
	desc := buf.String()
	if err := h.sink.Send(buf); err != nil {
		_ = buf.Close()
		h.log.WithError(err).WithField("buffer", desc).Error("yozora: dropping imported dmabuf")
		return notifier.Failed(fmt.Sprintf("buffer handoff failed: %v", err))
	}

	// buf belongs to the receiver from here on.
	h.log.WithField("buffer", desc).Debug("yozora: dmabuf imported")
	return notifier.Successful()
}
