package yozora

import (
	"golang.org/x/sys/unix"

	"github.com/bnema/yozora/wl"
)

var _ FeedbackProducer = (*dmabufGlobal)(nil)

// dmabufGlobal is zwp_linux_dmabuf_v1. Imports go through the session's
// ImportHandler.
type dmabufGlobal struct {
	session *Session
}

func (g *dmabufGlobal) Interface() string { return wl.LinuxDmabufInterface }
func (g *dmabufGlobal) Version() uint32   { return wl.LinuxDmabufVersion }

// DefaultFeedback returns the feedback sent to clients that do not ask
// about a specific surface
func (g *dmabufGlobal) DefaultFeedback() *Feedback {
	return g.session.feedback
}

func (g *dmabufGlobal) Bind(c *Client, id, version uint32) (Resource, error) {
	return &dmabufResource{
		baseResource: newBaseResource(c, wl.LinuxDmabufInterface, id, version),
		global:       g,
	}, nil
}

type dmabufResource struct {
	baseResource
	global *dmabufGlobal
}

// announce advertises formats to clients too old for feedback objects.
func (d *dmabufResource) announce() error {
	if d.version >= 4 {
		return nil
	}
	seen := make(map[uint32]bool)
	for _, f := range d.global.DefaultFeedback().Formats() {
		if d.version >= 3 {
			if err := d.send(wl.LinuxDmabufEventModifier, f.Code, uint32(f.Modifier>>32), uint32(f.Modifier)); err != nil {
				return err
			}
			continue
		}
		if seen[f.Code] {
			continue
		}
		seen[f.Code] = true
		if err := d.send(wl.LinuxDmabufEventFormat, f.Code); err != nil {
			return err
		}
	}
	return nil
}

func (d *dmabufResource) Dispatch(m *Message) error {
	switch m.Opcode {
	case wl.LinuxDmabufDestroy:
		return d.client.destroyResource(d.id)

	case wl.LinuxDmabufCreateParams:
		id := m.NewID()
		if m.Err() != nil {
			return m.Err()
		}
		p := &bufferParams{
			baseResource: newBaseResource(d.client, wl.LinuxBufferParamsInterface, id, d.version),
		}
		for i := range p.planes {
			p.planes[i].fd = -1
		}
		return d.client.register(p)

	case wl.LinuxDmabufGetDefaultFeedback, wl.LinuxDmabufGetSurfaceFeedback:
		if d.version < 4 {
			break
		}
		id := m.NewID()
		var surface *Surface
		if m.Opcode == wl.LinuxDmabufGetSurfaceFeedback {
			surfaceID := m.ObjectRef()
			if m.Err() != nil {
				return m.Err()
			}
			r, _ := d.client.Lookup(surfaceID)
			var ok bool
			if surface, ok = r.(*Surface); !ok {
				return protocolErrorf(1, wl.DisplayErrorInvalidObject, "invalid surface %d", surfaceID)
			}
		}
		if m.Err() != nil {
			return m.Err()
		}
		fb := &feedbackResource{baseResource: newBaseResource(d.client, wl.DmabufFeedbackInterface, id, d.version)}
		if err := d.client.register(fb); err != nil {
			return err
		}
		return d.client.session.feedbackFor(surface).sendTo(d.client, id)
	}
	return d.postError(wl.DisplayErrorInvalidMethod, "zwp_linux_dmabuf_v1 has no request %d", m.Opcode)
}

type feedbackResource struct {
	baseResource
}

func (f *feedbackResource) Dispatch(m *Message) error {
	if m.Opcode != wl.DmabufFeedbackDestroy {
		return f.postError(wl.DisplayErrorInvalidMethod, "zwp_linux_dmabuf_feedback_v1 has no request %d", m.Opcode)
	}
	return f.client.destroyResource(f.id)
}

type paramsPlane struct {
	set      bool
	fd       int
	offset   uint32
	stride   uint32
	modifier uint64
}

// bufferParams collects planes for one dmabuf import. It is single use.
type bufferParams struct {
	baseResource
	planes [wl.MaxPlanes]paramsPlane
	used   bool
}

func (p *bufferParams) Dispatch(m *Message) error {
	switch m.Opcode {
	case wl.BufferParamsDestroy:
		return p.client.destroyResource(p.id)

	case wl.BufferParamsAdd:
		fd := m.Fd()
		idx := m.Uint32()
		offset, stride := m.Uint32(), m.Uint32()
		modHi, modLo := m.Uint32(), m.Uint32()
		if m.Err() != nil {
			if fd >= 0 {
				_ = unix.Close(fd)
			}
			return m.Err()
		}
		return p.add(fd, idx, offset, stride, uint64(modHi)<<32|uint64(modLo))

	case wl.BufferParamsCreate:
		w, h := m.Int32(), m.Int32()
		format, flags := m.Uint32(), m.Uint32()
		if m.Err() != nil {
			return m.Err()
		}
		return p.create(0, w, h, format, flags)

	case wl.BufferParamsCreateImmed:
		id := m.NewID()
		w, h := m.Int32(), m.Int32()
		format, flags := m.Uint32(), m.Uint32()
		if m.Err() != nil {
			return m.Err()
		}
		return p.create(id, w, h, format, flags)
	}
	return p.postError(wl.DisplayErrorInvalidMethod, "zwp_linux_buffer_params_v1 has no request %d", m.Opcode)
}

func (p *bufferParams) add(fd int, idx, offset, stride uint32, modifier uint64) error {
	if p.used {
		_ = unix.Close(fd)
		return p.postError(wl.BufferParamsErrorAlreadyUsed, "params already used")
	}
	if idx >= wl.MaxPlanes {
		_ = unix.Close(fd)
		return p.postError(wl.BufferParamsErrorPlaneIdx, "plane index %d out of bounds", idx)
	}
	if p.planes[idx].set {
		_ = unix.Close(fd)
		return p.postError(wl.BufferParamsErrorPlaneSet, "plane %d already set", idx)
	}
	p.planes[idx] = paramsPlane{set: true, fd: fd, offset: offset, stride: stride, modifier: modifier}
	return nil
}

// request moves the collected planes into an ImportRequest. The plane
// count comes from the format when it is known, otherwise from the
// highest plane set.
func (p *bufferParams) request(w, h int32, format, flags uint32) (*ImportRequest, string) {
	req := &ImportRequest{Width: w, Height: h, Format: format, Flags: flags}

	highest := -1
	mixed := false
	first := true
	for i := range p.planes {
		pl := &p.planes[i]
		if !pl.set {
			continue
		}
		highest = i
		if first {
			req.Modifier = pl.modifier
			first = false
		} else if pl.modifier != req.Modifier {
			mixed = true
		}
		req.Planes = append(req.Planes, ImportPlane{Index: i, FD: pl.fd, Offset: pl.offset, Stride: pl.stride})
		pl.fd = -1
		pl.set = false
	}

	req.NPlanes = planesForFormat(format)
	if req.NPlanes == 0 {
		req.NPlanes = highest + 1
	}
	if mixed {
		return req, "planes carry different modifiers"
	}
	return req, ""
}

// create runs the import. bufferID is the client's wl_buffer id for
// create_immed and 0 for create.
func (p *bufferParams) create(bufferID uint32, w, h int32, format, flags uint32) error {
	if p.used {
		return p.postError(wl.BufferParamsErrorAlreadyUsed, "params already used")
	}
	p.used = true

	c := p.client
	s := c.session
	req, reason := p.request(w, h, format, flags)

	newBuffer := func(id uint32) Resource {
		return &dmabufBuffer{
			bufferBase: bufferBase{
				baseResource: newBaseResource(c, wl.BufferInterface, id, 1),
				width:        w,
				height:       h,
			},
			format:   format,
			modifier: req.Modifier,
		}
	}

	notifier := NewImportNotifier(
		func() error {
			s.stats.ImportsSucceeded.Add(1)
			if bufferID != 0 {
				return c.register(newBuffer(bufferID))
			}
			buf := c.registerServer(newBuffer)
			return p.send(wl.BufferParamsEventCreated, buf)
		},
		func(reason string) error {
			s.stats.ImportsFailed.Add(1)
			c.log.WithField("reason", reason).Debug("yozora: dmabuf import failed")
			if bufferID != 0 {
				// The client already holds a proxy for this id.
				b := newBuffer(bufferID).(*dmabufBuffer)
				b.invalid = true
				if err := c.register(b); err != nil {
					return err
				}
			}
			return p.send(wl.BufferParamsEventFailed)
		},
	)

	if reason != "" {
		req.closeFDs()
		return notifier.Failed(reason)
	}
	return s.importer.Import(req, notifier)
}

func (p *bufferParams) destroy() {
	for i := range p.planes {
		if p.planes[i].set && p.planes[i].fd >= 0 {
			_ = unix.Close(p.planes[i].fd)
		}
		p.planes[i] = paramsPlane{fd: -1}
	}
}

// dmabufBuffer is the wl_buffer of an imported dmabuf. The planes went to
// the buffer sink; only the description stays here.
type dmabufBuffer struct {
	bufferBase
	format   uint32
	modifier uint64
	invalid  bool
}

// Format returns the DRM fourcc
func (b *dmabufBuffer) Format() uint32 { return b.format }

// Modifier returns the layout modifier
func (b *dmabufBuffer) Modifier() uint64 { return b.modifier }
