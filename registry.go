package yozora

import (
	"github.com/bnema/yozora/wl"
)

// Global is a capability advertised through wl_registry. Globals are
// created once per session and bound per client on demand.
type Global interface {
	Interface() string
	Version() uint32
	// Bind creates the client's resource for this global. The session
	// registers the returned resource under id.
	Bind(c *Client, id, version uint32) (Resource, error)
}

// FeedbackProducer is implemented by globals that carry dmabuf feedback.
type FeedbackProducer interface {
	DefaultFeedback() *Feedback
}

// announcer is implemented by resources that send initial events once
// they are registered.
type announcer interface {
	announce() error
}

// GlobalInfo describes an advertised global.
type GlobalInfo struct {
	Name      uint32
	Interface string
	Version   uint32
}

// displayResource is wl_display, object 1 of every client.
type displayResource struct {
	baseResource
}

func (d *displayResource) Dispatch(m *Message) error {
	switch m.Opcode {
	case wl.DisplaySync:
		id := m.NewID()
		if m.Err() != nil {
			return m.Err()
		}
		cb := newCallback(d.client, id)
		if err := d.client.register(cb); err != nil {
			return err
		}
		return cb.done(d.client.session.nextSerial())

	case wl.DisplayGetRegistry:
		id := m.NewID()
		if m.Err() != nil {
			return m.Err()
		}
		reg := &registryResource{baseResource: newBaseResource(d.client, wl.RegistryInterface, id, 1)}
		if err := d.client.register(reg); err != nil {
			return err
		}
		for _, g := range d.client.session.Globals() {
			if err := reg.send(wl.RegistryEventGlobal, g.Name, g.Interface, g.Version); err != nil {
				return err
			}
		}
		return nil
	}
	return d.postError(wl.DisplayErrorInvalidMethod, "wl_display has no request %d", m.Opcode)
}

// registryResource is a client's wl_registry.
type registryResource struct {
	baseResource
}

func (r *registryResource) Dispatch(m *Message) error {
	if m.Opcode != wl.RegistryBind {
		return r.postError(wl.DisplayErrorInvalidMethod, "wl_registry has no request %d", m.Opcode)
	}

	name := m.Uint32()
	iface := m.String()
	version := m.Uint32()
	id := m.NewID()
	if m.Err() != nil {
		return m.Err()
	}

	s := r.client.session
	if name == 0 || int(name) > len(s.globals) {
		return r.postError(wl.DisplayErrorInvalidObject, "invalid global %s (%d)", iface, name)
	}
	g := s.globals[name-1]
	if iface != g.Interface() {
		return r.postError(wl.DisplayErrorInvalidObject, "invalid interface for global %d: have %s, wanted %s", name, iface, g.Interface())
	}
	if version == 0 || version > g.Version() {
		return r.postError(wl.DisplayErrorInvalidObject, "invalid version for global %s (%d): have %d, wanted %d", iface, name, version, g.Version())
	}

	res, err := g.Bind(r.client, id, version)
	if err != nil {
		return err
	}
	if err := r.client.register(res); err != nil {
		res.destroy()
		return err
	}
	r.client.log.WithField("global", iface).WithField("version", version).Debug("yozora: global bound")
	if a, ok := res.(announcer); ok {
		return a.announce()
	}
	return nil
}

// callbackResource is a wl_callback. It fires once and then destroys
// itself.
type callbackResource struct {
	baseResource
}

func newCallback(c *Client, id uint32) *callbackResource {
	return &callbackResource{baseResource: newBaseResource(c, wl.CallbackInterface, id, 1)}
}

func (cb *callbackResource) Dispatch(m *Message) error {
	return cb.postError(wl.DisplayErrorInvalidMethod, "wl_callback has no requests")
}

// done sends the callback's only event and retires the object.
func (cb *callbackResource) done(data uint32) error {
	if err := cb.send(wl.CallbackEventDone, data); err != nil {
		return err
	}
	return cb.client.destroyResource(cb.id)
}
