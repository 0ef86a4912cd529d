package yozora

import (
	"github.com/bnema/yozora/wl"
)

// seatGlobal advertises a seat with no input devices. Clients may still
// create pointer, keyboard and touch objects; they never receive events.
type seatGlobal struct {
	name string
}

func (g *seatGlobal) Interface() string { return wl.SeatInterface }
func (g *seatGlobal) Version() uint32   { return wl.SeatVersion }

func (g *seatGlobal) Bind(c *Client, id, version uint32) (Resource, error) {
	return &seatResource{
		baseResource: newBaseResource(c, wl.SeatInterface, id, version),
		name:         g.name,
	}, nil
}

type seatResource struct {
	baseResource
	name string
}

func (s *seatResource) announce() error {
	if err := s.send(wl.SeatEventCapabilities, uint32(0)); err != nil {
		return err
	}
	if s.version >= 2 {
		return s.send(wl.SeatEventName, s.name)
	}
	return nil
}

func (s *seatResource) Dispatch(m *Message) error {
	var iface string
	switch m.Opcode {
	case wl.SeatGetPointer:
		iface = wl.PointerInterface
	case wl.SeatGetKeyboard:
		iface = wl.KeyboardInterface
	case wl.SeatGetTouch:
		iface = wl.TouchInterface
	case wl.SeatRelease:
		return s.client.destroyResource(s.id)
	default:
		return s.postError(wl.DisplayErrorInvalidMethod, "wl_seat has no request %d", m.Opcode)
	}

	id := m.NewID()
	if m.Err() != nil {
		return m.Err()
	}
	return s.client.register(&inputDevice{baseResource: newBaseResource(s.client, iface, id, s.version)})
}

// inputDevice is an inert wl_pointer, wl_keyboard or wl_touch.
type inputDevice struct {
	baseResource
}

func (d *inputDevice) Dispatch(m *Message) error {
	switch d.iface {
	case wl.PointerInterface:
		switch m.Opcode {
		case wl.PointerSetCursor:
			m.Uint32() // serial
			surfaceID := m.ObjectRef()
			m.Int32() // hotspot
			m.Int32()
			if m.Err() != nil || surfaceID == 0 {
				return m.Err()
			}
			r, _ := d.client.Lookup(surfaceID)
			surface, ok := r.(*Surface)
			if !ok {
				return protocolErrorf(1, wl.DisplayErrorInvalidObject, "invalid cursor surface %d", surfaceID)
			}
			return surface.setRole("wl_pointer-cursor", d.id, wl.PointerErrorRole)
		case wl.PointerRelease:
			return d.client.destroyResource(d.id)
		}
	case wl.KeyboardInterface:
		if m.Opcode == wl.KeyboardRelease {
			return d.client.destroyResource(d.id)
		}
	case wl.TouchInterface:
		if m.Opcode == wl.TouchRelease {
			return d.client.destroyResource(d.id)
		}
	}
	return d.postError(wl.DisplayErrorInvalidMethod, "%s has no request %d", d.iface, m.Opcode)
}
