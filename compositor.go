package yozora

import (
	"github.com/bnema/yozora/wl"
)

// Rect is a rectangle in surface or buffer coordinates.
type Rect struct {
	X, Y          int32
	Width, Height int32
}

// Contains reports whether the point lies inside r
func (r Rect) Contains(x, y int32) bool {
	return x >= r.X && y >= r.Y && x < r.X+r.Width && y < r.Y+r.Height
}

// RegionOp is one add or subtract step of a region.
type RegionOp struct {
	Rect
	Subtract bool
}

// Region is the sequence of operations a client applied to a wl_region.
type Region []RegionOp

// Contains evaluates the operations in order for one point.
func (r Region) Contains(x, y int32) bool {
	in := false
	for _, op := range r {
		if op.Rect.Contains(x, y) {
			in = !op.Subtract
		}
	}
	return in
}

// ViewportSource is the source rectangle set through wp_viewport.
type ViewportSource struct {
	X, Y          Fixed
	Width, Height Fixed
}

// SurfaceState is the double-buffered state of a wl_surface.
type SurfaceState struct {
	Buffer       Buffer
	OffsetX      int32
	OffsetY      int32
	Scale        int32
	Transform    int32
	Damage       []Rect
	BufferDamage []Rect
	OpaqueRegion Region
	InputRegion  Region // nil accepts input everywhere

	Source     *ViewportSource // nil when unset
	DestWidth  int32           // -1 when unset
	DestHeight int32
}

// Buffer is a wl_buffer that can be attached to a surface.
type Buffer interface {
	Resource
	Size() (width, height int32)
	markBusy()
	release() error
}

// bufferBase is the wl_buffer part shared by shm and dmabuf buffers.
type bufferBase struct {
	baseResource
	width, height int32
	busy          bool
}

// Size returns the buffer size in pixels
func (b *bufferBase) Size() (int32, int32) {
	return b.width, b.height
}

func (b *bufferBase) markBusy() {
	b.busy = true
}

// release tells the client the buffer may be reused.
func (b *bufferBase) release() error {
	if !b.busy {
		return nil
	}
	b.busy = false
	return b.send(wl.BufferEventRelease)
}

func (b *bufferBase) Dispatch(m *Message) error {
	if m.Opcode != wl.BufferDestroy {
		return b.postError(wl.DisplayErrorInvalidMethod, "wl_buffer has no request %d", m.Opcode)
	}
	return b.client.destroyResource(b.id)
}

type compositorGlobal struct{}

func (g *compositorGlobal) Interface() string { return wl.CompositorInterface }
func (g *compositorGlobal) Version() uint32   { return wl.CompositorVersion }

func (g *compositorGlobal) Bind(c *Client, id, version uint32) (Resource, error) {
	return &compositorResource{baseResource: newBaseResource(c, wl.CompositorInterface, id, version)}, nil
}

type compositorResource struct {
	baseResource
}

func (r *compositorResource) Dispatch(m *Message) error {
	switch m.Opcode {
	case wl.CompositorCreateSurface:
		id := m.NewID()
		if m.Err() != nil {
			return m.Err()
		}
		s := newSurface(r.client, id, r.version)
		if err := r.client.register(s); err != nil {
			return err
		}
		r.client.surfaces = append(r.client.surfaces, s)
		return nil

	case wl.CompositorCreateRegion:
		id := m.NewID()
		if m.Err() != nil {
			return m.Err()
		}
		return r.client.register(&regionResource{baseResource: newBaseResource(r.client, wl.RegionInterface, id, r.version)})
	}
	return r.postError(wl.DisplayErrorInvalidMethod, "wl_compositor has no request %d", m.Opcode)
}

type regionResource struct {
	baseResource
	ops Region
}

func (r *regionResource) Dispatch(m *Message) error {
	switch m.Opcode {
	case wl.RegionDestroy:
		return r.client.destroyResource(r.id)
	case wl.RegionAdd, wl.RegionSubtract:
		rect := Rect{X: m.Int32(), Y: m.Int32(), Width: m.Int32(), Height: m.Int32()}
		if m.Err() != nil {
			return m.Err()
		}
		r.ops = append(r.ops, RegionOp{Rect: rect, Subtract: m.Opcode == wl.RegionSubtract})
		return nil
	}
	return r.postError(wl.DisplayErrorInvalidMethod, "wl_region has no request %d", m.Opcode)
}

// Surface is a client wl_surface.
type Surface struct {
	baseResource

	pending  SurfaceState
	current  SurfaceState
	attached bool
	frames   []*callbackResource
	commits  uint64

	role     string
	xdg      *xdgSurface
	viewport *viewportResource
}

func newSurface(c *Client, id, version uint32) *Surface {
	s := &Surface{baseResource: newBaseResource(c, wl.SurfaceInterface, id, version)}
	s.pending = SurfaceState{Scale: 1, DestWidth: -1, DestHeight: -1}
	s.current = s.pending
	return s
}

// Current returns the committed state
func (s *Surface) Current() SurfaceState {
	return s.current
}

// Role returns the surface role interface, empty when none was given
func (s *Surface) Role() string {
	return s.role
}

// Commits returns how many times the surface was committed
func (s *Surface) Commits() uint64 {
	return s.commits
}

// Toplevel returns the toplevel role object, or nil.
func (s *Surface) Toplevel() *Toplevel {
	if s.xdg == nil {
		return nil
	}
	return s.xdg.toplevel
}

// setRole assigns a role. A surface keeps its first role for life.
func (s *Surface) setRole(role string, errObject, errCode uint32) error {
	if s.role != "" && s.role != role {
		return protocolErrorf(errObject, errCode, "wl_surface@%d already has role %s", s.id, s.role)
	}
	s.role = role
	return nil
}

func (s *Surface) Dispatch(m *Message) error {
	switch m.Opcode {
	case wl.SurfaceDestroy:
		return s.client.destroyResource(s.id)

	case wl.SurfaceAttach:
		bufferID := m.ObjectRef()
		x, y := m.Int32(), m.Int32()
		if m.Err() != nil {
			return m.Err()
		}
		if s.version >= 5 && (x != 0 || y != 0) {
			return s.postError(wl.SurfaceErrorInvalidOffset, "attach with offset %d,%d; use wl_surface.offset", x, y)
		}
		var buf Buffer
		if bufferID != 0 {
			r, ok := s.client.Lookup(bufferID)
			if !ok {
				return protocolErrorf(1, wl.DisplayErrorInvalidObject, "invalid buffer %d", bufferID)
			}
			if buf, ok = r.(Buffer); !ok {
				return protocolErrorf(1, wl.DisplayErrorInvalidObject, "object %d is a %s, not a wl_buffer", bufferID, r.Interface())
			}
		}
		s.pending.Buffer = buf
		s.pending.OffsetX, s.pending.OffsetY = x, y
		s.attached = true
		return nil

	case wl.SurfaceDamage, wl.SurfaceDamageBuffer:
		rect := Rect{X: m.Int32(), Y: m.Int32(), Width: m.Int32(), Height: m.Int32()}
		if m.Err() != nil {
			return m.Err()
		}
		if m.Opcode == wl.SurfaceDamage {
			s.pending.Damage = append(s.pending.Damage, rect)
		} else {
			s.pending.BufferDamage = append(s.pending.BufferDamage, rect)
		}
		return nil

	case wl.SurfaceFrame:
		id := m.NewID()
		if m.Err() != nil {
			return m.Err()
		}
		cb := newCallback(s.client, id)
		if err := s.client.register(cb); err != nil {
			return err
		}
		s.frames = append(s.frames, cb)
		return nil

	case wl.SurfaceSetOpaqueRegion, wl.SurfaceSetInputRegion:
		regionID := m.ObjectRef()
		if m.Err() != nil {
			return m.Err()
		}
		var region Region
		if regionID != 0 {
			r, ok := s.client.Lookup(regionID)
			reg, isRegion := r.(*regionResource)
			if !ok || !isRegion {
				return protocolErrorf(1, wl.DisplayErrorInvalidObject, "invalid region %d", regionID)
			}
			region = append(Region{}, reg.ops...)
		}
		if m.Opcode == wl.SurfaceSetOpaqueRegion {
			s.pending.OpaqueRegion = region
		} else {
			s.pending.InputRegion = region
		}
		return nil

	case wl.SurfaceCommit:
		return s.commit()

	case wl.SurfaceSetBufferTransform:
		t := m.Int32()
		if m.Err() != nil {
			return m.Err()
		}
		if t < 0 || t > 7 {
			return s.postError(wl.SurfaceErrorInvalidTransform, "buffer transform %d", t)
		}
		s.pending.Transform = t
		return nil

	case wl.SurfaceSetBufferScale:
		scale := m.Int32()
		if m.Err() != nil {
			return m.Err()
		}
		if scale < 1 {
			return s.postError(wl.SurfaceErrorInvalidScale, "buffer scale %d", scale)
		}
		s.pending.Scale = scale
		return nil

	case wl.SurfaceOffset:
		x, y := m.Int32(), m.Int32()
		if m.Err() != nil {
			return m.Err()
		}
		s.pending.OffsetX, s.pending.OffsetY = x, y
		return nil
	}
	return s.postError(wl.DisplayErrorInvalidMethod, "wl_surface has no request %d", m.Opcode)
}

// commit applies the pending state.
func (s *Surface) commit() error {
	next := s.current.Buffer
	if s.attached {
		next = s.pending.Buffer
	}

	if s.xdg != nil {
		if err := s.xdg.checkCommit(next); err != nil {
			return err
		}
	}
	if s.viewport != nil {
		if err := s.viewport.checkCommit(&s.pending, next); err != nil {
			return err
		}
	}

	prev := s.current.Buffer
	s.current = s.pending
	s.current.Buffer = next

	s.pending.Buffer = nil
	s.pending.Damage = nil
	s.pending.BufferDamage = nil
	s.pending.OffsetX, s.pending.OffsetY = 0, 0

	if s.attached {
		s.attached = false
		if next != nil {
			next.markBusy()
		}
		if prev != nil && prev != next && s.client.owns(prev) {
			if err := prev.release(); err != nil {
				return err
			}
		}
	}

	for _, cb := range s.frames {
		s.client.queueFrame(cb)
	}
	s.frames = nil
	s.commits++

	if s.xdg != nil {
		s.xdg.committed()
	}
	return nil
}

func (s *Surface) destroy() {
	s.client.removeSurface(s)
	if s.xdg != nil {
		s.xdg.surface = nil
	}
	if s.viewport != nil {
		s.viewport.surface = nil
	}
	s.frames = nil
}
