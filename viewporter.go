package yozora

import (
	"github.com/bnema/yozora/wl"
)

type viewporterGlobal struct{}

func (g *viewporterGlobal) Interface() string { return wl.ViewporterInterface }
func (g *viewporterGlobal) Version() uint32   { return wl.ViewporterVersion }

func (g *viewporterGlobal) Bind(c *Client, id, version uint32) (Resource, error) {
	return &viewporterResource{baseResource: newBaseResource(c, wl.ViewporterInterface, id, version)}, nil
}

type viewporterResource struct {
	baseResource
}

func (v *viewporterResource) Dispatch(m *Message) error {
	switch m.Opcode {
	case wl.ViewporterDestroy:
		return v.client.destroyResource(v.id)

	case wl.ViewporterGetViewport:
		id := m.NewID()
		surfaceID := m.ObjectRef()
		if m.Err() != nil {
			return m.Err()
		}
		r, _ := v.client.Lookup(surfaceID)
		surface, ok := r.(*Surface)
		if !ok {
			return protocolErrorf(1, wl.DisplayErrorInvalidObject, "invalid surface %d", surfaceID)
		}
		if surface.viewport != nil {
			return v.postError(wl.ViewporterErrorViewportExists, "wl_surface@%d already has a viewport", surfaceID)
		}
		vp := &viewportResource{
			baseResource: newBaseResource(v.client, wl.ViewportInterface, id, v.version),
			surface:      surface,
		}
		if err := v.client.register(vp); err != nil {
			return err
		}
		surface.viewport = vp
		return nil
	}
	return v.postError(wl.DisplayErrorInvalidMethod, "wp_viewporter has no request %d", m.Opcode)
}

// viewportResource sets the crop and scale of one surface. The values are
// double-buffered in the surface state.
type viewportResource struct {
	baseResource
	surface *Surface
}

func (vp *viewportResource) Dispatch(m *Message) error {
	switch m.Opcode {
	case wl.ViewportDestroy:
		return vp.client.destroyResource(vp.id)

	case wl.ViewportSetSource:
		src := ViewportSource{X: m.Fixed(), Y: m.Fixed(), Width: m.Fixed(), Height: m.Fixed()}
		if m.Err() != nil {
			return m.Err()
		}
		if vp.surface == nil {
			return vp.postError(wl.ViewportErrorNoSurface, "wl_surface is gone")
		}
		unset := NewFixed(-1)
		if src.X == unset && src.Y == unset && src.Width == unset && src.Height == unset {
			vp.surface.pending.Source = nil
			return nil
		}
		if src.X < 0 || src.Y < 0 || src.Width <= 0 || src.Height <= 0 {
			return vp.postError(wl.ViewportErrorBadValue, "invalid source %v,%v %vx%v",
				src.X.Float64(), src.Y.Float64(), src.Width.Float64(), src.Height.Float64())
		}
		vp.surface.pending.Source = &src
		return nil

	case wl.ViewportSetDestination:
		w, h := m.Int32(), m.Int32()
		if m.Err() != nil {
			return m.Err()
		}
		if vp.surface == nil {
			return vp.postError(wl.ViewportErrorNoSurface, "wl_surface is gone")
		}
		if w == -1 && h == -1 {
			vp.surface.pending.DestWidth, vp.surface.pending.DestHeight = -1, -1
			return nil
		}
		if w <= 0 || h <= 0 {
			return vp.postError(wl.ViewportErrorBadValue, "invalid destination %dx%d", w, h)
		}
		vp.surface.pending.DestWidth, vp.surface.pending.DestHeight = w, h
		return nil
	}
	return vp.postError(wl.DisplayErrorInvalidMethod, "wp_viewport has no request %d", m.Opcode)
}

// checkCommit validates the pending viewport against the buffer about to
// be committed.
func (vp *viewportResource) checkCommit(pending *SurfaceState, buf Buffer) error {
	src := pending.Source
	if src == nil {
		return nil
	}
	if pending.DestWidth == -1 {
		if src.Width%256 != 0 || src.Height%256 != 0 {
			return vp.postError(wl.ViewportErrorBadSize, "source size %vx%v is not integral and no destination is set",
				src.Width.Float64(), src.Height.Float64())
		}
	}
	if buf == nil {
		return nil
	}

	bw, bh := buf.Size()
	scale := pending.Scale
	if scale < 1 {
		scale = 1
	}
	// Transforms 1, 3, 5 and 7 rotate by 90 degrees.
	if pending.Transform%2 == 1 {
		bw, bh = bh, bw
	}
	w, h := NewFixed(float64(bw/scale)), NewFixed(float64(bh/scale))
	if src.X+src.Width > w || src.Y+src.Height > h {
		return vp.postError(wl.ViewportErrorOutOfBuffer, "source rectangle extends outside of the %dx%d buffer", bw, bh)
	}
	return nil
}

func (vp *viewportResource) destroy() {
	if vp.surface == nil {
		return
	}
	vp.surface.viewport = nil
	vp.surface.pending.Source = nil
	vp.surface.pending.DestWidth, vp.surface.pending.DestHeight = -1, -1
}
