package yozora

import (
	"github.com/bnema/yozora/wl"
)

type xdgWmBaseGlobal struct{}

func (g *xdgWmBaseGlobal) Interface() string { return wl.XdgWmBaseInterface }
func (g *xdgWmBaseGlobal) Version() uint32   { return wl.XdgWmBaseVersion }

func (g *xdgWmBaseGlobal) Bind(c *Client, id, version uint32) (Resource, error) {
	return &xdgWmBase{baseResource: newBaseResource(c, wl.XdgWmBaseInterface, id, version)}, nil
}

// xdgWmBase is a client's xdg_wm_base.
type xdgWmBase struct {
	baseResource
	surfaces    int
	pendingPing uint32
}

func (w *xdgWmBase) Dispatch(m *Message) error {
	switch m.Opcode {
	case wl.XdgWmBaseDestroy:
		if w.surfaces > 0 {
			return w.postError(wl.XdgWmBaseErrorDefunctSurfaces, "xdg_wm_base destroyed with %d live xdg_surfaces", w.surfaces)
		}
		return w.client.destroyResource(w.id)

	case wl.XdgWmBaseCreatePositioner:
		id := m.NewID()
		if m.Err() != nil {
			return m.Err()
		}
		return w.client.register(&positionerResource{baseResource: newBaseResource(w.client, wl.XdgPositionerInterface, id, w.version)})

	case wl.XdgWmBaseGetXdgSurface:
		id := m.NewID()
		surfaceID := m.ObjectRef()
		if m.Err() != nil {
			return m.Err()
		}
		r, _ := w.client.Lookup(surfaceID)
		surface, ok := r.(*Surface)
		if !ok {
			return protocolErrorf(1, wl.DisplayErrorInvalidObject, "invalid surface %d", surfaceID)
		}
		if surface.xdg != nil {
			return w.postError(wl.XdgWmBaseErrorRole, "wl_surface@%d already has an xdg_surface", surfaceID)
		}
		xs := &xdgSurface{
			baseResource: newBaseResource(w.client, wl.XdgSurfaceInterface, id, w.version),
			wmBase:       w,
			surface:      surface,
		}
		if err := w.client.register(xs); err != nil {
			return err
		}
		surface.xdg = xs
		w.surfaces++
		return nil

	case wl.XdgWmBasePong:
		serial := m.Uint32()
		if m.Err() != nil {
			return m.Err()
		}
		if serial == w.pendingPing {
			w.pendingPing = 0
		}
		return nil
	}
	return w.postError(wl.DisplayErrorInvalidMethod, "xdg_wm_base has no request %d", m.Opcode)
}

func (w *xdgWmBase) ping() error {
	if w.pendingPing != 0 {
		return nil
	}
	w.pendingPing = w.client.session.nextSerial()
	return w.send(wl.XdgWmBaseEventPing, w.pendingPing)
}

// Ping sends xdg_wm_base.ping on every wm_base the client bound. A ping
// still outstanding is not repeated.
func (c *Client) Ping() error {
	for _, r := range c.objects {
		if w, ok := r.(*xdgWmBase); ok {
			if err := w.ping(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Responsive reports whether the client answered every ping.
func (c *Client) Responsive() bool {
	for _, r := range c.objects {
		if w, ok := r.(*xdgWmBase); ok && w.pendingPing != 0 {
			return false
		}
	}
	return true
}

// Positioner is the state of an xdg_positioner.
type Positioner struct {
	Width, Height        int32
	AnchorRect           Rect
	Anchor               uint32
	Gravity              uint32
	ConstraintAdjustment uint32
	OffsetX, OffsetY     int32
	Reactive             bool
	ParentWidth          int32
	ParentHeight         int32
	ParentConfigure      uint32
}

type positionerResource struct {
	baseResource
	state Positioner
}

func (p *positionerResource) Dispatch(m *Message) error {
	switch m.Opcode {
	case wl.XdgPositionerDestroy:
		return p.client.destroyResource(p.id)
	case wl.XdgPositionerSetSize:
		w, h := m.Int32(), m.Int32()
		if m.Err() == nil && (w <= 0 || h <= 0) {
			return p.postError(wl.XdgPositionerErrorInvalidInput, "invalid size %dx%d", w, h)
		}
		p.state.Width, p.state.Height = w, h
	case wl.XdgPositionerSetAnchorRect:
		rect := Rect{X: m.Int32(), Y: m.Int32(), Width: m.Int32(), Height: m.Int32()}
		if m.Err() == nil && (rect.Width < 0 || rect.Height < 0) {
			return p.postError(wl.XdgPositionerErrorInvalidInput, "invalid anchor rect %dx%d", rect.Width, rect.Height)
		}
		p.state.AnchorRect = rect
	case wl.XdgPositionerSetAnchor:
		p.state.Anchor = m.Uint32()
	case wl.XdgPositionerSetGravity:
		p.state.Gravity = m.Uint32()
	case wl.XdgPositionerSetConstraintAdjustment:
		p.state.ConstraintAdjustment = m.Uint32()
	case wl.XdgPositionerSetOffset:
		p.state.OffsetX, p.state.OffsetY = m.Int32(), m.Int32()
	case wl.XdgPositionerSetReactive:
		p.state.Reactive = true
	case wl.XdgPositionerSetParentSize:
		p.state.ParentWidth, p.state.ParentHeight = m.Int32(), m.Int32()
	case wl.XdgPositionerSetParentConfigure:
		p.state.ParentConfigure = m.Uint32()
	default:
		return p.postError(wl.DisplayErrorInvalidMethod, "xdg_positioner has no request %d", m.Opcode)
	}
	return nil
}

// xdgSurface is the xdg_surface wrapping a wl_surface.
type xdgSurface struct {
	baseResource
	wmBase  *xdgWmBase
	surface *Surface

	toplevel *Toplevel
	popup    *Popup

	geometry   Rect
	configured bool
	sent       []uint32 // serials not yet acked, oldest first
}

func (x *xdgSurface) Dispatch(m *Message) error {
	switch m.Opcode {
	case wl.XdgSurfaceDestroy:
		if x.toplevel != nil || x.popup != nil {
			return x.postError(wl.XdgSurfaceErrorDefunctRoleObject, "xdg_surface@%d destroyed before its role object", x.id)
		}
		return x.client.destroyResource(x.id)

	case wl.XdgSurfaceGetToplevel:
		id := m.NewID()
		if m.Err() != nil {
			return m.Err()
		}
		if err := x.checkUnconstructed(); err != nil {
			return err
		}
		if err := x.surface.setRole(wl.XdgToplevelInterface, x.wmBase.id, wl.XdgWmBaseErrorRole); err != nil {
			return err
		}
		t := &Toplevel{
			baseResource: newBaseResource(x.client, wl.XdgToplevelInterface, id, x.version),
			xdg:          x,
		}
		if err := x.client.register(t); err != nil {
			return err
		}
		x.toplevel = t
		return x.client.session.newToplevel(t)

	case wl.XdgSurfaceGetPopup:
		id := m.NewID()
		parentID := m.ObjectRef()
		positionerID := m.ObjectRef()
		if m.Err() != nil {
			return m.Err()
		}
		if err := x.checkUnconstructed(); err != nil {
			return err
		}
		r, _ := x.client.Lookup(positionerID)
		pos, ok := r.(*positionerResource)
		if !ok {
			return protocolErrorf(1, wl.DisplayErrorInvalidObject, "invalid positioner %d", positionerID)
		}
		if pos.state.Width <= 0 || pos.state.Height <= 0 {
			return x.wmBase.postError(wl.XdgWmBaseErrorInvalidPositioner, "incomplete positioner %d", positionerID)
		}
		var parent *xdgSurface
		if parentID != 0 {
			pr, _ := x.client.Lookup(parentID)
			if parent, ok = pr.(*xdgSurface); !ok {
				return protocolErrorf(1, wl.DisplayErrorInvalidObject, "invalid popup parent %d", parentID)
			}
		}
		if err := x.surface.setRole(wl.XdgPopupInterface, x.wmBase.id, wl.XdgWmBaseErrorRole); err != nil {
			return err
		}
		p := &Popup{
			baseResource: newBaseResource(x.client, wl.XdgPopupInterface, id, x.version),
			xdg:          x,
			parent:       parent,
			positioner:   pos.state,
		}
		if err := x.client.register(p); err != nil {
			return err
		}
		x.popup = p
		x.client.log.WithField("object", id).Debug("yozora: popup created")
		return nil

	case wl.XdgSurfaceSetWindowGeometry:
		rect := Rect{X: m.Int32(), Y: m.Int32(), Width: m.Int32(), Height: m.Int32()}
		if m.Err() != nil {
			return m.Err()
		}
		if rect.Width <= 0 || rect.Height <= 0 {
			return x.postError(wl.XdgSurfaceErrorInvalidSize, "invalid window geometry %dx%d", rect.Width, rect.Height)
		}
		x.geometry = rect
		return nil

	case wl.XdgSurfaceAckConfigure:
		serial := m.Uint32()
		if m.Err() != nil {
			return m.Err()
		}
		return x.ackConfigure(serial)
	}
	return x.postError(wl.DisplayErrorInvalidMethod, "xdg_surface has no request %d", m.Opcode)
}

func (x *xdgSurface) checkUnconstructed() error {
	if x.toplevel != nil || x.popup != nil {
		return x.postError(wl.XdgSurfaceErrorAlreadyConstructed, "xdg_surface@%d already has a role object", x.id)
	}
	if x.surface == nil {
		return x.postError(wl.XdgSurfaceErrorNotConstructed, "wl_surface of xdg_surface@%d is gone", x.id)
	}
	return nil
}

func (x *xdgSurface) ackConfigure(serial uint32) error {
	for i, s := range x.sent {
		if s != serial {
			continue
		}
		x.sent = x.sent[i+1:]
		x.configured = true
		if x.toplevel != nil {
			x.toplevel.acked(serial)
		}
		return nil
	}
	return x.postError(wl.XdgSurfaceErrorInvalidSerial, "serial %d was never sent", serial)
}

// checkCommit rejects buffers on a toplevel that has not acked a configure.
func (x *xdgSurface) checkCommit(next Buffer) error {
	if x.toplevel != nil && !x.configured && next != nil {
		return x.postError(wl.XdgSurfaceErrorUnconfiguredBuffer, "buffer committed before the first configure was acked")
	}
	return nil
}

func (x *xdgSurface) committed() {
	if x.toplevel != nil {
		x.toplevel.current = x.toplevel.ackedState
	}
}

// configure sends xdg_surface.configure with a fresh serial.
func (x *xdgSurface) configure() (uint32, error) {
	serial := x.client.session.nextSerial()
	if err := x.send(wl.XdgSurfaceEventConfigure, serial); err != nil {
		return 0, err
	}
	x.sent = append(x.sent, serial)
	return serial, nil
}

func (x *xdgSurface) destroy() {
	x.wmBase.surfaces--
	if x.toplevel != nil {
		x.toplevel.xdg = nil
	}
	if x.popup != nil {
		x.popup.xdg = nil
	}
	if x.surface != nil {
		x.surface.xdg = nil
	}
}

// ToplevelState is the configure state of an xdg_toplevel.
type ToplevelState struct {
	Width, Height int32
	Maximized     bool
	Fullscreen    bool
	Resizing      bool
	Activated     bool
}

func (s ToplevelState) states() []byte {
	var states []uint32
	if s.Maximized {
		states = append(states, wl.XdgToplevelStateMaximized)
	}
	if s.Fullscreen {
		states = append(states, wl.XdgToplevelStateFullscreen)
	}
	if s.Resizing {
		states = append(states, wl.XdgToplevelStateResizing)
	}
	if s.Activated {
		states = append(states, wl.XdgToplevelStateActivated)
	}
	return uint32Array(states...)
}

type sentConfigure struct {
	serial uint32
	state  ToplevelState
}

// Toplevel is an xdg_toplevel.
type Toplevel struct {
	baseResource
	xdg *xdgSurface

	pending    ToplevelState
	current    ToplevelState
	ackedState ToplevelState
	inflight   []sentConfigure

	parent *Toplevel
	title  string
	appID  string

	minWidth, minHeight int32
	maxWidth, maxHeight int32
}

// newToplevel marks a fresh toplevel activated and configures it right
// away so the client can draw its first frame.
func (s *Session) newToplevel(t *Toplevel) error {
	t.WithPendingState(func(state *ToplevelState) {
		state.Activated = true
	})
	_, err := t.SendConfigure()
	return err
}

// WithPendingState edits the state the next configure will carry
func (t *Toplevel) WithPendingState(fn func(*ToplevelState)) {
	fn(&t.pending)
}

// SendConfigure sends the pending state and returns its serial.
func (t *Toplevel) SendConfigure() (uint32, error) {
	if t.xdg == nil {
		return 0, protocolErrorf(t.id, wl.XdgSurfaceErrorNotConstructed, "toplevel has no xdg_surface")
	}
	state := t.pending
	if err := t.send(wl.XdgToplevelEventConfigure, state.Width, state.Height, state.states()); err != nil {
		return 0, err
	}
	serial, err := t.xdg.configure()
	if err != nil {
		return 0, err
	}
	t.inflight = append(t.inflight, sentConfigure{serial: serial, state: state})
	return serial, nil
}

// SendClose asks the client to close the window
func (t *Toplevel) SendClose() error {
	return t.send(wl.XdgToplevelEventClose)
}

func (t *Toplevel) acked(serial uint32) {
	for i, sc := range t.inflight {
		if sc.serial == serial {
			t.ackedState = sc.state
			t.inflight = t.inflight[i+1:]
			return
		}
	}
}

// Pending returns the state the next configure will carry
func (t *Toplevel) Pending() ToplevelState { return t.pending }

// Current returns the state acked by the client and committed
func (t *Toplevel) Current() ToplevelState { return t.current }

// Configured reports whether the client acked a configure
func (t *Toplevel) Configured() bool { return t.xdg != nil && t.xdg.configured }

// Title returns the window title
func (t *Toplevel) Title() string { return t.title }

// AppID returns the application id
func (t *Toplevel) AppID() string { return t.appID }

// Parent returns the parent toplevel, or nil
func (t *Toplevel) Parent() *Toplevel { return t.parent }

func (t *Toplevel) Dispatch(m *Message) error {
	switch m.Opcode {
	case wl.XdgToplevelDestroy:
		return t.client.destroyResource(t.id)

	case wl.XdgToplevelSetParent:
		parentID := m.ObjectRef()
		if m.Err() != nil {
			return m.Err()
		}
		if parentID == 0 {
			t.parent = nil
			return nil
		}
		r, _ := t.client.Lookup(parentID)
		parent, ok := r.(*Toplevel)
		if !ok || parent == t {
			return t.postError(wl.XdgToplevelErrorInvalidParent, "invalid parent %d", parentID)
		}
		t.parent = parent

	case wl.XdgToplevelSetTitle:
		t.title = m.String()
	case wl.XdgToplevelSetAppID:
		t.appID = m.String()

	case wl.XdgToplevelShowWindowMenu, wl.XdgToplevelMove, wl.XdgToplevelResize, wl.XdgToplevelSetMinimized:
		// No interactive window management.

	case wl.XdgToplevelSetMaxSize, wl.XdgToplevelSetMinSize:
		w, h := m.Int32(), m.Int32()
		if m.Err() != nil {
			return m.Err()
		}
		if w < 0 || h < 0 {
			return t.postError(wl.XdgToplevelErrorInvalidSize, "negative size %dx%d", w, h)
		}
		if m.Opcode == wl.XdgToplevelSetMaxSize {
			t.maxWidth, t.maxHeight = w, h
		} else {
			t.minWidth, t.minHeight = w, h
		}

	case wl.XdgToplevelSetMaximized, wl.XdgToplevelUnsetMaximized:
		t.pending.Maximized = m.Opcode == wl.XdgToplevelSetMaximized
		_, err := t.SendConfigure()
		return err

	case wl.XdgToplevelSetFullscreen, wl.XdgToplevelUnsetFullscreen:
		if m.Opcode == wl.XdgToplevelSetFullscreen {
			m.ObjectRef() // preferred output, there is only one
		}
		if m.Err() != nil {
			return m.Err()
		}
		t.pending.Fullscreen = m.Opcode == wl.XdgToplevelSetFullscreen
		_, err := t.SendConfigure()
		return err

	default:
		return t.postError(wl.DisplayErrorInvalidMethod, "xdg_toplevel has no request %d", m.Opcode)
	}
	return nil
}

func (t *Toplevel) destroy() {
	if t.xdg != nil {
		t.xdg.toplevel = nil
		t.xdg.configured = false
		t.xdg = nil
	}
	for _, r := range t.client.objects {
		if other, ok := r.(*Toplevel); ok && other.parent == t {
			other.parent = nil
		}
	}
}

// Popup is an xdg_popup. Popups are tracked but never placed or
// configured.
type Popup struct {
	baseResource
	xdg        *xdgSurface
	parent     *xdgSurface
	positioner Positioner
	grabbed    bool
}

// Positioner returns the positioner state the popup was created or last
// repositioned with
func (p *Popup) Positioner() Positioner { return p.positioner }

func (p *Popup) Dispatch(m *Message) error {
	switch m.Opcode {
	case wl.XdgPopupDestroy:
		return p.client.destroyResource(p.id)

	case wl.XdgPopupGrab:
		m.ObjectRef() // seat
		m.Uint32()    // serial
		if m.Err() != nil {
			return m.Err()
		}
		p.grabbed = true
		return nil

	case wl.XdgPopupReposition:
		positionerID := m.ObjectRef()
		token := m.Uint32()
		if m.Err() != nil {
			return m.Err()
		}
		r, _ := p.client.Lookup(positionerID)
		pos, ok := r.(*positionerResource)
		if !ok {
			return protocolErrorf(1, wl.DisplayErrorInvalidObject, "invalid positioner %d", positionerID)
		}
		p.positioner = pos.state
		return p.send(wl.XdgPopupEventRepositioned, token)
	}
	return p.postError(wl.DisplayErrorInvalidMethod, "xdg_popup has no request %d", m.Opcode)
}

func (p *Popup) destroy() {
	if p.xdg != nil {
		p.xdg.popup = nil
		p.xdg = nil
	}
}
