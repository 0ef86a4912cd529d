package yozora

import (
	"github.com/bnema/yozora/wl"
)

type outputGlobal struct {
	info OutputInfo
}

func (g *outputGlobal) Interface() string { return wl.OutputInterface }
func (g *outputGlobal) Version() uint32   { return wl.OutputVersion }

func (g *outputGlobal) Bind(c *Client, id, version uint32) (Resource, error) {
	return &outputResource{
		baseResource: newBaseResource(c, wl.OutputInterface, id, version),
		info:         g.info,
	}, nil
}

type outputResource struct {
	baseResource
	info OutputInfo
}

// announce sends the output description, finishing with done on v2+.
func (o *outputResource) announce() error {
	info := o.info
	err := o.send(wl.OutputEventGeometry,
		int32(0), int32(0),
		info.PhysicalWidth, info.PhysicalHeight,
		int32(wl.OutputSubpixelUnknown),
		info.Make, info.Model,
		int32(wl.OutputTransformNormal))
	if err != nil {
		return err
	}
	if info.Width > 0 && info.Height > 0 {
		flags := uint32(wl.OutputModeCurrent | wl.OutputModePreferred)
		if err := o.send(wl.OutputEventMode, flags, info.Width, info.Height, info.Refresh); err != nil {
			return err
		}
	}
	if o.version >= 2 {
		if err := o.send(wl.OutputEventScale, info.Scale); err != nil {
			return err
		}
	}
	if o.version >= 4 {
		if err := o.send(wl.OutputEventName, info.Name); err != nil {
			return err
		}
		if info.Description != "" {
			if err := o.send(wl.OutputEventDescription, info.Description); err != nil {
				return err
			}
		}
	}
	if o.version >= 2 {
		return o.send(wl.OutputEventDone)
	}
	return nil
}

func (o *outputResource) Dispatch(m *Message) error {
	if m.Opcode == wl.OutputRelease && o.version >= 3 {
		return o.client.destroyResource(o.id)
	}
	return o.postError(wl.DisplayErrorInvalidMethod, "wl_output has no request %d", m.Opcode)
}
