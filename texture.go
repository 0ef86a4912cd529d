package yozora

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bnema/yozora/wl"
)

// TextureDescription is what a TextureBuilder needs to realize a texture
// from a dmabuf. Plane slots 0 to NPlanes-1 are filled; the rest hold -1
// file descriptors. The descriptors stay owned by the caller.
type TextureDescription struct {
	Width    int32
	Height   int32
	Format   uint32
	Modifier uint64
	Flags    uint32
	NPlanes  int
	FDs      [wl.MaxPlanes]int
	Offsets  [wl.MaxPlanes]uint32
	Strides  [wl.MaxPlanes]uint32

	GPUFormat gputypes.TextureFormat
	Size      gputypes.Extent3D
}

// NewTextureDescription copies the geometry and every plane of buf.
func NewTextureDescription(buf *Dmabuf) *TextureDescription {
	desc := &TextureDescription{
		Width:     buf.Width,
		Height:    buf.Height,
		Format:    buf.Format,
		Modifier:  buf.Modifier,
		Flags:     buf.Flags,
		NPlanes:   buf.NumPlanes(),
		GPUFormat: GPUFormat(buf.Format),
		Size: gputypes.Extent3D{
			Width:              uint32(buf.Width),
			Height:             uint32(buf.Height),
			DepthOrArrayLayers: 1,
		},
	}
	for i := range desc.FDs {
		desc.FDs[i] = -1
	}
	for i := 0; i < desc.NPlanes && i < wl.MaxPlanes; i++ {
		p := buf.Plane(i)
		desc.FDs[i] = p.FD
		desc.Offsets[i] = p.Offset
		desc.Strides[i] = p.Stride
	}
	return desc
}

// GPUFormat maps a single-plane DRM fourcc to the texture format it is
// sampled as. Unknown codes map to TextureFormatUndefined.
func GPUFormat(code uint32) gputypes.TextureFormat {
	switch code {
	case wl.FourccARGB8888, wl.FourccXRGB8888:
		return gputypes.TextureFormatBGRA8Unorm
	case wl.FourccABGR8888, wl.FourccXBGR8888:
		return gputypes.TextureFormatRGBA8Unorm
	}
	return gputypes.TextureFormatUndefined
}

// Texture is a realized, displayable texture.
type Texture interface {
	Size() gputypes.Extent3D
	Format() gputypes.TextureFormat
}

// TextureBuilder realizes textures for a GPU API. Build must not keep
// the description's file descriptors past its return; the caller closes
// them.
type TextureBuilder interface {
	Build(desc *TextureDescription) (Texture, error)
}

// TextureBuilderFunc adapts a function to TextureBuilder
type TextureBuilderFunc func(desc *TextureDescription) (Texture, error)

// Build calls f
func (f TextureBuilderFunc) Build(desc *TextureDescription) (Texture, error) {
	return f(desc)
}

// DescribedTexture is the texture produced by DescriptorBuilder: the
// metadata a renderer needs, without any GPU object behind it.
type DescribedTexture struct {
	size      gputypes.Extent3D
	format    gputypes.TextureFormat
	Usage     gputypes.TextureUsage
	Dimension gputypes.TextureDimension
	Fourcc    uint32
	Modifier  uint64
	YInvert   bool
}

// Size returns the texture extent
func (t *DescribedTexture) Size() gputypes.Extent3D { return t.size }

// Format returns the sampled texture format
func (t *DescribedTexture) Format() gputypes.TextureFormat { return t.format }

func (t *DescribedTexture) String() string {
	return fmt.Sprintf("%dx%d %s", t.size.Width, t.size.Height, FourccString(t.Fourcc))
}

// DescriptorBuilder is a TextureBuilder for linear single-plane RGB
// buffers. It checks the buffer can be sampled and describes it.
type DescriptorBuilder struct{}

// Build implements TextureBuilder
func (DescriptorBuilder) Build(desc *TextureDescription) (Texture, error) {
	if desc.GPUFormat == gputypes.TextureFormatUndefined {
		return nil, errors.Wrapf(ErrUnsupportedFormat, "fourcc %s", FourccString(desc.Format))
	}
	if desc.Modifier != wl.ModifierLinear {
		return nil, errors.Wrapf(ErrUnsupportedFormat, "%s with modifier %#x", FourccString(desc.Format), desc.Modifier)
	}
	if desc.NPlanes != 1 || desc.FDs[0] < 0 {
		return nil, errors.Errorf("%s needs exactly one plane, got %d", FourccString(desc.Format), desc.NPlanes)
	}
	if desc.Strides[0] < uint32(desc.Width)*4 {
		return nil, errors.Errorf("stride %d too small for width %d", desc.Strides[0], desc.Width)
	}
	if size := fdSize(desc.FDs[0]); size >= 0 {
		need := int64(desc.Offsets[0]) + int64(desc.Strides[0])*int64(desc.Height)
		if need > size {
			return nil, errors.Errorf("plane needs %d bytes, buffer has %d", need, size)
		}
	}

	return &DescribedTexture{
		size:      desc.Size,
		format:    desc.GPUFormat,
		Usage:     gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopySrc,
		Dimension: gputypes.TextureDimension2D,
		Fourcc:    desc.Format,
		Modifier:  desc.Modifier,
		YInvert:   desc.Flags&wl.BufferParamsFlagsYInvert != 0,
	}, nil
}

// BufferSource yields imported buffers. BufferChannel implements it.
type BufferSource interface {
	Receive(ctx context.Context) (*Dmabuf, error)
}

type textureRef struct {
	tex Texture
}

// Assembler turns received dmabufs into textures and keeps the latest
// one for the render callback.
type Assembler struct {
	src     BufferSource
	builder TextureBuilder
	log     logrus.FieldLogger

	current  atomic.Pointer[textureRef]
	frames   atomic.Uint64
	failures atomic.Uint64
}

// NewAssembler creates an assembler. A nil log uses the package logger.
func NewAssembler(src BufferSource, builder TextureBuilder, log logrus.FieldLogger) *Assembler {
	if log == nil {
		log = Logger()
	}
	return &Assembler{src: src, builder: builder, log: log.WithField("component", "assembler")}
}

// Run consumes buffers until ctx is done or the source is closed. A
// buffer that fails to become a texture is logged and skipped.
func (a *Assembler) Run(ctx context.Context) error {
	for {
		buf, err := a.src.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrChannelClosed) {
				return nil
			}
			return err
		}
		a.assemble(buf)
	}
}

// assemble realizes one buffer. The buffer's file descriptors are closed
// whatever the outcome.
func (a *Assembler) assemble(buf *Dmabuf) {
	defer func() {
		if err := buf.Close(); err != nil {
			a.log.WithError(err).Warn("yozora: closing dmabuf planes")
		}
	}()

	desc := NewTextureDescription(buf)
	tex, err := a.build(desc)
	if err != nil {
		a.failures.Add(1)
		a.log.WithError(err).WithField("buffer", buf.String()).Warn("yozora: texture realization failed")
		return
	}
	a.current.Store(&textureRef{tex: tex})
	a.frames.Add(1)
	a.log.WithField("buffer", buf.String()).Debug("yozora: texture updated")
}

func (a *Assembler) build(desc *TextureDescription) (tex Texture, err error) {
	defer func() {
		if r := recover(); r != nil {
			tex, err = nil, errors.Errorf("texture builder panicked: %v", r)
		}
	}()
	tex, err = a.builder.Build(desc)
	if err == nil && tex == nil {
		err = errors.New("texture builder returned no texture")
	}
	return tex, err
}

// Current returns the latest texture, nil before the first one.
func (a *Assembler) Current() Texture {
	ref := a.current.Load()
	if ref == nil {
		return nil
	}
	return ref.tex
}

// Paint calls fn with the latest texture. It does nothing and returns
// false when no texture arrived yet.
func (a *Assembler) Paint(fn func(Texture)) bool {
	tex := a.Current()
	if tex == nil {
		return false
	}
	fn(tex)
	return true
}

// Frames returns how many textures were realized
func (a *Assembler) Frames() uint64 { return a.frames.Load() }

// Failures returns how many buffers failed to become textures
func (a *Assembler) Failures() uint64 { return a.failures.Load() }
