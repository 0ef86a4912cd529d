package yozora

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/bnema/yozora/wl"
)

// ShmFormats are the wl_shm formats advertised to clients. The first two
// are mandatory.
var ShmFormats = []uint32{
	wl.ShmFormatARGB8888,
	wl.ShmFormatXRGB8888,
	wl.ShmFormatXBGR8888,
	wl.ShmFormatABGR8888,
}

// shmBytesPerPixel holds for every advertised format
const shmBytesPerPixel = 4

type shmGlobal struct{}

func (g *shmGlobal) Interface() string { return wl.ShmInterface }
func (g *shmGlobal) Version() uint32   { return wl.ShmVersion }

func (g *shmGlobal) Bind(c *Client, id, version uint32) (Resource, error) {
	return &shmResource{baseResource: newBaseResource(c, wl.ShmInterface, id, version)}, nil
}

type shmResource struct {
	baseResource
}

func (r *shmResource) announce() error {
	for _, format := range ShmFormats {
		if err := r.send(wl.ShmEventFormat, format); err != nil {
			return err
		}
	}
	return nil
}

func (r *shmResource) Dispatch(m *Message) error {
	if m.Opcode != wl.ShmCreatePool {
		return r.postError(wl.DisplayErrorInvalidMethod, "wl_shm has no request %d", m.Opcode)
	}

	id := m.NewID()
	fd := m.Fd()
	size := m.Int32()
	if m.Err() != nil {
		if fd >= 0 {
			_ = unix.Close(fd)
		}
		return m.Err()
	}
	if size <= 0 {
		_ = unix.Close(fd)
		return r.postError(wl.ShmErrorInvalidStride, "invalid pool size %d", size)
	}

	data, err := MapMemory(fd, int(size))
	if err != nil {
		_ = unix.Close(fd)
		return r.postError(wl.ShmErrorInvalidFD, "failed to map pool: %v", err)
	}

	pool := &ShmPool{
		baseResource: newBaseResource(r.client, wl.ShmPoolInterface, id, r.version),
		fd:           fd,
		size:         int(size),
		data:         data,
		refs:         1,
	}
	if err := r.client.register(pool); err != nil {
		pool.unref()
		return err
	}
	return nil
}

// ShmPool is a client memory pool mapped read-only into the server. The
// mapping lives until the pool and every buffer carved from it are gone.
type ShmPool struct {
	baseResource
	fd   int
	size int
	data []byte
	refs int
}

func (p *ShmPool) Dispatch(m *Message) error {
	switch m.Opcode {
	case wl.ShmPoolCreateBuffer:
		id := m.NewID()
		offset := m.Int32()
		width, height := m.Int32(), m.Int32()
		stride := m.Int32()
		format := m.Uint32()
		if m.Err() != nil {
			return m.Err()
		}
		b, err := p.newBuffer(id, offset, width, height, stride, format)
		if err != nil {
			return err
		}
		if err := p.client.register(b); err != nil {
			b.destroy()
			return err
		}
		return nil

	case wl.ShmPoolDestroy:
		return p.client.destroyResource(p.id)

	case wl.ShmPoolResize:
		size := m.Int32()
		if m.Err() != nil {
			return m.Err()
		}
		return p.resize(int(size))
	}
	return p.postError(wl.DisplayErrorInvalidMethod, "wl_shm_pool has no request %d", m.Opcode)
}

func (p *ShmPool) newBuffer(id uint32, offset, width, height, stride int32, format uint32) (*ShmBuffer, error) {
	if !shmFormatSupported(format) {
		return nil, protocolErrorf(p.id, wl.ShmErrorInvalidFormat, "invalid format %#x", format)
	}
	if offset < 0 || width <= 0 || height <= 0 || int64(stride) < int64(width)*shmBytesPerPixel {
		return nil, protocolErrorf(p.id, wl.ShmErrorInvalidStride,
			"invalid width %d, height %d, stride %d or offset %d", width, height, stride, offset)
	}
	if int64(offset)+int64(stride)*int64(height) > int64(p.size) {
		return nil, protocolErrorf(p.id, wl.ShmErrorInvalidStride,
			"buffer of %d bytes at offset %d exceeds pool size %d", int64(stride)*int64(height), offset, p.size)
	}

	p.refs++
	return &ShmBuffer{
		bufferBase: bufferBase{
			baseResource: newBaseResource(p.client, wl.BufferInterface, id, 1),
			width:        width,
			height:       height,
		},
		pool:   p,
		offset: int(offset),
		stride: int(stride),
		format: format,
	}, nil
}

// resize grows the mapping. Pools never shrink.
func (p *ShmPool) resize(size int) error {
	if size < p.size {
		return p.postError(wl.ShmErrorInvalidStride, "shrinking pool from %d to %d", p.size, size)
	}
	if size == p.size {
		return nil
	}
	data, err := MapMemory(p.fd, size)
	if err != nil {
		return p.postError(wl.ShmErrorInvalidFD, "failed to remap pool: %v", err)
	}
	if err := UnmapMemory(p.data); err != nil {
		p.client.log.WithError(err).Warn("yozora: unmap shm pool")
	}
	p.data = data
	p.size = size
	return nil
}

// Size returns the pool size
func (p *ShmPool) Size() int {
	return p.size
}

func (p *ShmPool) destroy() {
	p.unref()
}

func (p *ShmPool) unref() {
	p.refs--
	if p.refs > 0 {
		return
	}
	if err := p.Close(); err != nil {
		Logger().WithError(err).Warn("yozora: close shm pool")
	}
}

// Close unmaps the pool and closes its file descriptor
func (p *ShmPool) Close() error {
	if p.data != nil {
		if err := UnmapMemory(p.data); err != nil {
			return errors.Wrap(err, "unmap pool")
		}
		p.data = nil
	}

	if p.fd >= 0 {
		if err := unix.Close(p.fd); err != nil {
			return err
		}
		p.fd = -1
	}

	return nil
}

// ShmBuffer is a wl_buffer carved out of a ShmPool.
type ShmBuffer struct {
	bufferBase
	pool   *ShmPool
	offset int
	stride int
	format uint32
}

// Data returns the buffer's pixels. The slice aliases client memory and
// is only valid while the buffer lives.
func (b *ShmBuffer) Data() []byte {
	if b.pool == nil || b.pool.data == nil {
		return nil
	}
	size := int(b.height) * b.stride
	return b.pool.data[b.offset : b.offset+size]
}

// Offset returns the buffer's offset in the pool
func (b *ShmBuffer) Offset() int {
	return b.offset
}

// Stride returns the row length in bytes
func (b *ShmBuffer) Stride() int {
	return b.stride
}

// Format returns the wl_shm format
func (b *ShmBuffer) Format() uint32 {
	return b.format
}

func (b *ShmBuffer) destroy() {
	if b.pool != nil {
		b.pool.unref()
		b.pool = nil
	}
}

func shmFormatSupported(format uint32) bool {
	for _, f := range ShmFormats {
		if f == format {
			return true
		}
	}
	return false
}
