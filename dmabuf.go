package yozora

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/bnema/yozora/wl"
)

// Format is a (fourcc, modifier) pair a device can import.
type Format struct {
	Code     uint32
	Modifier uint64
}

func (f Format) String() string {
	return fmt.Sprintf("%s/%#x", FourccString(f.Code), f.Modifier)
}

// FourccString renders a DRM fourcc code as its four characters.
func FourccString(code uint32) string {
	b := []byte{byte(code), byte(code >> 8), byte(code >> 16), byte(code >> 24)}
	for i, c := range b {
		if c < 0x20 || c > 0x7e {
			b[i] = '?'
		}
	}
	return string(b)
}

// planesForFormat returns how many planes a format is laid out in, or 0
// for formats the table does not know.
func planesForFormat(code uint32) int {
	switch code {
	case wl.FourccARGB8888, wl.FourccXRGB8888, wl.FourccABGR8888,
		wl.FourccXBGR8888, wl.FourccRGB565:
		return 1
	case wl.FourccNV12, wl.FourccNV21, wl.FourccP010:
		return 2
	case wl.FourccYUV420:
		return 3
	}
	return 0
}

// Plane is one memory plane of a dmabuf.
type Plane struct {
	FD     int
	Offset uint32
	Stride uint32
}

// Dmabuf describes an imported GPU buffer. It owns the plane file
// descriptors until Close is called or it is handed to a BufferChannel,
// after which the receiver owns them.
type Dmabuf struct {
	Width    int32
	Height   int32
	Format   uint32
	Modifier uint64
	Flags    uint32

	planes []Plane
}

// NumPlanes returns the plane count
func (d *Dmabuf) NumPlanes() int {
	return len(d.planes)
}

// Plane returns plane i
func (d *Dmabuf) Plane(i int) Plane {
	return d.planes[i]
}

// Planes returns a copy of the planes
func (d *Dmabuf) Planes() []Plane {
	out := make([]Plane, len(d.planes))
	copy(out, d.planes)
	return out
}

// Close closes every plane file descriptor. Safe to call more than once.
func (d *Dmabuf) Close() error {
	var first error
	for i := range d.planes {
		if d.planes[i].FD < 0 {
			continue
		}
		if err := unix.Close(d.planes[i].FD); err != nil && first == nil {
			first = err
		}
		d.planes[i].FD = -1
	}
	return first
}

func (d *Dmabuf) String() string {
	return fmt.Sprintf("%dx%d %s mod=%#x planes=%d", d.Width, d.Height, FourccString(d.Format), d.Modifier, len(d.planes))
}
