package yozora

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/bnema/yozora/wl"
)

// formatTableEntrySize is the size of one format table entry: u32 format,
// u32 padding, u64 modifier.
const formatTableEntrySize = 16

// Tranche is one preference group of dmabuf feedback.
type Tranche struct {
	TargetDevice uint64
	Flags        uint32
	Formats      []Format
	indices      []uint16
}

// Feedback describes which (format, modifier) pairs a device can import,
// as sent through zwp_linux_dmabuf_feedback_v1. The format table is
// backed by a sealed memfd created once and shared by every client.
type Feedback struct {
	mainDevice uint64
	formats    []Format
	tranches   []Tranche
	tableFD    int
	tableSize  int
}

// FeedbackBuilder assembles a Feedback.
type FeedbackBuilder struct {
	mainDevice uint64
	formats    []Format
	tranches   []Tranche
}

// NewFeedbackBuilder starts feedback for the main device. formats form
// the final fallback tranche.
func NewFeedbackBuilder(mainDevice uint64, formats []Format) *FeedbackBuilder {
	return &FeedbackBuilder{
		mainDevice: mainDevice,
		formats:    append([]Format(nil), formats...),
	}
}

// AddPreferenceTranche adds a tranche ahead of the fallback one. Formats
// not in the fallback set are ignored.
func (b *FeedbackBuilder) AddPreferenceTranche(target uint64, flags uint32, formats []Format) *FeedbackBuilder {
	b.tranches = append(b.tranches, Tranche{
		TargetDevice: target,
		Flags:        flags,
		Formats:      append([]Format(nil), formats...),
	})
	return b
}

// Build deduplicates the formats, writes the format table and returns the
// feedback.
func (b *FeedbackBuilder) Build() (*Feedback, error) {
	index := make(map[Format]uint16)
	var formats []Format
	for _, f := range b.formats {
		if _, ok := index[f]; ok {
			continue
		}
		if len(formats) > 0xffff {
			return nil, errors.Errorf("too many dmabuf formats: %d", len(b.formats))
		}
		index[f] = uint16(len(formats))
		formats = append(formats, f)
	}
	if len(formats) == 0 {
		return nil, ErrNoFormats
	}

	fallback := Tranche{TargetDevice: b.mainDevice, Formats: formats}
	candidates := make([]Tranche, 0, len(b.tranches)+1)
	candidates = append(candidates, b.tranches...)
	candidates = append(candidates, fallback)

	tranches := make([]Tranche, 0, len(candidates))
	for _, t := range candidates {
		t.indices = nil
		var kept []Format
		for _, f := range t.Formats {
			if i, ok := index[f]; ok {
				t.indices = append(t.indices, i)
				kept = append(kept, f)
			}
		}
		if len(t.indices) == 0 {
			continue
		}
		t.Formats = kept
		tranches = append(tranches, t)
	}

	fd, size, err := writeFormatTable(formats)
	if err != nil {
		return nil, err
	}

	return &Feedback{
		mainDevice: b.mainDevice,
		formats:    formats,
		tranches:   tranches,
		tableFD:    fd,
		tableSize:  size,
	}, nil
}

func writeFormatTable(formats []Format) (int, int, error) {
	size := len(formats) * formatTableEntrySize
	fd, err := CreateAnonymousFile(int64(size))
	if err != nil {
		return -1, 0, errors.Wrap(err, "create format table")
	}

	table := make([]byte, size)
	for i, f := range formats {
		entry := table[i*formatTableEntrySize:]
		binary.LittleEndian.PutUint32(entry[0:4], f.Code)
		binary.LittleEndian.PutUint64(entry[8:16], f.Modifier)
	}
	if _, err := unix.Pwrite(fd, table, 0); err != nil {
		_ = unix.Close(fd)
		return -1, 0, errors.Wrap(err, "write format table")
	}
	return fd, size, nil
}

// MainDevice returns the main device number
func (f *Feedback) MainDevice() uint64 {
	return f.mainDevice
}

// Formats returns every format in the table
func (f *Feedback) Formats() []Format {
	return append([]Format(nil), f.formats...)
}

// Tranches returns the tranches, most preferred first
func (f *Feedback) Tranches() []Tranche {
	return append([]Tranche(nil), f.tranches...)
}

// Supports reports whether the pair is in the format table.
func (f *Feedback) Supports(code uint32, modifier uint64) bool {
	for _, format := range f.formats {
		if format.Code == code && format.Modifier == modifier {
			return true
		}
	}
	return false
}

// Close releases the format table
func (f *Feedback) Close() error {
	if f.tableFD < 0 {
		return nil
	}
	err := unix.Close(f.tableFD)
	f.tableFD = -1
	return err
}

// sendTo emits the whole feedback sequence on a feedback object.
func (f *Feedback) sendTo(c *Client, objectID uint32) error {
	tableFD, err := unix.Dup(f.tableFD)
	if err != nil {
		return errors.Wrap(err, "dup format table")
	}
	if err := c.SendEventWithFDs(objectID, wl.DmabufFeedbackEventFormatTable, []int{tableFD}, uint32(f.tableSize)); err != nil {
		return err
	}
	if err := c.SendEvent(objectID, wl.DmabufFeedbackEventMainDevice, devArray(f.mainDevice)); err != nil {
		return err
	}
	for _, t := range f.tranches {
		if err := c.SendEvent(objectID, wl.DmabufFeedbackEventTrancheTargetDevice, devArray(t.TargetDevice)); err != nil {
			return err
		}
		indices := make([]byte, 2*len(t.indices))
		for i, idx := range t.indices {
			binary.LittleEndian.PutUint16(indices[2*i:], idx)
		}
		if err := c.SendEvent(objectID, wl.DmabufFeedbackEventTrancheFormats, indices); err != nil {
			return err
		}
		if err := c.SendEvent(objectID, wl.DmabufFeedbackEventTrancheFlags, t.Flags); err != nil {
			return err
		}
		if err := c.SendEvent(objectID, wl.DmabufFeedbackEventTrancheDone); err != nil {
			return err
		}
	}
	return c.SendEvent(objectID, wl.DmabufFeedbackEventDone)
}

// devArray encodes a dev_t the way the feedback events carry it.
func devArray(dev uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, dev)
	return b
}
