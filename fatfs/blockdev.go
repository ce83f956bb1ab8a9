package fatfs

import (
	"io"

	"github.com/ardnew/softsd/hal"
	"github.com/ardnew/softsd/pkg"
)

// blockDevice presents a region of a registered card as a go-fs block
// device. Unaligned accesses are widened to whole sectors.
type blockDevice struct {
	sio     hal.SectorIO
	card    *hal.Card
	base    uint64 // First sector of the region
	sectors uint64 // Region length in sectors
}

func newBlockDevice(sio hal.SectorIO, card *hal.Card, base, sectors uint64) *blockDevice {
	return &blockDevice{sio: sio, card: card, base: base, sectors: sectors}
}

// Len returns the region size in bytes.
func (d *blockDevice) Len() int64 {
	return int64(d.sectors) * int64(d.card.CSD.SectorSize)
}

// SectorSize returns the card sector size.
func (d *blockDevice) SectorSize() int {
	return int(d.card.CSD.SectorSize)
}

// span returns the first sector and sector count covering [off, off+n).
func (d *blockDevice) span(off int64, n int) (uint64, int, error) {
	if off < 0 || n < 0 {
		return 0, 0, pkg.ErrInvalidParameter
	}
	if off+int64(n) > d.Len() {
		return 0, 0, io.EOF
	}
	ss := int64(d.card.CSD.SectorSize)
	first := off / ss
	last := (off + int64(n) + ss - 1) / ss
	return uint64(first), int(last - first), nil
}

// ReadAt reads len(p) bytes at byte offset off.
func (d *blockDevice) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	first, count, err := d.span(off, len(p))
	if err != nil {
		return 0, err
	}
	ss := int(d.card.CSD.SectorSize)
	buf := make([]byte, count*ss)
	if err := d.sio.ReadSectors(d.card, buf, d.base+first); err != nil {
		return 0, err
	}
	within := int(off % int64(ss))
	return copy(p, buf[within:]), nil
}

// WriteAt writes len(p) bytes at byte offset off, reading back partial
// sectors first.
func (d *blockDevice) WriteAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	first, count, err := d.span(off, len(p))
	if err != nil {
		return 0, err
	}
	ss := int(d.card.CSD.SectorSize)
	buf := make([]byte, count*ss)
	within := int(off % int64(ss))
	if within != 0 || len(p)%ss != 0 {
		if err := d.sio.ReadSectors(d.card, buf, d.base+first); err != nil {
			return 0, err
		}
	}
	copy(buf[within:], p)
	if err := d.sio.WriteSectors(d.card, buf, d.base+first); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close is a no-op; the card belongs to the drive slot.
func (d *blockDevice) Close() error {
	return nil
}
