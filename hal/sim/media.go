package sim

import (
	"io"
	"os"
	"sync"

	"github.com/ardnew/softsd/hal"
	"github.com/ardnew/softsd/pkg"
)

// Media is a simulated SD card. Sectors are stored sparsely, so large
// cards cost memory only for the sectors written.
//
// Media also satisfies the go-fs block device method set (Len,
// SectorSize, ReadAt, WriteAt, Close) so it can be formatted directly.
type Media struct {
	sectors      map[uint64][]byte
	count        uint32
	sectorSize   uint32
	readBlockLen uint32
	cid          hal.CID
	readOnly     bool
	mutex        sync.RWMutex
}

// NewMedia creates a card with count sectors of sectorSize bytes.
func NewMedia(count, sectorSize uint32) *Media {
	return &Media{
		sectors:      make(map[uint64][]byte),
		count:        count,
		sectorSize:   sectorSize,
		readBlockLen: sectorSize,
		cid: hal.CID{
			ManufacturerID: 0x03,
			OEMID:          0x5344, // "SD"
			Name:           [8]byte{'S', 'I', 'M', 'S', 'D'},
			Revision:       0x10,
			Serial:         0x0badcafe,
		},
	}
}

// Sectors returns the number of sectors.
func (m *Media) Sectors() uint32 {
	return m.count
}

// SetReadBlockLen overrides the maximum read block length reported in the CSD.
func (m *Media) SetReadBlockLen(n uint32) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.readBlockLen = n
}

// SetCID overrides the card identification register.
func (m *Media) SetCID(cid hal.CID) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.cid = cid
}

// SetReadOnly sets the write-protect state.
func (m *Media) SetReadOnly(readOnly bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.readOnly = readOnly
}

// describe fills card with the registers of this medium.
func (m *Media) describe(card *hal.Card) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	card.CID = m.cid
	card.CSD = hal.CSD{
		Version:       1,
		Capacity:      m.count,
		SectorSize:    m.sectorSize,
		ReadBlockLen:  m.readBlockLen,
		CardClass:     0x5b5,
		TransferSpeed: 25000,
	}
	card.SCR = hal.SCR{SDSpec: 2, BusWidth: 0x5} // 1 and 4-bit
	card.OCR = 0xc0ff8000
	card.IsMem = true
}

// Len returns the card size in bytes.
func (m *Media) Len() int64 {
	return int64(m.count) * int64(m.sectorSize)
}

// SectorSize returns the sector size in bytes.
func (m *Media) SectorSize() int {
	return int(m.sectorSize)
}

// ReadAt reads len(p) bytes starting at byte offset off.
func (m *Media) ReadAt(p []byte, off int64) (int, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if off < 0 {
		return 0, pkg.ErrInvalidParameter
	}
	size := int64(m.count) * int64(m.sectorSize)
	if off >= size {
		return 0, io.EOF
	}

	n := 0
	for n < len(p) && off+int64(n) < size {
		pos := off + int64(n)
		lba := uint64(pos) / uint64(m.sectorSize)
		within := int(uint64(pos) % uint64(m.sectorSize))
		chunk := int(m.sectorSize) - within
		if chunk > len(p)-n {
			chunk = len(p) - n
		}
		if sec, ok := m.sectors[lba]; ok {
			copy(p[n:n+chunk], sec[within:within+chunk])
		} else {
			clear(p[n : n+chunk])
		}
		n += chunk
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes len(p) bytes starting at byte offset off.
func (m *Media) WriteAt(p []byte, off int64) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.readOnly {
		return 0, os.ErrPermission
	}
	if off < 0 {
		return 0, pkg.ErrInvalidParameter
	}
	size := int64(m.count) * int64(m.sectorSize)
	if off+int64(len(p)) > size {
		return 0, io.ErrShortWrite
	}

	n := 0
	for n < len(p) {
		pos := off + int64(n)
		lba := uint64(pos) / uint64(m.sectorSize)
		within := int(uint64(pos) % uint64(m.sectorSize))
		chunk := int(m.sectorSize) - within
		if chunk > len(p)-n {
			chunk = len(p) - n
		}
		sec, ok := m.sectors[lba]
		if !ok {
			sec = make([]byte, m.sectorSize)
			m.sectors[lba] = sec
		}
		copy(sec[within:within+chunk], p[n:n+chunk])
		n += chunk
	}
	return n, nil
}

// Close is a no-op; the medium lives until it is garbage collected.
func (m *Media) Close() error {
	return nil
}
