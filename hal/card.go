package hal

import (
	"strings"
	"unsafe"
)

// CID is the card identification register.
type CID struct {
	ManufacturerID uint8
	OEMID          uint16
	Name           [8]byte
	Revision       uint8
	Serial         uint32
	Date           uint16 // Manufacturing date, (year-2000)<<4 | month
}

// ProductName returns the product name with trailing NULs removed.
func (c *CID) ProductName() string {
	return strings.TrimRight(string(c.Name[:]), "\x00 ")
}

// CSD is the card specific data register.
type CSD struct {
	Version       uint8
	MMCVersion    uint8
	Capacity      uint32 // Total number of sectors
	SectorSize    uint32 // Sector size in bytes
	ReadBlockLen  uint32 // Maximum read block length in bytes
	CardClass     uint16 // Supported command classes
	TransferSpeed uint32 // Maximum transfer speed in kbit/s
}

// SCR is the SD configuration register.
type SCR struct {
	SDSpec   uint8
	BusWidth uint8 // Bit mask of supported bus widths
}

// Card is the descriptor populated by HostDriver.ProbeCard. It is an
// opaque fixed-size record; allocate it through an Allocator.
type Card struct {
	Host           HostConfig // Copy of the host configuration used to probe
	OCR            uint32
	CID            CID
	CSD            CSD
	SCR            SCR
	RCA            uint16
	MaxFreqKHz     uint32
	IsMem          bool
	IsSDIO         bool
	IsMMC          bool
	IsDDR          bool
	NumIOFunctions uint8
	LogBusWidth    uint8
}

// CardSize is the size of a card descriptor record in bytes.
const CardSize = int(unsafe.Sizeof(Card{}))

// Size returns the card capacity in bytes. The sector count and sector
// size are multiplied at 64-bit precision.
func (c *Card) Size() uint64 {
	return uint64(c.CSD.Capacity) * uint64(c.CSD.SectorSize)
}

// BusWidth returns the negotiated bus width in data lines.
func (c *Card) BusWidth() int {
	return 1 << c.LogBusWidth
}
