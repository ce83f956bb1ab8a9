package hal

import (
	"strconv"
	"time"
)

// Pin identifies a physical GPIO line by number.
type Pin int

// NoPin marks a slot configuration line that is not wired.
const NoPin Pin = -1

// String returns a human-readable pin name.
func (p Pin) String() string {
	if p < 0 {
		return "NC"
	}
	return "GPIO" + strconv.Itoa(int(p))
}

// PinHandle is a claimed, bidirectional pin. The owner holds the line
// until Release is called.
type PinHandle interface {
	// Pin returns the pin number this handle holds.
	Pin() Pin

	// Release returns the pin to the GPIO controller.
	// Releasing a handle twice returns an error.
	Release() error
}

// GPIO claims physical pins for exclusive use.
type GPIO interface {
	// Claim claims pin as an input/output line.
	// Returns an error wrapping pkg.ErrPinInUse if another owner holds it,
	// or pkg.ErrInvalidPin if the pin does not exist.
	Claim(pin Pin) (PinHandle, error)
}

// HostFlags are capability flags for the host controller.
type HostFlags uint32

// Host capability flags.
const (
	Flag1Bit      HostFlags = 1 << 0 // Supports 1-bit bus
	Flag4Bit      HostFlags = 1 << 1 // Supports 4-bit bus
	Flag8Bit      HostFlags = 1 << 2 // Supports 8-bit bus
	FlagSPI       HostFlags = 1 << 3 // SPI mode host
	FlagDDR       HostFlags = 1 << 4 // Supports DDR mode
	FlagDeinitArg HostFlags = 1 << 5 // Deinit takes the slot as argument
)

// DefaultHostFlags are the flags of the SDMMC peripheral host: 1, 4 and
// 8-bit bus widths with DDR.
const DefaultHostFlags = Flag1Bit | Flag4Bit | Flag8Bit | FlagDDR

// Has returns true if all bits of f are set.
func (h HostFlags) Has(f HostFlags) bool {
	return h&f == f
}

// HostConfig holds the operating parameters of a host controller.
// The driver keeps a reference to it for the lifetime of the session.
type HostConfig struct {
	Flags           HostFlags     // Capability flags
	Slot            int           // Slot index on the controller
	MaxFreqKHz      int           // Card clock ceiling
	IOVoltage       float32       // I/O voltage in volts
	CommandTimeout  time.Duration // Zero selects the driver default
	InputDelayPhase uint8         // Input sampling delay phase
}

// SlotConfig describes how a controller slot is wired.
type SlotConfig struct {
	Width uint8 // Bus width in data lines
	CLK   Pin
	CMD   Pin
	D0    Pin
	D1    Pin
	D2    Pin
	D3    Pin
	D4    Pin
	D5    Pin
	D6    Pin
	D7    Pin
	CD    Pin    // Card detect, NoPin if not wired
	WP    Pin    // Write protect, NoPin if not wired
	Flags uint32 // Slot flags (SlotFlagInternalPullup)
}

// SlotFlagInternalPullup enables internal pull-ups on the slot lines.
const SlotFlagInternalPullup uint32 = 1 << 0

// DataPins returns the data lines in use for the configured width.
func (s *SlotConfig) DataPins() []Pin {
	all := []Pin{s.D0, s.D1, s.D2, s.D3, s.D4, s.D5, s.D6, s.D7}
	if int(s.Width) < len(all) {
		return all[:s.Width]
	}
	return all
}

// HostDriver is the host controller driver. A HostDriver has a single
// production implementation per platform; tests use fakes.
type HostDriver interface {
	// Init brings up the host controller.
	Init() error

	// Deinit shuts the host controller down.
	Deinit() error

	// InitSlot configures the pins of a slot as described by cfg.
	InitSlot(slot int, cfg *SlotConfig) error

	// ProbeCard probes the card on the slot named by host and populates
	// card in place. card is zeroed first. On failure card is left
	// untouched.
	ProbeCard(host *HostConfig, card *Card) error
}

// SectorIO transfers whole sectors to and from a probed card.
// The file-system registry reaches the card through this interface.
type SectorIO interface {
	// ReadSectors reads len(dst)/sector-size sectors starting at start.
	ReadSectors(card *Card, dst []byte, start uint64) error

	// WriteSectors writes len(src)/sector-size sectors starting at start.
	WriteSectors(card *Card, src []byte, start uint64) error
}

// Allocator hands out card descriptor records.
type Allocator interface {
	// Alloc returns a zeroed record, or nil if memory is exhausted.
	Alloc() *Card

	// Free returns a record obtained from Alloc.
	Free(card *Card)
}

// NoDrive is the sentinel drive index reported when no slot is free.
const NoDrive uint8 = 0xFF

// MaxDriveIndex is the largest drive index that can be named.
const MaxDriveIndex = 9

// DriveName is the token identifying a logical drive to the file-system
// layer, e.g. "0:".
type DriveName string

// MakeDriveName returns the drive name for drive index drv.
func MakeDriveName(drv uint8) DriveName {
	return DriveName(string(rune('0'+drv)) + ":")
}

// Index parses the drive index out of the name.
// Returns false if the name is malformed.
func (d DriveName) Index() (uint8, bool) {
	if len(d) != 2 || d[1] != ':' || d[0] < '0' || d[0] > '0'+MaxDriveIndex {
		return NoDrive, false
	}
	return d[0] - '0', true
}

// MountMode selects whether Mount attaches the volume immediately.
type MountMode uint8

// Mount modes.
const (
	MountDeferred MountMode = 0 // Record the association, mount on first access
	MountNow      MountMode = 1 // Mount immediately and report errors
)

// FSType identifies the FAT variant of a mounted volume.
type FSType uint8

// File-system types.
const (
	FSNone FSType = iota // Not mounted
	FSFAT12
	FSFAT16
	FSFAT32
)

// String returns the FAT variant name.
func (t FSType) String() string {
	switch t {
	case FSFAT12:
		return "FAT12"
	case FSFAT16:
		return "FAT16"
	case FSFAT32:
		return "FAT32"
	default:
		return "none"
	}
}

// FATFS is the file-system control structure allocated by
// Registry.VFSRegister and filled in by Registry.Mount.
type FATFS struct {
	Drive             DriveName // Drive this structure is bound to
	FSType            FSType    // FSNone until mounted
	NumFATs           uint8     // Number of allocation tables
	SectorsPerCluster uint16    // Cluster size in sectors
	SectorSize        uint16    // Sector size in bytes
	SectorsPerFAT     uint32    // Size of one allocation table in sectors
	TotalSectors      uint32    // Volume size in sectors
	VolumeBase        uint64    // First sector of the volume on the card
}

// Mounted returns true if a volume is attached to the structure.
func (f *FATFS) Mounted() bool {
	return f != nil && f.FSType != FSNone
}

// Registry is the block-device and virtual file-system registry.
// It owns the table of logical drive slots.
type Registry interface {
	// FreeDrive returns the index of a free drive slot.
	// Returns NoDrive and an error if none is free.
	FreeDrive() (uint8, error)

	// Register associates card with drive slot drv. The registry keeps
	// the pointer, not a copy. Passing nil clears the slot.
	Register(drv uint8, card *Card)

	// VFSRegister binds basePath to drive and allocates the control
	// structure for it.
	VFSRegister(basePath string, drive DriveName, maxFiles int) (*FATFS, error)

	// VFSUnregister removes the binding created by VFSRegister.
	VFSUnregister(basePath string) error

	// Mount attaches the first FAT volume on drive to fs.
	Mount(fs *FATFS, drive DriveName, mode MountMode) error

	// Unmount detaches the volume on drive.
	Unmount(drive DriveName) error
}
