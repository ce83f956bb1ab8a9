//go:build linux

package image

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/ardnew/softsd/hal"
	"github.com/ardnew/softsd/pkg"
)

// Host implements hal.HostDriver and hal.SectorIO over a disk image file.
// The image is opened and exclusively locked by Init, and released by
// Deinit.
type Host struct {
	path     string
	readOnly bool

	fd    int
	open  bool
	slots map[int]hal.SlotConfig
	mutex sync.Mutex
}

// New creates a host for the image at path. Nothing is opened until Init.
func New(path string) *Host {
	return &Host{
		path:  path,
		fd:    -1,
		slots: make(map[int]hal.SlotConfig),
	}
}

// SetReadOnly opens the image without write access on the next Init.
func (h *Host) SetReadOnly(readOnly bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.readOnly = readOnly
}

// Path returns the image path.
func (h *Host) Path() string {
	return h.path
}

// statusFor maps a system error to the closest driver status.
func statusFor(err error) pkg.Status {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return pkg.StatusFail
	}
	switch errno {
	case unix.ENOENT, unix.ENODEV, unix.ENXIO:
		return pkg.StatusNotFound
	case unix.EACCES, unix.EPERM, unix.EROFS:
		return pkg.StatusNotSupported
	case unix.EINVAL:
		return pkg.StatusInvalidArg
	case unix.ENOMEM:
		return pkg.StatusNoMem
	case unix.EWOULDBLOCK:
		return pkg.StatusInvalidState
	default:
		return pkg.StatusFail
	}
}

// Init opens and locks the image.
func (h *Host) Init() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.open {
		return pkg.NewDriverError(OpInit, pkg.StatusInvalidState)
	}

	mode := unix.O_RDWR
	if h.readOnly {
		mode = unix.O_RDONLY
	}
	fd, err := unix.Open(h.path, mode|unix.O_CLOEXEC, 0)
	if err != nil {
		pkg.LogDebug(pkg.ComponentHAL, "image open failed", "path", h.path, "error", err)
		return pkg.NewDriverError(OpInit, statusFor(err))
	}
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		if errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("%w: %w", pkg.NewDriverError(OpInit, pkg.StatusInvalidState), pkg.ErrBusy)
		}
		return pkg.NewDriverError(OpInit, statusFor(err))
	}

	h.fd = fd
	h.open = true
	pkg.LogDebug(pkg.ComponentHAL, "image opened", "path", h.path, "readOnly", h.readOnly)
	return nil
}

// Deinit unlocks and closes the image and forgets slot configuration.
func (h *Host) Deinit() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.open {
		return pkg.NewDriverError(OpDeinit, pkg.StatusInvalidState)
	}
	fd := h.fd
	h.fd = -1
	h.open = false
	clear(h.slots)

	if err := unix.Flock(fd, unix.LOCK_UN); err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "image unlock failed", "path", h.path, "error", err)
	}
	if err := unix.Close(fd); err != nil {
		return pkg.NewDriverError(OpDeinit, statusFor(err))
	}
	pkg.LogDebug(pkg.ComponentHAL, "image closed", "path", h.path)
	return nil
}

// InitSlot records the slot configuration. The image has no signal lines,
// so only the slot number and bus width are checked.
func (h *Host) InitSlot(slot int, cfg *hal.SlotConfig) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.open {
		return pkg.NewDriverError(OpInitSlot, pkg.StatusInvalidState)
	}
	if cfg == nil || slot < 0 || slot > 1 {
		return pkg.NewDriverError(OpInitSlot, pkg.StatusInvalidArg)
	}
	switch cfg.Width {
	case 1, 4, 8:
	default:
		return pkg.NewDriverError(OpInitSlot, pkg.StatusInvalidArg)
	}
	h.slots[slot] = *cfg
	return nil
}

// ProbeCard describes the image as a card of 512-byte sectors.
func (h *Host) ProbeCard(host *hal.HostConfig, card *hal.Card) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if host == nil || card == nil {
		return pkg.NewDriverError(OpProbe, pkg.StatusInvalidArg)
	}
	if !h.open {
		return pkg.NewDriverError(OpProbe, pkg.StatusInvalidState)
	}
	slot, ok := h.slots[host.Slot]
	if !ok {
		return pkg.NewDriverError(OpProbe, pkg.StatusInvalidState)
	}

	var st unix.Stat_t
	if err := unix.Fstat(h.fd, &st); err != nil {
		return pkg.NewDriverError(OpProbe, statusFor(err))
	}
	if st.Size < SectorSize || st.Size%SectorSize != 0 || st.Size/SectorSize > maxSectors {
		pkg.LogDebug(pkg.ComponentHAL, "image size unusable", "path", h.path, "bytes", st.Size)
		return pkg.NewDriverError(OpProbe, pkg.StatusInvalidSize)
	}

	*card = hal.Card{}
	card.Host = *host
	card.CID = hal.CID{
		ManufacturerID: 0x00,
		OEMID:          0x494d, // "IM"
		Name:           [8]byte{'I', 'M', 'A', 'G', 'E'},
		Serial:         uint32(st.Ino),
	}
	card.CSD = hal.CSD{
		Version:      1,
		Capacity:     uint32(st.Size / SectorSize),
		SectorSize:   SectorSize,
		ReadBlockLen: SectorSize,
	}
	card.RCA = 1
	card.IsMem = true
	card.MaxFreqKHz = uint32(host.MaxFreqKHz)
	if slot.Width >= 4 && host.Flags.Has(hal.Flag4Bit) {
		card.LogBusWidth = 2
	}
	pkg.LogDebug(pkg.ComponentHAL, "image probed",
		"path", h.path,
		"sectors", card.CSD.Capacity)
	return nil
}

// checkTransfer validates a sector transfer and returns the descriptor.
// Caller must hold h.mutex.
func (h *Host) checkTransfer(op string, card *hal.Card, n int, start uint64) (int, error) {
	if !h.open {
		return -1, pkg.NewDriverError(op, pkg.StatusInvalidState)
	}
	if card == nil || card.CSD.SectorSize != SectorSize || n%SectorSize != 0 {
		return -1, pkg.NewDriverError(op, pkg.StatusInvalidSize)
	}
	if start+uint64(n/SectorSize) > uint64(card.CSD.Capacity) {
		return -1, pkg.NewDriverError(op, pkg.StatusInvalidSize)
	}
	return h.fd, nil
}

// ReadSectors reads whole sectors at start.
func (h *Host) ReadSectors(card *hal.Card, dst []byte, start uint64) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	fd, err := h.checkTransfer(OpRead, card, len(dst), start)
	if err != nil {
		return err
	}
	return transfer(OpRead, dst, int64(start)*SectorSize, func(p []byte, off int64) (int, error) {
		return unix.Pread(fd, p, off)
	})
}

// WriteSectors writes whole sectors at start.
func (h *Host) WriteSectors(card *hal.Card, src []byte, start uint64) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	fd, err := h.checkTransfer(OpWrite, card, len(src), start)
	if err != nil {
		return err
	}
	if h.readOnly {
		return pkg.NewDriverError(OpWrite, pkg.StatusNotSupported)
	}
	return transfer(OpWrite, src, int64(start)*SectorSize, func(p []byte, off int64) (int, error) {
		return unix.Pwrite(fd, p, off)
	})
}

// transfer calls fn until all of buf has moved. A call that moves nothing
// means the image ended early.
func transfer(op string, buf []byte, off int64, fn func([]byte, int64) (int, error)) error {
	for done := 0; done < len(buf); {
		n, err := fn(buf[done:], off+int64(done))
		if err != nil {
			return pkg.NewDriverError(op, statusFor(err))
		}
		if n <= 0 {
			return pkg.NewDriverError(op, pkg.StatusInvalidSize)
		}
		done += n
	}
	return nil
}

// Ensure Host implements the HAL interfaces
var (
	_ hal.HostDriver = (*Host)(nil)
	_ hal.SectorIO   = (*Host)(nil)
)
