package volume

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ardnew/softsd/card"
	"github.com/ardnew/softsd/hal"
	"github.com/ardnew/softsd/pkg"
)

// DefaultMaxOpenFiles is the number of files the mount point may have
// open at once.
const DefaultMaxOpenFiles = 8

// Config holds the mount parameters.
type Config struct {
	MaxOpenFiles int           // Files open at once through the mount point
	Allocator    hal.Allocator // Source of the duplicated descriptor; nil uses a fresh heap
}

// DefaultConfig returns a configuration allowing eight open files.
func DefaultConfig() Config {
	return Config{
		MaxOpenFiles: DefaultMaxOpenFiles,
		Allocator:    hal.NewHeap(0),
	}
}

// Statistics is the geometry of a mounted FAT volume.
type Statistics struct {
	SectorsPerCluster uint16
	SectorsPerFAT     uint32
	SectorSize        uint16
}

// Volume is a FAT volume mounted from a card session. It owns the session,
// a duplicate of the card descriptor held by the registry, the logical
// drive slot and the mount-point binding.
type Volume struct {
	session  *card.Session
	teardown func() error // releases the owned session
	reg      hal.Registry
	alloc    hal.Allocator

	dup        *hal.Card
	drv        uint8
	drive      hal.DriveName
	mountPoint string
	fs         *hal.FATFS

	registered bool // dup is registered in slot drv
	bound      bool // mountPoint is bound to drive
	mounted    bool // fs is attached
	closed     bool
	mutex      sync.Mutex
}

// validPath reports whether p can be handed to the file-system layer.
func validPath(p string) bool {
	return strings.IndexByte(p, 0) < 0 && utf8.ValidString(p)
}

// Mount mounts the first FAT volume of the card in s at mountPoint.
//
// On success the volume owns s: s.Close returns pkg.ErrOwned and the
// session is released by Volume.Close. On failure every step is undone
// and s is left open and usable.
func Mount(s *card.Session, reg hal.Registry, mountPoint string, cfg Config) (*Volume, error) {
	if s == nil || reg == nil {
		return nil, fmt.Errorf("mount: %w", pkg.ErrInvalidParameter)
	}
	if err := s.Available(); err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}
	alloc := cfg.Allocator
	if alloc == nil {
		alloc = hal.NewHeap(0)
	}

	v := &Volume{
		session:    s,
		reg:        reg,
		alloc:      alloc,
		drv:        hal.NoDrive,
		mountPoint: mountPoint,
	}
	ok := false
	defer func() {
		if !ok {
			v.release()
		}
	}()

	v.dup = alloc.Alloc()
	if v.dup == nil {
		return nil, fmt.Errorf("duplicate card descriptor (%d bytes): %w", hal.CardSize, pkg.ErrNoMemory)
	}
	*v.dup = s.Card()

	drv, err := reg.FreeDrive()
	if err != nil || drv == hal.NoDrive {
		if err == nil {
			return nil, pkg.ErrNoFreeDrive
		}
		return nil, fmt.Errorf("%w: %w", pkg.ErrNoFreeDrive, err)
	}
	if drv > hal.MaxDriveIndex {
		return nil, fmt.Errorf("drive %d: %w", drv, pkg.ErrInvalidDrive)
	}
	v.drv = drv

	reg.Register(drv, v.dup)
	v.registered = true

	v.drive = hal.MakeDriveName(drv)
	if !validPath(mountPoint) {
		return nil, fmt.Errorf("%w: %q", pkg.ErrInvalidPath, mountPoint)
	}

	fs, err := reg.VFSRegister(mountPoint, v.drive, cfg.MaxOpenFiles)
	if err != nil {
		return nil, fmt.Errorf("register mount point %s: %w", mountPoint, err)
	}
	v.fs = fs
	v.bound = true

	if err := reg.Mount(fs, v.drive, hal.MountNow); err != nil {
		return nil, fmt.Errorf("mount %s: %w", v.drive, err)
	}
	v.mounted = true

	v.teardown, err = s.Transfer()
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}

	ok = true
	pkg.LogInfo(pkg.ComponentVolume, "volume mounted",
		"path", mountPoint,
		"drive", v.drive,
		"type", fs.FSType,
		"sectorsPerCluster", fs.SectorsPerCluster)
	return v, nil
}

// release undoes whatever the volume holds: unmount, clear the drive slot,
// unbind the mount point, free the duplicate.
func (v *Volume) release() {
	if v.mounted {
		if err := v.reg.Unmount(v.drive); err != nil {
			pkg.LogWarn(pkg.ComponentVolume, "unmount failed", "drive", v.drive, "error", err)
		}
		v.mounted = false
	}
	if v.registered {
		v.reg.Register(v.drv, nil)
		v.registered = false
	}
	if v.bound {
		if err := v.reg.VFSUnregister(v.mountPoint); err != nil {
			pkg.LogWarn(pkg.ComponentVolume, "mount point unregister failed",
				"path", v.mountPoint,
				"error", err)
		}
		v.bound = false
		v.fs = nil
	}
	if v.dup != nil {
		v.alloc.Free(v.dup)
		v.dup = nil
	}
}

// Statistics returns the geometry of the mounted volume.
func (v *Volume) Statistics() Statistics {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	if v.fs == nil {
		return Statistics{}
	}
	return Statistics{
		SectorsPerCluster: v.fs.SectorsPerCluster,
		SectorsPerFAT:     v.fs.SectorsPerFAT,
		SectorSize:        v.fs.SectorSize,
	}
}

// FS returns the file-system control structure, or nil unless the drive
// slot is registered and the mount point is bound.
func (v *Volume) FS() *hal.FATFS {
	v.mutex.Lock()
	defer v.mutex.Unlock()
	if !v.registered || !v.bound {
		return nil
	}
	return v.fs
}

// Drive returns the logical drive slot.
func (v *Volume) Drive() uint8 {
	return v.drv
}

// DriveName returns the drive name token, e.g. "0:".
func (v *Volume) DriveName() hal.DriveName {
	return v.drive
}

// MountPoint returns the mount-point path.
func (v *Volume) MountPoint() string {
	return v.mountPoint
}

// Session returns the owned card session.
func (v *Volume) Session() *card.Session {
	return v.session
}

// Close unmounts the volume, clears the drive slot, unbinds the mount
// point and frees the duplicate descriptor, then tears down the owned
// session. Failures are logged, not returned. Closing twice does nothing.
func (v *Volume) Close() error {
	v.mutex.Lock()
	if v.closed {
		v.mutex.Unlock()
		return nil
	}
	v.closed = true
	v.release()
	teardown := v.teardown
	v.teardown = nil
	v.mutex.Unlock()

	if teardown != nil {
		if err := teardown(); err != nil {
			pkg.LogWarn(pkg.ComponentVolume, "session teardown failed", "error", err)
		}
	}
	pkg.LogDebug(pkg.ComponentVolume, "volume closed", "path", v.mountPoint)
	return nil
}
