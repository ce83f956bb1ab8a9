package fatfs

import (
	"sort"
	"strings"
	"sync"

	"github.com/ardnew/softsd/hal"
	"github.com/ardnew/softsd/pkg"
)

// Registry limits.
const (
	MaxDrives  = 2  // Logical drive slots
	MaxMounts  = 8  // Mount-point bindings
	MaxPathLen = 15 // Longest mount-point path in bytes
)

// binding is a mount point bound to a logical drive.
type binding struct {
	base     string
	drive    hal.DriveName
	maxFiles int
	fs       *hal.FATFS
}

// mount is a FAT volume attached to a logical drive.
type mount struct {
	fs  *hal.FATFS
	vol *fatVolume // nil until the volume is attached
}

// Registry implements hal.Registry on top of go-fs. Cards registered in
// drive slots are reached through a hal.SectorIO.
type Registry struct {
	sio    hal.SectorIO
	drives [MaxDrives]*hal.Card
	vfs    map[string]*binding
	mounts map[hal.DriveName]*mount
	mutex  sync.Mutex
}

// NewRegistry creates a registry whose drives are read through sio.
func NewRegistry(sio hal.SectorIO) *Registry {
	return &Registry{
		sio:    sio,
		vfs:    make(map[string]*binding),
		mounts: make(map[hal.DriveName]*mount),
	}
}

// FreeDrive returns the lowest unregistered drive slot.
func (r *Registry) FreeDrive() (uint8, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i, c := range r.drives {
		if c == nil {
			return uint8(i), nil
		}
	}
	return hal.NoDrive, pkg.NewDriverError("ff_diskio_get_drive", pkg.StatusNotFound)
}

// Register stores card in slot drv. A nil card clears the slot.
func (r *Registry) Register(drv uint8, card *hal.Card) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if int(drv) >= MaxDrives {
		pkg.LogWarn(pkg.ComponentRegistry, "register of invalid drive", "drive", drv)
		return
	}
	r.drives[drv] = card
	if card == nil {
		pkg.LogDebug(pkg.ComponentRegistry, "drive cleared", "drive", drv)
	} else {
		pkg.LogDebug(pkg.ComponentRegistry, "drive registered", "drive", drv)
	}
}

// validBasePath reports whether base is acceptable as a mount point: empty,
// or starting with '/' and not ending with it, without NUL bytes.
func validBasePath(base string) bool {
	if base == "" {
		return true
	}
	if len(base) > MaxPathLen || strings.IndexByte(base, 0) >= 0 {
		return false
	}
	return base[0] == '/' && base[len(base)-1] != '/'
}

// VFSRegister binds base to drive and allocates its control structure.
func (r *Registry) VFSRegister(base string, drive hal.DriveName, maxFiles int) (*hal.FATFS, error) {
	const op = "esp_vfs_fat_register"

	r.mutex.Lock()
	defer r.mutex.Unlock()

	idx, ok := drive.Index()
	if !ok || int(idx) >= MaxDrives || maxFiles < 1 || !validBasePath(base) {
		return nil, pkg.NewDriverError(op, pkg.StatusInvalidArg)
	}
	if _, ok := r.vfs[base]; ok {
		return nil, pkg.NewDriverError(op, pkg.StatusInvalidState)
	}
	for _, b := range r.vfs {
		if b.drive == drive {
			return nil, pkg.NewDriverError(op, pkg.StatusInvalidState)
		}
	}
	if len(r.vfs) >= MaxMounts {
		return nil, pkg.NewDriverError(op, pkg.StatusNoMem)
	}

	b := &binding{
		base:     base,
		drive:    drive,
		maxFiles: maxFiles,
		fs:       &hal.FATFS{Drive: drive},
	}
	r.vfs[base] = b
	pkg.LogDebug(pkg.ComponentRegistry, "mount point bound",
		"path", base,
		"drive", drive)
	return b.fs, nil
}

// VFSUnregister removes the binding for base. The control structure is
// released with it, so a volume still attached through it is dropped.
func (r *Registry) VFSUnregister(base string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	b, ok := r.vfs[base]
	if !ok {
		return pkg.NewDriverError("esp_vfs_fat_unregister_path", pkg.StatusInvalidState)
	}
	delete(r.vfs, base)
	if m, ok := r.mounts[b.drive]; ok && m.fs == b.fs {
		delete(r.mounts, b.drive)
		pkg.LogDebug(pkg.ComponentRegistry, "attached volume dropped", "drive", b.drive)
	}
	pkg.LogDebug(pkg.ComponentRegistry, "mount point unbound", "path", base)
	return nil
}

// Mount attaches the first FAT volume on drive to fs. With MountDeferred
// the association is recorded and the volume is attached on first access.
// A failed immediate mount leaves no association behind.
func (r *Registry) Mount(fs *hal.FATFS, drive hal.DriveName, mode hal.MountMode) error {
	const op = "f_mount"

	r.mutex.Lock()
	defer r.mutex.Unlock()

	idx, ok := drive.Index()
	if !ok || int(idx) >= MaxDrives {
		return pkg.NewDriverError(op, pkg.FRInvalidDrive)
	}
	if fs == nil || fs.Drive != drive {
		return pkg.NewDriverError(op, pkg.FRInvalidObject)
	}

	m := &mount{fs: fs}
	r.mounts[drive] = m
	if mode == hal.MountDeferred {
		return nil
	}
	if err := r.attach(idx, m); err != nil {
		delete(r.mounts, drive)
		return err
	}
	return nil
}

// attach mounts the volume for m if it is not attached yet.
// Caller must hold r.mutex.
func (r *Registry) attach(idx uint8, m *mount) error {
	if m.vol != nil {
		return nil
	}
	card := r.drives[idx]
	if card == nil {
		return pkg.NewDriverError("f_mount", pkg.FRNotReady)
	}
	regions, err := findVolumes(r.sio, card)
	if err != nil {
		return err
	}
	for _, rg := range regions {
		var vol *fatVolume
		vol, err = decodeVolume(m.fs, newBlockDevice(r.sio, card, rg.base, rg.sectors), rg.base)
		if err == nil {
			m.vol = vol
			break
		}
		pkg.LogDebug(pkg.ComponentRegistry, "volume rejected",
			"base", rg.base,
			"error", err)
	}
	if err != nil {
		return err
	}
	pkg.LogInfo(pkg.ComponentRegistry, "volume mounted",
		"drive", m.fs.Drive,
		"type", m.fs.FSType,
		"sectorsPerCluster", m.fs.SectorsPerCluster)
	return nil
}

// Unmount detaches the volume on drive and clears its control structure.
// Unmounting a drive with nothing attached succeeds.
func (r *Registry) Unmount(drive hal.DriveName) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	idx, ok := drive.Index()
	if !ok || int(idx) >= MaxDrives {
		return pkg.NewDriverError("f_mount", pkg.FRInvalidDrive)
	}
	m, ok := r.mounts[drive]
	if !ok {
		return nil
	}
	delete(r.mounts, drive)
	*m.fs = hal.FATFS{Drive: drive}
	pkg.LogDebug(pkg.ComponentRegistry, "volume unmounted", "drive", drive)
	return nil
}

// Entry is a directory entry returned by ReadDir.
type Entry struct {
	Name  string
	IsDir bool
}

// ReadDir lists the root directory of the volume bound to base, attaching
// a deferred mount if needed.
func (r *Registry) ReadDir(base string) ([]Entry, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	b, ok := r.vfs[base]
	if !ok {
		return nil, pkg.NewDriverError("opendir", pkg.FRNoPath)
	}
	m, ok := r.mounts[b.drive]
	if !ok {
		return nil, pkg.NewDriverError("opendir", pkg.FRNotEnabled)
	}
	idx, _ := b.drive.Index()
	if err := r.attach(idx, m); err != nil {
		return nil, err
	}

	return m.vol.entries()
}

// Registered returns the card in slot drv, or nil.
func (r *Registry) Registered(drv uint8) *hal.Card {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if int(drv) >= MaxDrives {
		return nil
	}
	return r.drives[drv]
}

// RegisteredDrives returns the number of occupied drive slots.
func (r *Registry) RegisteredDrives() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	n := 0
	for _, c := range r.drives {
		if c != nil {
			n++
		}
	}
	return n
}

// BoundPaths returns the bound mount points in sorted order.
func (r *Registry) BoundPaths() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	paths := make([]string, 0, len(r.vfs))
	for p := range r.vfs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// IsMounted returns true if a volume is attached on drive.
func (r *Registry) IsMounted(drive hal.DriveName) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	m, ok := r.mounts[drive]
	return ok && m.vol != nil
}

// Ensure Registry implements hal.Registry
var _ hal.Registry = (*Registry)(nil)
