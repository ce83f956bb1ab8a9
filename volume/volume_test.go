package volume

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ardnew/softsd/bus"
	"github.com/ardnew/softsd/card"
	"github.com/ardnew/softsd/fatfs"
	"github.com/ardnew/softsd/hal"
	"github.com/ardnew/softsd/hal/sim"
	"github.com/ardnew/softsd/pkg"
)

// =============================================================================
// Mock Registry
// =============================================================================

// mockRegistry records every registry call in order.
type mockRegistry struct {
	events []string

	free    uint8
	freeErr error

	vfsErr        error
	unregisterErr error
	mountErr      error
	unmountErr    error

	slots map[uint8]*hal.Card
	paths map[string]bool
	fs    *hal.FATFS
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{
		slots: make(map[uint8]*hal.Card),
		paths: make(map[string]bool),
	}
}

func (m *mockRegistry) record(format string, args ...any) {
	m.events = append(m.events, fmt.Sprintf(format, args...))
}

func (m *mockRegistry) FreeDrive() (uint8, error) {
	m.record("free_drive")
	return m.free, m.freeErr
}

func (m *mockRegistry) Register(drv uint8, c *hal.Card) {
	if c == nil {
		m.record("register %d nil", drv)
		delete(m.slots, drv)
		return
	}
	m.record("register %d", drv)
	m.slots[drv] = c
}

func (m *mockRegistry) VFSRegister(base string, drive hal.DriveName, maxFiles int) (*hal.FATFS, error) {
	m.record("vfs_register %s %s %d", base, drive, maxFiles)
	if m.vfsErr != nil {
		return nil, m.vfsErr
	}
	m.paths[base] = true
	m.fs = &hal.FATFS{Drive: drive}
	return m.fs, nil
}

func (m *mockRegistry) VFSUnregister(base string) error {
	m.record("vfs_unregister %s", base)
	delete(m.paths, base)
	return m.unregisterErr
}

func (m *mockRegistry) Mount(fs *hal.FATFS, drive hal.DriveName, mode hal.MountMode) error {
	m.record("mount %s %d", drive, mode)
	if m.mountErr != nil {
		return m.mountErr
	}
	fs.FSType = hal.FSFAT16
	fs.NumFATs = 2
	fs.SectorsPerCluster = 4
	fs.SectorsPerFAT = 32
	fs.SectorSize = 512
	return nil
}

func (m *mockRegistry) Unmount(drive hal.DriveName) error {
	m.record("unmount %s", drive)
	if m.fs != nil {
		*m.fs = hal.FATFS{Drive: drive}
	}
	return m.unmountErr
}

var _ hal.Registry = (*mockRegistry)(nil)

// recordingHeap logs frees into the registry's event list.
type recordingHeap struct {
	*hal.Heap
	reg *mockRegistry
}

func (h recordingHeap) Free(c *hal.Card) {
	h.reg.record("free")
	h.Heap.Free(c)
}

// noMemory is an allocator that never has memory.
type noMemory struct{}

func (noMemory) Alloc() *hal.Card { return nil }
func (noMemory) Free(*hal.Card)   {}

// =============================================================================
// Fixtures
// =============================================================================

type fixture struct {
	gpio    *sim.GPIO
	host    *sim.Host
	media   *sim.Media
	heap    *hal.Heap // session descriptors
	session *card.Session
}

func newFixture(t *testing.T, media *sim.Media) *fixture {
	t.Helper()
	f := &fixture{
		gpio:  sim.NewGPIO(sim.ESP32Pins),
		media: media,
		heap:  hal.NewHeap(0),
	}
	f.host = sim.NewHost(f.gpio)
	f.host.Insert(media)

	b, err := bus.Bind(f.gpio, bus.DefaultPinSet())
	if err != nil {
		t.Fatalf("Bind() error: %v", err)
	}
	cfg := card.DefaultConfig()
	cfg.Allocator = f.heap
	f.session, err = card.Open(b, f.host, cfg)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	return f
}

// released reports whether every session resource was returned.
func (f *fixture) released() bool {
	return !f.host.Initialized() && f.heap.InUse() == 0 && len(f.gpio.Claimed()) == 0
}

func equalEvents(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("events = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// =============================================================================
// Mount Tests
// =============================================================================

func TestMount(t *testing.T) {
	f := newFixture(t, sim.NewMedia(1_000_000, 512))
	reg := newMockRegistry()
	heap := recordingHeap{Heap: hal.NewHeap(0), reg: reg}

	v, err := Mount(f.session, reg, "/sdcard", Config{MaxOpenFiles: 8, Allocator: heap})
	if err != nil {
		t.Fatalf("Mount() error: %v", err)
	}
	equalEvents(t, reg.events, []string{
		"free_drive",
		"register 0",
		"vfs_register /sdcard 0: 8",
		"mount 0: 1",
	})

	if v.Drive() != 0 || v.DriveName() != "0:" || v.MountPoint() != "/sdcard" {
		t.Errorf("Drive() = %d, DriveName() = %q, MountPoint() = %q", v.Drive(), v.DriveName(), v.MountPoint())
	}
	if v.Session() != f.session {
		t.Error("Session() is not the mounted session")
	}
	want := Statistics{SectorsPerCluster: 4, SectorsPerFAT: 32, SectorSize: 512}
	if got := v.Statistics(); got != want {
		t.Errorf("Statistics() = %+v, want %+v", got, want)
	}
	if v.FS() == nil || !v.FS().Mounted() {
		t.Error("FS() is not a mounted control structure")
	}

	// The registry holds its own copy of the descriptor.
	dup := reg.slots[0]
	if dup == nil {
		t.Fatal("slot 0 not registered")
	}
	if *dup != f.session.Card() {
		t.Error("registered descriptor differs from the session's")
	}
	dup.RCA++
	if f.session.Card().RCA == dup.RCA {
		t.Error("registered descriptor aliases the session's")
	}
	if heap.InUse() != 1 {
		t.Errorf("duplicate heap InUse() = %d, want 1", heap.InUse())
	}
	v.Close()
}

func TestMount_StatisticsStable(t *testing.T) {
	f := newFixture(t, sim.NewMedia(1_000_000, 512))
	v, err := Mount(f.session, newMockRegistry(), "/sdcard", DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()

	first := v.Statistics()
	for i := 0; i < 3; i++ {
		if v.Statistics() != first {
			t.Fatal("Statistics() changed between calls")
		}
	}
	if v.Session().Capacity() != 512_000_000 {
		t.Errorf("Capacity() = %d, want 512000000", v.Session().Capacity())
	}
}

func TestMount_StepFailures(t *testing.T) {
	mountErr := pkg.NewDriverError("f_mount", pkg.FRNoFilesystem)

	tests := []struct {
		name       string
		mountPoint string
		noMemory   bool
		setup      func(*mockRegistry)
		wantErr    error
		wantEvents []string
	}{
		{
			name:       "duplicate descriptor",
			mountPoint: "/sdcard",
			noMemory:   true,
			wantErr:    pkg.ErrNoMemory,
			wantEvents: nil,
		},
		{
			name:       "no free drive",
			mountPoint: "/sdcard",
			setup: func(r *mockRegistry) {
				r.free = hal.NoDrive
				r.freeErr = pkg.NewDriverError("ff_diskio_get_drive", pkg.StatusNotFound)
			},
			wantErr:    pkg.ErrNoFreeDrive,
			wantEvents: []string{"free_drive", "free"},
		},
		{
			name:       "sentinel drive without error",
			mountPoint: "/sdcard",
			setup:      func(r *mockRegistry) { r.free = hal.NoDrive },
			wantErr:    pkg.ErrNoFreeDrive,
			wantEvents: []string{"free_drive", "free"},
		},
		{
			name:       "embedded NUL",
			mountPoint: "/sd\x00card",
			wantErr:    pkg.ErrInvalidPath,
			wantEvents: []string{"free_drive", "register 0", "register 0 nil", "free"},
		},
		{
			name:       "invalid UTF-8",
			mountPoint: "/sd\xffcard",
			wantErr:    pkg.ErrInvalidPath,
			wantEvents: []string{"free_drive", "register 0", "register 0 nil", "free"},
		},
		{
			name:       "bind mount point",
			mountPoint: "/sdcard",
			setup: func(r *mockRegistry) {
				r.vfsErr = pkg.NewDriverError("esp_vfs_fat_register", pkg.StatusInvalidState)
			},
			wantErr: pkg.ErrInvalidState,
			wantEvents: []string{
				"free_drive", "register 0", "vfs_register /sdcard 0: 8",
				"register 0 nil", "free",
			},
		},
		{
			name:       "mount",
			mountPoint: "/sdcard",
			setup:      func(r *mockRegistry) { r.mountErr = mountErr },
			wantErr:    pkg.ErrNoFilesystem,
			wantEvents: []string{
				"free_drive", "register 0", "vfs_register /sdcard 0: 8", "mount 0: 1",
				"register 0 nil", "vfs_unregister /sdcard", "free",
			},
		},
		{
			name:       "mount with failing unbind",
			mountPoint: "/sdcard",
			setup: func(r *mockRegistry) {
				r.mountErr = mountErr
				r.unregisterErr = pkg.NewDriverError("esp_vfs_fat_unregister_path", pkg.StatusInvalidState)
			},
			wantErr: pkg.ErrNoFilesystem,
			wantEvents: []string{
				"free_drive", "register 0", "vfs_register /sdcard 0: 8", "mount 0: 1",
				"register 0 nil", "vfs_unregister /sdcard", "free",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, sim.NewMedia(1_000_000, 512))
			reg := newMockRegistry()
			if tt.setup != nil {
				tt.setup(reg)
			}
			heap := recordingHeap{Heap: hal.NewHeap(0), reg: reg}
			cfg := Config{MaxOpenFiles: 8, Allocator: heap}
			if tt.noMemory {
				cfg.Allocator = noMemory{}
			}

			v, err := Mount(f.session, reg, tt.mountPoint, cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Mount() error = %v, want %v", err, tt.wantErr)
			}
			if v != nil {
				t.Error("Mount() returned a volume on failure")
			}
			equalEvents(t, reg.events, tt.wantEvents)

			if heap.InUse() != 0 {
				t.Errorf("duplicate heap InUse() = %d, want 0", heap.InUse())
			}
			if len(reg.slots) != 0 {
				t.Errorf("slots still registered: %v", reg.slots)
			}
			if len(reg.paths) != 0 {
				t.Errorf("mount points still bound: %v", reg.paths)
			}

			// The session is untouched and still the caller's to close.
			if err := f.session.Available(); err != nil {
				t.Errorf("session Available() = %v", err)
			}
			if f.session.Capacity() != 512_000_000 {
				t.Errorf("session Capacity() = %d", f.session.Capacity())
			}
			if err := f.session.Close(); err != nil {
				t.Errorf("session Close() error: %v", err)
			}
			if !f.released() {
				t.Error("session resources not released by Close")
			}
		})
	}
}

func TestMount_RetryAfterNoFreeDrive(t *testing.T) {
	f := newFixture(t, sim.NewMedia(1_000_000, 512))
	reg := newMockRegistry()
	reg.free = hal.NoDrive
	reg.freeErr = pkg.NewDriverError("ff_diskio_get_drive", pkg.StatusNotFound)
	heap := hal.NewHeap(0)
	cfg := Config{MaxOpenFiles: 8, Allocator: heap}

	_, err := Mount(f.session, reg, "/sdcard", cfg)
	if !errors.Is(err, pkg.ErrNoFreeDrive) || !errors.Is(err, pkg.ErrNotFound) {
		t.Fatalf("Mount() error = %v, want ErrNoFreeDrive wrapping ErrNotFound", err)
	}
	if heap.InUse() != 0 {
		t.Errorf("duplicate heap InUse() = %d, want 0", heap.InUse())
	}

	reg.free, reg.freeErr = 1, nil
	v, err := Mount(f.session, reg, "/data", cfg)
	if err != nil {
		t.Fatalf("retry Mount() error: %v", err)
	}
	if v.DriveName() != "1:" {
		t.Errorf("DriveName() = %q, want 1:", v.DriveName())
	}
	v.Close()
	if !f.released() {
		t.Error("session resources not released")
	}
}

func TestMount_SessionOwnership(t *testing.T) {
	f := newFixture(t, sim.NewMedia(1_000_000, 512))
	reg := newMockRegistry()

	v, err := Mount(f.session, reg, "/sdcard", DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	if err := f.session.Close(); !errors.Is(err, pkg.ErrOwned) {
		t.Errorf("session Close() = %v, want ErrOwned", err)
	}
	if !f.host.Initialized() || f.heap.InUse() != 1 {
		t.Error("refused session Close released resources")
	}
	if _, err := Mount(f.session, newMockRegistry(), "/other", DefaultConfig()); !errors.Is(err, pkg.ErrOwned) {
		t.Errorf("second Mount() = %v, want ErrOwned", err)
	}

	v.Close()
	if !f.released() {
		t.Error("volume Close did not release the session")
	}
	if _, err := Mount(f.session, reg, "/sdcard", DefaultConfig()); !errors.Is(err, pkg.ErrClosed) {
		t.Errorf("Mount() on closed session = %v, want ErrClosed", err)
	}
}

func TestMount_InvalidArguments(t *testing.T) {
	f := newFixture(t, sim.NewMedia(64, 512))
	defer f.session.Close()

	if _, err := Mount(nil, newMockRegistry(), "/sdcard", DefaultConfig()); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Mount(nil session) = %v, want ErrInvalidParameter", err)
	}
	if _, err := Mount(f.session, nil, "/sdcard", DefaultConfig()); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Mount(nil registry) = %v, want ErrInvalidParameter", err)
	}
}

// =============================================================================
// Teardown Tests
// =============================================================================

func TestVolume_Close(t *testing.T) {
	f := newFixture(t, sim.NewMedia(1_000_000, 512))
	reg := newMockRegistry()
	heap := recordingHeap{Heap: hal.NewHeap(0), reg: reg}

	v, err := Mount(f.session, reg, "/sdcard", Config{MaxOpenFiles: 8, Allocator: heap})
	if err != nil {
		t.Fatal(err)
	}
	fs := v.FS()
	reg.events = nil
	f.host.ResetCalls()

	if err := v.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	equalEvents(t, reg.events, []string{
		"unmount 0:",
		"register 0 nil",
		"vfs_unregister /sdcard",
		"free",
	})
	calls := f.host.Calls()
	if len(calls) != 1 || calls[0] != sim.OpDeinit {
		t.Errorf("host calls after volume teardown = %v, want [%v]", calls, sim.OpDeinit)
	}
	if !f.released() {
		t.Error("session resources not released")
	}
	if heap.InUse() != 0 {
		t.Errorf("duplicate heap InUse() = %d, want 0", heap.InUse())
	}
	if fs.Mounted() {
		t.Error("control structure still mounted")
	}
	if v.FS() != nil {
		t.Error("FS() != nil after Close")
	}
	if v.Statistics() != (Statistics{}) {
		t.Error("Statistics() non-zero after Close")
	}

	if err := v.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
	if len(reg.events) != 4 {
		t.Errorf("second Close() called the registry: %q", reg.events)
	}
}

func TestVolume_CloseWithFailures(t *testing.T) {
	f := newFixture(t, sim.NewMedia(1_000_000, 512))
	reg := newMockRegistry()
	heap := recordingHeap{Heap: hal.NewHeap(0), reg: reg}

	v, err := Mount(f.session, reg, "/sdcard", Config{MaxOpenFiles: 8, Allocator: heap})
	if err != nil {
		t.Fatal(err)
	}
	reg.unmountErr = pkg.NewDriverError("f_mount", pkg.FRNotReady)
	reg.unregisterErr = pkg.NewDriverError("esp_vfs_fat_unregister_path", pkg.StatusInvalidState)
	reg.events = nil

	if err := v.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
	equalEvents(t, reg.events, []string{
		"unmount 0:",
		"register 0 nil",
		"vfs_unregister /sdcard",
		"free",
	})
	if !f.released() {
		t.Error("session resources not released")
	}
}

// =============================================================================
// Integration Tests
// =============================================================================

func TestMount_Registry(t *testing.T) {
	media := sim.NewMedia(2880, 512)
	if err := fatfs.Format(media, fatfs.FAT12, "SOFTSD"); err != nil {
		t.Fatalf("Format() error: %v", err)
	}
	f := newFixture(t, media)
	reg := fatfs.NewRegistry(f.host)
	heap := hal.NewHeap(0)

	v, err := Mount(f.session, reg, "/sdcard", Config{MaxOpenFiles: 8, Allocator: heap})
	if err != nil {
		t.Fatalf("Mount() error: %v", err)
	}
	stats := v.Statistics()
	if stats.SectorSize != 512 || stats.SectorsPerCluster == 0 || stats.SectorsPerFAT == 0 {
		t.Errorf("Statistics() = %+v", stats)
	}
	if v.FS().FSType != hal.FSFAT12 {
		t.Errorf("FSType = %v, want FAT12", v.FS().FSType)
	}
	if reg.Registered(0) == nil || !reg.IsMounted("0:") {
		t.Error("registry does not hold the volume")
	}
	if _, err := reg.ReadDir("/sdcard"); err != nil {
		t.Errorf("ReadDir() error: %v", err)
	}

	v.Close()
	if reg.RegisteredDrives() != 0 || len(reg.BoundPaths()) != 0 || reg.IsMounted("0:") {
		t.Error("registry still holds the volume after Close")
	}
	if heap.InUse() != 0 {
		t.Errorf("duplicate heap InUse() = %d, want 0", heap.InUse())
	}
	if !f.released() {
		t.Error("session resources not released")
	}
}

func TestMount_RegistryNoFilesystem(t *testing.T) {
	f := newFixture(t, sim.NewMedia(2880, 512))
	reg := fatfs.NewRegistry(f.host)
	heap := hal.NewHeap(0)

	_, err := Mount(f.session, reg, "/sdcard", Config{MaxOpenFiles: 8, Allocator: heap})
	if !errors.Is(err, pkg.ErrNoFilesystem) {
		t.Fatalf("Mount() error = %v, want ErrNoFilesystem", err)
	}
	if status, _ := pkg.StatusOf(err); status != pkg.FRNoFilesystem {
		t.Errorf("status = %v, want FR_NO_FILESYSTEM", status)
	}
	if reg.RegisteredDrives() != 0 || len(reg.BoundPaths()) != 0 {
		t.Error("failed mount left registry entries")
	}
	if heap.InUse() != 0 {
		t.Errorf("duplicate heap InUse() = %d, want 0", heap.InUse())
	}
	if err := f.session.Close(); err != nil {
		t.Fatal(err)
	}
	if !f.released() {
		t.Error("session resources not released")
	}
}

func TestMount_RegistryFull(t *testing.T) {
	media := sim.NewMedia(2880, 512)
	f := newFixture(t, media)
	reg := fatfs.NewRegistry(f.host)
	for drv := uint8(0); drv < fatfs.MaxDrives; drv++ {
		reg.Register(drv, &hal.Card{})
	}

	_, err := Mount(f.session, reg, "/sdcard", DefaultConfig())
	if !errors.Is(err, pkg.ErrNoFreeDrive) {
		t.Errorf("Mount() error = %v, want ErrNoFreeDrive", err)
	}
	if err := f.session.Available(); err != nil {
		t.Errorf("session Available() = %v", err)
	}
	f.session.Close()
}
