//go:build !linux

package image

import (
	"github.com/ardnew/softsd/hal"
	"github.com/ardnew/softsd/pkg"
)

// Host is unavailable on this platform. Every operation fails with
// pkg.ErrNotSupported.
type Host struct {
	path string
}

// New creates a host for the image at path.
func New(path string) *Host {
	return &Host{path: path}
}

// SetReadOnly has no effect on this platform.
func (h *Host) SetReadOnly(bool) {}

// Path returns the image path.
func (h *Host) Path() string {
	return h.path
}

// Init fails: image hosts need Linux.
func (h *Host) Init() error {
	return pkg.NewDriverError(OpInit, pkg.StatusNotSupported)
}

// Deinit fails: image hosts need Linux.
func (h *Host) Deinit() error {
	return pkg.NewDriverError(OpDeinit, pkg.StatusNotSupported)
}

// InitSlot fails: image hosts need Linux.
func (h *Host) InitSlot(int, *hal.SlotConfig) error {
	return pkg.NewDriverError(OpInitSlot, pkg.StatusNotSupported)
}

// ProbeCard fails: image hosts need Linux.
func (h *Host) ProbeCard(*hal.HostConfig, *hal.Card) error {
	return pkg.NewDriverError(OpProbe, pkg.StatusNotSupported)
}

// ReadSectors fails: image hosts need Linux.
func (h *Host) ReadSectors(*hal.Card, []byte, uint64) error {
	return pkg.NewDriverError(OpRead, pkg.StatusNotSupported)
}

// WriteSectors fails: image hosts need Linux.
func (h *Host) WriteSectors(*hal.Card, []byte, uint64) error {
	return pkg.NewDriverError(OpWrite, pkg.StatusNotSupported)
}

var (
	_ hal.HostDriver = (*Host)(nil)
	_ hal.SectorIO   = (*Host)(nil)
)
