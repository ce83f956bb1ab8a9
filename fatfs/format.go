package fatfs

import (
	"fmt"
	"os"

	gofs "github.com/mitchellh/go-fs"
	"github.com/mitchellh/go-fs/fat"

	"github.com/ardnew/softsd/pkg"
)

// FATType selects the allocation table width used by Format.
type FATType int

// Supported table widths.
const (
	FAT12 FATType = 12
	FAT16 FATType = 16
)

// OEMName is written into the boot sector of formatted volumes.
const OEMName = "softsd"

// ParseFATType converts a table width (12 or 16) to a FATType.
func ParseFATType(bits int) (FATType, error) {
	switch FATType(bits) {
	case FAT12, FAT16:
		return FATType(bits), nil
	}
	return 0, fmt.Errorf("%w: FAT%d", pkg.ErrNotSupported, bits)
}

func (t FATType) native() (fat.FATType, error) {
	switch t {
	case FAT12:
		return fat.FAT12, nil
	case FAT16:
		return fat.FAT16, nil
	}
	return 0, fmt.Errorf("%w: FAT%d", pkg.ErrNotSupported, int(t))
}

// Format writes an empty super-floppy FAT volume (no partition table)
// covering all of dev.
func Format(dev gofs.BlockDevice, t FATType, label string) error {
	ft, err := t.native()
	if err != nil {
		return err
	}
	cfg := &fat.SuperFloppyConfig{
		FATType: ft,
		Label:   label,
		OEMName: OEMName,
	}
	if err := fat.FormatSuperFloppy(dev, cfg); err != nil {
		return fmt.Errorf("format: %w", err)
	}
	pkg.LogInfo(pkg.ComponentRegistry, "volume formatted",
		"type", int(t),
		"label", label,
		"bytes", dev.Len())
	return nil
}

// FormatImage creates (or truncates) the file at path, sizes it to size
// bytes and formats it.
func FormatImage(path string, size int64, t FATType, label string) error {
	if size <= 0 || size%512 != 0 {
		return fmt.Errorf("%w: image size %d", pkg.ErrInvalidParameter, size)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		return err
	}
	dev, err := gofs.NewFileDisk(f)
	if err != nil {
		return err
	}
	if err := Format(dev, t, label); err != nil {
		return err
	}
	return f.Sync()
}
