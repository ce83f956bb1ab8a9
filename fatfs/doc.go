// Package fatfs implements the block-device and virtual file-system
// registry on top of github.com/mitchellh/go-fs.
//
// A [Registry] owns two tables: the logical drive slots (cards registered
// by index) and the mount-point bindings (paths bound to drive names, each
// with its [hal.FATFS] control structure). Mounting locates the first FAT
// volume on the registered card and decodes its boot sector.
//
// # Volume Discovery
//
// Sector 0 is examined for the 0x55AA signature. It is a volume boot
// record if it starts with a jump instruction and also carries a FAT type
// tag or a plausible parameter block; boot code in a master boot record
// often starts with a jump as well. The used partition entries follow, each
// subject to the same check on its first sector. The first candidate that
// decodes is mounted and nothing beyond it is considered.
//
// FAT12, FAT16 and FAT32 volumes mount. go-fs reads FAT12 and FAT16 only,
// so a FAT32 root directory is walked here and go-fs decodes its entries.
//
// # Usage
//
//	reg := fatfs.NewRegistry(host)
//	drv, _ := reg.FreeDrive()
//	reg.Register(drv, card)
//	fs, _ := reg.VFSRegister("/sdcard", hal.MakeDriveName(drv), 8)
//	if err := reg.Mount(fs, hal.MakeDriveName(drv), hal.MountNow); err != nil {
//	    ...
//	}
//
// # Formatting
//
// [Format] and [FormatImage] write a super-floppy FAT12 or FAT16 volume,
// which is what the simulated and image-backed HALs mount.
package fatfs
