package fatfs

import (
	"encoding/binary"
	"strings"

	"github.com/mitchellh/go-fs/fat"

	"github.com/ardnew/softsd/hal"
	"github.com/ardnew/softsd/pkg"
)

// Boot record layout.
const (
	bootSignatureOffset = 510
	bootSignature       = 0xAA55
	partitionTable      = 0x1BE
	partitionEntrySize  = 16
	partitionTypeOffset = 4
	partitionLBAOffset  = 8
	partitionLenOffset  = 12

	fatTagOffset      = 54 // BS_FilSysType, FAT12/16
	fat32TagOffset    = 82 // BS_FilSysType, FAT32
	rootClusterOffset = 44 // BPB_RootClus, FAT32
)

// Sector sizes a volume may use.
const (
	minSectorSize = 512
	maxSectorSize = 4096
)

// FAT cluster-count boundaries.
const (
	maxFAT12Clusters = 4085
	maxFAT16Clusters = 65525
)

// FAT32 entry fields.
const (
	fat32EntryMask = 0x0FFFFFFF
	fat32EOC       = 0x0FFFFFF8
)

// maxDirEntries is the most entries a FAT directory may hold.
const maxDirEntries = 65536

// region is a run of sectors that may hold a FAT volume.
type region struct {
	base    uint64
	sectors uint64
}

// findVolumes lists the places on card that hold something shaped like a
// FAT volume, in the order they should be tried: sector 0 when it is a
// volume boot record, then each used partition of the master boot record
// whose first sector is one.
func findVolumes(sio hal.SectorIO, card *hal.Card) ([]region, error) {
	const op = "find_volume"

	ss := card.CSD.SectorSize
	if ss < minSectorSize || ss > maxSectorSize || ss&(ss-1) != 0 {
		return nil, pkg.NewDriverError(op, pkg.FRNoFilesystem)
	}
	total := uint64(card.CSD.Capacity)
	sector := make([]byte, ss)
	if err := sio.ReadSectors(card, sector, 0); err != nil {
		pkg.LogDebug(pkg.ComponentRegistry, "boot sector read failed", "error", err)
		return nil, pkg.NewDriverError(op, pkg.FRDiskErr)
	}
	if !hasBootSignature(sector) {
		return nil, pkg.NewDriverError(op, pkg.FRNoFilesystem)
	}

	var found []region
	if isBootRecord(sector) {
		found = append(found, region{base: 0, sectors: total})
	}

	vbr := make([]byte, ss)
	for i := 0; i < 4; i++ {
		entry := sector[partitionTable+i*partitionEntrySize:]
		if entry[partitionTypeOffset] == 0 {
			continue
		}
		lba := uint64(binary.LittleEndian.Uint32(entry[partitionLBAOffset:]))
		length := uint64(binary.LittleEndian.Uint32(entry[partitionLenOffset:]))
		if lba == 0 || lba >= total {
			continue
		}
		if length == 0 || lba+length > total {
			length = total - lba
		}
		if err := sio.ReadSectors(card, vbr, lba); err != nil {
			pkg.LogDebug(pkg.ComponentRegistry, "partition read failed",
				"index", i,
				"lba", lba,
				"error", err)
			continue
		}
		if !hasBootSignature(vbr) || !isBootRecord(vbr) {
			continue
		}
		pkg.LogDebug(pkg.ComponentRegistry, "volume in partition",
			"index", i,
			"lba", lba,
			"sectors", length)
		found = append(found, region{base: lba, sectors: length})
	}

	if len(found) == 0 {
		return nil, pkg.NewDriverError(op, pkg.FRNoFilesystem)
	}
	return found, nil
}

func hasBootSignature(sector []byte) bool {
	return binary.LittleEndian.Uint16(sector[bootSignatureOffset:]) == bootSignature
}

// isBootRecord reports whether sector is a FAT volume boot record: an x86
// jump followed by either a FAT type tag or a plausible parameter block.
// Master boot code often starts with a jump too, so the jump alone is not
// enough.
func isBootRecord(sector []byte) bool {
	if sector[0] != 0xEB && sector[0] != 0xE9 && sector[0] != 0xE8 {
		return false
	}
	if string(sector[fatTagOffset:fatTagOffset+3]) == "FAT" ||
		string(sector[fat32TagOffset:fat32TagOffset+5]) == "FAT32" {
		return true
	}

	bps := binary.LittleEndian.Uint16(sector[11:])
	spc := sector[13]
	return bps >= minSectorSize && bps <= maxSectorSize && bps&(bps-1) == 0 &&
		spc != 0 && spc&(spc-1) == 0 &&
		binary.LittleEndian.Uint16(sector[14:]) != 0 &&
		(sector[16] == 1 || sector[16] == 2) &&
		(binary.LittleEndian.Uint16(sector[19:]) >= 128 || binary.LittleEndian.Uint32(sector[32:]) >= 0x10000) &&
		(binary.LittleEndian.Uint16(sector[22:]) != 0 || binary.LittleEndian.Uint32(sector[36:]) != 0)
}

// fatVolume is an attached FAT volume. FAT12 and FAT16 volumes are read
// through a go-fs file system. go-fs does not read FAT32, so for those the
// root directory chain is walked here and only the entries are decoded by
// go-fs.
type fatVolume struct {
	dev         *blockDevice
	bs          *fat.BootSectorCommon
	fsys        *fat.FileSystem // FAT12 and FAT16
	clusters    uint32
	rootCluster uint32 // FAT32
}

// guard runs fn and reports a panic inside the file-system driver as
// FR_INT_ERR.
func guard(op string, fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			pkg.LogWarn(pkg.ComponentRegistry, "file system driver panic",
				"op", op,
				"panic", v)
			err = pkg.NewDriverError(op, pkg.FRIntErr)
		}
	}()
	return fn()
}

// decodeVolume decodes the volume on dev and fills fs from its boot sector.
// fs is left untouched on failure.
func decodeVolume(fs *hal.FATFS, dev *blockDevice, base uint64) (*fatVolume, error) {
	const op = "f_mount"

	var bs *fat.BootSectorCommon
	err := guard(op, func() (err error) {
		bs, err = fat.DecodeBootSector(dev)
		return err
	})
	if err != nil {
		pkg.LogDebug(pkg.ComponentRegistry, "boot sector decode failed", "error", err)
		return nil, pkg.NewDriverError(op, pkg.FRNoFilesystem)
	}
	if int(bs.BytesPerSector) != dev.SectorSize() || bs.SectorsPerCluster == 0 ||
		bs.NumFATs == 0 || bs.SectorsPerFat == 0 {
		return nil, pkg.NewDriverError(op, pkg.FRNoFilesystem)
	}

	rootSectors := (uint64(bs.RootEntryCount)*fat.DirectoryEntrySize + uint64(bs.BytesPerSector) - 1) /
		uint64(bs.BytesPerSector)
	meta := uint64(bs.ReservedSectorCount) + uint64(bs.NumFATs)*uint64(bs.SectorsPerFat) + rootSectors
	if uint64(bs.TotalSectors) <= meta {
		return nil, pkg.NewDriverError(op, pkg.FRNoFilesystem)
	}
	clusters := (uint64(bs.TotalSectors) - meta) / uint64(bs.SectorsPerCluster)
	if clusters == 0 {
		return nil, pkg.NewDriverError(op, pkg.FRNoFilesystem)
	}

	v := &fatVolume{dev: dev, bs: bs, clusters: uint32(clusters)}
	var fsType hal.FSType
	switch {
	case clusters < maxFAT12Clusters:
		fsType = hal.FSFAT12
	case clusters < maxFAT16Clusters:
		fsType = hal.FSFAT16
	default:
		fsType = hal.FSFAT32
	}

	if fsType == hal.FSFAT32 {
		if err := v.decodeFAT32(); err != nil {
			return nil, err
		}
	} else {
		err := guard(op, func() (err error) {
			v.fsys, err = fat.New(dev)
			return err
		})
		if err != nil {
			pkg.LogDebug(pkg.ComponentRegistry, "allocation table decode failed", "error", err)
			return nil, pkg.NewDriverError(op, pkg.FRNoFilesystem)
		}
	}

	*fs = hal.FATFS{
		Drive:             fs.Drive,
		FSType:            fsType,
		NumFATs:           bs.NumFATs,
		SectorsPerCluster: uint16(bs.SectorsPerCluster),
		SectorSize:        bs.BytesPerSector,
		SectorsPerFAT:     bs.SectorsPerFat,
		TotalSectors:      bs.TotalSectors,
		VolumeBase:        base,
	}
	return v, nil
}

// decodeFAT32 reads the FAT32-only fields of the boot sector.
func (v *fatVolume) decodeFAT32() error {
	const op = "f_mount"

	if v.bs.RootEntryCount != 0 {
		return pkg.NewDriverError(op, pkg.FRNoFilesystem)
	}
	sector := make([]byte, v.bs.BytesPerSector)
	if _, err := v.dev.ReadAt(sector, 0); err != nil {
		pkg.LogDebug(pkg.ComponentRegistry, "boot sector read failed", "error", err)
		return pkg.NewDriverError(op, pkg.FRDiskErr)
	}
	root := binary.LittleEndian.Uint32(sector[rootClusterOffset:]) & fat32EntryMask
	if root < fat.FirstCluster || root >= v.clusters+fat.FirstCluster {
		return pkg.NewDriverError(op, pkg.FRNoFilesystem)
	}
	v.rootCluster = root
	return nil
}

// clusterOffset returns the byte offset of cluster n within the volume.
func (v *fatVolume) clusterOffset(n uint32) int64 {
	bps := int64(v.bs.BytesPerSector)
	data := int64(v.bs.ReservedSectorCount) + int64(v.bs.NumFATs)*int64(v.bs.SectorsPerFat)
	return (data + int64(n-fat.FirstCluster)*int64(v.bs.SectorsPerCluster)) * bps
}

// next32 returns the FAT32 entry for cluster n.
func (v *fatVolume) next32(n uint32) (uint32, error) {
	var entry [4]byte
	off := int64(v.bs.ReservedSectorCount)*int64(v.bs.BytesPerSector) + int64(n)*4
	if _, err := v.dev.ReadAt(entry[:], off); err != nil {
		pkg.LogDebug(pkg.ComponentRegistry, "allocation table read failed", "error", err)
		return 0, pkg.NewDriverError("readdir", pkg.FRDiskErr)
	}
	return binary.LittleEndian.Uint32(entry[:]) & fat32EntryMask, nil
}

// rootEntries32 reads the raw entries of a FAT32 root directory, following
// its cluster chain.
func (v *fatVolume) rootEntries32() ([]*fat.DirectoryClusterEntry, error) {
	const op = "readdir"

	var raw []*fat.DirectoryClusterEntry
	buf := make([]byte, v.bs.BytesPerCluster())
	cluster := v.rootCluster
	for hops := uint32(0); hops < v.clusters; hops++ {
		if _, err := v.dev.ReadAt(buf, v.clusterOffset(cluster)); err != nil {
			pkg.LogDebug(pkg.ComponentRegistry, "directory read failed", "error", err)
			return nil, pkg.NewDriverError(op, pkg.FRDiskErr)
		}
		for off := 0; off+fat.DirectoryEntrySize <= len(buf); off += fat.DirectoryEntrySize {
			if buf[off] == 0 {
				return raw, nil
			}
			e, err := fat.DecodeDirectoryClusterEntry(buf[off : off+fat.DirectoryEntrySize])
			if err != nil {
				return nil, pkg.NewDriverError(op, pkg.FRIntErr)
			}
			raw = append(raw, e)
			if len(raw) > maxDirEntries {
				return nil, pkg.NewDriverError(op, pkg.FRIntErr)
			}
		}

		next, err := v.next32(cluster)
		if err != nil {
			return nil, err
		}
		if next >= fat32EOC {
			return raw, nil
		}
		if next < fat.FirstCluster || next >= v.clusters+fat.FirstCluster {
			return nil, pkg.NewDriverError(op, pkg.FRIntErr)
		}
		cluster = next
	}
	// The chain is longer than the volume.
	return nil, pkg.NewDriverError(op, pkg.FRIntErr)
}

// entries lists the root directory.
func (v *fatVolume) entries() ([]Entry, error) {
	const op = "readdir"

	var entries []Entry
	err := guard(op, func() error {
		if v.fsys == nil {
			raw, err := v.rootEntries32()
			if err != nil {
				return err
			}
			entries = decodeEntries(raw)
			return nil
		}

		root, err := v.fsys.RootDir()
		if err != nil {
			pkg.LogDebug(pkg.ComponentRegistry, "root directory read failed", "error", err)
			return pkg.NewDriverError(op, pkg.FRDiskErr)
		}
		if root == nil {
			return nil
		}
		for _, e := range root.Entries() {
			entries = append(entries, Entry{Name: cleanName(e.Name()), IsDir: e.IsDir()})
		}
		return nil
	})
	return entries, err
}

// decodeEntries joins raw directory entries into named entries.
func decodeEntries(raw []*fat.DirectoryClusterEntry) []Entry {
	kept := raw[:0]
	for _, e := range raw {
		if e.IsVolumeId() && !e.IsLong() {
			continue
		}
		kept = append(kept, e)
	}
	raw = kept

	// A long-name run must end in a short entry.
	for len(raw) > 0 && raw[len(raw)-1].IsLong() {
		raw = raw[:len(raw)-1]
	}

	var entries []Entry
	for len(raw) > 0 {
		e, rest, err := fat.DecodeDirectoryEntry(nil, raw)
		if err != nil {
			break
		}
		raw = rest
		if e != nil {
			entries = append(entries, Entry{Name: cleanName(e.Name()), IsDir: e.IsDir()})
		}
	}
	return entries
}

// cleanName drops the NUL and 0xFFFF padding left in long names.
func cleanName(name string) string {
	return strings.Map(func(r rune) rune {
		if r == 0 || r == 0xFFFF {
			return -1
		}
		return r
	}, name)
}
