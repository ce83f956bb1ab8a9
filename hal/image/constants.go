package image

import "math"

// SectorSize is the sector size presented for every image.
const SectorSize = 512

// maxSectors is the largest sector count a card record can describe.
const maxSectors = math.MaxUint32

// Operation names used in driver errors.
const (
	OpInit     = "sdmmc_host_init"
	OpDeinit   = "sdmmc_host_deinit"
	OpInitSlot = "sdmmc_host_init_slot"
	OpProbe    = "sdmmc_card_init"
	OpRead     = "sdmmc_read_sectors"
	OpWrite    = "sdmmc_write_sectors"
)
