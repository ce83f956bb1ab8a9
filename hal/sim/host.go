package sim

import (
	"sync"

	"github.com/ardnew/softsd/hal"
	"github.com/ardnew/softsd/pkg"
)

// Op names a host controller operation for fault injection and tracing.
type Op string

// Host controller operations.
const (
	OpInit     Op = "sdmmc_host_init"
	OpDeinit   Op = "sdmmc_host_deinit"
	OpInitSlot Op = "sdmmc_host_init_slot"
	OpProbe    Op = "sdmmc_card_init"
	OpRead     Op = "sdmmc_read_sectors"
	OpWrite    Op = "sdmmc_write_sectors"
)

// Slot 1 of the SDMMC peripheral is wired for at most 4 data lines.
const (
	numSlots      = 2
	slot1MaxWidth = 4
)

// Host is a simulated SDMMC host controller.
type Host struct {
	gpio        *GPIO
	media       *Media
	initialized bool
	slots       map[int]hal.SlotConfig
	faults      map[Op]pkg.Status
	calls       []Op
	mutex       sync.Mutex
}

// NewHost creates a host controller. If gpio is non-nil, InitSlot checks
// that every configured line is claimed on it.
func NewHost(gpio *GPIO) *Host {
	return &Host{
		gpio:   gpio,
		slots:  make(map[int]hal.SlotConfig),
		faults: make(map[Op]pkg.Status),
	}
}

// Insert places a card in the slot.
func (h *Host) Insert(m *Media) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.media = m
}

// Eject removes the card from the slot.
func (h *Host) Eject() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.media = nil
}

// Fail makes op return status until cleared with pkg.StatusOK.
func (h *Host) Fail(op Op, status pkg.Status) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if status == pkg.StatusOK {
		delete(h.faults, op)
		return
	}
	h.faults[op] = status
}

// Calls returns the operations invoked so far, in order.
func (h *Host) Calls() []Op {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return append([]Op(nil), h.calls...)
}

// ResetCalls clears the call trace.
func (h *Host) ResetCalls() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.calls = h.calls[:0]
}

// Initialized returns true between a successful Init and Deinit.
func (h *Host) Initialized() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.initialized
}

// enter records op and returns the injected fault for it, if any.
// Caller must hold h.mutex.
func (h *Host) enter(op Op) error {
	h.calls = append(h.calls, op)
	if s, ok := h.faults[op]; ok {
		return pkg.NewDriverError(string(op), s)
	}
	return nil
}

// Init brings up the controller.
func (h *Host) Init() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if err := h.enter(OpInit); err != nil {
		return err
	}
	if h.initialized {
		return pkg.NewDriverError(string(OpInit), pkg.StatusInvalidState)
	}
	h.initialized = true
	pkg.LogDebug(pkg.ComponentHAL, "sim host initialized")
	return nil
}

// Deinit shuts the controller down and forgets every slot configuration.
func (h *Host) Deinit() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if err := h.enter(OpDeinit); err != nil {
		return err
	}
	if !h.initialized {
		return pkg.NewDriverError(string(OpDeinit), pkg.StatusInvalidState)
	}
	h.initialized = false
	clear(h.slots)
	pkg.LogDebug(pkg.ComponentHAL, "sim host deinitialized")
	return nil
}

// InitSlot configures a slot.
func (h *Host) InitSlot(slot int, cfg *hal.SlotConfig) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if err := h.enter(OpInitSlot); err != nil {
		return err
	}
	if !h.initialized {
		return pkg.NewDriverError(string(OpInitSlot), pkg.StatusInvalidState)
	}
	if cfg == nil || slot < 0 || slot >= numSlots {
		return pkg.NewDriverError(string(OpInitSlot), pkg.StatusInvalidArg)
	}
	switch cfg.Width {
	case 1, 4, 8:
	default:
		return pkg.NewDriverError(string(OpInitSlot), pkg.StatusInvalidArg)
	}
	if slot == 1 && cfg.Width > slot1MaxWidth {
		return pkg.NewDriverError(string(OpInitSlot), pkg.StatusInvalidArg)
	}
	if h.gpio != nil {
		lines := append([]hal.Pin{cfg.CLK, cfg.CMD}, cfg.DataPins()...)
		for _, p := range lines {
			if p == hal.NoPin || !h.gpio.IsClaimed(p) {
				pkg.LogDebug(pkg.ComponentHAL, "slot line not claimed", "pin", p)
				return pkg.NewDriverError(string(OpInitSlot), pkg.StatusInvalidArg)
			}
		}
	}

	h.slots[slot] = *cfg
	pkg.LogDebug(pkg.ComponentHAL, "sim slot configured",
		"slot", slot,
		"width", cfg.Width)
	return nil
}

// ProbeCard probes the inserted card and fills in card.
func (h *Host) ProbeCard(host *hal.HostConfig, card *hal.Card) error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if err := h.enter(OpProbe); err != nil {
		return err
	}
	if host == nil || card == nil {
		return pkg.NewDriverError(string(OpProbe), pkg.StatusInvalidArg)
	}
	if !h.initialized {
		return pkg.NewDriverError(string(OpProbe), pkg.StatusInvalidState)
	}
	slot, ok := h.slots[host.Slot]
	if !ok {
		return pkg.NewDriverError(string(OpProbe), pkg.StatusInvalidState)
	}
	if h.media == nil {
		return pkg.NewDriverError(string(OpProbe), pkg.StatusTimeout)
	}

	*card = hal.Card{}
	card.Host = *host
	h.media.describe(card)
	card.RCA = 0x1234
	card.MaxFreqKHz = uint32(host.MaxFreqKHz)
	if slot.Width >= 4 && host.Flags.Has(hal.Flag4Bit) {
		card.LogBusWidth = 2
	}
	pkg.LogDebug(pkg.ComponentHAL, "sim card probed",
		"sectors", card.CSD.Capacity,
		"sectorSize", card.CSD.SectorSize)
	return nil
}

// ReadSectors reads whole sectors from the inserted card.
func (h *Host) ReadSectors(card *hal.Card, dst []byte, start uint64) error {
	m, err := h.transfer(OpRead, card, len(dst))
	if err != nil {
		return err
	}
	if _, err := m.ReadAt(dst, int64(start)*int64(card.CSD.SectorSize)); err != nil {
		return pkg.NewDriverError(string(OpRead), pkg.StatusInvalidSize)
	}
	return nil
}

// WriteSectors writes whole sectors to the inserted card.
func (h *Host) WriteSectors(card *hal.Card, src []byte, start uint64) error {
	m, err := h.transfer(OpWrite, card, len(src))
	if err != nil {
		return err
	}
	if _, err := m.WriteAt(src, int64(start)*int64(card.CSD.SectorSize)); err != nil {
		return pkg.NewDriverError(string(OpWrite), pkg.StatusFail)
	}
	return nil
}

// transfer validates a sector transfer and returns the medium to use.
func (h *Host) transfer(op Op, card *hal.Card, n int) (*Media, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if err := h.enter(op); err != nil {
		return nil, err
	}
	if !h.initialized {
		return nil, pkg.NewDriverError(string(op), pkg.StatusInvalidState)
	}
	if h.media == nil {
		return nil, pkg.NewDriverError(string(op), pkg.StatusTimeout)
	}
	if card == nil || card.CSD.SectorSize == 0 || n%int(card.CSD.SectorSize) != 0 {
		return nil, pkg.NewDriverError(string(op), pkg.StatusInvalidSize)
	}
	return h.media, nil
}

// Ensure Host implements the HAL interfaces
var (
	_ hal.HostDriver = (*Host)(nil)
	_ hal.SectorIO   = (*Host)(nil)
)
