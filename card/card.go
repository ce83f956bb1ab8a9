package card

import (
	"fmt"
	"sync"

	"github.com/ardnew/softsd/bus"
	"github.com/ardnew/softsd/hal"
	"github.com/ardnew/softsd/pkg"
)

// state is the ownership state of a session.
type state uint8

const (
	stateOpen   state = iota // Owned by the caller
	stateOwned               // Transferred; only the new owner may release it
	stateClosed              // Torn down
)

// Session is an initialized host controller paired with a probed card.
// It owns the bus binding, the host configuration and the card descriptor.
type Session struct {
	binding *bus.Binding
	driver  hal.HostDriver
	alloc   hal.Allocator
	host    *hal.HostConfig // referenced by the driver while the session lives
	card    *hal.Card

	initialized bool // host controller is up
	state       state
	mutex       sync.Mutex
}

// Open brings up the host controller on the slot wired to b and probes
// the card. Open takes ownership of b: on failure everything acquired is
// released, b included, and the first error is returned.
func Open(b *bus.Binding, drv hal.HostDriver, cfg Config) (*Session, error) {
	if b == nil || drv == nil {
		if b != nil {
			b.Release()
		}
		return nil, fmt.Errorf("open session: %w", pkg.ErrInvalidParameter)
	}
	alloc := cfg.Allocator
	if alloc == nil {
		alloc = hal.NewHeap(0)
	}

	s := &Session{binding: b, driver: drv, alloc: alloc}
	ok := false
	defer func() {
		if !ok {
			s.release()
		}
	}()

	if err := drv.Init(); err != nil {
		return nil, fmt.Errorf("init host: %w", err)
	}
	s.initialized = true

	s.host = cfg.hostConfig()
	if err := drv.InitSlot(cfg.Slot, b.SlotConfig()); err != nil {
		return nil, fmt.Errorf("init slot %d: %w", cfg.Slot, err)
	}

	s.card = alloc.Alloc()
	if s.card == nil {
		return nil, fmt.Errorf("allocate card descriptor (%d bytes): %w", hal.CardSize, pkg.ErrNoMemory)
	}

	if err := drv.ProbeCard(s.host, s.card); err != nil {
		return nil, fmt.Errorf("probe card: %w", err)
	}

	ok = true
	pkg.LogInfo(pkg.ComponentCard, "card ready",
		"name", s.card.CID.ProductName(),
		"sectors", s.card.CSD.Capacity,
		"sectorSize", s.card.CSD.SectorSize,
		"busWidth", s.card.BusWidth(),
		"maxFreqKHz", s.card.MaxFreqKHz)
	return s, nil
}

// release tears down whatever the session holds: controller first, then
// the descriptor, then the pins.
func (s *Session) release() {
	if s.initialized {
		if err := s.driver.Deinit(); err != nil {
			pkg.LogWarn(pkg.ComponentCard, "host deinit failed", "error", err)
		}
		s.initialized = false
	}
	if s.card != nil {
		s.alloc.Free(s.card)
		s.card = nil
	}
	if s.binding != nil {
		if err := s.binding.Release(); err != nil {
			pkg.LogWarn(pkg.ComponentCard, "bus release failed", "error", err)
		}
		s.binding = nil
	}
	s.host = nil
}

// Capacity returns the card size in bytes.
func (s *Session) Capacity() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.card == nil {
		return 0
	}
	return s.card.Size()
}

// SectorSize returns the card sector size in bytes.
func (s *Session) SectorSize() uint32 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.card == nil {
		return 0
	}
	return s.card.CSD.SectorSize
}

// ReadBlockLen returns the maximum read block length in bytes.
func (s *Session) ReadBlockLen() uint32 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.card == nil {
		return 0
	}
	return s.card.CSD.ReadBlockLen
}

// Card returns a copy of the card descriptor.
func (s *Session) Card() hal.Card {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.card == nil {
		return hal.Card{}
	}
	return *s.card
}

// HostConfig returns the host configuration the card was probed with.
func (s *Session) HostConfig() hal.HostConfig {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.host == nil {
		return hal.HostConfig{}
	}
	return *s.host
}

// Driver returns the host driver of the session.
func (s *Session) Driver() hal.HostDriver {
	return s.driver
}

// Available returns nil if the caller still owns the session, ErrOwned if
// it was transferred, or ErrClosed if it was torn down.
func (s *Session) Available() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.availableLocked()
}

func (s *Session) availableLocked() error {
	switch s.state {
	case stateOwned:
		return pkg.ErrOwned
	case stateClosed:
		return pkg.ErrClosed
	}
	return nil
}

// Transfer hands the session to a new owner. The returned function is the
// only way to tear the session down afterwards; Close returns ErrOwned.
func (s *Session) Transfer() (func() error, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.availableLocked(); err != nil {
		return nil, err
	}
	s.state = stateOwned
	return s.teardown, nil
}

// teardown releases a transferred session. Repeated calls do nothing.
func (s *Session) teardown() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.state == stateClosed {
		return nil
	}
	s.state = stateClosed
	s.release()
	pkg.LogDebug(pkg.ComponentCard, "session closed by owner")
	return nil
}

// Close deinitializes the host controller, frees the card descriptor and
// releases the bus. Failures are logged. Closing a closed session does
// nothing; closing a transferred session returns ErrOwned.
func (s *Session) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	switch s.state {
	case stateOwned:
		return pkg.ErrOwned
	case stateClosed:
		return nil
	}
	s.state = stateClosed
	s.release()
	pkg.LogDebug(pkg.ComponentCard, "session closed")
	return nil
}
