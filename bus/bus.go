package bus

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/ardnew/softsd/hal"
	"github.com/ardnew/softsd/pkg"
)

// PinSet names the six signal lines of a 4-bit SD bus.
type PinSet struct {
	CLK hal.Pin
	CMD hal.Pin
	D0  hal.Pin
	D1  hal.Pin
	D2  hal.Pin
	D3  hal.Pin
}

// DefaultPinSet returns the IOMUX pins of SDMMC slot 1 on the ESP32.
func DefaultPinSet() PinSet {
	return PinSet{
		CLK: 14,
		CMD: 15,
		D0:  2,
		D1:  4,
		D2:  12,
		D3:  13,
	}
}

// claimOrder returns the pins in the order they are claimed.
func (p PinSet) claimOrder() [NumPins]hal.Pin {
	return [NumPins]hal.Pin{p.CMD, p.CLK, p.D0, p.D1, p.D2, p.D3}
}

// Validate checks that every pin is a real line and that no pin is named
// twice.
func (p PinSet) Validate() error {
	seen := make(map[hal.Pin]bool, NumPins)
	for _, pin := range p.claimOrder() {
		if pin < 0 {
			return fmt.Errorf("%w: %v", pkg.ErrInvalidPin, pin)
		}
		if seen[pin] {
			return fmt.Errorf("%w: %v named twice", pkg.ErrInvalidPin, pin)
		}
		seen[pin] = true
	}
	return nil
}

// Binding holds the six claimed lines of a bus. All six are held for the
// life of the binding.
type Binding struct {
	pins     PinSet
	handles  []hal.PinHandle // claim order
	released bool
	mutex    sync.Mutex
}

// Bind claims the pins of p as bidirectional lines. If any claim fails,
// the pins already claimed are released before the error is returned.
func Bind(gpio hal.GPIO, p PinSet) (*Binding, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	handles := make([]hal.PinHandle, 0, NumPins)
	for _, pin := range p.claimOrder() {
		h, err := gpio.Claim(pin)
		if err != nil {
			for i := len(handles) - 1; i >= 0; i-- {
				if rerr := handles[i].Release(); rerr != nil {
					pkg.LogWarn(pkg.ComponentBus, "release during rollback failed",
						"pin", handles[i].Pin(),
						"error", rerr)
				}
			}
			pkg.LogDebug(pkg.ComponentBus, "bind failed", "pin", pin, "error", err)
			return nil, fmt.Errorf("claim %v: %w", pin, err)
		}
		handles = append(handles, h)
	}

	pkg.LogDebug(pkg.ComponentBus, "bus bound",
		"clk", p.CLK,
		"cmd", p.CMD,
		"d0", p.D0,
		"d3", p.D3)
	return &Binding{pins: p, handles: handles}, nil
}

// Pins returns the bound pin set.
func (b *Binding) Pins() PinSet {
	return b.pins
}

// SlotConfig returns the slot configuration for a 4-bit bus on the bound
// pins, with no card-detect or write-protect lines.
func (b *Binding) SlotConfig() *hal.SlotConfig {
	return &hal.SlotConfig{
		Width: Width,
		CLK:   b.pins.CLK,
		CMD:   b.pins.CMD,
		D0:    b.pins.D0,
		D1:    b.pins.D1,
		D2:    b.pins.D2,
		D3:    b.pins.D3,
		D4:    hal.NoPin,
		D5:    hal.NoPin,
		D6:    hal.NoPin,
		D7:    hal.NoPin,
		CD:    hal.NoPin,
		WP:    hal.NoPin,
	}
}

// Released returns true once Release has run.
func (b *Binding) Released() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.released
}

// Release returns every pin, last claimed first. Failures are collected
// and returned together; the remaining pins are still released. Calling
// Release again does nothing.
func (b *Binding) Release() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.released {
		return nil
	}
	b.released = true

	var result *multierror.Error
	for i := len(b.handles) - 1; i >= 0; i-- {
		if err := b.handles[i].Release(); err != nil {
			result = multierror.Append(result, fmt.Errorf("release %v: %w", b.handles[i].Pin(), err))
		}
	}
	b.handles = nil

	if err := result.ErrorOrNil(); err != nil {
		pkg.LogWarn(pkg.ComponentBus, "bus release incomplete", "error", err)
		return err
	}
	pkg.LogDebug(pkg.ComponentBus, "bus released")
	return nil
}
