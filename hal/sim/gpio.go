package sim

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ardnew/softsd/hal"
	"github.com/ardnew/softsd/pkg"
)

// ESP32Pins is the number of GPIO lines on an ESP32.
const ESP32Pins = 40

// GPIO is a simulated pin controller. It tracks which pins are claimed
// and can be told to fail individual claims.
type GPIO struct {
	numPins int
	claimed map[hal.Pin]*pinHandle
	faults  map[hal.Pin]error
	mutex   sync.Mutex
}

// NewGPIO creates a controller with pins 0 through numPins-1.
func NewGPIO(numPins int) *GPIO {
	return &GPIO{
		numPins: numPins,
		claimed: make(map[hal.Pin]*pinHandle),
		faults:  make(map[hal.Pin]error),
	}
}

// Claim claims pin as an input/output line.
func (g *GPIO) Claim(pin hal.Pin) (hal.PinHandle, error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if err, ok := g.faults[pin]; ok {
		return nil, err
	}
	if pin < 0 || int(pin) >= g.numPins {
		return nil, fmt.Errorf("%w: %v", pkg.ErrInvalidPin, pin)
	}
	if _, ok := g.claimed[pin]; ok {
		return nil, fmt.Errorf("%w: %v", pkg.ErrPinInUse, pin)
	}

	h := &pinHandle{gpio: g, pin: pin}
	g.claimed[pin] = h
	pkg.LogDebug(pkg.ComponentHAL, "pin claimed", "pin", pin)
	return h, nil
}

// FailClaim makes every future claim of pin return err.
// A nil err removes the fault.
func (g *GPIO) FailClaim(pin hal.Pin, err error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	if err == nil {
		delete(g.faults, pin)
		return
	}
	g.faults[pin] = err
}

// IsClaimed returns true if pin is currently claimed.
func (g *GPIO) IsClaimed(pin hal.Pin) bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	_, ok := g.claimed[pin]
	return ok
}

// Claimed returns the claimed pins in ascending order.
func (g *GPIO) Claimed() []hal.Pin {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	pins := make([]hal.Pin, 0, len(g.claimed))
	for p := range g.claimed {
		pins = append(pins, p)
	}
	sort.Slice(pins, func(i, j int) bool { return pins[i] < pins[j] })
	return pins
}

func (g *GPIO) release(h *pinHandle) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if cur, ok := g.claimed[h.pin]; !ok || cur != h {
		return fmt.Errorf("%w: %v not held by this handle", pkg.ErrInvalidState, h.pin)
	}
	delete(g.claimed, h.pin)
	pkg.LogDebug(pkg.ComponentHAL, "pin released", "pin", h.pin)
	return nil
}

// pinHandle is a claimed pin.
type pinHandle struct {
	gpio *GPIO
	pin  hal.Pin
}

// Pin returns the pin number.
func (h *pinHandle) Pin() hal.Pin {
	return h.pin
}

// Release returns the pin to the controller.
func (h *pinHandle) Release() error {
	return h.gpio.release(h)
}

// Ensure GPIO implements hal.GPIO
var _ hal.GPIO = (*GPIO)(nil)
