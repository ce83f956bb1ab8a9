package card

import (
	"time"

	"github.com/ardnew/softsd/hal"
)

// Default host parameters of the SDMMC peripheral.
const (
	DefaultSlot       = 1
	DefaultMaxFreqKHz = 20000
	DefaultIOVoltage  = 3.3
)

// Config holds the host controller parameters of a session.
type Config struct {
	Slot           int           // Controller slot the bus is wired to
	Flags          hal.HostFlags // Host capability flags
	MaxFreqKHz     int           // Card clock ceiling
	IOVoltage      float32       // I/O voltage in volts
	CommandTimeout time.Duration // Zero selects the driver default
	Allocator      hal.Allocator // Source of the card descriptor; nil uses a fresh heap
}

// DefaultConfig returns the parameters of the SDMMC peripheral host on
// slot 1: 1, 4 and 8-bit widths with DDR, 20 MHz, 3.3 V.
func DefaultConfig() Config {
	return Config{
		Slot:       DefaultSlot,
		Flags:      hal.DefaultHostFlags,
		MaxFreqKHz: DefaultMaxFreqKHz,
		IOVoltage:  DefaultIOVoltage,
		Allocator:  hal.NewHeap(0),
	}
}

// hostConfig builds the host configuration handed to the driver.
func (c Config) hostConfig() *hal.HostConfig {
	return &hal.HostConfig{
		Flags:          c.Flags,
		Slot:           c.Slot,
		MaxFreqKHz:     c.MaxFreqKHz,
		IOVoltage:      c.IOVoltage,
		CommandTimeout: c.CommandTimeout,
	}
}
