// Package sim provides a simulated HAL for bringing up SD cards without
// hardware.
//
// This package implements [hal.GPIO], [hal.HostDriver] and [hal.SectorIO]
// entirely in memory. It is designed for testing and demonstration: every
// operation can be made to fail with a chosen status code, and the host
// records the order in which operations were invoked.
//
// # Usage
//
//	gpio := sim.NewGPIO(sim.ESP32Pins)
//	host := sim.NewHost(gpio)
//	host.Insert(sim.NewMedia(2880, 512))
//
//	binding, err := bus.Bind(gpio, bus.DefaultPinSet())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	session, err := card.Open(binding, host, card.DefaultConfig())
//
// # Fault Injection
//
//	host.Fail(sim.OpProbe, pkg.StatusNotFound)   // next probes report 261
//	gpio.FailClaim(15, pkg.ErrPinInUse)          // claims of GPIO15 fail
//
// # Media
//
// [Media] stores sectors sparsely, so a card advertising gigabytes of
// capacity costs memory only for sectors that were written. It exposes
// the go-fs block device method set and can be formatted with
// [github.com/ardnew/softsd/fatfs.Format].
package sim
