// Package hal defines the Hardware Abstraction Layer interfaces used to
// bring an SD/MMC card online.
//
// The HAL separates the bring-up stack (packages bus, card and volume)
// from the collaborators it orchestrates. Platform vendors implement
// these interfaces; the stack only sequences them.
//
// # Design Principles
//
// The HAL is designed to be:
//   - Minimal: Only the operations the acquisition protocol calls
//   - Generic: No assumptions about a particular controller or FAT driver
//   - Fakeable: Every collaborator is an interface so tests can inject failures
//
// # Interface Overview
//
//   - [GPIO] and [PinHandle]: exclusive claim of physical lines
//   - [HostDriver]: controller bring-up, slot configuration and card probe
//   - [SectorIO]: sector transfers used by the file-system layer
//   - [Registry]: logical drive slots, mount-point bindings and FAT mounts
//   - [Allocator]: card descriptor records, with [Heap] as the default
//
// # Ownership
//
// [Registry.Register] stores the descriptor pointer it is given. The
// caller must keep that record alive, and must not free it, until the
// slot has been cleared again by registering nil.
//
// A simulated HAL for testing is available in [github.com/ardnew/softsd/hal/sim],
// and a disk-image HAL for Linux in [github.com/ardnew/softsd/hal/image].
package hal
