// Package card brings up an SD host controller and probes the card on it.
//
// [Open] runs the bring-up in order: controller init, slot init on the
// bound pins, descriptor allocation, card probe. Each step runs only if
// the previous one succeeded. When a step fails, the steps before it are
// undone (controller deinit, descriptor free) and the bus binding is
// released before the error is returned, so a failed Open holds nothing.
//
// Errors name the failing step and wrap the driver's [pkg.DriverError];
// use [pkg.StatusOf] to recover the numeric status.
//
// # Ownership
//
// A [Session] is owned by its caller until it is handed to a mounted
// volume with [Session.Transfer]. From then on [Session.Close] refuses
// with [pkg.ErrOwned], and only the volume can tear the session down.
package card
