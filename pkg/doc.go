// Package pkg provides shared utilities for the softsd card bring-up stack.
//
// This package contains common functionality used by the bus, card and
// volume layers and by every HAL backend, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for pin, memory, drive-slot and path failures
//   - Numeric driver status codes ([Status]) and [DriverError]
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component tag:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentCard, "card probed", "capacity", capacity)
//
// Failures that happen while unwinding a failed acquisition, or while
// tearing down a live resource, are logged at warn level and never replace
// the error being reported.
//
// # Errors
//
// Driver calls report numeric status codes. A non-zero code becomes a
// [*DriverError] whose Unwrap maps onto a sentinel:
//
//	if errors.Is(err, pkg.ErrNoMemory) {
//	    // Handle allocation failure
//	}
//	if status, ok := pkg.StatusOf(err); ok {
//	    // status is the raw code, e.g. pkg.StatusNotFound
//	}
package pkg
