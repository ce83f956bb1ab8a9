package pkg

import (
	"errors"
	"fmt"
)

// Bring-up errors.
var (
	// ErrPinInUse indicates a pin is already claimed by another owner.
	ErrPinInUse = errors.New("pin already in use")

	// ErrInvalidPin indicates a pin number that does not exist or was
	// named twice in one pin set.
	ErrInvalidPin = errors.New("invalid pin")

	// ErrNoMemory indicates insufficient memory.
	ErrNoMemory = errors.New("insufficient memory")

	// ErrNoFreeDrive indicates every logical drive slot is registered.
	ErrNoFreeDrive = errors.New("no free drive slot")

	// ErrInvalidPath indicates a mount point that cannot be represented
	// as a file-system path (embedded NUL, invalid UTF-8).
	ErrInvalidPath = errors.New("invalid mount path")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidState indicates the driver is in the wrong state for the operation.
	ErrInvalidState = errors.New("invalid state")

	// ErrNotFound indicates the requested object (card, slot, path) was not found.
	ErrNotFound = errors.New("not found")

	// ErrNotSupported indicates an unsupported operation or feature.
	ErrNotSupported = errors.New("not supported")

	// ErrTimeout indicates the card did not respond in time.
	ErrTimeout = errors.New("timeout")

	// ErrNotReady indicates the logical drive has no medium registered.
	ErrNotReady = errors.New("drive not ready")

	// ErrInvalidDrive indicates a malformed or out-of-range drive name.
	ErrInvalidDrive = errors.New("invalid drive")

	// ErrNoFilesystem indicates no FAT volume was found on the drive.
	ErrNoFilesystem = errors.New("no FAT volume")

	// ErrBusy indicates the resource is held by another process.
	ErrBusy = errors.New("resource busy")

	// ErrDriver indicates a driver failure with no more specific meaning.
	ErrDriver = errors.New("driver failure")

	// ErrClosed indicates the resource has already been torn down.
	ErrClosed = errors.New("already closed")

	// ErrOwned indicates the resource was transferred to another owner
	// and can only be released by that owner.
	ErrOwned = errors.New("owned by another resource")
)

// Status is a numeric result code reported by a host controller or
// file-system driver. Zero is success.
//
// Host controller codes follow esp_err_t; file-system codes follow the
// FatFs FRESULT values. The two ranges do not overlap.
type Status int32

// Host controller status codes.
const (
	StatusOK              Status = 0
	StatusFail            Status = -1
	StatusNoMem           Status = 0x101
	StatusInvalidArg      Status = 0x102
	StatusInvalidState    Status = 0x103
	StatusInvalidSize     Status = 0x104
	StatusNotFound        Status = 0x105
	StatusNotSupported    Status = 0x106
	StatusTimeout         Status = 0x107
	StatusInvalidResponse Status = 0x108
	StatusInvalidCRC      Status = 0x109
	StatusInvalidVersion  Status = 0x10A
)

// File-system status codes.
const (
	FRDiskErr          Status = 1
	FRIntErr           Status = 2
	FRNotReady         Status = 3
	FRNoFile           Status = 4
	FRNoPath           Status = 5
	FRInvalidName      Status = 6
	FRDenied           Status = 7
	FRExist            Status = 8
	FRInvalidObject    Status = 9
	FRWriteProtected   Status = 10
	FRInvalidDrive     Status = 11
	FRNotEnabled       Status = 12
	FRNoFilesystem     Status = 13
	FRMkfsAborted      Status = 14
	FRTimeout          Status = 15
	FRLocked           Status = 16
	FRNotEnoughCore    Status = 17
	FRTooManyOpenFiles Status = 18
	FRInvalidParameter Status = 19
)

var statusNames = map[Status]string{
	StatusOK:              "ESP_OK",
	StatusFail:            "ESP_FAIL",
	StatusNoMem:           "ESP_ERR_NO_MEM",
	StatusInvalidArg:      "ESP_ERR_INVALID_ARG",
	StatusInvalidState:    "ESP_ERR_INVALID_STATE",
	StatusInvalidSize:     "ESP_ERR_INVALID_SIZE",
	StatusNotFound:        "ESP_ERR_NOT_FOUND",
	StatusNotSupported:    "ESP_ERR_NOT_SUPPORTED",
	StatusTimeout:         "ESP_ERR_TIMEOUT",
	StatusInvalidResponse: "ESP_ERR_INVALID_RESPONSE",
	StatusInvalidCRC:      "ESP_ERR_INVALID_CRC",
	StatusInvalidVersion:  "ESP_ERR_INVALID_VERSION",
	FRDiskErr:             "FR_DISK_ERR",
	FRIntErr:              "FR_INT_ERR",
	FRNotReady:            "FR_NOT_READY",
	FRNoFile:              "FR_NO_FILE",
	FRNoPath:              "FR_NO_PATH",
	FRInvalidName:         "FR_INVALID_NAME",
	FRDenied:              "FR_DENIED",
	FRExist:               "FR_EXIST",
	FRInvalidObject:       "FR_INVALID_OBJECT",
	FRWriteProtected:      "FR_WRITE_PROTECTED",
	FRInvalidDrive:        "FR_INVALID_DRIVE",
	FRNotEnabled:          "FR_NOT_ENABLED",
	FRNoFilesystem:        "FR_NO_FILESYSTEM",
	FRMkfsAborted:         "FR_MKFS_ABORTED",
	FRTimeout:             "FR_TIMEOUT",
	FRLocked:              "FR_LOCKED",
	FRNotEnoughCore:       "FR_NOT_ENOUGH_CORE",
	FRTooManyOpenFiles:    "FR_TOO_MANY_OPEN_FILES",
	FRInvalidParameter:    "FR_INVALID_PARAMETER",
}

// String returns the symbolic name of the status code.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Err returns nil for StatusOK and a *DriverError carrying s otherwise.
func (s Status) Err() error {
	if s == StatusOK {
		return nil
	}
	return &DriverError{Status: s}
}

// sentinel maps a status code onto the closest sentinel error.
func (s Status) sentinel() error {
	switch s {
	case StatusNoMem, FRNotEnoughCore:
		return ErrNoMemory
	case StatusInvalidArg, FRInvalidParameter, FRInvalidName:
		return ErrInvalidParameter
	case StatusInvalidState:
		return ErrInvalidState
	case StatusNotFound, FRNoFile, FRNoPath:
		return ErrNotFound
	case StatusNotSupported, FRNotEnabled:
		return ErrNotSupported
	case StatusTimeout, FRTimeout:
		return ErrTimeout
	case FRNotReady:
		return ErrNotReady
	case FRInvalidDrive:
		return ErrInvalidDrive
	case FRNoFilesystem:
		return ErrNoFilesystem
	case FRLocked:
		return ErrBusy
	default:
		return ErrDriver
	}
}

// DriverError reports a non-zero status returned by a driver call.
type DriverError struct {
	Op     string // Driver operation, may be empty
	Status Status // Numeric status reported by the driver
}

// Error implements the error interface.
func (e *DriverError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s (%d)", e.Status, int32(e.Status))
	}
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Status, int32(e.Status))
}

// Unwrap returns the sentinel error matching the status code, so callers
// can test with [errors.Is].
func (e *DriverError) Unwrap() error {
	return e.Status.sentinel()
}

// NewDriverError returns a *DriverError for op, or nil if status is StatusOK.
func NewDriverError(op string, status Status) error {
	if status == StatusOK {
		return nil
	}
	return &DriverError{Op: op, Status: status}
}

// StatusOf extracts the driver status code carried anywhere in err's chain.
// It returns StatusOK, false if err carries no driver status.
func StatusOf(err error) (Status, bool) {
	var de *DriverError
	if errors.As(err, &de) {
		return de.Status, true
	}
	return StatusOK, false
}
