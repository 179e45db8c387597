package nrfota

import (
	"errors"
	"fmt"
	"time"
)

// Phase names the step of the DFU conversation an error belongs to.
type Phase string

const (
	PhaseStart    Phase = "start"
	PhaseInit     Phase = "init"
	PhaseTransfer Phase = "transfer"
	PhaseValidate Phase = "validate"
	PhaseActivate Phase = "activate"
)

// dfuError marks every error kind this package produces, so callers can
// distinguish DFU failures from unrelated errors with IsDFUError.
type dfuError interface {
	dfuError()
}

// IsDFUError reports whether err (or anything it wraps) originated from the
// DFU process.
func IsDFUError(err error) bool {
	for err != nil {
		if _, ok := err.(dfuError); ok {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// BundleMalformedError means the DFU ZIP could not be used: missing or
// invalid manifest, missing archive entries, or a failed manifest CRC check.
type BundleMalformedError struct {
	Reason string
}

func (e *BundleMalformedError) Error() string {
	return "malformed DFU bundle: " + e.Reason
}

func (e *BundleMalformedError) dfuError() {}

// BundleUnsupportedError means the manifest declares an image group outside
// the recognized set, or a softdevice_bootloader group without its
// sd_size/bl_size split.
type BundleUnsupportedError struct {
	Group string
}

func (e *BundleUnsupportedError) Error() string {
	return fmt.Sprintf("unsupported image group %q in DFU manifest", e.Group)
}

func (e *BundleUnsupportedError) dfuError() {}

// DeviceNotFoundError means a scan or post-reboot rediscovery exhausted its
// timeout without a match.
type DeviceNotFoundError struct {
	Query   string
	Timeout time.Duration
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("device %q not found within %s", e.Query, e.Timeout)
}

func (e *DeviceNotFoundError) dfuError() {}

// GattError wraps a failure reported by the BLE stack: connection loss,
// missing characteristics, or a failed write.
type GattError struct {
	Reason string
	Err    error
}

func (e *GattError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gatt: %s: %v", e.Reason, e.Err)
	}
	return "gatt: " + e.Reason
}

func (e *GattError) Unwrap() error { return e.Err }

func (e *GattError) dfuError() {}

// ErrNoDFUService is returned when the connected device does not expose the
// legacy DFU service.
var ErrNoDFUService = &GattError{Reason: "legacy DFU service not found on device"}

// ProtocolError means the target answered an operation with a non-success
// status code.
type ProtocolError struct {
	Op     OpCode
	Status Status
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("target rejected %s: %s", e.Op, e.Status)
}

func (e *ProtocolError) dfuError() {}

// TimeoutError means the host gave up waiting for a response, receipt or
// activation disconnect.
type TimeoutError struct {
	Phase Phase
	Wait  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting on target in %s phase", e.Wait, e.Phase)
}

func (e *TimeoutError) dfuError() {}

// ByteCountMismatchError means a receipt notification reported a byte count
// different from what the host has sent. The transfer is aborted; the
// bootloader remains resident, so a retry starts over from START_DFU.
type ByteCountMismatchError struct {
	Sent     uint32
	Reported uint32
}

func (e *ByteCountMismatchError) Error() string {
	return fmt.Sprintf("receipt byte count mismatch: sent %d, target reports %d", e.Sent, e.Reported)
}

func (e *ByteCountMismatchError) dfuError() {}
