package busdevice

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrOutOfRange      = fmt.Errorf("index out of range")
	ErrDeviceNotFound  = fmt.Errorf("device not found")
	ErrBusBusy         = fmt.Errorf("bus is busy")
	ErrLockTimeout     = fmt.Errorf("timed out waiting for bus lock")
	ErrAlreadyLocked   = fmt.Errorf("device already locked")
	ErrTransport       = fmt.Errorf("transport error")
)

// Status is a raw status code reported by a bus driver. It is passed through
// to the caller unmodified.
type Status int

func (s Status) Error() string {
	return fmt.Sprintf("bus status %#02x", int(s))
}

// TransportError is returned by device transactions when the transport
// rejected a write or a read.
type TransportError struct {
	Op      string
	Address Address
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.Address, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// Status returns the status code reported by the transport, if it reported one.
func (e *TransportError) Status() (Status, bool) {
	var st Status
	if errors.As(e.Err, &st) {
		return st, true
	}
	return 0, false
}
