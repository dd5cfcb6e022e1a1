package busdevice

import (
	"context"
	"fmt"
)

// Address identifies a device on the bus. 7-bit addresses are the norm,
// buses that support it may use 10-bit addresses up to MaxAddress.
type Address uint16

const MaxAddress Address = 0x3FF

func (a Address) String() string {
	return fmt.Sprintf("%#02x", uint16(a))
}

// Transport is the bus driver shared by all devices on one physical bus.
// A non-nil error from WriteToAddr or ReadFromAddr means the transfer failed;
// drivers speaking numeric status codes return them as Status.
type Transport interface {
	WriteToAddr(ctx context.Context, address Address, buffer []byte) error
	ReadFromAddr(ctx context.Context, address Address, buffer []byte) error
	Lock(ctx context.Context) error
	Unlock()
}

// Combined is implemented by transports able to write and then read from
// the same address with a repeated start instead of a stop condition.
type Combined interface {
	Tx(ctx context.Context, address Address, w, r []byte) error
}

// Releaser is implemented by transports able to abort a transfer the bus
// controller is stuck in, e.g. after it reported ErrBusBusy. The caller must
// hold the bus.
type Releaser interface {
	Release(ctx context.Context) error
}
