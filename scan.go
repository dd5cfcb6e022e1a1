package busdevice

import (
	"context"
	"fmt"
)

// 7-bit addresses 0b0000xxx and 0b1111xxx are reserved.
const (
	firstScanAddress Address = 0x08
	lastScanAddress  Address = 0x77
)

type ScanConfig struct {
	Mode ProbeMode
}

type ScanOption func(*ScanConfig)

func WithScanMode(mode ProbeMode) ScanOption {
	return func(c *ScanConfig) {
		c.Mode = mode
	}
}

// Scan probes every non-reserved 7-bit address while holding the bus and
// returns the addresses that answered, in ascending order.
func Scan(ctx context.Context, transport Transport, opts ...ScanOption) ([]Address, error) {
	config := ScanConfig{Mode: ProbeRead}
	for _, opt := range opts {
		opt(&config)
	}
	if err := transport.Lock(ctx); err != nil {
		return nil, fmt.Errorf("could not lock bus for scan: %w", err)
	}
	defer transport.Unlock()
	var found []Address
	for addr := firstScanAddress; addr <= lastScanAddress; addr++ {
		if err := ctx.Err(); err != nil {
			return found, fmt.Errorf("scan interrupted at %s: %w", addr, err)
		}
		if probe(ctx, transport, addr, config.Mode) == nil {
			found = append(found, addr)
		}
	}
	return found, nil
}
