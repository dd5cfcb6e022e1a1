package busdevice

import "log/slog"

// ProbeMode selects the transfer used to detect a device.
type ProbeMode int

const (
	// ProbeRead reads a single byte from the device.
	ProbeRead ProbeMode = iota
	// ProbeWrite sends a zero-length write, for devices that must not be read
	// unprompted.
	ProbeWrite
)

func (m ProbeMode) String() string {
	switch m {
	case ProbeWrite:
		return "write"
	default:
		return "read"
	}
}

type DeviceConfig struct {
	Probe     bool
	ProbeMode ProbeMode
	Logger    *slog.Logger
}

type DeviceOption func(*DeviceConfig)

// WithProbe controls whether New checks for the device. Probing is on by default.
func WithProbe(probe bool) DeviceOption {
	return func(c *DeviceConfig) {
		c.Probe = probe
	}
}

func WithProbeMode(mode ProbeMode) DeviceOption {
	return func(c *DeviceConfig) {
		c.ProbeMode = mode
	}
}

func WithLogger(logger *slog.Logger) DeviceOption {
	return func(c *DeviceConfig) {
		c.Logger = logger
	}
}

type bounds struct {
	start int
	end   int
}

func wholeBuffer() bounds {
	return bounds{start: 0, end: Unbounded}
}

// SliceOption restricts a Write or ReadInto to part of the buffer, as if
// buffer[start:end] was passed, without copying.
type SliceOption func(*bounds)

func WithStart(start int) SliceOption {
	return func(b *bounds) {
		b.start = start
	}
}

func WithEnd(end int) SliceOption {
	return func(b *bounds) {
		b.end = end
	}
}

type transferBounds struct {
	out bounds
	in  bounds
}

// TransferOption restricts either side of a WriteThenRead.
type TransferOption func(*transferBounds)

func WithOutStart(start int) TransferOption {
	return func(t *transferBounds) {
		t.out.start = start
	}
}

func WithOutEnd(end int) TransferOption {
	return func(t *transferBounds) {
		t.out.end = end
	}
}

func WithInStart(start int) TransferOption {
	return func(t *transferBounds) {
		t.in.start = start
	}
}

func WithInEnd(end int) TransferOption {
	return func(t *transferBounds) {
		t.in.end = end
	}
}
