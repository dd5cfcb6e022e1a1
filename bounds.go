package busdevice

import (
	"fmt"
	"math"
)

// Unbounded used as the end of a slice request selects everything up to the
// end of the buffer.
const Unbounded = math.MaxInt

// ByteRange is a validated [Offset, Offset+Length) window of a buffer.
type ByteRange struct {
	Offset int
	Length int
}

// Slice returns the part of buf selected by the range. It does not copy.
func (r ByteRange) Slice(buf []byte) []byte {
	return buf[r.Offset : r.Offset+r.Length]
}

// Normalize turns a [start, end) request against a buffer of the given length
// into an absolute range. Empty ranges are valid; callers decide whether they
// accept them. Negative indexes are rejected.
func Normalize(length, start, end int) (ByteRange, error) {
	if end == Unbounded {
		end = length
	}
	if start < 0 || start > length {
		return ByteRange{}, fmt.Errorf("%w: start %d, buffer length %d", ErrOutOfRange, start, length)
	}
	if end < start || end > length {
		return ByteRange{}, fmt.Errorf("%w: end %d, start %d, buffer length %d", ErrOutOfRange, end, start, length)
	}
	return ByteRange{Offset: start, Length: end - start}, nil
}

// normalizeNonEmpty is the transaction-level policy: a transfer moves at
// least one byte.
func normalizeNonEmpty(buf []byte, start, end int) (ByteRange, error) {
	r, err := Normalize(len(buf), start, end)
	if err != nil {
		return r, err
	}
	if r.Length == 0 {
		return r, fmt.Errorf("%w: buffer must be at least length 1", ErrInvalidArgument)
	}
	return r, nil
}
