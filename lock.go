package busdevice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// BusLock is the mutual exclusion shared by every device on one bus.
// Transports embed it to provide Lock and Unlock. The zero value is unlocked.
type BusLock struct {
	once sync.Once
	sem  chan struct{}
}

func (l *BusLock) init() {
	l.once.Do(func() {
		l.sem = make(chan struct{}, 1)
	})
}

// Lock blocks until the bus is free or ctx is done. An expired deadline
// yields ErrLockTimeout, a cancelled context ErrBusBusy.
func (l *BusLock) Lock(ctx context.Context) error {
	l.init()
	select {
	case l.sem <- struct{}{}:
		return nil
	default:
	}
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
		}
		return fmt.Errorf("%w: %w", ErrBusBusy, ctx.Err())
	}
}

// LockWithin is Lock bounded by timeout. A zero timeout waits as long as ctx allows.
func (l *BusLock) LockWithin(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		return l.Lock(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return l.Lock(ctx)
}

// TryLock acquires the bus only if it is free right now.
func (l *BusLock) TryLock() error {
	l.init()
	select {
	case l.sem <- struct{}{}:
		return nil
	default:
		return ErrBusBusy
	}
}

func (l *BusLock) Unlock() {
	l.init()
	select {
	case <-l.sem:
	default:
		panic("busdevice: unlock of unlocked bus")
	}
}
