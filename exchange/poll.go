package exchange

import (
	"context"
	"errors"
	"fmt"
)

// ErrStalled is returned by a bounded poller when the awaited flag never
// changed.
var ErrStalled = errors.New("exchange: transceiver stalled")

// Poller waits until ready reports true.
//
// Every wait point of the engine goes through a Poller. The default Spin
// never gives up, so a flag that never transitions blocks the caller forever.
type Poller interface {
	PollUntil(ready func() bool) error
}

// PollerFunc adapts a function to the Poller interface.
type PollerFunc func(ready func() bool) error

func (f PollerFunc) PollUntil(ready func() bool) error {
	return f(ready)
}

// Spin busy-waits without bound, yield or timeout.
type Spin struct{}

func (Spin) PollUntil(ready func() bool) error {
	for !ready() {
	}
	return nil
}

// Bounded gives up after Attempts unsuccessful checks.
type Bounded struct {
	Attempts int
}

func (b Bounded) PollUntil(ready func() bool) error {
	for i := 0; i < b.Attempts; i++ {
		if ready() {
			return nil
		}
	}
	return fmt.Errorf("%w after %d polls", ErrStalled, b.Attempts)
}

// ContextPoller spins until ready or until Ctx is done.
type ContextPoller struct {
	Ctx context.Context
}

func (c ContextPoller) PollUntil(ready func() bool) error {
	for !ready() {
		if err := c.Ctx.Err(); err != nil {
			return fmt.Errorf("exchange: poll aborted: %w", err)
		}
	}
	return nil
}
