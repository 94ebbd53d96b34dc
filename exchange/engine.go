package exchange

import (
	"errors"
	"fmt"
	"log/slog"
)

// DefaultFIFOLimit is the number of units kept in flight when Options does
// not say otherwise. It matches the depth of the enhanced buffer.
const DefaultFIFOLimit = 8

// ErrShortBuffer is returned when a caller buffer cannot hold the requested
// number of units.
var ErrShortBuffer = errors.New("exchange: buffer shorter than unit count")

// Transceiver is the register-level primitive the engine drives.
//
// WriteUnit must only be called when TransmitFull is false and ReadUnit only
// when ReceiveEmpty is false. The engine guarantees both.
type Transceiver interface {
	WriteUnit(v uint16)
	ReadUnit() uint16
	TransmitFull() bool
	ReceiveEmpty() bool
}

// Observer is told about every unit the engine pushes or pops, together with
// the in-flight count after the operation.
type Observer interface {
	Pushed(unit uint16, inFlight int)
	Popped(unit uint16, inFlight int)
}

// Options tune an Engine. The zero value gives the defaults.
type Options struct {
	// FIFOLimit caps the units pushed but not yet drained. 0 means
	// DefaultFIFOLimit.
	FIFOLimit int
	// Dummy is sent when there is no transmit buffer.
	Dummy uint16
	// Poller implements every wait. nil means Spin.
	Poller Poller
	// Observer, if set, sees every push and pop.
	Observer Observer
}

// Engine performs blocking unit exchanges over a Transceiver. It keeps no
// state between calls and does no locking; see Peripheral.
type Engine struct {
	xcvr     Transceiver
	poll     Poller
	limit    int
	dummy    uint16
	observer Observer
}

func NewEngine(x Transceiver, opts Options) *Engine {
	e := &Engine{
		xcvr:     x,
		poll:     opts.Poller,
		limit:    opts.FIFOLimit,
		dummy:    opts.Dummy,
		observer: opts.Observer,
	}
	if e.poll == nil {
		e.poll = Spin{}
	}
	if e.limit <= 0 {
		e.limit = DefaultFIFOLimit
	}
	return e
}

// FIFOLimit returns the in-flight cap.
func (e *Engine) FIFOLimit() int {
	return e.limit
}

func (e *Engine) transmitReady() bool {
	return !e.xcvr.TransmitFull()
}

func (e *Engine) receiveReady() bool {
	return !e.xcvr.ReceiveEmpty()
}

// Exchange sends one unit and returns the unit received in the same slot.
func (e *Engine) Exchange(mode TransferMode, unit uint16) (uint16, error) {
	if err := e.poll.PollUntil(e.transmitReady); err != nil {
		return 0, err
	}
	e.xcvr.WriteUnit(unit & mode.mask())
	if err := e.poll.PollUntil(e.receiveReady); err != nil {
		return 0, err
	}
	return e.xcvr.ReadUnit() & mode.mask(), nil
}

// ExchangeBuffer clocks units units through the transceiver and returns how
// many were sent.
//
// tx may be nil, in which case the dummy unit is sent for every slot. rx may
// be nil, in which case received units are read and dropped. 16-bit units are
// little-endian in both buffers.
//
// Pushes stop while FIFOLimit units are in flight, and received units are
// drained on every pass so the receive side never overflows. Once all units
// are sent the remaining in-flight units are drained before returning. With
// the default poller the only possible return is (units, nil).
func (e *Engine) ExchangeBuffer(mode TransferMode, tx []byte, units int, rx []byte) (int, error) {
	if units <= 0 {
		return 0, nil
	}
	send := newCursor(tx, mode, e.dummy)
	recv := newCursor(rx, mode, 0)
	if !send.fits(units) {
		return 0, fmt.Errorf("%w: tx has %d bytes, need %d", ErrShortBuffer, len(tx), units*mode.UnitSize())
	}
	if !recv.fits(units) {
		return 0, fmt.Errorf("%w: rx has %d bytes, need %d", ErrShortBuffer, len(rx), units*mode.UnitSize())
	}
	slog.Debug("exchange buffer", "mode", mode, "units", units, "tx", tx != nil, "rx", rx != nil)

	if err := e.poll.PollUntil(e.transmitReady); err != nil {
		return 0, err
	}

	sent, inFlight := 0, 0
	for sent < units {
		if inFlight < e.limit {
			v := send.current()
			e.xcvr.WriteUnit(v)
			send.advance()
			sent++
			inFlight++
			if e.observer != nil {
				e.observer.Pushed(v, inFlight)
			}
		} else if err := e.poll.PollUntil(e.receiveReady); err != nil {
			return sent, err
		}

		if !e.xcvr.ReceiveEmpty() {
			v := e.xcvr.ReadUnit() & mode.mask()
			recv.store(v)
			recv.advance()
			inFlight--
			if e.observer != nil {
				e.observer.Popped(v, inFlight)
			}
		}
	}

	for inFlight > 0 {
		if err := e.poll.PollUntil(e.receiveReady); err != nil {
			return sent, err
		}
		v := e.xcvr.ReadUnit() & mode.mask()
		recv.store(v)
		recv.advance()
		inFlight--
		if e.observer != nil {
			e.observer.Popped(v, inFlight)
		}
	}
	return sent, nil
}

// Observers fans out to several observers; nil entries are skipped.
func Observers(obs ...Observer) Observer {
	var out multiObserver
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

type multiObserver []Observer

func (m multiObserver) Pushed(unit uint16, inFlight int) {
	for _, o := range m {
		o.Pushed(unit, inFlight)
	}
}

func (m multiObserver) Popped(unit uint16, inFlight int) {
	for _, o := range m {
		o.Popped(unit, inFlight)
	}
}
