package sim

import (
	"log/slog"

	"github.com/gammazero/deque"
	"lautenbacher.net/gospi/exchange"
)

const (
	DefaultDepth   = 8
	DefaultLatency = 6
)

// Counters records how the device was driven.
type Counters struct {
	Writes       int
	Reads        int
	Ticks        int
	Overflows    int // units lost because the receive FIFO was full
	TxOverruns   int // writes while the transmit FIFO was full
	RxUnderruns  int // reads while the receive FIFO was empty
	MaxOccupancy int // highest transmit+receive occupancy seen
}

type pending struct {
	value   uint16
	readyAt int
}

// Loopback simulates the shift register and both FIFOs of the peripheral.
//
// Each ReceiveEmpty query is one clock tick. A unit written at tick t
// reaches the receive FIFO at tick t+latency, in write order. What arrives is
// Responder(unit), or the unit itself when Responder is nil.
//
// Loopback is not safe for concurrent use.
type Loopback struct {
	// Responder models the remote device.
	Responder func(uint16) uint16

	depth   int
	latency int
	con1    uint16
	con2    uint16
	stat    uint16
	tx      deque.Deque[pending]
	rx      deque.Deque[uint16]
	stall   int
	shifted int
	c       Counters
}

// NewLoopback returns an unconfigured loopback with the given FIFO depth and
// latency. A non-positive depth or a negative latency selects the default.
func NewLoopback(depth, latency int) *Loopback {
	if depth <= 0 {
		depth = DefaultDepth
	}
	if latency < 0 {
		latency = DefaultLatency
	}
	l := &Loopback{depth: depth, latency: latency, stall: -1}
	l.tx.Grow(depth)
	l.rx.Grow(depth)
	return l
}

// Configure implements exchange.Device.
func (l *Loopback) Configure(mode exchange.TransferMode) error {
	l.con1 = exchange.ResetCon1
	if mode == exchange.Width16 {
		l.con1 |= exchange.Con1Mode16
	}
	l.con2 = exchange.ResetCon2
	l.stat = exchange.ResetStat
	l.tx.Clear()
	l.rx.Clear()
	slog.Debug("Loopback configured", "mode", mode, "depth", l.depth, "latency", l.latency)
	return nil
}

// Control implements exchange.Device.
func (l *Loopback) Control() uint16 {
	return l.con1
}

// Status implements exchange.Device.
func (l *Loopback) Status() uint16 {
	s := l.stat &^ (exchange.StatusTBF | exchange.StatusRBF | exchange.StatusSRXMPT | exchange.StatusSRMPT)
	if l.tx.Len() >= l.depth {
		s |= exchange.StatusTBF
	}
	if l.rx.Len() == 0 {
		s |= exchange.StatusSRXMPT
	}
	if l.rx.Len() >= l.depth {
		s |= exchange.StatusRBF
	}
	if l.tx.Len() == 0 {
		s |= exchange.StatusSRMPT
	}
	return s
}

// WriteUnit implements exchange.Transceiver.
func (l *Loopback) WriteUnit(v uint16) {
	l.c.Writes++
	if l.tx.Len() >= l.depth {
		l.c.TxOverruns++
		return
	}
	l.tx.PushBack(pending{value: v & l.mask(), readyAt: l.c.Ticks + l.latency})
	l.track()
	if l.latency == 0 {
		l.shift()
	}
}

// ReadUnit implements exchange.Transceiver.
func (l *Loopback) ReadUnit() uint16 {
	l.c.Reads++
	if l.rx.Len() == 0 {
		l.c.RxUnderruns++
		return 0
	}
	return l.rx.PopFront()
}

// TransmitFull implements exchange.Transceiver.
func (l *Loopback) TransmitFull() bool {
	return l.tx.Len() >= l.depth
}

// ReceiveEmpty implements exchange.Transceiver. Every call advances the
// clock by one tick.
func (l *Loopback) ReceiveEmpty() bool {
	l.c.Ticks++
	l.shift()
	return l.rx.Len() == 0
}

// StallAfter stops the shift register after n more units, so the receive
// side never becomes ready again. A negative n clears the fault.
func (l *Loopback) StallAfter(n int) {
	if n < 0 {
		l.stall = -1
		return
	}
	l.stall = l.shifted + n
}

// Counters returns a copy of the access counters.
func (l *Loopback) Counters() Counters {
	return l.c
}

// Pending returns the number of units inside the device on either side.
func (l *Loopback) Pending() int {
	return l.tx.Len() + l.rx.Len()
}

func (l *Loopback) mask() uint16 {
	if exchange.ModeOf(l.con1) == exchange.Width16 {
		return 0xFFFF
	}
	return 0x00FF
}

func (l *Loopback) shift() {
	for l.tx.Len() != 0 && l.tx.Front().readyAt <= l.c.Ticks {
		if l.stall >= 0 && l.shifted >= l.stall {
			return
		}
		p := l.tx.PopFront()
		l.shifted++
		v := p.value
		if l.Responder != nil {
			v = l.Responder(v) & l.mask()
		}
		if l.rx.Len() >= l.depth {
			l.c.Overflows++
			l.stat |= exchange.StatusSPIROV
			continue
		}
		l.rx.PushBack(v)
	}
}

func (l *Loopback) track() {
	if n := l.tx.Len() + l.rx.Len(); n > l.c.MaxOccupancy {
		l.c.MaxOccupancy = n
	}
}

var _ exchange.Device = &Loopback{}
