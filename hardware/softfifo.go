package hardware

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gammazero/deque"
	"lautenbacher.net/gospi/exchange"
)

// TxFunc performs one full duplex transfer. r has the length of w.
type TxFunc func(w, r []byte) error

// SoftFIFO adapts a byte oriented, synchronous SPI link to exchange.Device.
//
// Every WriteUnit is clocked out immediately and its answer queued in a
// receive FIFO of the given depth, so the transmit side is never full.
// 16-bit units are sent most significant byte first.
//
// A failed transfer queues a zero in place of the answer so that the engine
// always drains. The first failure is kept and reported by Err until the
// next Configure.
type SoftFIFO struct {
	name   string
	tx     TxFunc
	closer io.Closer
	depth  int

	mu       sync.Mutex
	con1     uint16
	rx       deque.Deque[uint16]
	overflow bool
	err      error
	w, r     [2]byte
}

// NewSoftFIFO returns an unconfigured device named name. closer, if not nil,
// releases the link on Close.
func NewSoftFIFO(name string, depth int, tx TxFunc, closer io.Closer) *SoftFIFO {
	if depth <= 0 {
		depth = exchange.DefaultFIFOLimit
	}
	s := &SoftFIFO{
		name:   name,
		tx:     tx,
		closer: closer,
		depth:  depth,
		con1:   exchange.ResetCon1,
	}
	s.rx.Grow(depth)
	return s
}

func (s *SoftFIFO) String() string {
	return s.name
}

// Configure implements exchange.Device.
func (s *SoftFIFO) Configure(mode exchange.TransferMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch mode {
	case exchange.Width8:
		s.con1 = exchange.ResetCon1
	case exchange.Width16:
		s.con1 = exchange.ResetCon1 | exchange.Con1Mode16
	default:
		return fmt.Errorf("%s: unsupported transfer mode %s", s.name, mode)
	}
	s.rx.Clear()
	s.overflow = false
	s.err = nil
	return nil
}

func (s *SoftFIFO) Control() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.con1
}

func (s *SoftFIFO) Status() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	stat := exchange.ResetStat | exchange.StatusSRMPT
	if s.rx.Len() == 0 {
		stat |= exchange.StatusSRXMPT
	} else {
		stat |= exchange.StatusRBF
	}
	if s.overflow {
		stat |= exchange.StatusSPIROV
	}
	return stat
}

func (s *SoftFIFO) WriteUnit(v uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var w, r []byte
	if s.con1&exchange.Con1Mode16 != 0 {
		s.w[0], s.w[1] = byte(v>>8), byte(v)
		w, r = s.w[:2], s.r[:2]
	} else {
		s.w[0] = byte(v)
		w, r = s.w[:1], s.r[:1]
	}
	clear(r)

	var got uint16
	if err := s.tx(w, r); err != nil {
		slog.Error("SPI transfer failed", "device", s.name, "error", err)
		if s.err == nil {
			s.err = fmt.Errorf("%s: %w", s.name, err)
		}
	} else if len(r) == 2 {
		got = uint16(r[0])<<8 | uint16(r[1])
	} else {
		got = uint16(r[0])
	}

	if s.rx.Len() == s.depth {
		s.overflow = true
		return
	}
	s.rx.PushBack(got)
}

func (s *SoftFIFO) ReadUnit() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rx.Len() == 0 {
		return 0
	}
	return s.rx.PopFront()
}

func (s *SoftFIFO) TransmitFull() bool {
	return false
}

func (s *SoftFIFO) ReceiveEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rx.Len() == 0
}

// Err returns the first transfer failure since the last Configure.
func (s *SoftFIFO) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *SoftFIFO) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// closerFunc turns a function into an io.Closer.
type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}

// ErrTimeout is reported when a link stops answering.
var ErrTimeout = errors.New("hardware: timeout waiting for reply")

var _ exchange.Device = &SoftFIFO{}
