// Package spiport exposes an exchange.Peripheral as a periph.io SPI port, so
// device drivers written against periph can run over the exchange engine.
package spiport

import (
	"errors"
	"fmt"
	"sync"

	"lautenbacher.net/gospi/exchange"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// MaxTransfer is the largest buffer accepted by a single Tx.
const MaxTransfer = 65536

// Port implements spi.PortCloser. A connected Port holds the peripheral
// until Close.
type Port struct {
	p *exchange.Peripheral

	mu      sync.Mutex
	maxFreq physic.Frequency
	conn    *portConn
}

func New(p *exchange.Peripheral) *Port {
	return &Port{p: p}
}

func (s *Port) String() string {
	return s.p.String()
}

// Connect implements spi.Port. bits selects the transfer mode and must be 8
// or 16. The clock mode is only validated since the engine does not drive
// the clock itself.
func (s *Port) Connect(f physic.Frequency, m spi.Mode, bits int) (spi.Conn, error) {
	if f < 0 {
		return nil, fmt.Errorf("spiport: invalid speed %s", f)
	}
	var mode exchange.TransferMode
	switch bits {
	case 8:
		mode = exchange.Width8
	case 16:
		mode = exchange.Width16
	default:
		return nil, fmt.Errorf("spiport: bits must be 8 or 16, got %d", bits)
	}
	if m&^(spi.Mode3|spi.HalfDuplex|spi.NoCS|spi.LSBFirst) != 0 {
		return nil, errors.New("spiport: unknown mode flags")
	}
	if m&(spi.HalfDuplex|spi.LSBFirst) != 0 {
		return nil, errors.New("spiport: only full duplex MSB first is supported")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil, errors.New("spiport: Connect cannot be called twice")
	}
	c, err := s.p.TryOpen()
	if err != nil {
		return nil, err
	}
	if err := c.Configure(mode); err != nil {
		c.Close()
		return nil, err
	}
	if s.maxFreq == 0 || (f != 0 && f < s.maxFreq) {
		s.maxFreq = f
	}
	s.conn = &portConn{port: s, c: c, mode: mode, freq: s.maxFreq}
	return s.conn, nil
}

// LimitSpeed implements spi.Port. The limit is only recorded.
func (s *Port) LimitSpeed(f physic.Frequency) error {
	if f <= 0 {
		return fmt.Errorf("spiport: invalid speed %s", f)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxFreq != 0 && s.maxFreq <= f {
		return nil
	}
	s.maxFreq = f
	return nil
}

// Close releases the peripheral.
func (s *Port) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.c.Close()
	s.conn = nil
	return err
}

type portConn struct {
	port *Port
	c    *exchange.Conn
	mode exchange.TransferMode
	freq physic.Frequency
}

func (s *portConn) String() string {
	return fmt.Sprintf("%s(%s)", s.port.String(), s.mode)
}

func (s *portConn) Duplex() conn.Duplex {
	return conn.Full
}

func (s *portConn) Tx(w, r []byte) error {
	var p = [1]spi.Packet{{W: w, R: r}}
	return s.TxPackets(p[:])
}

// TxPackets runs the packets back to back. KeepCS is ignored.
func (s *portConn) TxPackets(pkts []spi.Packet) error {
	for _, p := range pkts {
		if p.BitsPerWord != 0 && int(p.BitsPerWord) != s.mode.Bits() {
			return fmt.Errorf("spiport: connected for %d bits per word, packet wants %d", s.mode.Bits(), p.BitsPerWord)
		}
		if err := verifyBuffers(p.W, p.R, s.mode.UnitSize()); err != nil {
			return err
		}
	}
	for _, p := range pkts {
		n := max(len(p.W), len(p.R))
		if n == 0 {
			continue
		}
		if _, err := s.c.ExchangeBuffer(nilIfEmpty(p.W), n, nilIfEmpty(p.R)); err != nil {
			return err
		}
	}
	return nil
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func verifyBuffers(w, r []byte, unit int) error {
	if len(w) != 0 && len(r) != 0 && len(w) != len(r) {
		return errors.New("spiport: both buffers must have the same size")
	}
	n := max(len(w), len(r))
	if n > MaxTransfer {
		return fmt.Errorf("spiport: maximum buffer size is %d bytes", MaxTransfer)
	}
	if n%unit != 0 {
		return fmt.Errorf("spiport: buffer size %d is not a multiple of %d", n, unit)
	}
	return nil
}

var _ spi.PortCloser = &Port{}
var _ spi.Conn = &portConn{}
