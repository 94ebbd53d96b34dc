package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrClosed is returned by Close, Configure and the exchange methods of
	// a Conn that was closed. Mode and Status only read registers and keep
	// working.
	ErrClosed = errors.New("exchange: connection closed")
	// ErrBusy is returned by TryOpen when another Conn holds the peripheral.
	ErrBusy = errors.New("exchange: peripheral in use")
)

// Device is a transceiver plus the glue the driver needs around the engine:
// one-time configuration and raw register reads.
type Device interface {
	Transceiver
	// Configure writes the reset register values for the given mode.
	Configure(mode TransferMode) error
	// Control returns control register 1.
	Control() uint16
	// Status returns the status register.
	Status() uint16
}

// Peripheral owns one physical transceiver. Access goes through a Conn
// obtained from Open; only one Conn exists at a time.
type Peripheral struct {
	name   string
	dev    Device
	engine *Engine
	token  chan struct{}
}

func NewPeripheral(name string, dev Device, opts Options) *Peripheral {
	return &Peripheral{
		name:   name,
		dev:    dev,
		engine: NewEngine(dev, opts),
		token:  make(chan struct{}, 1),
	}
}

func (p *Peripheral) String() string {
	return p.name
}

// Initialize configures the device for mode while holding the token.
func (p *Peripheral) Initialize(mode TransferMode) error {
	c := p.Open()
	defer c.Close()
	return c.Configure(mode)
}

// Open blocks until the peripheral is free and returns an exclusive Conn.
func (p *Peripheral) Open() *Conn {
	p.token <- struct{}{}
	return &Conn{p: p}
}

// TryOpen returns ErrBusy instead of waiting.
func (p *Peripheral) TryOpen() (*Conn, error) {
	select {
	case p.token <- struct{}{}:
		return &Conn{p: p}, nil
	default:
		return nil, ErrBusy
	}
}

// OpenContext waits for the peripheral until ctx is done.
func (p *Peripheral) OpenContext(ctx context.Context) (*Conn, error) {
	select {
	case p.token <- struct{}{}:
		return &Conn{p: p}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Conn is the exclusive access token for a Peripheral. It is not safe for
// concurrent use.
type Conn struct {
	p      *Peripheral
	closed bool
}

// Close releases the peripheral.
func (c *Conn) Close() error {
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	<-c.p.token
	return nil
}

func (c *Conn) String() string {
	return c.p.name
}

// Configure resets the device registers for mode.
func (c *Conn) Configure(mode TransferMode) error {
	if c.closed {
		return ErrClosed
	}
	p := c.p
	if err := p.dev.Configure(mode); err != nil {
		return fmt.Errorf("%s: configure %s: %w", p.name, mode, err)
	}
	slog.Info("Peripheral initialised", "name", p.name, "mode", mode, "fifoLimit", p.engine.limit)
	return nil
}

// Mode returns the transfer mode currently configured in the hardware.
func (c *Conn) Mode() TransferMode {
	return ModeOf(c.p.dev.Control())
}

// Status returns the raw status register.
func (c *Conn) Status() Status {
	return Status(c.p.dev.Status())
}

// Exchange sends one unit in the current mode and returns the unit received.
func (c *Conn) Exchange(unit uint16) (uint16, error) {
	if c.closed {
		return 0, ErrClosed
	}
	return c.p.engine.Exchange(c.Mode(), unit)
}

// Exchange8 sends and receives a single byte.
func (c *Conn) Exchange8(b byte) (byte, error) {
	if c.closed {
		return 0, ErrClosed
	}
	v, err := c.p.engine.Exchange(Width8, uint16(b))
	return byte(v), err
}

// Exchange16 sends and receives a single 16-bit word.
func (c *Conn) Exchange16(w uint16) (uint16, error) {
	if c.closed {
		return 0, ErrClosed
	}
	return c.p.engine.Exchange(Width16, w)
}

// ExchangeBuffer exchanges byteCount bytes worth of units in the current
// mode and returns the number of units sent. In 16-bit mode byteCount is
// halved, dropping an odd trailing byte. tx and rx may be nil.
func (c *Conn) ExchangeBuffer(tx []byte, byteCount int, rx []byte) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	mode := c.Mode()
	return c.p.engine.ExchangeBuffer(mode, tx, mode.Units(byteCount), rx)
}

// Exchange8Buffer is ExchangeBuffer for byte-oriented callers.
func (c *Conn) Exchange8Buffer(tx []byte, byteCount int, rx []byte) (int, error) {
	return c.ExchangeBuffer(tx, byteCount, rx)
}
