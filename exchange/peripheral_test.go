package exchange_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lautenbacher.net/gospi/exchange"
	"lautenbacher.net/gospi/sim"
)

type failingDevice struct {
	*sim.Loopback
}

func (failingDevice) Configure(exchange.TransferMode) error {
	return errors.New("bus fault")
}

func newPeripheral(t *testing.T, mode exchange.TransferMode) (*exchange.Peripheral, *sim.Loopback) {
	t.Helper()
	l := sim.NewLoopback(8, 6)
	p := exchange.NewPeripheral("SPI2", l, exchange.Options{FIFOLimit: 6})
	require.NoError(t, p.Initialize(mode))
	return p, l
}

func TestPeripheral_Initialize(t *testing.T) {
	p, l := newPeripheral(t, exchange.Width16)
	assert.Equal(t, "SPI2", p.String())
	assert.Equal(t, exchange.ResetCon1|exchange.Con1Mode16, l.Control())

	c := p.Open()
	defer c.Close()
	assert.Equal(t, exchange.Width16, c.Mode())
	assert.True(t, c.Status().Enabled())
	assert.Equal(t, exchange.Status(l.Status()), c.Status())
}

func TestPeripheral_InitializeError(t *testing.T) {
	p := exchange.NewPeripheral("SPI2", failingDevice{sim.NewLoopback(8, 6)}, exchange.Options{})
	err := p.Initialize(exchange.Width8)
	assert.ErrorContains(t, err, "bus fault")

	// The token must have been released.
	c, err := p.TryOpen()
	require.NoError(t, err)
	c.Close()
}

func TestConn_ExchangeBuffer(t *testing.T) {
	p, _ := newPeripheral(t, exchange.Width8)
	c := p.Open()
	defer c.Close()

	tx := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	rx := make([]byte, 8)
	n, err := c.ExchangeBuffer(tx, len(tx), rx)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, tx, rx)
}

func TestConn_ExchangeBufferOddByteCount16(t *testing.T) {
	p, l := newPeripheral(t, exchange.Width16)
	c := p.Open()
	defer c.Close()

	tx := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	rx := make([]byte, 5)
	n, err := c.ExchangeBuffer(tx, 5, rx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, l.Counters().Writes)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x00}, rx)
}

func TestConn_Exchange8(t *testing.T) {
	p, _ := newPeripheral(t, exchange.Width8)
	c := p.Open()
	defer c.Close()

	b, err := c.Exchange8(0x5A)
	require.NoError(t, err)
	assert.Equal(t, byte(0x5A), b)

	v, err := c.Exchange(0x1A5)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xA5), v)

	rx := make([]byte, 3)
	n, err := c.Exchange8Buffer([]byte{7, 8, 9}, 3, rx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{7, 8, 9}, rx)
}

func TestConn_Exchange16(t *testing.T) {
	p, _ := newPeripheral(t, exchange.Width16)
	c := p.Open()
	defer c.Close()

	w, err := c.Exchange16(0xCAFE)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xCAFE), w)
}

func TestConn_Closed(t *testing.T) {
	p, _ := newPeripheral(t, exchange.Width8)
	c := p.Open()
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Close(), exchange.ErrClosed)

	_, err := c.Exchange8(1)
	assert.ErrorIs(t, err, exchange.ErrClosed)
	_, err = c.Exchange(1)
	assert.ErrorIs(t, err, exchange.ErrClosed)
	_, err = c.Exchange16(1)
	assert.ErrorIs(t, err, exchange.ErrClosed)
	_, err = c.ExchangeBuffer(nil, 4, nil)
	assert.ErrorIs(t, err, exchange.ErrClosed)
	assert.ErrorIs(t, c.Configure(exchange.Width16), exchange.ErrClosed)

	// Register reads have no side effects and stay available.
	assert.Equal(t, exchange.Width8, c.Mode())
	assert.True(t, c.Status().Enabled())
}

func TestConn_Configure(t *testing.T) {
	p, l := newPeripheral(t, exchange.Width8)
	c := p.Open()
	defer c.Close()

	require.NoError(t, c.Configure(exchange.Width16))
	assert.Equal(t, exchange.Width16, c.Mode())
	assert.Equal(t, exchange.ResetCon1|exchange.Con1Mode16, l.Control())
}

func TestPeripheral_ExclusiveToken(t *testing.T) {
	p, _ := newPeripheral(t, exchange.Width8)
	c := p.Open()

	_, err := p.TryOpen()
	assert.ErrorIs(t, err, exchange.ErrBusy)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.OpenContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, c.Close())
	c2, err := p.OpenContext(context.Background())
	require.NoError(t, err)
	c2.Close()
}

func TestPeripheral_SerializesCallers(t *testing.T) {
	p, l := newPeripheral(t, exchange.Width8)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(seed byte) {
			defer wg.Done()
			c := p.Open()
			defer c.Close()
			tx := make([]byte, 32)
			for j := range tx {
				tx[j] = seed + byte(j)
			}
			rx := make([]byte, 32)
			if _, err := c.ExchangeBuffer(tx, len(tx), rx); err != nil {
				errs <- err
				return
			}
			for j := range rx {
				if rx[j] != tx[j] {
					errs <- errors.New("received data out of order")
					return
				}
			}
		}(byte(i * 32))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 8*32, l.Counters().Writes)
	assert.Equal(t, 0, l.Pending())
}
