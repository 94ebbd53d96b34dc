package spiport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lautenbacher.net/gospi/exchange"
	"lautenbacher.net/gospi/sim"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/conntest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spitest"
)

func newPort(t *testing.T) (*Port, *sim.Loopback, *exchange.Peripheral) {
	t.Helper()
	l := sim.NewLoopback(8, 6)
	p := exchange.NewPeripheral("SPI2", l, exchange.Options{FIFOLimit: 6})
	return New(p), l, p
}

func TestPort_Tx8(t *testing.T) {
	port, l, _ := newPort(t)
	defer port.Close()

	c, err := port.Connect(physic.MegaHertz, spi.Mode0, 8)
	require.NoError(t, err)
	assert.Equal(t, conn.Full, c.Duplex())
	assert.Equal(t, "SPI2(8bit)", c.String())
	assert.Equal(t, exchange.ResetCon1, l.Control())

	w := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	r := make([]byte, len(w))
	require.NoError(t, c.Tx(w, r))
	assert.Equal(t, w, r)
	assert.Equal(t, 0, l.Pending())
}

func TestPort_Tx16(t *testing.T) {
	port, l, _ := newPort(t)
	defer port.Close()

	c, err := port.Connect(physic.MegaHertz, spi.Mode3, 16)
	require.NoError(t, err)
	assert.Equal(t, exchange.ResetCon1|exchange.Con1Mode16, l.Control())

	r := make([]byte, 4)
	require.NoError(t, c.Tx([]byte{0x34, 0x12, 0x78, 0x56}, r))
	assert.Equal(t, []byte{0x34, 0x12, 0x78, 0x56}, r)

	assert.Error(t, c.Tx([]byte{1, 2, 3}, nil), "odd byte count in 16-bit mode")
}

func TestPort_HalfBuffers(t *testing.T) {
	port, l, _ := newPort(t)
	defer port.Close()
	l.Responder = func(v uint16) uint16 { return v + 1 }

	c, err := port.Connect(physic.MegaHertz, spi.Mode0, 8)
	require.NoError(t, err)

	require.NoError(t, c.Tx([]byte{1, 2, 3}, nil))
	assert.Equal(t, 3, l.Counters().Writes)

	r := make([]byte, 3)
	require.NoError(t, c.Tx(nil, r))
	assert.Equal(t, []byte{1, 1, 1}, r, "dummy zero answered with one")

	require.NoError(t, c.Tx(nil, nil))
	assert.Equal(t, 6, l.Counters().Writes)
}

func TestPort_TxPackets(t *testing.T) {
	port, _, _ := newPort(t)
	defer port.Close()

	c, err := port.Connect(physic.MegaHertz, spi.Mode0, 8)
	require.NoError(t, err)

	r1 := make([]byte, 2)
	r2 := make([]byte, 1)
	require.NoError(t, c.TxPackets([]spi.Packet{
		{W: []byte{0xA0, 0xA1}, R: r1, KeepCS: true},
		{W: []byte{0xB0}, R: r2, BitsPerWord: 8},
	}))
	assert.Equal(t, []byte{0xA0, 0xA1}, r1)
	assert.Equal(t, []byte{0xB0}, r2)

	err = c.TxPackets([]spi.Packet{{W: []byte{1, 2}, BitsPerWord: 16}})
	assert.ErrorContains(t, err, "bits per word")
}

func TestPort_VerifyBuffers(t *testing.T) {
	assert.NoError(t, verifyBuffers(nil, nil, 1))
	assert.NoError(t, verifyBuffers([]byte{1}, nil, 1))
	assert.NoError(t, verifyBuffers(nil, make([]byte, 2), 2))
	assert.Error(t, verifyBuffers([]byte{1, 2}, make([]byte, 1), 1))
	assert.Error(t, verifyBuffers(make([]byte, MaxTransfer+1), nil, 1))
	assert.Error(t, verifyBuffers(make([]byte, 3), nil, 2))
}

func TestPort_Connect(t *testing.T) {
	port, _, p := newPort(t)

	_, err := port.Connect(physic.MegaHertz, spi.Mode0, 12)
	assert.ErrorContains(t, err, "bits must be 8 or 16")
	_, err = port.Connect(physic.MegaHertz, spi.Mode0|spi.HalfDuplex, 8)
	assert.Error(t, err)
	_, err = port.Connect(physic.MegaHertz, spi.Mode(0x100), 8)
	assert.ErrorContains(t, err, "unknown mode flags")

	held := p.Open()
	_, err = port.Connect(physic.MegaHertz, spi.Mode0, 8)
	assert.ErrorIs(t, err, exchange.ErrBusy)
	held.Close()

	_, err = port.Connect(physic.MegaHertz, spi.Mode0, 8)
	require.NoError(t, err)
	_, err = port.Connect(physic.MegaHertz, spi.Mode0, 8)
	assert.ErrorContains(t, err, "twice")

	// The port holds the peripheral until it is closed.
	_, err = p.TryOpen()
	assert.ErrorIs(t, err, exchange.ErrBusy)
	require.NoError(t, port.Close())
	c, err := p.TryOpen()
	require.NoError(t, err)
	c.Close()

	assert.NoError(t, port.Close())
}

func TestPort_LimitSpeed(t *testing.T) {
	port, _, _ := newPort(t)
	assert.Error(t, port.LimitSpeed(0))
	require.NoError(t, port.LimitSpeed(2*physic.MegaHertz))
	require.NoError(t, port.LimitSpeed(4*physic.MegaHertz))
	assert.Equal(t, 2*physic.MegaHertz, port.maxFreq)

	c, err := port.Connect(physic.MegaHertz, spi.Mode0, 8)
	require.NoError(t, err)
	assert.Equal(t, physic.MegaHertz, c.(*portConn).freq)
	port.Close()
}

// The recorded flow of a port can be replayed against a periph playback.
func TestPort_RecordPlayback(t *testing.T) {
	port, _, _ := newPort(t)
	rec := &spitest.Record{Port: port}
	c, err := rec.Connect(physic.MegaHertz, spi.Mode0, 8)
	require.NoError(t, err)

	r := make([]byte, 3)
	require.NoError(t, c.Tx([]byte{9, 8, 7}, r))
	require.NoError(t, rec.Close())
	require.Len(t, rec.Ops, 1)
	assert.Equal(t, conntest.IO{W: []byte{9, 8, 7}, R: []byte{9, 8, 7}}, rec.Ops[0])

	play := &spitest.Playback{Playback: conntest.Playback{Ops: rec.Ops, DontPanic: true}}
	pc, err := play.Connect(physic.MegaHertz, spi.Mode0, 8)
	require.NoError(t, err)
	r2 := make([]byte, 3)
	require.NoError(t, pc.Tx([]byte{9, 8, 7}, r2))
	assert.Equal(t, r, r2)
	assert.NoError(t, play.Close())
}
