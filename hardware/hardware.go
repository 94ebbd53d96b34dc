// Package hardware opens the exchange.Device behind a configured backend.
package hardware

import (
	"fmt"
	"io"

	"lautenbacher.net/gospi/config"
	"lautenbacher.net/gospi/exchange"
	"lautenbacher.net/gospi/sim"
)

// Open returns the device selected by conf.Hardware.Backend and a closer
// releasing it. Soft FIFO backends get a receive FIFO deep enough for
// conf.Peripheral.FIFOLimit.
func Open(conf *config.Config) (exchange.Device, io.Closer, error) {
	h := conf.Hardware
	depth := max(conf.Peripheral.FIFOLimit, exchange.DefaultFIFOLimit)

	switch h.Backend {
	case config.BackendLoopback:
		l := sim.NewLoopback(h.Loopback.Depth, h.Loopback.Latency)
		return l, closerFunc(func() error { return nil }), nil
	case config.BackendPeriph:
		return wrap(OpenPeriph(h, depth))
	case config.BackendRpio:
		return wrap(OpenRpio(h, depth))
	case config.BackendSerial:
		return wrap(OpenSerial(h, depth))
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", h.Backend)
	}
}

func wrap(s *SoftFIFO, err error) (exchange.Device, io.Closer, error) {
	if err != nil {
		return nil, nil, err
	}
	return s, s, nil
}

// DeviceErr returns the sticky transfer error of dev, if it keeps one.
func DeviceErr(dev exchange.Device) error {
	if e, ok := dev.(interface{ Err() error }); ok {
		return e.Err()
	}
	return nil
}
