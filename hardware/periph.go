package hardware

import (
	"fmt"
	"log/slog"

	"lautenbacher.net/gospi/config"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// OpenPeriph opens cfg.Device through the periph.io registry.
func OpenPeriph(cfg config.HardwareConfig, depth int) (*SoftFIFO, error) {
	slog.Info("Initialise periph.io host drivers...")
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to init periph: %w", err)
	}

	port, err := spireg.Open(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to open spi %s: %w", cfg.Device, err)
	}
	return ConnectPeriph(port, cfg, depth)
}

// ConnectPeriph connects to an already opened port. The port is closed
// together with the returned device, or right away if connecting fails.
func ConnectPeriph(port spi.PortCloser, cfg config.HardwareConfig, depth int) (*SoftFIFO, error) {
	freq, err := cfg.Freq()
	if err != nil {
		port.Close()
		return nil, err
	}
	conn, err := port.Connect(freq, cfg.Mode(), 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to connect to spi device: %w", err)
	}
	slog.Info("SPI connected", "conn", conn.String(), "frequency", freq, "mode", cfg.Mode())
	return NewSoftFIFO(conn.String(), depth, conn.Tx, port), nil
}
