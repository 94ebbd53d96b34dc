package hardware

import (
	"fmt"
	"log/slog"

	"github.com/stianeikeland/go-rpio/v4"
	"lautenbacher.net/gospi/config"
	"periph.io/x/conn/v3/physic"
)

// OpenRpio drives SPI0 of a Raspberry Pi through /dev/gpiomem.
func OpenRpio(cfg config.HardwareConfig, depth int) (*SoftFIFO, error) {
	freq, err := cfg.Freq()
	if err != nil {
		return nil, err
	}

	slog.Info("Initialise GPIO and Spi...")
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open rpio: %w", err)
	}
	if err := rpio.SpiBegin(rpio.Spi0); err != nil {
		rpio.Close()
		return nil, fmt.Errorf("failed to begin spi: %w", err)
	}

	rpio.SpiSpeed(int(freq / physic.Hertz))
	mode := uint8(cfg.SPIMode)
	rpio.SpiMode(mode>>1&1, mode&1)
	rpio.SpiChipSelect(0)

	closer := closerFunc(func() error {
		rpio.SpiEnd(rpio.Spi0)
		return rpio.Close()
	})
	return NewSoftFIFO("rpio-spi0", depth, inPlaceTx(rpio.SpiExchange), closer), nil
}

// inPlaceTx adapts an exchange that overwrites its argument with the
// received bytes.
func inPlaceTx(exchange func([]byte)) TxFunc {
	return func(w, r []byte) error {
		copy(r, w)
		exchange(r)
		return nil
	}
}
