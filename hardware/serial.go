package hardware

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.bug.st/serial"
	"lautenbacher.net/gospi/config"
)

// serialReadTimeout bounds the wait for a bridge reply.
const serialReadTimeout = time.Second

// OpenSerial opens a USB-serial SPI bridge. The bridge clocks out every byte
// it receives and answers with the byte shifted in.
func OpenSerial(cfg config.HardwareConfig, depth int) (*SoftFIFO, error) {
	port, err := serial.Open(cfg.Serial.Port, &serial.Mode{
		BaudRate: cfg.Serial.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Serial.Port, err)
	}
	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	if err := port.SetDTR(true); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set DTR: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		slog.Warn("Could not flush serial input", "port", cfg.Serial.Port, "error", err)
	}
	slog.Info("Serial bridge opened", "port", cfg.Serial.Port, "baud", cfg.Serial.BaudRate)

	closer := closerFunc(func() error {
		port.SetDTR(false)
		return port.Close()
	})
	return NewSoftFIFO(cfg.Serial.Port, depth, StreamTx(port), closer), nil
}

// StreamTx sends w over rw and reads back exactly len(w) bytes into r.
func StreamTx(rw io.ReadWriter) TxFunc {
	return func(w, r []byte) error {
		if err := sendAll(rw, w); err != nil {
			return err
		}
		return recvAll(rw, r)
	}
}

func sendAll(f io.Writer, buf []byte) error {
	sent := 0
	for sent < len(buf) {
		n, err := f.Write(buf[sent:])
		if err != nil {
			return err
		}
		sent += n
	}
	return nil
}

// recvAll fills rsp. A read returning nothing means the port timed out.
func recvAll(f io.Reader, rsp []byte) error {
	o := 0
	for o < len(rsp) {
		n, err := f.Read(rsp[o:])
		if err != nil {
			return err
		}
		if n <= 0 {
			return fmt.Errorf("%w after %d of %d bytes", ErrTimeout, o, len(rsp))
		}
		o += n
	}
	return nil
}
