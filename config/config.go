package config

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

const CONFILE = "config.yml"

// Backend names understood by the hardware package.
const (
	BackendLoopback = "loopback"
	BackendPeriph   = "periph"
	BackendRpio     = "rpio"
	BackendSerial   = "serial"
)

var backends = map[string]string{
	BackendLoopback: "simulated FIFO with wire loopback",
	BackendPeriph:   "Linux spidev through periph.io",
	BackendRpio:     "Raspberry Pi SPI0 through go-rpio",
	BackendSerial:   "USB-serial SPI bridge",
}

// Config is the full application configuration as stored in the YAML file.
type Config struct {
	Peripheral PeripheralConfig `yaml:"Peripheral"`
	Hardware   HardwareConfig   `yaml:"Hardware"`
	Logging    LoggingConfig    `yaml:"Logging"`
}

// PeripheralConfig holds the exchange engine settings.
type PeripheralConfig struct {
	Name      string `yaml:"Name"`
	Mode      int    `yaml:"Mode"` // word width in bits, 8 or 16
	FIFOLimit int    `yaml:"FIFOLimit"`
	DummyData uint16 `yaml:"DummyData"`
	// PollLimit bounds every wait. 0 waits forever.
	PollLimit int `yaml:"PollLimit"`
}

type HardwareConfig struct {
	Backend   string         `yaml:"Backend"`
	Device    string         `yaml:"Device"`
	Frequency string         `yaml:"Frequency"`
	SPIMode   int            `yaml:"SPIMode"`
	Loopback  LoopbackConfig `yaml:"Loopback"`
	Serial    SerialConfig   `yaml:"Serial"`
}

type LoopbackConfig struct {
	Depth   int `yaml:"Depth"`
	Latency int `yaml:"Latency"`
}

type SerialConfig struct {
	Port     string `yaml:"Port"`
	BaudRate int    `yaml:"BaudRate"`
}

type LoggingConfig struct {
	Level  string `yaml:"Level"`
	Format string `yaml:"Format"`
	File   string `yaml:"File"`
}

// Default returns the configuration used for missing keys.
func Default() Config {
	return Config{
		Peripheral: PeripheralConfig{
			Name:      "SPI2",
			Mode:      8,
			FIFOLimit: 8,
		},
		Hardware: HardwareConfig{
			Backend:   BackendLoopback,
			Device:    "/dev/spidev0.0",
			Frequency: "1MHz",
			Loopback:  LoopbackConfig{Depth: 8, Latency: 6},
			Serial:    SerialConfig{BaudRate: 115200},
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// ReadConfig reads and validates the YAML file at cfile. Keys missing from
// the file keep their Default values.
func ReadConfig(cfile string) (*Config, error) {
	f, err := os.Open(cfile)
	if err != nil {
		return nil, fmt.Errorf("can't open config file %s: %w", cfile, err)
	}
	defer f.Close()

	conf := Default()
	if err := yaml.NewDecoder(f).Decode(&conf); err != nil {
		return nil, fmt.Errorf("can't decode config file %s: %w", cfile, err)
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", cfile, err)
	}
	return &conf, nil
}

// Validate checks the configuration for values the driver cannot use.
func (c *Config) Validate() error {
	p := c.Peripheral
	if p.Name == "" {
		return fmt.Errorf("Peripheral.Name must not be empty")
	}
	if p.Mode != 8 && p.Mode != 16 {
		return fmt.Errorf("Peripheral.Mode must be 8 or 16, got %d", p.Mode)
	}
	if p.FIFOLimit < 1 {
		return fmt.Errorf("Peripheral.FIFOLimit must be at least 1, got %d", p.FIFOLimit)
	}
	if p.PollLimit < 0 {
		return fmt.Errorf("Peripheral.PollLimit must not be negative, got %d", p.PollLimit)
	}
	if p.Mode == 8 && p.DummyData > 0xFF {
		return fmt.Errorf("Peripheral.DummyData %#x does not fit an 8-bit unit", p.DummyData)
	}

	h := c.Hardware
	if _, ok := backends[h.Backend]; !ok {
		return fmt.Errorf("Hardware.Backend %q unknown, must be one of %s", h.Backend, strings.Join(Backends(), ", "))
	}
	if _, err := h.Freq(); err != nil {
		return err
	}
	if h.SPIMode < 0 || h.SPIMode > 3 {
		return fmt.Errorf("Hardware.SPIMode must be between 0 and 3, got %d", h.SPIMode)
	}
	switch h.Backend {
	case BackendLoopback:
		if h.Loopback.Depth < 1 {
			return fmt.Errorf("Hardware.Loopback.Depth must be at least 1, got %d", h.Loopback.Depth)
		}
		if h.Loopback.Latency < 0 {
			return fmt.Errorf("Hardware.Loopback.Latency must not be negative, got %d", h.Loopback.Latency)
		}
		if p.FIFOLimit > h.Loopback.Depth {
			return fmt.Errorf("Peripheral.FIFOLimit %d exceeds Hardware.Loopback.Depth %d", p.FIFOLimit, h.Loopback.Depth)
		}
	case BackendPeriph:
		if h.Device == "" {
			return fmt.Errorf("Hardware.Device is required for the %s backend", h.Backend)
		}
	case BackendSerial:
		if h.Serial.Port == "" {
			return fmt.Errorf("Hardware.Serial.Port is required for the %s backend", h.Backend)
		}
		if h.Serial.BaudRate <= 0 {
			return fmt.Errorf("Hardware.Serial.BaudRate must be positive, got %d", h.Serial.BaudRate)
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json", "auto":
	default:
		return fmt.Errorf("Logging.Format must be text, json or auto, got %q", c.Logging.Format)
	}
	return nil
}

// Freq parses Frequency, e.g. "1MHz" or "500kHz".
func (h HardwareConfig) Freq() (physic.Frequency, error) {
	var f physic.Frequency
	if err := f.Set(h.Frequency); err != nil {
		return 0, fmt.Errorf("Hardware.Frequency %q: %w", h.Frequency, err)
	}
	if f <= 0 {
		return 0, fmt.Errorf("Hardware.Frequency must be positive, got %s", f)
	}
	return f, nil
}

// Mode returns the SPI clock mode for periph based backends.
func (h HardwareConfig) Mode() spi.Mode {
	return spi.Mode(h.SPIMode)
}

// Backends returns the supported backend names in sorted order.
func Backends() []string {
	names := maps.Keys(backends)
	slices.Sort(names)
	return names
}

// Describe returns a one-line description of a backend.
func Describe(backend string) string {
	return backends[backend]
}
