// Command gospi runs buffered SPI exchanges through the FIFO pipelined
// exchange engine.
//
// Usage:
//
//	gospi [options]
//
// Options:
//
//	-config file   YAML configuration (default: config.yml, built-in defaults if absent)
//	-backend name  override Hardware.Backend
//	-data hex      bytes to send, e.g. "01 02 a5"; dummy units are sent when empty
//	-count n       units to exchange when -data is empty
//	-repeat n      number of exchanges, 0 repeats until interrupted
//	-tui           show the FIFO monitor
//	-watch         re-run whenever the configuration file changes
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"lautenbacher.net/gospi/config"
	"lautenbacher.net/gospi/exchange"
	"lautenbacher.net/gospi/hardware"
	"lautenbacher.net/gospi/logging"
	"lautenbacher.net/gospi/monitor"
)

const histogramWidth = 40

type options struct {
	configFile string
	configSet  bool
	backend    string
	data       []byte
	count      int
	repeat     int
	tui        bool
	watch      bool
}

func main() {
	if err := mainImpl(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "gospi: %s\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (*options, error) {
	fs := flag.NewFlagSet("gospi", flag.ContinueOnError)
	opts := &options{}
	fs.StringVar(&opts.configFile, "config", config.CONFILE, "YAML configuration file")
	fs.StringVar(&opts.backend, "backend", "", "override the configured backend ("+strings.Join(config.Backends(), ", ")+")")
	data := fs.String("data", "", "hex bytes to send")
	fs.IntVar(&opts.count, "count", 8, "units to exchange when -data is empty")
	fs.IntVar(&opts.repeat, "repeat", 1, "number of exchanges, 0 repeats until interrupted")
	fs.BoolVar(&opts.tui, "tui", false, "show the FIFO monitor")
	fs.BoolVar(&opts.watch, "watch", false, "re-run whenever the configuration file changes")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			opts.configSet = true
		}
	})

	var err error
	if opts.data, err = parseHex(*data); err != nil {
		return nil, err
	}
	if opts.count < 0 {
		return nil, fmt.Errorf("-count must not be negative")
	}
	if opts.repeat < 0 {
		return nil, fmt.Errorf("-repeat must not be negative")
	}
	return opts, nil
}

// parseHex accepts hex digits separated by blanks, colons or commas.
func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", ",", "", "\t", "").Replace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("-data: %w", err)
	}
	return b, nil
}

func loadConfig(opts *options) (*config.Config, error) {
	var conf *config.Config
	if _, err := os.Stat(opts.configFile); err != nil && !opts.configSet && errors.Is(err, os.ErrNotExist) {
		d := config.Default()
		conf = &d
	} else if conf, err = config.ReadConfig(opts.configFile); err != nil {
		return nil, err
	}
	if opts.backend != "" {
		conf.Hardware.Backend = opts.backend
		if err := conf.Validate(); err != nil {
			return nil, err
		}
	}
	return conf, nil
}

func mainImpl(args []string, out io.Writer) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	conf, err := loadConfig(opts)
	if err != nil {
		return err
	}

	if err := logging.Init(opts.tui, conf.Logging.Level, conf.Logging.Format, conf.Logging.File); err != nil {
		return fmt.Errorf("failed to init logging: %w", err)
	}
	defer logging.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats := monitor.NewStats()
	observers := []exchange.Observer{stats}
	var viewer *monitor.Viewer
	if opts.tui {
		viewer = monitor.NewViewer(conf.Peripheral.FIFOLimit, stop)
		observers = append(observers, viewer)
	}
	r := &runner{
		opts:     opts,
		out:      out,
		observer: exchange.Observers(observers...),
	}

	work := func() error {
		if err := r.run(ctx, conf); err != nil {
			return err
		}
		if !opts.watch {
			return nil
		}
		return config.Watch(ctx, opts.configFile, func(c *config.Config) {
			if opts.backend != "" {
				c.Hardware.Backend = opts.backend
			}
			if err := r.run(ctx, c); err != nil {
				slog.Error("Exchange failed after reload", "error", err)
			}
		})
	}

	if viewer == nil {
		if err := work(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return stats.Fprint(out, histogramWidth)
	}
	// Received data would garble the screen.
	r.out = io.Discard

	var wg sync.WaitGroup
	var workErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		workErr = work()
		if workErr != nil {
			slog.Error("Exchange failed", "error", workErr)
		}
	}()
	if err := viewer.Run(ctx); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	stop()
	wg.Wait()
	if workErr != nil && !errors.Is(workErr, context.Canceled) {
		return workErr
	}
	return stats.Fprint(out, histogramWidth)
}

// runner performs the configured exchanges. run is not called concurrently.
type runner struct {
	opts     *options
	out      io.Writer
	observer exchange.Observer
}

func (r *runner) run(ctx context.Context, conf *config.Config) error {
	dev, closer, err := hardware.Open(conf)
	if err != nil {
		return err
	}
	defer closer.Close()

	var poller exchange.Poller = exchange.ContextPoller{Ctx: ctx}
	if conf.Peripheral.PollLimit > 0 {
		poller = exchange.Bounded{Attempts: conf.Peripheral.PollLimit}
	}
	mode := exchange.Width8
	if conf.Peripheral.Mode == 16 {
		mode = exchange.Width16
	}

	p := exchange.NewPeripheral(conf.Peripheral.Name, dev, exchange.Options{
		FIFOLimit: conf.Peripheral.FIFOLimit,
		Dummy:     conf.Peripheral.DummyData,
		Poller:    poller,
		Observer:  r.observer,
	})
	if err := p.Initialize(mode); err != nil {
		return err
	}
	c, err := p.OpenContext(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	byteCount := len(r.opts.data)
	if r.opts.data == nil {
		byteCount = r.opts.count * mode.UnitSize()
	}
	rx := make([]byte, byteCount)

	for i := 0; r.opts.repeat == 0 || i < r.opts.repeat; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := c.ExchangeBuffer(r.opts.data, byteCount, rx)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		if err := hardware.DeviceErr(dev); err != nil {
			return err
		}
		slog.Debug("Exchange complete", "peripheral", p, "units", n, "status", c.Status())
		if _, err := fmt.Fprintln(r.out, hex.EncodeToString(rx[:n*mode.UnitSize()])); err != nil {
			return err
		}
	}
	slog.Info("Exchanges finished", "peripheral", p, "mode", mode, "status", c.Status())
	return nil
}
