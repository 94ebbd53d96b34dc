package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/gammazero/deque"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// maxHeld bounds the records kept while output is held back. The oldest
// records are dropped first.
const maxHeld = 1000

// recordWriter sends each slog record to a live target, or holds it until a
// target is set. A log file, if open, receives every record immediately.
type recordWriter struct {
	mu      sync.Mutex
	held    deque.Deque[[]byte]
	dropped int
	holding bool
	target  io.Writer
	file    *os.File
}

// Write is called once per record by the slog handlers.
func (w *recordWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var err error
	switch {
	case w.holding:
		if w.held.Len() == maxHeld {
			w.held.PopFront()
			w.dropped++
		}
		w.held.PushBack(append([]byte(nil), p...))
	case w.target != nil:
		_, err = w.target.Write(p)
	}
	if w.file != nil {
		if _, ferr := w.file.Write(p); ferr != nil && err == nil {
			err = ferr
		}
	}
	return len(p), err
}

// flushTo writes the held records to dst. It must be called with mu held.
// Records that could not be written stay held.
func (w *recordWriter) flushTo(dst io.Writer) error {
	if w.dropped > 0 {
		if _, err := fmt.Fprintf(dst, "... %d earlier log records dropped\n", w.dropped); err != nil {
			return err
		}
		w.dropped = 0
	}
	for w.held.Len() > 0 {
		if _, err := dst.Write(w.held.Front()); err != nil {
			return err
		}
		w.held.PopFront()
	}
	return nil
}

var (
	defaultLogger *slog.Logger
	writer        *recordWriter
	stderr        io.Writer = colorable.NewColorableStderr()
	isTerminal              = func() bool {
		fd := os.Stderr.Fd()
		return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
)

// Init initializes the logging system. With bufferOutput set, records are
// held back until SetOutput is called, otherwise they go to stderr. A non
// empty logFilePath additionally appends every record to that file.
//
// formatStr is "text", "json" or "auto". Auto selects text on a terminal
// and JSON otherwise.
func Init(bufferOutput bool, levelStr, formatStr, logFilePath string) error {
	writer = &recordWriter{holding: bufferOutput}
	if !bufferOutput {
		writer.target = stderr
	}

	if logFilePath != "" {
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return err
		}
		writer.file = file
	}

	opts := &slog.HandlerOptions{
		Level: ParseLevel(levelStr),
	}

	var handler slog.Handler
	if useJSON(formatStr) {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)

	return nil
}

// ParseLevel maps DEBUG, INFO, WARN and ERROR to their slog level. Anything
// else is INFO.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func useJSON(formatStr string) bool {
	switch strings.ToLower(formatStr) {
	case "json":
		return true
	case "auto":
		return !isTerminal()
	default:
		return false
	}
}

// SetOutput writes the held records to newTarget and sends every further
// record there.
func SetOutput(newTarget io.Writer) error {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	if err := writer.flushTo(newTarget); err != nil {
		return err
	}
	writer.target = newTarget
	writer.holding = false
	return nil
}

// BufferOutput holds records back until the next SetOutput or Close.
func BufferOutput() {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	writer.target = nil
	writer.holding = true
}

// Close writes held records to stderr, or closes the log file, which
// already has them.
func Close() error {
	writer.mu.Lock()
	defer writer.mu.Unlock()

	var firstErr error

	// The file already holds every record, buffered or not.
	if writer.file != nil {
		if err := writer.file.Close(); err != nil {
			firstErr = err
		}
		writer.file = nil
	} else if err := writer.flushTo(stderr); err != nil {
		firstErr = err
	}

	writer.held.Clear()
	writer.dropped = 0
	return firstErr
}
