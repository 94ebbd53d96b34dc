package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gammazero/deque"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"lautenbacher.net/gospi/logging"
)

const (
	maxHistory  = 120
	viewerTitle = " GOSPI FIFO Monitor "
)

var levels = []rune(" ▁▂▃▄▅▆▇█")

// snapshot is what one redraw shows.
type snapshot struct {
	pushed   int
	popped   int
	inFlight int
	lastTx   uint16
	lastRx   uint16
	history  []int
}

// Viewer is a TUI showing the FIFO occupancy of a running engine. It
// implements exchange.Observer; the observer methods never block on the UI.
type Viewer struct {
	tuiApp  *tview.Application
	view    *tview.TextView
	logView *tview.TextView
	limit   int
	onQuit  func()

	mu      sync.Mutex
	cur     snapshot
	history deque.Deque[int]
	notify  chan struct{}

	logFlushOnce sync.Once
}

// NewViewer creates a viewer scaled for fifoLimit units in flight. onQuit
// runs when the user presses q.
func NewViewer(fifoLimit int, onQuit func()) *Viewer {
	v := &Viewer{
		tuiApp: tview.NewApplication(),
		limit:  max(fifoLimit, 1),
		onQuit: onQuit,
		notify: make(chan struct{}, 1),
	}
	v.history.Grow(maxHistory)
	return v
}

func (v *Viewer) Pushed(unit uint16, inFlight int) {
	v.mu.Lock()
	v.cur.pushed++
	v.cur.lastTx = unit
	v.record(inFlight)
	v.mu.Unlock()
	v.signal()
}

func (v *Viewer) Popped(unit uint16, inFlight int) {
	v.mu.Lock()
	v.cur.popped++
	v.cur.lastRx = unit
	v.record(inFlight)
	v.mu.Unlock()
	v.signal()
}

// record must be called with mu held.
func (v *Viewer) record(inFlight int) {
	v.cur.inFlight = inFlight
	if v.history.Len() == maxHistory {
		v.history.PopFront()
	}
	v.history.PushBack(inFlight)
}

// signal coalesces redraw requests; only the latest state is drawn.
func (v *Viewer) signal() {
	select {
	case v.notify <- struct{}{}:
	default:
	}
}

func (v *Viewer) latest() snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := v.cur
	s.history = make([]int, v.history.Len())
	for i := range v.history.Len() {
		s.history[i] = v.history.At(i)
	}
	return s
}

// Run shows the TUI until ctx is done or the user quits. Log output is
// redirected into the log pane while the TUI is up.
func (v *Viewer) Run(ctx context.Context) error {
	v.setupUI()

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Info("Stopping monitor TUI...")
				v.tuiApp.Stop()
				return
			case <-done:
				return
			case <-v.notify:
				text := render(v.latest(), v.limit)
				v.tuiApp.QueueUpdateDraw(func() {
					v.view.SetText(text)
				})
			}
		}
	}()

	err := v.tuiApp.Run()
	logging.BufferOutput()
	return err
}

func (v *Viewer) setupUI() {
	intro := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText(fmt.Sprintf("FIFO limit [#ffff00]%d[white] | Hit [#ff0000]q[-] to exit, [#ff0000]Up/Down[-] to scroll logs", v.limit))
	intro.SetBorder(true).SetTitle(viewerTitle).SetTitleColor(tcell.ColorLightBlue)
	intro.SetBackgroundColor(tcell.NewRGBColor(20, 20, 20))

	v.view = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	v.view.SetBorder(true)
	v.view.SetBackgroundColor(tcell.NewRGBColor(30, 30, 30))
	v.view.SetText(render(v.latest(), v.limit))

	v.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetChangedFunc(func() {
			v.logView.ScrollToEnd()
			v.tuiApp.Draw()
		})
	v.logView.SetBorder(true).SetTitle(" Logs ").SetTitleColor(tcell.ColorLightBlue)
	v.logView.SetBackgroundColor(tcell.NewRGBColor(40, 40, 40))

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(intro, 3, 0, false).
		AddItem(v.view, 5, 0, false).
		AddItem(v.logView, 0, 1, true)

	v.tuiApp.SetAfterDrawFunc(func(screen tcell.Screen) {
		v.logFlushOnce.Do(func() {
			if err := logging.SetOutput(tview.ANSIWriter(v.logView)); err != nil {
				slog.Error("Could not redirect logs", "error", err)
			}
		})
	})

	v.tuiApp.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			v.quit()
			return nil
		case tcell.KeyUp:
			row, col := v.logView.GetScrollOffset()
			v.logView.ScrollTo(row-1, col)
			return nil
		case tcell.KeyDown:
			row, col := v.logView.GetScrollOffset()
			v.logView.ScrollTo(row+1, col)
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q', 'Q':
				v.quit()
				return nil
			}
		}
		return event
	})

	v.tuiApp.SetRoot(layout, true).SetFocus(v.logView)
}

func (v *Viewer) quit() {
	v.tuiApp.Stop()
	if v.onQuit != nil {
		v.onQuit()
	}
}

// render formats s for a FIFO holding at most limit units.
func render(s snapshot, limit int) string {
	var b strings.Builder

	fill := min(s.inFlight, limit)
	fmt.Fprintf(&b, "[yellow]In flight[white] [green]%s[-][gray]%s[-] %d/%d\n",
		strings.Repeat("█", fill), strings.Repeat("░", limit-fill), s.inFlight, limit)

	b.WriteString("[yellow]History  [white] ")
	for _, n := range s.history {
		idx := min(max(n, 0)*(len(levels)-1)/limit, len(levels)-1)
		b.WriteRune(levels[idx])
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "[yellow]Pushed[white] %-8d [yellow]Popped[white] %-8d [yellow]Last[white] tx %#04x rx %#04x",
		s.pushed, s.popped, s.lastTx, s.lastRx)
	return b.String()
}
