package monitor

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lautenbacher.net/gospi/exchange"
	"lautenbacher.net/gospi/sim"
)

func observe(s *Stats, depths ...int) {
	for _, d := range depths {
		s.Pushed(0, d)
	}
}

func TestStats_Summary(t *testing.T) {
	s := NewStats()
	observe(s, 30, 10, 50, 20, 40)

	sum := s.Summary()
	assert.Equal(t, 5, sum.Pushed)
	assert.Equal(t, 10, sum.Min)
	assert.Equal(t, 50, sum.Max)
	assert.Equal(t, 30.0, sum.Mean)
	assert.Equal(t, 30.0, sum.Median)
	assert.InDelta(t, math.Sqrt(200), sum.StdDev, 1e-9)
}

func TestStats_Empty(t *testing.T) {
	assert.Equal(t, Summary{}, NewStats().Summary())
}

func TestStats_EvenMedian(t *testing.T) {
	s := NewStats()
	observe(s, 40, 10, 30, 20)
	assert.Equal(t, 25.0, s.Summary().Median)
}

func TestStats_Bounded(t *testing.T) {
	s := NewStats()
	for i := 0; i < 1_000_000; i++ {
		s.Pushed(0, i%7)
		s.Popped(0, i%6)
	}

	assert.Len(t, s.depths, 7)
	sum := s.Summary()
	assert.Equal(t, 1_000_000, sum.Pushed)
	assert.Equal(t, 1_000_000, sum.Popped)
	assert.Equal(t, 0, sum.Min)
	assert.Equal(t, 6, sum.Max)
}

func runEngine(t *testing.T, obs exchange.Observer, limit, units int) {
	t.Helper()
	l := sim.NewLoopback(8, 6)
	require.NoError(t, l.Configure(exchange.Width8))
	e := exchange.NewEngine(l, exchange.Options{FIFOLimit: limit, Observer: obs})
	n, err := e.ExchangeBuffer(exchange.Width8, nil, units, nil)
	require.NoError(t, err)
	require.Equal(t, units, n)
}

func TestStats(t *testing.T) {
	s := NewStats()
	runEngine(t, s, 6, 20)

	sum := s.Summary()
	assert.Equal(t, 20, sum.Pushed)
	assert.Equal(t, 20, sum.Popped)
	assert.Equal(t, 0, sum.Min)
	assert.Equal(t, 6, sum.Max)

	var buf bytes.Buffer
	require.NoError(t, s.Fprint(&buf, 20))
	out := buf.String()
	assert.Contains(t, out, "pushed 20, popped 20")
	assert.Contains(t, out, "%")
	// One line for the summary and one per bucket.
	assert.Equal(t, 1+7, strings.Count(out, "\n"))

	s.Reset()
	assert.Equal(t, Summary{}, s.Summary())
	buf.Reset()
	require.NoError(t, s.Fprint(&buf, 20))
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
}

func TestViewer_Observes(t *testing.T) {
	v := NewViewer(6, nil)
	runEngine(t, v, 6, 10)

	s := v.latest()
	assert.Equal(t, 10, s.pushed)
	assert.Equal(t, 10, s.popped)
	assert.Equal(t, 0, s.inFlight)
	assert.Equal(t, 20, len(s.history))
	assert.Equal(t, 6, slicesMax(s.history))

	// Redraw requests are coalesced into one pending notification.
	assert.Len(t, v.notify, 1)
}

func TestViewer_HistoryBounded(t *testing.T) {
	v := NewViewer(4, nil)
	for i := 0; i < maxHistory+10; i++ {
		v.Pushed(uint16(i), i%5)
	}
	s := v.latest()
	assert.Len(t, s.history, maxHistory)
	assert.Equal(t, (maxHistory+9)%5, s.history[maxHistory-1])
}

func TestRender(t *testing.T) {
	out := render(snapshot{
		pushed:   3,
		popped:   1,
		inFlight: 2,
		lastTx:   0xAB,
		lastRx:   0x01,
		history:  []int{0, 2, 4},
	}, 4)

	lines := strings.Split(out, "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "██[-][gray]░░")
	assert.Contains(t, lines[0], "2/4")
	assert.True(t, strings.HasSuffix(lines[1], " ▄█"), lines[1])
	assert.Contains(t, lines[2], "tx 0x00ab rx 0x0001")
}

func TestRender_AboveLimit(t *testing.T) {
	out := render(snapshot{inFlight: 9, history: []int{9}}, 4)
	assert.Contains(t, out, "9/4")
	assert.NotContains(t, out, "░")
}

func slicesMax(s []int) int {
	m := 0
	for _, v := range s {
		m = max(m, v)
	}
	return m
}
