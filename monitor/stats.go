// Package monitor watches an exchange.Engine through its Observer hook.
package monitor

import (
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/aybabtme/uniplot/histogram"
)

// Stats counts pushes and pops and samples the in-flight count after each
// of them. It keeps one counter per in-flight depth, so its size is bounded
// by the FIFO limit no matter how long the engine runs. It is safe for
// concurrent use.
type Stats struct {
	mu     sync.Mutex
	pushed int
	popped int
	depths []int // samples per in-flight depth
	n      int
	sum    float64
	sumSq  float64
}

func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) Pushed(_ uint16, inFlight int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushed++
	s.sample(inFlight)
}

func (s *Stats) Popped(_ uint16, inFlight int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.popped++
	s.sample(inFlight)
}

// sample must be called with mu held.
func (s *Stats) sample(inFlight int) {
	d := max(inFlight, 0)
	for len(s.depths) <= d {
		s.depths = append(s.depths, 0)
	}
	s.depths[d]++
	s.n++
	s.sum += float64(d)
	s.sumSq += float64(d) * float64(d)
}

// Reset forgets everything recorded so far.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushed, s.popped = 0, 0
	s.depths = s.depths[:0]
	s.n, s.sum, s.sumSq = 0, 0, 0
}

// Summary describes the in-flight samples.
type Summary struct {
	Pushed int
	Popped int
	Min    int
	Max    int
	Mean   float64
	Median float64
	StdDev float64
}

func (s *Stats) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary()
}

// summary must be called with mu held.
func (s *Stats) summary() Summary {
	sum := Summary{Pushed: s.pushed, Popped: s.popped}
	if s.n == 0 {
		return sum
	}
	sum.Min, sum.Max = s.lowest(), len(s.depths)-1
	sum.Mean = s.sum / float64(s.n)
	sum.StdDev = math.Sqrt(max(s.sumSq/float64(s.n)-sum.Mean*sum.Mean, 0))

	mid := s.n / 2
	if s.n%2 == 0 {
		sum.Median = float64(s.nth(mid-1)+s.nth(mid)) / 2
	} else {
		sum.Median = float64(s.nth(mid))
	}
	return sum
}

func (s *Stats) lowest() int {
	for d, c := range s.depths {
		if c > 0 {
			return d
		}
	}
	return 0
}

// nth returns the depth of the k-th smallest sample.
func (s *Stats) nth(k int) int {
	for d, c := range s.depths {
		if k < c {
			return d
		}
		k -= c
	}
	return len(s.depths) - 1
}

// histogram returns one bucket per depth between the lowest and highest
// sample. It must be called with mu held.
func (s *Stats) histogram() histogram.Histogram {
	h := histogram.Histogram{Count: s.n}
	for d := s.lowest(); d < len(s.depths); d++ {
		c := s.depths[d]
		h.Buckets = append(h.Buckets, histogram.Bucket{Count: c, Min: float64(d), Max: float64(d + 1)})
		h.Max = max(h.Max, c)
	}
	return h
}

// Fprint writes the summary and a histogram of the in-flight samples.
func (s *Stats) Fprint(w io.Writer, width int) error {
	s.mu.Lock()
	sum := s.summary()
	var h histogram.Histogram
	if s.n > 0 {
		h = s.histogram()
	}
	s.mu.Unlock()

	if _, err := fmt.Fprintf(w, "pushed %d, popped %d, in flight min %d max %d mean %.2f stddev %.2f\n",
		sum.Pushed, sum.Popped, sum.Min, sum.Max, sum.Mean, sum.StdDev); err != nil {
		return err
	}
	if h.Count == 0 {
		return nil
	}
	return histogram.Fprintf(w, h, histogram.Linear(width), func(v float64) string {
		return fmt.Sprintf("%.0f", v)
	})
}
