package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

const recentWindow = 10

// Evaluator keeps a bounded history of translation latencies in milliseconds.
type Evaluator struct {
	mu           sync.Mutex
	history      []float64 // ring buffer
	next         int
	full         bool
	total        int64
	maxLatencyMs float64
}

func NewEvaluator(historySize, maxLatencyMs int) *Evaluator {
	if historySize <= 0 {
		historySize = 1000
	}
	if maxLatencyMs <= 0 {
		maxLatencyMs = 500
	}
	return &Evaluator{history: make([]float64, historySize), maxLatencyMs: float64(maxLatencyMs)}
}

func (e *Evaluator) Record(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000
	e.mu.Lock()
	e.history[e.next] = ms
	e.next = (e.next + 1) % len(e.history)
	if e.next == 0 {
		e.full = true
	}
	e.total++
	e.mu.Unlock()
}

// Total counts every recorded translation, including ones rotated out.
func (e *Evaluator) Total() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.total
}

// samples returns the retained history oldest first.
func (e *Evaluator) samples() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.full {
		return append([]float64(nil), e.history[:e.next]...)
	}
	out := make([]float64, 0, len(e.history))
	out = append(out, e.history[e.next:]...)
	return append(out, e.history[:e.next]...)
}

func (e *Evaluator) Average() float64 { return mean(e.samples()) }

// RecentAverage averages the last n samples.
func (e *Evaluator) RecentAverage(n int) float64 {
	s := e.samples()
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return mean(s)
}

// P95 uses the exclusive quantile method over 20 buckets; with 20 samples or
// fewer it is the maximum.
func (e *Evaluator) P95() float64 { return p95(e.samples()) }

// Health is healthy while the recent average stays under the latency budget.
func (e *Evaluator) Health() (status string, avgMs float64) {
	avgMs = e.RecentAverage(recentWindow)
	if avgMs < e.maxLatencyMs {
		return "healthy", avgMs
	}
	return "degraded", avgMs
}

func (e *Evaluator) Report() string {
	s := e.samples()
	if len(s) == 0 {
		return "No performance data available"
	}
	avg := mean(s)
	status := "✓ PASS"
	if avg >= e.maxLatencyMs {
		status = "✗ FAIL"
	}
	return fmt.Sprintf(`
=== Model Performance Report ===
Total Translations: %d
Average Latency: %.2fms
P95 Latency: %.2fms
Target Latency: <%.0fms (Real-time requirement)
Status: %s
`, e.Total(), avg, p95(s), e.maxLatencyMs, status)
}

func mean(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}

func p95(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	sorted := append([]float64(nil), s...)
	sort.Float64s(sorted)
	ld := len(sorted)
	if ld <= 20 {
		return sorted[ld-1]
	}
	const n, i = 20, 19
	m := ld + 1
	j := i * m / n
	if j < 1 {
		j = 1
	} else if j > ld-1 {
		j = ld - 1
	}
	delta := float64(i*m - j*n)
	return (sorted[j-1]*(n-delta) + sorted[j]*delta) / n
}
