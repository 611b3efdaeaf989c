package serving

import (
	"sync"
	"sync/atomic"
	"time"

	"jamwatch/internal/evaluate"
)

// History is the append-only sequence of validation samples. Appends are
// serialised; readers load the published slice without taking the lock.
type History struct {
	mu   sync.Mutex
	view atomic.Pointer[[]evaluate.Sample]
}

// NewHistory returns an empty history.
func NewHistory() *History {
	h := &History{}
	empty := []evaluate.Sample{}
	h.view.Store(&empty)
	return h
}

// Append assigns the next iteration number and stores the sample. The order
// of the history is the order in which Append calls complete.
func (h *History) Append(s evaluate.Sample) evaluate.Sample {
	return h.append(s, nil)
}

// append stores s and calls recorded, if set, before releasing the lock, so
// recorded sees iterations in order.
func (h *History) append(s evaluate.Sample, recorded func(evaluate.Sample)) evaluate.Sample {
	h.mu.Lock()
	defer h.mu.Unlock()

	cur := *h.view.Load()
	s.Iteration = len(cur) + 1
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
	// elements below len(cur) are never written again, so readers holding
	// the old header stay consistent even when the backing array is shared
	next := append(cur, s)
	h.view.Store(&next)
	if recorded != nil {
		recorded(s)
	}
	return s
}

// Len returns the number of samples.
func (h *History) Len() int {
	return len(*h.view.Load())
}

// Snapshot returns a copy of every sample in order.
func (h *History) Snapshot() []evaluate.Sample {
	cur := *h.view.Load()
	out := make([]evaluate.Sample, len(cur))
	copy(out, cur)
	return out
}

// Since returns the samples with iteration greater than n.
func (h *History) Since(n int) []evaluate.Sample {
	cur := *h.view.Load()
	if n < 0 {
		n = 0
	}
	if n >= len(cur) {
		return []evaluate.Sample{}
	}
	out := make([]evaluate.Sample, len(cur)-n)
	copy(out, cur[n:])
	return out
}

// Latest returns the most recent sample.
func (h *History) Latest() (evaluate.Sample, bool) {
	cur := *h.view.Load()
	if len(cur) == 0 {
		return evaluate.Sample{}, false
	}
	return cur[len(cur)-1], true
}
