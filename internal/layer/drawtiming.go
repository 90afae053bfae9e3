package layer

import (
	"sync"
	"time"

	"github.com/opd-ai/go-layersync/internal/geom"
	"github.com/opd-ai/go-layersync/internal/viewport"
)

type drawTiming struct {
	dp   viewport.DisplayPort
	sent time.Time
}

// DrawTimingQueue remembers when each display port was sent to the engine
// so the compositor can measure how long the engine took to draw it. It is
// a fixed ring: once full, the oldest entry is overwritten.
type DrawTimingQueue struct {
	mu      sync.Mutex
	entries []drawTiming
	head    int // index of the oldest entry
	n       int
}

// NewDrawTimingQueue returns a queue holding up to capacity entries.
func NewDrawTimingQueue(capacity int) *DrawTimingQueue {
	if capacity <= 0 {
		capacity = 16
	}
	return &DrawTimingQueue{entries: make([]drawTiming, capacity)}
}

// Add records that dp was sent at t.
func (q *DrawTimingQueue) Add(dp viewport.DisplayPort, t time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := (q.head + q.n) % len(q.entries)
	q.entries[idx] = drawTiming{dp: dp, sent: t}
	if q.n < len(q.entries) {
		q.n++
	} else {
		q.head = (q.head + 1) % len(q.entries)
	}
}

// Match finds the entry for the drawn region and returns the time since it
// was sent. The match and every older entry are removed. Edges must agree
// within a device pixel and resolutions within epsilon.
func (q *DrawTimingQueue) Match(drawn geom.RectF, resolution float64, now time.Time) (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	target := viewport.NewDisplayPort(drawn, resolution)
	for i := 0; i < q.n; i++ {
		e := q.entries[(q.head+i)%len(q.entries)]
		if !e.dp.WithinTolerance(target, 1) || !geom.FuzzyEqual(e.dp.Resolution, resolution, geom.DefaultEpsilon) {
			continue
		}
		q.head = (q.head + i + 1) % len(q.entries)
		q.n -= i + 1
		return now.Sub(e.sent), true
	}
	return 0, false
}

// Len returns the number of pending entries.
func (q *DrawTimingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Reset drops every entry.
func (q *DrawTimingQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.head, q.n = 0, 0
}
