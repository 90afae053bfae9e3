package profiling

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"
)

// ErrGoroutineLeak is returned when goroutines outlive a session.
var ErrGoroutineLeak = errors.New("goroutines still running after shutdown")

// Baseline is the process state before a session started.
type Baseline struct {
	Goroutines int
	HeapAlloc  uint64
	Taken      time.Time
}

// TakeBaseline records the current goroutine count and heap size.
func TakeBaseline() Baseline {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Baseline{
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		Taken:      time.Now(),
	}
}

// Settled waits until the goroutine count is back within slack of the
// baseline. Goroutines need a moment to unwind after their contexts are
// cancelled, so the count is polled until ctx is done.
func (b Baseline) Settled(ctx context.Context, slack int) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		n := runtime.NumGoroutine()
		if n <= b.Goroutines+slack {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %d running, %d before start", ErrGoroutineLeak, n, b.Goroutines)
		case <-ticker.C:
		}
	}
}

// HeapGrowth returns the heap growth since the baseline after a garbage
// collection. Negative values mean the heap shrank.
func (b Baseline) HeapGrowth() int64 {
	runtime.GC()
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.HeapAlloc) - int64(b.HeapAlloc)
}

// FormatBytes formats a byte count for log output.
func FormatBytes(n int64) string {
	sign := ""
	if n < 0 {
		sign, n = "-", -n
	}
	const unit = 1024
	switch {
	case n >= unit*unit*unit:
		return fmt.Sprintf("%s%.2f GB", sign, float64(n)/(unit*unit*unit))
	case n >= unit*unit:
		return fmt.Sprintf("%s%.2f MB", sign, float64(n)/(unit*unit))
	case n >= unit:
		return fmt.Sprintf("%s%.2f KB", sign, float64(n)/unit)
	default:
		return fmt.Sprintf("%s%d B", sign, n)
	}
}
