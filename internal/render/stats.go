package render

import (
	"sync/atomic"
	"time"
)

// FrameStats tracks compositor frame timing. Every method is safe for
// concurrent use; the compositor records and the HUD and metrics read.
type FrameStats struct {
	periodFrames  atomic.Int64
	frames        atomic.Uint64
	dropped       atomic.Uint64
	checkerboard  atomic.Uint64
	aborts        atomic.Uint64
	lastFPS       atomic.Int64 // FPS * 1000
	lastFrameTime atomic.Int64
	minFrameTime  atomic.Int64
	maxFrameTime  atomic.Int64
	totalTime     atomic.Int64
	lastUpdate    atomic.Int64
	updatePeriod  time.Duration
	now           func() time.Time
}

// FrameSnapshot is a point in time copy of FrameStats.
type FrameSnapshot struct {
	FPS              float64
	Frames           uint64
	Dropped          uint64
	Checkerboard     uint64
	ProgressiveAbort uint64
	LastFrameTime    time.Duration
	MinFrameTime     time.Duration
	MaxFrameTime     time.Duration
	AverageFrameTime time.Duration
}

// NewFrameStats creates FrameStats recomputing FPS every updatePeriod
// (one second when zero).
func NewFrameStats(updatePeriod time.Duration) *FrameStats {
	return newFrameStats(updatePeriod, time.Now)
}

func newFrameStats(updatePeriod time.Duration, now func() time.Time) *FrameStats {
	if updatePeriod <= 0 {
		updatePeriod = time.Second
	}
	fs := &FrameStats{updatePeriod: updatePeriod, now: now}
	fs.lastUpdate.Store(now().UnixNano())
	fs.minFrameTime.Store(int64(time.Hour))
	return fs
}

// RecordFrame records one composited frame.
func (fs *FrameStats) RecordFrame(frameTime time.Duration) {
	nanos := frameTime.Nanoseconds()
	fs.periodFrames.Add(1)
	fs.frames.Add(1)
	fs.lastFrameTime.Store(nanos)
	fs.totalTime.Add(nanos)

	for {
		cur := fs.minFrameTime.Load()
		if nanos >= cur || fs.minFrameTime.CompareAndSwap(cur, nanos) {
			break
		}
	}
	for {
		cur := fs.maxFrameTime.Load()
		if nanos <= cur || fs.maxFrameTime.CompareAndSwap(cur, nanos) {
			break
		}
	}

	now := fs.now().UnixNano()
	last := fs.lastUpdate.Load()
	elapsed := time.Duration(now - last)
	if elapsed >= fs.updatePeriod && fs.lastUpdate.CompareAndSwap(last, now) {
		frames := fs.periodFrames.Swap(0)
		fs.lastFPS.Store(int64(float64(frames) / elapsed.Seconds() * 1000))
	}
}

// RecordDropped counts a frame CreateFrame refused to render.
func (fs *FrameStats) RecordDropped() { fs.dropped.Add(1) }

// RecordCheckerboard counts a frame where part of the visible page was
// outside the display port.
func (fs *FrameStats) RecordCheckerboard() { fs.checkerboard.Add(1) }

// RecordProgressiveAbort counts an aborted progressive pass.
func (fs *FrameStats) RecordProgressiveAbort() { fs.aborts.Add(1) }

// FPS returns the frame rate over the last full period.
func (fs *FrameStats) FPS() float64 {
	return float64(fs.lastFPS.Load()) / 1000
}

// Snapshot copies the counters.
func (fs *FrameStats) Snapshot() FrameSnapshot {
	s := FrameSnapshot{
		FPS:              fs.FPS(),
		Frames:           fs.frames.Load(),
		Dropped:          fs.dropped.Load(),
		Checkerboard:     fs.checkerboard.Load(),
		ProgressiveAbort: fs.aborts.Load(),
		LastFrameTime:    time.Duration(fs.lastFrameTime.Load()),
		MaxFrameTime:     time.Duration(fs.maxFrameTime.Load()),
	}
	if s.Frames > 0 {
		s.MinFrameTime = time.Duration(fs.minFrameTime.Load())
		s.AverageFrameTime = time.Duration(fs.totalTime.Load() / int64(s.Frames))
	}
	return s
}

// Reset clears every counter.
func (fs *FrameStats) Reset() {
	fs.periodFrames.Store(0)
	fs.frames.Store(0)
	fs.dropped.Store(0)
	fs.checkerboard.Store(0)
	fs.aborts.Store(0)
	fs.lastFPS.Store(0)
	fs.lastFrameTime.Store(0)
	fs.minFrameTime.Store(int64(time.Hour))
	fs.maxFrameTime.Store(0)
	fs.totalTime.Store(0)
	fs.lastUpdate.Store(fs.now().UnixNano())
}
