package logging

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// ProgressTracker counts finished groups and estimates the time left.
// It is safe for concurrent use.
type ProgressTracker struct {
	total     int64
	completed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	bytes     atomic.Int64
	startTime time.Time
	log       zerolog.Logger

	// moving average of group durations
	mu              sync.Mutex
	recentDurations []time.Duration
	maxRecent       int
}

// NewProgressTracker creates a tracker for total groups.
func NewProgressTracker(total int64, log zerolog.Logger) *ProgressTracker {
	return &ProgressTracker{
		total:           total,
		startTime:       time.Now(),
		log:             log,
		recentDurations: make([]time.Duration, 0, 10),
		maxRecent:       10,
	}
}

// RecordCompletion records a group that was aggregated from size source
// bytes in d, and logs a progress line.
func (pt *ProgressTracker) RecordCompletion(group string, size int64, d time.Duration) {
	pt.completed.Add(1)
	pt.bytes.Add(size)

	pt.mu.Lock()
	if len(pt.recentDurations) >= pt.maxRecent {
		pt.recentDurations = pt.recentDurations[1:]
	}
	pt.recentDurations = append(pt.recentDurations, d)
	pt.mu.Unlock()

	done := pt.Done()
	ev := pt.log.Info().
		Str("group", group).
		Str("size", humanize.IBytes(uint64(max(size, 0)))).
		Dur("took", d).
		Int64("done", done).
		Int64("total", pt.total).
		Float64("pct", pt.ProgressPct())
	if eta := pt.ETA(); eta > 0 {
		ev = ev.Str("eta", eta.Round(time.Second).String())
	}
	ev.Msg("group done")
}

// RecordFailure records a group that failed.
func (pt *ProgressTracker) RecordFailure() {
	pt.failed.Add(1)
}

// RecordSkip records a group that was never started.
func (pt *ProgressTracker) RecordSkip() {
	pt.skipped.Add(1)
}

// Failed returns the number of failed groups.
func (pt *ProgressTracker) Failed() int64 {
	return pt.failed.Load()
}

// Done returns the number of groups that finished, successfully or not.
func (pt *ProgressTracker) Done() int64 {
	return pt.completed.Load() + pt.failed.Load() + pt.skipped.Load()
}

// Remaining returns how many groups have not finished.
func (pt *ProgressTracker) Remaining() int64 {
	return pt.total - pt.Done()
}

// ProgressPct returns the progress percentage (0-100).
func (pt *ProgressTracker) ProgressPct() float64 {
	if pt.total == 0 {
		return 100.0
	}
	return float64(pt.Done()) * 100.0 / float64(pt.total)
}

// ETA returns the estimated time remaining based on recent group durations.
func (pt *ProgressTracker) ETA() time.Duration {
	completed := pt.completed.Load()
	if completed == 0 {
		return 0
	}
	remaining := pt.Remaining()
	if remaining <= 0 {
		return 0
	}

	pt.mu.Lock()
	var avg time.Duration
	if len(pt.recentDurations) > 0 {
		var sum time.Duration
		for _, d := range pt.recentDurations {
			sum += d
		}
		avg = sum / time.Duration(len(pt.recentDurations))
	} else {
		avg = time.Since(pt.startTime) / time.Duration(completed)
	}
	pt.mu.Unlock()

	return avg * time.Duration(remaining)
}

// LogSummary writes the final tally.
func (pt *ProgressTracker) LogSummary() {
	bytes := pt.bytes.Load()
	pt.log.Info().
		Int64("completed", pt.completed.Load()).
		Int64("failed", pt.failed.Load()).
		Int64("skipped", pt.skipped.Load()).
		Int64("total", pt.total).
		Int64("bytes", bytes).
		Str("bytes_h", humanize.IBytes(uint64(max(bytes, 0)))).
		Dur("elapsed", time.Since(pt.startTime)).
		Msg("aggregation finished")
}
