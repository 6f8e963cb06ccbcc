package pipeline

import (
	"sort"
	"sync"
	"time"
)

// Stage names a pipeline stage that reports liveness.
type Stage string

const (
	StageSensor  Stage = "sensor"
	StageControl Stage = "control"
	StageDisplay Stage = "display"
)

// Watchdog records the last beat from each stage. Safe for concurrent use.
type Watchdog struct {
	mu     sync.Mutex
	start  time.Time
	stages []Stage
	last   map[Stage]time.Time
}

// NewWatchdog creates a watchdog for the given stages. Stages that never beat
// are measured from start.
func NewWatchdog(start time.Time, stages ...Stage) *Watchdog {
	return &Watchdog{
		start:  start,
		stages: stages,
		last:   make(map[Stage]time.Time, len(stages)),
	}
}

// Beat records that stage was alive at now.
func (w *Watchdog) Beat(stage Stage, now time.Time) {
	w.mu.Lock()
	w.last[stage] = now
	w.mu.Unlock()
}

// Check returns the stages with no beat within timeout of now, sorted by name.
func (w *Watchdog) Check(now time.Time, timeout time.Duration) []Stage {
	w.mu.Lock()
	defer w.mu.Unlock()

	var missing []Stage
	for _, s := range w.stages {
		last, ok := w.last[s]
		if !ok {
			last = w.start
		}
		if now.Sub(last) > timeout {
			missing = append(missing, s)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}

// LastBeat returns when stage last beat.
func (w *Watchdog) LastBeat(stage Stage) (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.last[stage]
	return t, ok
}
