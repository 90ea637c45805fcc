// Package profiler - Per-stage timing for the frame pipeline.
package profiler

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Pipeline stages timed by the detector.
const (
	StagePreprocess  = "preprocess"
	StageInfer       = "infer"
	StagePostprocess = "postprocess"
	StageFrame       = "frame"
)

// StageObserver receives every recorded stage duration.
type StageObserver interface {
	ObserveStage(stage string, d time.Duration)
}

// Stats summarizes the retained samples of one stage.
type Stats struct {
	Count int64
	Mean  time.Duration
	Min   time.Duration
	Max   time.Duration
}

// timeTracker keeps a sliding window of durations for one stage.
type timeTracker struct {
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// Options configures a StageTimer.
type Options struct {
	// MaxSamples is the sliding window size per stage (default: 600).
	MaxSamples int
	// Log emits each sample at debug level and reports at info level.
	Log *logrus.Entry
	// Verbose logs every sample at info level instead of debug.
	Verbose bool
}

// StageTimer records stage durations and forwards them to observers. It is safe for
// concurrent use.
type StageTimer struct {
	mu         sync.RWMutex
	maxSamples int
	log        *logrus.Entry
	verbose    bool
	stages     map[string]*timeTracker
	observers  []StageObserver
}

// NewStageTimer creates a timer.
//
// Arguments:
//   - opts: Window size and logging options.
//
// Returns:
//   - *StageTimer: The timer.
func NewStageTimer(opts Options) *StageTimer {
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 600
	}
	if opts.Log == nil {
		opts.Log = logrus.WithField("component", "profiler")
	}
	return &StageTimer{
		maxSamples: opts.MaxSamples,
		log:        opts.Log,
		verbose:    opts.Verbose,
		stages:     make(map[string]*timeTracker),
	}
}

// AddObserver registers an observer called for every sample.
func (t *StageTimer) AddObserver(o StageObserver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

// Start begins timing a stage.
//
// Returns:
//   - func(): Call when the stage completes.
//
// @example
// defer timer.Start(profiler.StageInfer)()
func (t *StageTimer) Start(stage string) func() {
	start := time.Now()
	return func() { t.Observe(stage, time.Since(start)) }
}

// Observe records one duration.
func (t *StageTimer) Observe(stage string, d time.Duration) {
	t.mu.Lock()
	tracker, ok := t.stages[stage]
	if !ok {
		tracker = &timeTracker{minTime: d, maxTime: d}
		t.stages[stage] = tracker
	}
	tracker.durations = append(tracker.durations, d)
	tracker.totalTime += d
	if len(tracker.durations) > t.maxSamples {
		tracker.totalTime -= tracker.durations[0]
		tracker.durations = tracker.durations[1:]
	}
	tracker.count++
	if d < tracker.minTime {
		tracker.minTime = d
	}
	if d > tracker.maxTime {
		tracker.maxTime = d
	}
	observers := t.observers
	t.mu.Unlock()

	for _, o := range observers {
		o.ObserveStage(stage, d)
	}

	entry := t.log.WithFields(logrus.Fields{"stage": stage, "elapsed": d})
	if t.verbose {
		entry.Info("timing")
	} else {
		entry.Debug("timing")
	}
}

// Stats returns the summary of one stage; the zero value if it was never observed.
func (t *StageTimer) Stats(stage string) Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tracker, ok := t.stages[stage]
	if !ok || len(tracker.durations) == 0 {
		return Stats{}
	}
	return Stats{
		Count: tracker.count,
		Mean:  tracker.totalTime / time.Duration(len(tracker.durations)),
		Min:   tracker.minTime,
		Max:   tracker.maxTime,
	}
}

// Report logs the summary of every stage.
func (t *StageTimer) Report() {
	t.mu.RLock()
	names := make([]string, 0, len(t.stages))
	for name := range t.stages {
		names = append(names, name)
	}
	t.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		s := t.Stats(name)
		t.log.WithFields(logrus.Fields{
			"stage": name,
			"count": s.Count,
			"mean":  s.Mean.Truncate(time.Microsecond),
			"min":   s.Min.Truncate(time.Microsecond),
			"max":   s.Max.Truncate(time.Microsecond),
		}).Info("stage timings")
	}
}
