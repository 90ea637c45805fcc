package profiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingObserver struct {
	stages []string
}

func (r *recordingObserver) ObserveStage(stage string, _ time.Duration) {
	r.stages = append(r.stages, stage)
}

func TestStageTimerStats(t *testing.T) {
	timer := NewStageTimer(Options{MaxSamples: 2})
	obs := &recordingObserver{}
	timer.AddObserver(obs)

	timer.Observe(StageInfer, 10*time.Millisecond)
	timer.Observe(StageInfer, 30*time.Millisecond)
	timer.Observe(StageInfer, 20*time.Millisecond)

	s := timer.Stats(StageInfer)
	assert.Equal(t, int64(3), s.Count)
	// Window keeps the last two samples.
	assert.Equal(t, 25*time.Millisecond, s.Mean)
	assert.Equal(t, 10*time.Millisecond, s.Min)
	assert.Equal(t, 30*time.Millisecond, s.Max)
	assert.Equal(t, []string{StageInfer, StageInfer, StageInfer}, obs.stages)

	assert.Equal(t, Stats{}, timer.Stats(StagePostprocess))
}

func TestStageTimerStart(t *testing.T) {
	timer := NewStageTimer(Options{})
	done := timer.Start(StagePreprocess)
	done()

	assert.Equal(t, int64(1), timer.Stats(StagePreprocess).Count)
	timer.Report()
}
