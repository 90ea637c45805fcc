package detector

import (
	"context"
	"time"

	"github.com/nvr-ai/go-helmet/images"
	"github.com/nvr-ai/go-helmet/inference"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Source yields frames; gocv.VideoCapture satisfies it.
type Source interface {
	Read(m *gocv.Mat) bool
}

// Sink consumes annotated frames; gocv.VideoWriter satisfies it.
type Sink interface {
	Write(m gocv.Mat) error
}

// Recorder counts per-stream events; metrics.Metrics satisfies it.
type Recorder interface {
	Frame(stream string, skipped bool)
	Alarm(stream string)
	Error(stream string)
	StreamStarted(stream string)
	StreamStopped(stream string)
}

// AlarmFunc is called with the annotated frame each time the alarm fires.
type AlarmFunc func(stream string, frame gocv.Mat, at time.Time)

// Stats summarizes one Run.
type Stats struct {
	Frames    int
	Processed int
	Skipped   int
	Alarms    int
	Errors    int
	Elapsed   time.Duration
}

// Runner drives one stream: it reads frames, runs every SampleInterval-th frame through the
// detector and writes every frame to the sink.
type Runner struct {
	Stream   string
	Detector *Detector
	Source   Source
	// Sink is optional.
	Sink Sink
	// Recorder is optional.
	Recorder Recorder
	// OnAlarm is optional.
	OnAlarm AlarmFunc
	Log     *logrus.Entry
}

// SnapshotOnAlarm returns an AlarmFunc writing a snapshot of each alarm frame.
func SnapshotOnAlarm(opts images.SnapshotOptions, log *logrus.Entry) AlarmFunc {
	return func(stream string, frame gocv.Mat, at time.Time) {
		path, err := images.Snapshot(frame, stream, at, opts)
		if err != nil {
			log.WithError(err).Warn("snapshot failed")
			return
		}
		log.WithField("path", path).Info("alarm snapshot written")
	}
}

// fatal reports errors after which the detector cannot process further frames: any failed
// initialization, or a closed detector.
func fatal(err error) bool {
	return errors.Is(err, inference.ErrInit) || errors.Is(err, inference.ErrClosed)
}

// Run processes frames until the source is exhausted, an empty frame is read or ctx is done.
//
// Arguments:
//   - ctx: Cancels the loop between frames.
//
// Returns:
//   - Stats: Frame counters.
//   - error: The first error that stopped the loop; nil when the source ended or ctx was
//     cancelled.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	log := r.Log
	if log == nil {
		log = logrus.WithField("component", "runner")
	}
	log = log.WithField("stream", r.Stream)

	if r.Recorder != nil {
		r.Recorder.StreamStarted(r.Stream)
		defer r.Recorder.StreamStopped(r.Stream)
	}

	interval := r.Detector.Config().Data.SampleInterval
	if interval < 1 {
		interval = 1
	}

	frame := gocv.NewMat()
	defer frame.Close()

	var stats Stats
	start := time.Now()

	for i := 0; ; i++ {
		if ctx.Err() != nil {
			log.Info("stream cancelled")
			break
		}
		if !r.Source.Read(&frame) || frame.Empty() {
			log.Info("end of stream")
			break
		}
		stats.Frames++

		skipped := i%interval != 0
		if skipped {
			stats.Skipped++
		} else {
			alarm, err := r.Detector.Process(&frame)
			if err != nil {
				stats.Errors++
				if r.Recorder != nil {
					r.Recorder.Error(r.Stream)
				}
				if fatal(err) {
					stats.Elapsed = time.Since(start)
					return stats, err
				}
				log.WithError(err).WithField("frame", i).Warn("frame failed")
			} else {
				stats.Processed++
			}
			if alarm == 1 {
				stats.Alarms++
				if r.Recorder != nil {
					r.Recorder.Alarm(r.Stream)
				}
				if r.OnAlarm != nil {
					r.OnAlarm(r.Stream, frame, time.Now())
				}
			}
		}
		if r.Recorder != nil {
			r.Recorder.Frame(r.Stream, skipped)
		}

		if r.Sink != nil {
			if err := r.Sink.Write(frame); err != nil {
				stats.Elapsed = time.Since(start)
				return stats, errors.Wrap(err, "write frame")
			}
		}
	}

	stats.Elapsed = time.Since(start)
	log.WithFields(logrus.Fields{
		"frames":    stats.Frames,
		"processed": stats.Processed,
		"skipped":   stats.Skipped,
		"alarms":    stats.Alarms,
	}).Info("stream done")
	return stats, nil
}
