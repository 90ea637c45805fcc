package detector

import (
	"image"

	"github.com/nvr-ai/go-helmet/accel"
	"github.com/nvr-ai/go-helmet/config"
	"github.com/nvr-ai/go-helmet/profiler"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Builder assembles a Detector with a fluent API. The first error sticks and is returned by
// Build.
type Builder struct {
	cfg     *config.Config
	backend accel.Backend
	shared  *accel.SharedRuntime
	timer   *profiler.StageTimer
	log     *logrus.Entry
	size    image.Point
	roi     [][]image.Point
	err     error
}

// NewBuilder creates a new detector builder.
//
// Returns:
//   - *Builder: The builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the configuration.
//
// Arguments:
//   - cfg: The configuration; it is validated here.
//
// Returns:
//   - *Builder: The builder.
func (b *Builder) WithConfig(cfg *config.Config) *Builder {
	if b.HasError() {
		return b
	}
	if cfg == nil {
		b.err = errors.New("nil config")
		return b
	}
	if err := cfg.Validate(); err != nil {
		b.err = errors.Wrap(err, "invalid config")
		return b
	}
	b.cfg = cfg
	return b
}

// WithBackend sets the accelerator backend.
func (b *Builder) WithBackend(backend accel.Backend) *Builder {
	if b.HasError() {
		return b
	}
	b.backend = backend
	return b
}

// WithSharedRuntime makes the detector share one runtime with other detectors.
func (b *Builder) WithSharedRuntime(shared *accel.SharedRuntime) *Builder {
	if b.HasError() {
		return b
	}
	b.shared = shared
	return b
}

// WithStageTimer records per-stage timings.
func (b *Builder) WithStageTimer(timer *profiler.StageTimer) *Builder {
	if b.HasError() {
		return b
	}
	b.timer = timer
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(log *logrus.Entry) *Builder {
	if b.HasError() {
		return b
	}
	b.log = log
	return b
}

// WithFrame records the stream's frame size from a representative frame.
func (b *Builder) WithFrame(frame gocv.Mat) *Builder {
	if b.HasError() {
		return b
	}
	if frame.Empty() {
		b.err = errors.New("empty reference frame")
		return b
	}
	b.size = image.Pt(frame.Cols(), frame.Rows())
	return b
}

// WithROI overrides the configured ROI polygons.
func (b *Builder) WithROI(polygons [][]image.Point) *Builder {
	if b.HasError() {
		return b
	}
	b.roi = polygons
	return b
}

// HasError checks if the builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *Builder) HasError() bool {
	return b.err != nil
}

// Build creates the detector.
//
// Returns:
//   - *Detector: The detector.
//   - error: The first builder error or a construction error.
func (b *Builder) Build() (*Detector, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.cfg == nil {
		return nil, errors.New("config not configured")
	}
	if b.backend == nil {
		return nil, errors.New("backend not configured")
	}

	d, err := newDetector(b)
	if err != nil {
		return nil, err
	}
	if b.roi != nil {
		d.SetROI(b.roi)
	}
	return d, nil
}

// MustBuild builds the detector and panics if there is an error.
func (b *Builder) MustBuild() *Detector {
	d, err := b.Build()
	if err != nil {
		panic(err)
	}
	return d
}
