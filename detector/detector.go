// Package detector - Per-stream helmet detection handles and the frame loop driving them.
package detector

import (
	"image"

	"github.com/google/uuid"
	"github.com/nvr-ai/go-helmet/accel"
	"github.com/nvr-ai/go-helmet/config"
	"github.com/nvr-ai/go-helmet/images"
	"github.com/nvr-ai/go-helmet/inference"
	"github.com/nvr-ai/go-helmet/models/postprocess"
	"github.com/nvr-ai/go-helmet/profiler"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Detector owns one stream's deployment, decoder and ROI mask. It is not safe for concurrent
// use; run one Detector per stream goroutine.
type Detector struct {
	id      string
	cfg     *config.Config
	deploy  *inference.Deployment
	decoder *postprocess.Decoder
	results *inference.Results
	timer   *profiler.StageTimer
	log     *logrus.Entry

	roi      [][]image.Point
	mask     gocv.Mat
	maskSize image.Point

	detections []postprocess.Detection
	closed     bool
}

// New creates a detector for a stream whose frames look like frame.
//
// Arguments:
//   - frame: A representative frame; its size is recorded in the configuration.
//   - cfg: The configuration; the detector keeps its own copy.
//   - backend: The accelerator backend.
//
// Returns:
//   - *Detector: The detector. The engine is loaded on the first Process or Warmup.
//   - error: An invalid configuration or postprocess name.
func New(frame gocv.Mat, cfg *config.Config, backend accel.Backend) (*Detector, error) {
	return NewBuilder().WithConfig(cfg).WithBackend(backend).WithFrame(frame).Build()
}

func newDetector(b *Builder) (*Detector, error) {
	cfg := b.cfg.Clone()
	cfg.PatchFrameShape(b.size.X, b.size.Y)

	id := uuid.NewString()
	log := b.log
	if log == nil {
		log = logrus.WithField("component", "detector")
	}
	log = log.WithField("detector", id)

	opts := []inference.Option{inference.WithLogger(log)}
	if b.shared != nil {
		opts = append(opts, inference.WithSharedRuntime(b.shared))
	}
	if b.timer != nil {
		opts = append(opts, inference.WithStageTimer(b.timer))
	}
	deploy, err := inference.NewDeployment(cfg, b.backend, opts...)
	if err != nil {
		return nil, err
	}
	decoder, err := postprocess.NewDecoder(cfg, log)
	if err != nil {
		deploy.Close()
		return nil, err
	}

	d := &Detector{
		id:      id,
		cfg:     cfg,
		deploy:  deploy,
		decoder: decoder,
		results: inference.NewResults(cfg.Model.OutputNames),
		timer:   b.timer,
		log:     log,
		mask:    gocv.NewMat(),
	}
	d.SetROI(cfg.Data.ROI)
	return d, nil
}

// ID returns the detector's unique id.
func (d *Detector) ID() string { return d.id }

// Config returns the detector's configuration.
func (d *Detector) Config() *config.Config { return d.cfg }

// Detections returns the detections drawn by the last Process call.
func (d *Detector) Detections() []postprocess.Detection { return d.detections }

// AlarmLatency reports the current alarm latch value.
func (d *Detector) AlarmLatency() int { return d.decoder.Latch().Latency() }

// SetROI restricts detection to the given polygons. An empty list covers the whole frame.
func (d *Detector) SetROI(polygons [][]image.Point) {
	d.roi = make([][]image.Point, 0, len(polygons))
	for _, p := range polygons {
		if len(p) >= 3 {
			d.roi = append(d.roi, append([]image.Point(nil), p...))
		}
	}
	d.maskSize = image.Point{}
}

// Warmup loads the engine and runs n dummy inferences. The alarm latch is untouched.
func (d *Detector) Warmup(n int) error {
	if d.closed {
		return inference.ErrClosed
	}
	if err := d.deploy.Init(); err != nil {
		return err
	}
	return d.deploy.Warmup(n)
}

// Process runs one frame through inference and annotates it in place.
//
// Arguments:
//   - frame: The BGR frame. Detections and the ROI outline are drawn onto it.
//
// Returns:
//   - int: 1 if the alarm fired on this frame, 0 otherwise.
//   - error: An inference or decoding error.
func (d *Detector) Process(frame *gocv.Mat) (int, error) {
	if d.closed {
		return 0, inference.ErrClosed
	}
	if frame == nil || frame.Empty() {
		return 0, errors.New("process of an empty frame")
	}
	if d.timer != nil {
		defer d.timer.Start(profiler.StageFrame)()
	}

	if len(d.roi) == 0 {
		if err := d.deploy.Infer(*frame, d.results); err != nil {
			return 0, err
		}
	} else {
		masked := images.ApplyMask(*frame, d.roiMask(frame))
		err := d.deploy.Infer(masked, d.results)
		masked.Close()
		if err != nil {
			return 0, err
		}
	}

	alarm, dets, err := d.decode(frame)
	if err != nil {
		return 0, err
	}
	d.detections = dets

	pp := d.cfg.Postprocess
	images.DrawPolygons(frame, d.roi, pp.ROIColor.RGBA(), pp.BoxLineWidth)
	return alarm, nil
}

func (d *Detector) decode(frame *gocv.Mat) (int, []postprocess.Detection, error) {
	if d.timer != nil {
		defer d.timer.Start(profiler.StagePostprocess)()
	}
	return d.decoder.Run(d.results, frame)
}

// roiMask returns the mask for the frame size, rebuilding it when the size changes.
func (d *Detector) roiMask(frame *gocv.Mat) gocv.Mat {
	size := image.Pt(frame.Cols(), frame.Rows())
	if size != d.maskSize || d.mask.Empty() {
		d.mask.Close()
		d.mask = images.ROIMask(size, d.roi)
		d.maskSize = size
	}
	return d.mask
}

// Close releases the deployment and mask. It is idempotent.
func (d *Detector) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.mask.Close()
	return d.deploy.Close()
}
