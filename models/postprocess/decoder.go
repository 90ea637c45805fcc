package postprocess

import (
	"fmt"
	"image"

	"github.com/nvr-ai/go-helmet/config"
	"github.com/nvr-ai/go-helmet/inference"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// HelmetDetectionPost is the name of the box-and-label decoder.
const HelmetDetectionPost = "HelmetDetectionPost"

// ModeDrawBoxLetter draws a box outline and a label for every surviving detection.
const ModeDrawBoxLetter = 0

var (
	// ErrUnknownPostprocess is returned for a postprocess name or mode with no implementation.
	ErrUnknownPostprocess = errors.New("unknown postprocess")
	// ErrMissingOutput is returned when the detection output was not produced.
	ErrMissingOutput = errors.New("missing detection output")
)

// Decoder decodes one stream's detections, draws them and debounces the alarm. The latch
// state persists across frames, so a Decoder belongs to exactly one stream.
type Decoder struct {
	cfg   *config.Config
	latch *Latch
	log   *logrus.Entry
}

// NewDecoder creates the decoder named by cfg.Postprocess.Name.
//
// Arguments:
//   - cfg: The stream configuration.
//   - log: The logger; nil uses the package default.
//
// Returns:
//   - *Decoder: The decoder.
//   - error: ErrUnknownPostprocess for an unsupported name or mode.
func NewDecoder(cfg *config.Config, log *logrus.Entry) (*Decoder, error) {
	if cfg.Postprocess.Name != HelmetDetectionPost {
		return nil, errors.Wrapf(ErrUnknownPostprocess, "name %q", cfg.Postprocess.Name)
	}
	if cfg.Postprocess.Mode != ModeDrawBoxLetter {
		return nil, errors.Wrapf(ErrUnknownPostprocess, "mode %d", cfg.Postprocess.Mode)
	}
	if log == nil {
		log = logrus.WithField("component", "postprocess")
	}
	return &Decoder{
		cfg:   cfg,
		latch: NewLatch(cfg.Postprocess.AlarmCount),
		log:   log,
	}, nil
}

// Latch exposes the alarm state.
func (d *Decoder) Latch() *Latch { return d.latch }

// Run decodes the detection output, annotates frame in place and advances the alarm latch.
//
// Arguments:
//   - results: The inference outputs; the first configured output holds the detections.
//   - frame: The original frame to annotate.
//
// Returns:
//   - int: 1 if the alarm fired on this frame, 0 otherwise.
//   - []Detection: The drawn detections.
//   - error: ErrMissingOutput if the detections are absent.
func (d *Decoder) Run(results *inference.Results, frame *gocv.Mat) (int, []Detection, error) {
	name := d.cfg.Model.OutputNames[0]
	raw, ok := results.Get(name)
	if !ok {
		return 0, nil, errors.Wrap(ErrMissingOutput, name)
	}

	dets := Decode(raw, image.Pt(frame.Cols(), frame.Rows()), d.cfg)
	for _, det := range dets {
		d.Draw(frame, det)
	}

	alarm := d.latch.Observe(HasTarget(dets, d.cfg.Postprocess.TargetClass))
	if alarm == 1 {
		d.log.WithField("detections", len(dets)).Info("alarm fired")
	}
	return alarm, dets, nil
}

// Draw outlines one detection and writes its label above the box.
func (d *Decoder) Draw(frame *gocv.Mat, det Detection) {
	pp := d.cfg.Postprocess
	box, text := pp.BoxColor, pp.TextColor
	if det.ClassID == pp.TargetClass {
		box, text = pp.AlarmBoxColor, pp.AlarmTextColor
	}

	gocv.Rectangle(frame, det.Rectangle(), box.RGBA(), pp.BoxLineWidth)

	org := image.Pt(det.Box.X1, int(float32(det.Box.Y1)-pp.TextFontSize-10))
	gocv.PutText(frame, Label(det, pp.Labels), org, gocv.FontHersheyPlain,
		float64(pp.TextFontSize), text.RGBA(), int(pp.TextLineWidth))
}

// Label formats "<label>: <percent>%" for a detection.
func Label(det Detection, labels []string) string {
	name := fmt.Sprint(det.ClassID)
	if det.ClassID >= 0 && det.ClassID < len(labels) {
		name = labels[det.ClassID]
	}
	return fmt.Sprintf("%s: %.6g%%", name, 100*det.Score)
}
