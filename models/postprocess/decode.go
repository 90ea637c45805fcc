package postprocess

import (
	"image"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-helmet/config"
	"github.com/nvr-ai/go-helmet/images"
)

const (
	// MaxCandidates is the fixed number of candidate slots in the detection output.
	MaxCandidates = 100
	// CandidateStride is the number of floats per candidate:
	// [class_id, score, x_min, y_min, x_max, y_max].
	CandidateStride = 6
)

// Decode turns the raw detection output into boxes in frame coordinates. Candidates whose
// class is outside the label range or whose score does not exceed the score threshold are
// dropped.
//
// Arguments:
//   - dets: The flat detection output in target-size coordinates.
//   - frame: The original frame size (width, height).
//   - cfg: The configuration carrying target size, labels and score threshold.
//
// Returns:
//   - []Detection: The surviving detections in candidate order.
func Decode(dets []float32, frame image.Point, cfg *config.Config) []Detection {
	scaleX := float32(frame.X) / float32(cfg.TargetWidth())
	scaleY := float32(frame.Y) / float32(cfg.TargetHeight())

	n := min(MaxCandidates, len(dets)/CandidateStride)
	out := make([]Detection, 0, n)
	for i := 0; i < n; i++ {
		c := dets[i*CandidateStride : (i+1)*CandidateStride]

		class := int(math32.Round(c[0]))
		if class < 0 || class >= len(cfg.Postprocess.Labels) {
			continue
		}
		if c[1] <= cfg.Postprocess.ScoreThreshold {
			continue
		}

		out = append(out, Detection{
			ClassID: class,
			Score:   c[1],
			Box: images.Rect{
				X1: int(c[2] * scaleX),
				Y1: int(c[3] * scaleY),
				X2: int(c[4] * scaleX),
				Y2: int(c[5] * scaleY),
			},
		})
	}
	return out
}

// HasTarget reports whether any detection carries the target class.
func HasTarget(dets []Detection, targetClass int) bool {
	for _, d := range dets {
		if d.ClassID == targetClass {
			return true
		}
	}
	return false
}
