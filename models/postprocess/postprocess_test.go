package postprocess

import (
	"image"
	"testing"

	"github.com/nvr-ai/go-helmet/config"
	"github.com/nvr-ai/go-helmet/images"
	"github.com/nvr-ai/go-helmet/inference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// candidates pads the given candidates to the full output size with zero-score slots.
func candidates(cs ...[CandidateStride]float32) []float32 {
	out := make([]float32, MaxCandidates*CandidateStride)
	for i, c := range cs {
		copy(out[i*CandidateStride:], c[:])
	}
	return out
}

func TestDecodeScalesToFrame(t *testing.T) {
	cfg := config.Default()
	dets := Decode(candidates([CandidateStride]float32{1, 0.92, 100, 50, 300, 250}), image.Pt(1216, 1216), cfg)

	require.Len(t, dets, 1)
	assert.Equal(t, 1, dets[0].ClassID)
	assert.InDelta(t, 0.92, dets[0].Score, 1e-6)
	assert.Equal(t, images.Rect{X1: 200, Y1: 100, X2: 600, Y2: 500}, dets[0].Box)
}

func TestDecodeIndependentAxes(t *testing.T) {
	cfg := config.Default()
	dets := Decode(candidates([CandidateStride]float32{0, 0.7, 608, 608, 304, 304}), image.Pt(1216, 304), cfg)

	require.Len(t, dets, 1)
	assert.Equal(t, images.Rect{X1: 1216, Y1: 304, X2: 608, Y2: 152}, dets[0].Box)
}

func TestDecodeFilters(t *testing.T) {
	cfg := config.Default()
	raw := candidates(
		[CandidateStride]float32{2, 0.99, 0, 0, 10, 10},   // outside label range
		[CandidateStride]float32{-1, 0.99, 0, 0, 10, 10},  // negative class
		[CandidateStride]float32{1, 0.6, 0, 0, 10, 10},    // not above threshold
		[CandidateStride]float32{0.5, 0.61, 0, 0, 10, 10}, // rounds away from zero to 1
		[CandidateStride]float32{1.49, 0.8, 0, 0, 10, 10}, // rounds to 1
		[CandidateStride]float32{-0.4, 0.8, 0, 0, 10, 10}, // rounds to 0
	)

	dets := Decode(raw, image.Pt(608, 608), cfg)
	require.Len(t, dets, 3)
	assert.Equal(t, []int{1, 1, 0}, []int{dets[0].ClassID, dets[1].ClassID, dets[2].ClassID})
	assert.True(t, HasTarget(dets, 1))
	assert.False(t, HasTarget(dets[2:], 1))
}

func TestDecodeShortOutput(t *testing.T) {
	raw := []float32{1, 0.9, 1, 1, 2, 2, 0, 0.9}
	assert.Len(t, Decode(raw, image.Pt(608, 608), config.Default()), 1)
}

func TestLatchFiresAfterSustainedRun(t *testing.T) {
	l := NewLatch(5)
	for i := 1; i <= 5; i++ {
		assert.Equal(t, 0, l.Observe(true), "frame %d", i)
		assert.Equal(t, 2*i, l.Latency())
	}
	assert.Equal(t, 1, l.Observe(true))
	assert.Equal(t, 0, l.Latency())
}

func TestLatchMissOnlyErodes(t *testing.T) {
	l := NewLatch(5)
	for i := 0; i < 4; i++ {
		l.Observe(true)
	}
	assert.Equal(t, 8, l.Latency())

	assert.Equal(t, 0, l.Observe(false))
	assert.Equal(t, 7, l.Latency())

	assert.Equal(t, 0, l.Observe(true))
	assert.Equal(t, 9, l.Latency())
	assert.Equal(t, 1, l.Observe(true))
}

func TestLatchDecaysToZero(t *testing.T) {
	l := NewLatch(5)
	for i := 0; i < 3; i++ {
		l.Observe(true)
	}

	prev := l.Latency()
	for i := 0; i < 10; i++ {
		assert.Equal(t, 0, l.Observe(false))
		assert.LessOrEqual(t, l.Latency(), prev)
		prev = l.Latency()
	}
	assert.Equal(t, 0, l.Latency())
}

func TestLabel(t *testing.T) {
	labels := []string{"Head", "Helmet"}
	assert.Equal(t, "Helmet: 92%", Label(Detection{ClassID: 1, Score: 0.92}, labels))
	assert.Equal(t, "Head: 61.5%", Label(Detection{ClassID: 0, Score: 0.615}, labels))
	assert.Equal(t, "7: 50%", Label(Detection{ClassID: 7, Score: 0.5}, labels))
}

func TestNewDecoderRejectsUnknown(t *testing.T) {
	cfg := config.Default()
	cfg.Postprocess.Name = "FireDetectionPost"
	_, err := NewDecoder(cfg, nil)
	assert.ErrorIs(t, err, ErrUnknownPostprocess)

	cfg = config.Default()
	cfg.Postprocess.Mode = 3
	_, err = NewDecoder(cfg, nil)
	assert.ErrorIs(t, err, ErrUnknownPostprocess)
}

func TestDecoderRun(t *testing.T) {
	cfg := config.Default()
	cfg.Postprocess.AlarmCount = 1
	d, err := NewDecoder(cfg, nil)
	require.NoError(t, err)

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 608, 608, gocv.MatTypeCV8UC3)
	defer frame.Close()
	before := images.ComputeMatChecksum(frame)

	results := inference.NewResults(cfg.Model.OutputNames)
	_, _, err = d.Run(results, &frame)
	assert.ErrorIs(t, err, ErrMissingOutput)

	results.Set("dets", candidates([CandidateStride]float32{1, 0.9, 100, 100, 200, 200}))

	alarm, dets, err := d.Run(results, &frame)
	require.NoError(t, err)
	assert.Equal(t, 0, alarm)
	assert.Len(t, dets, 1)
	assert.NotEqual(t, before, images.ComputeMatChecksum(frame))

	// Box outline is drawn in the alarm color (BGR order in the Mat).
	px := frame.GetVecbAt(100, 150)
	assert.Equal(t, []uint8{0, 0, 255}, []uint8{px[0], px[1], px[2]})

	alarm, _, err = d.Run(results, &frame)
	require.NoError(t, err)
	assert.Equal(t, 1, alarm)
	assert.Equal(t, 0, d.Latch().Latency())
}
