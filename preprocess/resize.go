package preprocess

import (
	"image"
	"math"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-helmet/config"
	"gocv.io/x/gocv"
)

// scaleEpsilon is the distance from 1.0 under which Resize skips the resize call.
const scaleEpsilon = 1e-8

// ResizeScale computes the (vertical, horizontal) scale from src to target.
//
// Arguments:
//   - src: Source (width, height).
//   - target: Target [height, width].
//   - keepRatio: Use one uniform scale for both axes.
//
// Returns:
//   - float64: Vertical scale.
//   - float64: Horizontal scale.
func ResizeScale(src image.Point, target [2]int, keepRatio bool) (float64, float64) {
	h, w := float64(src.Y), float64(src.X)
	th, tw := float64(target[0]), float64(target[1])
	if !keepRatio {
		return th / h, tw / w
	}

	smin, smax := math.Min(h, w), math.Max(h, w)
	tmin, tmax := math.Min(th, tw), math.Max(th, tw)
	s := math.Min(tmax/smax, tmin/smin)
	return s, s
}

// LetterBox is the geometry of a letterbox resize.
type LetterBox struct {
	// Scale is the uniform resize factor.
	Scale float32
	// Size is the resized (width, height) before padding.
	Size image.Point
	// Padding on each side.
	Top, Bottom, Left, Right int
}

// LetterBoxGeometry computes the uniform scale, resized size and padding that fit src into
// target. Odd padding puts the extra pixel on the far side.
//
// Arguments:
//   - src: Source (width, height).
//   - target: Target [height, width].
//
// Returns:
//   - LetterBox: The geometry.
func LetterBoxGeometry(src image.Point, target [2]int) LetterBox {
	h, w := float32(src.Y), float32(src.X)
	th, tw := float32(target[0]), float32(target[1])

	ratio := math32.Min(th/h, tw/w)
	newW := math32.Round(w * ratio)
	newH := math32.Round(h * ratio)
	padW := (tw - newW) / 2
	padH := (th - newH) / 2

	return LetterBox{
		Scale:  ratio,
		Size:   image.Pt(int(newW), int(newH)),
		Top:    int(math32.Round(padH - 0.1)),
		Bottom: int(math32.Round(padH + 0.1)),
		Left:   int(math32.Round(padW - 0.1)),
		Right:  int(math32.Round(padW + 0.1)),
	}
}

// resizeTo replaces m by a resized copy. A zero size resizes by fx/fy instead.
func resizeTo(b *Batch, i int, size image.Point, fx, fy float64, interp gocv.InterpolationFlags) {
	dst := gocv.NewMat()
	gocv.Resize(b.Frames[i], &dst, size, fx, fy, interp)
	b.replace(i, dst)
}

type topDownEvalAffine struct {
	size   image.Point
	interp gocv.InterpolationFlags
}

func newTopDownEvalAffine(cfg *config.Config) (Operator, error) {
	return &topDownEvalAffine{
		size:   image.Pt(cfg.Pipeline.TrainSize[1], cfg.Pipeline.TrainSize[0]),
		interp: gocv.InterpolationFlags(cfg.Pipeline.Interp),
	}, nil
}

func (o *topDownEvalAffine) Op() Op { return OpTopDownEvalAffine }

func (o *topDownEvalAffine) Apply(b *Batch) error {
	for i := range b.Frames {
		resizeTo(b, i, o.size, 0, 0, o.interp)
	}
	return nil
}

func (o *topDownEvalAffine) Close() error { return nil }

type resize struct {
	target    [2]int
	keepRatio bool
	interp    gocv.InterpolationFlags
}

func newResize(cfg *config.Config) (Operator, error) {
	return &resize{
		target:    cfg.Pipeline.TargetSize,
		keepRatio: cfg.Pipeline.KeepRatio,
		interp:    gocv.InterpolationFlags(cfg.Pipeline.Interp),
	}, nil
}

func (o *resize) Op() Op { return OpResize }

func (o *resize) Apply(b *Batch) error {
	scaleH, scaleW := ResizeScale(b.Size(), o.target, o.keepRatio)
	if math.Abs(scaleH-1) < scaleEpsilon || math.Abs(scaleW-1) < scaleEpsilon {
		return nil
	}
	for i := range b.Frames {
		resizeTo(b, i, image.Point{}, scaleW, scaleH, o.interp)
	}
	return nil
}

func (o *resize) Close() error { return nil }

// letterBoxValue is the constant border written around letterboxed frames.
const letterBoxValue = 127.5

type letterBoxResize struct {
	target [2]int
}

func newLetterBoxResize(cfg *config.Config) (Operator, error) {
	return &letterBoxResize{target: cfg.Pipeline.TargetSize}, nil
}

func (o *letterBoxResize) Op() Op { return OpLetterBoxResize }

func (o *letterBoxResize) Apply(b *Batch) error {
	src := b.Size()
	geo := LetterBoxGeometry(src, o.target)
	for i := range b.Frames {
		if geo.Size != src {
			resizeTo(b, i, geo.Size, 0, 0, gocv.InterpolationArea)
		}
		if err := padConstant(b, i, geo.Top, geo.Bottom, geo.Left, geo.Right, letterBoxValue); err != nil {
			return err
		}
	}
	return nil
}

func (o *letterBoxResize) Close() error { return nil }
