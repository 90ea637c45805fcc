package preprocess

import (
	"image"
	"image/color"

	"github.com/nvr-ai/go-helmet/config"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// padConstant surrounds frame i with a constant border. gocv.CopyMakeBorder only takes 8-bit
// border colors, so fractional values go through a pre-filled canvas instead.
func padConstant(b *Batch, i, top, bottom, left, right int, value float64) error {
	if top < 0 || bottom < 0 || left < 0 || right < 0 {
		return errors.Errorf("negative padding %d/%d/%d/%d", top, bottom, left, right)
	}
	if top == 0 && bottom == 0 && left == 0 && right == 0 {
		return nil
	}

	src := b.Frames[i]
	rows, cols := src.Rows(), src.Cols()
	dst := gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(value, value, value, 0),
		rows+top+bottom,
		cols+left+right,
		src.Type(),
	)
	roi := dst.Region(image.Rect(left, top, left+cols, top+rows))
	src.CopyTo(&roi)
	roi.Close()

	b.replace(i, dst)
	return nil
}

// StrideSize returns the smallest size whose dimensions are multiples of stride and not
// smaller than src. A non-positive stride returns src unchanged.
func StrideSize(src image.Point, stride int) image.Point {
	if stride <= 0 {
		return src
	}
	ceil := func(v int) int { return ((v + stride - 1) / stride) * stride }
	return image.Pt(ceil(src.X), ceil(src.Y))
}

type padStride struct {
	stride int
}

func newPadStride(cfg *config.Config) (Operator, error) {
	return &padStride{stride: cfg.Pipeline.Stride}, nil
}

func (o *padStride) Op() Op { return OpPadStride }

func (o *padStride) Apply(b *Batch) error {
	if o.stride <= 0 {
		return nil
	}
	src := b.Size()
	dst := StrideSize(src, o.stride)
	if dst == src {
		return nil
	}
	for i := range b.Frames {
		padded := gocv.NewMat()
		gocv.CopyMakeBorder(b.Frames[i], &padded, 0, dst.Y-src.Y, 0, dst.X-src.X, gocv.BorderConstant, color.RGBA{})
		b.replace(i, padded)
	}
	return nil
}

func (o *padStride) Close() error { return nil }
