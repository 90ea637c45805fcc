package preprocess

import (
	"image"

	"github.com/nvr-ai/go-helmet/config"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"
)

// pixelScale is the inverse of the 8-bit range.
const pixelScale = float32(1.0 / 255.0)

// normalizeImage applies x*mul + add with per-pixel constant tensors, mul = (1/255)/std and
// add = -mean/std per channel.
type normalizeImage struct {
	mean, std [3]float32
	consts    map[image.Point]*normConsts
}

type normConsts struct {
	mul, add *tensor.Dense
}

func newNormalizeImage(cfg *config.Config) (Operator, error) {
	for c, s := range cfg.Pipeline.Std {
		if s <= 0 {
			return nil, errors.Errorf("NormalizeImage: std[%d] = %v, must be > 0", c, s)
		}
	}
	o := &normalizeImage{
		mean:   cfg.Pipeline.Mean,
		std:    cfg.Pipeline.Std,
		consts: map[image.Point]*normConsts{},
	}
	target := image.Pt(cfg.TargetWidth(), cfg.TargetHeight())
	o.consts[target] = o.build(target)
	return o, nil
}

// build lays out interleaved (H, W, 3) constant tensors matching CV_32FC3 frames.
func (o *normalizeImage) build(size image.Point) *normConsts {
	n := size.X * size.Y * 3
	mul := make([]float32, n)
	add := make([]float32, n)
	for i := 0; i < n; i += 3 {
		for c := 0; c < 3; c++ {
			mul[i+c] = pixelScale / o.std[c]
			add[i+c] = -o.mean[c] / o.std[c]
		}
	}
	return &normConsts{
		mul: tensor.New(tensor.WithShape(size.Y, size.X, 3), tensor.WithBacking(mul)),
		add: tensor.New(tensor.WithShape(size.Y, size.X, 3), tensor.WithBacking(add)),
	}
}

func (o *normalizeImage) Op() Op { return OpNormalizeImage }

func (o *normalizeImage) Apply(b *Batch) error {
	size := b.Size()
	consts, ok := o.consts[size]
	if !ok {
		consts = o.build(size)
		o.consts[size] = consts
	}

	for i := range b.Frames {
		if b.Frames[i].Type() != gocv.MatTypeCV32FC3 {
			return errors.Errorf("NormalizeImage: frame %d has type %v, want CV_32FC3", i, b.Frames[i].Type())
		}
		data, err := b.Frames[i].DataPtrFloat32()
		if err != nil {
			return errors.Wrapf(err, "NormalizeImage: frame %d", i)
		}
		t := tensor.New(tensor.WithShape(size.Y, size.X, 3), tensor.WithBacking(data))
		if _, err := t.Mul(consts.mul, tensor.UseUnsafe()); err != nil {
			return errors.Wrap(err, "NormalizeImage: mul")
		}
		if _, err := t.Add(consts.add, tensor.UseUnsafe()); err != nil {
			return errors.Wrap(err, "NormalizeImage: add")
		}
	}
	return nil
}

func (o *normalizeImage) Close() error {
	o.consts = nil
	return nil
}
