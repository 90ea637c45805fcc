// Package preprocess - Ordered image preprocessing chain producing engine-ready frames.
package preprocess

import (
	"image"

	"github.com/nvr-ai/go-helmet/accel"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ErrEmptyFrame is returned for frames with a zero dimension.
var ErrEmptyFrame = errors.New("empty frame")

// Batch is a set of same-sized float32 RGB frames owned by one pipeline invocation. Every
// operation mutates the frames in place.
type Batch struct {
	Frames []gocv.Mat
}

// Upload converts host BGR frames into a float32 RGB batch.
//
// Arguments:
//   - stream: The pipeline stream; synchronized before returning.
//   - frames: 8-bit, 3-channel BGR frames of equal size.
//
// Returns:
//   - *Batch: The converted batch, which the caller must Close.
//   - error: ErrEmptyFrame or a conversion error.
func Upload(stream accel.Stream, frames ...gocv.Mat) (*Batch, error) {
	batch := &Batch{Frames: make([]gocv.Mat, 0, len(frames))}
	for i, frame := range frames {
		if frame.Empty() || frame.Rows() == 0 || frame.Cols() == 0 {
			batch.Close()
			return nil, errors.Wrapf(ErrEmptyFrame, "frame %d", i)
		}
		if frame.Channels() != 3 {
			batch.Close()
			return nil, errors.Errorf("frame %d has %d channels, want 3", i, frame.Channels())
		}
		if i > 0 && (frame.Rows() != frames[0].Rows() || frame.Cols() != frames[0].Cols()) {
			batch.Close()
			return nil, errors.Errorf("frame %d is %dx%d, batch is %dx%d", i, frame.Cols(), frame.Rows(), frames[0].Cols(), frames[0].Rows())
		}

		rgb := gocv.NewMat()
		gocv.CvtColor(frame, &rgb, gocv.ColorBGRToRGB)
		f := gocv.NewMat()
		rgb.ConvertTo(&f, gocv.MatTypeCV32FC3)
		rgb.Close()
		batch.Frames = append(batch.Frames, f)
	}

	if err := stream.Synchronize(); err != nil {
		batch.Close()
		return nil, errors.Wrap(err, "synchronize upload")
	}
	return batch, nil
}

// Size returns the (width, height) of the batch.
func (b *Batch) Size() image.Point {
	if len(b.Frames) == 0 {
		return image.Point{}
	}
	return image.Pt(b.Frames[0].Cols(), b.Frames[0].Rows())
}

// Close releases every frame.
func (b *Batch) Close() {
	for i := range b.Frames {
		b.Frames[i].Close()
	}
	b.Frames = nil
}

// replace swaps the frame at i for m and releases the previous one.
func (b *Batch) replace(i int, m gocv.Mat) {
	b.Frames[i].Close()
	b.Frames[i] = m
}
