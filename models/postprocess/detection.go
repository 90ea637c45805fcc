// Package postprocess - Detection decoding, annotation and alarm debouncing.
package postprocess

import (
	"fmt"
	"image"

	"github.com/nvr-ai/go-helmet/images"
)

// Detection is one decoded candidate in original-frame pixel coordinates.
type Detection struct {
	// The predicted class index.
	ClassID int
	// The confidence score.
	Score float32
	// The bounding box of the detection.
	Box images.Rect
}

// Rectangle converts the box for drawing.
func (d Detection) Rectangle() image.Rectangle {
	return d.Box.Rectangle()
}

func (d Detection) String() string {
	return fmt.Sprintf("class %d (score %.3f): (%d, %d), (%d, %d)",
		d.ClassID, d.Score, d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2)
}
