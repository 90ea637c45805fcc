// Package images - Frame helpers: boxes, ROI masks, checksums and alarm snapshots.
package images

import "image"

// Rect is a lightweight bounding box in pixel coordinates.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 int
}

// Rectangle converts r for drawing with gocv without canonicalizing the corners.
func (r Rect) Rectangle() image.Rectangle {
	return image.Rectangle{Min: image.Pt(r.X1, r.Y1), Max: image.Pt(r.X2, r.Y2)}
}

// Width of the box; negative for inverted corners.
func (r Rect) Width() int { return r.X2 - r.X1 }

// Height of the box; negative for inverted corners.
func (r Rect) Height() int { return r.Y2 - r.Y1 }
