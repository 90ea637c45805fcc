package images

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// ROIMask rasterizes polygons into an 8-bit 3-channel mask, 255 inside any polygon and 0
// elsewhere. With no polygons the whole frame is inside.
//
// Arguments:
//   - size: The frame size (width, height).
//   - polygons: Closed polygons in frame coordinates.
//
// Returns:
//   - gocv.Mat: The mask; the caller closes it.
func ROIMask(size image.Point, polygons [][]image.Point) gocv.Mat {
	if len(polygons) == 0 {
		return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), size.Y, size.X, gocv.MatTypeCV8UC3)
	}

	mask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), size.Y, size.X, gocv.MatTypeCV8UC3)
	pts := gocv.NewPointsVectorFromPoints(polygons)
	defer pts.Close()
	gocv.FillPoly(&mask, pts, color.RGBA{R: 255, G: 255, B: 255})
	return mask
}

// ApplyMask copies the pixels of src inside mask into a new Mat, leaving the rest black.
func ApplyMask(src, mask gocv.Mat) gocv.Mat {
	dst := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), src.Rows(), src.Cols(), src.Type())
	if mask.Channels() == 1 {
		src.CopyToWithMask(&dst, mask)
		return dst
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mask, &gray, gocv.ColorBGRToGray)
	src.CopyToWithMask(&dst, gray)
	return dst
}

// DrawPolygons outlines every polygon on frame, closing each one.
func DrawPolygons(frame *gocv.Mat, polygons [][]image.Point, c color.RGBA, thickness int) {
	for _, poly := range polygons {
		for i, p := range poly {
			next := poly[(i+1)%len(poly)]
			gocv.Line(frame, p, next, c, thickness)
		}
	}
}
