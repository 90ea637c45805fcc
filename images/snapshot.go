package images

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// SnapshotOptions configures alarm snapshots.
type SnapshotOptions struct {
	// Dir receives the snapshot files; it is created if missing.
	Dir string
	// Width of the thumbnail in pixels; 0 keeps the frame width.
	Width uint
	// Format of the file (default: jpeg).
	Format ImageFormat
	// Quality for lossy formats (default: 85).
	Quality int
}

// Snapshot writes a downscaled copy of frame to opts.Dir, named after the stream and time.
//
// Arguments:
//   - frame: The annotated BGR frame.
//   - stream: The stream id used in the file name.
//   - at: The capture time.
//   - opts: Destination and encoding.
//
// Returns:
//   - string: The written file path.
//   - error: A conversion, encoding or file error.
func Snapshot(frame gocv.Mat, stream string, at time.Time, opts SnapshotOptions) (string, error) {
	if frame.Empty() {
		return "", errors.New("snapshot of an empty frame")
	}
	if opts.Format == "" {
		opts.Format = FormatJPEG
	}
	if opts.Quality <= 0 {
		opts.Quality = 85
	}

	img, err := frame.ToImage()
	if err != nil {
		return "", errors.Wrap(err, "convert frame")
	}
	if opts.Width > 0 && int(opts.Width) < frame.Cols() {
		img = resize.Resize(opts.Width, 0, img, resize.Lanczos3)
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create %s", opts.Dir)
	}
	name := fmt.Sprintf("%s_%s%s", stream, at.UTC().Format("20060102T150405.000"), opts.Format.Extension())
	path := filepath.Join(opts.Dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrapf(err, "create %s", path)
	}
	if err := opts.Format.Encode(f, img, opts.Quality); err != nil {
		f.Close()
		return "", errors.Wrapf(err, "encode %s", path)
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrapf(err, "close %s", path)
	}
	return path, nil
}
