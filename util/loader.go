// Package util - Frame sources backed by directories of numbered images.
package util

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ImageFile represents a numbered frame image on disk.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Frame is the frame number parsed from the file name.
	Frame int
}

// ListImageFiles lists the frame images in dir, ordered by frame number. File names are
// "<n>.<ext>" or "frame-<n>.<ext>"; other files are ignored.
//
// Arguments:
//   - dir: Directory path containing image files.
//
// Returns:
//   - []ImageFile: The frames in order.
//   - error: Error if the directory cannot be read.
func ListImageFiles(dir string) ([]ImageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read frame directory %s", dir)
	}

	var files []ImageFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		switch ext {
		case ".jpg", ".jpeg", ".png", ".bmp":
		default:
			continue
		}
		frame, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSuffix(name, filepath.Ext(name)), "frame-"))
		if err != nil {
			continue
		}
		files = append(files, ImageFile{Path: filepath.Join(dir, name), Frame: frame})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Frame < files[j].Frame
	})
	return files, nil
}

// FrameDir reads a directory of numbered images as a video: one frame per Read, in order.
type FrameDir struct {
	files []ImageFile
	next  int
}

// OpenFrameDir lists dir and returns a frame source over it.
func OpenFrameDir(dir string) (*FrameDir, error) {
	files, err := ListImageFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no frame images in %s", dir)
	}
	return &FrameDir{files: files}, nil
}

// Len reports the number of frames.
func (d *FrameDir) Len() int { return len(d.files) }

// Read decodes the next frame into m. It returns false once every frame was read or a file
// cannot be decoded.
func (d *FrameDir) Read(m *gocv.Mat) bool {
	if d.next >= len(d.files) {
		return false
	}
	img := gocv.IMRead(d.files[d.next].Path, gocv.IMReadColor)
	defer img.Close()
	d.next++
	if img.Empty() {
		return false
	}
	img.CopyTo(m)
	return true
}

// Close implements the frame source contract.
func (d *FrameDir) Close() error { return nil }
