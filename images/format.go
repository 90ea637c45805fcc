package images

import (
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"github.com/chai2010/webp"
	"github.com/pkg/errors"
)

// ImageFormat represents supported snapshot encodings.
type ImageFormat string

const (
	FormatJPEG ImageFormat = "jpeg"
	FormatWebP ImageFormat = "webp"
	FormatPNG  ImageFormat = "png"
)

// ErrUnknownFormat is returned for an unsupported image format name.
var ErrUnknownFormat = errors.New("unknown image format")

// ParseFormat resolves a format name, accepting "jpg" as an alias.
func ParseFormat(name string) (ImageFormat, error) {
	switch f := ImageFormat(strings.ToLower(name)); f {
	case FormatJPEG, FormatWebP, FormatPNG:
		return f, nil
	case "jpg":
		return FormatJPEG, nil
	}
	return "", errors.Wrap(ErrUnknownFormat, name)
}

// Extension returns the file extension including the dot.
func (f ImageFormat) Extension() string {
	if f == FormatJPEG {
		return ".jpg"
	}
	return "." + string(f)
}

// Encode writes img in format f. Quality applies to the lossy formats.
//
// Arguments:
//   - w: The destination.
//   - img: The image to encode.
//   - quality: 1-100 for JPEG and WebP.
//
// Returns:
//   - error: ErrUnknownFormat or an encoder error.
func (f ImageFormat) Encode(w io.Writer, img image.Image, quality int) error {
	switch f {
	case FormatJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	case FormatWebP:
		return webp.Encode(w, img, &webp.Options{Quality: float32(quality)})
	case FormatPNG:
		return png.Encode(w, img)
	}
	return errors.Wrap(ErrUnknownFormat, string(f))
}
