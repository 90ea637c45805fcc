package images

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func solid(width, height int, v float64) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(v, v, v, 0), height, width, gocv.MatTypeCV8UC3)
}

func TestROIMaskEmptyCoversFrame(t *testing.T) {
	mask := ROIMask(image.Pt(40, 30), nil)
	defer mask.Close()

	assert.Equal(t, 30, mask.Rows())
	assert.Equal(t, 40, mask.Cols())
	assert.Equal(t, uint8(255), mask.GetVecbAt(0, 0)[0])
	assert.Equal(t, uint8(255), mask.GetVecbAt(29, 39)[2])
}

func TestROIMaskAndApply(t *testing.T) {
	square := []image.Point{{10, 10}, {30, 10}, {30, 30}, {10, 30}}
	mask := ROIMask(image.Pt(40, 40), [][]image.Point{square})
	defer mask.Close()

	assert.Equal(t, uint8(255), mask.GetVecbAt(20, 20)[0])
	assert.Equal(t, uint8(0), mask.GetVecbAt(2, 2)[0])

	src := solid(40, 40, 200)
	defer src.Close()
	masked := ApplyMask(src, mask)
	defer masked.Close()

	assert.Equal(t, uint8(200), masked.GetVecbAt(20, 20)[1])
	assert.Equal(t, uint8(0), masked.GetVecbAt(2, 2)[1])
	assert.Equal(t, uint8(0), masked.GetVecbAt(35, 35)[1])

	// Source is left untouched.
	assert.Equal(t, uint8(200), src.GetVecbAt(2, 2)[1])
}

func TestDrawPolygons(t *testing.T) {
	frame := solid(40, 40, 0)
	defer frame.Close()
	before := ComputeMatChecksum(frame)

	triangle := []image.Point{{5, 5}, {35, 5}, {20, 35}}
	DrawPolygons(&frame, [][]image.Point{triangle}, color.RGBA{B: 255}, 1)

	assert.NotEqual(t, before, ComputeMatChecksum(frame))
	assert.Equal(t, uint8(255), frame.GetVecbAt(5, 20)[0])
	assert.Equal(t, uint8(0), frame.GetVecbAt(5, 20)[2])
}

func TestComputeMatChecksum(t *testing.T) {
	a, b := solid(8, 8, 1), solid(8, 8, 1)
	defer a.Close()
	defer b.Close()
	assert.Equal(t, ComputeMatChecksum(a), ComputeMatChecksum(b))

	empty := gocv.NewMat()
	defer empty.Close()
	assert.Equal(t, "empty", ComputeMatChecksum(empty))
}

func TestParseFormat(t *testing.T) {
	for name, want := range map[string]ImageFormat{"jpeg": FormatJPEG, "JPG": FormatJPEG, "webp": FormatWebP, "png": FormatPNG} {
		got, err := ParseFormat(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("gif")
	assert.ErrorIs(t, err, ErrUnknownFormat)

	assert.Equal(t, ".jpg", FormatJPEG.Extension())
	assert.Equal(t, ".webp", FormatWebP.Extension())
}

func TestEncodeWebP(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	var buf bytes.Buffer
	require.NoError(t, FormatWebP.Encode(&buf, img, 80))
	assert.Equal(t, "RIFF", buf.String()[:4])
}

func TestSnapshot(t *testing.T) {
	frame := solid(320, 240, 90)
	defer frame.Close()

	dir := filepath.Join(t.TempDir(), "alarms")
	at := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	path, err := Snapshot(frame, "cam-1", at, SnapshotOptions{Dir: dir, Width: 160})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cam-1_20240501T123000.000.jpg"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 160, cfg.Width)
	assert.Equal(t, 120, cfg.Height)

	empty := gocv.NewMat()
	defer empty.Close()
	_, err = Snapshot(empty, "cam-1", at, SnapshotOptions{Dir: dir})
	assert.Error(t, err)
}
