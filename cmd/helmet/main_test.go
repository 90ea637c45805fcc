package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"gocv.io/x/gocv"
)

func TestDefaultOutput(t *testing.T) {
	assert.Equal(t, filepath.Join("videos", "gate.result.mp4"), defaultOutput(filepath.Join("videos", "gate.mp4")))
	assert.Equal(t, filepath.Join("data", "frames.result.mp4"), defaultOutput(filepath.Join("data", "frames")+"/"))
}

type emptySource struct{}

func (emptySource) Read(*gocv.Mat) bool { return false }

func TestPrimedReplaysFirstFrame(t *testing.T) {
	first := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(7, 7, 7, 0), 4, 4, gocv.MatTypeCV8UC3)
	defer first.Close()

	p := &primed{first: first, src: emptySource{}}
	m := gocv.NewMat()
	defer m.Close()

	assert.True(t, p.Read(&m))
	assert.Equal(t, uint8(7), m.GetVecbAt(0, 0)[0])
	assert.False(t, p.Read(&m))
}
