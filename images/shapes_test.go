package images

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRect(t *testing.T) {
	r := Rect{X1: 200, Y1: 100, X2: 600, Y2: 500}
	assert.Equal(t, image.Rect(200, 100, 600, 500), r.Rectangle())
	assert.Equal(t, 400, r.Width())
	assert.Equal(t, 400, r.Height())

	inverted := Rect{X1: 10, Y1: 10, X2: 5, Y2: 0}
	assert.Equal(t, image.Point{10, 10}, inverted.Rectangle().Min)
	assert.Equal(t, -5, inverted.Width())
	assert.Equal(t, -10, inverted.Height())
}
