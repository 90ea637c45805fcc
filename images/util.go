package images

import (
	"crypto/md5"
	"fmt"

	"gocv.io/x/gocv"
)

// ComputeMatChecksum returns a hex MD5 digest of the Mat's pixel data, or "empty" for an
// empty Mat. Used to verify that a stage left a frame untouched.
func ComputeMatChecksum(mat gocv.Mat) string {
	if mat.Empty() {
		return "empty"
	}

	return fmt.Sprintf("%x", md5.Sum(mat.ToBytes()))
}
