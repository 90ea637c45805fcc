// Package providers - ONNX Runtime accelerator backend with CPU, CUDA, TensorRT and OpenVINO
// execution providers.
package providers

import (
	"strings"

	"github.com/pkg/errors"
)

// Provider represents different ONNX Runtime execution providers.
type Provider string

const (
	// CPUExecutionProvider uses CPU for inference.
	CPUExecutionProvider Provider = "cpu"

	// CUDAExecutionProvider uses NVIDIA CUDA for GPU acceleration.
	CUDAExecutionProvider Provider = "cuda"

	// TensorRTExecutionProvider uses NVIDIA TensorRT for optimized inference.
	TensorRTExecutionProvider Provider = "tensorrt"

	// OpenVINOExecutionProvider uses Intel OpenVINO for inference optimization.
	OpenVINOExecutionProvider Provider = "openvino"
)

// ErrUnknownProvider is returned for an unsupported execution provider name.
var ErrUnknownProvider = errors.New("unknown execution provider")

// ParseProvider resolves a provider name case-insensitively. An empty name selects CPU.
func ParseProvider(name string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(name))); p {
	case "":
		return CPUExecutionProvider, nil
	case CPUExecutionProvider, CUDAExecutionProvider, TensorRTExecutionProvider, OpenVINOExecutionProvider:
		return p, nil
	}
	return "", errors.Wrap(ErrUnknownProvider, name)
}
