// Package inference - Accelerator buffer orchestration and the per-frame inference driver.
package inference

import "github.com/pkg/errors"

// ModelLoadStatus reports the outcome of loading the model artifact.
type ModelLoadStatus int

const (
	// LoadedSuccess means the engine is deserialized and bound.
	LoadedSuccess ModelLoadStatus = iota
	// LoadedFailed means the artifact could not be read, deserialized or bound.
	LoadedFailed
	// NonLoaded means initialization has not run yet.
	NonLoaded
)

func (s ModelLoadStatus) String() string {
	switch s {
	case LoadedSuccess:
		return "LOADED_SUCCESS"
	case LoadedFailed:
		return "LOADED_FAILED"
	case NonLoaded:
		return "NON_LOADED"
	}
	return "UNKNOWN"
}

// MemAllocStatus reports the outcome of allocating device buffers.
type MemAllocStatus int

const (
	// AllocSuccess means every buffer is allocated and bound.
	AllocSuccess MemAllocStatus = iota
	// AllocFailed means an allocation failed and initialization was aborted.
	AllocFailed
	// NonAlloc means allocation has not run yet.
	NonAlloc
)

func (s MemAllocStatus) String() string {
	switch s {
	case AllocSuccess:
		return "ALLOC_SUCCESS"
	case AllocFailed:
		return "ALLOC_FAILED"
	case NonAlloc:
		return "NON_ALLOC"
	}
	return "UNKNOWN"
}

var (
	// ErrModelLoad is returned when the model artifact cannot be read or deserialized.
	ErrModelLoad = errors.New("model load failed")
	// ErrAlloc is returned when a device or host buffer cannot be allocated.
	ErrAlloc = errors.New("buffer allocation failed")
	// ErrRoleBinding is returned when configured input roles do not match the engine.
	ErrRoleBinding = errors.New("input role binding mismatch")
	// ErrShapeMismatch is returned when a preprocessed frame does not fit the image views.
	ErrShapeMismatch = errors.New("frame does not match engine input")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("deployment closed")
	// ErrInit matches every error returned by a failed Init. The failure is permanent.
	ErrInit = errors.New("deployment initialization failed")
)

// initError marks an Init failure while keeping the cause reachable.
type initError struct {
	err error
}

func (e *initError) Error() string        { return e.err.Error() }
func (e *initError) Unwrap() error        { return e.err }
func (e *initError) Is(target error) bool { return target == ErrInit }
