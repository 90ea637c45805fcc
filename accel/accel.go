// Package accel - Typed handles for the accelerator runtime.
//
// The accelerator is treated as an opaque black box: it deserializes a model artifact into an
// Engine, runs an ExecutionContext over buffers bound by tensor name, and moves data between
// host and device on a Stream. Backends (ONNX Runtime in package providers, the host fake in
// package acceltest) implement these interfaces.
package accel

import (
	"github.com/pkg/errors"
)

// ErrUnknownTensor is returned when a tensor name is not declared by the engine.
var ErrUnknownTensor = errors.New("unknown tensor")

// Shape is a tensor shape as declared by an engine. Dynamic dimensions may be negative.
type Shape []int64

// Elements is the product of the dimensions.
func (s Shape) Elements() int64 {
	if len(s) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range s {
		n *= d
	}
	return n
}

// AbsElements is the product of the absolute dimensions, used for outputs whose declared
// shape carries dynamic (negative) dimensions.
func (s Shape) AbsElements() int64 {
	if len(s) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range s {
		if d < 0 {
			d = -d
		}
		n *= d
	}
	return n
}

// Abs returns a copy with every dimension made non-negative.
func (s Shape) Abs() Shape {
	out := make(Shape, len(s))
	for i, d := range s {
		if d < 0 {
			d = -d
		}
		out[i] = d
	}
	return out
}

// Buffer is a typed handle to a float32 memory region owned by a backend.
type Buffer interface {
	// Data exposes the region as a slice. Device-resident regions must only be touched
	// through a Stream.
	Data() []float32
	// Shape is the shape the buffer was allocated with.
	Shape() Shape
	// Free releases the region. It is safe to call more than once.
	Free() error
}

// Stream orders host/device transfers and engine executions.
type Stream interface {
	// Upload copies host values into dst starting at offset.
	Upload(dst Buffer, offset int, src []float32) error
	// CopyAsync copies src into dst. Completion is only guaranteed after Synchronize.
	CopyAsync(dst, src Buffer) error
	// Synchronize blocks until every queued operation has completed.
	Synchronize() error
	Close() error
}

// ExecutionContext runs an engine over bound buffers.
type ExecutionContext interface {
	// SetTensorAddress binds buf to the named engine tensor.
	SetTensorAddress(name string, buf Buffer) error
	// Enqueue schedules one execution on the stream.
	Enqueue(stream Stream) error
	Close() error
}

// Engine is a deserialized, ready-to-run model.
type Engine interface {
	InputNames() []string
	OutputNames() []string
	// TensorShape returns the declared shape of an input or output tensor.
	TensorShape(name string) (Shape, error)
	NewExecutionContext() (ExecutionContext, error)
	Close() error
}

// Runtime deserializes model artifacts into engines.
type Runtime interface {
	DeserializeEngine(blob []byte) (Engine, error)
	Close() error
}

// Backend allocates memory and streams, and creates runtimes, for one accelerator device.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Malloc allocates a device buffer with the given shape.
	Malloc(shape Shape) (Buffer, error)
	// MallocHost allocates a pinned host buffer of n elements.
	MallocHost(n int) (Buffer, error)
	NewStream() (Stream, error)
	NewRuntime() (Runtime, error)
}

// View is a window into a Buffer, used to alias one allocation onto several logical tensors.
type View struct {
	Buffer Buffer
	Offset int
	Len    int
}

// Split carves n consecutive views of size each from buf starting at offset.
//
// Arguments:
//   - buf: The buffer to alias.
//   - offset: Element offset of the first view.
//   - n: Number of views.
//   - size: Elements per view.
//
// Returns:
//   - []View: The views.
//   - error: An error if the views do not fit into the buffer.
func Split(buf Buffer, offset, n, size int) ([]View, error) {
	total := len(buf.Data())
	if offset < 0 || n < 0 || size < 0 || offset+n*size > total {
		return nil, errors.Errorf("cannot carve %d views of %d elements at %d from a buffer of %d", n, size, offset, total)
	}
	views := make([]View, n)
	for i := range views {
		views[i] = View{Buffer: buf, Offset: offset + i*size, Len: size}
	}
	return views, nil
}
