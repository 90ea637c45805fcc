// Package acceltest - Host-memory accelerator backend for tests.
//
// The backend declares a fixed set of engine tensors, executes a user supplied function on
// Enqueue, and records every lifecycle event so tests can assert on teardown order and
// allocation bookkeeping.
package acceltest

import (
	"fmt"
	"sync"

	"github.com/nvr-ai/go-helmet/accel"
	"github.com/pkg/errors"
)

// ErrInjected is returned by operations a test asked to fail.
var ErrInjected = errors.New("injected failure")

// Tensor declares one engine tensor.
type Tensor struct {
	Name  string
	Shape accel.Shape
}

// ExecuteFunc computes outputs from bound inputs. Both maps are keyed by tensor name and
// alias the bound buffers.
type ExecuteFunc func(inputs, outputs map[string][]float32) error

// Backend is an accel.Backend living entirely in host memory.
type Backend struct {
	Inputs  []Tensor
	Outputs []Tensor
	Execute ExecuteFunc

	// FailMallocAt makes the n-th device allocation (1-based) fail. Zero disables.
	FailMallocAt int
	// FailDeserialize makes DeserializeEngine fail.
	FailDeserialize bool

	mu       sync.Mutex
	events   []string
	mallocs  int
	live     int
	enqueues int
	blobs    [][]byte
}

// NewBackend creates a backend declaring the given tensors.
func NewBackend(inputs, outputs []Tensor, execute ExecuteFunc) *Backend {
	return &Backend{Inputs: inputs, Outputs: outputs, Execute: execute}
}

// Name implements accel.Backend.
func (b *Backend) Name() string { return "host" }

// Events returns a copy of the recorded lifecycle events.
func (b *Backend) Events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

// LiveBuffers reports allocated buffers that have not been freed.
func (b *Backend) LiveBuffers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.live
}

// Enqueues reports how many executions ran.
func (b *Backend) Enqueues() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enqueues
}

// Blobs returns the model artifacts handed to DeserializeEngine.
func (b *Backend) Blobs() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.blobs...)
}

func (b *Backend) record(format string, args ...any) {
	b.mu.Lock()
	b.events = append(b.events, fmt.Sprintf(format, args...))
	b.mu.Unlock()
}

// Malloc implements accel.Backend.
func (b *Backend) Malloc(shape accel.Shape) (accel.Buffer, error) {
	b.mu.Lock()
	b.mallocs++
	fail := b.FailMallocAt > 0 && b.mallocs == b.FailMallocAt
	b.mu.Unlock()
	if fail {
		return nil, ErrInjected
	}
	return b.alloc(shape, int(shape.AbsElements())), nil
}

// MallocHost implements accel.Backend.
func (b *Backend) MallocHost(n int) (accel.Buffer, error) {
	return b.alloc(accel.Shape{int64(n)}, n), nil
}

func (b *Backend) alloc(shape accel.Shape, n int) *Buffer {
	b.mu.Lock()
	b.live++
	b.mu.Unlock()
	return &Buffer{owner: b, data: make([]float32, n), shape: shape}
}

// NewStream implements accel.Backend.
func (b *Backend) NewStream() (accel.Stream, error) {
	return &Stream{owner: b}, nil
}

// NewRuntime implements accel.Backend.
func (b *Backend) NewRuntime() (accel.Runtime, error) {
	return &Runtime{owner: b}, nil
}

// Buffer is a host slice.
type Buffer struct {
	owner *Backend
	data  []float32
	shape accel.Shape
	freed bool
}

func (b *Buffer) Data() []float32    { return b.data }
func (b *Buffer) Shape() accel.Shape { return b.shape }

func (b *Buffer) Free() error {
	if b.freed {
		return nil
	}
	b.freed = true
	b.owner.mu.Lock()
	b.owner.live--
	b.owner.mu.Unlock()
	b.owner.record("buffer.free")
	return nil
}

// Stream executes every operation immediately.
type Stream struct {
	owner *Backend
	syncs int
}

func (s *Stream) Upload(dst accel.Buffer, offset int, src []float32) error {
	data := dst.Data()
	if offset < 0 || offset+len(src) > len(data) {
		return errors.Errorf("upload of %d elements at %d overflows buffer of %d", len(src), offset, len(data))
	}
	copy(data[offset:], src)
	return nil
}

func (s *Stream) CopyAsync(dst, src accel.Buffer) error {
	if len(dst.Data()) < len(src.Data()) {
		return errors.Errorf("copy of %d elements into buffer of %d", len(src.Data()), len(dst.Data()))
	}
	copy(dst.Data(), src.Data())
	return nil
}

func (s *Stream) Synchronize() error {
	s.syncs++
	return nil
}

// Syncs reports how many times the stream was synchronized.
func (s *Stream) Syncs() int { return s.syncs }

func (s *Stream) Close() error {
	s.owner.record("stream.close")
	return nil
}

// Runtime hands out engines declaring the backend's tensors.
type Runtime struct {
	owner *Backend
}

func (r *Runtime) DeserializeEngine(blob []byte) (accel.Engine, error) {
	if r.owner.FailDeserialize {
		return nil, ErrInjected
	}
	r.owner.mu.Lock()
	r.owner.blobs = append(r.owner.blobs, append([]byte(nil), blob...))
	r.owner.mu.Unlock()
	return &Engine{owner: r.owner}, nil
}

func (r *Runtime) Close() error {
	r.owner.record("runtime.close")
	return nil
}

// Engine declares the backend's tensors.
type Engine struct {
	owner *Backend
}

func (e *Engine) InputNames() []string  { return names(e.owner.Inputs) }
func (e *Engine) OutputNames() []string { return names(e.owner.Outputs) }

func (e *Engine) TensorShape(name string) (accel.Shape, error) {
	for _, t := range append(append([]Tensor(nil), e.owner.Inputs...), e.owner.Outputs...) {
		if t.Name == name {
			return append(accel.Shape(nil), t.Shape...), nil
		}
	}
	return nil, errors.Wrap(accel.ErrUnknownTensor, name)
}

func (e *Engine) NewExecutionContext() (accel.ExecutionContext, error) {
	return &Context{owner: e.owner, bindings: map[string]accel.Buffer{}}, nil
}

func (e *Engine) Close() error {
	e.owner.record("engine.close")
	return nil
}

// Context runs Execute over its bindings.
type Context struct {
	owner    *Backend
	bindings map[string]accel.Buffer
}

func (c *Context) SetTensorAddress(name string, buf accel.Buffer) error {
	for _, t := range append(append([]Tensor(nil), c.owner.Inputs...), c.owner.Outputs...) {
		if t.Name == name {
			c.bindings[name] = buf
			return nil
		}
	}
	return errors.Wrap(accel.ErrUnknownTensor, name)
}

func (c *Context) Enqueue(accel.Stream) error {
	inputs := map[string][]float32{}
	for _, t := range c.owner.Inputs {
		buf, ok := c.bindings[t.Name]
		if !ok {
			return errors.Errorf("input %q not bound", t.Name)
		}
		inputs[t.Name] = buf.Data()
	}
	outputs := map[string][]float32{}
	for _, t := range c.owner.Outputs {
		buf, ok := c.bindings[t.Name]
		if !ok {
			return errors.Errorf("output %q not bound", t.Name)
		}
		outputs[t.Name] = buf.Data()
	}

	c.owner.mu.Lock()
	c.owner.enqueues++
	c.owner.mu.Unlock()

	if c.owner.Execute == nil {
		return nil
	}
	return c.owner.Execute(inputs, outputs)
}

func (c *Context) Close() error {
	c.owner.record("context.close")
	return nil
}

func names(ts []Tensor) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Name
	}
	return out
}
