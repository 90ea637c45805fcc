package providers

import (
	"os"
	"sync"

	"github.com/nvr-ai/go-helmet/accel"
	"github.com/nvr-ai/go-helmet/config"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

// SessionOptions holds the provider-independent session settings.
type SessionOptions struct {
	GraphOptimizationLevel ort.GraphOptimizationLevel `json:"graph_optimization_level"`
	ExecutionMode          ort.ExecutionMode          `json:"execution_mode"`
	// 0 lets ONNX Runtime choose.
	IntraOpNumThreads int `json:"intra_op_num_threads"`
	InterOpNumThreads int `json:"inter_op_num_threads"`
}

// Dims fills dynamic model dimensions. Zero leaves a dimension unresolved.
type Dims struct {
	// Batch replaces a dynamic leading dimension.
	Batch int
	// Height and Width replace dynamic spatial dimensions of 4-D [N,C,H,W] tensors.
	Height int
	Width  int
}

// Options configures the ONNX Runtime backend.
type Options struct {
	Provider          Provider
	SharedLibraryPath string
	Session           SessionOptions
	Dims              Dims
	CUDA              CUDAOptions
	TensorRT          TensorRTOptions
	OpenVINO          OpenVINOOptions
	Log               *logrus.Entry
}

// DefaultOptions returns CPU execution with extended graph optimization.
func DefaultOptions() Options {
	return Options{
		Provider: CPUExecutionProvider,
		Session: SessionOptions{
			GraphOptimizationLevel: ort.GraphOptimizationLevelEnableExtended,
			ExecutionMode:          ort.ExecutionModeSequential,
		},
		CUDA: DefaultCUDAOptions(),
	}
}

var envMu sync.Mutex

// initEnvironment loads the shared library and initializes the process-wide environment
// unless it is already up.
func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
	}
	ort.SetSharedLibraryPath(libPath)
	return errors.Wrap(ort.InitializeEnvironment(), "initialize ONNX Runtime environment")
}

// Backend is an accel.Backend running models through ONNX Runtime. Buffers are ONNX Runtime
// tensors in host memory; the execution provider moves them to the device itself, so streams
// complete every operation immediately.
type Backend struct {
	opts   Options
	log    *logrus.Entry
	closed bool
}

// NewBackend initializes ONNX Runtime and returns a backend for the selected provider.
//
// Arguments:
//   - opts: Provider selection and options.
//
// Returns:
//   - *Backend: The backend.
//   - error: An error if the shared library cannot be loaded.
func NewBackend(opts Options) (*Backend, error) {
	if _, err := ParseProvider(string(opts.Provider)); err != nil {
		return nil, err
	}
	if opts.Log == nil {
		opts.Log = logrus.WithField("component", "providers")
	}

	libPath, err := SharedLibPath(opts.SharedLibraryPath)
	if err != nil {
		return nil, err
	}
	if err := initEnvironment(libPath); err != nil {
		return nil, err
	}

	opts.Log.WithFields(logrus.Fields{
		"provider": opts.Provider,
		"library":  libPath,
		"version":  ort.GetVersion(),
	}).Info("onnxruntime initialized")
	return &Backend{opts: opts, log: opts.Log}, nil
}

// Close destroys the process-wide ONNX Runtime environment. Call it once every session
// created through the backend is closed. It is idempotent.
func (b *Backend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true

	envMu.Lock()
	defer envMu.Unlock()
	if !ort.IsInitialized() {
		return nil
	}
	return errors.Wrap(ort.DestroyEnvironment(), "destroy ONNX Runtime environment")
}

// Name implements accel.Backend.
func (b *Backend) Name() string { return "onnxruntime/" + string(b.opts.Provider) }

// Malloc implements accel.Backend.
func (b *Backend) Malloc(shape accel.Shape) (accel.Buffer, error) {
	t, err := ort.NewEmptyTensor[float32](ort.NewShape(shape...))
	if err != nil {
		return nil, errors.Wrapf(err, "allocate tensor %v", shape)
	}
	return &tensorBuffer{tensor: t, shape: append(accel.Shape(nil), shape...)}, nil
}

// MallocHost implements accel.Backend.
func (b *Backend) MallocHost(n int) (accel.Buffer, error) {
	if n < 0 {
		return nil, errors.Errorf("negative host buffer size %d", n)
	}
	return &hostBuffer{data: make([]float32, n)}, nil
}

// NewStream implements accel.Backend.
func (b *Backend) NewStream() (accel.Stream, error) { return stream{}, nil }

// NewRuntime implements accel.Backend.
func (b *Backend) NewRuntime() (accel.Runtime, error) { return &onnxRuntime{backend: b}, nil }

// sessionOptions builds the options for one session with the selected execution provider.
func (b *Backend) sessionOptions() (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create session options")
	}

	s := b.opts.Session
	err = firstErr(
		options.SetGraphOptimizationLevel(s.GraphOptimizationLevel),
		options.SetExecutionMode(s.ExecutionMode),
		options.SetIntraOpNumThreads(s.IntraOpNumThreads),
		options.SetInterOpNumThreads(s.InterOpNumThreads),
	)
	if err == nil {
		switch b.opts.Provider {
		case CUDAExecutionProvider:
			err = b.opts.CUDA.append(options)
		case TensorRTExecutionProvider:
			err = b.opts.TensorRT.append(options)
		case OpenVINOExecutionProvider:
			err = b.opts.OpenVINO.append(options)
		}
	}
	if err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

type tensorBuffer struct {
	tensor *ort.Tensor[float32]
	shape  accel.Shape
}

func (t *tensorBuffer) Data() []float32    { return t.tensor.GetData() }
func (t *tensorBuffer) Shape() accel.Shape { return t.shape }

func (t *tensorBuffer) Free() error {
	if t.tensor == nil {
		return nil
	}
	err := t.tensor.Destroy()
	t.tensor = nil
	return err
}

type hostBuffer struct {
	data []float32
}

func (h *hostBuffer) Data() []float32    { return h.data }
func (h *hostBuffer) Shape() accel.Shape { return accel.Shape{int64(len(h.data))} }
func (h *hostBuffer) Free() error        { h.data = nil; return nil }

// stream runs every transfer synchronously on the calling goroutine.
type stream struct{}

func (stream) Upload(dst accel.Buffer, offset int, src []float32) error {
	data := dst.Data()
	if offset < 0 || offset+len(src) > len(data) {
		return errors.Errorf("upload of %d elements at %d overflows buffer of %d", len(src), offset, len(data))
	}
	copy(data[offset:], src)
	return nil
}

func (stream) CopyAsync(dst, src accel.Buffer) error {
	if len(dst.Data()) < len(src.Data()) {
		return errors.Errorf("copy of %d elements into buffer of %d", len(src.Data()), len(dst.Data()))
	}
	copy(dst.Data(), src.Data())
	return nil
}

func (stream) Synchronize() error { return nil }
func (stream) Close() error       { return nil }

type onnxRuntime struct {
	backend *Backend
}

// DeserializeEngine reads the model's declared inputs and outputs. The session itself is
// created by the first execution, once every tensor is bound.
func (r *onnxRuntime) DeserializeEngine(blob []byte) (accel.Engine, error) {
	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(blob)
	if err != nil {
		return nil, errors.Wrap(err, "read model inputs and outputs")
	}
	e := &engine{backend: r.backend, blob: blob, shapes: map[string]accel.Shape{}}
	dims := r.backend.opts.Dims
	for _, info := range inputs {
		shape, err := resolveShape(info.Name, accel.Shape(info.Dimensions), dims)
		if err != nil {
			return nil, err
		}
		e.inputs = append(e.inputs, info.Name)
		e.shapes[info.Name] = shape
	}
	for _, info := range outputs {
		shape, err := resolveShape(info.Name, accel.Shape(info.Dimensions), dims)
		if err != nil {
			return nil, err
		}
		e.outputs = append(e.outputs, info.Name)
		e.shapes[info.Name] = shape
	}
	return e, nil
}

// resolveShape replaces dynamic (negative) dimensions: the leading one with dims.Batch and,
// for 4-D tensors, the last two with dims.Height and dims.Width.
//
// Arguments:
//   - name: The tensor name, for errors.
//   - shape: The declared shape.
//   - dims: The configured replacements.
//
// Returns:
//   - accel.Shape: A shape without dynamic dimensions.
//   - error: An error naming the first dimension that cannot be filled.
func resolveShape(name string, shape accel.Shape, dims Dims) (accel.Shape, error) {
	out := append(accel.Shape(nil), shape...)
	for i, v := range out {
		if v >= 0 {
			continue
		}
		var fill int
		switch {
		case i == 0:
			fill = dims.Batch
		case len(out) == 4 && i == 2:
			fill = dims.Height
		case len(out) == 4 && i == 3:
			fill = dims.Width
		}
		if fill <= 0 {
			return nil, errors.Errorf("tensor %s %v: dynamic dimension %d cannot be resolved", name, shape, i)
		}
		out[i] = int64(fill)
	}
	return out, nil
}

func (r *onnxRuntime) Close() error { return nil }

type engine struct {
	backend *Backend
	blob    []byte
	inputs  []string
	outputs []string
	shapes  map[string]accel.Shape
}

func (e *engine) InputNames() []string  { return append([]string(nil), e.inputs...) }
func (e *engine) OutputNames() []string { return append([]string(nil), e.outputs...) }

func (e *engine) TensorShape(name string) (accel.Shape, error) {
	s, ok := e.shapes[name]
	if !ok {
		return nil, errors.Wrap(accel.ErrUnknownTensor, name)
	}
	return append(accel.Shape(nil), s...), nil
}

func (e *engine) NewExecutionContext() (accel.ExecutionContext, error) {
	return &sessionContext{engine: e, bindings: map[string]*tensorBuffer{}}, nil
}

func (e *engine) Close() error {
	e.blob = nil
	return nil
}

// sessionContext owns one AdvancedSession bound to the context's tensors.
type sessionContext struct {
	engine   *engine
	bindings map[string]*tensorBuffer
	session  *ort.AdvancedSession
}

func (c *sessionContext) SetTensorAddress(name string, buf accel.Buffer) error {
	if _, ok := c.engine.shapes[name]; !ok {
		return errors.Wrap(accel.ErrUnknownTensor, name)
	}
	t, ok := buf.(*tensorBuffer)
	if !ok {
		return errors.Errorf("buffer for %s was not allocated by the onnxruntime backend", name)
	}
	if c.session != nil {
		return errors.Errorf("cannot rebind %s after the first execution", name)
	}
	c.bindings[name] = t
	return nil
}

func (c *sessionContext) Enqueue(accel.Stream) error {
	if c.session == nil {
		if err := c.open(); err != nil {
			return err
		}
	}
	return errors.Wrap(c.session.Run(), "run session")
}

func (c *sessionContext) open() error {
	values := func(names []string) ([]ort.Value, error) {
		out := make([]ort.Value, len(names))
		for i, name := range names {
			t, ok := c.bindings[name]
			if !ok {
				return nil, errors.Errorf("tensor %q not bound", name)
			}
			out[i] = t.tensor
		}
		return out, nil
	}
	inputs, err := values(c.engine.inputs)
	if err != nil {
		return err
	}
	outputs, err := values(c.engine.outputs)
	if err != nil {
		return err
	}

	options, err := c.engine.backend.sessionOptions()
	if err != nil {
		return err
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSessionWithONNXData(c.engine.blob, c.engine.inputs, c.engine.outputs, inputs, outputs, options)
	if err != nil {
		return errors.Wrap(err, "create session")
	}
	c.session = session
	return nil
}

func (c *sessionContext) Close() error {
	if c.session == nil {
		return nil
	}
	err := c.session.Destroy()
	c.session = nil
	return err
}

// OptionsFromConfig derives backend options from the configuration.
//
// Arguments:
//   - cfg: The configuration.
//
// Returns:
//   - Options: The defaults with the provider, library path, device and dynamic dimensions
//     (BatchSlots, TargetSize) applied.
//   - error: ErrUnknownProvider for an unsupported backend name.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	m := cfg.Model
	p, err := ParseProvider(m.Backend)
	if err != nil {
		return Options{}, err
	}
	opts := DefaultOptions()
	opts.Provider = p
	opts.SharedLibraryPath = m.SharedLibraryPath
	opts.CUDA.DeviceID = m.DeviceID
	opts.TensorRT.DeviceID = m.DeviceID
	opts.Dims = Dims{
		Batch:  cfg.Data.BatchSlots,
		Height: cfg.TargetHeight(),
		Width:  cfg.TargetWidth(),
	}
	return opts, nil
}
