package inference

import (
	stderrors "errors"
	"image"
	"os"

	"github.com/nvr-ai/go-helmet/accel"
	"github.com/nvr-ai/go-helmet/config"
	"github.com/nvr-ai/go-helmet/preprocess"
	"github.com/nvr-ai/go-helmet/profiler"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// channels is the number of planes per frame slot in the image input.
const channels = 3

// Option configures a Deployment.
type Option func(*Deployment)

// WithLogger sets the logger.
func WithLogger(log *logrus.Entry) Option {
	return func(d *Deployment) { d.log = log }
}

// WithSharedRuntime deserializes through a runtime shared with other deployments instead of
// a private one.
func WithSharedRuntime(shared *accel.SharedRuntime) Option {
	return func(d *Deployment) { d.newRuntime = shared.Acquire }
}

// WithStageTimer records preprocess and infer durations.
func WithStageTimer(timer *profiler.StageTimer) Option {
	return func(d *Deployment) { d.timer = timer }
}

// outputBuffers pairs an output's device buffer with its host mirror.
type outputBuffers struct {
	name   string
	device accel.Buffer
	host   accel.Buffer
}

// Deployment owns one engine context, its device buffers and its stream, and runs one
// inference per call. It must be used from a single goroutine.
type Deployment struct {
	cfg        *config.Config
	backend    accel.Backend
	newRuntime func() (accel.Runtime, error)
	log        *logrus.Entry
	timer      *profiler.StageTimer

	stream   accel.Stream
	pipeline *preprocess.Pipeline

	scope   accel.Scope
	buffers accel.Scope
	engine  accel.Engine
	context accel.ExecutionContext
	binding Binding
	inputs  map[string]accel.Buffer
	outputs []outputBuffers

	shapeViews []accel.View
	imageViews [][channels]accel.View
	scaleViews []accel.View

	loadStatus  ModelLoadStatus
	allocStatus MemAllocStatus
	initialized bool
	initErr     error
	closed      bool
}

// NewDeployment prepares a deployment. The model is loaded lazily by Init or the first Infer.
//
// Arguments:
//   - cfg: The configuration, owned by this deployment from now on.
//   - backend: The accelerator backend.
//   - opts: Optional settings.
//
// Returns:
//   - *Deployment: The deployment.
//   - error: An invalid configuration or pipeline.
func NewDeployment(cfg *config.Config, backend accel.Backend, opts ...Option) (*Deployment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	d := &Deployment{
		cfg:         cfg,
		backend:     backend,
		newRuntime:  backend.NewRuntime,
		log:         logrus.WithField("component", "inference"),
		loadStatus:  NonLoaded,
		allocStatus: NonAlloc,
	}
	for _, opt := range opts {
		opt(d)
	}

	stream, err := backend.NewStream()
	if err != nil {
		return nil, errors.Wrap(err, "create stream")
	}
	d.stream = stream

	pipeline, err := preprocess.New(cfg, stream, d.log.WithField("component", "preprocess"))
	if err != nil {
		stream.Close()
		return nil, err
	}
	d.pipeline = pipeline
	return d, nil
}

// LoadStatus reports the model load outcome.
func (d *Deployment) LoadStatus() ModelLoadStatus { return d.loadStatus }

// AllocStatus reports the buffer allocation outcome.
func (d *Deployment) AllocStatus() MemAllocStatus { return d.allocStatus }

// Config returns the deployment's configuration.
func (d *Deployment) Config() *config.Config { return d.cfg }

// Init loads the model, allocates and binds buffers. It runs once; later calls return the
// first outcome without retrying.
//
// Returns:
//   - error: ErrClosed, or an error matching ErrInit and one of ErrModelLoad, ErrRoleBinding
//     or ErrAlloc.
func (d *Deployment) Init() error {
	if d.closed {
		return ErrClosed
	}
	if d.initialized {
		return d.initErr
	}
	d.initialized = true

	if err := d.init(); err != nil {
		if cerr := d.release(); cerr != nil {
			d.log.WithError(cerr).Error("release after failed init")
		}
		d.engine, d.context, d.inputs, d.outputs = nil, nil, nil, nil
		d.log.WithFields(logrus.Fields{
			"load":  d.loadStatus,
			"alloc": d.allocStatus,
		}).WithError(err).Error("init failed")
		d.initErr = &initError{err: err}
		return d.initErr
	}

	d.log.WithFields(logrus.Fields{
		"model":   d.cfg.Model.Path,
		"backend": d.backend.Name(),
		"inputs":  d.engine.InputNames(),
		"outputs": d.engine.OutputNames(),
	}).Info("engine loaded")
	return nil
}

func (d *Deployment) init() error {
	blob, err := os.ReadFile(d.cfg.Model.Path)
	if err != nil {
		d.loadStatus = LoadedFailed
		return errors.Wrapf(ErrModelLoad, "read %s: %v", d.cfg.Model.Path, err)
	}

	runtime, err := d.newRuntime()
	if err != nil {
		d.loadStatus = LoadedFailed
		return errors.Wrapf(ErrModelLoad, "create runtime: %v", err)
	}
	d.scope.Own("runtime", runtime.Close)

	engine, err := runtime.DeserializeEngine(blob)
	if err != nil {
		d.loadStatus = LoadedFailed
		return errors.Wrapf(ErrModelLoad, "deserialize %s: %v", d.cfg.Model.Path, err)
	}
	d.scope.Own("engine", engine.Close)
	d.engine = engine

	binding, err := BindRoles(d.cfg, engine)
	if err != nil {
		d.loadStatus = LoadedFailed
		return err
	}
	d.binding = binding

	ctx, err := engine.NewExecutionContext()
	if err != nil {
		d.loadStatus = LoadedFailed
		return errors.Wrapf(ErrModelLoad, "create execution context: %v", err)
	}
	d.scope.Own("context", ctx.Close)
	d.context = ctx
	d.loadStatus = LoadedSuccess

	err = d.allocate()
	if err == nil {
		err = d.bind()
	}
	if err == nil {
		err = d.alias()
	}
	if err != nil {
		d.allocStatus = AllocFailed
		return err
	}
	d.allocStatus = AllocSuccess
	return nil
}

// allocate creates one device buffer per declared tensor and a host mirror per output.
func (d *Deployment) allocate() error {
	d.inputs = make(map[string]accel.Buffer)
	for _, name := range d.engine.InputNames() {
		shape, err := d.engine.TensorShape(name)
		if err != nil {
			return errors.Wrapf(ErrAlloc, "shape of %s: %v", name, err)
		}
		buf, err := d.malloc(name, shape.Abs())
		if err != nil {
			return err
		}
		d.inputs[name] = buf
	}

	for _, name := range d.engine.OutputNames() {
		shape, err := d.engine.TensorShape(name)
		if err != nil {
			return errors.Wrapf(ErrAlloc, "shape of %s: %v", name, err)
		}
		device, err := d.malloc(name, shape.Abs())
		if err != nil {
			return err
		}
		host, err := d.backend.MallocHost(int(shape.AbsElements()))
		if err != nil {
			return errors.Wrapf(ErrAlloc, "host mirror of %s: %v", name, err)
		}
		d.buffers.Own("host "+name, host.Free)
		d.outputs = append(d.outputs, outputBuffers{name: name, device: device, host: host})
	}
	return nil
}

func (d *Deployment) malloc(name string, shape accel.Shape) (accel.Buffer, error) {
	if shape.Elements() <= 0 {
		return nil, errors.Wrapf(ErrAlloc, "%s has empty shape %v", name, shape)
	}
	buf, err := d.backend.Malloc(shape)
	if err != nil {
		return nil, errors.Wrapf(ErrAlloc, "%s %v: %v", name, shape, err)
	}
	d.buffers.Own("device "+name, buf.Free)
	return buf, nil
}

func (d *Deployment) bind() error {
	for name, buf := range d.inputs {
		if err := d.context.SetTensorAddress(name, buf); err != nil {
			return errors.Wrapf(ErrAlloc, "bind %s: %v", name, err)
		}
	}
	for _, out := range d.outputs {
		if err := d.context.SetTensorAddress(out.name, out.device); err != nil {
			return errors.Wrapf(ErrAlloc, "bind %s: %v", out.name, err)
		}
	}
	return nil
}

// alias carves the role buffers into per-slot views. A buffer too small for BatchSlots
// frames at TargetSize is an allocation failure.
func (d *Deployment) alias() error {
	slots := d.cfg.Data.BatchSlots
	plane := d.cfg.TargetHeight() * d.cfg.TargetWidth()

	var err error
	d.shapeViews, err = accel.Split(d.inputs[d.binding.Roles[config.RoleImShape]], 0, slots, 2)
	if err != nil {
		return errors.Wrapf(ErrAlloc, "%s too small for %d slots: %v", config.RoleImShape, slots, err)
	}
	d.scaleViews, err = accel.Split(d.inputs[d.binding.Roles[config.RoleScaleFactor]], 0, slots, 2)
	if err != nil {
		return errors.Wrapf(ErrAlloc, "%s too small for %d slots: %v", config.RoleScaleFactor, slots, err)
	}
	planes, err := accel.Split(d.inputs[d.binding.Roles[config.RoleImage]], 0, slots*channels, plane)
	if err != nil {
		return errors.Wrapf(ErrAlloc, "%s too small for %d slots: %v", config.RoleImage, slots, err)
	}
	d.imageViews = make([][channels]accel.View, slots)
	for s := range d.imageViews {
		copy(d.imageViews[s][:], planes[s*channels:(s+1)*channels])
	}
	return nil
}

// Infer runs one frame through preprocessing and the engine, filling results.
//
// Arguments:
//   - frame: An 8-bit BGR frame; it is not modified.
//   - results: Cleared and filled with every configured output.
//
// Returns:
//   - error: An initialization, preprocessing or execution error.
func (d *Deployment) Infer(frame gocv.Mat, results *Results) error {
	return d.InferBatch([]gocv.Mat{frame}, results)
}

// InferBatch runs up to BatchSlots frames in one engine call, frame i filling slot i.
func (d *Deployment) InferBatch(frames []gocv.Mat, results *Results) error {
	if err := d.Init(); err != nil {
		return err
	}
	if len(frames) == 0 || len(frames) > len(d.imageViews) {
		return errors.Errorf("batch of %d frames, deployment has %d slots", len(frames), len(d.imageViews))
	}
	results.Clear()
	d.cfg.PatchFrameShape(frames[0].Cols(), frames[0].Rows())

	if err := d.preprocess(frames); err != nil {
		return err
	}
	return d.execute(results)
}

func (d *Deployment) preprocess(frames []gocv.Mat) error {
	if d.timer != nil {
		defer d.timer.Start(profiler.StagePreprocess)()
	}

	batch, err := preprocess.Upload(d.stream, frames...)
	if err != nil {
		return err
	}
	defer batch.Close()

	if err := d.pipeline.Run(batch); err != nil {
		return err
	}

	want := image.Pt(d.cfg.TargetWidth(), d.cfg.TargetHeight())
	if got := batch.Size(); got != want {
		return errors.Wrapf(ErrShapeMismatch, "preprocessed %v, engine expects %v", got, want)
	}

	imageBuf := d.inputs[d.binding.Roles[config.RoleImage]]
	for slot, frame := range batch.Frames {
		planes := gocv.Split(frame)
		err := d.uploadPlanes(imageBuf, d.imageViews[slot], planes)
		for i := range planes {
			planes[i].Close()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Deployment) uploadPlanes(buf accel.Buffer, views [channels]accel.View, planes []gocv.Mat) error {
	if len(planes) != channels {
		return errors.Wrapf(ErrShapeMismatch, "%d planes", len(planes))
	}
	for c, plane := range planes {
		data, err := plane.DataPtrFloat32()
		if err != nil {
			return errors.Wrapf(err, "plane %d", c)
		}
		if len(data) != views[c].Len {
			return errors.Wrapf(ErrShapeMismatch, "plane %d has %d elements, view has %d", c, len(data), views[c].Len)
		}
		if err := d.stream.Upload(buf, views[c].Offset, data); err != nil {
			return errors.Wrapf(err, "upload plane %d", c)
		}
	}
	return nil
}

func (d *Deployment) execute(results *Results) error {
	if d.timer != nil {
		defer d.timer.Start(profiler.StageInfer)()
	}

	shape := []float32{float32(d.cfg.TargetHeight()), float32(d.cfg.TargetWidth())}
	scale := []float32{1, 1}
	shapeBuf := d.inputs[d.binding.Roles[config.RoleImShape]]
	scaleBuf := d.inputs[d.binding.Roles[config.RoleScaleFactor]]
	for slot := range d.shapeViews {
		if err := d.stream.Upload(shapeBuf, d.shapeViews[slot].Offset, shape); err != nil {
			return errors.Wrap(err, "upload im_shape")
		}
		if err := d.stream.Upload(scaleBuf, d.scaleViews[slot].Offset, scale); err != nil {
			return errors.Wrap(err, "upload scale_factor")
		}
	}

	if err := d.context.Enqueue(d.stream); err != nil {
		return errors.Wrap(err, "enqueue")
	}
	for _, out := range d.outputs {
		if err := d.stream.CopyAsync(out.host, out.device); err != nil {
			return errors.Wrapf(err, "copy back %s", out.name)
		}
	}
	if err := d.stream.Synchronize(); err != nil {
		return errors.Wrap(err, "synchronize")
	}

	for _, out := range d.outputs {
		results.Set(out.name, out.host.Data())
	}
	return nil
}

// Warmup runs n inferences on an all-ones frame of the configured input size.
func (d *Deployment) Warmup(n int) error {
	size := d.cfg.FrameSize()
	if size.X <= 0 || size.Y <= 0 {
		size = image.Pt(d.cfg.TargetWidth(), d.cfg.TargetHeight())
	}
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1, 1, 1, 0), size.Y, size.X, gocv.MatTypeCV8UC3)
	defer frame.Close()

	results := NewResults(d.cfg.Model.OutputNames)
	for i := 0; i < n; i++ {
		if err := d.Infer(frame, results); err != nil {
			return errors.Wrapf(err, "warmup %d/%d", i+1, n)
		}
	}
	d.log.WithField("iterations", n).Debug("warmup done")
	return nil
}

// release closes the context, engine and runtime in that order, then frees every buffer.
func (d *Deployment) release() error {
	return stderrors.Join(d.scope.Close(), d.buffers.Close())
}

// Close waits for the stream to drain, closes the context, engine and runtime in that order,
// then frees the buffers and the stream. It is idempotent.
func (d *Deployment) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	keep(d.stream.Synchronize())
	keep(d.release())
	keep(d.pipeline.Close())
	keep(d.stream.Close())

	d.engine, d.context, d.inputs, d.outputs = nil, nil, nil, nil
	d.log.Debug("deployment closed")
	return first
}
