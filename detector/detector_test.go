package detector

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nvr-ai/go-helmet/accel"
	"github.com/nvr-ai/go-helmet/accel/acceltest"
	"github.com/nvr-ai/go-helmet/config"
	"github.com/nvr-ai/go-helmet/inference"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

const testSize = 64

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Pipeline.TargetSize = [2]int{testSize, testSize}
	cfg.Pipeline.TrainSize = [2]int{testSize, testSize}

	path := filepath.Join(t.TempDir(), "helmet.engine")
	require.NoError(t, os.WriteFile(path, []byte("engine"), 0o600))
	cfg.Model.Path = path
	return cfg
}

func testBackend(exec acceltest.ExecuteFunc) *acceltest.Backend {
	return acceltest.NewBackend(
		[]acceltest.Tensor{
			{Name: config.RoleImShape, Shape: accel.Shape{1, 2}},
			{Name: config.RoleImage, Shape: accel.Shape{1, 3, testSize, testSize}},
			{Name: config.RoleScaleFactor, Shape: accel.Shape{1, 2}},
		},
		[]acceltest.Tensor{
			{Name: "dets", Shape: accel.Shape{-1, 100, 6}},
			{Name: "num_dets", Shape: accel.Shape{-1, 1}},
		},
		exec,
	)
}

// helmetEverywhere reports one helmet per frame.
func helmetEverywhere(_, out map[string][]float32) error {
	copy(out["dets"], []float32{1, 0.9, 8, 8, 24, 24})
	out["num_dets"][0] = 1
	return nil
}

func frame(value float64) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(value, value, value, 0), testSize, testSize, gocv.MatTypeCV8UC3)
}

func TestProcessFiresAlarm(t *testing.T) {
	cfg := testConfig(t)
	cfg.Postprocess.AlarmCount = 1

	f := frame(0)
	defer f.Close()
	d, err := New(f, cfg, testBackend(helmetEverywhere))
	require.NoError(t, err)
	defer d.Close()
	assert.NotEmpty(t, d.ID())
	assert.Equal(t, image.Pt(testSize, testSize), d.Config().FrameSize())

	alarm, err := d.Process(&f)
	require.NoError(t, err)
	assert.Equal(t, 0, alarm)
	require.Len(t, d.Detections(), 1)
	assert.Equal(t, 1, d.Detections()[0].ClassID)
	assert.Equal(t, 2, d.AlarmLatency())

	alarm, err = d.Process(&f)
	require.NoError(t, err)
	assert.Equal(t, 1, alarm)
	assert.Equal(t, 0, d.AlarmLatency())

	// The caller's configuration is not patched.
	assert.Equal(t, []int{1, 8, 3, 320, 320}, cfg.Data.InputShape)
}

func TestProcessMasksOutsideROI(t *testing.T) {
	var plane []float32
	backend := testBackend(func(in, _ map[string][]float32) error {
		plane = append([]float32(nil), in[config.RoleImage][:testSize*testSize]...)
		return nil
	})

	cfg := testConfig(t)
	f := frame(255)
	defer f.Close()
	left := [][]image.Point{{{0, 0}, {31, 0}, {31, 63}, {0, 63}}}
	d, err := NewBuilder().WithConfig(cfg).WithBackend(backend).WithFrame(f).WithROI(left).Build()
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Process(&f)
	require.NoError(t, err)
	assert.Empty(t, d.Detections())

	require.Len(t, plane, testSize*testSize)
	assert.InDelta(t, (1-0.485)/0.229, plane[10*testSize+10], 1e-4)
	assert.InDelta(t, (0-0.485)/0.229, plane[10*testSize+50], 1e-4)

	// The original frame keeps its pixels and gains the ROI outline.
	assert.Equal(t, uint8(255), f.GetVecbAt(10, 50)[1])
	px := f.GetVecbAt(32, 31)
	assert.Equal(t, []uint8{255, 0, 0}, []uint8{px[0], px[1], px[2]})
}

func TestSetROIIgnoresDegeneratePolygons(t *testing.T) {
	var plane []float32
	backend := testBackend(func(in, _ map[string][]float32) error {
		plane = append([]float32(nil), in[config.RoleImage][:testSize*testSize]...)
		return nil
	})

	f := frame(255)
	defer f.Close()
	d, err := New(f, testConfig(t), backend)
	require.NoError(t, err)
	defer d.Close()

	d.SetROI([][]image.Point{{{0, 0}, {10, 10}}})
	_, err = d.Process(&f)
	require.NoError(t, err)
	assert.InDelta(t, (1-0.485)/0.229, plane[10*testSize+50], 1e-4)
}

func TestBuilderErrors(t *testing.T) {
	backend := testBackend(nil)

	_, err := NewBuilder().WithBackend(backend).Build()
	assert.Error(t, err)

	_, err = NewBuilder().WithConfig(testConfig(t)).Build()
	assert.Error(t, err)

	bad := testConfig(t)
	bad.Postprocess.AlarmCount = 0
	_, err = NewBuilder().WithConfig(bad).WithBackend(backend).Build()
	assert.Error(t, err)

	empty := gocv.NewMat()
	defer empty.Close()
	_, err = NewBuilder().WithConfig(testConfig(t)).WithBackend(backend).WithFrame(empty).Build()
	assert.Error(t, err)

	unknown := testConfig(t)
	unknown.Postprocess.Name = "FireDetectionPost"
	_, err = NewBuilder().WithConfig(unknown).WithBackend(backend).Build()
	assert.Error(t, err)

	assert.Panics(t, func() { NewBuilder().MustBuild() })

	// Later setters keep the first error.
	b := NewBuilder().WithConfig(nil)
	first := b.err
	b.WithBackend(backend).
		WithSharedRuntime(accel.NewSharedRuntime(backend.NewRuntime)).
		WithStageTimer(nil).
		WithLogger(nil).
		WithROI([][]image.Point{{{0, 0}, {1, 0}, {1, 1}}})
	assert.True(t, b.HasError())
	assert.Nil(t, b.shared)
	assert.Nil(t, b.roi)
	_, err = b.Build()
	assert.Equal(t, first, err)
}

func TestWarmupKeepsLatch(t *testing.T) {
	backend := testBackend(helmetEverywhere)
	f := frame(0)
	defer f.Close()
	d, err := New(f, testConfig(t), backend)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Warmup(3))
	assert.Equal(t, 3, backend.Enqueues())
	assert.Equal(t, 0, d.AlarmLatency())
}

func TestCloseIsIdempotent(t *testing.T) {
	backend := testBackend(nil)
	f := frame(0)
	defer f.Close()
	d, err := New(f, testConfig(t), backend)
	require.NoError(t, err)

	_, err = d.Process(&f)
	require.NoError(t, err)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.Equal(t, 0, backend.LiveBuffers())

	_, err = d.Process(&f)
	assert.ErrorIs(t, err, inference.ErrClosed)
	assert.ErrorIs(t, d.Warmup(1), inference.ErrClosed)
}

type frameSource struct {
	values []float64
	next   int
}

func (s *frameSource) Read(m *gocv.Mat) bool {
	if s.next >= len(s.values) {
		return false
	}
	f := frame(s.values[s.next])
	defer f.Close()
	s.next++
	f.CopyTo(m)
	return true
}

type countingSink struct{ frames int }

func (s *countingSink) Write(gocv.Mat) error {
	s.frames++
	return nil
}

type recorder struct {
	frames, skipped, alarms, errors, started, stopped int
}

func (r *recorder) Frame(_ string, skipped bool) {
	r.frames++
	if skipped {
		r.skipped++
	}
}
func (r *recorder) Alarm(string)         { r.alarms++ }
func (r *recorder) Error(string)         { r.errors++ }
func (r *recorder) StreamStarted(string) { r.started++ }
func (r *recorder) StreamStopped(string) { r.stopped++ }

func TestRunnerSamplesFrames(t *testing.T) {
	cfg := testConfig(t)
	cfg.Data.SampleInterval = 2
	cfg.Postprocess.AlarmCount = 1
	backend := testBackend(helmetEverywhere)

	f := frame(0)
	defer f.Close()
	d, err := New(f, cfg, backend)
	require.NoError(t, err)
	defer d.Close()

	sink := &countingSink{}
	rec := &recorder{}
	var snapshots []string
	r := &Runner{
		Stream:   "cam-1",
		Detector: d,
		Source:   &frameSource{values: []float64{0, 0, 0, 0, 0}},
		Sink:     sink,
		Recorder: rec,
		OnAlarm: func(stream string, frame gocv.Mat, _ time.Time) {
			assert.False(t, frame.Empty())
			snapshots = append(snapshots, stream)
		},
	}

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Frames)
	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 1, stats.Alarms)
	assert.Equal(t, 3, backend.Enqueues())
	assert.Equal(t, 5, sink.frames)
	assert.Equal(t, []string{"cam-1"}, snapshots)
	assert.Equal(t, recorder{frames: 5, skipped: 2, alarms: 1, started: 1, stopped: 1}, *rec)
}

func TestRunnerStopsOnFatalError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Model.Path = filepath.Join(t.TempDir(), "missing.engine")

	f := frame(0)
	defer f.Close()
	d, err := New(f, cfg, testBackend(nil))
	require.NoError(t, err)
	defer d.Close()

	rec := &recorder{}
	r := &Runner{Stream: "cam-1", Detector: d, Source: &frameSource{values: []float64{0, 0, 0}}, Recorder: rec}
	stats, err := r.Run(context.Background())
	assert.ErrorIs(t, err, inference.ErrInit)
	assert.ErrorIs(t, err, inference.ErrModelLoad)
	assert.Equal(t, 1, stats.Frames)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, rec.errors)
	assert.Equal(t, 1, rec.stopped)
}

func TestRunnerStopsOnUndersizedEngine(t *testing.T) {
	backend := testBackend(nil)
	backend.Inputs[1].Shape = accel.Shape{1, 3, testSize / 2, testSize / 2}

	f := frame(0)
	defer f.Close()
	d, err := New(f, testConfig(t), backend)
	require.NoError(t, err)
	defer d.Close()

	sink := &countingSink{}
	r := &Runner{Stream: "cam-1", Detector: d, Source: &frameSource{values: []float64{0, 0, 0, 0}}, Sink: sink}
	stats, err := r.Run(context.Background())
	assert.ErrorIs(t, err, inference.ErrInit)
	assert.ErrorIs(t, err, inference.ErrAlloc)
	assert.Equal(t, 1, stats.Frames)
	assert.Equal(t, 1, stats.Errors)
	assert.Zero(t, sink.frames)
	assert.Zero(t, backend.Enqueues())
}

func TestRunnerHonoursCancellation(t *testing.T) {
	f := frame(0)
	defer f.Close()
	backend := testBackend(nil)
	d, err := New(f, testConfig(t), backend)
	require.NoError(t, err)
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &Runner{Stream: "cam-1", Detector: d, Source: &frameSource{values: []float64{0, 0}}}
	stats, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Frames)
	assert.Equal(t, 0, backend.Enqueues())
}
