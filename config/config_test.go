package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, [2]int{608, 608}, cfg.Pipeline.TargetSize)
	assert.Equal(t, "dets", cfg.Model.OutputNames[0])
	assert.Len(t, cfg.Pipeline.Ops, 6)
	assert.Equal(t, "image", cfg.InputFor(RoleImage))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero std", func(c *Config) { c.Pipeline.Std[1] = 0 }},
		{"negative stride", func(c *Config) { c.Pipeline.Stride = -1 }},
		{"alarm count", func(c *Config) { c.Postprocess.AlarmCount = 0 }},
		{"score threshold", func(c *Config) { c.Postprocess.ScoreThreshold = 1.5 }},
		{"no outputs", func(c *Config) { c.Model.OutputNames = nil }},
		{"missing role", func(c *Config) { c.Model.InputNames = []string{"im_shape", "image"} }},
		{"no labels", func(c *Config) { c.Postprocess.Labels = nil }},
		{"sample interval", func(c *Config) { c.Data.SampleInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestInputForPrefersExplicitRoles(t *testing.T) {
	cfg := Default()
	cfg.Model.InputNames = []string{"a", "b", "c"}
	assert.Equal(t, "b", cfg.InputFor(RoleImage))

	cfg.Model.InputRoles = map[string]string{RoleImage: "pixels"}
	assert.Equal(t, "pixels", cfg.InputFor(RoleImage))
	assert.Equal(t, "c", cfg.InputFor(RoleScaleFactor))
}

func TestPatchFrameShapeOnlyOnce(t *testing.T) {
	cfg := Default()

	require.True(t, cfg.PatchFrameShape(1216, 608))
	assert.Equal(t, []int{1, 8, 3, 608, 1216}, cfg.Data.InputShape)
	assert.InDelta(t, 0.5, cfg.ScaleW, 1e-6)
	assert.InDelta(t, 1.0, cfg.ScaleH, 1e-6)

	assert.False(t, cfg.PatchFrameShape(100, 100))
	assert.Equal(t, 1216, cfg.FrameSize().X)
}

func TestCloneIsDeep(t *testing.T) {
	cfg := Default()
	clone := cfg.Clone()

	clone.Model.OutputNames[0] = "boxes"
	clone.Data.InputShape[4] = 1
	clone.Postprocess.Labels[0] = "x"

	assert.Equal(t, "dets", cfg.Model.OutputNames[0])
	assert.Equal(t, 320, cfg.Data.InputShape[4])
	assert.Equal(t, "Head", cfg.Postprocess.Labels[0])
}

func TestLoadLenient(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Model.Path, cfg.Model.Path)
}

func TestLoadMergesSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "helmet.yaml")
	doc := `
model:
  path: /models/helmet.onnx
  output_names: [boxes, count]
pipeline:
  target_size: [640, 640]
  stride: 32
postprocess:
  alarm_count: 3
  alarm_box_color: [0, 255, 0]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/models/helmet.onnx", cfg.Model.Path)
	assert.Equal(t, []string{"boxes", "count"}, cfg.Model.OutputNames)
	assert.Equal(t, []string{"im_shape", "image", "scale_factor"}, cfg.Model.InputNames)
	assert.Equal(t, [2]int{640, 640}, cfg.Pipeline.TargetSize)
	assert.Equal(t, 32, cfg.Pipeline.Stride)
	assert.True(t, cfg.Pipeline.KeepRatio)
	assert.Equal(t, 3, cfg.Postprocess.AlarmCount)
	assert.Equal(t, RGB{0, 255, 0}, cfg.Postprocess.AlarmBoxColor)
	// Missing data section keeps defaults.
	assert.Equal(t, 1, cfg.Data.SampleInterval)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvModel, "/tmp/m.onnx")
	t.Setenv(EnvOutputNames, "dets;num_dets")
	t.Setenv(EnvDeviceID, "2")

	cfg := Default()
	cfg.ApplyEnv()

	assert.Equal(t, "/tmp/m.onnx", cfg.Model.Path)
	assert.Equal(t, []string{"dets", "num_dets"}, cfg.Model.OutputNames)
	assert.Equal(t, 2, cfg.Model.DeviceID)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("HELMET_BACKEND=tensorrt\n"), 0o600))
	t.Setenv(EnvBackend, "")
	require.NoError(t, os.Unsetenv(EnvBackend))

	LoadDotEnv(path, filepath.Join(t.TempDir(), "absent.env"))

	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, "tensorrt", cfg.Model.Backend)
}

func TestSplitNames(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitNames("a;b, c"))
	assert.Empty(t, SplitNames(";;"))
}
