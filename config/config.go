// Package config - Deployment configuration for the helmet detection pipeline.
package config

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
)

// Input roles bound to the engine's declared input tensors.
const (
	// RoleImShape is the shape-descriptor input (2 floats per batch slot).
	RoleImShape = "im_shape"
	// RoleImage is the planar image-data input (3 channel planes per batch slot).
	RoleImage = "image"
	// RoleScaleFactor is the scale-factor input (2 floats per batch slot).
	RoleScaleFactor = "scale_factor"
)

// Roles lists every input role in declaration order.
var Roles = []string{RoleImShape, RoleImage, RoleScaleFactor}

// RGB is a color triple in R,G,B order.
type RGB [3]uint8

// RGBA converts the triple for drawing with gocv. gocv writes BGR scalars itself, so no
// channel swap is needed here.
func (c RGB) RGBA() color.RGBA {
	return color.RGBA{R: c[0], G: c[1], B: c[2], A: 0}
}

// Config is the complete, per-session configuration. It is built once at startup, cloned per
// stream worker, and treated as read-only after the first inference except for the one-time
// frame shape patch.
type Config struct {
	Model       ModelConfig       `json:"model"       yaml:"model"`
	Data        DataConfig        `json:"data"        yaml:"data"`
	Pipeline    PipelineConfig    `json:"pipeline"    yaml:"pipeline"`
	Postprocess PostprocessConfig `json:"postprocess" yaml:"postprocess"`

	// ScaleW and ScaleH are derived from the first observed frame.
	ScaleW float32 `json:"-" yaml:"-"`
	ScaleH float32 `json:"-" yaml:"-"`

	shapePatched bool
}

// ModelConfig describes the serialized model artifact and its tensors.
type ModelConfig struct {
	// Path to the serialized model artifact.
	Path string `json:"path"                yaml:"path"`
	// InputNames are the engine input tensor names, ordered im_shape, image, scale_factor.
	InputNames []string `json:"input_names"         yaml:"input_names"`
	// OutputNames are the engine output tensor names; the first one holds the detections.
	OutputNames []string `json:"output_names"        yaml:"output_names"`
	// InputRoles binds a role to a tensor name. Roles missing here fall back to the
	// positional entry of InputNames.
	InputRoles map[string]string `json:"input_roles"         yaml:"input_roles"`
	// Backend selects the accelerator execution provider (cuda, tensorrt, cpu).
	Backend string `json:"backend"             yaml:"backend"`
	// DeviceID is the accelerator ordinal.
	DeviceID int `json:"device_id"           yaml:"device_id"`
	// SharedLibraryPath overrides the platform default runtime library location.
	SharedLibraryPath string `json:"shared_library_path" yaml:"shared_library_path"`
}

// DataConfig describes the input stream.
type DataConfig struct {
	// InputShape is [batch, slots, channels, height, width]; height and width are
	// back-filled from the first frame.
	InputShape []int `json:"input_shape"     yaml:"input_shape"`
	// BatchSlots is the number of frame slots laid out in the input buffers.
	BatchSlots int `json:"batch_slots"     yaml:"batch_slots"`
	// BatchSize is the number of frames handed to one inference call.
	BatchSize int `json:"batch_size"      yaml:"batch_size"`
	// SampleInterval runs inference on every n-th frame.
	SampleInterval int `json:"sample_interval" yaml:"sample_interval"`
	// ROI is a list of polygons restricting where detections are considered.
	ROI [][]image.Point `json:"roi"             yaml:"roi"`
}

// PipelineConfig describes the preprocessing chain.
type PipelineConfig struct {
	TargetSize  [2]int     `json:"target_size"  yaml:"target_size"`
	TrainSize   [2]int     `json:"train_size"   yaml:"train_size"`
	ShortSize   int        `json:"short_size"   yaml:"short_size"`
	Stride      int        `json:"stride"       yaml:"stride"`
	Interp      int        `json:"interp"       yaml:"interp"`
	KeepRatio   bool       `json:"keep_ratio"   yaml:"keep_ratio"`
	EnableScale bool       `json:"enable_scale" yaml:"enable_scale"`
	Mean        [3]float32 `json:"mean"         yaml:"mean"`
	Std         [3]float32 `json:"std"          yaml:"std"`
	// Ops is the ordered list of preprocessing operation names.
	Ops []string `json:"ops"          yaml:"ops"`
	// Warmup is the number of dummy inferences run after loading.
	Warmup int `json:"warmup"       yaml:"warmup"`
	// Timing logs per-stage durations.
	Timing bool `json:"timing"       yaml:"timing"`
}

// PostprocessConfig describes decoding, drawing and alarm behaviour.
type PostprocessConfig struct {
	Name           string   `json:"name"             yaml:"name"`
	Mode           int      `json:"mode"             yaml:"mode"`
	Labels         []string `json:"labels"           yaml:"labels"`
	ScoreThreshold float32  `json:"score_threshold"  yaml:"score_threshold"`
	Threshold      float32  `json:"threshold"        yaml:"threshold"`
	TargetClass    int      `json:"target_class"     yaml:"target_class"`
	// AlarmCount is the debounce length; the alarm fires once the latch exceeds 2*AlarmCount.
	AlarmCount     int     `json:"alarm_count"      yaml:"alarm_count"`
	TextColor      RGB     `json:"text_color"       yaml:"text_color"`
	BoxColor       RGB     `json:"box_color"        yaml:"box_color"`
	AlarmTextColor RGB     `json:"alarm_text_color" yaml:"alarm_text_color"`
	AlarmBoxColor  RGB     `json:"alarm_box_color"  yaml:"alarm_box_color"`
	ROIColor       RGB     `json:"roi_color"        yaml:"roi_color"`
	TextLineWidth  float32 `json:"text_line_width"  yaml:"text_line_width"`
	BoxLineWidth   int     `json:"box_line_width"   yaml:"box_line_width"`
	TextFontSize   float32 `json:"text_font_size"   yaml:"text_font_size"`
	TextOffset     [2]int  `json:"text_offset"      yaml:"text_offset"`
}

// Default returns the compiled-in configuration.
//
// Returns:
//   - *Config: A fresh configuration with every field set.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Path:        "../models/helmet_model.engine",
			InputNames:  []string{RoleImShape, RoleImage, RoleScaleFactor},
			OutputNames: []string{"dets", "num_dets"},
			InputRoles:  map[string]string{},
			Backend:     "cuda",
		},
		Data: DataConfig{
			InputShape:     []int{1, 8, 3, 320, 320},
			BatchSlots:     1,
			BatchSize:      1,
			SampleInterval: 1,
		},
		Pipeline: PipelineConfig{
			TargetSize:  [2]int{608, 608},
			TrainSize:   [2]int{608, 608},
			ShortSize:   340,
			Stride:      2,
			Interp:      0,
			KeepRatio:   true,
			EnableScale: true,
			Mean:        [3]float32{0.485, 0.456, 0.406},
			Std:         [3]float32{0.229, 0.224, 0.225},
			Ops: []string{
				"TopDownEvalAffine",
				"Resize",
				"LetterBoxResize",
				"NormalizeImage",
				"PadStride",
				"Permute",
			},
			Warmup: 10,
			Timing: true,
		},
		Postprocess: PostprocessConfig{
			Name:           "HelmetDetectionPost",
			Labels:         []string{"Head", "Helmet"},
			ScoreThreshold: 0.6,
			Threshold:      0.8,
			TargetClass:    1,
			AlarmCount:     5,
			TextColor:      RGB{0, 0, 255},
			BoxColor:       RGB{0, 0, 255},
			AlarmTextColor: RGB{255, 0, 0},
			AlarmBoxColor:  RGB{255, 0, 0},
			ROIColor:       RGB{0, 0, 255},
			TextLineWidth:  2.0,
			BoxLineWidth:   2,
			TextFontSize:   1.8,
			TextOffset:     [2]int{450, 50},
		},
	}
}

// Clone returns a deep copy suitable for handing to another stream worker.
func (c *Config) Clone() *Config {
	out := *c
	out.Model.InputNames = append([]string(nil), c.Model.InputNames...)
	out.Model.OutputNames = append([]string(nil), c.Model.OutputNames...)
	out.Model.InputRoles = make(map[string]string, len(c.Model.InputRoles))
	for k, v := range c.Model.InputRoles {
		out.Model.InputRoles[k] = v
	}
	out.Data.InputShape = append([]int(nil), c.Data.InputShape...)
	out.Data.ROI = make([][]image.Point, len(c.Data.ROI))
	for i, poly := range c.Data.ROI {
		out.Data.ROI[i] = append([]image.Point(nil), poly...)
	}
	out.Pipeline.Ops = append([]string(nil), c.Pipeline.Ops...)
	out.Postprocess.Labels = append([]string(nil), c.Postprocess.Labels...)
	return &out
}

// TargetHeight is the engine input height.
func (c *Config) TargetHeight() int { return c.Pipeline.TargetSize[0] }

// TargetWidth is the engine input width.
func (c *Config) TargetWidth() int { return c.Pipeline.TargetSize[1] }

// InputFor resolves the tensor name bound to a role.
//
// Arguments:
//   - role: One of RoleImShape, RoleImage or RoleScaleFactor.
//
// Returns:
//   - string: The tensor name, or "" when the role is unbound.
func (c *Config) InputFor(role string) string {
	if name, ok := c.Model.InputRoles[role]; ok && name != "" {
		return name
	}
	for i, r := range Roles {
		if r == role && i < len(c.Model.InputNames) {
			return c.Model.InputNames[i]
		}
	}
	return ""
}

// PatchFrameShape back-fills the frame width/height into InputShape and derives the scale
// factors. Only the first call has an effect.
//
// Arguments:
//   - width: Frame width in pixels.
//   - height: Frame height in pixels.
//
// Returns:
//   - bool: True if this call patched the shape.
func (c *Config) PatchFrameShape(width, height int) bool {
	if c.shapePatched || width <= 0 || height <= 0 {
		return false
	}
	if n := len(c.Data.InputShape); n >= 2 {
		c.Data.InputShape[n-1] = width
		c.Data.InputShape[n-2] = height
	}
	c.ScaleW = float32(c.TargetWidth()) / float32(width)
	c.ScaleH = float32(c.TargetHeight()) / float32(height)
	c.shapePatched = true
	return true
}

// FrameSize returns the (width, height) recorded in InputShape.
func (c *Config) FrameSize() image.Point {
	n := len(c.Data.InputShape)
	if n < 2 {
		return image.Point{}
	}
	return image.Pt(c.Data.InputShape[n-1], c.Data.InputShape[n-2])
}

// Validate checks the invariants the pipeline relies on.
//
// Returns:
//   - error: The first violated invariant, or nil.
func (c *Config) Validate() error {
	for i, s := range c.Pipeline.Std {
		if s <= 0 {
			return errors.Errorf("pipeline.std[%d] must be > 0, got %v", i, s)
		}
	}
	if c.Pipeline.TargetSize[0] <= 0 || c.Pipeline.TargetSize[1] <= 0 {
		return errors.Errorf("pipeline.target_size must be positive, got %v", c.Pipeline.TargetSize)
	}
	if c.Pipeline.Stride < 0 {
		return errors.Errorf("pipeline.stride must be >= 0, got %d", c.Pipeline.Stride)
	}
	if c.Postprocess.AlarmCount < 1 {
		return errors.Errorf("postprocess.alarm_count must be >= 1, got %d", c.Postprocess.AlarmCount)
	}
	if c.Postprocess.ScoreThreshold < 0 || c.Postprocess.ScoreThreshold > 1 {
		return errors.Errorf("postprocess.score_threshold must be in [0,1], got %v", c.Postprocess.ScoreThreshold)
	}
	if len(c.Postprocess.Labels) == 0 {
		return errors.New("postprocess.labels must not be empty")
	}
	if len(c.Model.OutputNames) == 0 {
		return errors.New("model.output_names must not be empty")
	}
	for _, role := range Roles {
		if c.InputFor(role) == "" {
			return errors.Errorf("no input tensor bound to role %q", role)
		}
	}
	if c.Data.BatchSlots < 1 {
		return errors.Errorf("data.batch_slots must be >= 1, got %d", c.Data.BatchSlots)
	}
	if c.Data.SampleInterval < 1 {
		return errors.Errorf("data.sample_interval must be >= 1, got %d", c.Data.SampleInterval)
	}
	return nil
}
