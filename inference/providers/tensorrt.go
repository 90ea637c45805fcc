package providers

import (
	"strconv"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// TensorRTOptions contains arguments for the TensorRT provider.
// See: https://onnxruntime.ai/docs/execution-providers/TensorRT-ExecutionProvider.html
type TensorRTOptions struct {
	DeviceID int `json:"device_id"                yaml:"device_id"`
	// Maximum workspace size in bytes; 0 leaves the runtime default.
	MaxWorkspaceSize int64 `json:"trt_max_workspace_size"   yaml:"trt_max_workspace_size"`
	FP16             bool  `json:"trt_fp16_enable"          yaml:"trt_fp16_enable"`
	// Cache built engines so later sessions skip the build.
	EngineCacheEnable bool   `json:"trt_engine_cache_enable"  yaml:"trt_engine_cache_enable"`
	EngineCachePath   string `json:"trt_engine_cache_path"    yaml:"trt_engine_cache_path"`
}

// ToMap renders the options as ONNX Runtime provider keys. Unset values are omitted.
func (o TensorRTOptions) ToMap() map[string]string {
	m := map[string]string{
		"device_id":               strconv.Itoa(o.DeviceID),
		"trt_fp16_enable":         boolFlag(o.FP16),
		"trt_engine_cache_enable": boolFlag(o.EngineCacheEnable),
	}
	if o.MaxWorkspaceSize > 0 {
		m["trt_max_workspace_size"] = strconv.FormatInt(o.MaxWorkspaceSize, 10)
	}
	if o.EngineCachePath != "" {
		m["trt_engine_cache_path"] = o.EngineCachePath
	}
	return m
}

func (o TensorRTOptions) append(options *ort.SessionOptions) error {
	native, err := ort.NewTensorRTProviderOptions()
	if err != nil {
		return errors.Wrap(err, "create TensorRT provider options")
	}
	defer native.Destroy()

	if err := native.Update(o.ToMap()); err != nil {
		return errors.Wrap(err, "update TensorRT provider options")
	}
	return errors.Wrap(options.AppendExecutionProviderTensorRT(native), "enable TensorRT")
}
