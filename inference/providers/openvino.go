package providers

import (
	"strconv"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// OpenVINOOptions contains arguments for the OpenVINO provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
type OpenVINOOptions struct {
	// CPU, GPU or NPU; empty uses the build default.
	DeviceType string `json:"device_type"    yaml:"device_type"`
	// FP32, FP16 or ACCURACY; empty uses the device default.
	Precision    string `json:"precision"      yaml:"precision"`
	NumOfThreads int    `json:"num_of_threads" yaml:"num_of_threads"`
}

// ToMap renders the options as ONNX Runtime provider keys. Unset values are omitted.
func (o OpenVINOOptions) ToMap() map[string]string {
	m := map[string]string{}
	if o.DeviceType != "" {
		m["device_type"] = o.DeviceType
	}
	if o.Precision != "" {
		m["precision"] = o.Precision
	}
	if o.NumOfThreads > 0 {
		m["num_of_threads"] = strconv.Itoa(o.NumOfThreads)
	}
	return m
}

func (o OpenVINOOptions) append(options *ort.SessionOptions) error {
	return errors.Wrap(options.AppendExecutionProviderOpenVINO(o.ToMap()), "enable OpenVINO")
}
