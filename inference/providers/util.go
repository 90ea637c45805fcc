package providers

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
)

// EnvSharedLibraryPath overrides the ONNX Runtime shared library location.
const EnvSharedLibraryPath = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// SharedLibPath returns the ONNX Runtime shared library to load: the explicit path, then the
// environment override, then the per-platform default under third_party.
//
// Arguments:
//   - explicit: A configured path; empty to fall back.
//
// Returns:
//   - string: The library path.
//   - error: An error if the platform has no default library.
func SharedLibPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if p := os.Getenv(EnvSharedLibraryPath); p != "" {
		return p, nil
	}

	dir := "third_party"
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(dir, "onnxruntime.dll"), nil
	case "darwin":
		return filepath.Join(dir, "libonnxruntime.dylib"), nil
	case "linux":
		if runtime.GOARCH == "arm64" {
			return filepath.Join(dir, "onnxruntime_arm64.so"), nil
		}
		return filepath.Join(dir, "onnxruntime.so"), nil
	}
	return "", errors.Errorf("no ONNX Runtime library for %s/%s", runtime.GOOS, runtime.GOARCH)
}
