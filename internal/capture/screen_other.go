//go:build !linux && !darwin

package capture

import (
	"runtime"

	apperr "github.com/GriffinCanCode/huetrack/internal/errors"
)

// TODO: Windows capture via DXGI desktop duplication.
func platformBackend() (backend, error) {
	return nil, apperr.Newf(apperr.CodeConfig, "screen capture is not supported on %s", runtime.GOOS)
}
