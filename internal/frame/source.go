package frame

import (
	"context"
	"time"

	apperr "github.com/GriffinCanCode/huetrack/internal/errors"
)

// Sentinel acquisition outcomes. Sources may wrap them with detail.
var (
	ErrTimeout     = apperr.New(apperr.CodeTimeout, "no frame within timeout")
	ErrEndOfStream = apperr.New(apperr.CodeEndOfStream, "source exhausted")
)

// Source produces frames. TryAcquire blocks for at most timeout and returns
// ErrTimeout when nothing arrived, a DeviceLost error when the device must be
// reinitialised, or ErrEndOfStream when a finite source is exhausted.
// Timestamps of successive frames are non-decreasing.
type Source interface {
	TryAcquire(ctx context.Context, timeout time.Duration) (*Frame, error)
	Reinit(ctx context.Context) error
	Close() error
}
