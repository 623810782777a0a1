package capture

import (
	"bytes"
	"context"
	"crypto/md5"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/GriffinCanCode/huetrack/internal/config"
	apperr "github.com/GriffinCanCode/huetrack/internal/errors"
	"github.com/GriffinCanCode/huetrack/internal/frame"
)

// backend writes one screenshot to path.
type backend interface {
	name() string
	probe() error
	grab(ctx context.Context, path string) error
}

// ScreenSource captures the desktop through the platform screenshot tool.
// With skipUnchanged set, a shot identical to the previous one is reported
// as a timeout instead of a frame.
type ScreenSource struct {
	backend       backend
	tempDir       string
	period        time.Duration
	skipUnchanged bool
	pool          *frame.Pool

	mu       sync.Mutex
	lastHash [16]byte
	due      time.Time
	last     time.Time
}

// OpenScreen creates a screen source for the current platform.
func OpenScreen(_ context.Context, cfg config.CaptureConfig) (frame.Source, error) {
	b, err := platformBackend()
	if err != nil {
		return nil, err
	}
	return newScreenSource(b, cfg)
}

func newScreenSource(b backend, cfg config.CaptureConfig) (*ScreenSource, error) {
	if err := b.probe(); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeConfig, "screen capture unavailable")
	}
	dir, err := os.MkdirTemp("", "huetrack-screen-*")
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "creating screenshot directory")
	}
	return &ScreenSource{
		backend:       b,
		tempDir:       dir,
		period:        Period(cfg.FPS),
		skipUnchanged: cfg.SkipUnchanged,
		pool:          frame.NewPool(4),
	}, nil
}

func (s *ScreenSource) TryAcquire(ctx context.Context, timeout time.Duration) (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.due.IsZero() {
		s.due = time.Now()
	}
	ok, err := wait(ctx, s.due, timeout)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, frame.ErrTimeout
	}
	s.due = time.Now().Add(s.period)

	path := filepath.Join(s.tempDir, "shot.png")
	if err := s.backend.grab(ctx, path); err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeDeviceLost, "%s capture", s.backend.name())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeDeviceLost, "reading screenshot")
	}
	_ = os.Remove(path)

	hash := md5.Sum(data[:min(len(data), 4096)])
	if s.skipUnchanged && hash == s.lastHash {
		return nil, frame.ErrTimeout
	}
	s.lastHash = hash

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeDeviceLost, "decoding screenshot")
	}
	ts := time.Now()
	if ts.Before(s.last) {
		ts = s.last
	}
	s.last = ts
	return ToFrame(img, s.pool, ts)
}

// Reinit checks the screenshot tool is still usable.
func (s *ScreenSource) Reinit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHash = [16]byte{}
	return s.backend.probe()
}

func (s *ScreenSource) Close() error {
	return os.RemoveAll(s.tempDir)
}
