package capture

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/huetrack/internal/config"
	apperr "github.com/GriffinCanCode/huetrack/internal/errors"
	"github.com/GriffinCanCode/huetrack/internal/frame"
)

var imageExts = []string{".png", ".jpg", ".jpeg"}

// ImageSource replays still images in name order, paced at the configured
// rate. Timestamps are synthetic so a replay is reproducible.
type ImageSource struct {
	files  []string
	period time.Duration
	loop   bool
	pool   *frame.Pool

	mu      sync.Mutex
	next    int
	emitted uint64
	start   time.Time
	due     time.Time
	closed  bool
}

// OpenImages opens a directory of png/jpeg files or a single image file.
func OpenImages(_ context.Context, cfg config.CaptureConfig) (frame.Source, error) {
	files, err := listImages(cfg.Path)
	if err != nil {
		return nil, err
	}
	return NewImageSource(files, cfg.FPS, cfg.Loop), nil
}

// NewImageSource replays files at fps. With loop set the sequence restarts
// instead of ending.
func NewImageSource(files []string, fps float64, loop bool) *ImageSource {
	return &ImageSource{
		files:  files,
		period: Period(fps),
		loop:   loop,
		pool:   frame.NewPool(4),
	}
}

func listImages(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeConfig, "capture.path %q", path)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeConfig, "reading %q", path)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !slices.Contains(imageExts, strings.ToLower(filepath.Ext(e.Name()))) {
			continue
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	if len(files) == 0 {
		return nil, apperr.Newf(apperr.CodeConfig, "no png or jpeg images in %q", path)
	}
	slices.Sort(files)
	return files, nil
}

// TryAcquire returns the next decodable image. Files that fail to decode are
// skipped with a warning.
func (s *ImageSource) TryAcquire(ctx context.Context, timeout time.Duration) (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, frame.ErrEndOfStream
	}
	now := time.Now()
	if s.start.IsZero() {
		s.start, s.due = now, now
	}
	ok, err := wait(ctx, s.due, timeout)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, frame.ErrTimeout
	}

	for skipped := 0; skipped < len(s.files); skipped++ {
		if s.next == len(s.files) {
			if !s.loop {
				return nil, frame.ErrEndOfStream
			}
			s.next = 0
		}
		path := s.files[s.next]
		s.next++
		img, err := decodeFile(path)
		if err != nil {
			slog.Warn("skipping unreadable image", "path", path, "error", err)
			continue
		}
		ts := s.start.Add(time.Duration(s.emitted) * s.period)
		f, err := ToFrame(img, s.pool, ts)
		if err != nil {
			slog.Warn("skipping image", "path", path, "error", err)
			continue
		}
		s.emitted++
		f.Seq = s.emitted
		s.due = s.due.Add(s.period)
		return f, nil
	}
	s.closed = true
	return nil, apperr.Newf(apperr.CodeEndOfStream, "none of %d images could be decoded", len(s.files))
}

func decodeFile(path string) (image.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	img, _, err := image.Decode(fh)
	return img, err
}

// Reinit is a no-op; there is no device to reopen.
func (s *ImageSource) Reinit(context.Context) error { return nil }

func (s *ImageSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
