// Package video reads frames from cameras and video files through OpenCV.
package video

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/GriffinCanCode/huetrack/internal/capture"
	"github.com/GriffinCanCode/huetrack/internal/config"
	apperr "github.com/GriffinCanCode/huetrack/internal/errors"
	"github.com/GriffinCanCode/huetrack/internal/frame"
)

type result struct {
	f   *frame.Frame
	err error
}

// Source decodes on a reader goroutine so TryAcquire can honour its timeout
// while OpenCV blocks on the device.
type Source struct {
	cfg  config.CaptureConfig
	file bool
	pool *frame.Pool

	mu      sync.Mutex
	vc      *gocv.VideoCapture
	results chan result
	stop    chan struct{}
	done    chan struct{}
}

// Open opens capture.path as a video file when set, otherwise
// capture.device as a camera index or stream URL.
func Open(_ context.Context, cfg config.CaptureConfig) (frame.Source, error) {
	s := &Source{cfg: cfg, file: cfg.Path != "", pool: frame.NewPool(4)}
	if s.file {
		if _, err := os.Stat(cfg.Path); err != nil {
			return nil, apperr.Wrapf(err, apperr.CodeConfig, "capture.path %q", cfg.Path)
		}
	}
	if err := s.start(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Source) target() any {
	if s.file {
		return s.cfg.Path
	}
	if idx, err := strconv.Atoi(s.cfg.Device); err == nil {
		return idx
	}
	return s.cfg.Device
}

func (s *Source) start() error {
	vc, err := gocv.OpenVideoCapture(s.target())
	if err != nil {
		return apperr.Wrapf(err, apperr.CodeDeviceLost, "opening %v", s.target())
	}
	if !vc.IsOpened() {
		vc.Close()
		return apperr.Newf(apperr.CodeDeviceLost, "capture %v did not open", s.target())
	}
	if !s.file {
		vc.Set(gocv.VideoCaptureFPS, s.cfg.FPS)
	}
	s.vc = vc
	s.results = make(chan result)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.read(vc, s.results, s.stop, s.done)
	return nil
}

func (s *Source) halt() {
	if s.vc == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.vc.Close()
	s.vc = nil
}

func (s *Source) read(vc *gocv.VideoCapture, out chan<- result, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	raw := gocv.NewMat()
	defer raw.Close()
	bgra := gocv.NewMat()
	defer bgra.Close()

	send := func(r result) bool {
		select {
		case out <- r:
			return true
		case <-stop:
			if r.f != nil {
				r.f.Release()
			}
			return false
		}
	}

	reel := capture.NewRewinder(s.file && s.cfg.Loop)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if ok := vc.Read(&raw); !ok || raw.Empty() {
			if reel.Rewind() {
				vc.Set(gocv.VideoCapturePosFrames, 0)
				continue
			}
			switch {
			case !s.file:
				send(result{err: apperr.New(apperr.CodeDeviceLost, "camera read failed")})
			case s.cfg.Loop:
				send(result{err: apperr.Newf(apperr.CodeEndOfStream, "%s has no readable frames", s.cfg.Path)})
			default:
				send(result{err: frame.ErrEndOfStream})
			}
			return
		}
		reel.Delivered()
		gocv.CvtColor(raw, &bgra, gocv.ColorBGRToBGRA)
		pix, err := bgra.DataPtrUint8()
		if err != nil {
			send(result{err: apperr.Wrap(err, apperr.CodeUnsupportedFormat, "reading converted frame")})
			continue
		}
		f := s.pool.Get(bgra.Cols(), bgra.Rows(), frame.FormatBGRA, time.Now())
		copy(f.Pix, pix)
		if !send(result{f: f}) {
			return
		}
	}
}

// TryAcquire waits up to timeout for the reader. After the reader has
// reported end of stream or a lost device, the same outcome repeats until
// Reinit.
func (s *Source) TryAcquire(ctx context.Context, timeout time.Duration) (*frame.Frame, error) {
	s.mu.Lock()
	results, done := s.results, s.done
	s.mu.Unlock()
	if results == nil {
		return nil, apperr.New(apperr.CodeDeviceLost, "capture not open")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, frame.ErrTimeout
	case r := <-results:
		return r.f, r.err
	case <-done:
		if s.file {
			return nil, frame.ErrEndOfStream
		}
		return nil, apperr.New(apperr.CodeDeviceLost, "capture reader stopped")
	}
}

// Reinit closes and reopens the device.
func (s *Source) Reinit(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halt()
	s.results = nil
	return s.start()
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halt()
	s.results = nil
	return nil
}
