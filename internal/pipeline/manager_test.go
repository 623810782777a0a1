package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/huetrack/internal/config"
	apperr "github.com/GriffinCanCode/huetrack/internal/errors"
	"github.com/GriffinCanCode/huetrack/internal/frame"
)

type sourceLog struct {
	mu      sync.Mutex
	opened  []*config.Config
	sources []*scriptSource
}

func (l *sourceLog) factory(endless bool) SourceFactory {
	return func(_ context.Context, cfg *config.Config) (frame.Source, error) {
		src := newScriptSource()
		src.endless = endless
		l.mu.Lock()
		l.opened = append(l.opened, cfg)
		l.sources = append(l.sources, src)
		l.mu.Unlock()
		return src, nil
	}
}

func (l *sourceLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.opened)
}

func startManager(t *testing.T, m *Manager) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("manager did not finish")
		return nil
	}
}

func TestManagerReload(t *testing.T) {
	var sources sourceLog
	reloaded := testConfig(t)
	reloaded.Aim.MaxSpeed = 12

	m := NewManager(testConfig(t), ManagerDeps{
		Loader:  func() (*config.Config, error) { return reloaded, nil },
		Sources: sources.factory(true),
	})
	done := startManager(t, m)

	require.Eventually(t, func() bool { return m.Status().State == Running }, 2*time.Second, time.Millisecond)
	first := m.Status().Session

	m.Reload()
	require.Eventually(t, func() bool {
		st := m.Status()
		return sources.count() == 2 && st.State == Running && st.Session != first
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, m.Status().Reloads)
	assert.Equal(t, 12.0, m.Config().Aim.MaxSpeed)
	assert.True(t, sources.sources[0].closed.Load(), "previous source closed before the next session")

	m.Stop()
	require.NoError(t, waitDone(t, done))
	assert.Equal(t, Stopped, m.Status().State)
	assert.Equal(t, 2, sources.count())
}

func TestManagerReloadFailureKeepsConfig(t *testing.T) {
	var sources sourceLog
	cfg := testConfig(t)
	m := NewManager(cfg, ManagerDeps{
		Loader:  func() (*config.Config, error) { return nil, apperr.New(apperr.CodeConfig, "bad yaml") },
		Sources: sources.factory(true),
	})
	done := startManager(t, m)

	require.Eventually(t, func() bool { return m.Status().State == Running }, 2*time.Second, time.Millisecond)
	m.Reload()
	require.Eventually(t, func() bool { return sources.count() == 2 && m.Status().State == Running }, 2*time.Second, time.Millisecond)

	assert.Same(t, cfg, m.Config())
	assert.Zero(t, m.Status().Reloads)

	m.Stop()
	require.NoError(t, waitDone(t, done))
}

func TestManagerEndOfStream(t *testing.T) {
	var sources sourceLog
	m := NewManager(testConfig(t), ManagerDeps{Sources: sources.factory(false)})

	require.NoError(t, waitDone(t, startManager(t, m)))
	assert.Equal(t, 1, sources.count())
}

func TestManagerStopBeforeRun(t *testing.T) {
	var sources sourceLog
	m := NewManager(testConfig(t), ManagerDeps{Sources: sources.factory(true)})
	m.Stop()

	require.NoError(t, waitDone(t, startManager(t, m)))
	assert.Equal(t, Stopped, m.Status().State)
}

func TestManagerFault(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.ReinitAttempts = 2
	var reinits atomic.Int32
	m := NewManager(cfg, ManagerDeps{
		Sources: func(context.Context, *config.Config) (frame.Source, error) {
			src := newScriptSource(step{err: apperr.New(apperr.CodeDeviceLost, "gone")})
			src.reinit = func(int) error {
				reinits.Add(1)
				return errors.New("no device")
			}
			return src, nil
		},
	})

	err := waitDone(t, startManager(t, m))
	require.Error(t, err)
	assert.Equal(t, apperr.ExitCaptureFailed, apperr.ExitCode(err))
	assert.Equal(t, Faulted, m.Status().State)
	assert.Equal(t, int32(2), reinits.Load())
}

func TestManagerSourceOpenError(t *testing.T) {
	openErr := apperr.New(apperr.CodeConfig, "capture.path does not exist")
	m := NewManager(testConfig(t), ManagerDeps{
		Sources: func(context.Context, *config.Config) (frame.Source, error) { return nil, openErr },
	})

	err := waitDone(t, startManager(t, m))
	assert.ErrorIs(t, err, openErr)
	assert.Equal(t, Idle, m.Status().State)
}

func TestManagerRetriesBusyDevice(t *testing.T) {
	var opens atomic.Int32
	var sources sourceLog
	open := sources.factory(false)
	m := NewManager(testConfig(t), ManagerDeps{
		Sources: func(ctx context.Context, cfg *config.Config) (frame.Source, error) {
			if opens.Add(1) < 3 {
				return nil, apperr.New(apperr.CodeDeviceLost, "camera busy")
			}
			return open(ctx, cfg)
		},
	})

	require.NoError(t, waitDone(t, startManager(t, m)))
	assert.Equal(t, int32(3), opens.Load())
	assert.Equal(t, Stopped, m.Status().State)
}

func TestManagerBusyDeviceExhaustsBudget(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.ReinitAttempts = 2
	var opens atomic.Int32
	m := NewManager(cfg, ManagerDeps{
		Sources: func(context.Context, *config.Config) (frame.Source, error) {
			opens.Add(1)
			return nil, apperr.New(apperr.CodeDeviceLost, "camera busy")
		},
	})

	err := waitDone(t, startManager(t, m))
	assert.Equal(t, apperr.ExitCaptureFailed, apperr.ExitCode(err))
	assert.Equal(t, int32(2), opens.Load())
}

type closeFailSource struct{ *scriptSource }

func (closeFailSource) Close() error { return errors.New("handle already released") }

func TestManagerLogsCloseErrorOnSessionSetupFailure(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	cfg := testConfig(t)
	require.NotEmpty(t, cfg.Criteria)
	cfg.Criteria[0].Kind = "ultraviolet"
	m := NewManager(cfg, ManagerDeps{
		Sources: func(context.Context, *config.Config) (frame.Source, error) {
			return closeFailSource{newScriptSource()}, nil
		},
	})

	err := waitDone(t, startManager(t, m))
	assert.Equal(t, apperr.ExitConfig, apperr.ExitCode(err))
	assert.Contains(t, buf.String(), "closing frame source")
	assert.Contains(t, buf.String(), "handle already released")
}
