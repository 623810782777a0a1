package pipeline

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/GriffinCanCode/huetrack/internal/config"
	apperr "github.com/GriffinCanCode/huetrack/internal/errors"
	"github.com/GriffinCanCode/huetrack/internal/frame"
	"github.com/GriffinCanCode/huetrack/internal/input"
	"github.com/GriffinCanCode/huetrack/internal/resilience"
	"github.com/GriffinCanCode/huetrack/internal/trace"
)

// SourceFactory opens the frame source a configuration describes.
type SourceFactory func(ctx context.Context, cfg *config.Config) (frame.Source, error)

// ManagerDeps are the long-lived collaborators shared by every session.
type ManagerDeps struct {
	// Loader re-reads configuration on Reload.
	Loader   func() (*config.Config, error)
	Sources  SourceFactory
	Sink     input.Sink
	Observer Observer
	Meter    metric.Meter
}

// Status is a point-in-time view of the manager.
type Status struct {
	Session string  `json:"session"`
	State   State   `json:"state"`
	Source  string  `json:"source"`
	Stats   Stats   `json:"stats"`
	Last    *Report `json:"last,omitempty"`
	Reloads int     `json:"reloads"`
}

// Manager runs sessions back to back. A reload drains the current session,
// re-reads configuration and starts the next one; configuration never
// changes under a running session.
type Manager struct {
	deps ManagerDeps

	mu       sync.RWMutex
	cfg      *config.Config
	current  *Scheduler
	reload   bool
	stopping bool
	reloads  int
}

// NewManager creates a manager that starts with cfg.
func NewManager(cfg *config.Config, deps ManagerDeps) *Manager {
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	return &Manager{deps: deps, cfg: cfg}
}

// Run blocks until the pipeline stops. It returns nil on a clean stop or
// end of stream and the session error when capture faulted.
func (m *Manager) Run(ctx context.Context) error {
	log := trace.Logger(ctx)
	for {
		m.mu.RLock()
		cfg := m.cfg
		m.mu.RUnlock()

		src, err := m.open(ctx, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		sched, err := NewScheduler(cfg, Deps{
			Source:     src,
			SourceName: cfg.Capture.Kind,
			Sink:       m.deps.Sink,
			Observer:   m.deps.Observer,
			Meter:      m.deps.Meter,
		})
		if err != nil {
			if cerr := src.Close(); cerr != nil {
				log.Warn("closing frame source", "error", cerr)
			}
			return err
		}

		m.mu.Lock()
		m.current = sched
		m.reload = false
		stopping := m.stopping
		m.mu.Unlock()
		if stopping {
			sched.Stop()
		}

		runErr := sched.Run(ctx)
		if err := src.Close(); err != nil {
			log.Warn("closing frame source", "error", err)
		}
		if runErr != nil {
			return runErr
		}

		m.mu.Lock()
		again := m.reload && !m.stopping && ctx.Err() == nil
		m.mu.Unlock()
		if !again {
			return nil
		}
		m.applyReload(ctx)
	}
}

// open opens the session's source. A device that is busy or missing is
// retried within the reinit budget; configuration errors fail at once.
func (m *Manager) open(ctx context.Context, cfg *config.Config) (frame.Source, error) {
	log := trace.Logger(ctx)
	var src frame.Source
	err := resilience.Retry(ctx, resilience.RetryConfig{
		MaxRetries:   cfg.Pipeline.ReinitAttempts - 1,
		BaseDelay:    cfg.Pipeline.ReinitBaseDelay,
		MaxDelay:     cfg.Pipeline.ReinitMaxDelay,
		JitterFactor: resilience.DefaultJitterFactor,
		OnRetry: func(retry int, delay time.Duration, err error) {
			log.Warn("opening frame source failed", "retry", retry, "next_in", delay, "error", err)
		},
	}, func(ctx context.Context) error {
		var err error
		src, err = m.deps.Sources(ctx, cfg)
		return err
	})
	return src, err
}

func (m *Manager) applyReload(ctx context.Context) {
	log := trace.Logger(ctx)
	if m.deps.Loader == nil {
		log.Info("reload requested without a loader, restarting with current config")
		return
	}
	next, err := m.deps.Loader()
	if err != nil {
		log.Error("reload failed, keeping previous config", "error", err, "code", apperr.CodeOf(err))
		return
	}
	m.mu.Lock()
	m.cfg = next
	m.reloads++
	m.mu.Unlock()
	log.Info("configuration reloaded")
}

// Reload drains the current session and starts a new one with freshly
// loaded configuration.
func (m *Manager) Reload() {
	m.mu.Lock()
	m.reload = true
	cur := m.current
	m.mu.Unlock()
	if cur != nil {
		cur.Stop()
	}
}

// Stop drains the current session and ends Run.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopping = true
	cur := m.current
	m.mu.Unlock()
	if cur != nil {
		cur.Stop()
	}
}

// Config returns the configuration of the current session.
func (m *Manager) Config() *config.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Status reports the current session.
func (m *Manager) Status() Status {
	m.mu.RLock()
	cur, reloads := m.current, m.reloads
	m.mu.RUnlock()

	st := Status{State: Idle, Reloads: reloads}
	if cur == nil {
		return st
	}
	st.Session = cur.ID()
	st.State = cur.State()
	st.Source = cur.srcName
	st.Stats = cur.Stats()
	if rep, ok := cur.LastReport(); ok {
		st.Last = &rep
	}
	return st
}
