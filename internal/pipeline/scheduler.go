// Package pipeline runs the per-frame detection chain. A Scheduler owns one
// session: an acquisition role pulling frames from the source and a
// processing role running segmentation, clustering, tracking and aim, joined
// by a single-slot latest-frame-wins handoff.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/GriffinCanCode/huetrack/internal/aim"
	"github.com/GriffinCanCode/huetrack/internal/cluster"
	"github.com/GriffinCanCode/huetrack/internal/config"
	apperr "github.com/GriffinCanCode/huetrack/internal/errors"
	"github.com/GriffinCanCode/huetrack/internal/frame"
	"github.com/GriffinCanCode/huetrack/internal/input"
	"github.com/GriffinCanCode/huetrack/internal/resilience"
	"github.com/GriffinCanCode/huetrack/internal/scene"
	"github.com/GriffinCanCode/huetrack/internal/segment"
	"github.com/GriffinCanCode/huetrack/internal/syncx"
	"github.com/GriffinCanCode/huetrack/internal/trace"
	"github.com/GriffinCanCode/huetrack/internal/track"
)

// Deps are the collaborators of a session.
type Deps struct {
	Source     frame.Source
	SourceName string
	Sink       input.Sink
	Observer   Observer     // optional
	Meter      metric.Meter // optional, defaults to the global provider
}

type pending struct {
	f  *frame.Frame
	at time.Time
}

// Scheduler runs one session. Configuration is fixed for its lifetime.
type Scheduler struct {
	id  string
	cfg *config.Config

	src      frame.Source
	srcName  string
	sink     input.Sink
	observer Observer
	inst     *instruments
	stats    counters

	segmenter *segment.Segmenter
	builder   *cluster.Builder
	tracker   *track.Tracker
	aimCfg    aim.Config
	reference *r2.Vec
	scene     *scene.Detector

	slot     *syncx.Slot[pending]
	reopen   *resilience.Backoff // acquisition role only
	state    *syncx.RWGuard[State]
	last     *syncx.RWGuard[Report]
	stopCh   chan struct{}
	stopOnce sync.Once

	// Owned by the processing role.
	trackState track.State
	stability  aim.Stability
	clickHeld  bool
	residual   r2.Vec
}

// NewScheduler builds a session from a validated configuration.
func NewScheduler(cfg *config.Config, deps Deps) (*Scheduler, error) {
	if deps.Source == nil {
		return nil, apperr.New(apperr.CodeInternal, "pipeline needs a frame source")
	}
	criteria, err := cfg.SegmentCriteria()
	if err != nil {
		return nil, err
	}
	seg, err := segment.New(criteria, segment.Options{ForceScalar: cfg.Segment.ForceScalar})
	if err != nil {
		return nil, err
	}
	inst, err := newInstruments(deps.Meter)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "pipeline metrics")
	}

	s := &Scheduler{
		id:        uuid.NewString(),
		cfg:       cfg,
		src:       deps.Source,
		srcName:   deps.SourceName,
		sink:      deps.Sink,
		observer:  deps.Observer,
		inst:      inst,
		segmenter: seg,
		builder:   cluster.NewBuilder(),
		tracker: track.New(track.Config{
			AssociationDistance: cfg.Tracking.AssociationDistance,
			SmoothingFactor:     cfg.Tracking.SmoothingFactor,
			MaxUnmatchedFrames:  cfg.Tracking.MaxUnmatchedFrames,
			SizeWeight:          cfg.Tracking.SizeWeight,
			HysteresisMargin:    cfg.Tracking.HysteresisMargin,
		}),
		aimCfg: aim.Config{
			GainX:                cfg.Aim.GainX,
			GainY:                cfg.Aim.GainY,
			MaxSpeed:             cfg.Aim.MaxSpeed,
			Deadzone:             cfg.Aim.Deadzone,
			ClickStabilityFrames: cfg.Aim.ClickStabilityFrames,
			VerticalBias:         cfg.Aim.VerticalBias,
		},
		slot:   syncx.NewSlot[pending](),
		reopen: resilience.NewBackoff(resilience.RetryConfig{
			MaxRetries:   cfg.Pipeline.ReinitAttempts - 1,
			BaseDelay:    cfg.Pipeline.ReinitBaseDelay,
			MaxDelay:     cfg.Pipeline.ReinitMaxDelay,
			JitterFactor: resilience.DefaultJitterFactor,
		}),
		state:  syncx.NewGuard(Idle),
		last:   syncx.NewGuard(Report{}),
		stopCh: make(chan struct{}),
	}
	if s.sink == nil {
		s.sink = input.NopSink{}
	}
	if s.observer == nil {
		s.observer = NopObserver{}
	}
	if ref := cfg.Aim.Reference; ref != nil {
		s.reference = &r2.Vec{X: ref.X, Y: ref.Y}
	}
	if d := cfg.Pipeline.SceneCutDistance; d > 0 {
		s.scene = scene.NewDetector(d)
	}
	return s, nil
}

// ID returns the session ID.
func (s *Scheduler) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Scheduler) State() State { return s.state.Get() }

// Stats returns a snapshot of the session counters.
func (s *Scheduler) Stats() Stats { return s.stats.snapshot() }

// LastReport returns the most recent frame report.
func (s *Scheduler) LastReport() (Report, bool) {
	rep := s.last.Get()
	return rep, rep.Session != ""
}

// Stop requests a graceful drain. Safe to call more than once and from any
// goroutine.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.transition(Draining)
	})
}

func (s *Scheduler) transition(to State) bool {
	from, changed := s.state.Transition(func(cur State) (State, bool) {
		if !CanTransition(cur, to) {
			return cur, false
		}
		return to, true
	})
	if changed {
		trace.Logger(context.Background()).Info("pipeline state changed", "session", s.id, "from", from, "to", to)
		s.observer.StateChanged(s.id, from, to)
	}
	return changed
}

// Run executes the session until it is stopped, the source ends, ctx is
// cancelled, or capture fails beyond the retry budget. Only the last case
// returns an error; the final state is then Faulted, otherwise Stopped.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.transition(Running) {
		return apperr.Newf(apperr.CodeInternal, "session %s cannot start from %s", s.id, s.State())
	}
	ctx = trace.WithSession(ctx, s.id)
	log := trace.Logger(ctx)

	info := SessionInfo{ID: s.id, Started: time.Now(), Source: s.srcName, Batch: s.segmenter.Batch()}
	s.observer.SessionStarted(info)
	log.Info("pipeline session started", "source", s.srcName, "batch", info.Batch)

	acqCtx, cancelAcq := context.WithCancel(ctx)
	defer cancelAcq()
	go func() {
		select {
		case <-s.stopCh:
			cancelAcq()
		case <-acqCtx.Done():
		}
	}()

	acqDone := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		defer close(acqDone)
		err := s.acquireLoop(acqCtx)
		if err == nil {
			s.transition(Draining)
		}
		return err
	})
	g.Go(func() error {
		s.processLoop(ctx, acqDone)
		return nil
	})
	runErr := g.Wait()
	s.releaseClick(ctx)

	summary := Summary{SessionInfo: info, Ended: time.Now()}
	if runErr != nil && s.transition(Faulted) {
		log.Error("pipeline faulted", "error", runErr)
		summary.Fault = runErr.Error()
	} else {
		// A stop that raced with the fault wins.
		runErr = nil
		s.transition(Draining)
		s.transition(Stopped)
	}
	summary.State = s.State()
	summary.Stats = s.Stats()
	s.observer.SessionEnded(summary)
	log.Info("pipeline session ended", "state", summary.State, "processed", summary.Stats.Processed,
		"superseded", summary.Stats.Superseded, "input_failures", summary.Stats.InputFailures)
	return runErr
}

// acquireLoop publishes frames into the slot until stopped. It never waits
// on processing.
func (s *Scheduler) acquireLoop(ctx context.Context) error {
	log := trace.Logger(ctx)
	var last time.Time
	for {
		if ctx.Err() != nil {
			return nil
		}
		f, err := s.src.TryAcquire(ctx, s.cfg.Pipeline.AcquireTimeout)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case apperr.IsCode(err, apperr.CodeTimeout):
			s.stats.timeouts.Add(1)
			continue
		case apperr.IsCode(err, apperr.CodeEndOfStream):
			log.Info("frame source exhausted")
			return nil
		default:
			if err := s.reinit(ctx, err); err != nil {
				return err
			}
			continue
		}

		if f.Timestamp.Before(last) {
			log.Warn("dropping out-of-order frame", "timestamp", f.Timestamp, "last", last)
			f.Release()
			continue
		}
		last = f.Timestamp
		s.reopen.Reset()
		if f.Seq == 0 {
			f.Seq = s.stats.acquired.Load() + 1
		}
		s.stats.acquired.Add(1)

		if old, replaced := s.slot.Put(pending{f: f, at: time.Now()}); replaced {
			old.f.Release()
			s.stats.superseded.Add(1)
			s.inst.dropped.Add(ctx, 1)
		}
	}
}

// reinit reopens a lost device. Attempts are counted from the last frame
// the source delivered, so a device that reopens but never produces a frame
// still spends the budget, and every reopen after the first is preceded by
// a backoff sleep. It returns nil once the source reopened or a stop was
// requested, and a DeviceLost error when the budget is spent.
func (s *Scheduler) reinit(ctx context.Context, cause error) error {
	log := trace.Logger(ctx)
	log.Warn("capture device lost", "error", cause, "reinits_since_frame", s.reopen.Attempts())

	for {
		if err := s.reopen.Wait(ctx, cause); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return apperr.Wrapf(cause, apperr.CodeDeviceLost,
				"capture lost after %d reinit attempts", s.reopen.Attempts())
		}
		s.stats.reinits.Add(1)
		s.inst.reinits.Add(ctx, 1)
		err := s.src.Reinit(ctx)
		if err == nil {
			log.Info("capture device reinitialised", "attempt", s.reopen.Attempts())
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		log.Warn("capture reinit failed", "attempt", s.reopen.Attempts(), "of", s.cfg.Pipeline.ReinitAttempts, "error", err)
		cause = err
	}
}

// processLoop consumes the slot until acquisition has finished, then
// processes whatever is still pending so the newest frame is never lost.
func (s *Scheduler) processLoop(ctx context.Context, acqDone <-chan struct{}) {
	for {
		select {
		case <-s.slot.Ready():
			if p, ok := s.slot.Take(); ok {
				s.process(ctx, p)
			}
		case <-acqDone:
			if p, ok := s.slot.Take(); ok {
				s.process(ctx, p)
			}
			return
		}
	}
}

func (s *Scheduler) process(ctx context.Context, p pending) {
	f := p.f
	defer f.Release()

	ctx, span := trace.StartSpan(ctx, "process_frame")
	defer span.EndLog(ctx)
	span.SetAttr("seq", f.Seq)
	log := trace.Logger(ctx)

	view := f.CropCenter(s.cfg.Capture.CropWidth, s.cfg.Capture.CropHeight)
	rep := Report{Session: s.id, Seq: f.Seq, Timestamp: f.Timestamp}

	mask, err := s.segmenter.Segment(view)
	if err != nil {
		code := apperr.CodeOf(err)
		if code == apperr.CodeUnsupportedFormat {
			s.stats.unsupported.Add(1)
		}
		s.inst.recordError(ctx, code.String())
		log.Warn("frame skipped", "seq", f.Seq, "error", err)
		span.SetAttr("error", err.Error())
		rep.Err = err.Error()
		s.publish(ctx, rep, p.at)
		return
	}
	rep.MaskPixels = mask.Count()

	if s.scene != nil {
		cut, dist, err := s.scene.Cut(view)
		switch {
		case err != nil:
			log.Debug("scene hash failed", "error", err)
		case cut:
			log.Info("scene cut, resetting targets", "distance", dist)
			s.trackState = track.State{NextID: s.trackState.NextID}
			s.stability = aim.Stability{}
			s.stats.sceneCuts.Add(1)
			rep.SceneCut = true
		}
	}

	clusters := s.builder.Build(mask, s.cfg.Cluster.MergeDistance, s.cfg.Cluster.MinPixels)
	ref := s.referencePoint(view)
	active, next := s.tracker.Update(clusters, s.trackState, ref)
	s.trackState = next

	cmd, st := aim.Compute(active, ref, s.aimCfg, s.stability)
	s.stability = st
	s.deliver(ctx, cmd)

	rep.Clusters = len(clusters)
	rep.Targets = len(next.Targets)
	rep.Active = viewOf(active)
	rep.Command = cmd
	span.SetAttr("clusters", rep.Clusters)
	s.publish(ctx, rep, p.at)
}

func (s *Scheduler) publish(ctx context.Context, rep Report, acquired time.Time) {
	rep.Latency = time.Since(acquired)
	if rep.Err == "" {
		s.stats.processed.Add(1)
		s.inst.frames.Add(ctx, 1)
	}
	s.inst.latency.Record(ctx, float64(rep.Latency)/float64(time.Millisecond))

	s.last.Set(rep)
	s.observer.FrameProcessed(rep)
}

func (s *Scheduler) referencePoint(f *frame.Frame) r2.Vec {
	if s.reference != nil {
		return *s.reference
	}
	x, y := f.Center()
	return r2.Vec{X: x, Y: y}
}

// deliver sends cmd to the sink. Sub-pixel remainders carry over to the next
// moving command. Failures are logged and counted; the next frame retries.
func (s *Scheduler) deliver(ctx context.Context, cmd aim.Command) {
	if cmd.Moving() {
		total := r2.Add(s.residual, r2.Vec{X: cmd.DX, Y: cmd.DY})
		dx, dy := math.Round(total.X), math.Round(total.Y)
		s.residual = r2.Vec{X: total.X - dx, Y: total.Y - dy}
		if dx != 0 || dy != 0 {
			if err := s.sink.MoveRelative(int(dx), int(dy)); err != nil {
				s.inputFailure(ctx, "move", err)
			}
		}
	} else {
		s.residual = r2.Vec{}
	}

	if cmd.Click != s.clickHeld {
		if err := s.sink.SetClick(cmd.Click); err != nil {
			s.inputFailure(ctx, "click", err)
			return
		}
		s.clickHeld = cmd.Click
	}
}

func (s *Scheduler) inputFailure(ctx context.Context, op string, err error) {
	s.stats.inputFailures.Add(1)
	s.inst.recordError(ctx, apperr.CodeInputFailure.String())
	trace.Logger(ctx).Warn("input sink failed", "op", op, "error", err)
}

func (s *Scheduler) releaseClick(ctx context.Context) {
	if !s.clickHeld {
		return
	}
	if err := s.sink.SetClick(false); err != nil {
		s.inputFailure(ctx, "release", err)
		return
	}
	s.clickHeld = false
}

func (s *Scheduler) String() string {
	return fmt.Sprintf("session %s (%s)", s.id, s.State())
}
