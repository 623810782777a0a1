// huetrack tracks colour-segmented targets in a frame stream and steers the
// pointer toward the active one.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/GriffinCanCode/huetrack/internal/capture"
	"github.com/GriffinCanCode/huetrack/internal/capture/video"
	"github.com/GriffinCanCode/huetrack/internal/config"
	apperr "github.com/GriffinCanCode/huetrack/internal/errors"
	"github.com/GriffinCanCode/huetrack/internal/history"
	"github.com/GriffinCanCode/huetrack/internal/input"
	"github.com/GriffinCanCode/huetrack/internal/journal"
	"github.com/GriffinCanCode/huetrack/internal/pipeline"
	"github.com/GriffinCanCode/huetrack/internal/resilience"
	"github.com/GriffinCanCode/huetrack/internal/telemetry"
	"github.com/GriffinCanCode/huetrack/internal/trace"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("huetrack", pflag.ContinueOnError)
	path := flags.StringP("config", "c", "", "configuration file (yaml, json or toml)")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return apperr.ExitOK
		}
		return apperr.ExitConfig
	}

	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "huetrack:", err)
		return apperr.ExitCode(err)
	}
	slog.SetDefault(newLogger(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, _ = trace.EnsureContext(ctx)
	log := trace.Logger(ctx)

	gate, dryRun := newOutput(ctx, cfg)
	hist := history.NewStore(cfg.Telemetry.HistorySize)
	health := telemetry.NewHealth()
	observers := pipeline.Observers{hist, health}

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal)
		if err != nil {
			log.Error("opening journal", "error", err)
			return apperr.ExitCode(err)
		}
		defer func() {
			if err := j.Close(); err != nil {
				log.Warn("closing journal", "error", err)
			}
		}()
		observers = append(observers, j)
	}

	sources := capture.Default()
	sources["video"] = video.Open
	mgr := pipeline.NewManager(cfg, pipeline.ManagerDeps{
		Loader:   func() (*config.Config, error) { return config.Load(*path) },
		Sources:  sources.Open,
		Sink:     gate,
		Observer: observers,
	})

	srvCtx, cancelSrv := context.WithCancel(ctx)
	defer cancelSrv()
	srvDone := make(chan error, 1)
	if cfg.Telemetry.HTTPAddr != "" || cfg.Telemetry.GRPCAddr != "" {
		srv := telemetry.New(mgr, hist, gate, cfg.Telemetry)
		go func() {
			err := telemetry.Serve(srvCtx, cfg.Telemetry.HTTPAddr, cfg.Telemetry.GRPCAddr, srv, health)
			if err != nil && srvCtx.Err() == nil {
				log.Error("telemetry failed, stopping pipeline", "error", err)
				mgr.Stop()
			}
			srvDone <- err
		}()
	} else {
		srvDone <- nil
	}

	log.Info("huetrack starting", "capture", cfg.Capture.Kind, "input", cfg.Input.Kind, "output_enabled", cfg.Input.Enabled)
	runErr := mgr.Run(ctx)

	cancelSrv()
	if srvErr := <-srvDone; srvErr != nil && runErr == nil {
		runErr = srvErr
	}
	if dryRun != nil {
		moves, dx, dy := dryRun.Totals()
		log.Info("dry-run input totals", "moves", moves, "dx", dx, "dy", dy)
	}
	if runErr != nil {
		log.Error("huetrack stopped", "error", runErr, "code", apperr.CodeOf(runErr))
	} else {
		log.Info("huetrack stopped")
	}
	return apperr.ExitCode(runErr)
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	_ = level.UnmarshalText([]byte(cfg.LogLevel))
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// newOutput builds the sink chain: backend, circuit breaker, operator gate.
// The log sink is returned as well when it is the backend.
func newOutput(ctx context.Context, cfg *config.Config) (*input.Gate, *input.LogSink) {
	var sink input.Sink = input.NopSink{}
	var dryRun *input.LogSink
	if cfg.Input.Kind == "log" {
		dryRun = input.NewLogSink(ctx)
		sink = dryRun
	}
	guarded := input.NewGuarded(sink, resilience.BreakerConfig{
		Name:         "input",
		Threshold:    cfg.Input.BreakerThreshold,
		ResetTimeout: cfg.Input.BreakerReset,
	})
	return input.NewGate(guarded, cfg.Input.Enabled, cfg.Input.ClickCooldown), dryRun
}
