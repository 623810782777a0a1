package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"

	"golang.org/x/sync/errgroup"

	apperr "github.com/GriffinCanCode/huetrack/internal/errors"
	"github.com/GriffinCanCode/huetrack/internal/trace"
)

// Serve listens on the configured addresses until ctx is cancelled. An empty
// address disables that listener.
func Serve(ctx context.Context, httpAddr, grpcAddr string, s *Server, h *Health) error {
	var httpLn, grpcLn net.Listener
	if httpAddr != "" {
		ln, err := net.Listen("tcp", httpAddr)
		if err != nil {
			return apperr.Wrapf(err, apperr.CodeConfig, "telemetry.http_addr %q", httpAddr)
		}
		httpLn = ln
	}
	if grpcAddr != "" {
		ln, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			if httpLn != nil {
				_ = httpLn.Close()
			}
			return apperr.Wrapf(err, apperr.CodeConfig, "telemetry.grpc_addr %q", grpcAddr)
		}
		grpcLn = ln
	}

	g, ctx := errgroup.WithContext(ctx)
	log := trace.Logger(ctx)

	if httpLn != nil {
		srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: ReadHeaderTimeout}
		log.Info("telemetry http listening", "addr", httpLn.Addr().String())
		g.Go(func() error {
			if err := srv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	}

	if grpcLn != nil {
		srv := NewGRPCServer(h)
		log.Info("telemetry grpc listening", "addr", grpcLn.Addr().String())
		g.Go(func() error { return srv.Serve(grpcLn) })
		g.Go(func() error {
			<-ctx.Done()
			h.Shutdown()
			srv.GracefulStop()
			return nil
		})
	}

	return g.Wait()
}
