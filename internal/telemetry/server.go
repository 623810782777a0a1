// Package telemetry serves the operator surface: HTTP status and control
// endpoints, a websocket event stream and a gRPC health service.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/GriffinCanCode/huetrack/internal/config"
	"github.com/GriffinCanCode/huetrack/internal/history"
	"github.com/GriffinCanCode/huetrack/internal/pipeline"
	"github.com/GriffinCanCode/huetrack/internal/trace"
)

// Controller is the part of pipeline.Manager the server drives.
type Controller interface {
	Status() pipeline.Status
	Stop()
	Reload()
}

// OutputSwitch toggles synthetic input, e.g. *input.Gate.
type OutputSwitch interface {
	SetEnabled(enabled bool)
	IsEnabled() bool
}

// StatusView is the /api/status body and the first websocket message.
type StatusView struct {
	pipeline.Status
	Output bool `json:"output_enabled"`
}

// Message types.
type Message struct {
	Type string `json:"type"`
}

type StatusMessage struct {
	Type   string     `json:"type"`
	Status StatusView `json:"status"`
}

type ControlMessage struct {
	Type    string `json:"type"` // stop, reload, output
	Enabled *bool  `json:"enabled,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

type AckMessage struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-RateLimitWindow)
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}
	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and websocket connections.
type Server struct {
	ctrl   Controller
	hist   *history.Store
	output OutputSwitch
	minGap time.Duration
}

// New creates a server. output may be nil when synthetic input is disabled.
func New(ctrl Controller, hist *history.Store, output OutputSwitch, cfg config.TelemetryConfig) *Server {
	s := &Server{ctrl: ctrl, hist: hist, output: output}
	if cfg.StreamRate > 0 {
		s.minGap = time.Duration(float64(time.Second) / cfg.StreamRate)
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("POST /api/reload", s.handleReload)
	mux.HandleFunc("POST /api/output/enable", s.handleOutput(true))
	mux.HandleFunc("POST /api/output/disable", s.handleOutput(false))

	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) status() StatusView {
	v := StatusView{Status: s.ctrl.Status()}
	if s.output != nil {
		v.Output = s.output.IsEnabled()
	}
	return v
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	seconds := DefaultHistorySeconds
	if q := r.URL.Query().Get("seconds"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorMessage{Type: "error", Message: "seconds must be a non-negative integer"})
			return
		}
		seconds = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reports":  s.hist.GetRecent(seconds),
		"sessions": s.hist.Sessions(),
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	trace.Logger(r.Context()).Info("stop requested over http")
	s.ctrl.Stop()
	writeJSON(w, http.StatusAccepted, AckMessage{Type: "ack", Action: "stop"})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	trace.Logger(r.Context()).Info("reload requested over http")
	s.ctrl.Reload()
	writeJSON(w, http.StatusAccepted, AckMessage{Type: "ack", Action: "reload"})
}

func (s *Server) handleOutput(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.output == nil {
			writeJSON(w, http.StatusConflict, ErrorMessage{Type: "error", Message: "synthetic input is not configured"})
			return
		}
		s.output.SetEnabled(enabled)
		trace.Logger(r.Context()).Info("output toggled", "enabled", enabled)
		writeJSON(w, http.StatusOK, map[string]bool{"output_enabled": enabled})
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := trace.Logger(ctx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	events, unsubscribe := s.hist.Subscribe(SubscriberBuffer)
	defer unsubscribe()

	if err := wsjson.Write(ctx, conn, StatusMessage{Type: "status", Status: s.status()}); err != nil {
		return
	}
	go s.stream(ctx, cancel, conn, events)

	rl := &rateLimiter{}
	for {
		var msg json.RawMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}
		if !rl.allow(time.Now()) {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		var ctl ControlMessage
		if err := json.Unmarshal(msg, &ctl); err != nil {
			continue
		}
		tc, _ := trace.ExtractFromJSON(msg)
		s.handleControl(trace.WithContext(ctx, tc), conn, ctl)
	}
}

func (s *Server) handleControl(ctx context.Context, conn *websocket.Conn, ctl ControlMessage) {
	ctx, span := trace.StartSpan(ctx, "websocket_control")
	defer span.EndLog(ctx)
	span.SetAttr("type", ctl.Type)

	log := trace.Logger(ctx)
	switch ctl.Type {
	case "stop":
		log.Info("stop requested over websocket")
		s.ctrl.Stop()
	case "reload":
		log.Info("reload requested over websocket")
		s.ctrl.Reload()
	case "output":
		if s.output == nil || ctl.Enabled == nil {
			_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Message: "output requires enabled and configured input"})
			return
		}
		s.output.SetEnabled(*ctl.Enabled)
	default:
		_ = wsjson.Write(ctx, conn, ErrorMessage{Type: "error", Message: "unknown message type " + strconv.Quote(ctl.Type)})
		return
	}
	_ = wsjson.Write(ctx, conn, AckMessage{Type: "ack", Action: ctl.Type})
}

// stream forwards history events, thinning reports to the configured rate.
// State and session events are never thinned.
func (s *Server) stream(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, events <-chan history.Event) {
	defer cancel()
	var lastReport time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == history.KindReport && s.minGap > 0 {
				now := time.Now()
				if now.Sub(lastReport) < s.minGap {
					continue
				}
				lastReport = now
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}
