package telemetry

import "time"

const (
	// Inbound websocket control messages allowed per connection per window.
	RateLimitMessages = 10
	RateLimitWindow   = time.Second

	// Events buffered per websocket subscriber before drops.
	SubscriberBuffer = 64

	// Default window for /api/history.
	DefaultHistorySeconds = 10

	ShutdownTimeout   = 2 * time.Second
	ReadHeaderTimeout = 5 * time.Second

	// ServiceName is the gRPC health service reflecting pipeline state.
	ServiceName = "huetrack.Pipeline"
)
