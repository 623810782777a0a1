package trace

import (
	"encoding/json"
	"net/http"
)

// Middleware attaches a trace context to each request, continuing the
// caller's trace when headers carry one, and echoes the trace ID back.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := FromMap(map[string]string{
			TraceIDKey: r.Header.Get(TraceIDKey),
			SpanIDKey:  r.Header.Get(SpanIDKey),
		})
		w.Header().Set(TraceIDKey, tc.TraceID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}

// ExtractFromJSON continues the trace named by a websocket command's
// trace_id. It reports false, with a fresh trace, when there is none.
func ExtractFromJSON(data []byte) (Context, bool) {
	var msg struct {
		TraceID string `json:"trace_id"`
	}
	if json.Unmarshal(data, &msg) != nil || msg.TraceID == "" {
		return New(), false
	}
	return FromMap(map[string]string{TraceIDKey: msg.TraceID}), true
}
