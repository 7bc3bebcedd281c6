package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// noopFlusher is used when the response writer cannot flush (only in
// tests with plain recorders); writes still land, just unflushed.
type noopFlusher struct{}

func (noopFlusher) Flush() {}

// startSSE writes the SSE response headers and returns a flusher for the
// response. Must be called before any body bytes.
func startSSE(w http.ResponseWriter) http.Flusher {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if flusher, ok := w.(http.Flusher); ok {
		return flusher
	}
	return noopFlusher{}
}

// writeSSEEvent writes one `event:`/`data:` frame. The payload is
// marshalled to a single JSON line per the stream wire format.
func writeSSEEvent(w io.Writer, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
}
