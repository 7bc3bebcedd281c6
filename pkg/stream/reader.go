package stream

import (
	"encoding/json"
	"io"
	"log/slog"
)

// Reader decodes typed events from a raw SSE byte stream. It applies the
// same normalization as Connection — legacy name aliases, closed-set
// filtering, malformed-payload drops — but owns no socket and never
// reconnects. Used where the bytes are already flowing, e.g. a proxy
// observing a stream it forwards.
type Reader struct {
	sc *scanner
}

// NewReader wraps r for typed event decoding.
func NewReader(r io.Reader) *Reader {
	return &Reader{sc: newScanner(r)}
}

// Next returns the next well-formed event. Unknown types and malformed
// payloads are skipped. Returns io.EOF when the stream ends cleanly.
func (r *Reader) Next() (Event, error) {
	for r.sc.next() {
		f := r.sc.event()

		eventType, known := canonicalEventType(f.Type)
		if !known {
			slog.Warn("Dropping event of unknown type", "event_type", f.Type)
			continue
		}
		data := json.RawMessage(f.Data)
		if !json.Valid(data) {
			slog.Warn("Dropping malformed event payload", "event_type", eventType, "id", f.ID)
			continue
		}
		return Event{Type: eventType, Data: data, ID: f.ID}, nil
	}
	if err := r.sc.scanErr(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}
