// Package stream implements the client side of the mission event stream:
// a server-sent-events transport with typed dispatch and reconnect-with-
// backoff semantics.
//
// Ordering is guaranteed only within one connection generation. After a
// reconnect the server may have dropped an unknown number of events, and
// event ids restart — consumers must apply events idempotently and never
// compare ids across generations.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/models"
)

const (
	// DefaultMaxAttempts is the reconnect attempt budget. Exhausting it
	// surfaces a terminal TransportError and stops retrying.
	DefaultMaxAttempts = 5

	// DefaultInitialBackoff is the base reconnect delay. The delay doubles
	// per attempt up to DefaultMaxBackoff.
	DefaultInitialBackoff = time.Second

	// DefaultMaxBackoff caps the reconnect delay.
	DefaultMaxBackoff = 30 * time.Second
)

// errTerminal wraps an error that must stop the reconnect loop.
type errTerminal struct{ err error }

func (e errTerminal) Error() string { return e.err.Error() }
func (e errTerminal) Unwrap() error { return e.err }

// Config tunes a stream connection.
type Config struct {
	Endpoint string
	Headers  http.Header

	// Client is the HTTP client used for the stream request. Defaults to
	// a client with no overall timeout (the stream is long-lived; cancel
	// via Disconnect or the parent context).
	Client *http.Client

	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Handlers receives connection lifecycle callbacks. All callbacks are
// invoked from the connection's single dispatch goroutine, in emission
// order. No callback is invoked after Disconnect returns.
type Handlers struct {
	// OnOpen is called after each successful stream open with the new
	// connection generation.
	OnOpen func(generation int64)

	// OnEvent is called for each well-formed event, including recoverable
	// in-band error events and heartbeats.
	OnEvent func(Event)

	// OnError is called exactly once, with a terminal error: either a
	// *TransportError (retry budget exhausted) or a non-recoverable
	// *UpstreamError. The connection does not reconnect afterwards.
	OnError func(error)
}

// Connection is one push-style connection to a stream endpoint.
type Connection struct {
	cfg      Config
	handlers Handlers
	client   *http.Client

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	generation atomic.Int64
	closed     atomic.Bool
}

// Connect opens a connection to the endpoint and starts dispatching
// events. The returned Connection owns all its timers and the underlying
// socket; both are released by Disconnect or by cancelling ctx.
func Connect(ctx context.Context, cfg Config, handlers Handlers) *Connection {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	connCtx, cancel := context.WithCancel(ctx)
	c := &Connection{
		cfg:      cfg,
		handlers: handlers,
		client:   client,
		ctx:      connCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go c.run()
	return c
}

// Disconnect tears the connection down: the in-flight request is
// cancelled, the reconnect timer (if armed) is released, and all further
// callbacks are suppressed. Blocks until the dispatch goroutine exits.
func (c *Connection) Disconnect() {
	c.closed.Store(true)
	c.cancel()
	<-c.done
}

// Generation returns the current connection generation. Zero until the
// first successful open.
func (c *Connection) Generation() int64 {
	return c.generation.Load()
}

// run is the connection's sole goroutine: it opens the stream, dispatches
// events, and schedules reconnects until a terminal condition.
func (c *Connection) run() {
	defer close(c.done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialBackoff
	bo.MaxInterval = c.cfg.MaxBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	attempt := 0
	for {
		if c.ctx.Err() != nil {
			return
		}

		opened, err := c.openAndRead()
		if c.ctx.Err() != nil {
			return
		}

		var term errTerminal
		if errors.As(err, &term) {
			c.dispatchError(term.err)
			return
		}

		if opened {
			// A successful open resets the retry budget — backoff applies
			// to consecutive failures, not to the connection's lifetime.
			attempt = 0
			bo.Reset()
		}

		attempt++
		if attempt > c.cfg.MaxAttempts {
			c.dispatchError(&TransportError{Attempts: c.cfg.MaxAttempts, Err: err})
			return
		}

		delay := bo.NextBackOff()
		slog.Warn("Stream connection lost, reconnecting",
			"endpoint", c.cfg.Endpoint, "attempt", attempt, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// openAndRead opens the stream and dispatches events until the stream
// ends. Returns whether the open succeeded, and the error that ended the
// connection (wrapped in errTerminal when retrying must stop).
func (c *Connection) openAndRead() (opened bool, err error) {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, c.cfg.Endpoint, nil)
	if err != nil {
		return false, errTerminal{fmt.Errorf("build stream request: %w", err)}
	}
	for k, vs := range c.cfg.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected stream status %d", resp.StatusCode)
	}

	gen := c.generation.Add(1)
	if c.handlers.OnOpen != nil {
		c.handlers.OnOpen(gen)
	}

	sc := newScanner(resp.Body)
	for sc.next() {
		f := sc.event()

		eventType, known := canonicalEventType(f.Type)
		if !known {
			slog.Warn("Dropping event of unknown type", "event_type", f.Type)
			continue
		}

		data := json.RawMessage(f.Data)
		if !json.Valid(data) {
			// Protocol errors never escalate — the stream stays alive.
			slog.Warn("Dropping malformed event payload",
				"event_type", eventType, "id", f.ID)
			continue
		}

		if eventType == EventError {
			var info models.ErrorInfo
			if jsonErr := json.Unmarshal(data, &info); jsonErr != nil {
				slog.Warn("Dropping undecodable error event", "error", jsonErr)
				continue
			}
			c.dispatchEvent(Event{Type: eventType, Data: data, ID: f.ID, Generation: gen})
			if !info.Recoverable {
				return true, errTerminal{&UpstreamError{
					Code:        info.Code,
					Message:     info.Message,
					Recoverable: false,
				}}
			}
			continue
		}

		c.dispatchEvent(Event{Type: eventType, Data: data, ID: f.ID, Generation: gen})
	}

	if scanErr := sc.scanErr(); scanErr != nil {
		return true, scanErr
	}
	return true, errors.New("stream closed by server")
}

func (c *Connection) dispatchEvent(ev Event) {
	if c.closed.Load() || c.handlers.OnEvent == nil {
		return
	}
	c.handlers.OnEvent(ev)
}

func (c *Connection) dispatchError(err error) {
	if c.closed.Load() || c.handlers.OnError == nil {
		return
	}
	c.handlers.OnError(err)
}
