package collab

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/models"
)

const (
	// DefaultHeartbeatInterval is how often the channel sends a keepalive
	// frame to the hub.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultTypingTTL is how long a user stays in the typing set without
	// a typing_stop. Expiry is a local timer, independent of the server.
	DefaultTypingTTL = 3 * time.Second

	// DefaultReconnectDelay is the pause before redialling after an
	// unexpected close.
	DefaultReconnectDelay = 3 * time.Second
)

// ChannelConfig tunes a presence channel.
type ChannelConfig struct {
	// URL is the WebSocket endpoint for the topic, e.g.
	// "wss://host/api/v1/collab/{topic}/ws".
	URL      string
	TopicID  string
	UserID   string
	UserName string

	// Header carries auth/tenant headers on the dial request.
	Header http.Header

	HeartbeatInterval time.Duration
	TypingTTL         time.Duration
	ReconnectDelay    time.Duration
}

// Channel is the client side of a collaboration topic. It maintains a
// local roster and typing set from the frames it receives; consumers only
// ever see copies. Side effects are confined to this local state.
type Channel struct {
	cfg ChannelConfig

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool

	connMu sync.Mutex
	conn   *websocket.Conn

	mu     sync.RWMutex
	users  map[string]models.CollaborationUser
	typing map[string]*time.Timer
}

// Connect opens a presence channel for the topic and starts its receive
// loop. The channel redials ReconnectDelay after any unexpected close
// until Close is called.
func Connect(ctx context.Context, cfg ChannelConfig) *Channel {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = DefaultTypingTTL
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}

	chCtx, cancel := context.WithCancel(ctx)
	ch := &Channel{
		cfg:    cfg,
		ctx:    chCtx,
		cancel: cancel,
		done:   make(chan struct{}),
		users:  make(map[string]models.CollaborationUser),
		typing: make(map[string]*time.Timer),
	}
	go ch.run()
	return ch
}

// Close tears the channel down: the socket, the heartbeat ticker, the
// reconnect timer, and all typing-expiry timers are released.
func (ch *Channel) Close() {
	ch.closed.Store(true)
	ch.cancel()
	<-ch.done

	ch.mu.Lock()
	for user, timer := range ch.typing {
		timer.Stop()
		delete(ch.typing, user)
	}
	ch.mu.Unlock()
}

// Broadcast sends a frame to the topic. Fire-and-forget: delivery is not
// acknowledged, and cursor traffic is intentionally not throttled here —
// throttling, if needed, is the caller's responsibility.
func (ch *Channel) Broadcast(eventType models.CollabEventType, data map[string]any) error {
	frame := models.CollaborationEvent{
		Type:      eventType,
		UserID:    ch.cfg.UserID,
		Data:      data,
		Timestamp: time.Now(),
	}
	return ch.write(frame)
}

// InviteUser invites a user by email. The invite frame is broadcast to
// the topic; nothing is persisted by the channel.
func (ch *Channel) InviteUser(email string, role models.CollabRole) (models.Invite, error) {
	invite := models.Invite{
		ID:        uuid.New().String(),
		Email:     email,
		Role:      role,
		CreatedAt: time.Now(),
	}
	err := ch.Broadcast(models.CollabMessageAdded, map[string]any{
		"invite_id": invite.ID,
		"email":     email,
		"role":      string(role),
	})
	return invite, err
}

// Users returns a snapshot of the roster, sorted by id.
func (ch *Channel) Users() []models.CollaborationUser {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	users := make([]models.CollaborationUser, 0, len(ch.users))
	for _, u := range ch.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

// TypingUsers returns the ids of users currently typing, sorted.
func (ch *Channel) TypingUsers() []string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	ids := make([]string, 0, len(ch.typing))
	for id := range ch.typing {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// run dials, reads, and redials until the channel is closed.
func (ch *Channel) run() {
	defer close(ch.done)

	for {
		if ch.ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.Dial(ch.ctx, ch.cfg.URL, &websocket.DialOptions{
			HTTPHeader: ch.cfg.Header,
		})
		if err != nil {
			if ch.ctx.Err() != nil {
				return
			}
			slog.Warn("Collaboration dial failed, retrying",
				"topic", ch.cfg.TopicID, "delay", ch.cfg.ReconnectDelay, "error", err)
			if !ch.sleep(ch.cfg.ReconnectDelay) {
				return
			}
			continue
		}

		ch.connMu.Lock()
		ch.conn = conn
		ch.connMu.Unlock()

		ch.readLoop(conn)

		ch.connMu.Lock()
		ch.conn = nil
		ch.connMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")

		if ch.ctx.Err() != nil {
			return
		}
		slog.Warn("Collaboration connection lost, reconnecting",
			"topic", ch.cfg.TopicID, "delay", ch.cfg.ReconnectDelay)
		if !ch.sleep(ch.cfg.ReconnectDelay) {
			return
		}
	}
}

// readLoop receives frames on one connection until it closes. A
// per-connection heartbeat goroutine sends keepalives; it is stopped
// before readLoop returns.
func (ch *Channel) readLoop(conn *websocket.Conn) {
	hbCtx, hbCancel := context.WithCancel(ch.ctx)
	defer hbCancel()
	go ch.heartbeatLoop(hbCtx, conn)

	for {
		_, data, err := conn.Read(ch.ctx)
		if err != nil {
			return
		}

		var ev models.CollaborationEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("Dropping malformed collaboration frame",
				"topic", ch.cfg.TopicID, "error", err)
			continue
		}
		ch.apply(ev)
	}
}

// heartbeatLoop sends a keepalive frame every HeartbeatInterval.
func (ch *Channel) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(ch.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := models.CollaborationEvent{
				Type:      heartbeatFrameType,
				UserID:    ch.cfg.UserID,
				Timestamp: time.Now(),
			}
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}

// apply folds one received frame into the local roster and typing set.
func (ch *Channel) apply(ev models.CollaborationEvent) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	switch ev.Type {
	case models.CollabUserJoined:
		u := ch.users[ev.UserID]
		u.ID = ev.UserID
		if name, ok := ev.Data["name"].(string); ok {
			u.Name = name
		}
		if u.Role == "" {
			u.Role = models.CollabRoleEditor
		}
		u.IsOnline = true
		u.LastSeen = ev.Timestamp
		ch.users[ev.UserID] = u

	case models.CollabUserLeft:
		// Mark offline, never delete.
		if u, ok := ch.users[ev.UserID]; ok {
			u.IsOnline = false
			u.LastSeen = ev.Timestamp
			ch.users[ev.UserID] = u
		}
		ch.stopTypingLocked(ev.UserID)

	case models.CollabTypingStart:
		// Re-arm the expiry timer: the user leaves the typing set after
		// TypingTTL with no typing_stop, independent of server events.
		if timer, ok := ch.typing[ev.UserID]; ok {
			timer.Stop()
		}
		userID := ev.UserID
		ch.typing[userID] = time.AfterFunc(ch.cfg.TypingTTL, func() {
			ch.mu.Lock()
			defer ch.mu.Unlock()
			ch.stopTypingLocked(userID)
		})
		ch.touchLocked(ev)

	case models.CollabTypingStop:
		ch.stopTypingLocked(ev.UserID)
		ch.touchLocked(ev)

	case models.CollabCursorMoved:
		if u, ok := ch.users[ev.UserID]; ok {
			u.Cursor = decodeCursor(ev.Data)
			u.LastSeen = ev.Timestamp
			ch.users[ev.UserID] = u
		}

	case models.CollabMessageAdded:
		ch.touchLocked(ev)
	}
}

// stopTypingLocked removes a user from the typing set and releases their
// expiry timer. Caller holds ch.mu.
func (ch *Channel) stopTypingLocked(userID string) {
	if timer, ok := ch.typing[userID]; ok {
		timer.Stop()
		delete(ch.typing, userID)
	}
}

func (ch *Channel) touchLocked(ev models.CollaborationEvent) {
	if u, ok := ch.users[ev.UserID]; ok {
		u.LastSeen = ev.Timestamp
		ch.users[ev.UserID] = u
	}
}

// write sends a frame on the current connection, if any.
func (ch *Channel) write(frame models.CollaborationEvent) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	ch.connMu.Lock()
	conn := ch.conn
	ch.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Write(ch.ctx, websocket.MessageText, data)
}

// sleep waits d or until the channel context is cancelled. Returns false
// when the channel is shutting down.
func (ch *Channel) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ch.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
