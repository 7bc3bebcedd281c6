// Package collab implements the multi-user collaboration channel: a
// server-side hub that fans presence frames out to topic subscribers, and
// a client channel that maintains the local roster and typing set.
//
// The channel is independent of the mission stream — it carries presence,
// typing, cursor, and chat traffic only, and persists nothing.
package collab

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/models"
)

// heartbeatFrameType is the keepalive frame clients send periodically.
// It only refreshes last-seen tracking and is not fanned out.
const heartbeatFrameType = "heartbeat"

// subscriber is a single WebSocket client attached to a topic.
type subscriber struct {
	id     string
	userID string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// topicState holds the subscribers and roster for one collaboration topic.
// Roster entries are marked offline on leave, never deleted.
type topicState struct {
	subscribers map[string]*subscriber
	roster      map[string]*models.CollaborationUser
}

// Hub manages collaboration topics. One Hub instance exists per process.
type Hub struct {
	mu           sync.RWMutex
	topics       map[string]*topicState
	writeTimeout time.Duration
}

// NewHub creates a hub with the given per-send write timeout.
func NewHub(writeTimeout time.Duration) *Hub {
	return &Hub{
		topics:       make(map[string]*topicState),
		writeTimeout: writeTimeout,
	}
}

// HandleConnection manages the lifecycle of one subscriber connection.
// Called by the WebSocket HTTP handler after upgrade; blocks until the
// connection closes. Joining broadcasts user_joined to the topic; closing
// marks the user offline and broadcasts user_left.
func (h *Hub) HandleConnection(parentCtx context.Context, topicID, userID, userName string, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	sub := &subscriber{
		id:     uuid.New().String(),
		userID: userID,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}

	h.join(topicID, sub, userName)
	defer h.leave(topicID, sub)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var ev models.CollaborationEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			slog.Warn("Invalid collaboration frame", "topic", topicID, "user_id", userID, "error", err)
			continue
		}

		// The sender's identity comes from the connection, never the frame.
		ev.UserID = userID
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now()
		}

		h.handleFrame(topicID, sub, ev)
	}
}

// Roster returns a snapshot of the topic's users, online and offline,
// sorted by id for stable output.
func (h *Hub) Roster(topicID string) []models.CollaborationUser {
	h.mu.RLock()
	defer h.mu.RUnlock()

	t, ok := h.topics[topicID]
	if !ok {
		return nil
	}
	users := make([]models.CollaborationUser, 0, len(t.roster))
	for _, u := range t.roster {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

// Invite records an invitation for a user who is not yet on the topic.
// The roster gains an offline placeholder so later joins carry the
// assigned role; nothing is persisted beyond process memory.
func (h *Hub) Invite(topicID, email string, role models.CollabRole) models.Invite {
	invite := models.Invite{
		ID:        uuid.New().String(),
		Email:     email,
		Role:      role,
		CreatedAt: time.Now(),
	}

	h.mu.Lock()
	t := h.ensureTopicLocked(topicID)
	if _, exists := t.roster[email]; !exists {
		t.roster[email] = &models.CollaborationUser{
			ID:       email,
			Name:     email,
			Role:     role,
			IsOnline: false,
			LastSeen: invite.CreatedAt,
		}
	}
	h.mu.Unlock()
	return invite
}

// handleFrame applies a frame's roster side effects and fans it out.
func (h *Hub) handleFrame(topicID string, from *subscriber, ev models.CollaborationEvent) {
	if ev.Type == heartbeatFrameType {
		h.touch(topicID, from.userID)
		return
	}

	h.mu.Lock()
	if t, ok := h.topics[topicID]; ok {
		if u, ok := t.roster[from.userID]; ok {
			u.LastSeen = ev.Timestamp
			if ev.Type == models.CollabCursorMoved {
				u.Cursor = decodeCursor(ev.Data)
			}
		}
	}
	h.mu.Unlock()

	h.broadcast(topicID, ev, from.id)
}

// join registers the subscriber, brings the roster entry online, and
// announces the arrival to the topic.
func (h *Hub) join(topicID string, sub *subscriber, userName string) {
	now := time.Now()

	h.mu.Lock()
	t := h.ensureTopicLocked(topicID)
	t.subscribers[sub.id] = sub

	u, known := t.roster[sub.userID]
	if !known {
		role := models.CollabRoleEditor
		if len(t.roster) == 0 {
			role = models.CollabRoleOwner
		}
		u = &models.CollaborationUser{ID: sub.userID, Role: role}
		t.roster[sub.userID] = u
	}
	u.Name = userName
	u.IsOnline = true
	u.LastSeen = now
	h.mu.Unlock()

	h.broadcast(topicID, models.CollaborationEvent{
		Type:      models.CollabUserJoined,
		UserID:    sub.userID,
		Data:      map[string]any{"name": userName},
		Timestamp: now,
	}, "")
}

// leave unregisters the subscriber, marks the user offline when no other
// connection of theirs remains, and announces the departure.
func (h *Hub) leave(topicID string, sub *subscriber) {
	now := time.Now()
	stillOnline := false

	h.mu.Lock()
	if t, ok := h.topics[topicID]; ok {
		delete(t.subscribers, sub.id)
		for _, other := range t.subscribers {
			if other.userID == sub.userID {
				stillOnline = true
				break
			}
		}
		if !stillOnline {
			if u, ok := t.roster[sub.userID]; ok {
				u.IsOnline = false
				u.LastSeen = now
			}
		}
	}
	h.mu.Unlock()

	sub.cancel()
	_ = sub.conn.Close(websocket.StatusNormalClosure, "")

	if !stillOnline {
		h.broadcast(topicID, models.CollaborationEvent{
			Type:      models.CollabUserLeft,
			UserID:    sub.userID,
			Timestamp: now,
		}, sub.id)
	}
}

// broadcast sends a frame to every subscriber on the topic except the
// excluded connection id.
func (h *Hub) broadcast(topicID string, ev models.CollaborationEvent, excludeID string) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("Failed to marshal collaboration frame", "topic", topicID, "error", err)
		return
	}

	// Snapshot subscribers under the lock, then send without holding it —
	// a slow client must not stall joins and leaves.
	h.mu.RLock()
	t, ok := h.topics[topicID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	subs := make([]*subscriber, 0, len(t.subscribers))
	for _, s := range t.subscribers {
		if s.id != excludeID {
			subs = append(subs, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range subs {
		writeCtx, cancel := context.WithTimeout(s.ctx, h.writeTimeout)
		if err := s.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
			slog.Warn("Failed to send collaboration frame",
				"topic", topicID, "user_id", s.userID, "error", err)
		}
		cancel()
	}
}

func (h *Hub) touch(topicID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[topicID]; ok {
		if u, ok := t.roster[userID]; ok {
			u.LastSeen = time.Now()
		}
	}
}

func (h *Hub) ensureTopicLocked(topicID string) *topicState {
	t, ok := h.topics[topicID]
	if !ok {
		t = &topicState{
			subscribers: make(map[string]*subscriber),
			roster:      make(map[string]*models.CollaborationUser),
		}
		h.topics[topicID] = t
	}
	return t
}

func decodeCursor(data map[string]any) *models.Cursor {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	var cur models.Cursor
	if err := json.Unmarshal(raw, &cur); err != nil {
		return nil
	}
	return &cur
}
