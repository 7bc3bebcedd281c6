package collab

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/models"
)

func newTestChannel(typingTTL time.Duration) *Channel {
	return &Channel{
		cfg:    ChannelConfig{TopicID: "topic-1", UserID: "me", TypingTTL: typingTTL},
		users:  make(map[string]models.CollaborationUser),
		typing: make(map[string]*time.Timer),
	}
}

func TestChannel_ApplyJoinAndLeave(t *testing.T) {
	ch := newTestChannel(time.Second)

	ch.apply(models.CollaborationEvent{
		Type:      models.CollabUserJoined,
		UserID:    "alice",
		Data:      map[string]any{"name": "Alice"},
		Timestamp: time.Now(),
	})

	users := ch.Users()
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].ID)
	assert.Equal(t, "Alice", users[0].Name)
	assert.True(t, users[0].IsOnline)

	ch.apply(models.CollaborationEvent{
		Type:      models.CollabUserLeft,
		UserID:    "alice",
		Timestamp: time.Now(),
	})

	// Offline, not deleted.
	users = ch.Users()
	require.Len(t, users, 1)
	assert.False(t, users[0].IsOnline)
}

func TestChannel_TypingExpiresWithoutStop(t *testing.T) {
	ch := newTestChannel(30 * time.Millisecond)

	ch.apply(models.CollaborationEvent{
		Type:      models.CollabTypingStart,
		UserID:    "alice",
		Timestamp: time.Now(),
	})
	assert.Equal(t, []string{"alice"}, ch.TypingUsers())

	// No typing_stop ever arrives; the local timer clears the entry.
	require.Eventually(t, func() bool {
		return len(ch.TypingUsers()) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestChannel_TypingStartRearmsExpiry(t *testing.T) {
	ch := newTestChannel(50 * time.Millisecond)

	ch.apply(models.CollaborationEvent{Type: models.CollabTypingStart, UserID: "alice", Timestamp: time.Now()})
	time.Sleep(30 * time.Millisecond)
	ch.apply(models.CollaborationEvent{Type: models.CollabTypingStart, UserID: "alice", Timestamp: time.Now()})
	time.Sleep(30 * time.Millisecond)

	// 60ms after the first start, but only 30ms after the re-arm.
	assert.Equal(t, []string{"alice"}, ch.TypingUsers())
}

func TestChannel_TypingStopClearsImmediately(t *testing.T) {
	ch := newTestChannel(time.Hour)

	ch.apply(models.CollaborationEvent{Type: models.CollabTypingStart, UserID: "alice", Timestamp: time.Now()})
	ch.apply(models.CollaborationEvent{Type: models.CollabTypingStart, UserID: "bob", Timestamp: time.Now()})
	assert.Equal(t, []string{"alice", "bob"}, ch.TypingUsers())

	ch.apply(models.CollaborationEvent{Type: models.CollabTypingStop, UserID: "alice", Timestamp: time.Now()})
	assert.Equal(t, []string{"bob"}, ch.TypingUsers())
}

func TestChannel_LeaveClearsTyping(t *testing.T) {
	ch := newTestChannel(time.Hour)

	ch.apply(models.CollaborationEvent{Type: models.CollabTypingStart, UserID: "alice", Timestamp: time.Now()})
	ch.apply(models.CollaborationEvent{Type: models.CollabUserLeft, UserID: "alice", Timestamp: time.Now()})

	assert.Empty(t, ch.TypingUsers())
}

func TestChannel_CursorMoveUpdatesUser(t *testing.T) {
	ch := newTestChannel(time.Second)

	ch.apply(models.CollaborationEvent{
		Type: models.CollabUserJoined, UserID: "alice",
		Data: map[string]any{"name": "Alice"}, Timestamp: time.Now(),
	})
	ch.apply(models.CollaborationEvent{
		Type: models.CollabCursorMoved, UserID: "alice",
		Data: map[string]any{"x": 4.0, "y": 8.0}, Timestamp: time.Now(),
	})

	users := ch.Users()
	require.Len(t, users, 1)
	require.NotNil(t, users[0].Cursor)
	assert.Equal(t, 4.0, users[0].Cursor.X)
}

func TestChannel_BroadcastWithoutConnection(t *testing.T) {
	ch := newTestChannel(time.Second)

	err := ch.Broadcast(models.CollabMessageAdded, map[string]any{"text": "hi"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestChannel_EndToEndAgainstHub(t *testing.T) {
	_, server := setupTestHub(t)
	url := "ws" + server.URL[len("http"):] + "?topic=topic-1&user_id=alice&user_name=Alice"

	ch := Connect(context.Background(), ChannelConfig{
		URL:      url,
		TopicID:  "topic-1",
		UserID:   "alice",
		UserName: "Alice",
	})
	t.Cleanup(ch.Close)

	// The channel sees its own join echoed back by the hub.
	require.Eventually(t, func() bool {
		return len(ch.Users()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	dialHub(t, server, "topic-1", "bob", "Bob")

	require.Eventually(t, func() bool {
		users := ch.Users()
		return len(users) == 2 && users[1].ID == "bob" && users[1].IsOnline
	}, 2*time.Second, 10*time.Millisecond)
}
