package checkpoint

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/models"
	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/slack"
	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/upstream"
)

// mockEngine implements EngineClient and records every call.
type mockEngine struct {
	mu        sync.Mutex
	responded []models.CheckpointResponse
	cancelled []string
	fetched   []string

	respondErr error
	cancelErr  error
}

func (m *mockEngine) GetCheckpoint(_ context.Context, _ upstream.RequestContext, checkpointID string) (*models.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched = append(m.fetched, checkpointID)
	return &models.Checkpoint{ID: checkpointID, Status: models.CheckpointStatusAwaiting}, nil
}

func (m *mockEngine) RespondCheckpoint(_ context.Context, _ upstream.RequestContext, _ string, resp models.CheckpointResponse) (*models.CheckpointResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.respondErr != nil {
		return nil, m.respondErr
	}
	m.responded = append(m.responded, resp)
	return &models.CheckpointResult{Result: "accepted"}, nil
}

func (m *mockEngine) CancelCheckpoint(_ context.Context, _ upstream.RequestContext, checkpointID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.cancelled = append(m.cancelled, checkpointID)
	return nil
}

func (m *mockEngine) cancelledIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cancelled...)
}

func testContext() (context.Context, upstream.RequestContext) {
	return context.Background(), upstream.RequestContext{
		Token: "tok", TenantID: "tenant-1", UserID: "user-1", UserEmail: "user@example.com",
	}
}

func TestCoordinator_RegisterEnforcesSingleAwaitingPerMission(t *testing.T) {
	c := NewCoordinator(&mockEngine{}, 0)
	defer c.Close()

	require.NoError(t, c.Register(Registration{CheckpointID: "cp-1", MissionID: "m1"}))
	assert.Equal(t, "cp-1", c.Awaiting("m1"))

	// A second checkpoint for the same mission conflicts.
	assert.ErrorIs(t, c.Register(Registration{CheckpointID: "cp-2", MissionID: "m1"}), ErrCheckpointPending)

	// Re-registering a known id (replayed stream event) conflicts too.
	assert.ErrorIs(t, c.Register(Registration{CheckpointID: "cp-1", MissionID: "m1"}), ErrAlreadyResolved)

	// Other missions are unaffected.
	require.NoError(t, c.Register(Registration{CheckpointID: "cp-9", MissionID: "m2"}))
}

func TestCoordinator_RespondValidation(t *testing.T) {
	tests := []struct {
		name  string
		resp  models.CheckpointResponse
		field string
	}{
		{
			name:  "reject requires a reason",
			resp:  models.CheckpointResponse{Action: models.CheckpointActionReject},
			field: "reason",
		},
		{
			name:  "modify requires modifications",
			resp:  models.CheckpointResponse{Action: models.CheckpointActionModify},
			field: "modifications",
		},
		{
			name:  "unknown action",
			resp:  models.CheckpointResponse{Action: "escalate"},
			field: "action",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &mockEngine{}
			c := NewCoordinator(engine, 0)
			defer c.Close()
			require.NoError(t, c.Register(Registration{CheckpointID: "cp-1", MissionID: "m1"}))

			ctx, rc := testContext()
			_, err := c.Respond(ctx, rc, "cp-1", tt.resp)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
			// Validation failures never reach the engine.
			assert.Empty(t, engine.responded)
			// The checkpoint stays awaiting.
			assert.Equal(t, "cp-1", c.Awaiting("m1"))
		})
	}
}

func TestCoordinator_ApproveResolvesAndFreesMission(t *testing.T) {
	engine := &mockEngine{}
	c := NewCoordinator(engine, 0)
	defer c.Close()
	require.NoError(t, c.Register(Registration{CheckpointID: "cp-1", MissionID: "m1"}))

	ctx, rc := testContext()
	result, err := c.Respond(ctx, rc, "cp-1", models.CheckpointResponse{Action: models.CheckpointActionApprove})
	require.NoError(t, err)
	assert.Equal(t, "accepted", result.Result)
	assert.Empty(t, c.Awaiting("m1"))

	cp, err := c.Fetch(ctx, rc, "cp-1")
	require.NoError(t, err)
	assert.Equal(t, models.CheckpointStatusResolved, cp.Status)
	require.NotNil(t, cp.ResolvedAt)
}

func TestCoordinator_DoubleRespondConflicts(t *testing.T) {
	engine := &mockEngine{}
	c := NewCoordinator(engine, 0)
	defer c.Close()
	require.NoError(t, c.Register(Registration{CheckpointID: "cp-1", MissionID: "m1"}))

	ctx, rc := testContext()
	_, err := c.Respond(ctx, rc, "cp-1", models.CheckpointResponse{Action: models.CheckpointActionApprove})
	require.NoError(t, err)

	_, err = c.Respond(ctx, rc, "cp-1", models.CheckpointResponse{
		Action: models.CheckpointActionReject, Reason: "changed my mind",
	})
	assert.ErrorIs(t, err, ErrAlreadyResolved)
	// Only the first decision reached the engine.
	assert.Len(t, engine.responded, 1)
	assert.Equal(t, models.CheckpointActionApprove, engine.responded[0].Action)
}

func TestCoordinator_RespondUnknownCheckpoint(t *testing.T) {
	c := NewCoordinator(&mockEngine{}, 0)
	defer c.Close()

	ctx, rc := testContext()
	_, err := c.Respond(ctx, rc, "cp-missing", models.CheckpointResponse{Action: models.CheckpointActionApprove})
	assert.ErrorIs(t, err, ErrNotAwaiting)
}

func TestCoordinator_AuditRecordDefaultsFromRequestScope(t *testing.T) {
	engine := &mockEngine{}
	c := NewCoordinator(engine, 0)
	defer c.Close()
	require.NoError(t, c.Register(Registration{CheckpointID: "cp-1", MissionID: "m1"}))

	ctx, rc := testContext()
	_, err := c.Respond(ctx, rc, "cp-1", models.CheckpointResponse{Action: models.CheckpointActionApprove})
	require.NoError(t, err)

	require.Len(t, engine.responded, 1)
	audit := engine.responded[0].Audit
	require.NotNil(t, audit)
	assert.Equal(t, "user-1", audit.UserID)
	assert.Equal(t, "user@example.com", audit.UserEmail)
	assert.NotEmpty(t, audit.ClientTimestamp)
}

func TestCoordinator_CallerAuditForwardedUnmodified(t *testing.T) {
	engine := &mockEngine{}
	c := NewCoordinator(engine, 0)
	defer c.Close()
	require.NoError(t, c.Register(Registration{CheckpointID: "cp-1", MissionID: "m1"}))

	supplied := &models.AuditRecord{
		UserID:          "alice",
		UserEmail:       "alice@example.com",
		ActionSource:    "dashboard",
		ClientTimestamp: "2026-08-31T12:00:00Z",
	}
	ctx, rc := testContext()
	_, err := c.Respond(ctx, rc, "cp-1", models.CheckpointResponse{
		Action: models.CheckpointActionApprove,
		Audit:  supplied,
	})
	require.NoError(t, err)

	require.Len(t, engine.responded, 1)
	assert.Equal(t, supplied, engine.responded[0].Audit)
}

func TestCoordinator_UpstreamFailureLeavesCheckpointAwaiting(t *testing.T) {
	engine := &mockEngine{respondErr: errors.New("engine unavailable")}
	c := NewCoordinator(engine, 0)
	defer c.Close()
	require.NoError(t, c.Register(Registration{CheckpointID: "cp-1", MissionID: "m1"}))

	ctx, rc := testContext()
	_, err := c.Respond(ctx, rc, "cp-1", models.CheckpointResponse{Action: models.CheckpointActionApprove})
	require.Error(t, err)
	assert.Equal(t, "cp-1", c.Awaiting("m1"))

	// Retry succeeds once the engine recovers.
	engine.mu.Lock()
	engine.respondErr = nil
	engine.mu.Unlock()
	_, err = c.Respond(ctx, rc, "cp-1", models.CheckpointResponse{Action: models.CheckpointActionApprove})
	require.NoError(t, err)
	assert.Empty(t, c.Awaiting("m1"))
}

func TestCoordinator_CancelMarksCancelled(t *testing.T) {
	engine := &mockEngine{}
	c := NewCoordinator(engine, 0)
	defer c.Close()
	require.NoError(t, c.Register(Registration{CheckpointID: "cp-1", MissionID: "m1"}))

	ctx, rc := testContext()
	require.NoError(t, c.Cancel(ctx, rc, "cp-1"))
	assert.Equal(t, []string{"cp-1"}, engine.cancelledIDs())
	assert.Empty(t, c.Awaiting("m1"))

	// Cancelled means settled: responding afterwards conflicts.
	_, err := c.Respond(ctx, rc, "cp-1", models.CheckpointResponse{Action: models.CheckpointActionApprove})
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestCoordinator_TimeoutAutoCancels(t *testing.T) {
	engine := &mockEngine{}
	c := NewCoordinator(engine, 20*time.Millisecond)
	defer c.Close()
	require.NoError(t, c.Register(Registration{CheckpointID: "cp-1", MissionID: "m1"}))

	require.Eventually(t, func() bool {
		return len(engine.cancelledIDs()) == 1
	}, 2*time.Second, 5*time.Millisecond, "unanswered checkpoint must be cancelled upstream")

	ctx, rc := testContext()
	cp, err := c.Fetch(ctx, rc, "cp-1")
	require.NoError(t, err)
	assert.Equal(t, models.CheckpointStatusTimedOut, cp.Status)
	assert.Empty(t, c.Awaiting("m1"))
}

func TestCoordinator_RespondBeatsTimeout(t *testing.T) {
	engine := &mockEngine{}
	c := NewCoordinator(engine, time.Hour)
	defer c.Close()
	require.NoError(t, c.Register(Registration{CheckpointID: "cp-1", MissionID: "m1"}))

	ctx, rc := testContext()
	_, err := c.Respond(ctx, rc, "cp-1", models.CheckpointResponse{Action: models.CheckpointActionApprove})
	require.NoError(t, err)

	// The timer was stopped at resolution; no cancel ever fires.
	assert.Empty(t, engine.cancelledIDs())
}

func TestCoordinator_FetchFallsBackToEngine(t *testing.T) {
	engine := &mockEngine{}
	c := NewCoordinator(engine, 0)
	defer c.Close()

	ctx, rc := testContext()
	cp, err := c.Fetch(ctx, rc, "cp-remote")
	require.NoError(t, err)
	assert.Equal(t, "cp-remote", cp.ID)
	assert.Equal(t, []string{"cp-remote"}, engine.fetched)
}

func TestCoordinator_NotifierThreadsSettlementOntoRequired(t *testing.T) {
	var mu sync.Mutex
	var threadTS, blocks []string
	mux := http.NewServeMux()
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		mu.Lock()
		threadTS = append(threadTS, r.Form.Get("thread_ts"))
		blocks = append(blocks, r.Form.Get("blocks"))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C1","ts":"111.222"}`))
	})
	api := httptest.NewServer(mux)
	defer api.Close()

	c := NewCoordinator(&mockEngine{}, 0)
	defer c.Close()
	c.SetNotifier(slack.NewServiceWithClient(
		slack.NewClientWithAPIURL("xoxb-test", "C1", api.URL+"/"), "https://dash.example.com"))

	require.NoError(t, c.Register(Registration{CheckpointID: "cp-1", MissionID: "m1", Question: "Continue?"}))

	// The required-notification lands and its ts is remembered.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(threadTS) == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx, rc := testContext()
	_, err := c.Respond(ctx, rc, "cp-1", models.CheckpointResponse{
		Action: models.CheckpointActionReject, Reason: "unsafe plan",
	})
	require.NoError(t, err)

	// The settlement is threaded onto the required-notification.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(threadTS) == 2 && threadTS[1] == "111.222"
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, threadTS[0])
	// The settlement message carries the decision, not just the status.
	assert.Contains(t, blocks[1], "reject")
	assert.Contains(t, blocks[1], "unsafe plan")
	assert.Contains(t, blocks[1], "user-1")
}

// stallingEngine blocks RespondCheckpoint until released, then fails.
type stallingEngine struct {
	mockEngine
	release chan struct{}
}

func (s *stallingEngine) RespondCheckpoint(context.Context, upstream.RequestContext, string, models.CheckpointResponse) (*models.CheckpointResult, error) {
	<-s.release
	return nil, errors.New("engine unavailable")
}

func TestCoordinator_TimeoutRearmsAfterFailedRespond(t *testing.T) {
	engine := &stallingEngine{release: make(chan struct{})}
	c := NewCoordinator(engine, 30*time.Millisecond)
	defer c.Close()
	require.NoError(t, c.Register(Registration{CheckpointID: "cp-1", MissionID: "m1"}))

	ctx, rc := testContext()
	respondErr := make(chan error, 1)
	go func() {
		_, err := c.Respond(ctx, rc, "cp-1", models.CheckpointResponse{Action: models.CheckpointActionApprove})
		respondErr <- err
	}()

	// Let the window elapse while the response is in flight: the watcher
	// fires, sees the response pending, and stands down.
	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, engine.cancelledIDs())

	// The response fails; the checkpoint goes back to awaiting and the
	// watcher must still auto-cancel it.
	close(engine.release)
	require.Error(t, <-respondErr)
	assert.Equal(t, "cp-1", c.Awaiting("m1"))

	require.Eventually(t, func() bool {
		return len(engine.cancelledIDs()) == 1
	}, 2*time.Second, 5*time.Millisecond, "the watcher must be re-armed after a failed response")

	cp, err := c.Fetch(ctx, rc, "cp-1")
	require.NoError(t, err)
	assert.Equal(t, models.CheckpointStatusTimedOut, cp.Status)
}

func TestCoordinator_FetchReturnsDetachedCopy(t *testing.T) {
	c := NewCoordinator(&mockEngine{}, 0)
	defer c.Close()
	require.NoError(t, c.Register(Registration{
		CheckpointID: "cp-1", MissionID: "m1", Options: []string{"yes", "no"},
	}))

	ctx, rc := testContext()
	cp, err := c.Fetch(ctx, rc, "cp-1")
	require.NoError(t, err)
	cp.Options[0] = "mutated"

	again, err := c.Fetch(ctx, rc, "cp-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"yes", "no"}, again.Options)
}
