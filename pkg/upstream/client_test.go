package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/models"
)

func testRC() RequestContext {
	return RequestContext{
		Token: "tok", TenantID: "tenant-1", UserID: "user-1", UserEmail: "user@example.com",
	}
}

func TestClient_CreateMission(t *testing.T) {
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/missions", r.URL.Path)
		gotHeaders = r.Header.Clone()

		var req models.CreateMissionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Assess market entry", req.Goal)

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"m1"}`)
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, 5*time.Second)
	created, err := client.CreateMission(context.Background(), testRC(), models.CreateMissionRequest{
		Goal:      "Assess market entry",
		PanelType: models.PanelTypeStructured,
	})
	require.NoError(t, err)
	assert.Equal(t, "m1", created.ID)

	assert.Equal(t, "Bearer tok", gotHeaders.Get("Authorization"))
	assert.Equal(t, "tenant-1", gotHeaders.Get("X-Tenant-ID"))
	assert.Equal(t, "user-1", gotHeaders.Get("X-User-ID"))
	assert.NotEmpty(t, gotHeaders.Get("X-Request-ID"), "a request id is generated when absent")
}

func TestClient_NotFoundSentinel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, 5*time.Second)
	_, err := client.GetCheckpoint(context.Background(), testRC(), "cp-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, "goal is required")
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, 5*time.Second)
	_, err := client.CreateMission(context.Background(), testRC(), models.CreateMissionRequest{})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnprocessableEntity, statusErr.StatusCode)
	assert.Equal(t, "goal is required", statusErr.Body)
	assert.True(t, statusErr.IsClientError())
}

func TestClient_RespondCheckpointForwardsAuditUnmodified(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"result":"accepted"}`)
	}))
	t.Cleanup(server.Close)

	client := NewClient(server.URL, 5*time.Second)
	result, err := client.RespondCheckpoint(context.Background(), testRC(), "cp-1", models.CheckpointResponse{
		Action: models.CheckpointActionApprove,
		Audit: &models.AuditRecord{
			UserID:          "alice",
			UserEmail:       "alice@example.com",
			ActionSource:    "dashboard",
			ClientTimestamp: "2026-08-31T12:00:00Z",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "accepted", result.Result)

	audit, ok := gotBody["audit"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice", audit["user_id"])
	assert.Equal(t, "dashboard", audit["action_source"])
	assert.Equal(t, "2026-08-31T12:00:00Z", audit["client_timestamp"])
}

func TestClient_StreamURL(t *testing.T) {
	client := NewClient("http://engine:9090/", time.Second)
	assert.Equal(t, "http://engine:9090/missions/m1/stream", client.StreamURL("m1"))
}

func TestRequestContext_WithRequestID(t *testing.T) {
	rc := RequestContext{RequestID: "req-1"}.WithRequestID()
	assert.Equal(t, "req-1", rc.RequestID, "a supplied id is kept")

	generated := RequestContext{}.WithRequestID()
	assert.NotEmpty(t, generated.RequestID)
}
