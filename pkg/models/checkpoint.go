package models

import (
	"encoding/json"
	"time"
)

// CheckpointAction is the human decision applied to a checkpoint.
type CheckpointAction string

const (
	CheckpointActionApprove CheckpointAction = "approve"
	CheckpointActionReject  CheckpointAction = "reject"
	CheckpointActionModify  CheckpointAction = "modify"
)

// CheckpointStatus represents the lifecycle state of a checkpoint.
type CheckpointStatus string

const (
	CheckpointStatusAwaiting  CheckpointStatus = "awaiting"
	CheckpointStatusResolved  CheckpointStatus = "resolved"
	CheckpointStatusCancelled CheckpointStatus = "cancelled"
	CheckpointStatusTimedOut  CheckpointStatus = "timed_out"
)

// AuditRecord identifies who resolved a checkpoint and from where.
// Forwarded upstream unmodified on every response call.
type AuditRecord struct {
	UserID          string `json:"user_id"`
	UserEmail       string `json:"user_email"`
	ActionSource    string `json:"action_source"`
	ClientTimestamp string `json:"client_timestamp"`
}

// Checkpoint is a human-in-the-loop approval gate that pauses mission progress.
type Checkpoint struct {
	ID            string           `json:"id"`
	MissionID     string           `json:"mission_id"`
	Question      string           `json:"question,omitempty"`
	Options       []string         `json:"options,omitempty"`
	Action        CheckpointAction `json:"action,omitempty"`
	Option        string           `json:"option,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	Modifications map[string]any   `json:"modifications,omitempty"`
	Status        CheckpointStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	ResolvedAt    *time.Time       `json:"resolved_at,omitempty"`
	Audit         *AuditRecord     `json:"audit,omitempty"`
}

// CheckpointResponse is the body of a checkpoint resolution call.
type CheckpointResponse struct {
	Action        CheckpointAction `json:"action"`
	Option        string           `json:"option,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	Modifications map[string]any   `json:"modifications,omitempty"`
	Feedback      string           `json:"feedback,omitempty"`
	MissionID     string           `json:"mission_id"`
	Audit         *AuditRecord     `json:"audit,omitempty"`
}

// CheckpointResult is the upstream acknowledgement of a resolution call.
// Result is forwarded verbatim so a future replan directive from the
// upstream planner can be adopted without a contract change.
type CheckpointResult struct {
	Result string `json:"result"`
}

// UnmarshalJSON normalizes the legacy "modified_plan" alias into the
// canonical Modifications field. Older workflow payloads used both names
// for the same nested structure; this is the single adapter handling it.
func (r *CheckpointResponse) UnmarshalJSON(data []byte) error {
	type alias CheckpointResponse
	aux := struct {
		*alias
		ModifiedPlan map[string]any `json:"modified_plan,omitempty"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if r.Modifications == nil && aux.ModifiedPlan != nil {
		r.Modifications = aux.ModifiedPlan
	}
	return nil
}
