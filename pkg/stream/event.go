package stream

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/models"
)

// EventType is the closed set of event types delivered on a mission stream.
// The panel_* aliases emitted by older engines are folded into the mission_*
// canonical names at the transport boundary — consumers only ever see the
// canonical set.
type EventType string

const (
	EventMissionStarted     EventType = "mission_started"
	EventPlanReady          EventType = "plan_ready"
	EventStepStarted        EventType = "step_started"
	EventStepCompleted      EventType = "step_completed"
	EventCheckpointRequired EventType = "checkpoint_required"
	EventCheckpointResolved EventType = "checkpoint_resolved"
	EventConsensusUpdate    EventType = "consensus_update"
	EventMissionComplete    EventType = "mission_complete"
	EventMissionError       EventType = "mission_error"
	EventError              EventType = "error"
	EventHeartbeat          EventType = "heartbeat"
)

// eventAliases maps legacy panel_* wire names to the canonical types.
var eventAliases = map[string]EventType{
	"panel_started":  EventMissionStarted,
	"panel_complete": EventMissionComplete,
	"panel_error":    EventMissionError,
}

// canonicalEventType resolves a wire event name to a canonical EventType.
// Returns false for names outside the closed set.
func canonicalEventType(wire string) (EventType, bool) {
	if t, ok := eventAliases[wire]; ok {
		return t, true
	}
	switch t := EventType(wire); t {
	case EventMissionStarted, EventPlanReady, EventStepStarted,
		EventStepCompleted, EventCheckpointRequired, EventCheckpointResolved,
		EventConsensusUpdate, EventMissionComplete, EventMissionError,
		EventError, EventHeartbeat:
		return t, true
	}
	return "", false
}

// Event is a single typed event delivered by a Connection.
type Event struct {
	Type EventType
	Data json.RawMessage

	// ID is the server-assigned event id, monotonic only within one
	// connection generation.
	ID string

	// Generation counts successful connection opens. IDs from different
	// generations are not comparable; consumers must tolerate missed
	// events across a generation change.
	Generation int64
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// MissionStartedPayload accompanies mission_started events.
type MissionStartedPayload struct {
	MissionID string    `json:"mission_id"`
	StartedAt time.Time `json:"started_at"`
}

// PlanReadyPayload accompanies plan_ready events.
type PlanReadyPayload struct {
	Steps []models.PlanStep `json:"steps"`
}

// StepStartedPayload accompanies step_started events.
type StepStartedPayload struct {
	StepID string `json:"step_id"`
	Agent  string `json:"agent"`
	Task   string `json:"task"`
	Stage  string `json:"stage,omitempty"`
}

// StepCompletedPayload accompanies step_completed events. Cost is the
// budget consumed by this step; accumulation is idempotent by StepID.
type StepCompletedPayload struct {
	StepID string          `json:"step_id"`
	Cost   decimal.Decimal `json:"cost"`
	Stage  string          `json:"stage,omitempty"`
}

// CheckpointRequiredPayload accompanies checkpoint_required events.
type CheckpointRequiredPayload struct {
	CheckpointID string   `json:"checkpoint_id"`
	StepID       string   `json:"step_id,omitempty"`
	Question     string   `json:"question,omitempty"`
	Options      []string `json:"options,omitempty"`
}

// CheckpointResolvedPayload accompanies checkpoint_resolved events,
// emitted by the engine after a resolution command is accepted.
type CheckpointResolvedPayload struct {
	CheckpointID string                  `json:"checkpoint_id"`
	Action       models.CheckpointAction `json:"action"`
}

// ConsensusUpdatePayload accompanies consensus_update events.
type ConsensusUpdatePayload struct {
	Stage string  `json:"stage,omitempty"`
	Round int     `json:"round,omitempty"`
	Score float64 `json:"score,omitempty"`
}

// MissionErrorPayload accompanies mission_error events.
type MissionErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
