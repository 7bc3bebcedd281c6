package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MissionStatus represents the lifecycle state of a mission.
type MissionStatus string

const (
	MissionStatusIdle               MissionStatus = "idle"
	MissionStatusPlanning           MissionStatus = "planning"
	MissionStatusRunning            MissionStatus = "running"
	MissionStatusAwaitingCheckpoint MissionStatus = "awaiting_checkpoint"
	MissionStatusCompleted          MissionStatus = "completed"
	MissionStatusFailed             MissionStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s MissionStatus) Terminal() bool {
	return s == MissionStatusCompleted || s == MissionStatusFailed
}

// StepStatus represents the lifecycle state of a single plan step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// AgentLevel is the capability tier of the agent assigned to a step.
type AgentLevel string

const (
	AgentLevelL1 AgentLevel = "L1"
	AgentLevelL2 AgentLevel = "L2"
	AgentLevelL3 AgentLevel = "L3"
	AgentLevelL4 AgentLevel = "L4"
	AgentLevelL5 AgentLevel = "L5"
)

// PanelType identifies the deliberation format of a panel mission.
type PanelType string

const (
	PanelTypeStructured  PanelType = "structured"
	PanelTypeOpen        PanelType = "open"
	PanelTypeSocratic    PanelType = "socratic"
	PanelTypeAdversarial PanelType = "adversarial"
	PanelTypeDelphi      PanelType = "delphi"
	PanelTypeHybrid      PanelType = "hybrid"
)

// Valid reports whether the panel type is one of the allowed values.
func (p PanelType) Valid() bool {
	switch p {
	case PanelTypeStructured, PanelTypeOpen, PanelTypeSocratic,
		PanelTypeAdversarial, PanelTypeDelphi, PanelTypeHybrid:
		return true
	}
	return false
}

// PlanStep is an atomic unit of mission execution with its own lifecycle.
type PlanStep struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	AgentLevel  AgentLevel `json:"agent_level"`
	Stage       string     `json:"stage,omitempty"`
	Tools       []string   `json:"tools,omitempty"`
	Status      StepStatus `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Thinking describes what the mission is currently working on.
type Thinking struct {
	Agent string `json:"agent"`
	Task  string `json:"task"`
	Stage string `json:"stage,omitempty"`
}

// MissionState is the projection of a mission's event stream.
// Mutated exclusively by stream events; consumers receive copies.
type MissionState struct {
	MissionID        string          `json:"mission_id"`
	Status           MissionStatus   `json:"status"`
	Steps            []PlanStep      `json:"steps"`
	CurrentStepIndex int             `json:"current_step_index"`
	Stage            string          `json:"stage,omitempty"`
	BudgetSpent      decimal.Decimal `json:"budget_spent"`
	BudgetLimit      decimal.Decimal `json:"budget_limit"`
	BudgetWarning    bool            `json:"budget_warning"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	Thinking         *Thinking       `json:"thinking,omitempty"`
	Error            *ErrorInfo      `json:"error,omitempty"`
}

// ErrorInfo is the structured error payload carried by error events.
// Recoverable indicates whether a client-side retry is meaningful.
type ErrorInfo struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// CreateMissionRequest contains fields for creating a new mission upstream.
type CreateMissionRequest struct {
	Goal                   string          `json:"goal"`
	PanelType              PanelType       `json:"panel_type"`
	Context                string          `json:"context,omitempty"`
	Experts                []string        `json:"experts,omitempty"`
	MaxRounds              int             `json:"max_rounds,omitempty"`
	ConsensusThreshold     float64         `json:"consensus_threshold,omitempty"`
	BudgetLimit            decimal.Decimal `json:"budget_limit"`
	AutoApproveCheckpoints bool            `json:"auto_approve_checkpoints,omitempty"`
}

// MissionCreated is the upstream response to mission creation.
type MissionCreated struct {
	ID string `json:"id"`
}
