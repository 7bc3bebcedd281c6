// Package mission projects the mission event stream into MissionState.
//
// A Controller is the only writer of its state; consumers read immutable
// snapshots. Commands (cancel, checkpoint resolutions) go upstream and
// never mutate local state directly — the resulting transitions arrive
// back through the event stream.
package mission

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/models"
	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/stream"
)

// budgetWarnRatio is the advisory warning threshold. Crossing it sets
// MissionState.BudgetWarning; it never aborts the mission.
var budgetWarnRatio = decimal.NewFromFloat(0.8)

// Canceller issues a cancel command to the upstream engine.
type Canceller interface {
	CancelMission(ctx context.Context, missionID string) error
}

// Controller applies an ordered event sequence to a single mission's
// state. Exactly one Controller exists per mission id (see Registry);
// every surface observing the mission shares it.
type Controller struct {
	mu    sync.RWMutex
	state models.MissionState

	// appliedCosts records the per-step costs already accumulated into
	// BudgetSpent, keyed by step id. Duplicate step_completed events for
	// the same id are no-ops.
	appliedCosts map[string]decimal.Decimal

	// pendingCheckpoint is the descriptor of the checkpoint currently
	// blocking the mission, nil unless status is awaiting_checkpoint.
	pendingCheckpoint *stream.CheckpointRequiredPayload

	canceller Canceller
}

// NewController creates a controller in the idle state.
func NewController(missionID string, budgetLimit decimal.Decimal, canceller Canceller) *Controller {
	return &Controller{
		state: models.MissionState{
			MissionID:   missionID,
			Status:      models.MissionStatusIdle,
			BudgetLimit: budgetLimit,
			BudgetSpent: decimal.Zero,
		},
		appliedCosts: make(map[string]decimal.Decimal),
		canceller:    canceller,
	}
}

// State returns a snapshot of the mission state. Steps are copied so the
// caller can never mutate controller internals.
func (c *Controller) State() models.MissionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() models.MissionState {
	s := c.state
	s.Steps = make([]models.PlanStep, len(c.state.Steps))
	copy(s.Steps, c.state.Steps)
	if c.state.Thinking != nil {
		t := *c.state.Thinking
		s.Thinking = &t
	}
	if c.state.Error != nil {
		e := *c.state.Error
		s.Error = &e
	}
	return s
}

// PendingCheckpoint returns the descriptor of the checkpoint currently
// gating the mission, or nil.
func (c *Controller) PendingCheckpoint() *stream.CheckpointRequiredPayload {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.pendingCheckpoint == nil {
		return nil
	}
	p := *c.pendingCheckpoint
	return &p
}

// Cancel requests cancellation of the mission from the upstream engine.
// Local state is not touched; the terminal transition arrives via the
// event stream like every other mutation.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.RLock()
	missionID := c.state.MissionID
	c.mu.RUnlock()
	return c.canceller.CancelMission(ctx, missionID)
}

// Apply projects one stream event onto the mission state. Events after a
// terminal status, duplicates, and references to unknown steps are all
// absorbed here so that replaying a generation is always safe.
func (c *Controller) Apply(ev stream.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status.Terminal() {
		return
	}

	switch ev.Type {
	case stream.EventMissionStarted:
		c.applyMissionStarted(ev)
	case stream.EventPlanReady:
		c.applyPlanReady(ev)
	case stream.EventStepStarted:
		c.applyStepStarted(ev)
	case stream.EventStepCompleted:
		c.applyStepCompleted(ev)
	case stream.EventCheckpointRequired:
		c.applyCheckpointRequired(ev)
	case stream.EventCheckpointResolved:
		c.applyCheckpointResolved(ev)
	case stream.EventConsensusUpdate:
		c.applyConsensusUpdate(ev)
	case stream.EventMissionComplete:
		c.state.Status = models.MissionStatusCompleted
		c.state.Thinking = nil
	case stream.EventMissionError:
		var p stream.MissionErrorPayload
		if err := ev.Decode(&p); err != nil {
			c.warnDecode(ev, err)
			return
		}
		c.state.Status = models.MissionStatusFailed
		c.state.Thinking = nil
		c.state.Error = &models.ErrorInfo{Code: p.Code, Message: p.Message}
	case stream.EventError:
		var info models.ErrorInfo
		if err := ev.Decode(&info); err != nil {
			c.warnDecode(ev, err)
			return
		}
		if !info.Recoverable {
			c.state.Status = models.MissionStatusFailed
			c.state.Thinking = nil
			c.state.Error = &info
		}
	case stream.EventHeartbeat:
		// Keepalive only.
	default:
		// canonicalEventType guarantees the closed set; anything else is
		// a programming error worth hearing about.
		slog.Warn("Unhandled stream event type", "event_type", ev.Type)
	}
}

func (c *Controller) applyMissionStarted(ev stream.Event) {
	if c.state.Status != models.MissionStatusIdle {
		return
	}
	var p stream.MissionStartedPayload
	if err := ev.Decode(&p); err != nil {
		c.warnDecode(ev, err)
		return
	}
	c.state.Status = models.MissionStatusPlanning
	started := p.StartedAt
	c.state.StartedAt = &started
}

func (c *Controller) applyPlanReady(ev stream.Event) {
	if c.state.Status != models.MissionStatusPlanning {
		return
	}
	var p stream.PlanReadyPayload
	if err := ev.Decode(&p); err != nil {
		c.warnDecode(ev, err)
		return
	}
	c.state.Steps = p.Steps
	for i := range c.state.Steps {
		if c.state.Steps[i].Status == "" {
			c.state.Steps[i].Status = models.StepStatusPending
		}
	}
	c.state.CurrentStepIndex = 0
	c.state.Status = models.MissionStatusRunning
}

func (c *Controller) applyStepStarted(ev stream.Event) {
	if c.state.Status != models.MissionStatusRunning {
		return
	}
	var p stream.StepStartedPayload
	if err := ev.Decode(&p); err != nil {
		c.warnDecode(ev, err)
		return
	}
	step := c.findStep(p.StepID)
	if step == nil {
		slog.Warn("step_started for unknown step", "mission_id", c.state.MissionID, "step_id", p.StepID)
		return
	}
	if step.Status != models.StepStatusPending {
		// Duplicate delivery — first application wins.
		return
	}
	step.Status = models.StepStatusRunning
	now := time.Now()
	step.StartedAt = &now
	c.state.Thinking = &models.Thinking{Agent: p.Agent, Task: p.Task, Stage: p.Stage}
	if p.Stage != "" {
		c.state.Stage = p.Stage
	}
}

func (c *Controller) applyStepCompleted(ev stream.Event) {
	if c.state.Status != models.MissionStatusRunning {
		return
	}
	var p stream.StepCompletedPayload
	if err := ev.Decode(&p); err != nil {
		c.warnDecode(ev, err)
		return
	}
	step := c.findStep(p.StepID)
	if step == nil {
		slog.Warn("step_completed for unknown step", "mission_id", c.state.MissionID, "step_id", p.StepID)
		return
	}
	if _, applied := c.appliedCosts[p.StepID]; applied {
		return
	}
	c.appliedCosts[p.StepID] = p.Cost

	step.Status = models.StepStatusCompleted
	now := time.Now()
	step.CompletedAt = &now

	// Index only moves forward and never exceeds the plan length.
	if c.state.CurrentStepIndex < len(c.state.Steps) {
		c.state.CurrentStepIndex++
	}

	c.state.BudgetSpent = c.state.BudgetSpent.Add(p.Cost)
	if c.state.BudgetLimit.IsPositive() {
		ratio := c.state.BudgetSpent.Div(c.state.BudgetLimit)
		if ratio.GreaterThanOrEqual(budgetWarnRatio) {
			c.state.BudgetWarning = true
		}
	}
	c.state.Thinking = nil
}

func (c *Controller) applyCheckpointRequired(ev stream.Event) {
	if c.state.Status != models.MissionStatusRunning {
		return
	}
	var p stream.CheckpointRequiredPayload
	if err := ev.Decode(&p); err != nil {
		c.warnDecode(ev, err)
		return
	}
	c.pendingCheckpoint = &p
	c.state.Status = models.MissionStatusAwaitingCheckpoint
}

func (c *Controller) applyCheckpointResolved(ev stream.Event) {
	if c.state.Status != models.MissionStatusAwaitingCheckpoint {
		return
	}
	var p stream.CheckpointResolvedPayload
	if err := ev.Decode(&p); err != nil {
		c.warnDecode(ev, err)
		return
	}
	c.pendingCheckpoint = nil
	if p.Action == models.CheckpointActionReject {
		c.state.Status = models.MissionStatusFailed
		c.state.Thinking = nil
		c.state.Error = &models.ErrorInfo{
			Code:    "checkpoint_rejected",
			Message: "checkpoint rejected by reviewer",
		}
		return
	}
	c.state.Status = models.MissionStatusRunning
}

func (c *Controller) applyConsensusUpdate(ev stream.Event) {
	var p stream.ConsensusUpdatePayload
	if err := ev.Decode(&p); err != nil {
		c.warnDecode(ev, err)
		return
	}
	if p.Stage != "" {
		c.state.Stage = p.Stage
	}
}

func (c *Controller) findStep(id string) *models.PlanStep {
	for i := range c.state.Steps {
		if c.state.Steps[i].ID == id {
			return &c.state.Steps[i]
		}
	}
	return nil
}

func (c *Controller) warnDecode(ev stream.Event, err error) {
	slog.Warn("Dropping undecodable event payload",
		"mission_id", c.state.MissionID, "event_type", ev.Type, "error", err)
}
