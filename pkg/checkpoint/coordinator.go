// Package checkpoint manages the human-in-the-loop approval protocol: it
// tracks which checkpoint is gating each mission, validates and forwards
// resolution commands to the engine, and auto-cancels checkpoints left
// unanswered past the configured window.
package checkpoint

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/models"
	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/slack"
	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/upstream"
)

// EngineClient is the subset of the upstream client the coordinator uses.
type EngineClient interface {
	GetCheckpoint(ctx context.Context, rc upstream.RequestContext, checkpointID string) (*models.Checkpoint, error)
	RespondCheckpoint(ctx context.Context, rc upstream.RequestContext, checkpointID string, resp models.CheckpointResponse) (*models.CheckpointResult, error)
	CancelCheckpoint(ctx context.Context, rc upstream.RequestContext, checkpointID string) error
}

// cancelCallTimeout bounds the upstream cancel issued by the timeout
// watcher, which runs outside any request context.
const cancelCallTimeout = 10 * time.Second

// tracked is the coordinator's record of one checkpoint.
type tracked struct {
	cp        models.Checkpoint
	timer     *time.Timer
	resolving bool

	// threadTS is the Slack timestamp of the required-notification, used
	// to thread the settlement message. Empty when notifications are off.
	threadTS string
}

// Coordinator enforces the checkpoint protocol. At most one checkpoint is
// awaiting per mission; responding twice, or responding when nothing is
// awaiting, is a conflict.
type Coordinator struct {
	engine EngineClient

	// window is how long a checkpoint may stay unanswered before the
	// coordinator cancels it (the engine treats cancel as an implicit
	// reject-with-timeout). Zero disables the watcher.
	window time.Duration

	// notifier posts checkpoint notifications to Slack. Nil-safe.
	notifier *slack.Service

	mu        sync.Mutex
	tracked   map[string]*tracked
	byMission map[string]string // mission id → awaiting checkpoint id
}

// NewCoordinator creates a coordinator. window is the unanswered-timeout
// budget; zero disables auto-cancel.
func NewCoordinator(engine EngineClient, window time.Duration) *Coordinator {
	return &Coordinator{
		engine:    engine,
		window:    window,
		tracked:   make(map[string]*tracked),
		byMission: make(map[string]string),
	}
}

// SetNotifier attaches a Slack notification service. A nil service
// disables notifications.
func (c *Coordinator) SetNotifier(n *slack.Service) {
	c.notifier = n
}

// Registration describes a checkpoint the stream reported as required.
type Registration struct {
	CheckpointID string
	MissionID    string
	Question     string
	Options      []string
}

// Register starts tracking a checkpoint that the stream reported as
// required. Returns ErrCheckpointPending if the mission already has an
// awaiting checkpoint, and ErrAlreadyResolved if this id was seen before.
func (c *Coordinator) Register(reg Registration) error {
	c.mu.Lock()

	if _, seen := c.tracked[reg.CheckpointID]; seen {
		c.mu.Unlock()
		return ErrAlreadyResolved
	}
	if _, pending := c.byMission[reg.MissionID]; pending {
		c.mu.Unlock()
		return ErrCheckpointPending
	}

	checkpointID := reg.CheckpointID
	t := &tracked{
		cp: models.Checkpoint{
			ID:        checkpointID,
			MissionID: reg.MissionID,
			Question:  reg.Question,
			Options:   reg.Options,
			Status:    models.CheckpointStatusAwaiting,
			CreatedAt: time.Now(),
		},
	}
	if c.window > 0 {
		t.timer = time.AfterFunc(c.window, func() { c.timeout(checkpointID) })
	}
	c.tracked[checkpointID] = t
	c.byMission[reg.MissionID] = checkpointID
	cp := t.cp
	c.mu.Unlock()

	if c.notifier != nil {
		go func() {
			ts := c.notifier.NotifyCheckpointRequired(context.Background(), cp, c.window)
			if ts == "" {
				return
			}
			c.mu.Lock()
			if t, ok := c.tracked[checkpointID]; ok {
				t.threadTS = ts
			}
			c.mu.Unlock()
		}()
	}
	return nil
}

// ObserveResolution settles a checkpoint that was resolved outside this
// process — the stream reported checkpoint_resolved without a matching
// local Respond (auto-approval, another replica). Unknown and already
// settled ids are ignored.
func (c *Coordinator) ObserveResolution(checkpointID string, action models.CheckpointAction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tracked[checkpointID]
	if !ok || t.cp.Status != models.CheckpointStatusAwaiting || t.resolving {
		return
	}
	t.cp.Action = action
	c.settleLocked(t, models.CheckpointStatusResolved)
}

// Fetch returns the checkpoint descriptor, preferring local tracking
// state and falling back to the engine for unknown ids. The returned
// copy shares nothing with tracked state.
func (c *Coordinator) Fetch(ctx context.Context, rc upstream.RequestContext, checkpointID string) (*models.Checkpoint, error) {
	c.mu.Lock()
	if t, ok := c.tracked[checkpointID]; ok {
		cp := cloneCheckpoint(t.cp)
		c.mu.Unlock()
		return &cp, nil
	}
	c.mu.Unlock()
	return c.engine.GetCheckpoint(ctx, rc, checkpointID)
}

// Respond validates and forwards a resolution command. The audit record
// is built from the request context when the caller did not attach one,
// and is forwarded upstream unmodified.
func (c *Coordinator) Respond(ctx context.Context, rc upstream.RequestContext, checkpointID string, resp models.CheckpointResponse) (*models.CheckpointResult, error) {
	if err := validateResponse(resp); err != nil {
		return nil, err
	}
	if resp.Audit == nil {
		resp.Audit = &models.AuditRecord{
			UserID:          rc.UserID,
			UserEmail:       rc.UserEmail,
			ActionSource:    "api",
			ClientTimestamp: time.Now().UTC().Format(time.RFC3339Nano),
		}
	}

	c.mu.Lock()
	t, ok := c.tracked[checkpointID]
	if !ok {
		c.mu.Unlock()
		return nil, ErrNotAwaiting
	}
	if t.cp.Status != models.CheckpointStatusAwaiting || t.resolving {
		c.mu.Unlock()
		return nil, ErrAlreadyResolved
	}
	// Guard against a concurrent second response while this one is in
	// flight upstream.
	t.resolving = true
	c.mu.Unlock()

	result, err := c.engine.RespondCheckpoint(ctx, rc, checkpointID, resp)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		// The checkpoint stays awaiting — the caller may retry. The
		// timeout may have fired and backed off while this call was in
		// flight, so the watcher is re-armed.
		t.resolving = false
		c.rearmLocked(t)
		return nil, err
	}
	// The decision lands on the tracked checkpoint before settling so the
	// settlement snapshot (and its notification) carries it.
	t.cp.Action = resp.Action
	t.cp.Option = resp.Option
	t.cp.Reason = resp.Reason
	t.cp.Modifications = resp.Modifications
	t.cp.Audit = resp.Audit
	c.settleLocked(t, models.CheckpointStatusResolved)
	return result, nil
}

// Cancel withdraws an awaiting checkpoint. The engine treats this as an
// implicit reject-with-timeout.
func (c *Coordinator) Cancel(ctx context.Context, rc upstream.RequestContext, checkpointID string) error {
	c.mu.Lock()
	t, ok := c.tracked[checkpointID]
	if !ok {
		c.mu.Unlock()
		return ErrNotAwaiting
	}
	if t.cp.Status != models.CheckpointStatusAwaiting || t.resolving {
		c.mu.Unlock()
		return ErrAlreadyResolved
	}
	t.resolving = true
	c.mu.Unlock()

	err := c.engine.CancelCheckpoint(ctx, rc, checkpointID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		t.resolving = false
		c.rearmLocked(t)
		return err
	}
	c.settleLocked(t, models.CheckpointStatusCancelled)
	return nil
}

// Awaiting returns the id of the checkpoint currently gating the given
// mission, or "" if none.
func (c *Coordinator) Awaiting(missionID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byMission[missionID]
}

// Close releases all timeout timers. Tracking state is discarded.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tracked {
		if t.timer != nil {
			t.timer.Stop()
		}
	}
	c.tracked = make(map[string]*tracked)
	c.byMission = make(map[string]string)
}

// timeout runs when a checkpoint passes the unanswered window: the
// coordinator cancels it upstream and marks it timed out.
func (c *Coordinator) timeout(checkpointID string) {
	c.mu.Lock()
	t, ok := c.tracked[checkpointID]
	if !ok || t.cp.Status != models.CheckpointStatusAwaiting || t.resolving {
		c.mu.Unlock()
		return
	}
	t.resolving = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), cancelCallTimeout)
	defer cancel()
	rc := upstream.RequestContext{}.WithRequestID()
	err := c.engine.CancelCheckpoint(ctx, rc, checkpointID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		slog.Error("Checkpoint timeout cancel failed",
			"checkpoint_id", checkpointID, "error", err)
		t.resolving = false
		c.rearmLocked(t)
		return
	}
	slog.Warn("Checkpoint timed out, cancelled upstream",
		"checkpoint_id", checkpointID, "mission_id", t.cp.MissionID, "window", c.window)
	c.settleLocked(t, models.CheckpointStatusTimedOut)
}

// rearmLocked restarts the unanswered-timeout watcher for a checkpoint
// that went back to awaiting after a failed upstream call. The timer may
// already have fired and backed off, so Reset alone is not enough when it
// was never armed. Caller holds c.mu.
func (c *Coordinator) rearmLocked(t *tracked) {
	if c.window <= 0 {
		return
	}
	if t.timer != nil {
		t.timer.Reset(c.window)
		return
	}
	checkpointID := t.cp.ID
	t.timer = time.AfterFunc(c.window, func() { c.timeout(checkpointID) })
}

// cloneCheckpoint deep-copies the fields a caller could mutate.
func cloneCheckpoint(cp models.Checkpoint) models.Checkpoint {
	out := cp
	if cp.Options != nil {
		out.Options = append([]string(nil), cp.Options...)
	}
	if cp.Modifications != nil {
		out.Modifications = make(map[string]any, len(cp.Modifications))
		for k, v := range cp.Modifications {
			out.Modifications[k] = v
		}
	}
	if cp.Audit != nil {
		audit := *cp.Audit
		out.Audit = &audit
	}
	return out
}

// settleLocked moves a checkpoint to a terminal status, stops its timer,
// and frees the mission's awaiting slot. Caller holds c.mu.
func (c *Coordinator) settleLocked(t *tracked, status models.CheckpointStatus) {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.resolving = false
	t.cp.Status = status
	now := time.Now()
	t.cp.ResolvedAt = &now
	if c.byMission[t.cp.MissionID] == t.cp.ID {
		delete(c.byMission, t.cp.MissionID)
	}

	if c.notifier != nil {
		cp := t.cp
		threadTS := t.threadTS
		go c.notifier.NotifyCheckpointSettled(context.Background(), cp, threadTS)
	}
}

// validateResponse enforces the per-action field requirements.
func validateResponse(resp models.CheckpointResponse) error {
	switch resp.Action {
	case models.CheckpointActionApprove:
		return nil
	case models.CheckpointActionReject:
		if resp.Reason == "" {
			return NewValidationError("reason", "reject requires a reason")
		}
		return nil
	case models.CheckpointActionModify:
		if len(resp.Modifications) == 0 {
			return NewValidationError("modifications", "modify requires modifications")
		}
		return nil
	default:
		return NewValidationError("action", "must be approve, reject, or modify")
	}
}
