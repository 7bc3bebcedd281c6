package api

import (
	"errors"
	"io"
	"log/slog"

	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/checkpoint"
	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/stream"
)

// watchMissionStream observes a copy of the bytes being piped to the
// client and keeps the checkpoint coordinator in sync with what the
// engine announced. The forwarded stream itself is never touched — this
// reads a tee, not the pipe.
func (s *Server) watchMissionStream(missionID string, r io.Reader) {
	reader := stream.NewReader(r)
	for {
		ev, err := reader.Next()
		if err != nil {
			return
		}

		switch ev.Type {
		case stream.EventCheckpointRequired:
			var p stream.CheckpointRequiredPayload
			if err := ev.Decode(&p); err != nil {
				slog.Warn("Undecodable checkpoint_required on stream",
					"mission_id", missionID, "error", err)
				continue
			}
			err := s.coordinator.Register(checkpoint.Registration{
				CheckpointID: p.CheckpointID,
				MissionID:    missionID,
				Question:     p.Question,
				Options:      p.Options,
			})
			// Replayed events after a reconnect re-announce known
			// checkpoints; that is not a fault.
			if err != nil && !errors.Is(err, checkpoint.ErrAlreadyResolved) &&
				!errors.Is(err, checkpoint.ErrCheckpointPending) {
				slog.Warn("Failed to track checkpoint",
					"mission_id", missionID, "checkpoint_id", p.CheckpointID, "error", err)
			}

		case stream.EventCheckpointResolved:
			var p stream.CheckpointResolvedPayload
			if err := ev.Decode(&p); err != nil {
				slog.Warn("Undecodable checkpoint_resolved on stream",
					"mission_id", missionID, "error", err)
				continue
			}
			s.coordinator.ObserveResolution(p.CheckpointID, p.Action)
		}
	}
}
