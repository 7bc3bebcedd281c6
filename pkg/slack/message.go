package slack

import (
	"fmt"
	"strings"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/curatedhealth/vital-expert-platform-sub043/pkg/models"
)

const maxBlockTextLength = 2900

var settledEmoji = map[models.CheckpointStatus]string{
	models.CheckpointStatusResolved:  ":white_check_mark:",
	models.CheckpointStatusCancelled: ":no_entry_sign:",
	models.CheckpointStatusTimedOut:  ":hourglass:",
}

var settledLabel = map[models.CheckpointStatus]string{
	models.CheckpointStatusResolved:  "Checkpoint Resolved",
	models.CheckpointStatusCancelled: "Checkpoint Cancelled",
	models.CheckpointStatusTimedOut:  "Checkpoint Timed Out",
}

func missionURL(missionID, dashboardURL string) string {
	return fmt.Sprintf("%s/missions/%s", dashboardURL, missionID)
}

// BuildCheckpointRequiredMessage creates Block Kit blocks announcing that
// a mission is blocked on a human decision.
func BuildCheckpointRequiredMessage(cp models.Checkpoint, window time.Duration, dashboardURL string) []goslack.Block {
	var b strings.Builder
	fmt.Fprintf(&b, ":raised_hand: *Approval needed* — mission `%s` is paused.", cp.MissionID)
	if cp.Question != "" {
		fmt.Fprintf(&b, "\n\n*Question:*\n%s", truncateForSlack(cp.Question))
	}
	if len(cp.Options) > 0 {
		fmt.Fprintf(&b, "\n\n*Options:* %s", strings.Join(cp.Options, ", "))
	}
	if window > 0 {
		fmt.Fprintf(&b, "\n\n_Unanswered checkpoints are cancelled after %s._", window)
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, b.String(), false, false),
			nil, nil,
		),
	}

	btn := goslack.NewButtonBlockElement("", "",
		goslack.NewTextBlockObject(goslack.PlainTextType, "Review Checkpoint", false, false))
	btn.URL = missionURL(cp.MissionID, dashboardURL)
	blocks = append(blocks, goslack.NewActionBlock("", btn))

	return blocks
}

// BuildCheckpointSettledMessage creates Block Kit blocks for a terminal
// checkpoint notification, posted as a threaded reply where possible.
func BuildCheckpointSettledMessage(cp models.Checkpoint) []goslack.Block {
	emoji := settledEmoji[cp.Status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := settledLabel[cp.Status]
	if label == "" {
		label = "Checkpoint " + string(cp.Status)
	}

	text := fmt.Sprintf("%s *%s*", emoji, label)
	if cp.Action != "" {
		text += fmt.Sprintf("\n*Decision:* %s", cp.Action)
	}
	if cp.Reason != "" {
		text += fmt.Sprintf("\n*Reason:* %s", truncateForSlack(cp.Reason))
	}
	if cp.Audit != nil && cp.Audit.UserID != "" {
		text += fmt.Sprintf("\n*By:* %s", cp.Audit.UserID)
	}

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated — see dashboard)_"
}
