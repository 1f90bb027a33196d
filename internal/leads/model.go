package leads

import (
	"time"

	"github.com/wolfman30/haulops-crm/internal/channels"
)

// Status is the sales-pipeline stage of a lead.
type Status string

const (
	StatusNew       Status = "new"
	StatusContacted Status = "contacted"
	StatusScheduled Status = "scheduled"
	StatusWon       Status = "won"
	StatusLost      Status = "lost"
)

// Followup states recorded on the automation row.
const (
	FollowupActive  = "active"
	FollowupStopped = "stopped"
)

// AutomationState is the per-(lead, channel) kill-switch row. A missing row
// is equivalent to the zero value: automation allowed.
type AutomationState struct {
	LeadID         string
	Channel        channels.Channel
	Paused         bool
	DNC            bool
	HumanTakeover  bool
	FollowupState  string
	FollowupStep   int
	NextFollowupAt *time.Time
	PausedAt       *time.Time
}

// BlockReason names the kill switch suppressing automation, or "" when none.
// DNC wins over the other flags.
func (s AutomationState) BlockReason() string {
	switch {
	case s.DNC:
		return "dnc"
	case s.Paused:
		return "paused"
	case s.HumanTakeover:
		return "human_takeover"
	default:
		return ""
	}
}

// Blocked reports whether any kill switch is set.
func (s AutomationState) Blocked() bool {
	return s.BlockReason() != ""
}
