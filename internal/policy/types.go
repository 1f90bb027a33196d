// Package policy exposes the read-only automation configuration consulted by
// the auto-reply pipeline: per-channel mode, service area, reply templates,
// the appointment confirmation loop and the sales autopilot switch.
package policy

import (
	"strings"
	"time"

	"github.com/wolfman30/haulops-crm/internal/channels"
)

// Mode controls whether automation sends or only drafts.
type Mode string

const (
	ModeDraft  Mode = "draft"
	ModeAssist Mode = "assist"
	ModeAuto   Mode = "auto"
)

// ParseMode normalizes a stored mode. Unknown values fall back to draft so a
// misconfigured channel never sends unreviewed.
func ParseMode(raw string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeAuto:
		return ModeAuto
	case ModeAssist:
		return ModeAssist
	default:
		return ModeDraft
	}
}

// Sends reports whether replies in this mode are queued for delivery.
func (m Mode) Sends() bool {
	return m == ModeAuto || m == ModeAssist
}

// AutomationSettings maps each channel to its global mode.
type AutomationSettings struct {
	Modes map[channels.Channel]Mode `json:"modes"`
}

// ModeFor returns the configured mode for ch, draft when unset.
func (s AutomationSettings) ModeFor(ch channels.Channel) Mode {
	if s.Modes == nil {
		return ModeDraft
	}
	mode, ok := s.Modes[ch]
	if !ok {
		return ModeDraft
	}
	return ParseMode(string(mode))
}

// ServiceAreaPolicy lists the postal codes the business serves.
type ServiceAreaPolicy struct {
	Enabled      bool     `json:"enabled"`
	PostalCodes  []string `json:"postal_codes" validate:"required_if=Enabled true,dive,len=5,numeric"`
	AllowUnknown bool     `json:"allow_unknown"`
}

// TemplateGroupName selects the first-touch or out-of-area copy.
type TemplateGroupName string

const (
	GroupFirstTouch TemplateGroupName = "first_touch"
	GroupOutOfArea  TemplateGroupName = "out_of_area"
)

// TemplateGroup holds reply bodies keyed by "inbound:reply", "reply" or the
// default body.
type TemplateGroup struct {
	Default  string            `json:"default"`
	Channels map[string]string `json:"channels,omitempty"`
}

// TemplatesPolicy holds the reply copy for every group.
type TemplatesPolicy struct {
	Groups map[TemplateGroupName]TemplateGroup `json:"groups"`
}

// ConfirmationLoopPolicy configures the yes/no appointment reply flow.
type ConfirmationLoopPolicy struct {
	Enabled bool `json:"enabled"`
	// WindowMinutes are the lead times at which confirmation prompts go out.
	WindowMinutes []int `json:"window_minutes" validate:"dive,gt=0"`
}

const defaultConfirmationWindow = 24 * time.Hour

// MaxWindow returns the longest confirmation lead time.
func (p ConfirmationLoopPolicy) MaxWindow() time.Duration {
	max := time.Duration(0)
	for _, minutes := range p.WindowMinutes {
		if w := time.Duration(minutes) * time.Minute; w > max {
			max = w
		}
	}
	if max == 0 {
		return defaultConfirmationWindow
	}
	return max
}

// SalesAutopilotPolicy toggles the separate sales automation subsystem.
type SalesAutopilotPolicy struct {
	Enabled bool `json:"enabled"`
}
