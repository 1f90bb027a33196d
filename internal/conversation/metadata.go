package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind tags the purpose of a message.
type Kind string

const (
	KindPlain            Kind = "plain"
	KindAutoReply        Kind = "auto_reply"
	KindConfirmationLoop Kind = "confirmation_loop"
)

// Flat JSON keys persisted in conversation_messages.metadata.
const (
	keyAutoReplyTo    = "autoReplyToMessageId"
	keyAutoReplyDelay = "autoReplyDelayMs"
	keyAutoReplyMode  = "autoReplyMode"
	keyDraft          = "draft"
	keyOutOfArea      = "outOfArea"
	keyTemplateGroup  = "templateGroup"
	keyReplyChannel   = "replyChannel"
	keyConfirmIntent  = "confirmationIntent"
	keyAppointmentID  = "appointmentId"
	keyAutomationKind = "automationKind"
)

var reservedKeys = map[string]struct{}{
	keyAutoReplyTo:    {},
	keyAutoReplyDelay: {},
	keyAutoReplyMode:  {},
	keyDraft:          {},
	keyOutOfArea:      {},
	keyTemplateGroup:  {},
	keyReplyChannel:   {},
	keyConfirmIntent:  {},
	keyAppointmentID:  {},
	keyAutomationKind: {},
}

// AutoReplyMeta records provenance of a templated auto-reply.
type AutoReplyMeta struct {
	ToMessageID   string
	DelayMs       int64
	Mode          string
	Draft         bool
	OutOfArea     bool
	TemplateGroup string
	ReplyChannel  string
}

// ConfirmationMeta records provenance of a confirmation-loop reply.
type ConfirmationMeta struct {
	ToMessageID   string
	Intent        string
	AppointmentID string
	DelayMs       int64
	// Draft marks a staff-visible note stored when no reply could be sent.
	Draft bool
}

// Metadata is the typed view of a message's metadata bag. Exactly one of
// AutoReply or Confirmation is set for automation kinds; Extra carries keys
// owned by other writers (channel webhooks, staff tools).
type Metadata struct {
	Kind         Kind
	AutoReply    *AutoReplyMeta
	Confirmation *ConfirmationMeta
	Extra        map[string]any
}

// AutoReplyTo returns the inbound message id this message answers, or "".
func (m Metadata) AutoReplyTo() string {
	switch {
	case m.AutoReply != nil:
		return m.AutoReply.ToMessageID
	case m.Confirmation != nil:
		return m.Confirmation.ToMessageID
	default:
		return ""
	}
}

// IsDraft reports whether the message is stored for staff only and must
// never be delivered.
func (m Metadata) IsDraft() bool {
	switch {
	case m.AutoReply != nil:
		return m.AutoReply.Draft
	case m.Confirmation != nil:
		return m.Confirmation.Draft
	default:
		return false
	}
}

// Inherit copies non-provenance keys from src into m.Extra. Keys already in
// m.Extra win.
func (m Metadata) Inherit(src Metadata) Metadata {
	if len(src.Extra) == 0 {
		return m
	}
	extra := make(map[string]any, len(src.Extra)+len(m.Extra))
	for k, v := range src.Extra {
		extra[k] = v
	}
	for k, v := range m.Extra {
		extra[k] = v
	}
	m.Extra = extra
	return m
}

// Fields flattens the metadata into the persisted key/value bag.
func (m Metadata) Fields() map[string]any {
	out := make(map[string]any, len(m.Extra)+8)
	for k, v := range m.Extra {
		if _, reserved := reservedKeys[k]; reserved {
			continue
		}
		out[k] = v
	}
	switch {
	case m.AutoReply != nil:
		a := m.AutoReply
		out[keyAutomationKind] = string(KindAutoReply)
		out[keyAutoReplyTo] = a.ToMessageID
		out[keyAutoReplyDelay] = a.DelayMs
		if a.Mode != "" {
			out[keyAutoReplyMode] = a.Mode
		}
		if a.Draft {
			out[keyDraft] = true
		}
		if a.OutOfArea {
			out[keyOutOfArea] = true
		}
		if a.TemplateGroup != "" {
			out[keyTemplateGroup] = a.TemplateGroup
		}
		if a.ReplyChannel != "" {
			out[keyReplyChannel] = a.ReplyChannel
		}
	case m.Confirmation != nil:
		c := m.Confirmation
		out[keyAutomationKind] = string(KindConfirmationLoop)
		out[keyAutoReplyTo] = c.ToMessageID
		out[keyAutoReplyDelay] = c.DelayMs
		out[keyConfirmIntent] = c.Intent
		out[keyAppointmentID] = c.AppointmentID
		if c.Draft {
			out[keyDraft] = true
		}
	}
	return out
}

// MarshalJSON writes the flat bag.
func (m Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Fields())
}

// UnmarshalJSON reads the flat bag, inferring Kind for rows written before
// automationKind was recorded.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	*m = Metadata{Kind: KindPlain}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("conversation: decode metadata: %w", err)
	}

	kind := Kind(stringField(raw, keyAutomationKind))
	replyTo := stringField(raw, keyAutoReplyTo)
	if kind == "" && replyTo != "" {
		kind = KindAutoReply
		if stringField(raw, keyConfirmIntent) != "" {
			kind = KindConfirmationLoop
		}
	}

	switch kind {
	case KindAutoReply:
		m.Kind = KindAutoReply
		m.AutoReply = &AutoReplyMeta{
			ToMessageID:   replyTo,
			DelayMs:       intField(raw, keyAutoReplyDelay),
			Mode:          stringField(raw, keyAutoReplyMode),
			Draft:         boolField(raw, keyDraft),
			OutOfArea:     boolField(raw, keyOutOfArea),
			TemplateGroup: stringField(raw, keyTemplateGroup),
			ReplyChannel:  stringField(raw, keyReplyChannel),
		}
	case KindConfirmationLoop:
		m.Kind = KindConfirmationLoop
		m.Confirmation = &ConfirmationMeta{
			ToMessageID:   replyTo,
			Intent:        stringField(raw, keyConfirmIntent),
			AppointmentID: stringField(raw, keyAppointmentID),
			DelayMs:       intField(raw, keyAutoReplyDelay),
			Draft:         boolField(raw, keyDraft),
		}
	}

	for k, v := range raw {
		if _, reserved := reservedKeys[k]; reserved {
			continue
		}
		if m.Extra == nil {
			m.Extra = make(map[string]any)
		}
		m.Extra[k] = v
	}
	return nil
}

func stringField(raw map[string]any, key string) string {
	v, _ := raw[key].(string)
	return v
}

func boolField(raw map[string]any, key string) bool {
	v, _ := raw[key].(bool)
	return v
}

func intField(raw map[string]any, key string) int64 {
	switch v := raw[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}
