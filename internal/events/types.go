package events

import "time"

// Outbox event types.
const (
	TypeMessageSend      = "message.send"
	TypeEstimateReminder = "estimate.reminder"
	TypeFollowupSend     = "followup.send"
)

// MessageSendPayload asks the outbox worker to deliver a stored message.
type MessageSendPayload struct {
	MessageID string `json:"messageId"`
}

// EstimateReminderPayload schedules a reminder for an upcoming appointment.
type EstimateReminderPayload struct {
	AppointmentID string `json:"appointmentId"`
}

// FollowupSendPayload schedules the next step of a lead follow-up sequence.
type FollowupSendPayload struct {
	LeadID string `json:"leadId"`
	Step   int    `json:"step"`
}

// InboundMessageCreatedV1 is published by channel webhooks after an inbound
// conversation message is stored.
type InboundMessageCreatedV1 struct {
	EventID    string    `json:"event_id"`
	MessageID  string    `json:"message_id"`
	ThreadID   string    `json:"thread_id,omitempty"`
	Channel    string    `json:"channel"`
	ReceivedAt time.Time `json:"received_at"`
}

func (InboundMessageCreatedV1) EventType() string {
	return "conversation.inbound_message.created.v1"
}
