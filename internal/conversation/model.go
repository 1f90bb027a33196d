package conversation

import (
	"time"

	"github.com/wolfman30/haulops-crm/internal/channels"
)

// Direction distinguishes customer messages from replies.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// DeliveryStatus tracks an outbound message through the send pipeline.
type DeliveryStatus string

const (
	DeliveryQueued    DeliveryStatus = "queued"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryReceived  DeliveryStatus = "received"
)

// Participant kinds.
const (
	ParticipantSystem  = "system"
	ParticipantContact = "contact"
	ParticipantStaff   = "staff"
)

// AssistantName is the display name of the automation participant.
const AssistantName = "Assistant"

// Thread is one messaging relationship with a contact.
type Thread struct {
	ID                 string
	ContactID          string
	LeadID             string
	Subject            string
	Channel            string
	LastMessageAt      *time.Time
	LastMessagePreview string
}

// Message is a single inbound or outbound conversation message.
type Message struct {
	ID             string
	ThreadID       string
	ParticipantID  string
	Direction      Direction
	Channel        channels.Channel
	Subject        string
	Body           string
	ToAddress      string
	FromAddress    string
	DeliveryStatus DeliveryStatus
	Metadata       Metadata
	CreatedAt      time.Time
}

// Contact is the person on the other side of a thread.
type Contact struct {
	ID            string
	FirstName     string
	Phone         string
	Email         string
	PartnerStatus string
}

// IsPartner reports whether the contact is handled by the partner workflow.
func (c Contact) IsPartner() bool {
	return c.PartnerStatus == "partner"
}

// Property is the service address attached to a contact.
type Property struct {
	ID         string
	PostalCode string
}

// InboundContext joins an inbound message with everything the auto-reply
// pipeline reads about it.
type InboundContext struct {
	Message  Message
	Thread   Thread
	Contact  Contact
	Property Property
}

// LeadID returns the lead the thread is attached to, if any.
func (c *InboundContext) LeadID() string {
	if c == nil {
		return ""
	}
	return c.Thread.LeadID
}

// Preview trims a body to the length stored on the thread.
func Preview(body string) string {
	const max = 140
	r := []rune(body)
	if len(r) <= max {
		return body
	}
	return string(r[:max-1]) + "…"
}
