package autoreply

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/haulops-crm/internal/appointments"
	"github.com/wolfman30/haulops-crm/internal/channels"
	"github.com/wolfman30/haulops-crm/internal/compliance"
	"github.com/wolfman30/haulops-crm/internal/conversation"
	"github.com/wolfman30/haulops-crm/internal/db"
	"github.com/wolfman30/haulops-crm/internal/leads"
)

// TxBeginner opens the transaction that wraps every write of one decision.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ConversationStore reads the inbound context and writes the reply.
type ConversationStore interface {
	LoadInboundContext(ctx context.Context, messageID string) (*conversation.InboundContext, error)
	HasAutoReply(ctx context.Context, threadID, inboundID string) (bool, error)
	HasOutbound(ctx context.Context, threadID string) (bool, error)
	EnsureSystemParticipant(ctx context.Context, q db.Querier, threadID string) (string, error)
	InsertMessage(ctx context.Context, q db.Querier, msg *conversation.Message) error
	TouchThread(ctx context.Context, q db.Querier, threadID, preview string, at time.Time) error
}

// LeadStore exposes kill switches and lead status.
type LeadStore interface {
	GetAutomationState(ctx context.Context, leadID string, ch channels.Channel) (leads.AutomationState, error)
	ApplyDoNotContact(ctx context.Context, q db.Querier, leadID string, ch channels.Channel, at time.Time) error
	LeadIDsForContact(ctx context.Context, contactID, primaryLeadID string) ([]string, error)
	UpdateStatus(ctx context.Context, q db.Querier, leadID string, status leads.Status) error
}

// AppointmentStore finds and transitions appointments for the confirmation loop.
type AppointmentStore interface {
	FindConfirmable(ctx context.Context, leadID, contactID string, from, to time.Time) (*appointments.Appointment, error)
	UpdateStatus(ctx context.Context, q db.Querier, id string, status appointments.Status, clearCalendar bool) error
}

// Outbox schedules side effects for the outbox worker.
type Outbox interface {
	Insert(ctx context.Context, q db.Querier, eventType string, payload any, nextAttemptAt time.Time) (uuid.UUID, error)
	DeleteByTypeForLeads(ctx context.Context, q db.Querier, eventType string, leadIDs []string) (int64, error)
	DeleteByTypeForAppointment(ctx context.Context, q db.Querier, eventType, appointmentID string) (int64, error)
}

// CalendarSync removes calendar events for declined appointments.
type CalendarSync interface {
	DeleteEvent(ctx context.Context, eventID string) error
}

// AuditRecorder persists terminal decisions.
type AuditRecorder interface {
	RecordAuditEvent(ctx context.Context, rec compliance.Record) error
}
