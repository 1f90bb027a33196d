package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/haulops-crm/internal/channels"
	"github.com/wolfman30/haulops-crm/internal/conversation"
	"github.com/wolfman30/haulops-crm/internal/events"
	"github.com/wolfman30/haulops-crm/internal/messaging"
	"github.com/wolfman30/haulops-crm/internal/messaging/compliance"
	"github.com/wolfman30/haulops-crm/pkg/logging"
)

type messageStore interface {
	GetMessage(ctx context.Context, messageID string) (*conversation.Message, error)
	UpdateDeliveryStatus(ctx context.Context, messageID string, status conversation.DeliveryStatus, providerMessageID string) error
}

// MessageDispatcher delivers stored outbound conversation messages for
// message.send outbox entries.
type MessageDispatcher struct {
	store   messageStore
	sms     messaging.SMSSender
	email   EmailSender
	dm      messaging.DMSender
	quiet   compliance.QuietHours
	replyTo string
	logger  *logging.Logger
	now     func() time.Time
}

// NewMessageDispatcher wires the senders. Either sender may be nil when the
// channel is not configured; messages on it are marked failed.
func NewMessageDispatcher(store messageStore, sms messaging.SMSSender, email EmailSender, logger *logging.Logger) *MessageDispatcher {
	if store == nil {
		panic("notify: message store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &MessageDispatcher{
		store:  store,
		sms:    sms,
		email:  email,
		logger: logger,
		now:    time.Now,
	}
}

// WithQuietHours holds automated SMS outreach until the window ends.
func (d *MessageDispatcher) WithQuietHours(q compliance.QuietHours) *MessageDispatcher {
	d.quiet = q
	return d
}

// WithDMSender enables delivery of direct-message replies.
func (d *MessageDispatcher) WithDMSender(dm messaging.DMSender) *MessageDispatcher {
	d.dm = dm
	return d
}

// WithReplyTo sets the mailbox customer email replies are routed to.
func (d *MessageDispatcher) WithReplyTo(addr string) *MessageDispatcher {
	d.replyTo = addr
	return d
}

// Handle implements events.DeliveryHandler.
func (d *MessageDispatcher) Handle(ctx context.Context, entry events.OutboxEntry) error {
	var payload events.MessageSendPayload
	if err := json.Unmarshal(entry.Payload, &payload); err != nil || payload.MessageID == "" {
		d.logger.Error("dropping malformed message.send entry", "event_id", entry.ID, "error", err)
		return nil
	}

	msg, err := d.store.GetMessage(ctx, payload.MessageID)
	if errors.Is(err, conversation.ErrMessageNotFound) {
		d.logger.Warn("message.send for missing message", "message_id", payload.MessageID)
		return nil
	}
	if err != nil {
		return err
	}
	if msg.Direction != conversation.DirectionOutbound || msg.Metadata.IsDraft() {
		d.logger.Warn("message.send for non-sendable message", "message_id", msg.ID, "direction", msg.Direction)
		return nil
	}
	switch msg.DeliveryStatus {
	case conversation.DeliverySent, conversation.DeliveryDelivered:
		return nil
	}

	if msg.Channel == channels.SMS {
		now := d.now()
		if next := d.quiet.NextAllowed(now, purposeOf(msg)); next.After(now) {
			return events.Defer(next, "quiet_hours")
		}
	}

	providerID, err := d.send(ctx, msg)
	if err != nil {
		if statusErr := d.store.UpdateDeliveryStatus(ctx, msg.ID, conversation.DeliveryFailed, ""); statusErr != nil {
			d.logger.Error("failed to mark message failed", "error", statusErr, "message_id", msg.ID)
		}
		if errors.Is(err, errUnsupportedChannel) {
			d.logger.Warn("no transport for message channel", "message_id", msg.ID, "channel", msg.Channel)
			return nil
		}
		return fmt.Errorf("notify: send message %s: %w", msg.ID, err)
	}

	if err := d.store.UpdateDeliveryStatus(ctx, msg.ID, conversation.DeliverySent, providerID); err != nil {
		return fmt.Errorf("notify: mark sent: %w", err)
	}
	d.logger.Info("conversation message sent", "message_id", msg.ID, "channel", msg.Channel, "provider_message_id", providerID)
	return nil
}

var errUnsupportedChannel = errors.New("notify: no sender for channel")

func (d *MessageDispatcher) send(ctx context.Context, msg *conversation.Message) (string, error) {
	switch {
	case msg.Channel == channels.SMS && d.sms != nil:
		return d.sms.SendSMS(ctx, messaging.SMS{To: msg.ToAddress, From: msg.FromAddress, Body: msg.Body})
	case msg.Channel == channels.Email && d.email != nil:
		return d.email.Send(ctx, EmailMessage{
			To:      msg.ToAddress,
			Subject: msg.Subject,
			Body:    msg.Body,
			ReplyTo: d.replyTo,
		})
	case msg.Channel == channels.DM && d.dm != nil:
		return d.dm.SendDM(ctx, messaging.DM{To: msg.ToAddress, Body: msg.Body})
	default:
		return "", errUnsupportedChannel
	}
}

// purposeOf classifies a message for quiet hours: first-touch automation is
// outreach, confirmation replies and staff messages are transactional.
func purposeOf(msg *conversation.Message) compliance.Purpose {
	if msg.Metadata.Kind == conversation.KindAutoReply {
		return compliance.PurposeMarketing
	}
	return compliance.PurposeTransactional
}

var _ events.DeliveryHandler = (*MessageDispatcher)(nil)
