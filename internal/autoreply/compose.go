package autoreply

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/haulops-crm/internal/channels"
	"github.com/wolfman30/haulops-crm/internal/conversation"
	"github.com/wolfman30/haulops-crm/internal/db"
	"github.com/wolfman30/haulops-crm/internal/events"
	"github.com/wolfman30/haulops-crm/internal/messaging"
	"github.com/wolfman30/haulops-crm/internal/policy"
)

// selection is the reply channel chosen for an inbound message.
type selection struct {
	channel     channels.Channel
	mode        policy.Mode
	destination string
}

// attempt records why a candidate channel was rejected.
type attempt struct {
	Channel string `json:"channel"`
	Reason  string `json:"reason"`
}

// selectChannel walks the candidate reply channels in order and returns the
// first one whose kill switches are clear and that has a destination. The
// automation mode is resolved but never disqualifies a channel.
func (o *Orchestrator) selectChannel(ctx context.Context, in *conversation.InboundContext) (*selection, []attempt, error) {
	var attempts []attempt
	for _, ch := range policy.ResolveCandidateChannels(in.Message.Channel) {
		mode, err := o.policy.AutomationMode(ctx, ch)
		if err != nil {
			return nil, nil, fmt.Errorf("autoreply: automation mode for %s: %w", ch, err)
		}
		if leadID := in.LeadID(); leadID != "" {
			state, err := o.leads.GetAutomationState(ctx, leadID, ch)
			if err != nil {
				return nil, nil, fmt.Errorf("autoreply: %w", err)
			}
			if reason := state.BlockReason(); reason != "" {
				attempts = append(attempts, attempt{Channel: string(ch), Reason: reason})
				continue
			}
		}
		dest := destinationFor(ch, in)
		if dest == "" {
			attempts = append(attempts, attempt{Channel: string(ch), Reason: "missing_destination"})
			continue
		}
		return &selection{channel: ch, mode: mode, destination: dest}, attempts, nil
	}
	return nil, attempts, nil
}

// destinationFor returns the address a reply on ch is delivered to.
func destinationFor(ch channels.Channel, in *conversation.InboundContext) string {
	switch ch {
	case channels.SMS:
		if phone := messaging.NormalizeE164(in.Contact.Phone); phone != "" {
			return phone
		}
		if in.Message.Channel == channels.SMS || in.Message.Channel == channels.Call {
			return messaging.NormalizeE164(in.Message.FromAddress)
		}
		return ""
	case channels.Email:
		if email := strings.TrimSpace(in.Contact.Email); email != "" {
			return email
		}
		if in.Message.Channel == channels.Email {
			return strings.TrimSpace(in.Message.FromAddress)
		}
		return ""
	case channels.DM:
		return strings.TrimSpace(in.Message.FromAddress)
	default:
		return ""
	}
}

// subjectFor returns the email subject for replies; other channels have none.
func (o *Orchestrator) subjectFor(ch channels.Channel, in *conversation.InboundContext) string {
	if ch != channels.Email {
		return ""
	}
	subject := strings.TrimSpace(in.Message.Subject)
	if subject == "" {
		subject = strings.TrimSpace(in.Thread.Subject)
	}
	if subject == "" {
		return o.cfg.BusinessName
	}
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

// reply is an outbound message about to be persisted.
type reply struct {
	channel channels.Channel
	to      string
	subject string
	body    string
	meta    conversation.Metadata
	// send is false for drafts: stored for staff review, never delivered.
	send  bool
	delay time.Duration
}

// persistReply stores r inside q. Sent replies also touch the thread and
// enqueue a message.send outbox event after the humanized delay.
func (o *Orchestrator) persistReply(ctx context.Context, q db.Querier, in *conversation.InboundContext, r reply) (*conversation.Message, error) {
	participantID, err := o.conv.EnsureSystemParticipant(ctx, q, in.Thread.ID)
	if err != nil {
		return nil, fmt.Errorf("autoreply: %w", err)
	}

	now := o.clock().UTC()
	msg := &conversation.Message{
		ThreadID:       in.Thread.ID,
		ParticipantID:  participantID,
		Direction:      conversation.DirectionOutbound,
		Channel:        r.channel,
		Subject:        r.subject,
		Body:           r.body,
		ToAddress:      r.to,
		FromAddress:    in.Message.ToAddress,
		DeliveryStatus: conversation.DeliveryQueued,
		Metadata:       r.meta.Inherit(in.Message.Metadata),
		CreatedAt:      now,
	}
	if err := o.conv.InsertMessage(ctx, q, msg); err != nil {
		return nil, err
	}
	if !r.send {
		return msg, nil
	}

	if err := o.conv.TouchThread(ctx, q, in.Thread.ID, conversation.Preview(r.body), now); err != nil {
		return nil, fmt.Errorf("autoreply: %w", err)
	}
	if _, err := o.outbox.Insert(ctx, q, events.TypeMessageSend, events.MessageSendPayload{MessageID: msg.ID}, now.Add(r.delay)); err != nil {
		return nil, fmt.Errorf("autoreply: %w", err)
	}
	return msg, nil
}
