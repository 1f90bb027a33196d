package autoreply

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/haulops-crm/internal/compliance"
	"github.com/wolfman30/haulops-crm/internal/conversation"
	"github.com/wolfman30/haulops-crm/internal/events"
)

// handleStop applies do-not-contact to every lead of the contact on the
// inbound channel and cancels their pending follow-ups. It ignores
// automation mode and kill switches.
func (o *Orchestrator) handleStop(ctx context.Context, in *conversation.InboundContext) (Result, error) {
	ch := in.Message.Channel
	leadIDs, err := o.leads.LeadIDsForContact(ctx, in.Contact.ID, in.LeadID())
	if err != nil {
		return Result{}, fmt.Errorf("autoreply: %w", err)
	}

	var removed int64
	if len(leadIDs) > 0 {
		now := o.clock().UTC()
		err = o.inTx(ctx, func(tx pgx.Tx) error {
			for _, leadID := range leadIDs {
				if err := o.leads.ApplyDoNotContact(ctx, tx, leadID, ch, now); err != nil {
					return fmt.Errorf("autoreply: %w", err)
				}
			}
			n, err := o.outbox.DeleteByTypeForLeads(ctx, tx, events.TypeFollowupSend, leadIDs)
			if err != nil {
				return fmt.Errorf("autoreply: %w", err)
			}
			removed = n
			return nil
		})
		if err != nil {
			return Result{}, err
		}
	}

	o.record(ctx, compliance.ActionDoNotContactApplied, "contact", in.Contact.ID, map[string]any{
		"reason":           ReasonStopKeyword,
		"messageId":        in.Message.ID,
		"channel":          string(ch),
		"leadIds":          leadIDs,
		"followupsRemoved": removed,
	})
	o.logger.Info("do-not-contact applied",
		"message_id", in.Message.ID,
		"contact_id", in.Contact.ID,
		"channel", ch,
		"leads", len(leadIDs),
		"followups_removed", removed,
	)
	return processed(ReasonStopKeyword), nil
}
