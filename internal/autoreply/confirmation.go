package autoreply

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/haulops-crm/internal/appointments"
	"github.com/wolfman30/haulops-crm/internal/compliance"
	"github.com/wolfman30/haulops-crm/internal/conversation"
	"github.com/wolfman30/haulops-crm/internal/db"
	"github.com/wolfman30/haulops-crm/internal/events"
	"github.com/wolfman30/haulops-crm/internal/leads"
	msgcompliance "github.com/wolfman30/haulops-crm/internal/messaging/compliance"
)

const appointmentTimeLayout = "Mon, Jan 2 at 3:04 PM"

// handleConfirmation interprets a yes/no reply to an appointment prompt.
// handled is false when the loop is disabled, no intent was parsed, or no
// appointment in the confirmation window accepts the transition; the
// pipeline then continues with the first-touch flow.
func (o *Orchestrator) handleConfirmation(ctx context.Context, in *conversation.InboundContext) (res Result, handled bool, err error) {
	if o.appts == nil {
		return Result{}, false, nil
	}
	loop, err := o.policy.ConfirmationLoop(ctx)
	if err != nil {
		return Result{}, false, fmt.Errorf("autoreply: confirmation loop policy: %w", err)
	}
	if !loop.Enabled {
		return Result{}, false, nil
	}
	intent := msgcompliance.ParseConfirmationIntent(in.Message.Body)
	if intent == msgcompliance.IntentNone {
		return Result{}, false, nil
	}

	// A stored reply or note for this message means the transition already
	// committed; replaying it would undo a later re-booking.
	replied, err := o.conv.HasAutoReply(ctx, in.Thread.ID, in.Message.ID)
	if err != nil {
		return Result{}, false, fmt.Errorf("autoreply: %w", err)
	}
	if replied {
		o.logger.Info("confirmation reply already handled", "message_id", in.Message.ID, "thread_id", in.Thread.ID)
		return processed(ReasonAlreadyReplied), true, nil
	}

	now := o.clock()
	from, to := appointments.ConfirmationWindow(now, loop.MaxWindow())
	appt, err := o.appts.FindConfirmable(ctx, in.LeadID(), in.Contact.ID, from, to)
	if err != nil {
		return Result{}, false, fmt.Errorf("autoreply: %w", err)
	}
	if appt == nil || !appt.InWindow(now, loop.MaxWindow()) {
		return Result{}, false, nil
	}
	next, err := appointments.Transition(appt.Status, intent)
	if errors.Is(err, appointments.ErrInvalidTransition) {
		o.logger.Info("confirmation reply ignored", "message_id", in.Message.ID, "appointment_id", appt.ID, "status", appt.Status)
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, err
	}

	if intent == msgcompliance.IntentConfirm {
		res, err = o.confirmAppointment(ctx, in, appt, next)
	} else {
		res, err = o.declineAppointment(ctx, in, appt, next)
	}
	return res, true, err
}

func (o *Orchestrator) confirmAppointment(ctx context.Context, in *conversation.InboundContext, appt *appointments.Appointment, next appointments.Status) (Result, error) {
	body := fmt.Sprintf("Thanks! You're confirmed for %s. Reply if you need any changes.",
		appt.StartAt.In(o.cfg.Location).Format(appointmentTimeLayout))

	out, err := o.applyConfirmation(ctx, in, appt, confirmationChange{
		status:     next,
		leadStatus: leads.StatusScheduled,
		intent:     msgcompliance.IntentConfirm,
		body:       body,
	})
	if errors.Is(err, conversation.ErrDuplicateAutoReply) {
		return processed(ReasonAlreadyReplied), nil
	}
	if err != nil {
		return Result{}, err
	}

	meta := out.auditMeta(in, appt)
	o.record(ctx, compliance.ActionAppointmentConfirmed, "appointment", appt.ID, meta)
	o.logger.Info("appointment confirmed by reply", "message_id", in.Message.ID, "appointment_id", appt.ID, "reply_id", out.replyID)
	return Result{Status: StatusProcessed, Reason: ReasonConfirmed, ReplyID: out.replyID}, nil
}

func (o *Orchestrator) declineAppointment(ctx context.Context, in *conversation.InboundContext, appt *appointments.Appointment, next appointments.Status) (Result, error) {
	out, err := o.applyConfirmation(ctx, in, appt, confirmationChange{
		status:        next,
		clearCalendar: true,
		leadStatus:    leads.StatusContacted,
		intent:        msgcompliance.IntentDecline,
		body:          o.rescheduleBody(appt),
	})
	if errors.Is(err, conversation.ErrDuplicateAutoReply) {
		return processed(ReasonAlreadyReplied), nil
	}
	if err != nil {
		return Result{}, err
	}

	meta := out.auditMeta(in, appt)
	if appt.CalendarEventID != "" && o.calendar != nil {
		meta["calendarEventId"] = appt.CalendarEventID
		if err := o.deleteCalendarEvent(ctx, appt.CalendarEventID); err != nil {
			o.logger.Warn("calendar event delete failed; sync will reconcile",
				"error", err,
				"appointment_id", appt.ID,
				"event_id", appt.CalendarEventID,
			)
			meta["calendarDeleteError"] = err.Error()
		}
	}
	o.record(ctx, compliance.ActionAppointmentReschedule, "appointment", appt.ID, meta)
	o.logger.Info("appointment reschedule requested by reply", "message_id", in.Message.ID, "appointment_id", appt.ID, "reply_id", out.replyID)
	return Result{Status: StatusProcessed, Reason: ReasonRescheduled, ReplyID: out.replyID}, nil
}

func (o *Orchestrator) deleteCalendarEvent(ctx context.Context, eventID string) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.CalendarTimeout)
	defer cancel()
	return o.calendar.DeleteEvent(ctx, eventID)
}

// rescheduleBody links to the public reschedule page, or asks for a new
// time in plain text when no site is configured.
func (o *Orchestrator) rescheduleBody(appt *appointments.Appointment) string {
	base := strings.TrimRight(strings.TrimSpace(o.cfg.PublicBaseURL), "/")
	if base == "" {
		return "No problem. Reply with a day and time that works better and we'll get you rescheduled."
	}
	link := base + "/appointments/" + url.PathEscape(appt.ID) + "/reschedule"
	if appt.RescheduleToken != "" {
		link += "?token=" + url.QueryEscape(appt.RescheduleToken)
	}
	return "No problem. Pick a new time that works for you here: " + link
}

type confirmationChange struct {
	status        appointments.Status
	clearCalendar bool
	leadStatus    leads.Status
	intent        msgcompliance.Intent
	body          string
}

type confirmationOutcome struct {
	replyID          string
	replyChannel     string
	replySkipped     string
	noteID           string
	remindersRemoved int64
}

func (c confirmationOutcome) auditMeta(in *conversation.InboundContext, appt *appointments.Appointment) map[string]any {
	meta := map[string]any{
		"messageId":        in.Message.ID,
		"threadId":         in.Thread.ID,
		"leadId":           appt.LeadID,
		"previousStatus":   string(appt.Status),
		"remindersRemoved": c.remindersRemoved,
	}
	if c.replyID != "" {
		meta["replyMessageId"] = c.replyID
		meta["replyChannel"] = c.replyChannel
	}
	if c.replySkipped != "" {
		meta["replySkipped"] = c.replySkipped
		meta["noteMessageId"] = c.noteID
	}
	return meta
}

// applyConfirmation commits the appointment transition, lead status,
// reminder cleanup and the reply in one transaction. The reply is queued
// regardless of automation mode but never past a kill switch or without a
// destination; in that case an unsent note tagged with the inbound id is
// stored instead so the message is never applied twice.
func (o *Orchestrator) applyConfirmation(ctx context.Context, in *conversation.InboundContext, appt *appointments.Appointment, change confirmationChange) (confirmationOutcome, error) {
	var out confirmationOutcome
	sel, _, err := o.selectChannel(ctx, in)
	if err != nil {
		return out, err
	}

	var r *reply
	if sel == nil {
		out.replySkipped = ReasonNoEligibleChannel
		r = &reply{
			channel: in.Message.Channel,
			body:    confirmationNote(change.intent, out.replySkipped),
			meta: conversation.Metadata{
				Kind: conversation.KindConfirmationLoop,
				Confirmation: &conversation.ConfirmationMeta{
					ToMessageID:   in.Message.ID,
					Intent:        string(change.intent),
					AppointmentID: appt.ID,
					Draft:         true,
				},
			},
		}
	} else {
		delay := o.delay(minDelay, maxDelay)
		r = &reply{
			channel: sel.channel,
			to:      sel.destination,
			subject: o.subjectFor(sel.channel, in),
			body:    change.body,
			send:    true,
			delay:   delay,
			meta: conversation.Metadata{
				Kind: conversation.KindConfirmationLoop,
				Confirmation: &conversation.ConfirmationMeta{
					ToMessageID:   in.Message.ID,
					Intent:        string(change.intent),
					AppointmentID: appt.ID,
					DelayMs:       delay.Milliseconds(),
				},
			},
		}
	}

	err = o.inTx(ctx, func(tx pgx.Tx) error {
		if err := o.appts.UpdateStatus(ctx, tx, appt.ID, change.status, change.clearCalendar); err != nil {
			return fmt.Errorf("autoreply: %w", err)
		}
		if appt.LeadID != "" {
			if err := o.updateLeadStatus(ctx, tx, appt.LeadID, change.leadStatus); err != nil {
				return err
			}
		}
		n, err := o.outbox.DeleteByTypeForAppointment(ctx, tx, events.TypeEstimateReminder, appt.ID)
		if err != nil {
			return fmt.Errorf("autoreply: %w", err)
		}
		out.remindersRemoved = n
		msg, err := o.persistReply(ctx, tx, in, *r)
		if err != nil {
			return err
		}
		if !r.send {
			out.noteID = msg.ID
			return nil
		}
		out.replyID = msg.ID
		out.replyChannel = string(r.channel)
		return nil
	})
	return out, err
}

func confirmationNote(intent msgcompliance.Intent, reason string) string {
	action := "confirmed the appointment"
	if intent == msgcompliance.IntentDecline {
		action = "asked to reschedule"
	}
	return fmt.Sprintf("Customer %s by reply. No automated reply sent (%s).", action, reason)
}

func (o *Orchestrator) updateLeadStatus(ctx context.Context, q db.Querier, leadID string, status leads.Status) error {
	err := o.leads.UpdateStatus(ctx, q, leadID, status)
	if errors.Is(err, leads.ErrLeadNotFound) {
		o.logger.Warn("appointment lead missing; status not updated", "lead_id", leadID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("autoreply: %w", err)
	}
	return nil
}
