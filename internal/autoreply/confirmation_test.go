package autoreply

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/haulops-crm/internal/appointments"
	"github.com/wolfman30/haulops-crm/internal/channels"
	"github.com/wolfman30/haulops-crm/internal/compliance"
	"github.com/wolfman30/haulops-crm/internal/conversation"
	"github.com/wolfman30/haulops-crm/internal/events"
	"github.com/wolfman30/haulops-crm/internal/leads"
	"github.com/wolfman30/haulops-crm/internal/policy"
)

func upcomingAppointment() *appointments.Appointment {
	return &appointments.Appointment{
		ID:              "appt-1",
		LeadID:          "lead-1",
		ContactID:       "contact-1",
		StartAt:         time.Date(2024, 6, 1, 14, 0, 0, 0, time.UTC),
		Status:          appointments.StatusRequested,
		RescheduleToken: "tok 1",
		CalendarEventID: "evt-1",
	}
}

func confirmationHarness(t *testing.T, body string) *harness {
	t.Helper()
	h := newHarness(t, inboundSMS(body))
	h.policy.Confirmation = policy.ConfirmationLoopPolicy{Enabled: true, WindowMinutes: []int{1440, 120}}
	h.appts.appt = upcomingAppointment()
	return h
}

func TestConfirmationLoop_Confirm(t *testing.T) {
	h := confirmationHarness(t, "yes")
	h.outbox.remindersPending = 2
	h.expectCommit()

	res, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, ReasonConfirmed, res.Reason)

	assert.Equal(t, []statusUpdate{{id: "appt-1", status: appointments.StatusConfirmed}}, h.appts.updates)
	assert.Equal(t, leads.StatusScheduled, h.leads.statuses["lead-1"])
	assert.Equal(t, []string{"appt-1"}, h.outbox.deletedForAppt)

	require.Len(t, h.conv.messages, 1)
	msg := h.conv.messages[0]
	assert.Equal(t, channels.SMS, msg.Channel)
	assert.Contains(t, msg.Body, "confirmed")
	assert.Equal(t, "Thanks! You're confirmed for Sat, Jun 1 at 2:00 PM. Reply if you need any changes.", msg.Body)
	require.NotNil(t, msg.Metadata.Confirmation)
	assert.Equal(t, conversation.KindConfirmationLoop, msg.Metadata.Kind)
	assert.Equal(t, "appt-1", msg.Metadata.Confirmation.AppointmentID)
	assert.Equal(t, "msg-1", msg.Metadata.AutoReplyTo())

	require.Len(t, h.outbox.inserted, 1)
	assert.Equal(t, events.TypeMessageSend, h.outbox.inserted[0].eventType)

	rec := h.audit.last(t)
	assert.Equal(t, compliance.ActionAppointmentConfirmed, rec.Action)
	assert.Equal(t, "appointment", rec.EntityType)
	assert.Equal(t, "appt-1", rec.EntityID)
	assert.Equal(t, int64(2), rec.Meta["remindersRemoved"])
	assert.Empty(t, h.calendar.deleted)
	h.verify(t)
}

func TestConfirmationLoop_ConfirmFormatsLocalTime(t *testing.T) {
	h := confirmationHarness(t, "Yep!")
	chicago, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	h.orch.cfg.Location = chicago
	h.expectCommit()

	_, err = h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.NoError(t, err)
	require.Len(t, h.conv.messages, 1)
	assert.Contains(t, h.conv.messages[0].Body, "Sat, Jun 1 at 9:00 AM")
	h.verify(t)
}

func TestConfirmationLoop_ConfirmQueuedEvenInDraftMode(t *testing.T) {
	h := confirmationHarness(t, "ok")
	h.policy.Automation.Modes[channels.SMS] = policy.ModeDraft
	h.expectCommit()

	res, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, ReasonConfirmed, res.Reason)
	assert.Len(t, h.outbox.inserted, 1)
	h.verify(t)
}

func TestConfirmationLoop_ConfirmWithoutReplyWhenKillSwitchSet(t *testing.T) {
	h := confirmationHarness(t, "confirm")
	h.leads.states[stateKey("lead-1", channels.SMS)] = leads.AutomationState{HumanTakeover: true}
	h.expectCommit()

	res, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, ReasonConfirmed, res.Reason)
	assert.Empty(t, res.ReplyID)
	assert.Equal(t, appointments.StatusConfirmed, h.appts.appt.Status)
	assert.Empty(t, h.outbox.inserted)
	assert.Empty(t, h.conv.touched)

	require.Len(t, h.conv.messages, 1)
	note := h.conv.messages[0]
	assert.True(t, note.Metadata.IsDraft())
	assert.Equal(t, "msg-1", note.Metadata.AutoReplyTo())
	assert.Empty(t, note.ToAddress)
	assert.Contains(t, note.Body, "No automated reply sent")

	rec := h.audit.last(t)
	assert.Equal(t, ReasonNoEligibleChannel, rec.Meta["replySkipped"])
	assert.Equal(t, note.ID, rec.Meta["noteMessageId"])
	h.verify(t)
}

func TestConfirmationLoop_DeclineReplayAfterRebookWithKillSwitch(t *testing.T) {
	h := confirmationHarness(t, "no")
	h.leads.states[stateKey("lead-1", channels.SMS)] = leads.AutomationState{HumanTakeover: true}
	h.expectCommit()

	first, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, ReasonRescheduled, first.Reason)
	assert.Equal(t, []string{"evt-1"}, h.calendar.deleted)

	// Staff re-book before the same message is redelivered.
	h.appts.appt.Status = appointments.StatusConfirmed
	h.appts.appt.CalendarEventID = "evt-2"

	second, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, processed(ReasonAlreadyReplied), second)
	assert.Equal(t, appointments.StatusConfirmed, h.appts.appt.Status)
	assert.Equal(t, "evt-2", h.appts.appt.CalendarEventID)
	assert.Equal(t, []string{"evt-1"}, h.calendar.deleted)
	assert.Len(t, h.appts.updates, 1)
	assert.Len(t, h.conv.messages, 1)
	h.verify(t)
}

func TestConfirmationLoop_Decline(t *testing.T) {
	h := confirmationHarness(t, "no thanks")
	h.expectCommit()

	res, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, ReasonRescheduled, res.Reason)

	assert.Equal(t, []statusUpdate{{id: "appt-1", status: appointments.StatusRequested, clearCalendar: true}}, h.appts.updates)
	assert.Equal(t, leads.StatusContacted, h.leads.statuses["lead-1"])
	assert.Equal(t, []string{"evt-1"}, h.calendar.deleted)
	assert.Equal(t, []string{"appt-1"}, h.outbox.deletedForAppt)

	require.Len(t, h.conv.messages, 1)
	assert.Contains(t, h.conv.messages[0].Body, "https://book.example.com/appointments/appt-1/reschedule?token=tok+1")

	rec := h.audit.last(t)
	assert.Equal(t, compliance.ActionAppointmentReschedule, rec.Action)
	assert.Equal(t, "evt-1", rec.Meta["calendarEventId"])
	assert.NotContains(t, rec.Meta, "calendarDeleteError")
	h.verify(t)
}

func TestConfirmationLoop_DeclineSurvivesCalendarFailure(t *testing.T) {
	h := confirmationHarness(t, "Need to reschedule")
	h.calendar.err = errors.New("googleapi: Error 503")
	h.expectCommit()

	res, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, ReasonRescheduled, res.Reason)
	assert.Equal(t, appointments.StatusRequested, h.appts.appt.Status)
	assert.Len(t, h.conv.messages, 1)
	assert.Equal(t, "googleapi: Error 503", h.audit.last(t).Meta["calendarDeleteError"])
	h.verify(t)
}

func TestConfirmationLoop_FallsThrough(t *testing.T) {
	cases := []struct {
		name  string
		setup func(h *harness)
	}{
		{"loop disabled", func(h *harness) { h.policy.Confirmation.Enabled = false }},
		{"no appointment", func(h *harness) { h.appts.appt = nil }},
		{"outside window", func(h *harness) { h.appts.appt.StartAt = testNow.Add(72 * time.Hour) }},
		{"terminal appointment", func(h *harness) { h.appts.appt.Status = appointments.StatusCanceled }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := confirmationHarness(t, "yes")
			tc.setup(h)
			h.expectCommit()

			res, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
			require.NoError(t, err)
			assert.Equal(t, ReasonQueued, res.Reason)
			assert.Empty(t, h.appts.updates)
			require.Len(t, h.conv.messages, 1)
			assert.Equal(t, conversation.KindAutoReply, h.conv.messages[0].Metadata.Kind)
			h.verify(t)
		})
	}
}

func TestConfirmationLoop_WindowBounds(t *testing.T) {
	h := confirmationHarness(t, "yes")
	h.expectCommit()

	_, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(-12*time.Hour), h.appts.from)
	assert.Equal(t, testNow.Add(24*time.Hour+12*time.Hour), h.appts.to)
	h.verify(t)
}

func TestConfirmationLoop_ReplayIsIdempotent(t *testing.T) {
	h := confirmationHarness(t, "yes")
	h.expectCommit()

	first, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, ReasonConfirmed, first.Reason)

	second, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, processed(ReasonAlreadyReplied), second)
	assert.Len(t, h.conv.messages, 1)
	assert.Len(t, h.outbox.inserted, 1)
	assert.Len(t, h.appts.updates, 1)
	h.verify(t)
}

// A reply whose insert still collides (a concurrent handler committed first)
// rolls back the whole transition.
func TestConfirmationLoop_ConcurrentDuplicateRollsBack(t *testing.T) {
	h := confirmationHarness(t, "yes")
	h.conv.insertErr = conversation.ErrDuplicateAutoReply
	h.expectRollback()

	res, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, processed(ReasonAlreadyReplied), res)
	h.verify(t)
}

func TestRescheduleBodyFallback(t *testing.T) {
	h := newHarness(t, nil)
	h.orch.cfg.PublicBaseURL = ""
	body := h.orch.rescheduleBody(upcomingAppointment())
	assert.NotContains(t, body, "http")
	assert.Contains(t, body, "better")

	h.orch.cfg.PublicBaseURL = "https://book.example.com"
	appt := upcomingAppointment()
	appt.RescheduleToken = ""
	assert.Contains(t, h.orch.rescheduleBody(appt), "https://book.example.com/appointments/appt-1/reschedule")
	assert.NotContains(t, h.orch.rescheduleBody(appt), "token=")
}
