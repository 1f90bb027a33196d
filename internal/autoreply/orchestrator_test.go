package autoreply

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/haulops-crm/internal/channels"
	"github.com/wolfman30/haulops-crm/internal/compliance"
	"github.com/wolfman30/haulops-crm/internal/conversation"
	"github.com/wolfman30/haulops-crm/internal/events"
	"github.com/wolfman30/haulops-crm/internal/leads"
	"github.com/wolfman30/haulops-crm/internal/observability/metrics"
	"github.com/wolfman30/haulops-crm/internal/policy"
)

func TestHandleInboundAutoReply_QueuesFirstTouchSMS(t *testing.T) {
	h := newHarness(t, inboundSMS("Hi, can you haul away an old couch?"))
	h.expectCommit()

	res, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, ReasonQueued, res.Reason)
	assert.Equal(t, "reply-1", res.ReplyID)

	require.Len(t, h.conv.messages, 1)
	msg := h.conv.messages[0]
	assert.Equal(t, conversation.DirectionOutbound, msg.Direction)
	assert.Equal(t, channels.SMS, msg.Channel)
	assert.Equal(t, "+12015550123", msg.ToAddress)
	assert.Equal(t, "+12015550100", msg.FromAddress)
	assert.Equal(t, "participant-assistant", msg.ParticipantID)
	assert.Equal(t, conversation.DeliveryQueued, msg.DeliveryStatus)
	assert.Equal(t, "Hi Dana, thanks for reaching out to Acme Hauling!", msg.Body)
	assert.Empty(t, msg.Subject)

	require.NotNil(t, msg.Metadata.AutoReply)
	assert.Equal(t, "msg-1", msg.Metadata.AutoReplyTo())
	assert.False(t, msg.Metadata.IsDraft())
	assert.Equal(t, testDelay.Milliseconds(), msg.Metadata.AutoReply.DelayMs)
	assert.Equal(t, string(policy.GroupFirstTouch), msg.Metadata.AutoReply.TemplateGroup)
	assert.Equal(t, "SM123", msg.Metadata.Extra["providerMessageId"])

	require.Len(t, h.outbox.inserted, 1)
	assert.Equal(t, events.TypeMessageSend, h.outbox.inserted[0].eventType)
	assert.Equal(t, events.MessageSendPayload{MessageID: "reply-1"}, h.outbox.inserted[0].payload)
	assert.Equal(t, testNow.Add(testDelay), h.outbox.inserted[0].next)
	assert.Equal(t, []string{"thread-1"}, h.conv.touched)

	rec := h.audit.last(t)
	assert.Equal(t, compliance.ActionAutoReplyQueued, rec.Action)
	assert.Equal(t, compliance.ActorAutomation, rec.Actor)
	assert.Equal(t, "reply-1", rec.EntityID)
	h.verify(t)
}

func TestHandleInboundAutoReply_Idempotent(t *testing.T) {
	h := newHarness(t, inboundSMS("Need a quote for yard waste"))
	h.expectCommit()

	first, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.NoError(t, err)
	require.Equal(t, StatusProcessed, first.Status)

	second, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, second.Status)
	assert.Equal(t, ReasonAlreadyReplied, second.Reason)

	require.Len(t, h.conv.messages, 1)
	assert.Equal(t, "msg-1", h.conv.messages[0].Metadata.AutoReplyTo())
	assert.Len(t, h.outbox.inserted, 1)
	h.verify(t)
}

func TestHandleInboundAutoReply_ConcurrentDuplicateRollsBack(t *testing.T) {
	h := newHarness(t, inboundSMS("Hello"))
	h.conv.insertErr = conversation.ErrDuplicateAutoReply
	h.expectRollback()

	res, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, ReasonAlreadyReplied, res.Reason)
	assert.Empty(t, h.outbox.inserted)
	assert.Empty(t, h.audit.records)
	h.verify(t)
}

func TestHandleInboundAutoReply_TransactionalFailurePropagates(t *testing.T) {
	h := newHarness(t, inboundSMS("Hello"))
	h.conv.insertErr = errors.New("connection reset")
	h.expectRollback()

	_, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.Error(t, err)
	assert.Empty(t, h.outbox.inserted)
	assert.Empty(t, h.audit.records)
	h.verify(t)
}

func TestHandleInboundAutoReply_DraftMode(t *testing.T) {
	h := newHarness(t, inboundSMS("Do you take mattresses?"))
	h.policy.Automation.Modes[channels.SMS] = policy.ModeDraft
	h.expectCommit()

	res, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, ReasonDraftCreated, res.Reason)

	require.Len(t, h.conv.messages, 1)
	assert.True(t, h.conv.messages[0].Metadata.IsDraft())
	assert.Equal(t, int64(0), h.conv.messages[0].Metadata.AutoReply.DelayMs)
	assert.Empty(t, h.outbox.inserted)
	assert.Empty(t, h.conv.touched)
	assert.Equal(t, compliance.ActionAutoReplyDraftCreated, h.audit.last(t).Action)
	h.verify(t)
}

func TestHandleInboundAutoReply_StopPrecedence(t *testing.T) {
	for _, mode := range []policy.Mode{policy.ModeDraft, policy.ModeAuto} {
		t.Run(string(mode), func(t *testing.T) {
			h := newHarness(t, inboundSMS("STOP"))
			h.policy.Automation.Modes[channels.SMS] = mode
			h.policy.Confirmation = policy.ConfirmationLoopPolicy{Enabled: true}
			h.leads.contact = []string{"lead-1", "lead-2"}
			h.outbox.followupsPending = 3
			h.expectCommit()

			res, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
			require.NoError(t, err)
			assert.Equal(t, StatusProcessed, res.Status)
			assert.Equal(t, ReasonStopKeyword, res.Reason)

			for _, leadID := range []string{"lead-1", "lead-2"} {
				st := h.leads.states[stateKey(leadID, channels.SMS)]
				assert.True(t, st.DNC, leadID)
				assert.True(t, st.Paused, leadID)
				assert.False(t, st.HumanTakeover, leadID)
				assert.Equal(t, leads.FollowupStopped, st.FollowupState)
			}
			assert.Equal(t, [][]string{{"lead-1", "lead-2"}}, h.outbox.deletedForLeads)
			assert.Empty(t, h.conv.messages)
			assert.Empty(t, h.outbox.inserted)

			rec := h.audit.last(t)
			assert.Equal(t, compliance.ActionDoNotContactApplied, rec.Action)
			assert.Equal(t, "contact-1", rec.EntityID)
			assert.Equal(t, int64(3), rec.Meta["followupsRemoved"])
			h.verify(t)
		})
	}
}

func TestHandleInboundAutoReply_StopIgnoredOnDM(t *testing.T) {
	in := inboundSMS("stop by tomorrow?")
	in.Message.Channel = channels.DM
	in.Message.FromAddress = "ig:dana"
	h := newHarness(t, in)
	h.expectCommit()

	res, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, ReasonQueued, res.Reason)
	assert.Empty(t, h.leads.dnc)
	require.Len(t, h.conv.messages, 1)
	assert.Equal(t, "ig:dana", h.conv.messages[0].ToAddress)
	h.verify(t)
}

func TestHandleInboundAutoReply_DataIntegritySkips(t *testing.T) {
	t.Run("missing message", func(t *testing.T) {
		h := newHarness(t, nil)
		res, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-404")
		require.NoError(t, err)
		assert.Equal(t, skipped(ReasonMessageNotFound), res)
		assert.Empty(t, h.audit.records)
	})
	t.Run("missing thread", func(t *testing.T) {
		h := newHarness(t, nil)
		h.conv.loadErr = conversation.ErrThreadNotFound
		res, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
		require.NoError(t, err)
		assert.Equal(t, skipped(ReasonThreadNotFound), res)
		assert.Empty(t, h.audit.records)
	})
	t.Run("outbound message", func(t *testing.T) {
		in := inboundSMS("hello")
		in.Message.Direction = conversation.DirectionOutbound
		h := newHarness(t, in)
		res, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
		require.NoError(t, err)
		assert.Equal(t, skipped(ReasonNotInbound), res)
		assert.Empty(t, h.audit.records)
	})
	t.Run("lookup failure", func(t *testing.T) {
		h := newHarness(t, nil)
		h.conv.loadErr = errors.New("db down")
		_, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
		require.Error(t, err)
	})
}

func TestHandleInboundAutoReply_KillSwitchGating(t *testing.T) {
	h := newHarness(t, inboundSMS("Can you come Friday?"))
	h.leads.states[stateKey("lead-1", channels.SMS)] = leads.AutomationState{Paused: true}

	res, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, skipped(ReasonNoEligibleChannel), res)
	assert.Empty(t, h.conv.messages)
	assert.Empty(t, h.outbox.inserted)

	rec := h.audit.last(t)
	assert.Equal(t, compliance.ActionAutoReplySkipped, rec.Action)
	assert.Equal(t, ReasonNoEligibleChannel, rec.Meta["reason"])
	assert.Equal(t, []attempt{{Channel: "sms", Reason: "paused"}}, rec.Meta["attempts"])
	h.verify(t)
}

func TestHandleInboundAutoReply_WebFallsBackToEmail(t *testing.T) {
	in := inboundSMS("Quote request from the website")
	in.Message.Channel = channels.Web
	in.Thread.Subject = "Website quote"
	h := newHarness(t, in)
	h.leads.states[stateKey("lead-1", channels.SMS)] = leads.AutomationState{DNC: true}
	h.expectCommit()

	res, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, ReasonQueued, res.Reason)
	require.Len(t, h.conv.messages, 1)
	msg := h.conv.messages[0]
	assert.Equal(t, channels.Email, msg.Channel)
	assert.Equal(t, "dana@example.com", msg.ToAddress)
	assert.Equal(t, "Re: Website quote", msg.Subject)
	assert.Contains(t, msg.Body, "thanks for your email")
	h.verify(t)
}

func TestHandleInboundAutoReply_MissingDestination(t *testing.T) {
	in := inboundSMS("hello")
	in.Message.Channel = channels.Web
	in.Contact.Phone = ""
	in.Contact.Email = ""
	h := newHarness(t, in)

	res, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, skipped(ReasonNoEligibleChannel), res)
	assert.Equal(t, []attempt{
		{Channel: "sms", Reason: "missing_destination"},
		{Channel: "email", Reason: "missing_destination"},
	}, h.audit.last(t).Meta["attempts"])
}

func TestHandleInboundAutoReply_PolicySkips(t *testing.T) {
	t.Run("partner contact", func(t *testing.T) {
		in := inboundSMS("Sending you a referral")
		in.Contact.PartnerStatus = "partner"
		h := newHarness(t, in)
		res, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
		require.NoError(t, err)
		assert.Equal(t, skipped(ReasonPartnerContact), res)
		assert.Equal(t, ReasonPartnerContact, h.audit.last(t).Meta["reason"])
		assert.Empty(t, h.conv.messages)
	})
	t.Run("sales autopilot", func(t *testing.T) {
		h := newHarness(t, inboundSMS("hello"))
		h.policy.Autopilot = policy.SalesAutopilotPolicy{Enabled: true}
		res, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
		require.NoError(t, err)
		assert.Equal(t, processed(ReasonSalesAutopilot), res)
		rec := h.audit.last(t)
		assert.Equal(t, compliance.ActionAutoReplyDeferred, rec.Action)
		assert.Equal(t, ReasonSalesAutopilot, rec.Meta["reason"])
		assert.Empty(t, h.conv.messages)
	})
	t.Run("existing outbound", func(t *testing.T) {
		h := newHarness(t, inboundSMS("hello"))
		h.conv.priorOutbound = true
		res, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
		require.NoError(t, err)
		assert.Equal(t, skipped(ReasonExistingOutbound), res)
		assert.Equal(t, ReasonExistingOutbound, h.audit.last(t).Meta["reason"])
		assert.Empty(t, h.conv.messages)
	})
	t.Run("missing template", func(t *testing.T) {
		h := newHarness(t, inboundSMS("hello"))
		h.policy.TemplateGroups = policy.TemplatesPolicy{}
		res, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
		require.NoError(t, err)
		assert.Equal(t, skipped(ReasonMissingTemplate), res)
		rec := h.audit.last(t)
		assert.Equal(t, ReasonMissingTemplate, rec.Meta["reason"])
		assert.Equal(t, "first_touch", rec.Meta["templateGroup"])
	})
}

func TestHandleInboundAutoReply_OutOfAreaEmail(t *testing.T) {
	in := inboundEmail("Can you pick up a couch in Beverly Hills?", "Couch pickup")
	in.Property.PostalCode = "90210-1234"
	h := newHarness(t, in)
	h.orch.WithDelay(RandomDelay)
	h.policy.Area = policy.ServiceAreaPolicy{Enabled: true, PostalCodes: []string{"78701", "78702"}}
	h.expectCommit()

	res, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, ReasonQueued, res.Reason)

	require.Len(t, h.conv.messages, 1)
	msg := h.conv.messages[0]
	assert.Equal(t, channels.Email, msg.Channel)
	assert.Equal(t, "Re: Couch pickup", msg.Subject)
	assert.Equal(t, "Hi Dana, unfortunately that address is outside the area Acme Hauling serves.", msg.Body)
	assert.True(t, msg.Metadata.AutoReply.OutOfArea)
	assert.Equal(t, string(policy.GroupOutOfArea), msg.Metadata.AutoReply.TemplateGroup)

	require.Len(t, h.outbox.inserted, 1)
	delay := h.outbox.inserted[0].next.Sub(msg.CreatedAt)
	assert.GreaterOrEqual(t, delay, 10*time.Second)
	assert.LessOrEqual(t, delay, 30*time.Second)
	h.verify(t)
}

func TestHandleInboundAutoReply_AuditFailureDoesNotChangeResult(t *testing.T) {
	h := newHarness(t, inboundSMS("hello"))
	h.audit.err = errors.New("audit db unavailable")
	h.expectCommit()

	res, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, ReasonQueued, res.Reason)
	h.verify(t)
}

func TestHandleInboundAutoReply_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHarness(t, inboundSMS("hello"))
	h.orch.WithMetrics(metrics.NewAutoReplyMetrics(reg))
	h.conv.priorOutbound = true

	_, err := h.orch.HandleInboundAutoReply(context.Background(), "msg-1")
	require.NoError(t, err)

	snap, err := metrics.DecisionSnapshot(reg)
	require.NoError(t, err)
	assert.Equal(t, []metrics.DecisionCount{{Status: "skipped", Reason: ReasonExistingOutbound, Count: 1}}, snap)
}

func TestSubjectFor(t *testing.T) {
	h := newHarness(t, nil)
	in := inboundEmail("hi", "RE: Estimate")
	assert.Equal(t, "RE: Estimate", h.orch.subjectFor(channels.Email, in))

	in.Message.Subject = ""
	assert.Equal(t, "Acme Hauling", h.orch.subjectFor(channels.Email, in))
	assert.Empty(t, h.orch.subjectFor(channels.SMS, in))
}

func TestDestinationFor(t *testing.T) {
	in := inboundSMS("hi")
	in.Contact.Phone = "not a phone"
	assert.Equal(t, "+12015550123", destinationFor(channels.SMS, in), "falls back to the inbound sender")

	in.Message.Channel = channels.Web
	assert.Empty(t, destinationFor(channels.SMS, in))
	assert.Empty(t, destinationFor(channels.Call, in))
}
