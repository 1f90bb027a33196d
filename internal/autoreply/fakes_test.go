package autoreply

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/haulops-crm/internal/appointments"
	"github.com/wolfman30/haulops-crm/internal/channels"
	"github.com/wolfman30/haulops-crm/internal/compliance"
	"github.com/wolfman30/haulops-crm/internal/conversation"
	"github.com/wolfman30/haulops-crm/internal/db"
	"github.com/wolfman30/haulops-crm/internal/leads"
	"github.com/wolfman30/haulops-crm/internal/policy"
)

type fakeConversations struct {
	mu            sync.Mutex
	ctx           *conversation.InboundContext
	loadErr       error
	priorOutbound bool
	participants  int
	messages      []*conversation.Message
	touched       []string
	insertErr     error
}

func (f *fakeConversations) LoadInboundContext(_ context.Context, messageID string) (*conversation.InboundContext, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if f.ctx == nil || f.ctx.Message.ID != messageID {
		return nil, conversation.ErrMessageNotFound
	}
	cp := *f.ctx
	return &cp, nil
}

func (f *fakeConversations) HasAutoReply(_ context.Context, threadID, inboundID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ThreadID == threadID && m.Metadata.AutoReplyTo() == inboundID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeConversations) HasOutbound(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.priorOutbound || len(f.messages) > 0, nil
}

func (f *fakeConversations) EnsureSystemParticipant(context.Context, db.Querier, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.participants++
	return "participant-assistant", nil
}

func (f *fakeConversations) InsertMessage(_ context.Context, _ db.Querier, msg *conversation.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	for _, m := range f.messages {
		if m.ThreadID == msg.ThreadID && m.Metadata.AutoReplyTo() == msg.Metadata.AutoReplyTo() {
			return conversation.ErrDuplicateAutoReply
		}
	}
	msg.ID = fmt.Sprintf("reply-%d", len(f.messages)+1)
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeConversations) TouchThread(_ context.Context, _ db.Querier, threadID, _ string, _ time.Time) error {
	f.touched = append(f.touched, threadID)
	return nil
}

type dncCall struct {
	leadID  string
	channel channels.Channel
}

type fakeLeads struct {
	states   map[string]leads.AutomationState
	contact  []string
	dnc      []dncCall
	statuses map[string]leads.Status
}

func newFakeLeads() *fakeLeads {
	return &fakeLeads{
		states:   map[string]leads.AutomationState{},
		statuses: map[string]leads.Status{},
	}
}

func stateKey(leadID string, ch channels.Channel) string { return leadID + "|" + string(ch) }

func (f *fakeLeads) GetAutomationState(_ context.Context, leadID string, ch channels.Channel) (leads.AutomationState, error) {
	return f.states[stateKey(leadID, ch)], nil
}

func (f *fakeLeads) ApplyDoNotContact(_ context.Context, _ db.Querier, leadID string, ch channels.Channel, _ time.Time) error {
	f.dnc = append(f.dnc, dncCall{leadID: leadID, channel: ch})
	st := f.states[stateKey(leadID, ch)]
	st.LeadID, st.Channel = leadID, ch
	st.Paused, st.DNC, st.HumanTakeover = true, true, false
	st.FollowupState, st.FollowupStep, st.NextFollowupAt = leads.FollowupStopped, 0, nil
	f.states[stateKey(leadID, ch)] = st
	return nil
}

func (f *fakeLeads) LeadIDsForContact(_ context.Context, _ string, primary string) ([]string, error) {
	out := []string{}
	if primary != "" {
		out = append(out, primary)
	}
	for _, id := range f.contact {
		if id != primary {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *fakeLeads) UpdateStatus(_ context.Context, _ db.Querier, leadID string, status leads.Status) error {
	f.statuses[leadID] = status
	return nil
}

type statusUpdate struct {
	id            string
	status        appointments.Status
	clearCalendar bool
}

type fakeAppointments struct {
	appt    *appointments.Appointment
	from    time.Time
	to      time.Time
	updates []statusUpdate
}

func (f *fakeAppointments) FindConfirmable(_ context.Context, _, _ string, from, to time.Time) (*appointments.Appointment, error) {
	f.from, f.to = from, to
	if f.appt == nil || f.appt.StartAt.Before(from) || f.appt.StartAt.After(to) || f.appt.Status.Terminal() {
		return nil, nil
	}
	cp := *f.appt
	return &cp, nil
}

func (f *fakeAppointments) UpdateStatus(_ context.Context, _ db.Querier, id string, status appointments.Status, clearCalendar bool) error {
	f.updates = append(f.updates, statusUpdate{id: id, status: status, clearCalendar: clearCalendar})
	f.appt.Status = status
	if clearCalendar {
		f.appt.CalendarEventID = ""
	}
	return nil
}

type outboxInsert struct {
	eventType string
	payload   any
	next      time.Time
}

type fakeOutbox struct {
	inserted         []outboxInsert
	deletedForLeads  [][]string
	deletedForAppt   []string
	followupsPending int64
	remindersPending int64
}

func (f *fakeOutbox) Insert(_ context.Context, _ db.Querier, eventType string, payload any, next time.Time) (uuid.UUID, error) {
	f.inserted = append(f.inserted, outboxInsert{eventType: eventType, payload: payload, next: next})
	return uuid.New(), nil
}

func (f *fakeOutbox) DeleteByTypeForLeads(_ context.Context, _ db.Querier, _ string, leadIDs []string) (int64, error) {
	f.deletedForLeads = append(f.deletedForLeads, leadIDs)
	n := f.followupsPending
	f.followupsPending = 0
	return n, nil
}

func (f *fakeOutbox) DeleteByTypeForAppointment(_ context.Context, _ db.Querier, _ string, id string) (int64, error) {
	f.deletedForAppt = append(f.deletedForAppt, id)
	n := f.remindersPending
	f.remindersPending = 0
	return n, nil
}

type fakeCalendar struct {
	deleted []string
	err     error
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return f.err
}

type fakeAudit struct {
	records []compliance.Record
	err     error
}

func (f *fakeAudit) RecordAuditEvent(_ context.Context, rec compliance.Record) error {
	f.records = append(f.records, rec)
	return f.err
}

func (f *fakeAudit) last(t *testing.T) compliance.Record {
	t.Helper()
	require.NotEmpty(t, f.records, "expected an audit record")
	return f.records[len(f.records)-1]
}

var testNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

const testDelay = 17 * time.Second

type harness struct {
	orch     *Orchestrator
	pool     pgxmock.PgxPoolIface
	conv     *fakeConversations
	leads    *fakeLeads
	appts    *fakeAppointments
	outbox   *fakeOutbox
	calendar *fakeCalendar
	audit    *fakeAudit
	policy   *policy.Static
}

func newHarness(t *testing.T, in *conversation.InboundContext) *harness {
	t.Helper()
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	h := &harness{
		pool:     pool,
		conv:     &fakeConversations{ctx: in},
		leads:    newFakeLeads(),
		appts:    &fakeAppointments{},
		outbox:   &fakeOutbox{},
		calendar: &fakeCalendar{},
		audit:    &fakeAudit{},
		policy: &policy.Static{
			Automation: policy.AutomationSettings{Modes: map[channels.Channel]policy.Mode{
				channels.SMS:   policy.ModeAuto,
				channels.Email: policy.ModeAuto,
				channels.DM:    policy.ModeAuto,
			}},
			TemplateGroups: policy.TemplatesPolicy{Groups: map[policy.TemplateGroupName]policy.TemplateGroup{
				policy.GroupFirstTouch: {
					Default:  "Hi {{firstName}}, thanks for reaching out to {{businessName}}!",
					Channels: map[string]string{"email": "Hi {{firstName}}, thanks for your email. {{businessName}} will send a quote shortly."},
				},
				policy.GroupOutOfArea: {
					Default: "Hi {{firstName}}, unfortunately that address is outside the area {{businessName}} serves.",
				},
			}},
		},
	}
	h.orch = New(Config{
		BusinessName:  "Acme Hauling",
		PublicBaseURL: "https://book.example.com/",
	}, Deps{
		Pool:          pool,
		Conversations: h.conv,
		Leads:         h.leads,
		Appointments:  h.appts,
		Outbox:        h.outbox,
		Policy:        h.policy,
		Calendar:      h.calendar,
		Audit:         h.audit,
	}, nil).
		WithClock(func() time.Time { return testNow }).
		WithDelay(FixedDelay(testDelay))
	return h
}

func (h *harness) expectCommit() {
	h.pool.ExpectBegin()
	h.pool.ExpectCommit()
}

func (h *harness) expectRollback() {
	h.pool.ExpectBegin()
	h.pool.ExpectRollback()
}

func (h *harness) verify(t *testing.T) {
	t.Helper()
	require.NoError(t, h.pool.ExpectationsWereMet())
}

func inboundSMS(body string) *conversation.InboundContext {
	return &conversation.InboundContext{
		Message: conversation.Message{
			ID:          "msg-1",
			ThreadID:    "thread-1",
			Direction:   conversation.DirectionInbound,
			Channel:     channels.SMS,
			Body:        body,
			FromAddress: "+12015550123",
			ToAddress:   "+12015550100",
			Metadata: conversation.Metadata{
				Kind:  conversation.KindPlain,
				Extra: map[string]any{"providerMessageId": "SM123"},
			},
		},
		Thread: conversation.Thread{ID: "thread-1", ContactID: "contact-1", LeadID: "lead-1", Channel: "sms"},
		Contact: conversation.Contact{
			ID:        "contact-1",
			FirstName: "Dana",
			Phone:     "(201) 555-0123",
			Email:     "dana@example.com",
		},
		Property: conversation.Property{ID: "prop-1", PostalCode: "78701"},
	}
}

func inboundEmail(body, subject string) *conversation.InboundContext {
	in := inboundSMS(body)
	in.Message.Channel = channels.Email
	in.Message.Subject = subject
	in.Message.FromAddress = "dana@example.com"
	in.Message.ToAddress = "crew@acmehauling.example"
	in.Thread.Channel = "email"
	return in
}
