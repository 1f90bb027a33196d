// Package autoreply decides, for every inbound conversation message, whether
// automation answers it and how: opt-out handling, the appointment
// confirmation loop, or a templated first-touch reply.
package autoreply

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/haulops-crm/internal/compliance"
	"github.com/wolfman30/haulops-crm/internal/conversation"
	msgcompliance "github.com/wolfman30/haulops-crm/internal/messaging/compliance"
	"github.com/wolfman30/haulops-crm/internal/observability/metrics"
	"github.com/wolfman30/haulops-crm/internal/policy"
	"github.com/wolfman30/haulops-crm/pkg/logging"
)

var tracer = otel.Tracer("haulops.internal.autoreply")

// Status is the terminal outcome of one invocation.
type Status string

const (
	StatusProcessed Status = "processed"
	StatusSkipped   Status = "skipped"
)

// Decision reasons recorded on results, audit events and metrics.
const (
	ReasonMessageNotFound   = "message_not_found"
	ReasonThreadNotFound    = "thread_not_found"
	ReasonNotInbound        = "not_inbound"
	ReasonStopKeyword       = "stop_keyword"
	ReasonConfirmed         = "appointment_confirmed"
	ReasonRescheduled       = "appointment_reschedule_requested"
	ReasonPartnerContact    = "partner_contact"
	ReasonSalesAutopilot    = "sales_autopilot_enabled"
	ReasonNoEligibleChannel = "no_eligible_channel"
	ReasonAlreadyReplied    = "already_replied"
	ReasonExistingOutbound  = "existing_outbound"
	ReasonMissingTemplate   = "missing_template"
	ReasonQueued            = "queued"
	ReasonDraftCreated      = "draft_created"
)

// Result is returned by HandleInboundAutoReply.
type Result struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
	// ReplyID is the outbound message created by this invocation, if any.
	ReplyID string `json:"replyId,omitempty"`
}

func processed(reason string) Result { return Result{Status: StatusProcessed, Reason: reason} }
func skipped(reason string) Result   { return Result{Status: StatusSkipped, Reason: reason} }

// Config carries business settings used when composing replies.
type Config struct {
	BusinessName string
	// Location formats appointment times in confirmation replies.
	Location *time.Location
	// PublicBaseURL builds reschedule links; empty falls back to plain text.
	PublicBaseURL string
	// CalendarTimeout bounds calendar deletions in the decline path.
	CalendarTimeout time.Duration
}

// Deps are the collaborators the orchestrator reads from and writes to.
type Deps struct {
	Pool          TxBeginner
	Conversations ConversationStore
	Leads         LeadStore
	Appointments  AppointmentStore
	Outbox        Outbox
	Policy        policy.Resolver
	Calendar      CalendarSync
	Audit         AuditRecorder
}

// Orchestrator runs the inbound auto-reply decision pipeline.
type Orchestrator struct {
	pool     TxBeginner
	conv     ConversationStore
	leads    LeadStore
	appts    AppointmentStore
	outbox   Outbox
	policy   policy.Resolver
	calendar CalendarSync
	audit    AuditRecorder

	cfg     Config
	delay   DelayFunc
	clock   Clock
	metrics *metrics.AutoReplyMetrics
	logger  *logging.Logger
}

const defaultCalendarTimeout = 10 * time.Second

// New wires an orchestrator. Pool, Conversations, Leads, Outbox and Policy
// are required; Appointments and Calendar are only used by the confirmation
// loop and Audit may be nil in tests.
func New(cfg Config, deps Deps, logger *logging.Logger) *Orchestrator {
	if deps.Pool == nil || deps.Conversations == nil || deps.Leads == nil || deps.Outbox == nil || deps.Policy == nil {
		panic("autoreply: pool, conversations, leads, outbox and policy are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.BusinessName == "" {
		cfg.BusinessName = "our team"
	}
	if cfg.CalendarTimeout <= 0 {
		cfg.CalendarTimeout = defaultCalendarTimeout
	}
	return &Orchestrator{
		pool:     deps.Pool,
		conv:     deps.Conversations,
		leads:    deps.Leads,
		appts:    deps.Appointments,
		outbox:   deps.Outbox,
		policy:   deps.Policy,
		calendar: deps.Calendar,
		audit:    deps.Audit,
		cfg:      cfg,
		delay:    RandomDelay,
		clock:    time.Now,
		logger:   logger,
	}
}

// WithDelay overrides the humanized send delay.
func (o *Orchestrator) WithDelay(fn DelayFunc) *Orchestrator {
	if fn != nil {
		o.delay = fn
	}
	return o
}

// WithClock overrides the time source.
func (o *Orchestrator) WithClock(fn Clock) *Orchestrator {
	if fn != nil {
		o.clock = fn
	}
	return o
}

// WithMetrics records decisions into m.
func (o *Orchestrator) WithMetrics(m *metrics.AutoReplyMetrics) *Orchestrator {
	o.metrics = m
	return o
}

// HandleInboundAutoReply runs the decision pipeline for one inbound message.
// It is safe to call repeatedly and concurrently for the same message id:
// at most one automation reply is ever stored per inbound message.
func (o *Orchestrator) HandleInboundAutoReply(ctx context.Context, messageID string) (res Result, err error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "autoreply.handle_inbound",
		trace.WithAttributes(attribute.String("message.id", messageID)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.metrics.ObserveDecision("error", "", time.Since(started))
		} else {
			span.SetAttributes(
				attribute.String("autoreply.status", string(res.Status)),
				attribute.String("autoreply.reason", res.Reason),
			)
			o.metrics.ObserveDecision(string(res.Status), res.Reason, time.Since(started))
		}
		span.End()
	}()

	return o.handle(ctx, messageID)
}

func (o *Orchestrator) handle(ctx context.Context, messageID string) (Result, error) {
	in, err := o.conv.LoadInboundContext(ctx, messageID)
	switch {
	case errors.Is(err, conversation.ErrMessageNotFound):
		o.logger.Warn("auto reply skipped: message not found", "message_id", messageID)
		return skipped(ReasonMessageNotFound), nil
	case errors.Is(err, conversation.ErrThreadNotFound):
		o.logger.Warn("auto reply skipped: thread not found", "message_id", messageID)
		return skipped(ReasonThreadNotFound), nil
	case err != nil:
		return Result{}, fmt.Errorf("autoreply: load context: %w", err)
	}
	if in.Message.Direction != conversation.DirectionInbound {
		o.logger.Warn("auto reply skipped: message is not inbound",
			"message_id", messageID,
			"direction", in.Message.Direction,
		)
		return skipped(ReasonNotInbound), nil
	}

	if in.Message.Channel.SupportsOptOut() && msgcompliance.IsStopMessage(in.Message.Body) {
		return o.handleStop(ctx, in)
	}

	if res, handled, err := o.handleConfirmation(ctx, in); err != nil || handled {
		return res, err
	}

	if in.Contact.IsPartner() {
		return o.skip(ctx, in, ReasonPartnerContact, nil), nil
	}

	autopilot, err := o.policy.SalesAutopilot(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("autoreply: sales autopilot policy: %w", err)
	}
	if autopilot.Enabled {
		o.record(ctx, compliance.ActionAutoReplyDeferred, "conversation_message", in.Message.ID, map[string]any{
			"reason":   ReasonSalesAutopilot,
			"threadId": in.Thread.ID,
		})
		return processed(ReasonSalesAutopilot), nil
	}

	sel, attempts, err := o.selectChannel(ctx, in)
	if err != nil {
		return Result{}, err
	}
	if sel == nil {
		return o.skip(ctx, in, ReasonNoEligibleChannel, map[string]any{"attempts": attempts}), nil
	}

	replied, err := o.conv.HasAutoReply(ctx, in.Thread.ID, in.Message.ID)
	if err != nil {
		return Result{}, fmt.Errorf("autoreply: %w", err)
	}
	if replied {
		o.logger.Info("auto reply already stored", "message_id", in.Message.ID, "thread_id", in.Thread.ID)
		return processed(ReasonAlreadyReplied), nil
	}
	hasOutbound, err := o.conv.HasOutbound(ctx, in.Thread.ID)
	if err != nil {
		return Result{}, fmt.Errorf("autoreply: %w", err)
	}
	if hasOutbound {
		return o.skip(ctx, in, ReasonExistingOutbound, nil), nil
	}

	return o.replyFirstTouch(ctx, in, sel)
}

// replyFirstTouch resolves the template and persists the reply.
func (o *Orchestrator) replyFirstTouch(ctx context.Context, in *conversation.InboundContext, sel *selection) (Result, error) {
	area, err := o.policy.ServiceArea(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("autoreply: service area policy: %w", err)
	}
	outOfArea := !policy.IsPostalCodeAllowed(policy.NormalizePostalCode(in.Property.PostalCode), area)
	group := policy.GroupFirstTouch
	if outOfArea {
		group = policy.GroupOutOfArea
	}

	templates, err := o.policy.Templates(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("autoreply: templates policy: %w", err)
	}
	body := ""
	if tg, ok := templates.Group(group); ok {
		body, err = policy.ResolveTemplateForChannel(tg, in.Message.Channel, sel.channel)
		if err != nil && !errors.Is(err, policy.ErrTemplateNotFound) {
			return Result{}, fmt.Errorf("autoreply: resolve template: %w", err)
		}
	}
	body = policy.RenderTemplate(body, o.templateVars(in))
	if body == "" {
		return o.skip(ctx, in, ReasonMissingTemplate, map[string]any{
			"templateGroup": string(group),
			"replyChannel":  string(sel.channel),
		}), nil
	}

	send := sel.mode.Sends()
	var delay time.Duration
	if send {
		delay = o.delay(minDelay, maxDelay)
	}
	r := reply{
		channel: sel.channel,
		to:      sel.destination,
		subject: o.subjectFor(sel.channel, in),
		body:    body,
		send:    send,
		delay:   delay,
		meta: conversation.Metadata{
			Kind: conversation.KindAutoReply,
			AutoReply: &conversation.AutoReplyMeta{
				ToMessageID:   in.Message.ID,
				DelayMs:       delay.Milliseconds(),
				Mode:          string(sel.mode),
				Draft:         !send,
				OutOfArea:     outOfArea,
				TemplateGroup: string(group),
				ReplyChannel:  string(sel.channel),
			},
		},
	}

	var msg *conversation.Message
	err = o.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		msg, err = o.persistReply(ctx, tx, in, r)
		return err
	})
	if errors.Is(err, conversation.ErrDuplicateAutoReply) {
		o.logger.Info("auto reply stored by a concurrent invocation", "message_id", in.Message.ID, "thread_id", in.Thread.ID)
		return processed(ReasonAlreadyReplied), nil
	}
	if err != nil {
		return Result{}, err
	}

	action, reason := compliance.ActionAutoReplyQueued, ReasonQueued
	if !send {
		action, reason = compliance.ActionAutoReplyDraftCreated, ReasonDraftCreated
	}
	o.record(ctx, action, "conversation_message", msg.ID, map[string]any{
		"inboundMessageId": in.Message.ID,
		"threadId":         in.Thread.ID,
		"replyChannel":     string(sel.channel),
		"mode":             string(sel.mode),
		"templateGroup":    string(group),
		"outOfArea":        outOfArea,
		"delayMs":          delay.Milliseconds(),
	})
	o.logger.Info("auto reply stored",
		"message_id", in.Message.ID,
		"reply_id", msg.ID,
		"channel", sel.channel,
		"mode", sel.mode,
		"draft", !send,
	)
	return Result{Status: StatusProcessed, Reason: reason, ReplyID: msg.ID}, nil
}

func (o *Orchestrator) templateVars(in *conversation.InboundContext) map[string]string {
	first := in.Contact.FirstName
	if first == "" {
		first = "there"
	}
	return map[string]string{
		"firstName":    first,
		"businessName": o.cfg.BusinessName,
	}
}

// skip audits a policy-driven skip.
func (o *Orchestrator) skip(ctx context.Context, in *conversation.InboundContext, reason string, meta map[string]any) Result {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["reason"] = reason
	meta["threadId"] = in.Thread.ID
	meta["channel"] = string(in.Message.Channel)
	o.record(ctx, compliance.ActionAutoReplySkipped, "conversation_message", in.Message.ID, meta)
	o.logger.Info("auto reply skipped", "message_id", in.Message.ID, "reason", reason)
	return skipped(reason)
}

// record writes an audit event. Failures are logged and never change the
// decision, which has already been committed.
func (o *Orchestrator) record(ctx context.Context, action compliance.Action, entityType, entityID string, meta map[string]any) {
	if o.audit == nil {
		return
	}
	err := o.audit.RecordAuditEvent(ctx, compliance.Record{
		Actor:      compliance.ActorAutomation,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Meta:       meta,
	})
	if err != nil {
		o.logger.Warn("failed to record audit event", "error", err, "action", action, "entity_id", entityID)
	}
}

// inTx runs fn in one transaction, rolling back when fn fails.
func (o *Orchestrator) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("autoreply: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			o.logger.Warn("transaction rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("autoreply: commit: %w", err)
	}
	return nil
}
