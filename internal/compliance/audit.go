// Package compliance records the append-only audit trail of automation decisions.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action names an audited decision.
type Action string

const (
	ActionAutoReplySkipped      Action = "auto_reply.skipped"
	ActionAutoReplyQueued       Action = "auto_reply.queued"
	ActionAutoReplyDraftCreated Action = "auto_reply.draft_created"
	ActionAutoReplyDeferred     Action = "auto_reply.deferred"
	ActionDoNotContactApplied   Action = "lead.dnc_applied"
	ActionAppointmentConfirmed  Action = "appointment.confirmed"
	ActionAppointmentReschedule Action = "appointment.reschedule_requested"
)

// ActorAutomation is the actor recorded for pipeline decisions.
const ActorAutomation = "system:auto_reply"

// AuditEvent is an immutable audit record.
type AuditEvent struct {
	ID         string          `json:"id"`
	Actor      string          `json:"actor"`
	Action     Action          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id,omitempty"`
	Meta       json.RawMessage `json:"meta,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Record is the input to RecordAuditEvent.
type Record struct {
	Actor      string
	Action     Action
	EntityType string
	EntityID   string
	Meta       map[string]any
}

// AuditService writes and reads audit_events.
type AuditService struct {
	db  *sql.DB
	now func() time.Time
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db, now: time.Now}
}

// RecordAuditEvent appends one event built from rec.
func (s *AuditService) RecordAuditEvent(ctx context.Context, rec Record) error {
	if rec.Action == "" {
		return errors.New("compliance: audit action required")
	}
	var meta json.RawMessage
	if len(rec.Meta) > 0 {
		raw, err := json.Marshal(rec.Meta)
		if err != nil {
			return fmt.Errorf("compliance: encode audit meta: %w", err)
		}
		meta = raw
	}
	actor := rec.Actor
	if actor == "" {
		actor = ActorAutomation
	}
	return s.LogEvent(ctx, AuditEvent{
		Actor:      actor,
		Action:     rec.Action,
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Meta:       meta,
	})
}

// LogEvent inserts a fully formed event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if s == nil || s.db == nil {
		return errors.New("compliance: audit database not configured")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}
	var meta any
	if len(event.Meta) > 0 {
		meta = []byte(event.Meta)
	}

	query := `
		INSERT INTO audit_events (id, actor, action, entity_type, entity_id, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Actor,
		string(event.Action),
		event.EntityType,
		nullString(event.EntityID),
		meta,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}
	return nil
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	EntityType string
	EntityID   string
	Action     Action
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
	Offset     int
}

// QueryEvents retrieves audit events, newest first.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, actor, action, entity_type, entity_id, meta, created_at
		FROM audit_events
		WHERE 1 = 1
	`
	var args []interface{}
	argIdx := 1

	if filter.EntityType != "" {
		query += fmt.Sprintf(" AND entity_type = $%d", argIdx)
		args = append(args, filter.EntityType)
		argIdx++
	}
	if filter.EntityID != "" {
		query += fmt.Sprintf(" AND entity_id = $%d", argIdx)
		args = append(args, filter.EntityID)
		argIdx++
	}
	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, string(filter.Action))
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var (
			e        AuditEvent
			action   string
			entityID sql.NullString
			meta     []byte
		)
		if err := rows.Scan(&e.ID, &e.Actor, &action, &e.EntityType, &entityID, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.Action = Action(action)
		e.EntityID = entityID.String
		if len(meta) > 0 {
			e.Meta = append(json.RawMessage(nil), meta...)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compliance: iterate audit events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
