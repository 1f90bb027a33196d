package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/haulops-crm/internal/calendar"
	"github.com/wolfman30/haulops-crm/internal/db"
)

// ErrNotFound is returned when an appointment row is missing.
var ErrNotFound = errors.New("appointments: not found")

// Repository reads and writes appointments in Postgres.
type Repository struct {
	pool db.Querier
}

// NewRepository wires the repository to a pgx pool.
func NewRepository(pool db.Querier) *Repository {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &Repository{pool: pool}
}

// FindConfirmable returns the soonest non-terminal appointment for the lead
// (or the contact when leadID is empty) starting within [from, to]. It
// returns nil without error when none qualifies.
func (r *Repository) FindConfirmable(ctx context.Context, leadID, contactID string, from, to time.Time) (*Appointment, error) {
	column, owner := "lead_id", strings.TrimSpace(leadID)
	if owner == "" {
		column, owner = "contact_id", strings.TrimSpace(contactID)
	}
	if owner == "" {
		return nil, nil
	}

	query := `
		SELECT id, COALESCE(lead_id::text, ''), COALESCE(contact_id::text, ''), start_at, status,
			COALESCE(reschedule_token, ''), COALESCE(calendar_event_id, '')
		FROM appointments
		WHERE ` + column + ` = $1
			AND start_at BETWEEN $2 AND $3
			AND status NOT IN ('canceled', 'completed', 'no_show')
		ORDER BY start_at ASC
		LIMIT 1
	`
	var (
		appt   Appointment
		status string
	)
	err := r.pool.QueryRow(ctx, query, owner, from, to).Scan(
		&appt.ID,
		&appt.LeadID,
		&appt.ContactID,
		&appt.StartAt,
		&status,
		&appt.RescheduleToken,
		&appt.CalendarEventID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: find confirmable: %w", err)
	}
	appt.Status = Status(status)
	return &appt, nil
}

// UpdateStatus persists a transition. When clearCalendar is set the stored
// calendar event id is dropped alongside the status change.
func (r *Repository) UpdateStatus(ctx context.Context, q db.Querier, id string, status Status, clearCalendar bool) error {
	query := `UPDATE appointments SET status = $2, updated_at = now() WHERE id = $1`
	if clearCalendar {
		query = `UPDATE appointments SET status = $2, calendar_event_id = NULL, updated_at = now() WHERE id = $1`
	}
	ct, err := db.Pick(q, r.pool).Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("appointments: update status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyCalendarEvent mirrors a remote calendar change onto the appointment
// linked to it. Cancelled events cancel the appointment; moved events update
// start_at. Terminal appointments are left alone.
func (r *Repository) ApplyCalendarEvent(ctx context.Context, evt calendar.Event) error {
	if strings.TrimSpace(evt.ID) == "" {
		return nil
	}
	if evt.Cancelled {
		query := `
			UPDATE appointments
			SET status = 'canceled', calendar_event_id = NULL, updated_at = now()
			WHERE calendar_event_id = $1 AND status NOT IN ('canceled', 'completed', 'no_show')
		`
		if _, err := r.pool.Exec(ctx, query, evt.ID); err != nil {
			return fmt.Errorf("appointments: cancel from calendar: %w", err)
		}
		return nil
	}
	if evt.StartAt.IsZero() {
		return nil
	}
	query := `
		UPDATE appointments
		SET start_at = $2, updated_at = now()
		WHERE calendar_event_id = $1 AND start_at <> $2
			AND status NOT IN ('canceled', 'completed', 'no_show')
	`
	if _, err := r.pool.Exec(ctx, query, evt.ID, evt.StartAt.UTC()); err != nil {
		return fmt.Errorf("appointments: reschedule from calendar: %w", err)
	}
	return nil
}
