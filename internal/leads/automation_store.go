package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/haulops-crm/internal/channels"
	"github.com/wolfman30/haulops-crm/internal/db"
)

// AutomationStore persists lead kill switches and lead status in Postgres.
type AutomationStore struct {
	pool db.Querier
}

// NewAutomationStore initializes a store backed by a pgx pool.
func NewAutomationStore(pool db.Querier) *AutomationStore {
	if pool == nil {
		panic("leads: pgx pool required")
	}
	return &AutomationStore{pool: pool}
}

// GetAutomationState reads the (lead, channel) row, returning the zero state
// when none exists yet.
func (s *AutomationStore) GetAutomationState(ctx context.Context, leadID string, ch channels.Channel) (AutomationState, error) {
	state := AutomationState{LeadID: leadID, Channel: ch}
	if strings.TrimSpace(leadID) == "" {
		return state, nil
	}
	query := `
		SELECT paused, dnc, human_takeover, followup_state, followup_step, next_followup_at, paused_at
		FROM lead_automation_state
		WHERE lead_id = $1 AND channel = $2
	`
	err := s.pool.QueryRow(ctx, query, leadID, string(ch)).Scan(
		&state.Paused,
		&state.DNC,
		&state.HumanTakeover,
		&state.FollowupState,
		&state.FollowupStep,
		&state.NextFollowupAt,
		&state.PausedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("leads: get automation state: %w", err)
	}
	return state, nil
}

// ApplyDoNotContact marks the lead as opted out on ch. Re-applying is a no-op
// apart from refreshing updated_at; paused_at keeps its first value.
func (s *AutomationStore) ApplyDoNotContact(ctx context.Context, q db.Querier, leadID string, ch channels.Channel, at time.Time) error {
	if strings.TrimSpace(leadID) == "" {
		return ErrMissingLeadID
	}
	query := `
		INSERT INTO lead_automation_state (
			lead_id, channel, paused, dnc, human_takeover,
			followup_state, followup_step, next_followup_at, paused_at, updated_at
		)
		VALUES ($1, $2, true, true, false, $3, 0, NULL, $4, $4)
		ON CONFLICT (lead_id, channel) DO UPDATE
		SET paused = true,
			dnc = true,
			human_takeover = false,
			followup_state = EXCLUDED.followup_state,
			followup_step = 0,
			next_followup_at = NULL,
			paused_at = COALESCE(lead_automation_state.paused_at, EXCLUDED.paused_at),
			updated_at = EXCLUDED.updated_at
	`
	if _, err := db.Pick(q, s.pool).Exec(ctx, query, leadID, string(ch), FollowupStopped, at); err != nil {
		return fmt.Errorf("leads: apply do-not-contact: %w", err)
	}
	return nil
}

// LeadIDsForContact returns primaryLeadID (when set) followed by every other
// lead attached to the contact, without duplicates.
func (s *AutomationStore) LeadIDsForContact(ctx context.Context, contactID, primaryLeadID string) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	add(primaryLeadID)
	if strings.TrimSpace(contactID) == "" {
		return ids, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT id FROM leads WHERE contact_id = $1 ORDER BY created_at`, contactID)
	if err != nil {
		return nil, fmt.Errorf("leads: list by contact: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("leads: scan lead id: %w", err)
		}
		add(id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leads: iterate leads: %w", err)
	}
	return ids, nil
}

// UpdateStatus moves the lead to a new pipeline stage.
func (s *AutomationStore) UpdateStatus(ctx context.Context, q db.Querier, leadID string, status Status) error {
	query := `UPDATE leads SET status = $2, updated_at = now() WHERE id = $1`
	ct, err := db.Pick(q, s.pool).Exec(ctx, query, leadID, string(status))
	if err != nil {
		return fmt.Errorf("leads: update status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrLeadNotFound
	}
	return nil
}
