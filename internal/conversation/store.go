package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/haulops-crm/internal/channels"
	"github.com/wolfman30/haulops-crm/internal/db"
)

// AutoReplyIndex is the partial unique index guaranteeing one automation
// reply per (thread, inbound message).
const AutoReplyIndex = "conversation_messages_auto_reply_uniq"

var (
	// ErrMessageNotFound is returned when a message id does not resolve.
	ErrMessageNotFound = errors.New("conversation: message not found")
	// ErrThreadNotFound is returned when a message's thread is missing.
	ErrThreadNotFound = errors.New("conversation: thread not found")
	// ErrDuplicateAutoReply is returned when another writer already stored
	// the reply for the same inbound message.
	ErrDuplicateAutoReply = errors.New("conversation: auto reply already exists")
)

// Store persists threads, participants and messages in Postgres.
type Store struct {
	pool db.Querier
	now  func() time.Time
}

// NewStore wires the conversation store to a pgx pool.
func NewStore(pool db.Querier) *Store {
	if pool == nil {
		panic("conversation: pgx pool required")
	}
	return &Store{pool: pool, now: time.Now}
}

const messageColumns = `
	id, thread_id, COALESCE(participant_id::text, ''), direction, channel,
	COALESCE(subject, ''), body, COALESCE(to_address, ''), COALESCE(from_address, ''),
	delivery_status, metadata, created_at
`

// GetMessage loads a single message by id.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	if strings.TrimSpace(messageID) == "" {
		return nil, ErrMessageNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM conversation_messages WHERE id = $1`, messageID)
	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: get message: %w", err)
	}
	return msg, nil
}

// LoadInboundContext joins message, thread, contact and property. The
// property is optional; a missing thread yields ErrThreadNotFound.
func (s *Store) LoadInboundContext(ctx context.Context, messageID string) (*InboundContext, error) {
	msg, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT t.id, t.contact_id, COALESCE(t.lead_id::text, ''), COALESCE(t.subject, ''), t.channel,
			t.last_message_at, COALESCE(t.last_message_preview, ''),
			c.id, COALESCE(c.first_name, ''), COALESCE(c.phone, ''), COALESCE(c.email, ''),
			COALESCE(c.partner_status, ''),
			COALESCE(p.id::text, ''), COALESCE(p.postal_code, '')
		FROM conversation_threads t
		JOIN contacts c ON c.id = t.contact_id
		LEFT JOIN LATERAL (
			SELECT id, postal_code FROM properties
			WHERE contact_id = c.id
			ORDER BY created_at
			LIMIT 1
		) p ON true
		WHERE t.id = $1
	`
	out := &InboundContext{Message: *msg}
	err = s.pool.QueryRow(ctx, query, msg.ThreadID).Scan(
		&out.Thread.ID,
		&out.Thread.ContactID,
		&out.Thread.LeadID,
		&out.Thread.Subject,
		&out.Thread.Channel,
		&out.Thread.LastMessageAt,
		&out.Thread.LastMessagePreview,
		&out.Contact.ID,
		&out.Contact.FirstName,
		&out.Contact.Phone,
		&out.Contact.Email,
		&out.Contact.PartnerStatus,
		&out.Property.ID,
		&out.Property.PostalCode,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: load thread context: %w", err)
	}
	return out, nil
}

// HasAutoReply reports whether the thread already holds an outbound reply
// tagged with inboundID.
func (s *Store) HasAutoReply(ctx context.Context, threadID, inboundID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM conversation_messages
			WHERE thread_id = $1 AND direction = 'outbound'
				AND metadata->>'autoReplyToMessageId' = $2
		)
	`
	var exists bool
	if err := s.pool.QueryRow(ctx, query, threadID, inboundID).Scan(&exists); err != nil {
		return false, fmt.Errorf("conversation: check auto reply: %w", err)
	}
	return exists, nil
}

// HasOutbound reports whether any outbound message exists in the thread.
func (s *Store) HasOutbound(ctx context.Context, threadID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM conversation_messages WHERE thread_id = $1 AND direction = 'outbound')`
	var exists bool
	if err := s.pool.QueryRow(ctx, query, threadID).Scan(&exists); err != nil {
		return false, fmt.Errorf("conversation: check outbound: %w", err)
	}
	return exists, nil
}

// EnsureSystemParticipant returns the thread's active assistant participant,
// creating it when absent. Concurrent creators converge on a single row via
// conversation_participants_system_uniq.
func (s *Store) EnsureSystemParticipant(ctx context.Context, q db.Querier, threadID string) (string, error) {
	q = db.Pick(q, s.pool)
	selectQuery := `
		SELECT id FROM conversation_participants
		WHERE thread_id = $1 AND kind = 'system' AND left_at IS NULL
		LIMIT 1
	`
	var id string
	err := q.QueryRow(ctx, selectQuery, threadID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("conversation: find system participant: %w", err)
	}

	insertQuery := `
		INSERT INTO conversation_participants (id, thread_id, kind, display_name, joined_at)
		VALUES ($1, $2, 'system', $3, $4)
		ON CONFLICT DO NOTHING
		RETURNING id
	`
	err = q.QueryRow(ctx, insertQuery, uuid.NewString(), threadID, AssistantName, s.now().UTC()).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := q.QueryRow(ctx, selectQuery, threadID).Scan(&id); err != nil {
			return "", fmt.Errorf("conversation: reload system participant: %w", err)
		}
		return id, nil
	}
	if err != nil {
		return "", fmt.Errorf("conversation: create system participant: %w", err)
	}
	return id, nil
}

// InsertMessage stores msg, assigning an id and timestamp when missing.
func (s *Store) InsertMessage(ctx context.Context, q db.Querier, msg *Message) error {
	if msg == nil {
		return errors.New("conversation: message required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("conversation: encode metadata: %w", err)
	}

	query := `
		INSERT INTO conversation_messages (
			id, thread_id, participant_id, direction, channel, subject, body,
			to_address, from_address, delivery_status, metadata, created_at
		)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11, $12)
	`
	_, err = db.Pick(q, s.pool).Exec(ctx, query,
		msg.ID,
		msg.ThreadID,
		msg.ParticipantID,
		string(msg.Direction),
		string(msg.Channel),
		msg.Subject,
		msg.Body,
		msg.ToAddress,
		msg.FromAddress,
		string(msg.DeliveryStatus),
		meta,
		msg.CreatedAt,
	)
	if db.IsUniqueViolation(err, AutoReplyIndex) {
		return ErrDuplicateAutoReply
	}
	if err != nil {
		return fmt.Errorf("conversation: insert message: %w", err)
	}
	return nil
}

// TouchThread updates the thread preview and last-activity timestamp.
func (s *Store) TouchThread(ctx context.Context, q db.Querier, threadID, preview string, at time.Time) error {
	query := `
		UPDATE conversation_threads
		SET last_message_preview = $2, last_message_at = $3, updated_at = $3
		WHERE id = $1
	`
	ct, err := db.Pick(q, s.pool).Exec(ctx, query, threadID, Preview(preview), at)
	if err != nil {
		return fmt.Errorf("conversation: touch thread: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrThreadNotFound
	}
	return nil
}

// UpdateDeliveryStatus records the send outcome of an outbound message.
func (s *Store) UpdateDeliveryStatus(ctx context.Context, messageID string, status DeliveryStatus, providerMessageID string) error {
	query := `
		UPDATE conversation_messages
		SET delivery_status = $2,
			provider_message_id = COALESCE(NULLIF($3, ''), provider_message_id)
		WHERE id = $1
	`
	ct, err := s.pool.Exec(ctx, query, messageID, string(status), providerMessageID)
	if err != nil {
		return fmt.Errorf("conversation: update delivery status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var (
		msg       Message
		direction string
		channel   string
		status    string
		meta      []byte
	)
	if err := row.Scan(
		&msg.ID,
		&msg.ThreadID,
		&msg.ParticipantID,
		&direction,
		&channel,
		&msg.Subject,
		&msg.Body,
		&msg.ToAddress,
		&msg.FromAddress,
		&status,
		&meta,
		&msg.CreatedAt,
	); err != nil {
		return nil, err
	}
	msg.Direction = Direction(direction)
	msg.Channel = channels.Parse(channel)
	msg.DeliveryStatus = DeliveryStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &msg.Metadata); err != nil {
			return nil, err
		}
	} else {
		msg.Metadata = Metadata{Kind: KindPlain}
	}
	return &msg, nil
}
