package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/wolfman30/haulops-crm/internal/db"
	"github.com/wolfman30/haulops-crm/internal/observability/metrics"
	"github.com/wolfman30/haulops-crm/pkg/logging"
)

// OutboxEntry represents a pending work item.
type OutboxEntry struct {
	ID            uuid.UUID
	Type          string
	Payload       json.RawMessage
	Attempts      int
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

// DeliveryHandler performs the side effect an entry describes.
type DeliveryHandler interface {
	Handle(ctx context.Context, entry OutboxEntry) error
}

// DeliveryHandlerFunc adapts a function to DeliveryHandler.
type DeliveryHandlerFunc func(ctx context.Context, entry OutboxEntry) error

func (f DeliveryHandlerFunc) Handle(ctx context.Context, entry OutboxEntry) error {
	return f(ctx, entry)
}

// DeferredError asks the deliverer to retry an entry at Until without
// counting a failed attempt.
type DeferredError struct {
	Until  time.Time
	Reason string
}

func (e *DeferredError) Error() string {
	return fmt.Sprintf("events: deferred until %s: %s", e.Until.UTC().Format(time.RFC3339), e.Reason)
}

// Defer returns a DeferredError for handlers that must wait, e.g. for quiet
// hours to end.
func Defer(until time.Time, reason string) error {
	return &DeferredError{Until: until, Reason: reason}
}

// OutboxStore persists work items for reliable delivery.
type OutboxStore struct {
	pool db.Querier
	now  func() time.Time
}

func NewOutboxStore(pool db.Querier) *OutboxStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &OutboxStore{pool: pool, now: time.Now}
}

// Insert enqueues an entry. Pass the caller's transaction as q so the entry
// commits together with the row it refers to.
func (s *OutboxStore) Insert(ctx context.Context, q db.Querier, eventType string, payload any, nextAttemptAt time.Time) (uuid.UUID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: marshal payload: %w", err)
	}
	now := s.now().UTC()
	if nextAttemptAt.IsZero() {
		nextAttemptAt = now
	}
	id := uuid.New()
	query := `
		INSERT INTO outbox (id, type, payload, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := db.Pick(q, s.pool).Exec(ctx, query, id, eventType, data, nextAttemptAt.UTC(), now); err != nil {
		return uuid.Nil, fmt.Errorf("events: insert outbox: %w", err)
	}
	return id, nil
}

// FetchDue returns undelivered entries of the given types whose next attempt
// is due. Rows of other types are left for the worker that handles them.
func (s *OutboxStore) FetchDue(ctx context.Context, limit int32, types []string) ([]OutboxEntry, error) {
	if len(types) == 0 {
		return nil, nil
	}
	query := `
		SELECT id, type, payload, attempts, next_attempt_at, created_at
		FROM outbox
		WHERE delivered_at IS NULL AND next_attempt_at <= $1 AND type = ANY($3)
		ORDER BY next_attempt_at
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, s.now().UTC(), limit, types)
	if err != nil {
		return nil, fmt.Errorf("events: fetch due: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var entry OutboxEntry
		var payload []byte
		if err := rows.Scan(&entry.ID, &entry.Type, &payload, &entry.Attempts, &entry.NextAttemptAt, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		entry.Payload = append([]byte(nil), payload...)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE outbox
		SET delivered_at = now()
		WHERE id = $1 AND delivered_at IS NULL
	`
	ct, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("events: mark delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// Reschedule records a failed attempt and pushes the entry to next.
func (s *OutboxStore) Reschedule(ctx context.Context, id uuid.UUID, next time.Time, lastErr string) error {
	query := `
		UPDATE outbox
		SET attempts = attempts + 1, next_attempt_at = $2, last_error = $3
		WHERE id = $1 AND delivered_at IS NULL
	`
	if _, err := s.pool.Exec(ctx, query, id, next.UTC(), lastErr); err != nil {
		return fmt.Errorf("events: reschedule outbox: %w", err)
	}
	return nil
}

// Postpone moves the entry to next without recording an attempt.
func (s *OutboxStore) Postpone(ctx context.Context, id uuid.UUID, next time.Time) error {
	query := `
		UPDATE outbox
		SET next_attempt_at = $2
		WHERE id = $1 AND delivered_at IS NULL
	`
	if _, err := s.pool.Exec(ctx, query, id, next.UTC()); err != nil {
		return fmt.Errorf("events: postpone outbox: %w", err)
	}
	return nil
}

// DeleteByTypeForLeads drops pending entries of eventType whose payload
// references one of leadIDs.
func (s *OutboxStore) DeleteByTypeForLeads(ctx context.Context, q db.Querier, eventType string, leadIDs []string) (int64, error) {
	if len(leadIDs) == 0 {
		return 0, nil
	}
	query := `
		DELETE FROM outbox
		WHERE type = $1 AND delivered_at IS NULL AND payload->>'leadId' = ANY($2)
	`
	ct, err := db.Pick(q, s.pool).Exec(ctx, query, eventType, leadIDs)
	if err != nil {
		return 0, fmt.Errorf("events: delete %s for leads: %w", eventType, err)
	}
	return ct.RowsAffected(), nil
}

// DeleteByTypeForAppointment drops pending entries of eventType whose payload
// references appointmentID.
func (s *OutboxStore) DeleteByTypeForAppointment(ctx context.Context, q db.Querier, eventType, appointmentID string) (int64, error) {
	query := `
		DELETE FROM outbox
		WHERE type = $1 AND delivered_at IS NULL AND payload->>'appointmentId' = $2
	`
	ct, err := db.Pick(q, s.pool).Exec(ctx, query, eventType, appointmentID)
	if err != nil {
		return 0, fmt.Errorf("events: delete %s for appointment: %w", eventType, err)
	}
	return ct.RowsAffected(), nil
}

type deliveryStore interface {
	FetchDue(ctx context.Context, limit int32, types []string) ([]OutboxEntry, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
	Reschedule(ctx context.Context, id uuid.UUID, next time.Time, lastErr string) error
	Postpone(ctx context.Context, id uuid.UUID, next time.Time) error
}

// Deliverer polls the outbox and invokes the handler registered for each
// entry type.
type Deliverer struct {
	store       deliveryStore
	handlers    map[string]DeliveryHandler
	logger      *logging.Logger
	metrics     *metrics.OutboxMetrics
	limiter     *rate.Limiter
	batchSize   int32
	interval    time.Duration
	maxAttempts int
	now         func() time.Time
}

func NewDeliverer(store deliveryStore, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Deliverer{
		store:       store,
		handlers:    make(map[string]DeliveryHandler),
		logger:      logger,
		limiter:     rate.NewLimiter(rate.Inf, 1),
		batchSize:   25,
		interval:    2 * time.Second,
		maxAttempts: 8,
		now:         time.Now,
	}
}

// Handle registers h for entries of eventType.
func (d *Deliverer) Handle(eventType string, h DeliveryHandler) *Deliverer {
	if h != nil {
		d.handlers[eventType] = h
	}
	return d
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// WithRate caps deliveries per second across the batch.
func (d *Deliverer) WithRate(perSecond float64) *Deliverer {
	if perSecond > 0 {
		burst := int(math.Ceil(perSecond))
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return d
}

func (d *Deliverer) WithMaxAttempts(n int) *Deliverer {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

func (d *Deliverer) WithMetrics(m *metrics.OutboxMetrics) *Deliverer {
	d.metrics = m
	return d
}

// Run drains the outbox every interval until ctx is cancelled.
func (d *Deliverer) Run(ctx context.Context) error {
	if d.store == nil || len(d.handlers) == 0 {
		return nil
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

func (d *Deliverer) drain(ctx context.Context) {
	entries, err := d.store.FetchDue(ctx, d.batchSize, d.handledTypes())
	if err != nil {
		d.logger.Error("outbox fetch failed", "error", err)
		return
	}
	for _, entry := range entries {
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
		d.deliver(ctx, entry)
	}
}

func (d *Deliverer) handledTypes() []string {
	types := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (d *Deliverer) deliver(ctx context.Context, entry OutboxEntry) {
	handler, ok := d.handlers[entry.Type]
	if !ok {
		d.logger.Warn("no outbox handler registered", "event_id", entry.ID, "type", entry.Type)
		d.metrics.ObserveDelivery(entry.Type, "unhandled")
		return
	}

	if err := handler.Handle(ctx, entry); err != nil {
		var deferred *DeferredError
		if errors.As(err, &deferred) {
			d.logger.Info("outbox delivery deferred", "event_id", entry.ID, "type", entry.Type, "until", deferred.Until, "reason", deferred.Reason)
			d.metrics.ObserveDelivery(entry.Type, "deferred")
			if pErr := d.store.Postpone(ctx, entry.ID, deferred.Until); pErr != nil {
				d.logger.Error("failed to postpone outbox entry", "error", pErr, "event_id", entry.ID)
			}
			return
		}
		attempts := entry.Attempts + 1
		if attempts >= d.maxAttempts {
			d.logger.Error("outbox delivery abandoned", "error", err, "event_id", entry.ID, "type", entry.Type, "attempts", attempts)
			d.metrics.ObserveDelivery(entry.Type, "abandoned")
			if _, markErr := d.store.MarkDelivered(ctx, entry.ID); markErr != nil {
				d.logger.Error("failed to close abandoned outbox entry", "error", markErr, "event_id", entry.ID)
			}
			return
		}
		next := d.now().Add(Backoff(attempts))
		d.logger.Warn("outbox delivery failed", "error", err, "event_id", entry.ID, "type", entry.Type, "next_attempt_at", next)
		d.metrics.ObserveDelivery(entry.Type, "retry")
		if rErr := d.store.Reschedule(ctx, entry.ID, next, err.Error()); rErr != nil {
			d.logger.Error("failed to reschedule outbox entry", "error", rErr, "event_id", entry.ID)
		}
		return
	}

	if ok, err := d.store.MarkDelivered(ctx, entry.ID); err != nil {
		d.logger.Error("failed to mark outbox delivered", "error", err, "event_id", entry.ID)
	} else if ok {
		d.logger.Debug("outbox delivered", "event_id", entry.ID, "type", entry.Type)
	}
	d.metrics.ObserveDelivery(entry.Type, "delivered")
}

// Backoff returns the retry delay after the given number of failed attempts:
// 30s doubling, capped at one hour.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := 30 * time.Second
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= time.Hour {
			return time.Hour
		}
	}
	return delay
}
