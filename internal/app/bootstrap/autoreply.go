package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/haulops-crm/internal/appointments"
	"github.com/wolfman30/haulops-crm/internal/autoreply"
	"github.com/wolfman30/haulops-crm/internal/calendar"
	"github.com/wolfman30/haulops-crm/internal/compliance"
	appconfig "github.com/wolfman30/haulops-crm/internal/config"
	"github.com/wolfman30/haulops-crm/internal/conversation"
	"github.com/wolfman30/haulops-crm/internal/events"
	"github.com/wolfman30/haulops-crm/internal/leads"
	"github.com/wolfman30/haulops-crm/internal/policy"
	"github.com/wolfman30/haulops-crm/pkg/logging"
)

// Stores bundles the Postgres-backed repositories shared by the binaries.
type Stores struct {
	Conversations *conversation.Store
	Leads         *leads.AutomationStore
	Appointments  *appointments.Repository
	Outbox        *events.OutboxStore
	Processed     *events.ProcessedStore
	Audit         *compliance.AuditService
}

// BuildStores wires every store over pool. auditDB may be nil, which
// disables audit persistence.
func BuildStores(pool *pgxpool.Pool, auditDB *sql.DB) Stores {
	s := Stores{
		Conversations: conversation.NewStore(pool),
		Leads:         leads.NewAutomationStore(pool),
		Appointments:  appointments.NewRepository(pool),
		Outbox:        events.NewOutboxStore(pool),
		Processed:     events.NewProcessedStore(pool),
	}
	if auditDB != nil {
		s.Audit = compliance.NewAuditService(auditDB)
	}
	return s
}

// BuildPolicy returns the Redis-backed resolver, or built-in defaults when
// Redis is unavailable.
func BuildPolicy(client *redis.Client, cfg *appconfig.Config, logger *logging.Logger) policy.Resolver {
	if client == nil {
		if logger != nil {
			logger.Warn("redis unavailable; using default automation policy (draft everywhere)")
		}
		return &policy.Static{}
	}
	prefix := "policy"
	if cfg != nil && cfg.PolicyKeyPrefix != "" {
		prefix = cfg.PolicyKeyPrefix
	}
	return policy.NewRedisStore(client, prefix)
}

// Calendar is the calendar collaborator used by the orchestrator and webhook.
type Calendar interface {
	autoreply.CalendarSync
	calendar.Resyncer
}

// BuildCalendar returns a Google Calendar client when configured, else a noop.
func BuildCalendar(ctx context.Context, cfg *appconfig.Config, client *redis.Client, sink calendar.EventSink, logger *logging.Logger) (Calendar, error) {
	if cfg == nil || strings.TrimSpace(cfg.GoogleCalendarID) == "" {
		return calendar.Noop{}, nil
	}
	gc, err := calendar.NewGoogleClient(ctx, []byte(cfg.GoogleCredentialsJSON), cfg.GoogleCalendarID)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: google calendar: %w", err)
	}
	gc = gc.WithTimeout(cfg.CalendarTimeout).WithLogger(logger)
	if client != nil && sink != nil {
		gc = gc.WithSync(calendar.NewRedisTokenStore(client), sink)
	}
	return gc, nil
}

// BuildOrchestrator wires the auto-reply pipeline over the shared stores.
func BuildOrchestrator(cfg *appconfig.Config, pool *pgxpool.Pool, stores Stores, resolver policy.Resolver, cal autoreply.CalendarSync, logger *logging.Logger) *autoreply.Orchestrator {
	deps := autoreply.Deps{
		Pool:          pool,
		Conversations: stores.Conversations,
		Leads:         stores.Leads,
		Appointments:  stores.Appointments,
		Outbox:        stores.Outbox,
		Policy:        resolver,
		Calendar:      cal,
	}
	if stores.Audit != nil {
		deps.Audit = stores.Audit
	}
	return autoreply.New(autoreply.Config{
		BusinessName:    cfg.BusinessName,
		Location:        cfg.Location(),
		PublicBaseURL:   cfg.PublicSiteBaseURL,
		CalendarTimeout: cfg.CalendarTimeout,
	}, deps, logger)
}
