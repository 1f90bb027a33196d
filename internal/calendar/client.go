// Package calendar keeps appointments consistent with a Google Calendar.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/wolfman30/haulops-crm/pkg/logging"
)

const defaultTimeout = 10 * time.Second

var tracer = otel.Tracer("haulops.internal.calendar")

// ErrNotConfigured is returned by the noop client.
var ErrNotConfigured = errors.New("calendar: not configured")

// Event is the slice of a Google Calendar event the CRM cares about.
type Event struct {
	ID        string
	Status    string
	StartAt   time.Time
	Cancelled bool
}

// EventSink applies remote calendar changes to local appointments.
type EventSink interface {
	ApplyCalendarEvent(ctx context.Context, evt Event) error
}

// TokenStore persists the incremental sync token between runs.
type TokenStore interface {
	GetSyncToken(ctx context.Context, calendarID string) (string, error)
	SetSyncToken(ctx context.Context, calendarID, token string) error
	ClearSyncToken(ctx context.Context, calendarID string) error
}

// GoogleClient talks to the Google Calendar v3 API.
type GoogleClient struct {
	svc        *gcal.Service
	calendarID string
	timeout    time.Duration
	tokens     TokenStore
	sink       EventSink
	logger     *logging.Logger
	now        func() time.Time
}

// NewGoogleClient builds a client from service-account credentials. Extra
// options (endpoint, HTTP client) are appended after the credentials.
func NewGoogleClient(ctx context.Context, credentialsJSON []byte, calendarID string, opts ...option.ClientOption) (*GoogleClient, error) {
	if strings.TrimSpace(calendarID) == "" {
		calendarID = "primary"
	}
	clientOpts := make([]option.ClientOption, 0, len(opts)+1)
	if len(credentialsJSON) > 0 {
		clientOpts = append(clientOpts, option.WithCredentialsJSON(credentialsJSON))
	}
	clientOpts = append(clientOpts, opts...)
	svc, err := gcal.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("calendar: create service: %w", err)
	}
	return &GoogleClient{
		svc:        svc,
		calendarID: calendarID,
		timeout:    defaultTimeout,
		logger:     logging.Default(),
		now:        time.Now,
	}, nil
}

func (c *GoogleClient) WithTimeout(d time.Duration) *GoogleClient {
	if d > 0 {
		c.timeout = d
	}
	return c
}

func (c *GoogleClient) WithLogger(logger *logging.Logger) *GoogleClient {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// WithSync enables Resync, storing tokens in tokens and applying changes to sink.
func (c *GoogleClient) WithSync(tokens TokenStore, sink EventSink) *GoogleClient {
	c.tokens = tokens
	c.sink = sink
	return c
}

// DeleteEvent removes eventID from the calendar within the client timeout.
// Events that are already gone count as deleted.
func (c *GoogleClient) DeleteEvent(ctx context.Context, eventID string) error {
	if strings.TrimSpace(eventID) == "" {
		return nil
	}
	ctx, span := tracer.Start(ctx, "calendar.delete_event")
	defer span.End()
	span.SetAttributes(attribute.String("calendar.event_id", eventID))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.svc.Events.Delete(c.calendarID, eventID).Context(ctx).Do()
	if isGone(err) {
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("calendar: delete event %s: %w", eventID, err)
	}
	return nil
}

// Resync pulls changes since the stored sync token and hands each event to
// the sink. An expired token (410) triggers one full resync.
func (c *GoogleClient) Resync(ctx context.Context) error {
	if c.tokens == nil || c.sink == nil {
		return ErrNotConfigured
	}
	ctx, span := tracer.Start(ctx, "calendar.resync")
	defer span.End()

	err := c.syncOnce(ctx)
	if isTokenExpired(err) {
		c.logger.Warn("calendar sync token expired; running full sync", "calendar_id", c.calendarID)
		if clearErr := c.tokens.ClearSyncToken(ctx, c.calendarID); clearErr != nil {
			return fmt.Errorf("calendar: clear sync token: %w", clearErr)
		}
		err = c.syncOnce(ctx)
	}
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (c *GoogleClient) syncOnce(ctx context.Context) error {
	token, err := c.tokens.GetSyncToken(ctx, c.calendarID)
	if err != nil {
		return fmt.Errorf("calendar: load sync token: %w", err)
	}

	pageToken := ""
	applied := 0
	for {
		call := c.svc.Events.List(c.calendarID).ShowDeleted(true).SingleEvents(true).MaxResults(250)
		if token != "" {
			call = call.SyncToken(token)
		} else {
			call = call.TimeMin(c.now().Add(-30 * 24 * time.Hour).Format(time.RFC3339))
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		page, err := call.Context(reqCtx).Do()
		cancel()
		if err != nil {
			if isTokenExpired(err) {
				return err
			}
			return fmt.Errorf("calendar: list events: %w", err)
		}

		for _, item := range page.Items {
			if err := c.sink.ApplyCalendarEvent(ctx, toEvent(item)); err != nil {
				return fmt.Errorf("calendar: apply event %s: %w", item.Id, err)
			}
			applied++
		}

		if page.NextPageToken != "" {
			pageToken = page.NextPageToken
			continue
		}
		if page.NextSyncToken != "" {
			if err := c.tokens.SetSyncToken(ctx, c.calendarID, page.NextSyncToken); err != nil {
				return fmt.Errorf("calendar: store sync token: %w", err)
			}
		}
		c.logger.Info("calendar sync complete", "calendar_id", c.calendarID, "events", applied)
		return nil
	}
}

func toEvent(item *gcal.Event) Event {
	evt := Event{ID: item.Id, Status: item.Status, Cancelled: item.Status == "cancelled"}
	if item.Start != nil {
		raw := item.Start.DateTime
		if raw == "" {
			raw = item.Start.Date
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			evt.StartAt = t
		} else if t, err := time.Parse("2006-01-02", raw); err == nil {
			evt.StartAt = t
		}
	}
	return evt
}

func isGone(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone
}

func isTokenExpired(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusGone
}
