package calendar

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wolfman30/haulops-crm/pkg/logging"
)

// Resyncer pulls calendar changes into local appointments.
type Resyncer interface {
	Resync(ctx context.Context) error
}

// Google push-notification headers.
const (
	HeaderChannelID         = "X-Goog-Channel-Id"
	HeaderResourceID        = "X-Goog-Resource-Id"
	HeaderResourceState     = "X-Goog-Resource-State"
	HeaderChannelExpiration = "X-Goog-Channel-Expiration"
)

// Notification is the parsed header set of one push notification.
type Notification struct {
	ChannelID     string
	ResourceID    string
	ResourceState string
	Expiration    string
}

// TriggersResync reports whether the resource state asks for a pull.
func (n Notification) TriggersResync() bool {
	switch n.ResourceState {
	case "sync", "exists", "not_exists":
		return true
	default:
		return false
	}
}

// WebhookHandler receives Google Calendar push notifications.
type WebhookHandler struct {
	resync  Resyncer
	logger  *logging.Logger
	timeout time.Duration
	group   singleflight.Group
	// done is signalled after each async resync; tests use it.
	done func(error)
}

func NewWebhookHandler(resync Resyncer, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{resync: resync, logger: logger, timeout: 2 * time.Minute}
}

func parseNotification(r *http.Request) Notification {
	return Notification{
		ChannelID:     strings.TrimSpace(r.Header.Get(HeaderChannelID)),
		ResourceID:    strings.TrimSpace(r.Header.Get(HeaderResourceID)),
		ResourceState: strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderResourceState))),
		Expiration:    strings.TrimSpace(r.Header.Get(HeaderChannelExpiration)),
	}
}

// ServeHTTP always answers 204 so Google never retries; the resync runs in
// the background and concurrent notifications share one run.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := parseNotification(r)
	h.logger.Info("calendar notification received",
		"channel_id", n.ChannelID,
		"resource_id", n.ResourceID,
		"resource_state", n.ResourceState,
		"channel_expiration", n.Expiration,
	)

	if n.TriggersResync() && h.resync != nil {
		go h.run(n)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WebhookHandler) run(n Notification) {
	_, err, shared := h.group.Do("resync", func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		return nil, h.resync.Resync(ctx)
	})
	switch {
	case errors.Is(err, ErrNotConfigured):
		h.logger.Debug("calendar resync skipped: not configured")
	case err != nil:
		h.logger.Warn("calendar resync failed", "error", err, "channel_id", n.ChannelID, "shared", shared)
	}
	if h.done != nil {
		h.done(err)
	}
}
