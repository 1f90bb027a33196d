package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/haulops-crm/internal/autoreply"
	"github.com/wolfman30/haulops-crm/internal/events"
	"github.com/wolfman30/haulops-crm/internal/observability/metrics"
	"github.com/wolfman30/haulops-crm/pkg/logging"
)

// AutoReplyRunner runs the inbound auto-reply pipeline.
type AutoReplyRunner interface {
	HandleInboundAutoReply(ctx context.Context, messageID string) (autoreply.Result, error)
}

// AutoReplyHandler exposes the pipeline to internal callers.
type AutoReplyHandler struct {
	runner   AutoReplyRunner
	queue    events.QueueClient
	gatherer prometheus.Gatherer
	logger   *logging.Logger
}

// NewAutoReplyHandler wires the handler. A nil gatherer reads the default
// Prometheus registry.
func NewAutoReplyHandler(runner AutoReplyRunner, gatherer prometheus.Gatherer, logger *logging.Logger) *AutoReplyHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AutoReplyHandler{runner: runner, gatherer: gatherer, logger: logger}
}

// WithQueue enables ?async=true, which enqueues an inbound-message event
// for the worker instead of running the pipeline in the request.
func (h *AutoReplyHandler) WithQueue(q events.QueueClient) *AutoReplyHandler {
	h.queue = q
	return h
}

// Trigger runs the pipeline synchronously for one message.
// Route: POST /internal/auto-reply/{messageID}
func (h *AutoReplyHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h == nil {
		writeError(w, http.StatusServiceUnavailable, "auto reply not configured")
		return
	}
	messageID := strings.TrimSpace(chi.URLParam(r, "messageID"))
	if messageID == "" {
		writeError(w, http.StatusBadRequest, "missing messageID")
		return
	}

	if r.URL.Query().Get("async") == "true" {
		h.enqueue(w, r, messageID)
		return
	}
	if h.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "auto reply not configured")
		return
	}

	res, err := h.runner.HandleInboundAutoReply(r.Context(), messageID)
	if err != nil {
		h.logger.Error("auto reply trigger failed", "error", err, "message_id", messageID)
		writeError(w, http.StatusInternalServerError, "auto reply failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *AutoReplyHandler) enqueue(w http.ResponseWriter, r *http.Request, messageID string) {
	if h.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "inbound event queue not configured")
		return
	}
	evt, err := events.PublishInboundMessageCreated(r.Context(), h.queue, events.InboundMessageCreatedV1{
		MessageID: messageID,
	})
	if err != nil {
		h.logger.Error("auto reply enqueue failed", "error", err, "message_id", messageID)
		writeError(w, http.StatusInternalServerError, "failed to enqueue auto reply")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"eventId": evt.EventID, "messageId": messageID})
}

// Stats returns the decision counters recorded by this process.
// Route: GET /internal/auto-reply/stats
func (h *AutoReplyHandler) Stats(w http.ResponseWriter, r *http.Request) {
	snap, err := metrics.DecisionSnapshot(h.gatherer)
	if err != nil {
		h.logger.Error("auto reply stats failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to gather metrics")
		return
	}
	if snap == nil {
		snap = []metrics.DecisionCount{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": snap})
}
