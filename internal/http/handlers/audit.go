package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/wolfman30/haulops-crm/internal/compliance"
	"github.com/wolfman30/haulops-crm/pkg/logging"
)

// AuditQuerier reads audit events.
type AuditQuerier interface {
	QueryEvents(ctx context.Context, filter compliance.AuditFilter) ([]compliance.AuditEvent, error)
}

// AuditHandler lists automation decisions for staff tooling.
type AuditHandler struct {
	audit  AuditQuerier
	logger *logging.Logger
}

func NewAuditHandler(audit AuditQuerier, logger *logging.Logger) *AuditHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AuditHandler{audit: audit, logger: logger}
}

// List handles GET /internal/audit-events?entity_type=&entity_id=&action=&since=&limit=&offset=
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log not configured")
		return
	}
	q := r.URL.Query()
	filter := compliance.AuditFilter{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		Action:     compliance.Action(q.Get("action")),
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.StartTime = since
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit"), 50); err != nil || filter.Limit < 1 || filter.Limit > 500 {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	evts, err := h.audit.QueryEvents(r.Context(), filter)
	if err != nil {
		h.logger.Error("audit query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query audit events")
		return
	}
	if evts == nil {
		evts = []compliance.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evts})
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, strconv.ErrSyntax
	}
	return v, nil
}
