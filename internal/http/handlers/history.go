package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/responsibility-agent/internal/archive"
	"github.com/wolfman30/responsibility-agent/internal/compliance"
	"github.com/wolfman30/responsibility-agent/pkg/logging"
)

// AuditQuerier reads memo audit events. *compliance.AuditService satisfies it.
type AuditQuerier interface {
	QueryEvents(ctx context.Context, filter compliance.AuditFilter) ([]compliance.AuditEvent, error)
}

// ReportLoader reads archived run reports. *archive.Store satisfies it.
type ReportLoader interface {
	LoadReport(ctx context.Context, runID string, startedAt time.Time) (*archive.RunReport, error)
}

// HistoryHandler serves the audit trail and archived report of past runs.
// Either backend may be nil when it is not configured.
type HistoryHandler struct {
	audit   AuditQuerier
	reports ReportLoader
	logger  *logging.Logger
}

func NewHistoryHandler(audit AuditQuerier, reports ReportLoader, logger *logging.Logger) *HistoryHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &HistoryHandler{audit: audit, reports: reports, logger: logger}
}

// RunAudit lists the memo audit events of one run, optionally filtered by
// ?patient_id= and ?event_type=.
func (h *HistoryHandler) RunAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		jsonError(w, "memo audit not configured", http.StatusServiceUnavailable)
		return
	}
	runID := chi.URLParam(r, "runID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	events, err := h.audit.QueryEvents(r.Context(), compliance.AuditFilter{
		RunID:     runID,
		PatientID: r.URL.Query().Get("patient_id"),
		EventType: compliance.AuditEventType(r.URL.Query().Get("event_type")),
		Limit:     limit,
	})
	if err != nil {
		h.logger.Error("query audit events failed", "run_id", runID, "error", err)
		jsonError(w, "failed to query audit events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []compliance.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "events": events})
}

// RunReport returns the archived report. ?date=YYYY-MM-DD is the UTC day the
// run started, which is part of the object key.
func (h *HistoryHandler) RunReport(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		jsonError(w, "report archive not configured", http.StatusServiceUnavailable)
		return
	}
	runID := chi.URLParam(r, "runID")
	day, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
	if err != nil {
		jsonError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	report, err := h.reports.LoadReport(r.Context(), runID, day)
	if errors.Is(err, archive.ErrReportNotFound) {
		jsonError(w, "report not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("load run report failed", "run_id", runID, "error", err)
		jsonError(w, "failed to load report", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
