package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/wolfman30/responsibility-agent/internal/pipeline"
	"github.com/wolfman30/responsibility-agent/internal/runlog"
	"github.com/wolfman30/responsibility-agent/internal/summary"
	"github.com/wolfman30/responsibility-agent/pkg/logging"
)

// Runner starts one batch. *pipeline.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context) (*summary.Summary, error)
}

// RunLister lists recorded runs. *runlog.Store satisfies it.
type RunLister interface {
	Recent(ctx context.Context, limit int) ([]runlog.Run, error)
}

// TriggerResponse is returned by POST /trigger.
type TriggerResponse struct {
	Status    string           `json:"status"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at,omitempty"`
	Summary   *summary.Summary `json:"summary,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// TriggerHandler exposes on-demand runs over HTTP.
type TriggerHandler struct {
	runner Runner
	runs   RunLister
	logger *logging.Logger
	now    func() time.Time

	asyncGrace time.Duration

	mu         sync.Mutex
	closed     bool
	background sync.WaitGroup
	stop       context.Context
	stopAll    context.CancelFunc
}

// NewTriggerHandler creates the handler; runs may be nil when no database is configured.
func NewTriggerHandler(runner Runner, runs RunLister, logger *logging.Logger) *TriggerHandler {
	if logger == nil {
		logger = logging.Default()
	}
	stop, stopAll := context.WithCancel(context.Background())
	return &TriggerHandler{
		runner:     runner,
		runs:       runs,
		logger:     logger,
		now:        time.Now,
		asyncGrace: 50 * time.Millisecond,
		stop:       stop,
		stopAll:    stopAll,
	}
}

// Shutdown refuses new background runs and waits for running ones. When ctx
// ends first, the remaining runs are cancelled and an error is returned.
func (h *TriggerHandler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		h.stopAll()
		return nil
	case <-ctx.Done():
		h.stopAll()
		return fmt.Errorf("handlers: background run still active: %w", ctx.Err())
	}
}

// Trigger runs the batch. By default it blocks until the run ends;
// ?async=true starts it in the background and returns 202.
func (h *TriggerHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	startedAt := h.now().UTC()

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			jsonError(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		}
		h.background.Add(1)
		h.mu.Unlock()

		// Detached from the request so the run outlives the response;
		// cancelled only by Shutdown.
		ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
		stopWatch := context.AfterFunc(h.stop, cancel)
		done := make(chan error, 1)
		go func() {
			defer h.background.Done()
			defer cancel()
			defer stopWatch()
			_, err := h.runner.Run(ctx)
			done <- err
			if err != nil && !errors.Is(err, pipeline.ErrRunInProgress) {
				h.logger.Error("background run aborted", "error", err)
			}
		}()
		// A run already holding the lock is refused immediately.
		select {
		case err := <-done:
			if errors.Is(err, pipeline.ErrRunInProgress) {
				jsonError(w, err.Error(), http.StatusConflict)
				return
			}
		case <-time.After(h.asyncGrace):
		}
		writeJSON(w, http.StatusAccepted, TriggerResponse{Status: "started", StartedAt: startedAt})
		return
	}

	sum, err := h.runner.Run(r.Context())
	if errors.Is(err, pipeline.ErrRunInProgress) {
		jsonError(w, err.Error(), http.StatusConflict)
		return
	}
	resp := TriggerResponse{Status: "completed", StartedAt: startedAt, EndedAt: h.now().UTC(), Summary: sum}
	if err != nil {
		h.logger.Error("triggered run aborted", "error", err)
		resp.Status = "aborted"
		resp.Error = err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListRuns returns the latest recorded runs.
func (h *TriggerHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		jsonError(w, "run history not configured", http.StatusServiceUnavailable)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.runs.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("list runs failed", "error", err)
		jsonError(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
