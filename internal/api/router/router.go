package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/responsibility-agent/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/responsibility-agent/internal/http/middleware"
	"github.com/wolfman30/responsibility-agent/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger          *logging.Logger
	Trigger         *handlers.TriggerHandler
	History         *handlers.HistoryHandler
	AdminAuthSecret string
	MetricsHandler  http.Handler

	// Service info reported on GET /
	Service string
	Version string
	Env     string
	DryRun  bool
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", health)
	r.Get("/", info(cfg))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Operator routes; an empty secret rejects every call.
	if cfg.Trigger != nil {
		r.Group(func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Use(middleware.NoCache)
			admin.Post("/trigger", cfg.Trigger.Trigger)
			admin.Get("/runs", cfg.Trigger.ListRuns)
			if cfg.History != nil {
				admin.Get("/runs/{runID}/audit", cfg.History.RunAudit)
				admin.Get("/runs/{runID}/report", cfg.History.RunReport)
			}
		})
	}

	return r
}

func health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func info(cfg *Config) http.HandlerFunc {
	started := time.Now().UTC()
	service := cfg.Service
	if service == "" {
		service = "responsibility-agent"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"service":    service,
			"version":    cfg.Version,
			"env":        cfg.Env,
			"dry_run":    cfg.DryRun,
			"started_at": started,
			"endpoints":  []string{"GET /health", "POST /trigger", "GET /runs", "GET /runs/{runID}/audit", "GET /runs/{runID}/report", "GET /metrics"},
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
