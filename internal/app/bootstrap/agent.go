// Package bootstrap wires configuration into a runnable agent for the CLI,
// the HTTP server and the scheduled Lambda.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/responsibility-agent/internal/archive"
	"github.com/wolfman30/responsibility-agent/internal/compliance"
	appconfig "github.com/wolfman30/responsibility-agent/internal/config"
	"github.com/wolfman30/responsibility-agent/internal/eligibility"
	"github.com/wolfman30/responsibility-agent/internal/emr/advancedmd"
	"github.com/wolfman30/responsibility-agent/internal/notify"
	"github.com/wolfman30/responsibility-agent/internal/observability/metrics"
	"github.com/wolfman30/responsibility-agent/internal/pipeline"
	"github.com/wolfman30/responsibility-agent/internal/progress"
	"github.com/wolfman30/responsibility-agent/internal/runlog"
	"github.com/wolfman30/responsibility-agent/internal/serviceline"
	"github.com/wolfman30/responsibility-agent/internal/summary"
	"github.com/wolfman30/responsibility-agent/pkg/logging"
)

// Options tune how the agent is built.
type Options struct {
	// Progress renders per-patient progress; nil disables it.
	Progress progress.Reporter
	// Registry receives the pipeline metrics; a private one is created when nil.
	Registry *prometheus.Registry
	// HTTPClient is shared by the PM and webhook clients.
	HTTPClient *http.Client
	// SkipPublishers builds the batch without the ledger, archive and email.
	SkipPublishers bool
}

// Agent is the wired batch plus the connections it holds open.
type Agent struct {
	Config   *appconfig.Config
	PM       *advancedmd.Client
	Lookup   *serviceline.Client
	Runner   *pipeline.Runner
	Runs     *runlog.Store
	Audit    *compliance.AuditService
	Archive  *archive.Store
	Metrics  *metrics.PipelineMetrics
	Registry *prometheus.Registry

	logger *logging.Logger
	pool   *pgxpool.Pool
	sqlDB  *sql.DB
	redis  *redis.Client
}

// Build validates cfg and assembles every component of a run. Optional
// backends (Postgres, Redis, S3, email) are wired only when configured.
func Build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, opts Options) (*Agent, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Default()
	}

	a := &Agent{Config: cfg, logger: logger, Registry: opts.Registry}
	if a.Registry == nil {
		a.Registry = prometheus.NewRegistry()
	}

	pm, err := advancedmd.New(advancedmd.Config{
		BaseURL:            cfg.AMDBaseURL,
		APIBaseURL:         cfg.AMDAPIBaseURL,
		Username:           cfg.AMDUsername,
		Password:           cfg.AMDPassword,
		OfficeCode:         cfg.AMDOfficeCode,
		AppName:            cfg.AMDAppName,
		AuthTimeout:        cfg.AuthTimeout,
		FetchTimeout:       cfg.FetchTimeout,
		AppointmentTimeout: cfg.AppointmentTimeout,
		EligibilityTimeout: cfg.EligibilityTimeout,
		MemoTimeout:        cfg.MemoTimeout,
		HTTPClient:         opts.HTTPClient,
	}, logger.With("component", "advancedmd"), advancedmd.WithDryRun(cfg.MemoDryRun))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	a.PM = pm

	lookup, err := serviceline.New(serviceline.Config{
		WebhookURL: cfg.ServiceLineWebhookURL,
		Timeout:    cfg.WebhookTimeout,
		HTTPClient: opts.HTTPClient,
	}, logger.With("component", "serviceline"))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	a.Lookup = lookup

	poller := eligibility.NewPoller(pm, logger.With("component", "eligibility")).
		WithAttempts(cfg.EligibilityPollAttempts).
		WithInterval(cfg.EligibilityPollInterval)

	a.Metrics = metrics.NewPipelineMetrics(a.Registry)
	orchOpts := []pipeline.Option{pipeline.WithRecorder(a.Metrics)}
	if opts.Progress != nil {
		orchOpts = append(orchOpts, pipeline.WithProgress(opts.Progress))
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
		}
		a.pool = pool
		a.sqlDB = stdlib.OpenDBFromPool(pool)
		a.Runs = runlog.NewStore(pool)
		a.Audit = compliance.NewAuditService(a.sqlDB)
		orchOpts = append(orchOpts, pipeline.WithAuditor(a.Audit))
	} else {
		logger.Warn("DATABASE_URL not set; run ledger and memo audit disabled")
	}

	orch, err := pipeline.New(pm, poller, lookup, pipeline.Config{
		LookbackHours:        cfg.LookbackHours,
		DryRun:               cfg.MemoDryRun,
		ReferenceChargeCents: cfg.ReferenceChargeCents,
		MedicaidIndicators:   cfg.MedicaidIndicators,
	}, logger.With("component", "pipeline"), orchOpts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	a.Runner = pipeline.NewRunner(orch, logger)

	a.redis = BuildRedisClient(ctx, cfg, logger, true)
	lock, err := BuildRunLock(a.redis, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if lock != nil {
		a.Runner.WithLock(lock)
	}

	if !opts.SkipPublishers {
		pubs, err := a.buildPublishers(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Runner.WithPublishers(pubs...)
	}
	return a, nil
}

func (a *Agent) buildPublishers(ctx context.Context) ([]summary.Publisher, error) {
	cfg := a.Config
	var pubs []summary.Publisher
	if a.Runs != nil {
		pubs = append(pubs, a.Runs)
	}

	var awsCfg *aws.Config
	if cfg.ReportBucket != "" || (len(cfg.SummaryEmailTo) > 0 && cfg.EmailProvider == "ses") {
		loaded, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		awsCfg = &loaded
	}
	if cfg.ReportBucket != "" {
		a.Archive = archive.NewStore(NewS3Client(*awsCfg, cfg), cfg.ReportBucket, a.logger.With("component", "archive"))
		pubs = append(pubs, a.Archive)
	}

	sender, err := BuildEmailSender(cfg, awsCfg, a.logger.With("component", "notify"))
	if err != nil {
		return nil, err
	}
	if notifier := notify.NewSummaryNotifier(sender, cfg.SummaryEmailTo, a.logger); notifier != nil {
		pubs = append(pubs, notifier.OnlyOnFailure(cfg.SummaryEmailOnlyOnFailure))
	}

	names := make([]string, 0, len(pubs))
	for _, p := range pubs {
		names = append(names, p.Name())
	}
	a.logger.Info("summary publishers configured", "publishers", names)
	return pubs, nil
}

// Close releases database and Redis connections.
func (a *Agent) Close() {
	if a == nil {
		return
	}
	if a.sqlDB != nil {
		_ = a.sqlDB.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
