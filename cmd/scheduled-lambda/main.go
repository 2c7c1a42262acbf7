package main

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/responsibility-agent/internal/app/bootstrap"
	appconfig "github.com/wolfman30/responsibility-agent/internal/config"
	"github.com/wolfman30/responsibility-agent/internal/pipeline"
	"github.com/wolfman30/responsibility-agent/internal/summary"
	"github.com/wolfman30/responsibility-agent/pkg/logging"
)

// Result is returned to the EventBridge scheduler and shows up in the
// invocation log.
type Result struct {
	RunID            string         `json:"run_id,omitempty"`
	Status           string         `json:"status"`
	StartedAt        time.Time      `json:"started_at,omitempty"`
	EndedAt          time.Time      `json:"ended_at,omitempty"`
	Succeeded        int            `json:"succeeded"`
	Skipped          int            `json:"skipped"`
	Failed           int            `json:"failed"`
	AmountTotalCents int64          `json:"amount_total_cents"`
	Counts           map[string]int `json:"counts,omitempty"`
}

type batchRunner interface {
	Run(ctx context.Context) (*summary.Summary, error)
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	// Built once per container so warm invocations reuse connections.
	agent, err := bootstrap.Build(context.Background(), cfg, logger, bootstrap.Options{})
	if err != nil {
		logger.Error("failed to build agent", "error", err)
		panic(err)
	}

	lambda.Start(newHandler(agent.Runner, logger))
}

func newHandler(runner batchRunner, logger *logging.Logger) func(context.Context, events.CloudWatchEvent) (Result, error) {
	return func(ctx context.Context, evt events.CloudWatchEvent) (Result, error) {
		logger.Info("scheduled run triggered", "event_id", evt.ID, "source", evt.Source, "time", evt.Time)

		sum, err := runner.Run(ctx)
		if errors.Is(err, pipeline.ErrRunInProgress) {
			// Another invocation owns today's run; retrying would only collide again.
			logger.Warn("run skipped; another run holds the lock")
			return Result{Status: "skipped"}, nil
		}
		res := toResult(sum)
		if err != nil {
			logger.Error("scheduled run aborted", "error", err)
			return res, err
		}
		logger.Info("scheduled run completed", "summary", sum)
		return res, nil
	}
}

func toResult(sum *summary.Summary) Result {
	if sum == nil {
		return Result{Status: "aborted"}
	}
	res := Result{
		RunID:            sum.RunID,
		Status:           "completed",
		StartedAt:        sum.StartedAt,
		EndedAt:          sum.EndedAt,
		Succeeded:        sum.Succeeded(),
		Skipped:          sum.Skipped(),
		Failed:           sum.Failed(),
		AmountTotalCents: sum.AmountTotalCents(),
		Counts:           make(map[string]int, len(sum.Counts)),
	}
	if !sum.Completed() {
		res.Status = "aborted"
	}
	for outcome, n := range sum.Counts {
		res.Counts[string(outcome)] = n
	}
	return res
}
