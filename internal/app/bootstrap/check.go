package bootstrap

import (
	"context"
	"time"
)

// probeName is sent to the webhook by CheckConnections; no patient carries it.
const probeName = "CONNECTIVITY CHECK"

// ConnectionResult is the outcome of probing one dependency.
type ConnectionResult struct {
	Name     string        `json:"name"`
	OK       bool          `json:"ok"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// CheckConnections authenticates against the PM system and probes the
// service-line webhook, plus Postgres and Redis when configured.
func (a *Agent) CheckConnections(ctx context.Context) []ConnectionResult {
	var results []ConnectionResult
	probe := func(name string, fn func(ctx context.Context) (string, error)) {
		start := time.Now()
		detail, err := fn(ctx)
		res := ConnectionResult{Name: name, OK: err == nil, Detail: detail, Duration: time.Since(start)}
		if err != nil {
			res.Detail = err.Error()
			a.logger.Warn("connection check failed", "dependency", name, "error", err)
		}
		results = append(results, res)
	}

	probe("advancedmd", func(ctx context.Context) (string, error) {
		if err := a.PM.Authenticate(ctx); err != nil {
			return "", err
		}
		return "authenticated", nil
	})
	probe("service-line-webhook", func(ctx context.Context) (string, error) {
		label, err := a.Lookup.Lookup(ctx, probeName)
		if err != nil {
			return "", err
		}
		return "responded with " + label, nil
	})
	if a.pool != nil {
		probe("postgres", func(ctx context.Context) (string, error) {
			return "ping ok", a.pool.Ping(ctx)
		})
	}
	if a.redis != nil {
		probe("redis", func(ctx context.Context) (string, error) {
			return "ping ok", a.redis.Ping(ctx).Err()
		})
	}
	return results
}

// AllOK reports whether every probe succeeded.
func AllOK(results []ConnectionResult) bool {
	for _, r := range results {
		if !r.OK {
			return false
		}
	}
	return true
}
