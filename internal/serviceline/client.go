// Package serviceline asks the service-line webhook which treatment line a
// patient is scheduled for.
package serviceline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/responsibility-agent/pkg/logging"
)

var tracer = otel.Tracer("responsibility.internal.serviceline")

const defaultTimeout = 30 * time.Second

// Placeholder is used in memos when the lookup fails.
const Placeholder = "NA"

// LookupError reports a lookup that timed out, failed or returned no label.
type LookupError struct {
	PatientName string
	StatusCode  int
	Err         error
}

func (e *LookupError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("serviceline: lookup %q: status %d: %v", e.PatientName, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("serviceline: lookup %q: %v", e.PatientName, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Config holds configuration for the webhook client.
type Config struct {
	WebhookURL string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client posts patient names to the webhook.
type Client struct {
	webhookURL string
	timeout    time.Duration
	httpClient *http.Client
	logger     *logging.Logger
}

// New creates a webhook client.
func New(cfg Config, logger *logging.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return nil, errors.New("serviceline: WebhookURL is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		webhookURL: strings.TrimSpace(cfg.WebhookURL),
		timeout:    timeout,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type lookupRequest struct {
	PatientName string `json:"patient_name"`
}

type lookupResponse struct {
	ServiceType string `json:"Service Type"`
}

// Lookup sends one request and blocks until the label arrives or the
// timeout passes. Every failure is a *LookupError.
func (c *Client) Lookup(ctx context.Context, patientName string) (string, error) {
	ctx, span := tracer.Start(ctx, "serviceline.lookup")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(lookupRequest{PatientName: patientName})
	if err != nil {
		return "", &LookupError{PatientName: patientName, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return "", &LookupError{PatientName: patientName, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return "", &LookupError{PatientName: patientName, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &LookupError{PatientName: patientName, StatusCode: resp.StatusCode, Err: fmt.Errorf("webhook error: %s", strings.TrimSpace(string(raw)))}
	}

	var out lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &LookupError{PatientName: patientName, Err: fmt.Errorf("decode response: %w", err)}
	}
	label := strings.TrimSpace(out.ServiceType)
	if label == "" {
		return "", &LookupError{PatientName: patientName, Err: errors.New("response carried no service type")}
	}

	c.logger.Debug("service line resolved", "service_line", label)
	return label, nil
}

var abbreviations = map[string]string{
	"im ketamine":                "IM",
	"kap":                        "KAP",
	"spravato":                   "SPR",
	"med management (psych e/m)": "MM",
	"med management":             "MM",
}

// Abbreviation shortens a service-line label for the memo; unknown labels
// keep their first three characters.
func Abbreviation(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return Placeholder
	}
	if abbrev, ok := abbreviations[strings.ToLower(label)]; ok {
		return abbrev
	}
	if label == Placeholder {
		return Placeholder
	}
	if r := []rune(label); len(r) > 3 {
		label = string(r[:3])
	}
	return strings.ToUpper(label)
}
