// Package advancedmd implements emr.Client against the AdvancedMD
// practice-management API: JSON ppmdmsg requests answered with XML results,
// plus the REST scheduler endpoint.
package advancedmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/responsibility-agent/internal/emr"
	"github.com/wolfman30/responsibility-agent/pkg/logging"
)

var tracer = otel.Tracer("responsibility.internal.emr.advancedmd")

const maxErrorBody = 2048

// Config holds configuration for the AdvancedMD client.
type Config struct {
	BaseURL    string // process-request URL for ppmdmsg calls
	APIBaseURL string // REST base, e.g. https://providerapi.advancedmd.com/api
	Username   string
	Password   string
	OfficeCode string
	AppName    string

	AuthTimeout        time.Duration
	FetchTimeout       time.Duration
	AppointmentTimeout time.Duration
	EligibilityTimeout time.Duration
	MemoTimeout        time.Duration

	HTTPClient *http.Client
	Now        func() time.Time
}

// Client implements emr.Client for AdvancedMD.
type Client struct {
	baseURL    string
	apiBaseURL string
	username   string
	password   string
	officeCode string
	appName    string

	authTimeout        time.Duration
	fetchTimeout       time.Duration
	appointmentTimeout time.Duration
	eligibilityTimeout time.Duration
	memoTimeout        time.Duration

	httpClient *http.Client
	logger     *logging.Logger
	now        func() time.Time
	dryRun     bool

	// token is written only by authenticate.
	mu    sync.RWMutex
	token string
}

var _ emr.Client = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithDryRun makes PostMemo log the memo and return a synthetic ack without
// calling AdvancedMD.
func WithDryRun(dryRun bool) Option {
	return func(c *Client) {
		c.dryRun = dryRun
	}
}

// New creates a new AdvancedMD client.
func New(cfg Config, logger *logging.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("advancedmd: BaseURL is required")
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return nil, errors.New("advancedmd: APIBaseURL is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("advancedmd: Username and Password are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	c := &Client{
		baseURL:            strings.TrimSpace(cfg.BaseURL),
		apiBaseURL:         strings.TrimSuffix(strings.TrimSpace(cfg.APIBaseURL), "/"),
		username:           cfg.Username,
		password:           cfg.Password,
		officeCode:         cfg.OfficeCode,
		appName:            cfg.AppName,
		authTimeout:        orDefault(cfg.AuthTimeout, 15*time.Second),
		fetchTimeout:       orDefault(cfg.FetchTimeout, 60*time.Second),
		appointmentTimeout: orDefault(cfg.AppointmentTimeout, 15*time.Second),
		eligibilityTimeout: orDefault(cfg.EligibilityTimeout, 20*time.Second),
		memoTimeout:        orDefault(cfg.MemoTimeout, 20*time.Second),
		httpClient:         httpClient,
		logger:             logger,
		now:                now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// Authenticate logs in and stores the session token.
func (c *Client) Authenticate(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "advancedmd.authenticate")
	defer span.End()

	if err := c.authenticate(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authentication failed")
		return err
	}
	return nil
}

func (c *Client) authenticate(ctx context.Context) error {
	msg := c.envelope("login", "login", map[string]any{
		"@username":   c.username,
		"@psw":        c.password,
		"@officecode": c.officeCode,
		"@appname":    c.appName,
	})

	resp, err := c.post(ctx, c.authTimeout, msg, "", false)
	if err != nil {
		return &emr.AuthError{Err: err}
	}
	root, err := parseXML(resp.body)
	if err != nil {
		return &emr.AuthError{Err: err}
	}
	if errText := root.errorText(); errText != "" {
		return &emr.AuthError{Err: errors.New(errText)}
	}
	ctxNode := root.find("usercontext")
	if ctxNode == nil || strings.TrimSpace(ctxNode.Text) == "" {
		return &emr.AuthError{Err: errors.New("login response carried no session token")}
	}

	c.mu.Lock()
	c.token = strings.TrimSpace(ctxNode.Text)
	c.mu.Unlock()

	c.logger.Info("authenticated with advancedmd", "office_code", c.officeCode)
	return nil
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// withSession runs call with the current token. When the PM system reports an
// expired session the client logs in again and retries the call once.
func (c *Client) withSession(ctx context.Context, op string, call func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "advancedmd."+op)
	defer span.End()

	if c.currentToken() == "" {
		if err := c.authenticate(ctx); err != nil {
			span.RecordError(err)
			return err
		}
	}

	err := call(ctx)
	if errors.Is(err, emr.ErrAuthExpired) {
		c.logger.Warn("advancedmd session expired; re-authenticating", "op", op)
		span.SetAttributes(attribute.Bool("advancedmd.reauthenticated", true))
		if authErr := c.authenticate(ctx); authErr != nil {
			span.RecordError(authErr)
			return authErr
		}
		err = call(ctx)
		if errors.Is(err, emr.ErrAuthExpired) {
			err = &emr.AuthError{Err: fmt.Errorf("%s: session rejected after re-authentication: %w", op, err)}
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
	}
	return err
}

type rawResponse struct {
	contentType string
	body        []byte
}

func (r rawResponse) isJSON() bool {
	return strings.HasPrefix(strings.ToLower(r.contentType), "application/json")
}

// post sends a ppmdmsg envelope to the process-request URL.
func (c *Client) post(ctx context.Context, timeout time.Duration, msg map[string]any, op string, withToken bool) (*rawResponse, error) {
	if op == "" {
		op = "login"
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, &emr.UpstreamError{Op: op, Err: fmt.Errorf("marshal request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, &emr.UpstreamError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, application/xml")
	if withToken {
		req.Header.Set("Cookie", "token="+c.currentToken())
	}
	return c.do(req, op)
}

// getJSON calls the REST API with the session cookie and bearer token.
func (c *Client) getJSON(ctx context.Context, timeout time.Duration, endpoint, op string) (*rawResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &emr.UpstreamError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	token := c.currentToken()
	req.Header.Set("Cookie", "token="+token)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	return c.do(req, op)
}

func (c *Client) do(req *http.Request, op string) (*rawResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &emr.UpstreamError{Op: op, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &emr.UpstreamError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &emr.UpstreamError{Op: op, StatusCode: resp.StatusCode, Err: emr.ErrAuthExpired}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &emr.UpstreamError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("API error: %s", truncate(string(body), maxErrorBody))}
	}
	return &rawResponse{contentType: resp.Header.Get("Content-Type"), body: body}, nil
}

// postXML sends an authenticated envelope and parses the XML result,
// translating PM-level error elements into errors.
func (c *Client) postXML(ctx context.Context, timeout time.Duration, msg map[string]any, op string) (*node, error) {
	resp, err := c.post(ctx, timeout, msg, op, true)
	if err != nil {
		return nil, err
	}
	root, err := parseXML(resp.body)
	if err != nil {
		return nil, &emr.UpstreamError{Op: op, Err: err}
	}
	if err := resultError(op, root); err != nil {
		return nil, err
	}
	return root, nil
}

func resultError(op string, root *node) error {
	text := root.errorText()
	if text == "" {
		return nil
	}
	if isSessionError(text) {
		return &emr.UpstreamError{Op: op, Err: fmt.Errorf("%w: %s", emr.ErrAuthExpired, text)}
	}
	return &emr.UpstreamError{Op: op, Err: errors.New(text)}
}

func isSessionError(text string) bool {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "not logged in") || strings.Contains(lower, "login required") {
		return true
	}
	mentionsSession := strings.Contains(lower, "session") || strings.Contains(lower, "token") || strings.Contains(lower, "usercontext")
	return mentionsSession && (strings.Contains(lower, "expired") || strings.Contains(lower, "invalid"))
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
