package bootstrap

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"

	appconfig "github.com/wolfman30/responsibility-agent/internal/config"
	"github.com/wolfman30/responsibility-agent/internal/notify"
	"github.com/wolfman30/responsibility-agent/pkg/logging"
)

func quietLogger() *logging.Logger {
	return logging.NewWithWriter("error", io.Discard)
}

func baseConfig(url string) *appconfig.Config {
	return &appconfig.Config{
		AMDBaseURL:              url + "/xmlrpc/processrequest.aspx",
		AMDAPIBaseURL:           url + "/api",
		AMDUsername:             "agent",
		AMDPassword:             "secret",
		AMDOfficeCode:           "991",
		ServiceLineWebhookURL:   url + "/webhook",
		LookbackHours:           24,
		EligibilityPollAttempts: 5,
		EligibilityPollInterval: time.Millisecond,
		ReferenceChargeCents:    40000,
		AuthTimeout:             time.Second,
		WebhookTimeout:          time.Second,
		RunLockTTL:              time.Minute,
		EmailProvider:           "stub",
	}
}

func TestBuildRedisClient(t *testing.T) {
	if c := BuildRedisClient(context.Background(), &appconfig.Config{}, quietLogger(), true); c != nil {
		t.Fatal("expected nil client without REDIS_ADDR")
	}

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, quietLogger(), true)
	if client == nil {
		t.Fatal("expected client for reachable redis")
	}
	defer client.Close()

	lock, err := BuildRunLock(client, &appconfig.Config{RunLockTTL: time.Minute})
	if err != nil || lock == nil {
		t.Fatalf("expected run lock, got %v, %v", lock, err)
	}
	_, ok, err := lock.TryLock(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected lock acquired, got ok=%v err=%v", ok, err)
	}
}

func TestBuildRedisClient_UnreachableIsNil(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if c := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: addr}, quietLogger(), true); c != nil {
		t.Fatal("expected nil client when ping fails")
	}
}

func TestBuildRunLock_NoClient(t *testing.T) {
	lock, err := BuildRunLock(nil, &appconfig.Config{})
	if err != nil || lock != nil {
		t.Fatalf("expected no lock, got %v, %v", lock, err)
	}
}

func TestBuildEmailSender(t *testing.T) {
	awsCfg := aws.Config{Region: "us-east-1"}
	tests := []struct {
		name     string
		cfg      appconfig.Config
		awsCfg   *aws.Config
		wantNil  bool
		wantErr  bool
		wantType string
	}{
		{name: "no recipients", cfg: appconfig.Config{EmailProvider: "ses"}, wantNil: true},
		{name: "stub", cfg: appconfig.Config{SummaryEmailTo: []string{"a@example.com"}, EmailProvider: "stub"}, wantType: "stub"},
		{name: "sendgrid", cfg: appconfig.Config{SummaryEmailTo: []string{"a@example.com"}, EmailProvider: "sendgrid", SendGridAPIKey: "k"}, wantType: "sendgrid"},
		{name: "sendgrid without key", cfg: appconfig.Config{SummaryEmailTo: []string{"a@example.com"}, EmailProvider: "sendgrid"}, wantErr: true},
		{name: "ses", cfg: appconfig.Config{SummaryEmailTo: []string{"a@example.com"}, EmailProvider: "ses"}, awsCfg: &awsCfg, wantType: "ses"},
		{name: "ses without aws", cfg: appconfig.Config{SummaryEmailTo: []string{"a@example.com"}, EmailProvider: "ses"}, wantErr: true},
		{name: "unknown", cfg: appconfig.Config{SummaryEmailTo: []string{"a@example.com"}, EmailProvider: "pigeon"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, err := BuildEmailSender(&tt.cfg, tt.awsCfg, quietLogger())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantNil {
				if sender != nil {
					t.Fatalf("expected nil sender, got %T", sender)
				}
				return
			}
			var got string
			switch sender.(type) {
			case *notify.StubEmailSender:
				got = "stub"
			case *notify.SendGridSender:
				got = "sendgrid"
			case *notify.SESSender:
				got = "ses"
			}
			if got != tt.wantType {
				t.Fatalf("expected %s sender, got %T", tt.wantType, sender)
			}
		})
	}
}

func TestBuild_RejectsInvalidConfig(t *testing.T) {
	if _, err := Build(context.Background(), nil, quietLogger(), Options{}); err == nil {
		t.Fatal("expected error for nil config")
	}
	cfg := baseConfig("http://pm.example")
	cfg.ServiceLineWebhookURL = ""
	_, err := Build(context.Background(), cfg, quietLogger(), Options{})
	if err == nil || !strings.Contains(err.Error(), "SERVICE_LINE_WEBHOOK_URL") {
		t.Fatalf("expected missing webhook error, got %v", err)
	}
}

func TestBuild_MinimalAgentAndChecks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := baseConfig(srv.URL)
	cfg.SummaryEmailTo = []string{"billing@example.com"}
	agent, err := Build(context.Background(), cfg, quietLogger(), Options{HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer agent.Close()

	if agent.Runner == nil || agent.PM == nil || agent.Lookup == nil || agent.Metrics == nil {
		t.Fatalf("agent not fully wired: %+v", agent)
	}
	if agent.Runs != nil {
		t.Fatal("run ledger should be disabled without DATABASE_URL")
	}

	results := agent.CheckConnections(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected pm and webhook probes, got %+v", results)
	}
	if AllOK(results) {
		t.Fatalf("expected failing probes against a 503 server: %+v", results)
	}
	if results[0].Name != "advancedmd" || results[1].Name != "service-line-webhook" {
		t.Fatalf("unexpected probe order: %+v", results)
	}
}

func TestAllOK(t *testing.T) {
	if !AllOK(nil) {
		t.Fatal("no probes should be ok")
	}
	if AllOK([]ConnectionResult{{Name: "a", OK: true}, {Name: "b"}}) {
		t.Fatal("one failure should fail")
	}
}
