package serviceline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/responsibility-agent/pkg/logging"
)

func newTestClient(t *testing.T, url string, timeout time.Duration) *Client {
	t.Helper()
	client, err := New(Config{WebhookURL: url, Timeout: timeout}, logging.NewWithWriter("error", io.Discard))
	require.NoError(t, err)
	return client
}

func TestLookup_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Jane Doe", body["patient_name"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Service Type": " Spravato "}`))
	}))
	defer srv.Close()

	label, err := newTestClient(t, srv.URL, time.Second).Lookup(context.Background(), "Jane Doe")
	require.NoError(t, err)
	assert.Equal(t, "Spravato", label)
}

func TestLookup_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		status  int
	}{
		{"non-2xx", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "zap failed", http.StatusInternalServerError)
		}, http.StatusInternalServerError},
		{"empty label", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"Service Type": "  "}`))
		}, 0},
		{"not json", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`accepted`))
		}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newTestClient(t, srv.URL, time.Second).Lookup(context.Background(), "Jane Doe")
			var lookupErr *LookupError
			require.ErrorAs(t, err, &lookupErr)
			assert.Equal(t, tt.status, lookupErr.StatusCode)
			assert.Equal(t, "Jane Doe", lookupErr.PatientName)
		})
	}
}

func TestLookup_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := newTestClient(t, srv.URL, 50*time.Millisecond).Lookup(context.Background(), "Jane Doe")
	var lookupErr *LookupError
	require.ErrorAs(t, err, &lookupErr)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

func TestAbbreviation(t *testing.T) {
	assert.Equal(t, "IM", Abbreviation("IM ketamine"))
	assert.Equal(t, "KAP", Abbreviation("KAP"))
	assert.Equal(t, "SPR", Abbreviation("spravato"))
	assert.Equal(t, "MM", Abbreviation("Med Management (Psych E/M)"))
	assert.Equal(t, "TMS", Abbreviation("tms therapy"))
	assert.Equal(t, "NA", Abbreviation(""))
	assert.Equal(t, "NA", Abbreviation(Placeholder))
	assert.Equal(t, "ÉLÉ", Abbreviation("élévation"))
}
