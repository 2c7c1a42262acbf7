package advancedmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/responsibility-agent/internal/emr"
)

const benefitJSON = `{
  "status": "Processed",
  "planName": "Choice Plus",
  "planType": "PPO",
  "payerName": "United Healthcare",
  "networkSections": [
    {"identifier": "Specialist", "inNetworkParameters": [
      {"key": "Co-Pay", "value": "$40.00"},
      {"key": "Co-Ins", "value": "10%"}
    ]},
    {"identifier": "PCP", "inNetworkParameters": [
      {"key": "Co-Pay", "value": "$999.00"}
    ]}
  ],
  "servicesTypes": [
    {"serviceTypeName": "Professional (Physician) Visit - Office", "serviceTypeSections": [
      {"label": "In Plan-Network Status", "serviceParameters": [
        {"key": "Co-Payment", "value": "$45.00"},
        {"key": "Co-Insurance", "value": "20%"},
        {"key": "Deductible", "value": "$1,500.00"}
      ]},
      {"label": "Out of Network", "serviceParameters": [
        {"key": "Co-Payment", "value": "$500.00"}
      ]}
    ]},
    {"serviceTypeName": "Pharmacy", "serviceTypeSections": [
      {"label": "Applies To", "serviceParameters": [
        {"key": "Co-Payment", "value": "$300.00"}
      ]}
    ]}
  ]
}`

func TestParseBenefitJSON_ExtractsFinancials(t *testing.T) {
	result, err := parseBenefitJSON([]byte(benefitJSON))
	require.NoError(t, err)
	assert.Equal(t, emr.EligibilityResolved, result.Status)
	require.NotNil(t, result.Coverage)

	cov := result.Coverage
	assert.Equal(t, "Choice Plus", cov.PlanName)
	assert.Equal(t, "PPO", cov.PlanType)
	require.NotNil(t, cov.CopayCents)
	assert.Equal(t, int64(4500), *cov.CopayCents, "highest in-network office copay wins")
	require.NotNil(t, cov.CoinsuranceRate)
	assert.InDelta(t, 0.20, *cov.CoinsuranceRate, 1e-9)
	require.NotNil(t, cov.DeductibleCents)
	assert.Equal(t, int64(150000), *cov.DeductibleCents)
}

func TestParseBenefitJSON_Statuses(t *testing.T) {
	tests := []struct {
		body   string
		status emr.EligibilityStatus
		reason string
	}{
		{`{"status":"Pending"}`, emr.EligibilityPending, ""},
		{`{}`, emr.EligibilityPending, ""},
		{`{"status":"In Progress"}`, emr.EligibilityPending, ""},
		{`{"status":"Rejected","reason":"Subscriber not found"}`, emr.EligibilityRejected, "Subscriber not found"},
		{`{"status":"Inactive"}`, emr.EligibilityRejected, "Inactive"},
		{`{"status":"Complete"}`, emr.EligibilityResolved, ""},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			result, err := parseBenefitJSON([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.status, result.Status)
			assert.Equal(t, tt.reason, result.Reason)
		})
	}

	_, err := parseBenefitJSON([]byte(`{"status":"teleported"}`))
	assert.Error(t, err)
	_, err = parseBenefitJSON([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseBenefitJSON_ResolvedWithoutFinancials(t *testing.T) {
	result, err := parseBenefitJSON([]byte(`{"status":"Active","planType":"Medicaid"}`))
	require.NoError(t, err)
	require.NotNil(t, result.Coverage)
	assert.Nil(t, result.Coverage.CopayCents)
	assert.Nil(t, result.Coverage.CoinsuranceRate)
	assert.Equal(t, "Medicaid", result.Coverage.PlanType)
}

func TestParseEligibilityXML(t *testing.T) {
	result, err := parseEligibilityXML("poll", []byte(`<PPMDResults><Results status="completed" copay="$30" coinsurance="0" planname="Gold"/></PPMDResults>`))
	require.NoError(t, err)
	assert.Equal(t, emr.EligibilityResolved, result.Status)
	require.NotNil(t, result.Coverage.CopayCents)
	assert.Equal(t, int64(3000), *result.Coverage.CopayCents)
	require.NotNil(t, result.Coverage.CoinsuranceRate, "explicit zero coinsurance is data, not absence")
	assert.Zero(t, *result.Coverage.CoinsuranceRate)
	assert.Nil(t, result.Coverage.DeductibleCents)

	result, err = parseEligibilityXML("poll", []byte(`<PPMDResults><Results status="failed" message="Payer unavailable"/></PPMDResults>`))
	require.NoError(t, err)
	assert.Equal(t, emr.EligibilityRejected, result.Status)
	assert.Equal(t, "Payer unavailable", result.Reason)

	_, err = parseEligibilityXML("poll", []byte(`<PPMDResults/>`))
	assert.Error(t, err)
}

func TestPollEligibility_ContentNegotiation(t *testing.T) {
	pm := newFakePM(t)
	pm.handler["CheckEligibilityResponse"] = func(w http.ResponseWriter, msg map[string]any, call int) {
		assert.Equal(t, "elig-1", msg["@eligibilityid"])
		switch call {
		case 1:
			writeJSON(w, `{"status":"pending"}`)
		case 2:
			writeXML(w, `<PPMDResults><Results status="processed" copay="15.00"/></PPMDResults>`)
		default:
			http.Error(w, "down", http.StatusServiceUnavailable)
		}
	}
	srv := httptest.NewServer(pm)
	defer srv.Close()
	client := newTestClient(t, srv)

	result, err := client.PollEligibility(context.Background(), "elig-1")
	require.NoError(t, err)
	assert.Equal(t, emr.EligibilityPending, result.Status)
	assert.Equal(t, "elig-1", result.RequestID)

	result, err = client.PollEligibility(context.Background(), "elig-1")
	require.NoError(t, err)
	assert.Equal(t, emr.EligibilityResolved, result.Status)
	assert.Equal(t, int64(1500), *result.Coverage.CopayCents)

	_, err = client.PollEligibility(context.Background(), "elig-1")
	var upstream *emr.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusServiceUnavailable, upstream.StatusCode)
}

func TestParseHelpers(t *testing.T) {
	cents, ok := parseDollars("$1,234.56")
	assert.True(t, ok)
	assert.Equal(t, int64(123456), cents)

	_, ok = parseDollars("n/a")
	assert.False(t, ok)

	rate, ok := parsePercent("12.5%")
	assert.True(t, ok)
	assert.InDelta(t, 0.125, rate, 1e-9)

	_, ok = parsePercent("150")
	assert.False(t, ok)

	assert.Nil(t, positiveCents("0.00"))
	assert.Nil(t, positiveRate(""))
}
