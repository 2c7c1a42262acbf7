package advancedmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/responsibility-agent/internal/emr"
)

// serviceTypeCode 30 requests the health-benefit-plan-coverage summary.
const serviceTypeCode = "30"

// SubmitEligibility starts an eligibility request and returns its id.
func (c *Client) SubmitEligibility(ctx context.Context, patientID, insuranceID string) (string, error) {
	const op = "submit eligibility"
	var requestID string
	err := c.withSession(ctx, "submit_eligibility", func(ctx context.Context) error {
		msg := c.envelope("submitdemandrequest", "atseligibility", map[string]any{
			"@eligibilitystc":      serviceTypeCode,
			"@patientid":           patientID,
			"@insurancecoverageid": insuranceID,
		})
		root, err := c.postXML(ctx, c.eligibilityTimeout, msg, op)
		if err != nil {
			return err
		}
		results := root.find("Results")
		if results == nil || results.attr("eligibilityid") == "" {
			return &emr.UpstreamError{Op: op, Err: errors.New("response carried no eligibility id")}
		}
		requestID = results.attr("eligibilityid")
		return nil
	})
	if err != nil {
		return "", err
	}
	c.logger.Debug("submitted eligibility request", "patient_id", patientID, "insurance_id", insuranceID, "request_id", requestID)
	return requestID, nil
}

// PollEligibility checks a submitted request. The answer is either a JSON
// benefit document or an XML Results element.
func (c *Client) PollEligibility(ctx context.Context, requestID string) (*emr.EligibilityResult, error) {
	const op = "poll eligibility"
	var result *emr.EligibilityResult
	err := c.withSession(ctx, "poll_eligibility", func(ctx context.Context) error {
		msg := c.envelope("CheckEligibilityResponse", "eligibility", map[string]any{
			"@eligibilityid": requestID,
		})
		resp, err := c.post(ctx, c.eligibilityTimeout, msg, op, true)
		if err != nil {
			return err
		}
		if resp.isJSON() {
			result, err = parseBenefitJSON(resp.body)
		} else {
			result, err = parseEligibilityXML(op, resp.body)
		}
		if err != nil {
			var upstream *emr.UpstreamError
			if errors.As(err, &upstream) {
				return err
			}
			return &emr.UpstreamError{Op: op, Err: err}
		}
		result.RequestID = requestID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// classifyStatus maps the vendor status vocabulary onto the three poll states.
func classifyStatus(status string) (emr.EligibilityStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "", "pending", "processing", "queued", "submitted", "in progress":
		return emr.EligibilityPending, true
	case "rejected", "failed", "error", "inactive":
		return emr.EligibilityRejected, true
	case "processed", "complete", "completed", "active", "received":
		return emr.EligibilityResolved, true
	default:
		return "", false
	}
}

type benefitParam struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type benefitDocument struct {
	Status          string `json:"status"`
	Reason          string `json:"reason"`
	Message         string `json:"message"`
	PlanName        string `json:"planName"`
	PlanType        string `json:"planType"`
	PayerName       string `json:"payerName"`
	NetworkSections []struct {
		Identifier          string         `json:"identifier"`
		InNetworkParameters []benefitParam `json:"inNetworkParameters"`
	} `json:"networkSections"`
	ServicesTypes []struct {
		ServiceTypeName     string `json:"serviceTypeName"`
		ServiceTypeSections []struct {
			Label             string         `json:"label"`
			ServiceParameters []benefitParam `json:"serviceParameters"`
		} `json:"serviceTypeSections"`
	} `json:"servicesTypes"`
}

func parseBenefitJSON(body []byte) (*emr.EligibilityResult, error) {
	var doc benefitDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode eligibility json: %w", err)
	}
	status, ok := classifyStatus(doc.Status)
	if !ok {
		return nil, fmt.Errorf("unrecognized eligibility status %q", doc.Status)
	}

	result := &emr.EligibilityResult{Status: status}
	switch status {
	case emr.EligibilityRejected:
		result.Reason = firstNonEmpty(doc.Reason, doc.Message, doc.Status)
	case emr.EligibilityResolved:
		coverage := extractFinancials(doc)
		coverage.PlanName = doc.PlanName
		coverage.PlanType = doc.PlanType
		coverage.PayerName = doc.PayerName
		result.Coverage = &coverage
	}
	return result, nil
}

// extractFinancials reads copay, coinsurance and deductible from the
// specialist network summary, then lets the professional/office service
// types raise them to the highest value quoted.
func extractFinancials(doc benefitDocument) emr.Coverage {
	var coverage emr.Coverage

	for _, section := range doc.NetworkSections {
		if section.Identifier != "Specialist" {
			continue
		}
		for _, p := range section.InNetworkParameters {
			key := strings.ToLower(p.Key)
			value := strings.TrimSpace(p.Value)
			if value == "" {
				continue
			}
			switch {
			case strings.Contains(key, "co-pay"):
				if cents, ok := parseDollars(value); ok {
					coverage.CopayCents = &cents
				}
			case strings.Contains(key, "co-ins"):
				if rate, ok := parsePercent(value); ok {
					coverage.CoinsuranceRate = &rate
				}
			}
		}
	}

	for _, st := range doc.ServicesTypes {
		name := strings.ToLower(st.ServiceTypeName)
		if !strings.Contains(name, "professional") && !strings.Contains(name, "physician") && !strings.Contains(name, "office") {
			continue
		}
		for _, section := range st.ServiceTypeSections {
			label := strings.ToLower(section.Label)
			if !strings.Contains(label, "in plan-network") && !strings.Contains(label, "applies to") {
				continue
			}
			for _, p := range section.ServiceParameters {
				key := strings.ToLower(p.Key)
				value := strings.TrimSpace(p.Value)
				switch {
				case strings.Contains(key, "co-payment") && strings.Contains(value, "$"):
					if cents, ok := parseDollars(value); ok {
						coverage.CopayCents = maxCents(coverage.CopayCents, cents)
					}
				case strings.Contains(key, "co-insurance") && strings.Contains(value, "%"):
					if rate, ok := parsePercent(value); ok {
						coverage.CoinsuranceRate = maxRate(coverage.CoinsuranceRate, rate)
					}
				case strings.Contains(key, "deductible") && strings.Contains(value, "$"):
					if cents, ok := parseDollars(value); ok {
						coverage.DeductibleCents = maxCents(coverage.DeductibleCents, cents)
					}
				}
			}
		}
	}
	return coverage
}

func parseEligibilityXML(op string, body []byte) (*emr.EligibilityResult, error) {
	root, err := parseXML(body)
	if err != nil {
		return nil, err
	}
	if err := resultError(op, root); err != nil {
		return nil, err
	}
	results := root.find("Results")
	if results == nil {
		return nil, errors.New("response carried no Results element")
	}
	status, ok := classifyStatus(results.attr("status"))
	if !ok {
		return nil, fmt.Errorf("unrecognized eligibility status %q", results.attr("status"))
	}

	result := &emr.EligibilityResult{Status: status}
	switch status {
	case emr.EligibilityRejected:
		result.Reason = firstNonEmpty(results.attr("reason"), results.attr("message"), results.attr("status"))
	case emr.EligibilityResolved:
		coverage := emr.Coverage{
			PlanName:  results.attr("planname"),
			PlanType:  results.attr("plantype"),
			PayerName: results.attr("payername"),
		}
		if results.hasAttr("copay") {
			if cents, ok := parseDollars(results.attr("copay")); ok {
				coverage.CopayCents = &cents
			}
		}
		if results.hasAttr("coinsurance") {
			if rate, ok := parsePercent(results.attr("coinsurance")); ok {
				coverage.CoinsuranceRate = &rate
			}
		}
		if results.hasAttr("deductible") {
			if cents, ok := parseDollars(results.attr("deductible")); ok {
				coverage.DeductibleCents = &cents
			}
		}
		result.Coverage = &coverage
	}
	return result, nil
}

func maxCents(current *int64, candidate int64) *int64 {
	if current != nil && *current >= candidate {
		return current
	}
	return &candidate
}

func maxRate(current *float64, candidate float64) *float64 {
	if current != nil && *current >= candidate {
		return current
	}
	return &candidate
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
