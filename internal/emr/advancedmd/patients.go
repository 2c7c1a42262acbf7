package advancedmd

import (
	"context"
	"strings"
	"time"

	"github.com/wolfman30/responsibility-agent/internal/emr"
)

// patientFields and insuranceFields select the columns returned by getupdatedpatients.
var patientFields = map[string]any{
	"@name":              "Name",
	"@changedat":         "ChangedAt",
	"@createdat":         "CreatedAt",
	"@hipaarelationship": "HipaaRelationship",
	"@dob":               "DOB",
	"@sex":               "Sex",
	"@city":              "City",
	"@state":             "State",
	"@zipcode":           "ZipCode",
}

var insuranceFields = map[string]any{
	"@carname":               "CarName",
	"@carcode":               "CarCode",
	"@changedat":             "ChangedAt",
	"@active":                "Active",
	"@copaydollaramount":     "CopayDollarAmount",
	"@copaypercentageamount": "CopayPercentageAmount",
	"@subscriberid":          "SubscriberID",
}

// GetUpdatedPatients returns patients changed within the last lookbackHours.
// Records without a date of birth or sex cannot be eligibility-checked and are dropped.
func (c *Client) GetUpdatedPatients(ctx context.Context, lookbackHours int) ([]emr.Patient, error) {
	const op = "get updated patients"
	since := c.now().Add(-hours(lookbackHours))

	var patients []emr.Patient
	err := c.withSession(ctx, "get_updated_patients", func(ctx context.Context) error {
		msg := c.envelope("getupdatedpatients", "api", map[string]any{
			"@datechanged": since.Format(msgTimeLayout),
			"@nocookie":    "0",
			"patient":      patientFields,
			"insurance":    insuranceFields,
		})
		root, err := c.postXML(ctx, c.fetchTimeout, msg, op)
		if err != nil {
			return err
		}
		patients = c.parsePatients(root)
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("retrieved updated patients", "count", len(patients), "lookback_hours", lookbackHours)
	return patients, nil
}

func (c *Client) parsePatients(root *node) []emr.Patient {
	loc := c.now().Location()
	patients := make([]emr.Patient, 0)
	for _, el := range root.findAll("patient") {
		dob := el.attr("dob")
		sex := el.attr("sex")
		if dob == "" || sex == "" {
			c.logger.Warn("skipping patient missing dob or sex", "patient_id", el.attr("id"))
			continue
		}

		changedAt, ok := parsePMTime(el.attr("changedat"), loc)
		if !ok {
			c.logger.Debug("unrecognised patient change time", "patient_id", el.attr("id"), "changedat", el.attr("changedat"))
		}
		name := el.attr("name")
		last, first := splitName(name)
		patient := emr.Patient{
			ID:          el.attr("id"),
			Name:        name,
			FirstName:   first,
			LastName:    last,
			DateOfBirth: dob,
			Gender:      sex,
			State:       strings.ToUpper(el.attr("state")),
			ChangedAt:   changedAt,
		}
		for _, ins := range el.findAll("insurance") {
			patient.Insurances = append(patient.Insurances, emr.Insurance{
				ID:              ins.attr("id"),
				CarrierCode:     ins.attr("carcode"),
				CarrierName:     ins.attr("carname"),
				SubscriberID:    ins.attr("subscriberid"),
				Active:          ins.attr("active") == "1",
				CopayCents:      positiveCents(ins.attr("copaydollaramount")),
				CoinsuranceRate: positiveRate(ins.attr("copaypercentageamount")),
			})
		}
		patients = append(patients, patient)
	}
	return patients
}

// splitName splits the PM "LAST,FIRST" form.
func splitName(name string) (last, first string) {
	parts := strings.SplitN(name, ",", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

func hours(n int) time.Duration {
	return time.Duration(n) * time.Hour
}
