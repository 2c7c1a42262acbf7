package advancedmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/wolfman30/responsibility-agent/internal/emr"
)

// flexString accepts both JSON numbers and strings.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type appointmentJSON struct {
	ID                flexString `json:"id"`
	PatientID         flexString `json:"patientId"`
	StartDateTime     string     `json:"startDateTime"`
	Start             string     `json:"start"`
	Status            string     `json:"status"`
	AppointmentStatus string     `json:"appointmentStatus"`
}

func (a appointmentJSON) empty() bool {
	return a.ID == "" && a.StartDateTime == "" && a.Start == "" && a.Status == "" && a.AppointmentStatus == ""
}

// GetAppointments returns scheduler appointments for a patient.
func (c *Client) GetAppointments(ctx context.Context, patientID string) ([]emr.Appointment, error) {
	const op = "get appointments"
	params := url.Values{}
	params.Set("forView", "patient")
	params.Set("patientId", patientID)
	endpoint := fmt.Sprintf("%s/scheduler/Appointments?%s", c.apiBaseURL, params.Encode())

	var appointments []emr.Appointment
	err := c.withSession(ctx, "get_appointments", func(ctx context.Context) error {
		resp, err := c.getJSON(ctx, c.appointmentTimeout, endpoint, op)
		if err != nil {
			return err
		}
		raw, err := decodeAppointments(resp.body)
		if err != nil {
			return &emr.UpstreamError{Op: op, Err: err}
		}
		appointments = c.toAppointments(patientID, raw)
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("retrieved appointments", "patient_id", patientID, "count", len(appointments))
	return appointments, nil
}

// decodeAppointments accepts a bare array, an {"appointments": [...]} wrapper
// or a single appointment object.
func decodeAppointments(body []byte) ([]appointmentJSON, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || string(body) == "null" {
		return nil, nil
	}
	switch body[0] {
	case '[':
		var list []appointmentJSON
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("decode appointments: %w", err)
		}
		return list, nil
	case '{':
		var wrapper struct {
			Appointments []appointmentJSON `json:"appointments"`
		}
		if err := json.Unmarshal(body, &wrapper); err != nil {
			return nil, fmt.Errorf("decode appointments: %w", err)
		}
		if wrapper.Appointments != nil {
			return wrapper.Appointments, nil
		}
		var single appointmentJSON
		if err := json.Unmarshal(body, &single); err != nil {
			return nil, fmt.Errorf("decode appointment: %w", err)
		}
		if single.empty() {
			return nil, nil
		}
		return []appointmentJSON{single}, nil
	default:
		return nil, fmt.Errorf("decode appointments: unexpected payload starting with %s", strconv.QuoteRune(rune(body[0])))
	}
}

func (c *Client) toAppointments(patientID string, raw []appointmentJSON) []emr.Appointment {
	loc := c.now().Location()
	out := make([]emr.Appointment, 0, len(raw))
	for _, a := range raw {
		start := a.StartDateTime
		if start == "" {
			start = a.Start
		}
		status := a.Status
		if status == "" {
			status = a.AppointmentStatus
		}
		pid := string(a.PatientID)
		if pid == "" {
			pid = patientID
		}
		startTime, ok := parsePMTime(start, loc)
		if !ok {
			c.logger.Warn("unrecognised appointment start time", "patient_id", pid, "appointment_id", string(a.ID), "start", start)
		}
		out = append(out, emr.Appointment{
			ID:               string(a.ID),
			PatientID:        pid,
			StartTime:        startTime,
			StartUnparseable: !ok,
			Status:           status,
		})
	}
	return out
}
