package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMissingID is returned when a record carries no appointmentId.
var ErrMissingID = errors.New("appointmentId is required")

// Appointment is a single appointment record as pushed by the server.
//
// Only ID is decoded. Raw holds the complete record so that replacing an
// entry keeps every server-side field (patient, timing, status flags).
type Appointment struct {
	ID  string          // appointmentId
	Raw json.RawMessage // Full record as received
}

// UnmarshalJSON decodes the identity key and keeps the full payload.
// Numeric ids are accepted and kept in their literal form.
func (a *Appointment) UnmarshalJSON(data []byte) error {
	var head struct {
		AppointmentID json.RawMessage `json:"appointmentId"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("decode appointment: %w", err)
	}

	id, err := decodeID(head.AppointmentID)
	if err != nil {
		return err
	}

	a.ID = id
	a.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON writes the received payload back out unchanged.
func (a Appointment) MarshalJSON() ([]byte, error) {
	if len(a.Raw) == 0 {
		return json.Marshal(map[string]string{"appointmentId": a.ID})
	}
	return a.Raw, nil
}

// Validate checks that the record can be merged by identity.
func (a Appointment) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return ErrMissingID
	}
	return nil
}

// Decode unmarshals the full payload into v, for callers that want a typed view.
func (a Appointment) Decode(v any) error {
	if len(a.Raw) == 0 {
		return ErrMissingID
	}
	return json.Unmarshal(a.Raw, v)
}

func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("decode appointmentId: %w", err)
		}
		return s, nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("decode appointmentId: %w", err)
		}
		return n.String(), nil
	default:
		return "", fmt.Errorf("decode appointmentId: unsupported value %s", raw)
	}
}
