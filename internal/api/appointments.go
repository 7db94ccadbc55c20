package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/clinicdesk/appointment-sync/internal/model"
)

// ErrNoDoctor is returned when a request needs a doctor id and none is known.
var ErrNoDoctor = errors.New("no doctor id")

// ListAppointments fetches the full appointment list for a doctor.
//
// Entries without an appointmentId are dropped with a warning so a single bad
// record does not block a refresh.
func (c *Client) ListAppointments(ctx context.Context, doctorID string) ([]model.Appointment, error) {
	if doctorID == "" {
		return nil, ErrNoDoctor
	}

	var resp []model.Appointment
	if err := c.getJSON(ctx, "/appointments/doctor/"+url.PathEscape(doctorID), &resp); err != nil {
		return nil, fmt.Errorf("list appointments for doctor %s: %w", doctorID, err)
	}

	out := resp[:0]
	for _, a := range resp {
		if err := a.Validate(); err != nil {
			c.logger.Warn("skipping appointment without id", "doctor_id", doctorID)
			continue
		}
		out = append(out, a)
	}

	return out, nil
}
