// Package reconcile merges pushed appointment updates into an ordered collection.
//
// The merge is an identity upsert: an update whose appointmentId is already
// present replaces that entry in place, anything else is prepended. There is
// no version or timestamp comparison, so the last update applied for an id wins.
package reconcile

import "github.com/clinicdesk/appointment-sync/internal/model"

// Apply returns a new collection with update merged into current.
// current is never modified.
func Apply(update model.Appointment, current []model.Appointment) []model.Appointment {
	if i := IndexOf(current, update.ID); i >= 0 {
		next := make([]model.Appointment, len(current))
		copy(next, current)
		next[i] = update
		return next
	}

	next := make([]model.Appointment, 0, len(current)+1)
	next = append(next, update)
	next = append(next, current...)
	return next
}

// IndexOf returns the position of the first entry with the given id, or -1.
func IndexOf(list []model.Appointment, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}
