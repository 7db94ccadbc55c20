// Package poller implements the REST refresh path for the appointment collection.
//
// The poller:
//   - Seeds the collection from GET /appointments/doctor/{id} at start
//   - Optionally re-fetches on a fixed interval so the collection stays
//     eventually consistent while live updates are down
//   - Replaces the collection wholesale; live updates merge on top
package poller
