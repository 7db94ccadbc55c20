// Package writer implements the batch writer for the appointment update log.
//
// The update writer consumes the store's change feed and appends one row per
// applied live update to appointment_updates. REST refreshes replace the
// collection without a causing update and are not logged.
//
// Writes are append-only (never update, only insert).
package writer
