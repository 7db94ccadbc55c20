// Package database provides the PostgreSQL connection pool for the update log.
//
// The database is optional. When enabled, every applied appointment update is
// appended to the appointment_updates table by the writer package.
package database
