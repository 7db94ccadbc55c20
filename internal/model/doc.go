// Package model defines the appointment record shared across the sync agent.
//
// Conventions:
//   - appointmentId is the only field the agent interprets; it is the identity key
//   - every other field is carried through untouched as raw JSON
//   - ordering of a collection is meaningful (newest first)
package model
