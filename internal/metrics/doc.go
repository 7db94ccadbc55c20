// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Live-update connection phase, handshakes, closes and reconnect attempts
//   - Appointment updates applied (insert vs replace) and rejected
//   - Update log writer rows and failures
//   - REST refresh outcomes
package metrics
