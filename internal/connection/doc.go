// Package connection implements the live-update Connection Manager.
//
// The Connection Manager:
//   - Maintains one STOMP-over-WebSocket session for the logged-in doctor
//   - Subscribes once to that doctor's appointment topic per handshake
//   - Merges every pushed appointment into the store by identity
//   - Reconnects with a linear, capped backoff and gives up after a fixed number of failures
//   - Ignores events from transports it has already torn down (connection epochs)
package connection
