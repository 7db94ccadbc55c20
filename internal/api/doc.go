// Package api provides the REST client for the scheduling backend.
//
// Endpoints used:
//   - GET {rest_url}/appointments/doctor/{doctorId}: full appointment list
//
// Requests carry the session's bearer token, a User-Agent and an X-Request-ID.
// 5xx and 429 answers are retried with jittered exponential backoff, honoring
// Retry-After. A 401 or 403 matches ErrUnauthorized.
package api
