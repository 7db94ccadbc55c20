// Package session tracks the logged-in doctor whose appointments are synced.
package session

import (
	"strconv"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/clinicdesk/appointment-sync/internal/config"
)

// Session holds the bearer token and resolves the subscription target from it.
//
// The token is issued and verified by the backend; the agent only reads its
// claims, so no signature check happens here.
type Session struct {
	mu       sync.RWMutex
	token    string
	doctorID string
	claim    string
	parser   *jwt.Parser
}

// New creates a session from configuration.
func New(cfg config.SessionConfig) *Session {
	claim := cfg.DoctorClaim
	if claim == "" {
		claim = config.DefaultDoctorClaim
	}
	return &Session{
		token:    strings.TrimSpace(cfg.Token),
		doctorID: strings.TrimSpace(cfg.DoctorID),
		claim:    claim,
		parser:   jwt.NewParser(),
	}
}

// SetToken records a new login.
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = strings.TrimSpace(token)
}

// Clear logs out: both the token and any explicit doctor id are dropped.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.doctorID = ""
}

// Token returns the current bearer token.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// AuthHeader returns the Authorization header value, or "" without a token.
func (s *Session) AuthHeader() string {
	token := s.Token()
	if token == "" {
		return ""
	}
	return "Bearer " + token
}

// Target returns the doctor id to subscribe for, or "" when nobody is logged in.
// An explicit doctor id wins over the token claims.
func (s *Session) Target() string {
	s.mu.RLock()
	token, doctorID := s.token, s.doctorID
	s.mu.RUnlock()

	if doctorID != "" {
		return doctorID
	}
	if token == "" {
		return ""
	}

	claims := jwt.MapClaims{}
	if _, _, err := s.parser.ParseUnverified(token, claims); err != nil {
		return ""
	}

	if id := claimString(claims[s.claim]); id != "" {
		return id
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

func claimString(v any) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}
