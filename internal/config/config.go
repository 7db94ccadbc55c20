package config

import "time"

// AgentConfig is the root configuration for a sync agent.
type AgentConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Database  DBConfig        `yaml:"database"`
	Writer    WriterConfig    `yaml:"writer"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
}

// InstanceConfig identifies this agent.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds the scheduling backend endpoints.
type ServerConfig struct {
	WSURL            string        `yaml:"ws_url"`   // Raw WebSocket endpoint, e.g. wss://host/ws/websocket
	RestURL          string        `yaml:"rest_url"` // REST base, e.g. https://host/api
	TopicPrefix      string        `yaml:"topic_prefix"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	HeartBeat        time.Duration `yaml:"heartbeat"` // STOMP heart-beat; unset means 10s, negative disables
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	Timeout          time.Duration `yaml:"timeout"`     // REST request timeout
	MaxRetries       int           `yaml:"max_retries"` // Unset means 3, negative disables retries
}

// HeartBeatInterval returns the heart-beat to negotiate, 0 when disabled.
func (s ServerConfig) HeartBeatInterval() time.Duration {
	if s.HeartBeat < 0 {
		return 0
	}
	return s.HeartBeat
}

// Retries returns the REST retry count, 0 when disabled.
func (s ServerConfig) Retries() int {
	if s.MaxRetries < 0 {
		return 0
	}
	return s.MaxRetries
}

// SessionConfig describes the logged-in doctor.
type SessionConfig struct {
	Token       string `yaml:"token"`        // Bearer JWT
	DoctorID    string `yaml:"doctor_id"`    // Overrides the id found in the token
	DoctorClaim string `yaml:"doctor_claim"` // Claim holding the doctor id
}

// ReconnectConfig holds automatic reconnection settings.
type ReconnectConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// DBConfig holds the optional PostgreSQL connection for the update log.
type DBConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WriterConfig holds batch writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// RefreshConfig holds REST refresh settings.
type RefreshConfig struct {
	Interval time.Duration `yaml:"interval"` // 0 disables periodic refresh
}

// HTTPConfig holds the health/metrics server settings.
type HTTPConfig struct {
	Port        int    `yaml:"port"`
	MetricsPath string `yaml:"metrics_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}
