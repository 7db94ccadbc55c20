package config

import (
	"time"

	"github.com/google/uuid"
)

// Default values for optional configuration fields.
const (
	DefaultTopicPrefix        = "/topic/appointments/"
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultHeartBeat          = 10 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultAPITimeout         = 30 * time.Second
	DefaultMaxRetries         = 3
	DefaultDoctorClaim        = "doctorId"
	DefaultReconnectBaseDelay = 5 * time.Second
	DefaultReconnectMaxDelay  = 15 * time.Second
	DefaultMaxReconnects      = 5
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 4
	DefaultMinConns           = 1
	DefaultBatchSize          = 100
	DefaultFlushInterval      = 1 * time.Second
	DefaultBufferSize         = 1000
	DefaultHTTPPort           = 8080
	DefaultMetricsPath        = "/metrics"
	DefaultLogLevel           = "info"
)

func (c *AgentConfig) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = uuid.NewString()
	}

	// Server defaults
	if c.Server.TopicPrefix == "" {
		c.Server.TopicPrefix = DefaultTopicPrefix
	}
	if c.Server.HandshakeTimeout == 0 {
		c.Server.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Server.HeartBeat == 0 {
		c.Server.HeartBeat = DefaultHeartBeat
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = DefaultAPITimeout
	}
	if c.Server.MaxRetries == 0 {
		c.Server.MaxRetries = DefaultMaxRetries
	}

	if c.Session.DoctorClaim == "" {
		c.Session.DoctorClaim = DefaultDoctorClaim
	}

	// Reconnect defaults
	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect.BaseDelay = DefaultReconnectBaseDelay
	}
	if c.Reconnect.MaxDelay == 0 {
		c.Reconnect.MaxDelay = DefaultReconnectMaxDelay
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = DefaultMaxReconnects
	}

	applyDBDefaults(&c.Database)

	// Writer defaults
	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = DefaultBatchSize
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = DefaultFlushInterval
	}
	if c.Writer.BufferSize == 0 {
		c.Writer.BufferSize = DefaultBufferSize
	}

	// HTTP defaults
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
	if c.HTTP.MetricsPath == "" {
		c.HTTP.MetricsPath = DefaultMetricsPath
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
