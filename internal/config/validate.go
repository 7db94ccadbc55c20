package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *AgentConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.WSURL == "" {
		return errors.New("server.ws_url is required")
	}
	u, err := url.Parse(c.Server.WSURL)
	if err != nil {
		return fmt.Errorf("server.ws_url is invalid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server.ws_url must use ws or wss, got %q", u.Scheme)
	}
	if c.Server.HandshakeTimeout < 0 {
		return errors.New("server.handshake_timeout must be >= 0")
	}

	if c.Reconnect.BaseDelay <= 0 {
		return errors.New("reconnect.base_delay must be > 0")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("reconnect.max_delay (%s) cannot be less than base_delay (%s)",
			c.Reconnect.MaxDelay, c.Reconnect.BaseDelay)
	}
	if c.Reconnect.MaxAttempts < 1 {
		return errors.New("reconnect.max_attempts must be >= 1")
	}

	if c.Database.Enabled {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
		if c.Writer.BatchSize < 1 {
			return errors.New("writer.batch_size must be >= 1")
		}
		if c.Writer.BufferSize < 1 {
			return errors.New("writer.buffer_size must be >= 1")
		}
	}

	if c.Refresh.Interval < 0 {
		return errors.New("refresh.interval must be >= 0")
	}
	if c.Refresh.Interval > 0 && c.Server.RestURL == "" {
		return errors.New("server.rest_url is required when refresh.interval is set")
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}

	return nil
}

// SlogLevel parses the configured log level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q is invalid", l.Level)
	}
	return level, nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
