package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clinicdesk/appointment-sync/internal/api"
	"github.com/clinicdesk/appointment-sync/internal/metrics"
	"github.com/clinicdesk/appointment-sync/internal/model"
)

// ErrNoTarget is returned by Refresh when nobody is logged in.
var ErrNoTarget = errors.New("no doctor to refresh for")

// Sink receives a freshly fetched appointment list.
type Sink interface {
	Reset(list []model.Appointment)
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Refresh interval, 0 seeds once and stops
	Timeout  time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 0,
		Timeout:  10 * time.Second,
	}
}

// Poller seeds the appointment collection over REST and optionally
// re-fetches it on an interval.
type Poller struct {
	cfg     Config
	client  *api.Client
	target  func() string
	sink    Sink
	metrics *metrics.Registry
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. reg may be nil.
func New(cfg Config, client *api.Client, target func() string, sink Sink, reg *metrics.Registry, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Poller{
		cfg:     cfg,
		client:  client,
		target:  target,
		sink:    sink,
		metrics: reg,
		logger:  logger,
	}
}

// Start seeds the collection and, with a positive interval, begins the
// refresh loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("appointment poller started", "interval", p.cfg.Interval)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("appointment poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	// Seed immediately on start.
	p.refreshLogged()

	if p.cfg.Interval <= 0 {
		return
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.refreshLogged()
		}
	}
}

func (p *Poller) refreshLogged() {
	if err := p.Refresh(p.ctx); err != nil {
		if errors.Is(err, ErrNoTarget) {
			p.logger.Debug("no doctor logged in, skipping refresh")
			return
		}
		p.logger.Warn("appointment refresh failed", "error", err)
	}
}

// Refresh fetches the current list and replaces the collection with it.
func (p *Poller) Refresh(ctx context.Context) error {
	doctorID := ""
	if p.target != nil {
		doctorID = p.target()
	}
	if doctorID == "" {
		return ErrNoTarget
	}

	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	list, err := p.client.ListAppointments(ctx, doctorID)
	if err != nil {
		p.metrics.Refreshed(0, err)
		return fmt.Errorf("refresh appointments: %w", err)
	}

	p.sink.Reset(list)
	p.metrics.Refreshed(len(list), nil)

	p.logger.Info("appointments refreshed",
		"doctor_id", doctorID,
		"count", len(list),
		"duration", time.Since(start),
	)
	return nil
}
