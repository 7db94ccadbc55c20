package connection

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/clinicdesk/appointment-sync/internal/metrics"
	"github.com/clinicdesk/appointment-sync/internal/model"
	"github.com/clinicdesk/appointment-sync/internal/reconcile"
)

// Manager owns the single live-update subscription.
//
// None of the methods block on the network or return errors: failures are
// logged and handled by the reconnect policy. Callers that need to know
// whether the feed is live poll Phase or Stats.
type Manager interface {
	// Connect starts a connection unless one is already live or pending.
	// Without a subscription target it leaves the manager disconnected.
	Connect()

	// Disconnect cancels any pending reconnect and tears the transport down.
	Disconnect()

	// EnsureConnected connects only when neither connected nor connecting.
	EnsureConnected()

	// ForceReconnect disconnects and connects again, skipping the backoff.
	ForceReconnect()

	// Phase returns the current lifecycle phase.
	Phase() Phase

	// ReconnectAttempts returns consecutive failures since the last handshake.
	ReconnectAttempts() int

	// Stats returns a point-in-time view of the manager.
	Stats() ManagerStats
}

// Timer is a scheduled reconnect that can be cancelled.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d.
type AfterFunc func(d time.Duration, f func()) Timer

// Option customizes a Manager.
type Option func(*manager)

// WithTransportFactory replaces the STOMP transport (tests inject fakes).
func WithTransportFactory(f TransportFactory) Option {
	return func(m *manager) {
		m.newTransport = f
	}
}

// WithAfterFunc replaces the reconnect timer source.
func WithAfterFunc(f AfterFunc) Option {
	return func(m *manager) {
		m.afterFunc = f
	}
}

// WithMetrics reports connection and update metrics to r.
func WithMetrics(r *metrics.Registry) Option {
	return func(m *manager) {
		m.metrics = r
	}
}

// manager implements the Manager interface.
type manager struct {
	cfg     ManagerConfig
	target  TargetFunc
	sink    Sink
	logger  *slog.Logger
	metrics *metrics.Registry

	newTransport TransportFactory
	afterFunc    AfterFunc

	// All state below is guarded by mu. Transport events are applied while
	// holding it, so transitions and merges never interleave.
	mu            sync.Mutex
	phase         Phase
	attempts      int
	epoch         uint64 // Bumped whenever a transport is created or discarded
	currentTarget string
	transport     Transport
	cancel        context.CancelFunc
	timer         Timer
	timerSeq      uint64
	connectedAt   time.Time
	lastMessageAt time.Time
	applied       int64
	rejected      int64
}

// NewManager creates a Connection Manager. target resolves the doctor to
// subscribe for; sink receives every merged collection.
func NewManager(cfg ManagerConfig, target TargetFunc, sink Sink, logger *slog.Logger, opts ...Option) Manager {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultManagerConfig()
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = defaults.TopicPrefix
	}
	if cfg.ReconnectBaseWait <= 0 {
		cfg.ReconnectBaseWait = defaults.ReconnectBaseWait
	}
	if cfg.ReconnectMaxWait <= 0 {
		cfg.ReconnectMaxWait = defaults.ReconnectMaxWait
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaults.MaxReconnectAttempts
	}

	m := &manager{
		cfg:          cfg,
		target:       target,
		sink:         sink,
		logger:       logger,
		newTransport: NewTransport,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}

	for _, opt := range opts {
		opt(m)
	}

	m.metrics.SetPhase(metrics.PhaseDisconnected)
	return m
}

// Connect starts a connection if the manager is disconnected.
func (m *manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connectLocked()
}

// EnsureConnected connects only if neither connected nor connecting.
func (m *manager) EnsureConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase == PhaseConnected || m.phase == PhaseConnecting {
		return
	}
	m.connectLocked()
}

// Disconnect tears everything down and resets the attempt counter.
func (m *manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	wasActive := m.phase != PhaseDisconnected || m.timer != nil
	m.resetLocked()

	if wasActive {
		m.logger.Info("disconnected")
	}
}

// ForceReconnect disconnects and immediately connects again.
func (m *manager) ForceReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("forcing reconnect", "phase", m.phase)
	m.resetLocked()
	m.connectLocked()
}

// Phase returns the current phase.
func (m *manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// ReconnectAttempts returns consecutive failures since the last handshake.
func (m *manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return ManagerStats{
		Phase:             m.phase,
		PhaseName:         m.phase.String(),
		Target:            m.currentTarget,
		ReconnectAttempts: m.attempts,
		ReconnectPending:  m.timer != nil,
		Epoch:             m.epoch,
		UpdatesApplied:    m.applied,
		UpdatesRejected:   m.rejected,
		LastMessageAt:     timePtr(m.lastMessageAt),
		ConnectedAt:       timePtr(m.connectedAt),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// connectLocked creates and opens a new transport (caller must hold mu).
func (m *manager) connectLocked() {
	if m.phase != PhaseDisconnected {
		return
	}

	target := ""
	if m.target != nil {
		target = strings.TrimSpace(m.target())
	}
	if target == "" {
		m.logger.Debug("no subscription target, staying disconnected")
		m.setPhaseLocked(PhaseDisconnected)
		return
	}

	// At most one transport live or pending.
	m.stopTimerLocked()
	m.teardownLocked()

	m.epoch++
	epoch := m.epoch

	ctx, cancel := context.WithCancel(context.Background())
	t := m.newTransport(m.transportConfig(), m.logger.With("epoch", epoch))

	m.transport = t
	m.cancel = cancel
	m.currentTarget = target
	m.setPhaseLocked(PhaseConnecting)

	m.logger.Info("connecting",
		"target", target,
		"epoch", epoch,
		"attempts", m.attempts,
	)

	go m.pump(ctx, epoch, t)
	t.Open(ctx)
}

func (m *manager) transportConfig() TransportConfig {
	header := http.Header{}
	if m.cfg.AuthHeader != nil {
		if auth := m.cfg.AuthHeader(); auth != "" {
			header.Set("Authorization", auth)
		}
	}

	return TransportConfig{
		URL:              m.cfg.WSURL,
		Header:           header,
		HandshakeTimeout: m.cfg.HandshakeTimeout,
		HeartBeat:        m.cfg.HeartBeat,
		WriteTimeout:     m.cfg.WriteTimeout,
	}
}

// pump feeds one transport's events into the state machine until the
// transport is discarded.
func (m *manager) pump(ctx context.Context, epoch uint64, t Transport) {
	events := t.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if !m.handleEvent(epoch, ev) {
				return
			}
		}
	}
}

// handleEvent applies one transport event. It returns false once the
// transport that produced it is no longer current.
func (m *manager) handleEvent(epoch uint64, ev Event) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch || m.transport == nil {
		m.logger.Debug("ignoring stale transport event",
			"kind", ev.Kind,
			"epoch", epoch,
			"current_epoch", m.epoch,
		)
		return false
	}

	switch ev.Kind {
	case EventHandshakeOK:
		return m.onHandshakeLocked()

	case EventHandshakeErr:
		m.metrics.Handshake(false)
		m.logger.Warn("handshake failed",
			"target", m.currentTarget,
			"error", ev.Err,
		)
		m.failLocked()
		return false

	case EventClosed:
		if m.phase == PhaseConnected {
			m.metrics.UnexpectedClose()
		}
		m.logger.Warn("connection closed",
			"target", m.currentTarget,
			"phase", m.phase,
			"error", ev.Err,
		)
		m.failLocked()
		return false

	case EventMessage:
		if m.phase != PhaseConnected {
			return true
		}
		m.applyLocked(ev)
		return true
	}

	return true
}

// onHandshakeLocked completes a connect and issues the single subscription.
func (m *manager) onHandshakeLocked() bool {
	if m.phase != PhaseConnecting {
		return true
	}

	m.metrics.Handshake(true)
	m.attempts = 0
	m.metrics.SetReconnectAttempts(0)
	m.connectedAt = time.Now()
	m.setPhaseLocked(PhaseConnected)

	destination := m.cfg.TopicPrefix + m.currentTarget
	if err := m.transport.Subscribe(destination); err != nil {
		m.logger.Warn("subscribe failed",
			"destination", destination,
			"error", err,
		)
		m.failLocked()
		return false
	}

	m.logger.Info("connected",
		"destination", destination,
		"epoch", m.epoch,
	)
	return true
}

// failLocked cleans up after a failed or dropped connection and schedules
// the next automatic attempt if any remain.
func (m *manager) failLocked() {
	m.teardownLocked()
	m.setPhaseLocked(PhaseDisconnected)

	m.attempts++
	m.metrics.SetReconnectAttempts(m.attempts)

	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.logger.Error("reconnect attempts exhausted, live updates stopped",
			"attempts", m.attempts,
			"target", m.currentTarget,
		)
		m.metrics.ReconnectExhausted()
		return
	}

	delay := BackoffDelay(m.attempts, m.cfg.ReconnectBaseWait, m.cfg.ReconnectMaxWait)

	m.stopTimerLocked()
	seq := m.timerSeq
	m.timer = m.afterFunc(delay, func() {
		m.reconnectDue(seq)
	})

	m.logger.Info("reconnect scheduled",
		"delay", delay,
		"attempt", m.attempts,
		"max_attempts", m.cfg.MaxReconnectAttempts,
	)
}

// reconnectDue runs when a scheduled reconnect fires.
func (m *manager) reconnectDue(seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if seq != m.timerSeq || m.timer == nil {
		return
	}
	m.timer = nil

	m.logger.Info("attempting reconnection", "attempt", m.attempts)
	m.connectLocked()
}

// resetLocked is the shared body of Disconnect and ForceReconnect.
func (m *manager) resetLocked() {
	m.stopTimerLocked()
	m.teardownLocked()
	m.setPhaseLocked(PhaseDisconnected)
	m.attempts = 0
	m.metrics.SetReconnectAttempts(0)
	m.currentTarget = ""
}

// stopTimerLocked cancels a pending reconnect. Bumping the sequence also
// invalidates a callback that already fired and is waiting for mu.
func (m *manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerSeq++
}

// teardownLocked closes the current transport and retires its epoch.
func (m *manager) teardownLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.transport == nil {
		return
	}

	t := m.transport
	m.transport = nil
	m.epoch++
	m.connectedAt = time.Time{}

	if err := t.Close(); err != nil {
		m.logger.Debug("transport close error", "error", err)
	}
}

func (m *manager) setPhaseLocked(p Phase) {
	m.phase = p
	m.metrics.SetPhase(int(p))
}

// applyLocked decodes one pushed appointment and merges it into the sink.
func (m *manager) applyLocked(ev Event) {
	m.lastMessageAt = ev.ReceivedAt

	var update model.Appointment
	if err := json.Unmarshal(ev.Data, &update); err != nil {
		m.rejected++
		m.metrics.UpdateRejected()
		m.logger.Warn("dropping undecodable update",
			"destination", ev.Destination,
			"error", err,
		)
		return
	}
	if err := update.Validate(); err != nil {
		m.rejected++
		m.metrics.UpdateRejected()
		m.logger.Warn("dropping update", "destination", ev.Destination, "error", err)
		return
	}

	var (
		replaced bool
		size     int
	)
	m.sink.Update(update, func(current []model.Appointment) []model.Appointment {
		replaced = reconcile.IndexOf(current, update.ID) >= 0
		next := reconcile.Apply(update, current)
		size = len(next)
		return next
	})

	m.applied++
	m.metrics.UpdateApplied(replaced, size)

	m.logger.Debug("appointment update applied",
		"appointment_id", update.ID,
		"replaced", replaced,
		"size", size,
	)
}
