package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/gorilla/websocket"
)

// Transport is one push-update session with the server.
//
// Open starts the handshake and returns immediately; its outcome arrives as
// an EventHandshakeOK or EventHandshakeErr on Events. After a successful
// handshake the transport delivers EventMessage events for its subscription
// and finally a single EventClosed if the session ends without Close.
type Transport interface {
	// Open begins the handshake asynchronously.
	Open(ctx context.Context)

	// Subscribe requests delivery of destination's messages on Events.
	Subscribe(destination string) error

	// Events returns the ordered event stream.
	Events() <-chan Event

	// Close tears the session down. No events are delivered afterwards.
	Close() error
}

// TransportFactory builds a fresh, unopened transport.
type TransportFactory func(cfg TransportConfig, logger *slog.Logger) Transport

// stompTransport speaks STOMP 1.2 over a raw WebSocket (the SockJS
// "websocket" transport exposed by Spring message brokers).
type stompTransport struct {
	cfg    TransportConfig
	logger *slog.Logger

	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	ws     *wsConn
	conn   *stomp.Conn
	closed bool

	closeOnce sync.Once
}

// NewTransport creates a STOMP-over-WebSocket transport.
func NewTransport(cfg TransportConfig, logger *slog.Logger) Transport {
	if logger == nil {
		logger = slog.Default()
	}

	return &stompTransport{
		cfg:    cfg,
		logger: logger,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
}

// Open dials the WebSocket and performs the STOMP CONNECT in the background.
func (t *stompTransport) Open(ctx context.Context) {
	go t.handshake(ctx)
}

func (t *stompTransport) handshake(ctx context.Context) {
	if t.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.HandshakeTimeout)
		defer cancel()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.HandshakeTimeout,
		Subprotocols:     []string{"v12.stomp", "v11.stomp", "v10.stomp"},
	}

	ws, _, err := dialer.DialContext(ctx, t.cfg.URL, t.cfg.Header)
	if err != nil {
		t.emit(Event{Kind: EventHandshakeErr, Err: fmt.Errorf("dial websocket: %w", err)})
		return
	}

	raw := newWSConn(ws, t.cfg.WriteTimeout)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		raw.Close()
		return
	}
	t.ws = raw
	t.mu.Unlock()

	// The STOMP CONNECT exchange has no context; bound it with a read deadline.
	if deadline, ok := ctx.Deadline(); ok {
		ws.SetReadDeadline(deadline)
	}

	conn, err := stomp.Connect(raw, t.connectOptions()...)
	if err != nil {
		raw.Close()
		t.emit(Event{Kind: EventHandshakeErr, Err: fmt.Errorf("stomp connect: %w", err)})
		return
	}
	ws.SetReadDeadline(time.Time{})

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		conn.MustDisconnect()
		return
	}
	t.conn = conn
	t.mu.Unlock()

	t.logger.Debug("stomp session established", "url", t.cfg.URL, "version", conn.Version())
	t.emit(Event{Kind: EventHandshakeOK})
}

func (t *stompTransport) connectOptions() []func(*stomp.Conn) error {
	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.HeartBeat(t.cfg.HeartBeat, t.cfg.HeartBeat),
	}
	if u, err := url.Parse(t.cfg.URL); err == nil && u.Hostname() != "" {
		opts = append(opts, stomp.ConnOpt.Host(u.Hostname()))
	}
	if auth := t.cfg.Header.Get("Authorization"); auth != "" {
		opts = append(opts, stomp.ConnOpt.Header("Authorization", auth))
	}
	return opts
}

// Subscribe sends a SUBSCRIBE frame and starts forwarding its messages.
func (t *stompTransport) Subscribe(destination string) error {
	t.mu.Lock()
	conn := t.conn
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return ErrAlreadyClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	sub, err := conn.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubscribeFailed, err)
	}

	go t.deliver(sub)

	t.logger.Debug("subscribed", "destination", destination)
	return nil
}

// deliver forwards subscription messages until the session ends.
func (t *stompTransport) deliver(sub *stomp.Subscription) {
	for {
		select {
		case <-t.done:
			return
		case msg, ok := <-sub.C:
			if !ok {
				t.emit(Event{Kind: EventClosed, Err: ErrConnectionLost})
				return
			}
			if msg.Err != nil {
				t.emit(Event{Kind: EventClosed, Err: msg.Err})
				return
			}
			t.emit(Event{
				Kind:        EventMessage,
				Destination: msg.Destination,
				Data:        msg.Body,
				ReceivedAt:  time.Now(),
			})
		}
	}
}

// Events returns the event stream.
func (t *stompTransport) Events() <-chan Event {
	return t.events
}

// Close disconnects the STOMP session and closes the socket.
func (t *stompTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		conn, ws := t.conn, t.ws
		t.conn, t.ws = nil, nil
		t.mu.Unlock()

		close(t.done)

		if conn != nil {
			// Does not wait for a RECEIPT; the socket is closed right after.
			conn.MustDisconnect()
		}
		if ws != nil {
			err = ws.Close()
		}
	})
	return err
}

// emit delivers an event unless the transport has been closed.
func (t *stompTransport) emit(ev Event) {
	select {
	case <-t.done:
		return
	default:
	}

	select {
	case <-t.done:
	case t.events <- ev:
	}
}
