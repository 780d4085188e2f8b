package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tOgg1/yfeed/internal/logging"
	"github.com/tOgg1/yfeed/internal/models"
)

const (
	defaultHandshakeTimeout = 10 * time.Second

	// maxFrameSize bounds a single live frame.
	maxFrameSize = 1 << 20
)

// Conn is one established live channel. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens live channels.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		}
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	conn.SetReadLimit(maxFrameSize)
	return conn, nil
}

// Handler receives everything the connection manager observes, in order, on
// the manager's goroutine. Implementations must not block.
type Handler interface {
	OnEvent(post models.Post)
	OnStateChange(state State)
}

// ConnManager keeps one live channel open for as long as it is active,
// reconnecting with backoff after every close or transport error.
type ConnManager struct {
	url      string
	protocol Protocol
	dialer   Dialer
	backoff  Backoff
	handler  Handler
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	conn    Conn
	done    chan struct{}
}

// ConnOption configures a ConnManager.
type ConnOption func(*ConnManager)

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) ConnOption {
	return func(m *ConnManager) {
		if d != nil {
			m.dialer = d
		}
	}
}

// WithBackoff sets the reconnect policy.
func WithBackoff(b Backoff) ConnOption {
	return func(m *ConnManager) {
		if b != nil {
			m.backoff = b
		}
	}
}

// WithProtocol pins the accepted frame shape.
func WithProtocol(p Protocol) ConnOption {
	return func(m *ConnManager) {
		m.protocol = p
	}
}

// WithConnLogger sets the logger.
func WithConnLogger(logger zerolog.Logger) ConnOption {
	return func(m *ConnManager) {
		m.logger = logger
	}
}

// NewConnManager creates an idle manager for url. Nothing happens until Open.
func NewConnManager(url string, handler Handler, opts ...ConnOption) *ConnManager {
	m := &ConnManager{
		url:      url,
		protocol: ProtocolAuto,
		dialer:   WebsocketDialer{},
		backoff:  ExponentialBackoff{Min: defaultReconnectMin, Max: defaultReconnectMax},
		handler:  handler,
		logger:   logging.Component("live"),
		now:      time.Now,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open starts connecting in the background and returns immediately. Calling
// it again, or after Close, does nothing.
func (m *ConnManager) Open(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed {
		return
	}
	m.started = true

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.run(runCtx)
}

// Close cancels any pending reconnect and releases the channel. It is safe to
// call from any state and more than once.
func (m *ConnManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.cancel != nil {
		m.cancel()
	}
	conn := m.conn
	m.conn = nil
	started := m.started
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if !started {
		close(m.done)
	}
}

// Done is closed once the manager's goroutine has exited.
func (m *ConnManager) Done() <-chan struct{} {
	return m.done
}

func (m *ConnManager) run(ctx context.Context) {
	defer close(m.done)

	logger := m.logger.With().Str("url", logging.RedactURL(m.url)).Logger()
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	attempt := 0
	for {
		m.emitState(ctx, State{Kind: StateConnecting, At: m.now()})

		reason := m.connectAndRead(ctx, logger, &attempt)
		if ctx.Err() != nil {
			return
		}

		logger.Warn().Err(reason).Msg("live channel closed")
		m.emitState(ctx, State{Kind: StateClosed, Reason: reason, At: m.now()})

		attempt++
		delay := m.backoff.Delay(attempt)
		logger.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("scheduling reconnect")
		m.emitState(ctx, State{Kind: StateReconnecting, Attempt: attempt, Delay: delay, At: m.now()})

		timer.Reset(delay)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// connectAndRead dials once and pumps frames until the channel fails. It
// always returns a *ChannelError unless ctx was cancelled.
func (m *ConnManager) connectAndRead(ctx context.Context, logger zerolog.Logger, attempt *int) error {
	conn, err := m.dialer.Dial(ctx, m.url)
	if err != nil {
		return &ChannelError{Op: "dial", Err: err}
	}
	if !m.setConn(conn) {
		_ = conn.Close()
		return ctx.Err()
	}
	defer m.clearConn(conn)

	// Unblock ReadMessage when the manager is torn down.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	*attempt = 0
	logger.Info().Msg("live channel open")
	m.emitState(ctx, State{Kind: StateOpen, At: m.now()})

	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			return &ChannelError{Op: "read", Err: err}
		}
		if kind != websocket.TextMessage {
			logger.Warn().Int("message_type", kind).Msg("dropping non-text frame")
			continue
		}

		post, err := ParseFrame(frame, m.protocol)
		if err != nil {
			if errors.Is(err, ErrUnknownEventType) {
				logger.Debug().Err(err).Msg("ignoring frame")
			} else {
				logger.Warn().Err(err).Int("bytes", len(frame)).Msg("dropping malformed frame")
			}
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.handler.OnEvent(post)
	}
}

func (m *ConnManager) setConn(conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.conn = conn
	return true
}

func (m *ConnManager) clearConn(conn Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	_ = conn.Close()
}

func (m *ConnManager) emitState(ctx context.Context, state State) {
	if ctx.Err() != nil {
		return
	}
	m.handler.OnStateChange(state)
}
