// Package connection owns the persistent game channel: authentication
// handshake, heartbeat, outbound queuing while disconnected, reconnection
// with increasing backoff, and typed listener fan-out.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jpotter-25/GolfScorekeeper-sub002/internal/protocol"
)

// State is the channel lifecycle: idle -> connecting -> open <-> reconnecting
// -> closed.
type State uint8

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ErrClosed is returned by Connect on a manager whose reconnect budget is
// exhausted or that was explicitly disconnected; Reconnect clears it.
var ErrClosed = errors.New("connection closed")

const (
	// DefaultHeartbeat is the ping interval once the channel is open.
	DefaultHeartbeat = 30 * time.Second
	// DefaultBaseDelay scales the reconnect backoff: attempt n waits n times the base delay.
	DefaultBaseDelay = time.Second
	// DefaultMaxAttempts bounds automatic reconnection.
	DefaultMaxAttempts = 5
)

// Handler receives one inbound message matching its registered tag.
type Handler func(protocol.Message)

// Config wires a Manager. URL, UserID, Token, and Dial are required; zero
// values elsewhere take the defaults above.
type Config struct {
	URL    string
	UserID string
	Token  string
	Dial   Dialer

	Heartbeat   time.Duration
	BaseDelay   time.Duration
	MaxAttempts int

	Logger *logrus.Entry

	// Test seams. Production leaves them nil.
	Now   func() time.Time
	After func(time.Duration) <-chan time.Time
}

// Manager owns one logical channel. All fields are instance state; two
// managers never interfere.
type Manager struct {
	mu sync.Mutex

	cfg Config
	log *logrus.Entry

	state        State
	transport    Transport
	connectionID string
	attempts     int
	explicit     bool

	queue     [][]byte
	listeners map[string][]Handler

	ready     chan struct{}
	readyOnce bool
	stopBeat  chan struct{}
}

// New builds a Manager in the idle state. Nothing touches the network until
// Connect.
func New(cfg Config) *Manager {
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.After == nil {
		cfg.After = time.After
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		cfg:       cfg,
		log:       log.WithField("component", "connection"),
		listeners: make(map[string][]Handler),
		ready:     make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ConnectionID returns the server-issued channel identifier, empty before
// the first "connected" frame.
func (m *Manager) ConnectionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectionID
}

// Ready returns a channel closed exactly once, when the handshake first
// completes. Callers block on it instead of polling state.
func (m *Manager) Ready() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// On registers a handler for a message type tag. Every registered handler
// for a tag is invoked per matching message; a panicking handler does not
// stop delivery to the others.
func (m *Manager) On(tag string, fn Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[tag] = append(m.listeners[tag], fn)
}

// Connect dials the channel and runs the handshake. It returns once the
// underlying transport is established; callers wait on Ready for the
// authenticated signal. A closed manager must use Reconnect.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state == StateOpen || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.explicit = false
	m.mu.Unlock()

	return m.dial(ctx)
}

// Reconnect resets the attempt counter and dials again. It is the only way
// out of the closed state.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	m.attempts = 0
	m.explicit = false
	m.state = StateConnecting
	m.mu.Unlock()
	return m.dial(ctx)
}

func (m *Manager) dial(ctx context.Context) error {
	t, err := m.cfg.Dial(ctx, m.cfg.URL)
	if err != nil {
		m.log.WithError(err).Warn("dial failed")
		m.scheduleReconnect(ctx)
		return fmt.Errorf("dial %s: %w", m.cfg.URL, err)
	}

	m.mu.Lock()
	m.transport = t
	m.mu.Unlock()

	// Handshake opens with an auth frame; the channel counts as open only
	// after the server's authenticated ack arrives in the read loop.
	frame, err := protocol.Encode(protocol.TypeAuth, protocol.Auth{
		UserID: m.cfg.UserID,
		Token:  m.cfg.Token,
	})
	if err != nil {
		return err
	}
	if err := t.Write(ctx, frame); err != nil {
		m.log.WithError(err).Warn("handshake write failed")
		t.Close()
		m.scheduleReconnect(ctx)
		return fmt.Errorf("handshake: %w", err)
	}

	go m.readLoop(ctx, t)
	return nil
}

// Send transmits a frame when the channel is open and buffers it in arrival
// order otherwise. Buffered frames are flushed, oldest first, after the
// next successful handshake.
func (m *Manager) Send(typ string, payload any) error {
	frame, err := protocol.Encode(typ, payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.state != StateOpen {
		m.queue = append(m.queue, frame)
		m.mu.Unlock()
		return nil
	}
	t := m.transport
	m.mu.Unlock()

	if err := t.Write(context.Background(), frame); err != nil {
		// The frame is not lost: it rejoins the queue for the next flush.
		m.mu.Lock()
		m.queue = append(m.queue, frame)
		m.mu.Unlock()
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

// Disconnect closes the channel for good: heartbeat stopped, listeners and
// queue cleared, auto-reconnect suppressed. It is idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == StateClosed && m.explicit {
		m.mu.Unlock()
		return
	}
	m.explicit = true
	m.state = StateClosed
	m.attempts = m.cfg.MaxAttempts
	m.listeners = make(map[string][]Handler)
	m.queue = nil
	t := m.transport
	m.transport = nil
	m.stopHeartbeatLocked()
	m.mu.Unlock()

	if t != nil {
		t.Close()
	}
	m.log.Info("disconnected")
}

// ---------------------------------------------------------------------------
// Inbound path
// ---------------------------------------------------------------------------

func (m *Manager) readLoop(ctx context.Context, t Transport) {
	for {
		data, err := t.Read(ctx)
		if err != nil {
			m.handleClosed(ctx, t, err)
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			// Malformed frames are logged and dropped; the channel stays up.
			m.log.WithError(err).Warn("dropping malformed frame")
			continue
		}
		m.handleMessage(ctx, msg)
	}
}

func (m *Manager) handleMessage(ctx context.Context, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeConnected:
		var c protocol.Connected
		if err := msg.Unmarshal(&c); err != nil {
			m.log.WithError(err).Warn("dropping malformed frame")
			return
		}
		m.mu.Lock()
		m.connectionID = c.ConnectionID
		m.mu.Unlock()

	case protocol.TypeAuthenticated:
		m.completeHandshake(ctx)

	case protocol.TypePing:
		var p protocol.Ping
		if err := msg.Unmarshal(&p); err == nil {
			m.Send(protocol.TypePong, p)
		}
	}

	m.dispatch(msg)
}

// completeHandshake flushes the outbound queue in arrival order, then marks
// the channel open and resolves the ready future. The state stays below
// open until the flush finishes, so a Send racing the flush is appended
// behind the buffered frames instead of jumping ahead of them.
func (m *Manager) completeHandshake(ctx context.Context) {
	m.mu.Lock()
	m.attempts = 0
	if !m.readyOnce {
		m.readyOnce = true
		close(m.ready)
	}
	t := m.transport
	queued := len(m.queue)
	for len(m.queue) > 0 {
		frame := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		err := t.Write(ctx, frame)
		m.mu.Lock()
		if err != nil {
			// The frame is not lost: it rejoins the head of the queue for
			// the next flush; the dead transport surfaces in the read loop.
			m.log.WithError(err).Warn("queue flush interrupted")
			m.queue = append([][]byte{frame}, m.queue...)
			break
		}
	}
	m.state = StateOpen
	m.startHeartbeatLocked(ctx)
	m.mu.Unlock()

	m.log.WithField("queued", queued).Info("channel open")
}

func (m *Manager) dispatch(msg protocol.Message) {
	m.mu.Lock()
	handlers := make([]Handler, len(m.listeners[msg.Type]))
	copy(handlers, m.listeners[msg.Type])
	m.mu.Unlock()

	for _, fn := range handlers {
		m.invoke(fn, msg)
	}
}

// invoke isolates one handler: a panic is logged and the remaining handlers
// still run.
func (m *Manager) invoke(fn Handler, msg protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			m.log.WithFields(logrus.Fields{"tag": msg.Type, "panic": r}).Error("listener panicked")
		}
	}()
	fn(msg)
}

// ---------------------------------------------------------------------------
// Reconnection and heartbeat
// ---------------------------------------------------------------------------

func (m *Manager) handleClosed(ctx context.Context, t Transport, cause error) {
	m.mu.Lock()
	if m.explicit || m.transport != t {
		// Explicit disconnect, or a stale read loop from a replaced
		// transport. Nothing to do.
		m.mu.Unlock()
		return
	}
	m.transport = nil
	m.stopHeartbeatLocked()
	m.mu.Unlock()

	t.Close()
	m.log.WithError(cause).Warn("channel lost")
	m.scheduleReconnect(ctx)
}

// scheduleReconnect waits attempt multiplied by base before redialing, up to the attempt
// budget. Exhaustion leaves the channel closed until an explicit Reconnect.
func (m *Manager) scheduleReconnect(ctx context.Context) {
	m.mu.Lock()
	if m.explicit {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.cfg.MaxAttempts {
		m.state = StateClosed
		m.mu.Unlock()
		m.log.Warn("reconnect budget exhausted")
		return
	}
	m.attempts++
	attempt := m.attempts
	m.state = StateReconnecting
	m.mu.Unlock()

	delay := time.Duration(attempt) * m.cfg.BaseDelay
	m.log.WithFields(logrus.Fields{"attempt": attempt, "delay": delay}).Info("reconnecting")

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-m.cfg.After(delay):
		}
		m.mu.Lock()
		if m.explicit || m.state != StateReconnecting {
			m.mu.Unlock()
			return
		}
		m.state = StateConnecting
		m.mu.Unlock()
		m.dial(ctx)
	}()
}

func (m *Manager) startHeartbeatLocked(ctx context.Context) {
	m.stopHeartbeatLocked()
	stop := make(chan struct{})
	m.stopBeat = stop

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-m.cfg.After(m.cfg.Heartbeat):
				m.Send(protocol.TypePing, protocol.Ping{Timestamp: m.cfg.Now().UnixMilli()})
			}
		}
	}()
}

func (m *Manager) stopHeartbeatLocked() {
	if m.stopBeat != nil {
		close(m.stopBeat)
		m.stopBeat = nil
	}
}
