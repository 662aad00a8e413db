package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpotter-25/GolfScorekeeper-sub002/internal/protocol"
)

// pipe is an in-memory Transport so tests exercise the manager without a
// network.
type pipe struct {
	toClient   chan []byte
	fromClient chan []byte
	closed     chan struct{}
	once       sync.Once
}

func newPipe() *pipe {
	return &pipe{
		toClient:   make(chan []byte, 64),
		fromClient: make(chan []byte, 64),
		closed:     make(chan struct{}),
	}
}

func (p *pipe) Read(ctx context.Context) ([]byte, error) {
	select {
	case d := <-p.toClient:
		return d, nil
	case <-p.closed:
		return nil, errors.New("pipe closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipe) Write(ctx context.Context, data []byte) error {
	select {
	case <-p.closed:
		return errors.New("pipe closed")
	case p.fromClient <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipe) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

// push delivers a server frame to the client.
func (p *pipe) push(t *testing.T, typ string, payload any) {
	t.Helper()
	raw, err := protocol.Encode(typ, payload)
	require.NoError(t, err)
	p.toClient <- raw
}

// recv reads and decodes the next client frame.
func (p *pipe) recv(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case raw := <-p.fromClient:
		msg, err := protocol.Decode(raw)
		require.NoError(t, err)
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a client frame")
		return protocol.Message{}
	}
}

// never blocks forever; tests that must not see timers use it as the After
// seam.
func never(time.Duration) <-chan time.Time { return nil }

func newManager(p *pipe, after func(time.Duration) <-chan time.Time) *Manager {
	return New(Config{
		URL:    "ws://test",
		UserID: "u-1",
		Token:  "tok",
		Dial: func(ctx context.Context, url string) (Transport, error) {
			return p, nil
		},
		After: after,
	})
}

// handshake runs Connect and plays the server side of the auth exchange.
func handshake(t *testing.T, m *Manager, p *pipe) {
	t.Helper()
	require.NoError(t, m.Connect(context.Background()))

	msg := p.recv(t)
	require.Equal(t, protocol.TypeAuth, msg.Type)
	var auth protocol.Auth
	require.NoError(t, msg.Unmarshal(&auth))
	require.Equal(t, "u-1", auth.UserID)

	p.push(t, protocol.TypeConnected, protocol.Connected{ConnectionID: "c-9"})
	p.push(t, protocol.TypeAuthenticated, nil)

	select {
	case <-m.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not complete")
	}
}

func TestHandshake(t *testing.T) {
	p := newPipe()
	m := newManager(p, never)
	handshake(t, m, p)

	assert.Equal(t, StateOpen, m.State())
	assert.Equal(t, "c-9", m.ConnectionID())
}

func TestQueueFlushedInOrder(t *testing.T) {
	p := newPipe()
	m := newManager(p, never)

	// Sends before the channel opens are buffered in arrival order.
	require.NoError(t, m.Send(protocol.TypeListSubscribe, nil))
	require.NoError(t, m.Send(protocol.TypeRoomJoin, protocol.JoinRoom{Code: "AAA111"}))
	require.NoError(t, m.Send(protocol.TypeReadySet, protocol.ReadySet{Code: "AAA111", Ready: true}))

	handshake(t, m, p)

	assert.Equal(t, protocol.TypeListSubscribe, p.recv(t).Type)
	assert.Equal(t, protocol.TypeRoomJoin, p.recv(t).Type)
	assert.Equal(t, protocol.TypeReadySet, p.recv(t).Type)
}

// hookTransport wraps the pipe and reports each completed write with its
// ordinal, letting a test inject traffic at a precise point.
type hookTransport struct {
	*pipe
	mu     sync.Mutex
	writes int
	hook   func(n int)
}

func (h *hookTransport) Write(ctx context.Context, data []byte) error {
	if err := h.pipe.Write(ctx, data); err != nil {
		return err
	}
	h.mu.Lock()
	h.writes++
	n := h.writes
	h.mu.Unlock()
	if h.hook != nil {
		h.hook(n)
	}
	return nil
}

// TestSendDuringFlushStaysOrdered races a Send against the post-handshake
// queue flush: the new frame must land behind every buffered one.
func TestSendDuringFlushStaysOrdered(t *testing.T) {
	p := newPipe()
	ht := &hookTransport{pipe: p}

	var m *Manager
	ht.hook = func(n int) {
		// Write 1 is the auth frame; write 2 is the first buffered frame
		// going out mid-flush.
		if n == 2 {
			m.Send(protocol.TypeReadySet, protocol.ReadySet{Code: "AAA111", Ready: true})
		}
	}
	m = New(Config{
		URL:    "ws://test",
		UserID: "u-1",
		Token:  "tok",
		Dial: func(ctx context.Context, url string) (Transport, error) {
			return ht, nil
		},
		After: never,
	})

	require.NoError(t, m.Send(protocol.TypeListSubscribe, nil))
	require.NoError(t, m.Send(protocol.TypeRoomJoin, protocol.JoinRoom{Code: "AAA111"}))

	handshake(t, m, p)

	assert.Equal(t, protocol.TypeListSubscribe, p.recv(t).Type)
	assert.Equal(t, protocol.TypeRoomJoin, p.recv(t).Type)
	assert.Equal(t, protocol.TypeReadySet, p.recv(t).Type, "a Send racing the flush must not overtake buffered frames")
}

func TestBackoffSequence(t *testing.T) {
	var mu sync.Mutex
	var delays []time.Duration
	after := func(d time.Duration) <-chan time.Time {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}

	m := New(Config{
		URL:    "ws://test",
		UserID: "u-1",
		Dial: func(ctx context.Context, url string) (Transport, error) {
			return nil, errors.New("refused")
		},
		BaseDelay: time.Second,
		After:     after,
	})

	assert.Error(t, m.Connect(context.Background()))

	require.Eventually(t, func() bool { return m.State() == StateClosed },
		2*time.Second, 10*time.Millisecond, "budget exhaustion must close the channel")

	mu.Lock()
	defer mu.Unlock()
	want := []time.Duration{1 * time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second, 5 * time.Second}
	assert.Equal(t, want, delays)

	// Closed stays closed without an explicit Reconnect.
	assert.ErrorIs(t, m.Connect(context.Background()), ErrClosed)
}

func TestListenerIsolation(t *testing.T) {
	p := newPipe()
	m := newManager(p, never)

	var delivered atomic.Int32
	m.On(protocol.TypeError, func(protocol.Message) { panic("listener bug") })
	m.On(protocol.TypeError, func(protocol.Message) { delivered.Add(1) })

	handshake(t, m, p)
	p.push(t, protocol.TypeError, protocol.Error{Message: "boom"})

	assert.Eventually(t, func() bool { return delivered.Load() == 1 },
		2*time.Second, 10*time.Millisecond, "second listener must still run")
}

func TestMalformedFrameDropped(t *testing.T) {
	p := newPipe()
	m := newManager(p, never)

	got := make(chan protocol.Message, 1)
	m.On(protocol.TypeGameMove, func(msg protocol.Message) { got <- msg })

	handshake(t, m, p)
	p.toClient <- []byte("{{{not json")
	p.push(t, protocol.TypeGameMove, protocol.GameMove{Code: "AAA111", Seat: 1})

	select {
	case msg := <-got:
		assert.Equal(t, protocol.TypeGameMove, msg.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame after a malformed one was not delivered")
	}
	assert.Equal(t, StateOpen, m.State(), "malformed frames must not close the channel")
}

func TestPingAnsweredWithPong(t *testing.T) {
	p := newPipe()
	m := newManager(p, never)
	handshake(t, m, p)

	p.push(t, protocol.TypePing, protocol.Ping{Timestamp: 12345})

	msg := p.recv(t)
	require.Equal(t, protocol.TypePong, msg.Type)
	var pong protocol.Ping
	require.NoError(t, msg.Unmarshal(&pong))
	assert.Equal(t, int64(12345), pong.Timestamp)
}

func TestHeartbeatEmitsPing(t *testing.T) {
	p := newPipe()
	var beats atomic.Int32
	after := func(d time.Duration) <-chan time.Time {
		if d == time.Minute && beats.Add(1) == 1 {
			ch := make(chan time.Time, 1)
			ch <- time.Time{}
			return ch
		}
		return nil
	}

	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := New(Config{
		URL:       "ws://test",
		UserID:    "u-1",
		Dial:      func(ctx context.Context, url string) (Transport, error) { return p, nil },
		Heartbeat: time.Minute,
		After:     after,
		Now:       func() time.Time { return fixed },
	})
	handshake(t, m, p)

	msg := p.recv(t)
	require.Equal(t, protocol.TypePing, msg.Type)
	var ping protocol.Ping
	require.NoError(t, msg.Unmarshal(&ping))
	assert.Equal(t, fixed.UnixMilli(), ping.Timestamp)
}

func TestReconnectAfterDrop(t *testing.T) {
	first := newPipe()
	second := newPipe()
	pipes := []*pipe{first, second}
	var dials atomic.Int32

	// Backoff timers fire immediately; the heartbeat never does.
	after := func(d time.Duration) <-chan time.Time {
		if d == time.Hour {
			return nil
		}
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	m := New(Config{
		URL:    "ws://test",
		UserID: "u-1",
		Dial: func(ctx context.Context, url string) (Transport, error) {
			n := dials.Add(1)
			return pipes[n-1], nil
		},
		Heartbeat: time.Hour,
		After:     after,
	})

	handshake(t, m, first)

	// Drop the channel and send while down: the frame must survive the gap.
	first.Close()
	require.Eventually(t, func() bool { return m.State() != StateOpen },
		2*time.Second, 10*time.Millisecond)
	m.Send(protocol.TypeListSubscribe, nil)

	// The redial repeats the handshake on the second pipe.
	msg := second.recv(t)
	require.Equal(t, protocol.TypeAuth, msg.Type)
	second.push(t, protocol.TypeConnected, protocol.Connected{ConnectionID: "c-10"})
	second.push(t, protocol.TypeAuthenticated, nil)

	assert.Equal(t, protocol.TypeListSubscribe, second.recv(t).Type, "queued frame flushed after re-handshake")
	assert.Eventually(t, func() bool { return m.State() == StateOpen }, 2*time.Second, 10*time.Millisecond)
}

func TestDisconnectIdempotent(t *testing.T) {
	p := newPipe()
	m := newManager(p, never)
	handshake(t, m, p)

	m.Disconnect()
	m.Disconnect()

	assert.Equal(t, StateClosed, m.State())
	assert.ErrorIs(t, m.Connect(context.Background()), ErrClosed)

	// Reconnect is the explicit escape hatch out of closed.
	p2 := newPipe()
	m.cfg.Dial = func(ctx context.Context, url string) (Transport, error) { return p2, nil }
	require.NoError(t, m.Reconnect(context.Background()))
	assert.Equal(t, protocol.TypeAuth, p2.recv(t).Type)
}
