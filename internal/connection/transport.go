package connection

import (
	"context"

	"github.com/coder/websocket"
)

// Transport is one physical bidirectional channel carrying text frames.
// Implementations must allow one concurrent reader and writer.
type Transport interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer establishes a Transport to the given URL.
type Dialer func(ctx context.Context, url string) (Transport, error)

// DialWebsocket is the production Dialer.
func DialWebsocket(ctx context.Context, url string) (Transport, error) {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsTransport{conn: c}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	return data, err
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}
