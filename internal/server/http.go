package server

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// Routes returns the hub's HTTP handler. /ws carries the persistent game
// channel; /healthz answers load-balancer probes.
func (h *Hub) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.websocketHandler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (h *Hub) websocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		http.Error(w, "failed to open websocket", http.StatusInternalServerError)
		return
	}
	if err := h.Serve(r.Context(), &serverConn{conn: conn}); err != nil {
		h.log.WithError(err).Debug("channel rejected")
	}
}

type serverConn struct {
	conn *websocket.Conn
}

func (s *serverConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := s.conn.Read(ctx)
	return data, err
}

func (s *serverConn) Write(ctx context.Context, data []byte) error {
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *serverConn) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
