package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventHistoryUpdate is the only event the relay emits. It carries no payload.
const EventHistoryUpdate = "history_update"

// Envelope is the JSON message written to subscribers.
type Envelope struct {
	Event string `json:"event"`
}

// Sink delivers one "history changed" signal.
type Sink interface {
	Deliver(ctx context.Context) error
	// Close drops any open connection; the next Deliver reconnects.
	Close() error
}

// NopSink accepts every signal and sends nothing. Used when no endpoint is configured.
type NopSink struct{}

func (NopSink) Deliver(context.Context) error { return nil }
func (NopSink) Close() error                  { return nil }

const writeWait = 10 * time.Second

// WebSocketSink keeps a persistent websocket connection to endpoint and
// writes an Envelope per delivery.
type WebSocketSink struct {
	endpoint string
	dialer   *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWebSocketSink(endpoint string) *WebSocketSink {
	return &WebSocketSink{
		endpoint: endpoint,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 5 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

// Deliver connects if necessary and writes one event. On failure the
// connection is dropped.
func (s *WebSocketSink) Deliver(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, _, err := s.dialer.DialContext(ctx, s.endpoint, nil)
		if err != nil {
			return fmt.Errorf("dial %s: %w", s.endpoint, err)
		}
		s.conn = conn
		go s.drain(conn)
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.conn.Close()
		s.conn = nil
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := s.conn.WriteJSON(Envelope{Event: EventHistoryUpdate}); err != nil {
		s.conn.Close()
		s.conn = nil
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (s *WebSocketSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	var werr error
	if werr = s.conn.SetWriteDeadline(time.Now().Add(time.Second)); werr == nil {
		werr = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	if werr != nil {
		werr = fmt.Errorf("close frame: %w", werr)
	}
	err := errors.Join(werr, s.conn.Close())
	s.conn = nil
	return err
}

// drain reads and discards inbound frames so control messages are handled,
// and forgets the connection once the peer goes away.
func (s *WebSocketSink) drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	conn.Close()
}
