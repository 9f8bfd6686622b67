package hub

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	readWait   = 5 * time.Minute
	pingPeriod = 30 * time.Second
)

// WriteTyped sends a strongly-typed event over the WebSocket.
func WriteTyped(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteError sends a typed ErrorEvent over the WebSocket.
func WriteError(conn *websocket.Conn, errMsg string) error {
	return WriteTyped(conn, ErrorEvent{Event: EventError, Error: errMsg})
}

// ReadJSON reads and decodes a message with a read deadline.
func ReadJSON(conn *websocket.Conn, v any) error {
	conn.SetReadDeadline(time.Now().Add(readWait))
	return conn.ReadJSON(v)
}

// Writer serialises all writes to one connection: hub events, replies
// and keep-alive pings. gorilla connections allow a single writer only.
type Writer struct {
	conn    *websocket.Conn
	replies chan any
	done    chan struct{}
}

// NewWriter creates a writer for conn.
func NewWriter(conn *websocket.Conn) *Writer {
	return &Writer{conn: conn, replies: make(chan any, subscriberBuffer), done: make(chan struct{})}
}

// Reply queues a direct answer to the client. It drops the reply once the
// writer stopped.
func (w *Writer) Reply(v any) {
	select {
	case w.replies <- v:
	case <-w.done:
	}
}

// Run writes until the subscriber channel closes, stop is closed or a write
// fails.
func (w *Writer) Run(sub *Subscriber, stop <-chan struct{}) error {
	defer close(w.done)
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := WriteTyped(w.conn, ev); err != nil {
				return err
			}
		case v := <-w.replies:
			if err := WriteTyped(w.conn, v); err != nil {
				return err
			}
		case <-ping.C:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-stop:
			return nil
		}
	}
}
