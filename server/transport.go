package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsTransport adapts a gorilla connection to the stream.Transport interface.
// The manager serializes data writes through one send loop, but control
// replies and pings can race with them, so writes take a mutex.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newWSTransport(conn *websocket.Conn, writeTimeout time.Duration) *wsTransport {
	return &wsTransport{conn: conn, writeTimeout: writeTimeout}
}

func (t *wsTransport) write(messageType int, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	return t.conn.WriteMessage(messageType, data)
}

// WriteText sends an uncompressed JSON text frame
func (t *wsTransport) WriteText(data []byte) error {
	return t.write(websocket.TextMessage, data)
}

// WriteBinary sends a compressed binary frame
func (t *wsTransport) WriteBinary(data []byte) error {
	return t.write(websocket.BinaryMessage, data)
}

// Close releases the underlying connection; safe to call more than once
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
