package stream

import (
	"sync"
	"sync/atomic"
	"time"
)

// Transport is the wire half of a connection. Implementations must tolerate
// Close being called more than once; writes after Close return an error.
// The manager serializes writes per connection (a single send loop), so
// implementations need not be safe for concurrent writers.
type Transport interface {
	// WriteText sends an uncompressed message as a structured text frame
	WriteText(data []byte) error
	// WriteBinary sends a compressed message as a binary frame
	// (1-byte compression kind prefix + compressed payload)
	WriteBinary(data []byte) error
	// Close releases the underlying wire resources
	Close() error
}

// State is the connection lifecycle phase. Connections never reopen; a new
// Connection is created for reconnects.
type State int32

const (
	// StateConnecting is the phase between handshake start and registration
	StateConnecting State = iota
	// StateOpen means the send loop is running
	StateOpen
	// StateClosing means disconnect has begun; no new messages are admitted
	StateClosing
	// StateClosed is terminal
	StateClosed
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection binds one client's transport, metadata, and backpressure
// handler. The transport and handler are exclusively owned by the Connection
// and never shared.
type Connection struct {
	id        string
	transport Transport
	handler   *BackpressureHandler

	state atomic.Int32

	metaMu   sync.RWMutex
	metadata map[string]any

	connectedAt time.Time
	cancel      func()        // stops the send loop
	loopDone    chan struct{} // closed when the send loop exits
}

// ConnectionInfo is a read-only snapshot of a connection for reporting
type ConnectionInfo struct {
	ID          string         `json:"id"`
	State       string         `json:"state"`
	ConnectedAt time.Time      `json:"connected_at"`
	Metadata    map[string]any `json:"metadata"`
	QueueSize   int            `json:"queue_size"`
}

// ID returns the connection identifier
func (c *Connection) ID() string {
	return c.id
}

// State returns the current lifecycle phase
func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
}

// transitionState atomically moves from one phase to another; returns false
// if the connection was not in the expected phase.
func (c *Connection) transitionState(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// Handler returns the connection's backpressure handler
func (c *Connection) Handler() *BackpressureHandler {
	return c.handler
}

// SetMetadata stores a metadata value on the connection
func (c *Connection) SetMetadata(key string, value any) {
	c.metaMu.Lock()
	c.metadata[key] = value
	c.metaMu.Unlock()
}

// Metadata returns a metadata value and whether it was present
func (c *Connection) Metadata(key string) (any, bool) {
	c.metaMu.RLock()
	defer c.metaMu.RUnlock()
	v, ok := c.metadata[key]
	return v, ok
}

// Info returns a read-only snapshot of the connection
func (c *Connection) Info() ConnectionInfo {
	c.metaMu.RLock()
	meta := make(map[string]any, len(c.metadata))
	for k, v := range c.metadata {
		meta[k] = v
	}
	c.metaMu.RUnlock()

	return ConnectionInfo{
		ID:          c.id,
		State:       c.State().String(),
		ConnectedAt: c.connectedAt,
		Metadata:    meta,
		QueueSize:   c.handler.QueueSize(),
	}
}
