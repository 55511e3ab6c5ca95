package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/X9X0/LabLink-sub003/compress"
	"github.com/X9X0/LabLink-sub003/errors"
	"github.com/X9X0/LabLink-sub003/metric"
	"github.com/X9X0/LabLink-sub003/recorder"
)

// Config holds construction parameters for the stream Manager
type Config struct {
	// Backpressure is applied per connection
	Backpressure BackpressureConfig
	// RetryInterval is how long a send loop sleeps when its queue is empty
	// or the connection is rate-limited
	RetryInterval time.Duration
	// Logger defaults to slog.Default() when nil
	Logger *slog.Logger
	// MetricsRegistry is optional; nil disables Prometheus metrics
	MetricsRegistry *metric.MetricsRegistry
	// Recorder is optional; nil disables stream recording
	Recorder *recorder.Recorder
}

// DefaultConfig returns production defaults for the Manager
func DefaultConfig() Config {
	return Config{
		Backpressure:  DefaultBackpressureConfig(),
		RetryInterval: 10 * time.Millisecond,
	}
}

// Manager is the top-level streaming orchestrator. It owns the set of live
// connections, runs one dedicated send loop per connection, and wires in the
// stream recorder. All operations are safe for concurrent callers; the
// connection map is the only shared mutable state and is guarded by connsMu.
//
// Construct one Manager at process start and pass it by reference to all
// producers; Shutdown cancels every send loop and closes all recording
// sessions.
type Manager struct {
	cfg      Config
	logger   *slog.Logger
	metrics  *metric.Metrics
	recorder *recorder.Recorder

	connsMu sync.RWMutex
	conns   map[string]*Connection

	global globalCounters

	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewManager creates a stream manager from the given configuration
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 10 * time.Millisecond
	}

	var metrics *metric.Metrics
	if cfg.MetricsRegistry != nil {
		metrics = cfg.MetricsRegistry.CoreMetrics()
	}

	return &Manager{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "stream-manager"),
		metrics:  metrics,
		recorder: cfg.Recorder,
		conns:    make(map[string]*Connection),
	}
}

// Connect registers a new client connection, creates its backpressure
// handler, spawns its dedicated send loop, and queues the capabilities
// announcement at High priority. An empty id is replaced with a generated
// UUID.
func (m *Manager) Connect(transport Transport, id string, metadata map[string]any) (*Connection, error) {
	if m.closed.Load() {
		return nil, errors.WrapInvalid(errors.ErrShuttingDown, "Manager", "Connect", "manager shut down")
	}
	if transport == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "Manager", "Connect", "nil transport")
	}

	if id == "" {
		id = uuid.NewString()
	}
	if metadata == nil {
		metadata = make(map[string]any)
	}

	conn := &Connection{
		id:          id,
		transport:   transport,
		handler:     NewBackpressureHandler(m.cfg.Backpressure, m.logger.With("connection", id)),
		metadata:    metadata,
		connectedAt: time.Now(),
		loopDone:    make(chan struct{}),
	}
	conn.setState(StateConnecting)

	m.connsMu.Lock()
	if _, exists := m.conns[id]; exists {
		m.connsMu.Unlock()
		return nil, errors.WrapInvalid(
			fmt.Errorf("connection id %s already registered", id),
			"Manager", "Connect", "duplicate connection id")
	}
	m.conns[id] = conn
	active := len(m.conns)
	m.connsMu.Unlock()

	m.global.totalConnections.Add(1)
	if m.metrics != nil {
		m.metrics.RecordConnect(active)
	}

	ctx, cancel := context.WithCancel(context.Background())
	conn.cancel = cancel
	conn.setState(StateOpen)

	m.wg.Add(1)
	go m.sendLoop(ctx, conn)

	// Announce supported features before any data flows
	caps := m.capabilitiesMessage()
	caps.Priority = PriorityHigh
	conn.handler.QueueMessage(caps)

	m.logger.Info("client connected",
		"connection", id,
		"active_connections", active)

	return conn, nil
}

// Disconnect cancels a connection's send loop, releases its transport, and
// removes it from the registry. Disconnecting an absent id is a no-op.
func (m *Manager) Disconnect(id string) {
	m.connsMu.Lock()
	conn, ok := m.conns[id]
	if ok {
		delete(m.conns, id)
	}
	active := len(m.conns)
	m.connsMu.Unlock()

	if !ok {
		return
	}

	m.teardown(conn, active)
}

// teardown closes a connection that has already been removed from the map
func (m *Manager) teardown(conn *Connection, active int) {
	if !conn.transitionState(StateOpen, StateClosing) {
		// Already closing or closed
		return
	}

	conn.cancel()
	if err := conn.transport.Close(); err != nil {
		m.logger.Debug("transport close error", "connection", conn.id, "error", err)
	}
	conn.setState(StateClosed)

	if m.metrics != nil {
		m.metrics.RecordDisconnect(active)
		m.metrics.QueueDepth.DeleteLabelValues(conn.id)
	}

	m.logger.Info("client disconnected",
		"connection", conn.id,
		"active_connections", active)
}

// SendToClient enqueues a message for one connection at the given priority.
// A non-None compression kind tags the message for compressed binary
// transmission. Returns false if the connection does not exist or its
// backpressure handler rejects the message.
func (m *Manager) SendToClient(id string, msg *Message, priority Priority, compression compress.Kind) bool {
	m.connsMu.RLock()
	conn, ok := m.conns[id]
	m.connsMu.RUnlock()

	if !ok || conn.State() != StateOpen {
		return false
	}

	queued := conn.handler.QueueMessage(m.prepare(msg, priority, compression))
	if m.metrics != nil {
		if queued {
			m.metrics.QueueDepth.WithLabelValues(id).Set(float64(conn.handler.QueueSize()))
		} else {
			m.metrics.RecordDrop("queue_full")
		}
	}
	return queued
}

// Broadcast enqueues a message for every connection not in exclude. Delivery
// attempts are independent: a rejection on one connection does not prevent
// delivery to others. Returns the number of connections that admitted the
// message.
func (m *Manager) Broadcast(msg *Message, priority Priority, compression compress.Kind, exclude map[string]bool) int {
	m.connsMu.RLock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		if !exclude[id] {
			ids = append(ids, id)
		}
	}
	m.connsMu.RUnlock()

	queued := 0
	for _, id := range ids {
		if m.SendToClient(id, msg, priority, compression) {
			queued++
		}
	}
	return queued
}

// prepare copies a message into queue ownership with its delivery tags set
func (m *Manager) prepare(msg *Message, priority Priority, compression compress.Kind) *Message {
	out := msg.Clone()
	out.Priority = priority
	out.Compression = compression
	return out
}

// sendLoop drains one connection's queue until cancellation. Rate limiting
// and empty queues are both handled by waiting for an enqueue wakeup or a
// short retry interval, so the loop never busy-spins. A transmit failure
// disconnects this connection only.
func (m *Manager) sendLoop(ctx context.Context, conn *Connection) {
	defer m.wg.Done()
	defer close(conn.loopDone)

	timer := time.NewTimer(m.cfg.RetryInterval)
	defer timer.Stop()

	for {
		msg := conn.handler.NextMessage()
		if msg == nil {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(m.cfg.RetryInterval)

			select {
			case <-ctx.Done():
				return
			case <-conn.handler.Wakeup():
			case <-timer.C:
			}
			continue
		}

		if err := m.transmit(conn, msg); err != nil {
			m.logger.Warn("transmit failed, disconnecting client",
				"connection", conn.id,
				"error", err)
			if m.metrics != nil {
				m.metrics.RecordError("stream-manager", "transmit")
			}
			m.Disconnect(conn.id)
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// transmit serializes and writes one message on the wire, updates global
// statistics, and forwards a copy to the recorder when sessions are active.
// Returns an error only for transport failures; codec failures drop the
// message and keep the connection alive.
func (m *Manager) transmit(conn *Connection, msg *Message) error {
	text, err := msg.Encode()
	if err != nil {
		// Codec failure is fatal to the message, not the connection
		m.logger.Error("message encode failed, dropping",
			"connection", conn.id,
			"message_type", msg.Type,
			"error", err)
		if m.metrics != nil {
			m.metrics.RecordError("stream-manager", "encode")
		}
		return nil
	}

	var wireBytes int
	if msg.Compression != compress.None {
		compressed, err := compress.Compress(text, msg.Compression)
		if err != nil {
			m.logger.Error("message compression failed, dropping",
				"connection", conn.id,
				"kind", msg.Compression.String(),
				"error", err)
			if m.metrics != nil {
				m.metrics.RecordError("stream-manager", "compress")
			}
			return nil
		}

		// Wire framing: 1-byte compression kind, then the compressed payload
		frame := make([]byte, 0, len(compressed)+1)
		frame = append(frame, byte(msg.Compression))
		frame = append(frame, compressed...)

		if err := conn.transport.WriteBinary(frame); err != nil {
			return errors.WrapTransient(err, "Manager", "transmit", "write binary frame")
		}

		wireBytes = len(frame)
		ratio := compress.Ratio(text, compressed)
		m.global.recordRatio(ratio)
		if m.metrics != nil {
			m.metrics.RecordCompressionRatio(ratio)
		}
	} else {
		if err := conn.transport.WriteText([]byte(text)); err != nil {
			return errors.WrapTransient(err, "Manager", "transmit", "write text frame")
		}
		wireBytes = len(text)
	}

	m.global.recordSend(wireBytes)
	if m.metrics != nil {
		m.metrics.RecordSend(msg.Priority.String(), wireBytes)
		m.metrics.QueueDepth.WithLabelValues(conn.id).Set(float64(conn.handler.QueueSize()))
	}

	if m.recorder != nil && m.recorder.HasActiveSessions() {
		m.recorder.RecordToAll(msg.WireObject())
	}

	return nil
}

// capabilitiesMessage describes supported compression kinds, priority
// levels, recording formats, and backpressure limits for a new client.
func (m *Manager) capabilitiesMessage() *Message {
	kinds := make([]string, 0, len(compress.Kinds()))
	for _, k := range compress.Kinds() {
		kinds = append(kinds, k.String())
	}

	priorities := make([]string, 0, len(Priorities()))
	for _, p := range Priorities() {
		priorities = append(priorities, p.String())
	}

	formats := make([]string, 0, len(recorder.Formats()))
	for _, f := range recorder.Formats() {
		formats = append(formats, string(f))
	}

	return NewMessage("capabilities", map[string]any{
		"features": map[string]any{
			"compression": kinds,
			"priorities":  priorities,
			"recording":   formats,
			"backpressure": map[string]any{
				"max_queue_size":      m.cfg.Backpressure.MaxQueueSize,
				"drop_low_priority":   m.cfg.Backpressure.DropLowPriority,
				"rate_limit_enabled":  m.cfg.Backpressure.RateLimitEnabled,
				"messages_per_second": m.cfg.Backpressure.MessagesPerSecond,
				"burst_size":          m.cfg.Backpressure.BurstSize,
			},
		},
	})
}

// StartRecording starts a named recording session on the wired recorder
func (m *Manager) StartRecording(sessionID string, metadata map[string]any) (string, error) {
	if m.recorder == nil {
		return "", errors.WrapInvalid(errors.ErrMissingConfig, "Manager", "StartRecording", "no recorder configured")
	}
	path, err := m.recorder.StartRecording(sessionID, metadata)
	if err != nil {
		return "", err
	}
	if m.metrics != nil {
		m.metrics.RecordingSessions.Set(float64(len(m.recorder.ActiveRecordings())))
	}
	return path, nil
}

// StopRecording stops a recording session and returns its final stats, or
// nil if the session does not exist.
func (m *Manager) StopRecording(sessionID string) *recorder.SessionStats {
	if m.recorder == nil {
		return nil
	}
	stats := m.recorder.StopRecording(sessionID)
	if m.metrics != nil {
		m.metrics.RecordingSessions.Set(float64(len(m.recorder.ActiveRecordings())))
	}
	return stats
}

// RecordingStats returns live stats for an active recording session
func (m *Manager) RecordingStats(sessionID string) (*recorder.SessionStats, bool) {
	if m.recorder == nil {
		return nil, false
	}
	return m.recorder.RecordingStats(sessionID)
}

// ActiveRecordings lists the session ids currently recording
func (m *Manager) ActiveRecordings() []string {
	if m.recorder == nil {
		return nil
	}
	return m.recorder.ActiveRecordings()
}

// BackpressureStats returns the admission counters for one connection
func (m *Manager) BackpressureStats(id string) (BackpressureStats, bool) {
	m.connsMu.RLock()
	conn, ok := m.conns[id]
	m.connsMu.RUnlock()

	if !ok {
		return BackpressureStats{}, false
	}
	return conn.handler.Stats(), true
}

// GlobalStats returns manager-wide delivery totals
func (m *Manager) GlobalStats() GlobalStats {
	m.connsMu.RLock()
	active := len(m.conns)
	m.connsMu.RUnlock()

	activeRecordings := 0
	if m.recorder != nil {
		activeRecordings = len(m.recorder.ActiveRecordings())
	}

	return GlobalStats{
		TotalConnections:    m.global.totalConnections.Load(),
		ActiveConnections:   active,
		TotalMessagesSent:   m.global.messagesSent.Load(),
		TotalBytesSent:      m.global.bytesSent.Load(),
		AvgCompressionRatio: m.global.avgRatio(),
		ActiveRecordings:    activeRecordings,
	}
}

// ConnectionInfo returns a snapshot of one connection
func (m *Manager) ConnectionInfo(id string) (ConnectionInfo, bool) {
	m.connsMu.RLock()
	conn, ok := m.conns[id]
	m.connsMu.RUnlock()

	if !ok {
		return ConnectionInfo{}, false
	}
	return conn.Info(), true
}

// Connection returns the live connection for an id
func (m *Manager) Connection(id string) (*Connection, bool) {
	m.connsMu.RLock()
	defer m.connsMu.RUnlock()
	conn, ok := m.conns[id]
	return conn, ok
}

// AllConnections returns snapshots of every live connection
func (m *Manager) AllConnections() []ConnectionInfo {
	m.connsMu.RLock()
	infos := make([]ConnectionInfo, 0, len(m.conns))
	for _, conn := range m.conns {
		infos = append(infos, conn.Info())
	}
	m.connsMu.RUnlock()
	return infos
}

// Shutdown disconnects every client, waits for all send loops to exit, and
// closes all recording sessions. The manager cannot be reused afterwards.
func (m *Manager) Shutdown() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}

	m.connsMu.Lock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.conns = make(map[string]*Connection)
	m.connsMu.Unlock()

	for _, conn := range conns {
		m.teardown(conn, 0)
	}

	m.wg.Wait()

	if m.recorder != nil {
		m.recorder.StopAll()
	}

	m.logger.Info("stream manager shut down", "connections_closed", len(conns))
}
