package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/X9X0/LabLink-sub003/compress"
	"github.com/X9X0/LabLink-sub003/stream"
)

// controlMessage is the client-to-server protocol envelope. Fields are
// populated per message type; unused fields stay zero.
type controlMessage struct {
	Type          string         `json:"type"`
	EquipmentID   string         `json:"equipment_id,omitempty"`
	StreamType    string         `json:"stream_type,omitempty"`
	AcquisitionID string         `json:"acquisition_id,omitempty"`
	IntervalMS    int            `json:"interval_ms,omitempty"`
	NumSamples    int            `json:"num_samples,omitempty"`
	Priority      string         `json:"priority,omitempty"`
	Compression   string         `json:"compression,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// clientSession is the server-side state for one connected client: its
// delivery defaults and its running stream/acquisition tasks.
type clientSession struct {
	connID string

	mu          sync.Mutex
	priority    stream.Priority
	compression compress.Kind
	tasks       map[string]context.CancelFunc
}

func newClientSession(connID string) *clientSession {
	return &clientSession{
		connID:      connID,
		priority:    stream.PriorityNormal,
		compression: compress.None,
		tasks:       make(map[string]context.CancelFunc),
	}
}

// defaults returns the session's current delivery tags
func (cs *clientSession) defaults() (stream.Priority, compress.Kind) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.priority, cs.compression
}

// addTask registers a cancel func under key; returns false if key is taken
func (cs *clientSession) addTask(key string, cancel context.CancelFunc) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if _, exists := cs.tasks[key]; exists {
		return false
	}
	cs.tasks[key] = cancel
	return true
}

// removeTask cancels and removes a task; returns false if absent
func (cs *clientSession) removeTask(key string) bool {
	cs.mu.Lock()
	cancel, exists := cs.tasks[key]
	if exists {
		delete(cs.tasks, key)
	}
	cs.mu.Unlock()

	if exists {
		cancel()
	}
	return exists
}

// dropTask removes a task entry without cancelling (the task exited itself)
func (cs *clientSession) dropTask(key string) {
	cs.mu.Lock()
	delete(cs.tasks, key)
	cs.mu.Unlock()
}

// stopAll cancels every running task
func (cs *clientSession) stopAll() {
	cs.mu.Lock()
	tasks := cs.tasks
	cs.tasks = make(map[string]context.CancelFunc)
	cs.mu.Unlock()

	for _, cancel := range tasks {
		cancel()
	}
}

// handleControl dispatches one client control message
func (s *Server) handleControl(cs *clientSession, raw []byte) {
	var msg controlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.replyError(cs, "", "invalid control message: not a JSON object")
		return
	}

	switch msg.Type {
	case "start_stream":
		s.handleStartStream(cs, msg)
	case "stop_stream":
		s.handleStopStream(cs, msg)
	case "start_acquisition_stream":
		s.handleStartAcquisition(cs, msg)
	case "stop_acquisition_stream":
		s.handleStopAcquisition(cs, msg)
	case "start_recording":
		s.handleStartRecording(cs, msg)
	case "stop_recording":
		s.handleStopRecording(cs, msg)
	case "set_compression":
		s.handleSetCompression(cs, msg)
	case "set_priority":
		s.handleSetPriority(cs, msg)
	case "get_stats":
		s.handleGetStats(cs)
	case "ping":
		s.reply(cs, "pong", nil)
	case "":
		s.replyError(cs, "", "control message missing type")
	default:
		s.replyError(cs, msg.Type, "unknown control message type: "+msg.Type)
	}
}

// resolveTags parses per-request priority/compression, falling back to the
// session defaults for empty fields. Unknown values produce an error reply.
func (s *Server) resolveTags(cs *clientSession, msg controlMessage) (stream.Priority, compress.Kind, bool) {
	priority, compression := cs.defaults()

	if msg.Priority != "" {
		p, err := stream.ParsePriority(msg.Priority)
		if err != nil {
			s.replyError(cs, msg.Type, "unknown priority: "+msg.Priority)
			return 0, 0, false
		}
		priority = p
	}
	if msg.Compression != "" {
		k, err := compress.ParseKind(msg.Compression)
		if err != nil {
			s.replyError(cs, msg.Type, "unknown compression: "+msg.Compression)
			return 0, 0, false
		}
		compression = k
	}
	return priority, compression, true
}

func (s *Server) handleStartStream(cs *clientSession, msg controlMessage) {
	if msg.EquipmentID == "" || msg.StreamType == "" {
		s.replyError(cs, msg.Type, "start_stream requires equipment_id and stream_type")
		return
	}
	priority, compression, ok := s.resolveTags(cs, msg)
	if !ok {
		return
	}

	interval := time.Duration(msg.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Second
	}

	key := "stream:" + msg.EquipmentID + ":" + msg.StreamType
	ctx, cancel := context.WithCancel(context.Background())
	if !cs.addTask(key, cancel) {
		cancel()
		s.replyError(cs, msg.Type, "stream already active for "+msg.EquipmentID+"/"+msg.StreamType)
		return
	}

	s.wg.Add(1)
	go s.runStreamTask(ctx, cs, key, msg.EquipmentID, msg.StreamType, interval, priority, compression)

	s.reply(cs, "stream_started", map[string]any{
		"equipment_id": msg.EquipmentID,
		"stream_type":  msg.StreamType,
		"interval_ms":  int(interval / time.Millisecond),
	})
}

func (s *Server) handleStopStream(cs *clientSession, msg controlMessage) {
	key := "stream:" + msg.EquipmentID + ":" + msg.StreamType
	if !cs.removeTask(key) {
		s.replyError(cs, msg.Type, "no active stream for "+msg.EquipmentID+"/"+msg.StreamType)
		return
	}
	s.reply(cs, "stream_stopped", map[string]any{
		"equipment_id": msg.EquipmentID,
		"stream_type":  msg.StreamType,
	})
}

func (s *Server) handleStartAcquisition(cs *clientSession, msg controlMessage) {
	if msg.AcquisitionID == "" {
		s.replyError(cs, msg.Type, "start_acquisition_stream requires acquisition_id")
		return
	}
	priority, compression, ok := s.resolveTags(cs, msg)
	if !ok {
		return
	}

	interval := time.Duration(msg.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	numSamples := msg.NumSamples
	if numSamples <= 0 {
		numSamples = 100
	}

	key := "acquisition:" + msg.AcquisitionID
	ctx, cancel := context.WithCancel(context.Background())
	if !cs.addTask(key, cancel) {
		cancel()
		s.replyError(cs, msg.Type, "acquisition already active: "+msg.AcquisitionID)
		return
	}

	s.wg.Add(1)
	go s.runAcquisitionTask(ctx, cs, key, msg.AcquisitionID, interval, numSamples, priority, compression)

	s.reply(cs, "acquisition_stream_started", map[string]any{
		"acquisition_id": msg.AcquisitionID,
		"num_samples":    numSamples,
		"interval_ms":    int(interval / time.Millisecond),
	})
}

func (s *Server) handleStopAcquisition(cs *clientSession, msg controlMessage) {
	key := "acquisition:" + msg.AcquisitionID
	if !cs.removeTask(key) {
		s.replyError(cs, msg.Type, "no active acquisition: "+msg.AcquisitionID)
		return
	}
	s.reply(cs, "acquisition_stream_stopped", map[string]any{
		"acquisition_id": msg.AcquisitionID,
	})
}

func (s *Server) handleStartRecording(cs *clientSession, msg controlMessage) {
	if msg.SessionID == "" {
		s.replyError(cs, msg.Type, "start_recording requires session_id")
		return
	}

	path, err := s.manager.StartRecording(msg.SessionID, msg.Metadata)
	if err != nil {
		s.replyError(cs, msg.Type, err.Error())
		return
	}
	s.reply(cs, "recording_started", map[string]any{
		"session_id": msg.SessionID,
		"filepath":   path,
	})
}

func (s *Server) handleStopRecording(cs *clientSession, msg controlMessage) {
	stats := s.manager.StopRecording(msg.SessionID)
	if stats == nil {
		s.replyError(cs, msg.Type, "recording session not found: "+msg.SessionID)
		return
	}
	s.reply(cs, "recording_stopped", map[string]any{
		"session_id": stats.SessionID,
		"stats": map[string]any{
			"filepath":            stats.FilePath,
			"duration_seconds":    stats.DurationSeconds,
			"message_count":       stats.MessageCount,
			"bytes_written":       stats.BytesWritten,
			"messages_per_second": stats.MessagesPerSecond,
		},
	})
}

func (s *Server) handleSetCompression(cs *clientSession, msg controlMessage) {
	kind, err := compress.ParseKind(msg.Compression)
	if err != nil {
		s.replyError(cs, msg.Type, "unknown compression: "+msg.Compression)
		return
	}

	cs.mu.Lock()
	cs.compression = kind
	cs.mu.Unlock()

	s.reply(cs, "compression_set", map[string]any{"compression": kind.String()})
}

func (s *Server) handleSetPriority(cs *clientSession, msg controlMessage) {
	priority, err := stream.ParsePriority(msg.Priority)
	if err != nil {
		s.replyError(cs, msg.Type, "unknown priority: "+msg.Priority)
		return
	}

	cs.mu.Lock()
	cs.priority = priority
	cs.mu.Unlock()

	s.reply(cs, "priority_set", map[string]any{"priority": priority.String()})
}

func (s *Server) handleGetStats(cs *clientSession) {
	payload := map[string]any{
		"global": s.manager.GlobalStats(),
	}
	if bp, ok := s.manager.BackpressureStats(cs.connID); ok {
		payload["backpressure"] = bp
	}
	if info, ok := s.manager.ConnectionInfo(cs.connID); ok {
		payload["connection"] = info
	}
	s.reply(cs, "stats", payload)
}

// runStreamTask produces stream_data messages on the configured cadence
// until cancelled.
func (s *Server) runStreamTask(ctx context.Context, cs *clientSession, key, equipmentID, streamType string, interval time.Duration, priority stream.Priority, compression compress.Kind) {
	defer s.wg.Done()
	defer cs.dropTask(key)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload := s.source.Sample(equipmentID, streamType)
			msg := stream.NewMessage("stream_data", payload)
			s.manager.SendToClient(cs.connID, msg, priority, compression)
		}
	}
}

// runAcquisitionTask produces a fixed-length acquisition run, then reports
// completion.
func (s *Server) runAcquisitionTask(ctx context.Context, cs *clientSession, key, acquisitionID string, interval time.Duration, numSamples int, priority stream.Priority, compression compress.Kind) {
	defer s.wg.Done()
	defer cs.dropTask(key)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < numSamples; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload := s.source.AcquisitionSample(acquisitionID, i)
			payload["state"] = "running"
			msg := stream.NewMessage("acquisition_stream", payload)
			s.manager.SendToClient(cs.connID, msg, priority, compression)
		}
	}

	done := stream.NewMessage("acquisition_stream", map[string]any{
		"acquisition_id": acquisitionID,
		"state":          "complete",
		"stats":          map[string]any{"num_samples": numSamples},
	})
	s.manager.SendToClient(cs.connID, done, stream.PriorityHigh, compress.None)
}

// reply sends a control response at High priority, uncompressed
func (s *Server) reply(cs *clientSession, msgType string, payload map[string]any) {
	msg := stream.NewMessage(msgType, payload)
	s.manager.SendToClient(cs.connID, msg, stream.PriorityHigh, compress.None)
}

// replyError reports a rejected control message back to the client
func (s *Server) replyError(cs *clientSession, request, detail string) {
	payload := map[string]any{"error": detail}
	if request != "" {
		payload["request"] = request
	}
	s.reply(cs, "error", payload)
}
