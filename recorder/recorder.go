// Package recorder captures a message stream to disk in named, independently
// lifecycled sessions. Sessions are decoupled from delivery: a session
// outlives the connections that feed it and is only closed by StopRecording
// or by crossing its configured size limit.
package recorder

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"log/slog"

	"github.com/klauspost/compress/gzip"

	"github.com/X9X0/LabLink-sub003/errors"
)

// Options configures all sessions opened by one Recorder
type Options struct {
	// Directory is where recording files are created
	Directory string `json:"directory"`
	// Format selects the on-disk serialization
	Format Format `json:"format"`
	// Compress wraps the file in a whole-file gzip stream (.gz suffix)
	Compress bool `json:"compress"`
	// IncludeTimestamps injects a recorded_at field into every record
	IncludeTimestamps bool `json:"include_timestamps"`
	// MaxFileSizeMB stops a session automatically once its logical size
	// crosses this many megabytes; zero disables the limit
	MaxFileSizeMB int `json:"max_file_size_mb"`
}

// DefaultOptions returns production defaults for the recorder
func DefaultOptions() Options {
	return Options{
		Directory:         "recordings",
		Format:            FormatJSONL,
		IncludeTimestamps: true,
		MaxFileSizeMB:     100,
	}
}

// SessionStats summarizes one recording session
type SessionStats struct {
	SessionID         string    `json:"session_id"`
	FilePath          string    `json:"file_path"`
	Format            Format    `json:"format"`
	StartTime         time.Time `json:"start_time"`
	DurationSeconds   float64   `json:"duration_seconds"`
	MessageCount      int64     `json:"message_count"`
	BytesWritten      int64     `json:"bytes_written"`
	MessagesPerSecond float64   `json:"messages_per_second"`
}

// session is one open recording. The mutex serializes writes from concurrent
// send loops; the file handle is mutated only by recordLocked and closeLocked.
type session struct {
	mu sync.Mutex

	id        string
	path      string
	format    Format
	startTime time.Time
	metadata  map[string]any

	file *os.File
	gz   *gzip.Writer
	w    io.Writer
	csv  *csv.Writer

	messageCount int64
	bytesWritten int64
	firstElement bool
	closed       bool
}

// Recorder manages the active session set. A session_id maps to at most one
// open file handle at a time.
type Recorder struct {
	opts   Options
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewRecorder creates a recorder writing sessions per opts
func NewRecorder(opts Options, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !opts.Format.Valid() {
		return nil, errors.WrapInvalid(errors.ErrUnknownFormat, "Recorder", "NewRecorder", "validate format")
	}
	if opts.Directory == "" {
		opts.Directory = "."
	}
	if err := os.MkdirAll(opts.Directory, 0o755); err != nil {
		return nil, errors.WrapFatal(err, "Recorder", "NewRecorder", "create recording directory")
	}

	return &Recorder{
		opts:     opts,
		logger:   logger.With("component", "stream-recorder"),
		sessions: make(map[string]*session),
	}, nil
}

// StartRecording opens a new recording session and returns the file path.
// Fails if the session id is already recording.
func (r *Recorder) StartRecording(sessionID string, metadata map[string]any) (string, error) {
	if sessionID == "" {
		return "", errors.WrapInvalid(errors.ErrInvalidData, "Recorder", "StartRecording", "empty session id")
	}

	name := fmt.Sprintf("%s_%s.%s", sessionID, time.Now().Format("20060102_150405"), r.opts.Format.extension())
	if r.opts.Compress {
		name += ".gz"
	}
	path := filepath.Join(r.opts.Directory, name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sessionID]; exists {
		return "", errors.WrapInvalid(errors.ErrSessionExists, "Recorder", "StartRecording", "open session "+sessionID)
	}

	file, err := os.Create(path)
	if err != nil {
		return "", errors.WrapFatal(err, "Recorder", "StartRecording", "create recording file")
	}

	s := &session{
		id:           sessionID,
		path:         path,
		format:       r.opts.Format,
		startTime:    time.Now(),
		metadata:     metadata,
		file:         file,
		firstElement: true,
	}

	s.w = file
	if r.opts.Compress {
		s.gz = gzip.NewWriter(file)
		s.w = s.gz
	}

	if err := s.writeHeader(); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", errors.WrapFatal(err, "Recorder", "StartRecording", "write file header")
	}

	r.sessions[sessionID] = s

	r.logger.Info("recording started",
		"session", sessionID,
		"path", path,
		"format", string(r.opts.Format),
		"compress", r.opts.Compress)

	return path, nil
}

// writeHeader emits the format-specific preamble. No lock needed: the
// session is not yet published.
func (s *session) writeHeader() error {
	switch s.format {
	case FormatJSON:
		if _, err := io.WriteString(s.w, "[\n"); err != nil {
			return err
		}
		if len(s.metadata) > 0 {
			meta, err := json.Marshal(map[string]any{"_metadata": s.metadata})
			if err != nil {
				return err
			}
			if _, err := s.w.Write(meta); err != nil {
				return err
			}
			s.firstElement = false
		}
	case FormatCSV:
		s.csv = csv.NewWriter(s.w)
		if err := s.csv.Write([]string{"timestamp", "message_type", "data"}); err != nil {
			return err
		}
		s.csv.Flush()
		if err := s.csv.Error(); err != nil {
			return err
		}
	}
	return nil
}

// RecordMessage appends one record to a session. The session may auto-stop
// when its size limit is crossed, so callers that care must check
// ActiveRecordings afterwards.
func (r *Recorder) RecordMessage(sessionID string, msg map[string]any) error {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()

	if !ok {
		return errors.WrapInvalid(errors.ErrSessionNotFound, "Recorder", "RecordMessage", "lookup session "+sessionID)
	}

	overLimit, err := r.record(s, msg)
	if err != nil {
		return err
	}

	if overLimit {
		r.logger.Info("recording size limit reached, stopping session",
			"session", sessionID,
			"bytes_written", s.bytesWritten,
			"limit_mb", r.opts.MaxFileSizeMB)
		r.StopRecording(sessionID)
	}
	return nil
}

// RecordToAll appends one record to every active session. Per-session
// failures are logged and do not affect other sessions.
func (r *Recorder) RecordToAll(msg map[string]any) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		if err := r.RecordMessage(id, msg); err != nil && !errors.IsInvalid(err) {
			r.logger.Error("record failed", "session", id, "error", err)
		}
	}
}

// record serializes and writes one record under the session lock. Returns
// whether the session crossed its size limit (keep-then-stop: the crossing
// write itself is kept).
func (r *Recorder) record(s *session, msg map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, errors.WrapInvalid(errors.ErrSessionNotFound, "Recorder", "RecordMessage", "write to stopped session")
	}

	record := msg
	if r.opts.IncludeTimestamps {
		record = make(map[string]any, len(msg)+1)
		for k, v := range msg {
			record[k] = v
		}
		record["recorded_at"] = time.Now().Format(time.RFC3339Nano)
	}

	n, err := s.writeRecord(record)
	if err != nil {
		return false, errors.WrapFatal(err, "Recorder", "RecordMessage", "write record")
	}

	s.messageCount++
	s.bytesWritten += int64(n)

	limit := int64(r.opts.MaxFileSizeMB) * 1024 * 1024
	return limit > 0 && s.bytesWritten >= limit, nil
}

// writeRecord appends one serialized record and returns the logical byte
// count (pre-gzip). Size accounting is on serialized bytes, not on-disk
// bytes, so the limit behaves the same whether or not compression is on.
func (s *session) writeRecord(record map[string]any) (int, error) {
	switch s.format {
	case FormatJSON:
		data, err := json.Marshal(record)
		if err != nil {
			return 0, err
		}
		prefix := ",\n"
		if s.firstElement {
			prefix = ""
			s.firstElement = false
		}
		n, err := io.WriteString(s.w, prefix+string(data))
		return n, err

	case FormatJSONL, FormatBinary:
		data, err := json.Marshal(record)
		if err != nil {
			return 0, err
		}
		n, err := s.w.Write(append(data, '\n'))
		return n, err

	case FormatCSV:
		ts, _ := record["recorded_at"].(string)
		if ts == "" {
			ts, _ = record["timestamp"].(string)
		}
		msgType, _ := record["type"].(string)
		data, err := json.Marshal(record)
		if err != nil {
			return 0, err
		}
		row := []string{ts, msgType, string(data)}
		if err := s.csv.Write(row); err != nil {
			return 0, err
		}
		s.csv.Flush()
		if err := s.csv.Error(); err != nil {
			return 0, err
		}
		n := len(ts) + len(msgType) + len(data) + 4
		return n, nil

	default:
		return 0, errors.ErrUnknownFormat
	}
}

// StopRecording closes a session, writes any format footer, and returns the
// final stats. Returns nil if the session does not exist.
func (r *Recorder) StopRecording(sessionID string) *SessionStats {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	stats := r.close(s)
	r.logger.Info("recording stopped",
		"session", sessionID,
		"messages", stats.MessageCount,
		"bytes", stats.BytesWritten,
		"duration_seconds", stats.DurationSeconds)
	return stats
}

// close writes the footer and releases the session's file handle
func (r *Recorder) close(s *session) *SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true

		if s.format == FormatJSON {
			if _, err := io.WriteString(s.w, "\n]\n"); err != nil {
				r.logger.Error("footer write failed", "session", s.id, "error", err)
			}
		}
		if s.gz != nil {
			if err := s.gz.Close(); err != nil {
				r.logger.Error("gzip close failed", "session", s.id, "error", err)
			}
		}
		if err := s.file.Close(); err != nil {
			r.logger.Error("file close failed", "session", s.id, "error", err)
		}
	}

	return s.statsLocked()
}

// statsLocked computes final stats; caller holds s.mu
func (s *session) statsLocked() *SessionStats {
	duration := time.Since(s.startTime).Seconds()
	perSecond := 0.0
	if duration > 0 {
		perSecond = float64(s.messageCount) / duration
	}
	return &SessionStats{
		SessionID:         s.id,
		FilePath:          s.path,
		Format:            s.format,
		StartTime:         s.startTime,
		DurationSeconds:   duration,
		MessageCount:      s.messageCount,
		BytesWritten:      s.bytesWritten,
		MessagesPerSecond: perSecond,
	}
}

func (s *session) snapshot() *SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

// RecordingStats returns live stats for an active session without mutating it
func (r *Recorder) RecordingStats(sessionID string) (*SessionStats, bool) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()

	if !ok {
		return nil, false
	}
	return s.snapshot(), true
}

// ActiveRecordings lists session ids currently recording
func (r *Recorder) ActiveRecordings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// HasActiveSessions reports whether any session is recording
func (r *Recorder) HasActiveSessions() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions) > 0
}

// StopAll closes every active session and returns their final stats
func (r *Recorder) StopAll() []*SessionStats {
	r.mu.Lock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*session)
	r.mu.Unlock()

	stats := make([]*SessionStats, 0, len(sessions))
	for _, s := range sessions {
		stats = append(stats, r.close(s))
	}
	return stats
}
