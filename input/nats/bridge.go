// Package nats provides the NATS ingest bridge: lab telemetry published on
// NATS subjects is fanned out to every connected WebSocket client through
// the stream manager.
package nats

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/X9X0/LabLink-sub003/compress"
	"github.com/X9X0/LabLink-sub003/errors"
	"github.com/X9X0/LabLink-sub003/metric"
	"github.com/X9X0/LabLink-sub003/natsclient"
	"github.com/X9X0/LabLink-sub003/stream"
)

// Config holds the bridge's subject list and delivery tags
type Config struct {
	// Subjects are the NATS subjects to subscribe; wildcards are allowed
	Subjects []string `json:"subjects"`
	// Priority is the delivery priority for bridged messages
	Priority string `json:"priority"`
	// Compression is the compression kind for bridged messages
	Compression string `json:"compression"`
}

// Validate checks the configuration for usable values
func (c Config) Validate() error {
	if len(c.Subjects) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Bridge", "Validate", "no subjects configured")
	}
	for _, s := range c.Subjects {
		if strings.TrimSpace(s) == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Bridge", "Validate", "empty subject")
		}
	}
	if _, err := stream.ParsePriority(c.Priority); err != nil {
		return err
	}
	if _, err := compress.ParseKind(c.Compression); err != nil {
		return err
	}
	return nil
}

// Bridge subscribes lab telemetry subjects and broadcasts each message to
// all streaming clients at a configured priority.
type Bridge struct {
	config  Config
	client  *natsclient.Client
	manager *stream.Manager
	logger  *slog.Logger

	priority    stream.Priority
	compression compress.Kind

	subs []*nats.Subscription

	// Lifecycle management
	started     atomic.Bool
	lifecycleMu sync.Mutex

	// Statistics
	messagesReceived atomic.Int64
	messagesBridged  atomic.Int64
	decodeFailures   atomic.Int64

	metrics *metric.Metrics
}

// NewBridge creates a bridge from config. The NATS client must be connected
// before Start is called.
func NewBridge(cfg Config, client *natsclient.Client, manager *stream.Manager, logger *slog.Logger, registry *metric.MetricsRegistry) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil || manager == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Bridge", "NewBridge", "nil client or manager")
	}
	if logger == nil {
		logger = slog.Default()
	}

	priority, _ := stream.ParsePriority(cfg.Priority)
	compression, _ := compress.ParseKind(cfg.Compression)

	var metrics *metric.Metrics
	if registry != nil {
		metrics = registry.CoreMetrics()
	}

	return &Bridge{
		config:      cfg,
		client:      client,
		manager:     manager,
		logger:      logger.With("component", "nats-bridge"),
		priority:    priority,
		compression: compression,
		metrics:     metrics,
	}, nil
}

// Start subscribes all configured subjects
func (b *Bridge) Start(_ context.Context) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if b.started.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Bridge", "Start", "start bridge")
	}
	if !b.client.IsConnected() {
		return errors.WrapTransient(errors.ErrNoConnection, "Bridge", "Start", "NATS not connected")
	}

	for _, subject := range b.config.Subjects {
		sub, err := b.client.Subscribe(subject, b.handleMessage)
		if err != nil {
			return errors.Wrap(err, "Bridge", "Start", "subscribe "+subject)
		}
		b.subs = append(b.subs, sub)
	}

	b.started.Store(true)
	b.logger.Info("NATS bridge started",
		"subjects", b.config.Subjects,
		"priority", b.priority.String(),
		"compression", b.compression.String())
	return nil
}

// Stop unsubscribes all subjects. In-flight handler calls complete on the
// NATS client's dispatch goroutines.
func (b *Bridge) Stop(_ time.Duration) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	if !b.started.Load() {
		return errors.WrapInvalid(errors.ErrNotStarted, "Bridge", "Stop", "stop bridge")
	}

	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			b.logger.Debug("unsubscribe failed", "subject", sub.Subject, "error", err)
		}
	}
	b.subs = nil
	b.started.Store(false)

	b.logger.Info("NATS bridge stopped",
		"messages_received", b.messagesReceived.Load(),
		"messages_bridged", b.messagesBridged.Load())
	return nil
}

// handleMessage decodes one NATS message and broadcasts it to all clients.
// Messages that do not decode as JSON objects are counted and dropped.
func (b *Bridge) handleMessage(msg *nats.Msg) {
	b.messagesReceived.Add(1)

	var payload map[string]any
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		b.decodeFailures.Add(1)
		if b.metrics != nil {
			b.metrics.RecordError("nats-bridge", "decode")
		}
		b.logger.Debug("dropping undecodable message",
			"subject", msg.Subject,
			"error", err)
		return
	}

	msgType, _ := payload["type"].(string)
	if msgType == "" {
		msgType = subjectToType(msg.Subject)
	}

	out := stream.NewMessage(msgType, payload)
	delivered := b.manager.Broadcast(out, b.priority, b.compression, nil)
	if delivered > 0 {
		b.messagesBridged.Add(1)
	}
}

// Stats returns the bridge's ingest counters
func (b *Bridge) Stats() map[string]int64 {
	return map[string]int64{
		"messages_received": b.messagesReceived.Load(),
		"messages_bridged":  b.messagesBridged.Load(),
		"decode_failures":   b.decodeFailures.Load(),
	}
}

// subjectToType maps a NATS subject to a wire message type, e.g.
// "lab.equipment.telemetry" becomes "telemetry".
func subjectToType(subject string) string {
	parts := strings.Split(subject, ".")
	last := parts[len(parts)-1]
	if last == "" || last == ">" || last == "*" {
		return "stream_data"
	}
	return last
}
