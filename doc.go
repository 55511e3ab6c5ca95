// Package lablink provides the real-time streaming transport layer for the
// LabLink remote lab-equipment platform: delivery of telemetry, acquisition
// data, and control responses from the lab side to remote WebSocket clients.
//
// # Architecture
//
// The core is the stream package, organized around one StreamManager that
// owns every client connection and runs one dedicated send loop per
// connection:
//
//	┌──────────────────────────────────────┐
//	│           server (gateway)           │  WebSocket upgrade,
//	│   control protocol, stream tasks     │  client read loops
//	└──────────────────┬───────────────────┘
//	                   ↓ registers connections
//	┌──────────────────────────────────────┐
//	│          stream.Manager              │  send loops, broadcast,
//	│  PriorityQueue + RateLimiter per     │  wire framing,
//	│  connection (BackpressureHandler)    │  lifecycle
//	└──────┬───────────────────┬───────────┘
//	       ↓ compress          ↓ record
//	┌──────────────┐    ┌──────────────────┐
//	│   compress   │    │     recorder     │  JSON/JSONL/CSV/binary
//	│ gzip / zlib  │    │  named sessions  │  sessions on disk
//	└──────────────┘    └──────────────────┘
//
// Messages carry a priority (critical, high, normal, low) and an optional
// compression kind. Send loops drain strictly by priority with FIFO order
// within a level; a full queue can evict low-priority entries to admit
// higher traffic. Compressed messages travel as binary frames with a
// one-byte kind prefix; uncompressed messages travel as JSON text frames.
//
// The optional input/nats bridge subscribes lab telemetry subjects and
// broadcasts them to every connected client, decoupling instrument-side
// producers from the delivery path.
//
// # Entry point
//
// cmd/lablinkd wires configuration, metrics, the recorder, the manager, the
// NATS bridge, and the WebSocket gateway into a single daemon with graceful
// shutdown.
package lablink
