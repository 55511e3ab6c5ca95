package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/X9X0/LabLink-sub003/compress"
	"github.com/X9X0/LabLink-sub003/recorder"
	"github.com/X9X0/LabLink-sub003/stream"
)

func startTestServer(t *testing.T, rec *recorder.Recorder) (*Server, *stream.Manager) {
	t.Helper()

	mcfg := stream.DefaultConfig()
	mcfg.Backpressure.RateLimitEnabled = false
	mcfg.RetryInterval = 5 * time.Millisecond
	mcfg.Recorder = rec
	manager := stream.NewManager(mcfg)

	cfg := Config{
		Host:         "127.0.0.1",
		Port:         0,
		Path:         "/ws",
		WriteTimeout: 5 * time.Second,
	}
	srv, err := NewServer(cfg, manager, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))

	t.Cleanup(func() {
		require.NoError(t, srv.Stop(5*time.Second))
		manager.Shutdown()
	})

	return srv, manager
}

func dialTestServer(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	url := "ws://" + srv.Addr() + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readWire reads one frame and decodes it to the wire object, unwrapping
// the compression prefix on binary frames.
func readWire(t *testing.T, conn *websocket.Conn) (map[string]any, bool) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)

	binary := msgType == websocket.BinaryMessage
	if binary {
		require.NotEmpty(t, data)
		kind, err := compress.KindFromByte(data[0])
		require.NoError(t, err)
		text, err := compress.Decompress(data[1:], kind)
		require.NoError(t, err)
		data = []byte(text)
	}

	var obj map[string]any
	require.NoError(t, json.Unmarshal(data, &obj))
	return obj, binary
}

// awaitType reads frames until one of the wanted type arrives
func awaitType(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	for i := 0; i < 200; i++ {
		obj, _ := readWire(t, conn)
		if obj["type"] == wantType {
			return obj
		}
	}
	t.Fatalf("no %q message received", wantType)
	return nil
}

func sendControl(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestGatewaySendsCapabilitiesOnConnect(t *testing.T) {
	srv, _ := startTestServer(t, nil)
	conn := dialTestServer(t, srv)

	obj := awaitType(t, conn, "capabilities")
	features, ok := obj["features"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, features, "compression")
	assert.Contains(t, features, "backpressure")
}

func TestPingPong(t *testing.T) {
	srv, _ := startTestServer(t, nil)
	conn := dialTestServer(t, srv)
	awaitType(t, conn, "capabilities")

	sendControl(t, conn, map[string]any{"type": "ping"})
	awaitType(t, conn, "pong")
}

func TestSetPriorityAndCompression(t *testing.T) {
	srv, _ := startTestServer(t, nil)
	conn := dialTestServer(t, srv)
	awaitType(t, conn, "capabilities")

	sendControl(t, conn, map[string]any{"type": "set_priority", "priority": "high"})
	obj := awaitType(t, conn, "priority_set")
	assert.Equal(t, "high", obj["priority"])

	sendControl(t, conn, map[string]any{"type": "set_compression", "compression": "gzip"})
	obj = awaitType(t, conn, "compression_set")
	assert.Equal(t, "gzip", obj["compression"])
}

func TestInvalidEnumValuesRejected(t *testing.T) {
	srv, _ := startTestServer(t, nil)
	conn := dialTestServer(t, srv)
	awaitType(t, conn, "capabilities")

	sendControl(t, conn, map[string]any{"type": "set_priority", "priority": "urgent"})
	obj := awaitType(t, conn, "error")
	assert.Contains(t, obj["error"], "urgent")

	sendControl(t, conn, map[string]any{"type": "set_compression", "compression": "brotli"})
	obj = awaitType(t, conn, "error")
	assert.Contains(t, obj["error"], "brotli")
}

func TestUnknownControlType(t *testing.T) {
	srv, _ := startTestServer(t, nil)
	conn := dialTestServer(t, srv)
	awaitType(t, conn, "capabilities")

	sendControl(t, conn, map[string]any{"type": "reboot_lab"})
	obj := awaitType(t, conn, "error")
	assert.Contains(t, obj["error"], "reboot_lab")
}

func TestMalformedControlMessage(t *testing.T) {
	srv, _ := startTestServer(t, nil)
	conn := dialTestServer(t, srv)
	awaitType(t, conn, "capabilities")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	obj := awaitType(t, conn, "error")
	assert.Contains(t, obj["error"], "JSON")
}

func TestStreamLifecycle(t *testing.T) {
	srv, _ := startTestServer(t, nil)
	conn := dialTestServer(t, srv)
	awaitType(t, conn, "capabilities")

	sendControl(t, conn, map[string]any{
		"type":         "start_stream",
		"equipment_id": "scope-1",
		"stream_type":  "voltage",
		"interval_ms":  10,
	})
	awaitType(t, conn, "stream_started")

	data := awaitType(t, conn, "stream_data")
	assert.Equal(t, "scope-1", data["equipment_id"])
	assert.Equal(t, "voltage", data["stream_type"])
	assert.Contains(t, data, "value")

	// Duplicate start is rejected
	sendControl(t, conn, map[string]any{
		"type":         "start_stream",
		"equipment_id": "scope-1",
		"stream_type":  "voltage",
	})
	awaitType(t, conn, "error")

	sendControl(t, conn, map[string]any{
		"type":         "stop_stream",
		"equipment_id": "scope-1",
		"stream_type":  "voltage",
	})
	awaitType(t, conn, "stream_stopped")

	// Stopping a stopped stream is an error
	sendControl(t, conn, map[string]any{
		"type":         "stop_stream",
		"equipment_id": "scope-1",
		"stream_type":  "voltage",
	})
	awaitType(t, conn, "error")
}

func TestCompressedStreamDelivery(t *testing.T) {
	srv, _ := startTestServer(t, nil)
	conn := dialTestServer(t, srv)
	awaitType(t, conn, "capabilities")

	sendControl(t, conn, map[string]any{
		"type":         "start_stream",
		"equipment_id": "scope-1",
		"stream_type":  "temperature",
		"interval_ms":  10,
		"compression":  "zlib",
	})
	awaitType(t, conn, "stream_started")

	// Scan for a compressed stream_data frame
	found := false
	for i := 0; i < 50 && !found; i++ {
		obj, binary := readWire(t, conn)
		if obj["type"] == "stream_data" {
			assert.True(t, binary, "stream_data must arrive as a binary frame when compressed")
			found = true
		}
	}
	assert.True(t, found)
}

func TestAcquisitionRun(t *testing.T) {
	srv, _ := startTestServer(t, nil)
	conn := dialTestServer(t, srv)
	awaitType(t, conn, "capabilities")

	sendControl(t, conn, map[string]any{
		"type":           "start_acquisition_stream",
		"acquisition_id": "acq-1",
		"interval_ms":    5,
		"num_samples":    3,
	})
	started := awaitType(t, conn, "acquisition_stream_started")
	assert.Equal(t, float64(3), started["num_samples"])

	samples := 0
	for {
		obj, _ := readWire(t, conn)
		if obj["type"] != "acquisition_stream" {
			continue
		}
		switch obj["state"] {
		case "running":
			samples++
		case "complete":
			assert.Equal(t, 3, samples)
			assert.Equal(t, "acq-1", obj["acquisition_id"])
			return
		}
	}
}

func TestRecordingControl(t *testing.T) {
	rec, err := recorder.NewRecorder(recorder.Options{
		Directory: t.TempDir(),
		Format:    recorder.FormatJSONL,
	}, nil)
	require.NoError(t, err)

	srv, manager := startTestServer(t, rec)
	conn := dialTestServer(t, srv)
	awaitType(t, conn, "capabilities")

	sendControl(t, conn, map[string]any{
		"type":       "start_recording",
		"session_id": "capture-1",
		"metadata":   map[string]any{"experiment": "run-9"},
	})
	started := awaitType(t, conn, "recording_started")
	assert.Equal(t, "capture-1", started["session_id"])
	assert.NotEmpty(t, started["filepath"])
	assert.Contains(t, manager.ActiveRecordings(), "capture-1")

	// Double start reports an error
	sendControl(t, conn, map[string]any{
		"type":       "start_recording",
		"session_id": "capture-1",
	})
	awaitType(t, conn, "error")

	sendControl(t, conn, map[string]any{
		"type":       "stop_recording",
		"session_id": "capture-1",
	})
	stopped := awaitType(t, conn, "recording_stopped")
	assert.Equal(t, "capture-1", stopped["session_id"])
	assert.Contains(t, stopped, "stats")

	// Stopping an unknown session reports an error
	sendControl(t, conn, map[string]any{
		"type":       "stop_recording",
		"session_id": "capture-1",
	})
	awaitType(t, conn, "error")
}

func TestGetStats(t *testing.T) {
	srv, _ := startTestServer(t, nil)
	conn := dialTestServer(t, srv)
	awaitType(t, conn, "capabilities")

	sendControl(t, conn, map[string]any{"type": "get_stats"})
	obj := awaitType(t, conn, "stats")
	assert.Contains(t, obj, "global")
	assert.Contains(t, obj, "backpressure")
	assert.Contains(t, obj, "connection")
}

func TestHealthzEndpoint(t *testing.T) {
	srv, _ := startTestServer(t, nil)

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestClientDisconnectCleansUp(t *testing.T) {
	srv, manager := startTestServer(t, nil)
	conn := dialTestServer(t, srv)
	awaitType(t, conn, "capabilities")

	require.Eventually(t, func() bool {
		return len(manager.AllConnections()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return len(manager.AllConnections()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
