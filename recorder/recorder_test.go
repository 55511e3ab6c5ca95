package recorder

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/X9X0/LabLink-sub003/errors"
)

func newTestRecorder(t *testing.T, opts Options) *Recorder {
	t.Helper()
	opts.Directory = t.TempDir()
	r, err := NewRecorder(opts, nil)
	require.NoError(t, err)
	return r
}

func sampleMessage(i int) map[string]any {
	return map[string]any{
		"type":  "sensor_data",
		"seq":   i,
		"value": 23.5,
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"JSONL", FormatJSONL, false},
		{" csv ", FormatCSV, false},
		{"binary", FormatBinary, false},
		{"parquet", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
			assert.True(t, errors.IsInvalid(err))
		} else {
			require.NoError(t, err, "input %q", tt.input)
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestStartRecordingCreatesFile(t *testing.T) {
	r := newTestRecorder(t, Options{Format: FormatJSONL})

	path, err := r.StartRecording("session-1", nil)
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".jsonl"))
	assert.Contains(t, filepath.Base(path), "session-1_")
	assert.Equal(t, []string{"session-1"}, r.ActiveRecordings())
}

func TestStartRecordingDoubleOpenFails(t *testing.T) {
	r := newTestRecorder(t, Options{Format: FormatJSONL})

	_, err := r.StartRecording("session-1", nil)
	require.NoError(t, err)

	_, err = r.StartRecording("session-1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSessionExists)

	// Original session must still be recording
	assert.Equal(t, []string{"session-1"}, r.ActiveRecordings())
}

func TestJSONLRecordingCompleteness(t *testing.T) {
	const n = 25
	r := newTestRecorder(t, Options{Format: FormatJSONL, IncludeTimestamps: true})

	path, err := r.StartRecording("session-1", nil)
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		require.NoError(t, r.RecordMessage("session-1", sampleMessage(i)))
	}

	stats := r.StopRecording("session-1")
	require.NotNil(t, stats)
	assert.Equal(t, int64(n), stats.MessageCount)
	assert.Positive(t, stats.BytesWritten)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		assert.Contains(t, record, "recorded_at")
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, n, lines)
}

func TestJSONFormatProducesValidArray(t *testing.T) {
	r := newTestRecorder(t, Options{Format: FormatJSON})

	path, err := r.StartRecording("session-1", map[string]any{"operator": "nina"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.RecordMessage("session-1", sampleMessage(i)))
	}
	require.NotNil(t, r.StopRecording("session-1"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var elements []map[string]any
	require.NoError(t, json.Unmarshal(data, &elements))
	// Metadata object plus three records
	require.Len(t, elements, 4)
	assert.Contains(t, elements[0], "_metadata")
	assert.Equal(t, "sensor_data", elements[1]["type"])
}

func TestCSVFormatWritesHeader(t *testing.T) {
	r := newTestRecorder(t, Options{Format: FormatCSV, IncludeTimestamps: true})

	path, err := r.StartRecording("session-1", nil)
	require.NoError(t, err)
	require.NoError(t, r.RecordMessage("session-1", sampleMessage(0)))
	require.NotNil(t, r.StopRecording("session-1"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, "timestamp,message_type,data", lines[0])
	assert.Contains(t, lines[1], "sensor_data")
}

func TestGzipCompressedRecording(t *testing.T) {
	const n = 10
	r := newTestRecorder(t, Options{Format: FormatJSONL, Compress: true})

	path, err := r.StartRecording("session-1", nil)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".jsonl.gz"))

	for i := 0; i < n; i++ {
		require.NoError(t, r.RecordMessage("session-1", sampleMessage(i)))
	}
	require.NotNil(t, r.StopRecording("session-1"))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	lines := 0
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, n, lines)
}

func TestAutoStopOnSizeLimit(t *testing.T) {
	r := newTestRecorder(t, Options{Format: FormatJSONL, MaxFileSizeMB: 1})

	_, err := r.StartRecording("session-1", nil)
	require.NoError(t, err)

	// Each record carries ~600KB, so the second write crosses the 1MB limit
	big := strings.Repeat("x", 600*1024)
	msg := map[string]any{"type": "waveform", "data": big}

	require.NoError(t, r.RecordMessage("session-1", msg))
	assert.Contains(t, r.ActiveRecordings(), "session-1")

	require.NoError(t, r.RecordMessage("session-1", msg))
	assert.NotContains(t, r.ActiveRecordings(), "session-1",
		"session must auto-stop after crossing the size limit")

	// Further writes report the session as gone
	err = r.RecordMessage("session-1", msg)
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)
}

func TestStopRecordingAbsentSession(t *testing.T) {
	r := newTestRecorder(t, Options{Format: FormatJSONL})
	assert.Nil(t, r.StopRecording("no-such-session"))
}

func TestRecordingStats(t *testing.T) {
	r := newTestRecorder(t, Options{Format: FormatJSONL})

	_, err := r.StartRecording("session-1", nil)
	require.NoError(t, err)
	require.NoError(t, r.RecordMessage("session-1", sampleMessage(0)))

	stats, ok := r.RecordingStats("session-1")
	require.True(t, ok)
	assert.Equal(t, "session-1", stats.SessionID)
	assert.Equal(t, int64(1), stats.MessageCount)

	_, ok = r.RecordingStats("absent")
	assert.False(t, ok)

	require.NotNil(t, r.StopRecording("session-1"))
}

func TestRecordToAllFansOut(t *testing.T) {
	r := newTestRecorder(t, Options{Format: FormatJSONL})

	_, err := r.StartRecording("a", nil)
	require.NoError(t, err)
	_, err = r.StartRecording("b", nil)
	require.NoError(t, err)

	r.RecordToAll(sampleMessage(0))

	for _, id := range []string{"a", "b"} {
		stats, ok := r.RecordingStats(id)
		require.True(t, ok)
		assert.Equal(t, int64(1), stats.MessageCount, "session %s", id)
	}

	all := r.StopAll()
	assert.Len(t, all, 2)
	assert.False(t, r.HasActiveSessions())
}
