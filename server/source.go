package server

import (
	"math"
	"math/rand"
	"sync/atomic"
	"time"
)

// SampleSource produces the data points delivered by stream and acquisition
// tasks. Implementations are called from multiple task goroutines and must
// be safe for concurrent use.
type SampleSource interface {
	// Sample returns one equipment telemetry reading
	Sample(equipmentID, streamType string) map[string]any
	// AcquisitionSample returns the index-th point of an acquisition run
	AcquisitionSample(acquisitionID string, index int) map[string]any
}

// SimulatedSource generates synthetic instrument readings. Used when no real
// acquisition backend is wired in.
type SimulatedSource struct {
	seq atomic.Int64
}

// NewSimulatedSource creates a synthetic sample source
func NewSimulatedSource() *SimulatedSource {
	return &SimulatedSource{}
}

// Sample returns a synthetic telemetry reading for the equipment
func (s *SimulatedSource) Sample(equipmentID, streamType string) map[string]any {
	n := s.seq.Add(1)
	base := math.Sin(float64(n) / 10.0)

	reading := map[string]any{
		"equipment_id": equipmentID,
		"stream_type":  streamType,
		"sequence":     n,
		"timestamp":    time.Now().UTC().Format(time.RFC3339Nano),
	}

	switch streamType {
	case "temperature":
		reading["value"] = 22.0 + base*2 + rand.Float64()*0.1
		reading["unit"] = "celsius"
	case "voltage":
		reading["value"] = 5.0 + base*0.5 + rand.Float64()*0.01
		reading["unit"] = "volt"
	default:
		reading["value"] = base + rand.Float64()*0.05
		reading["unit"] = "arbitrary"
	}

	return reading
}

// AcquisitionSample returns a synthetic waveform point
func (s *SimulatedSource) AcquisitionSample(acquisitionID string, index int) map[string]any {
	return map[string]any{
		"acquisition_id": acquisitionID,
		"sample_index":   index,
		"value":          math.Sin(float64(index)/5.0) + rand.Float64()*0.02,
		"timestamp":      time.Now().UTC().Format(time.RFC3339Nano),
	}
}
