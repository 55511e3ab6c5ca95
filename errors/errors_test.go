package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}

func TestWrapPattern(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(base, "StreamManager", "Connect", "register connection")
	require.Error(t, err)
	assert.Equal(t, "StreamManager.Connect: register connection failed: boom", err.Error())
	assert.True(t, errors.Is(err, base))

	assert.Nil(t, Wrap(nil, "X", "Y", "Z"))
}

func TestWrapTransient(t *testing.T) {
	err := WrapTransient(ErrConnectionLost, "Connection", "send", "write frame")
	require.Error(t, err)

	var ce *ClassifiedError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ErrorTransient, ce.Class)
	assert.Equal(t, "Connection", ce.Component)
	assert.True(t, errors.Is(err, ErrConnectionLost))
	assert.True(t, IsTransient(err))
	assert.False(t, IsFatal(err))
}

func TestWrapFatal(t *testing.T) {
	err := WrapFatal(ErrInvalidConfig, "Recorder", "Start", "validate options")
	assert.True(t, IsFatal(err))
	assert.False(t, IsTransient(err))
	assert.Equal(t, ErrorFatal, Classify(err))
}

func TestWrapInvalid(t *testing.T) {
	err := WrapInvalid(ErrUnknownCompression, "Compressor", "Decompress", "parse kind byte")
	assert.True(t, IsInvalid(err))
	assert.Equal(t, ErrorInvalid, Classify(err))
}

func TestClassifySentinels(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"queue full", ErrQueueFull, ErrorTransient},
		{"rate limited", ErrRateLimited, ErrorTransient},
		{"context deadline", context.DeadlineExceeded, ErrorTransient},
		{"data corrupted", ErrDataCorrupted, ErrorFatal},
		{"recorder closed", ErrRecorderClosed, ErrorFatal},
		{"unknown format", ErrUnknownFormat, ErrorInvalid},
		{"unknown priority", ErrUnknownPriority, ErrorInvalid},
		{"unclassified", errors.New("something else"), ErrorTransient},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestClassifyWrappedChain(t *testing.T) {
	// Classification survives plain fmt.Errorf wrapping
	err := fmt.Errorf("send loop: %w", WrapFatal(ErrDataCorrupted, "Codec", "Decompress", "inflate"))
	assert.True(t, IsFatal(err))
}

func TestNilChecks(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsFatal(nil))
	assert.False(t, IsInvalid(nil))
}
