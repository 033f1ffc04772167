package logging

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_KeepsMostRecent(t *testing.T) {
	ring := NewRing(3)
	var buf bytes.Buffer
	logger := New(&buf, "info", "text", ring)

	for i := 1; i <= 5; i++ {
		logger.Info(fmt.Sprintf("msg-%d", i), "n", i)
	}

	got := ring.Recent()
	require.Len(t, got, 3)
	assert.Equal(t, "msg-3", got[0].Message)
	assert.Equal(t, "msg-5", got[2].Message)
	assert.EqualValues(t, 5, got[2].Attrs["n"])
	assert.Contains(t, buf.String(), "msg-5")
}

func TestRing_PartiallyFilled(t *testing.T) {
	ring := NewRing(10)
	logger := New(&bytes.Buffer{}, "info", "json", ring)
	logger.With("component", "printqueue").Warn("small batch")

	got := ring.Recent()
	require.Len(t, got, 1)
	assert.Equal(t, "WARN", got[0].Level)
	assert.Equal(t, "printqueue", got[0].Attrs["component"])
	assert.Equal(t, 1, ring.Len())
}

func TestRing_RespectsLevel(t *testing.T) {
	ring := NewRing(4)
	logger := New(&bytes.Buffer{}, "warn", "text", ring)
	logger.Info("dropped")
	logger.Error("kept")
	got := ring.Recent()
	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0].Message)
}

func TestRings_AreIsolated(t *testing.T) {
	a, b := NewRing(2), NewRing(2)
	New(&bytes.Buffer{}, "info", "text", a).Info("only-a")
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 0, b.Len())
}
