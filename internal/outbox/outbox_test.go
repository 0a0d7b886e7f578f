package outbox

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/relialab/docpipe/internal/contracts/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	evt := event.NewUploaded("agg-1", "corr-1", "report.pdf", "application/pdf", 1024)

	m, err := NewMessage(evt.Envelope, evt)
	require.NoError(t, err)

	assert.Equal(t, evt.EventID, m.EventID)
	assert.Equal(t, event.TypeDocumentUploaded, m.EventType)
	assert.Equal(t, event.AggregateType, m.AggregateType)
	assert.Equal(t, "agg-1", m.AggregateID)
	assert.Equal(t, "corr-1", m.CorrelationID)
	assert.Equal(t, event.RKUploaded, m.RoutingKey)

	// payload must round-trip the full event, not just the envelope
	var decoded event.UploadedPayload
	require.NoError(t, json.Unmarshal(m.Payload, &decoded))
	assert.Equal(t, "report.pdf", decoded.DocumentName)
	assert.Equal(t, int64(1024), decoded.FileSize)
}

func TestNewMessageRequiresEventID(t *testing.T) {
	_, err := NewMessage(event.Envelope{}, struct{}{})
	assert.Error(t, err)
}

func TestBackoff(t *testing.T) {
	s := &Store{
		InitialDelay: 10 * time.Second,
		MaxDelay:     time.Hour,
	}

	tests := []struct {
		name     string
		retries  int
		expected time.Duration
	}{
		{"first failure", 1, 10 * time.Second},
		{"second failure", 2, 20 * time.Second},
		{"third failure", 3, 40 * time.Second},
		{"seventh failure", 7, 640 * time.Second},
		{"ninth failure", 9, 2560 * time.Second},
		{"tenth failure caps at an hour", 10, time.Hour},
		{"stays capped", 20, time.Hour},
		{"zero clamps to first", 0, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, s.Backoff(tt.retries))
		})
	}
}

func TestNewStoreDefaults(t *testing.T) {
	s := NewStore(nil, "test", 0, 0, 0)
	assert.Equal(t, 10, s.MaxRetries)
	assert.Equal(t, 10*time.Second, s.InitialDelay)
	assert.Equal(t, time.Hour, s.MaxDelay)
}

func TestTruncateError(t *testing.T) {
	short := "broker unreachable"
	assert.Equal(t, short, truncateError(short))

	long := strings.Repeat("x", maxErrorLen+100)
	got := truncateError(long)
	assert.Len(t, got, maxErrorLen)
}
