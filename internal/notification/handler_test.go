package notification

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/relialab/docpipe/internal/contracts/event"
	appErrors "github.com/relialab/docpipe/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	args := m.Called(ctx, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedger) ProcessOnce(ctx context.Context, eventID, eventType, aggregateID string, fn func(tx pgx.Tx) error) (bool, error) {
	args := m.Called(ctx, eventID, eventType, aggregateID, fn)
	return args.Bool(0), args.Error(1)
}

func TestRender(t *testing.T) {
	validated := event.NewValidated("agg-1", "corr-1", "passed", "validation-service")
	rejected := event.NewRejected("agg-2", "corr-2", "document name must not be blank", "name.required")
	enriched := event.NewEnriched("agg-3", "corr-3", "metadata-extraction")

	marshal := func(v any) []byte {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return b
	}

	tests := []struct {
		name        string
		routingKey  string
		body        []byte
		wantSubject string
		wantInBody  string
	}{
		{"validated", event.RKValidated, marshal(validated), "Document validated", "agg-1"},
		{"rejected", event.RKRejected, marshal(rejected), "Document rejected", "must not be blank"},
		{"enriched", event.RKEnriched, marshal(enriched), "Document enriched", "metadata-extraction"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, message, err := render(tt.routingKey, tt.body)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSubject, subject)
			assert.Contains(t, message, tt.wantInBody)
		})
	}
}

func TestRenderRejectsUnexpectedRoutingKey(t *testing.T) {
	_, _, err := render("document.uploaded", []byte("{}"))
	require.Error(t, err)
	assert.True(t, appErrors.IsInvalidEnvelope(err))
}

func TestRenderRejectsMalformedBody(t *testing.T) {
	_, _, err := render(event.RKValidated, []byte("not json"))
	require.Error(t, err)
	assert.True(t, appErrors.IsInvalidEnvelope(err))
}

func TestHandle_RecordsNotification(t *testing.T) {
	ledger := new(MockLedger)
	p := event.NewValidated(uuid.NewString(), uuid.NewString(), "passed", "validation-service")
	body, err := json.Marshal(p)
	require.NoError(t, err)

	d := amqp.Delivery{
		MessageId:  p.EventID,
		RoutingKey: event.RKValidated,
		Body:       body,
	}

	ledger.On("IsProcessed", mock.Anything, p.EventID).Return(false, nil).Once()
	ledger.On("ProcessOnce", mock.Anything, p.EventID, string(event.TypeDocumentValidated), p.AggregateID, mock.Anything).
		Return(true, nil).Once()

	// nil limiter means rate limiting is disabled entirely
	h := NewHandler(ledger, NewRepository(nil), nil)
	require.NoError(t, h.Handle(context.Background(), d))
	ledger.AssertExpectations(t)
}

func TestHandle_DuplicateSkips(t *testing.T) {
	ledger := new(MockLedger)
	eventID := uuid.NewString()

	ledger.On("IsProcessed", mock.Anything, eventID).Return(true, nil).Once()

	h := NewHandler(ledger, NewRepository(nil), nil)
	require.NoError(t, h.Handle(context.Background(), amqp.Delivery{MessageId: eventID}))
	ledger.AssertNotCalled(t, "ProcessOnce", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_MalformedPayload(t *testing.T) {
	ledger := new(MockLedger)
	eventID := uuid.NewString()

	ledger.On("IsProcessed", mock.Anything, eventID).Return(false, nil).Once()

	h := NewHandler(ledger, NewRepository(nil), nil)
	err := h.Handle(context.Background(), amqp.Delivery{
		MessageId:  eventID,
		RoutingKey: event.RKRejected,
		Body:       []byte("not json"),
	})
	require.Error(t, err)
	assert.True(t, appErrors.IsInvalidEnvelope(err))
}

func TestRateLimiterFailsOpenWithoutRedis(t *testing.T) {
	rl := NewRateLimiter(nil)
	assert.NoError(t, rl.Check(context.Background(), "someone@example.com", 1, 0))
}
