package enrichment_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/relialab/docpipe/internal/contracts/event"
	"github.com/relialab/docpipe/internal/enrichment"
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

func validatedDelivery(t *testing.T) (amqp.Delivery, event.ValidatedPayload) {
	t.Helper()
	p := event.NewValidated(uuid.NewString(), uuid.NewString(), "passed", "validation-service")
	body, err := json.Marshal(p)
	require.NoError(t, err)
	return amqp.Delivery{
		MessageId:  p.EventID,
		RoutingKey: event.RKValidated,
		Body:       body,
	}, p
}

func TestHandle_EnrichesValidatedDocument(t *testing.T) {
	ledger := new(MockLedger)
	d, p := validatedDelivery(t)

	ledger.On("IsProcessed", mock.Anything, p.EventID).Return(false, nil).Once()
	ledger.On("ProcessOnce", mock.Anything, p.EventID, string(event.TypeDocumentValidated), p.AggregateID, mock.Anything).
		Return(true, nil).Once()

	err := enrichment.NewHandler(ledger).Handle(context.Background(), d)
	require.NoError(t, err)
	ledger.AssertExpectations(t)
}

func TestHandle_DuplicateSkips(t *testing.T) {
	ledger := new(MockLedger)
	d, p := validatedDelivery(t)

	ledger.On("IsProcessed", mock.Anything, p.EventID).Return(true, nil).Once()

	err := enrichment.NewHandler(ledger).Handle(context.Background(), d)
	require.NoError(t, err)
	ledger.AssertNotCalled(t, "ProcessOnce", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_MalformedPayload(t *testing.T) {
	ledger := new(MockLedger)
	d := amqp.Delivery{MessageId: uuid.NewString(), Body: []byte("{broken")}

	ledger.On("IsProcessed", mock.Anything, d.MessageId).Return(false, nil).Once()

	err := enrichment.NewHandler(ledger).Handle(context.Background(), d)
	require.Error(t, err)
	assert.True(t, appErrors.IsInvalidEnvelope(err))
}

func TestHandle_CommitFailureIsRetryable(t *testing.T) {
	ledger := new(MockLedger)
	d, p := validatedDelivery(t)

	ledger.On("IsProcessed", mock.Anything, p.EventID).Return(false, nil).Once()
	ledger.On("ProcessOnce", mock.Anything, p.EventID, string(event.TypeDocumentValidated), p.AggregateID, mock.Anything).
		Return(false, errors.New("tx aborted")).Once()

	err := enrichment.NewHandler(ledger).Handle(context.Background(), d)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCodeRetryable, appErrors.CodeOf(err))
}
