package validation_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/relialab/docpipe/internal/contracts/event"
	appErrors "github.com/relialab/docpipe/internal/errors"
	"github.com/relialab/docpipe/internal/validation"
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

func uploadedDelivery(t *testing.T, name, contentType string) (amqp.Delivery, event.UploadedPayload) {
	t.Helper()
	p := event.NewUploaded(uuid.NewString(), uuid.NewString(), name, contentType, 1024)
	body, err := json.Marshal(p)
	require.NoError(t, err)
	return amqp.Delivery{
		MessageId:  p.EventID,
		RoutingKey: event.RKUploaded,
		Body:       body,
	}, p
}

func TestHandle_ValidDocument(t *testing.T) {
	ledger := new(MockLedger)
	d, p := uploadedDelivery(t, "report.pdf", "application/pdf")

	ledger.On("IsProcessed", mock.Anything, p.EventID).Return(false, nil).Once()
	ledger.On("ProcessOnce", mock.Anything, p.EventID, string(event.TypeDocumentUploaded), p.AggregateID, mock.Anything).
		Return(true, nil).Once()

	err := validation.NewHandler(ledger).Handle(context.Background(), d)
	require.NoError(t, err)
	ledger.AssertExpectations(t)
}

func TestHandle_RejectedDocumentStillCommits(t *testing.T) {
	ledger := new(MockLedger)
	d, p := uploadedDelivery(t, "report.docx", "application/pdf")

	ledger.On("IsProcessed", mock.Anything, p.EventID).Return(false, nil).Once()
	// A rejection is a normal outcome: the ledger row and the DocumentRejected
	// event commit together, and the delivery is acked.
	ledger.On("ProcessOnce", mock.Anything, p.EventID, string(event.TypeDocumentUploaded), p.AggregateID, mock.Anything).
		Return(true, nil).Once()

	err := validation.NewHandler(ledger).Handle(context.Background(), d)
	require.NoError(t, err)
	ledger.AssertExpectations(t)
}

func TestHandle_DuplicateSkips(t *testing.T) {
	ledger := new(MockLedger)
	d, p := uploadedDelivery(t, "report.pdf", "application/pdf")

	ledger.On("IsProcessed", mock.Anything, p.EventID).Return(true, nil).Once()

	err := validation.NewHandler(ledger).Handle(context.Background(), d)
	require.NoError(t, err)
	ledger.AssertNotCalled(t, "ProcessOnce", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_LostFenceRace(t *testing.T) {
	ledger := new(MockLedger)
	d, p := uploadedDelivery(t, "report.pdf", "application/pdf")

	ledger.On("IsProcessed", mock.Anything, p.EventID).Return(false, nil).Once()
	ledger.On("ProcessOnce", mock.Anything, p.EventID, string(event.TypeDocumentUploaded), p.AggregateID, mock.Anything).
		Return(false, nil).Once()

	err := validation.NewHandler(ledger).Handle(context.Background(), d)
	require.NoError(t, err)
}

func TestHandle_MalformedPayload(t *testing.T) {
	ledger := new(MockLedger)
	d := amqp.Delivery{MessageId: uuid.NewString(), Body: []byte("not json")}

	ledger.On("IsProcessed", mock.Anything, d.MessageId).Return(false, nil).Once()

	err := validation.NewHandler(ledger).Handle(context.Background(), d)
	require.Error(t, err)
	assert.True(t, appErrors.IsInvalidEnvelope(err))
}

func TestHandle_MissingAggregateID(t *testing.T) {
	ledger := new(MockLedger)
	body, _ := json.Marshal(map[string]any{"eventId": uuid.NewString(), "documentName": "report.pdf"})
	d := amqp.Delivery{MessageId: uuid.NewString(), Body: body}

	ledger.On("IsProcessed", mock.Anything, d.MessageId).Return(false, nil).Once()

	err := validation.NewHandler(ledger).Handle(context.Background(), d)
	require.Error(t, err)
	assert.True(t, appErrors.IsInvalidEnvelope(err))
}

func TestHandle_LedgerLookupFailureIsRetryable(t *testing.T) {
	ledger := new(MockLedger)
	d, p := uploadedDelivery(t, "report.pdf", "application/pdf")

	ledger.On("IsProcessed", mock.Anything, p.EventID).Return(false, errors.New("conn refused")).Once()

	err := validation.NewHandler(ledger).Handle(context.Background(), d)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCodeRetryable, appErrors.CodeOf(err))
}

func TestHandle_CommitFailureIsRetryable(t *testing.T) {
	ledger := new(MockLedger)
	d, p := uploadedDelivery(t, "report.pdf", "application/pdf")

	ledger.On("IsProcessed", mock.Anything, p.EventID).Return(false, nil).Once()
	ledger.On("ProcessOnce", mock.Anything, p.EventID, string(event.TypeDocumentUploaded), p.AggregateID, mock.Anything).
		Return(false, errors.New("tx aborted")).Once()

	err := validation.NewHandler(ledger).Handle(context.Background(), d)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCodeRetryable, appErrors.CodeOf(err))
}
