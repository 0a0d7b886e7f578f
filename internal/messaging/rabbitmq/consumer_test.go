package rabbitmq

import (
	"context"
	"errors"
	"io"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	appErrors "github.com/relialab/docpipe/internal/errors"
	"github.com/relialab/docpipe/internal/pkg/logger"
	"github.com/relialab/docpipe/internal/retry"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	logger.InitWithWriter(io.Discard)
	os.Exit(m.Run())
}

type fakeAcknowledger struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error { f.acked = true; return nil }

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error { return nil }

type handlerFunc func(ctx context.Context, d amqp.Delivery) error

func (f handlerFunc) Handle(ctx context.Context, d amqp.Delivery) error { return f(ctx, d) }

func newTestConsumer(h Handler) *Consumer {
	return NewConsumer("amqp://unused", "test-service", ValidationQueue, h, ConsumerOptions{
		Retry: &retry.Config{
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     time.Millisecond,
		},
	})
}

func delivery(acker *fakeAcknowledger, messageID string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: acker,
		MessageId:    messageID,
		RoutingKey:   "document.uploaded",
		Body:         []byte(`{}`),
	}
}

func TestProcessAcksOnSuccess(t *testing.T) {
	acker := &fakeAcknowledger{}
	c := newTestConsumer(handlerFunc(func(ctx context.Context, d amqp.Delivery) error {
		return nil
	}))

	c.process(context.Background(), delivery(acker, uuid.NewString()))

	assert.True(t, acker.acked)
	assert.False(t, acker.nacked)
}

func TestProcessDeadLettersMissingMessageID(t *testing.T) {
	acker := &fakeAcknowledger{}
	var calls int64
	c := newTestConsumer(handlerFunc(func(ctx context.Context, d amqp.Delivery) error {
		atomic.AddInt64(&calls, 1)
		return nil
	}))

	c.process(context.Background(), delivery(acker, ""))

	assert.True(t, acker.nacked)
	assert.False(t, acker.requeue)
	assert.Equal(t, int64(0), atomic.LoadInt64(&calls), "handler must not run for an unidentifiable message")
}

func TestProcessDeadLettersTerminalErrorWithoutRetry(t *testing.T) {
	acker := &fakeAcknowledger{}
	var calls int64
	c := newTestConsumer(handlerFunc(func(ctx context.Context, d amqp.Delivery) error {
		atomic.AddInt64(&calls, 1)
		return appErrors.NewInvalidEnvelope("undecodable payload")
	}))

	c.process(context.Background(), delivery(acker, uuid.NewString()))

	assert.True(t, acker.nacked)
	assert.False(t, acker.requeue)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestProcessDeadLettersAfterRetryExhaustion(t *testing.T) {
	acker := &fakeAcknowledger{}
	var calls int64
	c := newTestConsumer(handlerFunc(func(ctx context.Context, d amqp.Delivery) error {
		atomic.AddInt64(&calls, 1)
		return appErrors.NewRetryable("db down", errors.New("conn refused"))
	}))

	c.process(context.Background(), delivery(acker, uuid.NewString()))

	assert.True(t, acker.nacked)
	assert.False(t, acker.requeue)
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}

func TestProcessRequeuesWhenShutdownInterrupts(t *testing.T) {
	acker := &fakeAcknowledger{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A healthy message whose first pgx call fails only because the service
	// context was canceled must go back to the broker, not to the DLQ.
	c := newTestConsumer(handlerFunc(func(hctx context.Context, d amqp.Delivery) error {
		return appErrors.NewRetryable("ledger lookup failed", hctx.Err())
	}))

	c.process(ctx, delivery(acker, uuid.NewString()))

	assert.False(t, acker.acked)
	assert.True(t, acker.nacked)
	assert.True(t, acker.requeue, "shutdown must leave the message for redelivery")
}

func TestProcessShutdownDoesNotRescueTerminalErrors(t *testing.T) {
	acker := &fakeAcknowledger{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestConsumer(handlerFunc(func(hctx context.Context, d amqp.Delivery) error {
		return appErrors.NewInvalidEnvelope("undecodable payload")
	}))

	c.process(ctx, delivery(acker, uuid.NewString()))

	assert.True(t, acker.nacked)
	assert.False(t, acker.requeue, "an undecodable message is DLQ-bound even during shutdown")
}
