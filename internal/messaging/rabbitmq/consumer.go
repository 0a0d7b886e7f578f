package rabbitmq

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	appErrors "github.com/relialab/docpipe/internal/errors"
	"github.com/relialab/docpipe/internal/metrics"
	"github.com/relialab/docpipe/internal/pkg/correlation"
	"github.com/relialab/docpipe/internal/pkg/logger"
	"github.com/relialab/docpipe/internal/retry"
)

// Handler processes one delivery. Returning nil acknowledges the message.
// A returned error goes through the local retry interceptor; when that
// exhausts (or the error is terminal) the message is nacked without
// requeue, which routes it through the DLX into the stage's DLQ.
type Handler interface {
	Handle(ctx context.Context, d amqp.Delivery) error
}

type ConsumerOptions struct {
	Prefetch int
	Workers  int
	Retry    *retry.Config
	Topology TopologyOptions
}

// Consumer is the per-queue delivery loop shared by every consuming stage.
type Consumer struct {
	url     string
	service string
	spec    QueueSpec
	handler Handler
	opts    ConsumerOptions

	conn *amqp.Connection
	ch   *amqp.Channel
	pool *WorkerPool
}

func NewConsumer(url, service string, spec QueueSpec, h Handler, opts ConsumerOptions) *Consumer {
	if opts.Prefetch <= 0 {
		opts.Prefetch = 10
	}
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	if opts.Retry == nil {
		opts.Retry = retry.DefaultConfig()
	}
	return &Consumer{
		url:     strings.TrimSpace(url),
		service: service,
		spec:    spec,
		handler: h,
		opts:    opts,
	}
}

// Start declares topology, begins consuming, and returns. The delivery
// loop runs until ctx is canceled; shutdown finishes in-flight messages
// and lets the broker redeliver the rest.
func (c *Consumer) Start(ctx context.Context) error {
	log := logger.Logger.With().
		Str("component", "consumer").
		Str("service", c.service).
		Str("queue", c.spec.Name).
		Logger()

	conn, err := amqp.Dial(c.url)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}

	if err := DeclareExchanges(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	if err := DeclareQueue(ch, c.spec, c.opts.Topology); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	if err := ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	consumerTag := c.service + "." + c.spec.Name
	deliveries, err := ch.Consume(c.spec.Name, consumerTag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	c.conn = conn
	c.ch = ch
	c.pool = NewWorkerPool(c.opts.Workers)

	go func() {
		defer func() {
			_ = ch.Close()
			_ = conn.Close()
		}()

		for {
			select {
			case <-ctx.Done():
				// Stop taking new messages, finish what is running.
				_ = ch.Cancel(consumerTag, false)
				c.pool.Stop()
				log.Info().Msg("consumer stopped")
				return
			case d, ok := <-deliveries:
				if !ok {
					c.pool.Stop()
					log.Warn().Msg("delivery channel closed")
					return
				}
				metrics.RecordConsumed(c.service, c.spec.Name)
				c.pool.Submit(func() {
					c.process(ctx, d)
				})
			}
		}
	}()

	log.Info().Strs("bindings", c.spec.Bindings).Msg("consumer started")
	return nil
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery) {
	start := time.Now()

	eventID := strings.TrimSpace(d.MessageId)
	corrID := headerString(d.Headers, "correlationId")
	if corrID == "" {
		corrID = strings.TrimSpace(d.CorrelationId)
	}

	log := logger.Logger.With().
		Str("component", "consumer").
		Str("service", c.service).
		Str("queue", c.spec.Name).
		Str("routing_key", d.RoutingKey).
		Str("event_id", eventID).
		Str("event_type", headerString(d.Headers, "eventType")).
		Str("aggregate_id", headerString(d.Headers, "aggregateId")).
		Str("correlation_id", corrID).
		Logger()

	msgCtx := logger.WithLogger(correlation.WithID(ctx, corrID), log)

	var err error
	if _, parseErr := uuid.Parse(eventID); parseErr != nil {
		err = appErrors.NewInvalidEnvelope("missing or malformed message id")
	} else {
		attempt := 0
		err = retry.Do(msgCtx, c.opts.Retry, func() error {
			if attempt > 0 {
				metrics.RecordRetryAttempt(c.service, c.spec.Name)
			}
			attempt++
			return c.handler.Handle(msgCtx, d)
		})
	}

	metrics.RecordProcessingDuration(c.service, c.spec.Name, time.Since(start))

	if err == nil {
		_ = d.Ack(false)
		return
	}

	// Shutdown interrupting a healthy message is not a poison message.
	// Hand it back to the broker for redelivery instead of dead-lettering.
	if ctx.Err() != nil && retry.IsRetryable(err) {
		log.Warn().Err(err).Msg("processing interrupted by shutdown; requeued")
		_ = d.Nack(false, true)
		return
	}

	reason := string(appErrors.CodeOf(err))
	metrics.RecordDLQ(c.service, c.spec.Name, reason)
	log.Error().Err(err).Str("reason", reason).Msg("handler failed; message routed to DLQ")

	// requeue=false + x-dead-letter-exchange on the queue = DLQ
	_ = d.Nack(false, false)
}

func headerString(h amqp.Table, key string) string {
	if h == nil {
		return ""
	}
	if s, ok := h[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
