package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/relialab/docpipe/internal/contracts/event"
	"github.com/relialab/docpipe/internal/outbox"
)

// Wait window for broker Return / Confirm after a publish.
const publishWait = 300 * time.Millisecond

// Publisher publishes outbox messages to the topic exchange with
// publisher confirms and mandatory routing. It implements outbox.Publisher.
type Publisher struct {
	url     string
	service string

	mu sync.Mutex

	conn *amqp.Connection
	ch   *amqp.Channel

	confirmCh <-chan amqp.Confirmation
	returnCh  <-chan amqp.Return
}

func NewPublisher(url, service string) (*Publisher, error) {
	p := &Publisher{url: url, service: service}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
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

	// enable publisher confirms
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	p.conn = conn
	p.ch = ch

	// Must be registered AFTER Confirm
	p.confirmCh = ch.NotifyPublish(make(chan amqp.Confirmation, 32))
	p.returnCh = ch.NotifyReturn(make(chan amqp.Return, 32))

	return nil
}

// Conn exposes the underlying connection for health probes.
func (p *Publisher) Conn() *amqp.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	return nil
}

// Publish sends one outbox message. The message id MUST be the event id:
// consumers key their idempotency ledger on it, so it has to be stable
// across publish retries.
func (p *Publisher) Publish(ctx context.Context, m outbox.Message) error {
	if strings.TrimSpace(m.RoutingKey) == "" {
		return errors.New("missing routing key")
	}
	if strings.TrimSpace(m.EventID) == "" {
		return errors.New("missing event id")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		if err := p.connect(); err != nil {
			return fmt.Errorf("publisher reconnect: %w", err)
		}
	}

	p.drainStale()

	pub := amqp.Publishing{
		MessageId:     m.EventID,
		ContentType:   "application/json",
		CorrelationId: m.CorrelationID,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		AppId:         p.service,
		Body:          m.Payload,
		Headers: amqp.Table{
			"eventType":     string(m.EventType),
			"aggregateType": m.AggregateType,
			"aggregateId":   m.AggregateID,
			"correlationId": m.CorrelationID,
			"publishedAt":   time.Now().UTC().Format(time.RFC3339Nano),
		},
	}

	// mandatory=true so NO_ROUTE is observable via the Return channel
	if err := p.ch.PublishWithContext(ctx, event.Exchange, m.RoutingKey, true, false, pub); err != nil {
		p.dropChannel()
		return err
	}

	return p.waitAckOrReturn(ctx, m.RoutingKey)
}

func (p *Publisher) waitAckOrReturn(ctx context.Context, rk string) error {
	timer := time.NewTimer(publishWait)
	defer timer.Stop()

	for {
		select {
		case ret := <-p.returnCh:
			return fmt.Errorf("publish returned: reply=%d text=%q rk=%q",
				ret.ReplyCode, ret.ReplyText, ret.RoutingKey)

		case conf := <-p.confirmCh:
			if !conf.Ack {
				return fmt.Errorf("publish nacked by broker (rk=%q)", rk)
			}
			// basic.return precedes basic.ack for a returned publish, so a
			// queued return means this confirmed message was actually dropped.
			select {
			case ret := <-p.returnCh:
				return fmt.Errorf("publish returned: reply=%d text=%q rk=%q",
					ret.ReplyCode, ret.ReplyText, ret.RoutingKey)
			default:
			}
			return nil

		case <-timer.C:
			return errors.New("publish wait timeout (no confirm/return)")

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// drainStale discards confirmations left over from a previous failed wait
// so they cannot be matched against the wrong publish.
func (p *Publisher) drainStale() {
	for {
		select {
		case <-p.returnCh:
		case <-p.confirmCh:
		default:
			return
		}
	}
}

// dropChannel forces a reconnect on the next publish after a transport error.
func (p *Publisher) dropChannel() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
