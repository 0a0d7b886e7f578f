package rabbitmq

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/relialab/docpipe/internal/contracts/event"
)

// QueueSpec describes one stage's main queue, its bindings on the topic
// exchange, and the DLQ it dead-letters into.
type QueueSpec struct {
	Name       string
	Bindings   []string
	DLQName    string
	DLQRouting string
}

// Per-stage queues. Any instance may declare; all declarations are idempotent.
var (
	ValidationQueue = QueueSpec{
		Name:       "document.uploaded.q",
		Bindings:   []string{event.RKUploaded},
		DLQName:    "document.uploaded.q.dlq",
		DLQRouting: "document.uploaded.dlq",
	}

	EnrichmentQueue = QueueSpec{
		Name:       "document.validated.q",
		Bindings:   []string{event.RKValidated},
		DLQName:    "document.validated.q.dlq",
		DLQRouting: "document.validated.dlq",
	}

	// Wildcard observer: unknown future document.* events land here and
	// nowhere else, which keeps the audit trail future-proof.
	AuditQueue = QueueSpec{
		Name:       "document.audit.q",
		Bindings:   []string{event.RKWildcard},
		DLQName:    "document.audit.q.dlq",
		DLQRouting: "document.audit.dlq",
	}

	NotificationQueue = QueueSpec{
		Name:       "document.notification.q",
		Bindings:   []string{event.RKValidated, event.RKRejected, event.RKEnriched},
		DLQName:    "document.notification.q.dlq",
		DLQRouting: "document.notification.dlq",
	}
)

// TopologyOptions bound queue growth. Zero values leave queues unbounded.
type TopologyOptions struct {
	MessageTTL time.Duration
	MaxLength  int
}

// DeclareExchanges declares the main topic exchange and the dead-letter
// exchange. Safe to call from every service at startup.
func DeclareExchanges(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(event.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", event.Exchange, err)
	}
	if err := ch.ExchangeDeclare(event.DLX, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlx %s: %w", event.DLX, err)
	}
	return nil
}

// DeclareQueue declares a stage's main queue (with its DLX binding) and
// the matching DLQ, then binds the main queue to the topic exchange.
func DeclareQueue(ch *amqp.Channel, spec QueueSpec, opts TopologyOptions) error {
	// DLQ first so a nacked message always has somewhere to land.
	if _, err := ch.QueueDeclare(spec.DLQName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlq %s: %w", spec.DLQName, err)
	}
	if err := ch.QueueBind(spec.DLQName, spec.DLQRouting, event.DLX, false, nil); err != nil {
		return fmt.Errorf("bind dlq %s: %w", spec.DLQName, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    event.DLX,
		"x-dead-letter-routing-key": spec.DLQRouting,
	}
	if opts.MessageTTL > 0 {
		args["x-message-ttl"] = opts.MessageTTL.Milliseconds()
	}
	if opts.MaxLength > 0 {
		args["x-max-length"] = int32(opts.MaxLength)
	}

	if _, err := ch.QueueDeclare(spec.Name, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", spec.Name, err)
	}

	for _, rk := range spec.Bindings {
		if err := ch.QueueBind(spec.Name, rk, event.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", spec.Name, rk, err)
		}
	}
	return nil
}
