// Package notify publishes lifecycle events to the parties' notification
// exchange and operator alerts to the ops routing key. The wire format
// consumed downstream is owned by the notification service; here only the
// fact and shape of the event is contracted.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type EventKind string

const (
	EventBidPlaced          EventKind = "bid.placed"
	EventBidSelected        EventKind = "bid.selected"
	EventBidRejected        EventKind = "bid.rejected"
	EventHandshakeAccepted  EventKind = "handshake.accepted"
	EventHandshakeDeclined  EventKind = "handshake.declined"
	EventCodesGenerated     EventKind = "codes.generated"
	EventCodesRegenerated   EventKind = "codes.regenerated"
	EventWorkStarted        EventKind = "work.started"
	EventWorkCompleted      EventKind = "work.completed"
	EventEscrowLocked       EventKind = "escrow.locked"
	EventPaymentReleased    EventKind = "payment.released"
	EventJobCancelled       EventKind = "job.cancelled"
	EventJobExpired         EventKind = "job.expired"
	EventWorkerBlocked      EventKind = "worker.blocked"
	EventWorkerUnblocked    EventKind = "worker.unblocked"
	EventOperatorAlert      EventKind = "ops.alert"
	EventReconcileRequested EventKind = "ops.reconcile_requested"
)

// Event is addressed to one party; fan-out to multiple parties is multiple
// events.
type Event struct {
	Kind        EventKind      `json:"kind"`
	RecipientID string         `json:"recipient_id"`
	JobID       string         `json:"job_id,omitempty"`
	Detail      map[string]any `json:"detail,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
	// Alert raises an operator alert; recipient is the ops channel.
	Alert(ctx context.Context, subject string, detail map[string]any) error
}

// AmqpNotifier publishes events to a topic exchange, routing key = event
// kind.
type AmqpNotifier struct {
	channel  *amqp.Channel
	exchange string
	logger   *slog.Logger
}

func NewAmqpNotifier(conn *amqp.Connection, exchange string, logger *slog.Logger) (*AmqpNotifier, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	return &AmqpNotifier{channel: ch, exchange: exchange, logger: logger}, nil
}

func (n *AmqpNotifier) Notify(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = n.channel.PublishWithContext(ctx, n.exchange, string(event.Kind), false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   event.OccurredAt,
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Kind, err)
	}
	n.logger.Debug("event published",
		slog.String("kind", string(event.Kind)),
		slog.String("recipient", event.RecipientID),
		slog.String("job_id", event.JobID),
	)
	return nil
}

func (n *AmqpNotifier) Alert(ctx context.Context, subject string, detail map[string]any) error {
	return n.Notify(ctx, Event{
		Kind:        EventOperatorAlert,
		RecipientID: "ops",
		Detail:      mergeDetail(detail, "subject", subject),
	})
}

func (n *AmqpNotifier) Close() error {
	return n.channel.Close()
}

func mergeDetail(detail map[string]any, key string, value any) map[string]any {
	if detail == nil {
		detail = make(map[string]any, 1)
	}
	detail[key] = value
	return detail
}

// NopNotifier drops everything; used in tests and when AMQP is not
// configured.
type NopNotifier struct{}

func (NopNotifier) Notify(ctx context.Context, event Event) error { return nil }

func (NopNotifier) Alert(ctx context.Context, subject string, detail map[string]any) error {
	return nil
}
