// Package notify hands user notifications to RabbitMQ. Delivery to
// devices happens in a downstream consumer of the queue.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/aaronwang/live-auction/shared/models"
)

// QueueName is the durable queue notifications are published to.
const QueueName = "auction.notifications"

// Channel is the subset of *amqp.Channel used for publishing.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// DeclareQueue ensures the notification queue exists (idempotent). Durable
// so messages survive broker restarts.
func DeclareQueue(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(
		QueueName, // name
		true,      // durable
		false,     // autoDelete
		false,     // exclusive
		false,     // noWait
		nil,       // args
	); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	return nil
}

// RabbitNotifier queues notifications and publishes them from one worker.
// Notify never blocks; failures are logged and dropped.
type RabbitNotifier struct {
	ch    Channel
	queue chan *models.Notification
	log   *slog.Logger
}

// NewRabbitNotifier creates a notifier publishing on ch.
func NewRabbitNotifier(ch Channel, queueSize int, log *slog.Logger) *RabbitNotifier {
	return &RabbitNotifier{
		ch:    ch,
		queue: make(chan *models.Notification, queueSize),
		log:   log.With(slog.String("component", "notify")),
	}
}

// Notify enqueues n without blocking.
func (r *RabbitNotifier) Notify(n *models.Notification) {
	select {
	case r.queue <- n:
	default:
		r.log.Warn("notification queue full, dropping", slog.String("type", string(n.Type)), slog.String("user_id", n.UserID))
	}
}

// Run publishes queued notifications until ctx is cancelled, then flushes
// the remainder.
func (r *RabbitNotifier) Run(ctx context.Context) {
	for {
		select {
		case n := <-r.queue:
			r.publish(n)
		case <-ctx.Done():
			for {
				select {
				case n := <-r.queue:
					r.publish(n)
				default:
					return
				}
			}
		}
	}
}

func (r *RabbitNotifier) publish(n *models.Notification) {
	body, err := json.Marshal(n)
	if err != nil {
		r.log.Error("failed to marshal notification", slog.Any("error", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		MessageId:    n.ID,
		Type:         string(n.Type),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := r.ch.PublishWithContext(ctx,
		"",        // default exchange
		QueueName, // routing key = queue name
		false,     // mandatory
		false,     // immediate
		pub,
	); err != nil {
		r.log.Warn("failed to publish notification", slog.String("type", string(n.Type)), slog.Any("error", err))
	}
}
