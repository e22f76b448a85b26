package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/aaronwang/live-auction/shared/models"
)

const (
	// StreamName is the JetStream stream the gateway archives events to.
	StreamName = "AUCTION_EVENTS"
	// DurableName identifies this worker's consumer across restarts.
	DurableName = "archival-worker"
	// FilterSubject matches every stream's events.
	FilterSubject = "auction.events.*"
)

// Store persists archived events.
type Store interface {
	Archive(ctx context.Context, event *models.AuctionEvent, payload []byte) error
}

// Message is the subset of jetstream.Msg the handler needs.
type Message interface {
	Data() []byte
	Subject() string
	Ack() error
	Nak() error
	Term() error
}

// Consumer pulls auction events from JetStream and archives them.
type Consumer struct {
	js        jetstream.JetStream
	store     Store
	dbTimeout time.Duration
	log       *slog.Logger
}

// NewConsumer creates a consumer bound to js.
func NewConsumer(js jetstream.JetStream, store Store, log *slog.Logger) *Consumer {
	return &Consumer{
		js:        js,
		store:     store,
		dbTimeout: 10 * time.Second,
		log:       log.With(slog.String("component", "consumer")),
	}
}

// Start consumes until ctx is cancelled. Messages are acknowledged only
// after the database write commits, so a crash causes redelivery and the
// idempotent insert absorbs it.
func (c *Consumer) Start(ctx context.Context) error {
	cons, err := c.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       DurableName,
		FilterSubject: FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    10,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		c.Handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	c.log.Info("consuming auction events",
		slog.String("stream", StreamName),
		slog.String("durable", DurableName))

	<-ctx.Done()
	return nil
}

// Handle archives one message and settles it with the server.
func (c *Consumer) Handle(ctx context.Context, msg Message) {
	var event models.AuctionEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil || event.EventID == "" {
		c.log.Error("dropping malformed event",
			slog.String("subject", msg.Subject()),
			slog.Any("error", err))
		if err := msg.Term(); err != nil {
			c.log.Warn("failed to terminate message", slog.Any("error", err))
		}
		return
	}

	dbCtx, cancel := context.WithTimeout(ctx, c.dbTimeout)
	defer cancel()

	if err := c.store.Archive(dbCtx, &event, msg.Data()); err != nil {
		c.log.Error("failed to archive event",
			slog.String("event_id", event.EventID),
			slog.Any("error", err))
		if err := msg.Nak(); err != nil {
			c.log.Warn("failed to nak message", slog.Any("error", err))
		}
		return
	}

	c.log.Debug("archived event",
		slog.String("event_id", event.EventID),
		slog.String("type", string(event.Type)),
		slog.String("stream_id", event.StreamID))

	if err := msg.Ack(); err != nil {
		c.log.Warn("failed to ack message", slog.String("event_id", event.EventID), slog.Any("error", err))
	}
}
