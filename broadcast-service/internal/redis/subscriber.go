package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/aaronwang/live-auction/shared/models"
)

// Subscriber wraps Redis Pub/Sub functionality
type Subscriber struct {
	client *redis.Client
	pubsub *redis.PubSub
	log    *slog.Logger
}

// NewSubscriber creates a new Redis Pub/Sub subscriber
func NewSubscriber(addr, password string, db int, log *slog.Logger) (*Subscriber, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewFromRedis(rdb, log), nil
}

// NewFromRedis wraps an existing client.
func NewFromRedis(rdb *redis.Client, log *slog.Logger) *Subscriber {
	return &Subscriber{
		client: rdb,
		log:    log.With(slog.String("component", "subscriber")),
	}
}

// SubscribeToPattern subscribes to every channel matching pattern and
// waits for the server to confirm.
func (s *Subscriber) SubscribeToPattern(ctx context.Context, pattern string) error {
	pubsub := s.client.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}
	s.pubsub = pubsub
	return nil
}

// Listen forwards messages to out until ctx is cancelled or the
// subscription is closed. Payloads that are not JSON objects are skipped.
func (s *Subscriber) Listen(ctx context.Context, out chan<- *Message) error {
	if s.pubsub == nil {
		return fmt.Errorf("not subscribed to any channel")
	}

	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var envelope struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
				s.log.Warn("failed to parse message",
					slog.String("channel", msg.Channel),
					slog.Any("error", err))
				continue
			}

			streamID := StreamIDFromChannel(msg.Channel)
			if streamID == "" {
				continue
			}

			select {
			case out <- &Message{StreamID: streamID, Type: envelope.Type, Payload: msg.Payload}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Message is one auction event received from Pub/Sub.
type Message struct {
	StreamID string
	Type     string
	Payload  string // raw JSON
}

// StreamIDFromChannel extracts the stream ID from a channel name:
// "auction_events:stream-1" -> "stream-1".
func StreamIDFromChannel(channel string) string {
	if !strings.HasPrefix(channel, models.EventChannelPrefix) {
		return ""
	}
	return strings.TrimPrefix(channel, models.EventChannelPrefix)
}

// Close closes the subscriber
func (s *Subscriber) Close() error {
	if s.pubsub != nil {
		s.pubsub.Close()
	}
	return s.client.Close()
}
