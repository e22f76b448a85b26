// Package events fans auction events out to viewers (Redis Pub/Sub) and to
// the archive (NATS JetStream).
package events

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
	// StreamName is the JetStream stream holding archived auction events.
	StreamName = "AUCTION_EVENTS"
	// SubjectPrefix is followed by the live stream ID.
	SubjectPrefix = "auction.events."
)

// Subject returns the JetStream subject for a live stream's events.
func Subject(streamID string) string { return SubjectPrefix + streamID }

// Broadcaster publishes to the real-time channel. Implemented by the
// gateway's Redis client.
type Broadcaster interface {
	PublishEvent(ctx context.Context, event *models.AuctionEvent) error
}

// Archiver is the subset of jetstream.JetStream used here.
type Archiver interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// EnsureStream creates or updates the archive stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Auction lifecycle events for archival",
		Subjects:    []string{SubjectPrefix + "*"},
		Storage:     jetstream.FileStorage,     // Persistent storage
		Retention:   jetstream.WorkQueuePolicy, // Each message consumed once
		MaxAge:      24 * time.Hour,
		Duplicates:  2 * time.Minute, // dedupe window for Nats-Msg-Id
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create/update stream: %w", err)
	}
	return nil
}

// Publisher is the engine's event sink. Publish only enqueues; a single
// worker delivers events in order, so a slow broker never blocks an
// auction. Events are dropped when the queue is full.
type Publisher struct {
	broadcast Broadcaster
	archive   Archiver
	queue     chan *models.AuctionEvent
	timeout   time.Duration
	log       *slog.Logger
}

// NewPublisher creates a publisher. archive may be nil to disable archival.
func NewPublisher(broadcast Broadcaster, archive Archiver, queueSize int, log *slog.Logger) *Publisher {
	return &Publisher{
		broadcast: broadcast,
		archive:   archive,
		queue:     make(chan *models.AuctionEvent, queueSize),
		timeout:   5 * time.Second,
		log:       log.With(slog.String("component", "events")),
	}
}

// Publish enqueues e without blocking.
func (p *Publisher) Publish(e *models.AuctionEvent) {
	select {
	case p.queue <- e:
	default:
		p.log.Warn("event queue full, dropping event",
			slog.String("type", string(e.Type)),
			slog.String("stream_id", e.StreamID))
	}
}

// Run delivers queued events until ctx is cancelled, then flushes what is
// left in the queue.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case e := <-p.queue:
			p.deliver(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-p.queue:
					p.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) deliver(e *models.AuctionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.broadcast.PublishEvent(ctx, e); err != nil {
		p.log.Warn("failed to broadcast event", slog.String("type", string(e.Type)), slog.Any("error", err))
	}

	// countdowns are only interesting live
	if p.archive == nil || e.Type == models.EventCountdown {
		return
	}

	data, err := json.Marshal(e)
	if err != nil {
		p.log.Error("failed to marshal event", slog.Any("error", err))
		return
	}
	ack, err := p.archive.Publish(ctx, Subject(e.StreamID), data, jetstream.WithMsgID(e.EventID))
	if err != nil {
		p.log.Warn("failed to archive event", slog.String("type", string(e.Type)), slog.Any("error", err))
		return
	}
	p.log.Debug("archived event", slog.String("subject", Subject(e.StreamID)), slog.Uint64("seq", ack.Sequence))
}
