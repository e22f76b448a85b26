package models

import "time"

// EventType names an outbound auction event.
type EventType string

const (
	EventAuctionStarted EventType = "auction_started"
	EventBidPlaced      EventType = "bid_placed"
	EventCountdown      EventType = "countdown"
	EventAuctionEnded   EventType = "auction_ended"
)

// EventChannelPrefix is followed by the stream ID on every Redis Pub/Sub
// event channel.
const EventChannelPrefix = "auction_events:"

// EventPattern matches every stream's event channel.
const EventPattern = EventChannelPrefix + "*"

// EventChannel is the Pub/Sub channel for a stream's auction events.
func EventChannel(streamID string) string { return EventChannelPrefix + streamID }

// AuctionEvent is published by the auction engine for every state change.
// It is sent to:
// 1. Redis Pub/Sub (for real-time WebSocket broadcast to viewers)
// 2. NATS JetStream (for archival to PostgreSQL), countdowns excluded
//
// Exactly one of the payload fields is set, matching Type.
type AuctionEvent struct {
	EventID   string           `json:"event_id"`
	Type      EventType        `json:"type"`
	StreamID  string           `json:"stream_id"`
	ProductID string           `json:"product_id"`
	Timestamp time.Time        `json:"timestamp"`
	Started   *AuctionSnapshot `json:"started,omitempty"`
	Bid       *BidPlaced       `json:"bid,omitempty"`
	Countdown *Countdown       `json:"countdown,omitempty"`
	Ended     *AuctionOutcome  `json:"ended,omitempty"`
}

// BidPlaced carries the state after a bid and all proxy rounds it triggered.
type BidPlaced struct {
	CurrentBid    Money  `json:"current_bid"`
	TimeRemaining int    `json:"time_remaining"`
	Bidder        string `json:"bidder"`
	BidCount      int    `json:"bid_count"`
	IsAutoBid     bool   `json:"is_auto_bid"`
}

// Countdown is broadcast once per interval while an auction is active.
type Countdown struct {
	TimeRemaining int     `json:"time_remaining"`
	CurrentBid    Money   `json:"current_bid"`
	BidCount      int     `json:"bid_count"`
	HighestBidder *string `json:"highest_bidder,omitempty"`
	IsActive      bool    `json:"is_active"`
}
