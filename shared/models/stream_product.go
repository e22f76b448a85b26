package models

import "time"

// StreamProduct is the catalog slot for a product featured in a live
// stream. The auction engine reads it at start and writes IsSold/SoldPrice
// exactly once, at termination.
type StreamProduct struct {
	ID           string     `json:"id"`
	StreamID     string     `json:"stream_id"`
	ProductID    string     `json:"product_id"`
	StartingBid  *Money     `json:"starting_bid,omitempty"`
	BidIncrement *Money     `json:"bid_increment,omitempty"`
	CurrentBid   *Money     `json:"current_bid,omitempty"`
	IsActive     bool       `json:"is_active"`
	IsSold       bool       `json:"is_sold"`
	SoldPrice    *Money     `json:"sold_price,omitempty"`
	SoldAt       *time.Time `json:"sold_at,omitempty"`
}
