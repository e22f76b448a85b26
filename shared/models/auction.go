package models

import "time"

// EndReason says why an auction stopped accepting bids.
type EndReason string

const (
	EndReasonTimeout   EndReason = "timeout"
	EndReasonSold      EndReason = "sold"
	EndReasonCancelled EndReason = "cancelled"
	EndReasonBuyNow    EndReason = "buy_now"
)

// Valid reports whether r is a known reason.
func (r EndReason) Valid() bool {
	switch r {
	case EndReasonTimeout, EndReasonSold, EndReasonCancelled, EndReasonBuyNow:
		return true
	}
	return false
}

// AuctionSnapshot is the externally visible state of one stream auction.
// A snapshot with IsActive=false and no ProductID is the "no auction" marker.
type AuctionSnapshot struct {
	StreamID                  string    `json:"stream_id"`
	ProductID                 string    `json:"product_id,omitempty"`
	StreamProductID           string    `json:"stream_product_id,omitempty"`
	StartTime                 time.Time `json:"start_time,omitempty"`
	EndTime                   time.Time `json:"end_time,omitempty"`
	DurationSeconds           int       `json:"duration_seconds"`
	CurrentBid                Money     `json:"current_bid"`
	HighestBidderID           *string   `json:"highest_bidder_id,omitempty"`
	BidCount                  int       `json:"bid_count"`
	IsActive                  bool      `json:"is_active"`
	ExtendOnBid               bool      `json:"extend_on_bid"`
	ExtensionSeconds          int       `json:"extension_seconds"`
	ExtensionThresholdSeconds int       `json:"extension_threshold_seconds"`
	ReservePrice              Money     `json:"reserve_price"`
	BidIncrement              Money     `json:"bid_increment"`
	BuyItNowPrice             *Money    `json:"buy_it_now_price,omitempty"`
	TimeRemaining             int       `json:"time_remaining"`
}

// AuctionOutcome is the result of a terminated auction.
type AuctionOutcome struct {
	Winner     *string   `json:"winner"`
	FinalPrice Money     `json:"final_price"`
	ReserveMet bool      `json:"reserve_met"`
	Reason     EndReason `json:"reason"`
}

// StartAuctionRequest is the host's request body for starting an auction.
// Omitted fields fall back to the catalog slot and then to policy defaults.
type StartAuctionRequest struct {
	ProductID       string `json:"product_id"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	StartingBid     *Money `json:"starting_bid,omitempty"`
	BidIncrement    *Money `json:"bid_increment,omitempty"`
	ReservePrice    *Money `json:"reserve_price,omitempty"`
	BuyItNowPrice   *Money `json:"buy_it_now_price,omitempty"`
	ExtendOnBid     *bool  `json:"extend_on_bid,omitempty"`
}

// EndAuctionRequest is the host's request body for ending an auction.
type EndAuctionRequest struct {
	Reason EndReason `json:"reason"`
}
