package models

import "time"

// BidStatus is the lifecycle status of a ledger bid.
type BidStatus string

// Exactly one ACTIVE or WON bid exists per auction; every other bid is OUTBID.
const (
	BidStatusActive BidStatus = "ACTIVE"
	BidStatusOutbid BidStatus = "OUTBID"
	BidStatusWon    BidStatus = "WON"
)

// Bid is a single durable bid on a stream auction.
type Bid struct {
	ID         string    `json:"id"`
	AuctionID  string    `json:"auction_id"`
	StreamID   string    `json:"stream_id"`
	ProductID  string    `json:"product_id"`
	UserID     string    `json:"user_id"`
	Amount     Money     `json:"amount"`
	Status     BidStatus `json:"status"`
	IsAutoBid  bool      `json:"is_auto_bid"`
	MaxAutoBid *Money    `json:"max_auto_bid,omitempty"`
	PlacedAt   time.Time `json:"placed_at"`
}

// AuctionKey is the stream+product composite that identifies an auction in
// the ledger.
func AuctionKey(streamID, productID string) string {
	return streamID + ":" + productID
}

// BidRequest is the body of a manual bid.
type BidRequest struct {
	Amount Money `json:"amount"`
}

// AutoBidRequest registers a proxy ceiling.
type AutoBidRequest struct {
	MaxAmount Money `json:"max_amount"`
}

// BidResponse is returned after a bid (manual or auto) has been applied.
// CurrentBid reflects the state after proxy resolution, so it may belong to
// another bidder.
type BidResponse struct {
	Success       bool    `json:"success"`
	CurrentBid    Money   `json:"current_bid"`
	TimeRemaining int     `json:"time_remaining"`
	HighestBidder *string `json:"highest_bidder,omitempty"`
	BidCount      int     `json:"bid_count"`
}

// BuyNowResponse is returned after a successful instant purchase.
type BuyNowResponse struct {
	Success    bool  `json:"success"`
	FinalPrice Money `json:"final_price"`
}
