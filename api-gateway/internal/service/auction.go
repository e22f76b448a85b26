package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aaronwang/live-auction/api-gateway/internal/auction"
	"github.com/aaronwang/live-auction/shared/models"
)

// AuctionService translates API requests into auction engine commands.
type AuctionService struct {
	manager *auction.Manager
	log     *slog.Logger
}

// NewAuctionService creates a new auction service
func NewAuctionService(manager *auction.Manager, log *slog.Logger) *AuctionService {
	return &AuctionService{
		manager: manager,
		log:     log.With(slog.String("component", "service")),
	}
}

// StartAuction opens an auction for the requested product. Only the
// stream's host may do this.
func (s *AuctionService) StartAuction(ctx context.Context, hostID, streamID string, req *models.StartAuctionRequest) (*models.AuctionSnapshot, error) {
	if req.ProductID == "" {
		return nil, fmt.Errorf("%w: product_id is required", auction.ErrInvalidOptions)
	}
	if req.DurationSeconds < 0 {
		return nil, fmt.Errorf("%w: duration_seconds must be positive", auction.ErrInvalidOptions)
	}

	opts := auction.StartOptions{
		Duration:      time.Duration(req.DurationSeconds) * time.Second,
		StartingBid:   req.StartingBid,
		BidIncrement:  req.BidIncrement,
		ReservePrice:  req.ReservePrice,
		BuyItNowPrice: req.BuyItNowPrice,
		ExtendOnBid:   req.ExtendOnBid,
	}
	snap, err := s.manager.StartAuction(ctx, hostID, streamID, req.ProductID, opts)
	return snap, s.observe(err, "start auction", streamID)
}

// PlaceBid submits a manual bid for the caller.
func (s *AuctionService) PlaceBid(ctx context.Context, streamID, userID string, req *models.BidRequest) (*models.BidResponse, error) {
	if req.Amount <= 0 {
		return nil, auction.ErrBidTooLow
	}
	resp, err := s.manager.PlaceBid(ctx, streamID, userID, req.Amount)
	return resp, s.observe(err, "place bid", streamID)
}

// SetAutoBid registers the caller's proxy ceiling.
func (s *AuctionService) SetAutoBid(ctx context.Context, streamID, userID string, req *models.AutoBidRequest) (*models.BidResponse, error) {
	if req.MaxAmount <= 0 {
		return nil, auction.ErrMaxTooLow
	}
	resp, err := s.manager.SetAutoBid(ctx, streamID, userID, req.MaxAmount)
	return resp, s.observe(err, "set auto-bid", streamID)
}

// CancelAutoBid removes the caller's proxy ceiling.
func (s *AuctionService) CancelAutoBid(ctx context.Context, streamID, userID string) error {
	return s.observe(s.manager.CancelAutoBid(ctx, streamID, userID), "cancel auto-bid", streamID)
}

// BuyItNow buys the product at its instant price.
func (s *AuctionService) BuyItNow(ctx context.Context, streamID, userID string) (*models.BuyNowResponse, error) {
	resp, err := s.manager.BuyItNow(ctx, streamID, userID)
	return resp, s.observe(err, "buy it now", streamID)
}

// EndAuction closes the auction early. An empty reason means sold.
func (s *AuctionService) EndAuction(ctx context.Context, callerID, streamID string, req *models.EndAuctionRequest) (*models.AuctionOutcome, error) {
	reason := req.Reason
	if reason == "" {
		reason = models.EndReasonSold
	}
	out, err := s.manager.EndAuction(ctx, callerID, streamID, reason)
	return out, s.observe(err, "end auction", streamID)
}

// GetState returns the live snapshot or the inactive marker.
func (s *AuctionService) GetState(ctx context.Context, streamID string) (*models.AuctionSnapshot, error) {
	snap, err := s.manager.GetState(ctx, streamID)
	return snap, s.observe(err, "get state", streamID)
}

// BidHistory lists a product's bids in a stream, newest first.
func (s *AuctionService) BidHistory(ctx context.Context, streamID, productID string) ([]models.Bid, error) {
	bids, err := s.manager.BidHistory(ctx, streamID, productID)
	return bids, s.observe(err, "bid history", streamID)
}

// LiveAuctions reports how many auctions are running.
func (s *AuctionService) LiveAuctions() int {
	return s.manager.LiveCount()
}

// observe logs infrastructure failures. Validation and state errors are
// normal outcomes and are passed through silently.
func (s *AuctionService) observe(err error, op, streamID string) error {
	if err != nil && !auction.IsValidation(err) {
		s.log.Error("command failed", slog.String("op", op), slog.String("stream_id", streamID), slog.Any("error", err))
	}
	return err
}
