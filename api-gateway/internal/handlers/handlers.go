package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/aaronwang/live-auction/api-gateway/internal/auction"
	"github.com/aaronwang/live-auction/api-gateway/internal/middleware"
	"github.com/aaronwang/live-auction/shared/models"
)

// AuctionService is the command surface the handlers drive.
type AuctionService interface {
	StartAuction(ctx context.Context, hostID, streamID string, req *models.StartAuctionRequest) (*models.AuctionSnapshot, error)
	PlaceBid(ctx context.Context, streamID, userID string, req *models.BidRequest) (*models.BidResponse, error)
	SetAutoBid(ctx context.Context, streamID, userID string, req *models.AutoBidRequest) (*models.BidResponse, error)
	CancelAutoBid(ctx context.Context, streamID, userID string) error
	BuyItNow(ctx context.Context, streamID, userID string) (*models.BuyNowResponse, error)
	EndAuction(ctx context.Context, callerID, streamID string, req *models.EndAuctionRequest) (*models.AuctionOutcome, error)
	GetState(ctx context.Context, streamID string) (*models.AuctionSnapshot, error)
	BidHistory(ctx context.Context, streamID, productID string) ([]models.Bid, error)
	LiveAuctions() int
}

// Handler contains HTTP request handlers
type Handler struct {
	auctions  AuctionService
	jwtSecret string
	log       *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(auctions AuctionService, jwtSecret string, log *slog.Logger) *Handler {
	return &Handler{
		auctions:  auctions,
		jwtSecret: jwtSecret,
		log:       log,
	}
}

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	// Health check
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	authed := middleware.JWTAuth(h.jwtSecret)
	protect := func(f http.HandlerFunc) http.Handler { return authed(f) }

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/streams/{streamId}/auction", h.GetState).Methods("GET")
	api.HandleFunc("/streams/{streamId}/products/{productId}/bids", h.BidHistory).Methods("GET")
	api.Handle("/streams/{streamId}/auction", protect(h.StartAuction)).Methods("POST")
	api.Handle("/streams/{streamId}/auction/bids", protect(h.PlaceBid)).Methods("POST")
	api.Handle("/streams/{streamId}/auction/auto-bid", protect(h.SetAutoBid)).Methods("PUT")
	api.Handle("/streams/{streamId}/auction/auto-bid", protect(h.CancelAutoBid)).Methods("DELETE")
	api.Handle("/streams/{streamId}/auction/buy-now", protect(h.BuyItNow)).Methods("POST")
	api.Handle("/streams/{streamId}/auction/end", protect(h.EndAuction)).Methods("POST")

	// Middleware
	router.Use(h.loggingMiddleware)
	router.Use(corsMiddleware)

	return router
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "healthy",
		"service":       "api-gateway",
		"live_auctions": h.auctions.LiveAuctions(),
		"time":          time.Now().UTC().Format(time.RFC3339),
	})
}

// StartAuction handles the host's auction start
func (h *Handler) StartAuction(w http.ResponseWriter, r *http.Request) {
	var req models.StartAuctionRequest
	if !decode(w, r, &req) {
		return
	}

	snap, err := h.auctions.StartAuction(r.Context(), middleware.UserID(r.Context()), mux.Vars(r)["streamId"], &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, snap)
}

// GetState returns the stream's live auction, or an inactive marker
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.auctions.GetState(r.Context(), mux.Vars(r)["streamId"])
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// PlaceBid handles bid placement requests
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req models.BidRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := h.auctions.PlaceBid(r.Context(), mux.Vars(r)["streamId"], middleware.UserID(r.Context()), &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

// SetAutoBid registers or replaces the caller's proxy ceiling
func (h *Handler) SetAutoBid(w http.ResponseWriter, r *http.Request) {
	var req models.AutoBidRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := h.auctions.SetAutoBid(r.Context(), mux.Vars(r)["streamId"], middleware.UserID(r.Context()), &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// CancelAutoBid removes the caller's proxy ceiling
func (h *Handler) CancelAutoBid(w http.ResponseWriter, r *http.Request) {
	err := h.auctions.CancelAutoBid(r.Context(), mux.Vars(r)["streamId"], middleware.UserID(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// BuyItNow handles instant purchase
func (h *Handler) BuyItNow(w http.ResponseWriter, r *http.Request) {
	resp, err := h.auctions.BuyItNow(r.Context(), mux.Vars(r)["streamId"], middleware.UserID(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// EndAuction handles the host closing the auction early
func (h *Handler) EndAuction(w http.ResponseWriter, r *http.Request) {
	var req models.EndAuctionRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}

	out, err := h.auctions.EndAuction(r.Context(), middleware.UserID(r.Context()), mux.Vars(r)["streamId"], &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// BidHistory lists the bids on a product in a stream
func (h *Handler) BidHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	bids, err := h.auctions.BidHistory(r.Context(), vars["streamId"], vars["productId"])
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if bids == nil {
		bids = []models.Bid{}
	}
	respondJSON(w, http.StatusOK, bids)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return false
	}
	return true
}

// errorStatus maps engine errors to an HTTP status and a stable code.
var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{auction.ErrBidTooLow, http.StatusConflict, "BID_TOO_LOW"},
	{auction.ErrAlreadyHighestBidder, http.StatusConflict, "ALREADY_HIGHEST_BIDDER"},
	{auction.ErrMaxTooLow, http.StatusConflict, "MAX_TOO_LOW"},
	{auction.ErrNotAvailable, http.StatusConflict, "NOT_AVAILABLE"},
	{auction.ErrTooCloseToWin, http.StatusConflict, "TOO_CLOSE_TO_WIN"},
	{auction.ErrAuctionNotActive, http.StatusConflict, "AUCTION_NOT_ACTIVE"},
	{auction.ErrInvalidOptions, http.StatusBadRequest, "INVALID_OPTIONS"},
	{auction.ErrInvalidReason, http.StatusBadRequest, "INVALID_REASON"},
	{auction.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{auction.ErrProductNotInStream, http.StatusNotFound, "PRODUCT_NOT_IN_STREAM"},
	{auction.ErrNotHost, http.StatusForbidden, "NOT_HOST"},
	{auction.ErrUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE"},
	{context.DeadlineExceeded, http.StatusServiceUnavailable, "UNAVAILABLE"},
}

func respondServiceError(w http.ResponseWriter, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			respondError(w, e.status, e.code, err.Error())
			return
		}
	}
	respondError(w, http.StatusInternalServerError, "INTERNAL", "Internal error")
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, code, message string) {
	respondJSON(w, statusCode, map[string]string{
		"error": message,
		"code":  code,
	})
}

// loggingMiddleware logs all HTTP requests
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.log.Debug("http request",
			slog.String("method", r.Method),
			slog.String("uri", r.RequestURI),
			slog.Duration("duration", time.Since(start)))
	})
}

// corsMiddleware adds CORS headers (for development)
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
