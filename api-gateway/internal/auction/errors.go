package auction

import "errors"

// Validation errors: expected outcomes of a user command.
var (
	ErrBidTooLow            = errors.New("bid too low")
	ErrAlreadyHighestBidder = errors.New("already the highest bidder")
	ErrMaxTooLow            = errors.New("auto-bid maximum too low")
	ErrNotAvailable         = errors.New("buy it now not available")
	ErrTooCloseToWin        = errors.New("bidding is too close to the buy it now price")
	ErrInvalidOptions       = errors.New("invalid auction options")
	ErrInvalidReason        = errors.New("invalid end reason")
)

// State errors: the caller's view of the auction is stale.
var (
	ErrNotFound           = errors.New("no live auction for stream")
	ErrAuctionNotActive   = errors.New("auction is not active")
	ErrProductNotInStream = errors.New("product is not featured in this stream")
	ErrNotHost            = errors.New("caller is not the stream host")
)

// ErrUnavailable wraps infrastructure failures (ledger, catalog) that
// aborted a command without changing auction state.
var ErrUnavailable = errors.New("auction service unavailable")

// IsValidation reports whether err is a user-facing validation or state
// error rather than an infrastructure failure.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrBidTooLow, ErrAlreadyHighestBidder, ErrMaxTooLow, ErrNotAvailable,
		ErrTooCloseToWin, ErrInvalidOptions, ErrInvalidReason, ErrNotFound,
		ErrAuctionNotActive, ErrProductNotInStream, ErrNotHost,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
