package auction

import (
	"context"
	"time"

	"github.com/aaronwang/live-auction/shared/models"
)

// Ledger is the durable bid store. RecordBid and Settle are the only
// synchronous dependencies of a command; each must be all-or-nothing.
type Ledger interface {
	// RecordBid inserts bid as ACTIVE, flips every other ACTIVE bid of the
	// same auction to OUTBID and moves the slot's current bid.
	RecordBid(ctx context.Context, bid *models.Bid, slotID string) error
	// Settle finalizes an auction: it marks the winning bid WON (or inserts
	// NewBid for buy-it-now), flips the standing bid to OUTBID when there is
	// no sale and writes the slot's sold/active flags.
	Settle(ctx context.Context, s *Settlement) error
	// BidsForAuction lists the bids of one auction, newest first.
	BidsForAuction(ctx context.Context, auctionID string) ([]models.Bid, error)
}

// Settlement is everything the ledger must write when an auction ends.
type Settlement struct {
	AuctionID     string
	SlotID        string
	NewBid        *models.Bid // buy-it-now purchase, inserted as WON
	WinningBidID  string      // standing bid promoted to WON
	StandingBidID string      // standing bid left OUTBID when unsold
	Sold          bool
	Price         models.Money
	SettledAt     time.Time
}

// Catalog is the narrow view the engine needs of streams and their
// featured product slots.
type Catalog interface {
	// StreamProduct returns the slot for productID in streamID, or nil when
	// the product is not featured in the stream.
	StreamProduct(ctx context.Context, streamID, productID string) (*models.StreamProduct, error)
	// StreamHost returns the host user of streamID, or "" for an unknown stream.
	StreamHost(ctx context.Context, streamID string) (string, error)
	// ActivateSlot marks the slot as the one currently under the hammer.
	ActivateSlot(ctx context.Context, slotID string, startingBid, increment models.Money) error
}

// StateStore mirrors live state into the ephemeral store for observability.
// It is never read back by the engine.
type StateStore interface {
	SaveState(ctx context.Context, snap *models.AuctionSnapshot, ttl time.Duration) error
	SetAutoBid(ctx context.Context, streamID, userID string, max models.Money, ttl time.Duration) error
	RemoveAutoBid(ctx context.Context, streamID, userID string) error
	Clear(ctx context.Context, streamID string) error
}

// EventSink receives every auction event. Publish must not block.
type EventSink interface {
	Publish(event *models.AuctionEvent)
}

// Notifier delivers user notifications. Notify must not block.
type Notifier interface {
	Notify(n *models.Notification)
}

// Clock abstracts time so timers can be driven by tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the subset of *time.Timer the engine uses.
type Timer interface {
	Stop() bool
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
