package auction

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aaronwang/live-auction/shared/config"
	"github.com/aaronwang/live-auction/shared/models"
)

// Policy holds the tunable constants of every auction.
type Policy struct {
	DefaultDuration    time.Duration
	MinDuration        time.Duration
	Extension          time.Duration
	ExtensionThreshold time.Duration
	// BuyNowGateRatio withdraws buy-it-now once currentBid reaches this
	// fraction of the buy-it-now price.
	BuyNowGateRatio   decimal.Decimal
	CountdownInterval time.Duration
	StoreTTLBuffer    time.Duration
	CommandTimeout    time.Duration
	SettleRetry       time.Duration
	MailboxSize       int
	// DefaultStartingBid and DefaultIncrement apply when neither the
	// request nor the catalog slot carry a value.
	DefaultStartingBid models.Money
	DefaultIncrement   models.Money
}

// NewPolicy converts the loaded config into engine units.
func NewPolicy(p config.AuctionPolicy) Policy {
	return Policy{
		DefaultDuration:    time.Duration(p.DefaultDurationSeconds) * time.Second,
		MinDuration:        time.Duration(p.MinDurationSeconds) * time.Second,
		Extension:          time.Duration(p.ExtensionSeconds) * time.Second,
		ExtensionThreshold: time.Duration(p.ExtensionThresholdSeconds) * time.Second,
		BuyNowGateRatio:    decimal.NewFromFloat(p.BuyNowGateRatio),
		CountdownInterval:  time.Duration(p.CountdownIntervalMillis) * time.Millisecond,
		StoreTTLBuffer:     time.Duration(p.StoreTTLBufferSeconds) * time.Second,
		CommandTimeout:     time.Duration(p.CommandTimeoutMillis) * time.Millisecond,
		SettleRetry:        time.Duration(p.SettleRetryMillis) * time.Millisecond,
		MailboxSize:        p.MailboxSize,
		DefaultStartingBid: models.Cents(100),
		DefaultIncrement:   models.Cents(100),
	}
}

// DefaultPolicy is NewPolicy over the built-in defaults.
func DefaultPolicy() Policy {
	return NewPolicy(config.DefaultAuctionPolicy())
}

// buyNowGateReached reports whether current has closed enough of the gap
// to bin that instant purchase is withdrawn.
func (p Policy) buyNowGateReached(current, bin models.Money) bool {
	return current.Decimal().GreaterThanOrEqual(bin.Decimal().Mul(p.BuyNowGateRatio))
}
