package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// AuctionPolicy holds the tunable auction constants. None of them has a
// derivation; they are operator policy.
type AuctionPolicy struct {
	DefaultDurationSeconds    int     `toml:"default_duration_seconds"`
	MinDurationSeconds        int     `toml:"min_duration_seconds"`
	ExtensionSeconds          int     `toml:"extension_seconds"`
	ExtensionThresholdSeconds int     `toml:"extension_threshold_seconds"`
	BuyNowGateRatio           float64 `toml:"buy_now_gate_ratio"`
	CountdownIntervalMillis   int     `toml:"countdown_interval_ms"`
	StoreTTLBufferSeconds     int     `toml:"store_ttl_buffer_seconds"`
	CommandTimeoutMillis      int     `toml:"command_timeout_ms"`
	SettleRetryMillis         int     `toml:"settle_retry_ms"`
	MailboxSize               int     `toml:"mailbox_size"`
}

// DefaultAuctionPolicy mirrors the constants the marketplace launched with.
func DefaultAuctionPolicy() AuctionPolicy {
	return AuctionPolicy{
		DefaultDurationSeconds:    60,
		MinDurationSeconds:        10,
		ExtensionSeconds:          15,
		ExtensionThresholdSeconds: 10,
		BuyNowGateRatio:           0.8,
		CountdownIntervalMillis:   1000,
		StoreTTLBufferSeconds:     300,
		CommandTimeoutMillis:      5000,
		SettleRetryMillis:         1000,
		MailboxSize:               256,
	}
}

// LoadAuctionPolicy starts from the defaults, applies the TOML file at path
// (skipped when path is empty) and finally the AUCTION_* env overrides.
func LoadAuctionPolicy(path string) (AuctionPolicy, error) {
	p := DefaultAuctionPolicy()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return p, fmt.Errorf("failed to read policy file: %w", err)
		}
		if err := toml.Unmarshal(raw, &p); err != nil {
			return p, fmt.Errorf("failed to parse policy file: %w", err)
		}
	}

	p.DefaultDurationSeconds = GetEnvInt("AUCTION_DEFAULT_DURATION_SECONDS", p.DefaultDurationSeconds)
	p.ExtensionSeconds = GetEnvInt("AUCTION_EXTENSION_SECONDS", p.ExtensionSeconds)
	p.ExtensionThresholdSeconds = GetEnvInt("AUCTION_EXTENSION_THRESHOLD_SECONDS", p.ExtensionThresholdSeconds)
	p.MailboxSize = GetEnvInt("AUCTION_MAILBOX_SIZE", p.MailboxSize)

	return p, p.validate()
}

func (p AuctionPolicy) validate() error {
	switch {
	case p.DefaultDurationSeconds < p.MinDurationSeconds:
		return fmt.Errorf("default_duration_seconds must be >= %d", p.MinDurationSeconds)
	case p.ExtensionSeconds < 0 || p.ExtensionThresholdSeconds < 0:
		return fmt.Errorf("extension settings must not be negative")
	case p.BuyNowGateRatio <= 0 || p.BuyNowGateRatio > 1:
		return fmt.Errorf("buy_now_gate_ratio must be in (0, 1]")
	case p.CountdownIntervalMillis <= 0:
		return fmt.Errorf("countdown_interval_ms must be positive")
	case p.MailboxSize <= 0:
		return fmt.Errorf("mailbox_size must be positive")
	}
	return nil
}
