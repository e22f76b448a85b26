package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	_ "github.com/lib/pq"

	"github.com/aaronwang/live-auction/api-gateway/internal/auction"
	"github.com/aaronwang/live-auction/shared/models"
)

// ErrAlreadySold is returned by Settle when the slot was sold by an
// earlier settlement.
var ErrAlreadySold = errors.New("stream product already sold")

const hostCacheSize = 1024

// PostgresClient is the bid ledger and the catalog view used by the
// auction engine.
type PostgresClient struct {
	db        *sql.DB
	hostCache *lru.Cache // streamID -> hostID
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(connStr string) (*PostgresClient, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewFromDB(db), nil
}

// NewFromDB wraps an open handle.
func NewFromDB(db *sql.DB) *PostgresClient {
	cache, _ := lru.New(hostCacheSize)
	return &PostgresClient{db: db, hostCache: cache}
}

// InitSchema creates the tables the engine reads and writes. live_streams
// and stream_products are owned by the catalog; they are created here only
// so a fresh database is usable.
func (c *PostgresClient) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS live_streams (
		id VARCHAR(255) PRIMARY KEY,
		host_id VARCHAR(255) NOT NULL,
		title VARCHAR(255),
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS stream_products (
		id VARCHAR(255) PRIMARY KEY,
		stream_id VARCHAR(255) NOT NULL REFERENCES live_streams(id) ON DELETE CASCADE,
		product_id VARCHAR(255) NOT NULL,
		starting_bid NUMERIC(12, 2),
		bid_increment NUMERIC(12, 2),
		current_bid NUMERIC(12, 2),
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		is_sold BOOLEAN NOT NULL DEFAULT FALSE,
		sold_price NUMERIC(12, 2),
		sold_at TIMESTAMPTZ,
		featured_at TIMESTAMPTZ,
		UNIQUE (stream_id, product_id)
	);

	CREATE TABLE IF NOT EXISTS bids (
		seq BIGSERIAL,
		id VARCHAR(255) PRIMARY KEY,
		auction_id VARCHAR(511) NOT NULL,
		stream_id VARCHAR(255) NOT NULL,
		product_id VARCHAR(255) NOT NULL,
		user_id VARCHAR(255) NOT NULL,
		amount NUMERIC(12, 2) NOT NULL,
		status VARCHAR(16) NOT NULL,
		is_auto_bid BOOLEAN NOT NULL DEFAULT FALSE,
		max_auto_bid NUMERIC(12, 2),
		placed_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bids_auction_id ON bids(auction_id);
	CREATE INDEX IF NOT EXISTS idx_bids_user_id ON bids(user_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_bids_one_standing
		ON bids(auction_id) WHERE status IN ('ACTIVE', 'WON');
	`

	_, err := c.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

const (
	outbidActiveSQL = `UPDATE bids SET status = 'OUTBID' WHERE auction_id = $1 AND status = 'ACTIVE'`

	insertBidSQL = `
		INSERT INTO bids (id, auction_id, stream_id, product_id, user_id, amount, status, is_auto_bid, max_auto_bid, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	updateSlotBidSQL = `UPDATE stream_products SET current_bid = $1 WHERE id = $2`
)

// RecordBid inserts bid as the auction's standing bid, outbidding the
// previous one and moving the slot price, in one transaction.
func (c *PostgresClient) RecordBid(ctx context.Context, bid *models.Bid, slotID string) error {
	return c.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, outbidActiveSQL, bid.AuctionID); err != nil {
			return fmt.Errorf("failed to outbid previous bid: %w", err)
		}
		if err := insertBid(ctx, tx, bid); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, updateSlotBidSQL, bid.Amount, slotID); err != nil {
			return fmt.Errorf("failed to update slot current bid: %w", err)
		}
		return nil
	})
}

// Settle writes an auction's final outcome in one transaction.
func (c *PostgresClient) Settle(ctx context.Context, s *auction.Settlement) error {
	return c.inTx(ctx, func(tx *sql.Tx) error {
		if s.NewBid != nil {
			if _, err := tx.ExecContext(ctx, outbidActiveSQL, s.AuctionID); err != nil {
				return fmt.Errorf("failed to outbid previous bid: %w", err)
			}
			if err := insertBid(ctx, tx, s.NewBid); err != nil {
				return err
			}
		}

		if s.WinningBidID != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE bids SET status = 'WON' WHERE id = $1`, s.WinningBidID); err != nil {
				return fmt.Errorf("failed to mark winning bid: %w", err)
			}
		}
		if !s.Sold && s.StandingBidID != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE bids SET status = 'OUTBID' WHERE id = $1 AND status = 'ACTIVE'`, s.StandingBidID); err != nil {
				return fmt.Errorf("failed to release standing bid: %w", err)
			}
		}

		if !s.Sold {
			if _, err := tx.ExecContext(ctx, `UPDATE stream_products SET is_active = FALSE WHERE id = $1`, s.SlotID); err != nil {
				return fmt.Errorf("failed to deactivate slot: %w", err)
			}
			return nil
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE stream_products
			SET is_sold = TRUE, is_active = FALSE, sold_price = $1, sold_at = $2, current_bid = $1
			WHERE id = $3 AND is_sold = FALSE`,
			s.Price, s.SettledAt, s.SlotID)
		if err != nil {
			return fmt.Errorf("failed to mark slot sold: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return ErrAlreadySold
		}
		return nil
	})
}

// BidsForAuction returns the auction's bids, newest first.
func (c *PostgresClient) BidsForAuction(ctx context.Context, auctionID string) ([]models.Bid, error) {
	query := `
		SELECT id, auction_id, stream_id, product_id, user_id, amount, status, is_auto_bid, max_auto_bid, placed_at
		FROM bids
		WHERE auction_id = $1
		ORDER BY seq DESC
	`

	rows, err := c.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}
	defer rows.Close()

	var bids []models.Bid
	for rows.Next() {
		var (
			bid models.Bid
			max sql.Null[models.Money]
		)
		err := rows.Scan(
			&bid.ID,
			&bid.AuctionID,
			&bid.StreamID,
			&bid.ProductID,
			&bid.UserID,
			&bid.Amount,
			&bid.Status,
			&bid.IsAutoBid,
			&max,
			&bid.PlacedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		if max.Valid {
			bid.MaxAutoBid = models.MoneyPtr(max.V)
		}
		bids = append(bids, bid)
	}

	return bids, rows.Err()
}

// StreamProduct loads a featured product slot; nil when the product is not
// part of the stream.
func (c *PostgresClient) StreamProduct(ctx context.Context, streamID, productID string) (*models.StreamProduct, error) {
	query := `
		SELECT id, stream_id, product_id, starting_bid, bid_increment, current_bid, is_active, is_sold, sold_price, sold_at
		FROM stream_products
		WHERE stream_id = $1 AND product_id = $2
	`

	var (
		sp                                     models.StreamProduct
		startingBid, increment, current, price sql.Null[models.Money]
		soldAt                                 sql.NullTime
	)
	err := c.db.QueryRowContext(ctx, query, streamID, productID).Scan(
		&sp.ID,
		&sp.StreamID,
		&sp.ProductID,
		&startingBid,
		&increment,
		&current,
		&sp.IsActive,
		&sp.IsSold,
		&price,
		&soldAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stream product: %w", err)
	}

	sp.StartingBid = nullMoney(startingBid)
	sp.BidIncrement = nullMoney(increment)
	sp.CurrentBid = nullMoney(current)
	sp.SoldPrice = nullMoney(price)
	if soldAt.Valid {
		sp.SoldAt = &soldAt.Time
	}
	return &sp, nil
}

// StreamHost returns the host of streamID, "" when the stream is unknown.
// Hosts never change for a stream, so hits are cached.
func (c *PostgresClient) StreamHost(ctx context.Context, streamID string) (string, error) {
	if v, ok := c.hostCache.Get(streamID); ok {
		return v.(string), nil
	}

	var hostID string
	err := c.db.QueryRowContext(ctx, `SELECT host_id FROM live_streams WHERE id = $1`, streamID).Scan(&hostID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get stream host: %w", err)
	}

	c.hostCache.Add(streamID, hostID)
	return hostID, nil
}

// ActivateSlot features the slot with the auction's opening terms.
func (c *PostgresClient) ActivateSlot(ctx context.Context, slotID string, startingBid, increment models.Money) error {
	query := `
		UPDATE stream_products
		SET is_active = TRUE,
		    starting_bid = $1,
		    bid_increment = $2,
		    current_bid = $1,
		    featured_at = CURRENT_TIMESTAMP
		WHERE id = $3
	`

	if _, err := c.db.ExecContext(ctx, query, startingBid, increment, slotID); err != nil {
		return fmt.Errorf("failed to activate slot: %w", err)
	}
	return nil
}

// Ping checks the connection, used by the health endpoint.
func (c *PostgresClient) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection
func (c *PostgresClient) Close() error {
	return c.db.Close()
}

func (c *PostgresClient) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertBid(ctx context.Context, tx *sql.Tx, bid *models.Bid) error {
	var max any
	if bid.MaxAutoBid != nil {
		max = *bid.MaxAutoBid
	}
	_, err := tx.ExecContext(ctx, insertBidSQL,
		bid.ID,
		bid.AuctionID,
		bid.StreamID,
		bid.ProductID,
		bid.UserID,
		bid.Amount,
		bid.Status,
		bid.IsAutoBid,
		max,
		bid.PlacedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	return nil
}

func nullMoney(n sql.Null[models.Money]) *models.Money {
	if !n.Valid {
		return nil
	}
	return models.MoneyPtr(n.V)
}
