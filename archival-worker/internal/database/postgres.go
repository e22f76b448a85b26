package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/aaronwang/live-auction/shared/models"
)

// PostgresClient wraps the PostgreSQL database connection
type PostgresClient struct {
	db *sql.DB
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
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return NewFromDB(db), nil
}

// NewFromDB wraps an open handle.
func NewFromDB(db *sql.DB) *PostgresClient {
	return &PostgresClient{db: db}
}

// InitSchema creates the audit tables
func (c *PostgresClient) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS auction_events (
		event_id VARCHAR(64) PRIMARY KEY,
		event_type VARCHAR(32) NOT NULL,
		stream_id VARCHAR(255) NOT NULL,
		product_id VARCHAR(255) NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		payload JSONB NOT NULL,
		archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS auction_results (
		event_id VARCHAR(64) PRIMARY KEY REFERENCES auction_events(event_id),
		stream_id VARCHAR(255) NOT NULL,
		product_id VARCHAR(255) NOT NULL,
		winner_id VARCHAR(255),
		final_price NUMERIC(12, 2) NOT NULL,
		reserve_met BOOLEAN NOT NULL,
		reason VARCHAR(16) NOT NULL,
		ended_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_auction_events_stream ON auction_events(stream_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_auction_results_product ON auction_results(stream_id, product_id);
	`

	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const (
	insertEventSQL = `
		INSERT INTO auction_events (event_id, event_type, stream_id, product_id, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING`

	insertResultSQL = `
		INSERT INTO auction_results (event_id, stream_id, product_id, winner_id, final_price, reserve_met, reason, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING`
)

// Archive stores one event and, for auction_ended, its outcome row. A
// redelivered event is a no-op.
func (c *PostgresClient) Archive(ctx context.Context, event *models.AuctionEvent, payload []byte) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, insertEventSQL,
		event.EventID,
		string(event.Type),
		event.StreamID,
		event.ProductID,
		event.Timestamp,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event %s: %w", event.EventID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows > 0 && event.Type == models.EventAuctionEnded && event.Ended != nil {
		var winner any
		if event.Ended.Winner != nil {
			winner = *event.Ended.Winner
		}
		_, err := tx.ExecContext(ctx, insertResultSQL,
			event.EventID,
			event.StreamID,
			event.ProductID,
			winner,
			event.Ended.FinalPrice,
			event.Ended.ReserveMet,
			string(event.Ended.Reason),
			event.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert result for %s: %w", event.EventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection
func (c *PostgresClient) Close() error {
	return c.db.Close()
}
