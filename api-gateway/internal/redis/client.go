package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aaronwang/live-auction/shared/models"
)

// Client wraps the Redis client with the auction engine's ephemeral state
// operations. Nothing here is read back by the engine; the keys exist for
// observability and crash inspection.
type Client struct {
	client *redis.Client
	// Lua script that refuses to overwrite a newer snapshot of the same
	// auction with an older one
	saveScript *redis.Script
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing connection.
func NewFromRedis(rdb *redis.Client) *Client {
	// Snapshot writes are queued per actor, but an old actor's last write
	// can still land after a new auction on the same stream has started.
	saveScript := redis.NewScript(`
		-- KEYS[1]: auction:{streamID}        (snapshot JSON)
		-- KEYS[2]: auction:{streamID}:meta   (generation, bid_count)
		-- ARGV[1]: snapshot JSON
		-- ARGV[2]: generation (productID:startUnixNano)
		-- ARGV[3]: bid count
		-- ARGV[4]: ttl in seconds
		-- ARGV[5]: 1 if the snapshot is active

		local gen = redis.call('HGET', KEYS[2], 'generation')
		local count = tonumber(redis.call('HGET', KEYS[2], 'bid_count') or '-1')
		local active = redis.call('HGET', KEYS[2], 'active')

		if gen == ARGV[2] then
			-- same auction: never go back to fewer bids or reopen it
			if tonumber(ARGV[3]) < count then
				return 0
			end
			if active == '0' and ARGV[5] == '1' then
				return 0
			end
		end

		redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[4])
		redis.call('HSET', KEYS[2], 'generation', ARGV[2], 'bid_count', ARGV[3], 'active', ARGV[5])
		redis.call('EXPIRE', KEYS[2], ARGV[4])
		return 1
	`)

	return &Client{
		client:     rdb,
		saveScript: saveScript,
	}
}

func stateKey(streamID string) string    { return fmt.Sprintf("auction:%s", streamID) }
func metaKey(streamID string) string     { return fmt.Sprintf("auction:%s:meta", streamID) }
func autoBidsKey(streamID string) string { return fmt.Sprintf("auction:%s:autobids", streamID) }

func generation(snap *models.AuctionSnapshot) string {
	return snap.ProductID + ":" + strconv.FormatInt(snap.StartTime.UnixNano(), 10)
}

// SaveState stores the snapshot with the given TTL. A write that would
// regress the same auction is silently skipped.
func (c *Client) SaveState(ctx context.Context, snap *models.AuctionSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	active := "0"
	if snap.IsActive {
		active = "1"
	}
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	keys := []string{stateKey(snap.StreamID), metaKey(snap.StreamID)}
	if err := c.saveScript.Run(ctx, c.client, keys, data, generation(snap), snap.BidCount, seconds, active).Err(); err != nil {
		return fmt.Errorf("failed to execute save script: %w", err)
	}
	return nil
}

// SetAutoBid records userID's ceiling in the stream's auto-bid hash.
func (c *Client) SetAutoBid(ctx context.Context, streamID, userID string, max models.Money, ttl time.Duration) error {
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, autoBidsKey(streamID), userID, max.String())
	pipe.Expire(ctx, autoBidsKey(streamID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set auto-bid: %w", err)
	}
	return nil
}

// RemoveAutoBid deletes userID's ceiling.
func (c *Client) RemoveAutoBid(ctx context.Context, streamID, userID string) error {
	if err := c.client.HDel(ctx, autoBidsKey(streamID), userID).Err(); err != nil {
		return fmt.Errorf("failed to remove auto-bid: %w", err)
	}
	return nil
}

// Clear removes all of a stream's auction keys.
func (c *Client) Clear(ctx context.Context, streamID string) error {
	if err := c.client.Del(ctx, stateKey(streamID), metaKey(streamID), autoBidsKey(streamID)).Err(); err != nil {
		return fmt.Errorf("failed to clear auction state: %w", err)
	}
	return nil
}

// PublishEvent publishes an auction event to Redis Pub/Sub
// This will be picked up by the broadcast service for real-time WebSocket updates
func (c *Client) PublishEvent(ctx context.Context, event *models.AuctionEvent) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return c.client.Publish(ctx, models.EventChannel(event.StreamID), eventJSON).Err()
}

// Ping checks the connection, used by the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}
