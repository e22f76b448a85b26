// Package gateway forwards viewer commands received over WebSocket to the
// api-gateway HTTP API, carrying the viewer's bearer token.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aaronwang/live-auction/shared/models"
)

// Command types accepted from viewers.
const (
	CommandPlaceBid      = "place-bid"
	CommandSetAutoBid    = "set-auto-bid"
	CommandCancelAutoBid = "cancel-auto-bid"
	CommandBuyNow        = "buy-now"
)

// Command is a viewer message read from a socket.
type Command struct {
	Type      string        `json:"type"`
	RequestID string        `json:"request_id,omitempty"`
	Amount    *models.Money `json:"amount,omitempty"`
	MaxAmount *models.Money `json:"max_amount,omitempty"`
}

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned %d %s: %s", e.Status, e.Code, e.Message)
}

// ErrUnknownCommand is returned for command types the gateway has no route for.
var ErrUnknownCommand = errors.New("unknown command")

// Client calls the api-gateway.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the gateway at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Forward executes cmd against streamID on behalf of the token's owner and
// returns the gateway's JSON response body.
func (c *Client) Forward(ctx context.Context, token, streamID string, cmd *Command) (json.RawMessage, error) {
	method, path, body, err := route(streamID, cmd)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", cmd.Type, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "GATEWAY_ERROR"
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return raw, nil
}

func route(streamID string, cmd *Command) (method, path string, body any, err error) {
	base := "/api/v1/streams/" + url.PathEscape(streamID) + "/auction"
	switch cmd.Type {
	case CommandPlaceBid:
		if cmd.Amount == nil {
			return "", "", nil, fmt.Errorf("%s requires amount", cmd.Type)
		}
		return http.MethodPost, base + "/bids", models.BidRequest{Amount: *cmd.Amount}, nil
	case CommandSetAutoBid:
		if cmd.MaxAmount == nil {
			return "", "", nil, fmt.Errorf("%s requires max_amount", cmd.Type)
		}
		return http.MethodPut, base + "/auto-bid", models.AutoBidRequest{MaxAmount: *cmd.MaxAmount}, nil
	case CommandCancelAutoBid:
		return http.MethodDelete, base + "/auto-bid", nil, nil
	case CommandBuyNow:
		return http.MethodPost, base + "/buy-now", nil, nil
	}
	return "", "", nil, fmt.Errorf("%w %q", ErrUnknownCommand, cmd.Type)
}
