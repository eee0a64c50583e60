// Package fulfillment provides the HTTP client for the external voucher provider.
package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/seandahissiho/murya-api-sub000/internal/config"
	"github.com/seandahissiho/murya-api-sub000/internal/models"
	"github.com/seandahissiho/murya-api-sub000/pkg/logger"
)

// Result is the provider's answer for one purchase.
type Result struct {
	// Voucher is the payload to attach to the purchase when fulfilled.
	Voucher json.RawMessage
	// Retry reports whether a failed attempt may be retried later. A
	// non-retryable failure moves the purchase to the refund path.
	Retry bool
}

// Client calls the external voucher provider. Calls happen strictly after
// the purchase transaction commits; a provider outage can therefore delay a
// voucher but never roll back a confirmed debit.
type Client struct {
	providerURL string
	apiKey      string
	enabled     bool
	httpClient  *http.Client
	log         *logger.Logger
}

// NewClient creates a new fulfillment provider client.
func NewClient(cfg *config.FulfillmentConfig, log *logger.Logger) *Client {
	return &Client{
		providerURL: cfg.ProviderURL,
		apiKey:      cfg.APIKey,
		enabled:     cfg.Enabled,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

// Enabled reports whether external fulfillment is configured.
func (c *Client) Enabled() bool {
	return c.enabled
}

// fulfillRequest is the provider wire payload.
type fulfillRequest struct {
	PurchaseID uint   `json:"purchase_id"`
	RewardCode string `json:"reward_code"`
	Quantity   int    `json:"quantity"`
}

// fulfillResponse is the provider wire answer.
type fulfillResponse struct {
	Voucher json.RawMessage `json:"voucher"`
}

// Fulfill requests a voucher for one purchase.
func (c *Client) Fulfill(ctx context.Context, purchase *models.RewardPurchase) (*Result, error) {
	if !c.enabled {
		return nil, fmt.Errorf("fulfillment provider is disabled")
	}

	payload, err := json.Marshal(fulfillRequest{
		PurchaseID: purchase.ID,
		RewardCode: purchase.Reward.Code,
		Quantity:   purchase.Quantity,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fulfillment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.providerURL, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create fulfillment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failures are retryable by definition.
		return &Result{Retry: true}, fmt.Errorf("failed to call fulfillment provider: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &Result{Retry: true}, fmt.Errorf("failed to read provider response: %w", err)
		}
		var fr fulfillResponse
		if err := json.Unmarshal(body, &fr); err != nil {
			return &Result{Retry: false}, fmt.Errorf("provider returned malformed response: %w", err)
		}
		c.log.Debug().
			Uint("purchase_id", purchase.ID).
			Msg("Fulfillment provider issued voucher")
		return &Result{Voucher: fr.Voucher}, nil

	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return &Result{Retry: true}, fmt.Errorf("provider returned status %d", resp.StatusCode)

	default:
		// 4xx: the provider rejected this purchase for good.
		return &Result{Retry: false}, fmt.Errorf("provider rejected purchase with status %d", resp.StatusCode)
	}
}
