// Package gateway is the client for the external card payment provider. The
// provider owns the hard parts (card handling, idempotency keys, retries);
// this package only issues bounded HTTP calls and verifies webhook signatures.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnavailable covers timeouts and transport failures. It is retryable by
// the caller and must never be conflated with a declined payment.
var ErrUnavailable = errors.New("payment gateway unavailable")

type IntentState string

const (
	IntentPending   IntentState = "pending"
	IntentSucceeded IntentState = "succeeded"
	IntentFailed    IntentState = "failed"
)

type Intent struct {
	ID           string      `json:"id"`
	ClientSecret string      `json:"client_secret"`
	Amount       int64       `json:"amount"`
	Currency     string      `json:"currency"`
	Status       IntentState `json:"status"`
	ChargeID     string      `json:"charge_id,omitempty"`
	Method       string      `json:"method,omitempty"`
	CardBrand    string      `json:"card_brand,omitempty"`
	CardLast4    string      `json:"card_last4,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

type Refund struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

type Gateway interface {
	// CreateIntent registers a payment intent for amount (major units) and
	// returns the intent with its client secret.
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*Intent, error)
	// GetIntent fetches the current state of an intent.
	GetIntent(ctx context.Context, intentID string) (*Intent, error)
	// Refund reverses a charge. A zero amount means full refund.
	Refund(ctx context.Context, chargeID string, amount decimal.Decimal) (*Refund, error)
}

type Client struct {
	baseURL string
	apiKey  string
	hc      *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		hc:      &http.Client{Timeout: timeout},
	}
}

// minorUnits converts a 2-decimal major-unit amount to the gateway's integer
// minor units.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func (c *Client) CreateIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*Intent, error) {
	body := map[string]any{
		"amount":   minorUnits(amount),
		"currency": currency,
		"metadata": metadata,
	}
	var intent Intent
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", body, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *Client) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	var intent Intent
	if err := c.do(ctx, http.MethodGet, "/v1/payment_intents/"+intentID, nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *Client) Refund(ctx context.Context, chargeID string, amount decimal.Decimal) (*Refund, error) {
	body := map[string]any{"charge_id": chargeID}
	if !amount.IsZero() {
		body["amount"] = minorUnits(amount)
	}
	var refund Refund
	if err := c.do(ctx, http.MethodPost, "/v1/refunds", body, &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal gateway request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		// Timeouts and transport errors are retryable, not payment failures.
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("gateway rejected request: %s", apiErr.Error)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
