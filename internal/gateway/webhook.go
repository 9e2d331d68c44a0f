package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidSignature rejects webhook payloads whose HMAC does not match.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// WebhookEvent is the verified payload of a gateway notification. Delivery is
// at-least-once; consumers must dedup on ID.
type WebhookEvent struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	IntentID     string `json:"intent_id"`
	ChargeID     string `json:"charge_id,omitempty"`
	Method       string `json:"method,omitempty"`
	CardBrand    string `json:"card_brand,omitempty"`
	CardLast4    string `json:"card_last4,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
	EventRefundCreated    = "refund.created"
)

// VerifySignature checks the hex-encoded HMAC-SHA256 of the raw payload
// against the shared webhook secret, in constant time.
func VerifySignature(secret string, payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ParseEvent verifies and decodes a webhook payload. Unverified payloads are
// never decoded.
func ParseEvent(secret string, payload []byte, signature string) (*WebhookEvent, error) {
	if !VerifySignature(secret, payload, signature) {
		return nil, ErrInvalidSignature
	}
	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	return &event, nil
}
