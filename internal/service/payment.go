package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/stilldew/storefront-api/internal/gateway"
	"github.com/stilldew/storefront-api/internal/model"
	"github.com/stilldew/storefront-api/internal/repository"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrAmountMismatch       = errors.New("payment amount does not match order total")
	ErrOrderAlreadyPaid     = errors.New("order is already paid")
	ErrPaymentNotRefundable = errors.New("payment is not refundable")
)

const webhookDedupTTL = 24 * time.Hour

type PaymentService struct {
	paymentRepo repository.PaymentRepository
	orderRepo   repository.OrderRepository
	gw          gateway.Gateway
	redis       *redis.Client
	currency    string
	secret      string
}

func NewPaymentService(
	paymentRepo repository.PaymentRepository,
	orderRepo repository.OrderRepository,
	gw gateway.Gateway,
	redisClient *redis.Client,
	currency, webhookSecret string,
) *PaymentService {
	return &PaymentService{
		paymentRepo: paymentRepo,
		orderRepo:   orderRepo,
		gw:          gw,
		redis:       redisClient,
		currency:    currency,
		secret:      webhookSecret,
	}
}

// CreateIntent registers a payment intent for the order. The client-supplied
// amount is advisory only: it must equal the order's stored total or the
// request is rejected, so a tampered client can never underpay. No payment
// row is written unless the gateway call succeeds.
func (s *PaymentService) CreateIntent(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal, userID *uuid.UUID, metadata map[string]string) (*model.Payment, *gateway.Intent, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order == nil {
		return nil, nil, ErrOrderNotFound
	}
	if userID != nil && (order.UserID == nil || *order.UserID != *userID) {
		return nil, nil, ErrOrderAccessDenied
	}
	if order.PaymentStatus != model.PaymentStatusPending {
		return nil, nil, ErrOrderAlreadyPaid
	}
	if !amount.Equal(order.TotalAmount) {
		return nil, nil, ErrAmountMismatch
	}

	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["order_id"] = order.ID.String()
	metadata["order_number"] = order.OrderNumber

	intent, err := s.gw.CreateIntent(ctx, order.TotalAmount, s.currency, metadata)
	if err != nil {
		return nil, nil, err
	}

	payment := &model.Payment{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		IntentID:    intent.ID,
		Amount:      order.TotalAmount,
		Currency:    s.currency,
		Status:      model.PaymentStatePending,
	}
	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		return nil, nil, err
	}
	return payment, intent, nil
}

// Confirm polls the gateway for the intent's outcome and settles the payment.
// Confirming an already-settled payment is a no-op that reports the current
// state; the order is never advanced twice. A failed attempt records the
// failure on the payment only, leaving the order payable by a new attempt.
func (s *PaymentService) Confirm(ctx context.Context, intentID string) (*model.Payment, error) {
	payment, err := s.paymentRepo.GetByIntentID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	if payment.Status != model.PaymentStatePending {
		return payment, nil
	}

	intent, err := s.gw.GetIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}

	switch intent.Status {
	case gateway.IntentSucceeded:
		err = s.paymentRepo.MarkSucceeded(ctx, payment.ID, intent.ChargeID, intent.Method, intent.CardBrand, intent.CardLast4)
	case gateway.IntentFailed:
		err = s.paymentRepo.MarkFailed(ctx, payment.ID, intent.ErrorMessage)
	default:
		return payment, nil
	}
	// A concurrent webhook may have settled it first; the stored state wins.
	if err != nil && !errors.Is(err, repository.ErrStaleStatus) {
		return nil, err
	}
	return s.paymentRepo.GetByID(ctx, payment.ID)
}

// HandleWebhook verifies, dedups, and applies a gateway notification.
// Delivery is at-least-once. The event ID is recorded in Redis only after the
// state change has applied: a transient failure leaves the key unset so the
// gateway's redelivery retries, while replays of an applied event are skipped
// up front. Duplicates that slip past Redis hit the status guards instead.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := gateway.ParseEvent(s.secret, payload, signature)
	if err != nil {
		return err
	}

	dedupKey := "webhook:" + event.ID
	if s.redis != nil {
		if seen, err := s.redis.Exists(ctx, dedupKey).Result(); err == nil && seen > 0 {
			return nil
		}
	}

	payment, err := s.paymentRepo.GetByIntentID(ctx, event.IntentID)
	if err != nil {
		return err
	}
	if payment == nil {
		return ErrPaymentNotFound
	}

	switch event.Type {
	case gateway.EventPaymentSucceeded:
		err = s.paymentRepo.MarkSucceeded(ctx, payment.ID, event.ChargeID, event.Method, event.CardBrand, event.CardLast4)
	case gateway.EventPaymentFailed:
		err = s.paymentRepo.MarkFailed(ctx, payment.ID, event.ErrorMessage)
	case gateway.EventRefundCreated:
		err = s.paymentRepo.MarkRefunded(ctx, payment.ID)
	default:
		return fmt.Errorf("unhandled webhook event type %q", event.Type)
	}
	if err != nil && !errors.Is(err, repository.ErrStaleStatus) {
		return err
	}

	if s.redis != nil {
		s.redis.Set(ctx, dedupKey, 1, webhookDedupTTL)
	}
	return nil
}

// Refund reverses a settled payment through the gateway and flips the payment
// and its order to refunded. A nil amount refunds in full.
func (s *PaymentService) Refund(ctx context.Context, paymentID uuid.UUID, amount *decimal.Decimal) (*model.Payment, error) {
	payment, err := s.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	if payment.Status != model.PaymentStateSucceeded || payment.ChargeID == "" {
		return nil, ErrPaymentNotRefundable
	}

	refundAmount := decimal.Zero
	if amount != nil {
		if amount.LessThanOrEqual(decimal.Zero) || amount.GreaterThan(payment.Amount) {
			return nil, ErrAmountMismatch
		}
		refundAmount = *amount
	}

	if _, err := s.gw.Refund(ctx, payment.ChargeID, refundAmount); err != nil {
		return nil, err
	}
	if err := s.paymentRepo.MarkRefunded(ctx, payment.ID); err != nil && !errors.Is(err, repository.ErrStaleStatus) {
		return nil, err
	}
	return s.paymentRepo.GetByID(ctx, payment.ID)
}

func (s *PaymentService) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]model.Payment, error) {
	return s.paymentRepo.ListByOrder(ctx, orderID)
}
