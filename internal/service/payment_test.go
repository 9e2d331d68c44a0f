package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stilldew/storefront-api/internal/gateway"
	"github.com/stilldew/storefront-api/internal/model"
	"github.com/stilldew/storefront-api/internal/repository"
)

type mockPaymentRepo struct {
	payments map[uuid.UUID]*model.Payment
	orders   *mockOrderRepo
	// markSucceededErr fails the next MarkSucceeded call once, simulating a
	// transient database error mid-settlement.
	markSucceededErr error
}

func newMockPaymentRepo(orders *mockOrderRepo) *mockPaymentRepo {
	return &mockPaymentRepo{payments: make(map[uuid.UUID]*model.Payment), orders: orders}
}

func (m *mockPaymentRepo) Create(_ context.Context, payment *model.Payment) error {
	payment.ID = uuid.New()
	payment.CreatedAt = time.Now()
	m.payments[payment.ID] = payment
	return nil
}

// withOrderNumber mirrors the repository's read join: the order number always
// comes from the order row.
func (m *mockPaymentRepo) withOrderNumber(p *model.Payment) *model.Payment {
	if p != nil {
		if order, ok := m.orders.orders[p.OrderID]; ok {
			p.OrderNumber = order.OrderNumber
		}
	}
	return p
}

func (m *mockPaymentRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Payment, error) {
	return m.withOrderNumber(m.payments[id]), nil
}

func (m *mockPaymentRepo) GetByIntentID(_ context.Context, intentID string) (*model.Payment, error) {
	for _, p := range m.payments {
		if p.IntentID == intentID {
			return m.withOrderNumber(p), nil
		}
	}
	return nil, nil
}

func (m *mockPaymentRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]model.Payment, error) {
	var payments []model.Payment
	for _, p := range m.payments {
		if p.OrderID == orderID {
			payments = append(payments, *m.withOrderNumber(p))
		}
	}
	return payments, nil
}

func (m *mockPaymentRepo) MarkSucceeded(_ context.Context, paymentID uuid.UUID, chargeID, method, cardBrand, cardLast4 string) error {
	if m.markSucceededErr != nil {
		err := m.markSucceededErr
		m.markSucceededErr = nil
		return err
	}
	p, ok := m.payments[paymentID]
	if !ok || p.Status != model.PaymentStatePending {
		return repository.ErrStaleStatus
	}
	p.Status = model.PaymentStateSucceeded
	p.ChargeID = chargeID
	p.Method = method
	p.CardBrand = cardBrand
	p.CardLast4 = cardLast4
	now := time.Now()
	p.SucceededAt = &now

	if order, ok := m.orders.orders[p.OrderID]; ok && order.PaymentStatus == model.PaymentStatusPending {
		order.PaymentStatus = model.PaymentStatusPaid
		if order.PaidAt == nil {
			order.PaidAt = &now
		}
		if order.Status == model.OrderStatusPending {
			order.Status = model.OrderStatusProcessing
		}
	}
	return nil
}

func (m *mockPaymentRepo) MarkFailed(_ context.Context, paymentID uuid.UUID, errorMessage string) error {
	p, ok := m.payments[paymentID]
	if !ok || p.Status != model.PaymentStatePending {
		return repository.ErrStaleStatus
	}
	p.Status = model.PaymentStateFailed
	p.ErrorMessage = errorMessage
	now := time.Now()
	p.FailedAt = &now
	return nil
}

func (m *mockPaymentRepo) MarkRefunded(_ context.Context, paymentID uuid.UUID) error {
	p, ok := m.payments[paymentID]
	if !ok || p.Status != model.PaymentStateSucceeded {
		return repository.ErrStaleStatus
	}
	p.Status = model.PaymentStateRefunded

	if order, ok := m.orders.orders[p.OrderID]; ok && order.PaymentStatus == model.PaymentStatusPaid {
		order.PaymentStatus = model.PaymentStatusRefunded
		if order.Status != model.OrderStatusCancelled && order.Status != model.OrderStatusRefunded {
			order.Status = model.OrderStatusRefunded
		}
	}
	return nil
}

type mockGateway struct {
	intents    map[string]*gateway.Intent
	unreliable bool
	calls      int
}

func newMockGateway() *mockGateway {
	return &mockGateway{intents: make(map[string]*gateway.Intent)}
}

func (m *mockGateway) CreateIntent(_ context.Context, amount decimal.Decimal, currency string, _ map[string]string) (*gateway.Intent, error) {
	m.calls++
	if m.unreliable {
		return nil, gateway.ErrUnavailable
	}
	intent := &gateway.Intent{
		ID:           fmt.Sprintf("pi_%d", len(m.intents)+1),
		ClientSecret: "cs_test",
		Amount:       amount.Mul(decimal.NewFromInt(100)).IntPart(),
		Currency:     currency,
		Status:       gateway.IntentPending,
	}
	m.intents[intent.ID] = intent
	return intent, nil
}

func (m *mockGateway) GetIntent(_ context.Context, intentID string) (*gateway.Intent, error) {
	m.calls++
	if m.unreliable {
		return nil, gateway.ErrUnavailable
	}
	intent, ok := m.intents[intentID]
	if !ok {
		return nil, fmt.Errorf("gateway rejected request: no such intent")
	}
	return intent, nil
}

func (m *mockGateway) Refund(_ context.Context, chargeID string, amount decimal.Decimal) (*gateway.Refund, error) {
	m.calls++
	if m.unreliable {
		return nil, gateway.ErrUnavailable
	}
	return &gateway.Refund{ID: "re_1", Amount: amount.IntPart(), Status: "succeeded"}, nil
}

const testWebhookSecret = "whsec_test"

func signPayload(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

type paymentFixture struct {
	svc         *PaymentService
	paymentRepo *mockPaymentRepo
	orderRepo   *mockOrderRepo
	gw          *mockGateway
}

func newPaymentFixture() paymentFixture {
	orderRepo := newMockOrderRepo()
	paymentRepo := newMockPaymentRepo(orderRepo)
	gw := newMockGateway()
	return paymentFixture{
		svc:         NewPaymentService(paymentRepo, orderRepo, gw, nil, "USD", testWebhookSecret),
		paymentRepo: paymentRepo,
		orderRepo:   orderRepo,
		gw:          gw,
	}
}

func (f paymentFixture) seedOrder(total float64) *model.Order {
	order := &model.Order{
		ID: uuid.New(), OrderNumber: "ORD-20260825-XYZ789",
		TotalAmount:   decimal.NewFromFloat(total),
		Status:        model.OrderStatusPending,
		PaymentStatus: model.PaymentStatusPending,
	}
	f.orderRepo.orders[order.ID] = order
	return order
}

func TestPaymentService_CreateIntent(t *testing.T) {
	f := newPaymentFixture()
	order := f.seedOrder(44.46)

	payment, intent, err := f.svc.CreateIntent(context.Background(), order.ID, decimal.NewFromFloat(44.46), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatePending, payment.Status)
	assert.True(t, payment.Amount.Equal(order.TotalAmount))
	assert.Equal(t, order.OrderNumber, payment.OrderNumber)
	assert.Equal(t, int64(4446), intent.Amount)
	assert.NotEmpty(t, intent.ClientSecret)
}

func TestPaymentService_CreateIntent_AmountMismatch(t *testing.T) {
	f := newPaymentFixture()
	order := f.seedOrder(44.46)

	_, _, err := f.svc.CreateIntent(context.Background(), order.ID, decimal.NewFromFloat(1.00), nil, nil)
	require.ErrorIs(t, err, ErrAmountMismatch)
	assert.Empty(t, f.paymentRepo.payments)
}

func TestPaymentService_CreateIntent_GatewayDown(t *testing.T) {
	f := newPaymentFixture()
	order := f.seedOrder(20.00)
	f.gw.unreliable = true

	_, _, err := f.svc.CreateIntent(context.Background(), order.ID, decimal.NewFromFloat(20.00), nil, nil)
	require.ErrorIs(t, err, gateway.ErrUnavailable)
	// No dangling pending payment without a gateway intent behind it.
	assert.Empty(t, f.paymentRepo.payments)
}

func TestPaymentService_CreateIntent_AlreadyPaid(t *testing.T) {
	f := newPaymentFixture()
	order := f.seedOrder(20.00)
	order.PaymentStatus = model.PaymentStatusPaid

	_, _, err := f.svc.CreateIntent(context.Background(), order.ID, decimal.NewFromFloat(20.00), nil, nil)
	assert.ErrorIs(t, err, ErrOrderAlreadyPaid)
}

func TestPaymentService_Confirm(t *testing.T) {
	f := newPaymentFixture()
	order := f.seedOrder(44.46)
	_, intent, err := f.svc.CreateIntent(context.Background(), order.ID, decimal.NewFromFloat(44.46), nil, nil)
	require.NoError(t, err)

	f.gw.intents[intent.ID].Status = gateway.IntentSucceeded
	f.gw.intents[intent.ID].ChargeID = "ch_1"
	f.gw.intents[intent.ID].CardBrand = "visa"
	f.gw.intents[intent.ID].CardLast4 = "4242"

	payment, err := f.svc.Confirm(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStateSucceeded, payment.Status)
	assert.Equal(t, "ch_1", payment.ChargeID)
	assert.Equal(t, "ORD-20260825-XYZ789", payment.OrderNumber)
	assert.NotNil(t, payment.SucceededAt)

	assert.Equal(t, model.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, model.OrderStatusProcessing, order.Status)
	assert.NotNil(t, order.PaidAt)
}

func TestPaymentService_Confirm_Idempotent(t *testing.T) {
	f := newPaymentFixture()
	order := f.seedOrder(44.46)
	_, intent, err := f.svc.CreateIntent(context.Background(), order.ID, decimal.NewFromFloat(44.46), nil, nil)
	require.NoError(t, err)
	f.gw.intents[intent.ID].Status = gateway.IntentSucceeded

	first, err := f.svc.Confirm(context.Background(), intent.ID)
	require.NoError(t, err)
	firstPaidAt := *order.PaidAt
	gatewayCalls := f.gw.calls

	second, err := f.svc.Confirm(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, model.PaymentStateSucceeded, second.Status)
	// Settled payments are answered from storage, not re-polled.
	assert.Equal(t, gatewayCalls, f.gw.calls)
	assert.Equal(t, firstPaidAt, *order.PaidAt)
}

func TestPaymentService_Confirm_FailureLeavesOrderPayable(t *testing.T) {
	f := newPaymentFixture()
	order := f.seedOrder(44.46)
	_, intent, err := f.svc.CreateIntent(context.Background(), order.ID, decimal.NewFromFloat(44.46), nil, nil)
	require.NoError(t, err)
	f.gw.intents[intent.ID].Status = gateway.IntentFailed
	f.gw.intents[intent.ID].ErrorMessage = "card_declined"

	payment, err := f.svc.Confirm(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStateFailed, payment.Status)
	assert.Equal(t, "card_declined", payment.ErrorMessage)

	// The order itself stays pending so the customer can retry.
	assert.Equal(t, model.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, model.OrderStatusPending, order.Status)
}

func TestPaymentService_Confirm_UnknownIntent(t *testing.T) {
	f := newPaymentFixture()
	_, err := f.svc.Confirm(context.Background(), "pi_missing")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestPaymentService_HandleWebhook_BadSignature(t *testing.T) {
	f := newPaymentFixture()
	err := f.svc.HandleWebhook(context.Background(), []byte(`{"id":"evt_1"}`), "deadbeef")
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
}

func TestPaymentService_HandleWebhook_Succeeded(t *testing.T) {
	f := newPaymentFixture()
	order := f.seedOrder(44.46)
	_, intent, err := f.svc.CreateIntent(context.Background(), order.ID, decimal.NewFromFloat(44.46), nil, nil)
	require.NoError(t, err)

	payload := []byte(fmt.Sprintf(
		`{"id":"evt_1","type":"payment.succeeded","intent_id":"%s","charge_id":"ch_9","card_brand":"visa","card_last4":"4242"}`,
		intent.ID))
	require.NoError(t, f.svc.HandleWebhook(context.Background(), payload, signPayload(payload)))

	payment, err := f.paymentRepo.GetByIntentID(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStateSucceeded, payment.Status)
	assert.Equal(t, model.PaymentStatusPaid, order.PaymentStatus)

	// Redelivery of the same settlement collapses to a no-op.
	firstPaidAt := *order.PaidAt
	require.NoError(t, f.svc.HandleWebhook(context.Background(), payload, signPayload(payload)))
	assert.Equal(t, firstPaidAt, *order.PaidAt)
}

func TestPaymentService_HandleWebhook_RedeliveryAfterTransientFailure(t *testing.T) {
	f := newPaymentFixture()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	f.svc = NewPaymentService(f.paymentRepo, f.orderRepo, f.gw, client, "USD", testWebhookSecret)

	order := f.seedOrder(44.46)
	_, intent, err := f.svc.CreateIntent(context.Background(), order.ID, decimal.NewFromFloat(44.46), nil, nil)
	require.NoError(t, err)

	payload := []byte(fmt.Sprintf(
		`{"id":"evt_1","type":"payment.succeeded","intent_id":"%s","charge_id":"ch_9"}`, intent.ID))

	// The settlement write fails once. The handler must surface the error so
	// the gateway redelivers, and must not record the event as handled.
	f.paymentRepo.markSucceededErr = errors.New("connection reset by peer")
	require.Error(t, f.svc.HandleWebhook(context.Background(), payload, signPayload(payload)))
	assert.Equal(t, model.PaymentStatusPending, order.PaymentStatus)

	// Redelivery of the same event ID applies the settlement.
	require.NoError(t, f.svc.HandleWebhook(context.Background(), payload, signPayload(payload)))
	assert.Equal(t, model.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, model.OrderStatusProcessing, order.Status)

	payment, err := f.paymentRepo.GetByIntentID(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStateSucceeded, payment.Status)

	// A third delivery is answered from the dedup key without another apply.
	firstPaidAt := *order.PaidAt
	require.NoError(t, f.svc.HandleWebhook(context.Background(), payload, signPayload(payload)))
	assert.Equal(t, firstPaidAt, *order.PaidAt)
}

func TestPaymentService_HandleWebhook_RefundCreated(t *testing.T) {
	f := newPaymentFixture()
	order := f.seedOrder(44.46)
	_, intent, err := f.svc.CreateIntent(context.Background(), order.ID, decimal.NewFromFloat(44.46), nil, nil)
	require.NoError(t, err)

	succeeded := []byte(fmt.Sprintf(`{"id":"evt_1","type":"payment.succeeded","intent_id":"%s","charge_id":"ch_9"}`, intent.ID))
	require.NoError(t, f.svc.HandleWebhook(context.Background(), succeeded, signPayload(succeeded)))

	refunded := []byte(fmt.Sprintf(`{"id":"evt_2","type":"refund.created","intent_id":"%s"}`, intent.ID))
	require.NoError(t, f.svc.HandleWebhook(context.Background(), refunded, signPayload(refunded)))

	assert.Equal(t, model.PaymentStatusRefunded, order.PaymentStatus)
	assert.Equal(t, model.OrderStatusRefunded, order.Status)
}

func TestPaymentService_Refund(t *testing.T) {
	f := newPaymentFixture()
	order := f.seedOrder(44.46)
	payment, intent, err := f.svc.CreateIntent(context.Background(), order.ID, decimal.NewFromFloat(44.46), nil, nil)
	require.NoError(t, err)
	f.gw.intents[intent.ID].Status = gateway.IntentSucceeded
	f.gw.intents[intent.ID].ChargeID = "ch_1"
	_, err = f.svc.Confirm(context.Background(), intent.ID)
	require.NoError(t, err)

	refunded, err := f.svc.Refund(context.Background(), payment.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStateRefunded, refunded.Status)
	assert.Equal(t, model.PaymentStatusRefunded, order.PaymentStatus)
}

func TestPaymentService_Refund_PendingPaymentRejected(t *testing.T) {
	f := newPaymentFixture()
	order := f.seedOrder(44.46)
	payment, _, err := f.svc.CreateIntent(context.Background(), order.ID, decimal.NewFromFloat(44.46), nil, nil)
	require.NoError(t, err)

	_, err = f.svc.Refund(context.Background(), payment.ID, nil)
	assert.ErrorIs(t, err, ErrPaymentNotRefundable)
}

func TestPaymentService_Refund_OverAmountRejected(t *testing.T) {
	f := newPaymentFixture()
	order := f.seedOrder(44.46)
	payment, intent, err := f.svc.CreateIntent(context.Background(), order.ID, decimal.NewFromFloat(44.46), nil, nil)
	require.NoError(t, err)
	f.gw.intents[intent.ID].Status = gateway.IntentSucceeded
	f.gw.intents[intent.ID].ChargeID = "ch_1"
	_, err = f.svc.Confirm(context.Background(), intent.ID)
	require.NoError(t, err)

	over := decimal.NewFromFloat(100.00)
	_, err = f.svc.Refund(context.Background(), payment.ID, &over)
	assert.ErrorIs(t, err, ErrAmountMismatch)
}
