package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatus_LinearHappyPath(t *testing.T) {
	assert.True(t, OrderStatusPending.CanTransitionTo(OrderStatusProcessing))
	assert.True(t, OrderStatusProcessing.CanTransitionTo(OrderStatusShipped))
	assert.True(t, OrderStatusShipped.CanTransitionTo(OrderStatusDelivered))
}

func TestOrderStatus_StageSkippingRejected(t *testing.T) {
	assert.False(t, OrderStatusPending.CanTransitionTo(OrderStatusShipped))
	assert.False(t, OrderStatusPending.CanTransitionTo(OrderStatusDelivered))
	assert.False(t, OrderStatusProcessing.CanTransitionTo(OrderStatusDelivered))
}

func TestOrderStatus_CancelOnlyBeforeShipment(t *testing.T) {
	assert.True(t, OrderStatusPending.CanTransitionTo(OrderStatusCancelled))
	assert.True(t, OrderStatusProcessing.CanTransitionTo(OrderStatusCancelled))
	assert.False(t, OrderStatusShipped.CanTransitionTo(OrderStatusCancelled))
	assert.False(t, OrderStatusDelivered.CanTransitionTo(OrderStatusCancelled))

	assert.True(t, OrderStatusPending.Cancellable())
	assert.True(t, OrderStatusProcessing.Cancellable())
	assert.False(t, OrderStatusShipped.Cancellable())
}

func TestOrderStatus_RefundReachableAfterDelivery(t *testing.T) {
	assert.True(t, OrderStatusDelivered.CanTransitionTo(OrderStatusRefunded))
	assert.True(t, OrderStatusShipped.CanTransitionTo(OrderStatusRefunded))
}

func TestOrderStatus_TerminalStates(t *testing.T) {
	for _, target := range []OrderStatus{
		OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded,
	} {
		assert.False(t, OrderStatusCancelled.CanTransitionTo(target))
		assert.False(t, OrderStatusRefunded.CanTransitionTo(target))
	}
}

func TestOrderStatus_NoBackwardsTransitions(t *testing.T) {
	assert.False(t, OrderStatusProcessing.CanTransitionTo(OrderStatusPending))
	assert.False(t, OrderStatusShipped.CanTransitionTo(OrderStatusProcessing))
	assert.False(t, OrderStatusDelivered.CanTransitionTo(OrderStatusShipped))
}

func TestPaymentStatus_Edges(t *testing.T) {
	assert.True(t, PaymentStatusPending.CanTransitionTo(PaymentStatusPaid))
	assert.True(t, PaymentStatusPending.CanTransitionTo(PaymentStatusFailed))
	assert.True(t, PaymentStatusPaid.CanTransitionTo(PaymentStatusRefunded))

	// failed only from pending, refunded only from paid
	assert.False(t, PaymentStatusPaid.CanTransitionTo(PaymentStatusFailed))
	assert.False(t, PaymentStatusPending.CanTransitionTo(PaymentStatusRefunded))
	assert.False(t, PaymentStatusFailed.CanTransitionTo(PaymentStatusPaid))
	assert.False(t, PaymentStatusRefunded.CanTransitionTo(PaymentStatusPending))
}

func TestFulfillmentStatus_Edges(t *testing.T) {
	assert.True(t, FulfillmentUnfulfilled.CanTransitionTo(FulfillmentPartial))
	assert.True(t, FulfillmentUnfulfilled.CanTransitionTo(FulfillmentFulfilled))
	assert.True(t, FulfillmentPartial.CanTransitionTo(FulfillmentFulfilled))
	assert.False(t, FulfillmentFulfilled.CanTransitionTo(FulfillmentPartial))
	assert.False(t, FulfillmentFulfilled.CanTransitionTo(FulfillmentUnfulfilled))
}

func TestStatus_Valid(t *testing.T) {
	assert.True(t, OrderStatusShipped.Valid())
	assert.False(t, OrderStatus("completed").Valid())
	assert.True(t, PaymentStatusPaid.Valid())
	assert.False(t, PaymentStatus("captured").Valid())
	assert.True(t, FulfillmentPartial.Valid())
	assert.False(t, FulfillmentStatus("done").Valid())
}

func TestCartOwner_Valid(t *testing.T) {
	assert.False(t, CartOwner{}.Valid())
	assert.True(t, CartOwner{SessionID: "sess-1"}.Valid())
}
