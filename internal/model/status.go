package model

// Order status, payment status, and fulfillment status are three independent
// axes. Each has its own transition table, validated at the single write path
// that mutates it; transitions are never inferred from other fields.

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// The happy path is strictly linear; stage skipping (e.g. pending->delivered)
// is rejected. Cancellation is only reachable before shipment; refunded stays
// reachable after delivery as a post-delivery reversal.
var orderStatusEdges = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusRefunded},
	OrderStatusDelivered:  {OrderStatusRefunded},
	OrderStatusCancelled:  nil,
	OrderStatusRefunded:   nil,
}

func (s OrderStatus) Valid() bool {
	_, ok := orderStatusEdges[s]
	return ok
}

func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, t := range orderStatusEdges[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Cancellable reports whether stock restoration via cancel is still allowed.
func (s OrderStatus) Cancellable() bool {
	return s == OrderStatusPending || s == OrderStatusProcessing
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

var paymentStatusEdges = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:  {PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusPaid:     {PaymentStatusRefunded},
	PaymentStatusFailed:   nil,
	PaymentStatusRefunded: nil,
}

func (s PaymentStatus) Valid() bool {
	_, ok := paymentStatusEdges[s]
	return ok
}

func (s PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	for _, t := range paymentStatusEdges[s] {
		if t == target {
			return true
		}
	}
	return false
}

type FulfillmentStatus string

const (
	FulfillmentUnfulfilled FulfillmentStatus = "unfulfilled"
	FulfillmentPartial     FulfillmentStatus = "partial"
	FulfillmentFulfilled   FulfillmentStatus = "fulfilled"
)

var fulfillmentEdges = map[FulfillmentStatus][]FulfillmentStatus{
	FulfillmentUnfulfilled: {FulfillmentPartial, FulfillmentFulfilled},
	FulfillmentPartial:     {FulfillmentFulfilled},
	FulfillmentFulfilled:   nil,
}

func (s FulfillmentStatus) Valid() bool {
	_, ok := fulfillmentEdges[s]
	return ok
}

func (s FulfillmentStatus) CanTransitionTo(target FulfillmentStatus) bool {
	for _, t := range fulfillmentEdges[s] {
		if t == target {
			return true
		}
	}
	return false
}

// PaymentState is the state of one payment attempt against the gateway. An
// order may carry several attempts; at most one reaches succeeded, and the
// order's PaymentStatus is derived from it.
type PaymentState string

const (
	PaymentStatePending   PaymentState = "pending"
	PaymentStateSucceeded PaymentState = "succeeded"
	PaymentStateFailed    PaymentState = "failed"
	PaymentStateRefunded  PaymentState = "refunded"
)
