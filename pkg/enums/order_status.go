package enums

import "fmt"

// OrderStatus tracks the lifecycle of a marketplace order.
type OrderStatus string

const (
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	OrderStatusProcessing      OrderStatus = "processing"
	OrderStatusReadyForPickup  OrderStatus = "ready_for_pickup"
	OrderStatusShipped         OrderStatus = "shipped"
	OrderStatusDelivered       OrderStatus = "delivered"
	OrderStatusPickedUp        OrderStatus = "picked_up"
	OrderStatusCompleted       OrderStatus = "completed"
	OrderStatusCancelled       OrderStatus = "cancelled"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusAwaitingPayment,
	OrderStatusProcessing,
	OrderStatusReadyForPickup,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusPickedUp,
	OrderStatusCompleted,
	OrderStatusCancelled,
}

// orderTransitions is the forward-only transition graph. Cancellation is only
// reachable before processing starts.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusAwaitingPayment: {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing:      {OrderStatusReadyForPickup, OrderStatusShipped},
	OrderStatusReadyForPickup:  {OrderStatusPickedUp, OrderStatusCompleted},
	OrderStatusShipped:         {OrderStatusDelivered, OrderStatusCompleted},
	OrderStatusDelivered:       {OrderStatusCompleted},
	OrderStatusPickedUp:        {OrderStatusCompleted},
}

// RevenueRecognizedStatuses are the statuses whose totals count toward a
// business's rolling turnover.
var RevenueRecognizedStatuses = []OrderStatus{
	OrderStatusProcessing,
	OrderStatusReadyForPickup,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusPickedUp,
	OrderStatusCompleted,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, candidate := range orderTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions exist from s.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
