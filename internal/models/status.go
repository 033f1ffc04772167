package models

// ItemStatus is the production status of an order item.
type ItemStatus string

const (
	ItemStatusNotStarted      ItemStatus = "NOT_STARTED_PRODUCTION"
	ItemStatusCutting         ItemStatus = "CUTTING"
	ItemStatusSewing          ItemStatus = "SEWING"
	ItemStatusFoamCutting     ItemStatus = "FOAM_CUTTING"
	ItemStatusStuffing        ItemStatus = "STUFFING"
	ItemStatusPackaging       ItemStatus = "PACKAGING"
	ItemStatusProductFinished ItemStatus = "PRODUCT_FINISHED"
	ItemStatusReady           ItemStatus = "READY"
)

// ProductionSequence lists the production statuses in workflow order.
var ProductionSequence = []ItemStatus{
	ItemStatusNotStarted,
	ItemStatusCutting,
	ItemStatusSewing,
	ItemStatusFoamCutting,
	ItemStatusStuffing,
	ItemStatusPackaging,
	ItemStatusProductFinished,
	ItemStatusReady,
}

// Rank returns the position of s in ProductionSequence, or -1 if s is not a
// defined status.
func (s ItemStatus) Rank() int {
	for i, st := range ProductionSequence {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the defined statuses.
func (s ItemStatus) Valid() bool { return s.Rank() >= 0 }

// Next returns the status following s. The second result is false when s is
// READY or undefined.
func (s ItemStatus) Next() (ItemStatus, bool) {
	r := s.Rank()
	if r < 0 || r >= len(ProductionSequence)-1 {
		return s, false
	}
	return ProductionSequence[r+1], true
}

// OrderStatus is the lifecycle status of an order.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusApproved        OrderStatus = "APPROVED"
	OrderStatusOrderProcessing OrderStatus = "ORDER_PROCESSING"
	OrderStatusReadyToShip     OrderStatus = "READY_TO_SHIP"
	OrderStatusShipped         OrderStatus = "SHIPPED"
	OrderStatusCompleted       OrderStatus = "COMPLETED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusArchived        OrderStatus = "ARCHIVED"
)

// RecordStatus marks customers, items and users active or inactive.
type RecordStatus string

const (
	RecordStatusActive   RecordStatus = "ACTIVE"
	RecordStatusInactive RecordStatus = "INACTIVE"
)
