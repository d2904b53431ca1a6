package messages

import "time"

// DeliveryStatusChanged is published by the courier app when a delivery
// progresses. The engine consumes it to advance Delivery/Order/Route records
// and courier stats.
type DeliveryStatusChanged struct {
	DeliveryID int64  `json:"delivery_id"`
	CourierID  int64  `json:"courier_id"`
	Status     string `json:"status"`

	Reason string `json:"reason,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// CourierWentOffline signals that a courier dropped its session. The engine
// reacts with the side-effect-free half of the release flow: it reports the
// courier's unstarted deliveries and waits for operator authorization.
type CourierWentOffline struct {
	CourierID  int64     `json:"courier_id"`
	OccurredAt time.Time `json:"occurred_at"`
}
