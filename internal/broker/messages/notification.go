package messages

import "time"

// Notification kinds understood by the delivery transports downstream.
const (
	NotificationOrderDelayed   = "order_delayed"
	NotificationCapacityAlert  = "capacity_alert"
	NotificationNewRoute       = "new_route"
	NotificationNewDelivery    = "new_delivery"
	NotificationCourierOffline = "courier_offline_alert"
)

// Notification is a fire-and-forget alert for a restaurant operator or a
// courier. How it is delivered (push, websocket, email) is not the engine's
// concern; it only publishes the payload.
type Notification struct {
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Message string `json:"message"`

	RestaurantID *int64 `json:"restaurant_id,omitempty"`
	CourierID    *int64 `json:"courier_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
