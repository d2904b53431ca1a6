package models

import "time"

// Closed status sets. Every transition site switches over these; a raw
// string that is not one of the constants never enters the store.
type OrderType string

const (
	OrderTypeDelivery OrderType = "delivery"
	OrderTypePickup   OrderType = "pickup"
	OrderTypeDineIn   OrderType = "dine_in"
)

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusInPrep         OrderStatus = "in_prep"
	OrderStatusReady          OrderStatus = "ready"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

type CourierStatus string

const (
	CourierStatusPending  CourierStatus = "pending"
	CourierStatusActive   CourierStatus = "active"
	CourierStatusInactive CourierStatus = "inactive"
)

type DeliveryStatus string

const (
	DeliveryStatusPending        DeliveryStatus = "pending"
	DeliveryStatusEnRoute        DeliveryStatus = "en_route"
	DeliveryStatusDelivered      DeliveryStatus = "delivered"
	DeliveryStatusCancelled      DeliveryStatus = "cancelled"
	DeliveryStatusCustomerAbsent DeliveryStatus = "customer_absent"
)

type RouteStatus string

const (
	RouteStatusPending   RouteStatus = "pending"
	RouteStatusStarted   RouteStatus = "started"
	RouteStatusCompleted RouteStatus = "completed"
	RouteStatusCancelled RouteStatus = "cancelled"
)

type DispatchMode string

const (
	DispatchModeAutoEconomic DispatchMode = "auto_economic"
	DispatchModeAutoFIFO     DispatchMode = "auto_fifo"
	DispatchModeManual       DispatchMode = "manual"
)

type Restaurant struct {
	ID   int64
	Name string
	Lat  *float64
	Lon  *float64
}

type Order struct {
	ID           int64
	RestaurantID int64
	Ticket       string
	Type         OrderType
	Status       OrderStatus
	ClientLat    *float64
	ClientLon    *float64
	Value        float64
	// EstimatedPrepMinutes is nil when the kitchen gave no estimate;
	// the SLA monitor falls back to 30 minutes.
	EstimatedPrepMinutes *int
	Dispatched           bool
	RoutePosition        *int
	Delayed              bool
	Observations         string
	CreatedAt            time.Time
}

type Courier struct {
	ID              int64
	RestaurantID    int64
	Name            string
	Status          CourierStatus
	Capacity        int
	CurrentLat      *float64
	CurrentLon      *float64
	TotalDeliveries int64
	TotalEarnings   float64
}

type Delivery struct {
	ID      int64
	OrderID int64
	// CourierID is nil after a release put the order back in the pool.
	CourierID              *int64
	DistanceKm             float64
	RoutePositionOriginal  *int
	RoutePositionOptimized *int
	PrepTimeMinutes        *int
	Value                  float64
	Status                 DeliveryStatus
	AssignedAt             time.Time
	DeliveredAt            *time.Time
	CancellationReason     *string
}

type Route struct {
	ID              int64
	RestaurantID    int64
	CourierID       int64
	TotalOrders     int
	TotalDistanceKm float64
	TotalTimeMin    int
	OrderedOrderIDs []int64
	Status          RouteStatus
	CreatedAt       time.Time
}

// DispatchSettings are per-restaurant tunables, owned by the restaurant
// and read-only to the engine.
type DispatchSettings struct {
	RestaurantID        int64
	AutomaticDispatch   bool
	MaxCoverageRadiusKm float64
	AveragePrepMinutes  int
	Mode                DispatchMode
	// Delivery payout: BaseFee covers the first BaseDistanceKm, each
	// extra km adds PerKmFee.
	BaseFee        float64
	BaseDistanceKm float64
	PerKmFee       float64
}
