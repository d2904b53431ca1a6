package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rotafood/dispatchbox/internal/broker/messages"
	"github.com/rotafood/dispatchbox/internal/models"
)

func manualFixture() *fakeRepo {
	repo := newFakeRepo()
	setupRestaurant(repo)
	repo.orders = []*models.Order{
		{ID: 1, RestaurantID: 1, Ticket: "A1", Type: models.OrderTypeDelivery,
			Status:    models.OrderStatusReady,
			ClientLat: f64(originLat + latOffsetKm(4)), ClientLon: f64(originLon)},
	}
	repo.couriers = []*models.Courier{
		{ID: 7, RestaurantID: 1, Name: "Bia", Status: models.CourierStatusActive, Capacity: 2},
		{ID: 8, RestaurantID: 2, Name: "Davi", Status: models.CourierStatusActive, Capacity: 2},
	}
	return repo
}

func TestAssignManualOrderNotFound(t *testing.T) {
	repo := manualFixture()
	svc := newTestService(repo, &fakeNotifier{})

	res, err := svc.AssignManual(context.Background(), 99, 7, "ana")
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, "order not found", res.Message)
}

func TestAssignManualCourierNotFound(t *testing.T) {
	repo := manualFixture()
	svc := newTestService(repo, &fakeNotifier{})

	res, err := svc.AssignManual(context.Background(), 1, 99, "ana")
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, "courier not found", res.Message)
}

func TestAssignManualWrongRestaurant(t *testing.T) {
	repo := manualFixture()
	svc := newTestService(repo, &fakeNotifier{})

	res, err := svc.AssignManual(context.Background(), 1, 8, "ana")
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, "courier does not belong to this restaurant", res.Message)
	require.Empty(t, repo.created)
}

func TestAssignManualCourierAtCapacity(t *testing.T) {
	repo := manualFixture()
	repo.activeByCourier[7] = 2

	svc := newTestService(repo, &fakeNotifier{})
	res, err := svc.AssignManual(context.Background(), 1, 7, "ana")
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, "courier at capacity, 2 deliveries", res.Message)
	require.Empty(t, repo.created)
}

func TestAssignManualCreatesDelivery(t *testing.T) {
	repo := manualFixture()
	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier)

	res, err := svc.AssignManual(context.Background(), 1, 7, "ana")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "order A1 assigned to courier Bia", res.Message)

	require.Len(t, repo.created, 1)
	call := repo.created[0]
	require.Equal(t, int64(1), call.orderID)
	require.Equal(t, int64(7), call.courierID)
	require.Equal(t, "[MANUAL] assigned by ana", call.note)
	require.InDelta(t, 4.0, call.distanceKm, 0.05)
	require.InDelta(t, 6.5, call.value, 0.1)

	require.Len(t, notifier.calls, 1)
	require.Equal(t, "new_delivery", notifier.calls[0].kind)
	require.Equal(t, i64(7), notifier.calls[0].courierID)
}

func TestAssignManualReassignsInPlace(t *testing.T) {
	repo := manualFixture()
	repo.deliveries[42] = &models.Delivery{
		ID: 42, OrderID: 1, CourierID: i64(8), Status: models.DeliveryStatusPending,
	}

	svc := newTestService(repo, &fakeNotifier{})
	res, err := svc.AssignManual(context.Background(), 1, 7, "ana")
	require.NoError(t, err)
	require.True(t, res.Success)

	// The existing execution record moves; no duplicate is created.
	require.Empty(t, repo.created)
	require.Len(t, repo.reassigned, 1)
	require.Equal(t, int64(42), repo.reassigned[0].deliveryID)
	require.Equal(t, int64(7), repo.reassigned[0].courierID)
	require.Equal(t, "[MANUAL] assigned by ana", repo.reassigned[0].note)
}

func TestAssignManualMissingCoordinates(t *testing.T) {
	repo := manualFixture()
	repo.orders[0].ClientLat, repo.orders[0].ClientLon = nil, nil

	svc := newTestService(repo, &fakeNotifier{})
	res, err := svc.AssignManual(context.Background(), 1, 7, "ana")
	require.NoError(t, err)
	require.True(t, res.Success)

	// Operator override still goes through, just without pricing.
	require.Len(t, repo.created, 1)
	require.Zero(t, repo.created[0].distanceKm)
	require.Zero(t, repo.created[0].value)
}

func TestReleaseCourierNotFound(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeNotifier{})

	res, err := svc.ReleaseCourierPendingDeliveries(context.Background(), 99, true)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, "courier not found", res.Message)
}

func TestReleaseNoPendingDeliveries(t *testing.T) {
	repo := manualFixture()
	svc := newTestService(repo, &fakeNotifier{})

	res, err := svc.ReleaseCourierPendingDeliveries(context.Background(), 7, true)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "no pending deliveries", res.Message)
	require.Zero(t, res.ReleasedCount)
	require.Empty(t, repo.released)
}

func TestReleaseUnauthorizedOnlyReports(t *testing.T) {
	repo := manualFixture()
	repo.pendingByCour[7] = []*models.Delivery{
		{ID: 1, OrderID: 1, CourierID: i64(7), Status: models.DeliveryStatusPending},
		{ID: 2, OrderID: 2, CourierID: i64(7), Status: models.DeliveryStatusPending},
	}

	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier)

	for i := 0; i < 2; i++ {
		res, err := svc.ReleaseCourierPendingDeliveries(context.Background(), 7, false)
		require.NoError(t, err)
		require.False(t, res.Success)
		require.Equal(t, "awaiting operator authorization", res.Message)
		require.Equal(t, 2, res.PendingCount)
	}

	// Two reports, zero mutation: the deliveries stay assigned.
	require.Empty(t, repo.released)
	require.Len(t, repo.pendingByCour[7], 2)
	require.Len(t, notifier.calls, 2)
	require.Equal(t, "courier_offline_alert", notifier.calls[0].kind)
	require.Equal(t, i64(1), notifier.calls[0].restaurantID)
}

func TestReleaseAuthorized(t *testing.T) {
	repo := manualFixture()
	repo.pendingByCour[7] = []*models.Delivery{
		{ID: 1, OrderID: 1, CourierID: i64(7), Status: models.DeliveryStatusPending},
	}

	svc := newTestService(repo, &fakeNotifier{})
	res, err := svc.ReleaseCourierPendingDeliveries(context.Background(), 7, true)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 1, res.ReleasedCount)
	require.Equal(t, "1 delivery(ies) released", res.Message)

	require.Len(t, repo.released, 1)
	require.Equal(t, int64(7), repo.released[0].courierID)
	require.Contains(t, repo.released[0].reason, "courier Bia offline")

	// Released orders get redistributed right away.
	require.Equal(t, 1, repo.lockCalls)
}

func TestApplyStatusUpdate(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeNotifier{})
	when := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := svc.ApplyStatusUpdate(context.Background(), messages.DeliveryStatusChanged{
		DeliveryID: 5,
		CourierID:  7,
		Status:     "delivered",
		OccurredAt: when,
	})
	require.NoError(t, err)

	require.Len(t, repo.applied, 1)
	require.Equal(t, int64(5), repo.applied[0].DeliveryID)
	require.Equal(t, models.DeliveryStatusDelivered, repo.applied[0].Status)
	require.Equal(t, when, repo.applied[0].OccurredAt)
}

func TestApplyStatusUpdateRejectsBadInput(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeNotifier{})

	err := svc.ApplyStatusUpdate(context.Background(), messages.DeliveryStatusChanged{
		CourierID: 7, Status: "delivered",
	})
	require.Error(t, err)

	err = svc.ApplyStatusUpdate(context.Background(), messages.DeliveryStatusChanged{
		DeliveryID: 5, CourierID: 7, Status: "teleported",
	})
	require.Error(t, err)
	require.Empty(t, repo.applied)
}

func TestApplyStatusUpdateDefaultsTimestamp(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakeNotifier{})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	err := svc.ApplyStatusUpdate(context.Background(), messages.DeliveryStatusChanged{
		DeliveryID: 5, CourierID: 7, Status: "en_route",
	})
	require.NoError(t, err)
	require.Equal(t, now, repo.applied[0].OccurredAt)
}
