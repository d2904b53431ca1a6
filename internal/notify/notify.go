package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rotafood/dispatchbox/internal/broker/messages"
)

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Service publishes notifications to the alerts topic. Publishing is
// best-effort: a broker failure is logged and swallowed so it can never
// change the outcome of a dispatch pass.
type Service struct {
	producer Producer
	rl       RateLimiter
	topic    string

	throttleWindow time.Duration
	now            func() time.Time
}

func New(producer Producer, rl RateLimiter, topic string) *Service {
	return &Service{
		producer:       producer,
		rl:             rl,
		topic:          topic,
		throttleWindow: 5 * time.Minute,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithThrottleWindow(d time.Duration) *Service {
	if d > 0 {
		s.throttleWindow = d
	}
	return s
}

// Notify builds and publishes one notification. Capacity alerts repeat on
// every periodic run while the condition holds, so those kinds are throttled
// per restaurant through the rate limiter (best-effort as well).
func (s *Service) Notify(ctx context.Context, kind, title, message string, restaurantID, courierID *int64) {
	if s == nil || s.producer == nil {
		return
	}

	if s.rl != nil && throttled(kind) && restaurantID != nil {
		key := fmt.Sprintf("notify:%s:%d", kind, *restaurantID)
		ok, _, err := s.rl.Allow(ctx, key, 1, s.throttleWindow)
		if err == nil && !ok {
			return
		}
	}

	n := messages.Notification{
		Kind:         kind,
		Title:        title,
		Message:      message,
		RestaurantID: restaurantID,
		CourierID:    courierID,
		CreatedAt:    s.now(),
	}

	b, err := json.Marshal(n)
	if err != nil {
		slog.Error("notify: marshal", "kind", kind, "err", err)
		return
	}

	key := []byte(kind)
	if restaurantID != nil {
		key = []byte(fmt.Sprintf("%s:%d", kind, *restaurantID))
	}
	if err := s.producer.Publish(ctx, s.topic, key, b); err != nil {
		slog.Error("notify: publish", "kind", kind, "err", err)
	}
}

func throttled(kind string) bool {
	switch kind {
	case messages.NotificationCapacityAlert, messages.NotificationCourierOffline:
		return true
	}
	return false
}
