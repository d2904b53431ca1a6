package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotafood/dispatchbox/internal/services/dispatch"
)

type Repository interface {
	ListAutoDispatchRestaurantIDs(ctx context.Context) ([]int64, error)
}

type Dispatcher interface {
	RunAutomaticDispatch(ctx context.Context, restaurantID int64) (dispatch.DispatchResult, error)
	FlagDelayedOrders(ctx context.Context, restaurantID int64) error
}

// Scheduler drives the periodic dispatch cycle: every tick it lists the
// restaurants with automatic dispatch enabled and runs a pass for each.
// Per-restaurant serialization lives below, in the advisory lock, so
// overlapping cycles are merely wasteful, never incorrect.
type Scheduler struct {
	repo       Repository
	dispatcher Dispatcher

	tickInterval time.Duration
	concurrency  int

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalCycles         atomic.Int64
	totalDispatched     atomic.Int64
	totalRoutes         atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, dispatcher Dispatcher) *Scheduler {
	return &Scheduler{
		repo:         repo,
		dispatcher:   dispatcher,
		tickInterval: 30 * time.Second,
		concurrency:  5,
		triggerCh:    make(chan struct{}, 1),

		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Scheduler) WithSettings(tickInterval time.Duration, concurrency int) *Scheduler {
	if tickInterval > 0 {
		s.tickInterval = tickInterval
	}
	if concurrency > 0 {
		s.concurrency = concurrency
	}
	return s
}

// Trigger forces an immediate cycle (best-effort, non-blocking).
func (s *Scheduler) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt       time.Time  `json:"startedAt"`
	LastCycleAt     *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt   *time.Time `json:"lastTriggerAt,omitempty"`
	TotalCycles     int64      `json:"totalCycles"`
	TotalDispatched int64      `json:"totalDispatched"`
	TotalRoutes     int64      `json:"totalRoutes"`
	TotalErrors     int64      `json:"totalErrors"`
	InFlight        int64      `json:"inFlight"`
	LastError       string     `json:"lastError,omitempty"`
}

func (s *Scheduler) Stats() Stats {
	st := Stats{
		StartedAt:       time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalCycles:     s.totalCycles.Load(),
		TotalDispatched: s.totalDispatched.Load(),
		TotalRoutes:     s.totalRoutes.Load(),
		TotalErrors:     s.totalErrors.Load(),
		InFlight:        s.inFlight.Load(),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.tickInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	s.lastCycleUnixNano.Store(now.UnixNano())
	s.totalCycles.Add(1)

	ids, err := s.repo.ListAutoDispatchRestaurantIDs(ctx)
	if err != nil {
		slog.Error("list auto-dispatch restaurants", "error", err.Error())
		s.totalErrors.Add(1)
		s.setLastError(err.Error())
		return
	}

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for _, id := range ids {
		sem <- struct{}{}
		wg.Add(1)
		s.inFlight.Add(1)
		go func(restaurantID int64) {
			defer func() {
				s.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			res, err := s.dispatcher.RunAutomaticDispatch(ctx, restaurantID)
			if err != nil {
				s.totalErrors.Add(1)
				s.setLastError(err.Error())
				slog.Error("automatic dispatch", "restaurant_id", restaurantID, "error", err.Error())
				return
			}
			s.totalDispatched.Add(int64(res.DispatchedCount))
			s.totalRoutes.Add(int64(res.RoutesCreated))
			if res.DispatchedCount > 0 {
				slog.Info("automatic dispatch",
					"restaurant_id", restaurantID,
					"dispatched", res.DispatchedCount,
					"routes", res.RoutesCreated)
			}
		}(id)
	}
	wg.Wait()
}

func (s *Scheduler) setLastError(msg string) {
	s.lastErrorMu.Lock()
	s.lastError = msg
	s.lastErrorMu.Unlock()
}
