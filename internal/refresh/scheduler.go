package refresh

import (
	"context"
	"sync"
	"time"

	"boardcache/internal/resource"
	"boardcache/internal/utils"
)

// SchedulerConfig controls the periodic refresh loops.
type SchedulerConfig struct {
	// Interval is the default gap between refreshes of one resource.
	Interval time.Duration
	// Overrides replaces the default interval for specific resources.
	// A zero or negative override disables that resource's loop.
	Overrides map[resource.Type]time.Duration
	// RefreshOnStart triggers one refresh per resource as soon as the
	// scheduler starts, before the first tick.
	RefreshOnStart bool
}

// DefaultInterval matches a board that changes a few times per hour.
const DefaultInterval = 30 * time.Minute

// Scheduler runs one ticker loop per resource type, each triggering
// refreshes through the coordinator. Loops are independent: a slow or
// failing resource never delays the others. Ticks that fire while a
// refresh is still running collapse into it through the lease.
type Scheduler struct {
	coordinator *Coordinator
	cfg         SchedulerConfig
	logger      *utils.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewScheduler creates a scheduler over a coordinator.
func NewScheduler(coordinator *Coordinator, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Scheduler{
		coordinator: coordinator,
		cfg:         cfg,
		logger:      utils.GetLogger(),
	}
}

// intervalFor resolves the effective interval for a resource.
// A zero return disables the loop.
func (s *Scheduler) intervalFor(res resource.Type) time.Duration {
	if override, ok := s.cfg.Overrides[res]; ok {
		if override <= 0 {
			return 0
		}
		return override
	}
	return s.cfg.Interval
}

// Start launches the per-resource loops. It returns immediately; loops run
// until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		for _, res := range resource.All() {
			interval := s.intervalFor(res)
			if interval == 0 {
				s.logger.Info("scheduler: periodic refresh disabled for %s", res)
				continue
			}
			s.wg.Add(1)
			go s.runLoop(ctx, res, interval)
		}
	})
}

// Stop cancels the loops and waits for in-flight refreshes to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

func (s *Scheduler) runLoop(ctx context.Context, res resource.Type, interval time.Duration) {
	defer s.wg.Done()

	s.logger.Debug("scheduler: %s loop started (every %v)", res, interval)

	if s.cfg.RefreshOnStart {
		s.coordinator.Refresh(ctx, res)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("scheduler: %s loop stopped", res)
			return
		case <-ticker.C:
			s.coordinator.Refresh(ctx, res)
		}
	}
}
