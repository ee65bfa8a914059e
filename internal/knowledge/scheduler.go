package knowledge

import (
	"context"
	"sync"
	"time"

	"gudagent/pkg/logging"
)

// Refresher is what the scheduler drives; *Index satisfies it.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type RefreshScheduler struct {
	target   Refresher
	interval time.Duration
	timeout  time.Duration
	logger   logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type SchedulerConfig struct {
	Target   Refresher
	Interval time.Duration
	// Timeout bounds a single refresh; defaults to half the interval.
	Timeout time.Duration
	Logger  logging.Logger
}

func NewRefreshScheduler(cfg SchedulerConfig) *RefreshScheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultStaleAfter
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = interval / 2
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &RefreshScheduler{target: cfg.Target, interval: interval, timeout: timeout, logger: logger}
}

// Start refreshes every interval until ctx ends or Stop is called. It does
// not block. Calling Start on a running scheduler is a no-op.
func (s *RefreshScheduler) Start(ctx context.Context) {
	if s == nil || s.target == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runCycle(ctx)
			}
		}
	}()
	s.logger.WithField("interval", s.interval.String()).Info("Knowledge refresh scheduler started")
}

func (s *RefreshScheduler) runCycle(ctx context.Context) {
	refreshCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.target.Refresh(refreshCtx); err != nil && ctx.Err() == nil {
		s.logger.WithError(err).Warn("Scheduled knowledge refresh failed")
	}
}

func (s *RefreshScheduler) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}
