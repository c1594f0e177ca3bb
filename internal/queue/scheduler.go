package queue

import (
	"context"
	"sync"
	"time"

	svcerrors "repometrics/internal/errors"
	"repometrics/internal/logging"
)

// DefaultPollInterval is the pause between queue drains.
const DefaultPollInterval = 10 * time.Second

// SchedulerConfig contains scheduler configuration.
type SchedulerConfig struct {
	PollInterval time.Duration
	Clock        Clock
}

// Scheduler polls the store on a fixed interval and drains it sequentially:
// one request at a time, strictly FIFO. A single goroutine owns the whole
// loop, so two requests are never in flight at once.
type Scheduler struct {
	store    *Store
	executor *Executor
	logger   *logging.Logger

	interval time.Duration
	clock    Clock

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler. Zero config values fall back to
// defaults; a nil Clock uses the wall clock.
func NewScheduler(store *Store, executor *Executor, logger *logging.Logger, config SchedulerConfig) *Scheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Clock == nil {
		config.Clock = SystemClock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:    store,
		executor: executor,
		logger:   logger,
		interval: config.PollInterval,
		clock:    config.Clock,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the polling loop.
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler", map[string]interface{}{
		"pollInterval": s.interval.String(),
	})

	s.wg.Add(1)
	go s.loop()
}

// Stop halts polling and waits for any in-flight request to reach a terminal
// state. The executing request's context is cancelled so long fetches abort.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping scheduler", nil)
		s.cancel()
		s.wg.Wait()
		s.logger.Info("Scheduler stopped", nil)
	})
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	// Drain immediately on start, then on every tick.
	for {
		s.drain()

		select {
		case <-s.clock.After(s.interval):
		case <-s.ctx.Done():
			return
		}
	}
}

// drain claims and executes requests until the queue is empty. One failing
// request never stops the drain; an unreachable store aborts the current
// tick and is retried on the next one.
func (s *Scheduler) drain() {
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		req, err := s.store.ClaimNext()
		if err != nil {
			if svcerrors.HasCode(err, svcerrors.StoreUnavailable) {
				s.logger.Error("Store unavailable, aborting tick", map[string]interface{}{
					"error": err.Error(),
				})
			} else {
				s.logger.Error("Failed to claim next request", map[string]interface{}{
					"error": err.Error(),
				})
			}
			return
		}
		if req == nil {
			return
		}

		outcome := s.executor.Execute(s.ctx, req)
		s.logger.Debug("Drain step finished", map[string]interface{}{
			"requestId": req.ID,
			"status":    string(outcome.Status),
			"duration":  outcome.Duration.String(),
		})
	}
}
