package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"focushive/presence-service/utils"
)

// Sweeper runs the stale-presence sweep on a fixed interval, independent of
// request handling. A compare-and-swap flag guarantees only one sweep runs at
// a time; a tick that fires while the previous sweep is still going is
// skipped.
type Sweeper struct {
	service  *PresenceService
	interval time.Duration
	logger   *utils.Logger

	running atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSweeper(service *PresenceService, interval time.Duration, logger *utils.Logger) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())

	return &Sweeper{
		service:  service,
		interval: interval,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the periodic sweep loop.
func (s *Sweeper) Start() {
	s.logger.Info("Starting presence sweeper", "interval", s.interval.String())

	s.wg.Add(1)
	go s.run()
}

// Stop shuts the sweep loop down and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Presence sweeper stopped")
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

// sweepOnce runs a single sweep unless one is already in flight. Reports
// whether the sweep actually ran.
func (s *Sweeper) sweepOnce() bool {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Debug("Sweep already in progress, skipping")
		return false
	}
	defer s.running.Store(false)

	evicted := s.service.SweepStalePresence(s.ctx)
	if evicted > 0 {
		s.logger.Info("Swept stale presence records", "evicted", evicted)
	}

	return true
}
