/*
sweeper.go - Background eviction of expired reservations

PURPOSE:
  Reserve only evicts the key it touches. Keys that are never dispatched
  again would otherwise stay in memory for the life of the process, so
  the Sweeper prunes the whole Cache on an interval.

USAGE:
  sweeper := notify.NewSweeper(cache, time.Minute, logger)
  sweeper.Start()
  defer sweeper.Stop()
*/
package notify

import (
	"log/slog"
	"sync"
	"time"
)

type Sweeper struct {
	Cache    *Cache
	Interval time.Duration

	logger *slog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweeper creates a sweeper; interval <= 0 defaults to one minute.
func NewSweeper(cache *Cache, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		Cache:    cache,
		Interval: interval,
		logger:   logger,
	}
}

// Start begins sweeping. Calling Start twice is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		return
	}
	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.logger.Info("notification cache sweeper started", "interval", s.Interval, "ttl", s.Cache.TTL())
}

// Stop halts the sweeper and waits for the loop to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.logger.Info("notification cache sweeper stopped")
}

func (s *Sweeper) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-stop:
			return
		}
	}
}

func (s *Sweeper) sweep() {
	if removed := s.Cache.Sweep(); removed > 0 {
		s.logger.Debug("notification cache swept", "removed", removed, "remaining", s.Cache.Len())
	}
}
