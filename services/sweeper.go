package services

import (
	"context"
	"time"

	"patient-buddy-backend/internal/logger"
)

// Sweeper periodically fails reports stuck in processing, so a crashed
// worker never leaves a report spinning forever.
type Sweeper struct {
	store      ReportStore
	staleAfter time.Duration
	interval   time.Duration
	stopChan   chan struct{}
}

func NewSweeper(store ReportStore, staleAfter time.Duration) *Sweeper {
	return &Sweeper{
		store:      store,
		staleAfter: staleAfter,
		interval:   5 * time.Minute,
		stopChan:   make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called.
func (s *Sweeper) Start() {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopChan:
				return
			}
		}
	}()
	logger.Info("Stale report sweeper started", "interval", s.interval.String(), "stale_after", s.staleAfter.String())
}

func (s *Sweeper) Stop() {
	close(s.stopChan)
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := s.store.MarkStaleProcessing(ctx, time.Now().Add(-s.staleAfter))
	if err != nil {
		logger.Error("Stale report sweep failed", "error", err)
		return
	}
	if count > 0 {
		logger.Warn("Marked stale reports as failed", "count", count)
	}
}
