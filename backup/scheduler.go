/*
scheduler.go - Periodic export

PURPOSE:
  Writes an export on a fixed interval in addition to the per-commit
  export, so a quiet day still leaves a dated file behind.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Writes once immediately on start
  - Failures are logged and counted by the Exporter

USAGE:
  s := NewScheduler(exporter, 6*time.Hour)
  s.Start()
  // ... later
  s.Stop()
*/
package backup

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler triggers Exporter.Write on a ticker.
type Scheduler struct {
	Exporter *Exporter
	Interval time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	runMu   sync.Mutex
	lastRun time.Time
}

func NewScheduler(e *Exporter, interval time.Duration) *Scheduler {
	return &Scheduler{Exporter: e, Interval: interval}
}

// Start begins the scheduler. A non-positive interval disables it.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Interval <= 0 || s.ticker != nil {
		return
	}
	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.Exporter.log.Info("export scheduler started", zap.Duration("interval", s.Interval))
}

// Stop stops the scheduler and waits for a running export.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Exporter.log.Info("export scheduler stopped")
}

func (s *Scheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	s.RunNow()
	for {
		select {
		case <-ticker.C:
			s.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow writes an export immediately.
func (s *Scheduler) RunNow() {
	if _, err := s.Exporter.Write(); err != nil {
		s.Exporter.log.Error("scheduled export failed", zap.Error(err))
	}
	s.runMu.Lock()
	s.lastRun = time.Now()
	s.runMu.Unlock()
}

// NextRunTime returns when the next scheduled export will occur.
func (s *Scheduler) NextRunTime() time.Time {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.lastRun.IsZero() {
		return time.Now()
	}
	return s.lastRun.Add(s.Interval)
}
