package fleet

import (
	"context"
	"sync"
	"time"
)

// SweepMetrics receives sweep outcomes. Implemented by the InfluxDB client;
// nil disables metric recording.
type SweepMetrics interface {
	WriteSweepResult(markedInactive, removed, remaining int)
}

// Sweeper periodically walks the store and applies the liveness lifecycle:
// silent devices are marked inactive, long-silent devices are removed.
//
// The sweeper owns one goroutine with a cancellable ticker. Sweep errors
// are logged and the loop continues; only context cancellation or Stop()
// ends it.
type Sweeper struct {
	store    *Store
	interval time.Duration
	sink     Sink
	logger   Logger
	metrics  SweepMetrics

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// NewSweeper creates a sweeper over the given store.
func NewSweeper(store *Store, interval time.Duration, sink Sink, logger Logger) *Sweeper {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		sink:     sink,
		logger:   logger,
	}
}

// SetMetrics attaches a metrics recorder. Call before Start.
func (s *Sweeper) SetMetrics(metrics SweepMetrics) {
	s.metrics = metrics
}

// Start launches the sweep loop. It returns immediately; the loop runs
// until ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return // already running
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx)

	s.logger.Info("liveness sweeper started", "interval", s.interval.String())
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	s.logger.Info("liveness sweeper stopped")
}

// run is the ticker loop.
func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx, time.Now().UTC())
		}
	}
}

// Force runs a sweep immediately, outside the timer schedule. The result
// is identical to what a timer tick at this instant would produce, and a
// second immediate call removes nothing further.
func (s *Sweeper) Force(ctx context.Context) SweepResult {
	return s.sweep(ctx, time.Now().UTC())
}

// sweep applies both lifecycle passes and reports the outcome.
// Shared by the timer tick and Force so the two paths cannot diverge.
func (s *Sweeper) sweep(ctx context.Context, now time.Time) SweepResult {
	result := s.store.Sweep(now)

	for _, rec := range result.MarkedInactive {
		s.logger.Info("device marked inactive",
			"device_id", rec.DeviceID,
			"device_type", string(rec.Type),
			"last_seen", rec.LastSeen.Format(time.RFC3339),
		)
	}

	for _, rec := range result.Removed {
		s.logger.Info("stale device removed",
			"device_id", rec.DeviceID,
			"device_type", string(rec.Type),
			"last_seen", rec.LastSeen.Format(time.RFC3339),
		)
		s.emit(ctx, NewEvent(ActionRemovedStale, rec.DeviceID, rec.Type, map[string]any{
			"last_seen": rec.LastSeen.UTC().Format(time.RFC3339),
		}))
	}

	if s.metrics != nil {
		s.metrics.WriteSweepResult(len(result.MarkedInactive), len(result.Removed), result.Remaining)
	}

	return result
}

// emit delivers a removal event, logging failures. Sink errors never
// stop the sweep loop.
func (s *Sweeper) emit(ctx context.Context, event Event) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Emit(ctx, event); err != nil {
		s.logger.Warn("event emission failed",
			"event_id", event.ID,
			"action", string(event.Action),
			"error", err,
		)
	}
}
