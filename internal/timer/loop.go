package timer

import (
	"context"
	"time"
)

// runLoop drives the engine: one scan per tick, one goroutine per due
// firing. The loop never waits for an engine invocation; a quiescent or
// empty timer set costs a single map scan per tick.
func (s *Service) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

// dispatchDue launches an engine invocation for every active timer whose
// next run is due and that has no firing in flight. Dispatch is
// fire-and-forget; completion order between timers is unspecified.
func (s *Service) dispatchDue(ctx context.Context) {
	now := s.now()

	s.mu.RLock()
	var due []string
	for id, t := range s.timers {
		if t.Status == StatusActive && !t.NextRun.After(now) {
			due = append(due, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range due {
		s.fmu.Lock()
		if s.inFlight[id] {
			s.fmu.Unlock()
			s.log.Debug().Str("timer_id", id).Msg("previous firing still running; dispatch skipped")
			continue
		}
		s.inFlight[id] = true
		s.fmu.Unlock()

		s.engineWG.Add(1)
		go func(id string) {
			defer s.engineWG.Done()
			defer func() {
				s.fmu.Lock()
				delete(s.inFlight, id)
				s.fmu.Unlock()
			}()
			s.fire(ctx, id)
		}(id)
	}
}

// TickOnce runs a single scan synchronously and waits for the firings it
// dispatched. Intended for tests driving a fake clock.
func (s *Service) TickOnce(ctx context.Context) {
	s.dispatchDue(ctx)
	s.engineWG.Wait()
}
