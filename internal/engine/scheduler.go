package engine

import (
	"errors"
	"log"
	"time"
)

// nextRunAt returns the first time at hour:00 strictly after now, in now's
// location.
func nextRunAt(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// StartScheduler runs an incremental-scope Nightly every day at hour:00
// local time until Stop is called.
func (e *Engine) StartScheduler(hour int) {
	go func() {
		for {
			next := nextRunAt(time.Now(), hour)
			log.Printf("scheduler: next nightly run at %s", next.Format(time.RFC3339))
			timer := time.NewTimer(time.Until(next))

			select {
			case <-timer.C:
				res, err := e.Nightly(e.ctx, false)
				switch {
				case errors.Is(err, ErrRunInProgress):
					log.Printf("scheduler: skipped, a run is already in progress")
				case err != nil:
					log.Printf("scheduler: nightly run failed: %v", err)
				default:
					log.Printf("scheduler: nightly run done, created=%d updated=%d pruned=%d",
						res.EdgesCreated, res.EdgesUpdated, *res.EdgesPruned)
				}
			case <-e.ctx.Done():
				timer.Stop()
				return
			}
		}
	}()
}

// Stop shuts down the scheduler and cancels any run it started.
func (e *Engine) Stop() {
	e.stopOnce.Do(e.cancel)
}
