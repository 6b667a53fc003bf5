package turn

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically reclaims terminal sessions past their retention
// window. This generalizes the ad hoc per-approval timeout timer
// (internal/approval uses one time.AfterFunc per pending call, which is
// appropriate there since each timer has a single well-known deadline) into
// a scheduled sweep, since session GC is a pass over every session's
// terminal age and is naturally a recurring maintenance pass rather than a
// one-shot deadline.
type Sweeper struct {
	cr *cron.Cron
}

// NewSweeper builds a Sweeper that calls mgr.SweepExpired on schedule, a
// standard five-field cron expression or a robfig/cron/v3 "@every"
// duration (e.g. "@every 10s", the natural cadence for sub-minute
// retention windows).
func NewSweeper(mgr *Manager, schedule string) (*Sweeper, error) {
	cr := cron.New()
	_, err := cr.AddFunc(schedule, func() {
		if n := mgr.SweepExpired(); n > 0 {
			slog.Debug("turn sweeper reclaimed sessions", "count", n)
		}
	})
	if err != nil {
		return nil, err
	}
	return &Sweeper{cr: cr}, nil
}

// Start runs the schedule in the background until Stop is called.
func (s *Sweeper) Start() {
	s.cr.Start()
}

// Stop halts the schedule and waits for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cr.Stop().Done()
}
