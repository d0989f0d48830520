package round

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/moot-session-engine/internal/clock"
	"github.com/R3E-Network/moot-session-engine/internal/logging"
	"github.com/R3E-Network/moot-session-engine/internal/metrics"
)

// ActiveTurnLister is the subset of a round store needed to scan for
// expired turns without locking the whole table: callers typically back
// this with an index on (started_at IS NOT NULL AND is_submitted = false).
type ActiveTurnLister interface {
	ListStartedUnsubmittedTurns(ctx context.Context) ([]Turn, error)
}

// Supervisor periodically sweeps for turns whose allowed_seconds has
// elapsed and force-submits them. No other code in this module
// force-submits on its own: ComputeTimer only reports Expired, so while
// the supervisor is not running an expired turn stays open until a caller
// issues ForceSubmit.
type Supervisor struct {
	turns  ActiveTurnLister
	engine *TurnEngine
	clock  clock.Clock
	log    *logging.Logger
	m      *metrics.Metrics
	cron   *cron.Cron
}

// NewSupervisor constructs a Supervisor. log and m may be nil.
func NewSupervisor(turns ActiveTurnLister, engine *TurnEngine, clk clock.Clock, log *logging.Logger, m *metrics.Metrics) *Supervisor {
	return &Supervisor{turns: turns, engine: engine, clock: clk, log: log, m: m}
}

// Start schedules a sweep every spec string (standard 5-field cron,
// e.g. "@every 5s") and begins running in the background. Call Stop to
// shut it down.
func (s *Supervisor) Start(spec string) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(spec, s.sweepOnce)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the supervisor; in-flight sweeps are allowed to finish.
func (s *Supervisor) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
}

func (s *Supervisor) sweepOnce() {
	ctx := context.Background()
	turns, err := s.turns.ListStartedUnsubmittedTurns(ctx)
	if err != nil {
		if s.log != nil {
			s.log.WithContext(ctx).WithError(err).Warn("round supervisor: failed to list active turns")
		}
		return
	}

	now := s.clock.Now().Unix()
	for _, t := range turns {
		if t.StartedAt == nil {
			continue
		}
		elapsed := now - *t.StartedAt
		if elapsed < t.AllowedSeconds {
			continue
		}
		if _, err := s.engine.ForceSubmit(ctx, t.RoundID, t.ID, now); err != nil {
			if s.log != nil {
				s.log.WithContext(ctx).WithError(err).Warn("round supervisor: force_submit failed")
			}
			continue
		}
		if s.m != nil {
			s.m.RecordTimerExpiry("supervisor")
		}
	}
}
