package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const sweepTimeout = 30 * time.Minute

// Runner is the unit of work the scheduler fires, normally *Sweeper.
type Runner interface {
	Run(ctx context.Context) (*SweepStats, error)
}

// Scheduler fires retention sweeps on a six-field cron spec, e.g.
// "0 0 3 * * *" for 03:00 every night.
type Scheduler struct {
	cron    *cron.Cron
	sweeper Runner
	spec    string
	logger  *zap.Logger
}

func NewScheduler(sweeper Runner, spec string, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		sweeper: sweeper,
		spec:    spec,
		logger:  logger,
	}
}

// Start registers the sweep job and starts the cron loop.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()

		if _, err := s.sweeper.Run(ctx); err != nil {
			s.logger.Error("retention sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule retention sweep %q: %w", s.spec, err)
	}

	s.cron.Start()
	s.logger.Info("retention scheduler started", zap.String("spec", s.spec))
	return nil
}

// Stop halts the cron loop and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
