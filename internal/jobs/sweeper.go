package jobs

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SessionSweeper is what the sweeper needs from the attempt service.
type SessionSweeper interface {
	Sweep(retention time.Duration) int
}

// Sweeper periodically evicts finished attempt sessions from the live registry.
type Sweeper struct {
	cron      *cron.Cron
	target    SessionSweeper
	retention time.Duration
	logger    *zap.Logger
}

func NewSweeper(target SessionSweeper, retention time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		cron:      cron.New(),
		target:    target,
		retention: retention,
		logger:    logger,
	}
}

// Schedule registers the sweep under a cron spec (e.g. "@every 1m").
func (s *Sweeper) Schedule(spec string) error {
	_, err := s.cron.AddFunc(spec, s.Run)
	return err
}

// Run performs one sweep.
func (s *Sweeper) Run() {
	if removed := s.target.Sweep(s.retention); removed > 0 {
		s.logger.Info("swept finished sessions", zap.Int("removed", removed))
	}
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
