package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/mpreston/gatekeeper/internal/services"
)

// SchedulerConfig holds the periodic task intervals. Zero values take the
// production defaults; tests shorten them.
type SchedulerConfig struct {
	DrainInterval       time.Duration // queue drain tick
	BudgetResetInterval time.Duration // verification budget window
	LoadWindowInterval  time.Duration // attempts-per-second window
}

// Scheduler runs the three periodic admission tasks from a single goroutine:
// queue drain, verification-budget reset, and the load-monitor window roll.
// One goroutine means the tasks can never overlap, so the read-and-reset
// counters have exactly one authoritative resetter.
type Scheduler struct {
	admission *services.AdmissionService
	verifier  *services.VerifyService
	monitor   *services.LoadMonitor
	config    SchedulerConfig
	logger    *slog.Logger
	stopCh    chan struct{}
}

// NewScheduler creates a new periodic task scheduler
func NewScheduler(
	admission *services.AdmissionService,
	verifier *services.VerifyService,
	monitor *services.LoadMonitor,
	config SchedulerConfig,
	logger *slog.Logger,
) *Scheduler {
	if config.DrainInterval <= 0 {
		config.DrainInterval = 1 * time.Second
	}
	if config.BudgetResetInterval <= 0 {
		config.BudgetResetInterval = 1 * time.Minute
	}
	if config.LoadWindowInterval <= 0 {
		config.LoadWindowInterval = 1 * time.Second
	}
	return &Scheduler{
		admission: admission,
		verifier:  verifier,
		monitor:   monitor,
		config:    config,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the scheduler loop until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	drain := time.NewTicker(s.config.DrainInterval)
	defer drain.Stop()
	budget := time.NewTicker(s.config.BudgetResetInterval)
	defer budget.Stop()
	load := time.NewTicker(s.config.LoadWindowInterval)
	defer load.Stop()

	for {
		select {
		case <-drain.C:
			if released := s.admission.DrainTick(); released > 0 {
				s.logger.Debug("drained login queue", slog.Int("released", released))
			}
		case <-budget.C:
			s.verifier.ResetBudget()
		case <-load.C:
			rate, suppressed := s.monitor.RollWindow()
			if suppressed {
				s.logger.Warn("load suppression active",
					slog.Int64("attempts_per_second", rate))
			}
		case <-s.stopCh:
			s.logger.Info("scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("scheduler context cancelled")
			return
		}
	}
}

// Stop signals the scheduler to stop
func (s *Scheduler) Stop() {
	close(s.stopCh)
}
