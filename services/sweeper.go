package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yashrajoria/reservation-service/models"
	awspkg "github.com/yashrajoria/reservation-service/pkg/aws"
	"github.com/yashrajoria/reservation-service/repository"
	"go.uber.org/zap"
)

var ErrInvalidSweepConfig = errors.New("sweep interval must be shorter than the lock TTL")

// SweepReport summarizes one sweep.
type SweepReport struct {
	Checked          int           `json:"checked"`
	Unlocked         int           `json:"unlocked"`
	Errored          int           `json:"errored"`
	QuantityReleased int           `json:"quantity_released"`
	Duration         time.Duration `json:"duration"`
}

type SweeperConfig struct {
	Interval  time.Duration
	LockTTL   time.Duration
	BatchSize int
}

// LockSweeper returns expired locks to available stock.
type LockSweeper struct {
	repo      repository.StockRepository
	cfg       SweeperConfig
	metrics   MetricsRecorder
	events    EventPublisher
	reporter  ErrorReporter
	logger    *zap.Logger
	now       func() time.Time
	scheduler *Scheduler
}

func NewLockSweeper(repo repository.StockRepository, cfg SweeperConfig, metrics MetricsRecorder, events EventPublisher, reporter ErrorReporter, logger *zap.Logger) (*LockSweeper, error) {
	if cfg.Interval <= 0 || cfg.LockTTL <= 0 || cfg.Interval >= cfg.LockTTL {
		return nil, fmt.Errorf("%w: interval=%s ttl=%s", ErrInvalidSweepConfig, cfg.Interval, cfg.LockTTL)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if reporter == nil {
		reporter = LogReporter{Logger: logger}
	}

	s := &LockSweeper{
		repo:     repo,
		cfg:      cfg,
		metrics:  metrics,
		events:   events,
		reporter: reporter,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	sched, err := NewScheduler("lock-sweeper", cfg.Interval, s.sweep, logger)
	if err != nil {
		return nil, err
	}
	s.scheduler = sched
	return s, nil
}

func (s *LockSweeper) Start(ctx context.Context) { s.scheduler.Start(ctx) }

func (s *LockSweeper) Stop() { s.scheduler.Stop() }

func (s *LockSweeper) sweep(ctx context.Context) {
	report, err := s.RunOnce(ctx)
	if err != nil {
		recordCount(ctx, s.metrics, awspkg.MetricSweepErrors, map[string]string{"Sweep": "locks"})
		s.reporter.Report(ctx, "lock-sweeper", err)
		return
	}
	if report.Checked > 0 {
		s.logger.Info("Lock sweep finished",
			zap.Int("checked", report.Checked),
			zap.Int("unlocked", report.Unlocked),
			zap.Int("errored", report.Errored),
			zap.Int("quantity_released", report.QuantityReleased),
			zap.Duration("duration", report.Duration),
		)
	}
}

// RunOnce performs a single sweep. Per-record failures are counted and
// skipped; only a failure to query the store is returned.
func (s *LockSweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	now := s.now()
	var report SweepReport

	recs, err := s.repo.FindExpiredLocks(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("query expired locks: %w", err)
	}

	for i := range recs {
		rec := &recs[i]
		report.Checked++

		released, err := s.repo.UnlockExpired(ctx, rec.ID, now)
		if err != nil {
			report.Errored++
			s.logger.Warn("Failed to unlock expired stock",
				zap.String("stock_id", rec.ID),
				zap.String("sku", rec.Ref().String()),
				zap.Error(err),
			)
			continue
		}
		if released == 0 {
			// Committed, released or re-locked since the query.
			continue
		}

		report.Unlocked++
		report.QuantityReleased += released
		s.publishSwept(ctx, rec.Ref(), released, now)
	}
	report.Duration = time.Since(start)

	dims := map[string]string{"Sweep": "locks"}
	recordCount(ctx, s.metrics, awspkg.MetricSweepRuns, dims)
	recordValue(ctx, s.metrics, awspkg.MetricLocksSwept, float64(report.Unlocked), dims)
	recordValue(ctx, s.metrics, awspkg.MetricQuantityReleased, float64(report.QuantityReleased), dims)
	if report.Errored > 0 {
		recordValue(ctx, s.metrics, awspkg.MetricSweepErrors, float64(report.Errored), dims)
	}
	return report, nil
}

func (s *LockSweeper) publishSwept(ctx context.Context, ref models.SkuRef, quantity int, at time.Time) {
	if s.events == nil {
		return
	}
	evt := models.DomainEvent{
		Type:      models.EventStockSwept,
		Key:       ref.String(),
		Sku:       &ref,
		Quantity:  quantity,
		Timestamp: at,
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.Warn("Failed to publish stock.swept event", zap.String("sku", ref.String()), zap.Error(err))
	}
}
