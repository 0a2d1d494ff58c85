package services

import (
	"context"
	"time"

	"github.com/yashrajoria/reservation-service/models"
	awspkg "github.com/yashrajoria/reservation-service/pkg/aws"
	"github.com/yashrajoria/reservation-service/repository"
	"go.uber.org/zap"
)

// SessionSweeper garbage-collects expired checkout sessions and used
// sessions older than the grace period. It runs independently of the
// lock sweeper.
type SessionSweeper struct {
	repo      repository.SessionRepository
	usedGrace time.Duration
	metrics   MetricsRecorder
	reporter  ErrorReporter
	logger    *zap.Logger
	now       func() time.Time
	scheduler *Scheduler
}

func NewSessionSweeper(repo repository.SessionRepository, interval, usedGrace time.Duration, metrics MetricsRecorder, reporter ErrorReporter, logger *zap.Logger) (*SessionSweeper, error) {
	if reporter == nil {
		reporter = LogReporter{Logger: logger}
	}
	s := &SessionSweeper{
		repo:      repo,
		usedGrace: usedGrace,
		metrics:   metrics,
		reporter:  reporter,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	sched, err := NewScheduler("session-sweeper", interval, s.sweep, logger)
	if err != nil {
		return nil, err
	}
	s.scheduler = sched
	return s, nil
}

func (s *SessionSweeper) Start(ctx context.Context) { s.scheduler.Start(ctx) }

func (s *SessionSweeper) Stop() { s.scheduler.Stop() }

func (s *SessionSweeper) sweep(ctx context.Context) {
	removed, err := s.RunOnce(ctx)
	if err != nil {
		s.reporter.Report(ctx, "session-sweeper", err)
		return
	}
	if removed > 0 {
		s.logger.Info("Session sweep finished", zap.Int("removed", removed))
	}
}

// RunOnce deletes collectable sessions and returns how many were removed.
func (s *SessionSweeper) RunOnce(ctx context.Context) (int, error) {
	now := s.now()
	var stale []string

	err := s.repo.Scan(ctx, func(sess *models.CheckoutSession) {
		if s.collectable(sess, now) {
			stale = append(stale, sess.SessionID)
		}
	})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range stale {
		if err := s.repo.Delete(ctx, id); err != nil {
			s.logger.Warn("Failed to delete session", zap.String("session_id", id), zap.Error(err))
			continue
		}
		removed++
	}
	recordValue(ctx, s.metrics, awspkg.MetricSessionsCollected, float64(removed), nil)
	return removed, nil
}

func (s *SessionSweeper) collectable(sess *models.CheckoutSession, now time.Time) bool {
	if !now.Before(sess.ExpiresAt) {
		return true
	}
	return sess.Used && sess.UsedAt != nil && now.Sub(*sess.UsedAt) >= s.usedGrace
}
