package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/yashrajoria/reservation-service/models"
	awspkg "github.com/yashrajoria/reservation-service/pkg/aws"
	"github.com/yashrajoria/reservation-service/repository"
	"go.uber.org/zap"
)

// StockService wraps the atomic reservation primitive and stock administration.
type StockService struct {
	repo    repository.StockRepository
	tx      repository.Transactor
	lockTTL time.Duration
	metrics MetricsRecorder
	logger  *zap.Logger
	now     func() time.Time
}

func NewStockService(repo repository.StockRepository, tx repository.Transactor, lockTTL time.Duration, metrics MetricsRecorder, logger *zap.Logger) *StockService {
	return &StockService{
		repo:    repo,
		tx:      tx,
		lockTTL: lockTTL,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Reserve permanently deducts quantity from one SKU, or fails with
// repository.ErrOutOfStock without touching the record.
func (s *StockService) Reserve(ctx context.Context, ref models.SkuRef, quantity int) (*models.ReservationReceipt, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	rcpt, err := s.repo.Reserve(ctx, ref, quantity)
	if err != nil {
		if errors.Is(err, repository.ErrOutOfStock) {
			recordCount(ctx, s.metrics, awspkg.MetricStockOutOfStock, map[string]string{"Sku": ref.String()})
		}
		return nil, err
	}

	recordCount(ctx, s.metrics, awspkg.MetricStockReserved, nil)
	if rcpt.SoldOut {
		recordCount(ctx, s.metrics, awspkg.MetricStockSoldOut, map[string]string{"Sku": ref.String()})
		s.logger.Info("SKU sold out", zap.String("sku", ref.String()))
	}
	return rcpt, nil
}

// HoldCart locks every cart line for the lock TTL. Either every line is
// locked or none is.
func (s *StockService) HoldCart(ctx context.Context, items []models.CartItem) ([]models.ReservationReceipt, error) {
	expiresAt := s.now().Add(s.lockTTL)
	var receipts []models.ReservationReceipt

	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		receipts = receipts[:0]
		for _, item := range items {
			ref, err := models.ResolveSkuRef(item.ProductID, item.VariantID)
			if err != nil {
				return err
			}
			if item.Quantity <= 0 {
				return ErrInvalidQuantity
			}
			rcpt, err := s.repo.Lock(ctx, ref, item.Quantity, expiresAt)
			if err != nil {
				if errors.Is(err, repository.ErrOutOfStock) {
					return fmt.Errorf("%w: sku=%s: %w", ErrStockInsufficient, ref, err)
				}
				return err
			}
			receipts = append(receipts, *rcpt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	recordCount(ctx, s.metrics, awspkg.MetricStockLocked, nil)
	s.logger.Info("Cart held",
		zap.Int("lines", len(receipts)),
		zap.Time("expires_at", expiresAt),
	)
	return receipts, nil
}

// ReleaseHold undoes HoldCart when the checkout could not be started.
func (s *StockService) ReleaseHold(ctx context.Context, receipts []models.ReservationReceipt) {
	for _, r := range receipts {
		if _, err := s.repo.ReleaseLock(ctx, r.Sku, r.HoldID); err != nil {
			// The sweeper reclaims anything left behind.
			s.logger.Warn("Failed to release hold",
				zap.String("sku", r.Sku.String()),
				zap.String("hold_id", r.HoldID),
				zap.Int("quantity", r.Quantity),
				zap.Error(err),
			)
		}
	}
}

func (s *StockService) CreateStock(ctx context.Context, req *models.CreateStockRequest) (*models.StockRecord, error) {
	ref, err := models.ResolveSkuRef(req.ProductID, req.VariantID)
	if err != nil {
		return nil, err
	}
	rec := &models.StockRecord{
		ID:                uuid.NewString(),
		SkuKind:           ref.Kind,
		SkuID:             ref.ID,
		ProductID:         req.ProductID,
		AvailableQuantity: req.Available,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info("Stock record created",
		zap.String("sku", ref.String()),
		zap.Int("available", req.Available),
	)
	return rec, nil
}

func (s *StockService) GetStock(ctx context.Context, ref models.SkuRef) (*models.StockRecord, error) {
	return s.repo.Get(ctx, ref)
}

func (s *StockService) Restock(ctx context.Context, ref models.SkuRef, quantity int) (*models.StockRecord, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	rec, err := s.repo.Restock(ctx, ref, quantity)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Stock replenished",
		zap.String("sku", ref.String()),
		zap.Int("added", quantity),
		zap.Int("available", rec.AvailableQuantity),
	)
	return rec, nil
}

func (s *StockService) DeleteStock(ctx context.Context, ref models.SkuRef) error {
	return s.repo.SoftDelete(ctx, ref)
}
