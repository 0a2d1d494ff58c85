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

var ErrInvalidSettlement = errors.New("invalid settlement request")

type SettleOutcome string

const (
	OutcomeCreated        SettleOutcome = "created"
	OutcomeAlreadySettled SettleOutcome = "already_settled"
	// OutcomeUnverified means the order was recorded for audit only. No
	// stock was deducted and no confirmation was sent.
	OutcomeUnverified SettleOutcome = "unverified"
)

// SignatureVerifier checks the gateway signature sent with a client callback.
type SignatureVerifier interface {
	Verify(externalOrderID, externalPaymentID, signature string) bool
}

type SettlementDeps struct {
	Stock    repository.StockRepository
	Orders   repository.OrderRepository
	Tx       repository.Transactor
	Verifier SignatureVerifier
	Sessions *SessionGuard
	// Ledger is required on every path that cannot produce a fulfillable order.
	Ledger repository.ReconciliationRepository

	// Optional collaborators; nil disables them.
	Cache    repository.SettlementCache
	Notifier Notifier
	Events   EventPublisher
	Metrics  MetricsRecorder
}

// SettlementService turns a payment confirmation into exactly one order.
// It is safe to call any number of times, from any trigger, in any order.
type SettlementService struct {
	SettlementDeps
	logger *zap.Logger
	now    func() time.Time
}

func NewSettlementService(deps SettlementDeps, logger *zap.Logger) *SettlementService {
	return &SettlementService{
		SettlementDeps: deps,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Settle looks up an existing order first and returns it unchanged if
// found. Otherwise it deducts stock for every line and creates the order in
// one transaction. A failed signature still records an unverified order.
//
// Requests that did not come from the gateway must carry a checkout session
// token. The session is claimed for the external order id before the
// transaction and handed back if the transaction aborts.
func (s *SettlementService) Settle(ctx context.Context, req *models.SettleRequest) (*models.Order, SettleOutcome, error) {
	if err := req.Validate(); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidSettlement, err)
	}
	log := s.logger.With(
		zap.String("external_order_id", req.ExternalOrderID),
		zap.String("source", req.Source),
	)

	if !req.PreVerified && req.SessionToken == "" {
		recordCount(ctx, s.Metrics, awspkg.MetricSessionsRejected, map[string]string{"Source": req.Source})
		log.Warn("Settlement rejected, no checkout session")
		return nil, "", invalid(ErrSessionMissing)
	}

	existing, err := s.findExisting(ctx, req.ExternalOrderID)
	if err != nil {
		return nil, "", err
	}
	if existing != nil {
		return s.alreadySettled(ctx, log, req, existing)
	}

	claimed := false
	if req.SessionToken != "" {
		if s.Sessions == nil {
			return nil, "", invalid(ErrTokenInvalid)
		}
		sess, err := s.Sessions.ClaimSession(ctx, req.SessionToken, cartItems(req.Items), req.ExternalOrderID)
		if err != nil {
			return nil, "", err
		}
		claimed = true
		req.SessionID = sess.SessionID
		if req.UserID == "" {
			req.UserID = sess.UserID
		}
	}

	verified := req.PreVerified ||
		(s.Verifier != nil && s.Verifier.Verify(req.ExternalOrderID, req.ExternalPaymentID, req.Signature))
	status := models.OrderStatusPending
	if !verified {
		status = models.OrderStatusUnverified
	}
	order := s.newOrder(req, status)

	var winner *models.Order
	err = s.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		winner = nil
		found, err := s.Orders.FindByExternalID(ctx, req.ExternalOrderID)
		if err == nil {
			winner = found
			return nil
		}
		if !errors.Is(err, repository.ErrOrderNotFound) {
			return err
		}

		if verified {
			for _, item := range req.Items {
				if err := s.deduct(ctx, item); err != nil {
					return err
				}
			}
		}
		return s.Orders.Create(ctx, order)
	})

	switch {
	case errors.Is(err, repository.ErrDuplicateOrder):
		// Lost an insert race against a concurrent settlement of the same
		// order, which also holds the session claim.
		winner, err = s.Orders.FindByExternalID(ctx, req.ExternalOrderID)
		if err != nil {
			return nil, "", fmt.Errorf("load concurrently settled order: %w", err)
		}
	case err != nil:
		if claimed {
			s.releaseSession(ctx, req)
		}
		if errors.Is(err, ErrStockInsufficient) {
			log.Warn("Settlement aborted, stock insufficient", zap.Error(err))
			recordCount(ctx, s.Metrics, awspkg.MetricSettlementFailed, map[string]string{"Reason": "out_of_stock"})
			if lerr := s.recordLedger(ctx, req, models.ReconcileOutOfStock, err.Error()); lerr != nil {
				return nil, "", lerr
			}
			return nil, "", err
		}
		log.Error("Settlement transaction failed", zap.Error(err))
		recordCount(ctx, s.Metrics, awspkg.MetricSettlementFailed, map[string]string{"Reason": "internal"})
		return nil, "", fmt.Errorf("settle %s: %w", req.ExternalOrderID, err)
	}

	if winner != nil {
		return s.alreadySettled(ctx, log, req, winner)
	}

	if !verified {
		log.Warn("Payment signature verification failed, order recorded as unverified",
			zap.String("order_id", order.ID))
		recordCount(ctx, s.Metrics, awspkg.MetricOrdersUnverified, map[string]string{"Source": req.Source})
		// A retry finds the order and records the entry again.
		if err := s.recordLedger(ctx, req, models.ReconcileUnverified, unverifiedDetail); err != nil {
			return nil, "", err
		}
		return order, OutcomeUnverified, nil
	}

	log.Info("Order settled",
		zap.String("order_id", order.ID),
		zap.Int("lines", len(order.Products)),
		zap.Int64("total_amount", order.TotalAmount),
	)
	recordCount(ctx, s.Metrics, awspkg.MetricOrdersSettled, map[string]string{"Source": req.Source})
	s.afterCommit(ctx, req, order)
	return order, OutcomeCreated, nil
}

const unverifiedDetail = "payment signature verification failed"

// alreadySettled returns an existing order. An unverified order goes back on
// the ledger each time it is seen, since the first attempt may have failed
// to record it; when the gateway itself confirms the payment the entry is
// raised as a captured payment with no fulfillable order.
func (s *SettlementService) alreadySettled(ctx context.Context, log *zap.Logger, req *models.SettleRequest, order *models.Order) (*models.Order, SettleOutcome, error) {
	log.Info("Payment already settled", zap.String("order_id", order.ID))
	recordCount(ctx, s.Metrics, awspkg.MetricSettlementDuplicates, map[string]string{"Source": req.Source})

	if order.Status == models.OrderStatusUnverified {
		kind, detail := models.ReconcileUnverified, unverifiedDetail
		if req.PreVerified {
			kind = models.ReconcileCapturedUnverified
			detail = "gateway confirmed payment for an order recorded as unverified"
			log.Warn("Captured payment matches an unverified order", zap.String("order_id", order.ID))
		}
		if err := s.recordLedger(ctx, req, kind, detail); err != nil {
			return nil, "", err
		}
	}
	return order, OutcomeAlreadySettled, nil
}

// RecordUnsettleable puts a captured payment that could not be turned into a
// settle request on the reconciliation ledger. The gateway event must not be
// acknowledged unless this succeeds.
func (s *SettlementService) RecordUnsettleable(ctx context.Context, entry *models.ReconciliationEntry) error {
	entry.Kind = models.ReconcileUnsettleable
	if entry.ExternalOrderID == "" {
		entry.ExternalOrderID = entry.ExternalPaymentID
	}
	s.logger.Warn("Captured payment cannot be settled",
		zap.String("external_order_id", entry.ExternalOrderID),
		zap.String("external_payment_id", entry.ExternalPaymentID),
		zap.String("source", entry.Source),
		zap.String("detail", entry.Detail),
	)
	recordCount(ctx, s.Metrics, awspkg.MetricSettlementFailed, map[string]string{"Reason": "unsettleable"})
	return s.record(ctx, entry)
}

// RecordPaymentFailure only logs. Held stock is left for the lock sweeper,
// so there is a single code path that returns stock after a failed payment.
func (s *SettlementService) RecordPaymentFailure(ctx context.Context, externalOrderID, externalPaymentID, source string) {
	s.logger.Info("Payment failed, held stock will be reclaimed by the sweeper",
		zap.String("external_order_id", externalOrderID),
		zap.String("external_payment_id", externalPaymentID),
		zap.String("source", source),
	)
	recordCount(ctx, s.Metrics, awspkg.MetricSettlementFailed, map[string]string{"Reason": "payment_failed"})
}

// GetOrder returns the order settled for an external order id.
func (s *SettlementService) GetOrder(ctx context.Context, externalOrderID string) (*models.Order, error) {
	return s.Orders.FindByExternalID(ctx, externalOrderID)
}

func (s *SettlementService) findExisting(ctx context.Context, externalOrderID string) (*models.Order, error) {
	if s.Cache != nil {
		cached, err := s.Cache.Get(ctx, externalOrderID)
		if err != nil {
			s.logger.Warn("Settlement cache lookup failed", zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	order, err := s.Orders.FindByExternalID(ctx, externalOrderID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	s.cache(ctx, order)
	return order, nil
}

func (s *SettlementService) cache(ctx context.Context, order *models.Order) {
	if s.Cache == nil || order.Status == models.OrderStatusUnverified {
		return
	}
	if err := s.Cache.Put(ctx, order); err != nil {
		s.logger.Warn("Failed to cache settlement", zap.String("order_id", order.ID), zap.Error(err))
	}
}

// deduct consumes the checkout lock for held lines, falling back to a fresh
// deduction when the lock is gone, and deducts directly otherwise.
func (s *SettlementService) deduct(ctx context.Context, item models.LineItem) error {
	ref, err := item.Sku()
	if err != nil {
		return err
	}

	if item.HoldID != "" {
		_, err := s.Stock.CommitLock(ctx, ref, item.HoldID, item.Quantity)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrLockNotHeld) {
			return err
		}
	}

	if _, err := s.Stock.Reserve(ctx, ref, item.Quantity); err != nil {
		if errors.Is(err, repository.ErrOutOfStock) {
			return fmt.Errorf("%w: sku=%s: %w", ErrStockInsufficient, ref, err)
		}
		return err
	}
	return nil
}

func (s *SettlementService) newOrder(req *models.SettleRequest, status models.OrderStatus) *models.Order {
	now := s.now()
	products := make([]models.LineItem, len(req.Items))
	copy(products, req.Items)
	return &models.Order{
		ID:                uuid.NewString(),
		ExternalOrderID:   req.ExternalOrderID,
		ExternalPaymentID: req.ExternalPaymentID,
		UserID:            req.UserID,
		Status:            status,
		Products:          products,
		Shipping:          req.Shipping,
		Amounts:           req.Amounts,
		Source:            req.Source,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// afterCommit runs the best-effort side effects. None of them can undo the order.
func (s *SettlementService) afterCommit(ctx context.Context, req *models.SettleRequest, order *models.Order) {
	s.cache(ctx, order)

	// Token settlements claimed the session up front. A gateway settlement
	// only knows the session id and consumes it here.
	if req.SessionToken == "" && req.SessionID != "" && s.Sessions != nil {
		if err := s.Sessions.MarkUsed(ctx, req.SessionID, req.ExternalOrderID); err != nil {
			s.logger.Warn("Failed to consume checkout session",
				zap.String("session_id", req.SessionID), zap.Error(err))
		}
	}

	if s.Notifier != nil {
		if err := s.Notifier.OrderConfirmed(ctx, order); err != nil {
			recordCount(ctx, s.Metrics, awspkg.MetricNotificationFailed, nil)
			s.logger.Warn("Order confirmation not sent", zap.String("order_id", order.ID), zap.Error(err))
		}
	}

	if s.Events != nil {
		evt := models.DomainEvent{
			Type:      models.EventOrderSettled,
			Key:       order.ExternalOrderID,
			OrderID:   order.ID,
			Status:    string(order.Status),
			Total:     order.TotalAmount,
			Currency:  order.Currency,
			Timestamp: order.CreatedAt,
		}
		if err := s.Events.Publish(ctx, evt); err != nil {
			s.logger.Warn("Failed to publish order.settled event", zap.String("order_id", order.ID), zap.Error(err))
		}
	}
}

// releaseSession hands the session back after an aborted transaction so the
// customer can retry the checkout.
func (s *SettlementService) releaseSession(ctx context.Context, req *models.SettleRequest) {
	if err := s.Sessions.ReleaseSession(context.WithoutCancel(ctx), req.SessionID, req.ExternalOrderID); err != nil {
		s.logger.Warn("Failed to release checkout session",
			zap.String("session_id", req.SessionID),
			zap.String("external_order_id", req.ExternalOrderID),
			zap.Error(err),
		)
	}
}

func (s *SettlementService) recordLedger(ctx context.Context, req *models.SettleRequest, kind, detail string) error {
	return s.record(ctx, &models.ReconciliationEntry{
		Kind:              kind,
		ExternalOrderID:   req.ExternalOrderID,
		ExternalPaymentID: req.ExternalPaymentID,
		Source:            req.Source,
		Detail:            detail,
		Amount:            req.Amounts.TotalAmount,
		Currency:          req.Amounts.Currency,
	})
}

var errLedgerMissing = errors.New("reconciliation ledger not configured")

// record fails the settlement when the entry cannot be written, so the
// trigger is retried instead of the attempt being lost.
func (s *SettlementService) record(ctx context.Context, entry *models.ReconciliationEntry) error {
	err := errLedgerMissing
	if s.Ledger != nil {
		err = s.Ledger.Record(ctx, entry)
	}
	if err != nil {
		s.logger.Error("Failed to write reconciliation entry",
			zap.String("external_order_id", entry.ExternalOrderID),
			zap.String("kind", entry.Kind),
			zap.Error(err),
		)
		return fmt.Errorf("record %s reconciliation entry: %w", entry.Kind, err)
	}
	return nil
}

func cartItems(items []models.LineItem) []models.CartItem {
	out := make([]models.CartItem, len(items))
	for i, it := range items {
		out[i] = it.CartItem()
	}
	return out
}
