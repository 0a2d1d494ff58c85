package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/yashrajoria/reservation-service/models"
	awspkg "github.com/yashrajoria/reservation-service/pkg/aws"
	"github.com/yashrajoria/reservation-service/repository"
	"go.uber.org/zap"
)

// ErrSessionInvalid is what callers see; the wrapped reason is for logs.
var (
	ErrSessionInvalid = errors.New("checkout session invalid, restart checkout")

	ErrSessionMissing  = errors.New("session token missing")
	ErrTokenInvalid    = errors.New("session token invalid")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionUsed     = errors.New("session already used")
	ErrCartMismatch    = errors.New("cart does not match session")
)

const checkoutTokenType = "checkout"

type sessionClaims struct {
	CartHash string `json:"cart_hash"`
	UserID   string `json:"uid,omitempty"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

// SessionGuard issues single-use checkout session tokens bound to a cart.
type SessionGuard struct {
	repo    repository.SessionRepository
	secret  []byte
	ttl     time.Duration
	metrics MetricsRecorder
	logger  *zap.Logger
	now     func() time.Time
}

func NewSessionGuard(repo repository.SessionRepository, secret string, ttl time.Duration, metrics MetricsRecorder, logger *zap.Logger) *SessionGuard {
	return &SessionGuard{
		repo:    repo,
		secret:  []byte(secret),
		ttl:     ttl,
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func invalid(reason error) error {
	return fmt.Errorf("%w: %w", ErrSessionInvalid, reason)
}

// CreateSession stores a session record and returns its signed token.
// userID may be empty for guest checkout.
func (g *SessionGuard) CreateSession(ctx context.Context, items []models.CartItem, userID string) (*models.SessionToken, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("cart is empty")
	}

	now := g.now()
	sess := &models.CheckoutSession{
		SessionID: uuid.NewString(),
		CartHash:  CartHash(items),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(g.ttl),
	}

	claims := sessionClaims{
		CartHash: sess.CartHash,
		UserID:   userID,
		Type:     checkoutTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.SessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	if err := g.repo.Save(ctx, sess, g.ttl); err != nil {
		return nil, err
	}

	recordCount(ctx, g.metrics, awspkg.MetricSessionsIssued, nil)
	g.logger.Info("Checkout session created",
		zap.String("session_id", sess.SessionID),
		zap.Bool("guest", userID == ""),
		zap.Time("expires_at", sess.ExpiresAt),
	)
	return &models.SessionToken{Token: token, SessionID: sess.SessionID, ExpiresAt: sess.ExpiresAt}, nil
}

// ValidateSession checks the token, the server-side record and, when
// currentItems is non-nil, that the cart has not changed.
func (g *SessionGuard) ValidateSession(ctx context.Context, token string, currentItems []models.CartItem) (*models.CheckoutSession, error) {
	sess, err := g.validate(ctx, token, currentItems, "")
	if err != nil {
		return nil, g.rejected(ctx, err)
	}
	return sess, nil
}

// ClaimSession validates the token and consumes the session for
// externalOrderID in one step, before any stock moves. A retry for the same
// order id is accepted again; any other order is rejected.
func (g *SessionGuard) ClaimSession(ctx context.Context, token string, currentItems []models.CartItem, externalOrderID string) (*models.CheckoutSession, error) {
	sess, err := g.validate(ctx, token, currentItems, externalOrderID)
	if err == nil {
		err = g.MarkUsed(ctx, sess.SessionID, externalOrderID)
	}
	if err != nil {
		return nil, g.rejected(ctx, err)
	}
	return sess, nil
}

func (g *SessionGuard) rejected(ctx context.Context, err error) error {
	if errors.Is(err, ErrSessionInvalid) {
		recordCount(ctx, g.metrics, awspkg.MetricSessionsRejected, nil)
		g.logger.Warn("Checkout session rejected", zap.Error(err))
	}
	return err
}

// validate accepts a used session only when it was used by claimant.
func (g *SessionGuard) validate(ctx context.Context, token string, currentItems []models.CartItem, claimant string) (*models.CheckoutSession, error) {
	if token == "" {
		return nil, invalid(ErrSessionMissing)
	}

	claims, err := g.parse(token)
	if err != nil {
		return nil, invalid(ErrTokenInvalid)
	}

	now := g.now()
	if claims.ExpiresAt == nil || !now.Before(claims.ExpiresAt.Time) {
		g.remove(ctx, claims.ID)
		return nil, invalid(ErrSessionExpired)
	}

	sess, err := g.repo.Get(ctx, claims.ID)
	if errors.Is(err, repository.ErrSessionNotFound) {
		return nil, invalid(ErrSessionNotFound)
	}
	if err != nil {
		return nil, err
	}

	if !now.Before(sess.ExpiresAt) {
		g.remove(ctx, sess.SessionID)
		return nil, invalid(ErrSessionExpired)
	}
	if sess.Used && (claimant == "" || sess.UsedBy != claimant) {
		return nil, invalid(ErrSessionUsed)
	}
	if sess.CartHash != claims.CartHash {
		return nil, invalid(ErrTokenInvalid)
	}
	if currentItems != nil && CartHash(currentItems) != sess.CartHash {
		return nil, invalid(ErrCartMismatch)
	}
	return sess, nil
}

func (g *SessionGuard) remove(ctx context.Context, sessionID string) {
	if err := g.repo.Delete(ctx, sessionID); err != nil {
		g.logger.Warn("Failed to remove expired session", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// parse verifies the signature and token type. Expiry is checked by the
// caller against the guard's clock.
func (g *SessionGuard) parse(token string) (*sessionClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	claims := &sessionClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return g.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("invalid token: %v", err)
	}
	if claims.Type != checkoutTokenType || claims.ID == "" {
		return nil, fmt.Errorf("invalid token type")
	}
	return claims, nil
}

// MarkUsed consumes the session for usedBy. Only one order can hold it;
// marking again for the same order is a no-op.
func (g *SessionGuard) MarkUsed(ctx context.Context, sessionID, usedBy string) error {
	err := g.repo.MarkUsed(ctx, sessionID, usedBy, g.now())
	switch {
	case errors.Is(err, repository.ErrSessionAlreadyUsed):
		return invalid(ErrSessionUsed)
	case errors.Is(err, repository.ErrSessionNotFound):
		return invalid(ErrSessionNotFound)
	case err != nil:
		return err
	}
	g.logger.Info("Checkout session consumed",
		zap.String("session_id", sessionID),
		zap.String("external_order_id", usedBy),
	)
	return nil
}

// ReleaseSession hands a claimed session back after the settlement that
// claimed it rolled back. It has no effect if usedBy does not hold it.
func (g *SessionGuard) ReleaseSession(ctx context.Context, sessionID, usedBy string) error {
	if err := g.repo.Unmark(ctx, sessionID, usedBy); err != nil {
		return err
	}
	g.logger.Info("Checkout session released",
		zap.String("session_id", sessionID),
		zap.String("external_order_id", usedBy),
	)
	return nil
}
