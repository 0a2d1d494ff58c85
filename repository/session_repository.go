package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/yashrajoria/reservation-service/models"
)

var (
	ErrSessionNotFound    = errors.New("checkout session not found")
	ErrSessionAlreadyUsed = errors.New("checkout session already used")
)

// SessionRepository stores the server-side half of checkout sessions.
type SessionRepository interface {
	Save(ctx context.Context, sess *models.CheckoutSession, ttl time.Duration) error
	Get(ctx context.Context, sessionID string) (*models.CheckoutSession, error)
	// MarkUsed atomically flips used to true and records usedBy. Marking a
	// session again with the same usedBy succeeds; any other caller gets
	// ErrSessionAlreadyUsed.
	MarkUsed(ctx context.Context, sessionID, usedBy string, at time.Time) error
	// Unmark reverts MarkUsed, but only for the caller that holds the mark.
	Unmark(ctx context.Context, sessionID, usedBy string) error
	Delete(ctx context.Context, sessionID string) error
	Scan(ctx context.Context, visit func(*models.CheckoutSession)) error
}

const sessionKeyPrefix = "checkout:session:"

// markUsedScript returns -1 when the session is gone, 0 when another order
// already used it.
var markUsedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if redis.call('HGET', KEYS[1], 'used') == '1' then
  if redis.call('HGET', KEYS[1], 'used_by') == ARGV[2] then return 1 end
  return 0
end
redis.call('HSET', KEYS[1], 'used', '1', 'used_at', ARGV[1], 'used_by', ARGV[2])
return 1
`)

var unmarkScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'used_by') ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'used', '0')
redis.call('HDEL', KEYS[1], 'used_at', 'used_by')
return 1
`)

type RedisSessionRepository struct {
	client *redis.Client
}

func NewRedisSessionRepository(client *redis.Client) *RedisSessionRepository {
	return &RedisSessionRepository{client: client}
}

func (r *RedisSessionRepository) key(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

func (r *RedisSessionRepository) Save(ctx context.Context, sess *models.CheckoutSession, ttl time.Duration) error {
	key := r.key(sess.SessionID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"session_id", sess.SessionID,
			"cart_hash", sess.CartHash,
			"user_id", sess.UserID,
			"created_at", sess.CreatedAt.UnixMilli(),
			"expires_at", sess.ExpiresAt.UnixMilli(),
			"used", boolFlag(sess.Used),
		)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) Get(ctx context.Context, sessionID string) (*models.CheckoutSession, error) {
	fields, err := r.client.HGetAll(ctx, r.key(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}
	return decodeSession(fields), nil
}

func (r *RedisSessionRepository) MarkUsed(ctx context.Context, sessionID, usedBy string, at time.Time) error {
	res, err := markUsedScript.Run(ctx, r.client, []string{r.key(sessionID)}, at.UnixMilli(), usedBy).Int()
	if err != nil {
		return fmt.Errorf("mark session used: %w", err)
	}
	switch res {
	case -1:
		return ErrSessionNotFound
	case 0:
		return ErrSessionAlreadyUsed
	}
	return nil
}

func (r *RedisSessionRepository) Unmark(ctx context.Context, sessionID, usedBy string) error {
	if err := unmarkScript.Run(ctx, r.client, []string{r.key(sessionID)}, usedBy).Err(); err != nil {
		return fmt.Errorf("unmark session: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) Delete(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, r.key(sessionID)).Err()
}

func (r *RedisSessionRepository) Scan(ctx context.Context, visit func(*models.CheckoutSession)) error {
	iter := r.client.Scan(ctx, 0, sessionKeyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		fields, err := r.client.HGetAll(ctx, iter.Val()).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		visit(decodeSession(fields))
	}
	return iter.Err()
}

func decodeSession(fields map[string]string) *models.CheckoutSession {
	sess := &models.CheckoutSession{
		SessionID: fields["session_id"],
		CartHash:  fields["cart_hash"],
		UserID:    fields["user_id"],
		CreatedAt: millis(fields["created_at"]),
		ExpiresAt: millis(fields["expires_at"]),
		Used:      fields["used"] == "1",
		UsedBy:    fields["used_by"],
	}
	if v, ok := fields["used_at"]; ok {
		t := millis(v)
		sess.UsedAt = &t
	}
	return sess
}

func millis(s string) time.Time {
	ms, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
