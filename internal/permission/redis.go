package permission

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/authz-engine/exprauth/pkg/types"
)

// Redis decorates an evaluator with a shared decision cache in Redis, for
// deployments where many instances answer the same permission questions.
//
// Cache failures are treated as misses: the question falls through to the
// delegate. Delegate failures always propagate; a broken store is never
// converted into a deny.
type Redis struct {
	delegate Evaluator
	client   redis.UniversalClient
	ttl      time.Duration
	prefix   string
	logger   *zap.Logger
}

// NewRedis wraps delegate with a Redis decision cache.
func NewRedis(delegate Evaluator, client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		delegate: delegate,
		client:   client,
		ttl:      ttl,
		prefix:   "exprauth:perm:",
		logger:   logger,
	}
}

func (r *Redis) HasPermission(ctx context.Context, auth *types.Authentication, target interface{}, permission string) (bool, error) {
	key := r.key(auth, fmt.Sprintf("%T:%v", target, target), "", permission)
	if allowed, ok := r.lookup(ctx, key); ok {
		return allowed, nil
	}
	allowed, err := r.delegate.HasPermission(ctx, auth, target, permission)
	if err != nil {
		return false, err
	}
	r.store(ctx, key, allowed)
	return allowed, nil
}

func (r *Redis) HasPermissionID(ctx context.Context, auth *types.Authentication, targetID interface{}, targetType, permission string) (bool, error) {
	key := r.key(auth, fmt.Sprintf("%v", targetID), targetType, permission)
	if allowed, ok := r.lookup(ctx, key); ok {
		return allowed, nil
	}
	allowed, err := r.delegate.HasPermissionID(ctx, auth, targetID, targetType, permission)
	if err != nil {
		return false, err
	}
	r.store(ctx, key, allowed)
	return allowed, nil
}

func (r *Redis) lookup(ctx context.Context, key string) (bool, bool) {
	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("permission cache read failed", zap.Error(err))
		}
		return false, false
	}
	return value == "1", true
}

func (r *Redis) store(ctx context.Context, key string, allowed bool) {
	value := "0"
	if allowed {
		value = "1"
	}
	if err := r.client.Set(ctx, key, value, r.ttl).Err(); err != nil {
		r.logger.Warn("permission cache write failed", zap.Error(err))
	}
}

func (r *Redis) key(auth *types.Authentication, target, targetType, permission string) string {
	sum := sha256.Sum256([]byte(decisionKey(auth, target, targetType, permission)))
	return r.prefix + hex.EncodeToString(sum[:16])
}
