package permission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/authz-engine/exprauth/internal/cache"
	"github.com/authz-engine/exprauth/pkg/types"
)

// Cached decorates an evaluator with an in-process LRU+TTL cache of grant
// decisions. Only definite answers are cached; delegate failures always
// propagate and are never served from cache.
type Cached struct {
	delegate Evaluator
	cache    cache.Cache
}

// NewCached wraps delegate with a decision cache.
func NewCached(delegate Evaluator, capacity int, ttl time.Duration) *Cached {
	return &Cached{delegate: delegate, cache: cache.NewLRU(capacity, ttl)}
}

func (c *Cached) HasPermission(ctx context.Context, auth *types.Authentication, target interface{}, permission string) (bool, error) {
	key := decisionKey(auth, fmt.Sprintf("%T:%v", target, target), "", permission)
	if cached, ok := c.cache.Get(key); ok {
		return cached.(bool), nil
	}
	allowed, err := c.delegate.HasPermission(ctx, auth, target, permission)
	if err != nil {
		return false, err
	}
	c.cache.Set(key, allowed)
	return allowed, nil
}

func (c *Cached) HasPermissionID(ctx context.Context, auth *types.Authentication, targetID interface{}, targetType, permission string) (bool, error) {
	key := decisionKey(auth, fmt.Sprintf("%v", targetID), targetType, permission)
	if cached, ok := c.cache.Get(key); ok {
		return cached.(bool), nil
	}
	allowed, err := c.delegate.HasPermissionID(ctx, auth, targetID, targetType, permission)
	if err != nil {
		return false, err
	}
	c.cache.Set(key, allowed)
	return allowed, nil
}

// Stats exposes cache statistics.
func (c *Cached) Stats() cache.Stats {
	return c.cache.Stats()
}

// decisionKey folds the principal identity, target and permission into one
// cache key. Authorities are sorted by Authorities so equal grants hash
// equally regardless of registration order.
func decisionKey(auth *types.Authentication, target, targetType, permission string) string {
	name := "anonymous"
	var authorities []string
	if auth != nil {
		name = auth.Name
		authorities = auth.Authorities()
	}
	return strings.Join([]string{name, strings.Join(authorities, ","), targetType, target, permission}, "\x00")
}
