package server

import (
	"context"
	"time"

	"github.com/askrepo/askrepo/internal/kvstore"
)

// rateLimiter gates chat requests with two token buckets in the KV store:
// one per client IP and one application-wide.
type rateLimiter struct {
	kv      *kvstore.Store
	enabled bool
	perIP   int
	appWide int
	window  time.Duration
}

// allow consumes one token from both buckets. The tighter retry-after of
// the two wins when either bucket is dry.
func (rl *rateLimiter) allow(ctx context.Context, ip string) (bool, time.Duration, error) {
	if !rl.enabled {
		return true, 0, nil
	}

	ok, retryAfter, err := rl.kv.TakeToken(ctx, "limit:ip:"+ip, rl.perIP, rl.window)
	if err != nil {
		return false, 0, err
	}
	if !ok {
		return false, retryAfter, nil
	}

	ok, appRetry, err := rl.kv.TakeToken(ctx, "limit:app", rl.appWide, rl.window)
	if err != nil {
		return false, 0, err
	}
	if !ok {
		return false, appRetry, nil
	}
	return true, 0, nil
}
