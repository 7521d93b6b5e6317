package kvstore

import (
	"context"
	"strconv"
	"time"
)

// TakeToken implements a token bucket stored under key. The bucket refills
// continuously at capacity tokens per window and is capped at capacity.
// When the bucket is empty, allowed is false and retryAfter estimates when
// the next token becomes available.
func (s *Store) TakeToken(ctx context.Context, key string, capacity int, window time.Duration) (allowed bool, retryAfter time.Duration, err error) {
	if capacity <= 0 || window <= 0 {
		return true, 0, nil
	}
	rate := float64(capacity) / window.Seconds()

	err = s.Pipeline(ctx, func(p *Pipe) error {
		state, err := p.HGetAll(key)
		if err != nil {
			return err
		}

		now := s.now()
		tokens := float64(capacity)
		if raw, ok := state["tokens"]; ok {
			tokens, _ = strconv.ParseFloat(raw, 64)
			if rawTS, ok := state["ts"]; ok {
				lastNanos, _ := strconv.ParseInt(rawTS, 10, 64)
				elapsed := now.Sub(time.Unix(0, lastNanos)).Seconds()
				if elapsed > 0 {
					tokens += elapsed * rate
				}
			}
			if tokens > float64(capacity) {
				tokens = float64(capacity)
			}
		}

		if tokens >= 1 {
			tokens--
			allowed = true
		} else {
			retryAfter = time.Duration((1 - tokens) / rate * float64(time.Second))
		}

		if err := p.HSet(key, map[string]string{
			"tokens": strconv.FormatFloat(tokens, 'f', 6, 64),
			"ts":     strconv.FormatInt(now.UnixNano(), 10),
		}); err != nil {
			return err
		}
		// Idle buckets self-destruct after one full refill.
		return p.Expire(key, window)
	})
	if err != nil {
		return false, 0, err
	}
	return allowed, retryAfter, nil
}
