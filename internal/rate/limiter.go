// Package rate limita acciones del lado cliente (p.ej. reenvío de OTP) con
// ventana fija: Max hits por ventana, la ventana arranca en el primer hit.
package rate

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	WindowTTL   time.Duration
	CurrentHits int64
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

func newResult(hits, max int64, ttl, window time.Duration) Result {
	remaining := max - hits
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:     hits <= max,
		Remaining:   remaining,
		CurrentHits: hits,
		WindowTTL:   ttl,
	}
	if !res.Allowed {
		// Retry after: resto de la ventana
		res.RetryAfter = ttl
		if res.RetryAfter <= 0 {
			res.RetryAfter = time.Duration(math.Ceil(window.Seconds())) * time.Second
		}
	}
	return res
}

// RedisLimiter: INCR + PEXPIRE en el primer hit. Compartido entre procesos
// que usan el mismo Redis (varias instancias de la CLI, por ejemplo).
type RedisLimiter struct {
	Client *rdb.Client
	Prefix string
	Max    int64
	Window time.Duration
}

func NewRedisLimiter(client *rdb.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisLimiter{
		Client: client,
		Prefix: prefix,
		Max:    int64(max),
		Window: window,
	}
}

func (l *RedisLimiter) key(k string) string {
	return fmt.Sprintf("%s%s", l.Prefix, strings.ReplaceAll(k, " ", "_"))
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	k := l.key(key)

	pipe := l.Client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}

	// Expiry en el primer hit, o si quedó una key sin TTL (PEXPIRE falló o
	// el proceso murió entre INCR y PEXPIRE): si no, bloquea para siempre.
	if incr.Val() == 1 || ttl.Val() < 0 {
		if err := l.Client.PExpire(ctx, k, l.Window).Err(); err != nil {
			return Result{}, err
		}
		ttl = l.Client.PTTL(ctx, k)
	}
	return newResult(incr.Val(), l.Max, ttl.Val(), l.Window), nil
}
