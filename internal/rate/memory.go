package rate

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryLimiter es la variante en proceso sobre go-cache; los contadores
// expiran solos al cerrar la ventana.
type MemoryLimiter struct {
	Max    int64
	Window time.Duration

	mu sync.Mutex
	c  *cache.Cache
}

func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		Max:    int64(max),
		Window: window,
		c:      cache.New(window, 2*window),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	key = strings.ReplaceAll(key, " ", "_")

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	hits := int64(1)
	expires := now.Add(l.Window)
	if v, exp, ok := l.c.GetWithExpiration(key); ok {
		hits = v.(int64) + 1
		expires = exp
	}
	ttl := expires.Sub(now)
	if ttl <= 0 {
		hits, ttl = 1, l.Window
	}
	l.c.Set(key, hits, ttl)
	return newResult(hits, l.Max, ttl, l.Window), nil
}

// Reset olvida los hits de key (p.ej. tras un login exitoso).
func (l *MemoryLimiter) Reset(key string) {
	l.c.Delete(strings.ReplaceAll(key, " ", "_"))
}
