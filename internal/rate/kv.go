package rate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dropDatabas3/rentsession/internal/kv"
)

// KVLimiter guarda la ventana en un kv.Backend, así sobrevive entre
// invocaciones de la CLI igual que las credenciales. El valor es
// "<hits>:<fin de ventana en unix ms>".
//
// No es atómico entre procesos: dos procesos simultáneos pueden contar un
// hit de menos.
type KVLimiter struct {
	Backend kv.Backend
	Prefix  string
	Max     int64
	Window  time.Duration

	now func() time.Time
	mu  sync.Mutex
}

func NewKVLimiter(backend kv.Backend, prefix string, max int, window time.Duration) *KVLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &KVLimiter{
		Backend: backend,
		Prefix:  prefix,
		Max:     int64(max),
		Window:  window,
		now:     time.Now,
	}
}

func (l *KVLimiter) key(k string) string {
	return l.Prefix + strings.ReplaceAll(k, " ", "_")
}

func (l *KVLimiter) Allow(ctx context.Context, key string) (Result, error) {
	k := l.key(key)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	hits, until := int64(1), now.Add(l.Window)
	raw, err := l.Backend.Get(ctx, k)
	switch {
	case kv.IsNotFound(err):
	case err != nil:
		return Result{}, err
	default:
		if h, u, ok := parseWindow(raw); ok {
			// Ventana vencida o más larga que Window (reloj movido, valor
			// ajeno): arranca una nueva.
			if left := u.Sub(now); left > 0 && left <= l.Window {
				hits, until = h+1, u
			}
		}
	}

	if err := l.Backend.Set(ctx, k, fmt.Sprintf("%d:%d", hits, until.UnixMilli())); err != nil {
		return Result{}, err
	}
	return newResult(hits, l.Max, until.Sub(now), l.Window), nil
}

// Reset olvida los hits de key.
func (l *KVLimiter) Reset(ctx context.Context, key string) error {
	return l.Backend.Delete(ctx, l.key(key))
}

func parseWindow(raw string) (hits int64, until time.Time, ok bool) {
	h, u, found := strings.Cut(raw, ":")
	if !found {
		return 0, time.Time{}, false
	}
	hits, err := strconv.ParseInt(h, 10, 64)
	if err != nil || hits < 1 {
		return 0, time.Time{}, false
	}
	ms, err := strconv.ParseInt(u, 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	return hits, time.UnixMilli(ms), true
}
