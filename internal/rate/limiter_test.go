package rate

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dropDatabas3/rentsession/internal/kv"
	"github.com/google/uuid"
	rdb "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	l := NewMemoryLimiter(2, 200*time.Millisecond)
	ctx := context.Background()

	r, err := l.Allow(ctx, "otp:+5491100000000")
	require.NoError(t, err)
	require.True(t, r.Allowed)
	require.EqualValues(t, 1, r.Remaining)

	r, _ = l.Allow(ctx, "otp:+5491100000000")
	require.True(t, r.Allowed)
	require.EqualValues(t, 0, r.Remaining)

	r, _ = l.Allow(ctx, "otp:+5491100000000")
	require.False(t, r.Allowed)
	require.EqualValues(t, 3, r.CurrentHits)
	require.Greater(t, r.RetryAfter, time.Duration(0))
	require.LessOrEqual(t, r.RetryAfter, 200*time.Millisecond)

	// otra key no comparte contador
	r, _ = l.Allow(ctx, "otp:+5491111111111")
	require.True(t, r.Allowed)

	time.Sleep(250 * time.Millisecond)
	r, _ = l.Allow(ctx, "otp:+5491100000000")
	require.True(t, r.Allowed)
	require.EqualValues(t, 1, r.CurrentHits)
}

func TestMemoryLimiter_Reset(t *testing.T) {
	l := NewMemoryLimiter(1, time.Minute)
	ctx := context.Background()

	r, _ := l.Allow(ctx, "k")
	require.True(t, r.Allowed)
	r, _ = l.Allow(ctx, "k")
	require.False(t, r.Allowed)

	l.Reset("k")
	r, _ = l.Allow(ctx, "k")
	require.True(t, r.Allowed)
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *rdb.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := rdb.NewClient(&rdb.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLimiter(t *testing.T) {
	mr, client := newMiniRedis(t)
	ctx := context.Background()

	l := NewRedisLimiter(client, "rl-test:", 1, time.Second)
	key := uuid.NewString()

	r, err := l.Allow(ctx, key)
	require.NoError(t, err)
	require.True(t, r.Allowed)
	require.Greater(t, r.WindowTTL, time.Duration(0))

	r, err = l.Allow(ctx, key)
	require.NoError(t, err)
	require.False(t, r.Allowed)
	require.Greater(t, r.RetryAfter, time.Duration(0))
	require.LessOrEqual(t, r.RetryAfter, time.Second)

	mr.FastForward(2 * time.Second)
	r, err = l.Allow(ctx, key)
	require.NoError(t, err)
	require.True(t, r.Allowed)
}

// Una key sin TTL (PEXPIRE perdido) no puede bloquear para siempre.
func TestRedisLimiter_KeyWithoutTTLExpires(t *testing.T) {
	mr, client := newMiniRedis(t)
	ctx := context.Background()
	require.NoError(t, mr.Set("rl:otp:1", "1"))

	l := NewRedisLimiter(client, "rl:", 1, time.Second)
	r, err := l.Allow(ctx, "otp:1")
	require.NoError(t, err)
	require.False(t, r.Allowed)
	require.Greater(t, mr.TTL("rl:otp:1"), time.Duration(0))

	mr.FastForward(2 * time.Second)
	r, err = l.Allow(ctx, "otp:1")
	require.NoError(t, err)
	require.True(t, r.Allowed)
	require.EqualValues(t, 1, r.CurrentHits)
}

func TestKVLimiter_FixedWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	l := NewKVLimiter(kv.NewMemory(), "", 1, 30*time.Second)
	l.now = func() time.Time { return now }

	r, err := l.Allow(ctx, "otp:+5491100000000")
	require.NoError(t, err)
	require.True(t, r.Allowed)

	now = now.Add(10 * time.Second)
	r, err = l.Allow(ctx, "otp:+5491100000000")
	require.NoError(t, err)
	require.False(t, r.Allowed)
	require.Equal(t, 20*time.Second, r.RetryAfter)

	now = now.Add(21 * time.Second)
	r, err = l.Allow(ctx, "otp:+5491100000000")
	require.NoError(t, err)
	require.True(t, r.Allowed)
	require.EqualValues(t, 1, r.CurrentHits)
}

// La ventana vive en el backend: otra instancia (otro proceso) la ve.
func TestKVLimiter_SharedThroughFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")

	b1, err := kv.OpenFile(path, nil)
	require.NoError(t, err)
	r, err := NewKVLimiter(b1, "otpResend:", 1, time.Minute).Allow(ctx, "otp:1")
	require.NoError(t, err)
	require.True(t, r.Allowed)

	b2, err := kv.OpenFile(path, nil)
	require.NoError(t, err)
	l2 := NewKVLimiter(b2, "otpResend:", 1, time.Minute)
	r, err = l2.Allow(ctx, "otp:1")
	require.NoError(t, err)
	require.False(t, r.Allowed)

	require.NoError(t, l2.Reset(ctx, "otp:1"))
	r, err = l2.Allow(ctx, "otp:1")
	require.NoError(t, err)
	require.True(t, r.Allowed)
}

func TestKVLimiter_IgnoresGarbageAndFarFutureWindows(t *testing.T) {
	ctx := context.Background()
	b := kv.NewMemory()
	l := NewKVLimiter(b, "rl:", 1, time.Second)

	require.NoError(t, b.Set(ctx, "rl:a", "garbage"))
	r, err := l.Allow(ctx, "a")
	require.NoError(t, err)
	require.True(t, r.Allowed)

	far := time.Now().Add(24 * time.Hour).UnixMilli()
	require.NoError(t, b.Set(ctx, "rl:b", "5:"+strconv.FormatInt(far, 10)))
	r, err = l.Allow(ctx, "b")
	require.NoError(t, err)
	require.True(t, r.Allowed)
	require.EqualValues(t, 1, r.CurrentHits)
}
