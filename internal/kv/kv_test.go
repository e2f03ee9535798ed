package kv

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func testKey() string {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	_, err := b.Get(ctx, "authToken")
	require.True(t, IsNotFound(err), "got %v", err)

	require.NoError(t, b.Set(ctx, "authToken", "T1"))
	v, err := b.Get(ctx, "authToken")
	require.NoError(t, err)
	require.Equal(t, "T1", v)

	require.NoError(t, b.Set(ctx, "authToken", "T2"))
	v, err = b.Get(ctx, "authToken")
	require.NoError(t, err)
	require.Equal(t, "T2", v)

	require.NoError(t, b.Delete(ctx, "authToken"))
	require.NoError(t, b.Delete(ctx, "authToken"))
	_, err = b.Get(ctx, "authToken")
	require.True(t, IsNotFound(err))
}

func TestMemoryBackend(t *testing.T) {
	exerciseBackend(t, NewMemory())
}

func TestFileBackend(t *testing.T) {
	b, err := OpenFile(filepath.Join(t.TempDir(), "session.json"), nil)
	require.NoError(t, err)
	exerciseBackend(t, b)
}

func TestFileBackend_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	b1, err := OpenFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, b1.Set(ctx, "adminToken", "A1"))
	require.NoError(t, b1.Set(ctx, "adminRefreshToken", "AR1"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	b2, err := OpenFile(path, nil)
	require.NoError(t, err)
	v, err := b2.Get(ctx, "adminRefreshToken")
	require.NoError(t, err)
	require.Equal(t, "AR1", v)
}

func TestFileBackend_SealedValuesNotInPlaintext(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.json")
	s, err := NewSealer(testKey())
	require.NoError(t, err)

	b, err := OpenFile(path, s)
	require.NoError(t, err)
	require.NoError(t, b.Set(ctx, "authToken", "super-secret-token"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "super-secret-token")

	v, err := b.Get(ctx, "authToken")
	require.NoError(t, err)
	require.Equal(t, "super-secret-token", v)

	// sin clave no se puede leer
	plain, err := OpenFile(path, nil)
	require.NoError(t, err)
	_, err = plain.Get(ctx, "authToken")
	require.ErrorIs(t, err, ErrSealed)
	require.Error(t, plain.Set(ctx, "refreshToken", "x"))
}

func TestFileBackend_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := OpenFile(path, nil)
	require.Error(t, err)
}

func TestFileBackend_WatchSeesOtherWriter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	path := filepath.Join(t.TempDir(), "session.json")

	watched, err := OpenFile(path, nil)
	require.NoError(t, err)
	other, err := OpenFile(path, nil)
	require.NoError(t, err)

	changed := make(chan struct{}, 4)
	ready := make(chan struct{})
	go func() {
		close(ready)
		_ = watched.Watch(ctx, func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
	}()
	<-ready
	// dar tiempo a que el watcher registre el directorio
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, other.Set(ctx, "staffToken", "S1"))

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("watch no notificó la escritura externa")
	}
}

func TestSealer_DetectsTamperAndKeySwap(t *testing.T) {
	s, err := NewSealer(testKey())
	require.NoError(t, err)

	ct, err := s.Seal("authToken", "hola")
	require.NoError(t, err)
	pt, err := s.Open("authToken", ct)
	require.NoError(t, err)
	require.Equal(t, "hola", pt)

	// otra key (additional data) no abre
	_, err = s.Open("adminToken", ct)
	require.ErrorIs(t, err, ErrSealed)

	nb, cb, _ := strings.Cut(ct, "|")
	bs, err := base64.StdEncoding.DecodeString(cb)
	require.NoError(t, err)
	bs[0] ^= 0x01
	_, err = s.Open("authToken", nb+"|"+base64.StdEncoding.EncodeToString(bs))
	require.ErrorIs(t, err, ErrSealed)
}

func TestNewSealer_RejectsBadKeys(t *testing.T) {
	_, err := NewSealer("no-es-base64!!")
	require.Error(t, err)
	_, err = NewSealer(base64.StdEncoding.EncodeToString([]byte("corta")))
	require.Error(t, err)
}

func TestNew_Drivers(t *testing.T) {
	b, err := New(Config{})
	require.NoError(t, err)
	require.Equal(t, "memory", b.Name())

	b, err = New(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "s.json"), SealKey: testKey()})
	require.NoError(t, err)
	require.Equal(t, "file", b.Name())

	_, err = New(Config{Driver: "etcd"})
	require.Error(t, err)
}

func TestRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := NewRedisFromClient(client, "rentsession-test")
	defer b.Close()
	exerciseBackend(t, b)
}
