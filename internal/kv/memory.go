package kv

import (
	"context"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryBackend guarda valores en proceso. Se pierde al reiniciar.
type MemoryBackend struct {
	c *gocache.Cache
}

// NewMemory crea un backend en memoria sin expiración.
func NewMemory() *MemoryBackend {
	return &MemoryBackend{c: gocache.New(gocache.NoExpiration, 0)}
}

func (m *MemoryBackend) Get(_ context.Context, key string) (string, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return "", ErrNotFound
	}
	s, _ := v.(string)
	return s, nil
}

func (m *MemoryBackend) Set(_ context.Context, key, value string) error {
	m.c.Set(key, value, gocache.NoExpiration)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Close() error {
	m.c.Flush()
	return nil
}

// Len retorna la cantidad de keys guardadas.
func (m *MemoryBackend) Len() int { return m.c.ItemCount() }
