package cache

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory es el backend in-process sobre go-cache.
// El mutex propio existe solo para que GetDel sea atómico: go-cache no
// ofrece get+delete en una operación.
type Memory struct {
	mu sync.Mutex
	c  *gocache.Cache
}

// NewMemory crea un cache en memoria con el TTL default dado.
func NewMemory(defaultTTL time.Duration) *Memory {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &Memory{c: gocache.New(defaultTTL, time.Minute)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	b, _ := v.([]byte)
	return b, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.c.Set(key, value, ttl)
	return nil
}

func (m *Memory) GetDel(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.c.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	m.c.Delete(key)
	b, _ := v.([]byte)
	return b, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }
