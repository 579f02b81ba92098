package cache

import (
	"context"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// Redis es el backend distribuido. GETDEL (Redis 6.2+) da el consumo
// one-shot sin race entre réplicas del servicio.
type Redis struct {
	c          *rdb.Client
	prefix     string
	defaultTTL time.Duration
}

// NewRedis crea el cliente y verifica la conexión.
func NewRedis(cfg Config) (*Redis, error) {
	client := rdb.NewClient(&rdb.Options{Addr: cfg.Addr, DB: cfg.DB})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Redis{c: client, prefix: cfg.Prefix, defaultTTL: ttl}, nil
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.c.Get(ctx, r.key(key)).Bytes()
	if err == rdb.Nil {
		return nil, ErrNotFound
	}
	return b, err
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	return r.c.Set(ctx, r.key(key), value, ttl).Err()
}

func (r *Redis) GetDel(ctx context.Context, key string) ([]byte, error) {
	b, err := r.c.GetDel(ctx, r.key(key)).Bytes()
	if err == rdb.Nil {
		return nil, ErrNotFound
	}
	return b, err
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.c.Del(ctx, r.key(key)).Err()
}

func (r *Redis) Ping(ctx context.Context) error { return r.c.Ping(ctx).Err() }
func (r *Redis) Close() error                   { return r.c.Close() }
