// Package cache provee un cache key-value con soporte multi-backend.
//
// Soporta:
//   - Memory (in-process, desarrollo/testing y single-node)
//   - Redis (distribuido, producción)
//
// El uso principal en este servicio es el state store de OAuth, que
// necesita GetDel: leer y eliminar en una sola operación para garantizar
// consumo one-shot del state.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indica que la key no existe (o expiró).
var ErrNotFound = errors.New("cache: key not found")

// IsNotFound verifica si el error es porque la key no existe.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Client define las operaciones de cache.
type Client interface {
	// Get obtiene un valor. Retorna ErrNotFound si no existe.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set guarda un valor con TTL. Si ttl es 0, usa el default del backend.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// GetDel obtiene y elimina la key en una sola operación.
	// Retorna ErrNotFound si no existe. Es la primitiva one-shot.
	GetDel(ctx context.Context, key string) ([]byte, error)

	// Delete elimina una key. No falla si no existe.
	Delete(ctx context.Context, key string) error

	// Ping verifica la conexión.
	Ping(ctx context.Context) error

	// Close cierra la conexión.
	Close() error
}

// Config configuración para crear un cliente de cache.
type Config struct {
	Kind       string // "memory" | "redis"
	Addr       string
	DB         int
	Prefix     string
	DefaultTTL time.Duration
}

// New crea un cliente de cache según la configuración.
func New(cfg Config) (Client, error) {
	switch cfg.Kind {
	case "redis":
		return NewRedis(cfg)
	case "memory", "":
		return NewMemory(cfg.DefaultTTL), nil
	default:
		return NewMemory(cfg.DefaultTTL), nil
	}
}
