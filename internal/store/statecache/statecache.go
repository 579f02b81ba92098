// Package statecache implementa el StateStore de OAuth sobre el cache
// (memory o redis). La garantía one-shot sale de GetDel: leer y borrar es
// una sola operación, un state consumido no puede reusarse ni en carrera.
package statecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mercaflow/mercaflow/internal/cache"
	"github.com/mercaflow/mercaflow/internal/domain/repository"
)

const keyPrefix = "oauth:state:"

// Store implementa repository.StateStore.
type Store struct {
	cache cache.Client
}

// New crea el store sobre el cache dado.
func New(c cache.Client) *Store {
	return &Store{cache: c}
}

func (s *Store) Save(ctx context.Context, st repository.OAuthState) error {
	ttl := time.Until(st.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("statecache: state already expired")
	}
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("statecache: marshal state: %w", err)
	}
	return s.cache.Set(ctx, keyPrefix+st.State, b, ttl)
}

func (s *Store) Consume(ctx context.Context, state string) (*repository.OAuthState, error) {
	b, err := s.cache.GetDel(ctx, keyPrefix+state)
	if err != nil {
		if cache.IsNotFound(err) {
			return nil, repository.ErrStateNotFound
		}
		return nil, err
	}
	var st repository.OAuthState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("statecache: unmarshal state: %w", err)
	}
	// el TTL del backend ya venció la key, esto cubre relojes con deriva
	if time.Now().After(st.ExpiresAt) {
		return nil, repository.ErrStateNotFound
	}
	return &st, nil
}

var _ repository.StateStore = (*Store)(nil)
