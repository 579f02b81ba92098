// Package memory implementa los repositorios del dominio en memoria.
// Para desarrollo (driver=memory) y para los tests de services: mismo
// contrato que pg, sin base de datos.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mercaflow/mercaflow/internal/domain/repository"
	"github.com/mercaflow/mercaflow/internal/observability/logger"
)

// Store implementa IntegrationRepository y SyncEventRepository.
type Store struct {
	mu           sync.RWMutex
	integrations map[string]*repository.Integration
	events       []repository.SyncEvent
	nextEventID  int64
}

// New crea un store vacío.
func New() *Store {
	return &Store{integrations: make(map[string]*repository.Integration)}
}

func clone(it *repository.Integration) *repository.Integration {
	cp := *it
	cp.Scopes = append([]string(nil), it.Scopes...)
	if it.LastSyncAt != nil {
		t := *it.LastSyncAt
		cp.LastSyncAt = &t
	}
	return &cp
}

func (s *Store) FindActiveByTenant(ctx context.Context, tenantID string) (*repository.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found []*repository.Integration
	for _, it := range s.integrations {
		if it.TenantID == tenantID && it.Status == repository.StatusActive {
			found = append(found, it)
		}
	}
	if len(found) == 0 {
		return nil, repository.ErrNotFound
	}
	sort.Slice(found, func(i, j int) bool {
		return found[i].UpdatedAt.After(found[j].UpdatedAt)
	})
	if len(found) > 1 {
		logger.From(ctx).Warn("multiple active integrations for tenant",
			logger.Layer("repository"),
			logger.TenantID(tenantID),
			logger.Count(len(found)),
		)
	}
	return clone(found[0]), nil
}

func (s *Store) GetByID(_ context.Context, id string) (*repository.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.integrations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(it), nil
}

func (s *Store) GetByIDForTenant(ctx context.Context, tenantID, id string) (*repository.Integration, error) {
	it, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if it.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	return it, nil
}

func (s *Store) Create(_ context.Context, input repository.CreateIntegrationInput) (*repository.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	// a lo sumo una activa por tenant
	for _, it := range s.integrations {
		if it.TenantID == input.TenantID && it.Status == repository.StatusActive && it.MLUserID != input.MLUserID {
			it.Status = repository.StatusRevoked
			it.UpdatedAt = now
		}
	}

	// reconexión: upsert por tenant+ml_user
	for _, it := range s.integrations {
		if it.TenantID == input.TenantID && it.MLUserID == input.MLUserID {
			it.MLNickname = input.MLNickname
			it.MLEmail = input.MLEmail
			it.AccessTokenEnc = input.AccessTokenEnc
			it.RefreshTokenEnc = input.RefreshTokenEnc
			it.TokenExpiresAt = input.TokenExpiresAt
			it.Scopes = append([]string(nil), input.Scopes...)
			it.Status = repository.StatusActive
			it.UpdatedAt = now
			return clone(it), nil
		}
	}

	it := &repository.Integration{
		ID:              uuid.NewString(),
		TenantID:        input.TenantID,
		MLUserID:        input.MLUserID,
		MLNickname:      input.MLNickname,
		MLEmail:         input.MLEmail,
		AccessTokenEnc:  input.AccessTokenEnc,
		RefreshTokenEnc: input.RefreshTokenEnc,
		TokenExpiresAt:  input.TokenExpiresAt,
		Scopes:          append([]string(nil), input.Scopes...),
		Status:          repository.StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.integrations[it.ID] = it
	return clone(it), nil
}

func (s *Store) UpdateTokens(_ context.Context, id string, input repository.UpdateTokensInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.integrations[id]
	if !ok {
		return repository.ErrNotFound
	}
	it.AccessTokenEnc = input.AccessTokenEnc
	it.RefreshTokenEnc = input.RefreshTokenEnc
	it.TokenExpiresAt = input.TokenExpiresAt
	it.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SetStatus(_ context.Context, id string, status repository.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.integrations[id]
	if !ok {
		return repository.ErrNotFound
	}
	it.Status = status
	it.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) HardDelete(_ context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.integrations[id]
	if !ok || it.TenantID != tenantID {
		return repository.ErrNotFound
	}
	delete(s.integrations, id)
	return nil
}

func (s *Store) DeleteRevoked(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, it := range s.integrations {
		if it.Status == repository.StatusRevoked && it.UpdatedAt.Before(olderThan) {
			delete(s.integrations, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) ListAll(context.Context) ([]repository.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]repository.Integration, 0, len(s.integrations))
	for _, it := range s.integrations {
		out = append(out, *clone(it))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ---- SyncEventRepository ----

func (s *Store) Append(_ context.Context, ev repository.SyncEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID++
	ev.ID = s.nextEventID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *Store) ListByIntegration(_ context.Context, integrationID string, limit int) ([]repository.SyncEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	var out []repository.SyncEvent
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if s.events[i].IntegrationID == integrationID {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}
