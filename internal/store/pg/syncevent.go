package pg

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mercaflow/mercaflow/internal/domain/repository"
)

// SyncEventRepo implementa repository.SyncEventRepository sobre ml_sync_event.
type SyncEventRepo struct {
	pool *pgxpool.Pool
}

// NewSyncEventRepo crea el repositorio del log de sincronización.
func NewSyncEventRepo(pool *pgxpool.Pool) *SyncEventRepo {
	return &SyncEventRepo{pool: pool}
}

func (r *SyncEventRepo) Append(ctx context.Context, ev repository.SyncEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO ml_sync_event (integration_id, tenant_id, kind, detail, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, ev.IntegrationID, ev.TenantID, string(ev.Kind), ev.Detail)
	return err
}

func (r *SyncEventRepo) ListByIntegration(ctx context.Context, integrationID string, limit int) ([]repository.SyncEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, integration_id, tenant_id, kind, detail, created_at
		FROM ml_sync_event
		WHERE integration_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, integrationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.SyncEvent
	for rows.Next() {
		var ev repository.SyncEvent
		var kind string
		if err := rows.Scan(&ev.ID, &ev.IntegrationID, &ev.TenantID, &kind, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Kind = repository.SyncEventKind(kind)
		out = append(out, ev)
	}
	return out, rows.Err()
}
