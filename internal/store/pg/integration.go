package pg

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mercaflow/mercaflow/internal/domain/repository"
	"github.com/mercaflow/mercaflow/internal/observability/logger"
)

// IntegrationRepo implementa repository.IntegrationRepository sobre la tabla
// ml_integration.
type IntegrationRepo struct {
	pool *pgxpool.Pool
}

// NewIntegrationRepo crea el repositorio de integraciones.
func NewIntegrationRepo(pool *pgxpool.Pool) *IntegrationRepo {
	return &IntegrationRepo{pool: pool}
}

const integrationCols = `
	id, tenant_id, ml_user_id, ml_nickname, ml_email,
	access_token_enc, refresh_token_enc, token_expires_at,
	scopes, status, last_sync_at, created_at, updated_at`

func scanIntegration(row pgx.Row) (*repository.Integration, error) {
	var it repository.Integration
	var status string
	err := row.Scan(
		&it.ID, &it.TenantID, &it.MLUserID, &it.MLNickname, &it.MLEmail,
		&it.AccessTokenEnc, &it.RefreshTokenEnc, &it.TokenExpiresAt,
		&it.Scopes, &status, &it.LastSyncAt, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	it.Status = repository.Status(status)
	return &it, nil
}

// FindActiveByTenant retorna la integración activa del tenant.
// Más de una fila activa es una violación de integridad: se loguea y se
// retorna la más reciente, nunca "la primera que salga".
func (r *IntegrationRepo) FindActiveByTenant(ctx context.Context, tenantID string) (*repository.Integration, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+integrationCols+`
		FROM ml_integration
		WHERE tenant_id = $1 AND status = 'active'
		ORDER BY updated_at DESC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []*repository.Integration
	for rows.Next() {
		it, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(found) {
	case 0:
		return nil, repository.ErrNotFound
	case 1:
		return found[0], nil
	default:
		logger.From(ctx).Warn("multiple active integrations for tenant",
			logger.Layer("repository"),
			logger.TenantID(tenantID),
			logger.Count(len(found)),
		)
		return found[0], nil
	}
}

func (r *IntegrationRepo) GetByID(ctx context.Context, id string) (*repository.Integration, error) {
	it, err := scanIntegration(r.pool.QueryRow(ctx, `
		SELECT `+integrationCols+` FROM ml_integration WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return it, err
}

func (r *IntegrationRepo) GetByIDForTenant(ctx context.Context, tenantID, id string) (*repository.Integration, error) {
	// El filtro por tenant vive en el WHERE: una fila de otro tenant es
	// indistinguible de una inexistente.
	it, err := scanIntegration(r.pool.QueryRow(ctx, `
		SELECT `+integrationCols+` FROM ml_integration
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return it, err
}

// Create inserta o reconecta (upsert por tenant_id+ml_user_id) y degrada a
// revoked cualquier otra integración activa del tenant, todo en una tx:
// el invariante "a lo sumo una activa por tenant" se mantiene acá.
func (r *IntegrationRepo) Create(ctx context.Context, input repository.CreateIntegrationInput) (*repository.Integration, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE ml_integration SET status = 'revoked', updated_at = NOW()
		WHERE tenant_id = $1 AND status = 'active' AND ml_user_id <> $2
	`, input.TenantID, input.MLUserID)
	if err != nil {
		return nil, err
	}

	it, err := scanIntegration(tx.QueryRow(ctx, `
		INSERT INTO ml_integration (
			id, tenant_id, ml_user_id, ml_nickname, ml_email,
			access_token_enc, refresh_token_enc, token_expires_at,
			scopes, status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'active', NOW(), NOW())
		ON CONFLICT (tenant_id, ml_user_id) DO UPDATE SET
			ml_nickname       = EXCLUDED.ml_nickname,
			ml_email          = EXCLUDED.ml_email,
			access_token_enc  = EXCLUDED.access_token_enc,
			refresh_token_enc = EXCLUDED.refresh_token_enc,
			token_expires_at  = EXCLUDED.token_expires_at,
			scopes            = EXCLUDED.scopes,
			status            = 'active',
			updated_at        = NOW()
		RETURNING `+integrationCols+`
	`,
		uuid.NewString(), input.TenantID, input.MLUserID, input.MLNickname,
		input.MLEmail, input.AccessTokenEnc, input.RefreshTokenEnc,
		input.TokenExpiresAt, input.Scopes,
	))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return it, nil
}

// UpdateTokens persiste el resultado de un refresh en un solo UPDATE:
// ambos ciphertexts y el expiry, o nada.
func (r *IntegrationRepo) UpdateTokens(ctx context.Context, id string, input repository.UpdateTokensInput) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE ml_integration SET
			access_token_enc  = $2,
			refresh_token_enc = $3,
			token_expires_at  = $4,
			updated_at        = NOW()
		WHERE id = $1
	`, id, input.AccessTokenEnc, input.RefreshTokenEnc, input.TokenExpiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *IntegrationRepo) SetStatus(ctx context.Context, id string, status repository.Status) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE ml_integration SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *IntegrationRepo) HardDelete(ctx context.Context, tenantID, id string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM ml_integration WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *IntegrationRepo) DeleteRevoked(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM ml_integration WHERE status = 'revoked' AND updated_at < $1
	`, olderThan)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *IntegrationRepo) ListAll(ctx context.Context) ([]repository.Integration, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+integrationCols+` FROM ml_integration ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.Integration
	for rows.Next() {
		it, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}
