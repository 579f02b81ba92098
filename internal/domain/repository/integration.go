package repository

import (
	"context"
	"time"
)

// Status es el estado persistido de una integración.
// "expiring_soon" NO se persiste: es una vista derivada del expiry
// (ver EffectiveStatus). Decisión registrada en DESIGN.md.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
	StatusError   Status = "error"

	// StatusExpiringSoon solo existe como valor derivado en lecturas.
	StatusExpiringSoon Status = "expiring_soon"
)

// expiringSoonWindow es la antelación con la que una integración activa se
// reporta como expiring_soon hacia el dashboard.
const expiringSoonWindow = 6 * time.Hour

// Integration es el registro por pareja tenant ↔ cuenta de vendedor ML.
// Los tokens viven solo cifrados (secretbox "enc:v1|..."); el plaintext
// nunca se persiste.
type Integration struct {
	ID       string
	TenantID string

	// Identidad del vendedor conectado. Inmutable salvo reconexión.
	MLUserID   int64
	MLNickname string
	MLEmail    string

	AccessTokenEnc  string
	RefreshTokenEnc string
	// TokenExpiresAt es absoluto: el access token es válido sii now < TokenExpiresAt.
	TokenExpiresAt time.Time

	Scopes []string
	Status Status

	// LastSyncAt lo actualizan jobs de sincronización, no este core.
	LastSyncAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveStatus deriva el estado visible: una integración activa cuyo
// token expira dentro de la ventana se reporta expiring_soon sin tocar la fila.
func (i *Integration) EffectiveStatus(now time.Time) Status {
	if i.Status == StatusActive && now.Add(expiringSoonWindow).After(i.TokenExpiresAt) {
		return StatusExpiringSoon
	}
	return i.Status
}

// TokenExpired reporta si el access token ya venció con el margen dado.
func (i *Integration) TokenExpired(now time.Time, margin time.Duration) bool {
	return !now.Add(margin).Before(i.TokenExpiresAt)
}

// CreateIntegrationInput contiene los datos para crear (o reconectar) una
// integración. Los tokens llegan ya cifrados.
type CreateIntegrationInput struct {
	TenantID        string
	MLUserID        int64
	MLNickname      string
	MLEmail         string
	AccessTokenEnc  string
	RefreshTokenEnc string
	TokenExpiresAt  time.Time
	Scopes          []string
}

// UpdateTokensInput es el swap atómico de credenciales tras un refresh.
// Ambos ciphertexts y el expiry se persisten en un solo statement: un
// refresh que no persiste completo es un refresh fallido.
type UpdateTokensInput struct {
	AccessTokenEnc  string
	RefreshTokenEnc string
	TokenExpiresAt  time.Time
}

// IntegrationRepository define el CRUD tenant-scoped sobre integraciones.
// Es el límite de aislamiento multi-tenant de este core: ninguna operación
// puede devolver filas de otro tenant.
type IntegrationRepository interface {
	// FindActiveByTenant retorna la integración activa del tenant, o
	// ErrNotFound. Si existe más de una activa (violación de integridad de
	// datos) el driver la loguea y retorna la más reciente — no la "primera".
	FindActiveByTenant(ctx context.Context, tenantID string) (*Integration, error)

	// GetByID busca por ID sin filtro de tenant. Solo para uso interno del
	// Token Service; el borde HTTP usa GetByIDForTenant.
	GetByID(ctx context.Context, id string) (*Integration, error)

	// GetByIDForTenant busca por ID verificando pertenencia al tenant.
	// Retorna ErrNotFound si la fila es de otro tenant.
	GetByIDForTenant(ctx context.Context, tenantID, id string) (*Integration, error)

	// Create inserta una integración nueva o reconecta una existente
	// (upsert por tenant_id+ml_user_id: reconexión refresca identidad,
	// tokens y vuelve a status=active). Retorna la fila resultante.
	Create(ctx context.Context, input CreateIntegrationInput) (*Integration, error)

	// UpdateTokens persiste el resultado de un refresh en un solo statement.
	UpdateTokens(ctx context.Context, id string, input UpdateTokensInput) error

	// SetStatus marca revoked/error. Soft: la fila queda para que el
	// dashboard muestre "reconectar".
	SetStatus(ctx context.Context, id string, status Status) error

	// HardDelete elimina la fila (desconexión iniciada por el usuario).
	HardDelete(ctx context.Context, tenantID, id string) error

	// DeleteRevoked purga filas revoked más viejas que el umbral.
	// Retorna cuántas eliminó.
	DeleteRevoked(ctx context.Context, olderThan time.Time) (int, error)

	// ListAll itera todas las integraciones (mercactl token scan).
	ListAll(ctx context.Context) ([]Integration, error)
}
