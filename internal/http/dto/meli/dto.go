// Package meli contiene los DTOs de integración con Mercado Livre.
// Los tokens (cifrados o no) jamás aparecen en un DTO: lo que sale por
// HTTP es identidad del vendedor y estado de la conexión, nada más.
package meli

import (
	"time"

	"github.com/mercaflow/mercaflow/internal/domain/repository"
)

// IntegrationResponse es la vista pública de una integración.
type IntegrationResponse struct {
	ID             string    `json:"id"`
	MLUserID       int64     `json:"ml_user_id"`
	MLNickname     string    `json:"ml_nickname"`
	MLEmail        string    `json:"ml_email,omitempty"`
	Status         string    `json:"status"`
	Scopes         []string  `json:"scopes,omitempty"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
	ConnectedAt    time.Time `json:"connected_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// FromIntegration arma la vista pública. El status que se muestra es el
// efectivo: una integración activa con token por vencer se reporta
// expiring_soon aunque la fila diga active.
func FromIntegration(it *repository.Integration) IntegrationResponse {
	return IntegrationResponse{
		ID:             it.ID,
		MLUserID:       it.MLUserID,
		MLNickname:     it.MLNickname,
		MLEmail:        it.MLEmail,
		Status:         string(it.EffectiveStatus(time.Now())),
		Scopes:         it.Scopes,
		TokenExpiresAt: it.TokenExpiresAt,
		ConnectedAt:    it.CreatedAt,
		UpdatedAt:      it.UpdatedAt,
	}
}

// CallbackResponse es la respuesta del callback exitoso.
type CallbackResponse struct {
	Integration IntegrationResponse `json:"integration"`
}

// ConnectResponse se usa cuando el cliente pide la URL en vez del 302.
type ConnectResponse struct {
	RedirectURL string `json:"redirect_url"`
}
