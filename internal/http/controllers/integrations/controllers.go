// Package integrations contiene los controllers de gestión de la
// integración del tenant: estado actual y desconexión.
package integrations

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mercaflow/mercaflow/internal/domain/repository"
	dto "github.com/mercaflow/mercaflow/internal/http/dto/meli"
	httperrors "github.com/mercaflow/mercaflow/internal/http/errors"
	mw "github.com/mercaflow/mercaflow/internal/http/middlewares"
	"github.com/mercaflow/mercaflow/internal/observability/logger"
)

// Controller maneja /v1/integrations.
type Controller struct {
	repo   repository.IntegrationRepository
	events repository.SyncEventRepository
}

// NewController crea el controller de integraciones.
func NewController(repo repository.IntegrationRepository, events repository.SyncEventRepository) *Controller {
	return &Controller{repo: repo, events: events}
}

// currentResponse envuelve la integración activa del tenant (o null).
type currentResponse struct {
	Integration *dto.IntegrationResponse `json:"integration"`
}

// Current responde la integración activa del tenant con su estado
// efectivo, o integration:null si no hay ninguna conectada.
func (c *Controller) Current(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("IntegrationsController.Current"))

	tenantID := mw.GetTenantID(ctx)
	if tenantID == "" {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
		return
	}

	var resp currentResponse
	it, err := c.repo.FindActiveByTenant(ctx, tenantID)
	switch {
	case err == nil:
		v := dto.FromIntegration(it)
		resp.Integration = &v
	case repository.IsNotFound(err):
		// sin conexión: el dashboard muestra el botón "conectar"
	default:
		log.Error("failed to load integration", logger.Err(err))
		httperrors.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// Disconnect elimina la integración del tenant (DELETE /v1/integrations/{id}).
// Hard delete: las credenciales cifradas desaparecen de la base.
func (c *Controller) Disconnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("IntegrationsController.Disconnect"))

	tenantID := mw.GetTenantID(ctx)
	if tenantID == "" {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("falta el id"))
		return
	}

	if err := c.repo.HardDelete(ctx, tenantID, id); err != nil {
		if repository.IsNotFound(err) {
			httperrors.WriteError(w, httperrors.ErrNotFound)
			return
		}
		log.Error("failed to delete integration", logger.Err(err))
		httperrors.WriteError(w, err)
		return
	}

	if c.events != nil {
		if err := c.events.Append(ctx, repository.SyncEvent{
			IntegrationID: id,
			TenantID:      tenantID,
			Kind:          repository.SyncEventDisconnected,
			Detail:        "disconnected by user",
		}); err != nil {
			log.Debug("failed to append sync event", logger.Err(err))
		}
	}

	log.Info("integration disconnected", logger.IntegrationID(id))
	w.WriteHeader(http.StatusNoContent)
}
