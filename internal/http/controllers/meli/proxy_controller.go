package meli

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mercaflow/mercaflow/internal/domain/repository"
	"github.com/mercaflow/mercaflow/internal/gateway"
	httperrors "github.com/mercaflow/mercaflow/internal/http/errors"
	mw "github.com/mercaflow/mercaflow/internal/http/middlewares"
	"github.com/mercaflow/mercaflow/internal/observability/logger"
)

// ProxyController maneja GET /v1/meli/users/me y /v1/meli/proxy/*.
// Reenvía requests al API de ML con las credenciales de la integración
// activa del tenant. El token jamás llega al cliente.
type ProxyController struct {
	gw   *gateway.Gateway
	repo repository.IntegrationRepository
}

// NewProxyController crea el controller del proxy.
func NewProxyController(gw *gateway.Gateway, repo repository.IntegrationRepository) *ProxyController {
	return &ProxyController{gw: gw, repo: repo}
}

// Me responde el perfil del vendedor conectado (GET /users/me en ML).
func (c *ProxyController) Me(w http.ResponseWriter, r *http.Request) {
	c.forward(w, r, "/users/me")
}

// Proxy reenvía el subpath capturado por chi hacia ML.
func (c *ProxyController) Proxy(w http.ResponseWriter, r *http.Request) {
	sub := chi.URLParam(r, "*")
	if sub == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("falta el path upstream"))
		return
	}
	path := "/" + strings.TrimPrefix(sub, "/")
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}
	c.forward(w, r, path)
}

func (c *ProxyController) forward(w http.ResponseWriter, r *http.Request, path string) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("ProxyController.forward"))

	tenantID := mw.GetTenantID(ctx)
	if tenantID == "" {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
		return
	}

	it, err := c.repo.FindActiveByTenant(ctx, tenantID)
	if err != nil {
		if repository.IsNotFound(err) {
			httperrors.WriteError(w, httperrors.ErrIntegrationNotFound)
			return
		}
		log.Error("failed to resolve integration", logger.Err(err))
		httperrors.WriteError(w, err)
		return
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, 4<<20))
		if err != nil {
			httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("no se pudo leer el body"))
			return
		}
	}

	resp, err := c.gw.Do(ctx, it.ID, r.Method, path, body)
	if err != nil {
		log.Warn("upstream request failed", logger.String("upstream_path", path), logger.Err(err))
		httperrors.WriteError(w, err)
		return
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}
