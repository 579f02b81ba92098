package meli

import (
	"encoding/json"
	"net/http"

	dto "github.com/mercaflow/mercaflow/internal/http/dto/meli"
	httperrors "github.com/mercaflow/mercaflow/internal/http/errors"
	mw "github.com/mercaflow/mercaflow/internal/http/middlewares"
	oauthsvc "github.com/mercaflow/mercaflow/internal/http/services/oauth"
	"github.com/mercaflow/mercaflow/internal/observability/logger"
)

// ConnectController maneja GET /v1/meli/connect.
type ConnectController struct {
	flow oauthsvc.FlowService
}

// NewConnectController crea el controller de conexión.
func NewConnectController(flow oauthsvc.FlowService) *ConnectController {
	return &ConnectController{flow: flow}
}

// Connect inicia el flujo de autorización y redirige a ML.
// Con ?redirect=false responde la URL en JSON (para SPAs que abren popup).
func (c *ConnectController) Connect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("ConnectController.Connect"))

	tenantID := mw.GetTenantID(ctx)
	if tenantID == "" {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
		return
	}

	res, err := c.flow.Initiate(ctx, tenantID)
	if err != nil {
		log.Error("failed to initiate flow", logger.Err(err))
		httperrors.WriteError(w, err)
		return
	}

	if r.URL.Query().Get("redirect") == "false" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(dto.ConnectResponse{RedirectURL: res.RedirectURL})
		return
	}

	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}
