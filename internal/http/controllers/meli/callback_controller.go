package meli

import (
	"encoding/json"
	"net/http"

	dto "github.com/mercaflow/mercaflow/internal/http/dto/meli"
	httperrors "github.com/mercaflow/mercaflow/internal/http/errors"
	oauthsvc "github.com/mercaflow/mercaflow/internal/http/services/oauth"
	"github.com/mercaflow/mercaflow/internal/observability/logger"
)

// CallbackController maneja GET /v1/meli/callback.
// Es el único endpoint de negocio sin sesión: el tenant viene dentro del
// state, que solo este servidor pudo haber emitido.
type CallbackController struct {
	flow oauthsvc.FlowService
}

// NewCallbackController crea el controller del callback.
func NewCallbackController(flow oauthsvc.FlowService) *CallbackController {
	return &CallbackController{flow: flow}
}

// Callback procesa el retorno de ML tras la autorización del vendedor.
func (c *CallbackController) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("CallbackController.Callback"))

	q := r.URL.Query()
	state := q.Get("state")
	code := q.Get("code")

	// ML redirige con ?error=access_denied si el vendedor cancela.
	if mlErr := q.Get("error"); mlErr != "" {
		log.Info("authorization denied by user", logger.String("ml_error", mlErr))
		httperrors.WriteError(w, httperrors.ErrExchangeFailed.WithDetail("el vendedor canceló la autorización"))
		return
	}
	if state == "" || code == "" {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("faltan state o code"))
		return
	}

	it, err := c.flow.Callback(ctx, state, code)
	if err != nil {
		log.Warn("callback failed", logger.Err(err))
		httperrors.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(dto.CallbackResponse{Integration: dto.FromIntegration(it)})
}
