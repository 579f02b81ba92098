// Package meli contiene los controllers del flujo de conexión con
// Mercado Livre y del proxy autenticado hacia su API.
package meli

import (
	"github.com/mercaflow/mercaflow/internal/domain/repository"
	"github.com/mercaflow/mercaflow/internal/gateway"
	oauthsvc "github.com/mercaflow/mercaflow/internal/http/services/oauth"
)

// Controllers agrupa todos los controllers del dominio meli.
type Controllers struct {
	Connect  *ConnectController
	Callback *CallbackController
	Proxy    *ProxyController
}

// Deps son las dependencias compartidas por los controllers meli.
type Deps struct {
	Flow    oauthsvc.FlowService
	Gateway *gateway.Gateway
	Repo    repository.IntegrationRepository
}

// NewControllers crea el agregador de controllers meli.
func NewControllers(d Deps) *Controllers {
	return &Controllers{
		Connect:  NewConnectController(d.Flow),
		Callback: NewCallbackController(d.Flow),
		Proxy:    NewProxyController(d.Gateway, d.Repo),
	}
}
