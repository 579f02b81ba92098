// Package gateway es el único camino hacia el API de ML con credenciales
// de una integración. Resuelve el token, adjunta el bearer y maneja el 401
// con un único retry tras refresh forzado. Los handlers nunca tocan tokens.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mercaflow/mercaflow/internal/domain/repository"
	"github.com/mercaflow/mercaflow/internal/meli"
	"github.com/mercaflow/mercaflow/internal/metrics"
	"github.com/mercaflow/mercaflow/internal/observability/logger"
	"github.com/mercaflow/mercaflow/internal/token"
)

// TokenSource es lo que el gateway necesita del token service.
type TokenSource interface {
	AccessToken(ctx context.Context, integrationID string) (string, error)
	Refresh(ctx context.Context, integrationID string, force bool) (string, error)
}

// Response es la respuesta upstream ya consumida. El body se bufferea
// completo: las respuestas del API de ML son JSON acotado, no streams.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Gateway ejecuta requests autenticados contra el API de ML.
type Gateway struct {
	tokens  TokenSource
	repo    repository.IntegrationRepository
	apiBase string
	http    *http.Client
}

// Config agrupa las dependencias del gateway.
type Config struct {
	Tokens  TokenSource
	Repo    repository.IntegrationRepository
	APIBase string
	Timeout time.Duration
}

// New crea el gateway. APIBase default: el API público de ML.
func New(cfg Config) *Gateway {
	base := cfg.APIBase
	if base == "" {
		base = "https://api.mercadolibre.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{
		tokens:  cfg.Tokens,
		repo:    cfg.Repo,
		apiBase: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Do ejecuta method+path contra ML en nombre de la integración. El body se
// recibe como bytes para poder reenviarlo intacto en el retry post-refresh.
//
// Contrato del 401: un solo retry con refresh forzado. Si el segundo
// intento también da 401 el token está muerto de verdad: la integración
// pasa a revoked y se retorna ErrUnauthorized. Jamás hay un tercer call.
func (g *Gateway) Do(ctx context.Context, integrationID, method, path string, body []byte) (*Response, error) {
	log := logger.From(ctx).With(
		logger.Layer("gateway"),
		logger.IntegrationID(integrationID),
	)

	accessToken, err := g.tokens.AccessToken(ctx, integrationID)
	if err != nil {
		return nil, err
	}

	resp, err := g.send(ctx, method, path, body, accessToken)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		log.Info("upstream 401, forcing token refresh",
			logger.String("method", method), logger.String("path", path))

		accessToken, err = g.tokens.Refresh(ctx, integrationID, true)
		if err != nil {
			return nil, err
		}

		resp, err = g.send(ctx, method, path, body, accessToken)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			// Token recién refrescado y ML igual lo rechaza: no hay nada
			// más que intentar desde acá.
			if g.repo != nil {
				if serr := g.repo.SetStatus(ctx, integrationID, repository.StatusRevoked); serr != nil {
					log.Error("failed to mark integration revoked", logger.Err(serr))
				}
			}
			log.Warn("fresh token rejected by ML, integration revoked",
				logger.String("method", method), logger.String("path", path))
			return nil, fmt.Errorf("%w: fresh token rejected", meli.ErrUnauthorized)
		}
	}

	if err := upstreamError(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetJSON hace un GET y decodifica el body en out.
func (g *Gateway) GetJSON(ctx context.Context, integrationID, path string, out any) error {
	resp, err := g.Do(ctx, integrationID, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("gateway: decode %s: %w", path, err)
	}
	return nil
}

// send ejecuta un intento. El header Authorization no se loguea nunca.
func (g *Gateway) send(ctx context.Context, method, path string, body []byte, accessToken string) (*Response, error) {
	var rd io.Reader
	if len(body) > 0 {
		rd = bytes.NewReader(body)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	req, err := http.NewRequestWithContext(ctx, method, g.apiBase+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	httpResp, err := g.http.Do(req)
	metrics.GatewayRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.GatewayRequestsTotal.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("%w: %v", meli.ErrNetwork, err)
	}
	defer httpResp.Body.Close()

	metrics.GatewayRequestsTotal.WithLabelValues(method, strconv.Itoa(httpResp.StatusCode)).Inc()

	b, err := io.ReadAll(io.LimitReader(httpResp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", meli.ErrNetwork, err)
	}
	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: b}, nil
}

// upstreamError mapea status no-2xx a la taxonomía de errores de meli.
// El 401 no llega acá: lo resuelve Do con el retry.
func upstreamError(resp *Response) error {
	switch {
	case resp.StatusCode < 400:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &meli.RateLimitError{RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	default:
		var eb struct {
			Message string `json:"message"`
			Code    string `json:"error"`
		}
		_ = json.Unmarshal(resp.Body, &eb)
		if eb.Message == "" {
			eb.Message = strings.TrimSpace(string(resp.Body))
		}
		if eb.Code == "" {
			eb.Code = http.StatusText(resp.StatusCode)
		}
		return &meli.APIError{StatusCode: resp.StatusCode, Code: eb.Code, Message: eb.Message}
	}
}

func retryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

var _ TokenSource = (*token.Service)(nil)
