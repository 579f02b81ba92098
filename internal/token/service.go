// Package token garantiza que todo caller reciba un access token vivo y
// usable, o un error tipado explícito. Es el único lugar del sistema que
// muta credenciales: descifra, refresca contra ML, recifra y persiste.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mercaflow/mercaflow/internal/domain/repository"
	"github.com/mercaflow/mercaflow/internal/meli"
	"github.com/mercaflow/mercaflow/internal/metrics"
	"github.com/mercaflow/mercaflow/internal/observability/logger"
	"github.com/mercaflow/mercaflow/internal/security/secretbox"
)

var (
	// ErrIntegrationNotFound indica que la integración no existe.
	ErrIntegrationNotFound = errors.New("token: integration not found")

	// ErrReauthRequired indica que la integración quedó inutilizable
	// (refresh token rechazado, ciphertext ilegible o status no activo) y
	// el vendedor debe reconectar su cuenta ML. Nunca se reintenta.
	ErrReauthRequired = errors.New("token: reauthorization required")
)

// MLRefresher es lo que el service necesita del cliente ML.
type MLRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*meli.TokenResponse, error)
}

// Service orquesta el ciclo de vida de tokens de una integración.
type Service struct {
	repo   repository.IntegrationRepository
	events repository.SyncEventRepository
	cipher *secretbox.Cipher
	ml     MLRefresher

	// margin evita carreras contra el expiry: un token a menos de margin
	// de vencer se refresca antes de entregarse.
	margin time.Duration

	// sf serializa el refresh por integración: de N llamadas concurrentes
	// solo una llega a ML, las demás esperan y reusan el resultado. Con el
	// refresh token rotativo de ML, dos refreshes en vuelo se invalidan
	// mutuamente.
	sf singleflight.Group
}

// Config agrupa las dependencias del service.
type Config struct {
	Repo   repository.IntegrationRepository
	Events repository.SyncEventRepository
	Cipher *secretbox.Cipher
	ML     MLRefresher
	Margin time.Duration
}

// New crea el service. Margin default: 60s.
func New(cfg Config) *Service {
	margin := cfg.Margin
	if margin <= 0 {
		margin = 60 * time.Second
	}
	return &Service{
		repo:   cfg.Repo,
		events: cfg.Events,
		cipher: cfg.Cipher,
		ml:     cfg.ML,
		margin: margin,
	}
}

// AccessToken retorna un access token vigente para la integración,
// refrescando primero si está vencido o por vencer.
func (s *Service) AccessToken(ctx context.Context, integrationID string) (string, error) {
	it, err := s.load(ctx, integrationID)
	if err != nil {
		return "", err
	}

	if it.TokenExpired(time.Now(), s.margin) {
		return s.Refresh(ctx, integrationID, false)
	}

	plain, err := s.cipher.Decrypt(it.AccessTokenEnc)
	if err != nil {
		return "", s.markUnusable(ctx, it, err)
	}
	return plain, nil
}

// Refresh ejecuta un refresh serializado por integración y retorna el
// access token resultante. Con force=true se refresca aunque el token no
// esté vencido (camino del 401 en el gateway); sin force, si otro caller
// acaba de refrescar, se reusa su resultado sin llamar a ML de nuevo.
func (s *Service) Refresh(ctx context.Context, integrationID string, force bool) (string, error) {
	v, err, _ := s.sf.Do(integrationID, func() (any, error) {
		return s.doRefresh(ctx, integrationID, force)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *Service) doRefresh(ctx context.Context, integrationID string, force bool) (string, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("token"),
		logger.IntegrationID(integrationID),
	)

	it, err := s.load(ctx, integrationID)
	if err != nil {
		return "", err
	}

	// Un caller que perdió la carrera llega acá después del ganador: el
	// token ya está fresco y no corresponde otro round-trip a ML.
	if !force && !it.TokenExpired(time.Now(), s.margin) {
		plain, err := s.cipher.Decrypt(it.AccessTokenEnc)
		if err != nil {
			return "", s.markUnusable(ctx, it, err)
		}
		return plain, nil
	}

	refreshPlain, err := s.cipher.Decrypt(it.RefreshTokenEnc)
	if err != nil {
		return "", s.markUnusable(ctx, it, err)
	}

	tr, err := s.ml.Refresh(ctx, refreshPlain)
	if err != nil {
		if errors.Is(err, meli.ErrRefreshRejected) {
			// Fatal: ML revocó el refresh token. La integración deja de
			// presentarse como conectada y no se reintenta jamás.
			metrics.TokenRefreshTotal.WithLabelValues("rejected").Inc()
			if serr := s.repo.SetStatus(ctx, it.ID, repository.StatusRevoked); serr != nil {
				log.Error("failed to mark integration revoked", logger.Err(serr))
			}
			s.appendEvent(ctx, it, repository.SyncEventRevoked, "refresh token rejected by ML")
			log.Warn("refresh token rejected, integration revoked", logger.Err(err))
			return "", fmt.Errorf("%w: %v", ErrReauthRequired, err)
		}
		// Transitorio (red, 5xx, 429): se surfacea tal cual, el caller
		// decide si reintenta con backoff.
		metrics.TokenRefreshTotal.WithLabelValues("transient").Inc()
		log.Warn("refresh failed with transient error", logger.Err(err))
		return "", err
	}

	accessEnc, err := s.cipher.Encrypt(tr.AccessToken)
	if err != nil {
		return "", fmt.Errorf("token: encrypt access token: %w", err)
	}
	refreshEnc, err := s.cipher.Encrypt(tr.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("token: encrypt refresh token: %w", err)
	}

	expiresAt := time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)

	// Un refresh que no persiste es un refresh fallido: el nuevo par jamás
	// se entrega sin estar guardado.
	if err := s.repo.UpdateTokens(ctx, it.ID, repository.UpdateTokensInput{
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		TokenExpiresAt:  expiresAt,
	}); err != nil {
		metrics.TokenRefreshTotal.WithLabelValues("transient").Inc()
		return "", fmt.Errorf("token: persist refreshed tokens: %w", err)
	}

	metrics.TokenRefreshTotal.WithLabelValues("ok").Inc()
	s.appendEvent(ctx, it, repository.SyncEventTokenRefresh, "token refreshed")
	log.Info("token refreshed", logger.String("expires_at", expiresAt.UTC().Format(time.RFC3339)))

	return tr.AccessToken, nil
}

// load trae la fila y normaliza errores.
func (s *Service) load(ctx context.Context, integrationID string) (*repository.Integration, error) {
	it, err := s.repo.GetByID(ctx, integrationID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrIntegrationNotFound
		}
		return nil, err
	}
	if it.Status != repository.StatusActive {
		return nil, fmt.Errorf("%w: integration status is %s", ErrReauthRequired, it.Status)
	}
	return it, nil
}

// markUnusable maneja ciphertext ilegible: equivale a revocado, no hay
// forma de recuperar el token. Nunca se deja pasar el error crudo.
func (s *Service) markUnusable(ctx context.Context, it *repository.Integration, cause error) error {
	if errors.Is(cause, secretbox.ErrDecrypt) {
		if serr := s.repo.SetStatus(ctx, it.ID, repository.StatusError); serr != nil {
			logger.From(ctx).Error("failed to mark integration errored",
				logger.IntegrationID(it.ID), logger.Err(serr))
		}
		s.appendEvent(ctx, it, repository.SyncEventRevoked, "stored token undecryptable")
		return fmt.Errorf("%w: %v", ErrReauthRequired, cause)
	}
	return cause
}

// appendEvent escribe en el log de sincronización. Advisory: un fallo acá
// no falla la operación principal.
func (s *Service) appendEvent(ctx context.Context, it *repository.Integration, kind repository.SyncEventKind, detail string) {
	if s.events == nil {
		return
	}
	if err := s.events.Append(ctx, repository.SyncEvent{
		IntegrationID: it.ID,
		TenantID:      it.TenantID,
		Kind:          kind,
		Detail:        detail,
	}); err != nil {
		logger.From(ctx).Debug("failed to append sync event",
			logger.IntegrationID(it.ID), logger.Err(err))
	}
}
