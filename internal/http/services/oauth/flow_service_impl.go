package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mercaflow/mercaflow/internal/domain/repository"
	"github.com/mercaflow/mercaflow/internal/meli"
	"github.com/mercaflow/mercaflow/internal/metrics"
	"github.com/mercaflow/mercaflow/internal/observability/logger"
	"github.com/mercaflow/mercaflow/internal/security/secretbox"
)

// Deps contiene las dependencias del flow service.
type Deps struct {
	States repository.StateStore
	Repo   repository.IntegrationRepository
	Events repository.SyncEventRepository
	Cipher *secretbox.Cipher
	ML     MLConnector

	// StateTTL acota la ventana entre initiate y callback. Default: 10min.
	StateTTL time.Duration
}

type flowService struct {
	states   repository.StateStore
	repo     repository.IntegrationRepository
	events   repository.SyncEventRepository
	cipher   *secretbox.Cipher
	ml       MLConnector
	stateTTL time.Duration
}

// NewFlowService crea el flow service.
func NewFlowService(d Deps) FlowService {
	ttl := d.StateTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &flowService{
		states:   d.States,
		repo:     d.Repo,
		events:   d.Events,
		cipher:   d.Cipher,
		ml:       d.ML,
		stateTTL: ttl,
	}
}

func (s *flowService) Initiate(ctx context.Context, tenantID string) (*InitiateResult, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("oauth.flow"),
		logger.TenantID(tenantID),
	)

	verifier, err := meli.GenerateVerifier()
	if err != nil {
		return nil, fmt.Errorf("oauth: generate verifier: %w", err)
	}
	state, err := meli.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("oauth: generate state: %w", err)
	}

	if err := s.states.Save(ctx, repository.OAuthState{
		State:        state,
		CodeVerifier: verifier,
		TenantID:     tenantID,
		ExpiresAt:    time.Now().Add(s.stateTTL),
	}); err != nil {
		return nil, fmt.Errorf("oauth: save state: %w", err)
	}

	metrics.OAuthFlowsTotal.WithLabelValues("initiated").Inc()
	log.Info("authorization flow initiated")

	return &InitiateResult{RedirectURL: s.ml.AuthURL(state, verifier)}, nil
}

func (s *flowService) Callback(ctx context.Context, state, code string) (*repository.Integration, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("oauth.flow"),
	)

	// Consume borra el state: si esta llamada falla más adelante, el flujo
	// entero debe reiniciarse. Un state consumido jamás revive.
	st, err := s.states.Consume(ctx, state)
	if err != nil {
		if errors.Is(err, repository.ErrStateNotFound) {
			metrics.OAuthFlowsTotal.WithLabelValues("invalid_state").Inc()
			log.Warn("callback with unknown or replayed state")
			return nil, ErrInvalidState
		}
		return nil, fmt.Errorf("oauth: consume state: %w", err)
	}

	log = log.With(logger.TenantID(st.TenantID))

	tr, err := s.ml.ExchangeCode(ctx, code, st.CodeVerifier)
	if err != nil {
		metrics.OAuthFlowsTotal.WithLabelValues("exchange_failed").Inc()
		log.Warn("code exchange rejected by ML", logger.Err(err))
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	me, err := s.ml.GetMe(ctx, tr.AccessToken)
	if err != nil {
		metrics.OAuthFlowsTotal.WithLabelValues("exchange_failed").Inc()
		log.Warn("failed to resolve seller identity", logger.Err(err))
		return nil, fmt.Errorf("%w: fetch seller profile: %v", ErrExchangeFailed, err)
	}

	accessEnc, err := s.cipher.Encrypt(tr.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("oauth: encrypt access token: %w", err)
	}
	refreshEnc, err := s.cipher.Encrypt(tr.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("oauth: encrypt refresh token: %w", err)
	}

	it, err := s.repo.Create(ctx, repository.CreateIntegrationInput{
		TenantID:        st.TenantID,
		MLUserID:        me.ID,
		MLNickname:      me.Nickname,
		MLEmail:         me.Email,
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		TokenExpiresAt:  time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
		Scopes:          strings.Fields(tr.Scope),
	})
	if err != nil {
		return nil, fmt.Errorf("oauth: persist integration: %w", err)
	}

	kind := repository.SyncEventConnected
	if it.UpdatedAt.After(it.CreatedAt) {
		kind = repository.SyncEventReconnected
	}
	s.appendEvent(ctx, it, kind)

	metrics.OAuthFlowsTotal.WithLabelValues("connected").Inc()
	log.Info("ml account connected",
		logger.IntegrationID(it.ID),
		logger.MLUserID(me.ID),
		logger.String("ml_nickname", me.Nickname),
	)
	return it, nil
}

func (s *flowService) appendEvent(ctx context.Context, it *repository.Integration, kind repository.SyncEventKind) {
	if s.events == nil {
		return
	}
	if err := s.events.Append(ctx, repository.SyncEvent{
		IntegrationID: it.ID,
		TenantID:      it.TenantID,
		Kind:          kind,
		Detail:        "authorization flow completed",
	}); err != nil {
		logger.From(ctx).Debug("failed to append sync event",
			logger.IntegrationID(it.ID), logger.Err(err))
	}
}
