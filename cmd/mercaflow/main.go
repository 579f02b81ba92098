// mercaflow es el servidor HTTP del core de integración con Mercado Livre:
// flujo OAuth, ciclo de vida de tokens y proxy autenticado al API de ML.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	rdb "github.com/redis/go-redis/v9"

	"github.com/mercaflow/mercaflow/internal/cache"
	"github.com/mercaflow/mercaflow/internal/config"
	"github.com/mercaflow/mercaflow/internal/domain/repository"
	"github.com/mercaflow/mercaflow/internal/gateway"
	httpserver "github.com/mercaflow/mercaflow/internal/http"
	healthctl "github.com/mercaflow/mercaflow/internal/http/controllers/health"
	integrationsctl "github.com/mercaflow/mercaflow/internal/http/controllers/integrations"
	melictl "github.com/mercaflow/mercaflow/internal/http/controllers/meli"
	oauthsvc "github.com/mercaflow/mercaflow/internal/http/services/oauth"
	"github.com/mercaflow/mercaflow/internal/meli"
	"github.com/mercaflow/mercaflow/internal/metrics"
	"github.com/mercaflow/mercaflow/internal/observability/logger"
	"github.com/mercaflow/mercaflow/internal/rate"
	"github.com/mercaflow/mercaflow/internal/security/secretbox"
	"github.com/mercaflow/mercaflow/internal/store/memory"
	"github.com/mercaflow/mercaflow/internal/store/pg"
	"github.com/mercaflow/mercaflow/internal/store/statecache"
	"github.com/mercaflow/mercaflow/internal/token"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path al YAML de configuración (opcional, env pisa YAML)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// logger aún no inicializado: stderr directo
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel, ServiceName: "mercaflow"})
	defer func() { _ = logger.Sync() }()
	log := logger.L()

	ctx := context.Background()

	// ---- storage ----
	var (
		repo   repository.IntegrationRepository
		events repository.SyncEventRepository
		checks []healthctl.Check
	)
	switch cfg.Storage.Driver {
	case "postgres":
		lifetime, _ := time.ParseDuration(cfg.Storage.Postgres.ConnMaxLifetime)
		pool, err := pg.NewPool(ctx, pg.PoolConfig{
			DSN:             cfg.Storage.DSN,
			MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.Postgres.MaxIdleConns,
			ConnMaxLifetime: lifetime,
		})
		if err != nil {
			log.Fatal("failed to connect to postgres", logger.Err(err))
		}
		defer pool.Close()
		repo = pg.NewIntegrationRepo(pool)
		events = pg.NewSyncEventRepo(pool)
		checks = append(checks, healthctl.Check{Name: "postgres", Ping: pool.Ping})
	case "memory":
		log.Warn("storage driver=memory: solo para desarrollo")
		m := memory.New()
		repo, events = m, m
	}

	// ---- cache (state store de OAuth) ----
	cacheTTL, _ := time.ParseDuration(cfg.Cache.Memory.DefaultTTL)
	cacheClient, err := cache.New(cache.Config{
		Kind:       cfg.Cache.Kind,
		Addr:       cfg.Cache.Redis.Addr,
		DB:         cfg.Cache.Redis.DB,
		Prefix:     cfg.Cache.Redis.Prefix,
		DefaultTTL: cacheTTL,
	})
	if err != nil {
		log.Fatal("failed to connect to cache", logger.Err(err))
	}
	defer func() { _ = cacheClient.Close() }()
	checks = append(checks, healthctl.Check{Name: "cache", Ping: cacheClient.Ping})

	// ---- core ----
	cipher, err := secretbox.New(cfg.EncryptionKeyBytes())
	if err != nil {
		log.Fatal("invalid encryption key", logger.Err(err))
	}

	mlClient := meli.New(cfg.Meli.ClientID, cfg.Meli.ClientSecret, cfg.Meli.RedirectURI, cfg.Meli.HTTPTimeout)

	tokens := token.New(token.Config{
		Repo:   repo,
		Events: events,
		Cipher: cipher,
		ML:     mlClient,
		Margin: cfg.Meli.RefreshMargin,
	})
	gw := gateway.New(gateway.Config{
		Tokens:  tokens,
		Repo:    repo,
		Timeout: cfg.Meli.HTTPTimeout,
	})
	flow := oauthsvc.NewFlowService(oauthsvc.Deps{
		States:   statecache.New(cacheClient),
		Repo:     repo,
		Events:   events,
		Cipher:   cipher,
		ML:       mlClient,
		StateTTL: cfg.Meli.StateTTL,
	})

	if err := metrics.Register(nil); err != nil {
		log.Fatal("failed to register metrics", logger.Err(err))
	}

	// ---- rate limiting ----
	var oauthLimiter, proxyLimiter rate.Limiter
	if cfg.Rate.Enabled {
		newLimiter := func(prefix string, limit int, window string) rate.Limiter {
			win, _ := time.ParseDuration(window)
			if cfg.Cache.Kind == "redis" {
				return rate.NewRedisLimiter(rdb.NewClient(&rdb.Options{
					Addr: cfg.Cache.Redis.Addr,
					DB:   cfg.Cache.Redis.DB,
				}), cfg.Cache.Redis.Prefix+prefix, limit, win)
			}
			return rate.NewMemoryLimiter(limit, win)
		}
		oauthLimiter = newLimiter("rl:oauth:", cfg.Rate.OAuth.Limit, cfg.Rate.OAuth.Window)
		proxyLimiter = newLimiter("rl:proxy:", cfg.Rate.Proxy.Limit, cfg.Rate.Proxy.Window)
	}

	// ---- http ----
	router := httpserver.NewRouter(httpserver.RouterDeps{
		Meli:               melictl.NewControllers(melictl.Deps{Flow: flow, Gateway: gw, Repo: repo}),
		Integrations:       integrationsctl.NewController(repo, events),
		Health:             healthctl.NewController(checks...),
		SessionSecret:      []byte(cfg.Security.SessionSecret),
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		OAuthLimiter:       oauthLimiter,
		ProxyLimiter:       proxyLimiter,
	})

	srv := httpserver.NewServer(cfg.Server.Addr, router)

	go func() {
		log.Info("server listening",
			logger.String("addr", cfg.Server.Addr),
			logger.String("env", cfg.App.Env),
			logger.String("storage", cfg.Storage.Driver),
			logger.String("cache", cfg.Cache.Kind),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", logger.Err(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	if err := httpserver.Shutdown(srv, 15*time.Second); err != nil {
		log.Error("graceful shutdown failed", logger.Err(err))
	}
}
