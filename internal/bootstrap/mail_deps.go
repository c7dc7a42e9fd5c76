package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"mailflow_server/adapter/out/persistence"
	"mailflow_server/adapter/out/provider/gmail"
	"mailflow_server/config"
	"mailflow_server/core/port/out"
	"mailflow_server/core/service/auth"
	"mailflow_server/core/service/mail"
	"mailflow_server/infra/database"
	"mailflow_server/infra/middleware"
	"mailflow_server/pkg/cache"
	"mailflow_server/pkg/crypto"
	"mailflow_server/pkg/httputil"
	"mailflow_server/pkg/logger"
	"mailflow_server/pkg/metrics"
)

const (
	redisCachePrefix = "mailflow:cache:"
	startupTimeout   = 15 * time.Second
)

type Dependencies struct {
	Config *config.Config
	SQLDB  *sqlx.DB
	Redis  *redis.Client

	// Repositories
	TokenRepo  *persistence.TokenAdapter
	StateStore out.StateStore

	// Cache
	LocalCache *cache.LRU
	Cache      out.Cache

	// Providers
	GmailProvider *gmail.Adapter
	Authenticator *gmail.Authenticator

	// Services
	AuthService *auth.Service
	MailService *mail.Service

	Sessions *middleware.Sessions
	Latency  *metrics.LatencyRegistry
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	// Database
	sqlDB, err := database.Open(ctx, cfg.DatabaseURL, database.DefaultSQLConfig())
	if err != nil {
		return nil, nil, err
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { _ = sqlDB.Close() })

	encryptor, err := crypto.NewEncryptor([]byte(cfg.TokenEncryptionKey))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("token encryption: %w", err)
	}
	deps.TokenRepo = persistence.NewTokenAdapter(sqlDB, encryptor)
	if err := deps.TokenRepo.Migrate(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}

	// Redis (optional)
	deps.LocalCache = cache.NewLRU(cfg.CacheCapacity, cfg.CacheListTTL)
	deps.Cache = deps.LocalCache
	deps.StateStore = persistence.NewMemoryStateStore()
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(ctx, cfg.RedisURL, database.DefaultRedisConfig())
		if err != nil {
			logger.WithError(err).Warn("Redis connection failed, using in-memory state and cache")
		} else {
			deps.Redis = redisClient
			cleanups = append(cleanups, func() { _ = redisClient.Close() })

			deps.StateStore = persistence.NewRedisStateStore(redisClient)
			deps.Cache = cache.NewTiered(deps.LocalCache, cache.NewRedisCache(redisClient, redisCachePrefix), func(op string, err error) {
				logger.WithError(err).Warn("[Cache] redis %s failed, serving from local cache", op)
			})
			logger.Info("Redis enabled for OAuth state and response cache")
		}
	}

	// Providers
	googleClient := httputil.NewPooledClient(httputil.GoogleClientConfig(cfg.GmailTimeout))
	deps.GmailProvider = gmail.NewAdapter(&gmail.Config{
		RequestsPerSecond: cfg.GmailRateLimit,
		CallTimeout:       cfg.GmailTimeout,
		HTTPClient:        googleClient,
	})
	deps.Authenticator = gmail.NewAuthenticator(&gmail.OAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURI,
		HTTPClient:   googleClient,
	})

	// Services
	deps.AuthService = auth.NewService(deps.Authenticator, deps.TokenRepo, deps.StateStore)
	deps.MailService = mail.NewService(deps.GmailProvider, deps.AuthService)

	deps.Sessions, err = middleware.NewSessions(middleware.SessionConfig{
		Secret: cfg.SecretKey,
		TTL:    cfg.SessionTTL,
		Secure: cfg.IsProduction(),
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Latency = metrics.NewLatencyRegistry(0)

	return deps, cleanup, nil
}
